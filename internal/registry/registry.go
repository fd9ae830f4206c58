// Package registry decides what an external caller may see: the ordered
// origin allow-list of the messaging layer.
package registry

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"echo-client/internal/cache"
)

// AllServices in a caller's service list makes every service visible.
const AllServices = "all"

// Capabilities are granted to a caller whose origin matches an entry.
type Capabilities struct {
	ServiceIDs    []string
	CanCheckModel bool
}

// Visible reports whether serviceID may be shown to the caller.
func (c Capabilities) Visible(serviceID string) bool {
	return slices.Contains(c.ServiceIDs, AllServices) || slices.Contains(c.ServiceIDs, serviceID)
}

type Entry struct {
	Pattern *regexp.Regexp
	Caps    Capabilities
}

// Rule is the uncompiled form of an Entry, as written in a callers file.
type Rule struct {
	Matches       string   `yaml:"matches"`
	ServiceIDs    []string `yaml:"service_ids"`
	CanCheckModel bool     `yaml:"can_check_model"`
}

// Compile turns rules into entries, keeping their order. Patterns always
// match case-insensitively.
func Compile(rules []Rule) ([]Entry, error) {
	out := make([]Entry, 0, len(rules))
	for i, r := range rules {
		re, err := regexp.Compile("(?i)" + r.Matches)
		if err != nil {
			return nil, fmt.Errorf("caller rule %d: %w", i, err)
		}
		out = append(out, Entry{
			Pattern: re,
			Caps:    Capabilities{ServiceIDs: slices.Clone(r.ServiceIDs), CanCheckModel: r.CanCheckModel},
		})
	}
	return out, nil
}

// Registry holds the current table; Replace swaps it as a whole.
type Registry struct{ snap cache.Snapshot[[]Entry] }

func New(entries []Entry) *Registry {
	r := &Registry{}
	r.Replace(entries)
	return r
}

func (r *Registry) Replace(entries []Entry) {
	r.snap.Store(slices.Clone(entries))
}

// Lookup returns the capabilities of the first entry matching origin.
func (r *Registry) Lookup(origin string) (Capabilities, bool) {
	if origin == "" {
		return Capabilities{}, false
	}
	entries, _ := r.snap.Load()
	for _, e := range entries {
		if e.Pattern.MatchString(origin) {
			return e.Caps, true
		}
	}
	return Capabilities{}, false
}

// googleDomains are the www.google.* domains that may host chromebook pages.
var googleDomains = []string{
	"com", "ad", "ae", "com.af", "com.ag", "com.ai", "al", "am", "com.ao", "com.ar", "as",
	"at", "com.au", "az", "ba", "com.bd", "be", "bf", "bg", "com.bh", "bi", "bj", "com.bn",
	"com.bo", "com.br", "bs", "bt", "com.bw", "by", "com.bz", "ca", "cd", "cf", "cg", "ch",
	"ci", "com.ck", "cl", "cm", "cn", "com.co", "com.cr", "com.cu", "cv", "com.cy",
	"cz", "de", "dj", "dk", "dm", "com.do", "dz", "com.ec", "ee", "com.eg", "es", "com.et",
	"fi", "com.fj", "fm", "fr", "ga", "ge", "gg", "com.gh", "com.gi", "gl", "gm", "gr", "com.gt",
	"gy", "com.hk", "hn", "hr", "ht", "hu", "com.id", "ie", "com.il", "im", "com.in", "iq", "is", "it",
	"je", "com.jm", "jo", "com.jp", "com.ke", "com.kh", "ki", "kg", "com.kr", "com.kw",
	"kz", "la", "com.lb", "li", "lk", "com.ls", "lt", "lu", "lv", "com.ly", "com.ma", "md", "me", "mg",
	"mk", "ml", "com.mm", "mn", "ms", "com.mt", "mu", "mv", "mw", "com.mx", "com.my", "com.mz",
	"com.na", "com.ng", "com.ni", "ne", "nl", "no", "com.np", "nr", "nu", "com.nz",
	"com.om", "com.pa", "com.pe", "com.pg", "com.ph", "com.pk", "pl", "pn",
	"com.pr", "ps", "pt", "com.py", "com.qa", "ro", "ru", "rw", "com.sa", "com.sb", "sc", "se",
	"com.sg", "sh", "si", "sk", "com.sl", "sn", "so", "sm", "sr", "st", "com.sv", "td", "tg", "com.th",
	"com.tj", "tl", "tm", "tn", "to", "com.tr", "tt", "com.tw", "com.tz", "com.ua",
	"com.ug", "com.uk", "com.uy", "com.uz", "com.vc", "com.ve", "vg", "com.vi",
	"com.vn", "vu", "ws", "rs", "com.za", "com.zm", "com.zw", "cat",
}

// DefaultRules is the built-in caller table.
func DefaultRules() []Rule {
	quoted := make([]string, len(googleDomains))
	for i, d := range googleDomains {
		quoted[i] = regexp.QuoteMeta(d)
	}
	return []Rule{
		{
			Matches:       `^https?://www\.google\.(` + strings.Join(quoted, "|") + `)/.*chromebook/.*`,
			ServiceIDs:    []string{AllServices},
			CanCheckModel: true,
		},
		{
			Matches:       `^https?://chromebook[a-zA-Z0-9_-]*-dot-googwebreview\.appspot\.com/.*chromebook/.*`,
			ServiceIDs:    []string{AllServices},
			CanCheckModel: true,
		},
		{
			// Get Help app.
			Matches:       `^ljoammodoonkhnehlncldjelhidljdpi$`,
			ServiceIDs:    []string{AllServices},
			CanCheckModel: true,
		},
	}
}

// Default returns a registry holding DefaultRules.
func Default() *Registry {
	entries, err := Compile(DefaultRules())
	if err != nil {
		panic(err)
	}
	return New(entries)
}

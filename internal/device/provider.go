// Package device reads device-identifying attributes and derives the values
// the eligibility backend needs from them.
package device

import (
	"context"
	"regexp"
	"strings"
)

// Provider is the Device Info Provider. An empty string with a nil error
// means the attribute is unavailable.
type Provider interface {
	HardwareID(ctx context.Context) (string, error)
	CustomizationID(ctx context.Context) (string, error)
	// ActivationWeek returns the first day of the activation week as
	// yyyy-mm-dd.
	ActivationWeek(ctx context.Context) (string, error)
	RegistrationCode(ctx context.Context, groupType bool) (string, error)
}

// Static serves attributes fixed at startup, typically from configuration.
type Static struct {
	HWID            string
	Customization   string
	FirstActiveWeek string
	CouponCode      string
	GroupCode       string
}

func (s Static) HardwareID(context.Context) (string, error)      { return s.HWID, nil }
func (s Static) CustomizationID(context.Context) (string, error) { return s.Customization, nil }
func (s Static) ActivationWeek(context.Context) (string, error)  { return s.FirstActiveWeek, nil }

func (s Static) RegistrationCode(_ context.Context, groupType bool) (string, error) {
	if groupType {
		return s.GroupCode, nil
	}
	return s.CouponCode, nil
}

const UnknownFamily = "unknown_device"

var hwidV4 = regexp.MustCompile(`.+-[a-z]{4}`)

// Family derives the device family from an HWID: the first token, lower
// cased, without the four-letter HWIDv4 suffix ("HELIOS-YVRQ C5B-..." is
// "helios"). It returns "" for an empty HWID.
func Family(hwid string) string {
	fields := strings.Fields(hwid)
	if len(fields) == 0 {
		return ""
	}
	family := strings.ToLower(fields[0])
	if hwidV4.MatchString(family) {
		family = family[:len(family)-5]
	}
	return family
}

// FamilyOr resolves the family through p, falling back to orElse when the
// HWID cannot be read.
func FamilyOr(ctx context.Context, p Provider, orElse string) string {
	hwid, err := p.HardwareID(ctx)
	if err != nil || hwid == "" {
		return orElse
	}
	return Family(hwid)
}

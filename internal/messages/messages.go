// Package messages holds the localized user-visible error strings written to
// the error message slot.
package messages

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

const (
	ConsentDenied           = "CONSENT_DENIED"
	ErrorNoRegCode          = "ERROR_NO_REGCODE"
	ErrorOriginFailure      = "ERROR_ORIGIN_FAILURE"
	GenericError            = "GENERIC_ERROR_MESSAGE"
	OTCServiceDoesNotMatch  = "OTC_SERVICE_DOES_NOT_MATCH"
	DeviceNotEligible       = "DEVICE_NOT_ELIGIBLE"
	LearnMore               = "LEARN_MORE"
	linkClose               = "</a>"
	helpCenterLinkHTML      = `<br><br><a href="https://support.google.com/chromeos/answer/2703646" target="_blank">`
	chromeOSSupportLinkHTML = `<a href="https://support.google.com/chromeos/answer/1280301?hl=en&ref_topic=2586009" target="_blank">`
)

var english = map[string]string{
	ConsentDenied:          "You declined to share device information, so this offer could not be checked.",
	ErrorNoRegCode:         "This device has no registration code. Please contact %[1]sChromebook support%[2]s.",
	ErrorOriginFailure:     "This offer request did not come from a secure page.",
	GenericError:           "Something went wrong while checking this offer. Please try again later.",
	OTCServiceDoesNotMatch: "This code cannot be redeemed for this service. Please contact %[1]sChromebook support%[2]s.",
	DeviceNotEligible:      "This device is not eligible for this offer.%[1]sLearn more%[2]s",
	LearnMore:              "%[1]sLearn more about Chromebook offers%[2]s",
}

// links holds the placeholder arguments each message expects.
var links = map[string][]any{
	ErrorNoRegCode:         {chromeOSSupportLinkHTML, linkClose},
	OTCServiceDoesNotMatch: {chromeOSSupportLinkHTML, linkClose},
	DeviceNotEligible:      {helpCenterLinkHTML, linkClose},
	LearnMore:              {helpCenterLinkHTML, linkClose},
}

type Catalog struct {
	printer *message.Printer
}

// New builds the catalog for tag; tags without translations fall back to
// English.
func New(tag language.Tag) *Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for key, msg := range english {
		// Only fails for malformed messages, which english has none of.
		_ = b.SetString(language.English, key, msg)
	}
	return &Catalog{printer: message.NewPrinter(tag, message.Catalog(b))}
}

// Text renders a known message with its link arguments. Unknown keys are
// returned unchanged.
func (c *Catalog) Text(key string) string {
	if _, ok := english[key]; !ok {
		return key
	}
	return c.printer.Sprintf(message.Key(key, english[key]), links[key]...)
}

// ForServerKey turns the message key of a not-eligible server response into
// the text stored for the not-eligible page. Every message except
// DEVICE_NOT_ELIGIBLE is followed by the learn-more link.
func (c *Catalog) ForServerKey(key string) string {
	var msg string
	switch key {
	case "":
		msg = c.Text(GenericError)
	default:
		msg = c.Text(key)
	}
	if key != DeviceNotEligible {
		msg += c.Text(LearnMore)
	}
	return msg
}

package eligibility

// State is a step of the eligibility flow. Replied is terminal and every
// other state may move to it.
type State int

const (
	ValidatingOrigin State = iota
	CheckingCachedOffer
	AwaitingConsent
	ResolvingDeviceCode
	ResolvingActivationDate
	CheckingEligibility
	EnrichingAttributes
	ConfirmingEnrollment
	Replied
)

var stateNames = [...]string{
	ValidatingOrigin:        "validating_origin",
	CheckingCachedOffer:     "checking_cached_offer",
	AwaitingConsent:         "awaiting_consent",
	ResolvingDeviceCode:     "resolving_device_code",
	ResolvingActivationDate: "resolving_activation_date",
	CheckingEligibility:     "checking_eligibility",
	EnrichingAttributes:     "enriching_attributes",
	ConfirmingEnrollment:    "confirming_enrollment",
	Replied:                 "replied",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

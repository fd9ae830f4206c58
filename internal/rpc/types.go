package rpc

import (
	"encoding/json"
	"strings"
)

// Eligibility results understood by the client. Anything else is a
// not-eligible outcome.
const (
	ResultEligible     = "ELIGIBLE"
	ResultNeedMoreInfo = "NEED_MORE_INFO"
)

// EligibilityResponse is the server's verdict for one checkEligibility call.
type EligibilityResponse struct {
	Result                  string          `json:"result"`
	ErrorCode               json.RawMessage `json:"errorCode,omitempty"`
	Message                 string          `json:"message,omitempty"`
	ServiceID               string          `json:"serviceId,omitempty"`
	RequestNonce            string          `json:"requestNonce,omitempty"`
	ResponseNonce           string          `json:"responseNonce,omitempty"`
	PromoCode               string          `json:"promoCode,omitempty"`
	PromoCodeExpirationDate string          `json:"promoCodeExpirationDate,omitempty"`
	RedirectURL             string          `json:"redirectUrl,omitempty"`
	NeedHWID                bool            `json:"needHwid,omitempty"`
	NeedCustomizationID     bool            `json:"needCustomizationId,omitempty"`
}

// ErrorCodeLabel renders errorCode for metric labels whether the server
// sent it as a string or a number.
func (r EligibilityResponse) ErrorCodeLabel() string {
	return strings.Trim(string(r.ErrorCode), `"`)
}

type ServiceInfo struct {
	ServiceID    string `json:"serviceId"`
	OfferEndDate string `json:"offerEndDate,omitempty"`
}

// DeviceOfferInfo lists the offers configured for one device family.
type DeviceOfferInfo struct {
	DeviceFamily    string        `json:"deviceFamily"`
	ServiceInfoList []ServiceInfo `json:"serviceInfoList"`
}

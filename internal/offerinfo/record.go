package offerinfo

// Local State keys.
const (
	KeyOfferInfo            = "offer_info"
	KeyLastGetRegCodeResult = "offer_info_last_get_reg_code_result"
	KeyErrorMessage         = "error_message"
)

// ServiceRecord is what is known locally about one service's offer.
type ServiceRecord struct {
	EligibilityCheckedDate  string `json:"eligibilityCheckedDate,omitempty"`
	EligibilityCheckedTime  int64  `json:"eligibilityCheckedTime,omitempty"` // epoch ms
	PromoCode               string `json:"promo_code,omitempty"`
	PromoCodeExpirationDate string `json:"promo_code_expiration_date,omitempty"`
	RedirectURL             string `json:"redirect_url,omitempty"`
	OfferEndDate            string `json:"offer_end_date,omitempty"`
}

// OfferInfo is the record stored under KeyOfferInfo.
type OfferInfo struct {
	Services                    map[string]*ServiceRecord `json:"services,omitempty"`
	LastServiceID               string                    `json:"last_service_id,omitempty"`
	CompleteOfferInfoFromServer bool                      `json:"complete_offer_info_from_server"`
	NonOTCEligibleRequest       bool                      `json:"non_otc_eligible_request,omitempty"`
	FailureMetricSent           bool                      `json:"failure_retrieve_regcode_after_eligible_request_metric_sent,omitempty"`
}

// Service returns the record for id, creating it when missing.
func (o *OfferInfo) Service(id string) *ServiceRecord {
	if o.Services == nil {
		o.Services = map[string]*ServiceRecord{}
	}
	rec, ok := o.Services[id]
	if !ok || rec == nil {
		rec = &ServiceRecord{}
		o.Services[id] = rec
	}
	return rec
}

type regCodeResult struct {
	LastCallSucceeded bool `json:"lastCallSucceeded"`
}

func setIfPresent(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

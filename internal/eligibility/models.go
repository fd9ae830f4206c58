package eligibility

import (
	"encoding/json"

	"echo-client/internal/rpc"
)

// Entry tells which messaging surface a request came through.
type Entry int

const (
	EntryInternal Entry = iota
	EntryExternal
)

func (e Entry) String() string {
	if e == EntryExternal {
		return "external"
	}
	return "internal"
}

// UnknownServiceID stands in for a request without a service id.
const UnknownServiceID = "unknown_service_id"

// Request is one inbound eligibility check. Internal requests declare their
// origin; external ones are identified by the sender's URL or id.
type Request struct {
	Entry        Entry
	Origin       string
	SenderURL    string
	SenderID     string
	TabID        string
	ServiceID    string
	ServiceName  string
	RequestNonce string
	IsGroupType  bool
	OTCCode      string
	DebugMode    bool
}

// ProviderResponse is what an eligible caller receives.
type ProviderResponse struct {
	RequestNonce        string                   `json:"requestNonce"`
	EligibilityResponse *rpc.EligibilityResponse `json:"eligibilityResponse"`
}

type ReplyKind int

const (
	NoOffer ReplyKind = iota
	Retry
	Offer
)

func (k ReplyKind) String() string {
	switch k {
	case Retry:
		return "retry"
	case Offer:
		return "offer"
	default:
		return "no_offer"
	}
}

// RetrySentinel is the reply body telling the caller to retry later.
const RetrySentinel = "RETRY"

// Reply is the single answer of a flow. A suppressed reply was produced in
// diagnostic mode and must not reach the caller.
type Reply struct {
	Kind       ReplyKind
	Response   *ProviderResponse
	Suppressed bool
}

func noOffer() Reply { return Reply{Kind: NoOffer} }

func retry() Reply { return Reply{Kind: Retry} }

func offer(p *ProviderResponse) Reply { return Reply{Kind: Offer, Response: p} }

// MarshalJSON renders the reply the way callers read it: null, "RETRY" or
// the provider response.
func (r Reply) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case Retry:
		return json.Marshal(RetrySentinel)
	case Offer:
		return json.Marshal(r.Response)
	default:
		return []byte("null"), nil
	}
}

package observability

import (
	"context"
	"sync"
	"time"
)

// Event categories.
const (
	CategoryEligible     = "eligible"
	CategoryNotEligible  = "not_eligible"
	CategoryClientError  = "client_side_error"
	CategoryAPICall      = "api_call"
	CategoryNeedMoreInfo = "need_more_info"
	CategoryPromoCode    = "promo_code"
)

// Event actions.
const (
	ActionEligible                  = "eligible"
	ActionNotEligiblePage           = "not_eligible_page"
	ActionNoHWID                    = "failure_retrieve_hwid"
	ActionNoCustomizationID         = "failure_retrieve_customization_id"
	ActionNoOOBE                    = "failure_retrieve_oobe"
	ActionNoRegCode                 = "failure_retrieve_regcode"
	ActionNoRegCodeAfterEligible    = "failure_retrieve_regcode_after_eligible_request"
	ActionTemporaryRegCodeReadError = "temporary_regcode_read_error"
	ActionFailOriginCheck           = "failure_origin_check"
	ActionConsentDenied             = "consent_denied"
	ActionXHRError                  = "xhr_error"
	ActionXHRTimeout                = "xhr_timeout"
	ActionAPICalls                  = "api_calls"
	ActionNeedMoreInfo              = "need_more_info"
	ActionConfirmExhausted          = "confirm_enrollment_exhausted"
	ActionRedeemPromoCodeClicked    = "redeem_promo_code_button_clicked"
)

// Dimensions are the per-flow tags attached to every event. They travel in
// the context instead of living on a shared tracker.
type Dimensions struct {
	ServiceID    string `json:"serviceId,omitempty"`
	APIName      string `json:"apiName,omitempty"`
	DeviceFamily string `json:"deviceFamily,omitempty"`
	CodeType     string `json:"codeType,omitempty"`
}

type Event struct {
	Category   string     `json:"category"`
	Action     string     `json:"action"`
	Label      string     `json:"label,omitempty"`
	Dimensions Dimensions `json:"dimensions"`
	Time       time.Time  `json:"time"`
}

// Sink receives fire-and-forget analytics events. Implementations must not
// block the caller on network I/O.
type Sink interface {
	Record(ctx context.Context, e Event)
}

type dimsKey struct{}

// dimsBox is mutable so later stages of a flow can fill in dimensions that
// earlier events did not know yet.
type dimsBox struct {
	mu sync.Mutex
	d  Dimensions
}

// WithDimensions attaches a fresh dimension set to ctx.
func WithDimensions(ctx context.Context, d Dimensions) context.Context {
	return context.WithValue(ctx, dimsKey{}, &dimsBox{d: d})
}

// UpdateDimensions mutates the dimension set carried by ctx, if any.
func UpdateDimensions(ctx context.Context, fn func(*Dimensions)) {
	if b, ok := ctx.Value(dimsKey{}).(*dimsBox); ok {
		b.mu.Lock()
		fn(&b.d)
		b.mu.Unlock()
	}
}

// DimensionsFrom returns a copy of the dimensions carried by ctx.
func DimensionsFrom(ctx context.Context) Dimensions {
	if b, ok := ctx.Value(dimsKey{}).(*dimsBox); ok {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.d
	}
	return Dimensions{}
}

// Emit stamps the event with ctx dimensions and the current time.
func Emit(ctx context.Context, s Sink, category, action, label string) {
	if s == nil {
		return
	}
	s.Record(ctx, Event{
		Category:   category,
		Action:     action,
		Label:      label,
		Dimensions: DimensionsFrom(ctx),
		Time:       time.Now().UTC(),
	})
}

// PromSink counts events in prometheus.
type PromSink struct{}

func (PromSink) Record(_ context.Context, e Event) {
	EventsTotal.WithLabelValues(e.Category, e.Action, e.Label).Inc()
	if e.Category == CategoryAPICall {
		APICalls.WithLabelValues(e.Dimensions.APIName).Inc()
	}
}

// MultiSink fans an event out to several sinks.
type MultiSink []Sink

func (m MultiSink) Record(ctx context.Context, e Event) {
	for _, s := range m {
		if s != nil {
			s.Record(ctx, e)
		}
	}
}

// Recorder keeps events in memory; handy for tests and diagnostics.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Record(_ context.Context, e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many recorded events match category and action.
func (r *Recorder) Count(category, action string) int {
	n := 0
	for _, e := range r.Events() {
		if e.Category == category && e.Action == action {
			n++
		}
	}
	return n
}

// Package eligibility drives one eligibility request from origin check to
// its single reply.
package eligibility

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"echo-client/internal/consent"
	"echo-client/internal/device"
	"echo-client/internal/messages"
	"echo-client/internal/observability"
	"echo-client/internal/offerinfo"
	"echo-client/internal/rpc"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// promoCodeAccessPeriod is how long a cached promo code is handed out
// again without asking the backend.
const promoCodeAccessPeriod = 30 * time.Minute

const (
	codeTypeOTC   = "otc"
	codeTypeGroup = "groupCode"
	codeTypeReg   = "regCode"
)

type Checker interface {
	CheckEligibility(ctx context.Context, p rpc.Params) (*rpc.EligibilityResponse, rpc.Variant, error)
}

type Confirmer interface {
	Confirm(ctx context.Context, v rpc.Variant, serviceID, requestNonce, responseNonce string) (int, error)
}

type Enricher interface {
	Supplement(ctx context.Context, params *rpc.Params, resp *rpc.EligibilityResponse) error
}

// Deps are the collaborators of every flow.
type Deps struct {
	Checker   Checker
	Confirmer Confirmer
	Enricher  Enricher
	Device    device.Provider
	Consent   consent.Requester
	Offers    *offerinfo.Adapter
	Messages  *messages.Catalog
	Sink      observability.Sink
}

type Orchestrator struct {
	deps Deps
	now  func() time.Time
	intn device.Intn
}

func New(deps Deps) *Orchestrator {
	return &Orchestrator{deps: deps, now: time.Now, intn: rand.Intn}
}

// Handle runs the flow for req and returns its reply. It always returns
// exactly one reply; in diagnostic mode that reply is marked suppressed.
func (o *Orchestrator) Handle(ctx context.Context, req Request) Reply {
	if req.ServiceID == "" {
		req.ServiceID = UnknownServiceID
	}
	logger := log.With().
		Str("flow_id", uuid.NewString()).
		Str("service_id", req.ServiceID).
		Stringer("entry", req.Entry).
		Logger()
	if req.DebugMode {
		logger = logger.Level(zerolog.DebugLevel)
	}
	ctx = logger.WithContext(ctx)
	ctx = observability.WithDimensions(ctx, observability.Dimensions{
		ServiceID:    req.ServiceID,
		DeviceFamily: device.FamilyOr(ctx, o.deps.Device, device.UnknownFamily),
	})

	if err := o.deps.Offers.CacheLastServiceID(ctx, req.ServiceID); err != nil {
		logger.Warn().Err(err).Msg("cache last service id")
	}

	f := &flow{o: o, req: req, log: &logger}
	for s := ValidatingOrigin; s != Replied; {
		next := f.step(ctx, s)
		logger.Debug().Stringer("from", s).Stringer("to", next).Msg("transition")
		s = next
	}
	if !f.done {
		logger.Error().Msg("flow ended without a reply")
		f.respond(ctx, noOffer())
	}
	return f.reply
}

type flow struct {
	o   *Orchestrator
	req Request
	log *zerolog.Logger

	params   rpc.Params
	resp     *rpc.EligibilityResponse
	answered rpc.Variant // backend that produced resp
	pending  *ProviderResponse
	enriched bool

	once  sync.Once
	done  bool
	reply Reply
}

func (f *flow) step(ctx context.Context, s State) State {
	switch s {
	case ValidatingOrigin:
		return f.validateOrigin(ctx)
	case CheckingCachedOffer:
		return f.checkCachedOffer(ctx)
	case AwaitingConsent:
		return f.awaitConsent(ctx)
	case ResolvingDeviceCode:
		return f.resolveDeviceCode(ctx)
	case ResolvingActivationDate:
		return f.resolveActivationDate(ctx)
	case CheckingEligibility:
		return f.checkEligibility(ctx)
	case EnrichingAttributes:
		return f.enrichAttributes(ctx)
	case ConfirmingEnrollment:
		return f.confirmEnrollment(ctx)
	default:
		return f.respond(ctx, noOffer())
	}
}

// respond is the single-reply primitive. Later calls are dropped.
func (f *flow) respond(_ context.Context, r Reply) State {
	first := false
	f.once.Do(func() {
		first = true
		r.Suppressed = f.req.DebugMode
		f.reply = r
		f.done = true
	})
	if !first {
		f.log.Error().Stringer("kind", r.Kind).Msg("duplicate reply dropped")
		return Replied
	}
	observability.Replies.WithLabelValues(r.Kind.String()).Inc()
	f.log.Info().Stringer("reply", r.Kind).Bool("suppressed", r.Suppressed).Msg("eligibility reply")
	return Replied
}

func (f *flow) emit(ctx context.Context, category, action, label string) {
	observability.Emit(ctx, f.o.deps.Sink, category, action, label)
}

func (f *flow) persistError(ctx context.Context, msg string) {
	if err := f.o.deps.Offers.SetErrorMessage(ctx, msg); err != nil {
		f.log.Error().Err(err).Msg("persist error message")
	}
}

func (f *flow) validateOrigin(ctx context.Context) State {
	origin, ok := f.origin()
	if !ok {
		f.log.Warn().Str("origin", origin).Msg("request not coming from a secure origin")
		f.emit(ctx, observability.CategoryClientError, observability.ActionFailOriginCheck, "")
		f.persistError(ctx, f.o.deps.Messages.Text(messages.ErrorOriginFailure))
		return f.respond(ctx, noOffer())
	}
	if f.req.TabID == "" {
		f.log.Warn().Str("origin", origin).Msg("request not coming from a tab")
		return f.respond(ctx, noOffer())
	}
	f.params.Origin = origin
	return CheckingCachedOffer
}

// origin resolves the caller's origin and whether it may ask for offers.
// Internal callers must declare an https or extension origin; external web
// pages must be served over https, and extensions are known by their id.
func (f *flow) origin() (string, bool) {
	if f.req.Entry == EntryInternal {
		o := f.req.Origin
		return o, strings.HasPrefix(o, "https") || strings.HasPrefix(o, "chrome-extension")
	}
	if f.req.SenderURL != "" && !strings.HasPrefix(f.req.SenderURL, "https") {
		return f.req.SenderURL, false
	}
	o := f.req.SenderURL
	if o == "" {
		o = f.req.SenderID
	}
	return o, o != ""
}

func (f *flow) checkCachedOffer(ctx context.Context) State {
	info, err := f.o.deps.Offers.Load(ctx)
	if err != nil {
		f.log.Warn().Err(err).Msg("offer info unavailable; asking the backend")
		return AwaitingConsent
	}
	rec := info.Services[f.req.ServiceID]
	if rec == nil || rec.PromoCode == "" {
		return AwaitingConsent
	}
	if err := f.o.deps.Offers.CacheLastServiceID(ctx, f.req.ServiceID); err != nil {
		f.log.Warn().Err(err).Msg("cache last service id")
	}

	checked := time.UnixMilli(rec.EligibilityCheckedTime)
	if !checked.Add(promoCodeAccessPeriod).After(f.o.now()) {
		f.log.Info().Time("checked_at", checked).Msg("cached promo code too old")
		return f.respond(ctx, noOffer())
	}
	f.log.Info().Msg("returning cached promo code")
	return f.respond(ctx, offer(&ProviderResponse{
		RequestNonce: f.req.RequestNonce,
		EligibilityResponse: &rpc.EligibilityResponse{
			Result:                  rpc.ResultEligible,
			ServiceID:               f.req.ServiceID,
			RequestNonce:            f.req.RequestNonce,
			PromoCode:               rec.PromoCode,
			PromoCodeExpirationDate: rec.PromoCodeExpirationDate,
		},
	}))
}

func (f *flow) awaitConsent(ctx context.Context) State {
	allowed, err := f.o.deps.Consent.RequestConsent(ctx, f.params.Origin, f.req.ServiceName, f.req.TabID)
	if err != nil || !allowed {
		if err != nil {
			f.log.Error().Err(err).Msg("consent request failed")
		}
		f.emit(ctx, observability.CategoryClientError, observability.ActionConsentDenied, "")
		f.persistError(ctx, f.o.deps.Messages.Text(messages.ConsentDenied))
		return f.respond(ctx, noOffer())
	}
	f.params.ServiceID = f.req.ServiceID
	f.params.ServiceName = f.req.ServiceName
	f.params.RequestNonce = f.req.RequestNonce
	f.params.IsGroupType = f.req.IsGroupType
	return ResolvingDeviceCode
}

func (f *flow) resolveDeviceCode(ctx context.Context) State {
	if f.req.OTCCode != "" {
		f.log.Info().Msg("one-time code in request; skipping device code")
		f.params.Code = f.req.OTCCode
		f.params.IsOtc = true
		f.setCodeType(ctx, codeTypeOTC)
		return ResolvingActivationDate
	}

	if f.req.IsGroupType {
		f.setCodeType(ctx, codeTypeGroup)
	} else {
		f.setCodeType(ctx, codeTypeReg)
	}
	code, err := f.o.deps.Device.RegistrationCode(ctx, f.req.IsGroupType)
	if err != nil {
		f.log.Warn().Err(err).Msg("read registration code")
		code = ""
	}

	recovered, err := f.o.deps.Offers.RecordRegCodeRead(ctx, code != "")
	if err != nil {
		f.log.Warn().Err(err).Msg("record registration code read")
	}
	if recovered {
		f.emit(ctx, observability.CategoryClientError, observability.ActionTemporaryRegCodeReadError, "")
	}

	if code == "" {
		f.emit(ctx, observability.CategoryClientError, observability.ActionNoRegCode, "")
		fire, err := f.o.deps.Offers.MarkNoRegCodeAfterEligible(ctx)
		if err != nil {
			f.log.Warn().Err(err).Msg("mark missing code after eligible request")
		}
		if fire {
			f.emit(ctx, observability.CategoryClientError, observability.ActionNoRegCodeAfterEligible, "")
		}
		f.persistError(ctx, f.o.deps.Messages.Text(messages.ErrorNoRegCode))
		f.log.Error().Bool("group_type", f.req.IsGroupType).Msg("empty code on device; not eligible")
		return f.respond(ctx, noOffer())
	}
	f.params.Code = code
	return ResolvingActivationDate
}

func (f *flow) setCodeType(ctx context.Context, codeType string) {
	observability.UpdateDimensions(ctx, func(d *observability.Dimensions) { d.CodeType = codeType })
}

func (f *flow) resolveActivationDate(ctx context.Context) State {
	week, err := f.o.deps.Device.ActivationWeek(ctx)
	if err != nil || week == "" {
		f.log.Warn().Err(err).Msg("activation week unavailable")
		f.emit(ctx, observability.CategoryClientError, observability.ActionNoOOBE, "")
		week = ""
	}
	f.params.MaxDeviceActivationDate = device.ObscureActivationDate(week, f.o.now(), f.o.intn)
	f.log.Debug().Str("activation_week", week).Str("max_device_activation_date", f.params.MaxDeviceActivationDate).
		Msg("activation date obscured")
	return CheckingEligibility
}

func (f *flow) checkEligibility(ctx context.Context) State {
	resp, variant, err := f.o.deps.Checker.CheckEligibility(ctx, f.params)
	if err != nil {
		f.log.Warn().Err(err).Msg("eligibility check unavailable; caller should retry")
		return f.respond(ctx, retry())
	}
	f.resp = resp
	f.answered = variant
	f.log.Info().Str("result", resp.Result).Str("variant", variant.String()).Msg("eligibility response")

	if err := f.o.deps.Offers.MergeEligibilityOutcome(ctx, *resp, f.params.IsOtc); err != nil {
		f.log.Error().Err(err).Msg("persist eligibility outcome")
	}

	switch resp.Result {
	case rpc.ResultEligible:
		f.emit(ctx, observability.CategoryEligible, observability.ActionEligible, "")
		f.persistError(ctx, "")
		pr := &ProviderResponse{RequestNonce: resp.RequestNonce, EligibilityResponse: resp}
		if resp.PromoCode != "" {
			f.pending = pr
			return ConfirmingEnrollment
		}
		return f.respond(ctx, offer(pr))
	case rpc.ResultNeedMoreInfo:
		f.emit(ctx, observability.CategoryNeedMoreInfo, observability.ActionNeedMoreInfo, "")
		if f.enriched {
			f.log.Warn().Msg("backend asked for more info twice")
			f.persistError(ctx, f.o.deps.Messages.ForServerKey(""))
			return f.respond(ctx, noOffer())
		}
		return EnrichingAttributes
	default:
		f.emit(ctx, observability.CategoryNotEligible, resp.ErrorCodeLabel(), "")
		f.log.Warn().Str("result", resp.Result).Str("message", resp.Message).Msg("not eligible")
		f.persistError(ctx, f.o.deps.Messages.ForServerKey(resp.Message))
		return f.respond(ctx, noOffer())
	}
}

func (f *flow) enrichAttributes(ctx context.Context) State {
	f.enriched = true
	if err := f.o.deps.Enricher.Supplement(ctx, &f.params, f.resp); err != nil {
		f.log.Info().Err(err).Msg("cannot supply requested attributes")
		f.persistError(ctx, f.o.deps.Messages.ForServerKey(""))
		return f.respond(ctx, noOffer())
	}
	return CheckingEligibility
}

func (f *flow) confirmEnrollment(ctx context.Context) State {
	f.log.Info().Msg("promo code received; confirming enrollment")
	attempts, err := f.o.deps.Confirmer.Confirm(ctx, f.answered, f.resp.ServiceID, f.resp.RequestNonce, f.resp.ResponseNonce)
	if err != nil {
		f.log.Warn().Err(err).Int("attempts", attempts).Msg("confirmation abandoned; delivering eligibility result")
	}
	return f.respond(ctx, offer(f.pending))
}

package eligibility

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"echo-client/internal/confirm"
	"echo-client/internal/consent"
	"echo-client/internal/device"
	"echo-client/internal/enrich"
	"echo-client/internal/messages"
	"echo-client/internal/observability"
	"echo-client/internal/offerinfo"
	"echo-client/internal/rpc"
	"echo-client/internal/storage"
	"echo-client/internal/transport"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

var fixedNow = time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)

type call struct {
	endpoint string
	body     map[string]any
}

// scriptedInvoker replays results per endpoint fragment; anything
// unscripted fails at the transport level.
type scriptedInvoker struct {
	mu     sync.Mutex
	script map[string][]transport.Result
	calls  []call
}

func (s *scriptedInvoker) Invoke(_ context.Context, endpoint string, body []byte, _ time.Duration) transport.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	var decoded map[string]any
	_ = json.Unmarshal(body, &decoded)
	s.calls = append(s.calls, call{endpoint: endpoint, body: decoded})
	for fragment, results := range s.script {
		if strings.Contains(endpoint, fragment) && len(results) > 0 {
			s.script[fragment] = results[1:]
			return results[0]
		}
	}
	return transport.Result{Kind: transport.TransportError, Err: errors.New("unscripted")}
}

func (s *scriptedInvoker) count(fragment string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if strings.Contains(c.endpoint, fragment) {
			n++
		}
	}
	return n
}

func ok(body string) transport.Result {
	return transport.Result{Kind: transport.Success, Status: 200, Payload: []byte(body)}
}

var timeout = transport.Result{Kind: transport.Timeout}

const (
	primaryCheck   = "/check?"
	secondaryCheck = "/checkEligibility"
	primaryConfirm = "/confirm?"
)

var testDevice = device.Static{
	HWID:            "PEPPY C6A-V8D",
	Customization:   "acme-peppy",
	FirstActiveWeek: "2026-02-02",
	CouponCode:      "coupon-1",
	GroupCode:       "group-1",
}

type harness struct {
	inv     *scriptedInvoker
	rec     *observability.Recorder
	store   *storage.MemoryStore
	offers  *offerinfo.Adapter
	catalog *messages.Catalog
	orch    *Orchestrator
}

type option func(*Deps)

func withDevice(d device.Provider) option {
	return func(deps *Deps) {
		deps.Device = d
		deps.Enricher = enrich.New(d, deps.Sink)
	}
}

func withConsent(c consent.Requester) option {
	return func(deps *Deps) { deps.Consent = c }
}

func newHarness(script map[string][]transport.Result, opts ...option) *harness {
	h := &harness{
		inv:     &scriptedInvoker{script: script},
		rec:     &observability.Recorder{},
		store:   storage.NewMemoryStore(),
		catalog: messages.New(language.English),
	}
	h.offers = offerinfo.New(h.store)
	client := rpc.New(h.inv, rpc.Options{
		APIFrontend:       "https://api.test/v1",
		EndpointsFrontend: "https://endpoints.test/echo/1",
		APIKey:            "k",
		Timeout:           time.Second,
	}, h.rec)
	deps := Deps{
		Checker:   client,
		Confirmer: confirm.New(client, h.rec, 5, 0),
		Enricher:  enrich.New(testDevice, h.rec),
		Device:    testDevice,
		Consent:   consent.Policy{Enabled: true, AutoAccept: true},
		Offers:    h.offers,
		Messages:  h.catalog,
		Sink:      h.rec,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	h.orch = New(deps)
	h.orch.now = func() time.Time { return fixedNow }
	h.orch.intn = func(int) int { return 0 }
	return h
}

func (h *harness) errorMessage(t *testing.T) string {
	t.Helper()
	msg, err := h.offers.ErrorMessage(context.Background())
	require.NoError(t, err)
	return msg
}

func internalRequest() Request {
	return Request{
		Entry:        EntryInternal,
		Origin:       "https://a.example",
		TabID:        "17",
		ServiceID:    "svc1",
		ServiceName:  "Service One",
		RequestNonce: "n1",
	}
}

func primaryParams(t *testing.T, c call) map[string]any {
	t.Helper()
	params, ok := c.body["params"].(map[string]any)
	require.True(t, ok, "primary body carries params: %v", c.body)
	return params
}

func TestHandle_OTCEndToEnd(t *testing.T) {
	h := newHarness(map[string][]transport.Result{
		primaryCheck: {ok(`{"result":"ELIGIBLE","serviceId":"svc1","requestNonce":"n1","responseNonce":"r1","promoCode":"PROMO9"}`)},
		primaryConfirm: {ok(`{"acknowledged":true}`)},
	})
	req := internalRequest()
	req.OTCCode = "ABC123"

	reply := h.orch.Handle(context.Background(), req)

	require.Equal(t, Offer, reply.Kind)
	assert.False(t, reply.Suppressed)
	body, err := json.Marshal(reply)
	require.NoError(t, err)
	assert.JSONEq(t, `{"requestNonce":"n1","eligibilityResponse":{"result":"ELIGIBLE","serviceId":"svc1","requestNonce":"n1","responseNonce":"r1","promoCode":"PROMO9"}}`, string(body))

	info, err := h.offers.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "PROMO9", info.Services["svc1"].PromoCode)
	assert.False(t, info.NonOTCEligibleRequest)

	params := primaryParams(t, h.inv.calls[0])
	assert.Equal(t, "ABC123", params["code"])
	assert.Equal(t, true, params["isOtc"])
	assert.Equal(t, "Service One", params["serviceProviderAlias"])
	assert.Equal(t, "https://a.example", params["origin"])
	assert.Equal(t, "2026-2-8", params["maxDeviceActivationDate"])
	assert.Equal(t, 1, h.inv.count(primaryConfirm))

	assert.Equal(t, 1, h.rec.Count(observability.CategoryEligible, observability.ActionEligible))
	for _, e := range h.rec.Events() {
		if e.Category == observability.CategoryEligible {
			assert.Equal(t, "otc", e.Dimensions.CodeType)
			assert.Equal(t, "peppy", e.Dimensions.DeviceFamily)
			assert.Equal(t, "svc1", e.Dimensions.ServiceID)
		}
	}
	assert.Empty(t, h.errorMessage(t))
}

func TestHandle_OriginRejectedBeforeAnyRPC(t *testing.T) {
	h := newHarness(nil)
	req := internalRequest()
	req.Origin = "http://evil.example"

	reply := h.orch.Handle(context.Background(), req)

	assert.Equal(t, NoOffer, reply.Kind)
	assert.Empty(t, h.inv.calls)
	assert.Equal(t, h.catalog.Text(messages.ErrorOriginFailure), h.errorMessage(t))
	assert.Equal(t, 1, h.rec.Count(observability.CategoryClientError, observability.ActionFailOriginCheck))
}

func TestHandle_OriginRules(t *testing.T) {
	tests := []struct {
		name   string
		req    Request
		wantOK bool
	}{
		{"internal https", Request{Entry: EntryInternal, Origin: "https://good.example"}, true},
		{"internal extension", Request{Entry: EntryInternal, Origin: "chrome-extension://abc"}, true},
		{"internal missing", Request{Entry: EntryInternal}, false},
		{"internal http", Request{Entry: EntryInternal, Origin: "http://good.example"}, false},
		{"external https page", Request{Entry: EntryExternal, SenderURL: "https://good.example/p"}, true},
		{"external http page", Request{Entry: EntryExternal, SenderURL: "http://good.example/p", SenderID: "ext"}, false},
		{"external extension", Request{Entry: EntryExternal, SenderID: "ljoammodoonkhnehlncldjelhidljdpi"}, true},
		{"external unknown", Request{Entry: EntryExternal}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &flow{req: tt.req}
			_, ok := f.origin()
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestHandle_RequiresTab(t *testing.T) {
	h := newHarness(nil)
	req := internalRequest()
	req.TabID = ""

	reply := h.orch.Handle(context.Background(), req)

	assert.Equal(t, NoOffer, reply.Kind)
	assert.Empty(t, h.inv.calls)
	assert.Empty(t, h.errorMessage(t))
}

func TestHandle_PrimaryTimeoutFallsBackWithSameParams(t *testing.T) {
	h := newHarness(map[string][]transport.Result{
		primaryCheck:   {timeout},
		secondaryCheck: {ok(`{"result":{"result":"ELIGIBLE","serviceId":"svc1","requestNonce":"n1"}}`)},
	})

	reply := h.orch.Handle(context.Background(), internalRequest())

	require.Equal(t, Offer, reply.Kind)
	require.Len(t, h.inv.calls, 2)
	assert.Equal(t, primaryParams(t, h.inv.calls[0]), h.inv.calls[1].body)
	assert.Equal(t, "coupon-1", h.inv.calls[1].body["code"])
}

func TestHandle_BothBackendsTimeOutRepliesRetry(t *testing.T) {
	h := newHarness(map[string][]transport.Result{
		primaryCheck:   {timeout},
		secondaryCheck: {timeout},
	})

	reply := h.orch.Handle(context.Background(), internalRequest())

	assert.Equal(t, Retry, reply.Kind)
	body, err := json.Marshal(reply)
	require.NoError(t, err)
	assert.Equal(t, `"RETRY"`, string(body))
	assert.Equal(t, 2, h.rec.Count(observability.CategoryAPICall, observability.ActionXHRTimeout))
}

func TestHandle_ConfirmationExhaustedStillDeliversResult(t *testing.T) {
	h := newHarness(map[string][]transport.Result{
		primaryCheck: {ok(`{"result":"ELIGIBLE","serviceId":"svc1","requestNonce":"n1","responseNonce":"r1","promoCode":"PROMO9"}`)},
	})

	reply := h.orch.Handle(context.Background(), internalRequest())

	require.Equal(t, Offer, reply.Kind)
	assert.Equal(t, "n1", reply.Response.RequestNonce)
	assert.Equal(t, "PROMO9", reply.Response.EligibilityResponse.PromoCode)
	assert.Equal(t, 5, h.inv.count("/confirm"))
	assert.Equal(t, 1, h.rec.Count(observability.CategoryClientError, observability.ActionConfirmExhausted))
}

func TestHandle_ConfirmStartsOnAnsweringBackend(t *testing.T) {
	h := newHarness(map[string][]transport.Result{
		primaryCheck:         {transport.Result{Kind: transport.TransportError}},
		secondaryCheck:       {ok(`{"result":{"result":"ELIGIBLE","serviceId":"svc1","requestNonce":"n1","responseNonce":"r1","promoCode":"PROMO9"}}`)},
		"/confirmEnrollment": {ok(`{"result":{"acknowledged":true}}`)},
	})

	reply := h.orch.Handle(context.Background(), internalRequest())

	require.Equal(t, Offer, reply.Kind)
	assert.Equal(t, "PROMO9", reply.Response.EligibilityResponse.PromoCode)
	assert.Equal(t, 1, h.inv.count("/confirmEnrollment"))
	assert.Zero(t, h.inv.count(primaryConfirm))
	assert.Zero(t, h.rec.Count(observability.CategoryClientError, observability.ActionConfirmExhausted))
}

func TestHandle_EmptyRegistrationCode(t *testing.T) {
	dev := testDevice
	dev.CouponCode = ""
	h := newHarness(nil, withDevice(dev))

	reply := h.orch.Handle(context.Background(), internalRequest())

	assert.Equal(t, NoOffer, reply.Kind)
	assert.Empty(t, h.inv.calls)
	assert.Equal(t, h.catalog.Text(messages.ErrorNoRegCode), h.errorMessage(t))
	assert.Equal(t, 1, h.rec.Count(observability.CategoryClientError, observability.ActionNoRegCode))
	assert.Zero(t, h.rec.Count(observability.CategoryClientError, observability.ActionNoRegCodeAfterEligible))
}

func TestHandle_EmptyRegistrationCodeAfterEligibleRequest(t *testing.T) {
	dev := testDevice
	h := newHarness(map[string][]transport.Result{
		primaryCheck: {ok(`{"result":"ELIGIBLE","serviceId":"svc1","requestNonce":"n1"}`)},
	}, withDevice(dev))
	require.Equal(t, Offer, h.orch.Handle(context.Background(), internalRequest()).Kind)

	dev.CouponCode = ""
	withDevice(dev)(&h.orch.deps)
	h.orch.Handle(context.Background(), internalRequest())
	h.orch.Handle(context.Background(), internalRequest())

	assert.Equal(t, 2, h.rec.Count(observability.CategoryClientError, observability.ActionNoRegCode))
	assert.Equal(t, 1, h.rec.Count(observability.CategoryClientError, observability.ActionNoRegCodeAfterEligible))
}

func TestHandle_GroupCodeType(t *testing.T) {
	h := newHarness(map[string][]transport.Result{
		primaryCheck: {ok(`{"result":"ELIGIBLE","serviceId":"svc1","requestNonce":"n1"}`)},
	})
	req := internalRequest()
	req.IsGroupType = true

	h.orch.Handle(context.Background(), req)

	params := primaryParams(t, h.inv.calls[0])
	assert.Equal(t, "group-1", params["code"])
	assert.Equal(t, true, params["opt_isGroupType"])
	for _, e := range h.rec.Events() {
		if e.Category == observability.CategoryEligible {
			assert.Equal(t, "groupCode", e.Dimensions.CodeType)
		}
	}
}

func TestHandle_ConsentDenied(t *testing.T) {
	h := newHarness(nil, withConsent(consent.Policy{Enabled: false}))

	reply := h.orch.Handle(context.Background(), internalRequest())

	assert.Equal(t, NoOffer, reply.Kind)
	assert.Empty(t, h.inv.calls)
	assert.Equal(t, h.catalog.Text(messages.ConsentDenied), h.errorMessage(t))
	assert.Equal(t, 1, h.rec.Count(observability.CategoryClientError, observability.ActionConsentDenied))
}

func TestHandle_ConsentError(t *testing.T) {
	failing := consent.Func(func(context.Context, string, string, string) (bool, error) {
		return false, errors.New("dialog closed")
	})
	h := newHarness(nil, withConsent(failing))

	reply := h.orch.Handle(context.Background(), internalRequest())

	assert.Equal(t, NoOffer, reply.Kind)
	assert.Equal(t, h.catalog.Text(messages.ConsentDenied), h.errorMessage(t))
}

func TestHandle_NeedMoreInfoEnrichesAndRetries(t *testing.T) {
	h := newHarness(map[string][]transport.Result{
		primaryCheck: {
			ok(`{"result":"NEED_MORE_INFO","serviceId":"svc1","needHwid":true,"needCustomizationId":true}`),
			ok(`{"result":"ELIGIBLE","serviceId":"svc1","requestNonce":"n1"}`),
		},
	})

	reply := h.orch.Handle(context.Background(), internalRequest())

	require.Equal(t, Offer, reply.Kind)
	require.Len(t, h.inv.calls, 2)
	first := primaryParams(t, h.inv.calls[0])
	assert.NotContains(t, first, "hwid")
	second := primaryParams(t, h.inv.calls[1])
	assert.Equal(t, "PEPPY C6A-V8D", second["hwid"])
	assert.Equal(t, "acme-peppy", second["customizationId"])
	assert.Equal(t, 1, h.rec.Count(observability.CategoryNeedMoreInfo, observability.ActionNeedMoreInfo))
}

func TestHandle_NeedMoreInfoAttributeMissing(t *testing.T) {
	dev := testDevice
	dev.HWID = ""
	h := newHarness(map[string][]transport.Result{
		primaryCheck: {ok(`{"result":"NEED_MORE_INFO","serviceId":"svc1","needHwid":true}`)},
	}, withDevice(dev))

	reply := h.orch.Handle(context.Background(), internalRequest())

	assert.Equal(t, NoOffer, reply.Kind)
	assert.Len(t, h.inv.calls, 1)
	assert.Equal(t, h.catalog.ForServerKey(""), h.errorMessage(t))
	assert.Equal(t, 1, h.rec.Count(observability.CategoryClientError, observability.ActionNoHWID))
}

func TestHandle_NeedMoreInfoTwiceIsNotEligible(t *testing.T) {
	needMore := ok(`{"result":"NEED_MORE_INFO","serviceId":"svc1","needHwid":true}`)
	h := newHarness(map[string][]transport.Result{
		primaryCheck: {needMore, needMore, needMore},
	})

	reply := h.orch.Handle(context.Background(), internalRequest())

	assert.Equal(t, NoOffer, reply.Kind)
	assert.Len(t, h.inv.calls, 2)
}

func TestHandle_NotEligible(t *testing.T) {
	h := newHarness(map[string][]transport.Result{
		primaryCheck: {ok(`{"result":"NOT_ELIGIBLE","errorCode":12,"message":"DEVICE_NOT_ELIGIBLE","serviceId":"svc1"}`)},
	})

	reply := h.orch.Handle(context.Background(), internalRequest())

	assert.Equal(t, NoOffer, reply.Kind)
	assert.Equal(t, h.catalog.Text(messages.DeviceNotEligible), h.errorMessage(t))
	assert.Equal(t, 1, h.rec.Count(observability.CategoryNotEligible, "12"))

	info, err := h.offers.Load(context.Background())
	require.NoError(t, err)
	assert.Contains(t, info.Services, "svc1", "outcome is persisted before the reply")
}

func TestHandle_MissingActivationWeek(t *testing.T) {
	dev := testDevice
	dev.FirstActiveWeek = ""
	h := newHarness(map[string][]transport.Result{
		primaryCheck: {ok(`{"result":"ELIGIBLE","serviceId":"svc1","requestNonce":"n1"}`)},
	}, withDevice(dev))

	reply := h.orch.Handle(context.Background(), internalRequest())

	assert.Equal(t, Offer, reply.Kind)
	assert.NotContains(t, primaryParams(t, h.inv.calls[0]), "maxDeviceActivationDate")
	assert.Equal(t, 1, h.rec.Count(observability.CategoryClientError, observability.ActionNoOOBE))
}

func seedPromo(t *testing.T, h *harness, checkedAt time.Time) {
	t.Helper()
	raw, err := json.Marshal(offerinfo.OfferInfo{Services: map[string]*offerinfo.ServiceRecord{
		"svc1": {PromoCode: "CACHED1", PromoCodeExpirationDate: "2026-4-1", EligibilityCheckedTime: checkedAt.UnixMilli()},
	}})
	require.NoError(t, err)
	require.NoError(t, h.store.Set(context.Background(), offerinfo.KeyOfferInfo, raw))
}

func TestHandle_CachedPromoCode(t *testing.T) {
	h := newHarness(nil, withConsent(consent.Policy{}))
	seedPromo(t, h, fixedNow.Add(-10*time.Minute))

	reply := h.orch.Handle(context.Background(), internalRequest())

	require.Equal(t, Offer, reply.Kind)
	assert.Empty(t, h.inv.calls)
	assert.Equal(t, &ProviderResponse{
		RequestNonce: "n1",
		EligibilityResponse: &rpc.EligibilityResponse{
			Result: rpc.ResultEligible, ServiceID: "svc1", RequestNonce: "n1",
			PromoCode: "CACHED1", PromoCodeExpirationDate: "2026-4-1",
		},
	}, reply.Response)
	assert.Zero(t, h.rec.Count(observability.CategoryClientError, observability.ActionConsentDenied))
}

func TestHandle_StaleCachedPromoCode(t *testing.T) {
	h := newHarness(nil)
	seedPromo(t, h, fixedNow.Add(-31*time.Minute))

	reply := h.orch.Handle(context.Background(), internalRequest())

	assert.Equal(t, NoOffer, reply.Kind)
	assert.Empty(t, h.inv.calls)
}

func TestHandle_DebugModeSuppressesButPersists(t *testing.T) {
	h := newHarness(map[string][]transport.Result{
		primaryCheck: {ok(`{"result":"ELIGIBLE","serviceId":"svc1","requestNonce":"n1","promoCode":"DBG"}`)},
		primaryConfirm: {ok(`{}`)},
	})
	req := internalRequest()
	req.DebugMode = true

	reply := h.orch.Handle(context.Background(), req)

	assert.True(t, reply.Suppressed)
	assert.Equal(t, Offer, reply.Kind)
	info, err := h.offers.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "DBG", info.Services["svc1"].PromoCode)
}

func TestHandle_DefaultsServiceIDAndCachesIt(t *testing.T) {
	h := newHarness(nil)
	req := internalRequest()
	req.ServiceID = ""
	req.Origin = ""

	h.orch.Handle(context.Background(), req)

	info, err := h.offers.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, UnknownServiceID, info.LastServiceID)
}

func TestRespond_ExactlyOnce(t *testing.T) {
	logger := zerolog.Nop()
	f := &flow{log: &logger}

	assert.Equal(t, Replied, f.respond(context.Background(), retry()))
	assert.Equal(t, Replied, f.respond(context.Background(), offer(&ProviderResponse{RequestNonce: "late"})))

	assert.Equal(t, Retry, f.reply.Kind)
	assert.Nil(t, f.reply.Response)
}

func TestReply_MarshalJSON(t *testing.T) {
	tests := []struct {
		reply Reply
		want  string
	}{
		{noOffer(), `null`},
		{retry(), `"RETRY"`},
		{offer(&ProviderResponse{RequestNonce: "n", EligibilityResponse: &rpc.EligibilityResponse{Result: "ELIGIBLE"}}),
			`{"requestNonce":"n","eligibilityResponse":{"result":"ELIGIBLE"}}`},
	}
	for _, tt := range tests {
		got, err := json.Marshal(tt.reply)
		require.NoError(t, err)
		assert.JSONEq(t, tt.want, string(got))
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "awaiting_consent", AwaitingConsent.String())
	assert.Equal(t, "replied", Replied.String())
	assert.Equal(t, "unknown", State(99).String())
}

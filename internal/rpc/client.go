// Package rpc talks to the eligibility backend over two interchangeable
// protocols: Primary (JSON-RPC envelope, API key) and Secondary (flat body).
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"echo-client/internal/observability"
	"echo-client/internal/transport"

	"github.com/rs/zerolog/log"
)

type Variant int

const (
	Primary Variant = iota
	Secondary
)

func (v Variant) Other() Variant {
	if v == Primary {
		return Secondary
	}
	return Primary
}

func (v Variant) String() string {
	if v == Primary {
		return "primary"
	}
	return "secondary"
}

type action struct {
	primaryPath   string
	secondaryPath string
	method        string
	primaryAPI    string
	secondaryAPI  string
}

var (
	actionCheck = action{
		primaryPath: "check", secondaryPath: "checkEligibility",
		method:     "chromeosregistration.checkEligibility",
		primaryAPI: "checkEligibility", secondaryAPI: "checkEligibilityEndpoints",
	}
	actionConfirm = action{
		primaryPath: "confirm", secondaryPath: "confirmEnrollment",
		method:     "chromeosregistration.confirmEnrollment",
		primaryAPI: "confirmEnrollment", secondaryAPI: "confirmEnrollmentEndpoints",
	}
	actionOfferInfo = action{
		primaryPath: "get", secondaryPath: "getOfferInfo",
		method:     "chromeosregistration.getOfferInfoConfig",
		primaryAPI: "getOfferInfo", secondaryAPI: "getOfferInfoEndpoints",
	}
)

type envelope struct {
	JSONRPC    string         `json:"jsonrpc"`
	ID         string         `json:"id"`
	Method     string         `json:"method"`
	Params     map[string]any `json:"params,omitempty"`
	APIVersion string         `json:"apiVersion"`
}

type Options struct {
	APIFrontend       string
	EndpointsFrontend string
	APIKey            string
	Timeout           time.Duration
}

type Client struct {
	invoker transport.Invoker
	opts    Options
	sink    observability.Sink
}

func New(invoker transport.Invoker, opts Options, sink observability.Sink) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	return &Client{invoker: invoker, opts: opts, sink: sink}
}

// CheckEligibility asks Primary, falls back once to Secondary on a transport
// failure or timeout, and returns ErrRetry when no usable answer came back.
// The returned variant is the backend that answered.
func (c *Client) CheckEligibility(ctx context.Context, p Params) (*EligibilityResponse, Variant, error) {
	resp, err := c.checkOn(ctx, Primary, p)
	if err == nil {
		return resp, Primary, nil
	}
	if !Fallback(err) {
		return nil, Primary, fmt.Errorf("%w: %w", ErrRetry, err)
	}
	log.Warn().Err(err).Msg("primary checkEligibility failed; falling back")
	resp, err = c.checkOn(ctx, Secondary, p)
	if err != nil {
		return nil, Secondary, fmt.Errorf("%w: %w", ErrRetry, err)
	}
	return resp, Secondary, nil
}

func (c *Client) checkOn(ctx context.Context, v Variant, p Params) (*EligibilityResponse, error) {
	payload, err := c.exchange(ctx, v, actionCheck, p.Wire())
	if err != nil {
		return nil, err
	}
	var resp *EligibilityResponse
	if v == Primary {
		err = json.Unmarshal(payload, &resp)
	} else {
		var wrapped struct {
			Result *EligibilityResponse `json:"result"`
		}
		err = json.Unmarshal(payload, &wrapped)
		resp = wrapped.Result
	}
	if err != nil || resp == nil {
		return nil, fmt.Errorf("%s checkEligibility: %w", v, ErrProtocol)
	}
	log.Debug().Str("variant", v.String()).RawJSON("response", payload).Msg("raw eligibility response")
	return resp, nil
}

// ConfirmEnrollment acknowledges a promo code on one backend, once.
func (c *Client) ConfirmEnrollment(ctx context.Context, v Variant, serviceID, requestNonce, responseNonce string) error {
	params := map[string]any{
		"serviceId":     serviceID,
		"requestNonce":  requestNonce,
		"responseNonce": responseNonce,
	}
	payload, err := c.exchange(ctx, v, actionConfirm, params)
	if err != nil {
		return err
	}
	if !usable(v, payload) {
		return fmt.Errorf("%s confirmEnrollment: %w", v, ErrProtocol)
	}
	log.Debug().Str("variant", v.String()).RawJSON("response", payload).Msg("confirmEnrollment acknowledged")
	return nil
}

// GetOfferInfoConfig fetches the per-device-family offer table.
func (c *Client) GetOfferInfoConfig(ctx context.Context) ([]DeviceOfferInfo, error) {
	list, err := c.offerInfoOn(ctx, Primary)
	if err == nil || !Fallback(err) {
		return list, err
	}
	log.Warn().Err(err).Msg("primary getOfferInfo failed; falling back")
	return c.offerInfoOn(ctx, Secondary)
}

func (c *Client) offerInfoOn(ctx context.Context, v Variant) ([]DeviceOfferInfo, error) {
	payload, err := c.exchange(ctx, v, actionOfferInfo, nil)
	if err != nil {
		return nil, err
	}
	// both variants return the list at the top level
	var body *struct {
		ServiceInfoForDeviceList []DeviceOfferInfo `json:"serviceInfoForDeviceList"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body == nil {
		return nil, fmt.Errorf("%s getOfferInfo: %w", v, ErrProtocol)
	}
	return body.ServiceInfoForDeviceList, nil
}

// usable applies the variant's success predicate: Primary wants any
// non-null JSON value, Secondary wants a non-null result member.
func usable(v Variant, payload []byte) bool {
	if v == Primary {
		var anyBody any
		if err := json.Unmarshal(payload, &anyBody); err != nil {
			return false
		}
		return truthy(anyBody)
	}
	var wrapped struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(payload, &wrapped); err != nil {
		return false
	}
	r := bytes.TrimSpace(wrapped.Result)
	return len(r) > 0 && !bytes.Equal(r, []byte("null"))
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	default:
		return true
	}
}

func (c *Client) endpoint(v Variant, a action) string {
	if v == Primary {
		return fmt.Sprintf("%s/%s?key=%s", c.opts.APIFrontend, a.primaryPath, url.QueryEscape(c.opts.APIKey))
	}
	return fmt.Sprintf("%s/%s", c.opts.EndpointsFrontend, a.secondaryPath)
}

func (c *Client) body(v Variant, a action, params map[string]any) ([]byte, error) {
	if v == Primary {
		return json.Marshal(envelope{
			JSONRPC:    "2.0",
			ID:         "gapiRpc",
			Method:     a.method,
			Params:     params,
			APIVersion: "v1",
		})
	}
	if params == nil {
		params = map[string]any{}
	}
	return json.Marshal(params)
}

// exchange runs one attempt and maps transport outcomes onto errors,
// recording the api-call metrics on the way.
func (c *Client) exchange(ctx context.Context, v Variant, a action, params map[string]any) ([]byte, error) {
	api := a.primaryAPI
	if v == Secondary {
		api = a.secondaryAPI
	}
	observability.UpdateDimensions(ctx, func(d *observability.Dimensions) { d.APIName = api })
	observability.Emit(ctx, c.sink, observability.CategoryAPICall, observability.ActionAPICalls, "")

	body, err := c.body(v, a, params)
	if err != nil {
		return nil, fmt.Errorf("encode %s body: %w", api, err)
	}
	endpoint := c.endpoint(v, a)
	log.Debug().Str("api", api).Str("endpoint", redactKey(endpoint)).RawJSON("body", body).Msg("backend request")

	res := c.invoker.Invoke(ctx, endpoint, body, c.opts.Timeout)
	switch res.Kind {
	case transport.Success:
		return res.Payload, nil
	case transport.Timeout:
		observability.Emit(ctx, c.sink, observability.CategoryAPICall, observability.ActionXHRTimeout, "")
		return nil, fmt.Errorf("%s: %w", api, ErrTimeout)
	default:
		observability.Emit(ctx, c.sink, observability.CategoryAPICall, observability.ActionXHRError, "")
		if res.Err == nil {
			return nil, fmt.Errorf("%s: %w", api, ErrTransport)
		}
		return nil, fmt.Errorf("%s: %w: %v", api, ErrTransport, res.Err)
	}
}

func redactKey(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	q := u.Query()
	if q.Has("key") {
		q.Set("key", "***")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

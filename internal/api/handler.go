package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"echo-client/internal/device"
	"echo-client/internal/eligibility"
	"echo-client/internal/observability"
	"echo-client/internal/offerinfo"
	"echo-client/internal/registry"
)

// Commands understood by the messaging layer.
const (
	CmdGetOfferInfo          = "getOfferInfo"
	CmdCheckEligibility      = "checkEligibility"
	CmdCheckModelEligibility = "checkModelEligibility"
	CmdGetModel              = "getModel"
)

// Sender identity headers of external messages.
const (
	HeaderSenderURL = "X-Sender-Url"
	HeaderSenderID  = "X-Sender-Id"
	HeaderTabID     = "X-Tab-Id"
)

type Refresher interface {
	RefreshOnce(ctx context.Context) (bool, error)
}

type MessageHandler struct {
	Orch      *eligibility.Orchestrator
	Offers    *offerinfo.Adapter
	Device    device.Provider
	Callers   *registry.Registry
	Refresher Refresher
	Sink      observability.Sink
}

func NewMessageHandler(orch *eligibility.Orchestrator, offers *offerinfo.Adapter, dev device.Provider,
	callers *registry.Registry, refresher Refresher, sink observability.Sink) *MessageHandler {
	return &MessageHandler{Orch: orch, Offers: offers, Device: dev, Callers: callers, Refresher: refresher, Sink: sink}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeNull is the reply of rejected or unknown requests.
func writeNull(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, nil)
}

func writeReply(w http.ResponseWriter, reply eligibility.Reply) {
	if reply.Suppressed {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// tabID accepts tab ids sent as JSON numbers or strings.
type tabID string

func (t *tabID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*t = ""
		return nil
	}
	*t = tabID(strings.Trim(s, `"`))
	return nil
}

type internalMessage struct {
	Cmd          string `json:"cmd"`
	ServiceID    string `json:"serviceId"`
	ServiceName  string `json:"serviceName"`
	Origin       string `json:"origin"`
	RequestNonce string `json:"requestNonce"`
	IsGroupType  bool   `json:"isGroupType"`
	OTCCode      string `json:"otcCode"`
	IsDebugMode  bool   `json:"isDebugMode"`
	TabID        tabID  `json:"tabId"`
}

type offerInfoReply struct {
	*offerinfo.OfferInfo
	DeviceFamily string `json:"deviceFamily"`
}

// Internal handles messages from the broker page and the not-eligible page.
func (h *MessageHandler) Internal(w http.ResponseWriter, r *http.Request) {
	var msg internalMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "invalid message", http.StatusBadRequest)
		return
	}
	ctx := r.Context()

	if msg.Cmd == CmdGetOfferInfo {
		writeJSON(w, http.StatusOK, h.offerInfo(ctx))
		return
	}

	reply := h.Orch.Handle(ctx, eligibility.Request{
		Entry:        eligibility.EntryInternal,
		Origin:       msg.Origin,
		TabID:        string(msg.TabID),
		ServiceID:    msg.ServiceID,
		ServiceName:  msg.ServiceName,
		RequestNonce: msg.RequestNonce,
		IsGroupType:  msg.IsGroupType,
		OTCCode:      msg.OTCCode,
		DebugMode:    msg.IsDebugMode,
	})
	writeReply(w, reply)
}

func (h *MessageHandler) offerInfo(ctx context.Context) offerInfoReply {
	info, err := h.Offers.Load(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("offer info unavailable")
		info = &offerinfo.OfferInfo{}
	}
	return offerInfoReply{OfferInfo: info, DeviceFamily: device.FamilyOr(ctx, h.Device, device.UnknownFamily)}
}

type notEligibleReply struct {
	ErrorMessage            string `json:"errorMessage"`
	ServiceID               string `json:"serviceId"`
	PromoCode               string `json:"promoCode,omitempty"`
	PromoCodeExpirationDate string `json:"promoCodeExpirationDate,omitempty"`
	RedirectURL             string `json:"redirectUrl,omitempty"`
}

// notEligible collects the page data and returns ctx tagged with the page's
// metric dimensions.
func (h *MessageHandler) notEligible(ctx context.Context) (context.Context, notEligibleReply) {
	info := h.offerInfo(ctx)
	msg, err := h.Offers.ErrorMessage(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("error message unavailable")
	}

	out := notEligibleReply{ErrorMessage: msg, ServiceID: eligibility.UnknownServiceID}
	if info.LastServiceID != "" {
		out.ServiceID = info.LastServiceID
	}
	if rec := info.Services[info.LastServiceID]; rec != nil && rec.PromoCode != "" {
		out.PromoCode = rec.PromoCode
		out.PromoCodeExpirationDate = rec.PromoCodeExpirationDate
		out.RedirectURL = rec.RedirectURL
	}
	ctx = observability.WithDimensions(ctx, observability.Dimensions{ServiceID: out.ServiceID, DeviceFamily: info.DeviceFamily})
	return ctx, out
}

// NotEligible serves the not-eligible page: the last error message, or the
// promo code stored for the last requested service.
func (h *MessageHandler) NotEligible(w http.ResponseWriter, r *http.Request) {
	ctx, out := h.notEligible(r.Context())
	observability.Emit(ctx, h.Sink, observability.CategoryNotEligible, observability.ActionNotEligiblePage, "")
	writeJSON(w, http.StatusOK, out)
}

// Redeem records a click on the page's redeem button and returns the
// provider URL carrying the promo code, or null when none is stored.
func (h *MessageHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	ctx, out := h.notEligible(r.Context())
	if out.PromoCode == "" {
		writeNull(w)
		return
	}
	observability.Emit(ctx, h.Sink, observability.CategoryPromoCode, observability.ActionRedeemPromoCodeClicked, "")
	writeJSON(w, http.StatusOK, map[string]string{"redirectUrl": out.RedirectURL + out.PromoCode})
}

type externalMessage struct {
	Cmd  string          `json:"cmd"`
	Data json.RawMessage `json:"data"`
}

type externalCheck struct {
	ServiceID    string `json:"serviceId"`
	ServiceName  string `json:"serviceName"`
	RequestNonce string `json:"requestNonce"`
	IsGroupType  bool   `json:"isGroupType"`
	OTCCode      string `json:"otcCode"`
}

type sender struct {
	url, id, tab string
}

// origin identifies the sender: its page URL, else its extension id.
func (s sender) origin() string {
	if s.url != "" {
		return s.url
	}
	return s.id
}

// External handles messages from web pages and other extensions.
func (h *MessageHandler) External(w http.ResponseWriter, r *http.Request) {
	var msg externalMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "invalid message", http.StatusBadRequest)
		return
	}
	s := sender{
		url: r.Header.Get(HeaderSenderURL),
		id:  r.Header.Get(HeaderSenderID),
		tab: r.Header.Get(HeaderTabID),
	}

	switch msg.Cmd {
	case CmdCheckEligibility:
		h.checkEligibility(w, r, s, msg.Data)
	case CmdCheckModelEligibility:
		h.checkModelEligibility(w, r, s)
	case CmdGetModel:
		h.getModel(w, r, s)
	default:
		writeNull(w)
	}
}

func (h *MessageHandler) checkEligibility(w http.ResponseWriter, r *http.Request, s sender, data json.RawMessage) {
	var d externalCheck
	if len(data) > 0 {
		if err := json.Unmarshal(data, &d); err != nil {
			http.Error(w, "invalid data", http.StatusBadRequest)
			return
		}
	}
	reply := h.Orch.Handle(r.Context(), eligibility.Request{
		Entry:        eligibility.EntryExternal,
		SenderURL:    s.url,
		SenderID:     s.id,
		TabID:        s.tab,
		ServiceID:    d.ServiceID,
		ServiceName:  d.ServiceName,
		RequestNonce: d.RequestNonce,
		IsGroupType:  d.IsGroupType,
		OTCCode:      d.OTCCode,
	})
	writeReply(w, reply)
}

func (h *MessageHandler) checkModelEligibility(w http.ResponseWriter, r *http.Request, s sender) {
	caps, ok := h.Callers.Lookup(s.origin())
	if !ok {
		writeNull(w)
		return
	}
	ctx := r.Context()
	if _, err := h.Refresher.RefreshOnce(ctx); err != nil {
		log.Warn().Err(err).Msg("refresh offer info before model check")
	}
	info, err := h.Offers.Load(ctx)
	ids := []string{}
	if err != nil {
		log.Warn().Err(err).Msg("offer info unavailable")
	} else {
		for id := range info.Services {
			if caps.Visible(id) {
				ids = append(ids, id)
			}
		}
		sort.Strings(ids)
	}
	writeJSON(w, http.StatusOK, map[string][]string{"eligibleServiceIds": ids})
}

func (h *MessageHandler) getModel(w http.ResponseWriter, r *http.Request, s sender) {
	caps, ok := h.Callers.Lookup(s.origin())
	if !ok || !caps.CanCheckModel {
		writeNull(w)
		return
	}
	family := device.FamilyOr(r.Context(), h.Device, "")
	if family == "" {
		writeNull(w)
		return
	}
	writeJSON(w, http.StatusOK, family)
}

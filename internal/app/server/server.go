package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"

	"echo-client/internal/api"
	"echo-client/internal/confirm"
	"echo-client/internal/config"
	"echo-client/internal/consent"
	"echo-client/internal/device"
	"echo-client/internal/eligibility"
	"echo-client/internal/enrich"
	"echo-client/internal/messages"
	"echo-client/internal/observability"
	"echo-client/internal/offerinfo"
	"echo-client/internal/refresher"
	"echo-client/internal/registry"
	"echo-client/internal/rpc"
	"echo-client/internal/storage"
	"echo-client/internal/transport"
)

// Service is the wired application: HTTP surface plus the background
// offer-table refresher.
type Service struct {
	Handler   http.Handler
	Refresher *refresher.Refresher
	store     storage.Store
	closers   []func() error
}

// Close releases the store and the analytics writers.
func (s *Service) Close() {
	for _, c := range s.closers {
		if err := c(); err != nil {
			log.Warn().Err(err).Msg("close")
		}
	}
	s.store.Close()
}

// Build wires every component from cfg.
func Build(ctx context.Context, cfg config.Config) (*Service, error) {
	store, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	svc := &Service{store: store}

	sink := observability.MultiSink{observability.PromSink{}}
	if len(cfg.Analytics.KafkaBrokers) > 0 {
		k, err := observability.NewKafkaSink(cfg.Analytics.KafkaBrokers, cfg.Analytics.KafkaTopic)
		if err != nil {
			svc.Close()
			return nil, fmt.Errorf("init analytics: %w", err)
		}
		sink = append(sink, k)
		svc.closers = append(svc.closers, k.Close)
	}

	callers, err := registry.Load(cfg.Callers.File)
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("load callers: %w", err)
	}

	client := rpc.New(transport.NewHTTPInvoker(), rpc.Options{
		APIFrontend:       cfg.Backend.APIFrontend,
		EndpointsFrontend: cfg.Backend.EndpointsFrontend,
		APIKey:            cfg.Backend.APIKey,
		Timeout:           cfg.RPCTimeout(),
	}, sink)

	dev := device.Static{
		HWID:            cfg.Device.HWID,
		Customization:   cfg.Device.CustomizationID,
		FirstActiveWeek: cfg.Device.ActivationWeek,
		CouponCode:      cfg.Device.CouponCode,
		GroupCode:       cfg.Device.GroupCode,
	}
	offers := offerinfo.New(store)

	orch := eligibility.New(eligibility.Deps{
		Checker:   client,
		Confirmer: confirm.New(client, sink, cfg.Backend.ConfirmMaxAttempts, cfg.ConfirmBackoff()),
		Enricher:  enrich.New(dev, sink),
		Device:    dev,
		Consent:   consent.Policy{Enabled: cfg.Consent.Enabled, AutoAccept: cfg.Consent.AutoAccept},
		Offers:    offers,
		Messages:  messages.New(language.English),
		Sink:      sink,
	})

	svc.Refresher = refresher.New(client, offers, dev, cfg.RefreshInterval(), cfg.Backoff())
	h := api.NewMessageHandler(orch, offers, dev, callers, svc.Refresher, sink)
	svc.Handler = api.Router(h, cfg.RequestTimeout())
	return svc, nil
}

func Run(cfg config.Config) {
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := Build(rootCtx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init service")
	}
	defer svc.Close()

	// WriteTimeout covers the full eligibility flow, confirm retries included.
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      svc.Handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: cfg.RequestTimeout() + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Offer table refresher
	go svc.Refresher.Run(rootCtx)

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Str("store", cfg.Store.Driver).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server crashed")
		}
	}()

	waitForSignal()
	log.Info().Msg("shutdown...")

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	cancel() // stop background goroutines
	_ = srv.Shutdown(shCtx)
}

func waitForSignal() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}

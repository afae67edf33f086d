package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/skobelev/autostars/internal/domain/fulfillment"
	"github.com/skobelev/autostars/internal/domain/order"
	"github.com/skobelev/autostars/internal/fragment"
	"github.com/skobelev/autostars/internal/marketplace"
	"github.com/skobelev/autostars/internal/pricefeed"
	"github.com/skobelev/autostars/internal/storage/memory"
	"github.com/skobelev/autostars/internal/tonwallet"
	"github.com/skobelev/autostars/pkg/health"
	"github.com/skobelev/autostars/pkg/ratelimit"
)

// Fulfilled-order guard sizing: generous for a single bot's lifetime, and a
// false positive only skips a never-fulfilled order.
const (
	fulfilledCapacity = 500_000
	fulfilledFPRate   = 1e-6
)

// Run creates all dependencies, starts the event stream, the fulfillment
// worker, and the ops listener, and handles graceful shutdown. It is the
// single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	ctx = zctx.Base(ctx, lg)
	lg.Info("Initializing", zap.String("connector", cfg.Connector.BaseURL))

	// Connector gateway.
	gateway := marketplace.NewClient(marketplace.ClientConfig{
		BaseURL: cfg.Connector.BaseURL,
		Token:   cfg.Connector.Token,
		Timeout: cfg.Connector.Timeout,
	})

	// Paying wallet.
	wallet, err := tonwallet.Connect(ctx, tonwallet.Config{
		Mnemonic:         cfg.Wallet.Mnemonic,
		NetworkConfigURL: cfg.Wallet.NetworkConfigURL,
	}, lg)
	if err != nil {
		return errors.Wrap(err, "connect wallet")
	}

	// Vendor client, rate-limited client-side.
	limiter := ratelimit.New(cfg.Fragment.RateMax, cfg.Fragment.RateWindow)
	vendor := fragment.NewClient(fragment.Config{
		Hash: cfg.Fragment.Hash,
		Cookies: map[string]string{
			"stel_ssid":      cfg.Fragment.CookieSSID,
			"stel_dt":        cfg.Fragment.CookieDT,
			"stel_token":     cfg.Fragment.CookieToken,
			"stel_ton_token": cfg.Fragment.CookieTonToken,
		},
		Timeout:    cfg.Fragment.Timeout,
		ShowSender: cfg.Fragment.ShowSender,
	}, limiter, lg)

	rates := pricefeed.NewClient(pricefeed.Config{
		CoinID:   cfg.PriceFeed.CoinID,
		Currency: cfg.PriceFeed.Currency,
		Timeout:  cfg.PriceFeed.Timeout,
	})

	// Order state and the fulfillment pipeline.
	store := memory.NewOrderStore()
	fulfilled := order.NewFulfilledLog(fulfilledCapacity, fulfilledFPRate)
	queue := fulfillment.NewQueue()

	metrics, err := fulfillment.NewMetrics(m.MeterProvider().Meter("autostars"))
	if err != nil {
		return errors.Wrap(err, "create metrics")
	}

	purchaser := fulfillment.NewPurchaser(fulfillment.PurchaserDeps{
		Vendor:       vendor,
		Executor:     wallet,
		Rates:        rates,
		Decode:       fragment.DecodePayload,
		Store:        store,
		Gateway:      gateway,
		Fulfilled:    fulfilled,
		OperatorChat: cfg.OperatorChatID,
		Metrics:      metrics,
		Tracer:       m.TracerProvider().Tracer("autostars"),
		Logger:       lg,
	})
	worker := fulfillment.NewWorker(fulfillment.WorkerDeps{
		Queue:       queue,
		Store:       store,
		Purchaser:   purchaser,
		Gateway:     gateway,
		Cooldown:    cfg.Queue.Cooldown,
		PollTimeout: cfg.Queue.PollTimeout,
		Metrics:     metrics,
		Logger:      lg,
	})
	flow := order.NewFlow(order.FlowDeps{
		Store:         store,
		Gateway:       gateway,
		Resolver:      vendor,
		Queue:         queue,
		Fulfilled:     fulfilled,
		SelfID:        cfg.SelfID,
		LookupTimeout: cfg.Fragment.Timeout,
		Logger:        lg,
	})
	stream := marketplace.NewStream(gateway, flow, cfg.Connector.PollWait)

	// Ops listener: health probes only.
	healthSvc := health.New()
	healthSvc.AddReadiness("connector", 5*time.Second, gateway.Ping)
	healthSvc.AddLiveness("queue-depth", time.Second, func(context.Context) error {
		if depth := queue.Len(); depth > 100 {
			return errors.Errorf("queue backlog %d", depth)
		}
		return nil
	})
	healthSvc.Run(ctx, 15*time.Second)
	healthSvc.SetReady(true)

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	opsServer := &http.Server{
		Addr:              cfg.OpsAddr,
		Handler:           mux,
		ReadHeaderTimeout: time.Second,
	}

	// Startup notice to the operator, best effort.
	if cfg.OperatorChatID != 0 {
		notice := fmt.Sprintf("⭐ Auto Stars запущен. Кошелёк: %s", wallet.Address())
		if err := gateway.SendMessage(ctx, cfg.OperatorChatID, notice); err != nil {
			lg.Warn("Startup notice failed", zap.Error(err))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(gctx)
	})
	g.Go(func() error {
		return stream.Run(gctx)
	})
	g.Go(func() error {
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "ops server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			lg.Error("Ops server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})

	lg.Info("Running", zap.String("ops_addr", cfg.OpsAddr))
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"lotlimit-enforcer/enforcement/lotlimit"
	"lotlimit-enforcer/enforcement/lotlimit/application"
	"lotlimit-enforcer/enforcement/lotlimit/infra"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCommand() *cobra.Command {
	var noWorker bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook/admin HTTP server, the retry worker and /metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), needs{database: true, registry: true})
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(cmd.Context(), a, !noWorker)
		},
	}
	cmd.Flags().BoolVar(&noWorker, "no-worker", false, "do not run the retry worker in this process")
	return cmd
}

func serve(ctx context.Context, a *app, withWorker bool) error {
	cfg := a.cfg

	dispatcher := &application.Dispatcher{
		Ingester:       a.enforcer,
		Pool:           infra.NewChanPool(cfg.IngestMaxInFlight),
		AcquireTimeout: cfg.IngestAcquireTimeout,
		EventTimeout:   cfg.IngestEventTimeout,
		Retry:          a.queue,
		Logger:         a.logger,
	}

	throttle := lotlimit.ThrottleOptions{
		SourceHeader: cfg.WebhookSourceHeader,
		RetryAfter:   cfg.RetryAfter,
	}
	if cfg.WebhookRPS > 0 {
		throttle.Limiter = infra.NewKeyedLimiter(cfg.WebhookRPS, cfg.WebhookBurst)
	}

	router := lotlimit.NewRouter(lotlimit.Options{
		Bids:         dispatcher,
		Participants: a.enforcer,
		Registrants:  a.store,
		Cache:        a.registrants,
		Throttle:     throttle,
		Logger:       a.logger,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return listen(srv) })
	g.Go(func() error { return listen(metricsSrv) })
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = metricsSrv.Shutdown(shutdownCtx)
		// ingestões em andamento terminam antes de fechar as conexões
		dispatcher.Wait()
		return nil
	})
	if withWorker {
		w := a.worker()
		g.Go(func() error { return w.Run(gctx) })
	}

	a.logger.Info("lotguard listening",
		"addr", cfg.ListenAddr, "metrics", cfg.MetricsAddr, "worker", withWorker,
		"maxInFlight", cfg.IngestMaxInFlight, "webhookRPS", cfg.WebhookRPS)

	return g.Wait()
}

func listen(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run only the retry worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), needs{database: true, registry: true})
			if err != nil {
				return err
			}
			defer a.Close()

			return a.worker().Run(cmd.Context())
		},
	}
}

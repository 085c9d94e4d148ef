package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/signalsfoundry/safespaces/core"
	"github.com/signalsfoundry/safespaces/internal/api"
	"github.com/signalsfoundry/safespaces/internal/config"
	"github.com/signalsfoundry/safespaces/internal/logging"
	"github.com/signalsfoundry/safespaces/internal/notify"
	"github.com/signalsfoundry/safespaces/internal/observability"
	"github.com/signalsfoundry/safespaces/internal/schedule"
	"github.com/signalsfoundry/safespaces/internal/state"
	"github.com/signalsfoundry/safespaces/internal/store"
	"github.com/signalsfoundry/safespaces/model"
)

func serveCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and notification engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, newLogger(cfg))
		},
	}
	cmd.Flags().String("addr", "", "HTTP listen address")
	_ = v.BindPFlag("http.addr", cmd.Flags().Lookup("addr"))
	return cmd
}

// remoteBackend is the configured guardian delivery path.
type remoteBackend struct {
	publisher notify.RemotePublisher
	resolver  notify.EndpointResolver
	close     func()
}

func buildRemote(ctx context.Context, cfg config.NotifyConfig, log logging.Logger) (remoteBackend, error) {
	switch cfg.Backend {
	case config.BackendSNS:
		client, err := notify.NewSNSClient(ctx, cfg.SNS.Region)
		if err != nil {
			return remoteBackend{}, err
		}
		return remoteBackend{
			publisher: notify.NewSNSPublisher(client),
			resolver:  notify.NewSNSResolver(client, cfg.SNS.PlatformApplicationARN, log),
		}, nil

	case config.BackendNATS:
		pub, err := notify.DialNATS(notify.NATSConfig{URL: cfg.NATS.URL, Subject: cfg.NATS.Subject})
		if err != nil {
			return remoteBackend{}, err
		}
		return remoteBackend{publisher: pub, resolver: notify.RefResolver{}, close: pub.Close}, nil

	case config.BackendWebhook:
		pub := notify.NewWebhookPublisher(notify.WebhookConfig{
			URL:     cfg.Webhook.URL,
			Secret:  cfg.Webhook.Secret,
			Timeout: cfg.Webhook.Timeout,
		})
		return remoteBackend{publisher: pub, resolver: notify.RefResolver{}}, nil

	default:
		return remoteBackend{publisher: notify.NewLogChannel(log), resolver: notify.RefResolver{}}, nil
	}
}

func runServe(ctx context.Context, cfg config.Config, log logging.Logger) error {
	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	engineMetrics, err := observability.NewEngineCollector(reg)
	if err != nil {
		return fmt.Errorf("engine metrics: %w", err)
	}
	httpMetrics, err := observability.NewHTTPCollector(reg)
	if err != nil {
		return fmt.Errorf("http metrics: %w", err)
	}

	db, err := store.Open(ctx, store.Config{Path: cfg.Store.Path}, log)
	if err != nil {
		return err
	}
	defer db.Close()

	remote, err := buildRemote(ctx, cfg.Notify, log)
	if err != nil {
		return fmt.Errorf("notification backend %s: %w", cfg.Notify.Backend, err)
	}
	if remote.close != nil {
		defer remote.close()
	}
	resolver, err := notify.NewCachingResolver(remote.resolver, cfg.Notify.EndpointCacheSize, db, log)
	if err != nil {
		return err
	}

	feed := notify.NewFeed(cfg.Notify.FeedSize)
	dispatcher := notify.NewDispatcher(
		notify.WithLocalChannels(feed, notify.NewLogChannel(log)),
		notify.WithRemote(remote.publisher, resolver),
		notify.WithQueueSize(cfg.Notify.QueueSize),
		notify.WithWorkers(cfg.Notify.Workers),
		notify.WithRateLimit(cfg.Notify.RatePerSecond, cfg.Notify.Burst),
		notify.WithDispatcherLogger(log),
		notify.WithDispatcherMetrics(engineMetrics),
	)

	scheduler, err := schedule.NewWallClockScheduler(
		schedule.WithLogger(log),
		schedule.WithLocation(cfg.SchedulerLocation()),
	)
	if err != nil {
		return err
	}

	tracker := core.NewLocationTracker(
		core.WithMaxFixAge(cfg.Location.MaxFixAge),
		core.WithTrackerLogger(log),
	)
	engine := core.NewGeofenceEngine(tracker, dispatcher, scheduler,
		model.MonitoredPerson{Name: cfg.Person.Name, Phone: cfg.Person.Phone},
		core.WithEngineLogger(log),
		core.WithEngineMetrics(engineMetrics),
		core.WithTitle(cfg.Notify.Title),
	)
	tracker.Attach(engine)

	st := state.NewSafeSpaceState(db, engine, log)
	restored, err := st.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore zones: %w", err)
	}
	log.Info(ctx, "zones restored", logging.Int("count", restored))

	opts := []api.Option{api.WithLogger(log), api.WithHTTPMetrics(httpMetrics)}
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Addr == "" {
			opts = append(opts, api.WithMetricsHandler(engineMetrics.Handler()))
		} else {
			metricsSrv = serveMetrics(cfg.Metrics.Addr, engineMetrics, log)
		}
	}
	apiSrv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      api.NewServer(st, engine, tracker, feed, opts...).Routes(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP API", logging.String("addr", cfg.HTTP.Addr))
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			log.Error(ctx, "HTTP API exited", logging.Err(err))
		}
	}

	log.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "HTTP API shutdown", logging.Err(err))
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	if err := scheduler.Shutdown(); err != nil {
		log.Warn(shutdownCtx, "scheduler shutdown", logging.Err(err))
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "notification drain incomplete", logging.Err(err))
	}
	return nil
}

func serveMetrics(addr string, collector *observability.EngineCollector, log logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

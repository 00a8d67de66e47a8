package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"bookmirror/internal/aggregate"
	"bookmirror/internal/calendar"
	"bookmirror/internal/config"
	"bookmirror/internal/events"
	"bookmirror/internal/metrics"
	"bookmirror/internal/recurrence"
	"bookmirror/internal/routing"
	"bookmirror/internal/service"
	"bookmirror/internal/source"
)

func main() {
	_ = godotenv.Load()

	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	var (
		configPath = flag.String("config", os.Getenv("BOOKMIRROR_CONFIG_PATH"), "path to config yaml")
		startDate  = flag.String("start", "", "window start date (YYYY-MM-DD, default today)")
		days       = flag.Int("days", 0, "window length in days (default from config)")
		dryRun     = flag.Bool("dry-run", false, "log calendar actions without performing them")
		daemon     = flag.Bool("daemon", false, "run on the configured cron schedule")
		outPath    = flag.String("out", "", "export output path (default stdout)")
		format     = flag.String("format", "json", "export format: json or xlsx")
	)
	flag.Parse()

	command := flag.Arg(0)
	if command == "" {
		command = "sync"
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid timezone")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	syncer, rdb, err := buildSyncer(ctx, cfg, loc, logger, command)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build pipeline")
	}

	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8090
	}
	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	opts := service.RunOptions{
		StartOverride: *startDate,
		DaysOverride:  *days,
		DryRun:        *dryRun,
	}

	switch command {
	case "sync":
		if *daemon {
			runDaemon(ctx, syncer, cfg.Daemon.Schedule, opts, logger)
			return
		}
		if _, err := syncer.Run(ctx, opts); err != nil {
			logger.Fatal().Err(err).Msg("sync failed")
		}
	case "export":
		out := os.Stdout
		if *outPath != "" {
			f, err := os.Create(*outPath)
			if err != nil {
				logger.Fatal().Err(err).Msg("create export file")
			}
			defer f.Close()
			out = f
		}
		n, err := syncer.Export(ctx, out, *format, opts)
		if err != nil {
			logger.Fatal().Err(err).Msg("export failed")
		}
		logger.Info().Int("records", n).Msg("export written")
	case "purge":
		n, err := syncer.Purge(ctx, opts)
		if err != nil {
			logger.Fatal().Err(err).Msg("purge failed")
		}
		logger.Info().Int("deleted", n).Msg("purge finished")
	default:
		logger.Fatal().Str("command", command).Msg("unknown command (want sync, export or purge)")
	}
}

func buildSyncer(ctx context.Context, cfg *config.Config, loc *time.Location, logger zerolog.Logger, command string) (*service.Syncer, *redis.Client, error) {
	src := source.NewClient(source.Config{
		Host:      cfg.Source.Host,
		APIKey:    cfg.Source.APIKey,
		APISecret: cfg.Source.APISecret,
		Timeout:   cfg.SourceTimeout(),
	}, loc, &logger)

	var rdb *redis.Client
	if cfg.Redis.Address != "" && cfg.CacheTTL() > 0 {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		src.UseRedisCache(rdb, cfg.CacheTTL())
	}

	customers := source.NewCustomerCache(src.GetCustomer)
	builder := aggregate.NewBuilder(src, customers, recurrence.NewExpander(loc), &logger)
	projector := aggregate.NewProjector(&cfg.TimeRules, cfg.Rollups.GroupMetaKey, cfg.Rollups.EmailMetaKey)
	routes := routing.NewTable(cfg.Calendar)

	// Export never touches the calendar API, so credentials are optional
	// for it.
	var api calendar.EventsAPI
	if command != "export" {
		client, err := calendar.NewClient(ctx, cfg.Calendar.CredentialsFile, cfg.Calendar.RatePerSecond, cfg.Calendar.Burst)
		if err != nil {
			return nil, nil, err
		}
		api = client
	}

	bus := events.NewEventBus()
	bus.Subscribe(events.TypeRunFailed, func(ev events.Event) error {
		logger.Error().Str("run_id", ev.RunID).Str("error", ev.Fields["error"]).Msg("run failed")
		return nil
	})
	builder.UseBus(bus)

	return service.NewSyncer(cfg, loc, builder, projector, routes, api, bus, logger), rdb, nil
}

func runDaemon(ctx context.Context, syncer *service.Syncer, schedule string, opts service.RunOptions, logger zerolog.Logger) {
	if schedule == "" {
		schedule = "0 * * * *"
	}
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if _, err := syncer.Run(ctx, opts); err != nil {
			logger.Error().Err(err).Msg("scheduled sync failed")
		}
	})
	if err != nil {
		logger.Fatal().Err(err).Str("schedule", schedule).Msg("invalid cron schedule")
	}
	c.Start()
	logger.Info().Str("schedule", schedule).Msg("daemon started")

	<-ctx.Done()
	stopCtx := c.Stop()
	<-stopCtx.Done()
	logger.Info().Msg("daemon stopped")
}

func startHealthServer(ctx context.Context, port int, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if rdb != nil {
			ctxPing, cancel := context.WithTimeout(ctx, time.Second)
			defer cancel()
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}

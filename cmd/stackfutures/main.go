package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"StackFutures/internal/config"
	"StackFutures/internal/engine"
	"StackFutures/internal/event"
	"StackFutures/internal/navcache"
	"StackFutures/internal/observability"
	"StackFutures/internal/persistence"
	"StackFutures/internal/publish"
	"StackFutures/internal/server"
	"StackFutures/internal/service"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file (optional)")
	migrationsDir := flag.String("migrations", "migrations", "path to SQL migrations")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := observability.NewLoggerWithLevel("stackfutures", level)
	log.Info().Msg("stackfutures starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("postgres ping")
	}
	log.Info().Msg("postgres connected")

	if cfg.Postgres.RunMigrations {
		migrator := persistence.NewMigrator(db, *migrationsDir, log)
		if err := migrator.Up(ctx); err != nil {
			log.Fatal().Err(err).Msg("run migrations")
		}
		log.Info().Msg("migrations applied")
	}

	// --- Sequence recovery ---
	// The event log is the durable record; numbering resumes after the
	// highest persisted sequence.
	writer := persistence.NewEventLogWriter(db)
	lastSeq, err := writer.LastSequence(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("read last sequence")
	}
	startSequence := lastSeq + 1
	log.Info().Int64("start_sequence", startSequence).Msg("sequence recovered")

	// --- Observability ---
	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker()

	// --- Channels ---
	// Persist sends block (backpressure), publish sends drop on full.
	persistChan := make(chan service.Output, cfg.Engine.PersistChanCap)
	publishChan := make(chan service.Output, cfg.Engine.PublishChanCap)
	outboundChan := make(chan service.Output, cfg.Engine.PublishChanCap)

	// --- Service ---
	svc := service.New(engine.SystemClock{}, startSequence, persistChan, publishChan, metrics, log)

	// --- NATS ---
	nc, err := nats.Connect(cfg.NATS.URL, nats.Name("stackfutures"))
	if err != nil {
		log.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		log.Fatal().Err(err).Msg("jetstream init")
	}
	if err := publish.EnsureStream(ctx, js, cfg.NATS.Stream, cfg.NATS.SubjectPrefix); err != nil {
		log.Fatal().Err(err).Msg("ensure outbound stream")
	}
	log.Info().Str("url", cfg.NATS.URL).Msg("nats connected")

	// --- NAV cache (optional) ---
	var cache *navcache.Cache
	if cfg.Redis.Addr != "" {
		cache, err = navcache.New(ctx, navcache.Config{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TTL:        cfg.Redis.TTL.Duration,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("nav cache connect")
		}
		defer cache.Close()
		log.Info().Str("addr", cfg.Redis.Addr).Msg("nav cache connected")
	}

	// --- API server ---
	apiServer := server.New(cfg.Server.ListenAddr, cfg.Server.CORSOrigins, svc, health, metrics, log)

	// --- Start goroutines ---
	errChan := make(chan error, 8)

	// 1. Persistence worker
	persistWorker := persistence.NewWorker(db, persistChan, cfg.Engine.PersistBatchSize, cfg.Engine.PersistFlush.Duration, metrics, log)
	go func() {
		errChan <- persistWorker.Run(ctx)
	}()

	// 2. Publish bridge: fan committed events out to NATS and keep the NAV
	// cache warm.
	go func() {
		runPublishBridge(ctx, publishChan, outboundChan, cache, metrics, log)
	}()

	// 3. Outbound publisher
	publisher := publish.NewOutboundPublisher(js, cfg.NATS.SubjectPrefix, outboundChan, log)
	go func() {
		errChan <- publisher.Run(ctx)
	}()

	// 4. Inbound NAV feed (optional)
	var navSub *publish.NavSubscriber
	if len(cfg.NATS.NavSubjects) > 0 {
		if err := publish.EnsureNavStream(ctx, js, cfg.NATS.NavStream, cfg.NATS.NavSubjects); err != nil {
			log.Fatal().Err(err).Msg("ensure nav stream")
		}
		navSub = publish.NewNavSubscriber(js, svc, log)
		if err := navSub.Subscribe(ctx, cfg.NATS.NavStream, cfg.NATS.NavSubjects); err != nil {
			log.Fatal().Err(err).Msg("nav subscribe")
		}
	}

	// 5. API server
	go func() {
		errChan <- apiServer.Run(ctx)
	}()

	// 6. Prometheus metrics server
	go func() {
		errChan <- runMetricsServer(ctx, cfg.Server.MetricsAddr, log)
	}()

	// 7. Channel gauge sampler
	go func() {
		sampleChannels(ctx, metrics, persistChan, publishChan, outboundChan, cfg.Engine.PersistChanCap, cfg.Engine.PublishChanCap)
	}()

	health.SetReady(true)
	log.Info().
		Int64("sequence", startSequence).
		Str("api", cfg.Server.ListenAddr).
		Str("metrics", cfg.Server.MetricsAddr).
		Msg("stackfutures ready")

	// --- Wait for shutdown ---
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("goroutine failed, shutting down")
		}
	}

	health.SetReady(false)
	cancel()

	if navSub != nil {
		navSub.Stop()
	}

	// Give the persistence worker time to flush its final batch.
	time.Sleep(500 * time.Millisecond)
	log.Info().Msg("stackfutures shutdown complete")
}

// runPublishBridge forwards committed events to the NATS publisher and
// mirrors validated NAV prints into the Redis cache. Forwarding is
// non-blocking: the Postgres event log is the source of truth, so a slow
// publisher costs events on this path, never correctness.
func runPublishBridge(
	ctx context.Context,
	in <-chan service.Output,
	out chan<- service.Output,
	cache *navcache.Cache,
	metrics *observability.Metrics,
	log zerolog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case output, ok := <-in:
			if !ok {
				return
			}

			if cache != nil {
				if nav, isNav := output.Event.(*event.NavPosted); isNav {
					cacheCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
					if err := cache.Set(cacheCtx, nav.MarketID, nav.Nav, nav.Ts); err != nil {
						log.Warn().Err(err).Str("market", nav.MarketID).Msg("nav cache update failed")
					}
					cancel()
				}
			}

			select {
			case out <- output:
			default:
				metrics.PublishDrops.Inc()
			}
		}
	}
}

func runMetricsServer(ctx context.Context, addr string, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	log.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// sampleChannels exports channel depth gauges every second.
func sampleChannels(
	ctx context.Context,
	metrics *observability.Metrics,
	persistChan, publishChan, outboundChan chan service.Output,
	persistCap, publishCap int,
) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetChannelMetrics("persist", len(persistChan), persistCap)
			metrics.SetChannelMetrics("publish", len(publishChan), publishCap)
			metrics.SetChannelMetrics("outbound", len(outboundChan), publishCap)
		}
	}
}

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

	rediscache "StableLedger/internal/cache/redis"
	"StableLedger/internal/config"
	"StableLedger/internal/core"
	"StableLedger/internal/ingestion"
	"StableLedger/internal/observability"
	"StableLedger/internal/persistence"
	"StableLedger/internal/price"
	"StableLedger/internal/projection"
	"StableLedger/internal/query"
	"StableLedger/internal/server"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	fs := flag.NewFlagSet("stableledger", flag.ExitOnError)
	rebuild := fs.Bool("rebuild-projections", false, "truncate projections and rebuild them from the event log")
	cfg, err := config.LoadFromFlags(fs, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLoggerWithLevel("main", observability.ParseLogLevel(cfg.LogLevel))
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	if err := run(cfg, *rebuild, logger); err != nil {
		logger.Fatal().Err(err).Msg("stableledger stopped")
	}
	logger.Info().Msg("shutdown complete")
}

func run(cfg *config.Config, rebuild bool, logger zerolog.Logger) error {
	logger.Info().Msg("stableledger starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	health := observability.NewHealthChecker()

	// --- Postgres ---
	db, err := openDB(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()
	health.AddProbe("postgres", db.PingContext)
	logger.Info().Msg("postgres connected")

	if cfg.Postgres.RunMigrations {
		migrator := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir, logger.With().Str("component", "migrator").Logger())
		if err := migrator.Up(ctx); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	// --- Redis (optional) ---
	var (
		prices      price.Source = price.NewStaticSource(price.RawPrice{})
		readCache   query.Cache
		invalidator projection.Invalidator
	)
	if cfg.Redis.Addr != "" {
		rc, err := rediscache.New(ctx, rediscache.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return err
		}
		defer rc.Close()
		health.AddProbe("redis", rc.Ping)

		cache := rediscache.NewReadCache(rc, cfg.Redis.ReadTTL.Duration)
		readCache, invalidator = cache, cache
		prices = rediscache.NewPriceCache(rc, cfg.Redis.PriceAsset)
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("redis connected")
	} else {
		logger.Warn().Msg("redis disabled: no price feed, instructions must carry their price")
	}

	// --- Projections ---
	if rebuild {
		if err := projection.Reset(ctx, db); err != nil {
			return err
		}
		logger.Info().Msg("projections reset")
	}
	watermark, err := projection.Watermark(ctx, db)
	if err != nil {
		return fmt.Errorf("projection watermark: %w", err)
	}

	// --- Core + recovery ---
	persistCh := make(chan core.CoreOutput, cfg.Core.PersistChanSize)
	projectionCh := make(chan core.CoreOutput, cfg.Core.ProjectionChanSize)
	committedCh := make(chan core.CoreOutput, cfg.Core.PersistChanSize)
	submitCh := make(chan core.Submission, cfg.Core.SubmitQueueSize)

	coreLogger := logger.With().Str("component", "core").Logger()
	settlement := core.NewSettlementCore(cfg.CoreParams(), persistCh, projectionCh, nil, metrics)

	snapshots := persistence.NewSnapshotManager(db)
	dedup := persistence.NewPostgresIdempotencyChecker(db, cfg.Persistence.DedupTimeout.Duration)
	projLogger := logger.With().Str("component", "projection").Logger()

	rec := &recovery{
		snapshots: snapshots,
		dedup:     dedup,
		projector: projection.NewProjectionWorker(db, nil, invalidator, metrics, projLogger),
		metrics:   metrics,
		logger:    logger.With().Str("component", "recovery").Logger(),
		batchSize: cfg.Persistence.ReplayBatchSize,
		warmKeys:  cfg.Persistence.WarmIdempotencyLRU,
		rebuild:   rebuild,
		watermark: watermark,
	}
	if err := rec.run(ctx, settlement); err != nil {
		return fmt.Errorf("recovery: %w", err)
	}

	runner := core.NewRunner(settlement, submitCh, cfg.Persistence.SnapshotInterval,
		snapshotFunc(snapshots, metrics), coreLogger)

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, logger.With().Str("component", "nats").Logger())
	if err != nil {
		return err
	}
	defer nc.Close()
	health.AddProbe("nats", func(context.Context) error {
		if !nc.IsConnected() {
			return errors.New("not connected")
		}
		return nil
	})
	if err := ingestion.EnsureStreams(ctx, js, cfg.NATS.Stream, cfg.NATS.ReceiptsPrefix); err != nil {
		return err
	}
	logger.Info().Str("url", cfg.NATS.URL).Msg("NATS connected")

	// --- Workers ---
	// Workers outlive ingestion so everything the core emitted is flushed.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	workers, workerCtx := errgroup.WithContext(workerCtx)

	acks := ingestion.NewAckTracker()
	persistWorker := persistence.NewPersistenceWorker(db, persistCh, committedCh,
		cfg.Persistence.BatchSize, cfg.Persistence.FlushTimeout.Duration, metrics,
		logger.With().Str("component", "persistence").Logger())
	projWorker := projection.NewProjectionWorker(db, projectionCh, invalidator, metrics, projLogger)
	publisher := ingestion.NewOutboundPublisher(js, committedCh, cfg.NATS.ReceiptsPrefix, acks, metrics,
		logger.With().Str("component", "publisher").Logger())

	workers.Go(func() error {
		defer close(committedCh)
		return ignoreCanceled(persistWorker.Run(workerCtx))
	})
	workers.Go(func() error { return ignoreCanceled(projWorker.Run(workerCtx)) })
	workers.Go(func() error { return ignoreCanceled(publisher.Run(workerCtx)) })

	// --- Ingestion + serving ---
	front, frontCtx := errgroup.WithContext(ctx)

	runnerDone := make(chan struct{})
	front.Go(func() error {
		defer close(runnerDone)
		return ignoreCanceled(runner.Run(frontCtx))
	})

	subscriber := ingestion.NewNATSSubscriber(js, submitCh, prices, acks, metrics,
		logger.With().Str("component", "ingestion").Logger())
	if err := subscriber.Subscribe(frontCtx, ingestion.DefaultSubscriberConfig(cfg.NATS.Stream)); err != nil {
		return err
	}

	ingest := ingestion.NewGRPCIngestService(submitCh, prices, metrics, logger.With().Str("component", "rpc").Logger())
	queries := query.NewQueryService(db, readCache, prices, metrics, logger.With().Str("component", "query").Logger())
	srv := server.NewGRPCServer(cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, &server.ServerDeps{
		Submitter:     ingest,
		Reader:        queries,
		EventLog:      snapshots,
		HealthChecker: health,
		Logger:        logger.With().Str("component", "server").Logger(),
	})
	front.Go(func() error { return srv.StartGRPC(frontCtx) })
	if cfg.Server.HTTPAddr != "" {
		front.Go(func() error { return srv.StartHTTPGateway(frontCtx) })
	}
	if cfg.Server.MetricsAddr != "" {
		front.Go(func() error { return serveMetrics(frontCtx, cfg.Server.MetricsAddr, logger) })
	}

	health.SetReady(true)
	srv.SetServing(true)
	logger.Info().
		Int64("next_sequence", settlement.GetSequence()).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Str("metrics", cfg.Server.MetricsAddr).
		Msg("stableledger ready")

	// --- Shutdown ---
	<-frontCtx.Done()
	logger.Info().Msg("shutting down")
	health.SetReady(false)
	subscriber.Stop()

	frontErr := front.Wait()
	<-runnerDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// The runner has stopped, so the core is safe to read here.
	if err := runner.Snapshot(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	}

	close(persistCh)
	close(projectionCh)
	go func() {
		<-shutdownCtx.Done()
		stopWorkers()
	}()
	if err := workers.Wait(); err != nil {
		logger.Error().Err(err).Msg("worker stopped with error")
	}
	if pending := acks.Pending(); pending > 0 {
		logger.Warn().Int("pending_acks", pending).Msg("unacked messages will be redelivered")
	}

	if frontErr != nil && !errors.Is(frontErr, context.Canceled) {
		return frontErr
	}
	return nil
}

func openDB(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}

// snapshotFunc persists a captured core state. The snapshot is verified
// against the event log on the next startup.
func snapshotFunc(sm *persistence.SnapshotManager, metrics *observability.Metrics) core.SnapshotFunc {
	return func(ctx context.Context, snap *core.SnapshotState) error {
		start := time.Now()
		size, err := sm.SaveSnapshot(ctx, persistence.SnapshotFromCore(snap))
		if err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
		metrics.SnapshotTaken.Inc()
		metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		metrics.SnapshotSizeBytes.Set(float64(size))
		metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
		return nil
	}
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	s := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

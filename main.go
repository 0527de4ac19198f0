package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"alumni-forms/common"
	"alumni-forms/config"
	"alumni-forms/idempotency"
	"alumni-forms/intake"
	"alumni-forms/logger"
	"alumni-forms/metrics"
	"alumni-forms/notify"
	"alumni-forms/sheets"
)

const (
	redisPrefix      = "alumni_forms:"
	shutdownTimeout  = 15 * time.Second
	claimLeaseMargin = 10 * time.Second
)

// worker is a notification queue that delivers in the background.
type worker interface {
	notify.Dispatcher
	Run(ctx context.Context) error
}

func main() {
	cfg := config.Load(".env")
	cfg.AddFlags(pflag.CommandLine)
	pflag.Parse()

	log, err := logger.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) (err error) {
	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer multierr.AppendInvoke(&err, multierr.Close(rdb))
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		log.Info("connected to Redis", zap.String("addr", cfg.RedisAddr))
	}

	stores, err := buildStores(ctx, cfg, rdb, log)
	if err != nil {
		return err
	}

	// A pending claim outlives the longest possible persist by a small margin.
	lease := cfg.PersistTimeout + claimLeaseMargin
	var guard idempotency.Guard
	if rdb != nil {
		guard = idempotency.NewRedisGuard(rdb, redisPrefix+"idempotency:", cfg.IdempotencyTTL, lease)
	} else {
		mg := idempotency.NewMemoryGuard(cfg.IdempotencyTTL, lease)
		defer mg.Stop()
		guard = mg
	}

	notifier, err := buildNotifier(ctx, cfg, log)
	if err != nil {
		return err
	}
	var queue worker
	if rdb != nil {
		queue = notify.NewRedisQueue(rdb, redisPrefix+"notifications", notifier, log.Named("notify"))
	} else {
		queue = notify.NewMemoryQueue(cfg.NotificationQueueSize, notifier, log.Named("notify"))
	}

	hcfg := intake.Config{
		Stores:         stores,
		Guard:          guard,
		Dispatcher:     queue,
		Recipient:      cfg.NotificationEmail,
		Location:       loc,
		PersistTimeout: cfg.PersistTimeout,
	}
	if cfg.JournalPath != "" {
		journal, jerr := logger.NewFileLogger(cfg.JournalPath)
		if jerr != nil {
			return jerr
		}
		defer multierr.AppendInvoke(&err, multierr.Close(journal))
		hcfg.Journal = journal
	}

	metrics.Register(prometheus.DefaultRegisterer)
	limiter := intake.NewRateLimiter(cfg.RateLimitPerMin)

	gin.SetMode(gin.ReleaseMode)
	router, err := intake.NewRouter(intake.NewHandler(hcfg, log.Named("intake")), intake.RouterConfig{
		AllowedOrigin:   cfg.AllowedOrigin,
		AllowedNetworks: cfg.AllowedNetworks,
		TrustedProxies:  cfg.TrustedProxies,
		MaxBodyBytes:    cfg.MaxBodyBytes,
		RateLimiter:     limiter,
		MetricsHandler:  metrics.Handler(prometheus.DefaultGatherer),
	}, log.Named("http"))
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// The queue outlives the server so requests still in flight during
	// shutdown can hand off their notifications.
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting server", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		stopWorker()
		return err
	})
	g.Go(func() error { return queue.Run(workerCtx) })
	g.Go(func() error { return limiter.Run(gctx, 5*time.Minute) })

	return g.Wait()
}

func buildStores(ctx context.Context, cfg config.Config, rdb *redis.Client, log *zap.Logger) (map[common.Kind]intake.Store, error) {
	var backend sheets.Backend
	switch cfg.StoreBackend {
	case config.BackendSheets:
		b, err := sheets.NewGoogleSheetsBackend(ctx, cfg.CredentialsPath, cfg.ShareSpreadsheetsWith, log.Named("sheets"))
		if err != nil {
			return nil, err
		}
		backend = b
	default:
		log.Warn("using in-memory store; submissions are lost on restart")
		backend = sheets.NewMemoryBackend()
	}

	var ids sheets.IDStore = sheets.NewMemoryIDStore()
	if rdb != nil {
		ids = sheets.NewRedisIDStore(rdb, redisPrefix+"store_id:")
	}

	configured := map[common.Kind]string{
		common.KindContact:       cfg.ContactSpreadsheetID,
		common.KindParticipation: cfg.ParticipationSheetID,
	}
	stores := make(map[common.Kind]intake.Store, len(configured))
	for kind, id := range configured {
		schema := common.SchemaFor(kind)
		stores[kind] = sheets.NewProvisioner(backend, ids, sheets.ProvisionerConfig{
			IDKey:        string(kind),
			ConfiguredID: id,
			Title:        schema.Title,
			Header:       schema.Header(),
		}, log.Named("sheets"))
	}
	return stores, nil
}

func buildNotifier(ctx context.Context, cfg config.Config, log *zap.Logger) (notify.Notifier, error) {
	if cfg.Notifier == config.NotifierLog {
		return notify.NewLogNotifier(log.Named("mail")), nil
	}
	return notify.NewGmailNotifier(ctx, cfg.CredentialsPath, cfg.GmailSender)
}

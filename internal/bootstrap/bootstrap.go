// Package bootstrap wires every shared dependency — database pool, queue
// backend, object store, cache tiers, metrics registry — once per process
// and hands the assembled Services struct to whichever cmd entrypoint
// needs it. Each of the three processes (controller, worker, api) calls
// New with the same Config and uses only the fields it needs.
package bootstrap

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/sentinel-quant/nightly-compute/internal/clientcache"
	"github.com/sentinel-quant/nightly-compute/internal/config"
	"github.com/sentinel-quant/nightly-compute/internal/database"
	"github.com/sentinel-quant/nightly-compute/internal/errs"
	"github.com/sentinel-quant/nightly-compute/internal/fetcher"
	"github.com/sentinel-quant/nightly-compute/internal/metrics"
	"github.com/sentinel-quant/nightly-compute/internal/objectstore"
	"github.com/sentinel-quant/nightly-compute/internal/queue"
	"github.com/sentinel-quant/nightly-compute/internal/repository"
	"github.com/sentinel-quant/nightly-compute/internal/timekeeping"
	"github.com/sentinel-quant/nightly-compute/pkg/logger"
)

// Services bundles every dependency an entrypoint might need. Fields are
// exported so a cmd package can pick the subset it wires into its own
// component.
type Services struct {
	Config      *config.Config
	Log         zerolog.Logger
	DB          *database.DB
	Repo        *repository.Repository
	Queue       queue.Queue
	Clock       *timekeeping.Clock
	Fetcher     *fetcher.Client
	ObjectStore *objectstore.Store
	AliasCache  *clientcache.SQLiteCache
	SeriesCache *clientcache.SeriesCache
	Metrics     *metrics.Registry
	MetricsReg  *prometheus.Registry
}

// New builds every shared dependency from cfg, running migrations on the
// database connection before returning. Each sub-construction failure
// aborts startup immediately rather than leaving a partially wired process
// running against a dependency it can't reach.
func New(ctx context.Context, cfg *config.Config) (*Services, error) {
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})

	clock, err := timekeeping.New(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("build clock: %w", err)
	}

	db, err := database.New(ctx, database.Config{
		DSN:          cfg.DatabaseDSN,
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	aliasCache, err := clientcache.OpenSQLiteCache("client_cache.db")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open alias cache: %w", err)
	}

	seriesCache := clientcache.NewSeriesCache(cfg.RedisAddr, 0)

	repo := repository.New(db.Conn(), log).
		WithAliasCache(aliasCache).
		WithSeriesCache(seriesCache)

	q, err := buildQueue(ctx, cfg, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	fetch := fetcher.New(fetcher.Config{
		BaseURL:           cfg.ProviderBaseURL,
		RequestsPerSecond: cfg.ProviderRequestsPerSec,
		Burst:             int(cfg.ProviderRequestsPerSec),
	}, log)

	objStore, err := buildObjectStore(ctx, cfg, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	metricsRegistry := metrics.New()
	metricsRegistry.MustRegister(reg)

	return &Services{
		Config:      cfg,
		Log:         log,
		DB:          db,
		Repo:        repo,
		Queue:       q,
		Clock:       clock,
		Fetcher:     fetch,
		ObjectStore: objStore,
		AliasCache:  aliasCache,
		SeriesCache: seriesCache,
		Metrics:     metricsRegistry,
		MetricsReg:  reg,
	}, nil
}

func buildQueue(ctx context.Context, cfg *config.Config, log zerolog.Logger) (queue.Queue, error) {
	switch cfg.QueueBackend {
	case "sqs":
		if cfg.SQSQueueURL == "" {
			return nil, errs.ConfigMissing("SQS_QUEUE_URL")
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config for sqs: %w", err)
		}
		client := sqs.NewFromConfig(awsCfg)
		return queue.NewSQSQueue(client, cfg.SQSQueueURL, cfg.SQSDeadLetterURL, cfg.MaxAttempts, log), nil
	case "memory", "":
		return queue.NewMemoryQueue(log), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
	}
}

func buildObjectStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*objectstore.Store, error) {
	if cfg.S3Bucket == "" {
		return nil, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config for s3: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	return objectstore.New(client, cfg.S3Bucket, log), nil
}

// Close releases every resource that needs explicit shutdown. Safe to call
// on a partially built Services (e.g. from a deferred call right after a
// failed New).
func (s *Services) Close() {
	if s == nil {
		return
	}
	if s.DB != nil {
		s.DB.Close()
	}
	if s.AliasCache != nil {
		s.AliasCache.Close()
	}
	if s.SeriesCache != nil {
		s.SeriesCache.Close()
	}
}

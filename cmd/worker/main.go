package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	_ "github.com/snowflakedb/gosnowflake"

	"github.com/ignite/list-loader/internal/audienceapi"
	"github.com/ignite/list-loader/internal/checkpoint"
	"github.com/ignite/list-loader/internal/config"
	"github.com/ignite/list-loader/internal/dedup"
	"github.com/ignite/list-loader/internal/importer"
	"github.com/ignite/list-loader/internal/notify"
	"github.com/ignite/list-loader/internal/ratelimit"
	"github.com/ignite/list-loader/internal/source"
	"github.com/ignite/list-loader/internal/suppression"
	"github.com/ignite/list-loader/internal/worker"
)

func main() {
	log.Println("Starting list-loader import worker...")

	// Load configuration
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Postgres holds the job queue and doubles as a record source.
	dsn := cfg.Database.DSN()
	if !cfg.Database.Enabled {
		log.Println("Using default local database; set DATABASE_URL or database.url to override")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Configure connection pool
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	err = db.PingContext(pingCtx)
	pingCancel()
	if err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Println("Connected to database")

	jobs := worker.NewJobStore(db)

	schemaCtx, schemaCancel := context.WithTimeout(ctx, 10*time.Second)
	err = jobs.EnsureSchema(schemaCtx)
	schemaCancel()
	if err != nil {
		log.Fatalf("Failed to ensure job queue schema: %v", err)
	}

	store, err := checkpoint.NewStore(cfg.Checkpoint.Dir, cfg.Checkpoint.MaxPerSession)
	if err != nil {
		log.Fatalf("Failed to open checkpoint store: %v", err)
	}
	log.Printf("Checkpoint store at %s", cfg.Checkpoint.Dir)

	// Redis carries live session state and the cross-host session lock.
	// Without it the worker falls back to Postgres advisory locks.
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		redisCtx, redisCancel := context.WithTimeout(ctx, 2*time.Second)
		err = redisClient.Ping(redisCtx).Err()
		redisCancel()
		if err != nil {
			log.Printf("WARNING: redis ping failed, using advisory locks: %v", err)
			redisClient.Close()
			redisClient = nil
		} else {
			log.Printf("Connected to redis at %s", cfg.Redis.Addr)
			defer redisClient.Close()
		}
	}

	// Snowflake warehouse sources
	var sfDB *sql.DB
	if cfg.Snowflake.Enabled {
		sfDB, err = sql.Open("snowflake", cfg.Snowflake.DSN())
		if err != nil {
			log.Fatalf("Failed to open snowflake connection: %v", err)
		}
		defer sfDB.Close()
		sfDB.SetMaxOpenConns(5)
		sfDB.SetConnMaxLifetime(30 * time.Minute)
		log.Printf("Snowflake sources enabled (account %s)", cfg.Snowflake.Account)
	}

	// S3 object sources
	s3Client, err := source.NewS3Client(ctx, cfg.AWS.Region, cfg.AWS.GetProfile())
	if err != nil {
		log.Printf("WARNING: AWS config unavailable, s3 sources disabled: %v", err)
		s3Client = nil
	}

	// Audience service client
	if cfg.Audience.BaseURL == "" {
		log.Fatal("audience.base_url is required (set AUDIENCE_BASE_URL)")
	}
	client := audienceapi.NewClient(audienceapi.Config{
		BaseURL:           cfg.Audience.BaseURL,
		APIKey:            cfg.Audience.APIKey,
		AccountID:         cfg.Audience.AccountID,
		ListID:            cfg.Audience.ListID,
		OAuthClientID:     cfg.Audience.OAuth.ClientID,
		OAuthClientSecret: cfg.Audience.OAuth.ClientSecret,
		OAuthTokenURL:     cfg.Audience.OAuth.TokenURL,
		OAuthScopes:       cfg.Audience.OAuth.Scopes,
		Timeout:           cfg.Audience.Timeout(),
	})

	// An unreachable service is not fatal here: jobs retry with
	// classified backoff once submission actually starts.
	apiCtx, apiCancel := context.WithTimeout(ctx, 10*time.Second)
	err = client.Ping(apiCtx)
	apiCancel()
	if err != nil {
		log.Printf("WARNING: audience service ping failed: %v", err)
	} else {
		log.Printf("Audience service reachable at %s", cfg.Audience.BaseURL)
	}

	// With Redis, all workers draw from one shared token budget for the
	// account; without it each process paces itself.
	var limiter ratelimit.Admitter
	if redisClient != nil {
		account := cfg.Audience.AccountID
		if account == "" {
			account = cfg.Audience.ListID
		}
		limiter = ratelimit.NewDistributed(redisClient, account,
			cfg.Pipeline.RateLimitPerSecond, cfg.Pipeline.RateLimitBurst)
		log.Printf("Rate limit shared via redis (account %s)", account)
	} else {
		limiter = ratelimit.NewLimiter(cfg.Pipeline.RateLimitPerSecond, cfg.Pipeline.RateLimitBurst)
	}

	checker, err := buildSuppression(ctx, cfg, redisClient)
	if err != nil {
		log.Fatalf("Failed to build suppression checker: %v", err)
	}
	if checker != nil {
		log.Printf("Suppression checks enabled (%s backend)", cfg.Suppression.Backend)
	}

	notifier, err := notify.New(ctx, notify.Config{
		Enabled:   cfg.Notify.Enabled,
		Region:    cfg.Notify.Region,
		AccessKey: cfg.Notify.AccessKey,
		SecretKey: cfg.Notify.SecretKey,
		From:      cfg.Notify.From,
		To:        cfg.Notify.To,
	})
	if err != nil {
		log.Fatalf("Failed to build notifier: %v", err)
	}

	w, err := worker.New(worker.Config{
		PollInterval:      cfg.Worker.PollInterval(),
		HeartbeatInterval: cfg.Worker.HeartbeatInterval(),
		StuckAfter:        cfg.Worker.StuckAfter(),
		MaxJobRetries:     cfg.Worker.MaxJobRetries,
		LockTTL:           cfg.Worker.LockTTL(),
		Pipeline:          pipelineOptions(cfg),
	}, worker.Deps{
		Jobs:        jobs,
		Checkpoints: store,
		Submitter:   importer.NewAPISubmitter(client, true),
		Limiter:     limiter,
		Suppression: checker,
		Sources:     worker.NewSourceFactory(db, sfDB, s3Client),
		Redis:       redisClient,
		DB:          db,
		AfterRun: func(job *worker.Job, summary *importer.Summary) {
			// Shutdown cancels ctx before the final run reports, so the
			// notification gets its own deadline.
			nctx, ncancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer ncancel()
			notifier.SessionConcluded(nctx, summary, job.SourceType)
		},
	})
	if err != nil {
		log.Fatalf("Failed to build worker: %v", err)
	}

	go func() {
		if err := w.Start(ctx); err != nil && ctx.Err() == nil {
			log.Fatalf("Worker error: %v", err)
		}
	}()

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				log.Println("Worker heartbeat - still running")
			}
		}
	}()

	log.Println("Worker started. Press Ctrl+C to stop.")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")
	cancel()

	// Give the running session time to checkpoint and release its job.
	time.Sleep(2 * time.Second)
	log.Println("Worker stopped")
}

// pipelineOptions maps file config onto the per-session options every
// job run starts from.
func pipelineOptions(cfg *config.Config) importer.Options {
	return importer.Options{
		BatchSize:        cfg.Pipeline.BatchSize,
		Concurrency:      cfg.Pipeline.Concurrency,
		MaxRetries:       cfg.Pipeline.MaxRetries,
		RetryBaseDelay:   cfg.Pipeline.RetryBaseDelay(),
		FailFast:         cfg.Pipeline.FailFast,
		DedupStrategy:    dedup.Strategy(cfg.Pipeline.DedupStrategy),
		DuplicatePolicy:  importer.DuplicatePolicy(cfg.Pipeline.DuplicatePolicy),
		AutoSaveInterval: cfg.Checkpoint.AutoSaveInterval(),
	}
}

// buildSuppression wires the configured suppression backend. An empty
// backend means records are never suppressed.
func buildSuppression(ctx context.Context, cfg *config.Config, redisClient *redis.Client) (suppression.Checker, error) {
	switch cfg.Suppression.Backend {
	case "":
		return nil, nil
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("suppression backend is redis but redis is not connected")
		}
		key := cfg.Suppression.RedisKey
		if key == "" {
			key = "import:suppression"
		}
		return suppression.NewRedisChecker(redisClient, key), nil
	case "dynamo":
		if cfg.Suppression.DynamoTable == "" {
			return nil, fmt.Errorf("suppression backend is dynamo but dynamo_table is not set")
		}
		opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AWS.Region)}
		if profile := cfg.AWS.GetProfile(); profile != "" {
			opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return suppression.NewDynamoChecker(dynamodb.NewFromConfig(awsCfg), cfg.Suppression.DynamoTable), nil
	case "file":
		if cfg.Suppression.Path == "" {
			return nil, fmt.Errorf("suppression backend is file but path is not set")
		}
		checker, err := suppression.NewMemoryCheckerFromFile(cfg.Suppression.Path)
		if err != nil {
			return nil, err
		}
		log.Printf("Loaded %d suppression entries from %s", checker.Count(), cfg.Suppression.Path)
		return checker, nil
	default:
		return nil, fmt.Errorf("unknown suppression backend %q", cfg.Suppression.Backend)
	}
}

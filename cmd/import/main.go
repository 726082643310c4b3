package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
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
	"github.com/ignite/list-loader/internal/domain"
	"github.com/ignite/list-loader/internal/importer"
	"github.com/ignite/list-loader/internal/progress"
	"github.com/ignite/list-loader/internal/ratelimit"
	"github.com/ignite/list-loader/internal/source"
	"github.com/ignite/list-loader/internal/suppression"
)

var (
	configPath  = flag.String("config", "config/config.yaml", "configuration file")
	sourceType  = flag.String("source", "csv", "source type: csv, s3, postgres, snowflake")
	csvPath     = flag.String("path", "", "CSV file path (csv source)")
	s3Bucket    = flag.String("bucket", "", "S3 bucket (s3 source)")
	s3Key       = flag.String("key", "", "S3 object key (s3 source)")
	pgTable     = flag.String("table", "", "source table (postgres source)")
	sfQuery     = flag.String("query", "", "source query (snowflake source)")
	sfLabel     = flag.String("label", "snowflake-query", "identity tag for snowflake sources (must match on resume)")
	sessionID   = flag.String("session", "", "session ID (required with -resume)")
	resume      = flag.Bool("resume", false, "resume the session from its latest checkpoint")
	batchSize   = flag.Int("batch", 0, "batch size override")
	concurrency = flag.Int("concurrency", 0, "concurrent batch limit override")
	auditPath   = flag.String("audit", "", "append progress events as JSON lines to this file")
)

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "FATAL: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ctrl+C checkpoints the session and stops; a later -resume run
	// continues from the last committed batch.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		fmt.Println("\nInterrupt received; checkpointing and stopping...")
		cancel()
	}()

	src, cleanup, err := openSource(ctx, cfg)
	if err != nil {
		fatalf("failed to open source: %v", err)
	}
	defer cleanup()
	defer src.Close()

	if cfg.Audience.BaseURL == "" {
		fatalf("audience.base_url is required (set AUDIENCE_BASE_URL)")
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

	pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
	err = client.Ping(pingCtx)
	pingCancel()
	if err != nil {
		fatalf("audience service unreachable at %s: %v", cfg.Audience.BaseURL, err)
	}

	store, err := checkpoint.NewStore(cfg.Checkpoint.Dir, cfg.Checkpoint.MaxPerSession)
	if err != nil {
		fatalf("failed to open checkpoint store: %v", err)
	}

	checker, err := buildSuppression(ctx, cfg)
	if err != nil {
		fatalf("failed to build suppression checker: %v", err)
	}

	opts := importer.Options{
		BatchSize:        cfg.Pipeline.BatchSize,
		Concurrency:      cfg.Pipeline.Concurrency,
		MaxRetries:       cfg.Pipeline.MaxRetries,
		RetryBaseDelay:   cfg.Pipeline.RetryBaseDelay(),
		FailFast:         cfg.Pipeline.FailFast,
		DedupStrategy:    dedup.Strategy(cfg.Pipeline.DedupStrategy),
		DuplicatePolicy:  importer.DuplicatePolicy(cfg.Pipeline.DuplicatePolicy),
		AutoSaveInterval: cfg.Checkpoint.AutoSaveInterval(),
	}
	if *batchSize > 0 {
		opts.BatchSize = *batchSize
	}
	if *concurrency > 0 {
		opts.Concurrency = *concurrency
	}
	if *sessionID != "" {
		opts.SessionID = *sessionID
	}

	deps := importer.Deps{
		Source:      src,
		Submitter:   importer.NewAPISubmitter(client, true),
		Limiter:     ratelimit.NewLimiter(cfg.Pipeline.RateLimitPerSecond, cfg.Pipeline.RateLimitBurst),
		Checkpoints: store,
		Suppression: checker,
	}

	var sess *importer.Session
	if *resume {
		if *sessionID == "" {
			fatalf("-resume requires -session")
		}
		cp, err := store.LoadLatest(*sessionID)
		if err != nil {
			fatalf("failed to load checkpoint: %v", err)
		}
		if cp == nil {
			fatalf("no checkpoints found for session %s", *sessionID)
		}
		sess, err = importer.NewResumedSession(deps, opts, cp)
		if err != nil {
			fatalf("cannot resume: %v", err)
		}
	} else {
		sess, err = importer.NewSession(deps, opts)
		if err != nil {
			fatalf("cannot start session: %v", err)
		}
	}

	sess.Tracker().Register("console", consoleObserver{})
	if *auditPath != "" {
		audit, err := progress.NewFileObserver(*auditPath)
		if err != nil {
			fatalf("failed to open audit file: %v", err)
		}
		defer audit.Close()
		sess.Tracker().Register("audit", audit)
	}

	fmt.Println("=========================================================")
	fmt.Println(" List Loader Import")
	fmt.Println("=========================================================")
	fmt.Printf("Session:     %s\n", sess.ID())
	fmt.Printf("Source:      %s\n", src.Identity())
	fmt.Printf("Batch size:  %d\n", opts.BatchSize)
	fmt.Printf("Concurrency: %d\n", opts.Concurrency)
	fmt.Println("---------------------------------------------------------")

	summary, err := sess.Run(ctx)
	if summary == nil {
		fatalf("import failed to start: %v", err)
	}
	if err != nil {
		fmt.Printf("Run ended early: %v\n", err)
	}

	printReport(summary)

	if summary.Status == domain.SessionCompleted {
		os.Exit(0)
	}
	if summary.Status == domain.SessionShutdown && summary.Processed < summary.Total {
		fmt.Println()
		fmt.Printf("Resume with: go run cmd/import/main.go -resume -session %s [source flags]\n", summary.SessionID)
	}
	os.Exit(1)
}

func printReport(s *importer.Summary) {
	fmt.Println()
	fmt.Println("=========================================================")
	fmt.Println(" IMPORT REPORT")
	fmt.Println("=========================================================")
	fmt.Printf("  Session:     %s\n", s.SessionID)
	fmt.Printf("  Status:      %s\n", s.Status)
	fmt.Printf("  Total:       %d\n", s.Total)
	fmt.Printf("  Processed:   %d\n", s.Processed)
	fmt.Printf("  Succeeded:   %d\n", s.Succeeded)
	fmt.Printf("  Failed:      %d\n", s.Failed)
	fmt.Printf("  Duplicates:  %d\n", s.Duplicates)
	fmt.Printf("  Suppressed:  %d\n", s.Suppressed)
	fmt.Printf("  Invalid:     %d\n", s.Invalid)
	fmt.Printf("  Malformed:   %d\n", s.Malformed)
	fmt.Printf("  Batches:     %d\n", s.Batches)
	fmt.Printf("  Duration:    %s\n", s.Duration.Round(time.Millisecond))
	if s.Duration > 0 && s.Processed > 0 {
		fmt.Printf("  Throughput:  %.1f records/s\n", float64(s.Processed)/s.Duration.Seconds())
	}
	fmt.Println("=========================================================")
}

// openSource builds the record source selected by -source. The cleanup
// closes any connection opened just for the source.
func openSource(ctx context.Context, cfg *config.Config) (source.Source, func(), error) {
	noop := func() {}
	switch *sourceType {
	case "csv":
		if *csvPath == "" {
			return nil, noop, fmt.Errorf("csv source requires -path")
		}
		f, err := os.Open(*csvPath)
		if err != nil {
			return nil, noop, err
		}
		src, err := source.NewCSVSource(f, *csvPath)
		if err != nil {
			f.Close()
			return nil, noop, err
		}
		return src, noop, nil
	case "s3":
		if *s3Bucket == "" || *s3Key == "" {
			return nil, noop, fmt.Errorf("s3 source requires -bucket and -key")
		}
		client, err := source.NewS3Client(ctx, cfg.AWS.Region, cfg.AWS.GetProfile())
		if err != nil {
			return nil, noop, err
		}
		src, err := source.NewS3Source(ctx, client, *s3Bucket, *s3Key)
		if err != nil {
			return nil, noop, err
		}
		return src, noop, nil
	case "postgres":
		if *pgTable == "" {
			return nil, noop, fmt.Errorf("postgres source requires -table")
		}
		db, err := sql.Open("postgres", cfg.Database.DSN())
		if err != nil {
			return nil, noop, err
		}
		src, err := source.NewPostgresSource(ctx, db, *pgTable)
		if err != nil {
			db.Close()
			return nil, noop, err
		}
		return src, func() { db.Close() }, nil
	case "snowflake":
		if *sfQuery == "" {
			return nil, noop, fmt.Errorf("snowflake source requires -query")
		}
		db, err := sql.Open("snowflake", cfg.Snowflake.DSN())
		if err != nil {
			return nil, noop, err
		}
		src, err := source.NewSnowflakeSource(ctx, db, *sfQuery, *sfLabel)
		if err != nil {
			db.Close()
			return nil, noop, err
		}
		return src, func() { db.Close() }, nil
	default:
		return nil, noop, fmt.Errorf("unknown source type %q", *sourceType)
	}
}

func buildSuppression(ctx context.Context, cfg *config.Config) (suppression.Checker, error) {
	switch cfg.Suppression.Backend {
	case "":
		return nil, nil
	case "redis":
		if cfg.Redis.Addr == "" {
			return nil, fmt.Errorf("suppression backend is redis but redis.addr is not set")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
		err := client.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		key := cfg.Suppression.RedisKey
		if key == "" {
			key = "import:suppression"
		}
		return suppression.NewRedisChecker(client, key), nil
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
		fmt.Printf("Loaded %d suppression entries from %s\n", checker.Count(), cfg.Suppression.Path)
		return checker, nil
	default:
		return nil, fmt.Errorf("unknown suppression backend %q", cfg.Suppression.Backend)
	}
}

// consoleObserver prints progress to stdout. The tracker throttles
// record-level events so the line rate stays readable.
type consoleObserver struct{}

func (consoleObserver) OnProgressUpdate(ev progress.Event) {
	st := ev.State
	switch ev.Type {
	case progress.EventPhaseChange:
		fmt.Printf("  phase: %s\n", st.Phase)
	case progress.EventBatchComplete:
		pct := 0.0
		if st.TotalRecords > 0 {
			pct = float64(st.ProcessedRecords) / float64(st.TotalRecords) * 100
		}
		fmt.Printf("  batch %d/%d  %d/%d records (%.1f%%)  ok=%d fail=%d dup=%d\n",
			ev.Batch, st.TotalBatches, st.ProcessedRecords, st.TotalRecords, pct,
			st.SuccessfulRecords, st.FailedRecords, st.DuplicateRecords)
	case progress.EventMilestone:
		fmt.Printf("  %s\n", ev.Message)
	case progress.EventError:
		fmt.Printf("  ERROR: %s\n", ev.Message)
	case progress.EventWarning:
		fmt.Printf("  WARNING: %s\n", ev.Message)
	}
}

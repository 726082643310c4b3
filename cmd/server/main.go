package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/list-loader/internal/api"
	"github.com/ignite/list-loader/internal/audienceapi"
	"github.com/ignite/list-loader/internal/checkpoint"
	"github.com/ignite/list-loader/internal/config"
	"github.com/ignite/list-loader/internal/worker"
)

func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: Run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	ln.Close()
	return nil
}

func extractHost(dsn string) string {
	at := strings.Index(dsn, "@")
	if at < 0 {
		return "(unknown)"
	}
	rest := dsn[at+1:]
	slash := strings.Index(rest, "/")
	if slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

func main() {
	log.Println("╔════════════════════════════════════════════════════════════╗")
	log.Println("║  List Loader API Server                                    ║")
	log.Println("║  Import job queue, session progress, and checkpoints       ║")
	log.Println("╚════════════════════════════════════════════════════════════╝")

	// Load configuration
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	host := cfg.Server.GetHost()
	if err := checkPortAvailable(host, cfg.Server.Port); err != nil {
		log.Fatalf("Port check failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Postgres backs the job queue.
	dsn := cfg.Database.DSN()
	if !cfg.Database.Enabled {
		log.Println("Using default local database; set DATABASE_URL or database.url to override")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
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
		log.Fatalf("Failed to ping database at %s: %v", extractHost(dsn), err)
	}
	log.Printf("Connected to database at %s", extractHost(dsn))

	jobs := worker.NewJobStore(db)

	schemaCtx, schemaCancel := context.WithTimeout(ctx, 10*time.Second)
	err = jobs.EnsureSchema(schemaCtx)
	schemaCancel()
	if err != nil {
		log.Fatalf("Failed to ensure job queue schema: %v", err)
	}
	log.Println("Job queue schema ensured")

	// Redis is optional; job detail responses lose their live progress
	// snapshot without it.
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
			log.Printf("WARNING: redis ping failed, live progress disabled: %v", err)
			redisClient.Close()
			redisClient = nil
		} else {
			log.Printf("Connected to redis at %s", cfg.Redis.Addr)
			defer redisClient.Close()
		}
	} else {
		log.Println("Redis not configured; live progress disabled")
	}

	store, err := checkpoint.NewStore(cfg.Checkpoint.Dir, cfg.Checkpoint.MaxPerSession)
	if err != nil {
		log.Fatalf("Failed to open checkpoint store: %v", err)
	}
	log.Printf("Checkpoint store at %s", cfg.Checkpoint.Dir)

	// Audience probe is optional; without it /health reports the check
	// as not configured.
	var audience api.Pinger
	if cfg.Audience.BaseURL != "" {
		audience = audienceapi.NewClient(audienceapi.Config{
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
	}

	health := api.NewHealthChecker(db, redisClient, store, audience)
	handlers := api.NewHandlers(jobs, store, redisClient, health)
	server := api.NewServer(handlers, cfg.Server.CORSOrigins)

	addr := fmt.Sprintf("%s:%d", host, cfg.Server.Port)
	go func() {
		log.Println("Routes registered: /api/imports, /api/sessions, /health")
		log.Printf("API server listening on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-done

	log.Println("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/list-loader/internal/checkpoint"
	"github.com/ignite/list-loader/internal/pkg/httputil"
)

// HealthStatus represents the overall health of the system.
type HealthStatus struct {
	Status  string                    `json:"status"` // "healthy", "degraded", "unhealthy"
	Version string                    `json:"version"`
	Uptime  string                    `json:"uptime"`
	Checks  map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck represents the health of a single component.
type ComponentCheck struct {
	Status  string `json:"status"` // "up", "down", "degraded"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// Pinger probes the remote audience service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker probes every pipeline dependency: the job queue
// database, Redis, the checkpoint directory, and the remote audience
// service.
type HealthChecker struct {
	db          *sql.DB
	redisClient *redis.Client
	checkpoints *checkpoint.Store
	audience    Pinger
	startTime   time.Time
}

// NewHealthChecker creates a new HealthChecker. Any dependency can be
// nil; its check then reports "not configured".
func NewHealthChecker(db *sql.DB, redisClient *redis.Client, checkpoints *checkpoint.Store, audience Pinger) *HealthChecker {
	return &HealthChecker{
		db:          db,
		redisClient: redisClient,
		checkpoints: checkpoints,
		audience:    audience,
		startTime:   time.Now(),
	}
}

const healthVersion = "1.0.0"

// HandleHealth returns the health status of all components. Always
// responds 200; the status field in the body conveys health. Use
// /health/ready for probes that need HTTP 503 on failure.
//
//	GET /health
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())

	httputil.OK(w, HealthStatus{
		Status:  determineOverallStatus(checks),
		Version: healthVersion,
		Uptime:  formatUptime(time.Since(hc.startTime)),
		Checks:  checks,
	})
}

// HandleLiveness always returns 200 while the process is running.
//
//	GET /health/live
func (hc *HealthChecker) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]interface{}{
		"status": "alive",
		"uptime": formatUptime(time.Since(hc.startTime)),
	})
}

// HandleReadiness returns 200 only when the service can accept work.
//
//	GET /health/ready
func (hc *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())
	overall := determineOverallStatus(checks)

	ready := overall != "unhealthy"
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}

	httputil.JSON(w, status, map[string]interface{}{
		"ready":  ready,
		"status": overall,
		"checks": checks,
	})
}

// ========== Component Checks ==========

func (hc *HealthChecker) runAllChecks(ctx context.Context) map[string]ComponentCheck {
	checks := make(map[string]ComponentCheck, 5)

	// Checks run concurrently so total latency is the slowest probe.
	type result struct {
		name  string
		check ComponentCheck
	}
	ch := make(chan result, 5)

	go func() { ch <- result{"database", hc.checkDatabase(ctx)} }()
	go func() { ch <- result{"redis", hc.checkRedis(ctx)} }()
	go func() { ch <- result{"checkpoints", hc.checkCheckpoints()} }()
	go func() { ch <- result{"queue", hc.checkQueue(ctx)} }()
	go func() { ch <- result{"audience", hc.checkAudience(ctx)} }()

	for i := 0; i < 5; i++ {
		r := <-ch
		checks[r.name] = r.check
	}

	return checks
}

// checkDatabase pings Postgres with a 3-second timeout.
func (hc *HealthChecker) checkDatabase(ctx context.Context) ComponentCheck {
	if hc.db == nil {
		return ComponentCheck{Status: "down", Message: "not configured"}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	start := time.Now()
	err := hc.db.PingContext(pingCtx)
	latency := time.Since(start)

	if err != nil {
		return ComponentCheck{
			Status:  "down",
			Latency: latency.String(),
			Message: fmt.Sprintf("ping failed: %v", err),
		}
	}

	status := "up"
	msg := "connected"
	if latency > 1*time.Second {
		status = "degraded"
		msg = fmt.Sprintf("slow response (%s)", latency)
	}

	return ComponentCheck{Status: status, Latency: latency.String(), Message: msg}
}

// checkRedis pings Redis with a 2-second timeout.
func (hc *HealthChecker) checkRedis(ctx context.Context) ComponentCheck {
	if hc.redisClient == nil {
		return ComponentCheck{Status: "down", Message: "not configured"}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	err := hc.redisClient.Ping(pingCtx).Err()
	latency := time.Since(start)

	if err != nil {
		return ComponentCheck{
			Status:  "down",
			Latency: latency.String(),
			Message: fmt.Sprintf("ping failed: %v", err),
		}
	}

	status := "up"
	msg := "connected"
	if latency > 500*time.Millisecond {
		status = "degraded"
		msg = fmt.Sprintf("slow response (%s)", latency)
	}

	return ComponentCheck{Status: status, Latency: latency.String(), Message: msg}
}

// checkCheckpoints verifies the checkpoint directory is writable. An
// unwritable directory means running sessions cannot save progress.
func (hc *HealthChecker) checkCheckpoints() ComponentCheck {
	if hc.checkpoints == nil {
		return ComponentCheck{Status: "down", Message: "not configured"}
	}

	probe := filepath.Join(hc.checkpoints.Dir(), ".health_probe")
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		return ComponentCheck{
			Status:  "down",
			Message: fmt.Sprintf("directory not writable: %v", err),
		}
	}
	os.Remove(probe)

	return ComponentCheck{Status: "up", Message: fmt.Sprintf("dir %q writable", hc.checkpoints.Dir())}
}

// checkAudience pings the remote audience service with a 5-second
// timeout. An unreachable service degrades health rather than failing
// it: the queue keeps accepting jobs, workers refuse them at preflight.
func (hc *HealthChecker) checkAudience(ctx context.Context) ComponentCheck {
	if hc.audience == nil {
		return ComponentCheck{Status: "down", Message: "not configured"}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	err := hc.audience.Ping(pingCtx)
	latency := time.Since(start)

	if err != nil {
		return ComponentCheck{
			Status:  "down",
			Latency: latency.String(),
			Message: fmt.Sprintf("ping failed: %v", err),
		}
	}

	return ComponentCheck{Status: "up", Latency: latency.String(), Message: "reachable"}
}

// checkQueue reports pending job depth as a proxy for worker health.
// A deep backlog means workers are down or not keeping up.
func (hc *HealthChecker) checkQueue(ctx context.Context) ComponentCheck {
	if hc.db == nil {
		return ComponentCheck{Status: "down", Message: "database not available"}
	}

	queryCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	start := time.Now()
	var count int
	err := hc.db.QueryRowContext(queryCtx,
		`SELECT COUNT(*) FROM import_jobs WHERE status = 'pending'`,
	).Scan(&count)
	latency := time.Since(start)

	if err != nil {
		// Table may not exist yet. Degraded rather than down.
		return ComponentCheck{
			Status:  "degraded",
			Latency: latency.String(),
			Message: fmt.Sprintf("queue query failed: %v", err),
		}
	}

	status := "up"
	msg := fmt.Sprintf("%d pending jobs", count)
	if count > 100 {
		status = "degraded"
		msg = fmt.Sprintf("backlog of %d pending jobs", count)
	}

	return ComponentCheck{Status: status, Latency: latency.String(), Message: msg}
}

// ========== Aggregation ==========

// determineOverallStatus derives the aggregate status from individual checks.
//
// Rules:
//   - "unhealthy" if the database or checkpoint directory is down (critical)
//   - "degraded"  if any check is degraded or a non-critical check is down
//   - "healthy"   otherwise
//
// Components that are simply not configured never count against health.
func determineOverallStatus(checks map[string]ComponentCheck) string {
	for _, name := range []string{"database", "checkpoints"} {
		if c, ok := checks[name]; ok && c.Status == "down" && c.Message != "not configured" {
			return "unhealthy"
		}
	}

	for _, c := range checks {
		if c.Status == "degraded" {
			return "degraded"
		}
		if c.Status == "down" && c.Message != "not configured" {
			return "degraded"
		}
	}

	return "healthy"
}

// formatUptime produces a human-readable uptime string like "3d 4h 12m 5s".
func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

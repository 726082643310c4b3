package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"
)

func main() {
	log.Println("╔════════════════════════════════════════════════════════════╗")
	log.Println("║  WARNING: This is a STUB audience service for local       ║")
	log.Println("║  testing ONLY. Contacts live in memory and vanish on      ║")
	log.Println("║  restart.                                                 ║")
	log.Println("║                                                           ║")
	log.Println("║  Point the pipeline at it with:                           ║")
	log.Println("║    AUDIENCE_BASE_URL=http://localhost:9090                ║")
	log.Println("╚════════════════════════════════════════════════════════════╝")
	log.Println("")
	log.Println("Starting stub audience service (in-memory responses)...")

	store := &contactStore{
		contacts:      make(map[string]string),
		failRate:      envInt("STUB_FAIL_RATE", 0),
		throttleEvery: envInt("STUB_THROTTLE_EVERY", 0),
	}
	if store.failRate > 0 {
		log.Printf("Fault injection: %d%% of submissions answer 500", store.failRate)
	}
	if store.throttleEvery > 0 {
		log.Printf("Fault injection: every %dth submission answers 429", store.throttleEvery)
	}
	requireKey := os.Getenv("STUB_REQUIRE_KEY")
	if requireKey != "" {
		log.Printf("Fault injection: requests without X-API-KEY=%s answer 401", requireKey)
	}

	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"stub-audience","warning":"THIS IS A STUB - contacts are held in memory"}`))
	})

	mux.HandleFunc("GET /api/v1/ping", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"metadata": map[string]any{"error": false},
			"payload":  map[string]any{"pong": true},
		})
	})

	mux.HandleFunc("GET /api/v1/lists/{listId}", store.handleGetList)
	mux.HandleFunc("POST /api/v1/lists/{listId}/contacts", store.handleSubmit)
	mux.HandleFunc("POST /api/v1/lists/{listId}/contacts/bulk", store.handleBulk)

	handler := identityMiddleware(authMiddleware(requireKey, mux))

	port := os.Getenv("PORT")
	if port == "" {
		port = "9090"
	}

	server := &http.Server{
		Addr:         "0.0.0.0:" + port,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Stub audience service listening on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down stub...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Stub stopped")
}

// contactStore fakes the remote list. Fault injection knobs let the
// pipeline's retry and throttle handling be exercised locally.
type contactStore struct {
	mu            sync.Mutex
	contacts      map[string]string // email -> contact id
	requests      int
	failRate      int
	throttleEvery int
}

func (s *contactStore) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email     string            `json:"email"`
		Fields    map[string]string `json:"fields"`
		Overwrite bool              `json:"overwrite"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelopeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++

	if s.throttleEvery > 0 && s.requests%s.throttleEvery == 0 {
		w.Header().Set("Retry-After", "1")
		writeEnvelopeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	if s.failRate > 0 && rand.Intn(100) < s.failRate {
		writeEnvelopeError(w, http.StatusInternalServerError, "simulated backend failure")
		return
	}
	if req.Email == "" {
		writeEnvelopeError(w, http.StatusBadRequest, "email is required")
		return
	}

	id, existing := s.contacts[req.Email]
	if !existing {
		id = fmt.Sprintf("c-%06d", len(s.contacts)+1)
		s.contacts[req.Email] = id
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"metadata": map[string]any{"error": false},
		"payload": map[string]any{
			"id":       id,
			"email":    req.Email,
			"existing": existing,
			"created":  time.Now().Unix(),
		},
	})
}

func (s *contactStore) handleBulk(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Contacts []struct {
			Email  string            `json:"email"`
			Fields map[string]string `json:"fields"`
		} `json:"contacts"`
		Overwrite bool `json:"overwrite"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelopeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var success, failed, duplicate int
	for _, c := range req.Contacts {
		if c.Email == "" {
			failed++
			continue
		}
		if _, seen := s.contacts[c.Email]; seen {
			duplicate++
			continue
		}
		s.contacts[c.Email] = fmt.Sprintf("c-%06d", len(s.contacts)+1)
		success++
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"metadata": map[string]any{"error": false},
		"payload": map[string]any{
			"import_id": fmt.Sprintf("imp-%d", time.Now().UnixNano()),
			"total":     len(req.Contacts),
			"success":   success,
			"failed":    failed,
			"duplicate": duplicate,
		},
	})
}

func (s *contactStore) handleGetList(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	total := len(s.contacts)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"metadata": map[string]any{"error": false},
		"payload": map[string]any{
			"id":             r.PathValue("listId"),
			"name":           "Stub Audience List",
			"total_contacts": total,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeEnvelopeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"metadata": map[string]any{"error": true, "message": message, "code": status},
	})
}

// authMiddleware rejects API requests whose X-API-KEY does not match
// key. An empty key leaves auth off. /health stays open for probes.
func authMiddleware(key string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if key != "" && r.URL.Path != "/health" && r.Header.Get("X-API-KEY") != key {
			writeEnvelopeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Server-Identity", "stub-audience")
		w.Header().Set("X-Server-Warning", "STUB - in-memory contacts only")
		next.ServeHTTP(w, r)
	})
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARNING: ignoring %s=%q: %v", key, v, err)
		return fallback
	}
	return n
}

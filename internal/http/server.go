package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"hearth/internal/services"
)

// Server exposes the ledger services as a JSON API.
type Server struct {
	http.Server

	accounts  *services.Accounts
	txns      *services.Transactions
	invoices  *services.Invoices
	recurring *services.Recurring

	rateLimiter *rateLimiter
	started     time.Time
}

// NewServer configures routes, returning a ready-to-run http.Server.
func NewServer(addr string, accounts *services.Accounts, txns *services.Transactions, invoices *services.Invoices, recurring *services.Recurring) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		accounts:    accounts,
		txns:        txns,
		invoices:    invoices,
		recurring:   recurring,
		rateLimiter: newRateLimiter(),
		started:     time.Now(),
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /v1/accounts", s.withRequestLogging(s.handleCreateAccount))
	mux.HandleFunc("GET /v1/accounts/{id}", s.withRequestLogging(s.handleGetAccount))
	mux.HandleFunc("DELETE /v1/accounts/{id}", s.withRequestLogging(s.handleDeleteAccount))

	mux.HandleFunc("POST /v1/transactions", s.withRequestLogging(s.handleCreateTransaction))
	mux.HandleFunc("PATCH /v1/transactions/{id}", s.withRequestLogging(s.handleUpdateTransaction))
	mux.HandleFunc("DELETE /v1/transactions/{id}", s.withRequestLogging(s.handleDeleteTransaction))

	mux.HandleFunc("POST /v1/transfers", s.withRequestLogging(s.handleCreateTransfer))
	mux.HandleFunc("POST /v1/allocations", s.withRequestLogging(s.handleCreateAllocation))
	mux.HandleFunc("POST /v1/deallocations", s.withRequestLogging(s.handleCreateDeallocation))

	mux.HandleFunc("GET /v1/cards/{id}/invoice", s.withRequestLogging(s.handleGetInvoice))
	mux.HandleFunc("POST /v1/cards/{id}/invoice/payments", s.withRequestLogging(s.handlePayInvoice))
	mux.HandleFunc("DELETE /v1/cards/{id}/invoice/payments/{paymentID}", s.withRequestLogging(s.handleUndoInvoicePayment))

	mux.HandleFunc("POST /v1/recurring-rules", s.withRequestLogging(s.handleCreateRule))
	mux.HandleFunc("GET /v1/recurring-rules/due", s.withRequestLogging(s.handleListDueRules))
	mux.HandleFunc("POST /v1/recurring-rules/{id}/execute", s.withRequestLogging(s.handleExecuteRule))
	mux.HandleFunc("PUT /v1/recurring-rules/{id}", s.withRequestLogging(s.handleUpdateRule))
	mux.HandleFunc("DELETE /v1/recurring-rules/{id}", s.withRequestLogging(s.handleDeleteRule))
	mux.HandleFunc("POST /v1/recurring-rules/process-due", s.withRequestLogging(s.handleProcessDue))

	return s
}

// withRequestLogging adds request IDs, rate limiting on writes and
// start/completion logging around each handler.
func (s *Server) withRequestLogging(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := r.Header.Get("X-Forwarded-For")
		if clientIP == "" {
			clientIP = r.Header.Get("X-Real-IP")
		}
		if clientIP == "" {
			clientIP = r.RemoteAddr
		}

		requestID := generateRequestID()
		ctx := r.Context()
		slog.InfoContext(ctx, "Request started",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"client_ip", clientIP)

		if r.Method != http.MethodGet && !s.rateLimiter.allow(clientIP) {
			slog.WarnContext(ctx, "Rate limit exceeded", "client_ip", clientIP, "method", r.Method, "url", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		slog.InfoContext(ctx, "Request completed",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", clientIP)
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// rateLimiter tracks per-client request counts over a one minute window.
type rateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientInfo
}

type clientInfo struct {
	lastRequest time.Time
	requests    int
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{clients: make(map[string]*clientInfo)}
}

func (rl *rateLimiter) allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	client, exists := rl.clients[clientIP]

	if !exists {
		rl.clients[clientIP] = &clientInfo{lastRequest: now, requests: 1}
		return true
	}

	// Reset counter if more than 1 minute has passed
	if now.Sub(client.lastRequest) > time.Minute {
		client.requests = 1
		client.lastRequest = now
		return true
	}

	// Allow up to 60 requests per minute
	client.requests++
	client.lastRequest = now

	return client.requests <= 60
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.started).String(),
	})
}

// Shutdown drains in-flight requests before stopping.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.Server.Shutdown(ctx)
}

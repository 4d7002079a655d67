// Package httpapi implements streamd's operational handlers: liveness,
// readiness, Prometheus-text metrics, and an admin-gated publish endpoint
// that lets an operator append entries to the stream over plain HTTP
// instead of the library's Go API.
package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/C5T/Current-sub007/internal/idxts"
	"github.com/C5T/Current-sub007/internal/logging"
)

// ReadinessProvider exposes stream state required for readiness checks.
type ReadinessProvider interface {
	Size() uint64
	Head() int64
	Uptime() time.Duration
}

// SubscriberCounter reports how many live tails are currently being served.
type SubscriberCounter interface {
	ActiveSubscriptions() int
}

// Publisher appends one entry to the stream at the given timestamp.
type Publisher interface {
	Publish(payload json.RawMessage, us int64) (idxts.IdxTS, error)
}

// RateLimiter gates how frequently sensitive operations may be invoked.
type RateLimiter interface {
	Allow() bool
}

// Options configures the HandlerSet.
type Options struct {
	Logger      *logging.Logger
	Readiness   ReadinessProvider
	Subscribers SubscriberCounter
	Publisher   Publisher
	AdminToken  string
	RateLimiter RateLimiter
	TimeSource  func() time.Time
}

// HandlerSet bundles streamd's operational handlers.
type HandlerSet struct {
	logger      *logging.Logger
	readiness   ReadinessProvider
	subscribers SubscriberCounter
	publisher   Publisher
	adminToken  string
	rateLimiter RateLimiter
	now         func() time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &HandlerSet{
		logger:      logger,
		readiness:   opts.Readiness,
		subscribers: opts.Subscribers,
		publisher:   opts.Publisher,
		adminToken:  strings.TrimSpace(opts.AdminToken),
		rateLimiter: opts.RateLimiter,
		now:         now,
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
	mux.HandleFunc("/admin/publish", h.PublishHandler())
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports stream readiness, including size and watermark.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status      string `json:"status"`
		Size        uint64 `json:"size"`
		HeadUS      int64  `json:"head_us"`
		Subscribers int    `json:"subscribers"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		resp := response{Status: "ok"}
		if h.readiness != nil {
			resp.Size = h.readiness.Size()
			resp.HeadUS = h.readiness.Head()
		}
		if h.subscribers != nil {
			resp.Subscribers = h.subscribers.ActiveSubscriptions()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")

		fmt.Fprintf(w, "# HELP streamd_uptime_seconds Process uptime in seconds.\n")
		fmt.Fprintf(w, "# TYPE streamd_uptime_seconds gauge\n")
		fmt.Fprintf(w, "streamd_uptime_seconds %.0f\n", h.uptime().Seconds())

		if h.readiness != nil {
			fmt.Fprintf(w, "# HELP streamd_entries_total Entries published to the stream.\n")
			fmt.Fprintf(w, "# TYPE streamd_entries_total counter\n")
			fmt.Fprintf(w, "streamd_entries_total %d\n", h.readiness.Size())

			fmt.Fprintf(w, "# HELP streamd_head_us Current watermark in microseconds.\n")
			fmt.Fprintf(w, "# TYPE streamd_head_us gauge\n")
			fmt.Fprintf(w, "streamd_head_us %d\n", h.readiness.Head())
		}
		if h.subscribers != nil {
			fmt.Fprintf(w, "# HELP streamd_subscribers Active live-tail subscriptions.\n")
			fmt.Fprintf(w, "# TYPE streamd_subscribers gauge\n")
			fmt.Fprintf(w, "streamd_subscribers %d\n", h.subscribers.ActiveSubscriptions())
		}
	}
}

// PublishHandler authorises and appends one entry, supplied as a raw JSON
// body, to the stream at the current time.
func (h *HandlerSet) PublishHandler() http.HandlerFunc {
	type response struct {
		Index uint64 `json:"index"`
		US    int64  `json:"us"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.logger.With(
			logging.String("handler", "admin_publish"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.adminToken == "" {
			reqLogger.Warn("publish denied: admin auth disabled")
			http.Error(w, "admin authentication not configured", http.StatusForbidden)
			return
		}
		if !h.authorise(r) {
			reqLogger.Warn("publish denied: unauthorized request")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if h.rateLimiter != nil && !h.rateLimiter.Allow() {
			reqLogger.Warn("publish denied: rate limit exceeded")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		if h.publisher == nil {
			reqLogger.Warn("publish denied: no publisher configured")
			http.Error(w, "publishing is unavailable", http.StatusServiceUnavailable)
			return
		}
		var payload json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			reqLogger.Warn("publish denied: invalid payload", logging.Error(err))
			http.Error(w, "invalid request payload", http.StatusBadRequest)
			return
		}
		it, err := h.publisher.Publish(payload, h.now().UnixMicro())
		if err != nil {
			reqLogger.Warn("publish rejected", logging.Error(err))
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		reqLogger.Info("entry published", logging.IdxTS(it)...)
		writeJSON(w, http.StatusAccepted, response{Index: it.Index, US: it.US})
	}
}

func (h *HandlerSet) uptime() time.Duration {
	if h.readiness == nil {
		return 0
	}
	return h.readiness.Uptime()
}

func (h *HandlerSet) authorise(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	var token string
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = strings.TrimSpace(header[7:])
	} else if header != "" {
		token = header
	}
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	}
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

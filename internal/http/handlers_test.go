package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/C5T/Current-sub007/internal/idxts"
	"github.com/C5T/Current-sub007/internal/logging"
)

type stubReadiness struct {
	size   uint64
	headUS int64
	uptime time.Duration
}

func (s *stubReadiness) Size() uint64          { return s.size }
func (s *stubReadiness) Head() int64           { return s.headUS }
func (s *stubReadiness) Uptime() time.Duration { return s.uptime }

type stubSubscribers struct{ count int }

func (s *stubSubscribers) ActiveSubscriptions() int { return s.count }

type stubLimiter struct {
	remaining int
}

func (s *stubLimiter) Allow() bool {
	if s.remaining <= 0 {
		return false
	}
	s.remaining--
	return true
}

type stubPublisher struct {
	nextIndex uint64
	err       error
	published []json.RawMessage
}

func (s *stubPublisher) Publish(payload json.RawMessage, us int64) (idxts.IdxTS, error) {
	if s.err != nil {
		return idxts.Zero, s.err
	}
	it := idxts.IdxTS{Index: s.nextIndex, US: us}
	s.nextIndex++
	s.published = append(s.published, payload)
	return it, nil
}

func TestLivenessHandlerReturnsJSON(t *testing.T) {
	fixed := time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), TimeSource: func() time.Time { return fixed }})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/livez", nil)

	handlers.LivenessHandler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var payload struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != "alive" {
		t.Fatalf("unexpected status %q", payload.Status)
	}
	if payload.Timestamp != fixed.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected timestamp %q", payload.Timestamp)
	}
}

func TestReadinessHandlerReportsSizeHeadAndSubscribers(t *testing.T) {
	readiness := &stubReadiness{size: 42, headUS: 9000, uptime: 45 * time.Second}
	subs := &stubSubscribers{count: 3}
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), Readiness: readiness, Subscribers: subs})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	handlers.ReadinessHandler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var payload struct {
		Status      string `json:"status"`
		Size        uint64 `json:"size"`
		HeadUS      int64  `json:"head_us"`
		Subscribers int    `json:"subscribers"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != "ok" || payload.Size != 42 || payload.HeadUS != 9000 || payload.Subscribers != 3 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestMetricsHandlerOutputsPrometheusFormat(t *testing.T) {
	readiness := &stubReadiness{size: 7, headUS: 12345, uptime: 90 * time.Second}
	subs := &stubSubscribers{count: 2}
	handlers := NewHandlerSet(Options{
		Logger:      logging.NewTestLogger(),
		Readiness:   readiness,
		Subscribers: subs,
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	handlers.MetricsHandler().ServeHTTP(rr, req)

	if got := rr.Header().Get("Content-Type"); got != "text/plain; version=0.0.4" {
		t.Fatalf("unexpected content type %q", got)
	}
	body := rr.Body.String()
	for _, substr := range []string{
		"streamd_uptime_seconds 90",
		"streamd_entries_total 7",
		"streamd_head_us 12345",
		"streamd_subscribers 2",
	} {
		if !strings.Contains(body, substr) {
			t.Fatalf("metrics missing %q:\n%s", substr, body)
		}
	}
}

func TestPublishHandlerAuthRateLimitsAndPublishes(t *testing.T) {
	publisher := &stubPublisher{}
	limiter := &stubLimiter{remaining: 1}
	handlers := NewHandlerSet(Options{
		Logger:      logging.NewTestLogger(),
		Publisher:   publisher,
		AdminToken:  "topsecret",
		RateLimiter: limiter,
	})

	makeRequest := func(token, body string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/admin/publish", strings.NewReader(body))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		handlers.PublishHandler().ServeHTTP(rr, req)
		return rr
	}

	if resp := makeRequest("", `{"hello":"world"}`); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized for missing token, got %d", resp.Code)
	}

	resp := makeRequest("topsecret", `{"hello":"world"}`)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for authorised request, got %d", resp.Code)
	}
	if len(publisher.published) != 1 {
		t.Fatalf("expected publisher invoked once, got %d", len(publisher.published))
	}
	var decoded struct {
		Index uint64 `json:"index"`
		US    int64  `json:"us"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if decoded.Index != 0 {
		t.Fatalf("expected first published index 0, got %d", decoded.Index)
	}

	if resp := makeRequest("topsecret", `{"hello":"again"}`); resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected rate limit, got %d", resp.Code)
	}
}

func TestPublishHandlerRejectsBadPayloadAndPersisterError(t *testing.T) {
	publisher := &stubPublisher{}
	handlers := NewHandlerSet(Options{
		Logger:     logging.NewTestLogger(),
		Publisher:  publisher,
		AdminToken: "secret",
	})

	badPayload := httptest.NewRequest(http.MethodPost, "/admin/publish", strings.NewReader("not-json"))
	badPayload.Header.Set("Authorization", "Bearer secret")
	rr := httptest.NewRecorder()
	handlers.PublishHandler().ServeHTTP(rr, badPayload)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid payload, got %d", rr.Code)
	}

	publisher.err = errors.New("timestamp regression")
	failing := httptest.NewRequest(http.MethodPost, "/admin/publish", strings.NewReader(`{"x":1}`))
	failing.Header.Set("Authorization", "Bearer secret")
	rr = httptest.NewRecorder()
	handlers.PublishHandler().ServeHTTP(rr, failing)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for rejected publish, got %d", rr.Code)
	}
}

func TestPublishHandlerRejectsNonPostMethod(t *testing.T) {
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), AdminToken: "secret"})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/publish", nil)
	handlers.PublishHandler().ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

// Command streamd serves one event stream over HTTP: a file-backed
// persister, a live pub/sub tail endpoint, and a small set of operational
// handlers (liveness, readiness, metrics, admin publish).
//
// Wiring mirrors the teacher's root main.go (load config, build logger,
// build handler, listen) with every game-specific collaborator replaced by
// the stream/queue stack: configpkg.Load -> logging.New -> persist.NewFile
// -> stream.New -> pubsub.Endpoint, mounted on gorilla/mux, with graceful
// shutdown on SIGINT/SIGTERM grounded on vinq1911-nonchalant's
// internal/server/shutdown.go.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	configpkg "github.com/C5T/Current-sub007/internal/config"
	httpapi "github.com/C5T/Current-sub007/internal/http"
	"github.com/C5T/Current-sub007/internal/idxts"
	"github.com/C5T/Current-sub007/internal/logging"
	"github.com/C5T/Current-sub007/internal/persist"
	"github.com/C5T/Current-sub007/internal/pubsub"
	"github.com/C5T/Current-sub007/internal/stream"
)

// entry is the demo payload type: an opaque JSON document, the same shape
// the admin publish endpoint accepts over HTTP.
type entry = json.RawMessage

// readinessAdapter exposes a Stream's size/head plus process uptime to
// httpapi.HandlerSet without handing the handlers the whole Stream.
type readinessAdapter struct {
	s         *stream.Stream[entry]
	startedAt time.Time
}

func (r *readinessAdapter) Size() uint64          { return r.s.Size() }
func (r *readinessAdapter) Head() int64           { return r.s.Head() }
func (r *readinessAdapter) Uptime() time.Duration { return time.Since(r.startedAt) }

// streamPublisher adapts Stream.Publish to httpapi.Publisher.
type streamPublisher struct {
	s *stream.Stream[entry]
}

func (p *streamPublisher) Publish(payload json.RawMessage, us int64) (idxts.IdxTS, error) {
	return p.s.Publish(payload, us)
}

func main() {
	startedAt := time.Now()

	cfg, err := configpkg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize structured logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := os.MkdirAll(cfg.PersistenceDir, 0o755); err != nil {
		logger.Fatal("failed to create persistence directory", logging.Error(err), logging.String("dir", cfg.PersistenceDir))
	}
	persister, err := persist.NewFile[entry](filepath.Join(cfg.PersistenceDir, "stream.log"))
	if err != nil {
		logger.Fatal("failed to open persister", logging.Error(err))
	}
	defer func() {
		if err := persister.Close(); err != nil {
			logger.Warn("persister close failed", logging.Error(err))
		}
	}()
	logger.Info("persister opened", logging.String("dir", cfg.PersistenceDir), logging.Int64("size", int64(persister.Size())))

	s := stream.New[entry](persister, stream.Config{})
	defer s.Close()

	endpoint := pubsub.New[entry](s, pubsub.Config{Logger: logger.With(logging.String("component", "pubsub"))})

	router := mux.NewRouter()
	endpoint.Register(router, "/exposed")

	opsHandlers := httpapi.NewHandlerSet(httpapi.Options{
		Logger:      logger.With(logging.String("component", "httpapi")),
		Readiness:   &readinessAdapter{s: s, startedAt: startedAt},
		Subscribers: endpoint,
		Publisher:   &streamPublisher{s: s},
		AdminToken:  cfg.AdminToken,
		RateLimiter: httpapi.NewSlidingWindowLimiter(time.Second, 50, nil),
	})
	topMux := http.NewServeMux()
	opsHandlers.Register(topMux)
	topMux.Handle("/", router)

	server := &http.Server{Addr: cfg.Address, Handler: logging.HTTPTraceMiddleware(logger)(topMux)}

	go func() {
		logger.Info("streamd listening", logging.String("address", cfg.Address))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("streamd server terminated", logging.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", logging.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", logging.Error(err))
	}
}

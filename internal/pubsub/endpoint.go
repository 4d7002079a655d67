// Package pubsub implements the HTTP subscription endpoint of spec.md
// §4.G: a chunked GET/HEAD surface that replays and tails a stream.Stream
// under the query grammar of the "Combination rules" table, plus by-id
// external termination of a live subscription.
//
// Grounded on Sherlock/pubsub.h (ParsedHTTPRequestParams,
// ParsePubSubHTTPRequest, PubSubHTTPEndpointImpl::operator()) and on the
// teacher's internal/http/handlers.go for the handler-set shape
// (NewHandlerSet/Register, writeJSON, per-handler request-scoped logger).
package pubsub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/C5T/Current-sub007/internal/idxts"
	"github.com/C5T/Current-sub007/internal/logging"
	"github.com/C5T/Current-sub007/internal/stream"
)

// SchemaProvider renders a schema document for the stream's payload type in
// the requested target language. lang == "" means "the default
// representation". ok == false means the language is unrecognized, which
// the endpoint reports as 404, matching spec.md §4.G.
type SchemaProvider func(lang string) (doc any, ok bool)

// Config customizes an Endpoint. A zero Config is valid.
type Config struct {
	// Now supplies "now" for recent=<us>. Defaults to time.Now.
	Now func() time.Time
	// Schema answers schema[=<lang>] requests. Defaults to reflectSchema,
	// which describes the payload type's exported fields and only answers
	// lang == "" or lang == "go".
	Schema SchemaProvider
	// Logger receives one structured line per terminate request for an
	// unknown id, unknown schema language, failed subscribe, and closed live
	// tail. Defaults to logging.L().
	Logger *logging.Logger
}

// Endpoint serves one stream.Stream[E] over HTTP, matching
// spec.md §4.G.
type Endpoint[E any] struct {
	s      *stream.Stream[E]
	now    func() time.Time
	schema SchemaProvider
	logger *logging.Logger

	mu       sync.Mutex
	registry map[string]*stream.Subscription
}

// New constructs an Endpoint serving s.
func New[E any](s *stream.Stream[E], cfg Config) *Endpoint[E] {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	schema := cfg.Schema
	if schema == nil {
		schema = defaultSchemaProvider[E]()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.L()
	}
	return &Endpoint[E]{
		s:        s,
		now:      now,
		schema:   schema,
		logger:   logger,
		registry: make(map[string]*stream.Subscription),
	}
}

// Register mounts the endpoint at path on router, plus a companion
// "{path}/schema/{lang}" route for the path-argument schema form the
// original exposes via r.url_path_args (pubsub.h), alongside this
// package's own schema=<lang> query-parameter form.
func (e *Endpoint[E]) Register(router *mux.Router, path string) {
	router.HandleFunc(path+"/schema/{lang}", e.serveSchemaPathArg)
	router.PathPrefix(path).HandlerFunc(e.ServeHTTP)
}

func (e *Endpoint[E]) serveSchemaPathArg(w http.ResponseWriter, r *http.Request) {
	e.writeSchema(w, mux.Vars(r)["lang"])
}

// ActiveSubscriptions reports how many live tails are currently registered,
// for the operational /metrics surface.
func (e *Endpoint[E]) ActiveSubscriptions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.registry)
}

// ServeHTTP implements spec.md §4.G's method/query dispatch.
func (e *Endpoint[E]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	size := e.s.Size()
	params, err := parseQuery(r.URL.Query(), e.now(), size)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if params.terminateID != "" {
		e.terminate(w, params.terminateID)
		return
	}
	if params.schema {
		e.writeSchema(w, params.schemaLang)
		return
	}
	if params.sizeonly || r.Method == http.MethodHead {
		e.serveSizeOnly(w, r, size)
		return
	}
	if params.nowait {
		e.serveBounded(w, params, size)
		return
	}
	e.serveLiveTail(w, params, size)
}

func (e *Endpoint[E]) terminate(w http.ResponseWriter, id string) {
	e.mu.Lock()
	sub, ok := e.registry[id]
	e.mu.Unlock()
	if ok {
		sub.RequestTermination()
	} else {
		e.logger.Debug("terminate requested for unknown subscription", logging.String("subscription_id", id))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
}

func (e *Endpoint[E]) writeSchema(w http.ResponseWriter, lang string) {
	doc, ok := e.schema(lang)
	if !ok {
		e.logger.Warn("schema requested for unknown language", logging.String("lang", lang))
		http.NotFound(w, nil)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}

func (e *Endpoint[E]) serveSizeOnly(w http.ResponseWriter, r *http.Request, size uint64) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Stream-Size", fmt.Sprintf("%d", size))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	fmt.Fprintf(w, "%d\n", size)
}

// serveBounded implements nowait=true: a single pass over [start, size) at
// call time, with no live tailing and no registry entry, matching "end
// when cursor reaches size" with no wait-at-end branch at all.
func (e *Endpoint[E]) serveBounded(w http.ResponseWriter, p queryParams, size uint64) {
	id := uuid.New().String()[:8]
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Subscription-Id", id)
	w.Header().Set("Stream-Size", fmt.Sprintf("%d", size))
	w.WriteHeader(http.StatusOK)

	enc := newEntryEncoder[E](w, p)
	enc.writeOpen()
	defer enc.writeClose()

	start := uint64(0)
	if p.hasStart {
		start = p.startIndex
	}
	if start >= size {
		return
	}

	it, err := e.s.Persister().Iterate(start, size)
	if err != nil {
		return
	}
	for it.Next() {
		entry := it.Entry()
		if p.hasSince && entry.IdxTS.US < p.sinceUS {
			continue
		}
		if !enc.deliver(Entry[E]{IdxTS: entry.IdxTS, Payload: entry.Payload}) {
			return
		}
	}
}

// serveLiveTail implements the replay-then-tail branch via a live
// stream.Subscription, registered under Subscription-Id so ?terminate=<id>
// can reach it.
func (e *Endpoint[E]) serveLiveTail(w http.ResponseWriter, p queryParams, size uint64) {
	id := uuid.New().String()[:8]
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Subscription-Id", id)
	w.Header().Set("Stream-Size", fmt.Sprintf("%d", size))
	w.WriteHeader(http.StatusOK)

	enc := newEntryEncoder[E](w, p)
	enc.writeOpen()

	cb := &httpCallback[E]{params: p, enc: enc}
	sub, err := e.s.Subscribe(cb)
	if err != nil {
		e.logger.Warn("subscribe failed", logging.String("subscription_id", id), logging.Error(err))
		enc.writeClose()
		return
	}

	e.mu.Lock()
	e.registry[id] = sub
	e.mu.Unlock()

	<-sub.Done()

	e.mu.Lock()
	delete(e.registry, id)
	e.mu.Unlock()

	enc.writeClose()
	e.logger.Debug("subscription closed", logging.String("subscription_id", id))
}

func defaultSchemaProvider[E any]() SchemaProvider {
	return func(lang string) (any, bool) {
		if lang != "" && lang != "go" {
			return nil, false
		}
		var zero E
		return reflectSchema(zero), true
	}
}

// reflectSchema describes E's exported fields by name and kind, the Go
// stand-in for the original's compile-time C++ type-reflection machinery
// spec.md §1 places out of scope beyond what schema[=<lang>] itself needs.
func reflectSchema(v any) map[string]any {
	t := reflect.TypeOf(v)
	if t == nil {
		return map[string]any{"kind": "interface", "type": "unknown"}
	}
	doc := map[string]any{"kind": t.Kind().String()}
	if t.Kind() == reflect.Struct {
		fields := make(map[string]string, t.NumField())
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			fields[f.Name] = f.Type.String()
		}
		doc["fields"] = fields
	}
	doc["type"] = t.String()
	return doc
}

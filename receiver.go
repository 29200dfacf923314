// Package webmention implements the Webmention protocol server side: an
// http.Handler that accepts incoming notifications and queues them for
// asynchronous processing.
package webmention

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

const defaultRequestQueueSize = 100

// Server is an http.Handler that accepts POSTed Webmention notifications,
// queues them, and processes them asynchronously against an
// IncomingProcessor — the same queue/worker-pool shape the library has
// always used to keep a slow source fetch off the request goroutine. It
// also serves the GET retrieval endpoint spec.md §6 describes for the
// storage contract.
type Server struct {
	Incoming      *IncomingProcessor
	Storage       Storage
	TargetAccepts TargetAcceptsFunc

	enqueue  chan<- incomingRequest
	dequeue  <-chan incomingRequest
	shutdown chan struct{}
}

// TargetAcceptsFunc reports whether source is allowed to notify about
// target, e.g. by checking target's host against the server's own domain.
type TargetAcceptsFunc func(source, target string) bool

type incomingRequest struct {
	source, target string
}

// ServerOption configures a Server returned by NewServer.
type ServerOption func(*Server)

// WithAcceptsFunc restricts which targets this server will queue mentions
// for.
func WithAcceptsFunc(accepts TargetAcceptsFunc) ServerOption {
	return func(s *Server) { s.TargetAccepts = accepts }
}

// WithQueueSize overrides the request queue's capacity. Once full, ServeHTTP
// responds 429 Too Many Requests instead of blocking.
func WithQueueSize(size int) ServerOption {
	return func(s *Server) {
		queue := make(chan incomingRequest, size)
		s.enqueue = queue
		s.dequeue = queue
	}
}

// NewServer builds a Server around incoming, defaulting TargetAccepts to
// "accept everything" and the queue to defaultRequestQueueSize.
func NewServer(incoming *IncomingProcessor, storage Storage, opts ...ServerOption) *Server {
	queue := make(chan incomingRequest, defaultRequestQueueSize)
	s := &Server{
		Incoming: incoming,
		Storage:  storage,
		TargetAccepts: func(string, string) bool {
			return true
		},
		enqueue:  queue,
		dequeue:  queue,
		shutdown: make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// ServeHTTP dispatches POST (receive a notification) and GET (retrieve
// stored mentions for a resource) per spec.md §6.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var err error
	switch r.Method {
	case http.MethodPost:
		err = s.handlePost(w, r)
	case http.MethodGet:
		err = s.handleGet(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err == nil {
		return
	}
	if responder, ok := err.(ErrorResponder); ok {
		if responder.RespondError(w, r) {
			return
		}
	}
	slog.Error(err.Error(), "path", r.URL.EscapedPath(), "method", r.Method, "remote", r.RemoteAddr)
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) error {
	if err := r.ParseForm(); err != nil {
		return ValidationError("malformed form body: " + err.Error())
	}

	source := r.PostForm.Get("source")
	target := r.PostForm.Get("target")
	if source == "" {
		return ValidationError("missing form value: source")
	}
	if target == "" {
		return ValidationError("missing form value: target")
	}
	if source == target {
		return ValidationError("target must be different from source")
	}
	if !isAbsoluteHTTPURL(source) {
		return ValidationError("source url is malformed or unsupported")
	}
	if !isAbsoluteHTTPURL(target) {
		return ValidationError("target url is malformed or unsupported")
	}
	if !s.TargetAccepts(source, target) {
		return ValidationError("target does not accept webmentions from this source")
	}

	select {
	case s.enqueue <- incomingRequest{source, target}:
	default:
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return nil
	}

	w.WriteHeader(http.StatusAccepted)
	_, err := w.Write([]byte("Thank you! Your Mention has been queued for processing."))
	return err
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) error {
	resource := r.URL.Query().Get("resource")
	if resource == "" {
		return ValidationError("missing query parameter: resource")
	}
	direction := Direction(r.URL.Query().Get("direction"))
	if direction != DirectionIn && direction != DirectionOut {
		return ValidationError("direction must be 'incoming' or 'outgoing'")
	}

	mentions, err := s.Storage.Retrieve(resource, direction)
	if err != nil {
		return StorageError(err)
	}

	out := make([]map[string]any, 0, len(mentions))
	for _, m := range mentions {
		out = append(out, m.ToMap())
	}

	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(out)
}

// ProcessMentions drains the request queue, calling Incoming.ProcessIncoming
// for each, until Shutdown is called. Run it in its own goroutine; multiple
// goroutines may run it concurrently as a worker pool.
func (s *Server) ProcessMentions() {
	for {
		select {
		case <-s.shutdown:
			return
		case req, ok := <-s.dequeue:
			if !ok {
				return
			}
			if err := s.Incoming.ProcessIncoming(req.source, req.target); err != nil {
				slog.Error("processing incoming webmention failed", "source", req.source, "target", req.target, "error", err)
			}
		}
	}
}

// Shutdown stops accepting new work from the queue and waits for whatever
// is already enqueued to drain, or for ctx to expire, whichever comes
// first. The HTTP server should already be stopped: requests ServeHTTP
// queues after Shutdown has returned are never processed.
func (s *Server) Shutdown(ctx context.Context) {
	close(s.shutdown)
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-s.dequeue:
			if !ok {
				return
			}
			if err := s.Incoming.ProcessIncoming(req.source, req.target); err != nil {
				slog.Error("processing incoming webmention failed during shutdown", "source", req.source, "target", req.target, "error", err)
			}
		default:
			return
		}
	}
}

// LinkHeaderMiddleware advertises endpoint as this server's Webmention
// receiver on every text/* response, appending to (and de-duplicating
// against) any Link header the wrapped handler already set, per
// original_source's Flask adapter.
func LinkHeaderMiddleware(endpoint string, next http.Handler) http.Handler {
	value := `<` + endpoint + `>; rel="webmention"`
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &linkHeaderWriter{ResponseWriter: w, value: value}
		next.ServeHTTP(rec, r)
	})
}

type linkHeaderWriter struct {
	http.ResponseWriter
	value       string
	wroteHeader bool
}

func (lw *linkHeaderWriter) WriteHeader(status int) {
	if !lw.wroteHeader {
		lw.wroteHeader = true
		if strings.HasPrefix(lw.Header().Get("Content-Type"), "text/") {
			appendLinkHeader(lw.Header(), lw.value)
		}
	}
	lw.ResponseWriter.WriteHeader(status)
}

func (lw *linkHeaderWriter) Write(b []byte) (int, error) {
	if !lw.wroteHeader {
		lw.WriteHeader(http.StatusOK)
	}
	return lw.ResponseWriter.Write(b)
}

func appendLinkHeader(h http.Header, value string) {
	existing := h.Get("Link")
	if existing == "" {
		h.Set("Link", value)
		return
	}
	if strings.Contains(existing, value) {
		return
	}
	h.Set("Link", existing+", "+value)
}

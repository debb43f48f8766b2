package dynvoke

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/broady/dynvoke/jsgen"
)

// StubPath is the reserved path serving the generated JavaScript client.
const StubPath = "/generated.js"

// RequestIDHeader carries the request ID passed to dispatch hooks.
const RequestIDHeader = "X-Request-Id"

// State is the lifecycle state of a [Server].
type State int

const (
	StateStopped State = iota
	StateListening
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateListening:
		return "listening"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// Server serves a Dispatcher over HTTP at /{group}/{action}.
//
// Every accepted connection is served concurrently. Stop refuses new
// connections and waits for every accepted one to finish; there is no
// timeout, so a handler that never returns blocks Stop.
type Server struct {
	addr               string
	dispatcher         *Dispatcher
	logger             *slog.Logger
	middlewares        []func(http.Handler) http.Handler
	maxRequestBodySize int64
	readHeaderTimeout  time.Duration
	pathPrefix         string
	stubOptions        jsgen.Options
	stubs              sync.Map // jsgen.Options -> []byte

	mu      sync.Mutex
	state   State
	closed  bool
	srv     *http.Server
	ln      *trackingListener
	drained chan struct{}
	errc    chan error
}

// NewServer creates a stopped server that will listen on addr.
func NewServer(addr string, d *Dispatcher) *Server {
	return &Server{
		addr:               addr,
		dispatcher:         d,
		maxRequestBodySize: 1 << 20, // 1MB default
		readHeaderTimeout:  10 * time.Second,
	}
}

// WithLogger sets a custom logger for the server.
// If not set, slog.Default() will be used.
func (s *Server) WithLogger(logger *slog.Logger) *Server {
	s.logger = logger
	return s
}

// WithMiddleware adds an HTTP middleware around the server's handler.
// Middleware is applied in the order added (first added is outermost).
func (s *Server) WithMiddleware(mw func(http.Handler) http.Handler) *Server {
	s.middlewares = append(s.middlewares, mw)
	return s
}

// WithMaxRequestBodySize sets the largest accepted request body.
// Larger bodies are rejected as bad requests. A value of 0 means no limit.
// Default is 1MB (1 << 20).
func (s *Server) WithMaxRequestBodySize(size int64) *Server {
	s.maxRequestBodySize = size
	return s
}

// WithReadHeaderTimeout sets how long a connection may take to send request headers.
// Default is 10 seconds.
func (s *Server) WithReadHeaderTimeout(d time.Duration) *Server {
	s.readHeaderTimeout = d
	return s
}

// WithPathPrefix serves actions under prefix, e.g. "/api/{group}/{action}".
func (s *Server) WithPathPrefix(prefix string) *Server {
	s.pathPrefix = "/" + strings.Trim(prefix, "/")
	if s.pathPrefix == "/" {
		s.pathPrefix = ""
	}
	return s
}

// WithStubOptions sets the default options for the generated client.
// Query parameters on StubPath override Namespace and Angular.
func (s *Server) WithStubOptions(opts jsgen.Options) *Server {
	s.stubOptions = opts
	return s
}

func (s *Server) log() *slog.Logger {
	if s.logger == nil {
		return slog.Default()
	}
	return s.logger
}

// Handler returns the server's http.Handler, including all middleware.
// It can be mounted on another server; Stop only drains connections
// accepted by this Server.
func (s *Server) Handler() http.Handler {
	var h http.Handler = http.HandlerFunc(s.serveHTTP)
	// Apply middleware in reverse order so first added is outermost
	for i := len(s.middlewares) - 1; i >= 0; i-- {
		h = s.middlewares[i](h)
	}
	return h
}

// Start listens on the server address and begins accepting connections.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	if err := s.StartListener(ln); err != nil {
		ln.Close()
		return err
	}
	return nil
}

// StartListener begins accepting connections from ln.
// The server owns ln from now on and closes it exactly once on Stop.
func (s *Server) StartListener(ln net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServerClosed
	}
	if s.state != StateStopped {
		return ErrServerRunning
	}
	s.dispatcher.Registry().Build()

	tl := newTrackingListener(ln)
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(s.log().Handler(), slog.LevelWarn),
	}
	errc := make(chan error, 1)
	s.srv, s.ln, s.errc = srv, tl, errc
	s.drained = make(chan struct{})
	s.state = StateListening

	go s.acceptLoop(srv, tl, errc)
	s.log().Info("server listening", slog.String("addr", ln.Addr().String()))
	return nil
}

func (s *Server) acceptLoop(srv *http.Server, ln net.Listener, errc chan<- error) {
	defer close(errc)
	err := srv.Serve(ln)
	if isClosedErr(err) {
		s.log().Debug("listener closed")
		return
	}
	s.log().Error("accept loop failed", slog.Any("error", err))
	errc <- err
}

// Stop stops accepting connections and blocks until every accepted connection
// has been served and closed. Stopping a stopped server does nothing; a
// concurrent Stop waits for the drain already in progress.
func (s *Server) Stop() error {
	s.mu.Lock()
	switch s.state {
	case StateStopped:
		s.mu.Unlock()
		return nil
	case StateDraining:
		drained := s.drained
		s.mu.Unlock()
		<-drained
		return nil
	}
	s.state = StateDraining
	srv, tl, drained := s.srv, s.ln, s.drained
	s.mu.Unlock()

	logger := s.log()
	logger.Info("server draining", slog.Int64("inflight", tl.active.Load()))

	err := srv.Shutdown(context.Background())
	if cerr := tl.Close(); cerr != nil && !isClosedErr(cerr) && err == nil {
		err = cerr
	}
	tl.wait()

	s.mu.Lock()
	s.state = StateStopped
	s.srv, s.ln = nil, nil
	s.mu.Unlock()
	close(drained)

	logger.Info("server stopped")
	if isClosedErr(err) {
		return nil
	}
	return err
}

// Close stops the server and prevents it from being started again.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

// Run starts the server, waits for ctx to be done, then stops it.
// If the accept loop fails first, Run stops the server and returns that error.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	s.mu.Lock()
	errc := s.errc
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err, ok := <-errc:
		stopErr := s.Stop()
		if ok {
			return err
		}
		return stopErr
	}
}

// Addr returns the listening address, or nil when stopped.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// InFlight returns the number of accepted connections not yet closed.
func (s *Server) InFlight() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return 0
	}
	return s.ln.active.Load()
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if s.pathPrefix != "" {
		rest, ok := strings.CutPrefix(path, s.pathPrefix)
		if !ok || (rest != "" && rest[0] != '/') {
			s.write(w, errorResponse(NewError(CodeNotFound, "outside path prefix")))
			return
		}
		path = rest
	}

	if path == StubPath {
		s.serveStub(w, r)
		return
	}

	// Path format: /{group}/{action}
	segments := splitPath(path)
	if len(segments) != 2 {
		s.write(w, errorResponse(NewError(CodeBadRequest, "path must have two segments")))
		return
	}

	var body io.Reader = r.Body
	if s.maxRequestBodySize > 0 {
		body = http.MaxBytesReader(w, r.Body, s.maxRequestBodySize)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		s.log().WarnContext(r.Context(), "failed to read request body", slog.Any("error", err))
		s.write(w, errorResponse(NewError(CodeBadRequest, err.Error())))
		return
	}

	ctx := WithDispatchInfo(r.Context(), "http", r.Header.Get(RequestIDHeader))
	ctx = newHTTPContext(ctx, w, r)
	s.write(w, s.dispatcher.Handle(ctx, segments[0], segments[1], data))
}

func (s *Server) write(w http.ResponseWriter, resp Response) {
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.WriteHeader(resp.StatusCode)
	if len(resp.Body) == 0 {
		return
	}
	if _, err := w.Write(resp.Body); err != nil {
		// Headers already sent, nothing we can do. Log for debugging.
		s.log().Debug("failed to write response",
			slog.Int("status", resp.StatusCode),
			slog.Any("error", err))
	}
}

// splitPath returns the non-empty segments of an URL path.
func splitPath(path string) []string {
	var out []string
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

func isClosedErr(err error) bool {
	return err == nil || errors.Is(err, http.ErrServerClosed) || errors.Is(err, net.ErrClosed)
}

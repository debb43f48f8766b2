package dynvoke

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/broady/dynvoke/jsgen"
	"github.com/broady/dynvoke/testutil"
)

func mathServer(t *testing.T) *Server {
	t.Helper()
	return NewServer("127.0.0.1:0", mathDispatcher(t)).WithLogger(slog.New(slog.DiscardHandler))
}

func TestServer_Routing(t *testing.T) {
	h := mathServer(t).Handler()

	tests := []struct {
		name   string
		req    *testutil.RequestBuilder
		status int
		body   string
	}{
		{"call", testutil.NewRequest().Call("math", "add").WithJSON(map[string]int{"x": 2, "y": 3}), http.StatusOK, "5"},
		{"missing", testutil.NewRequest().Call("math", "add").WithBody(`{"x":2}`), http.StatusBadRequest, "Missing arguments"},
		{"unknown", testutil.NewRequest().Call("foo", "bar").WithBody(`{}`), http.StatusNotFound, "Not Found"},
		{"one segment", testutil.NewRequest().POST("/x"), http.StatusBadRequest, "Bad Request"},
		{"three segments", testutil.NewRequest().POST("/x/y/z"), http.StatusBadRequest, "Bad Request"},
		{"three segments of real target", testutil.NewRequest().POST("/math/add/extra").WithBody(`{"x":2,"y":3}`), http.StatusBadRequest, "Bad Request"},
		{"root", testutil.NewRequest().GET("/"), http.StatusBadRequest, "Bad Request"},
		{"empty segments collapse", testutil.NewRequest().POST("//math//add/").WithBody(`{"x":1,"y":1}`), http.StatusOK, "2"},
		{"any method", testutil.NewRequest().GET("/math/add").WithBody(`{"x":1,"y":2}`), http.StatusOK, "3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := tt.req.Serve(h)
			testutil.AssertStatus(t, w, tt.status)
			testutil.AssertBody(t, w, tt.body)
		})
	}
}

func TestServer_BadPathSkipsDispatcher(t *testing.T) {
	hook := &recordingHook{}
	d := mathDispatcher(t).WithHook(hook)
	h := NewServer("", d).WithLogger(slog.New(slog.DiscardHandler)).Handler()

	testutil.NewRequest().POST("/math").Serve(h)
	testutil.NewRequest().POST("/math/add/x").Serve(h)

	if len(hook.started) != 0 {
		t.Errorf("expected no dispatches, got %d", len(hook.started))
	}
}

func TestServer_ContentTypes(t *testing.T) {
	h := mathServer(t).Handler()

	w := testutil.NewRequest().Call("math", "add").WithBody(`{"x":2,"y":3}`).Serve(h)
	testutil.AssertJSONResponse(t, w, 5)

	w = testutil.NewRequest().Call("math", "add").Serve(h)
	testutil.AssertHeader(t, w, "Content-Type", "text/plain; charset=utf-8")

	w = testutil.NewRequest().Call("math", "noop").Serve(h)
	testutil.AssertStatus(t, w, http.StatusOK)
	testutil.AssertHeader(t, w, "Content-Type", "")
	testutil.AssertBody(t, w, "")
}

func TestServer_MaxRequestBodySize(t *testing.T) {
	h := mathServer(t).WithMaxRequestBodySize(8).Handler()

	w := testutil.NewRequest().Call("math", "add").WithBody(`{"x":2,"y":3}`).Serve(h)
	testutil.AssertText(t, w, http.StatusBadRequest, "Bad Request")
}

func TestServer_PathPrefix(t *testing.T) {
	h := mathServer(t).WithPathPrefix("/api/").Handler()

	w := testutil.NewRequest().POST("/api/math/add").WithBody(`{"x":2,"y":3}`).Serve(h)
	testutil.AssertStatus(t, w, http.StatusOK)
	testutil.AssertBody(t, w, "5")

	w = testutil.NewRequest().POST("/math/add").WithBody(`{"x":2,"y":3}`).Serve(h)
	testutil.AssertStatus(t, w, http.StatusNotFound)

	w = testutil.NewRequest().POST("/apifoo/math/add").Serve(h)
	testutil.AssertStatus(t, w, http.StatusNotFound)

	w = testutil.NewRequest().GET("/api/generated.js").Serve(h)
	testutil.AssertStatus(t, w, http.StatusOK)
	testutil.AssertBodyContains(t, w, `dynvoke.endpoint = "/api";`)
}

func TestServer_GeneratedJS(t *testing.T) {
	s := mathServer(t)
	h := s.Handler()

	w := testutil.NewRequest().GET("/generated.js").Serve(h)
	testutil.AssertStatus(t, w, http.StatusOK)
	testutil.AssertHeader(t, w, "Content-Type", "application/javascript")
	testutil.AssertBodyContains(t, w, "math.add")
	testutil.AssertBodyContains(t, w, `{x: params.x, y: params.y}`)

	w = testutil.NewRequest().GET("/generated.js").WithQuery("namespace", "calc").WithQuery("angular", "true").Serve(h)
	testutil.AssertStatus(t, w, http.StatusOK)
	testutil.AssertBodyContains(t, w, "var calc = {};")
	testutil.AssertBodyContains(t, w, `"calcService"`)

	w = testutil.NewRequest().GET("/generated.js").WithQuery("namespace", "not-valid").Serve(h)
	testutil.AssertStatus(t, w, http.StatusBadRequest)

	w = testutil.NewRequest().GET("/generated.js").WithQuery("angular", "maybe").Serve(h)
	testutil.AssertStatus(t, w, http.StatusBadRequest)
}

func TestServer_GeneratedJSIsCached(t *testing.T) {
	s := mathServer(t).WithStubOptions(jsgen.Options{Namespace: "api"})

	first := s.stub(jsgen.Options{Namespace: "api"}.Normalize())
	second := s.stub(jsgen.Options{Namespace: "api"}.Normalize())
	if &first[0] != &second[0] {
		t.Error("expected cached stub to be reused")
	}

	w := testutil.NewRequest().GET("/generated.js").Serve(s.Handler())
	testutil.AssertBodyContains(t, w, "var api = {};")
}

func TestServer_HandlerAccessToRequest(t *testing.T) {
	reg := NewRegistry().WithLogger(slog.New(slog.DiscardHandler))
	reg.Group("http").Action("agent", func(ctx context.Context) string {
		SetHeader(ctx, "X-Handled", "yes")
		return RequestFromContext(ctx).UserAgent()
	})
	h := NewServer("", NewDispatcher(reg)).WithLogger(slog.New(slog.DiscardHandler)).Handler()

	w := testutil.NewRequest().Call("http", "agent").WithHeader("User-Agent", "probe/1").Serve(h)
	testutil.AssertBody(t, w, `"probe/1"`)
	testutil.AssertHeader(t, w, "X-Handled", "yes")
}

func TestServer_Middleware(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := mathServer(t).WithMiddleware(mw("outer")).WithMiddleware(mw("inner")).Handler()
	testutil.NewRequest().Call("math", "noop").Serve(h)

	if strings.Join(order, ",") != "outer,inner" {
		t.Errorf("expected first middleware outermost, got %v", order)
	}
}

// countingListener counts Close calls on the real listener.
type countingListener struct {
	net.Listener
	closes atomic.Int32
}

func (l *countingListener) Close() error {
	l.closes.Add(1)
	return l.Listener.Close()
}

func listen(t *testing.T) *countingListener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return &countingListener{Listener: ln}
}

func noKeepAliveClient() *http.Client {
	return &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
}

func TestServer_StopDrainsInFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	reg := NewRegistry().WithLogger(slog.New(slog.DiscardHandler))
	reg.Group("slow").Action("wait", func() string {
		close(entered)
		<-release
		return "done"
	})
	s := NewServer("", NewDispatcher(reg).WithLogger(slog.New(slog.DiscardHandler))).
		WithLogger(slog.New(slog.DiscardHandler))

	ln := listen(t)
	if err := s.StartListener(ln); err != nil {
		t.Fatalf("start: %v", err)
	}
	if s.State() != StateListening {
		t.Fatalf("expected listening, got %s", s.State())
	}
	url := "http://" + s.Addr().String()

	type result struct {
		body string
		err  error
	}
	resc := make(chan result, 1)
	go func() {
		resp, err := noKeepAliveClient().Post(url+"/slow/wait", "application/json", nil)
		if err != nil {
			resc <- result{err: err}
			return
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		resc <- result{body: string(b), err: err}
	}()
	<-entered

	if n := s.InFlight(); n != 1 {
		t.Errorf("expected 1 connection in flight, got %d", n)
	}

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop() }()

	select {
	case <-stopped:
		t.Fatal("expected Stop to wait for the in-flight request")
	case <-time.After(100 * time.Millisecond):
	}
	if s.State() != StateDraining {
		t.Errorf("expected draining, got %s", s.State())
	}

	close(release)
	if err := <-stopped; err != nil {
		t.Fatalf("stop: %v", err)
	}
	res := <-resc
	if res.err != nil {
		t.Fatalf("in-flight request failed: %v", res.err)
	}
	if res.body != `"done"` {
		t.Errorf("expected in-flight request to complete, got %q", res.body)
	}
	if s.State() != StateStopped {
		t.Errorf("expected stopped, got %s", s.State())
	}

	if _, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second); err == nil {
		t.Error("expected new connections to be refused after Stop")
	}
}

func TestServer_StopAndCloseReleaseOnce(t *testing.T) {
	s := mathServer(t)
	ln := listen(t)
	if err := s.StartListener(ln); err != nil {
		t.Fatalf("start: %v", err)
	}

	resp, err := noKeepAliveClient().Post("http://"+s.Addr().String()+"/math/add", "application/json", strings.NewReader(`{"x":2,"y":3}`))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(b) != "5" {
		t.Errorf("expected 5, got %q", b)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if n := ln.closes.Load(); n != 1 {
		t.Errorf("expected listener to be closed once, got %d", n)
	}
	if s.Addr() != nil {
		t.Error("expected no address after stop")
	}

	if err := s.Start(); !errors.Is(err, ErrServerClosed) {
		t.Errorf("expected ErrServerClosed after Close, got %v", err)
	}
}

func TestServer_RestartAfterStop(t *testing.T) {
	s := mathServer(t)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(); !errors.Is(err, ErrServerRunning) {
		t.Errorf("expected ErrServerRunning, got %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestServer_Run(t *testing.T) {
	s := mathServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for s.State() != StateListening {
		if time.Now().After(deadline) {
			t.Fatal("server did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if s.State() != StateStopped {
		t.Errorf("expected stopped, got %s", s.State())
	}
}

func TestServer_ConcurrentStopWaits(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	reg := NewRegistry().WithLogger(slog.New(slog.DiscardHandler))
	reg.Group("slow").Action("wait", func() {
		close(entered)
		<-release
	})
	s := NewServer("127.0.0.1:0", NewDispatcher(reg).WithLogger(slog.New(slog.DiscardHandler))).
		WithLogger(slog.New(slog.DiscardHandler))
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	go noKeepAliveClient().Post("http://"+s.Addr().String()+"/slow/wait", "application/json", nil)
	<-entered

	first := make(chan error, 1)
	second := make(chan error, 1)
	go func() { first <- s.Stop() }()
	for s.State() != StateDraining {
		time.Sleep(time.Millisecond)
	}
	go func() { second <- s.Stop() }()

	select {
	case <-second:
		t.Fatal("expected concurrent Stop to wait for the drain")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	if err := <-first; err != nil {
		t.Errorf("first stop: %v", err)
	}
	if err := <-second; err != nil {
		t.Errorf("second stop: %v", err)
	}
}

func TestState_String(t *testing.T) {
	for state, want := range map[State]string{
		StateStopped:   "stopped",
		StateListening: "listening",
		StateDraining:  "draining",
		State(9):       "unknown",
	} {
		if got := state.String(); got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	}
}

package devtools

import (
	"log/slog"
	"net/http"
	"reflect"
	"runtime"
	"testing"

	"github.com/broady/dynvoke"
	"github.com/broady/dynvoke/testutil"
)

func newHandler(t *testing.T) http.Handler {
	t.Helper()
	reg := dynvoke.NewRegistry().WithLogger(slog.New(slog.DiscardHandler))
	reg.Group("math").Action("add", func(x, y int) int { return x + y }, "x", "y")
	Register(reg)
	d := dynvoke.NewDispatcher(reg).WithLogger(slog.New(slog.DiscardHandler))
	return dynvoke.NewServer("", d).WithLogger(slog.New(slog.DiscardHandler)).Handler()
}

func TestPing(t *testing.T) {
	w := testutil.NewRequest().Call(Group, "ping").Serve(newHandler(t))
	testutil.AssertStatus(t, w, http.StatusOK)
	testutil.AssertJSONResponse(t, w, PingResponse{OK: true})
}

func TestInfo(t *testing.T) {
	w := testutil.NewRequest().Call(Group, "info").Serve(newHandler(t))
	testutil.AssertStatus(t, w, http.StatusOK)

	var info InfoResponse
	testutil.DecodeJSON(t, w, &info)
	if info.Version != runtime.Version() {
		t.Errorf("expected version %s, got %s", runtime.Version(), info.Version)
	}
	if info.NumCPU < 1 || info.NumGoroutines < 1 {
		t.Errorf("unexpected runtime info %+v", info)
	}
}

func TestStatus(t *testing.T) {
	w := testutil.NewRequest().Call(Group, "status").Serve(newHandler(t))
	testutil.AssertStatus(t, w, http.StatusOK)

	var status StatusResponse
	testutil.DecodeJSON(t, w, &status)
	if !status.OK {
		t.Error("expected built registry")
	}
	want := map[string][]string{
		"devtools": {"info", "ping", "status"},
		"math":     {"add"},
	}
	if !reflect.DeepEqual(status.Groups, want) {
		t.Errorf("expected groups %v, got %v", want, status.Groups)
	}
	if got := status.Params["math.add"]; !reflect.DeepEqual(got, []string{"x", "y"}) {
		t.Errorf("expected params [x y], got %v", got)
	}
}

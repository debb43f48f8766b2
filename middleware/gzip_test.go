package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/broady/dynvoke/testutil"
)

func TestGzip_CompressesLargeResponses(t *testing.T) {
	body := strings.Repeat(`{"x":1}`, 200)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	})
	mw, err := Gzip(64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w := testutil.NewRequest().
		Call("math", "add").
		WithHeader("Accept-Encoding", "gzip").
		Serve(mw(next))

	testutil.AssertHeader(t, w, "Content-Encoding", "gzip")
	zr, err := gzip.NewReader(w.Body)
	if err != nil {
		t.Fatalf("expected gzip body: %v", err)
	}
	got, _ := io.ReadAll(zr)
	if string(got) != body {
		t.Error("decompressed body mismatch")
	}
}

func TestGzip_SkipsSmallAndUnaccepted(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("5"))
	})
	mw, err := Gzip(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w := testutil.NewRequest().Call("math", "add").WithHeader("Accept-Encoding", "gzip").Serve(mw(next))
	testutil.AssertHeader(t, w, "Content-Encoding", "")
	testutil.AssertBody(t, w, "5")

	w = testutil.NewRequest().Call("math", "add").Serve(mw(next))
	testutil.AssertHeader(t, w, "Content-Encoding", "")
}

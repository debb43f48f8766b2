// Package testutil builds requests against dynvoke HTTP endpoints and checks
// their responses. It does not import dynvoke, so dynvoke's own tests can use it.
package testutil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
)

// RequestBuilder assembles one test request.
type RequestBuilder struct {
	method string
	path   string
	body   []byte
	header http.Header
	query  url.Values
}

// NewRequest starts a GET / request.
func NewRequest() *RequestBuilder {
	return &RequestBuilder{
		method: http.MethodGet,
		path:   "/",
		header: make(http.Header),
		query:  make(url.Values),
	}
}

// GET sets the method to GET and the path.
func (b *RequestBuilder) GET(path string) *RequestBuilder {
	b.method, b.path = http.MethodGet, path
	return b
}

// POST sets the method to POST and the path.
func (b *RequestBuilder) POST(path string) *RequestBuilder {
	b.method, b.path = http.MethodPost, path
	return b
}

// Method sets an arbitrary method, e.g. OPTIONS for preflight requests.
func (b *RequestBuilder) Method(method, path string) *RequestBuilder {
	b.method, b.path = method, path
	return b
}

// Call is shorthand for POST /{group}/{action}.
func (b *RequestBuilder) Call(group, action string) *RequestBuilder {
	return b.POST("/" + group + "/" + action)
}

// WithJSON encodes v as the body. A nil v sends JSON null.
func (b *RequestBuilder) WithJSON(v any) *RequestBuilder {
	data, _ := json.Marshal(v)
	b.body = data
	b.header.Set("Content-Type", "application/json")
	return b
}

// WithBody sets the raw body.
func (b *RequestBuilder) WithBody(body string) *RequestBuilder {
	b.body = []byte(body)
	return b
}

// WithHeader sets a request header.
func (b *RequestBuilder) WithHeader(key, value string) *RequestBuilder {
	b.header.Set(key, value)
	return b
}

// WithRequestID sets the X-Request-Id header.
func (b *RequestBuilder) WithRequestID(id string) *RequestBuilder {
	return b.WithHeader("X-Request-Id", id)
}

// WithQuery adds a query parameter.
func (b *RequestBuilder) WithQuery(key, value string) *RequestBuilder {
	b.query.Add(key, value)
	return b
}

// Build returns the request and a fresh recorder.
func (b *RequestBuilder) Build() (*http.Request, *httptest.ResponseRecorder) {
	target := b.path
	if len(b.query) > 0 {
		target += "?" + b.query.Encode()
	}
	req := httptest.NewRequest(b.method, target, bytes.NewReader(b.body))
	for k, vs := range b.header {
		req.Header[k] = append([]string(nil), vs...)
	}
	return req, httptest.NewRecorder()
}

// Serve builds the request and serves it with h.
func (b *RequestBuilder) Serve(h http.Handler) *httptest.ResponseRecorder {
	req, w := b.Build()
	h.ServeHTTP(w, req)
	return w
}

// AssertStatus checks the status code.
func AssertStatus(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int) {
	t.Helper()
	if w.Code != expectedStatus {
		t.Errorf("expected status %d, got %d\nBody: %s", expectedStatus, w.Code, w.Body.String())
	}
}

// AssertBody checks that the body is exactly expected.
func AssertBody(t *testing.T, w *httptest.ResponseRecorder, expected string) {
	t.Helper()
	if got := w.Body.String(); got != expected {
		t.Errorf("expected body %q, got %q", expected, got)
	}
}

// AssertBodyContains checks that the body contains substr.
func AssertBodyContains(t *testing.T, w *httptest.ResponseRecorder, substr string) {
	t.Helper()
	if !strings.Contains(w.Body.String(), substr) {
		t.Errorf("expected body to contain %q\nBody: %s", substr, w.Body.String())
	}
}

// AssertText checks a fixed-text response such as 404 "Not Found".
func AssertText(t *testing.T, w *httptest.ResponseRecorder, status int, text string) {
	t.Helper()
	AssertStatus(t, w, status)
	AssertBody(t, w, text)
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("expected text/plain response, got %q", ct)
	}
}

// AssertJSONResponse checks the content type and compares the decoded body
// with expected after a JSON round trip, so formatting and key order do not matter.
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expected any) {
	t.Helper()
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Errorf("expected Content-Type to contain application/json, got %s", ct)
	}

	want, err := normalizeJSON(mustMarshal(t, expected))
	if err != nil {
		t.Fatalf("invalid expected value: %v", err)
	}
	got, err := normalizeJSON(w.Body.Bytes())
	if err != nil {
		t.Fatalf("response is not JSON: %v\nBody: %s", err, w.Body.String())
	}
	if !reflect.DeepEqual(want, got) {
		t.Errorf("response mismatch:\nExpected: %v\nActual:   %v", want, got)
	}
}

// AssertHeader checks a response header.
func AssertHeader(t *testing.T, w *httptest.ResponseRecorder, key, expectedValue string) {
	t.Helper()
	if actual := w.Header().Get(key); actual != expectedValue {
		t.Errorf("expected header %s=%s, got %s", key, expectedValue, actual)
	}
}

// DecodeJSON decodes the body into v.
func DecodeJSON(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode response: %v\nBody: %s", err, w.Body.String())
	}
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func normalizeJSON(data []byte) (any, error) {
	var v any
	err := json.Unmarshal(data, &v)
	return v, err
}

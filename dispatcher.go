package dynvoke

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

const (
	contentTypeJSON = "application/json"
	contentTypeText = "text/plain; charset=utf-8"
)

// Response is the transport-neutral result of a dispatch.
type Response struct {
	StatusCode  int
	ContentType string // empty when Body is empty
	Body        []byte
}

// errorResponse renders the fixed text for the error's code.
func errorResponse(e *Error) Response {
	return Response{
		StatusCode:  e.Code.HTTPStatus(),
		ContentType: contentTypeText,
		Body:        []byte(e.Code.Text()),
	}
}

// Dispatcher looks up targets, resolves their arguments and invokes them.
// Every failure is converted to a [Response]; Handle never panics.
type Dispatcher struct {
	reg    *Registry
	logger *slog.Logger
	hooks  []DispatchHook
}

// NewDispatcher creates a dispatcher over reg, building reg if needed.
func NewDispatcher(reg *Registry) *Dispatcher {
	reg.Build()
	return &Dispatcher{reg: reg}
}

// WithLogger sets a custom logger for the dispatcher.
// If not set, slog.Default() will be used.
func (d *Dispatcher) WithLogger(logger *slog.Logger) *Dispatcher {
	d.logger = logger
	return d
}

// WithHook adds a dispatch hook. Hooks start in the order added and end in reverse.
func (d *Dispatcher) WithHook(h DispatchHook) *Dispatcher {
	d.hooks = append(d.hooks, h)
	return d
}

// Registry returns the registry the dispatcher serves.
func (d *Dispatcher) Registry() *Registry { return d.reg }

func (d *Dispatcher) log() *slog.Logger {
	if d.logger == nil {
		return slog.Default()
	}
	return d.logger
}

// Handle dispatches one request to group.action with a JSON object body.
func (d *Dispatcher) Handle(ctx context.Context, group, action string, body []byte) Response {
	start := time.Now()
	logger := d.log()

	info, _ := DispatchInfoFromContext(ctx)
	info.Group = strings.ToLower(group)
	info.Action = strings.ToLower(action)
	ctx = context.WithValue(ctx, dispatchInfoKey{}, info)

	ctx, tokens := hookStart(ctx, d.hooks, info, logger)

	resp, err := d.dispatch(ctx, group, action, body)
	var dErr *Error
	if err != nil {
		dErr = asError(err)
		resp = errorResponse(dErr)
	}
	duration := time.Since(start)

	result := DispatchResult{
		StatusCode: resp.StatusCode,
		Duration:   duration,
		Err:        err,
	}
	if dErr != nil {
		result.Code = dErr.Code
	}
	hookEnd(ctx, d.hooks, tokens, info, result, logger)

	route := info.Group + "." + info.Action
	attrs := []any{
		slog.String("route", route),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", duration),
	}
	switch {
	case dErr == nil:
		logger.DebugContext(ctx, "request handled", attrs...)
	case dErr.Code == CodeServerError:
		logger.ErrorContext(ctx, "request failed", append(attrs, slog.Any("error", err))...)
	default:
		logger.DebugContext(ctx, "request rejected", append(attrs, slog.Any("error", err))...)
	}
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, group, action string, body []byte) (resp Response, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			d.log().Error("PANIC recovered",
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())))
			err = Errorf(CodeServerError, "panic: %v", rec)
		}
	}()

	t, ok := d.reg.Lookup(group, action)
	if !ok {
		return Response{}, Errorf(CodeNotFound, "no target %s", targetKey(group, action))
	}

	src, err := NewJSONSource(body)
	if err != nil {
		return Response{}, err
	}

	call := d.reg.Resolve(ctx, t, src)
	if unused := src.Unused(); len(unused) > 0 {
		d.log().DebugContext(ctx, "ignoring unmatched properties",
			slog.String("route", t.Key()),
			slog.Any("properties", unused))
	}
	if !call.Ready() {
		missing := call.Missing()
		return Response{}, Errorf(CodeMissingArguments, "%s missing %s", t.Key(), strings.Join(missing, ", ")).
			WithDetail("missing", missing)
	}

	result, err := call.Invoke(ctx)
	if err != nil {
		return Response{}, err
	}
	if t.Void() {
		return Response{StatusCode: http.StatusOK}, nil
	}
	b, err := json.Marshal(result)
	if err != nil {
		return Response{}, fmt.Errorf("encode result: %w", err)
	}
	return Response{
		StatusCode:  http.StatusOK,
		ContentType: contentTypeJSON,
		Body:        b,
	}, nil
}

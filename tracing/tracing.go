// Package tracing adds OpenTelemetry spans and metrics to dynvoke dispatch.
// It implements [dynvoke.DispatchHook].
//
// Usage:
//
//	hook := tracing.New(tracing.DefaultConfig())
//	d := dynvoke.NewDispatcher(reg).WithHook(hook)
package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/broady/dynvoke"
)

const instrumentationName = "github.com/broady/dynvoke"

// Config configures the hook.
type Config struct {
	// TracerProvider supplies the tracer. Defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider
	// MeterProvider supplies the meter. Defaults to otel.GetMeterProvider().
	MeterProvider metric.MeterProvider
	// Propagator extracts the caller's trace context from HTTP headers.
	// Defaults to otel.GetTextMapPropagator().
	Propagator propagation.TextMapPropagator
	// EnableMetrics records a request counter and duration histogram. Default true.
	EnableMetrics bool
	// ServiceName is the rpc.service attribute value. Default "dynvoke".
	ServiceName string
	// Attributes are added to every span.
	Attributes []attribute.KeyValue
}

// DefaultConfig returns a Config that uses the global OpenTelemetry providers.
func DefaultConfig() Config {
	return Config{EnableMetrics: true}
}

// Hook is a dynvoke.DispatchHook creating one server span per request.
type Hook struct {
	cfg      Config
	tracer   trace.Tracer
	requests metric.Int64Counter
	duration metric.Float64Histogram
}

// New creates a Hook from cfg, filling unset providers from the global SDK.
func New(cfg Config) *Hook {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	if cfg.Propagator == nil {
		cfg.Propagator = otel.GetTextMapPropagator()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "dynvoke"
	}

	h := &Hook{
		cfg:    cfg,
		tracer: cfg.TracerProvider.Tracer(instrumentationName),
	}
	if cfg.EnableMetrics {
		meter := cfg.MeterProvider.Meter(instrumentationName)
		h.requests, _ = meter.Int64Counter("rpc.server.requests",
			metric.WithUnit("{request}"),
			metric.WithDescription("Number of dispatched requests"),
		)
		h.duration, _ = meter.Float64Histogram("rpc.server.duration",
			metric.WithUnit("s"),
			metric.WithDescription("Duration of dispatched requests"),
		)
	}
	return h
}

func (h *Hook) OnDispatchStart(ctx context.Context, info dynvoke.DispatchInfo) (context.Context, dynvoke.HookToken) {
	// A transport that is not HTTP extracts its own parent context before dispatch.
	if r := dynvoke.RequestFromContext(ctx); r != nil {
		ctx = h.cfg.Propagator.Extract(ctx, propagation.HeaderCarrier(r.Header))
	}

	attrs := []attribute.KeyValue{
		attribute.String("rpc.system", "dynvoke"),
		attribute.String("rpc.service", h.cfg.ServiceName),
		attribute.String("rpc.method", info.Group+"."+info.Action),
		attribute.String("dynvoke.group", info.Group),
		attribute.String("dynvoke.action", info.Action),
	}
	if info.Transport != "" {
		attrs = append(attrs, attribute.String("dynvoke.transport", info.Transport))
	}
	if info.RequestID != "" {
		attrs = append(attrs, attribute.String("dynvoke.request_id", info.RequestID))
	}
	attrs = append(attrs, h.cfg.Attributes...)

	ctx, span := h.tracer.Start(ctx, "dynvoke/"+info.Group+"."+info.Action,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)
	return ctx, span
}

func (h *Hook) OnDispatchEnd(ctx context.Context, token dynvoke.HookToken, info dynvoke.DispatchInfo, result dynvoke.DispatchResult) {
	span, ok := token.(trace.Span)
	if !ok {
		return
	}

	if h.cfg.EnableMetrics && h.requests != nil {
		opt := metric.WithAttributes(
			attribute.String("rpc.service", h.cfg.ServiceName),
			attribute.String("rpc.method", info.Group+"."+info.Action),
			attribute.Int("http.response.status_code", result.StatusCode),
		)
		h.requests.Add(ctx, 1, opt)
		h.duration.Record(ctx, result.Duration.Seconds(), opt)
	}

	span.SetAttributes(attribute.Int("http.response.status_code", result.StatusCode))
	switch {
	case result.StatusCode >= http.StatusInternalServerError:
		if result.Err != nil {
			span.RecordError(result.Err)
			span.SetStatus(codes.Error, result.Err.Error())
		} else {
			span.SetStatus(codes.Error, result.Code.Text())
		}
	case result.Code != "":
		span.SetAttributes(attribute.String("dynvoke.error_code", string(result.Code)))
		span.SetStatus(codes.Ok, "")
	default:
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

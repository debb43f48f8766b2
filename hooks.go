package dynvoke

import (
	"context"
	"log/slog"
	"time"
)

// DispatchInfo identifies one request as it enters the dispatcher.
type DispatchInfo struct {
	Group     string
	Action    string
	Transport string // "http", "nats", or empty when called directly
	RequestID string
}

// DispatchResult describes how a request finished.
type DispatchResult struct {
	StatusCode int
	Code       ErrorCode // empty on success
	Duration   time.Duration
	Err        error // the underlying failure, if any
}

// HookToken is an opaque value passed from OnDispatchStart to OnDispatchEnd.
type HookToken any

// DispatchHook observes every dispatch. OnDispatchStart may return a derived
// context that is used for the rest of the request. Panics in hooks are
// recovered and logged; they never change the response.
type DispatchHook interface {
	OnDispatchStart(ctx context.Context, info DispatchInfo) (context.Context, HookToken)
	OnDispatchEnd(ctx context.Context, token HookToken, info DispatchInfo, result DispatchResult)
}

type dispatchInfoKey struct{}

// WithDispatchInfo returns a context carrying transport details for the dispatcher.
// Transports call this before Handle.
func WithDispatchInfo(ctx context.Context, transport, requestID string) context.Context {
	return context.WithValue(ctx, dispatchInfoKey{}, DispatchInfo{Transport: transport, RequestID: requestID})
}

// DispatchInfoFromContext returns the request being dispatched, if any.
// Inside a handler it includes the group and action.
func DispatchInfoFromContext(ctx context.Context) (DispatchInfo, bool) {
	info, ok := ctx.Value(dispatchInfoKey{}).(DispatchInfo)
	return info, ok
}

// hookStart runs OnDispatchStart for each hook, recovering panics.
func hookStart(ctx context.Context, hooks []DispatchHook, info DispatchInfo, logger *slog.Logger) (context.Context, []HookToken) {
	tokens := make([]HookToken, len(hooks))
	for i, h := range hooks {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("dispatch hook panicked",
						slog.String("phase", "start"),
						slog.Any("panic", rec))
				}
			}()
			next, token := h.OnDispatchStart(ctx, info)
			if next != nil {
				ctx = next
			}
			tokens[i] = token
		}()
	}
	return ctx, tokens
}

// hookEnd runs OnDispatchEnd in reverse order, recovering panics.
func hookEnd(ctx context.Context, hooks []DispatchHook, tokens []HookToken, info DispatchInfo, result DispatchResult, logger *slog.Logger) {
	for i := len(hooks) - 1; i >= 0; i-- {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("dispatch hook panicked",
						slog.String("phase", "end"),
						slog.Any("panic", rec))
				}
			}()
			hooks[i].OnDispatchEnd(ctx, tokens[i], info, result)
		}()
	}
}

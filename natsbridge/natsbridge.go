// Package natsbridge serves a dynvoke Dispatcher over NATS request/reply.
//
// A request published to "{prefix}.{group}.{action}" is dispatched with the
// message data as the JSON body. The reply is an [Envelope].
package natsbridge

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/broady/dynvoke"
)

// DefaultPrefix is the subject prefix used when Options.SubjectPrefix is empty.
const DefaultPrefix = "dynvoke"

// Envelope is the reply to every request.
type Envelope struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType,omitempty"`
	Body        string `json:"body"`
}

// Options configures a Bridge.
type Options struct {
	// SubjectPrefix is the first subject token. Default "dynvoke".
	SubjectPrefix string
	// Queue is the queue group shared by bridge instances. Empty subscribes without one.
	Queue string
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Propagator extracts trace context from message headers.
	// Defaults to otel.GetTextMapPropagator().
	Propagator propagation.TextMapPropagator
}

// Bridge subscribes to the prefix and dispatches each message on its own goroutine.
type Bridge struct {
	nc         *nats.Conn
	dispatcher *dynvoke.Dispatcher
	prefix     string
	logger     *slog.Logger
	propagator propagation.TextMapPropagator

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	sub    *nats.Subscription
	once   sync.Once
	err    error
}

// New subscribes to "{prefix}.>" on nc.
func New(nc *nats.Conn, d *dynvoke.Dispatcher, opts Options) (*Bridge, error) {
	if nc == nil || d == nil {
		return nil, errors.New("natsbridge: connection and dispatcher are required")
	}
	b := &Bridge{
		nc:         nc,
		dispatcher: d,
		prefix:     strings.Trim(opts.SubjectPrefix, "."),
		logger:     opts.Logger,
		propagator: opts.Propagator,
	}
	if b.prefix == "" {
		b.prefix = DefaultPrefix
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	if b.propagator == nil {
		b.propagator = otel.GetTextMapPropagator()
	}

	subject := b.prefix + ".>"
	var err error
	if opts.Queue != "" {
		b.sub, err = nc.QueueSubscribe(subject, opts.Queue, b.receive)
	} else {
		b.sub, err = nc.Subscribe(subject, b.receive)
	}
	if err != nil {
		return nil, err
	}
	b.logger.Info("nats bridge subscribed",
		slog.String("subject", subject),
		slog.String("queue", opts.Queue))
	return b, nil
}

// Subject returns the subject that reaches group.action.
func (b *Bridge) Subject(group, action string) string {
	return b.prefix + "." + group + "." + action
}

func (b *Bridge) receive(msg *nats.Msg) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		b.handle(msg)
	}()
}

func (b *Bridge) handle(msg *nats.Msg) {
	tokens := strings.Split(strings.TrimPrefix(msg.Subject, b.prefix+"."), ".")
	if len(tokens) != 2 || tokens[0] == "" || tokens[1] == "" {
		b.reply(msg, dynvoke.Response{
			StatusCode:  dynvoke.CodeBadRequest.HTTPStatus(),
			ContentType: "text/plain; charset=utf-8",
			Body:        []byte(dynvoke.CodeBadRequest.Text()),
		})
		return
	}

	ctx := context.Background()
	requestID := uuid.NewString()
	if msg.Header != nil {
		ctx = b.propagator.Extract(ctx, propagation.HeaderCarrier(http.Header(msg.Header)))
		if id := msg.Header.Get(dynvoke.RequestIDHeader); id != "" {
			requestID = id
		}
	}
	ctx = dynvoke.WithDispatchInfo(ctx, "nats", requestID)

	b.reply(msg, b.dispatcher.Handle(ctx, tokens[0], tokens[1], msg.Data))
}

func (b *Bridge) reply(msg *nats.Msg, resp dynvoke.Response) {
	if msg.Reply == "" {
		b.logger.Debug("no reply subject, dropping response",
			slog.String("subject", msg.Subject),
			slog.Int("status", resp.StatusCode))
		return
	}
	data, err := json.Marshal(Envelope{
		Status:      resp.StatusCode,
		ContentType: resp.ContentType,
		Body:        string(resp.Body),
	})
	if err != nil {
		b.logger.Error("failed to encode reply", slog.Any("error", err))
		return
	}
	if err := msg.Respond(data); err != nil {
		b.logger.Warn("failed to send reply",
			slog.String("subject", msg.Subject),
			slog.Any("error", err))
	}
}

// Close drains the subscription, then waits for every dispatched message to
// be answered. It is safe to call more than once.
func (b *Bridge) Close() error {
	b.once.Do(func() {
		if err := b.sub.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			b.err = err
		}
		for b.sub.IsValid() && !b.nc.IsClosed() {
			time.Sleep(5 * time.Millisecond)
		}

		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
		b.wg.Wait()
		b.logger.Info("nats bridge closed", slog.String("prefix", b.prefix))
	})
	return b.err
}

// Request is a client helper: it calls group.action through the bridge and
// decodes the reply envelope.
func Request(ctx context.Context, nc *nats.Conn, prefix, group, action string, body []byte) (Envelope, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	msg, err := nc.RequestWithContext(ctx, prefix+"."+group+"."+action, body)
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

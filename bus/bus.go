// Package bus is the request/response channel between the page context, the
// background coordinator, and panel callers. Every exchange is a typed
// envelope; a request receives exactly one reply, or an error when the
// receiving context is unreachable. The bus serializes nothing across
// requests: each Request is an independent round-trip.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrUnreachable is returned when a message's receiving context has no
// registered handler (e.g. the page was navigated away). Callers must treat
// a missing reply as failure.
var ErrUnreachable = errors.New("bus: receiving context unreachable")

// UnknownTypeError is the terminal case for a tag outside the closed
// message set.
type UnknownTypeError struct {
	Tag Type
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("bus: unknown message type %q", e.Tag)
}

// Handler processes one request and returns its reply. Handlers for
// fire-and-forget messages may return nil.
type Handler func(ctx context.Context, msg Message) (Message, error)

// Bus routes envelopes to per-tag handlers. Handlers run on the caller's
// goroutine boundary asynchronously; Request blocks until the reply arrives
// or ctx is done.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type]Handler
	logger   *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// New creates an empty Bus. Contexts register their handlers with Handle.
func New(opts ...Option) *Bus {
	b := &Bus{
		handlers: make(map[Type]Handler),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Handle registers the handler for a tag, replacing any previous one.
func (b *Bus) Handle(t Type, h Handler) {
	b.mu.Lock()
	b.handlers[t] = h
	b.mu.Unlock()
}

// Unhandle removes the handler for a tag, simulating a context going away.
func (b *Bus) Unhandle(t Type) {
	b.mu.Lock()
	delete(b.handlers, t)
	b.mu.Unlock()
}

type reply struct {
	msg Message
	err error
}

// Request sends msg and waits for its single reply. An unregistered known
// tag yields ErrUnreachable; a tag outside the closed set yields
// *UnknownTypeError. When ctx ends first, the caller sees ctx.Err(); the
// in-flight handler is not interrupted (the pipeline has no internal
// timeout; bounding the wait is the caller's choice).
func (b *Bus) Request(ctx context.Context, msg Message) (Message, error) {
	h, err := b.lookup(msg.Type())
	if err != nil {
		return nil, err
	}

	ch := make(chan reply, 1)
	go func() {
		m, err := h(ctx, msg)
		ch <- reply{msg: m, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("bus: no reply for %q: %w", msg.Type(), ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("bus: %q: %w", msg.Type(), r.err)
		}
		return r.msg, nil
	}
}

// Notify sends a message that requires no reply. Delivery to a missing
// receiver is logged and dropped rather than surfaced: the sender of a
// fire-and-forget message has nothing to do with the failure.
func (b *Bus) Notify(ctx context.Context, msg Message) {
	h, err := b.lookup(msg.Type())
	if err != nil {
		b.logger.Debug("bus: notify dropped", "type", string(msg.Type()), "error", err)
		return
	}
	go func() {
		if _, err := h(ctx, msg); err != nil {
			b.logger.Debug("bus: notify handler failed", "type", string(msg.Type()), "error", err)
		}
	}()
}

func (b *Bus) lookup(t Type) (Handler, error) {
	if !knownTypes[t] {
		return nil, &UnknownTypeError{Tag: t}
	}
	b.mu.RLock()
	h, ok := b.handlers[t]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnreachable, t)
	}
	return h, nil
}

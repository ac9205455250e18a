package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"cardvault/pkg/domain"
)

// Store persists events for observers to read back.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByToken(ctx context.Context, id domain.TokenID) ([]Event, error)
}

// Sink receives a copy of every published event. Sinks are best-effort:
// a sink failure is logged, never surfaced to the emitting operation, so a
// slow broker cannot fail a ledger write that already committed.
type Sink interface {
	Deliver(ctx context.Context, event Event) error
}

// Publisher assigns ids and timestamps, persists events, and fans out to
// sinks. Synchronous by default; WithAsyncBuffer moves persistence onto a
// worker goroutine with a drain-on-Close guarantee.
type Publisher struct {
	store  Store
	sinks  []Sink
	logger *slog.Logger

	ch     chan Event
	wg     sync.WaitGroup
	closed sync.Once
}

type Option func(*Publisher)

// WithAsyncBuffer switches the publisher to asynchronous mode with the given
// channel capacity.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		p.ch = make(chan Event, size)
	}
}

// WithSink attaches a delivery sink.
func WithSink(sink Sink) Option {
	return func(p *Publisher) {
		p.sinks = append(p.sinks, sink)
	}
}

// WithLogger sets the logger used for sink failures.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// NewPublisher builds a publisher over the given store.
func NewPublisher(store Store, opts ...Option) *Publisher {
	p := &Publisher{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	if p.ch != nil {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

// Emit publishes one event. In async mode the event is queued; a full buffer
// falls back to synchronous delivery rather than dropping the event.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if p.ch != nil {
		select {
		case p.ch <- event:
			return nil
		default:
		}
	}
	return p.deliver(context.WithoutCancel(ctx), event)
}

// ListByToken returns the persisted events for a token.
func (p *Publisher) ListByToken(ctx context.Context, id domain.TokenID) ([]Event, error) {
	return p.store.ListByToken(ctx, id)
}

// Close drains the async buffer and stops the worker.
func (p *Publisher) Close() {
	p.closed.Do(func() {
		if p.ch != nil {
			close(p.ch)
			p.wg.Wait()
		}
	})
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for event := range p.ch {
		if err := p.deliver(context.Background(), event); err != nil {
			p.logger.Error("event delivery failed", "event_id", event.ID, "action", event.Action, "error", err.Error())
		}
	}
}

func (p *Publisher) deliver(ctx context.Context, event Event) error {
	if err := p.store.Append(ctx, event); err != nil {
		return err
	}
	for _, sink := range p.sinks {
		if err := sink.Deliver(ctx, event); err != nil {
			p.logger.Warn("event sink failed",
				"event_id", event.ID,
				"action", event.Action,
				"error", err.Error(),
			)
		}
	}
	return nil
}

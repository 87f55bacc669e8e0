package core

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// EventType names a notification.
type EventType string

const (
	EventInvoiceGenerated  EventType = "invoice.generated"
	EventCashFlowConfirmed EventType = "cashflow.confirmed"
)

// Event is published after the transaction that produced it commits.
type Event struct {
	ID         uuid.UUID       `json:"id"`
	Type       EventType       `json:"type"`
	Reference  string          `json:"reference"`
	PartnerID  int64           `json:"partner_id"`
	Amount     decimal.Decimal `json:"amount"`
	OccurredAt time.Time       `json:"occurred_at"`
}

func newEvent(t EventType, reference string, partnerID int64, amount decimal.Decimal) Event {
	return Event{
		ID:         uuid.New(),
		Type:       t,
		Reference:  reference,
		PartnerID:  partnerID,
		Amount:     amount,
		OccurredAt: time.Now().UTC(),
	}
}

// Notifier is fire-and-forget. Notify must not block the caller.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) {}

// Sink delivers a single event, e.g. by e-mail or webhook.
type Sink interface {
	Deliver(ctx context.Context, e Event) error
}

// LogSink writes events to a zerolog logger.
type LogSink struct {
	Log zerolog.Logger
}

func (s LogSink) Deliver(_ context.Context, e Event) error {
	s.Log.Info().
		Str("event_id", e.ID.String()).
		Str("type", string(e.Type)).
		Str("reference", e.Reference).
		Int64("partner_id", e.PartnerID).
		Str("amount", e.Amount.StringFixed(2)).
		Msg("notification")
	return nil
}

// AsyncNotifier queues events on a bounded channel drained by one worker goroutine.
// When the queue is full the event is dropped and a warning logged.
type AsyncNotifier struct {
	queue chan Event
	sink  Sink
	log   zerolog.Logger
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewAsyncNotifier(size int, sink Sink, log zerolog.Logger) *AsyncNotifier {
	if size < 1 {
		size = 1
	}
	return &AsyncNotifier{
		queue: make(chan Event, size),
		sink:  sink,
		log:   log,
	}
}

// Start launches the delivery worker. It stops when Close is called.
func (n *AsyncNotifier) Start(ctx context.Context) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for e := range n.queue {
			if err := n.sink.Deliver(ctx, e); err != nil {
				n.log.Warn().Err(err).Str("type", string(e.Type)).Str("reference", e.Reference).Msg("notification delivery failed")
			}
		}
	}()
}

func (n *AsyncNotifier) Notify(_ context.Context, e Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		n.log.Warn().Str("type", string(e.Type)).Str("reference", e.Reference).Msg("notifier closed, event dropped")
		return
	}
	select {
	case n.queue <- e:
	default:
		n.log.Warn().Str("type", string(e.Type)).Str("reference", e.Reference).Msg("notification queue full, event dropped")
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (n *AsyncNotifier) Close() {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()
	n.wg.Wait()
}

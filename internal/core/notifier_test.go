package core

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
}

func (s *recordingSink) Deliver(_ context.Context, e Event) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestAsyncNotifier_DeliversInOrder(t *testing.T) {
	sink := &recordingSink{}
	n := NewAsyncNotifier(8, sink, zerolog.Nop())
	n.Start(context.Background())

	n.Notify(context.Background(), newEvent(EventInvoiceGenerated, "INV-2026-00001", 1, dec("99")))
	n.Notify(context.Background(), newEvent(EventCashFlowConfirmed, "RCV-2026-00001", 1, dec("99")))
	n.Close()

	if sink.count() != 2 {
		t.Fatalf("expected 2 events, got %d", sink.count())
	}
	if sink.events[0].Type != EventInvoiceGenerated || sink.events[1].Type != EventCashFlowConfirmed {
		t.Errorf("unexpected order: %s, %s", sink.events[0].Type, sink.events[1].Type)
	}
	if sink.events[0].ID == sink.events[1].ID {
		t.Error("events should have distinct ids")
	}
}

func TestAsyncNotifier_DropsWhenFull(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	n := NewAsyncNotifier(1, sink, zerolog.Nop())
	n.Start(context.Background())

	// The worker takes the first event and blocks; the second fills the queue; the
	// rest are dropped without blocking the caller.
	for i := 0; i < 10; i++ {
		n.Notify(context.Background(), newEvent(EventCashFlowConfirmed, "RCV", 1, dec("1")))
	}
	close(sink.block)
	n.Close()

	if got := sink.count(); got < 1 || got > 2 {
		t.Errorf("expected 1 or 2 delivered events, got %d", got)
	}
}

func TestAsyncNotifier_NotifyAfterClose(t *testing.T) {
	sink := &recordingSink{}
	n := NewAsyncNotifier(1, sink, zerolog.Nop())
	n.Start(context.Background())
	n.Close()
	n.Close()

	n.Notify(context.Background(), newEvent(EventInvoiceGenerated, "INV", 1, dec("1")))
	if got := sink.count(); got != 0 {
		t.Errorf("expected the late event to be dropped, got %d delivered", got)
	}
}

func TestAsyncNotifier_ConcurrentNotifyAndClose(t *testing.T) {
	sink := &recordingSink{}
	n := NewAsyncNotifier(4, sink, zerolog.Nop())
	n.Start(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.Notify(context.Background(), newEvent(EventCashFlowConfirmed, "RCV", 1, dec("1")))
		}()
	}
	n.Close()
	wg.Wait()

	if got := sink.count(); got > 16 {
		t.Errorf("delivered %d events from 16 notifications", got)
	}
}

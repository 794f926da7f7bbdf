package events

import (
	"testing"
	"time"
)

func TestPublishReachesEverySubscriber(t *testing.T) {
	b := NewBus()
	a := b.Subscribe(EventTradeExecuted, 4)
	c := b.Subscribe(EventTradeExecuted, 4)
	defer a.Cancel()
	defer c.Cancel()

	b.Publish(EventTradeExecuted, TradeExecuted{UserID: "u1", Symbol: "BTCUSDT"})

	for _, sub := range []*Subscription{a, c} {
		select {
		case msg := <-sub.C:
			tr, ok := msg.(TradeExecuted)
			if !ok || tr.UserID != "u1" {
				t.Fatalf("unexpected payload %#v", msg)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber never received the publish")
		}
	}
}

func TestPublishIsTopicScoped(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe(EventWarning, 1)
	defer sub.Cancel()

	b.Publish(EventLog, LogLine{UserID: "u1"})
	select {
	case msg := <-sub.C:
		t.Fatalf("warning subscriber got a log message: %#v", msg)
	default:
	}
}

func TestPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe(EventLog, 1)
	defer sub.Cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			b.Publish(EventLog, LogLine{UserID: "u1"})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if got := sub.Dropped(); got != 9 {
		t.Fatalf("Dropped = %d, want 9", got)
	}
	if len(sub.C) != 1 {
		t.Fatalf("buffered = %d, want 1", len(sub.C))
	}
}

func TestCancelClosesChannelAndIsIdempotent(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe(EventStatusChange, 1)

	sub.Cancel()
	sub.Cancel()

	if _, open := <-sub.C; open {
		t.Fatal("channel still open after Cancel")
	}

	// A publish after cancel must not panic on the closed channel.
	b.Publish(EventStatusChange, StatusChange{UserID: "u1"})
}

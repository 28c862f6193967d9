package journal

import (
	"testing"
	"time"
)

func TestMemoryAppendAssignsIDAndTimestamp(t *testing.T) {
	m := NewMemory()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	m.clock = func() time.Time { return now }

	if err := m.Append(Event{Type: TypeTokensMinted, Actor: "minter", Payload: map[string]string{"token_id": "1"}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := m.Append(Event{Type: TypePriceUpdated, Actor: "oracle", Timestamp: now.Add(time.Minute)}); err != nil {
		t.Fatalf("append second: %v", err)
	}

	events := m.Events()
	if len(events) != 2 {
		t.Fatalf("events len = %d, want 2", len(events))
	}
	if events[0].ID == "" || events[1].ID == "" {
		t.Fatal("append did not assign event ids")
	}
	if events[0].ID == events[1].ID {
		t.Fatal("event ids are not unique")
	}
	if !events[0].Timestamp.Equal(now) {
		t.Fatalf("events[0].timestamp = %v, want %v", events[0].Timestamp, now)
	}
	if !events[1].Timestamp.Equal(now.Add(time.Minute)) {
		t.Fatalf("events[1].timestamp = %v, want preset timestamp", events[1].Timestamp)
	}
	if events[0].Payload["token_id"] != "1" {
		t.Fatalf("events[0].payload = %v, want token_id=1", events[0].Payload)
	}
}

func TestEventsReturnsCopy(t *testing.T) {
	m := NewMemory()
	if err := m.Append(Event{Type: TypeFundPurchased}); err != nil {
		t.Fatalf("append: %v", err)
	}
	events := m.Events()
	events[0].Type = TypeFundRedeemed
	if got := m.Events()[0].Type; got != TypeFundPurchased {
		t.Fatalf("journal mutated through returned slice: %s", got)
	}
}

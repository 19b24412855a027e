package events

import (
	"testing"
)

func TestPublishDeliversInSubscribeOrder(t *testing.T) {
	bus := NewBus()

	var got []string
	bus.Subscribe(func(e Event) { got = append(got, "first:"+e.Type) }, Filter{})
	bus.Subscribe(func(e Event) { got = append(got, "second:"+e.Type) }, Filter{})

	bus.Publish(New(NodeCreated, "n1"))

	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(got))
	}
	if got[0] != "first:"+NodeCreated || got[1] != "second:"+NodeCreated {
		t.Errorf("unexpected delivery order: %v", got)
	}
}

func TestPublishPreservesCallOrder(t *testing.T) {
	bus := NewBus()

	var got []string
	bus.Subscribe(func(e Event) { got = append(got, e.Type) }, Filter{})

	bus.Publish(New(NodeCreated, "n1"))
	bus.Publish(New(NodeUpdated, "n1"))
	bus.Publish(New(NodeDeleted, "n1"))

	want := []string{NodeCreated, NodeUpdated, NodeDeleted}
	for i, w := range want {
		if got[i] != w {
			t.Errorf("event %d: got %s, want %s", i, got[i], w)
		}
	}
}

func TestFilterByTypeAndNode(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		event  Event
		want   bool
	}{
		{"zero filter matches all", Filter{}, New(NodeCreated, "n1"), true},
		{"type match", Filter{Types: []string{NodeCreated}}, New(NodeCreated, "n1"), true},
		{"type mismatch", Filter{Types: []string{NodeDeleted}}, New(NodeCreated, "n1"), false},
		{"node match", Filter{NodeIDs: []string{"n1"}}, New(NodeCreated, "n1"), true},
		{"node mismatch", Filter{NodeIDs: []string{"n2"}}, New(NodeCreated, "n1"), false},
		{
			"both dimensions must match",
			Filter{Types: []string{NodeCreated}, NodeIDs: []string{"n2"}},
			New(NodeCreated, "n1"),
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := NewBus()
			delivered := false
			bus.Subscribe(func(Event) { delivered = true }, tt.filter)
			bus.Publish(tt.event)
			if delivered != tt.want {
				t.Errorf("delivered = %v, want %v", delivered, tt.want)
			}
		})
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()

	count := 0
	unsubscribe := bus.Subscribe(func(Event) { count++ }, Filter{})

	bus.Publish(New(NodeCreated, "n1"))
	unsubscribe()
	bus.Publish(New(NodeCreated, "n2"))

	if count != 1 {
		t.Errorf("expected 1 delivery, got %d", count)
	}
	if bus.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers, got %d", bus.SubscriberCount())
	}
}

func TestSubscriberReadsConsistentState(t *testing.T) {
	// Emission is synchronous: state mutated before Publish is visible to
	// the callback.
	bus := NewBus()

	state := "before"
	var seen string
	bus.Subscribe(func(Event) { seen = state }, Filter{})

	state = "committed"
	bus.Publish(New(NodeUpdated, "n1"))

	if seen != "committed" {
		t.Errorf("subscriber saw %q, want %q", seen, "committed")
	}
}

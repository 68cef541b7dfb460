package ledger

import "testing"

func TestBusDeliversInSubscriptionOrder(t *testing.T) {
	bus := NewBus()
	var order []string
	bus.Subscribe("votes", func(any) { order = append(order, "first") })
	bus.Subscribe("votes", func(any) { order = append(order, "second") })
	bus.Subscribe("votes", func(any) { order = append(order, "third") })

	bus.Publish("votes", nil)
	if len(order) != 3 || order[0] != "first" || order[1] != "second" || order[2] != "third" {
		t.Fatalf("unexpected delivery order: %v", order)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()
	calls := 0
	unsubscribe := bus.Subscribe("votes", func(any) { calls++ })

	bus.Publish("votes", nil)
	unsubscribe()
	bus.Publish("votes", nil)

	if calls != 1 {
		t.Fatalf("expected 1 call after unsubscribe, got %d", calls)
	}
}

func TestBusNoReplayForLateSubscribers(t *testing.T) {
	bus := NewBus()
	bus.Publish("votes", nil)

	calls := 0
	bus.Subscribe("votes", func(any) { calls++ })
	if calls != 0 {
		t.Fatalf("late subscriber must not see earlier publishes, got %d", calls)
	}
}

func TestBusEventsAreIndependent(t *testing.T) {
	bus := NewBus()
	votes, comments := 0, 0
	bus.Subscribe(EventVotesUpdated, func(any) { votes++ })
	bus.Subscribe(EventCommentsUpdated, func(any) { comments++ })

	bus.Publish(EventVotesUpdated, nil)
	if votes != 1 || comments != 0 {
		t.Fatalf("cross-event delivery: votes=%d comments=%d", votes, comments)
	}
}

func TestBusHandlerMayPublish(t *testing.T) {
	bus := NewBus()
	nested := 0
	bus.Subscribe("inner", func(any) { nested++ })
	bus.Subscribe("outer", func(any) { bus.Publish("inner", nil) })

	bus.Publish("outer", nil)
	if nested != 1 {
		t.Fatalf("nested publish not delivered, got %d", nested)
	}
}

func TestBusPublishWithoutSubscribers(t *testing.T) {
	bus := NewBus()
	bus.Publish("nobody-listens", map[string]any{"entityId": "p1"})
}

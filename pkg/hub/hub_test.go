package hub

import (
	"testing"
	"time"

	"github.com/ampguard/telemetry-core/pkg/types"
)

func newTestHub() *Hub {
	return New(func(batteryID string) string {
		if batteryID == "BAT-1" {
			return "SITE-1"
		}
		return ""
	})
}

func TestPublish_DeliversToBatteryRoomSubscriber(t *testing.T) {
	h := newTestHub()
	h.Start()
	defer h.Stop()

	sub := NewSubscriber("sub-1")
	h.Subscribe(sub, BatteryRoom("BAT-1"))

	h.Publish(Event{Type: types.HubEventTelemetryUpdate, BatteryID: "BAT-1"})

	select {
	case ev := <-sub.Send:
		if ev.BatteryID != "BAT-1" {
			t.Errorf("expected event for BAT-1, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublish_SiteRoomReceivesBatteryEvents(t *testing.T) {
	h := newTestHub()
	h.Start()
	defer h.Stop()

	sub := NewSubscriber("sub-1")
	h.Subscribe(sub, SiteRoom("SITE-1"))

	h.Publish(Event{Type: types.HubEventAlert, BatteryID: "BAT-1"})

	select {
	case ev := <-sub.Send:
		if ev.SiteID != "SITE-1" {
			t.Errorf("expected resolved site SITE-1, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublish_NoDoubleDeliveryWhenSubscribedToBoth(t *testing.T) {
	h := newTestHub()
	h.Start()
	defer h.Stop()

	sub := NewSubscriber("sub-1")
	h.Subscribe(sub, BatteryRoom("BAT-1"))
	h.Subscribe(sub, SiteRoom("SITE-1"))

	h.Publish(Event{Type: types.HubEventTelemetryUpdate, BatteryID: "BAT-1"})

	<-sub.Send
	select {
	case ev := <-sub.Send:
		t.Fatalf("expected exactly one delivery, got a second: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublish_PerBatteryOrderPreserved(t *testing.T) {
	h := newTestHub()
	h.Start()
	defer h.Stop()

	sub := NewSubscriber("sub-1")
	h.Subscribe(sub, BatteryRoom("BAT-1"))

	for i := 0; i < 10; i++ {
		h.Publish(Event{Type: types.HubEventTelemetryUpdate, BatteryID: "BAT-1", Payload: i})
	}

	for i := 0; i < 10; i++ {
		select {
		case ev := <-sub.Send:
			if ev.Payload.(int) != i {
				t.Fatalf("expected payload %d, got %v", i, ev.Payload)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for ordered event")
		}
	}
}

func TestSubscriber_DropsOldestWhenQueueFull(t *testing.T) {
	sub := NewSubscriber("sub-1")

	for i := 0; i < QueueDepth+10; i++ {
		sub.enqueue(Event{Payload: i})
	}

	if len(sub.Send) != QueueDepth {
		t.Fatalf("expected queue to be capped at %d, got %d", QueueDepth, len(sub.Send))
	}

	first := <-sub.Send
	if first.Payload.(int) < 10 {
		t.Errorf("expected oldest entries to have been dropped, got payload %v first", first.Payload)
	}
}

func TestUnsubscribeAndRemove(t *testing.T) {
	h := newTestHub()
	sub := NewSubscriber("sub-1")
	h.Subscribe(sub, BatteryRoom("BAT-1"))
	h.Subscribe(sub, SiteRoom("SITE-1"))

	if h.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", h.SubscriberCount())
	}

	h.Remove(sub)
	if h.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers after Remove, got %d", h.SubscriberCount())
	}
}

// Package hub implements the Subscription Hub: routing of telemetry, alert,
// and battery-status events to live subscriber sessions, filtered by
// battery or site room membership. It generalizes a simple pub/sub broker
// into room-based routing with bounded, best-effort per-subscriber delivery.
package hub

import (
	"fmt"
	"sync"
	"time"

	"github.com/ampguard/telemetry-core/pkg/log"
	"github.com/ampguard/telemetry-core/pkg/metrics"
	"github.com/ampguard/telemetry-core/pkg/types"
	"github.com/rs/zerolog"
)

// QueueDepth is the bounded size of each subscriber's outbound queue.
const QueueDepth = 256

// Event is a unit of work published into the hub for routing.
type Event struct {
	Type      types.HubEventType
	BatteryID string
	SiteID    string
	Timestamp time.Time
	Payload   interface{}
}

// BatteryRoom returns the room key for a single battery's events.
func BatteryRoom(batteryID string) string { return fmt.Sprintf("battery:%s", batteryID) }

// SiteRoom returns the room key for a site's implicit battery fan-out.
func SiteRoom(siteID string) string { return fmt.Sprintf("site:%s", siteID) }

// Subscriber is one live client session with a bounded outbound queue.
type Subscriber struct {
	ID   string
	Send chan Event

	mu      sync.Mutex
	rooms   map[string]bool
	dropped uint64
}

// NewSubscriber creates a Subscriber identified by id.
func NewSubscriber(id string) *Subscriber {
	return &Subscriber{
		ID:    id,
		Send:  make(chan Event, QueueDepth),
		rooms: make(map[string]bool),
	}
}

func (s *Subscriber) joinedRooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := make([]string, 0, len(s.rooms))
	for r := range s.rooms {
		rooms = append(rooms, r)
	}
	return rooms
}

// enqueue delivers ev to the subscriber's queue, dropping the oldest queued
// event (not ev itself) when the queue is full.
func (s *Subscriber) enqueue(ev Event) {
	select {
	case s.Send <- ev:
		return
	default:
	}

	select {
	case <-s.Send:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		metrics.HubEventsDroppedTotal.WithLabelValues(string(ev.Type)).Inc()
	default:
	}

	select {
	case s.Send <- ev:
	default:
		// lost the race to another producer; drop ev rather than block.
	}
}

// Hub routes published events to subscriber queues. Publish never blocks on
// a slow subscriber; a single dispatch loop preserves arrival order so
// per-battery causal ordering is maintained end to end.
type Hub struct {
	mu          sync.RWMutex
	rooms       map[string]map[*Subscriber]bool
	siteOf      func(batteryID string) string
	eventCh     chan Event
	stopCh      chan struct{}
	logger      zerolog.Logger
}

// New builds a Hub. siteOf resolves a battery to its owning site so a
// site:{id} subscription implicitly receives that battery's events.
func New(siteOf func(batteryID string) string) *Hub {
	return &Hub{
		rooms:   make(map[string]map[*Subscriber]bool),
		siteOf:  siteOf,
		eventCh: make(chan Event, 1024),
		stopCh:  make(chan struct{}),
		logger:  log.WithComponent("hub"),
	}
}

// Start begins the hub's single-threaded dispatch loop.
func (h *Hub) Start() {
	go h.run()
}

// Stop halts dispatch; already-enqueued subscriber events are still
// delivered by their own writer.
func (h *Hub) Stop() {
	close(h.stopCh)
}

// Subscribe adds sub to room.
func (h *Hub) Subscribe(sub *Subscriber, room string) {
	h.mu.Lock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Subscriber]bool)
	}
	h.rooms[room][sub] = true
	h.mu.Unlock()

	sub.mu.Lock()
	sub.rooms[room] = true
	sub.mu.Unlock()

	h.refreshSubscriberGauge()
}

// Unsubscribe removes sub from room.
func (h *Hub) Unsubscribe(sub *Subscriber, room string) {
	h.mu.Lock()
	if subs, ok := h.rooms[room]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.rooms, room)
		}
	}
	h.mu.Unlock()

	sub.mu.Lock()
	delete(sub.rooms, room)
	sub.mu.Unlock()

	h.refreshSubscriberGauge()
}

// Remove unsubscribes sub from every room it has joined, e.g. on disconnect.
func (h *Hub) Remove(sub *Subscriber) {
	for _, room := range sub.joinedRooms() {
		h.Unsubscribe(sub, room)
	}
}

// SubscriberCount returns the number of distinct subscriber sessions
// registered in any room.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.subscriberCountLocked()
}

func (h *Hub) subscriberCountLocked() int {
	seen := make(map[*Subscriber]bool)
	for _, subs := range h.rooms {
		for sub := range subs {
			seen[sub] = true
		}
	}
	return len(seen)
}

func (h *Hub) refreshSubscriberGauge() {
	metrics.HubSubscribersTotal.Set(float64(h.SubscriberCount()))
}

// Publish enqueues ev for dispatch; it never blocks on a slow subscriber.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.SiteID == "" && h.siteOf != nil && ev.BatteryID != "" {
		ev.SiteID = h.siteOf(ev.BatteryID)
	}

	select {
	case h.eventCh <- ev:
	case <-h.stopCh:
	}
}

func (h *Hub) run() {
	h.logger.Info().Msg("hub dispatch loop started")
	for {
		select {
		case ev := <-h.eventCh:
			h.dispatch(ev)
		case <-h.stopCh:
			h.logger.Info().Msg("hub dispatch loop stopped")
			return
		}
	}
}

func (h *Hub) dispatch(ev Event) {
	metrics.HubEventsPublishedTotal.WithLabelValues(string(ev.Type)).Inc()

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := make(map[*Subscriber]bool)

	if ev.BatteryID != "" {
		for sub := range h.rooms[BatteryRoom(ev.BatteryID)] {
			if !delivered[sub] {
				sub.enqueue(ev)
				delivered[sub] = true
			}
		}
	}
	if ev.SiteID != "" {
		for sub := range h.rooms[SiteRoom(ev.SiteID)] {
			if !delivered[sub] {
				sub.enqueue(ev)
				delivered[sub] = true
			}
		}
	}

}

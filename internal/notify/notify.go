// Package notify fans events out to per-tenant subscribers and to
// optional global sinks (webhook, AMQP).
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Event names emitted by the lifecycle controller and the message pipeline.
const (
	EventQR                  = "qr"
	EventReady               = "ready"
	EventDisconnected        = "disconnected"
	EventNewMessage          = "new_message"
	EventStats               = "stats"
	EventSubscriptionExpired = "subscription_expired"
	EventSubscriptionUpdated = "subscription_updated"
)

// Event is a single notification addressed to one tenant.
type Event struct {
	TenantID string         `json:"instanceId"`
	Name     string         `json:"type"`
	Data     map[string]any `json:"data,omitempty"`
	At       time.Time      `json:"timestamp"`
}

// Sink receives every published event. Implementations log their own
// delivery failures and never block the publisher.
type Sink interface {
	Deliver(ctx context.Context, ev Event)
}

// subscriberBuffer bounds each subscriber channel. A subscriber that
// falls this far behind starts losing events rather than stalling
// publishers.
const subscriberBuffer = 32

type Hub struct {
	mu    sync.RWMutex
	subs  map[string]map[chan Event]struct{}
	sinks []Sink
}

func NewHub(sinks ...Sink) *Hub {
	return &Hub{
		subs:  make(map[string]map[chan Event]struct{}),
		sinks: sinks,
	}
}

// Subscribe registers a listener for one tenant's events. The returned
// cancel func must be called exactly once; it closes the channel.
func (h *Hub) Subscribe(tenantID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	set, ok := h.subs[tenantID]
	if !ok {
		set = make(map[chan Event]struct{})
		h.subs[tenantID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[tenantID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(h.subs, tenantID)
				}
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers ev to the tenant's subscribers and to every sink.
// Subscriber sends never block; a full channel drops the event. Sink
// delivery runs in the background.
func (h *Hub) Publish(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	h.mu.RLock()
	for ch := range h.subs[ev.TenantID] {
		select {
		case ch <- ev:
		default:
			log.Warn().
				Str("tenantId", ev.TenantID).
				Str("event", ev.Name).
				Msg("Subscriber channel full, dropping event")
		}
	}
	sinks := h.sinks
	h.mu.RUnlock()

	for _, s := range sinks {
		go s.Deliver(ctx, ev)
	}
}

// SubscriberCount reports how many listeners a tenant currently has.
func (h *Hub) SubscriberCount(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[tenantID])
}

package sync

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// OpType identifies the manifest mutation that triggered a sync event.
type OpType string

const (
	// OpCreate marks a newly created manifest record.
	OpCreate OpType = "create"
	// OpUpdate marks an updated manifest record.
	OpUpdate OpType = "update"
	// OpDelete marks a deleted manifest record.
	OpDelete OpType = "delete"
	// OpForceSync marks an explicit administrative refresh.
	OpForceSync OpType = "force_sync"
	// OpInvalidateAll marks a full cache flush.
	OpInvalidateAll OpType = "invalidate_all"
)

// Event describes a cache invalidation delivered to subscribers.
// TrackingNumber is empty for invalidate_all events.
type Event struct {
	Type           OpType    `json:"type"`
	TrackingNumber string    `json:"tracking_number,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// SubscriberFunc receives sync events. A returned error is logged and
// never affects other subscribers or the triggering mutation.
type SubscriberFunc func(Event) error

type subscriber struct {
	token uuid.UUID
	fn    SubscriberFunc
}

// subscriberRegistry holds subscribers in registration order.
type subscriberRegistry struct {
	mu   sync.RWMutex
	subs []subscriber
}

func newSubscriberRegistry() *subscriberRegistry {
	return &subscriberRegistry{}
}

// register adds fn and returns the token that removes it again.
func (r *subscriberRegistry) register(fn SubscriberFunc) uuid.UUID {
	token := uuid.New()

	r.mu.Lock()
	r.subs = append(r.subs, subscriber{token: token, fn: fn})
	r.mu.Unlock()

	return token
}

// unregister removes the subscriber for token. It reports whether the
// token was registered.
func (r *subscriberRegistry) unregister(token uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, sub := range r.subs {
		if sub.token == token {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			return true
		}
	}
	return false
}

func (r *subscriberRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// notify invokes every subscriber with ev, in registration order. Panics
// and errors are contained per subscriber.
func (r *subscriberRegistry) notify(ev Event) {
	r.mu.RLock()
	subs := make([]subscriber, len(r.subs))
	copy(subs, r.subs)
	r.mu.RUnlock()

	for _, sub := range subs {
		invokeSubscriber(sub, ev)
	}
}

func invokeSubscriber(sub subscriber, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Sync subscriber panicked",
				"token", sub.token,
				"event_type", ev.Type,
				"panic", rec)
		}
	}()

	if err := sub.fn(ev); err != nil {
		slog.Warn("Sync subscriber returned error",
			"token", sub.token,
			"event_type", ev.Type,
			"tracking_number", ev.TrackingNumber,
			"error", err)
	}
}

// Copyright 2026 The IndieNet Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"log/slog"
	"sync"

	"github.com/indienet-foundation/indienet/nostr"
)

// Consumer receives events matching a subscription. Called from the
// pool's single dispatch goroutine: events arrive in one global
// order, and a slow consumer stalls dispatch, so consumers must hand
// work off rather than block.
type Consumer func(event *nostr.Event)

// Router maps subscription ids to filters and consumers. Dispatch
// runs only on the pool's dispatch goroutine; Add and Remove arrive
// from caller goroutines, so the table is mutex-guarded.
type Router struct {
	logger *slog.Logger

	mu            sync.Mutex
	subscriptions map[string]*subscription
}

type subscription struct {
	id       string
	filter   nostr.Filter
	consumer Consumer
}

// NewRouter returns an empty router.
func NewRouter(logger *slog.Logger) *Router {
	return &Router{
		logger:        logger,
		subscriptions: make(map[string]*subscription),
	}
}

// Add registers a subscription. The id must be unique among active
// subscriptions.
func (r *Router) Add(id string, filter nostr.Filter, consumer Consumer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscriptions[id] = &subscription{id: id, filter: filter, consumer: consumer}
}

// Remove deregisters a subscription. Removing an unknown id is a
// no-op, which makes cancellation idempotent.
func (r *Router) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subscriptions, id)
}

// Len returns the number of active subscriptions.
func (r *Router) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subscriptions)
}

// Dispatch delivers an event to the consumer of the named
// subscription, re-checking the filter locally. A relay that sends
// events outside the requested filter is misbehaving or stale; those
// events are dropped with a debug log rather than delivered.
func (r *Router) Dispatch(subscriptionID string, event *nostr.Event) {
	r.mu.Lock()
	registered, active := r.subscriptions[subscriptionID]
	r.mu.Unlock()
	if !active {
		// Frames for a subscription cancelled moments ago are
		// expected during the CLOSE round trip.
		r.logger.Debug("event for inactive subscription",
			"subscription", subscriptionID, "event", nostr.ShortID(event.ID))
		return
	}
	if !registered.filter.Matches(event) {
		r.logger.Debug("event outside subscription filter",
			"subscription", subscriptionID, "event", nostr.ShortID(event.ID))
		return
	}
	registered.consumer(event)
}

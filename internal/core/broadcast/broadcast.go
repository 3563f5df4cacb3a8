// Package broadcast fans change events out to every connection subscribed
// within a tenant. Ported from original_source's tenant_broadcaster.rs;
// since Go has no built-in broadcast channel equivalent to tokio's
// broadcast::channel, each subscriber owns its own buffered channel and
// broadcast() fans out with a non-blocking send per subscriber.
package broadcast

import (
	"sync"

	"github.com/r3e-network/pmserver/internal/core/wsproto"
)

// DefaultCapacity is the per-subscriber channel buffer size (spec.md §4.3).
const DefaultCapacity = 128

// LagHandler is invoked when a subscriber's channel was full and a message
// had to be dropped for it. Per spec.md Open Question 2, this is a logging
// hook only; nothing is sent back to the client.
type LagHandler func(tenant string, subscriberID string, dropped int)

type channel struct {
	subs map[string]chan *wsproto.Envelope
}

// Broadcaster owns one subscriber set per tenant, lazily created on first
// subscribe and reaped when its subscriber count drops to zero; each
// subscriber in a set has its own bounded channel.
type Broadcaster struct {
	mu       sync.RWMutex
	capacity int
	tenants  map[string]*channel
	onLag    LagHandler
}

// New creates a Broadcaster. capacity <= 0 falls back to DefaultCapacity.
func New(capacity int, onLag LagHandler) *Broadcaster {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Broadcaster{
		capacity: capacity,
		tenants:  make(map[string]*channel),
		onLag:    onLag,
	}
}

// Subscribe registers subscriberID under tenant and returns the receive-only
// channel it should read broadcasts from. Subscribing the same id twice
// returns the existing channel rather than creating a second one.
func (b *Broadcaster) Subscribe(tenant, subscriberID string) <-chan *wsproto.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.tenants[tenant]
	if !ok {
		ch = &channel{subs: make(map[string]chan *wsproto.Envelope)}
		b.tenants[tenant] = ch
	}
	if existing, ok := ch.subs[subscriberID]; ok {
		return existing
	}
	out := make(chan *wsproto.Envelope, b.capacity)
	ch.subs[subscriberID] = out
	return out
}

// Unsubscribe removes subscriberID from tenant's channel, closing its
// outbound channel, and reaps the tenant's channel entirely once its
// subscriber count drops to zero.
func (b *Broadcaster) Unsubscribe(tenant, subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.tenants[tenant]
	if !ok {
		return
	}
	if out, ok := ch.subs[subscriberID]; ok {
		delete(ch.subs, subscriberID)
		close(out)
	}
	if len(ch.subs) == 0 {
		delete(b.tenants, tenant)
	}
}

// Broadcast delivers env to every subscriber of tenant and returns the
// number of subscribers it was delivered to. A tenant with no subscribers
// (channel never created or fully unsubscribed) returns zero without error.
// A subscriber whose channel is full observes a dropped message rather than
// blocking the broadcaster or disconnecting, per spec.md §4.3.
func (b *Broadcaster) Broadcast(tenant string, env *wsproto.Envelope) int {
	b.mu.RLock()
	ch, ok := b.tenants[tenant]
	if !ok {
		b.mu.RUnlock()
		return 0
	}
	// Copy the subscriber channel list under the lock, then send outside it
	// so a slow subscriber cannot hold up registry mutations.
	outs := make(map[string]chan *wsproto.Envelope, len(ch.subs))
	for id, out := range ch.subs {
		outs[id] = out
	}
	b.mu.RUnlock()

	delivered := 0
	for id, out := range outs {
		select {
		case out <- env:
			delivered++
		default:
			if b.onLag != nil {
				b.onLag(tenant, id, 1)
			}
		}
	}
	return delivered
}

// SubscriberCount returns the number of live subscribers for a tenant.
func (b *Broadcaster) SubscriberCount(tenant string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if ch, ok := b.tenants[tenant]; ok {
		return len(ch.subs)
	}
	return 0
}

// ActiveTenants returns tenants that currently have at least one subscriber.
func (b *Broadcaster) ActiveTenants() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	tenants := make([]string, 0, len(b.tenants))
	for t := range b.tenants {
		tenants = append(tenants, t)
	}
	return tenants
}

// ChannelCount returns the number of tenants with a live channel.
func (b *Broadcaster) ChannelCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.tenants)
}

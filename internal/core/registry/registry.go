// Package registry is the authoritative connection registry: connection id
// to (tenant, user) mapping, total and per-tenant connection caps. Ported
// closely from original_source's connection_registry.rs.
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/r3e-network/pmserver/internal/core/wsproto"
)

// ConnectionID uniquely identifies a live socket within this process.
type ConnectionID string

// Info is the record the registry owns for a live connection.
type Info struct {
	ID         ConnectionID
	Tenant     string
	User       string
	ConnectedAt time.Time
}

// Config holds the caps enforced at register time.
type Config struct {
	MaxTotal     int
	MaxPerTenant int
}

// DefaultConfig matches spec.md §6's server.max_connections default (100
// total); per-tenant defaults to the same figure absent a narrower policy.
func DefaultConfig() Config {
	return Config{MaxTotal: 100, MaxPerTenant: 100}
}

// Registry is a single coarse-locked connection table. Per spec.md §5,
// critical sections are O(1) or O(k) over a small tenant bucket; reads do
// not block other reads in the sense that the lock is only ever held for
// the brief span of a map lookup.
type Registry struct {
	mu      sync.RWMutex
	cfg     Config
	byID    map[ConnectionID]*Info
	tenants map[string]map[ConnectionID]struct{}
}

// New creates an empty registry.
func New(cfg Config) *Registry {
	def := DefaultConfig()
	if cfg.MaxTotal <= 0 {
		cfg.MaxTotal = def.MaxTotal
	}
	if cfg.MaxPerTenant <= 0 {
		cfg.MaxPerTenant = def.MaxPerTenant
	}
	return &Registry{
		cfg:     cfg,
		byID:    make(map[ConnectionID]*Info),
		tenants: make(map[string]map[ConnectionID]struct{}),
	}
}

// Register mints a ConnectionID for (tenant, user) or fails with
// CONNECTION_LIMIT if either the total or per-tenant cap is already hit.
func (r *Registry) Register(tenant, user string) (ConnectionID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.byID) >= r.cfg.MaxTotal {
		return "", wsproto.ConnectionLimit("server connection limit reached")
	}
	if len(r.tenants[tenant]) >= r.cfg.MaxPerTenant {
		return "", wsproto.ConnectionLimit("tenant connection limit reached")
	}

	id := ConnectionID(uuid.NewString())
	r.byID[id] = &Info{ID: id, Tenant: tenant, User: user, ConnectedAt: time.Now()}

	bucket, ok := r.tenants[tenant]
	if !ok {
		bucket = make(map[ConnectionID]struct{})
		r.tenants[tenant] = bucket
	}
	bucket[id] = struct{}{}

	return id, nil
}

// Unregister removes a connection and drops its tenant bucket entry if it
// was the last member. Unregistering an unknown id is a no-op, matching
// unregister's idempotent behavior on double-close / panic-recovery paths.
func (r *Registry) Unregister(id ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)

	if bucket, ok := r.tenants[info.Tenant]; ok {
		delete(bucket, id)
		if len(bucket) == 0 {
			delete(r.tenants, info.Tenant)
		}
	}
}

// Get returns the Info for a connection id, if still registered.
func (r *Registry) Get(id ConnectionID) (*Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.byID[id]
	return info, ok
}

// TenantConnections returns the live connection ids for a tenant.
func (r *Registry) TenantConnections(tenant string) []ConnectionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bucket := r.tenants[tenant]
	ids := make([]ConnectionID, 0, len(bucket))
	for id := range bucket {
		ids = append(ids, id)
	}
	return ids
}

// TotalCount returns the number of live connections across all tenants.
func (r *Registry) TotalCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// TenantCount returns the number of live connections for one tenant.
func (r *Registry) TenantCount(tenant string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tenants[tenant])
}

// ActiveTenants returns the set of tenants with at least one live
// connection.
func (r *Registry) ActiveTenants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tenants := make([]string, 0, len(r.tenants))
	for t := range r.tenants {
		tenants = append(tenants, t)
	}
	return tenants
}

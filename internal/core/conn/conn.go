// Package conn carries the per-connection identity a websocket read pump
// resolves once at handshake time (tenant, user id) down through
// context.Context into the shared dispatch.Dispatcher's handler closures.
// The dispatcher itself is a single instance shared by every connection
// (so message_id collapsing via singleflight also catches a client retry
// that reconnects on a new socket), so identity cannot live on the
// Dispatcher or Handler and must travel on the context instead.
package conn

import "context"

type identityKey struct{}

// Identity is the caller identity resolved for one websocket connection.
type Identity struct {
	Tenant string
	UserID string
}

// WithIdentity attaches id to ctx for the lifetime of one dispatch call.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity attached by WithIdentity, or the zero
// Identity if none was attached.
func FromContext(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey{}).(Identity)
	return id
}

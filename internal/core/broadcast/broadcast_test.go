package broadcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/pmserver/internal/core/wsproto"
)

func TestBroadcastDeliversToAllSubscribers(t *testing.T) {
	b := New(4, nil)
	c1 := b.Subscribe("t1", "conn1")
	c2 := b.Subscribe("t1", "conn2")
	c3 := b.Subscribe("t2", "conn3")

	env, err := wsproto.Event(wsproto.KindCreateWorkItem, map[string]string{"id": "w1"})
	require.NoError(t, err)

	delivered := b.Broadcast("t1", env)
	assert.Equal(t, 2, delivered)

	select {
	case got := <-c1:
		assert.Equal(t, env.MessageID, got.MessageID)
	default:
		t.Fatal("conn1 did not receive broadcast")
	}
	select {
	case <-c2:
	default:
		t.Fatal("conn2 did not receive broadcast")
	}
	select {
	case <-c3:
		t.Fatal("conn3 in a different tenant should not receive the broadcast")
	default:
	}
}

func TestBroadcastToEmptyTenantReturnsZero(t *testing.T) {
	b := New(4, nil)
	env, _ := wsproto.Event(wsproto.KindPing, nil)
	assert.Equal(t, 0, b.Broadcast("no-such-tenant", env))
}

func TestUnsubscribeReapsEmptyChannel(t *testing.T) {
	b := New(4, nil)
	b.Subscribe("t1", "conn1")
	assert.Equal(t, 1, b.ChannelCount())

	b.Unsubscribe("t1", "conn1")
	assert.Equal(t, 0, b.ChannelCount())
}

func TestLagCallbackFiresOnFullChannel(t *testing.T) {
	lagged := 0
	b := New(1, func(tenant, subscriberID string, dropped int) { lagged++ })
	out := b.Subscribe("t1", "conn1")

	env, _ := wsproto.Event(wsproto.KindPing, nil)
	b.Broadcast("t1", env)
	b.Broadcast("t1", env) // channel now full, second send should lag

	assert.Equal(t, 1, lagged)
	assert.Len(t, out, 1)
}

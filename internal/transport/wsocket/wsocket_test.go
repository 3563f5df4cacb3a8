package wsocket

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/pmserver/internal/core/authn"
	"github.com/r3e-network/pmserver/internal/core/broadcast"
	"github.com/r3e-network/pmserver/internal/core/dispatch"
	"github.com/r3e-network/pmserver/internal/core/ratelimit"
	"github.com/r3e-network/pmserver/internal/core/registry"
	"github.com/r3e-network/pmserver/internal/core/wsproto"
)

func testServer(t *testing.T, reg *registry.Registry, bc *broadcast.Broadcaster) (*httptest.Server, string) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(testWriter{t})

	srv := New(Deps{
		Registry:    reg,
		Broadcaster: bc,
		Dispatcher:  dispatch.New(log),
		Authn:       authn.New(authn.Config{}),
		RateLimit:   ratelimit.Config{MaxRequests: 100, WindowSecs: 60, ViolationThreshold: 5},
		Config:      DefaultConfig(),
		Log:         log,
	})

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	return ts, wsURL
}

// testWriter discards logrus output during tests; require.NoError etc. still
// report failures through *testing.T as usual.
type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) { return len(p), nil }

func dial(t *testing.T, url string) *gorillaws.Conn {
	t.Helper()
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServeHTTPPingPong(t *testing.T) {
	_, wsURL := testServer(t, registry.New(registry.DefaultConfig()), broadcast.New(0, nil))
	conn := dial(t, wsURL)

	req := wsproto.Envelope{MessageID: "m1", Timestamp: wsproto.Now(), Kind: wsproto.KindPing}
	require.NoError(t, conn.WriteJSON(req))

	var resp wsproto.Envelope
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&resp))
	require.Equal(t, wsproto.KindPong, resp.Kind)
	require.Equal(t, "m1", resp.MessageID)
}

func TestServeHTTPSubscribeAck(t *testing.T) {
	_, wsURL := testServer(t, registry.New(registry.DefaultConfig()), broadcast.New(0, nil))
	conn := dial(t, wsURL)

	sub := struct {
		ProjectID    string `json:"project_id"`
		ResourceKind string `json:"resource_kind"`
	}{ProjectID: "P", ResourceKind: "work_item"}
	env, err := wsproto.Reply("sub1", wsproto.KindSubscribe, sub)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))

	var ack wsproto.Envelope
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&ack))
	require.Equal(t, wsproto.KindSubscriptionAck, ack.Kind)
	require.Equal(t, "sub1", ack.MessageID)
}

// TestBroadcastFanOutRespectsSubscriptionFilter exercises spec.md S5: two
// connections subscribed to (P, work_item) receive a broadcast tagged with
// that tuple; a third connection subscribed to a different project does not.
func TestBroadcastFanOutRespectsSubscriptionFilter(t *testing.T) {
	reg := registry.New(registry.DefaultConfig())
	bc := broadcast.New(8, nil)
	_, wsURL := testServer(t, reg, bc)

	c1 := dial(t, wsURL)
	c2 := dial(t, wsURL)
	c3 := dial(t, wsURL)

	subscribeAndDrainAck(t, c1, "P", "work_item")
	subscribeAndDrainAck(t, c2, "P", "work_item")
	subscribeAndDrainAck(t, c3, "Q", "work_item")

	// Give the write pumps a moment to apply the subscribe before the
	// broadcast races it.
	time.Sleep(50 * time.Millisecond)

	event, err := wsproto.Event(wsproto.KindCreateWorkItem, map[string]string{"id": "w1", "project_id": "P"})
	require.NoError(t, err)
	event.ProjectID = "P"
	event.ResourceKind = "work_item"

	delivered := bc.Broadcast("local", event)
	require.Equal(t, 3, delivered, "all three desktop-mode connections share tenant \"local\"")

	requireDeliversWorkItem(t, c1, "w1")
	requireDeliversWorkItem(t, c2, "w1")
	requireNoMessageWithin(t, c3, 200*time.Millisecond)
}

func subscribeAndDrainAck(t *testing.T, conn *gorillaws.Conn, projectID, resourceKind string) {
	t.Helper()
	sub := struct {
		ProjectID    string `json:"project_id"`
		ResourceKind string `json:"resource_kind"`
	}{ProjectID: projectID, ResourceKind: resourceKind}
	env, err := wsproto.Reply("sub-"+projectID, wsproto.KindSubscribe, sub)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))

	var ack wsproto.Envelope
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&ack))
	require.Equal(t, wsproto.KindSubscriptionAck, ack.Kind)
}

func requireDeliversWorkItem(t *testing.T, conn *gorillaws.Conn, expectID string) {
	t.Helper()
	var got wsproto.Envelope
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&got))
	require.Equal(t, wsproto.KindCreateWorkItem, got.Kind)
	require.Contains(t, string(got.Payload), expectID)
}

func requireNoMessageWithin(t *testing.T, conn *gorillaws.Conn, d time.Duration) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(d))
	var got wsproto.Envelope
	err := conn.ReadJSON(&got)
	require.Error(t, err, "expected a read timeout, got a message: %+v", got)
}

func TestServeHTTPRejectsOverConnectionCap(t *testing.T) {
	reg := registry.New(registry.Config{MaxTotal: 1, MaxPerTenant: 1})
	_, wsURL := testServer(t, reg, broadcast.New(0, nil))

	_ = dial(t, wsURL)
	time.Sleep(20 * time.Millisecond) // let the accept path register the first connection

	_, resp, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, 503, resp.StatusCode)
}

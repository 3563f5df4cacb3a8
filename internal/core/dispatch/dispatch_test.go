package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/pmserver/internal/core/wsproto"
)

func silentLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestDispatchAnswersPingWithoutRouting(t *testing.T) {
	d := New(silentLogger())
	env := &wsproto.Envelope{MessageID: "m1", Kind: wsproto.KindPing}

	resp := d.Dispatch(context.Background(), env)

	require.NotNil(t, resp)
	assert.Equal(t, wsproto.KindPong, resp.Kind)
	assert.Equal(t, "m1", resp.MessageID)
}

func TestDispatchUnroutedKindIsInvalidMessage(t *testing.T) {
	d := New(silentLogger())
	env := &wsproto.Envelope{MessageID: "m2", Kind: wsproto.Kind("Bogus")}

	resp := d.Dispatch(context.Background(), env)

	require.NotNil(t, resp)
	assert.Equal(t, wsproto.KindErrorResponse, resp.Kind)
	var frame wsproto.Frame
	require.NoError(t, json.Unmarshal(resp.Payload, &frame))
	assert.Equal(t, wsproto.CodeInvalidMessage, frame.Code)
}

func TestDispatchFramesHandlerError(t *testing.T) {
	d := New(silentLogger())
	d.Register(wsproto.KindCreateProject, func(ctx context.Context, env *wsproto.Envelope) (*wsproto.Envelope, error) {
		return nil, wsproto.Validation("bad input").WithField("name")
	})

	resp := d.Dispatch(context.Background(), &wsproto.Envelope{MessageID: "m3", Kind: wsproto.KindCreateProject})

	var frame wsproto.Frame
	require.NoError(t, json.Unmarshal(resp.Payload, &frame))
	assert.Equal(t, wsproto.CodeValidationError, frame.Code)
	assert.Equal(t, "name", frame.Field)
}

func TestDispatchTimesOutSlowHandler(t *testing.T) {
	d := New(silentLogger())
	d.Register(wsproto.KindCreateProject, func(ctx context.Context, env *wsproto.Envelope) (*wsproto.Envelope, error) {
		select {
		case <-time.After(time.Hour):
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	// HandlerTimeout is a 30s const; pass an already-short-lived parent
	// context instead so context.WithTimeout inside runWithTimeout still
	// expires deterministically within the test.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	resp := d.Dispatch(ctx, &wsproto.Envelope{MessageID: "m4", Kind: wsproto.KindCreateProject})

	var frame wsproto.Frame
	require.NoError(t, json.Unmarshal(resp.Payload, &frame))
	assert.Equal(t, wsproto.CodeTimeout, frame.Code)
}

func TestDispatchSucceeds(t *testing.T) {
	d := New(silentLogger())
	d.Register(wsproto.KindCreateProject, func(ctx context.Context, env *wsproto.Envelope) (*wsproto.Envelope, error) {
		return wsproto.Reply(env.MessageID, wsproto.KindCreateProject, struct {
			OK bool `json:"ok"`
		}{OK: true})
	})

	resp := d.Dispatch(context.Background(), &wsproto.Envelope{MessageID: "m5", Kind: wsproto.KindCreateProject})

	require.NotNil(t, resp)
	assert.Equal(t, wsproto.KindCreateProject, resp.Kind)
}

package wsproto

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplyRoundTrips(t *testing.T) {
	env, err := Reply("m1", KindCreateWorkItem, map[string]string{"id": "abc"})
	require.NoError(t, err)
	assert.Equal(t, "m1", env.MessageID)
	assert.Equal(t, KindCreateWorkItem, env.Kind)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(env.Payload, &decoded))
	assert.Equal(t, "abc", decoded["id"])
}

func TestReplyErrorPreservesMessageID(t *testing.T) {
	env := ReplyError("m2", Validation("title is required").WithField("title"))
	assert.Equal(t, "m2", env.MessageID)
	assert.Equal(t, KindErrorResponse, env.Kind)

	var frame Frame
	require.NoError(t, json.Unmarshal(env.Payload, &frame))
	assert.Equal(t, CodeValidationError, frame.Code)
	assert.Equal(t, "title", frame.Field)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(Validation("bad")))
	assert.True(t, IsRetryable(Internal("db busy", true, nil)))
	assert.False(t, IsRetryable(nil))
}

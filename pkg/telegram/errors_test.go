package telegram

import (
	"errors"
	"testing"
	"time"

	"github.com/gotd/td/tgerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyRPCAuthErrors(t *testing.T) {
	for _, typ := range []string{"AUTH_KEY_UNREGISTERED", "SESSION_REVOKED", "USER_DEACTIVATED"} {
		err := classifyRPC(tgerr.New(401, typ))
		assert.ErrorIs(t, err, ErrAuthFailed, typ)
	}
}

func TestClassifyRPCGoneErrors(t *testing.T) {
	for _, typ := range []string{"MESSAGE_ID_INVALID", "CHANNEL_PRIVATE"} {
		err := classifyRPC(tgerr.New(400, typ))
		assert.ErrorIs(t, err, ErrNotFound, typ)
	}
}

func TestClassifyRPCFloodWaitPassesThrough(t *testing.T) {
	orig := tgerr.New(420, "FLOOD_WAIT_17")

	err := classifyRPC(orig)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAuthFailed)
	assert.NotErrorIs(t, err, ErrNotFound)

	d, ok := tgerr.AsFloodWait(err)
	require.True(t, ok)
	assert.Equal(t, 17*time.Second, d)
}

func TestClassifyRPCArbitraryError(t *testing.T) {
	orig := errors.New("connection reset")
	assert.Equal(t, orig, classifyRPC(orig))
}

func TestClassifyRPCNil(t *testing.T) {
	assert.NoError(t, classifyRPC(nil))
}

package telegram

import (
	"errors"
	"fmt"

	"github.com/gotd/td/tgerr"
)

var (
	// ErrAuthFailed marks errors that invalidate the account session. The
	// supervisor treats it as unrecoverable and exits rather than retrying
	// into a ban.
	ErrAuthFailed = errors.New("telegram authorization failed")

	// ErrNotFound means the referenced message or document no longer
	// exists upstream. Retrying cannot succeed.
	ErrNotFound = errors.New("document no longer available")
)

// authErrorTypes are RPC error types after which the session is dead.
var authErrorTypes = []string{
	"AUTH_KEY_UNREGISTERED",
	"AUTH_KEY_INVALID",
	"SESSION_REVOKED",
	"SESSION_EXPIRED",
	"USER_DEACTIVATED",
	"USER_DEACTIVATED_BAN",
}

// goneErrorTypes are RPC error types meaning the target cannot be fetched,
// now or ever: the message was deleted or the channel is out of reach.
var goneErrorTypes = []string{
	"MESSAGE_ID_INVALID",
	"MSG_ID_INVALID",
	"CHANNEL_PRIVATE",
	"CHANNEL_INVALID",
}

// classifyRPC folds RPC failures into the package sentinels. Anything not
// recognized passes through unchanged and is treated as transient by
// callers.
func classifyRPC(err error) error {
	if err == nil {
		return nil
	}
	if tgerr.Is(err, authErrorTypes...) {
		return fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}
	if tgerr.Is(err, goneErrorTypes...) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}

package telegram

import (
	"context"
	"time"

	"github.com/gotd/td/bin"
	tgclient "github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"github.com/corvusec/magpie/pkg/log"
)

// maxFloodWait bounds how long a single RPC sleeps on a rate limit.
// Longer waits surface as errors and fail the attempt instead.
const maxFloodWait = 2 * time.Minute

// floodWaitMiddleware retries rate-limited calls after sleeping the
// server-mandated duration, so ordinary FLOOD_WAITs never reach the
// pipeline's error handling.
func floodWaitMiddleware() tgclient.MiddlewareFunc {
	return func(next tg.Invoker) tgclient.InvokeFunc {
		return func(ctx context.Context, input bin.Encoder, output bin.Decoder) error {
			for {
				err := next.Invoke(ctx, input, output)
				d, ok := tgerr.AsFloodWait(err)
				if !ok || d > maxFloodWait {
					return err
				}
				logger := log.WithComponent("telegram")
				logger.Warn().
					Dur("wait", d).
					Msg("rate limited, sleeping")
				// The server reports whole seconds; the extra second
				// avoids retrying a hair too early.
				timer := time.NewTimer(d + time.Second)
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case <-timer.C:
				}
			}
		}
	}
}

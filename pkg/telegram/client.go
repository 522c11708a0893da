package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/cenkalti/backoff/v4"
	tgclient "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"

	"github.com/corvusec/magpie/pkg/log"
	"github.com/corvusec/magpie/pkg/types"
)

// Options configures the channel client.
type Options struct {
	APIID    int
	APIHash  string
	Phone    string
	Password string // two-step verification password, optional

	// Channels lists subscriptions as usernames or numeric IDs.
	Channels []string

	// MaxFileSize skips documents larger than this many bytes, 0 = no
	// limit.
	MaxFileSize int64

	Sessions *SessionStore

	// Handler receives each document event. It may block: backpressure
	// propagates into update handling instead of dropping events.
	Handler func(ctx context.Context, ev types.DocumentEvent) error

	// CodePrompt supplies the login code on first authentication.
	CodePrompt func(ctx context.Context) (string, error)

	// OnReady runs once the session is authorized and every configured
	// channel is resolved.
	OnReady func()
}

// Client maintains the authenticated connection, watches the configured
// channels for document posts and downloads documents on demand.
type Client struct {
	opts   Options
	logger zerolog.Logger

	client *tgclient.Client
	api    *tg.Client

	mu       sync.RWMutex
	channels map[int64]*channelInfo
}

// channelInfo is one resolved subscription.
type channelInfo struct {
	id         int64
	accessHash int64
	title      string
	username   string
}

// New builds a Client. Connection and login happen in Run.
func New(opts Options) *Client {
	return &Client{
		opts:     opts,
		logger:   log.WithComponent("telegram"),
		channels: make(map[int64]*channelInfo),
	}
}

// Run connects, authenticates, resolves the configured channels and then
// blocks handling updates until ctx is cancelled or the connection dies
// beyond recovery. A channel the session cannot access is a startup
// error, not a silent skip.
func (c *Client) Run(ctx context.Context) error {
	dispatcher := tg.NewUpdateDispatcher()
	dispatcher.OnNewChannelMessage(c.onChannelMessage)

	client := tgclient.NewClient(c.opts.APIID, c.opts.APIHash, tgclient.Options{
		SessionStorage: c.opts.Sessions,
		UpdateHandler:  dispatcher,
		Middlewares:    []tgclient.Middleware{floodWaitMiddleware()},
		ReconnectionBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 0 // reconnect until cancelled
			return b
		},
	})
	c.client = client

	return client.Run(ctx, func(ctx context.Context) error {
		if err := c.authenticate(ctx); err != nil {
			return err
		}
		c.api = client.API()
		if err := c.resolveChannels(ctx); err != nil {
			return err
		}
		c.logger.Info().Int("channels", len(c.opts.Channels)).Msg("listening")
		if c.opts.OnReady != nil {
			c.opts.OnReady()
		}
		<-ctx.Done()
		return ctx.Err()
	})
}

func (c *Client) authenticate(ctx context.Context) error {
	code := auth.CodeAuthenticatorFunc(func(ctx context.Context, _ *tg.AuthSentCode) (string, error) {
		if c.opts.CodePrompt == nil {
			return "", errors.New("login code required but no prompt is available")
		}
		return c.opts.CodePrompt(ctx)
	})
	flow := auth.NewFlow(auth.Constant(c.opts.Phone, c.opts.Password, code), auth.SendCodeOptions{})

	if err := c.client.Auth().IfNecessary(ctx, flow); err != nil {
		return fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}
	self, err := c.client.Self(ctx)
	if err != nil {
		return classifyRPC(err)
	}
	c.logger.Info().
		Str("username", self.Username).
		Int64("user_id", self.ID).
		Msg("authorized")
	return nil
}

// onChannelMessage filters channel updates down to document events and
// hands them to the handler. The handler blocks when the pipeline is
// saturated; that is deliberate, an event must never be dropped here.
func (c *Client) onChannelMessage(ctx context.Context, e tg.Entities, update *tg.UpdateNewChannelMessage) error {
	msg, ok := update.Message.(*tg.Message)
	if !ok {
		return nil
	}
	peer, ok := msg.PeerID.(*tg.PeerChannel)
	if !ok {
		return nil
	}
	info, watched := c.watchedChannel(peer.ChannelID)
	if !watched {
		return nil
	}
	doc, ok := documentFromMessage(msg)
	if !ok {
		return nil
	}
	if c.opts.MaxFileSize > 0 && doc.Size > c.opts.MaxFileSize {
		c.logger.Info().
			Int64("channel_id", peer.ChannelID).
			Int("message_id", msg.ID).
			Int64("size", doc.Size).
			Int64("limit", c.opts.MaxFileSize).
			Msg("document skipped by size limit")
		return nil
	}

	title := info.title
	if ch, ok := e.Channels[peer.ChannelID]; ok && ch.Title != "" {
		title = ch.Title
	}
	ev := eventFromDocument(peer.ChannelID, title, msg, doc)
	c.logger.Debug().
		Str("ref", ev.Ref.String()).
		Str("filename", ev.Filename).
		Int64("size", ev.SizeBytes).
		Msg("document event")

	if c.opts.Handler == nil {
		return nil
	}
	if err := c.opts.Handler(ctx, ev); err != nil {
		c.logger.Warn().Err(err).Str("ref", ev.Ref.String()).Msg("document event dropped")
	}
	return nil
}

func (c *Client) watchedChannel(id int64) (*channelInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.channels[id]
	return info, ok
}

// Download streams the referenced document into w and reports the bytes
// written. The message is re-read first: stored file references expire
// within minutes, so each attempt needs a fresh one.
func (c *Client) Download(ctx context.Context, ref types.ExternalRef, w io.Writer) (int64, error) {
	info, ok := c.watchedChannel(ref.ChannelID)
	if !ok {
		return 0, fmt.Errorf("channel %d is not watched", ref.ChannelID)
	}
	doc, err := c.fetchDocument(ctx, info, ref)
	if err != nil {
		return 0, err
	}

	cw := &countingWriter{w: w}
	loc := &tg.InputDocumentFileLocation{
		ID:            doc.ID,
		AccessHash:    doc.AccessHash,
		FileReference: doc.FileReference,
	}
	if _, err := downloader.NewDownloader().Download(c.api, loc).Stream(ctx, cw); err != nil {
		return cw.n, classifyRPC(err)
	}
	return cw.n, nil
}

func (c *Client) fetchDocument(ctx context.Context, info *channelInfo, ref types.ExternalRef) (*tg.Document, error) {
	res, err := c.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
		Channel: &tg.InputChannel{ChannelID: info.id, AccessHash: info.accessHash},
		ID:      []tg.InputMessageClass{&tg.InputMessageID{ID: ref.MessageID}},
	})
	if err != nil {
		return nil, classifyRPC(err)
	}
	msgs, ok := res.(*tg.MessagesChannelMessages)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected response %T", ErrNotFound, res)
	}
	for _, m := range msgs.Messages {
		msg, ok := m.(*tg.Message)
		if !ok || msg.ID != ref.MessageID {
			continue
		}
		doc, ok := documentFromMessage(msg)
		if !ok {
			break
		}
		if doc.ID != ref.DocumentID {
			// The message was edited and now carries a different file.
			break
		}
		return doc, nil
	}
	return nil, fmt.Errorf("%w: message %d in channel %d", ErrNotFound, ref.MessageID, ref.ChannelID)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

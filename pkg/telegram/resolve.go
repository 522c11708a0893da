package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gotd/td/tg"
)

const (
	dialogPageSize = 100
	maxDialogPages = 20

	// botAPIChannelOffset is the magnitude bot-style IDs add to a channel
	// ID: "-100" prepended to the decimal digits.
	botAPIChannelOffset = 1_000_000_000_000
)

// resolveChannels turns every configured channel entry into a watched
// channelInfo. Any entry the session cannot access aborts startup.
func (c *Client) resolveChannels(ctx context.Context) error {
	for _, entry := range c.opts.Channels {
		info, err := c.resolveChannel(ctx, entry)
		if err != nil {
			return fmt.Errorf("channel %q is not accessible: %w", entry, err)
		}
		c.mu.Lock()
		c.channels[info.id] = info
		c.mu.Unlock()

		if c.opts.Sessions != nil {
			if err := c.opts.Sessions.PutPeer(info.id, info.accessHash, info.title, info.username); err != nil {
				c.logger.Warn().Err(err).Int64("channel_id", info.id).Msg("failed to cache peer")
			}
		}
		c.logger.Info().
			Int64("channel_id", info.id).
			Str("title", info.title).
			Msg("channel resolved")
	}
	return nil
}

func (c *Client) resolveChannel(ctx context.Context, entry string) (*channelInfo, error) {
	if id, err := strconv.ParseInt(entry, 10, 64); err == nil {
		normalized, err := normalizeChannelID(id)
		if err != nil {
			return nil, err
		}
		return c.resolveByID(ctx, normalized)
	}
	return c.resolveByUsername(ctx, strings.TrimPrefix(entry, "@"))
}

// normalizeChannelID accepts both bare channel IDs and bot-style
// "-100xxxxxxxxxx" forms.
func normalizeChannelID(id int64) (int64, error) {
	switch {
	case id > 0:
		return id, nil
	case id < -botAPIChannelOffset:
		return -id - botAPIChannelOffset, nil
	default:
		return 0, fmt.Errorf("%d is not a channel ID", id)
	}
}

func (c *Client) resolveByUsername(ctx context.Context, username string) (*channelInfo, error) {
	res, err := c.api.ContactsResolveUsername(ctx, username)
	if err != nil {
		return nil, classifyRPC(err)
	}
	peer, ok := res.Peer.(*tg.PeerChannel)
	if !ok {
		return nil, fmt.Errorf("%q is not a channel", username)
	}
	if info := channelFromChats(res.Chats, peer.ChannelID); info != nil {
		info.username = username
		return info, nil
	}
	return nil, fmt.Errorf("resolution for %q returned no channel data", username)
}

// resolveByID tries, in order: the peer cache from a previous run, a
// direct lookup (works when the account participates in the channel), and
// finally a walk of the dialog list.
func (c *Client) resolveByID(ctx context.Context, id int64) (*channelInfo, error) {
	if c.opts.Sessions != nil {
		hash, _, found, err := c.opts.Sessions.GetPeer(id)
		if err != nil {
			return nil, err
		}
		if found {
			if info, err := c.getChannel(ctx, &tg.InputChannel{ChannelID: id, AccessHash: hash}); err == nil {
				return info, nil
			}
			// Stale cache entry, fall through to a full lookup.
		}
	}

	if info, err := c.getChannel(ctx, &tg.InputChannel{ChannelID: id}); err == nil {
		return info, nil
	}

	return c.findInDialogs(ctx, id)
}

func (c *Client) getChannel(ctx context.Context, input *tg.InputChannel) (*channelInfo, error) {
	res, err := c.api.ChannelsGetChannels(ctx, []tg.InputChannelClass{input})
	if err != nil {
		return nil, classifyRPC(err)
	}
	var chats []tg.ChatClass
	switch v := res.(type) {
	case *tg.MessagesChats:
		chats = v.Chats
	case *tg.MessagesChatsSlice:
		chats = v.Chats
	}
	if info := channelFromChats(chats, input.ChannelID); info != nil {
		return info, nil
	}
	return nil, fmt.Errorf("channel %d not returned", input.ChannelID)
}

// findInDialogs scans the account dialog list for a channel the peer
// cache does not know. Runs at most once per unknown numeric channel ID,
// at startup only.
func (c *Client) findInDialogs(ctx context.Context, id int64) (*channelInfo, error) {
	req := &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      dialogPageSize,
	}
	for page := 0; page < maxDialogPages; page++ {
		res, err := c.api.MessagesGetDialogs(ctx, req)
		if err != nil {
			return nil, classifyRPC(err)
		}

		var (
			dialogs  []tg.DialogClass
			messages []tg.MessageClass
			chats    []tg.ChatClass
			users    []tg.UserClass
			partial  bool
		)
		switch v := res.(type) {
		case *tg.MessagesDialogs:
			dialogs, messages, chats, users = v.Dialogs, v.Messages, v.Chats, v.Users
		case *tg.MessagesDialogsSlice:
			dialogs, messages, chats, users = v.Dialogs, v.Messages, v.Chats, v.Users
			partial = true
		default:
			return nil, fmt.Errorf("unexpected dialogs response %T", res)
		}

		if info := channelFromChats(chats, id); info != nil {
			return info, nil
		}

		if !partial || len(dialogs) == 0 {
			break
		}
		if !advanceDialogOffsets(req, dialogs, messages, chats, users) {
			break
		}
	}
	return nil, fmt.Errorf("channel %d is not among the account dialogs", id)
}

// channelFromChats picks the channel with the given ID out of an RPC
// response chat list. Channels without an access hash are unusable and
// skipped.
func channelFromChats(chats []tg.ChatClass, id int64) *channelInfo {
	for _, chat := range chats {
		ch, ok := chat.(*tg.Channel)
		if !ok || ch.ID != id {
			continue
		}
		hash, ok := ch.GetAccessHash()
		if !ok {
			continue
		}
		return &channelInfo{id: ch.ID, accessHash: hash, title: ch.Title, username: ch.Username}
	}
	return nil
}

// advanceDialogOffsets moves req past the given page. Returns false when
// the offsets cannot be derived, which ends the walk.
func advanceDialogOffsets(req *tg.MessagesGetDialogsRequest, dialogs []tg.DialogClass, messages []tg.MessageClass, chats []tg.ChatClass, users []tg.UserClass) bool {
	last, ok := dialogs[len(dialogs)-1].(*tg.Dialog)
	if !ok {
		return false
	}
	peer := inputPeerFor(last.Peer, chats, users)
	if peer == nil {
		return false
	}
	req.OffsetPeer = peer
	req.OffsetID = last.TopMessage
	req.OffsetDate = topMessageDate(messages, last.Peer, last.TopMessage)
	return true
}

// inputPeerFor upgrades a bare peer to an input peer using the access
// hashes carried in the same response.
func inputPeerFor(peer tg.PeerClass, chats []tg.ChatClass, users []tg.UserClass) tg.InputPeerClass {
	switch p := peer.(type) {
	case *tg.PeerChannel:
		for _, chat := range chats {
			if ch, ok := chat.(*tg.Channel); ok && ch.ID == p.ChannelID {
				if hash, ok := ch.GetAccessHash(); ok {
					return &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: hash}
				}
			}
		}
	case *tg.PeerChat:
		return &tg.InputPeerChat{ChatID: p.ChatID}
	case *tg.PeerUser:
		for _, u := range users {
			if usr, ok := u.(*tg.User); ok && usr.ID == p.UserID {
				if hash, ok := usr.GetAccessHash(); ok {
					return &tg.InputPeerUser{UserID: usr.ID, AccessHash: hash}
				}
			}
		}
	}
	return nil
}

// topMessageDate finds the date of a dialog's top message within the
// response. Message IDs repeat across peers, so the peer must match too.
func topMessageDate(messages []tg.MessageClass, peer tg.PeerClass, id int) int {
	for _, m := range messages {
		switch msg := m.(type) {
		case *tg.Message:
			if msg.ID == id && samePeer(msg.PeerID, peer) {
				return msg.Date
			}
		case *tg.MessageService:
			if msg.ID == id && samePeer(msg.PeerID, peer) {
				return msg.Date
			}
		}
	}
	return 0
}

func samePeer(a, b tg.PeerClass) bool {
	switch pa := a.(type) {
	case *tg.PeerChannel:
		pb, ok := b.(*tg.PeerChannel)
		return ok && pa.ChannelID == pb.ChannelID
	case *tg.PeerChat:
		pb, ok := b.(*tg.PeerChat)
		return ok && pa.ChatID == pb.ChatID
	case *tg.PeerUser:
		pb, ok := b.(*tg.PeerUser)
		return ok && pa.UserID == pb.UserID
	}
	return false
}

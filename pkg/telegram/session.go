package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gotd/td/session"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketSession = []byte("session")
	bucketPeers   = []byte("peers")
)

// sessionKey is the fixed key for the MTProto session blob.
var sessionKey = []byte("gotd")

// SessionStore persists the MTProto session and resolved channel peers in a
// single BoltDB file under <dataDir>/sessions. It implements
// session.Storage, so a restart reconnects without re-login, and the peer
// cache lets numeric channel IDs survive restarts without a dialog scan.
type SessionStore struct {
	db *bolt.DB
}

// peerRecord is the cached resolution of one channel.
type peerRecord struct {
	AccessHash int64  `json:"access_hash"`
	Title      string `json:"title"`
	Username   string `json:"username,omitempty"`
}

// OpenSessionStore opens (creating if needed) the session database.
func OpenSessionStore(dataDir string) (*SessionStore, error) {
	dir := filepath.Join(dataDir, "sessions")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	db, err := bolt.Open(filepath.Join(dir, "magpie.session"), 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketSession, bucketPeers} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &SessionStore{db: db}, nil
}

// Close closes the database
func (s *SessionStore) Close() error {
	return s.db.Close()
}

// LoadSession returns the stored MTProto session, or session.ErrNotFound
// before first login.
func (s *SessionStore) LoadSession(_ context.Context) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSession)
		v := b.Get(sessionKey)
		if v == nil {
			return session.ErrNotFound
		}
		// Copy: BoltDB data is only valid during the transaction
		data = make([]byte, len(v))
		copy(data, v)
		return nil
	})
	return data, err
}

// StoreSession saves the MTProto session blob.
func (s *SessionStore) StoreSession(_ context.Context, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSession).Put(sessionKey, data)
	})
}

// PutPeer caches the resolution of a channel ID.
func (s *SessionStore) PutPeer(channelID int64, accessHash int64, title, username string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPeers)
		data, err := json.Marshal(peerRecord{
			AccessHash: accessHash,
			Title:      title,
			Username:   username,
		})
		if err != nil {
			return err
		}
		return b.Put(peerKey(channelID), data)
	})
}

// GetPeer returns a cached channel resolution. found is false when the
// channel has never been resolved by this installation.
func (s *SessionStore) GetPeer(channelID int64) (accessHash int64, title string, found bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPeers)
		data := b.Get(peerKey(channelID))
		if data == nil {
			return nil
		}
		var rec peerRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("failed to decode peer %d: %w", channelID, err)
		}
		accessHash = rec.AccessHash
		title = rec.Title
		found = true
		return nil
	})
	return accessHash, title, found, err
}

func peerKey(channelID int64) []byte {
	return []byte(strconv.FormatInt(channelID, 10))
}

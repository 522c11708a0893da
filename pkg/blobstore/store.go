package blobstore

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultDirPerm = 0o755
	scratchDirName = ".tmp"
)

// Store maps content hashes to files on disk using a two-level hash-prefix
// fan-out: <root>/<hash[0:2]>/<hash[2:4]>/<hash>. The relative path of a blob
// is a pure function of its hash, so no index is needed to locate bytes.
//
// Writes stream through a temporary file in the store's scratch area (same
// filesystem) and finish with an atomic rename, which makes concurrent puts
// of identical bytes safe and leaves no partial blobs after a crash.
type Store struct {
	root    string
	scratch string
	dirPerm os.FileMode
}

// PutResult describes the outcome of a put.
type PutResult struct {
	Hash    string // lowercase hex BLAKE2b-256
	RelPath string // slash-separated path relative to the store root
	Size    int64  // bytes consumed from the source
	Existed bool   // true when identical bytes were already stored
}

// Option configures a Store.
type Option func(*Store)

// WithDirPerm sets the permissions used when creating store directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(s *Store) {
		s.dirPerm = mode
	}
}

// New creates a content store rooted at root. The root and its scratch area
// are created when missing.
func New(root string, opts ...Option) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("store root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store root: %w", err)
	}
	s := &Store{
		root:    abs,
		scratch: filepath.Join(abs, scratchDirName),
		dirPerm: defaultDirPerm,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(s.scratch, s.dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create store root: %w", err)
	}
	return s, nil
}

// Root returns the absolute path of the store root.
func (s *Store) Root() string {
	return s.root
}

// Path returns the relative path for a hash: <hh>/<hh>/<hash>.
func (s *Store) Path(hash string) string {
	return filepath.ToSlash(filepath.Join(hash[0:2], hash[2:4], hash))
}

// DiskPath returns the absolute on-disk path for a hash. The blob may or
// may not exist; use Exists to check.
func (s *Store) DiskPath(hash string) string {
	return filepath.Join(s.root, filepath.FromSlash(s.Path(hash)))
}

// Exists reports whether bytes with the given hash are already stored.
func (s *Store) Exists(hash string) bool {
	if !ValidHash(hash) {
		return false
	}
	_, err := os.Stat(s.DiskPath(hash))
	return err == nil
}

// PutStream consumes r to EOF, hashing while spooling to a temporary file,
// then renames the spool into its final hash-derived path. When the final
// path already exists the spool is discarded and Existed is true.
func (s *Store) PutStream(r io.Reader) (PutResult, error) {
	tmp, err := os.CreateTemp(s.scratch, "put-*")
	if err != nil {
		return PutResult{}, fmt.Errorf("failed to create spool file: %w", err)
	}
	tmpPath := tmp.Name()

	h := NewHasher()
	size, err := io.CopyBuffer(tmp, io.TeeReader(r, h), make([]byte, copyBufSize))
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return PutResult{}, fmt.Errorf("failed to spool stream: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return PutResult{}, fmt.Errorf("failed to sync spool: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return PutResult{}, fmt.Errorf("failed to close spool: %w", err)
	}

	hash := hex.EncodeToString(h.Sum(nil))
	return s.finalize(tmpPath, hash, size)
}

// PutFile stores an existing file by hardlinking when the file lives on the
// store's filesystem, falling back to a streaming copy. The source file is
// left in place.
func (s *Store) PutFile(path string) (PutResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return PutResult{}, fmt.Errorf("failed to open source: %w", err)
	}
	hash, size, err := HashReader(f)
	f.Close()
	if err != nil {
		return PutResult{}, err
	}

	rel := s.Path(hash)
	final := filepath.Join(s.root, filepath.FromSlash(rel))
	if _, err := os.Stat(final); err == nil {
		return PutResult{Hash: hash, RelPath: rel, Size: size, Existed: true}, nil
	}
	if err := os.MkdirAll(filepath.Dir(final), s.dirPerm); err != nil {
		return PutResult{}, fmt.Errorf("failed to create shard dir: %w", err)
	}
	if err := os.Link(path, final); err == nil {
		return PutResult{Hash: hash, RelPath: rel, Size: size}, nil
	} else if _, statErr := os.Stat(final); statErr == nil {
		// lost a race against an identical put
		return PutResult{Hash: hash, RelPath: rel, Size: size, Existed: true}, nil
	}

	// hardlink refused (different filesystem, permissions): copy instead
	f, err = os.Open(path)
	if err != nil {
		return PutResult{}, fmt.Errorf("failed to reopen source: %w", err)
	}
	defer f.Close()
	res, err := s.PutStream(f)
	if err != nil {
		return PutResult{}, err
	}
	if res.Hash != hash {
		return PutResult{}, fmt.Errorf("source changed during put: hash %s became %s", hash, res.Hash)
	}
	return res, nil
}

// Open returns a reader for a blob previously stored. The relative path must
// stay inside the store root.
func (s *Store) Open(relPath string) (io.ReadCloser, error) {
	p := filepath.Join(s.root, filepath.FromSlash(relPath))
	if p != s.root && !strings.HasPrefix(p, s.root+string(os.PathSeparator)) {
		return nil, fmt.Errorf("path %q escapes store root", relPath)
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return f, nil
}

// ScratchDir creates a fresh directory under the store's scratch area, on
// the same filesystem as the blobs. Callers own removal.
func (s *Store) ScratchDir(prefix string) (string, error) {
	dir, err := os.MkdirTemp(s.scratch, prefix+"-*")
	if err != nil {
		return "", fmt.Errorf("failed to create scratch dir: %w", err)
	}
	return dir, nil
}

// SweepScratch removes scratch entries older than the given age. Entries
// younger than the cutoff are left alone so an in-flight job is never
// disturbed. Returns the number of entries removed.
func (s *Store) SweepScratch(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(s.scratch)
	if err != nil {
		return 0, fmt.Errorf("failed to read scratch dir: %w", err)
	}
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.scratch, entry.Name())); err != nil {
			return removed, fmt.Errorf("failed to remove scratch entry %s: %w", entry.Name(), err)
		}
		removed++
	}
	return removed, nil
}

// finalize renames a spool file into its hash-derived final path, tolerating
// a concurrent put of the same bytes.
func (s *Store) finalize(tmpPath, hash string, size int64) (PutResult, error) {
	rel := s.Path(hash)
	final := filepath.Join(s.root, filepath.FromSlash(rel))

	if _, err := os.Stat(final); err == nil {
		os.Remove(tmpPath)
		return PutResult{Hash: hash, RelPath: rel, Size: size, Existed: true}, nil
	}
	if err := os.MkdirAll(filepath.Dir(final), s.dirPerm); err != nil {
		os.Remove(tmpPath)
		return PutResult{}, fmt.Errorf("failed to create shard dir: %w", err)
	}
	if err := os.Rename(tmpPath, final); err != nil {
		if _, statErr := os.Stat(final); statErr == nil {
			os.Remove(tmpPath)
			return PutResult{Hash: hash, RelPath: rel, Size: size, Existed: true}, nil
		}
		os.Remove(tmpPath)
		return PutResult{}, fmt.Errorf("failed to finalize blob %s: %w", hash, err)
	}
	return PutResult{Hash: hash, RelPath: rel, Size: size}, nil
}

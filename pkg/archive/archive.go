package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Sentinel errors for guard violations. They are matched with errors.Is by
// the pipeline's failure classification.
var (
	ErrPasswordRequired = errors.New("archive is password protected")
	ErrUnsafePath       = errors.New("archive member escapes extraction root")
	ErrBombCeiling      = errors.New("cumulative uncompressed size exceeds ceiling")
	ErrBombRatio        = errors.New("member compression ratio exceeds limit")
)

// Limits bounds a single extraction run.
type Limits struct {
	MaxTotalBytes int64 // cumulative uncompressed ceiling, 0 disables
	MaxRatio      int64 // per-member uncompressed/compressed ratio, 0 disables
}

// Member describes one extracted regular file.
type Member struct {
	RelPath  string // normalized slash-separated path inside the archive
	DiskPath string // where the member was written under the dest dir
	Size     int64  // uncompressed bytes written
}

// Extractor streams regular-file members of an archive into a destination
// directory. fn is invoked once per member after its bytes are fully on
// disk; returning an error from fn aborts the extraction.
type Extractor interface {
	Extract(ctx context.Context, archivePath, destDir string, limits Limits, fn func(Member) error) error
}

// decoders is the dispatch table keyed by lowercase filename suffix.
var decoders = map[string]Extractor{
	".zip": zipExtractor{},
	".rar": rarExtractor{},
}

// ForFilename returns the extractor responsible for the given filename, or
// false when the suffix names no supported container format.
func ForFilename(name string) (Extractor, bool) {
	ex, ok := decoders[strings.ToLower(filepath.Ext(name))]
	return ex, ok
}

// securePath normalizes a member name and rejects anything that could land
// outside the extraction root: absolute paths, drive prefixes, and paths
// whose cleaned form escapes upward.
func securePath(name string) (string, error) {
	normalized := strings.ReplaceAll(name, `\`, "/")
	if normalized == "" {
		return "", ErrUnsafePath
	}
	if path.IsAbs(normalized) {
		return "", ErrUnsafePath
	}
	if len(normalized) >= 2 && normalized[1] == ':' {
		return "", ErrUnsafePath
	}
	cleaned := path.Clean(normalized)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrUnsafePath
	}
	return cleaned, nil
}

// budget tracks cumulative uncompressed bytes across all members of one
// extraction run.
type budget struct {
	limits Limits
	used   int64
}

// precheck rejects members whose declared sizes already violate the limits,
// before any bytes are inflated. Declared sizes are advisory; memberWriter
// enforces the same limits on actual bytes.
func (b *budget) precheck(declaredUncompressed, declaredCompressed int64) error {
	if b.limits.MaxTotalBytes > 0 && declaredUncompressed > 0 && b.used+declaredUncompressed > b.limits.MaxTotalBytes {
		return ErrBombCeiling
	}
	if b.limits.MaxRatio > 0 && declaredCompressed > 0 && declaredUncompressed > declaredCompressed*b.limits.MaxRatio {
		return ErrBombRatio
	}
	return nil
}

// memberWriter enforces the ceiling and ratio limits on bytes actually
// written, so lying headers cannot smuggle a bomb past the prechecks.
type memberWriter struct {
	w          io.Writer
	budget     *budget
	compressed int64 // declared compressed size, 0 when unknown
	written    int64
}

func (mw *memberWriter) Write(p []byte) (int, error) {
	mw.budget.used += int64(len(p))
	mw.written += int64(len(p))
	if mw.budget.limits.MaxTotalBytes > 0 && mw.budget.used > mw.budget.limits.MaxTotalBytes {
		return 0, ErrBombCeiling
	}
	if mw.budget.limits.MaxRatio > 0 && mw.compressed > 0 && mw.written > mw.compressed*mw.budget.limits.MaxRatio {
		return 0, ErrBombRatio
	}
	return mw.w.Write(p)
}

// contextReader bounds cancellation latency to one copy chunk.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}

// writeMember inflates one member under destDir and returns its Member
// record. On any error the partly written file is removed.
func writeMember(ctx context.Context, destDir, rel string, r io.Reader, b *budget, compressed int64) (Member, error) {
	diskPath := filepath.Join(destDir, filepath.FromSlash(rel))
	root := filepath.Clean(destDir)
	if !strings.HasPrefix(diskPath, root+string(os.PathSeparator)) {
		return Member{}, ErrUnsafePath
	}
	if err := os.MkdirAll(filepath.Dir(diskPath), 0o755); err != nil {
		return Member{}, fmt.Errorf("failed to create member dir: %w", err)
	}
	out, err := os.OpenFile(diskPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return Member{}, fmt.Errorf("failed to create member file: %w", err)
	}

	mw := &memberWriter{w: out, budget: b, compressed: compressed}
	n, err := io.Copy(mw, &contextReader{ctx: ctx, r: r})
	if cerr := out.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close member file: %w", cerr)
	}
	if err != nil {
		os.Remove(diskPath)
		return Member{}, err
	}
	return Member{RelPath: rel, DiskPath: diskPath, Size: n}, nil
}

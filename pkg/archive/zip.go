package archive

import (
	"context"
	"fmt"

	"github.com/klauspost/compress/zip"
)

// zipFlagEncrypted is general purpose bit 0 of the local file header.
const zipFlagEncrypted = 0x1

type zipExtractor struct{}

func (zipExtractor) Extract(ctx context.Context, archivePath, destDir string, limits Limits, fn func(Member) error) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open zip: %w", err)
	}
	defer r.Close()

	b := &budget{limits: limits}
	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if f.Flags&zipFlagEncrypted != 0 {
			return fmt.Errorf("member %s: %w", f.Name, ErrPasswordRequired)
		}
		if !f.Mode().IsRegular() {
			// directories, symlinks, devices
			continue
		}
		rel, err := securePath(f.Name)
		if err != nil {
			return fmt.Errorf("member %s: %w", f.Name, err)
		}
		if err := b.precheck(int64(f.UncompressedSize64), int64(f.CompressedSize64)); err != nil {
			return fmt.Errorf("member %s: %w", f.Name, err)
		}

		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("failed to open member %s: %w", f.Name, err)
		}
		m, err := writeMember(ctx, destDir, rel, rc, b, int64(f.CompressedSize64))
		rc.Close()
		if err != nil {
			return fmt.Errorf("member %s: %w", f.Name, err)
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	return nil
}

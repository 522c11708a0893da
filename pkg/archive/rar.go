package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/nwaples/rardecode/v2"
)

type rarExtractor struct{}

func (rarExtractor) Extract(ctx context.Context, archivePath, destDir string, limits Limits, fn func(Member) error) error {
	r, err := rardecode.OpenReader(archivePath)
	if err != nil {
		return wrapRarErr("failed to open rar", err)
	}
	defer r.Close()

	b := &budget{limits: limits}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return wrapRarErr("failed to read rar header", err)
		}
		if hdr.IsDir || !hdr.Mode().IsRegular() {
			continue
		}
		rel, err := securePath(hdr.Name)
		if err != nil {
			return fmt.Errorf("member %s: %w", hdr.Name, err)
		}
		declared := hdr.UnPackedSize
		if hdr.UnKnownSize {
			declared = 0
		}
		if err := b.precheck(declared, hdr.PackedSize); err != nil {
			return fmt.Errorf("member %s: %w", hdr.Name, err)
		}

		m, err := writeMember(ctx, destDir, rel, r, b, hdr.PackedSize)
		if err != nil {
			if isEncryptionErr(err) {
				return fmt.Errorf("member %s: %w", hdr.Name, ErrPasswordRequired)
			}
			return fmt.Errorf("member %s: %w", hdr.Name, err)
		}
		if err := fn(m); err != nil {
			return err
		}
	}
}

// wrapRarErr folds the decoder's encryption errors into ErrPasswordRequired
// so callers classify on one sentinel regardless of where the decoder
// noticed the password.
func wrapRarErr(op string, err error) error {
	if isEncryptionErr(err) {
		return fmt.Errorf("%s: %w", op, ErrPasswordRequired)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isEncryptionErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "password") || strings.Contains(msg, "encrypt")
}

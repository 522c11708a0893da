package repository

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/corvusec/magpie/pkg/types"
)

// openTestRepo creates a file-backed repository in a temp dir.
func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

// makeProcessedFile builds a minimal valid ProcessedFile for a ref.
func makeProcessedFile(ref, hash string) types.ProcessedFile {
	return types.ProcessedFile{
		ExternalRef:  ref,
		ChannelID:    42,
		ChannelTitle: "test channel",
		Filename:     "dump.zip",
		SizeBytes:    1024,
		FileHash:     hash,
		StoragePath:  filepath.Join(hash[:2], hash[2:4], hash),
	}
}

// testHash returns a syntactically valid 64-char hash with a readable tag.
func testHash(tag string) string {
	h := tag + strings.Repeat("0", 64)
	return h[:64]
}

func makeIndicator(typ types.IndicatorType, value, sourceHash string, line int) types.ExtractedIndicator {
	return types.ExtractedIndicator{
		Type:               typ,
		Value:              value,
		SourceFileHash:     sourceHash,
		SourceRelativePath: "a.txt",
		SourceLine:         line,
		ChannelID:          42,
	}
}

// indicatorSeenTimes reads the seen timestamps for a single indicator value.
func indicatorSeenTimes(t *testing.T, r *Repository, value string) (first, last time.Time) {
	t.Helper()
	err := r.db.QueryRow(`
		SELECT first_seen_at, last_seen_at FROM extracted_indicators WHERE value = ?
	`, value).Scan(&first, &last)
	if err != nil {
		t.Fatalf("query indicator %q: %v", value, err)
	}
	return first, last
}

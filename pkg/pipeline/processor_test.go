package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvusec/magpie/pkg/archive"
	"github.com/corvusec/magpie/pkg/blobstore"
	"github.com/corvusec/magpie/pkg/scanner"
	"github.com/corvusec/magpie/pkg/telegram"
	"github.com/corvusec/magpie/pkg/types"
)

type markCall struct {
	jobID    string
	status   types.JobStatus
	errText  string
	fileHash string
}

// fakeRepo records every persistence call in order. CompleteJob feeds the
// processed map, so replaying an event exercises real pre-dedup behavior.
type fakeRepo struct {
	mu         sync.Mutex
	processed  map[string]bool
	beginCalls int
	marks      []markCall
	completed  []types.ProcessedFile
	indicators [][]types.ExtractedIndicator
	seq        []string

	isProcessedErr error
	completeErr    error
	upsertErr      error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{processed: map[string]bool{}}
}

func (r *fakeRepo) IsProcessed(ctx context.Context, ref string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isProcessedErr != nil {
		return false, r.isProcessedErr
	}
	return r.processed[ref], nil
}

func (r *fakeRepo) BeginJob(ctx context.Context, ref string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beginCalls++
	return fmt.Sprintf("job-%d", r.beginCalls), nil
}

func (r *fakeRepo) MarkJob(ctx context.Context, jobID string, status types.JobStatus, errText, fileHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.marks = append(r.marks, markCall{jobID: jobID, status: status, errText: errText, fileHash: fileHash})
	return nil
}

func (r *fakeRepo) CompleteJob(ctx context.Context, jobID string, pf types.ProcessedFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.completeErr != nil {
		return r.completeErr
	}
	r.processed[pf.ExternalRef] = true
	r.completed = append(r.completed, pf)
	r.seq = append(r.seq, "complete")
	return nil
}

func (r *fakeRepo) UpsertIndicators(ctx context.Context, batch []types.ExtractedIndicator) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.upsertErr != nil {
		return r.upsertErr
	}
	r.indicators = append(r.indicators, batch)
	r.seq = append(r.seq, "indicators")
	return nil
}

func (r *fakeRepo) failedMark() (markCall, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.marks {
		if m.status == types.JobFailed {
			return m, true
		}
	}
	return markCall{}, false
}

type dlStep struct {
	data []byte
	err  error
}

// fakeDownloader plays its steps in order; the final step repeats.
type fakeDownloader struct {
	mu    sync.Mutex
	steps []dlStep
	calls int
}

func (d *fakeDownloader) Download(ctx context.Context, ref types.ExternalRef, w io.Writer) (int64, error) {
	d.mu.Lock()
	step := d.steps[0]
	if len(d.steps) > 1 {
		d.steps = d.steps[1:]
	}
	d.calls++
	d.mu.Unlock()

	if len(step.data) > 0 {
		if _, err := w.Write(step.data); err != nil {
			return 0, err
		}
	}
	if step.err != nil {
		return 0, step.err
	}
	return int64(len(step.data)), nil
}

type panicDownloader struct{}

func (panicDownloader) Download(ctx context.Context, ref types.ExternalRef, w io.Writer) (int64, error) {
	panic("corrupt transfer state")
}

func docEvent(msgID int, filename string, size int64) types.DocumentEvent {
	return types.DocumentEvent{
		Ref:          types.ExternalRef{ChannelID: 42, MessageID: msgID, DocumentID: int64(1000 + msgID)},
		ChannelTitle: "Leak Watch",
		Filename:     filename,
		SizeBytes:    size,
		MimeType:     "application/octet-stream",
		SentAt:       time.Unix(1700000000, 0).UTC(),
	}
}

func newTestProcessor(t *testing.T, repo *fakeRepo, dl Downloader, cfg Config) (*Processor, *blobstore.Store) {
	t.Helper()
	store, err := blobstore.New(filepath.Join(t.TempDir(), "store"))
	require.NoError(t, err)
	sc, err := scanner.New(scanner.Config{
		EmailSuffixes: []string{"example.gov"},
		IPv4CIDRs:     []string{"10.0.0.0/24"},
	})
	require.NoError(t, err)
	if cfg.RetryBase == 0 {
		cfg.RetryBase = time.Millisecond
	}
	if cfg.Limits == (archive.Limits{}) {
		cfg.Limits = archive.Limits{MaxTotalBytes: 1 << 20, MaxRatio: 1000}
	}
	return NewProcessor(repo, store, sc, dl, cfg), store
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		mw, err := w.Create(name)
		require.NoError(t, err)
		_, err = mw.Write([]byte(files[name]))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func transientNetErr() error {
	return &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}
}

func TestProcessSkipsAlreadyProcessedRef(t *testing.T) {
	repo := newFakeRepo()
	ev := docEvent(7, "dump.zip", 0)
	repo.processed[ev.Ref.String()] = true
	dl := &fakeDownloader{steps: []dlStep{{err: errors.New("must not be called")}}}
	proc, _ := newTestProcessor(t, repo, dl, Config{})

	require.NoError(t, proc.Process(context.Background(), ev))
	assert.Equal(t, 0, repo.beginCalls)
	assert.Equal(t, 0, dl.calls)
}

func TestProcessDedupCheckFailure(t *testing.T) {
	repo := newFakeRepo()
	repo.isProcessedErr = errors.New("db down")
	proc, _ := newTestProcessor(t, repo, &fakeDownloader{steps: []dlStep{{}}}, Config{})

	err := proc.Process(context.Background(), docEvent(7, "dump.zip", 0))
	require.Error(t, err)
	assert.Equal(t, 0, repo.beginCalls)
}

func TestProcessStoresPlainDocument(t *testing.T) {
	content := []byte("quarterly report, nothing to extract")
	repo := newFakeRepo()
	dl := &fakeDownloader{steps: []dlStep{{data: content}}}
	proc, store := newTestProcessor(t, repo, dl, Config{})
	ev := docEvent(7, "report.pdf", int64(len(content)))

	require.NoError(t, proc.Process(context.Background(), ev))

	require.Len(t, repo.completed, 1)
	pf := repo.completed[0]
	assert.Equal(t, ev.Ref.String(), pf.ExternalRef)
	assert.Equal(t, "report.pdf", pf.Filename)
	assert.Equal(t, int64(len(content)), pf.SizeBytes)

	wantHash, _, err := blobstore.HashReader(bytes.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, wantHash, pf.FileHash)
	assert.Equal(t, store.Path(wantHash), pf.StoragePath)
	assert.True(t, store.Exists(wantHash))

	// non-archive documents produce no indicators
	assert.Empty(t, repo.indicators)
}

func TestProcessScansArchiveMembers(t *testing.T) {
	zipBytes := buildZip(t, map[string]string{
		"a.txt":     "contact analyst@example.gov for access\nbeacon at 10.0.0.5 port 443\n",
		"readme.md": "10.0.0.99 would match, but .md members are not scanned\n",
	})
	repo := newFakeRepo()
	dl := &fakeDownloader{steps: []dlStep{{data: zipBytes}}}
	proc, _ := newTestProcessor(t, repo, dl, Config{})
	ev := docEvent(8, "leak.zip", int64(len(zipBytes)))

	require.NoError(t, proc.Process(context.Background(), ev))

	require.Len(t, repo.completed, 1)
	require.Len(t, repo.indicators, 1)
	batch := repo.indicators[0]
	require.Len(t, batch, 2)

	wantHash, _, err := blobstore.HashReader(bytes.NewReader(zipBytes))
	require.NoError(t, err)

	byType := map[types.IndicatorType]types.ExtractedIndicator{}
	for _, ind := range batch {
		byType[ind.Type] = ind
		assert.Equal(t, wantHash, ind.SourceFileHash)
		assert.Equal(t, "a.txt", ind.SourceRelativePath)
		assert.Equal(t, int64(42), ind.ChannelID)
	}
	assert.Equal(t, "analyst@example.gov", byType[types.IndicatorEmail].Value)
	assert.Equal(t, 1, byType[types.IndicatorEmail].SourceLine)
	assert.Equal(t, "10.0.0.5", byType[types.IndicatorIPv4].Value)
	assert.Equal(t, 2, byType[types.IndicatorIPv4].SourceLine)

	// the processed_files row lands before the indicator rows
	assert.Equal(t, []string{"complete", "indicators"}, repo.seq)
}

func TestProcessRetriesTransientFailures(t *testing.T) {
	zipBytes := buildZip(t, map[string]string{"a.txt": "clean\n"})
	repo := newFakeRepo()
	dl := &fakeDownloader{steps: []dlStep{
		{err: transientNetErr()},
		{err: transientNetErr()},
		{data: zipBytes},
	}}
	proc, _ := newTestProcessor(t, repo, dl, Config{DownloadAttempts: 5})

	require.NoError(t, proc.Process(context.Background(), docEvent(9, "leak.zip", int64(len(zipBytes)))))
	assert.Equal(t, 3, dl.calls)
	assert.Len(t, repo.completed, 1)
}

func TestProcessGivesUpAfterMaxAttempts(t *testing.T) {
	repo := newFakeRepo()
	dl := &fakeDownloader{steps: []dlStep{{err: transientNetErr()}}}
	proc, _ := newTestProcessor(t, repo, dl, Config{DownloadAttempts: 3})

	err := proc.Process(context.Background(), docEvent(10, "leak.zip", 0))
	require.Error(t, err)
	assert.Equal(t, 3, dl.calls)
	assert.Empty(t, repo.completed)

	mark, ok := repo.failedMark()
	require.True(t, ok)
	assert.Contains(t, mark.errText, string(types.ErrClassTransientNetwork))
}

func TestProcessDoesNotRetryMissingDocument(t *testing.T) {
	repo := newFakeRepo()
	dl := &fakeDownloader{steps: []dlStep{{err: fmt.Errorf("fetch: %w", telegram.ErrNotFound)}}}
	proc, _ := newTestProcessor(t, repo, dl, Config{DownloadAttempts: 5})

	err := proc.Process(context.Background(), docEvent(11, "gone.zip", 0))
	require.Error(t, err)
	assert.Equal(t, 1, dl.calls)

	_, ok := repo.failedMark()
	assert.True(t, ok)
}

func TestProcessDoesNotRetryAuthFailure(t *testing.T) {
	repo := newFakeRepo()
	dl := &fakeDownloader{steps: []dlStep{{err: fmt.Errorf("invoke: %w", telegram.ErrAuthFailed)}}}
	proc, _ := newTestProcessor(t, repo, dl, Config{DownloadAttempts: 5})

	err := proc.Process(context.Background(), docEvent(12, "leak.zip", 0))
	require.Error(t, err)
	assert.Equal(t, 1, dl.calls)

	mark, ok := repo.failedMark()
	require.True(t, ok)
	assert.Contains(t, mark.errText, string(types.ErrClassAuthFailed))
}

func TestProcessRetriesSizeMismatch(t *testing.T) {
	full := []byte("1234567890")
	repo := newFakeRepo()
	dl := &fakeDownloader{steps: []dlStep{
		{data: full[:5]}, // truncated transfer, no error reported
		{data: full},
	}}
	proc, _ := newTestProcessor(t, repo, dl, Config{DownloadAttempts: 3})
	ev := docEvent(13, "report.pdf", int64(len(full)))

	require.NoError(t, proc.Process(context.Background(), ev))
	assert.Equal(t, 2, dl.calls)
	require.Len(t, repo.completed, 1)
	assert.Equal(t, int64(len(full)), repo.completed[0].SizeBytes)

	wantHash, _, err := blobstore.HashReader(bytes.NewReader(full))
	require.NoError(t, err)
	assert.Equal(t, wantHash, repo.completed[0].FileHash)
}

// stubExtractor stands in for an archive that cannot be opened. It drops a
// partial file into the destination so cleanup is observable.
type stubExtractor struct {
	err     error
	sawDest *string
}

func (s stubExtractor) Extract(ctx context.Context, archivePath, destDir string, limits archive.Limits, fn func(archive.Member) error) error {
	*s.sawDest = destDir
	if err := os.WriteFile(filepath.Join(destDir, "partial.txt"), []byte("partial"), 0o644); err != nil {
		return err
	}
	return s.err
}

func TestProcessPasswordProtectedArchiveFails(t *testing.T) {
	zipBytes := buildZip(t, map[string]string{"a.txt": "unreadable without password\n"})
	repo := newFakeRepo()
	dl := &fakeDownloader{steps: []dlStep{{data: zipBytes}}}
	proc, _ := newTestProcessor(t, repo, dl, Config{})

	var dest string
	proc.extractorFor = func(string) (archive.Extractor, bool) {
		return stubExtractor{err: fmt.Errorf("open rar: %w", archive.ErrPasswordRequired), sawDest: &dest}, true
	}

	err := proc.Process(context.Background(), docEvent(14, "locked.rar", int64(len(zipBytes))))
	require.Error(t, err)

	// failed job, no processed_files row, no indicators
	assert.Empty(t, repo.completed)
	assert.Empty(t, repo.indicators)
	mark, ok := repo.failedMark()
	require.True(t, ok)
	assert.Contains(t, mark.errText, string(types.ErrClassPasswordRequired))

	// extraction scratch space is gone
	require.NotEmpty(t, dest)
	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestProcessRejectsTraversalMember(t *testing.T) {
	zipBytes := buildZip(t, map[string]string{
		"../evil.txt": "attacker@example.gov\n",
	})
	repo := newFakeRepo()
	dl := &fakeDownloader{steps: []dlStep{{data: zipBytes}}}
	proc, _ := newTestProcessor(t, repo, dl, Config{})

	err := proc.Process(context.Background(), docEvent(15, "slip.zip", int64(len(zipBytes))))
	require.Error(t, err)
	assert.Empty(t, repo.completed)

	mark, ok := repo.failedMark()
	require.True(t, ok)
	assert.Contains(t, mark.errText, string(types.ErrClassUnsafeArchive))
}

func TestProcessSharesBlobAcrossRefs(t *testing.T) {
	zipBytes := buildZip(t, map[string]string{"a.txt": "analyst@example.gov\n"})
	repo := newFakeRepo()
	dl := &fakeDownloader{steps: []dlStep{{data: zipBytes}}}
	proc, store := newTestProcessor(t, repo, dl, Config{})

	require.NoError(t, proc.Process(context.Background(), docEvent(16, "repost.zip", int64(len(zipBytes)))))
	require.NoError(t, proc.Process(context.Background(), docEvent(17, "repost.zip", int64(len(zipBytes)))))

	require.Len(t, repo.completed, 2)
	assert.NotEqual(t, repo.completed[0].ExternalRef, repo.completed[1].ExternalRef)
	assert.Equal(t, repo.completed[0].FileHash, repo.completed[1].FileHash)
	assert.Equal(t, repo.completed[0].StoragePath, repo.completed[1].StoragePath)

	// identical bytes occupy one blob on disk
	blobs := 0
	err := filepath.WalkDir(store.Root(), func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if strings.Contains(path, string(os.PathSeparator)+".tmp"+string(os.PathSeparator)) {
			return nil
		}
		blobs++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, blobs)
}

func TestProcessReplayAfterCompletionSkips(t *testing.T) {
	content := []byte("same document, posted twice")
	repo := newFakeRepo()
	dl := &fakeDownloader{steps: []dlStep{{data: content}}}
	proc, _ := newTestProcessor(t, repo, dl, Config{})
	ev := docEvent(18, "report.pdf", int64(len(content)))

	require.NoError(t, proc.Process(context.Background(), ev))
	require.NoError(t, proc.Process(context.Background(), ev))

	assert.Equal(t, 1, repo.beginCalls)
	assert.Equal(t, 1, dl.calls)
	assert.Len(t, repo.completed, 1)
}

func TestProcessCompletesWhenIndicatorWriteFails(t *testing.T) {
	zipBytes := buildZip(t, map[string]string{"a.txt": "analyst@example.gov\n"})
	repo := newFakeRepo()
	repo.upsertErr = errors.New("indicator table locked")
	dl := &fakeDownloader{steps: []dlStep{{data: zipBytes}}}
	proc, _ := newTestProcessor(t, repo, dl, Config{})

	// the job still completes; the indicator batch is the only loss
	require.NoError(t, proc.Process(context.Background(), docEvent(19, "leak.zip", int64(len(zipBytes)))))
	assert.Len(t, repo.completed, 1)
	_, failed := repo.failedMark()
	assert.False(t, failed)
}

func TestProcessRecoversFromDownloadPanic(t *testing.T) {
	repo := newFakeRepo()
	proc, _ := newTestProcessor(t, repo, panicDownloader{}, Config{DownloadAttempts: 1})

	err := proc.Process(context.Background(), docEvent(20, "leak.zip", 0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")

	mark, ok := repo.failedMark()
	require.True(t, ok)
	assert.Equal(t, types.JobFailed, mark.status)
	assert.Empty(t, repo.completed)
}

func TestProcessRecordsHashBeforeExtraction(t *testing.T) {
	zipBytes := buildZip(t, map[string]string{"a.txt": "clean\n"})
	repo := newFakeRepo()
	dl := &fakeDownloader{steps: []dlStep{{data: zipBytes}}}
	proc, _ := newTestProcessor(t, repo, dl, Config{})

	require.NoError(t, proc.Process(context.Background(), docEvent(21, "leak.zip", int64(len(zipBytes)))))

	wantHash, _, err := blobstore.HashReader(bytes.NewReader(zipBytes))
	require.NoError(t, err)

	var sawHash bool
	for _, m := range repo.marks {
		if m.status == types.JobProcessing && m.fileHash == wantHash {
			sawHash = true
		}
	}
	assert.True(t, sawHash, "expected a processing mark carrying the file hash")
}

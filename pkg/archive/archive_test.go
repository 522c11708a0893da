package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type zipEntry struct {
	name string
	body []byte
	mode os.FileMode
}

func writeZipFile(t *testing.T, entries []zipEntry) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := zip.NewWriter(f)
	for _, e := range entries {
		fh := &zip.FileHeader{Name: e.name, Method: zip.Deflate}
		if e.mode != 0 {
			fh.SetMode(e.mode)
		}
		mw, err := w.CreateHeader(fh)
		require.NoError(t, err)
		_, err = mw.Write(e.body)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return path
}

func extractAll(t *testing.T, path string, limits Limits) ([]Member, error) {
	t.Helper()
	ex, ok := ForFilename(path)
	require.True(t, ok)
	var members []Member
	err := ex.Extract(context.Background(), path, t.TempDir(), limits, func(m Member) error {
		members = append(members, m)
		return nil
	})
	return members, err
}

func TestForFilename(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"dump.zip", true},
		{"DUMP.ZIP", true},
		{"leak.rar", true},
		{"leak.RAR", true},
		{"notes.txt", false},
		{"archive.tar.gz", false},
		{"zip", false},
		{"", false},
	}
	for _, tt := range tests {
		_, ok := ForFilename(tt.name)
		assert.Equal(t, tt.ok, ok, "ForFilename(%q)", tt.name)
	}
}

func TestZipExtractMembers(t *testing.T) {
	path := writeZipFile(t, []zipEntry{
		{name: "a.txt", body: []byte("alpha\n")},
		{name: "sub/dir/b.txt", body: []byte("beta\n")},
		{name: "empty.bin", body: nil},
	})

	members, err := extractAll(t, path, Limits{MaxTotalBytes: 1 << 20, MaxRatio: 100})
	require.NoError(t, err)
	require.Len(t, members, 3)

	assert.Equal(t, "a.txt", members[0].RelPath)
	assert.Equal(t, "sub/dir/b.txt", members[1].RelPath)
	assert.Equal(t, "empty.bin", members[2].RelPath)
	assert.Equal(t, int64(0), members[2].Size)

	got, err := os.ReadFile(members[1].DiskPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("beta\n"), got)
}

func TestZipSkipsNonRegularMembers(t *testing.T) {
	path := writeZipFile(t, []zipEntry{
		{name: "dir/", mode: os.ModeDir | 0o755},
		{name: "link", body: []byte("target"), mode: os.ModeSymlink | 0o777},
		{name: "real.txt", body: []byte("data")},
	})

	members, err := extractAll(t, path, Limits{})
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "real.txt", members[0].RelPath)
}

func TestZipPathTraversal(t *testing.T) {
	dest := t.TempDir()
	outside := filepath.Join(filepath.Dir(dest), "escape.txt")

	path := writeZipFile(t, []zipEntry{
		{name: "../escape.txt", body: []byte("pwned")},
	})

	ex, _ := ForFilename(path)
	err := ex.Extract(context.Background(), path, dest, Limits{}, func(Member) error { return nil })
	require.ErrorIs(t, err, ErrUnsafePath)

	_, statErr := os.Stat(outside)
	assert.True(t, os.IsNotExist(statErr), "member escaped the extraction root")
}

func TestZipAbsolutePathRejected(t *testing.T) {
	path := writeZipFile(t, []zipEntry{
		{name: "/etc/cron.d/evil", body: []byte("x")},
	})

	_, err := extractAll(t, path, Limits{})
	require.ErrorIs(t, err, ErrUnsafePath)
}

func TestZipBombCeiling(t *testing.T) {
	big := bytes.Repeat([]byte{0}, 4<<20)
	path := writeZipFile(t, []zipEntry{
		{name: "bomb.bin", body: big},
	})

	_, err := extractAll(t, path, Limits{MaxTotalBytes: 1 << 20})
	require.ErrorIs(t, err, ErrBombCeiling)
}

func TestZipBombCumulativeCeiling(t *testing.T) {
	member := bytes.Repeat([]byte("payload!"), 80*1024) // 640 KiB each
	path := writeZipFile(t, []zipEntry{
		{name: "one.bin", body: member},
		{name: "two.bin", body: member},
	})

	members, err := extractAll(t, path, Limits{MaxTotalBytes: 1 << 20})
	require.ErrorIs(t, err, ErrBombCeiling)
	// the first member fits, the second crosses the ceiling
	assert.Len(t, members, 1)
}

func TestZipBombRatio(t *testing.T) {
	zeros := bytes.Repeat([]byte{0}, 1<<20)
	path := writeZipFile(t, []zipEntry{
		{name: "zeros.bin", body: zeros},
	})

	_, err := extractAll(t, path, Limits{MaxRatio: 10})
	require.ErrorIs(t, err, ErrBombRatio)
}

func TestZipEncryptedMember(t *testing.T) {
	path := writeZipFile(t, []zipEntry{
		{name: "plain.txt", body: []byte("ok")},
	})

	// rewrite with the encryption flag set on a member
	enc := filepath.Join(t.TempDir(), "enc.zip")
	f, err := os.Create(enc)
	require.NoError(t, err)
	w := zip.NewWriter(f)
	mw, err := w.CreateHeader(&zip.FileHeader{Name: "secret.txt", Flags: zipFlagEncrypted})
	require.NoError(t, err)
	_, err = mw.Write([]byte("ciphertext"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	_, err = extractAll(t, enc, Limits{})
	require.ErrorIs(t, err, ErrPasswordRequired)

	// the unencrypted fixture still extracts
	members, err := extractAll(t, path, Limits{})
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestZipCallbackErrorAborts(t *testing.T) {
	path := writeZipFile(t, []zipEntry{
		{name: "a.txt", body: []byte("a")},
		{name: "b.txt", body: []byte("b")},
	})

	sentinel := errors.New("stop")
	ex, _ := ForFilename(path)
	var seen int
	err := ex.Extract(context.Background(), path, t.TempDir(), Limits{}, func(Member) error {
		seen++
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, seen)
}

func TestZipContextCancelled(t *testing.T) {
	path := writeZipFile(t, []zipEntry{
		{name: "a.txt", body: []byte("a")},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ex, _ := ForFilename(path)
	err := ex.Extract(ctx, path, t.TempDir(), Limits{}, func(Member) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}

func TestRarOpenGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.rar")
	require.NoError(t, os.WriteFile(path, []byte("this is not a rar archive"), 0o600))

	ex, ok := ForFilename(path)
	require.True(t, ok)
	err := ex.Extract(context.Background(), path, t.TempDir(), Limits{}, func(Member) error { return nil })
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPasswordRequired)
}

func TestSecurePath(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"plain", "a.txt", "a.txt", false},
		{"nested", "dir/sub/a.txt", "dir/sub/a.txt", false},
		{"backslashes", `dir\sub\a.txt`, "dir/sub/a.txt", false},
		{"inner dotdot resolves inside", "dir/../a.txt", "a.txt", false},
		{"leading dotdot", "../a.txt", "", true},
		{"deep escape", "../../etc/passwd", "", true},
		{"dotdot after clean", "dir/../../a.txt", "", true},
		{"absolute", "/etc/passwd", "", true},
		{"absolute backslash", `\windows\system32`, "", true},
		{"drive letter", `C:\boot.ini`, "", true},
		{"dot only", ".", "", true},
		{"empty", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := securePath(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnsafePath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMemberWriterEnforcesActualBytes(t *testing.T) {
	// headers can lie: the writer itself enforces limits on real bytes
	b := &budget{limits: Limits{MaxTotalBytes: 100}}
	mw := &memberWriter{w: io.Discard, budget: b}

	_, err := mw.Write(make([]byte, 60))
	require.NoError(t, err)
	_, err = mw.Write(make([]byte, 60))
	require.ErrorIs(t, err, ErrBombCeiling)
}

func TestMemberWriterEnforcesRatio(t *testing.T) {
	b := &budget{limits: Limits{MaxRatio: 2}}
	mw := &memberWriter{w: io.Discard, budget: b, compressed: 10}

	_, err := mw.Write(make([]byte, 20))
	require.NoError(t, err)
	_, err = mw.Write(make([]byte, 20))
	require.ErrorIs(t, err, ErrBombRatio)
}

func TestIsEncryptionErr(t *testing.T) {
	assert.False(t, isEncryptionErr(nil))
	assert.False(t, isEncryptionErr(errors.New("unexpected EOF")))
	assert.True(t, isEncryptionErr(errors.New("archive encrypted, password required")))
	assert.True(t, isEncryptionErr(errors.New("bad password")))
	assert.True(t, isEncryptionErr(errors.New("rardecode: encrypted archive")))
}

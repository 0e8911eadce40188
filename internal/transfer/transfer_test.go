package transfer

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipback/shipback/internal/remote"
)

// retrieveOnlyEndpoint serves file content by path; the walk operations are
// unused by the transfer stage.
type retrieveOnlyEndpoint struct {
	files  map[string]string
	closed *atomic.Int64
}

func (e *retrieveOnlyEndpoint) List(context.Context, string) ([]remote.Entry, error) {
	return nil, errors.New("not implemented")
}

func (e *retrieveOnlyEndpoint) NameList(context.Context, string) ([]string, error) {
	return nil, errors.New("not implemented")
}

func (e *retrieveOnlyEndpoint) ChangeDir(context.Context, string) error {
	return errors.New("not implemented")
}

func (e *retrieveOnlyEndpoint) Retrieve(_ context.Context, path string) (io.ReadCloser, error) {
	content, ok := e.files[path]
	if !ok {
		return nil, errors.New("permission denied")
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

func (e *retrieveOnlyEndpoint) Close() error {
	if e.closed != nil {
		e.closed.Add(1)
	}
	return nil
}

func TestDownloadMirrorsTree(t *testing.T) {
	files := map[string]string{
		"/world/level.dat": "level-bytes",
		"/usercache.json":  "[]",
	}
	var closed atomic.Int64
	var dialed atomic.Int64
	dial := func(context.Context) (remote.Endpoint, error) {
		dialed.Add(1)
		return &retrieveOnlyEndpoint{files: files, closed: &closed}, nil
	}

	entries := []remote.RemoteEntry{
		{Path: "/world", Kind: remote.KindDir},
		{Path: "/world/level.dat", Kind: remote.KindFile},
		{Path: "/world/data", Kind: remote.KindDir},
		{Path: "/usercache.json", Kind: remote.KindFile},
	}

	dest := t.TempDir()
	d := NewDownloader(dial, 3, zerolog.Nop())
	stats, err := d.Download(context.Background(), entries, "/", dest)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Files)
	assert.Equal(t, 0, stats.Skipped)
	assert.Equal(t, int64(len("level-bytes")+len("[]")), stats.Bytes)

	content, err := os.ReadFile(filepath.Join(dest, "world", "level.dat"))
	require.NoError(t, err)
	assert.Equal(t, "level-bytes", string(content))

	content, err = os.ReadFile(filepath.Join(dest, "usercache.json"))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(content))

	// Empty directory survives for the archive stage.
	info, err := os.Stat(filepath.Join(dest, "world", "data"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// Workers never outnumber files, and every session is closed.
	assert.LessOrEqual(t, dialed.Load(), int64(2))
	assert.Equal(t, dialed.Load(), closed.Load())
}

func TestDownloadSkipsFailedFile(t *testing.T) {
	dial := func(context.Context) (remote.Endpoint, error) {
		return &retrieveOnlyEndpoint{files: map[string]string{"/ok.txt": "ok"}}, nil
	}

	entries := []remote.RemoteEntry{
		{Path: "/ok.txt", Kind: remote.KindFile},
		{Path: "/denied.txt", Kind: remote.KindFile},
	}

	dest := t.TempDir()
	d := NewDownloader(dial, 2, zerolog.Nop())
	stats, err := d.Download(context.Background(), entries, "/", dest)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Files)
	assert.Equal(t, 1, stats.Skipped)
	assert.NoFileExists(t, filepath.Join(dest, "denied.txt"))
}

func TestDownloadDialFailureIsFatal(t *testing.T) {
	dial := func(context.Context) (remote.Endpoint, error) {
		return nil, errors.New("connection refused")
	}

	entries := []remote.RemoteEntry{{Path: "/a.txt", Kind: remote.KindFile}}

	d := NewDownloader(dial, 1, zerolog.Nop())
	_, err := d.Download(context.Background(), entries, "/", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open transfer session")
}

func TestDownloadNoFiles(t *testing.T) {
	var dialed atomic.Int64
	dial := func(context.Context) (remote.Endpoint, error) {
		dialed.Add(1)
		return nil, errors.New("no session should be opened when there are no files")
	}

	entries := []remote.RemoteEntry{{Path: "/empty", Kind: remote.KindDir}}

	dest := t.TempDir()
	d := NewDownloader(dial, 4, zerolog.Nop())
	stats, err := d.Download(context.Background(), entries, "/", dest)
	require.NoError(t, err)
	assert.Zero(t, stats.Files)
	assert.Zero(t, dialed.Load())
	assert.DirExists(t, filepath.Join(dest, "empty"))
}

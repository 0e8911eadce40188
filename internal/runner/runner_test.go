package runner

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipback/shipback/internal/config"
	"github.com/shipback/shipback/internal/history"
	"github.com/shipback/shipback/internal/remote"
)

func testConfig(scratchDir string) *config.Config {
	return &config.Config{
		Remote: config.RemoteConfig{
			Protocol: config.ProtocolFTP,
			Host:     "ftp.example.com",
			Port:     21,
			Username: "u",
			Password: "p",
			Root:     "/",
		},
		Repository: config.RepositoryConfig{
			URL:    "https://github.com/owner/backups.git",
			Token:  "tok",
			Folder: "backups",
		},
		Transfer: config.TransferConfig{Mode: config.TransferDirect, Concurrency: 1},
		Scratch:  config.ScratchConfig{Dir: scratchDir, MinFreeMB: 1},
	}
}

func TestRunLoginFailureIsFatalAndLeavesNoScratch(t *testing.T) {
	scratch := t.TempDir()
	histStore, err := history.Open(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	defer histStore.Close()

	r := New(testConfig(scratch), histStore, zerolog.Nop())
	r.dialFn = func(context.Context) (remote.Endpoint, error) {
		return nil, errors.New("530 login incorrect")
	}

	err = r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login incorrect")

	// Scratch area cleaned on the failure path: nothing left behind.
	leftovers, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, leftovers)

	// Outcome recorded.
	runs, err := histStore.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, history.StatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "login incorrect")
	assert.Empty(t, runs[0].Archive)
}

// emptyEndpoint is a session over an empty, typed root directory.
type emptyEndpoint struct{}

func (emptyEndpoint) List(context.Context, string) ([]remote.Entry, error) {
	return nil, nil
}

func (emptyEndpoint) NameList(context.Context, string) ([]string, error) { return nil, nil }

func (emptyEndpoint) ChangeDir(context.Context, string) error { return nil }

func (emptyEndpoint) Retrieve(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("no files")
}

func (emptyEndpoint) Close() error { return nil }

func TestRunEmptyTreeFails(t *testing.T) {
	scratch := t.TempDir()
	r := New(testConfig(scratch), nil, zerolog.Nop())
	r.dialFn = func(context.Context) (remote.Endpoint, error) {
		return emptyEndpoint{}, nil
	}

	err := r.Run(context.Background())
	require.ErrorIs(t, err, ErrNothingToBackup)

	leftovers, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

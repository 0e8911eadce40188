package remote

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostKeyCallbackRequiresExplicitChoice(t *testing.T) {
	_, err := hostKeyCallback("", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "known_hosts")
}

func TestHostKeyCallbackInsecureOptIn(t *testing.T) {
	cb, err := hostKeyCallback("", true)
	require.NoError(t, err)
	assert.NotNil(t, cb)
}

func TestHostKeyCallbackKnownHostsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known_hosts")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	cb, err := hostKeyCallback(path, false)
	require.NoError(t, err)
	assert.NotNil(t, cb)
}

func TestHostKeyCallbackMissingKnownHostsFile(t *testing.T) {
	_, err := hostKeyCallback(filepath.Join(t.TempDir(), "absent"), false)
	require.Error(t, err)
}

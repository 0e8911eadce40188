package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validYAML = `
remote:
  host: ftp.example.com
  username: backup
  password: hunter2
include:
  - world
  - usercache.json
repository:
  url: https://github.com/owner/backups.git
  token: ghp_token
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ProtocolFTP, cfg.Remote.Protocol)
	assert.Equal(t, 21, cfg.Remote.Port)
	assert.Equal(t, "/", cfg.Remote.Root)
	assert.Equal(t, "backups", cfg.Repository.Folder)
	assert.Equal(t, TransferDirect, cfg.Transfer.Mode)
	assert.Equal(t, 5, cfg.Transfer.Concurrency)
	assert.Equal(t, int64(512), cfg.Scratch.MinFreeMB)
	assert.Equal(t, []string{"world", "usercache.json"}, cfg.Include)
}

func TestLoadSFTPDefaultPort(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
remote:
  protocol: sftp
  host: sftp.example.com
  username: backup
  password: hunter2
  known_hosts_file: /home/backup/.ssh/known_hosts
repository:
  url: https://github.com/owner/backups.git
  token: ghp_token
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 22, cfg.Remote.Port)
	assert.Equal(t, "/home/backup/.ssh/known_hosts", cfg.Remote.KnownHostsFile)
}

func TestEnvOverridesForSecrets(t *testing.T) {
	t.Setenv("SHIPBACK_REMOTE_PASSWORD", "env-pass")
	t.Setenv("SHIPBACK_GIT_TOKEN", "env-token")

	cfg, err := Load(writeConfig(t, `
remote:
  host: ftp.example.com
  username: backup
repository:
  url: https://github.com/owner/backups.git
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "env-pass", cfg.Remote.Password)
	assert.Equal(t, "env-token", cfg.Repository.Token)
}

func TestValidateMissingFields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing host", func(c *Config) { c.Remote.Host = "" }, "remote.host"},
		{"missing username", func(c *Config) { c.Remote.Username = "" }, "remote.username"},
		{"missing password", func(c *Config) { c.Remote.Password = "" }, "remote.password"},
		{"missing repo url", func(c *Config) { c.Repository.URL = "" }, "repository.url"},
		{"missing token", func(c *Config) { c.Repository.Token = "" }, "repository.token"},
		{"bad protocol", func(c *Config) { c.Remote.Protocol = "scp" }, "remote.protocol"},
		{"sftp without host key policy", func(c *Config) { c.Remote.Protocol = ProtocolSFTP }, "remote.known_hosts_file"},
		{"bad transfer mode", func(c *Config) { c.Transfer.Mode = "turbo" }, "transfer.mode"},
		{"bad concurrency", func(c *Config) { c.Transfer.Concurrency = -1 }, "transfer.concurrency"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, validYAML))
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	require.Error(t, err)
}

func TestLoadMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "remote: [not a mapping"))
	require.Error(t, err)
}

// Package config provides configuration management for shipback.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Transfer strategy names accepted in the config file.
const (
	TransferDirect = "direct"
	TransferStaged = "staged"
)

// Remote protocol names accepted in the config file.
const (
	ProtocolFTP  = "ftp"
	ProtocolSFTP = "sftp"
)

// DefaultConfigDir returns the default config directory (~/.shipback).
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".shipback"), nil
}

// DefaultConfigPath returns the default config file path (~/.shipback/config.yml).
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yml"), nil
}

// RemoteConfig describes the file-transfer endpoint holding the data to back up.
type RemoteConfig struct {
	Protocol string `yaml:"protocol,omitempty"` // "ftp" (default) or "sftp"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port,omitempty"`
	Username string `yaml:"username"`
	Password string `yaml:"password,omitempty"`
	Root     string `yaml:"root,omitempty"`

	// SFTP host key verification. Skipping verification is an explicit
	// opt-in, never a silent default.
	KnownHostsFile      string `yaml:"known_hosts_file,omitempty"`
	InsecureSkipHostKey bool   `yaml:"insecure_skip_host_key,omitempty"`
}

// RepositoryConfig describes the git repository archives are published to.
type RepositoryConfig struct {
	URL         string `yaml:"url"`
	Token       string `yaml:"token,omitempty"`
	Folder      string `yaml:"folder,omitempty"`
	AuthorName  string `yaml:"author_name,omitempty"`
	AuthorEmail string `yaml:"author_email,omitempty"`
}

// TransferConfig selects the download strategy.
type TransferConfig struct {
	Mode        string `yaml:"mode,omitempty"` // "direct" (default) or "staged"
	Concurrency int    `yaml:"concurrency,omitempty"`
}

// ScratchConfig controls the temporary working area.
type ScratchConfig struct {
	Dir       string `yaml:"dir,omitempty"` // empty means the OS temp dir
	MinFreeMB int64  `yaml:"min_free_mb,omitempty"`
}

// ScheduleConfig controls daemon mode.
type ScheduleConfig struct {
	Cron string `yaml:"cron,omitempty"`
}

// Config holds a full shipback run configuration.
type Config struct {
	Remote     RemoteConfig     `yaml:"remote"`
	Include    []string         `yaml:"include,omitempty"`
	Repository RepositoryConfig `yaml:"repository"`
	Transfer   TransferConfig   `yaml:"transfer,omitempty"`
	Scratch    ScratchConfig    `yaml:"scratch,omitempty"`
	Schedule   ScheduleConfig   `yaml:"schedule,omitempty"`
}

// Validate checks that the configuration has required fields for a run.
func (c *Config) Validate() error {
	if c.Remote.Host == "" {
		return errors.New("remote.host is required")
	}
	if c.Remote.Username == "" {
		return errors.New("remote.username is required")
	}
	if c.Remote.Password == "" {
		return errors.New("remote.password is required (or SHIPBACK_REMOTE_PASSWORD)")
	}
	if c.Remote.Protocol != ProtocolFTP && c.Remote.Protocol != ProtocolSFTP {
		return fmt.Errorf("remote.protocol must be %q or %q", ProtocolFTP, ProtocolSFTP)
	}
	if c.Remote.Protocol == ProtocolSFTP && c.Remote.KnownHostsFile == "" && !c.Remote.InsecureSkipHostKey {
		return errors.New("remote.known_hosts_file is required for sftp (or set remote.insecure_skip_host_key)")
	}
	if c.Repository.URL == "" {
		return errors.New("repository.url is required")
	}
	if c.Repository.Token == "" {
		return errors.New("repository.token is required (or SHIPBACK_GIT_TOKEN)")
	}
	if c.Transfer.Mode != TransferDirect && c.Transfer.Mode != TransferStaged {
		return fmt.Errorf("transfer.mode must be %q or %q", TransferDirect, TransferStaged)
	}
	if c.Transfer.Concurrency < 1 {
		return errors.New("transfer.concurrency must be at least 1")
	}
	return nil
}

// applyDefaults fills in optional fields and pulls secrets from the
// environment when the file leaves them empty. Secrets are resolved here so
// that no other component reads ambient process state.
func (c *Config) applyDefaults() {
	if c.Remote.Protocol == "" {
		c.Remote.Protocol = ProtocolFTP
	}
	if c.Remote.Port == 0 {
		if c.Remote.Protocol == ProtocolSFTP {
			c.Remote.Port = 22
		} else {
			c.Remote.Port = 21
		}
	}
	if c.Remote.Root == "" {
		c.Remote.Root = "/"
	}
	if c.Remote.Password == "" {
		c.Remote.Password = os.Getenv("SHIPBACK_REMOTE_PASSWORD")
	}
	if c.Repository.Token == "" {
		c.Repository.Token = os.Getenv("SHIPBACK_GIT_TOKEN")
	}
	if c.Repository.Folder == "" {
		c.Repository.Folder = "backups"
	}
	if c.Repository.AuthorName == "" {
		c.Repository.AuthorName = "shipback"
	}
	if c.Repository.AuthorEmail == "" {
		c.Repository.AuthorEmail = "shipback@localhost"
	}
	if c.Transfer.Mode == "" {
		c.Transfer.Mode = TransferDirect
	}
	if c.Transfer.Concurrency == 0 {
		c.Transfer.Concurrency = 5
	}
	if c.Scratch.MinFreeMB == 0 {
		c.Scratch.MinFreeMB = 512
	}
}

// Load reads the configuration from the given path and applies defaults and
// environment overrides for secrets.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// LoadDefault loads the configuration from the default path.
func LoadDefault() (*Config, error) {
	path, err := DefaultConfigPath()
	if err != nil {
		return nil, err
	}
	return Load(path)
}

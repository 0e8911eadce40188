package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SFTPConfig holds the parameters for an SFTP session. Host keys are
// verified against KnownHostsFile; setting InsecureSkipHostKey disables
// verification and is an explicit opt-in.
type SFTPConfig struct {
	Host                string
	Port                int
	Username            string
	Password            string
	KnownHostsFile      string
	InsecureSkipHostKey bool
	Timeout             time.Duration
}

// SFTPEndpoint is an Endpoint backed by an SFTP subsystem over SSH. SFTP
// listings always carry type metadata, so probe classification is never
// needed for this endpoint.
type SFTPEndpoint struct {
	ssh    *ssh.Client
	client *sftp.Client
	logger zerolog.Logger
}

// DialSFTP connects and authenticates to an SFTP server.
func DialSFTP(ctx context.Context, cfg SFTPConfig, logger zerolog.Logger) (*SFTPEndpoint, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 90 * time.Second
	}

	hostKeys, err := hostKeyCallback(cfg.KnownHostsFile, cfg.InsecureSkipHostKey)
	if err != nil {
		return nil, err
	}

	sshCfg := &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(cfg.Password)},
		HostKeyCallback: hostKeys,
		Timeout:         timeout,
	}

	conn, err := ssh.Dial("tcp", addr, sshCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}

	client, err := sftp.NewClient(conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open sftp subsystem: %w", err)
	}

	return &SFTPEndpoint{
		ssh:    conn,
		client: client,
		logger: logger.With().Str("component", "sftp").Str("host", cfg.Host).Logger(),
	}, nil
}

// hostKeyCallback selects the host key verification policy. A known_hosts
// file wins; without one the caller must have opted into skipping
// verification.
func hostKeyCallback(knownHostsFile string, insecure bool) (ssh.HostKeyCallback, error) {
	if knownHostsFile != "" {
		cb, err := knownhosts.New(knownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts file %s: %w", knownHostsFile, err)
		}
		return cb, nil
	}
	if insecure {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	return nil, errors.New("sftp host key verification requires a known_hosts file unless insecure skip is enabled")
}

// List returns type-tagged entries for dir.
func (e *SFTPEndpoint) List(ctx context.Context, dir string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	infos, err := e.client.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, &PermissionError{Path: dir, Err: err}
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		entry := Entry{Name: info.Name()}
		switch {
		case info.IsDir():
			entry.Kind = KindDir
		case info.Mode().IsRegular():
			entry.Kind = KindFile
		default:
			entry.Kind = KindUnknown
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// NameList returns the bare names in dir.
func (e *SFTPEndpoint) NameList(ctx context.Context, dir string) ([]string, error) {
	entries, err := e.List(ctx, dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name)
	}
	return names, nil
}

// ChangeDir verifies that dir is an enterable directory. SFTP has no working
// directory cursor, so a stat stands in for the cd probe.
func (e *SFTPEndpoint) ChangeDir(ctx context.Context, dir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	info, err := e.client.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrNotExist) {
			return &PermissionError{Path: dir, Err: err}
		}
		return fmt.Errorf("enter %s: %w", dir, err)
	}
	if !info.IsDir() {
		return &PermissionError{Path: dir, Err: errors.New("not a directory")}
	}
	return nil
}

// Retrieve opens the file at path for reading.
func (e *SFTPEndpoint) Retrieve(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := e.client.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, &PermissionError{Path: path, Err: err}
		}
		return nil, fmt.Errorf("retrieve %s: %w", path, err)
	}
	return f, nil
}

// Close terminates the SFTP session and the underlying SSH connection.
func (e *SFTPEndpoint) Close() error {
	err := e.client.Close()
	if cerr := e.ssh.Close(); err == nil {
		err = cerr
	}
	return err
}

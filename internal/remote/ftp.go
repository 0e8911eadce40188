package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rs/zerolog"
)

// FTPConfig holds the parameters for an FTP session.
type FTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Timeout  time.Duration
}

// FTPEndpoint is an Endpoint backed by a plain FTP connection.
type FTPEndpoint struct {
	conn   *ftp.ServerConn
	logger zerolog.Logger
}

// DialFTP connects and logs in to an FTP server.
func DialFTP(ctx context.Context, cfg FTPConfig, logger zerolog.Logger) (*FTPEndpoint, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 90 * time.Second
	}

	conn, err := ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}

	if err := conn.Login(cfg.Username, cfg.Password); err != nil {
		_ = conn.Quit()
		return nil, fmt.Errorf("login as %s: %w", cfg.Username, err)
	}

	return &FTPEndpoint{
		conn:   conn,
		logger: logger.With().Str("component", "ftp").Str("host", cfg.Host).Logger(),
	}, nil
}

// List returns type-tagged entries using the server's LIST response.
// Servers whose LIST output cannot be parsed surface an error; the collector
// then falls back to NameList plus probing.
func (e *FTPEndpoint) List(ctx context.Context, dir string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	infos, err := e.conn.List(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		entry := Entry{Name: info.Name}
		switch info.Type {
		case ftp.EntryTypeFolder:
			entry.Kind = KindDir
		case ftp.EntryTypeFile:
			entry.Kind = KindFile
		default:
			entry.Kind = KindUnknown
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// NameList returns the bare names in dir via NLST.
func (e *FTPEndpoint) NameList(ctx context.Context, dir string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	names, err := e.conn.NameList(dir)
	if err != nil {
		return nil, fmt.Errorf("name-list %s: %w", dir, err)
	}
	return names, nil
}

// ChangeDir enters dir. Server refusals (550/530/553) unwrap to
// fs.ErrPermission so the probe classifier can treat the target as a file.
func (e *FTPEndpoint) ChangeDir(ctx context.Context, dir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := e.conn.ChangeDir(dir)
	if err == nil {
		return nil
	}
	if isRefusal(err) {
		return &PermissionError{Path: dir, Err: err}
	}
	return fmt.Errorf("enter %s: %w", dir, err)
}

// Retrieve opens the file at path for reading.
func (e *FTPEndpoint) Retrieve(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := e.conn.Retr(path)
	if err != nil {
		if isRefusal(err) {
			return nil, &PermissionError{Path: path, Err: err}
		}
		return nil, fmt.Errorf("retrieve %s: %w", path, err)
	}
	return resp, nil
}

// Close terminates the session.
func (e *FTPEndpoint) Close() error {
	return e.conn.Quit()
}

// isRefusal reports whether err is an FTP reply that denies access to the
// requested path rather than a transport failure.
func isRefusal(err error) bool {
	var perr *textproto.Error
	if !errors.As(err, &perr) {
		return false
	}
	switch perr.Code {
	case ftp.StatusFileUnavailable, ftp.StatusNotLoggedIn, ftp.StatusBadFileName:
		return true
	}
	return false
}

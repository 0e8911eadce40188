// Package remote walks an FTP or SFTP namespace and classifies its entries
// for archival.
package remote

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"
)

// Kind classifies a remote object.
type Kind int

const (
	KindUnknown Kind = iota
	KindFile
	KindDir
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	default:
		return "unknown"
	}
}

// Entry is a single name within a remote directory listing.
type Entry struct {
	Name string
	Kind Kind
}

// Endpoint is an authenticated session with a remote file-transfer server.
// All paths are absolute; no operation depends on a prior call's working
// directory.
type Endpoint interface {
	// List returns type-tagged entries for the directory at path. Endpoints
	// that cannot produce type metadata return an error; the collector then
	// falls back to NameList plus per-name probing.
	List(ctx context.Context, path string) ([]Entry, error)

	// NameList returns the bare names in the directory at path.
	NameList(ctx context.Context, path string) ([]string, error)

	// ChangeDir enters the directory at path. A refusal that indicates the
	// target is not an enterable directory unwraps to fs.ErrPermission.
	ChangeDir(ctx context.Context, path string) error

	// Retrieve opens the file at path for reading.
	Retrieve(ctx context.Context, path string) (io.ReadCloser, error)

	Close() error
}

// PermissionError marks a server refusal to enter or read a path. During
// probe classification it is what identifies a name as a plain file.
type PermissionError struct {
	Path string
	Err  error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("remote permission denied on %s: %v", e.Path, e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

func (e *PermissionError) Is(target error) bool { return target == fs.ErrPermission }

// Join joins remote path elements with forward slashes and collapses
// duplicate separators.
func Join(elem ...string) string {
	joined := path.Join(elem...)
	if joined == "" {
		return "/"
	}
	return joined
}

// RemoteEntry is a classified remote object produced by the collector.
type RemoteEntry struct {
	Path string
	Kind Kind
}

// ArchivePath returns the in-archive member name for the entry: the remote
// path made relative to root, forward-slash separated, with a trailing slash
// for directories. The root itself maps to the empty string and is never
// written to the archive.
func (e RemoteEntry) ArchivePath(root string) string {
	cleanRoot := path.Clean("/" + root)
	cleanPath := path.Clean("/" + e.Path)

	rel := strings.TrimPrefix(cleanPath, cleanRoot)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		return ""
	}
	if e.Kind == KindDir {
		rel += "/"
	}
	return rel
}

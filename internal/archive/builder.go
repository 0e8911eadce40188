// Package archive builds the zip artifact a backup run publishes.
package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/shipback/shipback/internal/remote"
)

// TimeLayout is the timestamp embedded in archive filenames.
const TimeLayout = "2006-01-02_15-04-05"

// NamePattern matches published archive filenames. It accepts both the
// second-precision form and the older date-only form so stale archives from
// either era are recognized during pruning.
var NamePattern = regexp.MustCompile(`^server_backup_\d{4}-\d{2}-\d{2}(_\d{2}-\d{2}-\d{2})?\.zip$`)

// Filename returns the archive name for a run started at t.
func Filename(t time.Time) string {
	return fmt.Sprintf("server_backup_%s.zip", t.Format(TimeLayout))
}

// Source supplies file content for archive members by remote path.
type Source interface {
	Open(ctx context.Context, remotePath string) (io.ReadCloser, error)
}

// Stats summarizes what a build wrote.
type Stats struct {
	Files   int
	Dirs    int
	Skipped int
	Bytes   int64
}

// Builder writes backup archives. Per-member failures are logged and
// skipped; only a failure of the archive container itself is returned.
type Builder struct {
	logger zerolog.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(logger zerolog.Logger) *Builder {
	return &Builder{logger: logger.With().Str("component", "archive").Logger()}
}

// Build streams collected entries into a zip written to w. Directory entries
// become zero-length members with a trailing slash so empty directories
// survive the round trip; file bytes come from src. Member paths are the
// entries' paths rewritten relative to root; the root itself is never
// written. The zip writer promotes members to zip64 as sizes demand, so
// archives past the classic size ceiling need no special handling.
func (b *Builder) Build(ctx context.Context, w io.Writer, entries []remote.RemoteEntry, root string, src Source) (Stats, error) {
	var stats Stats

	zw := zip.NewWriter(w)

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		name := entry.ArchivePath(root)
		if name == "" {
			continue
		}

		if entry.Kind == remote.KindDir {
			if _, err := zw.Create(name); err != nil {
				b.logger.Warn().Err(err).Str("member", name).Msg("skipping directory member")
				stats.Skipped++
				continue
			}
			stats.Dirs++
			continue
		}

		rc, err := src.Open(ctx, entry.Path)
		if err != nil {
			b.logger.Warn().Err(err).Str("path", entry.Path).Msg("skipping unreadable file")
			stats.Skipped++
			continue
		}

		mw, err := zw.Create(name)
		if err != nil {
			rc.Close()
			b.logger.Warn().Err(err).Str("member", name).Msg("skipping file member")
			stats.Skipped++
			continue
		}

		n, err := io.Copy(mw, rc)
		rc.Close()
		if err != nil {
			// The member is already partially written and cannot be
			// retracted; record the damage and keep the rest of the archive.
			b.logger.Warn().Err(err).Str("member", name).Msg("member truncated by read failure")
			stats.Skipped++
			continue
		}

		stats.Files++
		stats.Bytes += n
		b.logger.Debug().Str("member", name).Int64("bytes", n).Msg("archived file")
	}

	if err := zw.Close(); err != nil {
		return stats, fmt.Errorf("finalize archive: %w", err)
	}
	return stats, nil
}

// BuildFromDir zips a populated local mirror directory, preserving empty
// directories and relative paths the same way Build does.
func (b *Builder) BuildFromDir(ctx context.Context, w io.Writer, dir string) (Stats, error) {
	var stats Stats

	zw := zip.NewWriter(w)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err != nil {
			b.logger.Warn().Err(err).Str("path", path).Msg("skipping unreadable local entry")
			stats.Skipped++
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		name := filepath.ToSlash(rel)

		if d.IsDir() {
			if _, err := zw.Create(name + "/"); err != nil {
				b.logger.Warn().Err(err).Str("member", name).Msg("skipping directory member")
				stats.Skipped++
			} else {
				stats.Dirs++
			}
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			b.logger.Warn().Err(err).Str("path", path).Msg("skipping unreadable file")
			stats.Skipped++
			return nil
		}
		defer f.Close()

		mw, err := zw.Create(name)
		if err != nil {
			b.logger.Warn().Err(err).Str("member", name).Msg("skipping file member")
			stats.Skipped++
			return nil
		}

		n, err := io.Copy(mw, f)
		if err != nil {
			b.logger.Warn().Err(err).Str("member", name).Msg("member truncated by read failure")
			stats.Skipped++
			return nil
		}

		stats.Files++
		stats.Bytes += n
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("walk mirror directory: %w", err)
	}

	if err := zw.Close(); err != nil {
		return stats, fmt.Errorf("finalize archive: %w", err)
	}
	return stats, nil
}

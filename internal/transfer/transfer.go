// Package transfer stages remote files into a local mirror with bounded
// parallelism.
package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/shipback/shipback/internal/remote"
)

// DialFunc opens a fresh endpoint session. Each transfer worker gets its own
// session because classification and retrieval share a single connection's
// state; distinct connections share nothing.
type DialFunc func(ctx context.Context) (remote.Endpoint, error)

// Stats summarizes a staged download.
type Stats struct {
	Files   int
	Skipped int
	Bytes   int64
}

// Downloader mirrors collected entries into a local directory.
type Downloader struct {
	dial        DialFunc
	concurrency int
	logger      zerolog.Logger
}

// NewDownloader creates a Downloader with the given worker count.
func NewDownloader(dial DialFunc, concurrency int, logger zerolog.Logger) *Downloader {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Downloader{
		dial:        dial,
		concurrency: concurrency,
		logger:      logger.With().Str("component", "transfer").Logger(),
	}
}

// Download lays out all collected directories under destDir (so empty ones
// survive into the archive) and downloads every file entry in parallel.
// Individual file failures are logged and skipped; a failure to open a
// worker session is fatal.
func (d *Downloader) Download(ctx context.Context, entries []remote.RemoteEntry, root, destDir string) (Stats, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return Stats{}, fmt.Errorf("create mirror root: %w", err)
	}

	var files []remote.RemoteEntry
	for _, entry := range entries {
		rel := entry.ArchivePath(root)
		if rel == "" {
			continue
		}
		if entry.Kind == remote.KindDir {
			if err := os.MkdirAll(filepath.Join(destDir, filepath.FromSlash(rel)), 0o755); err != nil {
				return Stats{}, fmt.Errorf("create mirror directory %s: %w", rel, err)
			}
			continue
		}
		files = append(files, entry)
	}

	var fetched, skipped, byteCount atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan remote.RemoteEntry)

	workers := d.concurrency
	if workers > len(files) {
		workers = len(files)
	}

	for i := 0; i < workers; i++ {
		g.Go(func() error {
			ep, err := d.dial(gctx)
			if err != nil {
				return fmt.Errorf("open transfer session: %w", err)
			}
			defer ep.Close()

			for entry := range jobs {
				n, err := d.fetch(gctx, ep, entry, root, destDir)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					d.logger.Warn().Err(err).Str("path", entry.Path).Msg("skipping file that failed to download")
					skipped.Add(1)
					continue
				}
				fetched.Add(1)
				byteCount.Add(n)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(jobs)
		for _, entry := range files {
			select {
			case jobs <- entry:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return Stats{}, err
	}

	stats := Stats{
		Files:   int(fetched.Load()),
		Skipped: int(skipped.Load()),
		Bytes:   byteCount.Load(),
	}
	d.logger.Info().
		Int("files", stats.Files).
		Int("skipped", stats.Skipped).
		Int64("bytes", stats.Bytes).
		Msg("staged download complete")
	return stats, nil
}

func (d *Downloader) fetch(ctx context.Context, ep remote.Endpoint, entry remote.RemoteEntry, root, destDir string) (int64, error) {
	rel := entry.ArchivePath(root)
	local := filepath.Join(destDir, filepath.FromSlash(rel))

	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return 0, fmt.Errorf("create parent directory: %w", err)
	}

	rc, err := ep.Retrieve(ctx, entry.Path)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	f, err := os.Create(local)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(f, rc)
	if err != nil {
		f.Close()
		os.Remove(local) // a half-written mirror file must not reach the archive
		return 0, err
	}
	if err := f.Close(); err != nil {
		os.Remove(local)
		return 0, err
	}
	return n, nil
}

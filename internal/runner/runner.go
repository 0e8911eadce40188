// Package runner orchestrates a full backup run: collect, archive, publish.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/shipback/shipback/internal/archive"
	"github.com/shipback/shipback/internal/config"
	"github.com/shipback/shipback/internal/gitrepo"
	"github.com/shipback/shipback/internal/health"
	"github.com/shipback/shipback/internal/history"
	"github.com/shipback/shipback/internal/remote"
	"github.com/shipback/shipback/internal/transfer"
)

// ErrNothingToBackup is returned when the traversal finds no entries, which
// usually means a misconfigured root or filter.
var ErrNothingToBackup = errors.New("no files or directories found to back up")

// Runner executes backup runs. The history store is optional; a nil store
// disables run recording.
type Runner struct {
	cfg    *config.Config
	hist   *history.Store
	logger zerolog.Logger

	// dialFn opens an endpoint session; tests substitute a fake.
	dialFn transfer.DialFunc
}

// New creates a Runner.
func New(cfg *config.Config, hist *history.Store, logger zerolog.Logger) *Runner {
	r := &Runner{
		cfg:    cfg,
		hist:   hist,
		logger: logger.With().Str("component", "runner").Logger(),
	}
	r.dialFn = r.dial
	return r
}

// Run performs one backup run to completion and records the outcome. Any
// returned error is fatal for the run; recoverable conditions were already
// absorbed and logged by the component they occurred in.
func (r *Runner) Run(ctx context.Context) error {
	runID := uuid.New().String()
	logger := r.logger.With().Str("run_id", runID).Logger()

	rec := history.Run{ID: runID, StartedAt: time.Now()}

	err := r.run(ctx, logger, &rec)

	rec.FinishedAt = time.Now()
	if err != nil {
		rec.Status = history.StatusFailed
		rec.Error = err.Error()
		logger.Error().Err(err).Msg("backup run failed")
	} else {
		rec.Status = history.StatusSuccess
		logger.Info().
			Str("archive", rec.Archive).
			Int("files", rec.Files).
			Int("dirs", rec.Dirs).
			Int64("bytes", rec.Bytes).
			Dur("duration", rec.FinishedAt.Sub(rec.StartedAt)).
			Msg("backup run complete")
	}

	if r.hist != nil {
		if herr := r.hist.Record(ctx, rec); herr != nil {
			logger.Warn().Err(herr).Msg("failed to record run history")
		}
	}

	return err
}

func (r *Runner) run(ctx context.Context, logger zerolog.Logger, rec *history.Run) error {
	if err := health.CheckScratchSpace(ctx, r.cfg.Scratch.Dir, r.cfg.Scratch.MinFreeMB); err != nil {
		return err
	}
	if _, err := exec.LookPath("git"); err != nil {
		return fmt.Errorf("git binary not found in PATH: %w", err)
	}

	scratch, err := os.MkdirTemp(r.cfg.Scratch.Dir, "shipback-")
	if err != nil {
		return fmt.Errorf("create scratch directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			logger.Warn().Err(err).Str("dir", scratch).Msg("failed to remove scratch directory")
		}
	}()

	logger.Info().
		Str("host", r.cfg.Remote.Host).
		Str("root", r.cfg.Remote.Root).
		Str("protocol", r.cfg.Remote.Protocol).
		Msg("connecting to remote endpoint")

	ep, err := r.dialFn(ctx)
	if err != nil {
		return err
	}
	defer ep.Close()

	collector := remote.NewCollector(ep, logger)
	entries, err := collector.Collect(ctx, r.cfg.Remote.Root, r.cfg.Include)
	if err != nil {
		return fmt.Errorf("collect remote tree: %w", err)
	}
	if len(entries) == 0 {
		return ErrNothingToBackup
	}
	logger.Info().Int("entries", len(entries)).Msg("remote tree collected")

	archiveName := archive.Filename(time.Now())
	archivePath := filepath.Join(scratch, archiveName)

	stats, err := r.buildArchive(ctx, logger, ep, entries, scratch, archivePath)
	if err != nil {
		return err
	}

	rec.Archive = archiveName
	rec.Files = stats.Files
	rec.Dirs = stats.Dirs
	rec.Bytes = stats.Bytes
	logger.Info().
		Str("archive", archiveName).
		Int("files", stats.Files).
		Int("dirs", stats.Dirs).
		Int("skipped", stats.Skipped).
		Msg("archive built")

	publisher := gitrepo.NewPublisher(gitrepo.NewGit(logger, r.cfg.Repository.Token), gitrepo.PublisherConfig{
		RepoURL:     r.cfg.Repository.URL,
		Token:       r.cfg.Repository.Token,
		Folder:      r.cfg.Repository.Folder,
		AuthorName:  r.cfg.Repository.AuthorName,
		AuthorEmail: r.cfg.Repository.AuthorEmail,
	}, logger)

	if err := publisher.Publish(ctx, archivePath); err != nil {
		return fmt.Errorf("publish archive: %w", err)
	}
	return nil
}

// buildArchive produces the zip at archivePath using the configured transfer
// strategy. The collector's session is reused for direct streaming; staged
// mode dials its own sessions and mirrors into the scratch area first.
func (r *Runner) buildArchive(ctx context.Context, logger zerolog.Logger, ep remote.Endpoint, entries []remote.RemoteEntry, scratch, archivePath string) (archive.Stats, error) {
	f, err := os.Create(archivePath)
	if err != nil {
		return archive.Stats{}, fmt.Errorf("create archive file: %w", err)
	}

	builder := archive.NewBuilder(logger)
	root := r.cfg.Remote.Root

	var stats archive.Stats
	switch r.cfg.Transfer.Mode {
	case config.TransferStaged:
		mirror := filepath.Join(scratch, "mirror")
		downloader := transfer.NewDownloader(r.dialFn, r.cfg.Transfer.Concurrency, logger)
		if _, err = downloader.Download(ctx, entries, root, mirror); err == nil {
			stats, err = builder.BuildFromDir(ctx, f, mirror)
		}
	default:
		stats, err = builder.Build(ctx, f, entries, root, endpointSource{ep})
	}
	if err != nil {
		f.Close()
		return stats, fmt.Errorf("build archive: %w", err)
	}

	if err := f.Close(); err != nil {
		return stats, fmt.Errorf("close archive file: %w", err)
	}
	return stats, nil
}

func (r *Runner) dial(ctx context.Context) (remote.Endpoint, error) {
	rc := r.cfg.Remote
	switch rc.Protocol {
	case config.ProtocolSFTP:
		return remote.DialSFTP(ctx, remote.SFTPConfig{
			Host:                rc.Host,
			Port:                rc.Port,
			Username:            rc.Username,
			Password:            rc.Password,
			KnownHostsFile:      rc.KnownHostsFile,
			InsecureSkipHostKey: rc.InsecureSkipHostKey,
		}, r.logger)
	default:
		return remote.DialFTP(ctx, remote.FTPConfig{
			Host:     rc.Host,
			Port:     rc.Port,
			Username: rc.Username,
			Password: rc.Password,
		}, r.logger)
	}
}

// endpointSource adapts an Endpoint to the archive builder's Source.
type endpointSource struct {
	ep remote.Endpoint
}

func (s endpointSource) Open(ctx context.Context, remotePath string) (io.ReadCloser, error) {
	return s.ep.Retrieve(ctx, remotePath)
}

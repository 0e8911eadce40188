package gitrepo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/shipback/shipback/internal/archive"
)

// Default timeouts for the long-running git operations.
const (
	DefaultCloneTimeout = 3 * time.Minute
	DefaultPushTimeout  = 5 * time.Minute
)

// runner abstracts git command execution so the publishing state machine can
// be exercised without a git binary.
type runner interface {
	Run(ctx context.Context, dir string, args ...string) ([]byte, error)
}

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	RepoURL      string
	Token        string
	Folder       string // subfolder inside the repository holding archives
	AuthorName   string
	AuthorEmail  string
	CloneTimeout time.Duration
	PushTimeout  time.Duration
}

// Publisher clones the backup repository, prunes stale archives, stages the
// new one, commits, and pushes. Clone, commit, and push failures are fatal;
// failures to prune an individual stale archive are not.
type Publisher struct {
	git    runner
	cfg    PublisherConfig
	logger zerolog.Logger
}

// NewPublisher creates a Publisher over a Git wrapper.
func NewPublisher(git *Git, cfg PublisherConfig, logger zerolog.Logger) *Publisher {
	return newPublisher(git, cfg, logger)
}

func newPublisher(git runner, cfg PublisherConfig, logger zerolog.Logger) *Publisher {
	if cfg.Folder == "" {
		cfg.Folder = "backups"
	}
	if cfg.CloneTimeout == 0 {
		cfg.CloneTimeout = DefaultCloneTimeout
	}
	if cfg.PushTimeout == 0 {
		cfg.PushTimeout = DefaultPushTimeout
	}
	return &Publisher{
		git:    git,
		cfg:    cfg,
		logger: logger.With().Str("component", "publisher").Logger(),
	}
}

// Publish ensures the repository's backup folder contains only the archive
// at archivePath and that the remote reflects the change. A run where the
// working tree ends up unchanged skips the commit and push and is a success.
func (p *Publisher) Publish(ctx context.Context, archivePath string) error {
	scratch, err := os.MkdirTemp("", "shipback-repo-")
	if err != nil {
		return fmt.Errorf("create clone scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	repoDir := filepath.Join(scratch, "repo")
	if err := p.clone(ctx, repoDir); err != nil {
		return err
	}

	archiveName := filepath.Base(archivePath)

	p.prune(ctx, repoDir, archiveName)

	if err := p.stage(ctx, repoDir, archivePath); err != nil {
		return err
	}

	committed, err := p.commit(ctx, repoDir, archiveName)
	if err != nil {
		return err
	}
	if !committed {
		p.logger.Info().Str("archive", archiveName).Msg("repository already up to date, nothing to push")
		return nil
	}

	return p.push(ctx, repoDir)
}

func (p *Publisher) clone(ctx context.Context, repoDir string) error {
	cloneURL, redactedURL, err := AuthURL(p.cfg.RepoURL, p.cfg.Token)
	if err != nil {
		return err
	}

	p.logger.Info().Str("url", redactedURL).Msg("cloning backup repository")

	cloneCtx, cancel := context.WithTimeout(ctx, p.cfg.CloneTimeout)
	defer cancel()

	if _, err := p.git.Run(cloneCtx, "", "clone", cloneURL, repoDir); err != nil {
		return fmt.Errorf("clone %s: %w", redactedURL, err)
	}

	// Commit identity is configured per-clone so the host's git config is
	// never touched.
	if _, err := p.git.Run(ctx, repoDir, "config", "user.name", p.cfg.AuthorName); err != nil {
		return fmt.Errorf("set commit author name: %w", err)
	}
	if _, err := p.git.Run(ctx, repoDir, "config", "user.email", p.cfg.AuthorEmail); err != nil {
		return fmt.Errorf("set commit author email: %w", err)
	}
	return nil
}

// prune removes every tracked archive matching the backup naming pattern
// except keep. Individual removal failures are warnings only.
func (p *Publisher) prune(ctx context.Context, repoDir, keep string) {
	for _, name := range p.staleArchives(repoDir, keep) {
		relPath := path.Join(p.cfg.Folder, name)
		p.logger.Info().Str("archive", name).Msg("removing stale archive")
		if _, err := p.git.Run(ctx, repoDir, "rm", "-f", "--ignore-unmatch", relPath); err != nil {
			p.logger.Warn().Err(err).Str("archive", name).Msg("failed to remove stale archive, continuing")
		}
	}
}

// staleArchives lists archive names in the backup folder that match the
// naming pattern and are not the one being published.
func (p *Publisher) staleArchives(repoDir, keep string) []string {
	dirEntries, err := os.ReadDir(filepath.Join(repoDir, p.cfg.Folder))
	if err != nil {
		// Missing folder means a fresh repository with nothing to prune.
		return nil
	}

	var stale []string
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || name == keep || !archive.NamePattern.MatchString(name) {
			continue
		}
		stale = append(stale, name)
	}
	return stale
}

func (p *Publisher) stage(ctx context.Context, repoDir, archivePath string) error {
	destDir := filepath.Join(repoDir, p.cfg.Folder)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create backup folder in repository: %w", err)
	}

	archiveName := filepath.Base(archivePath)
	if err := copyFile(archivePath, filepath.Join(destDir, archiveName)); err != nil {
		return fmt.Errorf("copy archive into repository: %w", err)
	}

	relPath := path.Join(p.cfg.Folder, archiveName)
	if _, err := p.git.Run(ctx, repoDir, "add", relPath); err != nil {
		return fmt.Errorf("stage archive: %w", err)
	}

	p.logger.Info().Str("archive", archiveName).Msg("archive staged")
	return nil
}

// commit commits staged changes, returning false when the working tree is
// clean and there is nothing to commit.
func (p *Publisher) commit(ctx context.Context, repoDir, archiveName string) (bool, error) {
	status, err := p.git.Run(ctx, repoDir, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("inspect working tree: %w", err)
	}
	if len(bytes.TrimSpace(status)) == 0 {
		return false, nil
	}

	message := fmt.Sprintf("Automated backup: %s", archiveName)
	if _, err := p.git.Run(ctx, repoDir, "commit", "-m", message); err != nil {
		return false, fmt.Errorf("commit archive: %w", err)
	}

	p.logger.Info().Str("message", message).Msg("changes committed")
	return true, nil
}

func (p *Publisher) push(ctx context.Context, repoDir string) error {
	remoteOut, err := p.git.Run(ctx, repoDir, "remote")
	if err != nil {
		return fmt.Errorf("list remotes: %w", err)
	}
	remoteName := firstLine(remoteOut)
	if remoteName == "" {
		return errors.New("repository has no remote to push to")
	}

	urlOut, err := p.git.Run(ctx, repoDir, "remote", "get-url", remoteName)
	if err != nil {
		return fmt.Errorf("resolve remote URL: %w", err)
	}

	pushURL, redactedURL, err := AuthURL(firstLine(urlOut), p.cfg.Token)
	if err != nil {
		return err
	}

	branchOut, err := p.git.Run(ctx, repoDir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return fmt.Errorf("determine current branch: %w", err)
	}
	branch := firstLine(branchOut)

	p.logger.Info().Str("remote", redactedURL).Str("branch", branch).Msg("pushing")

	pushCtx, cancel := context.WithTimeout(ctx, p.cfg.PushTimeout)
	defer cancel()

	if _, err := p.git.Run(pushCtx, repoDir, "push", pushURL, branch); err != nil {
		return fmt.Errorf("push %s to %s: %w", branch, redactedURL, err)
	}

	p.logger.Info().Msg("push complete")
	return nil
}

func firstLine(out []byte) string {
	s := strings.TrimSpace(string(out))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

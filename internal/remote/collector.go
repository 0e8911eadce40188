package remote

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/rs/zerolog"
)

// Collector walks a remote namespace from a configured root and produces the
// ordered list of classified entries beneath it.
//
// All navigation uses absolute paths, so recursive calls never depend on a
// prior call's working-directory side effects and a failed probe leaves no
// observable session state behind.
type Collector struct {
	ep     Endpoint
	logger zerolog.Logger
}

// NewCollector creates a collector over an open endpoint session.
func NewCollector(ep Endpoint, logger zerolog.Logger) *Collector {
	return &Collector{
		ep:     ep,
		logger: logger.With().Str("component", "collector").Logger(),
	}
}

// Collect walks the tree rooted at root. include, when non-nil, restricts
// which top-level names are collected; once a top-level name is included its
// whole subtree is collected unconditionally. The filter is applied before
// classification, so excluded names are never probed.
//
// Per-entry failures are logged and skipped. Only a failure to list or enter
// root itself is returned as an error.
func (c *Collector) Collect(ctx context.Context, root string, include []string) ([]RemoteEntry, error) {
	root = Join("/", root)

	if err := c.ep.ChangeDir(ctx, root); err != nil {
		return nil, fmt.Errorf("enter traversal root %s: %w", root, err)
	}

	var includeSet map[string]bool
	if include != nil {
		includeSet = make(map[string]bool, len(include))
		for _, name := range include {
			includeSet[name] = true
		}
	}

	entries, err := c.classify(ctx, root, includeSet)
	if err != nil {
		return nil, fmt.Errorf("list traversal root %s: %w", root, err)
	}

	return c.walkEntries(ctx, root, entries), nil
}

// walk collects everything beneath dir. Errors below the root are absorbed
// here: an unreadable subtree contributes nothing but never removes siblings.
func (c *Collector) walk(ctx context.Context, dir string) []RemoteEntry {
	entries, err := c.classify(ctx, dir, nil)
	if err != nil {
		c.logger.Warn().Err(err).Str("dir", dir).Msg("skipping unreadable directory")
		return nil
	}
	return c.walkEntries(ctx, dir, entries)
}

func (c *Collector) walkEntries(ctx context.Context, dir string, entries []Entry) []RemoteEntry {
	var collected []RemoteEntry

	for _, entry := range entries {
		full := Join(dir, entry.Name)

		switch entry.Kind {
		case KindDir:
			collected = append(collected, RemoteEntry{Path: full, Kind: KindDir})
			collected = append(collected, c.walk(ctx, full)...)
		case KindFile:
			collected = append(collected, RemoteEntry{Path: full, Kind: KindFile})
		default:
			c.logger.Warn().Str("path", full).Msg("skipping entry of unknown type")
		}
	}

	return collected
}

// classify lists dir and assigns a kind to every retained name. It prefers
// the endpoint's type-tagged listing; when that is unavailable it falls back
// to a name listing with a change-directory probe per name. The include set,
// when non-nil, drops names before any probing happens.
func (c *Collector) classify(ctx context.Context, dir string, include map[string]bool) ([]Entry, error) {
	entries, err := c.ep.List(ctx, dir)
	if err == nil {
		return c.retain(entries, include), nil
	}
	if cerr := ctx.Err(); cerr != nil {
		return nil, cerr
	}
	if errors.Is(err, fs.ErrPermission) {
		return nil, err
	}

	c.logger.Debug().Err(err).Str("dir", dir).Msg("typed listing unavailable, probing entry types")

	names, nerr := c.ep.NameList(ctx, dir)
	if nerr != nil {
		return nil, nerr
	}

	entries = entries[:0]
	for _, raw := range names {
		// Some servers answer NLST with absolute paths rather than bare
		// names; reduce each to its final element before filtering and
		// joining.
		name := path.Base(strings.TrimSuffix(raw, "/"))
		if name == "." || name == ".." || name == "/" {
			continue
		}
		if include != nil && !include[name] {
			c.logger.Debug().Str("name", name).Msg("excluded by root filter")
			continue
		}
		entries = append(entries, Entry{Name: name, Kind: c.probe(ctx, dir, name)})
	}
	return entries, nil
}

// retain filters a type-tagged listing: self/parent markers always, and
// names outside the root include set when one is supplied.
func (c *Collector) retain(entries []Entry, include map[string]bool) []Entry {
	kept := entries[:0]
	for _, entry := range entries {
		if entry.Name == "." || entry.Name == ".." {
			continue
		}
		if include != nil && !include[entry.Name] {
			c.logger.Debug().Str("name", entry.Name).Msg("excluded by root filter")
			continue
		}
		kept = append(kept, entry)
	}
	return kept
}

// probe attempts to enter name as a directory. Success means directory, a
// permission-style refusal means plain file, anything else is unclassifiable
// and the name is skipped rather than guessed.
func (c *Collector) probe(ctx context.Context, dir, name string) Kind {
	err := c.ep.ChangeDir(ctx, Join(dir, name))
	switch {
	case err == nil:
		return KindDir
	case errors.Is(err, fs.ErrPermission):
		return KindFile
	default:
		c.logger.Warn().Err(err).Str("name", name).Str("dir", dir).Msg("probe failed, cannot classify entry")
		return KindUnknown
	}
}

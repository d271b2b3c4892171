// Package staging holds pending writes separate from a project's committed
// output tree. Every generated file lands here first; only an explicit
// promote moves content into the committed tree, and a reject deletes it
// without touching committed output.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/rs/zerolog"

	"github.com/atelier-ai/atelier/internal/apperr"
	"github.com/atelier-ai/atelier/internal/sandbox"
	"github.com/atelier-ai/atelier/internal/workspace"
)

// StagedFile describes one pending write. Path is relative to the write
// root's shape (the staged copy lives at <staging root>/<Path> and promotes
// to <write root>/<Path>).
type StagedFile struct {
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	StagedAt time.Time `json:"staged_at"`
	// Exists reports whether a committed file already occupies the same
	// relative path, which the diff and promote UI care about.
	Exists bool `json:"exists_in_output"`
}

// Recorder receives staging lifecycle events for the audit trail.
type Recorder interface {
	Record(ctx context.Context, projectID, path, action string)
}

// Store implements the staged-write lifecycle over a project's staging and
// write roots. Operations on the same (project, path) pair serialize;
// distinct paths never block each other.
type Store struct {
	locks  keyedMutex
	audit  Recorder // optional
	logger zerolog.Logger
}

// New creates a staging store. rec may be nil when no audit trail is wired.
func New(rec Recorder, logger zerolog.Logger) *Store {
	return &Store{
		audit:  rec,
		logger: logger.With().Str("component", "staging").Logger(),
	}
}

func (s *Store) record(ctx context.Context, projectID, path, action string) {
	if s.audit != nil {
		s.audit.Record(ctx, projectID, path, action)
	}
}

// paths resolves the staged and committed absolute paths for rel, both
// sandbox-checked against their respective roots.
func paths(p *workspace.Project, rel string) (staged, committed string, cleanRel string, err error) {
	cleanRel = sandbox.Normalize(rel)
	if cleanRel == "" {
		return "", "", "", fmt.Errorf("%w: empty path", apperr.ErrInvalidInput)
	}
	staged, err = sandbox.Resolve(p.AbsStagingRoot(), cleanRel)
	if err != nil {
		return "", "", "", err
	}
	committed, err = sandbox.Resolve(p.AbsWriteRoot(), cleanRel)
	if err != nil {
		return "", "", "", err
	}
	return staged, committed, cleanRel, nil
}

// Stage writes content under the staging root at rel. A second stage to the
// same path before promotion or rejection overwrites the earlier staged
// version (last-write-wins, no versioning).
func (s *Store) Stage(ctx context.Context, p *workspace.Project, rel string, content []byte) (StagedFile, error) {
	staged, committed, cleanRel, err := paths(p, rel)
	if err != nil {
		return StagedFile{}, err
	}

	unlock := s.locks.lock(p.ID, cleanRel)
	defer unlock()

	if err := os.MkdirAll(filepath.Dir(staged), 0o755); err != nil {
		return StagedFile{}, fmt.Errorf("creating staging dir: %w", err)
	}
	if err := os.WriteFile(staged, content, 0o644); err != nil {
		return StagedFile{}, fmt.Errorf("writing staged file: %w", err)
	}

	s.logger.Info().Str("project", p.ID).Str("path", cleanRel).Int("bytes", len(content)).Msg("file staged")
	s.record(ctx, p.ID, cleanRel, "staged")

	_, statErr := os.Stat(committed)
	return StagedFile{
		Path:     cleanRel,
		Size:     int64(len(content)),
		StagedAt: time.Now(),
		Exists:   statErr == nil,
	}, nil
}

// List enumerates all files currently under the project's staging root.
func (s *Store) List(p *workspace.Project) ([]StagedFile, error) {
	root := p.AbsStagingRoot()
	out := []StagedFile{}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		committed, err := sandbox.Resolve(p.AbsWriteRoot(), rel)
		if err != nil {
			return err
		}
		_, statErr := os.Stat(committed)
		out = append(out, StagedFile{
			Path:     rel,
			Size:     info.Size(),
			StagedAt: info.ModTime(),
			Exists:   statErr == nil,
		})
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("listing staging root: %w", err)
	}
	return out, nil
}

// Diff computes a unified line diff between the staged content at rel and
// the committed content at the same relative path. A missing committed file
// diffs against empty.
func (s *Store) Diff(p *workspace.Project, rel string) (string, error) {
	staged, committed, cleanRel, err := paths(p, rel)
	if err != nil {
		return "", err
	}

	unlock := s.locks.lock(p.ID, cleanRel)
	defer unlock()

	stagedRaw, err := os.ReadFile(staged)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", apperr.ErrNotStaged, cleanRel)
		}
		return "", fmt.Errorf("reading staged file: %w", err)
	}

	committedRaw, err := os.ReadFile(committed)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("reading committed file: %w", err)
	}

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(committedRaw)),
		B:        difflib.SplitLines(string(stagedRaw)),
		FromFile: p.WriteRoot + "/" + cleanRel,
		ToFile:   p.StagingRoot + "/" + cleanRel,
		Context:  3,
	})
	if err != nil {
		return "", fmt.Errorf("computing diff: %w", err)
	}
	return diff, nil
}

// Promote moves the staged file at rel into the committed output tree and
// removes it from staging. Without overwrite it fails when a committed file
// already occupies the path. Promotion of one file never touches any other
// staged file.
func (s *Store) Promote(ctx context.Context, p *workspace.Project, rel string, overwrite bool) error {
	staged, committed, cleanRel, err := paths(p, rel)
	if err != nil {
		return err
	}

	unlock := s.locks.lock(p.ID, cleanRel)
	defer unlock()

	content, err := os.ReadFile(staged)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", apperr.ErrNotStaged, cleanRel)
		}
		return fmt.Errorf("reading staged file: %w", err)
	}

	if _, err := os.Stat(committed); err == nil && !overwrite {
		return fmt.Errorf("%w: %s", apperr.ErrAlreadyExists, cleanRel)
	}

	if err := os.MkdirAll(filepath.Dir(committed), 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	if err := os.WriteFile(committed, content, 0o644); err != nil {
		return fmt.Errorf("writing committed file: %w", err)
	}
	if err := os.Remove(staged); err != nil {
		return fmt.Errorf("removing staged file: %w", err)
	}

	s.logger.Info().Str("project", p.ID).Str("path", cleanRel).Bool("overwrite", overwrite).Msg("file promoted")
	s.record(ctx, p.ID, cleanRel, "promoted")
	return nil
}

// Reject deletes the staged file at rel without touching committed output.
func (s *Store) Reject(ctx context.Context, p *workspace.Project, rel string) error {
	staged, _, cleanRel, err := paths(p, rel)
	if err != nil {
		return err
	}

	unlock := s.locks.lock(p.ID, cleanRel)
	defer unlock()

	if err := os.Remove(staged); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", apperr.ErrNotStaged, cleanRel)
		}
		return fmt.Errorf("removing staged file: %w", err)
	}

	s.logger.Info().Str("project", p.ID).Str("path", cleanRel).Msg("file rejected")
	s.record(ctx, p.ID, cleanRel, "rejected")
	return nil
}

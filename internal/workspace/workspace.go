// Package workspace loads and serves project definitions. A project is a
// sandboxed directory tree with read-only roots, one committed write root,
// and one staging root holding not-yet-approved writes. Projects are loaded
// once at startup and immutable for the server's lifetime.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/atelier-ai/atelier/internal/sandbox"
)

const manifestName = "manifest.yaml"

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Project is one sandboxed workspace.
type Project struct {
	ID          string
	Name        string
	Root        string   // absolute project root
	ReadRoots   []string // relative to Root, e.g. ["input", "guideline"]
	WriteRoot   string   // relative, committed output tree
	StagingRoot string   // relative, pending writes
	Aliases     map[string]string
}

// manifest is the on-disk YAML shape.
type manifest struct {
	Name       string            `yaml:"name"`
	ReadDirs   []string          `yaml:"read_dirs"`
	WriteDir   string            `yaml:"write_dir"`
	StagingDir string            `yaml:"staging_dir"`
	Aliases    map[string]string `yaml:"aliases"`
}

// AbsReadRoots returns the absolute paths of the read-only roots.
func (p *Project) AbsReadRoots() []string {
	roots := make([]string, 0, len(p.ReadRoots))
	for _, r := range p.ReadRoots {
		roots = append(roots, filepath.Join(p.Root, r))
	}
	return roots
}

// AbsWriteRoot returns the absolute path of the committed output tree.
func (p *Project) AbsWriteRoot() string {
	return filepath.Join(p.Root, p.WriteRoot)
}

// AbsStagingRoot returns the absolute path of the staging tree.
func (p *Project) AbsStagingRoot() string {
	return filepath.Join(p.Root, p.StagingRoot)
}

// BrowseRoots returns every root a client may list or read: the read-only
// roots, the committed write root, and the staging root.
func (p *Project) BrowseRoots() []string {
	roots := append([]string{}, p.ReadRoots...)
	roots = append(roots, p.WriteRoot, p.StagingRoot)
	return roots
}

// AbsBrowseRoots returns BrowseRoots as absolute paths.
func (p *Project) AbsBrowseRoots() []string {
	rels := p.BrowseRoots()
	roots := make([]string, 0, len(rels))
	for _, r := range rels {
		roots = append(roots, filepath.Join(p.Root, r))
	}
	return roots
}

// ResolveBrowse resolves a project-root-relative path and requires it to
// land inside one of the browsable roots.
func (p *Project) ResolveBrowse(rel string) (string, error) {
	return sandbox.ResolveUnder(p.Root, p.AbsBrowseRoots(), rel)
}

// Registry holds all loaded projects, keyed by ID.
type Registry struct {
	projects map[string]*Project
	logger   zerolog.Logger
}

// LoadDir scans dir for subdirectories containing a manifest.yaml and loads
// each as a project. Subdirectories without a manifest are skipped. The
// write and staging roots are created if missing.
func LoadDir(dir string, logger zerolog.Logger) (*Registry, error) {
	logger = logger.With().Str("component", "workspace").Logger()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading projects dir %s: %w", dir, err)
	}

	reg := &Registry{projects: make(map[string]*Project), logger: logger}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id := e.Name()
		root, err := filepath.Abs(filepath.Join(dir, id))
		if err != nil {
			return nil, fmt.Errorf("resolving project root %s: %w", id, err)
		}
		if _, err := os.Stat(filepath.Join(root, manifestName)); err != nil {
			logger.Debug().Str("dir", id).Msg("no manifest, skipping")
			continue
		}

		p, err := loadProject(id, root)
		if err != nil {
			return nil, fmt.Errorf("loading project %s: %w", id, err)
		}
		reg.projects[id] = p
		logger.Info().
			Str("project", id).
			Strs("read_roots", p.ReadRoots).
			Str("write_root", p.WriteRoot).
			Str("staging_root", p.StagingRoot).
			Msg("project loaded")
	}
	return reg, nil
}

func loadProject(id, root string) (*Project, error) {
	if !idPattern.MatchString(id) {
		return nil, fmt.Errorf("invalid project id %q", id)
	}

	raw, err := os.ReadFile(filepath.Join(root, manifestName))
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}

	if m.Name == "" {
		m.Name = id
	}
	if len(m.ReadDirs) == 0 {
		m.ReadDirs = []string{"input", "guideline"}
	}
	if m.WriteDir == "" {
		m.WriteDir = "output"
	}
	if m.StagingDir == "" {
		m.StagingDir = "output_pending"
	}
	if m.StagingDir == m.WriteDir {
		return nil, fmt.Errorf("staging_dir must differ from write_dir")
	}
	for _, rd := range m.ReadDirs {
		if rd == m.WriteDir || rd == m.StagingDir {
			return nil, fmt.Errorf("read dir %q overlaps write or staging dir", rd)
		}
	}

	// Alias targets are still re-validated by the sandbox at use time;
	// reject the obviously broken ones up front.
	for alias, target := range m.Aliases {
		if _, err := sandbox.Resolve(root, target); err != nil {
			return nil, fmt.Errorf("alias %q target %q: %w", alias, target, err)
		}
	}

	for _, d := range []string{m.WriteDir, m.StagingDir} {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", d, err)
		}
	}

	return &Project{
		ID:          id,
		Name:        m.Name,
		Root:        root,
		ReadRoots:   m.ReadDirs,
		WriteRoot:   m.WriteDir,
		StagingRoot: m.StagingDir,
		Aliases:     m.Aliases,
	}, nil
}

// Get returns a project by ID.
func (r *Registry) Get(id string) (*Project, bool) {
	p, ok := r.projects[id]
	return p, ok
}

// List returns all projects sorted by ID.
func (r *Registry) List() []*Project {
	out := make([]*Project, 0, len(r.projects))
	for _, p := range r.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

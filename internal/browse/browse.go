// Package browse serves read-only views of a project tree: directory
// listings, filename search, and size-capped file previews. Previews of
// unchanged files come from an LRU cache.
package browse

import (
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/atelier-ai/atelier/internal/apperr"
	"github.com/atelier-ai/atelier/internal/workspace"
)

func init() {
	// Document types the builtin table lacks.
	_ = mime.AddExtensionType(".md", "text/markdown; charset=utf-8")
	_ = mime.AddExtensionType(".txt", "text/plain; charset=utf-8")
	_ = mime.AddExtensionType(".yaml", "application/yaml")
	_ = mime.AddExtensionType(".yml", "application/yaml")
	_ = mime.AddExtensionType(".csv", "text/csv; charset=utf-8")
}

// Names never shown in listings or search results, on top of dotfiles.
var ignoredNames = map[string]bool{
	"node_modules": true,
	"__pycache__":  true,
	".venv":        true,
	"dist":         true,
	"build":        true,
	".DS_Store":    true,
}

func ignored(name string) bool {
	return ignoredNames[name] || strings.HasPrefix(name, ".")
}

// Entry is one listing row.
type Entry struct {
	Name  string `json:"name"`
	Path  string `json:"path"` // project-root-relative
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size,omitempty"`
}

// Preview is a size-capped file read.
type Preview struct {
	Path      string `json:"path"`
	Size      int64  `json:"size"`
	MimeType  string `json:"mime_type"`
	Binary    bool   `json:"binary"`
	Truncated bool   `json:"truncated"`
	Content   string `json:"content"` // empty for binary files
}

type cacheKey struct {
	projectID string
	rel       string
	modTime   int64
	size      int64
}

// Browser answers read-only filesystem queries against project roots.
type Browser struct {
	maxPreview int64
	cache      *lru.Cache[cacheKey, *Preview]
	logger     zerolog.Logger
}

// New creates a Browser. maxPreview caps preview content bytes (0 = 200KB),
// cacheSize bounds the preview cache (0 = 256 entries).
func New(maxPreview int64, cacheSize int, logger zerolog.Logger) (*Browser, error) {
	if maxPreview <= 0 {
		maxPreview = 200 * 1024
	}
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New[cacheKey, *Preview](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating preview cache: %w", err)
	}
	return &Browser{
		maxPreview: maxPreview,
		cache:      cache,
		logger:     logger.With().Str("component", "browse").Logger(),
	}, nil
}

// List returns the entries at rel. An empty rel lists the project's
// browsable roots. Directories sort before files, both alphabetically.
func (b *Browser) List(p *workspace.Project, rel string) ([]Entry, error) {
	if rel == "" {
		roots := p.BrowseRoots()
		sort.Strings(roots)
		out := make([]Entry, 0, len(roots))
		for _, r := range roots {
			if _, err := os.Stat(filepath.Join(p.Root, r)); err != nil {
				continue
			}
			out = append(out, Entry{Name: r, Path: r, IsDir: true})
		}
		return out, nil
	}

	abs, err := p.ResolveBrowse(rel)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", apperr.ErrNotFound, rel)
		}
		return nil, fmt.Errorf("listing %s: %w", rel, err)
	}

	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if ignored(e.Name()) {
			continue
		}
		entry := Entry{
			Name:  e.Name(),
			Path:  path.Join(rel, e.Name()),
			IsDir: e.IsDir(),
		}
		if !e.IsDir() {
			if info, err := e.Info(); err == nil {
				entry.Size = info.Size()
			}
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDir != out[j].IsDir {
			return out[i].IsDir
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// Search walks all browsable roots and returns files whose name contains
// query, case-insensitively, up to limit results (0 = 100).
func (b *Browser) Search(p *workspace.Project, query string, limit int) ([]Entry, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", apperr.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 100
	}
	needle := strings.ToLower(query)

	var out []Entry
	for _, root := range p.BrowseRoots() {
		absRoot := filepath.Join(p.Root, root)
		err := filepath.WalkDir(absRoot, func(abs string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return filepath.SkipDir
				}
				return err
			}
			if len(out) >= limit {
				return filepath.SkipAll
			}
			if ignored(d.Name()) && abs != absRoot {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() || !strings.Contains(strings.ToLower(d.Name()), needle) {
				return nil
			}
			relToRoot, err := filepath.Rel(absRoot, abs)
			if err != nil {
				return err
			}
			entry := Entry{
				Name: d.Name(),
				Path: path.Join(root, filepath.ToSlash(relToRoot)),
			}
			if info, err := d.Info(); err == nil {
				entry.Size = info.Size()
			}
			out = append(out, entry)
			return nil
		})
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("searching %s: %w", root, err)
		}
	}
	return out, nil
}

// Read returns a preview of the file at rel. Content is capped at the
// configured maximum; binary files report metadata only. Previews are cached
// keyed on (project, path, mtime, size), so edits invalidate naturally.
func (b *Browser) Read(p *workspace.Project, rel string) (*Preview, error) {
	abs, err := p.ResolveBrowse(rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", apperr.ErrNotFound, rel)
		}
		return nil, fmt.Errorf("stat %s: %w", rel, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", apperr.ErrInvalidInput, rel)
	}

	key := cacheKey{p.ID, rel, info.ModTime().UnixNano(), info.Size()}
	if pv, ok := b.cache.Get(key); ok {
		return pv, nil
	}

	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", rel, err)
	}

	pv := &Preview{
		Path:     rel,
		Size:     info.Size(),
		MimeType: mimeTypeFor(rel),
	}
	if isBinary(raw) {
		pv.Binary = true
	} else {
		content := raw
		if int64(len(content)) > b.maxPreview {
			content = content[:b.maxPreview]
			// Do not cut a UTF-8 sequence in half.
			for len(content) > 0 && !utf8.RuneStart(content[len(content)-1]) {
				content = content[:len(content)-1]
			}
			if r, _ := utf8.DecodeLastRune(content); r == utf8.RuneError && len(content) > 0 {
				content = content[:len(content)-1]
			}
			pv.Truncated = true
		}
		pv.Content = string(content)
	}

	b.cache.Add(key, pv)
	b.logger.Debug().Str("project", p.ID).Str("path", rel).Int64("size", pv.Size).Msg("preview read")
	return pv, nil
}

func mimeTypeFor(rel string) string {
	mt := mime.TypeByExtension(path.Ext(rel))
	if mt == "" {
		mt = "application/octet-stream"
	}
	return mt
}

// isBinary applies the NUL-byte heuristic over the first 8KB.
func isBinary(raw []byte) bool {
	probe := raw
	if len(probe) > 8192 {
		probe = probe[:8192]
	}
	for _, c := range probe {
		if c == 0 {
			return true
		}
	}
	return false
}

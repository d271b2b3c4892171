// Package mention expands @-tokens in a prompt into classified,
// project-relative paths. The resolver is pure with respect to the
// filesystem: it only classifies; actual access is validated by the
// sandbox at use time.
package mention

import (
	"regexp"
	"strings"

	"github.com/atelier-ai/atelier/internal/workspace"
)

// Kind classifies a resolved mention.
type Kind string

const (
	KindInput     Kind = "input"
	KindGuideline Kind = "guideline"
	KindOutput    Kind = "output"
	KindAlias     Kind = "alias"
	// KindRaw marks a token that matched the mention grammar but nothing in
	// the project; it is passed through untouched for the fallback agent to
	// interpret.
	KindRaw Kind = "raw"
)

// Mention is one classified @-token.
type Mention struct {
	Raw  string // token text without the leading @
	Kind Kind
	Path string // project-root-relative path; empty for raw mentions
}

// WriteRel returns the path relative to the write root's shape for an
// output mention, i.e. "output/notes.md" -> "notes.md".
func (m Mention) WriteRel() string {
	if i := strings.IndexByte(m.Path, '/'); i >= 0 {
		return m.Path[i+1:]
	}
	return m.Path
}

// Grammar: @ followed by word characters, '-', '.', '_' or '/'. Word
// characters include non-ASCII letters so Japanese file names mention fine.
var tokenPattern = regexp.MustCompile(`@([\p{L}\p{N}_\-./]+)`)

// Resolve scans prompt for mention tokens and classifies each against the
// project. Alias mentions are rewritten in the expanded prompt to their
// target path so downstream consumers see concrete paths. Resolution never
// fails: unmatched tokens are classified as raw and left untouched.
func Resolve(prompt string, p *workspace.Project) (string, []Mention) {
	var mentions []Mention

	expanded := tokenPattern.ReplaceAllStringFunc(prompt, func(tok string) string {
		raw := strings.TrimPrefix(tok, "@")
		m := classify(raw, p)
		mentions = append(mentions, m)
		if m.Kind == KindAlias {
			return "@" + m.Path
		}
		return tok
	})

	return expanded, mentions
}

func classify(raw string, p *workspace.Project) Mention {
	if target, ok := p.Aliases[raw]; ok {
		return Mention{Raw: raw, Kind: KindAlias, Path: target}
	}

	for _, rd := range p.ReadRoots {
		if strings.HasPrefix(raw, rd+"/") {
			kind := KindInput
			// The guideline root carries instructions, not source material,
			// and routes differently.
			if rd == "guideline" || strings.HasPrefix(rd, "guideline") {
				kind = KindGuideline
			}
			return Mention{Raw: raw, Kind: kind, Path: raw}
		}
	}
	if strings.HasPrefix(raw, p.WriteRoot+"/") || strings.HasPrefix(raw, p.StagingRoot+"/") {
		return Mention{Raw: raw, Kind: KindOutput, Path: raw}
	}
	return Mention{Raw: raw, Kind: KindRaw}
}

// Filter returns the mentions of one kind, in prompt order.
func Filter(mentions []Mention, kind Kind) []Mention {
	var out []Mention
	for _, m := range mentions {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

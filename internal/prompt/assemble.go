// Package prompt assembles context bundles for agent sessions from
// ordered prompt source files.
package prompt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrPromptFileMissing is returned when a literal (non-glob) source path
// resolves to no file. The whole build aborts; no partial bundle is made.
var ErrPromptFileMissing = errors.New("prompt file missing")

// Source is one prompt input: a literal path or glob pattern, with an
// optional explicit ordering. Sources without an order sort after all
// ordered ones.
type Source struct {
	Path  string
	Order *int
}

// Fragment is one resolved prompt file.
type Fragment struct {
	Path  string
	Text  string
	Order *int
}

// Bundle is the assembled context handed to the agent.
type Bundle struct {
	Content       string
	Fragments     []Fragment
	TokenEstimate int
}

// Build resolves sources relative to baseDir, reads every matched file,
// orders the fragments, deduplicates repeated Markdown headings, and
// joins the survivors into one bundle. A literal path that matches no
// file is fatal; a glob that matches nothing is silently empty.
func Build(sources []Source, baseDir string) (*Bundle, error) {
	var fragments []Fragment

	for _, src := range sources {
		paths, err := resolve(src.Path, baseDir)
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			data, err := os.ReadFile(p)
			if err != nil {
				return nil, fmt.Errorf("reading prompt source %s: %w", src.Path, err)
			}
			fragments = append(fragments, Fragment{Path: p, Text: string(data), Order: src.Order})
		}
	}

	sortFragments(fragments)

	content := joinDeduped(fragments)
	return &Bundle{
		Content:       content,
		Fragments:     fragments,
		TokenEstimate: EstimateTokens(content),
	}, nil
}

// resolve expands a source path to concrete files. Glob patterns may
// match zero files; a literal path must exist.
func resolve(pattern, baseDir string) ([]string, error) {
	full := pattern
	if !filepath.IsAbs(full) {
		full = filepath.Join(baseDir, pattern)
	}

	if isGlob(pattern) {
		matches, err := filepath.Glob(full)
		if err != nil {
			return nil, fmt.Errorf("invalid glob %q: %w", pattern, err)
		}
		sort.Strings(matches)
		return matches, nil
	}

	if _, err := os.Stat(full); err != nil {
		return nil, fmt.Errorf("prompt source %q: %w", pattern, ErrPromptFileMissing)
	}
	return []string{full}, nil
}

// isGlob reports whether the path contains glob metacharacters.
func isGlob(path string) bool {
	return strings.ContainsAny(path, "*?[")
}

// sortFragments orders fragments ascending by explicit order, with
// unordered fragments after all ordered ones. Ties break by path.
func sortFragments(fragments []Fragment) {
	sort.SliceStable(fragments, func(i, j int) bool {
		a, b := fragments[i], fragments[j]
		switch {
		case a.Order != nil && b.Order != nil:
			if *a.Order != *b.Order {
				return *a.Order < *b.Order
			}
		case a.Order != nil:
			return true
		case b.Order != nil:
			return false
		}
		return a.Path < b.Path
	})
}

// joinDeduped concatenates fragment bodies with one blank line between
// them, dropping any Markdown heading line whose exact text appeared
// earlier in the scan. Non-heading lines are never dropped.
func joinDeduped(fragments []Fragment) string {
	seenHeadings := make(map[string]bool)
	bodies := make([]string, 0, len(fragments))

	for _, frag := range fragments {
		lines := strings.Split(frag.Text, "\n")
		kept := lines[:0]
		for _, line := range lines {
			if isHeading(line) {
				if seenHeadings[line] {
					continue
				}
				seenHeadings[line] = true
			}
			kept = append(kept, line)
		}
		bodies = append(bodies, strings.TrimRight(strings.Join(kept, "\n"), "\n"))
	}

	return strings.Join(bodies, "\n\n")
}

// isHeading reports whether the line is a Markdown heading.
func isHeading(line string) bool {
	return strings.HasPrefix(line, "#")
}

// EstimateTokens approximates the token count as ceil(characters / 4).
func EstimateTokens(content string) int {
	return (len(content) + 3) / 4
}

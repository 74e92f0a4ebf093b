// Package repoctx gathers repository context for the assistant: it selects
// files, runs searches, and assembles a context blob that fits a character
// budget.
package repoctx

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/modforge/devkit/internal/constants"
	"github.com/modforge/devkit/internal/git"
	"github.com/modforge/devkit/internal/logging"
	"github.com/modforge/devkit/internal/pathmatch"
	"github.com/modforge/devkit/internal/util"
)

// DefaultExcludes keeps VCS metadata, build output and binary assets out of
// the context.
var DefaultExcludes = []string{
	".git/**",
	".gradle/**",
	"build/**",
	"**/build/**",
	"out/**",
	"**/*.jar",
	"**/*.zip",
	"**/*.png",
	"**/*.jpg",
	"**/*.jpeg",
	"**/*.webp",
	"**/*.gif",
	"**/*.mp3",
	"**/*.ogg",
	"**/*.wav",
	"**/*.bin",
	"**/*.aot",
	"**/*.class",
	"**/*.so",
	"**/*.dylib",
	"**/*.exe",
}

// DefaultEntrypointPatterns locate plugin entry points in auto mode.
var DefaultEntrypointPatterns = []string{
	`extends\s+JavaPlugin`,
	`JavaPluginInit`,
	`\bonEnable\b`,
}

// DefaultSourceExtensions restricts auto-discovered entry points.
var DefaultSourceExtensions = []string{".java", ".kt"}

// DefaultFiles are appended by --include-default when they exist.
var DefaultFiles = []string{
	"README.md",
	"settings.gradle",
	"src/main/resources/manifest.json",
}

// Budget caps how much repository content is sent to the model.
type Budget struct {
	MaxFiles      int `json:"max_files" toml:"max_files"`
	MaxFileChars  int `json:"max_file_chars" toml:"max_file_chars"`
	MaxTotalChars int `json:"max_total_chars" toml:"max_total_chars"`
	MaxGrepChars  int `json:"max_grep_chars" toml:"max_grep_chars"`
}

// DefaultBudget returns the stock budget.
func DefaultBudget() Budget {
	return Budget{
		MaxFiles:      30,
		MaxFileChars:  20_000,
		MaxTotalChars: 120_000,
		MaxGrepChars:  20_000,
	}
}

// Validate rejects non-positive limits.
func (b Budget) Validate() error {
	if b.MaxFiles < 1 || b.MaxFileChars < 1 || b.MaxTotalChars < 1 || b.MaxGrepChars < 1 {
		return fmt.Errorf("budget limits must be positive: %+v", b)
	}
	return nil
}

// Selection describes which files to include.
type Selection struct {
	// Globs are doublestar patterns relative to the repo root.
	Globs []string
	// IncludeChanged adds files reported by git status.
	IncludeChanged bool
	// Auto adds discovered entry points when neither Globs nor
	// IncludeChanged is set.
	Auto bool
	// Excludes drops matching candidates.
	Excludes []string
	// Defaults are appended after the MaxFiles cap if they exist.
	Defaults []string

	EntrypointPatterns []string
	SourceExtensions   []string
}

// Selector picks files and runs searches within a repo.
type Selector struct {
	Repo   *git.Repo
	Search Searcher
	Logger *zap.Logger
}

// NewSelector returns a Selector using the default searcher.
func NewSelector(repo *git.Repo, logger *zap.Logger) *Selector {
	return &Selector{Repo: repo, Search: NewSearcher(), Logger: logging.OrNop(logger)}
}

// SelectFiles returns repo-relative file paths in selection order, plus notes
// describing anything omitted.
func (s *Selector) SelectFiles(ctx context.Context, sel Selection, budget Budget) ([]string, []string, error) {
	logger := logging.OrNop(s.Logger)
	var candidates []string

	if sel.IncludeChanged {
		changed, err := s.Repo.ChangedFiles(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("listing changed files: %w", err)
		}
		candidates = append(candidates, changed...)
	}

	for _, g := range sel.Globs {
		matches, err := doublestar.Glob(os.DirFS(s.Repo.Dir), filepath.ToSlash(g), doublestar.WithFilesOnly())
		if err != nil {
			return nil, nil, fmt.Errorf("bad --files glob %q: %w", g, err)
		}
		candidates = append(candidates, matches...)
	}

	if sel.Auto && len(sel.Globs) == 0 && !sel.IncludeChanged {
		candidates = append(candidates, s.DiscoverEntrypoints(ctx, sel.EntrypointPatterns, sel.SourceExtensions, constants.MaxEntrypointHits)...)
	}

	var files []string
	for _, c := range util.Unique(candidates) {
		if pathmatch.MatchAny(c, sel.Excludes) {
			logger.Debug("excluded", zap.String("path", c))
			continue
		}
		if isRegularFile(filepath.Join(s.Repo.Dir, filepath.FromSlash(c))) {
			files = append(files, c)
		}
	}

	var notes []string
	if len(files) > budget.MaxFiles {
		notes = append(notes, fmt.Sprintf("[Omitted %d files due to --max-files=%d]", len(files)-budget.MaxFiles, budget.MaxFiles))
		files = files[:budget.MaxFiles]
	}

	for _, d := range sel.Defaults {
		if slices.Contains(files, d) {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.Repo.Dir, filepath.FromSlash(d))); err == nil {
			files = append(files, d)
		}
	}

	logger.Debug("selected files", zap.Strings("files", files))
	return files, notes, nil
}

// DiscoverEntrypoints searches for each pattern and returns source files that
// matched, unique, existing and capped at max.
func (s *Selector) DiscoverEntrypoints(ctx context.Context, patterns, extensions []string, max int) []string {
	if len(patterns) == 0 {
		patterns = DefaultEntrypointPatterns
	}
	if len(extensions) == 0 {
		extensions = DefaultSourceExtensions
	}

	var hits []string
	for _, pat := range patterns {
		out := s.Search.Search(ctx, s.Repo.Dir, pat)
		for _, line := range strings.Split(out, "\n") {
			rel, _, found := strings.Cut(line, ":")
			if !found {
				continue
			}
			rel = strings.TrimPrefix(rel, "./")
			if hasAnySuffix(rel, extensions) {
				hits = append(hits, rel)
			}
			if len(hits) >= max {
				break
			}
		}
		if len(hits) >= max {
			break
		}
	}

	var out []string
	for _, h := range util.Unique(hits) {
		if isRegularFile(filepath.Join(s.Repo.Dir, filepath.FromSlash(h))) {
			out = append(out, h)
		}
	}
	if len(out) > max {
		out = out[:max]
	}
	return out
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}

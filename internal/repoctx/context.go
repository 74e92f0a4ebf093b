package repoctx

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/modforge/devkit/internal/constants"
	"github.com/modforge/devkit/internal/logging"
	"github.com/modforge/devkit/internal/util"
)

// Truncation markers appended to cut content.
const (
	MarkerFileTruncated    = "\n\n[TRUNCATED]\n"
	MarkerGrepTruncated    = "\n[TRUNCATED GREP OUTPUT]\n"
	MarkerContextTruncated = "\n\n[TRUNCATED CONTEXT: max_total_chars reached]\n"
)

// maxParallelSearches bounds concurrent rg/grep processes.
const maxParallelSearches = 4

// ProjectContextPaths are probed in order for a project overview document.
var ProjectContextPaths = []string{
	"docs/PROJECT_CONTEXT.md",
	"PROJECT_CONTEXT.md",
}

// Request describes one context build.
type Request struct {
	Files       []string
	Queries     []string
	IncludeDiff bool
	// Plan is appended as a final section when non-nil.
	Plan *string
}

// Build assembles the context blob for req under budget and returns it with
// notes describing every truncation.
func (s *Selector) Build(ctx context.Context, req Request, budget Budget) (string, []string, error) {
	logger := logging.OrNop(s.Logger)
	var notes []string
	var parts []string

	pcMax := constants.MaxProjectContextChars
	if budget.MaxFileChars < pcMax {
		pcMax = budget.MaxFileChars
	}
	if pc := strings.TrimSpace(projectContext(s.Repo.Dir, pcMax)); pc != "" {
		parts = append(parts, "## PROJECT_CONTEXT\n"+pc)
	}

	status, err := s.Repo.Status(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("git status: %w", err)
	}
	parts = append(parts, "## GIT_STATUS\n"+strings.TrimSpace(status))

	stat, err := s.Repo.DiffStat(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("git diff --stat: %w", err)
	}
	parts = append(parts, "## GIT_DIFF_STAT\n"+orPlaceholder(stat, "[no diff]"))

	if req.IncludeDiff {
		d, err := s.Repo.Diff(ctx)
		if err != nil {
			return "", nil, fmt.Errorf("git diff: %w", err)
		}
		parts = append(parts, "## GIT_DIFF\n"+orPlaceholder(d, "[no diff]"))
	}

	if len(req.Queries) > 0 {
		results := s.searchAll(ctx, req.Queries)
		blobs := make([]string, 0, len(results))
		for i, q := range req.Queries {
			out := orPlaceholder(results[i], "[no matches]")
			if len(out) > budget.MaxGrepChars {
				out = util.HeadChars(out, budget.MaxGrepChars) + MarkerGrepTruncated
				notes = append(notes, fmt.Sprintf("[Truncated grep output for query=%q to --max-grep-chars=%d]", q, budget.MaxGrepChars))
			}
			blobs = append(blobs, fmt.Sprintf("### search: %s\n%s", q, out))
		}
		parts = append(parts, "## SEARCH\n"+strings.Join(blobs, "\n\n"))
	}

	if len(req.Files) > 0 {
		blobs := make([]string, 0, len(req.Files))
		for _, rel := range req.Files {
			content, truncated := ReadText(filepath.Join(s.Repo.Dir, filepath.FromSlash(rel)), budget.MaxFileChars)
			blobs = append(blobs, fmt.Sprintf("### FILE: %s\n%s", rel, content))
			if truncated {
				notes = append(notes, fmt.Sprintf("[Truncated file %s to --max-file-chars=%d]", rel, budget.MaxFileChars))
			}
		}
		parts = append(parts, "## FILES\n"+strings.Join(blobs, "\n\n"))
	}

	if req.Plan != nil {
		parts = append(parts, "## PLAN\n"+strings.TrimSpace(*req.Plan))
	}

	combined := strings.TrimSpace(strings.Join(parts, "\n\n"))
	if len(combined) > budget.MaxTotalChars {
		combined = util.HeadChars(combined, budget.MaxTotalChars) + MarkerContextTruncated
		notes = append(notes, fmt.Sprintf("[Truncated total context to --max-total-chars=%d]", budget.MaxTotalChars))
	}

	logger.Debug("context built",
		zap.Int("chars", len(combined)),
		zap.Int("files", len(req.Files)),
		zap.Int("queries", len(req.Queries)),
		zap.Int("notes", len(notes)))
	return combined, notes, nil
}

// searchAll runs queries concurrently and returns outputs in query order.
func (s *Selector) searchAll(ctx context.Context, queries []string) []string {
	results := make([]string, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelSearches)
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			results[i] = s.Search.Search(gctx, s.Repo.Dir, q)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// ReadText reads path as text, replacing invalid UTF-8, and truncates it to
// max bytes with a marker. Read failures are returned inline as text so the
// model sees which file was unreadable.
func ReadText(path string, max int) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Sprintf("[ERROR reading %s: %v]", path, err), false
	}
	text := string(data)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "�")
	}
	if len(text) > max {
		return util.HeadChars(text, max) + MarkerFileTruncated, true
	}
	return text, false
}

func projectContext(root string, max int) string {
	for _, rel := range ProjectContextPaths {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if _, err := os.Stat(p); err == nil {
			text, _ := ReadText(p, max)
			return text
		}
	}
	return ""
}

func orPlaceholder(s, placeholder string) string {
	if s = strings.TrimSpace(s); s == "" {
		return placeholder
	}
	return s
}

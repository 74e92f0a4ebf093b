// Package patch extracts unified diffs from model output and validates which
// paths they touch.
package patch

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/modforge/devkit/internal/pathmatch"
	"github.com/modforge/devkit/internal/util"
)

// DefaultForbidden lists files the model must not modify: container and
// Gradle build configuration.
var DefaultForbidden = []string{
	"Dockerfile",
	"docker-compose.yml",
	"docker-compose.yaml",
	".dockerignore",
	"**/Dockerfile",
	"**/docker-compose.yml",
	"**/docker-compose.yaml",
	"**/.dockerignore",

	"build.gradle",
	"settings.gradle",
	"gradle.properties",
	"gradlew",
	"gradlew.bat",
	"gradle/**",
	"**/build.gradle",
	"**/settings.gradle",
	"**/gradle.properties",
	"**/gradlew",
	"**/gradlew.bat",
	"**/gradle/**",
}

const devNull = "/dev/null"

var diffHeader = regexp.MustCompile(`(?m)^diff --git\s`)

// Extract returns model output from the first `diff --git` header onward,
// trimmed and newline-terminated. ok is false when no header is present.
func Extract(text string) (string, bool) {
	loc := diffHeader.FindStringIndex(text)
	if loc == nil {
		return "", false
	}
	return strings.TrimSpace(text[loc[0]:]) + "\n", true
}

// fileHeader holds the paths named in one file's extended header.
type fileHeader struct {
	paths   []string
	target  string
	created bool
}

// parseHeaders walks the extended header of every file in diffText: the
// `diff --git` line, rename/copy lines and the ---/+++ lines before the first
// hunk. Hunk bodies are skipped so removed lines starting with "--" are not
// mistaken for file names.
func parseHeaders(diffText string) []fileHeader {
	var files []fileHeader
	var cur *fileHeader
	inHeader := false
	add := func(p string) {
		if p != "" && p != devNull {
			cur.paths = append(cur.paths, p)
		}
	}
	for _, line := range strings.Split(diffText, "\n") {
		if rest, ok := strings.CutPrefix(line, "diff --git "); ok {
			files = append(files, fileHeader{})
			cur = &files[len(files)-1]
			inHeader = true
			a, b := splitGitHeader(rest)
			add(a)
			add(b)
			if b != "" && b != devNull {
				cur.target = b
			}
			continue
		}
		if cur == nil || !inHeader {
			continue
		}
		switch {
		case strings.HasPrefix(line, "@@"):
			inHeader = false
		case strings.HasPrefix(line, "new file mode"):
			cur.created = true
		case strings.HasPrefix(line, "rename from "), strings.HasPrefix(line, "copy from "):
			_, name, _ := strings.Cut(line, " from ")
			add(unquotePath(name, ""))
		case strings.HasPrefix(line, "rename to "), strings.HasPrefix(line, "copy to "):
			_, name, _ := strings.Cut(line, " to ")
			name = unquotePath(name, "")
			add(name)
			cur.target = name
			cur.created = true
		case strings.HasPrefix(line, "--- "):
			name := unquotePath(strings.TrimPrefix(line, "--- "), "a/")
			if name == devNull {
				cur.created = true
			}
			add(name)
		case strings.HasPrefix(line, "+++ "):
			name := unquotePath(strings.TrimPrefix(line, "+++ "), "b/")
			add(name)
			if name != devNull && name != "" {
				cur.target = name
			}
		}
	}
	return files
}

// splitGitHeader returns the two paths of a `diff --git` header, handling
// C-quoted names and stripping the a/ and b/ prefixes.
func splitGitHeader(rest string) (string, string) {
	rest = strings.TrimSpace(rest)
	var first, second string
	if strings.HasPrefix(rest, `"`) {
		end := closingQuote(rest)
		if end < 0 {
			return "", ""
		}
		first, second = rest[:end+1], strings.TrimSpace(rest[end+1:])
	} else if i := strings.Index(rest, ` "b/`); i >= 0 {
		first, second = rest[:i], rest[i+1:]
	} else if i := strings.Index(rest, " b/"); i >= 0 {
		first, second = rest[:i], rest[i+1:]
	} else if fields := strings.Fields(rest); len(fields) == 2 {
		first, second = fields[0], fields[1]
	} else {
		return "", ""
	}
	return unquotePath(first, "a/"), unquotePath(second, "b/")
}

// closingQuote returns the index of the quote ending the C-quoted string at
// the start of s, or -1.
func closingQuote(s string) int {
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			return i
		}
	}
	return -1
}

// unquotePath decodes a git path token: C-quoted names are unquoted, a
// trailing tab-separated timestamp is dropped and prefix is removed.
func unquotePath(tok, prefix string) string {
	tok = strings.TrimSpace(tok)
	if strings.HasPrefix(tok, `"`) {
		if end := closingQuote(tok); end > 0 {
			if u, err := strconv.Unquote(tok[:end+1]); err == nil {
				tok = u
			} else {
				tok = tok[1:end]
			}
		}
	} else if i := strings.IndexByte(tok, '\t'); i >= 0 {
		tok = tok[:i]
	}
	if tok == devNull {
		return tok
	}
	return strings.TrimPrefix(tok, prefix)
}

// TouchedPaths returns every path a diff reads or writes, from `diff --git`
// headers, rename/copy lines and ---/+++ lines, without the a/ and b/
// prefixes, unique and in order.
func TouchedPaths(diffText string) []string {
	var touched []string
	for _, f := range parseHeaders(diffText) {
		touched = append(touched, f.paths...)
	}
	return util.Unique(touched)
}

// CreatedPaths returns paths the diff creates: new files and the targets of
// renames and copies.
func CreatedPaths(diffText string) []string {
	var created []string
	for _, f := range parseHeaders(diffText) {
		if f.created && f.target != "" {
			created = append(created, f.target)
		}
	}
	return util.Unique(created)
}

// ForbiddenError lists touched paths that matched a forbidden pattern.
type ForbiddenError struct {
	Paths []string
}

func (e *ForbiddenError) Error() string {
	var b strings.Builder
	b.WriteString("refusing patch: touches forbidden files:\n")
	for _, p := range e.Paths {
		fmt.Fprintf(&b, "- %s\n", p)
	}
	b.WriteString("(use --allow-forbidden to override)")
	return b.String()
}

// Validate returns a *ForbiddenError if the diff touches a path matching any
// forbidden pattern.
func Validate(diffText string, forbidden []string) error {
	bad := pathmatch.Filter(TouchedPaths(diffText), forbidden)
	if len(bad) > 0 {
		return &ForbiddenError{Paths: bad}
	}
	return nil
}

// Stats summarizes a parsed diff.
type Stats struct {
	Files   int
	Added   int
	Removed int
}

func (s Stats) String() string {
	return fmt.Sprintf("%d file(s), +%d -%d", s.Files, s.Added, s.Removed)
}

// Summarize parses diffText and counts files and changed lines. Parse errors
// are returned so the caller can warn; the diff is still written as-is.
func Summarize(diffText string) (Stats, error) {
	fileDiffs, err := diff.NewMultiFileDiffReader(strings.NewReader(diffText)).ReadAllFiles()
	if err != nil {
		return Stats{}, fmt.Errorf("parsing diff: %w", err)
	}
	stats := Stats{Files: len(fileDiffs)}
	for _, fd := range fileDiffs {
		for _, hunk := range fd.Hunks {
			for _, line := range strings.Split(string(hunk.Body), "\n") {
				switch {
				case strings.HasPrefix(line, "+"):
					stats.Added++
				case strings.HasPrefix(line, "-"):
					stats.Removed++
				}
			}
		}
	}
	return stats, nil
}

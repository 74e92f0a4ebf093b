package repoctx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modforge/devkit/internal/git"
	"github.com/modforge/devkit/internal/testutil"
)

// fakeSearcher returns canned output per query.
type fakeSearcher map[string]string

func (f fakeSearcher) Search(_ context.Context, _ string, query string) string {
	return f[query]
}

func newTestSelector(t *testing.T, search Searcher) (*Selector, string) {
	t.Helper()
	dir := testutil.InitRepo(t)
	return &Selector{Repo: &git.Repo{Dir: dir}, Search: search}, dir
}

func TestSelectFiles_GlobsExcludesAndCap(t *testing.T) {
	sel, dir := newTestSelector(t, fakeSearcher{})
	testutil.WriteFile(t, dir, "src/main/java/A.java", "class A {}")
	testutil.WriteFile(t, dir, "src/main/java/B.java", "class B {}")
	testutil.WriteFile(t, dir, "src/main/java/C.java", "class C {}")
	testutil.WriteFile(t, dir, "build/gen/D.java", "class D {}")

	budget := DefaultBudget()
	budget.MaxFiles = 2
	files, notes, err := sel.SelectFiles(context.Background(), Selection{
		Globs:    []string{"**/*.java"},
		Excludes: DefaultExcludes,
	}, budget)
	require.NoError(t, err)
	assert.Equal(t, []string{"src/main/java/A.java", "src/main/java/B.java"}, files)
	assert.Equal(t, []string{"[Omitted 1 files due to --max-files=2]"}, notes)
}

func TestSelectFiles_IncludeChangedAndDefaults(t *testing.T) {
	sel, dir := newTestSelector(t, fakeSearcher{})
	testutil.WriteFile(t, dir, "Changed.java", "x")
	testutil.WriteFile(t, dir, "settings.gradle", "rootProject.name='m'")

	files, notes, err := sel.SelectFiles(context.Background(), Selection{
		IncludeChanged: true,
		Excludes:       DefaultExcludes,
		Defaults:       DefaultFiles,
	}, DefaultBudget())
	require.NoError(t, err)
	assert.Empty(t, notes)
	// Changed files first, then defaults that exist and aren't already present.
	assert.Equal(t, []string{"Changed.java", "settings.gradle", "README.md"}, files)
}

func TestSelectFiles_AutoOnlyWithoutOtherSources(t *testing.T) {
	search := fakeSearcher{
		`extends\s+JavaPlugin`: "./src/Main.java:3:public class Main extends JavaPlugin {\n./docs/notes.md:1:extends JavaPlugin",
		`\bonEnable\b`:         "./src/Main.java:9:  void onEnable() {}\n./src/Gone.java:1:onEnable",
	}
	sel, dir := newTestSelector(t, search)
	testutil.WriteFile(t, dir, "src/Main.java", "class Main {}")
	testutil.WriteFile(t, dir, "docs/notes.md", "notes")

	files, _, err := sel.SelectFiles(context.Background(), Selection{Auto: true}, DefaultBudget())
	require.NoError(t, err)
	assert.Equal(t, []string{"src/Main.java"}, files, "non-source and missing files are dropped")

	files, _, err = sel.SelectFiles(context.Background(), Selection{Auto: true, Globs: []string{"docs/*.md"}}, DefaultBudget())
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/notes.md"}, files, "auto is ignored when globs are given")
}

func TestDiscoverEntrypoints_Cap(t *testing.T) {
	var lines []string
	for i := 0; i < 12; i++ {
		lines = append(lines, fmt.Sprintf("./P%d.java:1:extends JavaPlugin", i))
	}
	sel, dir := newTestSelector(t, fakeSearcher{"p": strings.Join(lines, "\n")})
	for i := 0; i < 12; i++ {
		testutil.WriteFile(t, dir, fmt.Sprintf("P%d.java", i), "x")
	}
	got := sel.DiscoverEntrypoints(context.Background(), []string{"p"}, nil, 8)
	assert.Len(t, got, 8)
	assert.Equal(t, "P0.java", got[0])
}

func TestBuild_SectionsInOrder(t *testing.T) {
	search := fakeSearcher{"Symbol": "./src/A.java:1:Symbol"}
	sel, dir := newTestSelector(t, search)
	testutil.WriteFile(t, dir, "docs/PROJECT_CONTEXT.md", "Project overview")
	testutil.WriteFile(t, dir, "src/A.java", "class A { Symbol s; }")
	testutil.WriteFile(t, dir, "README.md", "# edited\n")

	plan := "1. do the thing"
	blob, notes, err := sel.Build(context.Background(), Request{
		Files:       []string{"src/A.java"},
		Queries:     []string{"Symbol", "Missing"},
		IncludeDiff: true,
		Plan:        &plan,
	}, DefaultBudget())
	require.NoError(t, err)
	assert.Empty(t, notes)

	order := []string{
		"## PROJECT_CONTEXT\nProject overview",
		"## GIT_STATUS\n##",
		"## GIT_DIFF_STAT\n",
		"## GIT_DIFF\ndiff --git",
		"## SEARCH\n### search: Symbol\n./src/A.java:1:Symbol",
		"### search: Missing\n[no matches]",
		"## FILES\n### FILE: src/A.java\nclass A { Symbol s; }",
		"## PLAN\n1. do the thing",
	}
	last := -1
	for _, want := range order {
		idx := strings.Index(blob, want)
		require.GreaterOrEqual(t, idx, 0, "missing %q in:\n%s", want, blob)
		assert.Greater(t, idx, last, "section %q out of order", want)
		last = idx
	}
}

func TestBuild_CleanTreePlaceholders(t *testing.T) {
	sel, _ := newTestSelector(t, fakeSearcher{})
	blob, _, err := sel.Build(context.Background(), Request{IncludeDiff: true}, DefaultBudget())
	require.NoError(t, err)
	assert.Contains(t, blob, "## GIT_DIFF_STAT\n[no diff]")
	assert.Contains(t, blob, "## GIT_DIFF\n[no diff]")
	assert.NotContains(t, blob, "## PROJECT_CONTEXT")
	assert.NotContains(t, blob, "## PLAN")
}

func TestBuild_Truncation(t *testing.T) {
	search := fakeSearcher{"q": strings.Repeat("x", 500)}
	sel, dir := newTestSelector(t, search)
	testutil.WriteFile(t, dir, "big.txt", strings.Repeat("y", 500))

	budget := Budget{MaxFiles: 10, MaxFileChars: 100, MaxTotalChars: 100000, MaxGrepChars: 50}
	blob, notes, err := sel.Build(context.Background(), Request{Files: []string{"big.txt"}, Queries: []string{"q"}}, budget)
	require.NoError(t, err)
	assert.Contains(t, blob, strings.Repeat("x", 50)+MarkerGrepTruncated)
	assert.Contains(t, blob, strings.Repeat("y", 100)+MarkerFileTruncated)
	assert.Equal(t, []string{
		`[Truncated grep output for query="q" to --max-grep-chars=50]`,
		"[Truncated file big.txt to --max-file-chars=100]",
	}, notes)

	budget.MaxTotalChars = 40
	blob, notes, err = sel.Build(context.Background(), Request{}, budget)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(blob, MarkerContextTruncated))
	assert.Len(t, blob, 40+len(MarkerContextTruncated))
	assert.Equal(t, []string{"[Truncated total context to --max-total-chars=40]"}, notes)
}

func TestReadText(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "bad.txt")
	require.NoError(t, os.WriteFile(p, []byte("ok\xffok"), 0644))
	text, truncated := ReadText(p, 100)
	assert.False(t, truncated)
	assert.Equal(t, "ok�ok", text)

	text, _ = ReadText(filepath.Join(dir, "missing.txt"), 100)
	assert.True(t, strings.HasPrefix(text, "[ERROR reading "))
}

func TestBudgetValidate(t *testing.T) {
	assert.NoError(t, DefaultBudget().Validate())
	b := DefaultBudget()
	b.MaxGrepChars = 0
	assert.Error(t, b.Validate())
}

func TestCommandSearcher_GrepFallback(t *testing.T) {
	if _, err := exec.LookPath("grep"); err != nil {
		t.Skip("grep not installed")
	}
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "a.txt", "hello needle\n")
	s := &CommandSearcher{LookPath: func(name string) (string, error) {
		if name == "rg" {
			return "", errors.New("not found")
		}
		return exec.LookPath(name)
	}}
	out := s.Search(context.Background(), dir, "needle")
	assert.Contains(t, out, "a.txt:1:hello needle")
	assert.Equal(t, "", s.Search(context.Background(), dir, "absent-term"))
}

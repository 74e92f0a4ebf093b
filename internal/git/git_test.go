package git

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/modforge/devkit/internal/testutil"
)

func TestOpenAndIsRepo(t *testing.T) {
	dir := testutil.InitRepo(t)
	ctx := context.Background()

	sub := filepath.Join(dir, "src", "main")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	repo, err := Open(ctx, sub)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if repo.Dir != dir {
		t.Errorf("Dir = %q, want %q", repo.Dir, dir)
	}
	if !IsRepo(ctx, sub) {
		t.Error("IsRepo(sub) = false, want true")
	}
}

func TestOpenOutsideRepo(t *testing.T) {
	testutil.RequireGit(t)
	dir := t.TempDir()
	if IsRepo(context.Background(), dir) {
		t.Fatal("IsRepo(tempdir) = true")
	}
	if _, err := Open(context.Background(), dir); err == nil {
		t.Fatal("Open outside repo should fail")
	}
}

func TestChangedFiles(t *testing.T) {
	dir := testutil.InitRepo(t)
	ctx := context.Background()
	repo := &Repo{Dir: dir}

	testutil.WriteFile(t, dir, "README.md", "# changed\n")
	testutil.WriteFile(t, dir, "new.txt", "new\n")
	testutil.WriteFile(t, dir, "old.txt", "old\n")
	testutil.RunGit(t, dir, "add", "old.txt")
	testutil.RunGit(t, dir, "commit", "-q", "-m", "old")
	testutil.RunGit(t, dir, "mv", "old.txt", "renamed.txt")

	files, err := repo.ChangedFiles(ctx)
	if err != nil {
		t.Fatalf("ChangedFiles: %v", err)
	}
	got := strings.Join(files, ",")
	for _, want := range []string{"README.md", "new.txt", "renamed.txt"} {
		if !strings.Contains(got, want) {
			t.Errorf("ChangedFiles = %v, missing %s", files, want)
		}
	}
	if strings.Contains(got, "old.txt") {
		t.Errorf("rename should resolve to new path, got %v", files)
	}
}

func TestStatusAndDiff(t *testing.T) {
	dir := testutil.InitRepo(t)
	ctx := context.Background()
	repo := &Repo{Dir: dir}

	stat, err := repo.DiffStat(ctx)
	if err != nil {
		t.Fatalf("DiffStat: %v", err)
	}
	if stat != "" {
		t.Errorf("clean DiffStat = %q, want empty", stat)
	}

	testutil.WriteFile(t, dir, "README.md", "# changed\n")
	status, err := repo.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !strings.HasPrefix(status, "##") || !strings.Contains(status, "README.md") {
		t.Errorf("Status = %q", status)
	}
	diff, err := repo.Diff(ctx)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if !strings.Contains(diff, "+# changed") {
		t.Errorf("Diff missing change: %q", diff)
	}
	dirty, err := repo.HasTrackedChanges(ctx)
	if err != nil || !dirty {
		t.Errorf("HasTrackedChanges = %v, %v; want true", dirty, err)
	}

	if err := repo.ResetHard(ctx); err != nil {
		t.Fatalf("ResetHard: %v", err)
	}
	if got := testutil.ReadFile(t, dir, "README.md"); got != "# test repo\n" {
		t.Errorf("after reset README = %q", got)
	}
}

func TestApplyCheckFailureIsCommandError(t *testing.T) {
	dir := testutil.InitRepo(t)
	repo := &Repo{Dir: dir}
	bad := filepath.Join(dir, "bad.diff")
	if err := os.WriteFile(bad, []byte("diff --git a/nope b/nope\n--- a/nope\n+++ b/nope\n@@ -1 +1 @@\n-x\n+y\n"), 0644); err != nil {
		t.Fatal(err)
	}
	err := repo.ApplyCheck(context.Background(), bad)
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("err = %v, want *CommandError", err)
	}
	if cmdErr.Args[0] != "apply" {
		t.Errorf("Args = %v", cmdErr.Args)
	}
}

func TestParseStatusPath(t *testing.T) {
	tests := map[string]string{
		"file.go":          "file.go",
		"  spaced.go ":     "spaced.go",
		"old.go -> new.go": "new.go",
		`"with space.go"`:  "with space.go",
		"":                 "",
	}
	for in, want := range tests {
		if got := parseStatusPath(in); got != want {
			t.Errorf("parseStatusPath(%q) = %q, want %q", in, got, want)
		}
	}
}

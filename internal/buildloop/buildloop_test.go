package buildloop

import (
	"context"
	"errors"
	"path/filepath"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modforge/devkit/internal/constants"
	"github.com/modforge/devkit/internal/git"
	"github.com/modforge/devkit/internal/patch"
	"github.com/modforge/devkit/internal/testutil"
)

const (
	brokenDiff = `diff --git a/a.txt b/a.txt
--- a/a.txt
+++ b/a.txt
@@ -1 +1 @@
-old
+broken
`
	fixedDiff = `diff --git a/a.txt b/a.txt
--- a/a.txt
+++ b/a.txt
@@ -1 +1 @@
-old
+fixed
`
	newFileDiff = `diff --git a/new.txt b/new.txt
new file mode 100644
--- /dev/null
+++ b/new.txt
@@ -0,0 +1 @@
+hello
`
	staleDiff = `diff --git a/a.txt b/a.txt
--- a/a.txt
+++ b/a.txt
@@ -1 +1 @@
-something else
+fixed
`
	renameDiff = `diff --git a/notes.txt b/renamed.txt
similarity index 100%
rename from notes.txt
rename to renamed.txt
`
	gradleDiff = `diff --git a/build.gradle b/build.gradle
new file mode 100644
--- /dev/null
+++ b/build.gradle
@@ -0,0 +1 @@
+plugins {}
`
)

func newTestLoop(t *testing.T) (*Loop, string) {
	t.Helper()
	dir := testutil.InitRepo(t)
	testutil.WriteFile(t, dir, "a.txt", "old\n")
	testutil.RunGit(t, dir, "add", "a.txt")
	testutil.RunGit(t, dir, "commit", "-q", "-m", "add a.txt")
	return &Loop{
		Repo:      &git.Repo{Dir: dir},
		PatchPath: filepath.Join(t.TempDir(), "patch.diff"),
		BuildCmd:  "grep -q fixed a.txt",
		Attempts:  3,
	}, dir
}

func TestRun_DisabledForSingleAttempt(t *testing.T) {
	l := &Loop{Attempts: 1}
	assert.False(t, l.Enabled())
	res, err := l.Run(context.Background(), brokenDiff)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Attempts)
	assert.False(t, res.Succeeded)
}

func TestRun_RefinesUntilBuildPasses(t *testing.T) {
	l, dir := newTestLoop(t)
	var events []Event
	l.Observer = func(e Event) { events = append(events, e) }
	var refineLogs []string
	l.Refine = func(_ context.Context, attempt int, buildLog string) (string, error) {
		refineLogs = append(refineLogs, buildLog)
		return fixedDiff, nil
	}

	res, err := l.Run(context.Background(), brokenDiff)
	require.NoError(t, err)
	assert.True(t, res.Succeeded)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, fixedDiff, res.Diff)
	assert.Equal(t, "fixed\n", testutil.ReadFile(t, dir, "a.txt"), "successful patch stays applied")
	assert.Equal(t, fixedDiff, testutil.ReadFile(t, filepath.Dir(l.PatchPath), "patch.diff"))

	require.Len(t, refineLogs, 1)
	assert.Contains(t, refineLogs[0], "grep -q fixed a.txt failed")

	stages := make([]Stage, len(events))
	for i, e := range events {
		stages[i] = e.Stage
	}
	assert.Equal(t, []Stage{StageBuildFailed, StageRefined, StageSucceeded}, stages)
}

func TestRun_FinalAttemptIsValidated(t *testing.T) {
	l, dir := newTestLoop(t)
	l.Attempts = 2
	l.BuildCmd = "false"
	calls := 0
	l.Refine = func(context.Context, int, string) (string, error) {
		calls++
		return newFileDiff, nil
	}

	res, err := l.Run(context.Background(), newFileDiff)
	require.NoError(t, err)
	assert.False(t, res.Succeeded)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 1, calls, "no refinement after the last attempt")
	assert.NotEmpty(t, res.LastLog)
	assert.NoFileExists(t, filepath.Join(dir, "new.txt"), "created files are removed on failure")
	assert.Equal(t, "old\n", testutil.ReadFile(t, dir, "a.txt"))
}

func TestRun_RenameTargetRemovedOnFailure(t *testing.T) {
	l, dir := newTestLoop(t)
	testutil.WriteFile(t, dir, "notes.txt", "notes\n")
	testutil.RunGit(t, dir, "add", "notes.txt")
	testutil.RunGit(t, dir, "commit", "-q", "-m", "add notes")
	l.Attempts = 2
	l.BuildCmd = "false"
	l.Refine = func(context.Context, int, string) (string, error) { return renameDiff, nil }
	var stages []Stage
	l.Observer = func(e Event) { stages = append(stages, e.Stage) }

	res, err := l.Run(context.Background(), renameDiff)
	require.NoError(t, err)
	assert.False(t, res.Succeeded)
	assert.Equal(t, []Stage{StageBuildFailed, StageRefined, StageBuildFailed}, stages,
		"the second attempt must apply cleanly after the first is undone")
	assert.NoFileExists(t, filepath.Join(dir, "renamed.txt"))
	assert.Equal(t, "notes\n", testutil.ReadFile(t, dir, "notes.txt"))
}

func TestRun_CancelledBuildRestoresTree(t *testing.T) {
	l, dir := newTestLoop(t)
	l.BuildCmd = "touch started && exec sleep 30"
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for ctx.Err() == nil {
			if _, err := os.Stat(filepath.Join(dir, "started")); err == nil {
				cancel()
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	_, err := l.Run(ctx, newFileDiff)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, filepath.Join(dir, "new.txt"), "patch is undone when the build is interrupted")
	assert.Equal(t, "old\n", testutil.ReadFile(t, dir, "a.txt"))
}

func TestRun_ExportsBuildEnv(t *testing.T) {
	l, _ := newTestLoop(t)
	l.BuildCmd = `test "$` + constants.EnvBuildAttempt + `" = 2 && test -n "$` + constants.EnvBuildPatch + `"`
	l.Refine = func(context.Context, int, string) (string, error) { return fixedDiff, nil }

	res, err := l.Run(context.Background(), fixedDiff)
	require.NoError(t, err)
	assert.True(t, res.Succeeded)
	assert.Equal(t, 2, res.Attempts)
}

func TestRun_ApplyFailureIsRefined(t *testing.T) {
	l, _ := newTestLoop(t)
	var firstLog string
	l.Refine = func(_ context.Context, _ int, buildLog string) (string, error) {
		firstLog = buildLog
		return fixedDiff, nil
	}
	res, err := l.Run(context.Background(), staleDiff)
	require.NoError(t, err)
	assert.True(t, res.Succeeded)
	assert.True(t, strings.HasPrefix(firstLog, "git apply --check failed"), firstLog)
}

func TestRun_RejectsDirtyTree(t *testing.T) {
	l, dir := newTestLoop(t)
	testutil.WriteFile(t, dir, "a.txt", "local edit\n")

	_, err := l.Run(context.Background(), fixedDiff)
	assert.ErrorIs(t, err, ErrDirtyTree)
	assert.Equal(t, "local edit\n", testutil.ReadFile(t, dir, "a.txt"))
}

func TestRun_RefinedDiffMustRespectForbidden(t *testing.T) {
	l, _ := newTestLoop(t)
	l.Forbidden = patch.DefaultForbidden
	l.Refine = func(context.Context, int, string) (string, error) { return gradleDiff, nil }

	_, err := l.Run(context.Background(), brokenDiff)
	var fe *patch.ForbiddenError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, []string{"build.gradle"}, fe.Paths)
}

func TestRun_RefinerError(t *testing.T) {
	l, _ := newTestLoop(t)
	boom := errors.New("model unavailable")
	l.Refine = func(context.Context, int, string) (string, error) { return "", boom }

	_, err := l.Run(context.Background(), brokenDiff)
	assert.ErrorIs(t, err, boom)
}

func TestCapLog(t *testing.T) {
	assert.Equal(t, "short", capLog("  short \n"))
	long := strings.Repeat("a", constants.MaxBuildLogChars) + "TAIL"
	got := capLog(long)
	assert.True(t, strings.HasPrefix(got, "[...]\n"))
	assert.True(t, strings.HasSuffix(got, "TAIL"))
	assert.Len(t, got, len("[...]\n")+constants.MaxBuildLogChars)
}

// Package buildloop validates a generated patch by applying it and running a
// build command, asking for a refined patch after each failure.
package buildloop

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/modforge/devkit/internal/config"
	"github.com/modforge/devkit/internal/constants"
	"github.com/modforge/devkit/internal/git"
	"github.com/modforge/devkit/internal/logging"
	"github.com/modforge/devkit/internal/patch"
	"github.com/modforge/devkit/internal/util"
)

// ErrDirtyTree is returned when tracked files have uncommitted changes. The
// loop resets the working tree between attempts and would discard them.
var ErrDirtyTree = errors.New("working tree has uncommitted changes to tracked files; commit or stash them, or pass --allow-dirty")

// Refiner returns a new diff given the failing attempt number and its build
// log. The diff must already be extracted from model output.
type Refiner func(ctx context.Context, attempt int, buildLog string) (string, error)

// Stage identifies what happened in an attempt.
type Stage string

const (
	StageApplyFailed Stage = "apply-failed"
	StageBuildFailed Stage = "build-failed"
	StageSucceeded   Stage = "succeeded"
	StageRefined     Stage = "refined"
)

// Event is reported to Loop.Observer as the loop progresses.
type Event struct {
	Attempt int
	Stage   Stage
	// Log is the captured (capped) output for failures.
	Log string
}

// Result summarizes a loop run.
type Result struct {
	Succeeded bool
	// Attempts is the number of validation attempts made.
	Attempts int
	// Diff is the last diff validated.
	Diff string
	// LastLog is the capped output of the last failed attempt.
	LastLog string
}

// Loop configures patch validation.
type Loop struct {
	Repo *git.Repo
	// PatchPath is where the current diff is written before each apply.
	PatchPath string
	// BuildCmd runs through the shell from the repo root.
	BuildCmd string
	// Attempts is the number of validations. Values below 2 disable the loop.
	Attempts int
	// Refine is called after every failed attempt but the last.
	Refine Refiner
	// Forbidden is checked against refined diffs; nil allows everything.
	Forbidden []string
	// AllowDirty skips the uncommitted-changes guard.
	AllowDirty bool
	// Timeout bounds a single build; zero means no limit.
	Timeout time.Duration

	Observer func(Event)
	Logger   *zap.Logger
}

// Enabled reports whether the loop would validate anything.
func (l *Loop) Enabled() bool {
	return l.Attempts > 1
}

// Run validates diff up to l.Attempts times. Between attempts the working tree
// is reset and files the patch created are removed. A successful patch is left
// applied.
func (l *Loop) Run(ctx context.Context, diff string) (*Result, error) {
	logger := logging.OrNop(l.Logger)
	res := &Result{Diff: diff}
	if !l.Enabled() {
		return res, nil
	}
	if l.Repo == nil || l.PatchPath == "" {
		return nil, errors.New("build loop needs a repo and a patch path")
	}
	if strings.TrimSpace(l.BuildCmd) == "" {
		return nil, errors.New("build loop needs a build command")
	}

	if !l.AllowDirty {
		dirty, err := l.Repo.HasTrackedChanges(ctx)
		if err != nil {
			return nil, fmt.Errorf("checking working tree: %w", err)
		}
		if dirty {
			return nil, ErrDirtyTree
		}
	}

	for attempt := 1; attempt <= l.Attempts; attempt++ {
		res.Attempts = attempt
		res.Diff = diff
		if err := util.EnsureDirAndWriteFile(l.PatchPath, []byte(diff), 0644); err != nil {
			return res, fmt.Errorf("writing patch: %w", err)
		}

		stage, buildLog, err := l.attempt(ctx, attempt, diff)
		if err != nil {
			return res, err
		}
		if stage == StageSucceeded {
			res.Succeeded = true
			res.LastLog = ""
			l.observe(Event{Attempt: attempt, Stage: stage})
			logger.Info("build succeeded", zap.Int("attempt", attempt))
			return res, nil
		}

		res.LastLog = buildLog
		l.observe(Event{Attempt: attempt, Stage: stage, Log: buildLog})
		logger.Info("build attempt failed", zap.Int("attempt", attempt), zap.String("stage", string(stage)))

		if attempt == l.Attempts {
			break
		}
		if l.Refine == nil {
			return res, errors.New("build failed and no refiner is configured")
		}
		refined, err := l.Refine(ctx, attempt, buildLog)
		if err != nil {
			return res, fmt.Errorf("refining patch after attempt %d: %w", attempt, err)
		}
		if l.Forbidden != nil {
			if err := patch.Validate(refined, l.Forbidden); err != nil {
				return res, err
			}
		}
		diff = refined
		l.observe(Event{Attempt: attempt, Stage: StageRefined})
	}
	return res, nil
}

// attempt applies diff and runs the build once. Failures of the patch or the
// build are reported through the returned stage; err is reserved for problems
// that should stop the loop.
func (l *Loop) attempt(ctx context.Context, attempt int, diff string) (Stage, string, error) {
	if err := l.Repo.ApplyCheck(ctx, l.PatchPath); err != nil {
		return StageApplyFailed, capLog("git apply --check failed:\n" + commandOutput(err)), nil
	}
	if err := l.Repo.Apply(ctx, l.PatchPath); err != nil {
		return StageApplyFailed, capLog("git apply failed:\n" + commandOutput(err)), nil
	}

	out, buildErr := l.build(ctx, attempt)
	if buildErr == nil {
		return StageSucceeded, "", nil
	}
	if ctx.Err() != nil {
		if err := l.restore(context.WithoutCancel(ctx), diff); err != nil {
			return "", "", errors.Join(ctx.Err(), err)
		}
		return "", "", ctx.Err()
	}
	if err := l.restore(ctx, diff); err != nil {
		return "", "", err
	}
	return StageBuildFailed, capLog(fmt.Sprintf("%s failed (%v):\n%s", l.BuildCmd, buildErr, out)), nil
}

func (l *Loop) build(ctx context.Context, attempt int) (string, error) {
	if l.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.Timeout)
		defer cancel()
	}
	name, args := shellArgs(l.BuildCmd)
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = l.Repo.Dir
	cmd.Env = config.EnvForExecCommand(config.BuildEnv(config.BuildEnvConfig{
		RepoRoot:  l.Repo.Dir,
		PatchPath: l.PatchPath,
		Attempt:   attempt,
	}))
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	// Children that outlive a killed shell must not hold the output pipe open.
	cmd.WaitDelay = 2 * time.Second
	err := cmd.Run()
	return buf.String(), err
}

// restore discards the applied diff: tracked files are reset and files the
// diff created are removed.
func (l *Loop) restore(ctx context.Context, diff string) error {
	if err := l.Repo.ResetHard(ctx); err != nil {
		return fmt.Errorf("resetting working tree: %w", err)
	}
	for _, rel := range patch.CreatedPaths(diff) {
		p := filepath.Join(l.Repo.Dir, filepath.FromSlash(rel))
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing %s: %w", rel, err)
		}
	}
	return nil
}

func (l *Loop) observe(e Event) {
	if l.Observer != nil {
		l.Observer(e)
	}
}

func shellArgs(command string) (string, []string) {
	if runtime.GOOS == "windows" {
		return "cmd", []string{"/C", command}
	}
	return "sh", []string{"-c", command}
}

// capLog keeps the tail of a build log, where compilers report the failure.
func capLog(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= constants.MaxBuildLogChars {
		return s
	}
	return "[...]\n" + util.TailChars(s, constants.MaxBuildLogChars)
}

func commandOutput(err error) string {
	var ce *git.CommandError
	if errors.As(err, &ce) && strings.TrimSpace(ce.Stderr) != "" {
		return ce.Stderr
	}
	return err.Error()
}

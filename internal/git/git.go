// Package git wraps the git operations devkit needs by shelling out to the
// git binary in a target working tree.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/modforge/devkit/internal/util"
)

// CommandError is returned when a git invocation exits non-zero.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("git %s failed: %v", strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += "\nSTDERR:\n" + e.Stderr
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// Repo is a git working tree rooted at Dir.
type Repo struct {
	Dir string
}

// Open resolves the top-level directory of the repo containing dir.
func Open(ctx context.Context, dir string) (*Repo, error) {
	root, err := run(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, fmt.Errorf("not a git repo: %s: %w", dir, err)
	}
	return &Repo{Dir: strings.TrimSpace(root)}, nil
}

// IsRepo reports whether dir is inside a git work tree.
func IsRepo(ctx context.Context, dir string) bool {
	out, err := run(ctx, dir, "rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(out) == "true"
}

// Status returns `git status --porcelain -b`.
func (r *Repo) Status(ctx context.Context) (string, error) {
	out, err := run(ctx, r.Dir, "status", "--porcelain", "-b")
	return strings.TrimSpace(out), err
}

// DiffStat returns `git diff --stat`.
func (r *Repo) DiffStat(ctx context.Context) (string, error) {
	out, err := run(ctx, r.Dir, "diff", "--stat")
	return strings.TrimSpace(out), err
}

// Diff returns the full unstaged `git diff`.
func (r *Repo) Diff(ctx context.Context) (string, error) {
	out, err := run(ctx, r.Dir, "diff")
	return strings.TrimSpace(out), err
}

// ChangedFiles lists paths reported by `git status --porcelain`, unique and in
// order. Renames resolve to the new path.
func (r *Repo) ChangedFiles(ctx context.Context) ([]string, error) {
	out, err := run(ctx, r.Dir, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if len(line) < 4 {
			continue
		}
		if path := parseStatusPath(line[3:]); path != "" {
			files = append(files, path)
		}
	}
	return util.Unique(files), nil
}

// HasTrackedChanges reports whether tracked files differ from HEAD, ignoring
// untracked files.
func (r *Repo) HasTrackedChanges(ctx context.Context) (bool, error) {
	out, err := run(ctx, r.Dir, "status", "--porcelain", "--untracked-files=no")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// ResetHard discards tracked changes with `git reset --hard`.
func (r *Repo) ResetHard(ctx context.Context) error {
	_, err := run(ctx, r.Dir, "reset", "--hard", "-q")
	return err
}

// ApplyCheck runs `git apply --check` on patchPath.
func (r *Repo) ApplyCheck(ctx context.Context, patchPath string) error {
	_, err := run(ctx, r.Dir, "apply", "--check", patchPath)
	return err
}

// Apply runs `git apply` on patchPath.
func (r *Repo) Apply(ctx context.Context, patchPath string) error {
	_, err := run(ctx, r.Dir, "apply", patchPath)
	return err
}

func parseStatusPath(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if strings.Contains(value, "->") {
		parts := strings.Split(value, "->")
		value = strings.TrimSpace(parts[len(parts)-1])
	}
	return strings.Trim(value, `"`)
}

func run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("git not found on PATH: %w", err)
		}
		return "", &CommandError{Args: args, Stderr: strings.TrimSpace(stderr.String()), Err: err}
	}
	return stdout.String(), nil
}

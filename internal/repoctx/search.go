package repoctx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Searcher runs a text search inside a directory and returns raw
// `path:line:content` output. Failures are reported inline in the returned
// text, never as an error, so one bad query doesn't sink the whole context.
type Searcher interface {
	Search(ctx context.Context, dir, query string) string
}

// CommandSearcher shells out to ripgrep, falling back to grep when rg is not
// on PATH.
type CommandSearcher struct {
	// LookPath is exec.LookPath; swapped in tests.
	LookPath func(string) (string, error)
}

// NewSearcher returns a CommandSearcher using exec.LookPath.
func NewSearcher() *CommandSearcher {
	return &CommandSearcher{LookPath: exec.LookPath}
}

// Search implements Searcher.
func (s *CommandSearcher) Search(ctx context.Context, dir, query string) string {
	name, args := s.command(query)
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 && stderr.Len() == 0 {
		// Both rg and grep exit 1 for "no matches".
		return ""
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Sprintf("[%s failed: %s]", name, msg)
	}
	return strings.TrimSpace(stdout.String())
}

func (s *CommandSearcher) command(query string) (string, []string) {
	lookPath := s.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	if _, err := lookPath("rg"); err == nil {
		return "rg", []string{"-n", "--hidden", "--glob", "!.git/*", "-e", query, "."}
	}
	return "grep", []string{
		"-RIn",
		"--exclude-dir=.git",
		"--exclude-dir=build",
		"--exclude-dir=.gradle",
		"-e", query, ".",
	}
}

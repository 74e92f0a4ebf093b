// Package testutil provides shared test infrastructure: throwaway git repos
// and a scripted chat client.
package testutil

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/modforge/devkit/internal/llm"
)

// RequireGit skips the test when git is not installed.
func RequireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

// InitRepo creates a git repo in a temp dir with one committed README and
// returns its path.
func InitRepo(t *testing.T) string {
	t.Helper()
	RequireGit(t)
	dir := t.TempDir()
	// macOS temp dirs are symlinked; git reports the resolved path.
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}
	RunGit(t, dir, "init", "-q")
	RunGit(t, dir, "config", "user.email", "test@example.com")
	RunGit(t, dir, "config", "user.name", "Test")
	RunGit(t, dir, "config", "commit.gpgsign", "false")
	WriteFile(t, dir, "README.md", "# test repo\n")
	RunGit(t, dir, "add", ".")
	RunGit(t, dir, "commit", "-q", "-m", "init")
	return dir
}

// RunGit runs git in dir and returns trimmed stdout, failing the test on error.
func RunGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

// WriteFile writes content to dir/rel, creating parent directories.
func WriteFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir %s: %v", rel, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

// ReadFile returns the content of dir/rel, failing the test on error.
func ReadFile(t *testing.T, dir, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("read %s: %v", rel, err)
	}
	return string(data)
}

// ScriptedClient is an llm.Client that replays canned replies in order and
// records every request it receives.
type ScriptedClient struct {
	mu       sync.Mutex
	Replies  []string
	Requests []llm.Request
	// Err, when set, is returned from every call.
	Err error
}

// NewScriptedClient returns a client that answers with replies in order.
func NewScriptedClient(replies ...string) *ScriptedClient {
	return &ScriptedClient{Replies: replies}
}

// Complete implements llm.Client.
func (c *ScriptedClient) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Requests = append(c.Requests, req)
	if c.Err != nil {
		return nil, c.Err
	}
	n := len(c.Requests)
	if n > len(c.Replies) {
		return nil, fmt.Errorf("scripted client: no reply for call %d", n)
	}
	return &llm.Response{ID: fmt.Sprintf("resp-%d", n), Text: strings.TrimSpace(c.Replies[n-1])}, nil
}

// Calls returns the number of requests received.
func (c *ScriptedClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Requests)
}

// LastUser returns the content of the final user message of request i.
func (c *ScriptedClient) LastUser(i int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := c.Requests[i].Messages
	for j := len(msgs) - 1; j >= 0; j-- {
		if msgs[j].Role == llm.RoleUser {
			return msgs[j].Content
		}
	}
	return ""
}

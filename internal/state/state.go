// Package state persists assistant state between runs.
//
// Each repo keeps its state under <repo>/.rr_assist/. A global directory,
// shared across repos, holds the same memory/session/thread files:
//
//	memory.md            long-lived notes (devkit note)
//	current_context.md   rolling summary of recent plan/patch runs
//	last_response_id.txt last model response ID of the conversation thread
//	thread.json          capped transcript replayed to continue the thread
//
// Only the repo directory holds last_request.json, last_plan.md,
// history.jsonl and context.txt.
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/modforge/devkit/internal/constants"
	"github.com/modforge/devkit/internal/util"
)

// Store locates the repo and global state directories.
type Store struct {
	// RepoDir is <repo>/.rr_assist; empty when running outside a repo.
	RepoDir string
	// GlobalDir is the shared state directory.
	GlobalDir string
}

// Open returns a Store for repoRoot (which may be empty) and ensures both
// directories exist.
func Open(repoRoot string) (*Store, error) {
	global, err := GlobalDir()
	if err != nil {
		return nil, err
	}
	s := &Store{GlobalDir: global}
	if repoRoot != "" {
		s.RepoDir = filepath.Join(repoRoot, constants.DirState)
	}
	for _, d := range []string{s.RepoDir, s.GlobalDir} {
		if d == "" {
			continue
		}
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, fmt.Errorf("creating state dir %s: %w", d, err)
		}
	}
	return s, nil
}

// GlobalDir resolves the shared state directory: $RR_ASSIST_GLOBAL_DIR, then
// /workspace/.rr_assist_global when /workspace exists, then
// ~/.rr_assist_global.
func GlobalDir() (string, error) {
	if env := strings.TrimSpace(os.Getenv(constants.EnvGlobalDir)); env != "" {
		return filepath.Abs(expandHome(env))
	}
	if info, err := os.Stat(constants.DirWorkspace); err == nil && info.IsDir() {
		return filepath.Join(constants.DirWorkspace, constants.DirGlobalState), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, constants.DirGlobalState), nil
}

// Dir returns the directory for scope ("repo" or "global"), or "" if the
// scope has no directory.
func (s *Store) Dir(scope string) string {
	switch scope {
	case constants.ScopeRepo:
		return s.RepoDir
	case constants.ScopeGlobal:
		return s.GlobalDir
	}
	return ""
}

// Path joins name onto the repo state directory.
func (s *Store) Path(name string) string {
	return filepath.Join(s.RepoDir, name)
}

// Scopes expands a scope selector into concrete scopes: "both" yields repo
// then global, "none" yields nothing.
func Scopes(selector string) []string {
	switch selector {
	case constants.ScopeRepo:
		return []string{constants.ScopeRepo}
	case constants.ScopeGlobal:
		return []string{constants.ScopeGlobal}
	case constants.ScopeBoth:
		return []string{constants.ScopeRepo, constants.ScopeGlobal}
	}
	return nil
}

// SafeRead returns the last max characters of path, or "" when the file is
// missing or unreadable.
func SafeRead(path string, max int) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return util.TailChars(string(data), max)
}

// AppendCapped appends content to path separated by a blank line and keeps
// only the last max characters.
func AppendCapped(path, content string, max int) error {
	existing := strings.TrimSpace(SafeRead(path, max))
	combined := strings.TrimSpace(existing+"\n\n"+strings.TrimSpace(content)) + "\n"
	combined = util.TailChars(combined, max)
	return util.EnsureDirAndWriteFile(path, []byte(combined), 0644)
}

// MemoryBlob concatenates memory and session files for the requested scopes.
func (s *Store) MemoryBlob(memoryScope, sessionScope string) string {
	var parts []string
	add := func(scope, file, label string) {
		dir := s.Dir(scope)
		if dir == "" {
			return
		}
		if text := strings.TrimSpace(SafeRead(filepath.Join(dir, file), constants.MaxStateReadChars)); text != "" {
			parts = append(parts, "## "+label+"\n"+text)
		}
	}
	for _, scope := range Scopes(memoryScope) {
		add(scope, constants.FileMemory, strings.ToUpper(scope)+" MEMORY")
	}
	for _, scope := range Scopes(sessionScope) {
		add(scope, constants.FileSession, strings.ToUpper(scope)+" SESSION")
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}

// AppendSession appends entry to the session file of every scope selected.
func (s *Store) AppendSession(sessionScope, entry string) error {
	var errs []error
	for _, scope := range Scopes(sessionScope) {
		dir := s.Dir(scope)
		if dir == "" {
			continue
		}
		if err := AppendCapped(filepath.Join(dir, constants.FileSession), entry, constants.MaxStateFileChars); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AppendMemory appends a note to the memory file of scope.
func (s *Store) AppendMemory(scope, note string) (string, error) {
	dir := s.Dir(scope)
	if dir == "" {
		return "", fmt.Errorf("no state directory for scope %q", scope)
	}
	target := filepath.Join(dir, constants.FileMemory)
	return target, AppendCapped(target, note, constants.MaxStateFileChars)
}

// ResetOptions selects which files Reset removes.
type ResetOptions struct {
	Memory  bool
	Session bool
	Thread  bool
}

// Reset removes the selected state files for every scope in selector.
// Missing files are not an error.
func (s *Store) Reset(selector string, opts ResetOptions) error {
	var names []string
	if opts.Memory {
		names = append(names, constants.FileMemory)
	}
	if opts.Session {
		names = append(names, constants.FileSession)
	}
	if opts.Thread {
		names = append(names, constants.FileResponseID, constants.FileThread)
	}
	var errs []error
	for _, scope := range Scopes(selector) {
		dir := s.Dir(scope)
		if dir == "" {
			continue
		}
		for _, name := range names {
			if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// WriteContext saves the assembled context blob to context.txt.
func (s *Store) WriteContext(blob string) (string, error) {
	p := s.Path(constants.FileContext)
	return p, util.AtomicWriteFile(p, []byte(blob), 0644)
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

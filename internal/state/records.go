package state

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/modforge/devkit/internal/constants"
	"github.com/modforge/devkit/internal/repoctx"
	"github.com/modforge/devkit/internal/util"
)

// ErrNoPlan is returned by LoadLastRequest and LoadLastPlan before any plan
// has been generated in the repo.
var ErrNoPlan = errors.New("no previous plan found (run: devkit plan \"...\")")

// LastRequest records the parameters of the most recent plan run so that
// patch can rebuild the same context.
type LastRequest struct {
	Timestamp    string         `json:"ts"`
	Mode         string         `json:"mode"`
	Model        string         `json:"model"`
	Effort       string         `json:"effort"`
	Prompt       string         `json:"prompt"`
	RepoRoot     string         `json:"repo_root"`
	Files        []string       `json:"files"`
	Grep         []string       `json:"grep"`
	DiffIncluded bool           `json:"diff_included"`
	Budget       repoctx.Budget `json:"budget"`
	Notes        []string       `json:"notes"`
}

// SaveLastRequest writes req to last_request.json.
func (s *Store) SaveLastRequest(req LastRequest) error {
	return util.AtomicWriteJSON(s.Path(constants.FileLastRequest), req)
}

// LoadLastRequest reads last_request.json, returning ErrNoPlan if absent.
func (s *Store) LoadLastRequest() (LastRequest, error) {
	var req LastRequest
	data, err := os.ReadFile(s.Path(constants.FileLastRequest))
	if errors.Is(err, os.ErrNotExist) {
		return req, ErrNoPlan
	}
	if err != nil {
		return req, err
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("parsing %s: %w", constants.FileLastRequest, err)
	}
	return req, nil
}

// SaveLastPlan writes the trimmed plan text to last_plan.md.
func (s *Store) SaveLastPlan(plan string) error {
	return util.AtomicWriteFile(s.Path(constants.FileLastPlan), []byte(strings.TrimSpace(plan)+"\n"), 0644)
}

// LoadLastPlan reads last_plan.md, returning ErrNoPlan if absent.
func (s *Store) LoadLastPlan() (string, error) {
	data, err := os.ReadFile(s.Path(constants.FileLastPlan))
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoPlan
	}
	return string(data), err
}

// Entry types in history.jsonl.
const (
	HistoryPlan  = "plan"
	HistoryPatch = "patch"
	HistoryBuild = "build"
)

// HistoryEntry is one line of history.jsonl. Fields irrelevant to the entry
// type are omitted.
type HistoryEntry struct {
	RunID  string `json:"run_id"`
	Type   string `json:"type"`
	Time   string `json:"ts"`
	Mode   string `json:"mode,omitempty"`
	Model  string `json:"model,omitempty"`
	Effort string `json:"effort,omitempty"`
	Prompt string `json:"prompt,omitempty"`

	Files        []string        `json:"files,omitempty"`
	Grep         []string        `json:"grep,omitempty"`
	DiffIncluded bool            `json:"diff_included,omitempty"`
	Budget       *repoctx.Budget `json:"budget,omitempty"`
	Notes        []string        `json:"notes,omitempty"`

	Out     string   `json:"out,omitempty"`
	Touched []string `json:"touched,omitempty"`

	Attempt   int  `json:"attempt,omitempty"`
	Succeeded bool `json:"succeeded,omitempty"`
}

// Now returns the current UTC time in the format used for state timestamps.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// AppendHistory stamps e with a run ID and timestamp (when unset) and appends
// it to history.jsonl.
func (s *Store) AppendHistory(e HistoryEntry) (HistoryEntry, error) {
	if e.RunID == "" {
		e.RunID = uuid.NewString()
	}
	if e.Time == "" {
		e.Time = Now()
	}
	line, err := json.Marshal(e)
	if err != nil {
		return e, err
	}
	f, err := os.OpenFile(s.Path(constants.FileHistory), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return e, fmt.Errorf("opening history: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return e, fmt.Errorf("appending history: %w", err)
	}
	return e, nil
}

// ReadHistory returns the last limit entries, oldest first. limit <= 0 returns
// all of them. Malformed lines are skipped.
func (s *Store) ReadHistory(limit int) ([]HistoryEntry, error) {
	f, err := os.Open(s.Path(constants.FileHistory))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []HistoryEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e HistoryEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

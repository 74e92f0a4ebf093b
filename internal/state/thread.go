package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/modforge/devkit/internal/constants"
	"github.com/modforge/devkit/internal/llm"
	"github.com/modforge/devkit/internal/util"
)

// Thread is the conversation carried between plan and patch runs.
type Thread struct {
	// ResponseID is the ID of the last model response.
	ResponseID string `json:"response_id,omitempty"`
	// Messages is the user/assistant transcript, oldest first.
	Messages []llm.Message `json:"messages"`
}

// Empty reports whether the thread has nothing to replay.
func (t Thread) Empty() bool {
	return len(t.Messages) == 0
}

// Append adds one exchange to the thread.
func (t *Thread) Append(user, assistant, responseID string) {
	t.Messages = append(t.Messages,
		llm.Message{Role: llm.RoleUser, Content: user},
		llm.Message{Role: llm.RoleAssistant, Content: assistant},
	)
	if responseID != "" {
		t.ResponseID = responseID
	}
}

// Cap drops the oldest exchanges until the transcript fits in max chars.
// The newest exchange is always kept.
func (t *Thread) Cap(max int) {
	for len(t.Messages) > 2 && transcriptLen(t.Messages) > max {
		t.Messages = t.Messages[2:]
	}
}

func transcriptLen(msgs []llm.Message) int {
	n := 0
	for _, m := range msgs {
		n += len(m.Content)
	}
	return n
}

// LoadThread reads the thread for scope. A "none" scope, or missing files,
// yield an empty thread.
func (s *Store) LoadThread(scope string) (Thread, error) {
	var t Thread
	dir := s.Dir(scope)
	if dir == "" {
		return t, nil
	}
	data, err := os.ReadFile(filepath.Join(dir, constants.FileThread))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return t, fmt.Errorf("reading thread: %w", err)
	default:
		if err := json.Unmarshal(data, &t); err != nil {
			return Thread{}, fmt.Errorf("parsing %s: %w", constants.FileThread, err)
		}
	}
	if id := strings.TrimSpace(SafeRead(filepath.Join(dir, constants.FileResponseID), constants.MaxResponseIDChars)); id != "" {
		t.ResponseID = id
	}
	return t, nil
}

// SaveThread caps t and persists it for scope. It is a no-op for "none".
func (s *Store) SaveThread(scope string, t Thread) error {
	dir := s.Dir(scope)
	if dir == "" {
		return nil
	}
	t.Cap(constants.MaxThreadChars)
	if t.ResponseID != "" {
		if err := util.AtomicWriteFile(filepath.Join(dir, constants.FileResponseID), []byte(t.ResponseID), 0644); err != nil {
			return fmt.Errorf("writing response id: %w", err)
		}
	}
	if err := util.AtomicWriteJSON(filepath.Join(dir, constants.FileThread), t); err != nil {
		return fmt.Errorf("writing thread: %w", err)
	}
	return nil
}

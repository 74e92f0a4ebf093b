// Package config provides configuration loading and environment variable management.
package config

import (
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/modforge/devkit/internal/constants"
)

// BuildEnvConfig specifies the environment exported to the build command run
// by the patch build loop.
type BuildEnvConfig struct {
	// RepoRoot is the repository the patch is applied to.
	// Sets DEVKIT_REPO.
	RepoRoot string

	// PatchPath is the absolute path of the patch under test.
	// Sets DEVKIT_PATCH.
	PatchPath string

	// Attempt is the 1-based validation attempt.
	// Sets DEVKIT_ATTEMPT.
	Attempt int
}

// BuildEnv returns the environment variables for a build attempt. Empty
// fields are omitted.
func BuildEnv(cfg BuildEnvConfig) map[string]string {
	env := make(map[string]string)
	if cfg.RepoRoot != "" {
		env[constants.EnvBuildRepo] = cfg.RepoRoot
	}
	if cfg.PatchPath != "" {
		env[constants.EnvBuildPatch] = cfg.PatchPath
	}
	if cfg.Attempt > 0 {
		env[constants.EnvBuildAttempt] = strconv.Itoa(cfg.Attempt)
	}
	return env
}

// EnvOr returns the trimmed value of key, or def when it is unset or blank.
func EnvOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// ShellQuote returns a shell-safe quoted string.
// Values containing special characters are wrapped in single quotes.
// Single quotes within the value are escaped using the '\'' idiom.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	needsQuoting := false
	for _, c := range s {
		switch c {
		case ' ', '\t', '\n', '"', '\'', '`', '$', '\\', '!', '*', '?',
			'[', ']', '{', '}', '(', ')', '<', '>', '|', '&', ';', '#':
			needsQuoting = true
		}
		if needsQuoting {
			break
		}
	}

	if !needsQuoting {
		return s
	}

	// 'foo'\''bar' means: 'foo' + escaped-single-quote + 'bar'
	return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
}

// ExportPrefix builds an export statement prefix for shell commands, like
// "export DEVKIT_ATTEMPT=1 DEVKIT_REPO=/src/mod && ". Keys are sorted.
func ExportPrefix(env map[string]string) string {
	if len(env) == 0 {
		return ""
	}
	parts := make([]string, 0, len(env))
	for _, k := range sortedKeys(env) {
		parts = append(parts, k+"="+ShellQuote(env[k]))
	}
	return "export " + strings.Join(parts, " ") + " && "
}

// EnvForExecCommand returns os.Environ() with the given env vars appended in
// key order. This is useful for setting cmd.Env on exec.Command.
func EnvForExecCommand(env map[string]string) []string {
	result := os.Environ()
	for _, k := range sortedKeys(env) {
		result = append(result, k+"="+env[k])
	}
	return result
}

func sortedKeys(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

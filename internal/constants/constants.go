// Package constants defines shared constant values used throughout devkit.
// Centralizing these magic strings keeps file names and env vars consistent
// between the commands that write state and the commands that read it.
package constants

import "time"

// Directory names for assistant state.
const (
	// DirState is the per-repo state directory (usually gitignored).
	DirState = ".rr_assist"

	// DirGlobalState is the shared state directory name, placed under
	// /workspace when that volume exists and under $HOME otherwise.
	DirGlobalState = ".rr_assist_global"

	// DirWorkspace is the shared container volume probed for global state.
	DirWorkspace = "/workspace"
)

// File names within a state directory.
const (
	// FileMemory holds long-lived notes appended with `devkit note`.
	FileMemory = "memory.md"

	// FileSession holds the rolling summary of recent plan/patch runs.
	FileSession = "current_context.md"

	// FileResponseID holds the last model response ID for thread continuity.
	FileResponseID = "last_response_id.txt"

	// FileThread holds the capped transcript replayed to continue a thread.
	FileThread = "thread.json"

	// FileLastRequest records the parameters of the last plan run.
	FileLastRequest = "last_request.json"

	// FileLastPlan holds the text of the last generated plan.
	FileLastPlan = "last_plan.md"

	// FileHistory is the append-only JSONL log of plan/patch runs.
	FileHistory = "history.jsonl"

	// FileContext is where --save-context writes the assembled context blob.
	FileContext = "context.txt"

	// FileConfig is the optional per-repo TOML config.
	FileConfig = "config.toml"

	// FileDotEnv is loaded from the repo root before calling the model.
	FileDotEnv = ".env"

	// DefaultPatchOut is the default patch path, relative to the repo root.
	DefaultPatchOut = DirState + "/patch.diff"
)

// Environment variables.
const (
	EnvAPIKey     = "OPENAI_API_KEY"
	EnvBaseURL    = "OPENAI_BASE_URL"
	EnvModel      = "OPENAI_MODEL"
	EnvEffort     = "OPENAI_EFFORT"
	EnvGlobalDir  = "RR_ASSIST_GLOBAL_DIR"
	EnvConfigPath = "RR_ASSIST_CONFIG"
	EnvLogLevel   = "DEVKIT_LOG_LEVEL"

	// Exported to the build command run by the patch build loop.
	EnvBuildRepo    = "DEVKIT_REPO"
	EnvBuildPatch   = "DEVKIT_PATCH"
	EnvBuildAttempt = "DEVKIT_ATTEMPT"
)

// DefaultBuildCmd validates a patch in the build loop.
const DefaultBuildCmd = "./gradlew build"

// Model defaults.
const (
	// DefaultAssistModel is used by plan/patch when neither flag, config nor
	// OPENAI_MODEL names one.
	DefaultAssistModel = "gpt-5.1"

	// DefaultFeedbackModel is used by the feedback loop.
	DefaultFeedbackModel = "gpt-4-turbo"

	// EffortNone disables the reasoning_effort request field.
	EffortNone = "none"

	// APITimeout bounds a single model call.
	APITimeout = 10 * time.Minute
)

// Size caps for state files and prompt fragments.
const (
	// MaxStateReadChars is the tail kept when reading memory/session files.
	MaxStateReadChars = 50_000

	// MaxStateFileChars is the cap applied when appending to memory/session files.
	MaxStateFileChars = 60_000

	// MaxResponseIDChars bounds the read of last_response_id.txt.
	MaxResponseIDChars = 200

	// MaxProjectContextChars caps PROJECT_CONTEXT.md regardless of --max-file-chars.
	MaxProjectContextChars = 30_000

	// MaxBuildLogChars caps the build failure log fed back to the model.
	MaxBuildLogChars = 5_000

	// MaxThreadChars caps the transcript stored in thread.json.
	MaxThreadChars = 40_000

	// MaxEntrypointHits caps auto-discovered entrypoint files.
	MaxEntrypointHits = 8
)

// Assistant modes.
const (
	ModeFeature  = "feature"
	ModeDebug    = "debug"
	ModeRefactor = "refactor"
	ModeDocs     = "docs"
)

// Modes lists the accepted --mode values.
var Modes = []string{ModeFeature, ModeDebug, ModeRefactor, ModeDocs}

// Efforts lists the accepted --effort values.
var Efforts = []string{EffortNone, "low", "medium", "high"}

// Scope names for memory, session and thread state.
const (
	ScopeNone   = "none"
	ScopeRepo   = "repo"
	ScopeGlobal = "global"
	ScopeBoth   = "both"
)

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/modforge/devkit/internal/config"
	"github.com/modforge/devkit/internal/constants"
	"github.com/modforge/devkit/internal/git"
	"github.com/modforge/devkit/internal/llm"
	"github.com/modforge/devkit/internal/logging"
	"github.com/modforge/devkit/internal/repoctx"
	"github.com/modforge/devkit/internal/state"
	"github.com/modforge/devkit/internal/style"
)

// ErrContextTooLarge is returned when the estimated prompt size exceeds
// --max-tokens.
var ErrContextTooLarge = errors.New("context too large")

// ErrNotRepo is returned by plan and patch outside a git repository.
var ErrNotRepo = errors.New("not inside a git repo; cd into a mod repo, or pass --repo <path>")

const (
	planSystem = "You are a senior engineer helping with a Hytale Java/Gradle mod repo.\n" +
		"Output MUST be a step-by-step PLAN only.\n" +
		"Rules:\n" +
		"1) Produce a numbered plan with clear steps.\n" +
		"2) List which files you intend to change and why.\n" +
		"3) Do not output any code patches/diffs yet.\n" +
		"4) Do NOT suggest changing docker/gradle config.\n"

	patchSystem = "You are a senior engineer producing a unified diff patch for a git repo.\n" +
		"Output MUST be a unified diff ONLY (no markdown, no commentary).\n" +
		"Rules:\n" +
		"1) Output only the diff. Start with 'diff --git ...'.\n" +
		"2) Keep changes minimal and focused.\n" +
		"3) Do NOT modify docker/gradle config files.\n"

	planContextLabel  = "REPO CONTEXT"
	patchContextLabel = "REPO CONTEXT (includes plan)"
)

var titleCaser = cases.Title(language.English)

// assistOptions holds the flags shared by plan and patch, plus patch-only
// build loop settings.
type assistOptions struct {
	repo   string
	mode   string
	model  string
	effort string

	files          []string
	includeChanged bool
	auto           bool
	diff           bool
	grep           []string
	includeDefault bool
	budget         repoctx.Budget

	memoryScope  string
	sessionScope string
	threadScope  string
	resetThread  bool
	resetSession bool

	maxTokens         int
	noDefaultExcludes bool
	allowForbidden    bool
	saveContext       bool
	dryRun            bool

	// patch only
	out          string
	attempts     int
	buildCmd     string
	allowDirty   bool
	buildTimeout time.Duration

	// changed records flags set explicitly on the command line.
	changed map[string]bool
}

func (o *assistOptions) isSet(flag string) bool {
	return o.changed[flag]
}

// hasSelection reports whether a flag replacing the file selection was
// given. --include-default only adds to a selection.
func (o *assistOptions) hasSelection() bool {
	return len(o.files) > 0 || o.includeChanged || o.auto
}

func addAssistFlags(cmd *cobra.Command, o *assistOptions) {
	def := repoctx.DefaultBudget()
	f := cmd.Flags()
	f.StringVar(&o.repo, "repo", "", "Path to the target git repo (default: current directory)")
	f.StringVarP(&o.mode, "mode", "m", constants.ModeFeature, "Mode: "+strings.Join(constants.Modes, ", "))
	f.StringVar(&o.model, "model", constants.DefaultAssistModel, "Model name (default from config, then "+constants.EnvModel+")")
	f.StringVar(&o.effort, "effort", constants.EffortNone, "Reasoning effort: "+strings.Join(constants.Efforts, ", ")+" (default from config, then "+constants.EnvEffort+")")

	f.StringSliceVar(&o.files, "files", nil, "Glob(s) of files to include, relative to the repo root")
	f.BoolVar(&o.includeChanged, "include-changed", false, "Include files changed per git status")
	f.BoolVar(&o.auto, "auto", false, "Auto-include likely entrypoint files if no --files/--include-changed are given")
	f.BoolVar(&o.diff, "diff", false, "Include the full git diff (can be big)")
	f.StringArrayVar(&o.grep, "grep", nil, "Search query (uses rg if available, else grep); repeatable")
	f.BoolVar(&o.includeDefault, "include-default", false, "Also include README.md, settings.gradle and manifest.json when present")

	f.IntVar(&o.budget.MaxFiles, "max-files", def.MaxFiles, "Maximum number of selected files")
	f.IntVar(&o.budget.MaxFileChars, "max-file-chars", def.MaxFileChars, "Maximum characters per file")
	f.IntVar(&o.budget.MaxTotalChars, "max-total-chars", def.MaxTotalChars, "Maximum characters of assembled context")
	f.IntVar(&o.budget.MaxGrepChars, "max-grep-chars", def.MaxGrepChars, "Maximum characters per search result")

	f.StringVar(&o.memoryScope, "memory-scope", constants.ScopeBoth, "Persistent memory to include: none, repo, global, both")
	f.StringVar(&o.sessionScope, "session-scope", constants.ScopeRepo, "Rolling session context to include and update: none, repo, global, both")
	f.StringVar(&o.threadScope, "thread-scope", constants.ScopeRepo, "Conversation thread to continue: none, repo, global")
	f.BoolVar(&o.resetThread, "reset-thread", false, "Start a new conversation thread")
	f.BoolVar(&o.resetSession, "reset-session", false, "Clear rolling session context before running")

	f.IntVar(&o.maxTokens, "max-tokens", 0, "Approximate maximum input tokens for a request (0 = no limit)")
	f.BoolVar(&o.noDefaultExcludes, "no-default-excludes", false, "Do not exclude build output and binary files")
	f.BoolVar(&o.allowForbidden, "allow-forbidden", false, "Allow patches touching docker/gradle config files (not recommended)")
	f.BoolVar(&o.saveContext, "save-context", false, "Save the assembled context to .rr_assist/context.txt")
	f.BoolVar(&o.dryRun, "dry-run", false, "Print the prompt that would be sent and exit without calling the model")
}

// captureChanged snapshots which flags were set explicitly.
func captureChanged(cmd *cobra.Command, o *assistOptions) {
	o.changed = make(map[string]bool)
	cmd.Flags().Visit(func(f *pflag.Flag) { o.changed[f.Name] = true })
}

// assistSession is a prepared plan/patch run.
type assistSession struct {
	opts   *assistOptions
	repo   *git.Repo
	store  *state.Store
	cfg    *config.Config
	sel    *repoctx.Selector
	client llm.Client
	logger *zap.Logger
	out    io.Writer
	errOut io.Writer
}

// prepareSession resolves the repo, loads .env and config, applies config
// defaults to unset flags, validates options and performs requested resets.
func prepareSession(ctx context.Context, o *assistOptions, out, errOut io.Writer) (*assistSession, error) {
	log := logging.OrNop(logger)

	dir := o.repo
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		dir = wd
	} else {
		dir = expandPath(dir)
	}
	if !git.IsRepo(ctx, dir) {
		if o.repo != "" {
			return nil, fmt.Errorf("--repo does not look like a git repo: %s", dir)
		}
		return nil, ErrNotRepo
	}
	repo, err := git.Open(ctx, dir)
	if err != nil {
		return nil, err
	}

	if set, err := state.LoadDotEnv(repo.Dir); err != nil {
		style.PrintWarning("ignoring %s: %v", constants.FileDotEnv, err)
	} else if len(set) > 0 {
		log.Debug("loaded .env", zap.Strings("keys", set))
	}

	cfg, err := config.Load(repo.Dir)
	if err != nil {
		return nil, err
	}
	if cfg.Path != "" {
		log.Debug("loaded config", zap.String("path", cfg.Path))
	}
	applyConfig(o, cfg)
	if err := validateAssistOptions(o); err != nil {
		return nil, err
	}

	store, err := state.Open(repo.Dir)
	if err != nil {
		return nil, err
	}
	if o.resetSession {
		if err := store.Reset(o.sessionScope, state.ResetOptions{Session: true}); err != nil {
			return nil, err
		}
	}
	if o.resetThread && o.threadScope != constants.ScopeNone {
		if err := store.Reset(o.threadScope, state.ResetOptions{Thread: true}); err != nil {
			return nil, err
		}
	}

	sess := &assistSession{
		opts:   o,
		repo:   repo,
		store:  store,
		cfg:    cfg,
		sel:    repoctx.NewSelector(repo, log),
		logger: log,
		out:    out,
		errOut: errOut,
	}
	if !o.dryRun {
		client, err := newClient(llm.Options{BaseURL: cfg.BaseURL, Logger: log})
		if err != nil {
			return nil, err
		}
		sess.client = client
	}
	return sess, nil
}

// applyConfig fills options the user did not set explicitly from cfg.
func applyConfig(o *assistOptions, cfg *config.Config) {
	if !o.isSet("model") {
		o.model = cfg.Model
	}
	if !o.isSet("effort") {
		o.effort = cfg.Effort
	}
	if !o.isSet("build-cmd") {
		o.buildCmd = cfg.BuildCmd
	}
	if !o.isSet("max-files") {
		o.budget.MaxFiles = cfg.Budget.MaxFiles
	}
	if !o.isSet("max-file-chars") {
		o.budget.MaxFileChars = cfg.Budget.MaxFileChars
	}
	if !o.isSet("max-total-chars") {
		o.budget.MaxTotalChars = cfg.Budget.MaxTotalChars
	}
	if !o.isSet("max-grep-chars") {
		o.budget.MaxGrepChars = cfg.Budget.MaxGrepChars
	}
}

func validateAssistOptions(o *assistOptions) error {
	if err := oneOf("mode", o.mode, constants.Modes); err != nil {
		return err
	}
	if err := oneOf("effort", o.effort, constants.Efforts); err != nil {
		return err
	}
	scopes := []string{constants.ScopeNone, constants.ScopeRepo, constants.ScopeGlobal, constants.ScopeBoth}
	if err := oneOf("memory-scope", o.memoryScope, scopes); err != nil {
		return err
	}
	if err := oneOf("session-scope", o.sessionScope, scopes); err != nil {
		return err
	}
	if err := oneOf("thread-scope", o.threadScope, scopes[:3]); err != nil {
		return err
	}
	if o.maxTokens < 0 {
		return fmt.Errorf("--max-tokens must not be negative, got %d", o.maxTokens)
	}
	return o.budget.Validate()
}

func oneOf(flag, value string, allowed []string) error {
	if slices.Contains(allowed, value) {
		return nil
	}
	return fmt.Errorf("invalid --%s %q (want one of %s)", flag, value, strings.Join(allowed, ", "))
}

// selectFiles applies the file selection flags with config defaults.
func (s *assistSession) selectFiles(ctx context.Context) ([]string, []string, error) {
	sel := repoctx.Selection{
		Globs:              s.opts.files,
		IncludeChanged:     s.opts.includeChanged,
		Auto:               s.opts.auto,
		EntrypointPatterns: s.cfg.EntrypointPatterns,
		SourceExtensions:   s.cfg.SourceExtensions,
	}
	if !s.opts.noDefaultExcludes {
		sel.Excludes = s.cfg.Excludes
	}
	if s.opts.includeDefault {
		sel.Defaults = s.cfg.DefaultFiles
	}
	return s.sel.SelectFiles(ctx, sel, s.opts.budget)
}

// buildContext assembles the repo context and optionally saves it.
func (s *assistSession) buildContext(ctx context.Context, req repoctx.Request) (string, []string, error) {
	blob, notes, err := s.sel.Build(ctx, req, s.opts.budget)
	if err != nil {
		return "", nil, err
	}
	if s.opts.saveContext {
		p, err := s.store.WriteContext(blob)
		if err != nil {
			return "", nil, fmt.Errorf("saving context: %w", err)
		}
		style.Fstatus(s.errOut, "Saved context to %s", p)
	}
	return blob, notes, nil
}

// userPrompt renders the user message shared by plan, patch and refinement.
func userPrompt(mode, request string, notes []string, memory, contextLabel, contextBlob string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "MODE: %s\n\n", mode)
	fmt.Fprintf(&b, "REQUEST:\n%s\n\n", request)
	if len(notes) == 0 {
		b.WriteString("CONTEXT NOTES:\n- [none]\n\n")
	} else {
		b.WriteString("CONTEXT NOTES:\n- " + strings.Join(notes, "\n- ") + "\n\n")
	}
	if memory != "" {
		fmt.Fprintf(&b, "MEMORY:\n%s\n\n", memory)
	}
	fmt.Fprintf(&b, "%s:\n%s\n", contextLabel, contextBlob)
	return b.String()
}

// threadTurn is what the thread remembers of a user prompt: the request
// without the bulky repo context, which is rebuilt on every run.
func threadTurn(kind, mode, request string) string {
	return fmt.Sprintf("[%s] MODE: %s\n\nREQUEST:\n%s", kind, mode, request)
}

// checkTokens enforces --max-tokens against the estimated prompt size.
func checkTokens(system, user string, maxTokens int, what string) error {
	if maxTokens <= 0 {
		return nil
	}
	approx := llm.EstimateTokens(system + user)
	if approx > maxTokens {
		return fmt.Errorf("%w%s (~%d tokens) exceeding --max-tokens=%d; try reducing included files or grep queries",
			ErrContextTooLarge, what, approx, maxTokens)
	}
	return nil
}

// printDryRun writes the prompt that would be sent.
func (s *assistSession) printDryRun(system, user string) {
	fmt.Fprintf(s.out, "=== SYSTEM ===\n%s\n=== USER ===\n%s", system, user)
	style.Fstatus(s.errOut, "Dry run: ~%d tokens, model %s, no request sent", llm.EstimateTokens(system+user), s.opts.model)
}

// complete sends one request, continuing the conversation thread for the
// configured scope, and records the exchange.
func (s *assistSession) complete(ctx context.Context, system, user, turn string) (*llm.Response, error) {
	thread, err := s.store.LoadThread(s.opts.threadScope)
	if err != nil {
		s.logger.Warn("ignoring unreadable thread", zap.Error(err))
		thread = state.Thread{}
	}

	msgs := make([]llm.Message, 0, len(thread.Messages)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: system})
	msgs = append(msgs, thread.Messages...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: user})

	s.logger.Debug("sending request",
		zap.String("model", s.opts.model),
		zap.String("previous_response_id", thread.ResponseID),
		zap.Int("thread_messages", len(thread.Messages)))

	resp, err := style.Spin(s.errOut, "Waiting for "+s.opts.model, func() (*llm.Response, error) {
		return s.client.Complete(ctx, llm.Request{
			Model:    s.opts.model,
			Effort:   s.opts.effort,
			Messages: msgs,
		})
	})
	if err != nil {
		return nil, err
	}

	thread.Append(turn, resp.Text, resp.ID)
	if err := s.store.SaveThread(s.opts.threadScope, thread); err != nil {
		style.PrintWarning("could not save thread: %v", err)
	}
	return resp, nil
}

// appendSession records a summary entry in the rolling session files.
func (s *assistSession) appendSession(entry string) {
	if err := s.store.AppendSession(s.opts.sessionScope, entry); err != nil {
		style.PrintWarning("could not update session context: %v", err)
	}
}

func (s *assistSession) appendHistory(e state.HistoryEntry) {
	if _, err := s.store.AppendHistory(e); err != nil {
		style.PrintWarning("could not append history: %v", err)
	}
}

func modeTitle(mode string) string {
	return titleCaser.String(mode)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func expandPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/modforge/devkit/internal/buildloop"
	"github.com/modforge/devkit/internal/constants"
	"github.com/modforge/devkit/internal/patch"
	"github.com/modforge/devkit/internal/repoctx"
	"github.com/modforge/devkit/internal/state"
	"github.com/modforge/devkit/internal/style"
	"github.com/modforge/devkit/internal/util"
)

// ErrNoDiff is returned when the model reply holds no unified diff.
var ErrNoDiff = errors.New("model did not return a unified diff starting with 'diff --git'; try again or increase context")

// ErrBuildFailed is returned when every build loop attempt failed.
var ErrBuildFailed = errors.New("build failed")

var patchOpts = &assistOptions{}

var patchCmd = &cobra.Command{
	Use:     "patch",
	GroupID: GroupAssist,
	Short:   "Generate a unified diff from the last plan",
	Long: `Ask the model to turn the last plan into a unified diff.

Mode, request, --diff and --grep are taken from the last plan unless given
again. Without any file selection flags the plan's files are reused. The diff
is checked against forbidden paths (docker and gradle config by default),
written to --out and printed to stdout.

With --attempts N (N > 1) the patch is validated: it is applied, the build
command runs, and on failure the tree is reset and the build log is sent back
for a refined patch, up to N validations in total. Long build logs are
trimmed from the front, keeping the last 5000 characters where compilers
report errors. A passing patch stays
applied. The loop refuses to run on uncommitted changes to tracked files
unless --allow-dirty is given.

Examples:
  devkit patch
  devkit patch -o /tmp/fix.diff --grep SpawnCommand
  devkit patch --attempts 3 --build-cmd "./gradlew test"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		captureChanged(cmd, patchOpts)
		ctx := commandContext(cmd)
		sess, err := prepareSession(ctx, patchOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		return sess.runPatch(ctx)
	},
}

func init() {
	addAssistFlags(patchCmd, patchOpts)
	f := patchCmd.Flags()
	f.StringVarP(&patchOpts.out, "out", "o", constants.DefaultPatchOut, "Patch output path (relative to the repo root)")
	f.IntVar(&patchOpts.attempts, "attempts", 1, "Apply+build validations; values above 1 enable the build loop (failure logs sent back are trimmed to their last 5000 chars)")
	f.StringVar(&patchOpts.buildCmd, "build-cmd", constants.DefaultBuildCmd, "Build command run through the shell from the repo root (default from config)")
	f.BoolVar(&patchOpts.allowDirty, "allow-dirty", false, "Run the build loop even with uncommitted changes (they will be discarded)")
	f.DurationVar(&patchOpts.buildTimeout, "build-timeout", 0, "Maximum duration of one build (0 = no limit)")
	rootCmd.AddCommand(patchCmd)
}

// patchRequest is the request being turned into a diff.
type patchRequest struct {
	mode    string
	request string
	notes   []string
	memory  string
	blob    string
}

func (s *assistSession) runPatch(ctx context.Context) error {
	o := s.opts

	last, err := s.store.LoadLastRequest()
	if err != nil {
		return err
	}
	plan, err := s.store.LoadLastPlan()
	if err != nil {
		return err
	}

	mode := last.Mode
	if o.isSet("mode") || mode == "" {
		mode = o.mode
	}
	grep := o.grep
	if len(grep) == 0 {
		grep = last.Grep
	}
	includeDiff := o.diff || last.DiffIncluded

	var files, selectNotes []string
	if o.hasSelection() {
		files, selectNotes, err = s.selectFiles(ctx)
		if err != nil {
			return err
		}
	} else {
		files = s.existing(last.Files)
		if o.includeDefault {
			files = util.Unique(append(files, s.existing(s.cfg.DefaultFiles)...))
		}
	}

	blob, ctxNotes, err := s.buildContext(ctx, repoctx.Request{
		Files:       files,
		Queries:     grep,
		IncludeDiff: includeDiff,
		Plan:        &plan,
	})
	if err != nil {
		return err
	}
	req := patchRequest{
		mode:    mode,
		request: last.Prompt,
		notes:   append(selectNotes, ctxNotes...),
		memory:  s.store.MemoryBlob(o.memoryScope, o.sessionScope),
		blob:    blob,
	}

	user := userPrompt(req.mode, req.request, req.notes, req.memory, patchContextLabel, req.blob)
	if err := checkTokens(patchSystem, user, o.maxTokens, ""); err != nil {
		return err
	}
	if o.dryRun {
		s.printDryRun(patchSystem, user)
		return nil
	}

	style.Fstatus(s.errOut, "Patching: %s mode, %d file(s), model %s", modeTitle(mode), len(files), o.model)
	resp, err := s.complete(ctx, patchSystem, user, threadTurn("patch", mode, req.request))
	if err != nil {
		return err
	}
	diff, ok := patch.Extract(resp.Text)
	if !ok {
		return ErrNoDiff
	}
	forbidden := s.cfg.Forbidden
	if o.allowForbidden {
		forbidden = nil
	}
	if err := patch.Validate(diff, forbidden); err != nil {
		return err
	}

	outPath := o.out
	if !filepath.IsAbs(outPath) {
		outPath = filepath.Join(s.repo.Dir, filepath.FromSlash(outPath))
	}
	if err := util.EnsureDirAndWriteFile(outPath, []byte(diff), 0644); err != nil {
		return fmt.Errorf("writing patch: %w", err)
	}
	touched := patch.TouchedPaths(diff)

	ts := state.Now()
	budget := o.budget
	s.appendHistory(state.HistoryEntry{
		Type:    state.HistoryPatch,
		Time:    ts,
		Mode:    mode,
		Model:   o.model,
		Effort:  o.effort,
		Out:     outPath,
		Touched: touched,
		Budget:  &budget,
	})
	s.appendSession(fmt.Sprintf("## %s patch\nREQUEST: %s\nTOUCHED: %s\nPATCH_FILE: %s\n",
		ts, strings.TrimSpace(req.request), strings.Join(touched, ", "), outPath))

	fmt.Fprint(s.out, diff)
	s.printSaved(outPath, diff)

	if o.attempts <= 1 {
		return nil
	}
	return s.runBuildLoop(ctx, req, diff, outPath, forbidden)
}

func (s *assistSession) runBuildLoop(ctx context.Context, req patchRequest, diff, outPath string, forbidden []string) error {
	o := s.opts
	loop := &buildloop.Loop{
		Repo:       s.repo,
		PatchPath:  outPath,
		BuildCmd:   o.buildCmd,
		Attempts:   o.attempts,
		Forbidden:  forbidden,
		AllowDirty: o.allowDirty,
		Timeout:    o.buildTimeout,
		Logger:     s.logger,
		Refine: func(ctx context.Context, attempt int, buildLog string) (string, error) {
			return s.refine(ctx, req, attempt, buildLog)
		},
		Observer: func(e buildloop.Event) {
			s.reportBuild(e, outPath)
		},
	}

	style.Fstatus(s.errOut, "Validating patch with %q (up to %d attempts)", o.buildCmd, o.attempts)
	res, err := loop.Run(ctx, diff)
	if err != nil {
		return err
	}
	if res.Succeeded {
		fmt.Fprintf(s.errOut, "%s Build succeeded after applying patch (attempt %d).\n", style.SuccessPrefix, res.Attempts)
		return nil
	}
	fmt.Fprintf(s.errOut, "%s Build still failing after %d attempt(s). Last log:\n%s\n", style.ErrorPrefix, res.Attempts, res.LastLog)
	return fmt.Errorf("%w after %d attempt(s); last patch saved to %s", ErrBuildFailed, res.Attempts, outPath)
}

// refine asks for a new diff after a failed build, continuing the thread.
func (s *assistSession) refine(ctx context.Context, req patchRequest, attempt int, buildLog string) (string, error) {
	notes := append(append([]string{}, req.notes...), fmt.Sprintf("Build attempt %d failed: %s", attempt, buildLog))
	user := userPrompt(req.mode, req.request, notes, req.memory, patchContextLabel, req.blob)
	if err := checkTokens(patchSystem, user, s.opts.maxTokens, " in refinement"); err != nil {
		return "", err
	}
	resp, err := s.complete(ctx, patchSystem, user,
		threadTurn("refine", req.mode, fmt.Sprintf("Build attempt %d failed:\n%s", attempt, buildLog)))
	if err != nil {
		return "", err
	}
	diff, ok := patch.Extract(resp.Text)
	if !ok {
		return "", errors.New("model did not return a unified diff on refinement")
	}
	return diff, nil
}

func (s *assistSession) reportBuild(e buildloop.Event, outPath string) {
	switch e.Stage {
	case buildloop.StageSucceeded:
		s.appendHistory(state.HistoryEntry{Type: state.HistoryBuild, Attempt: e.Attempt, Succeeded: true, Out: outPath})
	case buildloop.StageApplyFailed, buildloop.StageBuildFailed:
		fmt.Fprintf(s.errOut, "%s Attempt %d: %s\n", style.WarningPrefix, e.Attempt, e.Stage)
		s.logger.Debug("build log", zap.Int("attempt", e.Attempt), zap.String("log", e.Log))
		s.appendHistory(state.HistoryEntry{Type: state.HistoryBuild, Attempt: e.Attempt, Out: outPath})
	case buildloop.StageRefined:
		style.Fstatus(s.errOut, "Refined patch attempt %d saved to %s", e.Attempt, outPath)
	}
}

func (s *assistSession) printSaved(outPath, diff string) {
	stats, err := patch.Summarize(diff)
	if err != nil {
		s.logger.Debug("could not summarize diff", zap.Error(err))
		style.Fstatus(s.errOut, "Saved patch to %s", outPath)
		return
	}
	style.Fstatus(s.errOut, "Saved patch to %s (%s)", outPath, stats)
}

// existing filters repo-relative paths down to files that still exist.
func (s *assistSession) existing(files []string) []string {
	var out []string
	for _, rel := range files {
		if _, err := os.Stat(filepath.Join(s.repo.Dir, filepath.FromSlash(rel))); err == nil {
			out = append(out, rel)
		}
	}
	return out
}

package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/modforge/devkit/internal/repoctx"
	"github.com/modforge/devkit/internal/state"
	"github.com/modforge/devkit/internal/style"
)

var planOpts = &assistOptions{}

var planCmd = &cobra.Command{
	Use:     "plan <prompt>",
	GroupID: GroupAssist,
	Short:   "Generate a numbered plan (no code) from repo context",
	Long: `Build repository context under the configured budget and ask the model for
a step-by-step plan. The plan is printed to stdout and saved as the input for
the next 'devkit patch'.

Context includes PROJECT_CONTEXT.md when present, git status and diff stat,
optionally the full diff (--diff), search results (--grep) and selected files.

Examples:
  devkit plan "Add a /spawn command" --auto
  devkit plan -m debug "NPE on join" --include-changed --grep PlayerJoin
  devkit plan "Document the config" --files 'src/**/*.java' --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		captureChanged(cmd, planOpts)
		ctx := commandContext(cmd)
		sess, err := prepareSession(ctx, planOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		return sess.runPlan(ctx, args[0])
	},
}

func init() {
	addAssistFlags(planCmd, planOpts)
	rootCmd.AddCommand(planCmd)
}

func (s *assistSession) runPlan(ctx context.Context, prompt string) error {
	o := s.opts

	files, selectNotes, err := s.selectFiles(ctx)
	if err != nil {
		return err
	}
	blob, ctxNotes, err := s.buildContext(ctx, repoctx.Request{
		Files:       files,
		Queries:     o.grep,
		IncludeDiff: o.diff,
	})
	if err != nil {
		return err
	}
	notes := append(selectNotes, ctxNotes...)

	memory := s.store.MemoryBlob(o.memoryScope, o.sessionScope)
	user := userPrompt(o.mode, prompt, notes, memory, planContextLabel, blob)
	if err := checkTokens(planSystem, user, o.maxTokens, ""); err != nil {
		return err
	}
	if o.dryRun {
		s.printDryRun(planSystem, user)
		return nil
	}

	style.Fstatus(s.errOut, "Planning: %s mode, %d file(s), model %s", modeTitle(o.mode), len(files), o.model)
	resp, err := s.complete(ctx, planSystem, user, threadTurn("plan", o.mode, prompt))
	if err != nil {
		return err
	}
	plan := resp.Text

	ts := state.Now()
	s.appendSession(fmt.Sprintf("## %s plan\nPROMPT: %s\n\nPLAN:\n%s\n", ts, strings.TrimSpace(prompt), strings.TrimSpace(plan)))
	if err := s.store.SaveLastPlan(plan); err != nil {
		return fmt.Errorf("saving plan: %w", err)
	}
	last := state.LastRequest{
		Timestamp:    ts,
		Mode:         o.mode,
		Model:        o.model,
		Effort:       o.effort,
		Prompt:       prompt,
		RepoRoot:     s.repo.Dir,
		Files:        files,
		Grep:         o.grep,
		DiffIncluded: o.diff,
		Budget:       o.budget,
		Notes:        notes,
	}
	if err := s.store.SaveLastRequest(last); err != nil {
		return fmt.Errorf("saving request: %w", err)
	}
	budget := o.budget
	s.appendHistory(state.HistoryEntry{
		Type:         state.HistoryPlan,
		Time:         ts,
		Mode:         o.mode,
		Model:        o.model,
		Effort:       o.effort,
		Prompt:       prompt,
		Files:        files,
		Grep:         o.grep,
		DiffIncluded: o.diff,
		Budget:       &budget,
		Notes:        notes,
	})

	fmt.Fprintln(s.out, plan)
	return nil
}

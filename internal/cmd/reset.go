package cmd

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/modforge/devkit/internal/constants"
	"github.com/modforge/devkit/internal/state"
	"github.com/modforge/devkit/internal/style"
)

var (
	resetScope   string
	resetRepo    string
	resetMemory  bool
	resetSession bool
	resetThread  bool
)

var resetCmd = &cobra.Command{
	Use:     "reset",
	GroupID: GroupState,
	Short:   "Clear session, thread or memory state",
	Long: `Remove assistant state files for the repo, the global directory, or both.

Nothing is removed unless at least one of --session, --thread or --memory is
given. Missing files are ignored.

Examples:
  devkit reset --thread                  # start a fresh conversation in this repo
  devkit reset --scope both --session    # forget recent plan/patch summaries everywhere
  devkit reset --scope global --memory`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		allowed := []string{constants.ScopeRepo, constants.ScopeGlobal, constants.ScopeBoth}
		if !slices.Contains(allowed, resetScope) {
			return fmt.Errorf("invalid --scope %q (want repo, global or both)", resetScope)
		}
		if !resetMemory && !resetSession && !resetThread {
			style.PrintWarning("nothing selected; pass --session, --thread and/or --memory")
			return nil
		}

		root := resolveRepoRoot(commandContext(cmd), resetRepo)
		if root == "" && resetScope == constants.ScopeRepo {
			return fmt.Errorf("repo scope reset requires being inside a git repo or passing --repo <path>")
		}
		store, err := state.Open(root)
		if err != nil {
			return err
		}
		if err := store.Reset(resetScope, state.ResetOptions{
			Memory:  resetMemory,
			Session: resetSession,
			Thread:  resetThread,
		}); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Reset completed\n", style.SuccessPrefix)
		return nil
	},
}

func init() {
	f := resetCmd.Flags()
	f.StringVar(&resetScope, "scope", constants.ScopeRepo, "Scope to reset: repo, global or both")
	f.StringVar(&resetRepo, "repo", "", "Path to the target git repo (default: current directory)")
	f.BoolVar(&resetMemory, "memory", false, "Clear memory.md")
	f.BoolVar(&resetSession, "session", false, "Clear the rolling session context")
	f.BoolVar(&resetThread, "thread", false, "Clear the conversation thread")
	rootCmd.AddCommand(resetCmd)
}

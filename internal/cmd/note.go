package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/modforge/devkit/internal/constants"
	"github.com/modforge/devkit/internal/git"
	"github.com/modforge/devkit/internal/state"
	"github.com/modforge/devkit/internal/style"
)

var (
	noteScope string
	noteRepo  string
)

var noteCmd = &cobra.Command{
	Use:     "note <text>",
	GroupID: GroupState,
	Short:   "Append a note to repo or global memory",
	Long: `Append a timestamped note to memory.md. Memory is included in every plan and
patch prompt (see --memory-scope).

Examples:
  devkit note "Commands are registered in CommandRegistry, not plugin.yml"
  devkit note --scope global "Prefer records over Lombok in new code"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if noteScope != constants.ScopeRepo && noteScope != constants.ScopeGlobal {
			return fmt.Errorf("invalid --scope %q (want repo or global)", noteScope)
		}
		text := strings.TrimSpace(args[0])
		if text == "" {
			return fmt.Errorf("note text is empty")
		}

		root := resolveRepoRoot(commandContext(cmd), noteRepo)
		if noteScope == constants.ScopeRepo && root == "" {
			return fmt.Errorf("repo scope note requires being inside a git repo or passing --repo <path>")
		}
		store, err := state.Open(root)
		if err != nil {
			return err
		}
		target, err := store.AppendMemory(noteScope, fmt.Sprintf("### %s\n%s\n", state.Now(), text))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Appended note to %s memory: %s\n",
			style.SuccessPrefix, strings.ToUpper(noteScope), style.Dim.Render(target))
		return nil
	},
}

func init() {
	noteCmd.Flags().StringVar(&noteScope, "scope", constants.ScopeRepo, "Memory to append to: repo or global")
	noteCmd.Flags().StringVar(&noteRepo, "repo", "", "Path to the target git repo (default: current directory)")
	rootCmd.AddCommand(noteCmd)
}

// resolveRepoRoot returns the top level of the repo at dir (or the working
// directory), or "" when there is none. State commands work without a repo
// for global scope.
func resolveRepoRoot(ctx context.Context, dir string) string {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return ""
		}
		dir = wd
	} else {
		dir = expandPath(dir)
	}
	repo, err := git.Open(ctx, dir)
	if err != nil {
		return ""
	}
	return repo.Dir
}

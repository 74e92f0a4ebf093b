package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/modforge/devkit/internal/state"
	"github.com/modforge/devkit/internal/style"
)

var (
	historyLimit int
	historyJSON  bool
	historyRepo  string
)

var historyCmd = &cobra.Command{
	Use:     "history",
	GroupID: GroupState,
	Short:   "Show recent plan, patch and build runs",
	Long: `List entries from .rr_assist/history.jsonl, oldest first.

Examples:
  devkit history
  devkit history --limit 5
  devkit history --json | jq 'select(.type == "patch") | .touched'`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		root := resolveRepoRoot(commandContext(cmd), historyRepo)
		if root == "" {
			return ErrNotRepo
		}
		store, err := state.Open(root)
		if err != nil {
			return err
		}
		entries, err := store.ReadHistory(historyLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if historyJSON {
			enc := json.NewEncoder(out)
			for _, e := range entries {
				if err := enc.Encode(e); err != nil {
					return err
				}
			}
			return nil
		}
		if len(entries) == 0 {
			fmt.Fprintf(out, "%s No history yet\n", style.Dim.Render("○"))
			return nil
		}
		for _, e := range entries {
			printHistoryEntry(out, e)
		}
		return nil
	},
}

func init() {
	f := historyCmd.Flags()
	f.IntVarP(&historyLimit, "limit", "n", 20, "Number of entries to show (0 = all)")
	f.BoolVar(&historyJSON, "json", false, "Output as JSON lines")
	f.StringVar(&historyRepo, "repo", "", "Path to the target git repo (default: current directory)")
	rootCmd.AddCommand(historyCmd)
}

func printHistoryEntry(w io.Writer, e state.HistoryEntry) {
	id := e.RunID
	if len(id) > 8 {
		id = id[:8]
	}
	fmt.Fprintf(w, "%s  %-5s  %s  %s\n", style.Dim.Render(e.Time), e.Type, style.Dim.Render(id), historySummary(e))
}

func historySummary(e state.HistoryEntry) string {
	switch e.Type {
	case state.HistoryPlan:
		return fmt.Sprintf("[%s] %s", e.Mode, firstLine(e.Prompt, 72))
	case state.HistoryPatch:
		return fmt.Sprintf("%d file(s): %s", len(e.Touched), strings.Join(e.Touched, ", "))
	case state.HistoryBuild:
		if e.Succeeded {
			return fmt.Sprintf("attempt %d %s", e.Attempt, style.Success.Render("passed"))
		}
		return fmt.Sprintf("attempt %d %s", e.Attempt, style.Error.Render("failed"))
	}
	return ""
}

func firstLine(s string, max int) string {
	s, _, _ = strings.Cut(strings.TrimSpace(s), "\n")
	if r := []rune(s); len(r) > max {
		return string(r[:max-1]) + "…"
	}
	return s
}

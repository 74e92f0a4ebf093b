// Package cmd implements the devkit command line.
package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/modforge/devkit/internal/llm"
	"github.com/modforge/devkit/internal/logging"
)

// Command groups shown in help output.
const (
	GroupModel  = "model"
	GroupAssist = "assist"
	GroupState  = "state"
)

var (
	verboseFlag bool

	// logger is built in PersistentPreRunE; commands must tolerate nil.
	logger *zap.Logger

	// newClient builds the chat client. Tests swap it for a scripted client.
	newClient = func(opts llm.Options) (llm.Client, error) {
		c, err := llm.NewOpenAI(opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
)

var rootCmd = &cobra.Command{
	Use:   "devkit",
	Short: "Repo-aware model assistant for mod development",
	Long: `devkit asks a language model for help with a git repository.

It gathers repository context under a character budget (git status, diffs,
search hits and selected files), asks for a plan, then turns that plan into
a unified diff that is checked against forbidden paths before it is saved.
Patches can optionally be validated by applying them and running a build,
feeding failures back to the model for a refined patch.

State (memory notes, rolling session summaries, the conversation thread and
run history) lives in .rr_assist/ inside the repo and in a global directory
shared across repos.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := logging.New(verboseFlag)
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: GroupModel, Title: "Model Commands:"},
		&cobra.Group{ID: GroupAssist, Title: "Assistant Commands:"},
		&cobra.Group{ID: GroupState, Title: "State Commands:"},
	)
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Verbose logging to stderr")
}

// Execute runs the root command. Cancelling ctx aborts model calls and
// builds in flight.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/modforge/devkit/internal/constants"
	"github.com/modforge/devkit/internal/feedback"
	"github.com/modforge/devkit/internal/llm"
	"github.com/modforge/devkit/internal/style"
)

type feedbackOptions struct {
	model       string
	iterations  int
	temperature float32
	maxTokens   int
	apiKey      string
	baseURL     string
	showRounds  bool
}

var feedbackOpts = feedbackOptions{}

var feedbackCmd = &cobra.Command{
	Use:     "feedback <prompt>",
	GroupID: GroupModel,
	Short:   "Answer a prompt, then critique and improve the answer",
	Long: `Run a self-critique loop against the chat API.

The model answers the prompt, then for each further iteration it critiques
its previous answer and writes an improved one. Only the final answer is
printed to stdout.

Examples:
  devkit feedback "Explain Go's select statement"
  devkit feedback --iterations 5 --temperature 0.2 "Summarize RFC 9110"
  devkit feedback --show-rounds "Draft a README intro"   # intermediate rounds on stderr`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient(llm.Options{
			APIKey:  feedbackOpts.apiKey,
			BaseURL: feedbackOpts.baseURL,
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		return runFeedback(cmd, client, feedbackOpts, args[0])
	},
}

func init() {
	f := feedbackCmd.Flags()
	f.StringVar(&feedbackOpts.model, "model", constants.DefaultFeedbackModel, "Model name")
	f.IntVar(&feedbackOpts.iterations, "iterations", feedback.DefaultIterations, "Number of feedback iterations")
	f.Float32Var(&feedbackOpts.temperature, "temperature", feedback.DefaultTemperature, "Sampling temperature")
	f.IntVar(&feedbackOpts.maxTokens, "max-tokens", feedback.DefaultMaxTokens, "Maximum tokens for each completion")
	f.StringVar(&feedbackOpts.apiKey, "api-key", "", "API key (defaults to "+constants.EnvAPIKey+")")
	f.StringVar(&feedbackOpts.baseURL, "base-url", "", "API base URL (defaults to "+constants.EnvBaseURL+")")
	f.BoolVar(&feedbackOpts.showRounds, "show-rounds", false, "Print every intermediate answer and critique to stderr")
	rootCmd.AddCommand(feedbackCmd)
}

func runFeedback(cmd *cobra.Command, client llm.Client, opts feedbackOptions, prompt string) error {
	loop := feedback.New(client)
	loop.Model = opts.model
	loop.Iterations = opts.iterations
	loop.Temperature = opts.temperature
	loop.MaxTokens = opts.maxTokens
	loop.Logger = logger
	if opts.showRounds || verboseFlag {
		errOut := cmd.ErrOrStderr()
		loop.Observer = func(r feedback.Round) { printRound(errOut, r) }
	}

	spinOut := cmd.ErrOrStderr()
	if loop.Observer != nil {
		// Rounds print to the same stream.
		spinOut = nil
	}
	answer, err := style.Spin(spinOut, "Running feedback loop", func() (string, error) {
		return loop.Run(commandContext(cmd), prompt)
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), answer)
	return nil
}

func printRound(w io.Writer, r feedback.Round) {
	fmt.Fprintf(w, "%s %s\n%s\n\n",
		style.Bold.Render(fmt.Sprintf("iteration %d", r.Iteration)),
		style.Dim.Render(string(r.Stage)),
		r.Text)
}

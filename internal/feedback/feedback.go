// Package feedback runs a model in a self-critique loop: answer, critique the
// answer, then answer again with the critique in hand.
package feedback

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/modforge/devkit/internal/constants"
	"github.com/modforge/devkit/internal/llm"
	"github.com/modforge/devkit/internal/logging"
)

// Defaults for Loop fields.
const (
	DefaultIterations  = 3
	DefaultTemperature = float32(0.3)
	DefaultMaxTokens   = 1024
)

const (
	assistantSystem = "You are a helpful assistant."
	reviewerSystem  = "You are an expert reviewer."
)

// Stage identifies which call of an iteration produced a Round.
type Stage string

const (
	StageAnswer   Stage = "answer"
	StageCritique Stage = "critique"
	StageImprove  Stage = "improve"
)

// Round is reported to Loop.Observer after every model call.
type Round struct {
	Iteration int
	Stage     Stage
	Text      string
}

// Loop configures a feedback run.
type Loop struct {
	Client      llm.Client
	Model       string
	Iterations  int
	Temperature float32
	MaxTokens   int

	// Observer, when set, sees every intermediate answer and critique.
	Observer func(Round)
	Logger   *zap.Logger
}

// New returns a Loop with the default model and sampling settings.
func New(client llm.Client) *Loop {
	return &Loop{
		Client:      client,
		Model:       constants.DefaultFeedbackModel,
		Iterations:  DefaultIterations,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}
}

// Run executes the loop and returns the answer from the final iteration.
//
// Iteration 0 answers the prompt directly. Each later iteration asks the model
// to critique the previous answer, then asks for an improved answer given the
// prompt, the previous answer and the critique.
func (l *Loop) Run(ctx context.Context, prompt string) (string, error) {
	if l.Client == nil {
		return "", errors.New("feedback loop has no client")
	}
	if l.Iterations < 1 {
		return "", fmt.Errorf("iterations must be at least 1, got %d", l.Iterations)
	}
	logger := logging.OrNop(l.Logger)

	answer, err := l.chat(ctx, assistantSystem, prompt)
	if err != nil {
		return "", fmt.Errorf("iteration 1 answer: %w", err)
	}
	l.observe(Round{Iteration: 1, Stage: StageAnswer, Text: answer})

	for i := 1; i < l.Iterations; i++ {
		iter := i + 1
		logger.Debug("feedback iteration", zap.Int("iteration", iter))

		critique, err := l.chat(ctx, reviewerSystem, CritiquePrompt(prompt, answer))
		if err != nil {
			return "", fmt.Errorf("iteration %d critique: %w", iter, err)
		}
		l.observe(Round{Iteration: iter, Stage: StageCritique, Text: critique})

		improved, err := l.chat(ctx, assistantSystem, ImprovePrompt(prompt, answer, critique))
		if err != nil {
			return "", fmt.Errorf("iteration %d improve: %w", iter, err)
		}
		answer = improved
		l.observe(Round{Iteration: iter, Stage: StageImprove, Text: answer})
	}
	return answer, nil
}

// CritiquePrompt asks the model to review its own answer to prompt.
func CritiquePrompt(prompt, answer string) string {
	return "You just answered the following question: \n" +
		"\n" + prompt + "\n\n" +
		"Your answer was: \n" +
		"\n" + answer + "\n\n" +
		"Please critique your own answer. Point out inaccuracies, omissions, or areas that could be improved."
}

// ImprovePrompt asks for a revised answer given the critique.
func ImprovePrompt(prompt, answer, critique string) string {
	return "Using the original question and the critique below, provide an improved answer.\n" +
		"\nOriginal question:\n" + prompt + "\n" +
		"\nPrevious answer:\n" + answer + "\n" +
		"\nCritique:\n" + critique + "\n"
}

func (l *Loop) chat(ctx context.Context, system, user string) (string, error) {
	temp := l.Temperature
	resp, err := l.Client.Complete(ctx, llm.Request{
		Model: l.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: user},
		},
		Temperature: &temp,
		MaxTokens:   l.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (l *Loop) observe(r Round) {
	if l.Observer != nil {
		l.Observer(r)
	}
}

// Package llm wraps the chat-completion API used by the feedback loop and the
// plan/patch assistant.
package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/modforge/devkit/internal/constants"
	"github.com/modforge/devkit/internal/logging"
)

// ErrNoAPIKey is returned when no API key is configured.
var ErrNoAPIKey = errors.New("OPENAI_API_KEY is not set (export it, add it to the repo .env, or pass --api-key)")

// Chat roles.
const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one completion call.
type Request struct {
	Model string
	// Effort is the reasoning effort; empty or "none" omits it.
	Effort   string
	Messages []Message
	// Temperature is sent only when non-nil.
	Temperature *float32
	// MaxTokens caps the completion; zero leaves it to the server.
	MaxTokens int
}

// Response is the trimmed assistant text plus the server's response ID.
type Response struct {
	ID   string
	Text string
}

// Client completes chat requests.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Options configures NewOpenAI.
type Options struct {
	// APIKey overrides OPENAI_API_KEY.
	APIKey string
	// BaseURL overrides OPENAI_BASE_URL and the library default.
	BaseURL string
	// Timeout bounds each HTTP request. Zero means constants.APITimeout.
	Timeout time.Duration
	Logger  *zap.Logger
}

// OpenAIClient is a Client backed by an OpenAI-compatible endpoint.
type OpenAIClient struct {
	client *openai.Client
	logger *zap.Logger
}

// NewOpenAI builds a client from opts and the environment.
func NewOpenAI(opts Options) (*OpenAIClient, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv(constants.EnvAPIKey))
	}
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}

	cfg := openai.DefaultConfig(apiKey)
	baseURL := strings.TrimSpace(opts.BaseURL)
	if baseURL == "" {
		baseURL = strings.TrimSpace(os.Getenv(constants.EnvBaseURL))
	}
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = constants.APITimeout
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}

	logger := logging.OrNop(opts.Logger)
	logger.Debug("initializing chat client", zap.String("base_url", cfg.BaseURL))
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		logger: logger,
	}, nil
}

// Complete sends one chat completion and returns the first choice.
func (o *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if req.Model == "" {
		return nil, errors.New("model is required")
	}
	if len(req.Messages) == 0 {
		return nil, errors.New("at least one message is required")
	}

	creq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(req.Messages)),
	}
	for _, m := range req.Messages {
		creq.Messages = append(creq.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	if req.Effort != "" && req.Effort != constants.EffortNone {
		creq.ReasoningEffort = req.Effort
	}
	if req.Temperature != nil {
		creq.Temperature = *req.Temperature
		if creq.Temperature == 0 {
			// The request field is omitempty; a tiny non-zero value keeps an
			// explicit zero on the wire.
			creq.Temperature = math.SmallestNonzeroFloat32
		}
	}
	if req.MaxTokens > 0 {
		creq.MaxCompletionTokens = req.MaxTokens
	}

	o.logger.Debug("chat completion",
		zap.String("model", req.Model),
		zap.String("effort", req.Effort),
		zap.Int("messages", len(req.Messages)))

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}

	o.logger.Debug("chat completion done",
		zap.String("id", resp.ID),
		zap.String("finish_reason", string(resp.Choices[0].FinishReason)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("elapsed", time.Since(start)))

	return &Response{
		ID:   resp.ID,
		Text: strings.TrimSpace(resp.Choices[0].Message.Content),
	}, nil
}

// EstimateTokens approximates the token count of text at ~4 characters per
// token. Used only to enforce --max-tokens before a request is sent.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n < 1 {
		return 1
	}
	return n
}

// Float32 returns a pointer to v, for Request.Temperature.
func Float32(v float32) *float32 {
	return &v
}

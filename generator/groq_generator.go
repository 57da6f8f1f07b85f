package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://api.groq.com/openai/v1"
	DefaultModel   = "llama-3.3-70b-versatile"
)

var ErrEmptyCompletion = errors.New("model returned an empty completion")

type Config struct {
	APIKey           string
	BaseURL          string
	Model            string
	Temperature      float32
	MaxTokens        int
	TopP             float32
	PresencePenalty  float32
	FrequencyPenalty float32
	// BreakerFailures is the number of consecutive failures that opens the breaker.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// DefaultConfig returns the sampling settings used for reminder copy.
func DefaultConfig() Config {
	return Config{
		BaseURL:          DefaultBaseURL,
		Model:            DefaultModel,
		Temperature:      0.85,
		MaxTokens:        200,
		TopP:             0.9,
		PresencePenalty:  0.4,
		FrequencyPenalty: 0.4,
		BreakerFailures:  5,
		BreakerTimeout:   time.Minute,
	}
}

// GroqGenerator produces email copy through an OpenAI-compatible chat
// completion endpoint. Calls go through a circuit breaker so an outage of the
// model provider makes the composer fall back immediately.
type GroqGenerator struct {
	client *openai.Client
	cfg    Config
	cb     *gobreaker.CircuitBreaker[string]
	logger *zap.Logger
}

func NewGroqGenerator(cfg Config, logger *zap.Logger) (*GroqGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GROQ_API_KEY not set")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 200
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = time.Minute
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	g := &GroqGenerator{
		client: openai.NewClientWithConfig(oc),
		cfg:    cfg,
		logger: logger,
	}
	g.cb = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "groq-chat",
		MaxRequests: 1,
		Interval:    5 * time.Minute,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return g, nil
}

// Generate returns the trimmed completion for the prompt.
func (g *GroqGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	return g.cb.Execute(func() (string, error) {
		resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: g.cfg.Model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			Temperature:      g.cfg.Temperature,
			MaxTokens:        g.cfg.MaxTokens,
			TopP:             g.cfg.TopP,
			PresencePenalty:  g.cfg.PresencePenalty,
			FrequencyPenalty: g.cfg.FrequencyPenalty,
		})
		if err != nil {
			return "", fmt.Errorf("chat completion failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", ErrEmptyCompletion
		}
		text := strings.TrimSpace(resp.Choices[0].Message.Content)
		if text == "" {
			return "", ErrEmptyCompletion
		}
		return text, nil
	})
}

// State reports the breaker state, for health output.
func (g *GroqGenerator) State() string {
	return g.cb.State().String()
}

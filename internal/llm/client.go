// Package llm provides text-completion clients for the Molecule Discovery
// Service.
//
// The pipeline stages and the research service talk to a single Client
// interface; concrete implementations exist for the Anthropic Messages API
// and any OpenAI-compatible Chat Completions endpoint. All production callers
// go through Limiter, which bounds the number of in-flight requests and
// retries throttled calls with exponential backoff.
package llm

import (
	"context"
	"fmt"
	"time"
)

// Request describes a single completion call.
type Request struct {
	// System is the system prompt. Optional.
	System string

	// Prompt is the user-role message content.
	Prompt string

	// MaxTokens caps the response length. Zero means the provider default.
	MaxTokens int

	// Temperature is the sampling temperature.
	Temperature float64

	// JSONResponse asks the provider for a JSON-formatted response where the
	// provider supports it. Callers must still parse defensively; models
	// wrap JSON in prose often enough that the pipeline extracts spans.
	JSONResponse bool
}

// Response is the result of a completion call.
type Response struct {
	// Content is the text of the first response block or choice.
	Content string

	// Model is the model that produced the response.
	Model string

	// InputTokens is the number of input tokens used.
	InputTokens int

	// OutputTokens is the number of output tokens used.
	OutputTokens int
}

// Client defines the interface for LLM completion providers.
//
// Implementations should handle provider-specific API calls, response parsing,
// and error handling while conforming to this unified interface.
type Client interface {
	// Complete sends one prompt/response round trip to the provider.
	// The context should be used for cancellation and deadline propagation.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Provider returns the name of the LLM provider (e.g., "openai", "anthropic").
	Provider() string

	// Model returns the model identifier being used.
	Model() string
}

// FactoryConfig holds the parameters needed to create a Client.
// This is defined in the llm package to avoid importing the config package,
// keeping the llm package free of infrastructure dependencies.
type FactoryConfig struct {
	// Provider is the LLM provider name ("openai" or "anthropic").
	Provider string
	// Temperature is the LLM temperature setting.
	Temperature float64
	// Timeout is the timeout for LLM API calls.
	Timeout time.Duration
	// OpenAI contains OpenAI-specific settings.
	OpenAI OpenAIConfig
	// Anthropic contains Anthropic-specific settings.
	Anthropic AnthropicConfig
}

// NewClient creates a Client based on the configuration. Supports "openai"
// and "anthropic" providers. Returns an error for unsupported or empty
// provider values.
func NewClient(cfg FactoryConfig) (Client, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(cfg.OpenAI, cfg.Temperature, cfg.Timeout), nil
	case "anthropic":
		return NewAnthropicClient(cfg.Anthropic, cfg.Temperature, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}

// Package llm provides a unified multimodal chat interface over the
// OpenAI, Anthropic, and Google model APIs, with built-in support for
// timeouts, retries, rate limiting, circuit breaking, metrics, and
// tracing.
//
// Every engine call that needs a language model goes through this
// package: semantic scoring and vision judging (which ship two images per
// request), rubric evaluation (one image), variant planning, and prompt
// suggestion writing (text only). Providers are abstracted behind the
// CoreLLM interface and cross-cutting concerns are composed through a
// middleware chain, so callers can switch providers or add operational
// features without changing call sites.
//
// Basic usage:
//
//	client, err := llm.NewClient("openai", llm.ClientConfig{
//	    APIKey: os.Getenv("OPENAI_API_KEY"),
//	    Model:  "gpt-4o-mini",
//	})
//	response, err := client.Chat(ctx, llm.Request{
//	    System: "Respond with strict JSON.",
//	    User:   "Compare these two images.",
//	    Images: [][]byte{baseline, candidate},
//	})
//
// Advanced usage with middleware:
//
//	client, err := llm.NewClient("anthropic", llm.ClientConfig{
//	    APIKey: os.Getenv("ANTHROPIC_API_KEY"),
//	    Model:  "claude-3-5-sonnet-20241022",
//	    Middleware: []llm.Middleware{
//	        llm.TimeoutMiddleware(45 * time.Second),
//	        llm.RateLimitMiddleware(10, 20),
//	        llm.CircuitBreakerMiddleware(5, 30*time.Second),
//	    },
//	})
package llm

import (
	"context"
	"fmt"
	"time"
)

// Request is one multimodal chat call: an optional system instruction, the
// user message, and zero or more inline PNG images attached to the user
// turn in order.
type Request struct {
	// System provides instructions or context to the model, guiding its
	// behavior and response format.
	System string

	// User is the user-turn message text.
	User string

	// Images holds raw PNG bytes attached to the user turn, in order.
	Images [][]byte

	// Options holds provider-tunable parameters such as temperature,
	// max_tokens, top_p, or a per-request model override.
	Options map[string]any
}

// CoreLLM defines the minimal interface that chat providers must
// implement. It abstracts the core functionality needed to send a
// multimodal request to a model service, allowing the middleware system to
// wrap any conforming implementation.
type CoreLLM interface {
	// DoRequest sends a chat request to the provider and returns the
	// response text.
	DoRequest(ctx context.Context, req Request) (string, error)

	// GetModel returns the currently configured model name.
	GetModel() string

	// SetModel updates the model to use for subsequent requests.
	// This allows dynamic model switching without recreating the client.
	SetModel(model string)
}

// Middleware wraps a CoreLLM implementation to add cross-cutting
// functionality. This pattern allows composition of features like rate
// limiting, circuit breaking, and tracing without modifying provider
// logic.
type Middleware func(CoreLLM) CoreLLM

// ClientConfig holds all configuration options for creating a chat client.
type ClientConfig struct {
	// APIKey authenticates requests to the provider.
	APIKey string

	// Model specifies which model to use for requests.
	// Each provider supports different model names.
	Model string

	// BaseURL overrides the default API endpoint for the provider.
	// Leave empty to use the provider's default endpoint.
	BaseURL string

	// Timeout sets the maximum duration for individual requests.
	// Zero value means no timeout.
	Timeout time.Duration

	// Middleware allows custom middleware insertion.
	// These are applied in the order specified.
	Middleware []Middleware
}

// Client wraps a provider-specific CoreLLM implementation with the
// configured middleware chain.
type Client struct {
	core CoreLLM
}

// NewClient creates a chat client for the named provider. It assembles
// the middleware chain and validates configuration before returning a
// ready-to-use instance.
func NewClient(providerType string, config ClientConfig) (*Client, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	if config.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	factory, ok := providerFactories[providerType]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", providerType)
	}

	core, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	// Apply middleware in reverse order so the first middleware is the outermost.
	for i := len(config.Middleware) - 1; i >= 0; i-- {
		core = config.Middleware[i](core)
	}

	return &Client{core: core}, nil
}

// Chat sends a request through the middleware chain and returns the
// response text.
func (c *Client) Chat(ctx context.Context, req Request) (string, error) {
	return c.core.DoRequest(ctx, req)
}

// GetModel returns the currently configured model name from the underlying provider.
func (c *Client) GetModel() string { return c.core.GetModel() }

// ProviderFactory creates a CoreLLM implementation from configuration.
// This function signature allows the provider registry to create
// provider instances without knowing their specific implementation details.
type ProviderFactory func(ClientConfig) (CoreLLM, error)

// Provider factory registry for extensibility.
// This allows registration of custom providers at runtime
// while maintaining type safety and initialization validation.
var providerFactories = map[string]ProviderFactory{}

// RegisterProviderFactory allows registration of custom provider factories.
// This enables extension of the client with additional providers
// without modifying the core library code.
func RegisterProviderFactory(providerType string, factory ProviderFactory) {
	providerFactories[providerType] = factory
}

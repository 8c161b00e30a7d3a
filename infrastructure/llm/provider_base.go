package llm

import "sync"

// BaseProvider provides common, thread-safe functionality for all chat
// providers, primarily for managing the model name.
type BaseProvider struct {
	mu    sync.RWMutex
	model string
}

// GetModel returns the name of the model currently configured for the provider.
// It is safe for concurrent use.
func (b *BaseProvider) GetModel() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.model
}

// SetModel updates the model name for the provider.
// It is safe for concurrent use.
func (b *BaseProvider) SetModel(model string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.model = model
}

// RequestOptions represents a standardized set of configuration parameters
// for a chat request. It consolidates common settings across different
// providers.
type RequestOptions struct {
	// MaxTokens specifies the maximum number of tokens to generate.
	MaxTokens int
	// Model is the identifier of the model to use for the request.
	Model string
	// Temperature controls the randomness of the output.
	// A nil value indicates that the provider's default should be used.
	Temperature *float64
	// TopP is an alternative to temperature sampling, known as nucleus sampling.
	// A nil value indicates that the provider's default should be used.
	TopP *float64
	// Extra holds any provider-specific options that are not part of the standardized set.
	Extra map[string]any
}

// ParseRequestOptions extracts and validates request parameters from an
// options map. It populates a RequestOptions struct with standardized
// values, using provided defaults for any missing or invalid entries.
// Any unrecognized options are collected into the Extra field.
func ParseRequestOptions(opts map[string]any, defaultModel string) RequestOptions {
	options := RequestOptions{
		MaxTokens: ExtractOptionalInt(opts, "max_tokens", DefaultMaxTokens, IsPositiveInt),
		Model:     ExtractOptionalString(opts, "model", defaultModel, IsNonEmptyString),
		Extra:     make(map[string]any),
	}

	if temp := ExtractOptionalFloat64(opts, "temperature", -1, IsValidTemperature); temp != -1 {
		options.Temperature = &temp
	}

	if topP := ExtractOptionalFloat64(opts, "top_p", -1, IsValidTopP); topP != -1 {
		options.TopP = &topP
	}

	// Collect any provider-specific options that were not handled above.
	for k, v := range opts {
		switch k {
		case "max_tokens", "model", "temperature", "top_p":
		// These are standard options and have already been processed.
		default:
			options.Extra[k] = v
		}
	}

	return options
}

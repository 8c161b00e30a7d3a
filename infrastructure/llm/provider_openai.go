package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

const (
	// OpenAIDefaultModel is the default OpenAI chat model.
	OpenAIDefaultModel = "gpt-4o-mini"
)

func init() {
	RegisterProviderFactory("openai", newOpenAIProvider)
}

// openAIProvider implements the CoreLLM interface for OpenAI's API.
// This provider handles OpenAI-specific request formatting and response
// parsing, including multi-part image content, while conforming to the
// common interface for middleware compatibility.
type openAIProvider struct {
	BaseProvider
	client          *openai.Client
	errorClassifier *ErrorClassifier
}

// newOpenAIProvider creates a new OpenAI provider instance.
// This factory function initializes the provider with configuration
// and validates required settings like API key presence.
func newOpenAIProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	model := config.Model
	if model == "" {
		model = OpenAIDefaultModel
	}

	clientConfig := openai.DefaultConfig(config.APIKey)

	if config.BaseURL != "" {
		validatedURL, err := ValidateBaseURL(config.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid BaseURL: %w", err)
		}
		clientConfig.BaseURL = validatedURL
	}

	if config.Timeout > 0 {
		validatedTimeout := ValidateTimeout(config.Timeout)
		clientConfig.HTTPClient = &http.Client{
			Timeout: validatedTimeout,
		}
	}

	client := openai.NewClientWithConfig(clientConfig)

	return &openAIProvider{
		BaseProvider:    BaseProvider{model: model},
		client:          client,
		errorClassifier: &ErrorClassifier{Provider: "openai"},
	}, nil
}

// DoRequest sends a chat request to the OpenAI API and returns the
// response text. Attached images are shipped as data-URI image parts on
// the user message.
func (p *openAIProvider) DoRequest(ctx context.Context, req Request) (string, error) {
	options := ParseRequestOptions(req.Options, p.GetModel())

	chatReq := p.buildChatCompletionRequest(req, options)
	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", p.handleError(err)
	}

	if len(resp.Choices) == 0 {
		return "", ErrNoResponseChoice
	}

	return resp.Choices[0].Message.Content, nil
}

// buildChatCompletionRequest creates an openai.ChatCompletionRequest from
// the request and parsed options.
func (p *openAIProvider) buildChatCompletionRequest(req Request, options RequestOptions) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model:    options.Model,
		Messages: p.buildMessages(req),
	}

	p.applyRequestParameters(&out, options)
	return out
}

// buildMessages creates the message slice for an OpenAI chat completion
// request. Text-only requests use a plain content string; requests with
// images use multi-part content so each image rides alongside the text.
func (p *openAIProvider) buildMessages(req Request) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, 2)

	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}

	if len(req.Images) == 0 {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: req.User,
		})
		return messages
	}

	parts := make([]openai.ChatMessagePart, 0, len(req.Images)+1)
	parts = append(parts, openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeText,
		Text: req.User,
	})
	for _, img := range req.Images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    pngDataURI(img),
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}

	messages = append(messages, openai.ChatCompletionMessage{
		Role:         openai.ChatMessageRoleUser,
		MultiContent: parts,
	})

	return messages
}

// applyRequestParameters applies and validates optional parameters to the request.
// This method centralizes parameter validation and application logic.
func (p *openAIProvider) applyRequestParameters(req *openai.ChatCompletionRequest, options RequestOptions) {
	if options.Temperature != nil {
		// OpenAI API supports a temperature range of 0.0 to 2.0.
		temp := ClampFloat64(*options.Temperature, 0.0, 2.0)
		req.Temperature = float32(temp)
	}

	if options.MaxTokens > 0 {
		req.MaxTokens = options.MaxTokens
	}

	if options.TopP != nil {
		topP := ClampFloat64(*options.TopP, 0.0, 1.0)
		req.TopP = float32(topP)
	}

	// Handle provider-specific options.
	if frequencyPenalty, ok := options.Extra["frequency_penalty"]; ok {
		if penalty, valid := SafeFloat32(frequencyPenalty); valid {
			req.FrequencyPenalty = float32(ClampFloat64(float64(penalty), MinPenalty, MaxPenalty))
		}
	}

	if presencePenalty, ok := options.Extra["presence_penalty"]; ok {
		if penalty, valid := SafeFloat32(presencePenalty); valid {
			req.PresencePenalty = float32(ClampFloat64(float64(penalty), MinPenalty, MaxPenalty))
		}
	}
}

// handleError classifies and wraps errors from the OpenAI API.
// It distinguishes between context-related errors, API errors, and other failures,
// wrapping them in standardized error types.
func (p *openAIProvider) handleError(err error) error {
	// Check for context errors first.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return p.errorClassifier.ClassifyContextError(err)
	}

	// Handle OpenAI API errors.
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		message := apiErr.Message
		if message == "" {
			message = "unknown error"
		}

		return p.errorClassifier.ClassifyHTTPError(apiErr.HTTPStatusCode, message, err)
	}

	// Fallback for generic or unknown errors.
	return NewProviderError("openai", ErrorTypeUnknown, 0, "request failed", err)
}

// pngDataURI encodes raw PNG bytes as an inline data URI.
func pngDataURI(data []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
}

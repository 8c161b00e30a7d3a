package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/genai"
)

const (
	// GoogleDefaultModel is the default model for the Google provider.
	GoogleDefaultModel = "gemini-2.0-flash-exp"
)

func init() {
	RegisterProviderFactory("google", newGoogleProvider)
}

// googleProvider implements the CoreLLM interface for Google's Gemini API.
// It handles Google-specific authentication, request formatting, and error
// handling, while conforming to the common interface for middleware
// compatibility.
type googleProvider struct {
	BaseProvider
	client          *genai.Client
	errorClassifier *ErrorClassifier
}

// newGoogleProvider creates a new Google Gemini provider instance.
// This factory function configures the provider with the necessary client and
// authenticates using the provided API key.
func newGoogleProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	model := config.Model
	if model == "" {
		model = GoogleDefaultModel
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}

	return &googleProvider{
		BaseProvider:    BaseProvider{model: model},
		client:          client,
		errorClassifier: &ErrorClassifier{Provider: "google"},
	}, nil
}

// DoRequest sends a chat request to the Google Gemini API and returns the
// response text. Images are attached as inline PNG parts on the user
// content.
func (p *googleProvider) DoRequest(ctx context.Context, req Request) (string, error) {
	options := ParseRequestOptions(req.Options, p.GetModel())

	contents := p.buildContents(req)
	config := p.buildGenerationConfig(req, options)

	resp, err := p.client.Models.GenerateContent(ctx, options.Model, contents, config)
	if err != nil {
		return "", p.handleError(err)
	}

	content := resp.Text()
	if content == "" {
		return "", ErrEmptyResponse
	}

	return content, nil
}

// buildContents creates the content parts for a Gemini request: the user
// text followed by any attached images as inline PNG data.
func (p *googleProvider) buildContents(req Request) []*genai.Content {
	parts := make([]*genai.Part, 0, len(req.Images)+1)
	parts = append(parts, genai.NewPartFromText(req.User))
	for _, img := range req.Images {
		parts = append(parts, genai.NewPartFromBytes(img, "image/png"))
	}

	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}

// buildGenerationConfig creates the generation configuration for a Gemini
// request. It validates and sets parameters such as temperature, max
// tokens, top P, and the system instruction.
func (p *googleProvider) buildGenerationConfig(req Request, options RequestOptions) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	if options.Temperature != nil {
		// Clamp temperature to the supported range of 0.0 to 2.0 for Gemini.
		temp := ClampFloat64(*options.Temperature, 0.0, 2.0)
		config.Temperature = genai.Ptr(float32(temp))
	}

	if options.MaxTokens > 0 {
		// Safely convert max tokens to int32, respecting the maximum value.
		if options.MaxTokens > math.MaxInt32 {
			config.MaxOutputTokens = math.MaxInt32
		} else {
			config.MaxOutputTokens = int32(options.MaxTokens)
		}
	}

	if options.TopP != nil {
		topP := ClampFloat64(*options.TopP, 0.0, 1.0)
		config.TopP = genai.Ptr(float32(topP))
	}

	if topK, ok := options.Extra["top_k"].(int); ok {
		// Clamp top K to the Gemini-specific supported range of 1 to 40.
		topK = ClampInt(topK, 1, 40)
		config.TopK = genai.Ptr(float32(topK))
	}

	return config
}

// handleError provides structured error handling for Google API responses.
// It classifies errors based on their type, such as context errors or API
// errors, and returns a standardized ProviderError.
func (p *googleProvider) handleError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return p.errorClassifier.ClassifyContextError(err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		message := apiErr.Message
		if message == "" && len(apiErr.Errors) > 0 {
			message = apiErr.Errors[0].Message
		}

		// Provide special handling for content policy violations to return a
		// clear error.
		if containsContentPolicyError(apiErr) {
			return NewProviderError("google", ErrorTypeContentPolicy, apiErr.Code,
				"request blocked by safety filters", err)
		}

		return p.errorClassifier.ClassifyHTTPError(apiErr.Code, message, err)
	}

	return NewProviderError("google", ErrorTypeUnknown, 0, "request failed", err)
}

// containsContentPolicyError checks if a Google API error is related to
// content policy violations.
func containsContentPolicyError(apiErr *googleapi.Error) bool {
	if apiErr.Message != "" {
		lower := strings.ToLower(apiErr.Message)
		if strings.Contains(lower, "safety") ||
			strings.Contains(lower, "policy") ||
			strings.Contains(lower, "blocked") {
			return true
		}
	}

	for _, e := range apiErr.Errors {
		if e.Reason == "SAFETY" || e.Reason == "BLOCKED" {
			return true
		}
	}

	return false
}

// Package imagegen implements the image generation provider on OpenAI's
// images API. It supports both from-scratch generation and edit mode
// against an anchor image, preferring inline base64 payloads and falling
// back to downloading the returned URL.
package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/promptsmith/promptsmith/internal/ports"
)

const (
	// DefaultModel is the image model used when a request does not name one.
	DefaultModel = "gpt-image-1"

	// DefaultSize is the generation resolution used when a request does
	// not set one.
	DefaultSize = "1024x1024"

	providerName = "openai"
)

// Config holds the settings for the OpenAI image generator.
type Config struct {
	// APIKey authenticates requests. An empty key is allowed at
	// construction; every call then fails with an authentication error so
	// the pipeline can record per-variant failures instead of refusing to
	// start.
	APIKey string

	// BaseURL overrides the default API endpoint. Leave empty for the
	// OpenAI default.
	BaseURL string

	// Timeout bounds each upstream call, including URL-fallback downloads.
	Timeout time.Duration

	// DefaultModel is used when a request does not name a model.
	DefaultModel string

	// Size is the generation resolution, width x height.
	Size string
}

// Generator implements ports.ImageGenerator against the OpenAI images API.
type Generator struct {
	client     *openai.Client
	httpClient *http.Client
	apiKey     string
	model      string
	size       string
}

// NewGenerator creates an image generator with the given configuration.
func NewGenerator(config Config) *Generator {
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}
	clientConfig.HTTPClient = httpClient

	model := config.DefaultModel
	if model == "" {
		model = DefaultModel
	}

	size := config.Size
	if size == "" {
		size = DefaultSize
	}

	return &Generator{
		client:     openai.NewClientWithConfig(clientConfig),
		httpClient: httpClient,
		apiKey:     config.APIKey,
		model:      model,
		size:       size,
	}
}

// Generate produces raw image bytes for the request. A request with an
// anchor image runs in edit mode; otherwise a fresh image is generated
// from the prompt alone.
func (g *Generator) Generate(ctx context.Context, req ports.ImageRequest) ([]byte, error) {
	if g.apiKey == "" {
		return nil, ports.NewProviderError(providerName, "image_generate",
			fmt.Errorf("%w: OPENAI_API_KEY is missing", ports.ErrAuthenticationFailed))
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = g.model
	}

	size := req.Size
	if size == "" {
		size = g.size
	}

	var (
		resp openai.ImageResponse
		err  error
	)
	if len(req.AnchorImage) == 0 {
		resp, err = g.client.CreateImage(ctx, g.buildGenerateRequest(req.Prompt, model, size, req.Quality))
	} else {
		resp, err = g.client.CreateEditImage(ctx, g.buildEditRequest(req, model, size))
	}
	if err != nil {
		return nil, g.classify("image_generate", err)
	}

	return g.extractImage(ctx, resp)
}

// buildGenerateRequest assembles a from-scratch generation request.
// The quality knob and implicit base64 responses are gpt-image behaviors;
// DALL-E models need an explicit b64_json response format instead.
func (g *Generator) buildGenerateRequest(prompt, model, size, quality string) openai.ImageRequest {
	req := openai.ImageRequest{
		Prompt: prompt,
		Model:  model,
		Size:   size,
		N:      1,
	}

	if isGPTImage(model) {
		req.Quality = quality
	} else {
		req.ResponseFormat = openai.CreateImageResponseFormatB64JSON
	}

	return req
}

// buildEditRequest assembles an edit-mode request that mutates the anchor
// image toward the prompt.
func (g *Generator) buildEditRequest(req ports.ImageRequest, model, size string) openai.ImageEditRequest {
	out := openai.ImageEditRequest{
		Image:  openai.WrapReader(bytes.NewReader(req.AnchorImage), "parent.png", "image/png"),
		Prompt: req.Prompt,
		Model:  model,
		Size:   size,
		N:      1,
	}

	if isGPTImage(model) {
		out.Quality = req.Quality
	}

	return out
}

// extractImage pulls the image bytes out of the API response, preferring
// the inline base64 payload and falling back to downloading the URL.
func (g *Generator) extractImage(ctx context.Context, resp openai.ImageResponse) ([]byte, error) {
	if len(resp.Data) == 0 {
		return nil, ports.NewProviderError(providerName, "image_generate",
			fmt.Errorf("%w: response did not include image data", ports.ErrInvalidResponse))
	}

	item := resp.Data[0]
	if item.B64JSON != "" {
		decoded, err := base64.StdEncoding.DecodeString(item.B64JSON)
		if err != nil {
			return nil, ports.NewProviderError(providerName, "image_generate",
				fmt.Errorf("%w: invalid base64 image payload", ports.ErrInvalidResponse))
		}
		return decoded, nil
	}

	if item.URL != "" {
		return g.download(ctx, item.URL)
	}

	return nil, ports.NewProviderError(providerName, "image_generate",
		fmt.Errorf("%w: response returned neither b64_json nor URL", ports.ErrInvalidResponse))
}

// download fetches a generated image by URL.
func (g *Generator) download(ctx context.Context, url string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, ports.NewProviderError(providerName, "image_download",
			fmt.Errorf("%w: %v", ports.ErrInvalidResponse, err))
	}
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, g.classify("image_download", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, g.classify("image_download",
			&openai.APIError{HTTPStatusCode: resp.StatusCode, Message: "image download failed"})
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, g.classify("image_download", err)
	}
	return data, nil
}

// classify maps transport and API errors onto the ports error kinds so
// callers can distinguish timeouts from client, server, and malformed
// response failures.
func (g *Generator) classify(operation string, err error) error {
	kind := ports.ErrServiceUnavailable

	var apiErr *openai.APIError
	switch {
	case errors.Is(err, context.DeadlineExceeded), isTimeout(err):
		kind = ports.ErrTimeout
	case errors.As(err, &apiErr):
		switch {
		case apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403:
			kind = ports.ErrAuthenticationFailed
		case apiErr.HTTPStatusCode == 429:
			kind = ports.ErrRateLimited
		case apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500:
			kind = ports.ErrInvalidResponse
		}
	}

	return ports.NewProviderError(providerName, operation, fmt.Errorf("%w: %v", kind, err))
}

// isTimeout reports whether a transport error is a client-side timeout.
func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isGPTImage reports whether the model is from the gpt-image family.
func isGPTImage(model string) bool {
	return strings.HasPrefix(strings.ToLower(model), "gpt-image")
}

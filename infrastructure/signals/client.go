package signals

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/promptsmith/promptsmith/infrastructure/llm"
	"github.com/promptsmith/promptsmith/internal/ports"
)

// ChatClient is the slice of the llm client the signal providers need.
// *llm.Client satisfies it.
type ChatClient interface {
	Chat(ctx context.Context, req llm.Request) (string, error)
}

// parseAttempts bounds how many model replies a provider will accept
// before declaring the response malformed. The second attempt reissues
// the identical request.
const parseAttempts = 2

var validate = validator.New()

// chatStrictJSON sends the request and decodes the reply into a fresh T,
// reissuing the request once when the reply does not contain a valid JSON
// object or fails structural validation. Transport errors are never
// retried here (the llm middleware owns that policy); they come back
// wrapped with their ports-level kind so callers can map timeouts and
// rate limits onto the engine error taxonomy.
func chatStrictJSON[T any](ctx context.Context, client ChatClient, req llm.Request) (T, error) {
	var lastErr error
	for attempt := 0; attempt < parseAttempts; attempt++ {
		raw, err := client.Chat(ctx, req)
		if err != nil {
			var zero T
			return zero, fmt.Errorf("%w: %w", llm.PortKind(err), err)
		}

		jsonStr := ExtractJSON(raw)
		if jsonStr == "" {
			lastErr = fmt.Errorf("no JSON object in reply (%d chars)", len(raw))
			continue
		}

		var out T
		if err := json.Unmarshal([]byte(jsonStr), &out); err != nil {
			lastErr = fmt.Errorf("decode reply: %w", err)
			continue
		}

		if err := validate.Struct(&out); err != nil {
			lastErr = fmt.Errorf("invalid reply structure: %w", err)
			continue
		}

		return out, nil
	}

	var zero T
	return zero, fmt.Errorf("%w: %v", ports.ErrInvalidResponse, lastErr)
}

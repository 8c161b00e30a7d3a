package signals

import (
	"context"

	"github.com/promptsmith/promptsmith/infrastructure/llm"
)

// mockChat adapts MockCoreLLM to the ChatClient interface so the signal
// providers can be tested without a real llm.Client.
type mockChat struct {
	core *llm.MockCoreLLM
}

func (m mockChat) Chat(ctx context.Context, req llm.Request) (string, error) {
	return m.core.DoRequest(ctx, req)
}

var (
	baselinePNG  = []byte{0x89, 0x50, 0x4e, 0x47, 0x01}
	candidatePNG = []byte{0x89, 0x50, 0x4e, 0x47, 0x02}
)

package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_ValidatesConfig(t *testing.T) {
	_, err := NewClient("openai", ClientConfig{Model: "gpt-4o-mini"})
	require.Error(t, err, "missing API key must be rejected")
	assert.Contains(t, err.Error(), "API key")

	_, err = NewClient("openai", ClientConfig{APIKey: "sk-test"})
	require.Error(t, err, "missing model must be rejected")
	assert.Contains(t, err.Error(), "model")

	_, err = NewClient("no-such-provider", ClientConfig{APIKey: "sk-test", Model: "m"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}

func TestNewClient_KnownProviders(t *testing.T) {
	for _, provider := range []string{"openai", "anthropic"} {
		t.Run(provider, func(t *testing.T) {
			client, err := NewClient(provider, ClientConfig{
				APIKey: "test-key",
				Model:  "test-model",
			})
			require.NoError(t, err)
			assert.Equal(t, "test-model", client.GetModel())
		})
	}
}

func TestClient_MiddlewareOrder(t *testing.T) {
	var order []string
	record := func(name string) Middleware {
		return func(next CoreLLM) CoreLLM {
			return &recordingLLM{next: next, name: name, order: &order}
		}
	}

	RegisterProviderFactory("test-ordered", func(ClientConfig) (CoreLLM, error) {
		return NewMockCoreLLM(), nil
	})

	client, err := NewClient("test-ordered", ClientConfig{
		APIKey:     "test-key",
		Model:      "test-model",
		Middleware: []Middleware{record("outer"), record("inner")},
	})
	require.NoError(t, err)

	_, err = client.Chat(context.Background(), Request{User: "hello"})
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner"}, order,
		"first middleware in the list must be outermost")
}

func TestClient_ChatForwardsRequest(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.Response = `{"ok": true}`
	RegisterProviderFactory("test-forward", func(ClientConfig) (CoreLLM, error) {
		return mock, nil
	})

	client, err := NewClient("test-forward", ClientConfig{APIKey: "k", Model: "m"})
	require.NoError(t, err)

	resp, err := client.Chat(context.Background(), Request{
		System: "respond with JSON",
		User:   "compare",
		Images: [][]byte{{0x89, 0x50}, {0x89, 0x50}},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok": true}`, resp)
	assert.Equal(t, "respond with JSON", mock.LastRequest.System)
	assert.Len(t, mock.LastRequest.Images, 2)
}

type recordingLLM struct {
	next  CoreLLM
	name  string
	order *[]string
}

func (r *recordingLLM) DoRequest(ctx context.Context, req Request) (string, error) {
	*r.order = append(*r.order, r.name)
	return r.next.DoRequest(ctx, req)
}

func (r *recordingLLM) GetModel() string  { return r.next.GetModel() }
func (r *recordingLLM) SetModel(m string) { r.next.SetModel(m) }

package signals

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptsmith/promptsmith/infrastructure/llm"
	"github.com/promptsmith/promptsmith/internal/ports"
)

func TestSemanticScorer_ParsesScore(t *testing.T) {
	mock := &llm.MockCoreLLM{Response: `{"semantic_similarity": 0.82}`}
	scorer := NewSemanticScorer(mockChat{mock})

	score, err := scorer.Score(t.Context(), baselinePNG, candidatePNG)
	require.NoError(t, err)
	assert.InDelta(t, 0.82, score, 1e-9)

	require.Equal(t, 1, mock.GetCallCount())
	assert.Len(t, mock.LastRequest.Images, 2, "both images must ride on the request")
	assert.Contains(t, mock.LastRequest.System, "strict JSON")
}

func TestSemanticScorer_ClampsOutOfRangeScore(t *testing.T) {
	mock := &llm.MockCoreLLM{Response: `{"semantic_similarity": 1.4}`}
	scorer := NewSemanticScorer(mockChat{mock})

	score, err := scorer.Score(t.Context(), baselinePNG, candidatePNG)
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)
}

func TestSemanticScorer_RetriesOnceOnMalformedReply(t *testing.T) {
	mock := &llm.MockCoreLLM{Responses: []llm.MockReply{
		{Response: "I think they look similar."},
		{Response: `{"semantic_similarity": 0.6}`},
	}}
	scorer := NewSemanticScorer(mockChat{mock})

	score, err := scorer.Score(t.Context(), baselinePNG, candidatePNG)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, score, 1e-9)
	assert.Equal(t, 2, mock.GetCallCount())
}

func TestSemanticScorer_GivesUpAfterSecondMalformedReply(t *testing.T) {
	mock := &llm.MockCoreLLM{Response: "not json"}
	scorer := NewSemanticScorer(mockChat{mock})

	_, err := scorer.Score(t.Context(), baselinePNG, candidatePNG)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrInvalidResponse)
	assert.Equal(t, 2, mock.GetCallCount())
}

func TestSemanticScorer_MissingKeyIsMalformed(t *testing.T) {
	mock := &llm.MockCoreLLM{Response: `{"similarity": 0.5}`}
	scorer := NewSemanticScorer(mockChat{mock})

	_, err := scorer.Score(t.Context(), baselinePNG, candidatePNG)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrInvalidResponse)
}

func TestSemanticScorer_DoesNotRetryTransportErrors(t *testing.T) {
	transportErr := errors.New("upstream unreachable")
	mock := &llm.MockCoreLLM{Error: transportErr}
	scorer := NewSemanticScorer(mockChat{mock})

	_, err := scorer.Score(t.Context(), baselinePNG, candidatePNG)
	require.Error(t, err)
	assert.ErrorIs(t, err, transportErr)
	assert.Equal(t, 1, mock.GetCallCount(), "transport failures must not burn the parse retry")
}

func TestSemanticScorer_MapsProviderErrorsToPortKinds(t *testing.T) {
	cases := []struct {
		name     string
		errType  llm.ErrorType
		wantKind error
	}{
		{"timeout", llm.ErrorTypeTimeout, ports.ErrTimeout},
		{"rate limit", llm.ErrorTypeRateLimit, ports.ErrRateLimited},
		{"authentication", llm.ErrorTypeAuthentication, ports.ErrAuthenticationFailed},
		{"server error", llm.ErrorTypeServerError, ports.ErrServiceUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			providerErr := llm.NewProviderError("openai", tc.errType, 0, "upstream failed", context.DeadlineExceeded)
			mock := &llm.MockCoreLLM{Error: providerErr}
			scorer := NewSemanticScorer(mockChat{mock})

			_, err := scorer.Score(t.Context(), baselinePNG, candidatePNG)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.wantKind)
			assert.ErrorIs(t, err, providerErr, "the provider error must stay inspectable")
			assert.Equal(t, 1, mock.GetCallCount())
		})
	}
}

func TestSemanticScorer_NilClientUnavailable(t *testing.T) {
	scorer := NewSemanticScorer(nil)

	_, err := scorer.Score(t.Context(), baselinePNG, candidatePNG)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrSignalUnavailable)
}

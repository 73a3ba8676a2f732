package generation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperjump/kakunin/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const policyPrompt = `You are an insurance policy assistant.

Policy excerpts:
[1] The deductible is ₹5000 per claim. Claims must be filed within 30 days.

[2] Flood damage is excluded under clause 4.2.

Question: Is flood damage covered?

Answer:`

func TestMock_quotesBestSentence(t *testing.T) {
	c := 0.9
	m := NewMock(&c)
	res, err := m.Generate(context.Background(), policyPrompt, Options{})
	require.NoError(t, err)
	assert.Equal(t, "Flood damage is excluded under clause 4.2.", res.Text)
	require.NotNil(t, res.RawCertainty)
	assert.Equal(t, 0.9, *res.RawCertainty)
	assert.Equal(t, MockModel, res.Model)
}

func TestMock_noOverlap(t *testing.T) {
	m := NewMock(nil)
	prompt := "Policy excerpts:\n[1] Theft is covered.\n\nQuestion: What about earthquakes?\n"
	res, err := m.Generate(context.Background(), prompt, Options{})
	require.NoError(t, err)
	assert.Equal(t, NoAnswer, res.Text)
	assert.Nil(t, res.RawCertainty)
}

func TestOllama_generate(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"llama3","response":"  The deductible is ₹5000.  ","done":true,"certainty":0.82}`))
	}))
	defer srv.Close()

	o := NewOllama(srv.URL, "llama3", time.Second)
	res, err := o.Generate(context.Background(), "prompt text", Options{Temperature: 0.1, MaxTokens: 64})
	require.NoError(t, err)
	assert.Equal(t, "The deductible is ₹5000.", res.Text)
	assert.Equal(t, "llama3", res.Model)
	require.NotNil(t, res.RawCertainty)
	assert.InDelta(t, 0.82, *res.RawCertainty, 1e-9)

	assert.Equal(t, "llama3", got.Model)
	assert.Equal(t, "prompt text", got.Prompt)
	assert.False(t, got.Stream)
	assert.Equal(t, 64, got.Options.NumPredict)
}

func TestParseGenerateResponse(t *testing.T) {
	t.Run("logprobs", func(t *testing.T) {
		res, err := parseGenerateResponse([]byte(`{"response":"ok","logprobs":[{"token":"o","logprob":0},{"token":"k","logprob":0}]}`), "m")
		require.NoError(t, err)
		require.NotNil(t, res.RawCertainty)
		assert.InDelta(t, 1.0, *res.RawCertainty, 1e-9)
	})
	t.Run("no_certainty", func(t *testing.T) {
		res, err := parseGenerateResponse([]byte(`{"response":"ok"}`), "m")
		require.NoError(t, err)
		assert.Nil(t, res.RawCertainty)
		assert.Equal(t, "m", res.Model)
	})
	t.Run("missing_response", func(t *testing.T) {
		_, err := parseGenerateResponse([]byte(`{"done":true}`), "m")
		assert.ErrorIs(t, err, models.ErrGenerationUnavailable)
	})
	t.Run("invalid_json", func(t *testing.T) {
		_, err := parseGenerateResponse([]byte(`not json`), "m")
		assert.ErrorIs(t, err, models.ErrGenerationUnavailable)
	})
}

func TestOllama_serverError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"model not loaded"}`))
	}))
	defer srv.Close()

	_, err := NewOllama(srv.URL, "llama3", time.Second).Generate(context.Background(), "p", Options{})
	require.ErrorIs(t, err, models.ErrGenerationUnavailable)
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestAdapter_retriesOnceAndStampsRef(t *testing.T) {
	var calls int32
	gen := GeneratorFunc(func(ctx context.Context, prompt string, opts Options) (models.GenerationResult, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return models.GenerationResult{}, models.ErrGenerationUnavailable
		}
		return models.GenerationResult{Text: "answer", Model: "m"}, nil
	})
	a := NewAdapter(gen, AdapterConfig{Timeout: time.Second, RetryBackoff: time.Millisecond})
	ref := models.PromptRef{TemplateID: "policy_qa", Version: 3}
	res, err := a.Generate(context.Background(), "p", ref)
	require.NoError(t, err)
	assert.Equal(t, "answer", res.Text)
	assert.Equal(t, ref, res.PromptVersionUsed)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestAdapter_timeoutAfterRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	var observed error
	a := NewAdapter(NewOllama(srv.URL, "llama3", 0),
		AdapterConfig{Timeout: 50 * time.Millisecond, RetryBackoff: time.Millisecond},
		WithObserver(func(_ time.Duration, err error) { observed = err }))
	_, err := a.Generate(context.Background(), "p", models.PromptRef{})
	assert.ErrorIs(t, err, models.ErrGenerationTimeout)
	assert.ErrorIs(t, observed, models.ErrGenerationTimeout)
}

func TestAdapter_classifiesUnknownErrors(t *testing.T) {
	var calls int32
	gen := GeneratorFunc(func(ctx context.Context, prompt string, opts Options) (models.GenerationResult, error) {
		atomic.AddInt32(&calls, 1)
		return models.GenerationResult{}, errors.New("connection reset")
	})
	a := NewAdapter(gen, AdapterConfig{RetryBackoff: time.Millisecond})
	_, err := a.Generate(context.Background(), "p", models.PromptRef{})
	assert.ErrorIs(t, err, models.ErrGenerationUnavailable)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestAdapter_cancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := NewAdapter(NewMock(nil), AdapterConfig{})
	_, err := a.Generate(ctx, policyPrompt, models.PromptRef{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAdapter_Run(t *testing.T) {
	a := NewAdapter(NewMock(nil), AdapterConfig{RateLimit: 100, RateBurst: 2})
	out, err := a.Run(context.Background(), policyPrompt)
	require.NoError(t, err)
	assert.Contains(t, out, "clause 4.2")
}

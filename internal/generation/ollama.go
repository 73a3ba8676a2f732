package generation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hyperjump/kakunin/internal/models"
	"github.com/tidwall/gjson"
)

// DefaultOllamaURL is used when no base URL is configured.
const DefaultOllamaURL = "http://localhost:11434"

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// Ollama calls an Ollama-compatible /api/generate endpoint.
type Ollama struct {
	client *resty.Client
	model  string
}

// NewOllama returns a client for baseURL. timeout bounds a single HTTP call;
// callers normally pass a context deadline as well.
func NewOllama(baseURL, model string, timeout time.Duration) *Ollama {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return &Ollama{client: client, model: model}
}

// Model returns the configured model name.
func (o *Ollama) Model() string { return o.model }

// Generate implements Generator.
func (o *Ollama) Generate(ctx context.Context, prompt string, opts Options) (models.GenerationResult, error) {
	resp, err := o.client.R().
		SetContext(ctx).
		SetBody(generateRequest{
			Model:  o.model,
			Prompt: prompt,
			Stream: false,
			Options: generateOptions{
				Temperature: opts.Temperature,
				NumPredict:  opts.MaxTokens,
			},
		}).
		Post("/api/generate")
	if err != nil {
		var netErr net.Error
		switch {
		case errors.Is(ctx.Err(), context.Canceled):
			return models.GenerationResult{}, ctx.Err()
		case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded),
			errors.As(err, &netErr) && netErr.Timeout():
			return models.GenerationResult{}, fmt.Errorf("%w: %v", models.ErrGenerationTimeout, err)
		}
		return models.GenerationResult{}, fmt.Errorf("%w: ollama request failed: %v", models.ErrGenerationUnavailable, err)
	}
	if resp.StatusCode() == http.StatusRequestTimeout || resp.StatusCode() == http.StatusGatewayTimeout {
		return models.GenerationResult{}, fmt.Errorf("%w: ollama status %d", models.ErrGenerationTimeout, resp.StatusCode())
	}
	if resp.StatusCode() >= 400 {
		msg := gjson.GetBytes(resp.Body(), "error").String()
		if msg == "" {
			msg = resp.String()
		}
		return models.GenerationResult{}, fmt.Errorf("%w: ollama status %d: %s", models.ErrGenerationUnavailable, resp.StatusCode(), msg)
	}
	return parseGenerateResponse(resp.Body(), o.model)
}

// parseGenerateResponse reads the non-streaming response body. Certainty comes
// from an explicit "certainty" field when a gateway adds one, otherwise from the
// mean token log-probability when the backend returns "logprobs".
func parseGenerateResponse(body []byte, model string) (models.GenerationResult, error) {
	if !gjson.ValidBytes(body) {
		return models.GenerationResult{}, fmt.Errorf("%w: ollama returned invalid JSON", models.ErrGenerationUnavailable)
	}
	parsed := gjson.ParseBytes(body)
	text := parsed.Get("response")
	if !text.Exists() {
		return models.GenerationResult{}, fmt.Errorf("%w: ollama response has no text", models.ErrGenerationUnavailable)
	}
	result := models.GenerationResult{Text: strings.TrimSpace(text.String()), Model: model}
	if m := parsed.Get("model").String(); m != "" {
		result.Model = m
	}
	if c := parsed.Get("certainty"); c.Exists() && c.Type == gjson.Number {
		v := clamp01(c.Float())
		result.RawCertainty = &v
	} else if lps := parsed.Get("logprobs.#.logprob").Array(); len(lps) > 0 {
		var sum float64
		for _, lp := range lps {
			sum += lp.Float()
		}
		v := clamp01(math.Exp(sum / float64(len(lps))))
		result.RawCertainty = &v
	}
	return result, nil
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

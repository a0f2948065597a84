package llmclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/mpetrunic88/webrover/api/schemas"
	"github.com/mpetrunic88/webrover/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultEndpoint = "https://generativelanguage.googleapis.com/v1beta"

// GeminiClient talks to the Gemini REST API. Transient failures (429, 5xx,
// network errors) are retried with exponential backoff; client errors are
// returned immediately.
type GeminiClient struct {
	cfg        config.LLMConfig
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewGeminiClient builds a client from configuration. The API key is
// required; everything else has defaults.
func NewGeminiClient(cfg config.LLMConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: api_key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	timeout := cfg.APITimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &GeminiClient{
		cfg:        cfg,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("gemini"),
	}, nil
}

// Request/response wire types, narrowed to the fields in use.

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	TopP             float32 `json:"topP,omitempty"`
	TopK             int     `json:"topK,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type safetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type geminiRequest struct {
	Contents          []geminiContent  `json:"contents"`
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
	SafetySettings    []safetySetting  `json:"safetySettings,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Generate sends one prompt and returns the concatenated text of the first
// candidate.
func (c *GeminiClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	payload := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: req.UserPrompt}}},
		},
		GenerationConfig: generationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: c.cfg.MaxTokens,
			TopP:            c.cfg.TopP,
			TopK:            c.cfg.TopK,
		},
		SafetySettings: safetySettings(c.cfg.SafetyFilters),
	}
	if req.SystemPrompt != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.SystemPrompt}}}
	}
	if req.ForceJSON {
		payload.GenerationConfig.ResponseMimeType = "application/json"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.endpoint, c.cfg.Model, c.cfg.APIKey)

	var out string
	operation := func() error {
		out, err = c.doRequest(ctx, url, body)
		return err
	}

	policy := backoff.WithContext(newBackoffPolicy(), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return "", err
	}
	return out, nil
}

// safetySettings flattens the configured category->threshold map into the
// wire form, sorted by category so the payload is deterministic.
func safetySettings(filters map[string]string) []safetySetting {
	if len(filters) == 0 {
		return nil
	}
	categories := make([]string, 0, len(filters))
	for category := range filters {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	out := make([]safetySetting, 0, len(categories))
	for _, category := range categories {
		out = append(out, safetySetting{Category: category, Threshold: filters[category]})
	}
	return out
}

func newBackoffPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 15 * time.Second
	b.MaxElapsedTime = 2 * time.Minute
	return b
}

func (c *GeminiClient) doRequest(ctx context.Context, url string, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Warn("Gemini request failed, will retry.", zap.Error(err))
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read gemini response: %w", err)
	}

	c.logger.Debug("Gemini response received.",
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		c.logger.Warn("Gemini returned retryable status.", zap.Int("status", resp.StatusCode))
		return "", fmt.Errorf("gemini returned status %d", resp.StatusCode)
	default:
		return "", backoff.Permanent(fmt.Errorf("gemini returned status %d: %s", resp.StatusCode, truncate(string(raw), 300)))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to decode gemini response: %w", err))
	}
	if parsed.Error != nil {
		return "", backoff.Permanent(fmt.Errorf("gemini error %d: %s", parsed.Error.Code, parsed.Error.Message))
	}
	if len(parsed.Candidates) == 0 {
		return "", backoff.Permanent(fmt.Errorf("gemini returned no candidates"))
	}

	var text string
	for _, part := range parsed.Candidates[0].Content.Parts {
		text += part.Text
	}
	if text == "" {
		return "", backoff.Permanent(fmt.Errorf("gemini returned an empty candidate (finish reason: %s)", parsed.Candidates[0].FinishReason))
	}
	return text, nil
}

// Close releases client resources. Present to satisfy schemas.LLMClient;
// the underlying http.Client needs no teardown.
func (c *GeminiClient) Close() error { return nil }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

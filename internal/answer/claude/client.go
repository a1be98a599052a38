// Package claude answers field questions with the Anthropic Messages API.
package claude

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"fieldscan/internal/answer"
	"fieldscan/internal/config"
	"fieldscan/internal/domain"
	"fieldscan/internal/port"
)

const (
	// ProviderName is the registry key of this provider.
	ProviderName = "claude"

	apiURL       = "https://api.anthropic.com/v1/messages"
	apiVersion   = "2023-06-01"
	defaultModel = "claude-sonnet-4-20250514"
	maxTokens    = 4096
)

func init() {
	answer.RegisterProvider(ProviderName, func(cfg *config.AnswerProviderConfig, deps answer.Deps) (port.AnswerService, error) {
		if deps.Storage == nil {
			return nil, fmt.Errorf("claude answer provider needs object storage")
		}
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("claude answer provider needs an api key")
		}
		return New(cfg, deps.Storage), nil
	})
}

// Client implements port.AnswerService using the Messages API.
type Client struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
	storage  port.ObjectStorage
}

var _ port.AnswerService = (*Client)(nil)

// New creates a Client from a provider config.
func New(cfg *config.AnswerProviderConfig, storage port.ObjectStorage) *Client {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = apiURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Client{
		apiKey:   cfg.APIKey,
		model:    model,
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(limit, max(cfg.Burst, 1)),
		storage:  storage,
	}
}

func (c *Client) Answer(ctx context.Context, req port.AnswerRequest) ([]domain.AnswerResult, error) {
	if len(req.Questions) == 0 {
		return nil, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for claude slot: %w", err)
	}

	img, err := c.storage.Download(ctx, req.Page.Key)
	if err != nil {
		return nil, fmt.Errorf("downloading page %s: %w", req.Page.Key, err)
	}
	mediaType, err := answer.ImageMediaType(img)
	if err != nil {
		return nil, err
	}

	reqBody := map[string]interface{}{
		"model":      c.model,
		"max_tokens": maxTokens,
		"messages": []map[string]interface{}{
			{
				"role": "user",
				"content": []map[string]interface{}{
					{
						"type": "image",
						"source": map[string]interface{}{
							"type":       "base64",
							"media_type": mediaType,
							"data":       base64.StdEncoding.EncodeToString(img),
						},
					},
					{"type": "text", "text": answer.BuildQuestionPrompt(req.Questions)},
				},
			},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling anthropic API: %w: %w", domain.ErrExternalService, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w: %w", domain.ErrExternalService, err)
	}

	if resp.StatusCode != http.StatusOK {
		baseErr := fmt.Errorf("anthropic API error (status %d): %s: %w", resp.StatusCode, truncate(string(respBody), 200), domain.ErrExternalService)
		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := answer.ParseRetryAfterHeader(resp.Header.Get("Retry-After"))
			return nil, answer.NewRateLimitError(ProviderName, baseErr, retryAfter)
		}
		return nil, baseErr
	}

	var out apiResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("unmarshaling response: %w: %w", domain.ErrExternalService, err)
	}
	if len(out.Content) == 0 {
		return nil, fmt.Errorf("empty response from anthropic: %w", domain.ErrExternalService)
	}
	if out.StopReason == "max_tokens" {
		return nil, fmt.Errorf("anthropic output truncated (stop_reason: max_tokens): %w", domain.ErrExternalService)
	}
	return answer.DecodeModelAnswers(out.Content[0].Text, req)
}

// apiResponse models the Anthropic Messages API response.
type apiResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// Package openai answers field questions with a vision model behind the OpenAI Chat Completions API.
package openai

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
	ProviderName = "openai"

	apiURL       = "https://api.openai.com/v1/chat/completions"
	defaultModel = "gpt-4o"
)

func init() {
	answer.RegisterProvider(ProviderName, func(cfg *config.AnswerProviderConfig, deps answer.Deps) (port.AnswerService, error) {
		if deps.Storage == nil {
			return nil, fmt.Errorf("openai answer provider needs object storage")
		}
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai answer provider needs an api key")
		}
		return New(cfg, deps.Storage), nil
	})
}

// Client implements port.AnswerService using the Chat Completions API.
// Any OpenAI-compatible server can be targeted through the provider endpoint.
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
		return nil, fmt.Errorf("waiting for openai slot: %w", err)
	}

	img, err := c.storage.Download(ctx, req.Page.Key)
	if err != nil {
		return nil, fmt.Errorf("downloading page %s: %w", req.Page.Key, err)
	}
	mediaType, err := answer.ImageMediaType(img)
	if err != nil {
		return nil, err
	}

	dataURI := fmt.Sprintf("data:%s;base64,%s", mediaType, base64.StdEncoding.EncodeToString(img))
	reqBody := map[string]interface{}{
		"model": c.model,
		"messages": []map[string]interface{}{
			{
				"role": "user",
				"content": []map[string]interface{}{
					{"type": "image_url", "image_url": map[string]string{"url": dataURI}},
					{"type": "text", "text": answer.BuildQuestionPrompt(req.Questions)},
				},
			},
		},
		"response_format": map[string]string{"type": "json_object"},
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
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling openai API: %w: %w", domain.ErrExternalService, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w: %w", domain.ErrExternalService, err)
	}

	if resp.StatusCode != http.StatusOK {
		baseErr := fmt.Errorf("openai API error (status %d): %s: %w", resp.StatusCode, truncate(string(respBody), 200), domain.ErrExternalService)
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
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("empty response from openai: %w", domain.ErrExternalService)
	}
	if out.Choices[0].FinishReason == "length" {
		return nil, fmt.Errorf("openai output truncated: %w", domain.ErrExternalService)
	}
	return answer.DecodeModelAnswers(out.Choices[0].Message.Content, req)
}

// apiResponse models the OpenAI Chat Completions response.
type apiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

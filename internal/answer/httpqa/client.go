// Package httpqa is the HTTP client of the document question-answering service.
package httpqa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"fieldscan/internal/answer"
	"fieldscan/internal/config"
	"fieldscan/internal/domain"
	"fieldscan/internal/port"
)

// ProviderName is the registry key of this provider.
const ProviderName = "http"

func init() {
	answer.RegisterProvider(ProviderName, func(cfg *config.AnswerProviderConfig, deps answer.Deps) (port.AnswerService, error) {
		if deps.Storage == nil {
			return nil, fmt.Errorf("http answer provider needs object storage")
		}
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("http answer provider needs an endpoint")
		}
		return New(cfg, deps.Storage), nil
	})
}

// Client implements port.AnswerService over HTTP. Requests are paced by a token bucket.
type Client struct {
	endpoint string
	apiKey   string
	client   *http.Client
	limiter  *rate.Limiter
	storage  port.ObjectStorage
}

var _ port.AnswerService = (*Client)(nil)

// New creates a Client from a provider config. Page images are read from storage.
func New(cfg *config.AnswerProviderConfig, storage port.ObjectStorage) *Client {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(limit, burst),
		storage:  storage,
	}
}

type answerRequest struct {
	Image     string   `json:"image"`
	Filename  string   `json:"filename"`
	Questions []string `json:"questions"`
}

type answerItem struct {
	Answer     string    `json:"answer"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox,omitempty"`
	PageIndex  *int      `json:"page_index,omitempty"`
}

type answerResponse struct {
	Answers []answerItem `json:"answers"`
}

func (c *Client) Answer(ctx context.Context, req port.AnswerRequest) ([]domain.AnswerResult, error) {
	if len(req.Questions) == 0 {
		return nil, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for answer service slot: %w", err)
	}

	img, err := c.storage.Download(ctx, req.Page.Key)
	if err != nil {
		return nil, fmt.Errorf("downloading page %s: %w", req.Page.Key, err)
	}

	bodyBytes, err := json.Marshal(answerRequest{
		Image:     base64.StdEncoding.EncodeToString(img),
		Filename:  req.Page.Key,
		Questions: req.Questions,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/answer", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling answer service: %w: %w", domain.ErrExternalService, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w: %w", domain.ErrExternalService, err)
	}

	if resp.StatusCode != http.StatusOK {
		baseErr := fmt.Errorf("answer service error (status %d): %s: %w", resp.StatusCode, truncate(string(respBody), 200), domain.ErrExternalService)
		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := answer.ParseRetryAfterHeader(resp.Header.Get("Retry-After"))
			return nil, answer.NewRateLimitError(ProviderName, baseErr, retryAfter)
		}
		return nil, baseErr
	}

	return parseResponse(respBody, req)
}

func parseResponse(body []byte, req port.AnswerRequest) ([]domain.AnswerResult, error) {
	var resp answerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshaling response: %w: %w", domain.ErrExternalService, err)
	}
	if len(resp.Answers) != len(req.Questions) {
		return nil, fmt.Errorf("answer service returned %d answers for %d questions: %w",
			len(resp.Answers), len(req.Questions), domain.ErrAnswerCountMismatch)
	}

	out := make([]domain.AnswerResult, len(resp.Answers))
	for i, a := range resp.Answers {
		out[i] = domain.AnswerResult{
			Answer:     strings.TrimSpace(a.Answer),
			Confidence: math.Min(math.Max(a.Confidence, 0), 1),
			PageIndex:  req.Page.PageIndex,
		}
		if a.PageIndex != nil {
			out[i].PageIndex = *a.PageIndex
		}
		if len(a.BBox) == 4 {
			out[i].BBox = domain.NewBBox(a.BBox[0], a.BBox[1], a.BBox[2], a.BBox[3])
		}
	}
	return out, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

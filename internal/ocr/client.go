// Package ocr is the HTTP client of the text recognition service.
package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fieldscan/internal/config"
	"fieldscan/internal/domain"
	"fieldscan/internal/port"
)

// Client implements port.TokenService over HTTP.
type Client struct {
	endpoint string
	client   *http.Client
	storage  port.ObjectStorage
}

var _ port.TokenService = (*Client)(nil)

// NewClient creates a token service client. Page images are read from storage.
func NewClient(cfg *config.OCRConfig, storage port.ObjectStorage) *Client {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
		storage:  storage,
	}
}

type ocrRequest struct {
	Image    string `json:"image"`
	Filename string `json:"filename"`
}

type ocrToken struct {
	Text       string       `json:"text"`
	BBox       [][2]float64 `json:"bbox"`
	Confidence float64      `json:"confidence"`
}

type ocrResponse struct {
	Width  float64    `json:"width"`
	Height float64    `json:"height"`
	Tokens []ocrToken `json:"tokens"`
}

// Tokens recognizes the text of one page image.
func (c *Client) Tokens(ctx context.Context, page domain.PageRef) (*domain.RawPage, error) {
	img, err := c.storage.Download(ctx, page.Key)
	if err != nil {
		return nil, fmt.Errorf("downloading page %s: %w", page.Key, err)
	}

	bodyBytes, err := json.Marshal(ocrRequest{
		Image:    base64.StdEncoding.EncodeToString(img),
		Filename: page.Key,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/ocr", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling token service: %w: %w", domain.ErrExternalService, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w: %w", domain.ErrExternalService, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token service error (status %d): %w", resp.StatusCode, domain.ErrExternalService)
	}

	var out ocrResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("unmarshaling response: %w: %w", domain.ErrExternalService, err)
	}
	return toRawPage(out), nil
}

// toRawPage keeps tokens with a full four-point polygon and drops the rest.
func toRawPage(resp ocrResponse) *domain.RawPage {
	page := &domain.RawPage{Width: resp.Width, Height: resp.Height}
	for _, t := range resp.Tokens {
		if len(t.BBox) != 4 {
			continue
		}
		var quad [4]domain.RawPoint
		for i, p := range t.BBox {
			quad[i] = domain.RawPoint{X: p[0], Y: p[1]}
		}
		page.Tokens = append(page.Tokens, domain.RawToken{Text: t.Text, Quad: quad, Confidence: t.Confidence})
	}
	return page
}

package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fieldscan/internal/domain"
	"fieldscan/internal/port"
)

// circuitState tracks rate-limit backoff for a single provider.
type circuitState struct {
	mu      sync.RWMutex
	resetAt time.Time // zero value = closed (healthy)
}

func (c *circuitState) isOpenWithReset(now time.Time) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resetAt, !c.resetAt.IsZero() && now.Before(c.resetAt)
}

func (c *circuitState) open(resetAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetAt = resetAt
}

// FallbackAnswerer tries providers in order, skipping those with open circuits.
// It implements port.AnswerService.
type FallbackAnswerer struct {
	providers []port.AnswerService
	circuits  []*circuitState
	names     []string
	logger    *slog.Logger
}

var _ port.AnswerService = (*FallbackAnswerer)(nil)

// NewFallbackAnswerer creates a FallbackAnswerer from an ordered list of providers and their names.
func NewFallbackAnswerer(providers []port.AnswerService, names []string, logger *slog.Logger) *FallbackAnswerer {
	if logger == nil {
		logger = slog.Default()
	}
	circuits := make([]*circuitState, len(providers))
	for i := range circuits {
		circuits[i] = &circuitState{}
	}
	return &FallbackAnswerer{
		providers: providers,
		circuits:  circuits,
		names:     names,
		logger:    logger,
	}
}

func (f *FallbackAnswerer) Answer(ctx context.Context, req port.AnswerRequest) ([]domain.AnswerResult, error) {
	now := time.Now()
	var lastErr error
	allRateLimited := true
	var earliestReset time.Time

	for i, p := range f.providers {
		if resetAt, open := f.circuits[i].isOpenWithReset(now); open {
			f.logger.Debug("answer.FallbackAnswerer: skipping provider", "provider", f.names[i], "circuit_open_until", resetAt)
			if earliestReset.IsZero() || resetAt.Before(earliestReset) {
				earliestReset = resetAt
			}
			continue
		}

		out, err := p.Answer(ctx, req)
		if err == nil {
			return out, nil
		}

		f.logger.Warn("answer.FallbackAnswerer: provider failed", "provider", f.names[i], "error", err)
		lastErr = err

		var rlErr *RateLimitError
		if errors.As(err, &rlErr) {
			resetAt := now.Add(rlErr.RetryAfter)
			f.circuits[i].open(resetAt)
			if earliestReset.IsZero() || resetAt.Before(earliestReset) {
				earliestReset = resetAt
			}
		} else {
			allRateLimited = false
		}
	}

	if lastErr == nil || allRateLimited {
		retryAfter := time.Until(earliestReset)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return nil, NewRateLimitError("all", fmt.Errorf("all answer providers rate limited: %w", domain.ErrExternalService), int(retryAfter.Seconds()))
	}

	return nil, fmt.Errorf("all answer providers failed: %w: %w", domain.ErrExternalService, lastErr)
}

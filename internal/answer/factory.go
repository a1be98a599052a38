// Package answer builds answer service providers and chains them with rate-limit aware fallback.
package answer

import (
	"fmt"
	"log/slog"
	"sync"

	"fieldscan/internal/config"
	"fieldscan/internal/port"
)

// Deps are the collaborators a provider may need.
type Deps struct {
	Storage port.ObjectStorage
	Tokens  port.TokenService
	Logger  *slog.Logger
}

// ProviderFactory is a function that creates an AnswerService from a provider config.
type ProviderFactory func(cfg *config.AnswerProviderConfig, deps Deps) (port.AnswerService, error)

// registry of answer provider factories, populated by init() in each provider package
// or explicitly via RegisterProvider.
var (
	providersMu sync.RWMutex
	providers   = map[string]ProviderFactory{}
)

// RegisterProvider registers an answer provider factory by name.
func RegisterProvider(name string, factory ProviderFactory) {
	providersMu.Lock()
	defer providersMu.Unlock()
	providers[name] = factory
}

// New creates an AnswerService from a provider config using the registered factory.
func New(cfg *config.AnswerProviderConfig, deps Deps) (port.AnswerService, error) {
	providersMu.RLock()
	factory, ok := providers[cfg.Provider]
	providersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown answer provider: %s", cfg.Provider)
	}
	return factory(cfg, deps)
}

// NewFromConfig builds the configured providers. A single provider is returned
// as is; a secondary one puts both behind a FallbackAnswerer.
func NewFromConfig(cfg *config.AnswerConfig, deps Deps) (port.AnswerService, error) {
	primary, err := New(cfg.PrimaryConfig(), deps)
	if err != nil {
		return nil, fmt.Errorf("primary answer provider: %w", err)
	}
	sc := cfg.SecondaryConfig()
	if sc == nil {
		return primary, nil
	}
	secondary, err := New(sc, deps)
	if err != nil {
		return nil, fmt.Errorf("secondary answer provider: %w", err)
	}
	return NewFallbackAnswerer(
		[]port.AnswerService{primary, secondary},
		[]string{cfg.PrimaryConfig().Provider, sc.Provider},
		deps.Logger,
	), nil
}

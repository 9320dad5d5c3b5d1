package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/goodnight-ai/goodnight/pkg/config"
)

// ErrUnknownProvider indicates a backend name with no registered builder.
var ErrUnknownProvider = errors.New("unknown provider")

// Builder constructs a Provider from the provider configuration.
type Builder func(ctx context.Context, cfg config.ProviderConfig) (Provider, error)

var (
	buildersMu sync.RWMutex
	builders   = map[string]Builder{
		"anthropic": func(_ context.Context, cfg config.ProviderConfig) (Provider, error) {
			apiKey := ""
			if cfg.Anthropic.APIKeyEnv != "" {
				apiKey = os.Getenv(cfg.Anthropic.APIKeyEnv)
			}
			return NewAnthropicProvider(apiKey, cfg.Anthropic.Model)
		},
		"bedrock": func(ctx context.Context, cfg config.ProviderConfig) (Provider, error) {
			return NewBedrockProvider(ctx, cfg.Bedrock.Region, cfg.Bedrock.Model)
		},
	}
)

// Register adds or replaces the builder for a backend name.
func Register(name string, builder Builder) {
	buildersMu.Lock()
	defer buildersMu.Unlock()
	builders[name] = builder
}

// Available returns the registered backend names, sorted.
func Available() []string {
	buildersMu.RLock()
	defer buildersMu.RUnlock()
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the backend selected by cfg.Default.
func New(ctx context.Context, cfg config.ProviderConfig) (Provider, error) {
	name := cfg.Default
	if name == "" {
		name = "bedrock"
	}
	buildersMu.RLock()
	builder, ok := builders[name]
	buildersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s (available: %s)",
			ErrUnknownProvider, name, strings.Join(Available(), ", "))
	}
	return builder(ctx, cfg)
}

package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"

	"codesmith/internal/config"
)

// ErrUnknownModel is returned for model names outside the configured set.
var ErrUnknownModel = errors.New("unknown model")

// Factory builds the chat model backing one model name.
type Factory func(ctx context.Context, modelName string) (model.BaseChatModel, error)

// Registry hands out one cached Client per allowed model name.
type Registry struct {
	models       []string
	defaultModel string
	timeout      time.Duration
	factory      Factory

	mu      sync.Mutex
	clients map[string]*Client
}

// NewRegistry builds clients from the provider settings in cfg.
func NewRegistry(cfg *config.Config) *Registry {
	factory := func(ctx context.Context, modelName string) (model.BaseChatModel, error) {
		return NewChatModel(ctx, cfg, modelName)
	}
	timeout := time.Duration(cfg.Generation.TimeoutSeconds) * time.Second
	return NewRegistryWithFactory(cfg.Generation.Models, cfg.Generation.DefaultModel, timeout, factory)
}

// NewRegistryWithFactory is NewRegistry with an explicit model factory.
func NewRegistryWithFactory(models []string, defaultModel string, timeout time.Duration, factory Factory) *Registry {
	cloned := append([]string(nil), models...)
	if defaultModel == "" && len(cloned) > 0 {
		defaultModel = cloned[0]
	}
	return &Registry{
		models:       cloned,
		defaultModel: defaultModel,
		timeout:      timeout,
		factory:      factory,
		clients:      make(map[string]*Client),
	}
}

// Models lists the selectable model names in configuration order.
func (r *Registry) Models() []string {
	return append([]string(nil), r.models...)
}

// Default returns the model used when a session does not pick one.
func (r *Registry) Default() string { return r.defaultModel }

// Resolve maps an optional requested name to an allowed model name.
func (r *Registry) Resolve(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return r.defaultModel, nil
	}
	for _, m := range r.models {
		if m == name {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownModel, name)
}

// Client returns the cached client for name, building it on first use.
// Building happens outside the lock so a slow provider does not hold up
// lookups of other models.
func (r *Registry) Client(ctx context.Context, name string) (*Client, error) {
	resolved, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	c, ok := r.clients[resolved]
	r.mu.Unlock()
	if ok {
		return c, nil
	}
	if r.factory == nil {
		return nil, errors.New("model factory not configured")
	}
	chatModel, err := r.factory(ctx, resolved)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// another caller may have finished first
	if existing, ok := r.clients[resolved]; ok {
		return existing, nil
	}
	c = NewClient(chatModel, resolved, r.timeout)
	r.clients[resolved] = c
	return c, nil
}

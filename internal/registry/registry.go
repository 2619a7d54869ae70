// Package registry binds platform names to strategy factories and gates
// dispatch on the platform catalog.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/melody-hunter/internal/crawler"
	"github.com/JakeFAU/melody-hunter/internal/strategy"
)

// ErrPlatformNotFound is returned for unknown, inactive or unbound platforms.
var ErrPlatformNotFound = errors.New("platform not found")

// Registry resolves platform names. It is populated at startup and read-only afterwards.
type Registry struct {
	platforms crawler.PlatformStore

	mu        sync.RWMutex
	factories map[string]strategy.Factory
}

// New constructs an empty Registry backed by the platform catalog.
func New(platforms crawler.PlatformStore) *Registry {
	return &Registry{platforms: platforms, factories: make(map[string]strategy.Factory)}
}

// Register binds name to factory.
func (r *Registry) Register(name string, factory strategy.Factory) error {
	if name == "" || factory == nil {
		return fmt.Errorf("register platform: name and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("register platform %q: already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// Resolve returns the platform row and its strategy factory. The platform
// must exist, be active and have a bound factory.
func (r *Registry) Resolve(ctx context.Context, name string) (crawler.Platform, strategy.Factory, error) {
	r.mu.RLock()
	factory, bound := r.factories[name]
	r.mu.RUnlock()
	if !bound {
		return crawler.Platform{}, nil, fmt.Errorf("%w: %q has no strategy", ErrPlatformNotFound, name)
	}

	platform, err := r.platforms.GetPlatform(ctx, name)
	if errors.Is(err, crawler.ErrNotFound) {
		return crawler.Platform{}, nil, fmt.Errorf("%w: %q", ErrPlatformNotFound, name)
	}
	if err != nil {
		return crawler.Platform{}, nil, fmt.Errorf("load platform %q: %w", name, err)
	}
	if !platform.Active {
		return crawler.Platform{}, nil, fmt.Errorf("%w: %q is inactive", ErrPlatformNotFound, name)
	}
	return platform, factory, nil
}

// Names lists bound platform names in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

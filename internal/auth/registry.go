package auth

import (
	"fmt"

	"github.com/xevolve/realm-e2e/internal/browser"
	"github.com/xevolve/realm-e2e/internal/config"
	"github.com/xevolve/realm-e2e/internal/errs"
)

// Factory constructs a provider instance bound to a session. Instances
// are per-login and never cached; the registry only owns the mapping.
type Factory func(session *browser.Session, cfg *config.Config) Provider

// Registry maps provider names to factories. It is built once at harness
// startup and passed to scenarios explicitly; after that it is read-only,
// so lookups need no synchronization.
type Registry struct {
	factories map[string]Factory
	order     []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register inserts a factory under name, overwriting any prior
// registration. Re-registering is not an error.
func (r *Registry) Register(name string, factory Factory) {
	if _, exists := r.factories[name]; !exists {
		r.order = append(r.order, name)
	}
	r.factories[name] = factory
}

// Get constructs a fresh provider instance bound to the given session.
func (r *Registry) Get(name string, session *browser.Session, cfg *config.Config) (Provider, error) {
	factory, ok := r.factories[name]
	if !ok {
		return nil, errs.New(errs.UnknownProvider, fmt.Sprintf("unknown auth provider: %s", name))
	}
	return factory(session, cfg), nil
}

// List returns registered provider names in registration order.
func (r *Registry) List() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// DefaultRegistry returns a registry populated with every built-in
// provider. Call once at startup; the result is read-only afterwards.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(EntraProviderName, NewEntraProvider)
	r.Register(LocalProviderName, NewLocalProvider)
	return r
}

package connectors

import (
	"fmt"
	"sync"

	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/config"
	"github.com/Abdulkoko-10/snacks-ecommerce-sub000/internal/observability"
)

// BuilderFunc creates a connector from provider settings.
type BuilderFunc func(cfg config.ProvidersConfig, opts HTTPOptions, logger *observability.Logger) Connector

// builders maps provider names to their constructors.
var builders = map[string]BuilderFunc{
	GeoapifyName: func(cfg config.ProvidersConfig, opts HTTPOptions, logger *observability.Logger) Connector {
		return NewGeoapify(cfg.Geoapify, opts, logger)
	},
	SerpAPIName: func(cfg config.ProvidersConfig, opts HTTPOptions, logger *observability.Logger) Connector {
		return NewSerpAPI(cfg.SerpAPI, opts, logger)
	},
	CMSName: func(cfg config.ProvidersConfig, opts HTTPOptions, logger *observability.Logger) Connector {
		return NewCMS(cfg.CMS, opts, logger)
	},
	GooglePlacesName: func(cfg config.ProvidersConfig, opts HTTPOptions, logger *observability.Logger) Connector {
		return NewGooglePlaces(cfg.GooglePlaces, opts, logger)
	},
}

// Registry holds the active connectors. Iteration order is registration
// order, which is also the merge order of search results.
type Registry struct {
	mu         sync.RWMutex
	connectors []Connector
	byName     map[string]Connector
}

// NewRegistry creates a registry holding cs in order.
func NewRegistry(cs ...Connector) (*Registry, error) {
	r := &Registry{byName: make(map[string]Connector)}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// NewRegistryFromConfig builds the enabled providers in configured order.
func NewRegistryFromConfig(cfg config.ProvidersConfig, logger *observability.Logger) (*Registry, error) {
	opts := HTTPOptions{
		Timeout:    cfg.Timeout,
		RPS:        cfg.RPS,
		Burst:      cfg.Burst,
		MaxRetries: cfg.MaxRetries,
	}

	r := &Registry{byName: make(map[string]Connector)}
	for _, name := range cfg.EnabledProviders() {
		build, ok := builders[name]
		if !ok {
			return nil, fmt.Errorf("unknown provider: %s", name)
		}
		if err := r.Register(build(cfg, opts, logger)); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register appends a connector. Names must be unique.
func (r *Registry) Register(c Connector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := c.Name()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("connector already registered: %s", name)
	}
	r.byName[name] = c
	r.connectors = append(r.connectors, c)
	return nil
}

// Get returns a connector by name.
func (r *Registry) Get(name string) (Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[name]
	return c, ok
}

// Names returns connector names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.connectors))
	for _, c := range r.connectors {
		names = append(names, c.Name())
	}
	return names
}

// Searchers returns the search-capable connectors in registration order.
func (r *Registry) Searchers() []Searcher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Searcher
	for _, c := range r.connectors {
		if s, ok := c.(Searcher); ok && c.Capabilities().Search {
			out = append(out, s)
		}
	}
	return out
}

// Enrichers returns the enrichment-capable connectors in registration order.
func (r *Registry) Enrichers() []Enricher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Enricher
	for _, c := range r.connectors {
		if e, ok := c.(Enricher); ok && c.Capabilities().Enrich {
			out = append(out, e)
		}
	}
	return out
}

// CMS returns the catalog connector when one is registered.
func (r *Registry) CMS() (*CMS, bool) {
	c, ok := r.Get(CMSName)
	if !ok {
		return nil, false
	}
	cms, ok := c.(*CMS)
	return cms, ok
}

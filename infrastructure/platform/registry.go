package platform

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/configuration"
	"social-publisher/infrastructure/logger"
)

var _ repository.IPlatformRegistry = (*Registry)(nil)

type Registry struct {
	mu       sync.RWMutex
	adapters map[string]repository.IPlatformAdapter
}

func NewRegistry(adapters ...repository.IPlatformAdapter) *Registry {
	r := &Registry{adapters: make(map[string]repository.IPlatformAdapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// DisplayNames seeds the platforms catalogue table.
var DisplayNames = map[string]string{
	Twitter:  "Twitter / X",
	LinkedIn: "LinkedIn",
	Reddit:   "Reddit",
	YouTube:  "YouTube",
}

// NewRegistryFromConfig registers an adapter for every platform with client credentials.
func NewRegistryFromConfig(cfg configuration.OAuth, httpClient *http.Client) *Registry {
	var opts []Option
	if httpClient != nil {
		opts = append(opts, WithHTTPClient(httpClient))
	}

	r := NewRegistry()
	candidates := []struct {
		client configuration.OAuthClient
		build  func(configuration.OAuthClient, ...Option) repository.IPlatformAdapter
		name   string
	}{
		{cfg.Twitter, func(c configuration.OAuthClient, o ...Option) repository.IPlatformAdapter {
			return NewTwitterAdapter(c, o...)
		}, Twitter},
		{cfg.LinkedIn, func(c configuration.OAuthClient, o ...Option) repository.IPlatformAdapter {
			return NewLinkedInAdapter(c, o...)
		}, LinkedIn},
		{cfg.Reddit, func(c configuration.OAuthClient, o ...Option) repository.IPlatformAdapter {
			return NewRedditAdapter(c, o...)
		}, Reddit},
		{cfg.YouTube, func(c configuration.OAuthClient, o ...Option) repository.IPlatformAdapter {
			return NewYouTubeAdapter(c, o...)
		}, YouTube},
	}
	for _, c := range candidates {
		if !c.client.Enabled() {
			logger.GetLogger().WithField("platform", c.name).Info("Platform not configured; skipping adapter")
			continue
		}
		r.Register(c.build(c.client, opts...))
	}
	return r
}

func (r *Registry) Register(a repository.IPlatformAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.PlatformID()] = a
}

func (r *Registry) Adapter(platformID string) (repository.IPlatformAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[platformID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownPlatform, platformID)
	}
	return a, nil
}

func (r *Registry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

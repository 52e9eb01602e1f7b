// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"net/http"
	"net/url"

	"github.com/LeeDigitalWorks/zapupload/pkg/apierr"
	"github.com/LeeDigitalWorks/zapupload/pkg/types"

	"github.com/jellydator/ttlcache/v3"
)

var ErrProjectNotFound = apierr.New(apierr.ErrNotFound, "Project not found")

// Projects resolves project codes.
type Projects interface {
	GetProject(ctx context.Context, code string) (types.Project, error)
}

// ProjectClient looks projects up in the project service and caches hits.
// Misses are never cached so a freshly created project is visible at once.
type ProjectClient struct {
	client *Client
	cache  *ttlcache.Cache[string, types.Project]
}

var _ Projects = (*ProjectClient)(nil)

func NewProjectClient(cfg Config, httpClient *http.Client) *ProjectClient {
	ttl := cfg.ProjectCacheTTL
	if ttl <= 0 {
		ttl = DefaultConfig().ProjectCacheTTL
	}
	cache := ttlcache.New[string, types.Project](
		ttlcache.WithTTL[string, types.Project](ttl),
	)
	go cache.Start()

	return &ProjectClient{
		client: NewClient(cfg, httpClient),
		cache:  cache,
	}
}

func (p *ProjectClient) GetProject(ctx context.Context, code string) (types.Project, error) {
	if item := p.cache.Get(code); item != nil {
		projectCacheHits.Inc()
		return item.Value(), nil
	}
	projectCacheMisses.Inc()

	u := joinURL(p.client.config.ProjectURL, "v1/projects/"+url.PathEscape(code))
	var project types.Project
	status, err := p.client.do(ctx, "get project", http.MethodGet, u, nil, p.client.config.Timeout, &project)
	if status == http.StatusNotFound {
		return types.Project{}, apierr.Wrap(apierr.ErrNotFound, err, ErrProjectNotFound.Message)
	}
	if err != nil {
		return types.Project{}, err
	}
	if project.Code == "" {
		project.Code = code
	}

	p.cache.Set(code, project, ttlcache.DefaultTTL)
	return project, nil
}

// Invalidate drops code from the cache.
func (p *ProjectClient) Invalidate(code string) {
	p.cache.Delete(code)
}

// Close stops the cache janitor.
func (p *ProjectClient) Close() {
	p.cache.Stop()
}

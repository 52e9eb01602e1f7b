// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package catalog talks to the metadata service that owns item records and
// to the project service.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/zapupload/pkg/apierr"
	"github.com/LeeDigitalWorks/zapupload/pkg/logger"
	"github.com/LeeDigitalWorks/zapupload/pkg/types"

	"golang.org/x/time/rate"
)

// ErrAlreadyExists is returned when the catalog rejects a batch because one
// of its paths is taken.
var ErrAlreadyExists = apierr.New(apierr.ErrAlreadyExists, "ResourceAlreadyExist")

// Config configures the catalog and project clients.
type Config struct {
	// MetadataURL is the metadata service API root, e.g. http://metadata/v1/.
	MetadataURL string `mapstructure:"metadata_url"`
	// DataopsURL is the dataops API root receiving archive previews.
	DataopsURL string `mapstructure:"dataops_url"`
	// ProjectURL is the project service root.
	ProjectURL string `mapstructure:"project_url"`

	Timeout        time.Duration `mapstructure:"timeout"`
	PreviewTimeout time.Duration `mapstructure:"preview_timeout"`

	// RateLimit caps outgoing requests per second; zero disables it.
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`

	ProjectCacheTTL time.Duration `mapstructure:"project_cache_ttl"`
}

func DefaultConfig() Config {
	return Config{
		Timeout:         10 * time.Second,
		PreviewTimeout:  time.Hour,
		Burst:           50,
		ProjectCacheTTL: 5 * time.Minute,
	}
}

// ItemUpdate is the set of fields finalization writes to a file item.
type ItemUpdate struct {
	Status      types.ItemStatus `json:"status"`
	Size        int64            `json:"size"`
	LocationURI string           `json:"location_uri"`
	Version     string           `json:"version"`
	Tags        []string         `json:"tags"`
}

// SearchQuery selects items by exact location.
type SearchQuery struct {
	ParentPath    string
	Name          string
	ContainerCode string
	Status        types.ItemStatus
	Zone          types.Zone
	Recursive     bool
}

func (q SearchQuery) values() url.Values {
	v := url.Values{}
	v.Set("parent_path", q.ParentPath)
	v.Set("name", q.Name)
	v.Set("container_code", q.ContainerCode)
	if q.Status != "" {
		v.Set("status", string(q.Status))
	}
	v.Set("zone", strconv.Itoa(int(q.Zone)))
	v.Set("recursive", strconv.FormatBool(q.Recursive))
	return v
}

// Catalog is the metadata service surface the upload flow depends on.
type Catalog interface {
	// BatchCreate registers items in one call. A path collision fails the
	// whole batch with ErrAlreadyExists.
	BatchCreate(ctx context.Context, items []types.Item) ([]types.Item, error)

	UpdateItem(ctx context.Context, id string, update ItemUpdate) (types.Item, error)

	SearchItems(ctx context.Context, q SearchQuery) ([]types.Item, error)

	// SubmitArchivePreview attaches an archive listing to a file item.
	SubmitArchivePreview(ctx context.Context, fileID string, preview map[string]any) error
}

// StatusError is a non-success HTTP answer from a collaborator.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Client is the HTTP implementation of Catalog.
type Client struct {
	http    *http.Client
	config  Config
	limiter *rate.Limiter
}

var _ Catalog = (*Client)(nil)

// NewClient returns a catalog client. A nil httpClient uses a dedicated
// client without a global timeout; each call carries its own deadline.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.PreviewTimeout <= 0 {
		cfg.PreviewTimeout = def.PreviewTimeout
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	c := &Client{http: httpClient, config: cfg}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst)
	}
	return c
}

type envelope[T any] struct {
	Code     int    `json:"code"`
	ErrorMsg string `json:"error_msg"`
	Result   T      `json:"result"`
}

func (c *Client) BatchCreate(ctx context.Context, items []types.Item) ([]types.Item, error) {
	body := struct {
		Items []types.Item `json:"items"`
	}{Items: items}

	var out envelope[[]types.Item]
	status, err := c.do(ctx, "batch create", http.MethodPost, c.metadata("items/batch/"), body, c.config.Timeout, &out)
	if status == http.StatusConflict {
		return nil, apierr.Wrap(apierr.ErrAlreadyExists, err, ErrAlreadyExists.Message)
	}
	if err != nil {
		return nil, err
	}
	return out.Result, nil
}

func (c *Client) UpdateItem(ctx context.Context, id string, update ItemUpdate) (types.Item, error) {
	u := c.metadata("item/") + "?" + url.Values{"id": {id}}.Encode()
	var out envelope[types.Item]
	if _, err := c.do(ctx, "update item", http.MethodPut, u, update, c.config.Timeout, &out); err != nil {
		return types.Item{}, err
	}
	if out.Result.ID == "" {
		out.Result.ID = id
	}
	return out.Result, nil
}

func (c *Client) SearchItems(ctx context.Context, q SearchQuery) ([]types.Item, error) {
	u := c.metadata("items/search/") + "?" + q.values().Encode()
	var out envelope[[]types.Item]
	if _, err := c.do(ctx, "search items", http.MethodGet, u, nil, c.config.Timeout, &out); err != nil {
		return nil, err
	}
	return out.Result, nil
}

func (c *Client) SubmitArchivePreview(ctx context.Context, fileID string, preview map[string]any) error {
	body := map[string]any{
		"archive_preview": preview,
		"file_id":         fileID,
	}
	_, err := c.do(ctx, "archive preview", http.MethodPost, joinURL(c.config.DataopsURL, "archive"), body, c.config.PreviewTimeout, nil)
	return err
}

func (c *Client) metadata(p string) string {
	return joinURL(c.config.MetadataURL, p)
}

// do sends one JSON request and decodes a 200 answer into out. The status
// code is returned alongside any error so callers can branch on it.
func (c *Client) do(ctx context.Context, op, method, u string, in any, timeout time.Duration, out any) (int, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, fmt.Errorf("%s: %w", op, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("%s: encode: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(op, "error").Inc()
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	requestsTotal.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()
	requestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		logger.Ctx(ctx).Warn().
			Str("op", op).
			Int("status", resp.StatusCode).
			Str("url", u).
			Msg("catalog request failed")
		return resp.StatusCode, &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return resp.StatusCode, fmt.Errorf("%s: decode: %w", op, err)
		}
	}
	return resp.StatusCode, nil
}

func joinURL(base, p string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(p, "/")
}

// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package s3client builds and caches S3 clients for the object store
// endpoints the service talks to: the internal endpoint used for data and
// the public endpoint presigned URLs are issued against.
package s3client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/zapupload/pkg/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config holds configuration for one S3 endpoint.
type Config struct {
	// Endpoint is host[:port] without scheme.
	Endpoint        string `mapstructure:"endpoint"`
	Secure          bool   `mapstructure:"secure"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key"`
	SecretAccessKey string `mapstructure:"secret_key"`
	PathStyle       bool   `mapstructure:"path_style"`
}

// URL returns the endpoint with its scheme.
func (c Config) URL() string {
	if c.Endpoint == "" || strings.Contains(c.Endpoint, "://") {
		return c.Endpoint
	}
	if c.Secure {
		return "https://" + c.Endpoint
	}
	return "http://" + c.Endpoint
}

// Pool caches clients by endpoint+region+accessKey for connection reuse.
type Pool struct {
	mu      sync.RWMutex
	clients map[string]*s3.Client

	httpClient *http.Client
}

// NewPool creates a pool whose clients share one HTTP transport.
func NewPool(timeout time.Duration, maxIdleConns int) *Pool {
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	if maxIdleConns == 0 {
		maxIdleConns = 1000
	}

	return &Pool{
		clients: make(map[string]*s3.Client),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        maxIdleConns,
				MaxIdleConnsPerHost: maxIdleConns,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// GetClient returns a cached client for cfg, creating it on first use.
func (p *Pool) GetClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	cacheKey := fmt.Sprintf("%s|%s|%s", cfg.URL(), cfg.Region, cfg.AccessKeyID)

	p.mu.RLock()
	client, exists := p.clients[cacheKey]
	p.mu.RUnlock()
	if exists {
		return client, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if client, exists := p.clients[cacheKey]; exists {
		return client, nil
	}

	client, err := p.createClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	p.clients[cacheKey] = client

	logger.Debug().
		Str("endpoint", cfg.URL()).
		Str("region", cfg.Region).
		Msg("Created S3 client")

	return client, nil
}

// GetPresignClient returns a presigner bound to cfg's endpoint.
func (p *Pool) GetPresignClient(ctx context.Context, cfg Config) (*s3.PresignClient, error) {
	client, err := p.GetClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return s3.NewPresignClient(client), nil
}

func (p *Pool) createClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	staticCreds := credentials.NewStaticCredentialsProvider(
		cfg.AccessKeyID,
		cfg.SecretAccessKey,
		"",
	)

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(staticCreds),
		config.WithHTTPClient(p.httpClient),
		// MinIO and older gateways reject the default trailing checksums.
		config.WithRequestChecksumCalculation(aws.RequestChecksumCalculationWhenRequired),
		config.WithResponseChecksumValidation(aws.ResponseChecksumValidationWhenRequired),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	opts := []func(*s3.Options){
		func(o *s3.Options) {
			o.UsePathStyle = cfg.PathStyle
		},
	}
	if u := cfg.URL(); u != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(u)
		})
	}

	return s3.NewFromConfig(awsCfg, opts...), nil
}

// Close drops cached clients and idle connections.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.clients = make(map[string]*s3.Client)
	p.httpClient.CloseIdleConnections()

	return nil
}

// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
)

// Publisher delivers activity events.
type Publisher interface {
	PublishActivity(ctx context.Context, event ActivityEvent) error
	Ping(ctx context.Context) error
	Close() error
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

var _ Publisher = NoopPublisher{}

func (NoopPublisher) PublishActivity(ctx context.Context, event ActivityEvent) error {
	EventsDroppedTotal.Inc()
	return nil
}

func (NoopPublisher) Ping(ctx context.Context) error { return nil }

func (NoopPublisher) Close() error { return nil }

// NewPublisher returns the Kafka publisher when cfg enables one and the
// no-op publisher otherwise.
func NewPublisher(cfg Config) (Publisher, error) {
	cfg.Validate()
	if !cfg.HasPublisher() {
		return NoopPublisher{}, nil
	}
	return NewKafkaPublisher(cfg.Kafka)
}

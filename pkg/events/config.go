// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package events publishes item activity records for completed uploads.
//
// The Kafka publisher is used when brokers are configured; otherwise events
// are dropped by the no-op publisher and counted.
package events

import (
	"time"
)

// Config holds activity publishing configuration.
type Config struct {
	// Enabled controls whether activity events are published at all.
	Enabled bool `mapstructure:"enabled"`

	Kafka KafkaConfig `mapstructure:"kafka"`
}

// KafkaConfig holds Kafka publisher settings.
type KafkaConfig struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`

	// Topic receives activity events (default: "metadata.items.activity").
	Topic string `mapstructure:"topic"`

	// RequiredAcks: 0=none, 1=leader, -1=all (default: 1).
	RequiredAcks int `mapstructure:"required_acks"`

	// Compression: "none", "gzip", "snappy", "lz4", "zstd" (default: "snappy").
	Compression string `mapstructure:"compression"`

	// BatchSize is the maximum messages per batch (default: 100).
	BatchSize int `mapstructure:"batch_size"`

	// BatchTimeout is the maximum time to wait for a batch (default: 1s).
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`

	// WriteTimeout bounds produce requests (default: 10s).
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	TLS           bool `mapstructure:"tls"`
	TLSSkipVerify bool `mapstructure:"tls_skip_verify"`

	SASLEnabled bool `mapstructure:"sasl_enabled"`
	// SASLMechanism is PLAIN, SCRAM-SHA-256 or SCRAM-SHA-512.
	SASLMechanism string `mapstructure:"sasl_mechanism"`
	SASLUsername  string `mapstructure:"sasl_username"`
	SASLPassword  string `mapstructure:"sasl_password"`
}

const DefaultTopic = "metadata.items.activity"

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Enabled: false,
		Kafka: KafkaConfig{
			Topic:        DefaultTopic,
			RequiredAcks: 1,
			Compression:  "snappy",
			BatchSize:    100,
			BatchTimeout: time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Validate applies defaults for unset or invalid values.
func (c *Config) Validate() {
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = DefaultTopic
	}
	if c.Kafka.RequiredAcks < -1 || c.Kafka.RequiredAcks > 1 {
		c.Kafka.RequiredAcks = 1
	}
	if c.Kafka.Compression == "" {
		c.Kafka.Compression = "snappy"
	}
	if c.Kafka.BatchSize <= 0 {
		c.Kafka.BatchSize = 100
	}
	if c.Kafka.BatchTimeout <= 0 {
		c.Kafka.BatchTimeout = time.Second
	}
	if c.Kafka.WriteTimeout <= 0 {
		c.Kafka.WriteTimeout = 10 * time.Second
	}
}

// HasPublisher returns true if events should go to Kafka.
func (c *Config) HasPublisher() bool {
	return c.Enabled && len(c.Kafka.Brokers) > 0
}

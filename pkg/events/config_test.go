// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "metadata.items.activity", cfg.Kafka.Topic)
	assert.Equal(t, 1, cfg.Kafka.RequiredAcks)
	assert.Equal(t, "snappy", cfg.Kafka.Compression)
	assert.Equal(t, 100, cfg.Kafka.BatchSize)
	assert.Equal(t, time.Second, cfg.Kafka.BatchTimeout)
	assert.Equal(t, 10*time.Second, cfg.Kafka.WriteTimeout)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	t.Run("applies defaults for empty values", func(t *testing.T) {
		t.Parallel()

		cfg := Config{}
		cfg.Validate()

		assert.Equal(t, DefaultTopic, cfg.Kafka.Topic)
		// RequiredAcks=0 is valid (no acks required), so it's not overwritten
		assert.Equal(t, 0, cfg.Kafka.RequiredAcks)
		assert.Equal(t, "snappy", cfg.Kafka.Compression)
		assert.Equal(t, 100, cfg.Kafka.BatchSize)
		assert.Equal(t, time.Second, cfg.Kafka.BatchTimeout)
	})

	t.Run("preserves valid custom values", func(t *testing.T) {
		t.Parallel()

		cfg := Config{Kafka: KafkaConfig{
			Topic:        "custom",
			RequiredAcks: -1,
			Compression:  "zstd",
			BatchSize:    5,
		}}
		cfg.Validate()

		assert.Equal(t, "custom", cfg.Kafka.Topic)
		assert.Equal(t, -1, cfg.Kafka.RequiredAcks)
		assert.Equal(t, "zstd", cfg.Kafka.Compression)
		assert.Equal(t, 5, cfg.Kafka.BatchSize)
	})

	t.Run("resets out of range acks", func(t *testing.T) {
		t.Parallel()

		cfg := Config{Kafka: KafkaConfig{RequiredAcks: 7}}
		cfg.Validate()
		assert.Equal(t, 1, cfg.Kafka.RequiredAcks)
	})
}

func TestConfigHasPublisher(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
		want bool
	}{
		{"disabled", Config{Kafka: KafkaConfig{Brokers: []string{"k:9092"}}}, false},
		{"no brokers", Config{Enabled: true}, false},
		{"enabled with brokers", Config{Enabled: true, Kafka: KafkaConfig{Brokers: []string{"k:9092"}}}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, tc.cfg.HasPublisher())
		})
	}
}

func TestSaramaConfig(t *testing.T) {
	t.Parallel()

	c := SaramaConfig(KafkaConfig{
		RequiredAcks:  -1,
		Compression:   "lz4",
		SASLEnabled:   true,
		SASLMechanism: "SCRAM-SHA-512",
		SASLUsername:  "user",
		SASLPassword:  "pass",
		TLS:           true,
	})

	assert.Equal(t, sarama.WaitForAll, c.Producer.RequiredAcks)
	assert.Equal(t, sarama.CompressionLZ4, c.Producer.Compression)
	assert.True(t, c.Producer.Return.Successes)
	assert.True(t, c.Net.TLS.Enable)
	assert.True(t, c.Net.SASL.Enable)
	assert.Equal(t, sarama.SASLMechanism(sarama.SASLTypeSCRAMSHA512), c.Net.SASL.Mechanism)
	assert.NotNil(t, c.Net.SASL.SCRAMClientGeneratorFunc())
}

func TestNewPublisher_DisabledIsNoop(t *testing.T) {
	t.Parallel()

	p, err := NewPublisher(Config{})
	assert.NoError(t, err)
	assert.IsType(t, NoopPublisher{}, p)
}

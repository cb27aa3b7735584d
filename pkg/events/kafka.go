// Copyright 2025 NovaDrive Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kaihere14/novadrive/pkg/logger"
	"github.com/kaihere14/novadrive/pkg/types"

	"github.com/IBM/sarama"
)

// Compile-time interface verification
var _ Publisher = (*KafkaPublisher)(nil)

// KafkaConfig configures the Kafka publisher.
type KafkaConfig struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`

	// Topic is the Kafka topic for events (default: "novadrive-files").
	Topic string `mapstructure:"topic"`

	// RequiredAcks: 0=none, 1=leader, -1=all (default: 1).
	RequiredAcks int `mapstructure:"required_acks"`

	// Compression: "none", "gzip", "snappy", "lz4", "zstd" (default: "snappy").
	Compression string `mapstructure:"compression"`

	// WriteTimeout is the timeout for write operations (default: 10s).
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// TLS enables TLS for broker connections.
	TLS bool `mapstructure:"tls"`

	// TLSSkipVerify skips TLS certificate verification (for testing).
	TLSSkipVerify bool `mapstructure:"tls_skip_verify"`
}

// DefaultKafkaConfig returns a KafkaConfig with sensible defaults.
func DefaultKafkaConfig(brokers []string) KafkaConfig {
	return KafkaConfig{
		Brokers:      brokers,
		Topic:        "novadrive-files",
		RequiredAcks: 1,
		Compression:  "snappy",
		WriteTimeout: 10 * time.Second,
	}
}

// KafkaPublisher publishes file events to Kafka using sarama.
// Messages are keyed by owner so one owner's events stay ordered.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaPublisher creates a new Kafka publisher using sarama.
func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker is required")
	}
	if cfg.Topic == "" {
		cfg.Topic = "novadrive-files"
	}

	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	switch cfg.RequiredAcks {
	case 0:
		config.Producer.RequiredAcks = sarama.NoResponse
	case -1:
		config.Producer.RequiredAcks = sarama.WaitForAll
	default:
		config.Producer.RequiredAcks = sarama.WaitForLocal
	}

	switch cfg.Compression {
	case "gzip":
		config.Producer.Compression = sarama.CompressionGZIP
	case "lz4":
		config.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		config.Producer.Compression = sarama.CompressionZSTD
	case "none":
		config.Producer.Compression = sarama.CompressionNone
	default:
		config.Producer.Compression = sarama.CompressionSnappy
	}

	if cfg.WriteTimeout > 0 {
		config.Producer.Timeout = cfg.WriteTimeout
		config.Net.WriteTimeout = cfg.WriteTimeout
		config.Net.ReadTimeout = cfg.WriteTimeout
	}

	if cfg.TLS {
		config.Net.TLS.Enable = true
		config.Net.TLS.Config = &tls.Config{
			InsecureSkipVerify: cfg.TLSSkipVerify,
		}
	}

	config.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, fmt.Errorf("kafka producer creation failed: %w", err)
	}

	logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Str("compression", cfg.Compression).
		Msg("kafka event publisher connected")

	return &KafkaPublisher{
		producer: producer,
		topic:    cfg.Topic,
	}, nil
}

// PublishFileCompleted sends a file.completed event to Kafka.
func (p *KafkaPublisher) PublishFileCompleted(ctx context.Context, file *types.FileRecord) error {
	start := time.Now()

	data, err := json.Marshal(NewFileCompletedEvent(file))
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(file.OwnerID),
		Value: sarama.ByteEncoder(data),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		EventsPublishedTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("kafka publish: %w", err)
	}

	EventsPublishedTotal.WithLabelValues("ok").Inc()
	EventsDeliveryDuration.Observe(time.Since(start).Seconds())

	logger.Ctx(ctx).Debug().
		Str("topic", p.topic).
		Str("file_id", file.ID).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("published file event to kafka")
	return nil
}

// Close closes the Kafka producer.
func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

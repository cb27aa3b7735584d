// Copyright 2025 NovaDrive Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaihere14/novadrive/pkg/types"
)

func testFile() *types.FileRecord {
	return &types.FileRecord{
		ID:        "file-1",
		OwnerID:   "owner-1",
		Name:      "photo.png",
		MimeType:  "image/png",
		Size:      2048,
		ObjectKey: "uploads/owner-1/sess-1/photo.png",
		AIStatus:  types.AIPending,
	}
}

func TestKafkaConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg := DefaultKafkaConfig([]string{"localhost:9092"})
	assert.Equal(t, "novadrive-files", cfg.Topic)
	assert.Equal(t, 1, cfg.RequiredAcks)
	assert.Equal(t, "snappy", cfg.Compression)
	assert.Equal(t, 10*time.Second, cfg.WriteTimeout)
}

func TestNewKafkaPublisher_RequiresBrokers(t *testing.T) {
	t.Parallel()

	_, err := NewKafkaPublisher(KafkaConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one Kafka broker is required")
}

func TestKafkaPublisher_PublishFileCompleted(t *testing.T) {
	t.Parallel()

	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	mock := mocks.NewSyncProducer(t, config)

	mock.ExpectSendMessageWithCheckerFunctionAndSucceed(func(raw []byte) error {
		var event FileCompletedEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			return err
		}
		assert.Equal(t, "file.completed", event.EventType)
		assert.Equal(t, "file-1", event.FileID)
		assert.Equal(t, "owner-1", event.OwnerID)
		assert.Equal(t, int64(2048), event.Size)
		return nil
	})

	pub := &KafkaPublisher{producer: mock, topic: "novadrive-files"}
	require.NoError(t, pub.PublishFileCompleted(context.Background(), testFile()))
	require.NoError(t, pub.Close())
}

func TestKafkaPublisher_PublishError(t *testing.T) {
	t.Parallel()

	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	mock := mocks.NewSyncProducer(t, config)
	mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	pub := &KafkaPublisher{producer: mock, topic: "novadrive-files"}
	err := pub.PublishFileCompleted(context.Background(), testFile())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka publish")
	require.NoError(t, pub.Close())
}

func TestNopPublisher(t *testing.T) {
	t.Parallel()

	var pub Publisher = NopPublisher{}
	assert.NoError(t, pub.PublishFileCompleted(context.Background(), testFile()))
	assert.NoError(t, pub.Close())
}

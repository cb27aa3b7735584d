// Copyright 2025 NovaDrive Authors
// SPDX-License-Identifier: Apache-2.0

// Package events publishes file lifecycle notifications for downstream
// consumers (search indexers, audit trails, client sync).
package events

import (
	"context"
	"time"

	"github.com/kaihere14/novadrive/pkg/debug"
	"github.com/kaihere14/novadrive/pkg/types"

	"github.com/prometheus/client_golang/prometheus"
)

// FileCompletedEvent is emitted once per finished upload, after the file
// record exists and before enrichment settles.
type FileCompletedEvent struct {
	EventType string    `json:"event_type"`
	FileID    string    `json:"file_id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	MimeType  string    `json:"mime_type"`
	Size      int64     `json:"size"`
	ObjectKey string    `json:"object_key"`
	At        time.Time `json:"at"`
}

const eventTypeFileCompleted = "file.completed"

// NewFileCompletedEvent builds the wire event for a finished file.
func NewFileCompletedEvent(file *types.FileRecord) FileCompletedEvent {
	return FileCompletedEvent{
		EventType: eventTypeFileCompleted,
		FileID:    file.ID,
		OwnerID:   file.OwnerID,
		Name:      file.Name,
		MimeType:  file.MimeType,
		Size:      file.Size,
		ObjectKey: file.ObjectKey,
		At:        time.Now().UTC(),
	}
}

// Publisher delivers file lifecycle events.
type Publisher interface {
	PublishFileCompleted(ctx context.Context, file *types.FileRecord) error
	Close() error
}

// NopPublisher discards all events. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishFileCompleted(ctx context.Context, file *types.FileRecord) error {
	return nil
}

func (NopPublisher) Close() error { return nil }

var (
	// EventsPublishedTotal tracks published events by outcome
	EventsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "novadrive",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Total number of events published",
	}, []string{"outcome"}) // outcome: "ok", "error"

	// EventsDeliveryDuration tracks broker delivery time
	EventsDeliveryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "novadrive",
		Subsystem: "events",
		Name:      "delivery_duration_seconds",
		Help:      "Time spent delivering events to the broker",
		Buckets:   prometheus.DefBuckets,
	})
)

func init() {
	debug.Registry().MustRegister(EventsPublishedTotal, EventsDeliveryDuration)
}

// Copyright 2025 NovaDrive Authors
// SPDX-License-Identifier: Apache-2.0

// Package enrich implements the asynchronous enrichment pipeline.
//
// Stage one (extract) prepares model input from the stored object: presigned
// read URLs for images, extracted text for documents, bare metadata for
// everything else. It then enqueues exactly one type-specific tagging task.
// Stage two (tag) calls the model, parses the strict JSON reply, and records
// tags and a summary on the file.
//
// The pipeline is forward-only. A file moves pending -> processing ->
// completed or failed, and a failed stage never enqueues follow-up work.
package enrich

import (
	"context"
	"errors"
	"fmt"

	"github.com/kaihere14/novadrive/pkg/logger"
	"github.com/kaihere14/novadrive/pkg/taskqueue"
	"github.com/kaihere14/novadrive/pkg/types"
)

// Pipeline errors.
var (
	ErrExtractionFailed   = errors.New("content extraction failed")
	ErrTaggingParseFailed = errors.New("tagging reply is not valid tagging JSON")
	ErrModelCallFailed    = errors.New("model call failed")
)

// ExtractPayload is the payload of an extraction task.
type ExtractPayload struct {
	FileID    string `json:"file_id"`
	FileName  string `json:"file_name"`
	MimeType  string `json:"mime_type"`
	ObjectKey string `json:"object_key"`
}

// TagPayload is the payload of a tagging task. Exactly one of Text or
// ImageURL is set for document and image tagging; generic tagging carries
// neither and works from name and mime type alone.
type TagPayload struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// Pipeline enqueues extraction work when an upload finishes.
type Pipeline struct {
	queue taskqueue.Queue
}

// NewPipeline creates the enrichment entry point on top of a task queue.
func NewPipeline(queue taskqueue.Queue) *Pipeline {
	return &Pipeline{queue: queue}
}

// TriggerEnrichment schedules stage one for a freshly completed file.
// The file is expected to be in the pending state.
func (p *Pipeline) TriggerEnrichment(ctx context.Context, file *types.FileRecord) error {
	payload, err := taskqueue.MarshalPayload(ExtractPayload{
		FileID:    file.ID,
		FileName:  file.Name,
		MimeType:  file.MimeType,
		ObjectKey: file.ObjectKey,
	})
	if err != nil {
		return fmt.Errorf("marshal extract payload: %w", err)
	}

	// Single attempt: a pipeline failure is terminal for the file, never
	// re-enqueued against the model.
	task := &taskqueue.Task{
		Type:       taskqueue.TaskTypeExtract,
		Payload:    payload,
		MaxRetries: 1,
	}
	if err := p.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("enqueue extraction: %w", err)
	}

	logger.Ctx(ctx).Debug().
		Str("file_id", file.ID).
		Str("task_id", task.ID).
		Str("mime_type", file.MimeType).
		Msg("enrich: extraction scheduled")
	return nil
}

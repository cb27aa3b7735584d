// Copyright 2025 NovaDrive Authors
// SPDX-License-Identifier: Apache-2.0

package enrich

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/kaihere14/novadrive/pkg/files"
	"github.com/kaihere14/novadrive/pkg/logger"
	"github.com/kaihere14/novadrive/pkg/objstore"
	"github.com/kaihere14/novadrive/pkg/taskqueue"
	"github.com/kaihere14/novadrive/pkg/types"
)

const (
	// maxExtractChars caps the text forwarded to the model.
	maxExtractChars = 10000

	// maxFetchBytes caps how much of an object extraction will download.
	maxFetchBytes = 32 << 20

	// readURLExpiry is the lifetime of presigned read URLs handed to the
	// model. Must outlive queue backoff so a retried tagging task still
	// has a valid URL.
	readURLExpiry = 1 * time.Hour
)

// Compile-time interface verification
var _ taskqueue.Handler = (*ExtractHandler)(nil)

// ExtractHandler is stage one of the pipeline. It moves the file to
// processing, prepares model input from the stored object, and enqueues
// exactly one tagging task chosen by mime type.
type ExtractHandler struct {
	queue   taskqueue.Queue
	files   files.Store
	backend objstore.Backend
	client  *http.Client
}

// NewExtractHandler creates the extraction stage.
func NewExtractHandler(queue taskqueue.Queue, store files.Store, backend objstore.Backend) *ExtractHandler {
	return &ExtractHandler{
		queue:   queue,
		files:   store,
		backend: backend,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (h *ExtractHandler) Type() taskqueue.TaskType {
	return taskqueue.TaskTypeExtract
}

func (h *ExtractHandler) Handle(ctx context.Context, task *taskqueue.Task) error {
	payload, err := taskqueue.UnmarshalPayload[ExtractPayload](task.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", taskqueue.ErrInvalidPayload, err)
	}

	if skip, err := claimProcessing(ctx, h.files, payload.FileID); err != nil || skip {
		return err
	}

	tagPayload := TagPayload{
		FileID:   payload.FileID,
		FileName: payload.FileName,
		MimeType: payload.MimeType,
	}

	var tagType taskqueue.TaskType
	switch {
	case strings.HasPrefix(payload.MimeType, "image/"):
		url, err := h.backend.PresignGet(ctx, payload.ObjectKey, readURLExpiry)
		if err != nil {
			return failOrRetry(ctx, h.files, task, payload.FileID,
				fmt.Errorf("%w: presign read: %v", ErrExtractionFailed, err))
		}
		tagPayload.ImageURL = url
		tagType = taskqueue.TaskTypeTagImage

	case isDocumentMime(payload.MimeType):
		text, err := h.extractText(ctx, payload)
		if err != nil {
			return failOrRetry(ctx, h.files, task, payload.FileID,
				fmt.Errorf("%w: %v", ErrExtractionFailed, err))
		}
		tagPayload.Text = text
		tagType = taskqueue.TaskTypeTagDocument

	default:
		// No usable content. Tag from name and mime type alone.
		tagType = taskqueue.TaskTypeTagGeneric
	}

	raw, err := taskqueue.MarshalPayload(tagPayload)
	if err != nil {
		return failOrRetry(ctx, h.files, task, payload.FileID,
			fmt.Errorf("%w: marshal tag payload: %v", ErrExtractionFailed, err))
	}
	if err := h.queue.Enqueue(ctx, &taskqueue.Task{Type: tagType, Payload: raw, MaxRetries: 1}); err != nil {
		return failOrRetry(ctx, h.files, task, payload.FileID,
			fmt.Errorf("enqueue %s: %w", tagType, err))
	}

	logger.Ctx(ctx).Debug().
		Str("file_id", payload.FileID).
		Str("tag_type", string(tagType)).
		Msg("enrich: extraction done")
	return nil
}

// extractText downloads the object and pulls plain text out of it.
func (h *ExtractHandler) extractText(ctx context.Context, payload ExtractPayload) (string, error) {
	url, err := h.backend.PresignGet(ctx, payload.ObjectKey, readURLExpiry)
	if err != nil {
		return "", fmt.Errorf("presign read: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch object: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch object: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", fmt.Errorf("read object: %w", err)
	}

	if payload.MimeType == "application/pdf" {
		return pdfText(data)
	}
	return truncate(string(data)), nil
}

func pdfText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("parse pdf: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("pdf text: %w", err)
	}
	text, err := io.ReadAll(io.LimitReader(plain, maxExtractChars))
	if err != nil {
		return "", fmt.Errorf("pdf text: %w", err)
	}
	return string(text), nil
}

func truncate(s string) string {
	if len(s) > maxExtractChars {
		return s[:maxExtractChars]
	}
	return s
}

func isDocumentMime(mime string) bool {
	if mime == "application/pdf" {
		return true
	}
	if strings.HasPrefix(mime, "text/") {
		return true
	}
	switch mime {
	case "application/json", "application/xml", "application/javascript",
		"application/x-yaml", "application/yaml":
		return true
	}
	return false
}

// claimProcessing moves the file to processing. It reports skip=true when
// the task must be dropped without work: the file is gone, or its pipeline
// already reached a terminal state. A file already in processing belongs to
// a retried attempt and continues.
func claimProcessing(ctx context.Context, store files.Store, fileID string) (skip bool, err error) {
	switch err := store.SetAIProcessing(ctx, fileID); {
	case err == nil:
		return false, nil
	case errors.Is(err, files.ErrNotFound):
		logger.Ctx(ctx).Warn().Str("file_id", fileID).Msg("enrich: file vanished before extraction")
		return true, nil
	case errors.Is(err, types.ErrTerminalState):
		rec, gerr := store.Get(ctx, fileID)
		if gerr != nil {
			return true, nil
		}
		if rec.AIStatus == types.AIProcessing {
			return false, nil
		}
		logger.Ctx(ctx).Debug().
			Str("file_id", fileID).
			Str("ai_status", string(rec.AIStatus)).
			Msg("enrich: pipeline already settled, dropping task")
		return true, nil
	default:
		return false, err
	}
}

// failOrRetry lets transient errors ride the queue's retry budget. Only the
// final attempt settles the file as failed; failure is terminal and no
// follow-up stage runs after it.
func failOrRetry(ctx context.Context, store files.Store, task *taskqueue.Task, fileID string, err error) error {
	if task.Attempts+1 >= task.MaxRetries {
		if ferr := store.SetAIFailed(ctx, fileID); ferr != nil && !errors.Is(ferr, files.ErrNotFound) {
			logger.Ctx(ctx).Error().Err(ferr).
				Str("file_id", fileID).
				Msg("enrich: could not record terminal failure")
		}
	}
	return err
}

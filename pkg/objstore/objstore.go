// Copyright 2025 NovaDrive Authors
// SPDX-License-Identifier: Apache-2.0

// Package objstore abstracts the destination object store.
//
// The store is an external collaborator with multipart-upload semantics:
// parts are written under short-lived single-part grants and assembled by a
// completion call that requires ascending, contiguous part numbers.
package objstore

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"
)

// DefaultGrantTTL bounds how long a transfer grant stays usable.
const DefaultGrantTTL = 10 * time.Minute

var (
	ErrUnknownUpload = errors.New("unknown multipart upload")
	ErrInvalidPart   = errors.New("invalid part")
	// ErrPartOrder is returned by Complete when parts are not in ascending
	// part-number order.
	ErrPartOrder = errors.New("parts must be in ascending order")
)

// Grant is a short-lived, single-use authorization to write one part.
type Grant struct {
	URL        string      `json:"url"`
	Method     string      `json:"method"`
	Header     http.Header `json:"header,omitempty"`
	PartNumber int32       `json:"part_number"`
	ExpiresAt  time.Time   `json:"expires_at"`
}

// CompletedPart pairs a part number with the receipt the store returned for it.
type CompletedPart struct {
	PartNumber int32
	ETag       string
}

// Backend is the object store contract the upload subsystem depends on.
// Part numbers are 1-based, per multipart convention.
type Backend interface {
	// CreateMultipartUpload starts a multipart upload and returns its id.
	CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error)

	// PresignUploadPart returns a transfer grant for a single part.
	PresignUploadPart(ctx context.Context, key, uploadID string, partNumber int32, expiry time.Duration) (Grant, error)

	// UploadPart writes one part and returns its receipt (ETag).
	UploadPart(ctx context.Context, key, uploadID string, partNumber int32, body io.Reader) (string, error)

	// CompleteMultipartUpload assembles the object from parts, which must be
	// ascending by part number, and returns the object ETag.
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []CompletedPart) (string, error)

	// AbortMultipartUpload discards an in-progress upload and its parts.
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error

	// PresignGet returns a short-lived read URL for a finished object.
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

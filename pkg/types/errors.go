// Copyright 2025 NovaDrive Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

// Upload path errors. Session-level conditions are always surfaced to the
// caller; chunk-level transfer failures are retried by the coordinator first.
var (
	ErrInvalidPlan          = errors.New("invalid upload plan")
	ErrUnknownSession       = errors.New("unknown upload session")
	ErrChunkIndexOutOfRange = errors.New("chunk index out of range")
	ErrMissingReceipt       = errors.New("transfer reported success without a receipt")
	ErrSessionExpired       = errors.New("upload session expired")
	ErrSessionClosed        = errors.New("upload session already closed")
	ErrTerminalState        = errors.New("enrichment status is terminal")
)

// QuotaExceededError is returned when a declared upload would push the
// caller past the rolling-window byte limit.
type QuotaExceededError struct {
	Limit     int64
	Used      int64
	Attempted int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: used %s of %s, attempted %s",
		humanize.IBytes(uint64(e.Used)),
		humanize.IBytes(uint64(e.Limit)),
		humanize.IBytes(uint64(e.Attempted)))
}

// IncompleteUploadError lists the chunk indices that still lack receipts.
// The caller retries only these indices, never the whole file.
type IncompleteUploadError struct {
	Missing []int
}

func (e *IncompleteUploadError) Error() string {
	return fmt.Sprintf("upload incomplete: %d chunk(s) missing %v", len(e.Missing), e.Missing)
}

// Copyright 2025 NovaDrive Authors
// SPDX-License-Identifier: Apache-2.0

package types

import "time"

// SessionStatus is the lifecycle state of an upload session.
type SessionStatus string

const (
	SessionInitiated SessionStatus = "initiated"
	SessionUploading SessionStatus = "uploading"
	SessionMerging   SessionStatus = "merging"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionExpired   SessionStatus = "expired"
)

// Terminal reports whether the status accepts no further mutation.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionExpired
}

// Default upload plan parameters.
const (
	DefaultChunkSize  = 5 * 1024 * 1024 // 5 MiB
	MinChunkSize      = 1024 * 1024
	MaxChunkSize      = 100 * 1024 * 1024
	SessionTTL        = 24 * time.Hour
	FingerprintPrefix = 4 * 1024 * 1024 // fingerprint covers the leading 4 MiB only
)

// UploadSession is one attempt to land one file through the chunked pipeline.
// Received chunk indices and per-chunk receipts are kept by the session store
// as sparse sets, not inline.
type UploadSession struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`

	// Declared plan
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size"`
	ContentType string `json:"content_type"`
	ChunkSize   int64  `json:"chunk_size"`
	TotalChunks int    `json:"total_chunks"`

	// Storage target
	ObjectKey string `json:"object_key"`
	UploadID  string `json:"upload_id"` // external multipart transfer id

	// Fingerprint is the dedup hash the session was initiated with, kept so
	// completion can release the index record. Empty if none was supplied.
	Fingerprint string `json:"fingerprint,omitempty"`

	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// ExpiredAt reports whether the session must be treated as expired at now,
// regardless of its last recorded status.
func (s *UploadSession) ExpiredAt(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// PlanChunks returns the chunk count for a size/chunkSize pair:
// ceil(size / chunkSize).
func PlanChunks(size, chunkSize int64) int {
	if chunkSize <= 0 {
		return 0
	}
	return int((size + chunkSize - 1) / chunkSize)
}

// ChunkRange returns the byte range [off, off+n) covered by chunk index i.
// The last chunk may be shorter than chunkSize.
func ChunkRange(i int, size, chunkSize int64) (off, n int64) {
	off = int64(i) * chunkSize
	n = chunkSize
	if off+n > size {
		n = size - off
	}
	return off, n
}

// Receipt is the opaque proof-of-write for one chunk.
type Receipt struct {
	Index int    `json:"index"`
	ETag  string `json:"etag"`

	// Duplicate marks a replayed submission for an index that already has a
	// receipt. The replay is a no-op success, never an error.
	Duplicate bool `json:"duplicate,omitempty"`
}

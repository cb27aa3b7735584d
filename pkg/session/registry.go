// Copyright 2025 NovaDrive Authors
// SPDX-License-Identifier: Apache-2.0

// Package session implements the upload session registry and its state
// machine: initiated -> uploading -> merging -> completed | failed, with a
// time-based expired state that supersedes any non-terminal state lazily at
// access time.
package session

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/kaihere14/novadrive/pkg/fingerprint"
	"github.com/kaihere14/novadrive/pkg/files"
	"github.com/kaihere14/novadrive/pkg/logger"
	"github.com/kaihere14/novadrive/pkg/objstore"
	"github.com/kaihere14/novadrive/pkg/quota"
	"github.com/kaihere14/novadrive/pkg/types"
)

// Plan is the client-declared upload plan validated at initiation.
type Plan struct {
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size"`
	ContentType string `json:"content_type"`
	ChunkSize   int64  `json:"chunk_size"`
	TotalChunks int    `json:"total_chunks"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// Validate checks internal consistency: totalChunks must equal
// ceil(fileSize / chunkSize) and sizes must be positive and bounded.
func (p *Plan) Validate() error {
	if p.FileName == "" || p.FileSize <= 0 {
		return types.ErrInvalidPlan
	}
	if p.ChunkSize < types.MinChunkSize || p.ChunkSize > types.MaxChunkSize {
		return types.ErrInvalidPlan
	}
	if p.TotalChunks != types.PlanChunks(p.FileSize, p.ChunkSize) {
		return types.ErrInvalidPlan
	}
	return nil
}

// EnrichmentTrigger starts the asynchronous enrichment pipeline for a file.
// Fire-and-forget from the finalize path: a trigger failure is logged, never
// surfaced as an upload failure.
type EnrichmentTrigger interface {
	TriggerEnrichment(ctx context.Context, file *types.FileRecord) error
}

// EventPublisher emits upload-completed events for downstream consumers.
type EventPublisher interface {
	PublishFileCompleted(ctx context.Context, file *types.FileRecord) error
}

// Registry coordinates session lifecycle, dedup, quota, chunk receipts and
// finalization. It is the only component that mutates session state.
type Registry struct {
	store    Store
	index    *fingerprint.Index
	ledger   *quota.Ledger
	backend  objstore.Backend
	files    files.Store
	enricher EnrichmentTrigger
	events   EventPublisher

	grantTTL time.Duration
	now      func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithEnrichment sets the enrichment trigger invoked after finalize.
func WithEnrichment(e EnrichmentTrigger) Option {
	return func(r *Registry) { r.enricher = e }
}

// WithEvents sets the completion event publisher.
func WithEvents(p EventPublisher) Option {
	return func(r *Registry) { r.events = p }
}

// WithGrantTTL overrides the transfer grant lifetime.
func WithGrantTTL(ttl time.Duration) Option {
	return func(r *Registry) { r.grantTTL = ttl }
}

// WithClock overrides the time source, for expiry tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry wires a Registry from its collaborators.
func NewRegistry(store Store, index *fingerprint.Index, ledger *quota.Ledger, backend objstore.Backend, fileStore files.Store, opts ...Option) *Registry {
	r := &Registry{
		store:    store,
		index:    index,
		ledger:   ledger,
		backend:  backend,
		files:    fileStore,
		grantTTL: objstore.DefaultGrantTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Initiate validates the plan, reserves quota, opens the external multipart
// transfer and persists the session. A fresh fingerprint record is always
// bound to the new session when the plan carries a fingerprint.
func (r *Registry) Initiate(ctx context.Context, ownerID string, plan Plan) (*types.UploadSession, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	// Admission gate: reservation at declare time, not metering at transfer
	// time. No refund if the session is later abandoned.
	if err := r.ledger.CheckAndReserve(ctx, ownerID, plan.FileSize); err != nil {
		return nil, err
	}

	sessionID := uuid.New().String()
	objectKey := fmt.Sprintf("uploads/%s/%s/%s", ownerID, sessionID, plan.FileName)

	uploadID, err := r.backend.CreateMultipartUpload(ctx, objectKey, plan.ContentType)
	if err != nil {
		return nil, fmt.Errorf("open transfer: %w", err)
	}

	now := r.now()
	sess := &types.UploadSession{
		ID:          sessionID,
		OwnerID:     ownerID,
		FileName:    plan.FileName,
		FileSize:    plan.FileSize,
		ContentType: plan.ContentType,
		ChunkSize:   plan.ChunkSize,
		TotalChunks: plan.TotalChunks,
		ObjectKey:   objectKey,
		UploadID:    uploadID,
		Fingerprint: plan.Fingerprint,
		Status:      types.SessionInitiated,
		CreatedAt:   now,
		ExpiresAt:   now.Add(types.SessionTTL),
	}
	if err := r.store.Create(ctx, sess); err != nil {
		return nil, err
	}

	if plan.Fingerprint != "" {
		if err := r.index.Bind(ctx, ownerID, plan.FileSize, plan.Fingerprint, sessionID); err != nil {
			// Dedup is an optimization; a failed bind must not fail initiation.
			logger.Ctx(ctx).Warn().Err(err).Str("session_id", sessionID).Msg("session: fingerprint bind failed")
		}
	}

	logger.Ctx(ctx).Info().
		Str("session_id", sessionID).
		Str("owner_id", ownerID).
		Int64("size", plan.FileSize).
		Int("chunks", plan.TotalChunks).
		Msg("session: initiated")

	return sess, nil
}

// CheckFingerprint resolves a fingerprint to an in-flight or completed
// session. Callers finding exists=true inspect the session status instead of
// re-uploading.
func (r *Registry) CheckFingerprint(ctx context.Context, ownerID string, size int64, fp string) (string, types.SessionStatus, bool, error) {
	sessionID, ok, err := r.index.Check(ctx, ownerID, size, fp)
	if err != nil || !ok {
		return "", "", false, err
	}
	sess, err := r.store.Get(ctx, sessionID)
	if err != nil {
		// Session aged out under the fingerprint record; treat as a miss.
		return "", "", false, nil
	}
	status := sess.Status
	if !status.Terminal() && sess.ExpiredAt(r.now()) {
		status = types.SessionExpired
	}
	return sessionID, status, true, nil
}

// load fetches a session and applies lazy expiry.
func (r *Registry) load(ctx context.Context, sessionID string) (*types.UploadSession, error) {
	sess, err := r.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Status.Terminal() && sess.ExpiredAt(r.now()) {
		return nil, types.ErrSessionExpired
	}
	return sess, nil
}

// Grant issues a fresh short-lived transfer grant for one chunk index.
func (r *Registry) Grant(ctx context.Context, sessionID string, index int) (objstore.Grant, error) {
	sess, err := r.load(ctx, sessionID)
	if err != nil {
		return objstore.Grant{}, err
	}
	if sess.Status.Terminal() {
		return objstore.Grant{}, types.ErrSessionClosed
	}
	if index < 0 || index >= sess.TotalChunks {
		return objstore.Grant{}, types.ErrChunkIndexOutOfRange
	}
	return r.backend.PresignUploadPart(ctx, sess.ObjectKey, sess.UploadID, int32(index+1), r.grantTTL)
}

// ReceiveChunk writes one chunk to the staging transfer and records its
// receipt. Replaying an index that already holds a receipt is a no-op
// success marked Duplicate, never an error.
func (r *Registry) ReceiveChunk(ctx context.Context, sessionID string, index int, body io.Reader) (types.Receipt, error) {
	sess, err := r.load(ctx, sessionID)
	if err != nil {
		return types.Receipt{}, err
	}
	if sess.Status.Terminal() {
		return types.Receipt{}, types.ErrSessionClosed
	}
	if index < 0 || index >= sess.TotalChunks {
		return types.Receipt{}, types.ErrChunkIndexOutOfRange
	}

	// A replay must not touch the staging area: overwriting the part would
	// orphan the recorded etag and fail the assembly later.
	if existing, ok, err := r.store.Receipt(ctx, sessionID, index); err != nil {
		return types.Receipt{}, err
	} else if ok {
		return types.Receipt{Index: index, ETag: existing, Duplicate: true}, nil
	}

	etag, err := r.backend.UploadPart(ctx, sess.ObjectKey, sess.UploadID, int32(index+1), body)
	if err != nil {
		return types.Receipt{}, fmt.Errorf("chunk %d: %w", index, err)
	}
	if etag == "" {
		return types.Receipt{}, types.ErrMissingReceipt
	}

	already, existing, err := r.store.MarkReceived(ctx, sessionID, index, etag)
	if err != nil {
		return types.Receipt{}, err
	}
	if already {
		return types.Receipt{Index: index, ETag: existing, Duplicate: true}, nil
	}

	if sess.Status == types.SessionInitiated {
		if err := r.store.SetStatus(ctx, sessionID, types.SessionUploading); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("session_id", sessionID).Msg("session: uploading transition failed")
		}
	}

	return types.Receipt{Index: index, ETag: etag}, nil
}

// Finalize assembles the object in ascending chunk-index order, creates the
// FileRecord and fires the enrichment pipeline. Missing receipts abort with
// IncompleteUploadError listing exactly the indices to retry.
func (r *Registry) Finalize(ctx context.Context, sessionID string) (*types.FileRecord, error) {
	sess, err := r.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return nil, types.ErrSessionClosed
	}

	received, err := r.store.ReceivedIndices(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if missing := missingIndices(received, sess.TotalChunks); len(missing) > 0 {
		return nil, &types.IncompleteUploadError{Missing: missing}
	}

	if err := r.store.SetStatus(ctx, sessionID, types.SessionMerging); err != nil {
		return nil, err
	}

	receipts, err := r.store.Receipts(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	// Receipts arrive in any order; the destination requires ascending,
	// contiguous part numbers. Receipts() already sorts by index.
	parts := make([]objstore.CompletedPart, len(receipts))
	for i, rec := range receipts {
		parts[i] = objstore.CompletedPart{PartNumber: int32(rec.Index + 1), ETag: rec.ETag}
	}

	if _, err := r.backend.CompleteMultipartUpload(ctx, sess.ObjectKey, sess.UploadID, parts); err != nil {
		if serr := r.store.SetStatus(ctx, sessionID, types.SessionFailed); serr != nil {
			logger.Ctx(ctx).Error().Err(serr).Str("session_id", sessionID).Msg("session: failed transition failed")
		}
		return nil, fmt.Errorf("assemble object: %w", err)
	}

	now := r.now()
	file := &types.FileRecord{
		ID:        uuid.New().String(),
		OwnerID:   sess.OwnerID,
		Name:      sess.FileName,
		MimeType:  sess.ContentType,
		Size:      sess.FileSize,
		ObjectKey: sess.ObjectKey,
		Tags:      []string{},
		AIStatus:  types.AIPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.files.Create(ctx, file); err != nil {
		return nil, fmt.Errorf("create file record: %w", err)
	}

	if err := r.store.SetStatus(ctx, sessionID, types.SessionCompleted); err != nil {
		return nil, err
	}
	r.releaseFingerprint(ctx, sess)

	if r.enricher != nil {
		if err := r.enricher.TriggerEnrichment(ctx, file); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("file_id", file.ID).Msg("session: enrichment trigger failed")
		}
	}
	if r.events != nil {
		if err := r.events.PublishFileCompleted(ctx, file); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("file_id", file.ID).Msg("session: completion event failed")
		}
	}

	logger.Ctx(ctx).Info().
		Str("session_id", sessionID).
		Str("file_id", file.ID).
		Int("chunks", sess.TotalChunks).
		Msg("session: completed")

	return file, nil
}

// SessionStatus is the observable progress of a session.
type SessionStatus struct {
	Status          types.SessionStatus `json:"status"`
	ReceivedIndices []int               `json:"received_indices"`
	TotalChunks     int                 `json:"total_chunks"`
}

// Status reports session progress. Observing a completed session also
// releases its fingerprint record, as a safety net against cleanup races.
// An expired session is reported as expired rather than its stale status.
func (r *Registry) Status(ctx context.Context, sessionID string) (*SessionStatus, error) {
	sess, err := r.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	received, err := r.store.ReceivedIndices(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	status := sess.Status
	if status == types.SessionCompleted {
		r.releaseFingerprint(ctx, sess)
	} else if !status.Terminal() && sess.ExpiredAt(r.now()) {
		// Expiry supersedes non-terminal states only.
		status = types.SessionExpired
	}

	return &SessionStatus{
		Status:          status,
		ReceivedIndices: received,
		TotalChunks:     sess.TotalChunks,
	}, nil
}

func (r *Registry) releaseFingerprint(ctx context.Context, sess *types.UploadSession) {
	if sess.Fingerprint == "" {
		return
	}
	if err := r.index.Release(ctx, sess.OwnerID, sess.FileSize, sess.Fingerprint); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("session_id", sess.ID).Msg("session: fingerprint release failed")
	}
}

// missingIndices returns the indices in [0, total) absent from the sorted
// received slice.
func missingIndices(received []int, total int) []int {
	var missing []int
	next := 0
	for _, idx := range received {
		for next < idx && next < total {
			missing = append(missing, next)
			next++
		}
		if idx == next {
			next++
		}
	}
	for ; next < total; next++ {
		missing = append(missing, next)
	}
	return missing
}

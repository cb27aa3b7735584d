// Copyright 2025 NovaDrive Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kaihere14/novadrive/pkg/files"
	"github.com/kaihere14/novadrive/pkg/session"
	"github.com/kaihere14/novadrive/pkg/types"
)

// Handlers serves the upload coordination API.
type Handlers struct {
	registry *session.Registry
	files    files.Store

	// maxChunkBody bounds PUT chunk bodies. Defaults to MaxChunkSize.
	maxChunkBody int64
}

// NewHandlers wires the API handlers.
func NewHandlers(registry *session.Registry, fileStore files.Store) *Handlers {
	return &Handlers{
		registry:     registry,
		files:        fileStore,
		maxChunkBody: types.MaxChunkSize,
	}
}

type initiateResponse struct {
	SessionID   string    `json:"session_id"`
	ObjectKey   string    `json:"object_key"`
	ChunkSize   int64     `json:"chunk_size"`
	TotalChunks int       `json:"total_chunks"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Initiate handles POST /uploads.
func (h *Handlers) Initiate(w http.ResponseWriter, r *http.Request) {
	var plan session.Plan
	if err := json.NewDecoder(r.Body).Decode(&plan); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed plan")
		return
	}

	sess, err := h.registry.Initiate(r.Context(), OwnerFromContext(r.Context()), plan)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, initiateResponse{
		SessionID:   sess.ID,
		ObjectKey:   sess.ObjectKey,
		ChunkSize:   sess.ChunkSize,
		TotalChunks: sess.TotalChunks,
		ExpiresAt:   sess.ExpiresAt,
	})
}

type fingerprintRequest struct {
	Fingerprint string `json:"fingerprint"`
	FileSize    int64  `json:"file_size"`
}

type fingerprintResponse struct {
	Exists    bool                `json:"exists"`
	SessionID string              `json:"session_id,omitempty"`
	Status    types.SessionStatus `json:"status,omitempty"`
}

// CheckFingerprint handles POST /uploads/fingerprint.
func (h *Handlers) CheckFingerprint(w http.ResponseWriter, r *http.Request) {
	var req fingerprintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed request")
		return
	}
	if req.Fingerprint == "" || req.FileSize <= 0 {
		writeJSONError(w, http.StatusBadRequest, "fingerprint and file_size are required")
		return
	}

	sessionID, status, exists, err := h.registry.CheckFingerprint(
		r.Context(), OwnerFromContext(r.Context()), req.FileSize, req.Fingerprint)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, fingerprintResponse{
		Exists:    exists,
		SessionID: sessionID,
		Status:    status,
	})
}

type grantResponse struct {
	URL        string    `json:"url"`
	Method     string    `json:"method"`
	PartNumber int32     `json:"part_number"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Grant handles POST /uploads/{sessionID}/grants/{index}.
func (h *Handlers) Grant(w http.ResponseWriter, r *http.Request) {
	index, ok := h.chunkIndex(w, r)
	if !ok {
		return
	}

	grant, err := h.registry.Grant(r.Context(), chi.URLParam(r, "sessionID"), index)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, grantResponse{
		URL:        grant.URL,
		Method:     grant.Method,
		PartNumber: grant.PartNumber,
		ExpiresAt:  grant.ExpiresAt,
	})
}

type receiptResponse struct {
	Index     int    `json:"index"`
	ETag      string `json:"etag"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// ReceiveChunk handles PUT /uploads/{sessionID}/chunks/{index}.
// Replaying an already received index returns 200 with duplicate=true.
func (h *Handlers) ReceiveChunk(w http.ResponseWriter, r *http.Request) {
	index, ok := h.chunkIndex(w, r)
	if !ok {
		return
	}

	body := http.MaxBytesReader(w, r.Body, h.maxChunkBody)
	receipt, err := h.registry.ReceiveChunk(r.Context(), chi.URLParam(r, "sessionID"), index, body)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, receiptResponse{
		Index:     receipt.Index,
		ETag:      receipt.ETag,
		Duplicate: receipt.Duplicate,
	})
}

type fileResponse struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	MimeType string         `json:"mime_type"`
	Size     int64          `json:"size"`
	Tags     []string       `json:"tags"`
	Summary  string         `json:"summary,omitempty"`
	AIStatus types.AIStatus `json:"ai_status"`
}

func toFileResponse(file *types.FileRecord) fileResponse {
	return fileResponse{
		ID:       file.ID,
		Name:     file.Name,
		MimeType: file.MimeType,
		Size:     file.Size,
		Tags:     file.Tags,
		Summary:  file.Summary,
		AIStatus: file.AIStatus,
	}
}

// Finalize handles POST /uploads/{sessionID}/complete.
func (h *Handlers) Finalize(w http.ResponseWriter, r *http.Request) {
	file, err := h.registry.Finalize(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toFileResponse(file))
}

// Status handles GET /uploads/{sessionID}.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.registry.Status(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// GetFile handles GET /files/{fileID}. Clients poll it to watch enrichment
// settle.
func (h *Handlers) GetFile(w http.ResponseWriter, r *http.Request) {
	file, err := h.files.Get(r.Context(), chi.URLParam(r, "fileID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if file.OwnerID != OwnerFromContext(r.Context()) {
		writeJSONError(w, http.StatusNotFound, files.ErrNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, toFileResponse(file))
}

func (h *Handlers) chunkIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "chunk index must be an integer")
		return 0, false
	}
	return index, true
}

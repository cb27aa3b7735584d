// Copyright 2025 NovaDrive Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kaihere14/novadrive/pkg/files"
	"github.com/kaihere14/novadrive/pkg/logger"
	"github.com/kaihere14/novadrive/pkg/types"
)

type errorResponse struct {
	Error          string `json:"error"`
	MissingIndices []int  `json:"missing_indices,omitempty"`
	QuotaLimit     int64  `json:"quota_limit,omitempty"`
	QuotaUsed      int64  `json:"quota_used,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeError maps domain errors onto HTTP statuses. Unknown errors become
// opaque 500s; their detail stays in the logs.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var quotaErr *types.QuotaExceededError
	var incomplete *types.IncompleteUploadError

	switch {
	case errors.Is(err, types.ErrInvalidPlan),
		errors.Is(err, types.ErrChunkIndexOutOfRange):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &quotaErr):
		writeJSON(w, http.StatusTooManyRequests, errorResponse{
			Error:      err.Error(),
			QuotaLimit: quotaErr.Limit,
			QuotaUsed:  quotaErr.Used,
		})
	case errors.Is(err, types.ErrUnknownSession), errors.Is(err, files.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, types.ErrSessionExpired):
		writeJSONError(w, http.StatusGone, err.Error())
	case errors.Is(err, types.ErrSessionClosed):
		writeJSONError(w, http.StatusConflict, err.Error())
	case errors.As(err, &incomplete):
		writeJSON(w, http.StatusConflict, errorResponse{
			Error:          err.Error(),
			MissingIndices: incomplete.Missing,
		})
	case errors.Is(err, types.ErrMissingReceipt):
		writeJSONError(w, http.StatusBadGateway, err.Error())
	default:
		logger.Ctx(r.Context()).Error().Err(err).Msg("api: internal error")
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

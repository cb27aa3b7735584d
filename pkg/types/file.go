// Copyright 2025 NovaDrive Authors
// SPDX-License-Identifier: Apache-2.0

package types

import "time"

// AIStatus tracks how far the enrichment pipeline got for a file.
// It only moves forward: pending -> processing -> completed | failed.
type AIStatus string

const (
	AIPending    AIStatus = "pending"
	AIProcessing AIStatus = "processing"
	AICompleted  AIStatus = "completed"
	AIFailed     AIStatus = "failed"
)

// Terminal reports whether the status accepts no further pipeline mutation.
func (s AIStatus) Terminal() bool {
	return s == AICompleted || s == AIFailed
}

// FileRecord is the durable metadata entity created when an upload session
// completes. Tags, Summary and AIStatus are owned by the enrichment pipeline;
// name/folder/favourite belong to CRUD collaborators outside this subsystem.
type FileRecord struct {
	ID        string `json:"id"`
	OwnerID   string `json:"owner_id"`
	Name      string `json:"name"`
	MimeType  string `json:"mime_type"`
	Size      int64  `json:"size"`
	ObjectKey string `json:"object_key"`

	FolderID  string `json:"folder_id,omitempty"`
	Favourite bool   `json:"favourite"`

	Tags     []string `json:"tags"`
	Summary  string   `json:"summary"`
	AIStatus AIStatus `json:"ai_status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

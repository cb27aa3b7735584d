// Copyright 2025 NovaDrive Authors
// SPDX-License-Identifier: Apache-2.0

package files

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kaihere14/novadrive/pkg/types"
)

// Schema creates the files table. Applied by the server at startup.
const Schema = `
CREATE TABLE IF NOT EXISTS files (
	id          TEXT PRIMARY KEY,
	owner_id    TEXT NOT NULL,
	name        TEXT NOT NULL,
	mime_type   TEXT NOT NULL,
	size        BIGINT NOT NULL,
	object_key  TEXT NOT NULL,
	folder_id   TEXT NOT NULL DEFAULT '',
	favourite   BOOLEAN NOT NULL DEFAULT FALSE,
	tags        TEXT[] NOT NULL DEFAULT '{}',
	summary     TEXT NOT NULL DEFAULT '',
	ai_status   TEXT NOT NULL DEFAULT 'pending',
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_files_owner ON files (owner_id);
`

// PGStore implements Store on PostgreSQL. AIStatus transitions are enforced
// with conditional updates: a guard mismatch affects zero rows and surfaces
// types.ErrTerminalState.
type PGStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PGStore)(nil)

// NewPGStore wraps an existing connection pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Migrate applies the files schema.
func (s *PGStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate files: %w", err)
	}
	return nil
}

func (s *PGStore) Create(ctx context.Context, file *types.FileRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO files (id, owner_id, name, mime_type, size, object_key,
			folder_id, favourite, tags, summary, ai_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		file.ID, file.OwnerID, file.Name, file.MimeType, file.Size, file.ObjectKey,
		file.FolderID, file.Favourite, file.Tags, file.Summary, file.AIStatus,
		file.CreatedAt, file.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, id string) (*types.FileRecord, error) {
	var file types.FileRecord
	err := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, name, mime_type, size, object_key,
			folder_id, favourite, tags, summary, ai_status, created_at, updated_at
		FROM files WHERE id = $1`, id,
	).Scan(&file.ID, &file.OwnerID, &file.Name, &file.MimeType, &file.Size,
		&file.ObjectKey, &file.FolderID, &file.Favourite, &file.Tags,
		&file.Summary, &file.AIStatus, &file.CreatedAt, &file.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select file: %w", err)
	}
	return &file, nil
}

func (s *PGStore) SetAIProcessing(ctx context.Context, id string) error {
	return s.guarded(ctx, id, `
		UPDATE files SET ai_status = 'processing', updated_at = now()
		WHERE id = $1 AND ai_status = 'pending'`)
}

func (s *PGStore) SetEnrichment(ctx context.Context, id string, tags []string, summary string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE files SET tags = $2, summary = $3, ai_status = 'completed', updated_at = now()
		WHERE id = $1 AND ai_status = 'processing'`, id, tags, summary)
	if err != nil {
		return fmt.Errorf("update enrichment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.guardFailure(ctx, id)
	}
	return nil
}

func (s *PGStore) SetAIFailed(ctx context.Context, id string) error {
	return s.guarded(ctx, id, `
		UPDATE files SET ai_status = 'failed', updated_at = now()
		WHERE id = $1 AND ai_status IN ('pending', 'processing')`)
}

func (s *PGStore) guarded(ctx context.Context, id, query string) error {
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("update ai status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.guardFailure(ctx, id)
	}
	return nil
}

// guardFailure distinguishes a missing row from a refused transition.
func (s *PGStore) guardFailure(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	return types.ErrTerminalState
}

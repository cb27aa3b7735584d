// Copyright 2025 NovaDrive Authors
// SPDX-License-Identifier: Apache-2.0

// Package files persists FileRecord metadata. The enrichment pipeline is the
// only writer of tags/summary/ai_status, and transitions are enforced
// forward-only at the store layer so a stale or replayed job can never
// regress a terminal state.
package files

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kaihere14/novadrive/pkg/types"
)

// ErrNotFound is returned when no FileRecord exists for the id.
var ErrNotFound = errors.New("file record not found")

// Store is the FileRecord persistence contract.
type Store interface {
	// Create inserts a new record. AIStatus starts at pending.
	Create(ctx context.Context, file *types.FileRecord) error

	// Get loads a record by id.
	Get(ctx context.Context, id string) (*types.FileRecord, error)

	// SetAIProcessing moves pending -> processing. Any other current status
	// returns types.ErrTerminalState and mutates nothing.
	SetAIProcessing(ctx context.Context, id string) error

	// SetEnrichment records tags/summary and moves processing -> completed.
	SetEnrichment(ctx context.Context, id string, tags []string, summary string) error

	// SetAIFailed moves pending|processing -> failed. Failure is terminal:
	// nothing re-enqueues the pipeline for this file.
	SetAIFailed(ctx context.Context, id string) error
}

// MemoryStore is an in-memory Store for testing.
type MemoryStore struct {
	mu    sync.Mutex
	files map[string]*types.FileRecord
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{files: make(map[string]*types.FileRecord)}
}

func (s *MemoryStore) Create(ctx context.Context, file *types.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *file
	s.files[file.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*types.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, ok := s.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *file
	cp.Tags = append([]string(nil), file.Tags...)
	return &cp, nil
}

func (s *MemoryStore) SetAIProcessing(ctx context.Context, id string) error {
	return s.transition(id, func(f *types.FileRecord) error {
		if f.AIStatus != types.AIPending {
			return types.ErrTerminalState
		}
		f.AIStatus = types.AIProcessing
		return nil
	})
}

func (s *MemoryStore) SetEnrichment(ctx context.Context, id string, tags []string, summary string) error {
	return s.transition(id, func(f *types.FileRecord) error {
		if f.AIStatus != types.AIProcessing {
			return types.ErrTerminalState
		}
		f.Tags = append([]string(nil), tags...)
		f.Summary = summary
		f.AIStatus = types.AICompleted
		return nil
	})
}

func (s *MemoryStore) SetAIFailed(ctx context.Context, id string) error {
	return s.transition(id, func(f *types.FileRecord) error {
		if f.AIStatus.Terminal() {
			return types.ErrTerminalState
		}
		f.AIStatus = types.AIFailed
		return nil
	})
}

func (s *MemoryStore) transition(id string, fn func(*types.FileRecord) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, ok := s.files[id]
	if !ok {
		return ErrNotFound
	}
	if err := fn(file); err != nil {
		return err
	}
	file.UpdatedAt = time.Now()
	return nil
}

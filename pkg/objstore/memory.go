// Copyright 2025 NovaDrive Authors
// SPDX-License-Identifier: Apache-2.0

package objstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Compile-time interface verification
var _ Backend = (*MemoryBackend)(nil)

type memoryUpload struct {
	key         string
	contentType string
	parts       map[int32][]byte
	etags       map[int32]string
}

// MemoryBackend is an in-memory implementation of Backend for testing.
// Completion concatenates parts in ascending part-number order, so tests can
// assert the assembly-order invariant on the final object bytes.
type MemoryBackend struct {
	mu      sync.Mutex
	uploads map[string]*memoryUpload
	objects map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		uploads: make(map[string]*memoryUpload),
		objects: make(map[string][]byte),
	}
}

func (b *MemoryBackend) CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	uploadID := uuid.New().String()
	b.uploads[uploadID] = &memoryUpload{
		key:         key,
		contentType: contentType,
		parts:       make(map[int32][]byte),
		etags:       make(map[int32]string),
	}
	return uploadID, nil
}

func (b *MemoryBackend) PresignUploadPart(ctx context.Context, key, uploadID string, partNumber int32, expiry time.Duration) (Grant, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.uploads[uploadID]; !ok {
		return Grant{}, ErrUnknownUpload
	}
	if expiry <= 0 {
		expiry = DefaultGrantTTL
	}
	return Grant{
		URL:        fmt.Sprintf("mem://%s/%s?uploadId=%s&partNumber=%d", key, uuid.New().String(), uploadID, partNumber),
		Method:     "PUT",
		PartNumber: partNumber,
		ExpiresAt:  time.Now().Add(expiry),
	}, nil
}

func (b *MemoryBackend) UploadPart(ctx context.Context, key, uploadID string, partNumber int32, body io.Reader) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	up, ok := b.uploads[uploadID]
	if !ok {
		return "", ErrUnknownUpload
	}
	if partNumber < 1 {
		return "", ErrInvalidPart
	}

	sum := md5.Sum(data)
	etag := `"` + hex.EncodeToString(sum[:]) + `"`
	up.parts[partNumber] = data
	up.etags[partNumber] = etag
	return etag, nil
}

func (b *MemoryBackend) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []CompletedPart) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	up, ok := b.uploads[uploadID]
	if !ok {
		return "", ErrUnknownUpload
	}

	var buf bytes.Buffer
	var prev int32
	for _, p := range parts {
		if p.PartNumber <= prev {
			return "", ErrPartOrder
		}
		prev = p.PartNumber
		data, ok := up.parts[p.PartNumber]
		if !ok || up.etags[p.PartNumber] != p.ETag {
			return "", ErrInvalidPart
		}
		buf.Write(data)
	}

	b.objects[key] = buf.Bytes()
	delete(b.uploads, uploadID)

	sum := md5.Sum(buf.Bytes())
	return `"` + hex.EncodeToString(sum[:]) + `"`, nil
}

func (b *MemoryBackend) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.uploads[uploadID]; !ok {
		return ErrUnknownUpload
	}
	delete(b.uploads, uploadID)
	return nil
}

func (b *MemoryBackend) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.objects[key]; !ok {
		return "", ErrUnknownUpload
	}
	return "mem://" + key, nil
}

// Object returns the assembled bytes for key, for test assertions.
func (b *MemoryBackend) Object(key string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, ok := b.objects[key]
	return data, ok
}

// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/LeeDigitalWorks/zapupload/pkg/types"

	"github.com/google/uuid"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store for tests and local runs.
// NOT for production use - nothing is persisted.
type MemoryStore struct {
	mu      sync.Mutex
	uploads map[string]*memUpload
	objects map[string][]byte

	// ListPartsHook, when set, may rewrite the parts a ListParts call
	// returns. attempt counts calls per upload starting at 1.
	ListPartsHook func(uploadID string, attempt int, parts []types.MultipartPart) []types.MultipartPart

	listCalls map[string]int
}

type memUpload struct {
	bucket, key string
	parts       map[int32][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		uploads:   make(map[string]*memUpload),
		objects:   make(map[string][]byte),
		listCalls: make(map[string]int),
	}
}

func (m *MemoryStore) OpenMultipart(ctx context.Context, bucket, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.uploads[id] = &memUpload{bucket: bucket, key: key, parts: make(map[int32][]byte)}
	return id, nil
}

func (m *MemoryStore) UploadPart(ctx context.Context, in PartInput) (string, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	up, ok := m.uploads[in.UploadID]
	if !ok || up.bucket != in.Bucket || up.key != in.Key {
		return "", ErrUploadNotFound
	}
	up.parts[in.PartNumber] = data
	return etag(data), nil
}

func (m *MemoryStore) ListParts(ctx context.Context, bucket, key, uploadID string) ([]types.MultipartPart, error) {
	m.mu.Lock()
	up, ok := m.uploads[uploadID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrUploadNotFound
	}
	parts := make([]types.MultipartPart, 0, len(up.parts))
	for n, data := range up.parts {
		parts = append(parts, types.MultipartPart{PartNumber: n, Size: int64(len(data)), ETag: etag(data)})
	}
	m.listCalls[uploadID]++
	attempt := m.listCalls[uploadID]
	hook := m.ListPartsHook
	m.mu.Unlock()

	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })
	if hook != nil {
		parts = hook(uploadID, attempt, parts)
	}
	return parts, nil
}

// ListCalls returns how many times ListParts ran for uploadID.
func (m *MemoryStore) ListCalls(uploadID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listCalls[uploadID]
}

func (m *MemoryStore) CombineParts(ctx context.Context, bucket, key, uploadID string, parts []types.MultipartPart) (types.CombinedObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	up, ok := m.uploads[uploadID]
	if !ok {
		return types.CombinedObject{}, ErrUploadNotFound
	}

	var buf bytes.Buffer
	for _, p := range parts {
		data, ok := up.parts[p.PartNumber]
		if !ok {
			return types.CombinedObject{}, fmt.Errorf("part %d not uploaded", p.PartNumber)
		}
		buf.Write(data)
	}
	m.objects[bucket+"/"+key] = buf.Bytes()
	delete(m.uploads, uploadID)

	return types.CombinedObject{
		Bucket:    bucket,
		Key:       key,
		VersionID: uuid.NewString(),
		ETag:      etag(buf.Bytes()),
	}, nil
}

func (m *MemoryStore) AbortMultipart(ctx context.Context, bucket, key, uploadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.uploads[uploadID]; !ok {
		return ErrUploadNotFound
	}
	delete(m.uploads, uploadID)
	return nil
}

// Uploads returns the number of open multipart uploads.
func (m *MemoryStore) Uploads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.uploads)
}

// PutObject stores data directly, bypassing multipart.
func (m *MemoryStore) PutObject(bucket, key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+key] = data
}

func (m *MemoryStore) Object(bucket, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucket+"/"+key]
	return data, ok
}

func (m *MemoryStore) Download(ctx context.Context, bucket, key, dest string) (int64, error) {
	data, ok := m.Object(bucket, key)
	if !ok {
		return 0, ErrObjectNotFound
	}
	return writeFile(dest, bytes.NewReader(data))
}

func (m *MemoryStore) PresignPart(ctx context.Context, bucket, key, uploadID string, partNumber int32) (string, error) {
	return fmt.Sprintf("memory://%s/%s?uploadId=%s&partNumber=%d", bucket, key, uploadID, partNumber), nil
}

func (m *MemoryStore) LocationURI(bucket, key string) string {
	return fmt.Sprintf("memory://%s/%s", bucket, key)
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func etag(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

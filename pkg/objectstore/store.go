// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package objectstore is the multipart object storage the uploads land in.
package objectstore

import (
	"context"
	"errors"
	"io"

	"github.com/LeeDigitalWorks/zapupload/pkg/types"
)

var (
	ErrUploadNotFound = errors.New("multipart upload not found")
	ErrObjectNotFound = errors.New("object not found")
)

// PartInput is one chunk to store as a multipart part.
type PartInput struct {
	Bucket     string
	Key        string
	UploadID   string
	PartNumber int32
	Size       int64
	Body       io.ReadSeeker
}

// Store is a multipart-capable object store.
type Store interface {
	// OpenMultipart starts a multipart upload and returns its id.
	OpenMultipart(ctx context.Context, bucket, key string) (string, error)

	// UploadPart stores one part and returns its ETag.
	UploadPart(ctx context.Context, in PartInput) (string, error)

	// ListParts returns the parts visible so far, in part-number order.
	ListParts(ctx context.Context, bucket, key, uploadID string) ([]types.MultipartPart, error)

	// CombineParts completes the upload from parts.
	CombineParts(ctx context.Context, bucket, key, uploadID string, parts []types.MultipartPart) (types.CombinedObject, error)

	AbortMultipart(ctx context.Context, bucket, key, uploadID string) error

	// Download writes the object to dest and returns the byte count.
	Download(ctx context.Context, bucket, key, dest string) (int64, error)

	// PresignPart returns a URL the client can PUT one part to directly.
	PresignPart(ctx context.Context, bucket, key, uploadID string, partNumber int32) (string, error)

	// LocationURI is the catalog location of an object.
	LocationURI(bucket, key string) string

	Ping(ctx context.Context) error
}

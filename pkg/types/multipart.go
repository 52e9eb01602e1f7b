// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package types

import "strings"

// MultipartUpload identifies an open multipart upload in the object store.
type MultipartUpload struct {
	Bucket   string `json:"bucket"`
	Key      string `json:"key"`
	UploadID string `json:"upload_id"`
}

// MultipartPart is one uploaded chunk as reported by the object store.
type MultipartPart struct {
	PartNumber int32  `json:"part_number"`
	Size       int64  `json:"size"`
	ETag       string `json:"etag"`
	// Checksum is the base64 part checksum when the upload was opened with
	// a checksum algorithm.
	Checksum string `json:"checksum,omitempty"`
}

// TrimETag strips the quotes object stores wrap around ETags.
func TrimETag(etag string) string {
	return strings.Trim(etag, `"`)
}

// CombinedObject is the result of completing a multipart upload.
type CombinedObject struct {
	Bucket    string `json:"bucket"`
	Key       string `json:"key"`
	VersionID string `json:"version_id"`
	ETag      string `json:"etag"`
}

// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/LeeDigitalWorks/zapupload/pkg/s3client"
	"github.com/LeeDigitalWorks/zapupload/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 answers the handful of multipart calls S3Store makes.
type fakeS3 struct {
	mu       sync.Mutex
	requests []string
	complete string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f.mu.Lock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/xml")
	switch {
	case r.Method == http.MethodPost && q.Has("uploads"):
		io.WriteString(w, `<InitiateMultipartUploadResult><Bucket>gr-proj</Bucket><Key>a.txt</Key><UploadId>up-1</UploadId></InitiateMultipartUploadResult>`)
	case r.Method == http.MethodGet && q.Get("uploadId") != "":
		io.WriteString(w, `<ListPartsResult><Bucket>gr-proj</Bucket><Key>a.txt</Key><UploadId>up-1</UploadId>`+
			`<IsTruncated>false</IsTruncated>`+
			`<Part><PartNumber>2</PartNumber><ETag>"bbb"</ETag><Size>5</Size></Part>`+
			`<Part><PartNumber>1</PartNumber><ETag>"aaa"</ETag><Size>10</Size></Part>`+
			`</ListPartsResult>`)
	case r.Method == http.MethodPost && q.Get("uploadId") != "":
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.complete = string(body)
		f.mu.Unlock()
		w.Header().Set("x-amz-version-id", "v-1")
		io.WriteString(w, `<CompleteMultipartUploadResult><Bucket>gr-proj</Bucket><Key>a.txt</Key><ETag>"final"</ETag></CompleteMultipartUploadResult>`)
	case r.Method == http.MethodDelete:
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func newTestS3Store(t *testing.T) (*fakeS3, *S3Store) {
	t.Helper()
	fake := &fakeS3{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	pool := s3client.NewPool(0, 0)
	t.Cleanup(func() { pool.Close() })

	store, err := NewS3Store(context.Background(), pool, S3Config{
		Internal: s3client.Config{
			Endpoint:        strings.TrimPrefix(srv.URL, "http://"),
			AccessKeyID:     "key",
			SecretAccessKey: "secret",
			PathStyle:       true,
		},
	})
	require.NoError(t, err)
	return fake, store
}

func TestS3Store_OpenMultipart(t *testing.T) {
	t.Parallel()
	_, store := newTestS3Store(t)

	id, err := store.OpenMultipart(context.Background(), "gr-proj", "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "up-1", id)
}

func TestS3Store_ListParts_SortedAndUnquoted(t *testing.T) {
	t.Parallel()
	_, store := newTestS3Store(t)

	parts, err := store.ListParts(context.Background(), "gr-proj", "a.txt", "up-1")
	require.NoError(t, err)
	assert.Equal(t, []types.MultipartPart{
		{PartNumber: 1, Size: 10, ETag: "aaa"},
		{PartNumber: 2, Size: 5, ETag: "bbb"},
	}, parts)
}

func TestS3Store_CombineParts(t *testing.T) {
	t.Parallel()
	fake, store := newTestS3Store(t)

	obj, err := store.CombineParts(context.Background(), "gr-proj", "a.txt", "up-1", []types.MultipartPart{
		{PartNumber: 2, ETag: "bbb"},
		{PartNumber: 1, ETag: "aaa"},
	})
	require.NoError(t, err)
	assert.Equal(t, "v-1", obj.VersionID)
	assert.Equal(t, "final", obj.ETag)

	fake.mu.Lock()
	body := fake.complete
	fake.mu.Unlock()
	assert.Less(t, strings.Index(body, "<PartNumber>1</PartNumber>"), strings.Index(body, "<PartNumber>2</PartNumber>"))
}

func TestS3Store_AbortMultipart(t *testing.T) {
	t.Parallel()
	_, store := newTestS3Store(t)
	require.NoError(t, store.AbortMultipart(context.Background(), "gr-proj", "a.txt", "up-1"))
}

func TestS3Store_LocationURI(t *testing.T) {
	t.Parallel()
	store := &S3Store{config: S3Config{
		Internal:       s3client.Config{Endpoint: "minio:9000"},
		LocationScheme: "minio",
	}}
	assert.Equal(t, "minio://minio:9000/core-proj/admin/a.txt", store.LocationURI("core-proj", "admin/a.txt"))
}

func TestS3Store_PresignPart(t *testing.T) {
	t.Parallel()
	_, store := newTestS3Store(t)

	url, err := store.PresignPart(context.Background(), "gr-proj", "a.txt", "up-1", 3)
	require.NoError(t, err)
	assert.Contains(t, url, "partNumber=3")
	assert.Contains(t, url, "uploadId=up-1")
	assert.Contains(t, url, "X-Amz-Signature=")
}

// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"context"
	"fmt"

	"github.com/LeeDigitalWorks/zapupload/pkg/apierr"
	"github.com/LeeDigitalWorks/zapupload/pkg/logger"
	"github.com/LeeDigitalWorks/zapupload/pkg/objectstore"
	"github.com/LeeDigitalWorks/zapupload/pkg/types"

	"golang.org/x/text/unicode/norm"
)

// S3 part numbers run from 1 to 10000.
const maxPartNumber = 10000

func validPartNumber(n int32) bool {
	return n >= 1 && n <= maxPartNumber
}

// UploadChunk stores one chunk as a multipart part. When the write fails
// the job is marked FAILED with the error before the error is returned.
func (c *Coordinator) UploadChunk(ctx context.Context, req types.ChunkRequest) error {
	if !validPartNumber(req.ResumableChunkNumber) {
		return apierr.New(apierr.ErrInvalidPayload, fmt.Sprintf("resumable_chunk_number must be between 1 and %d", maxPartNumber))
	}
	if req.Body == nil || req.ResumableIdentifier == "" || req.ProjectCode == "" {
		return apierr.New(apierr.ErrInvalidPayload, "chunk_data, resumable_identifier and project_code are required")
	}

	name := norm.NFC.String(req.ResumableFilename)
	key := types.JoinKey(req.ResumableRelativePath, name)
	log := logger.Ctx(ctx).With().
		Str("session_id", req.SessionID).
		Str("key", key).
		Int32("chunk", req.ResumableChunkNumber).
		Logger()

	etag, err := c.deps.Store.UploadPart(ctx, objectstore.PartInput{
		Bucket:     c.Bucket(req.ProjectCode),
		Key:        key,
		UploadID:   req.ResumableIdentifier,
		PartNumber: req.ResumableChunkNumber,
		Size:       req.Size,
		Body:       req.Body,
	})
	if err != nil {
		ChunksTotal.WithLabelValues("failed").Inc()
		log.Error().Err(err).Msg("failed to upload chunk")
		if jobID := c.chunkJobID(ctx, req); jobID != "" {
			c.failJob(ctx, req.SessionID, jobID, err)
		} else {
			log.Warn().Str("resumable_identifier", req.ResumableIdentifier).Msg("no job matches failed chunk")
		}
		return apierr.Wrap(apierr.ErrInternal, err, err.Error())
	}

	ChunksTotal.WithLabelValues("succeed").Inc()
	ChunkBytesTotal.Add(float64(req.Size))
	log.Debug().Str("etag", etag).Int64("size", req.Size).Msg("chunk uploaded")
	return nil
}

// chunkJobID names the job a chunk belongs to. Clients that omit job_id
// are matched on the resumable identifier recorded at pre-upload.
func (c *Coordinator) chunkJobID(ctx context.Context, req types.ChunkRequest) string {
	if req.JobID != "" {
		return req.JobID
	}
	recs, err := c.deps.Jobs.List(context.WithoutCancel(ctx), req.SessionID)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("session_id", req.SessionID).Msg("cannot list jobs for failed chunk")
		return ""
	}
	for _, rec := range recs {
		if id, _ := rec.Payload[types.PayloadResumableIdentifier].(string); id == req.ResumableIdentifier {
			return rec.JobID
		}
	}
	return ""
}

// failJob records cause on the job and moves it to FAILED. Failing to do
// so is logged; the caller still reports cause.
func (c *Coordinator) failJob(ctx context.Context, sessionID, jobID string, cause error) {
	ctx = context.WithoutCancel(ctx)
	log := logger.Ctx(ctx).With().Str("session_id", sessionID).Str("job_id", jobID).Logger()

	j, err := c.deps.Jobs.Load(ctx, sessionID, jobID)
	if err != nil {
		log.Warn().Err(err).Msg("cannot record failure on job")
		return
	}
	j.AddPayload(types.PayloadErrorMsg, cause.Error())
	if err := j.SetStatus(ctx, types.StatusFailed); err != nil {
		log.Warn().Err(err).Msg("cannot mark job failed")
	}
}

// PresignPart returns a URL on the public endpoint the client can upload
// one part to directly.
func (c *Coordinator) PresignPart(ctx context.Context, bucket, key, uploadID string, partNumber int32) (string, error) {
	if bucket == "" || key == "" || uploadID == "" {
		return "", apierr.New(apierr.ErrInvalidPayload, "bucket, key and upload_id are required")
	}
	if !validPartNumber(partNumber) {
		return "", apierr.New(apierr.ErrInvalidPayload, fmt.Sprintf("chunk_number must be between 1 and %d", maxPartNumber))
	}
	u, err := c.deps.Store.PresignPart(ctx, bucket, key, uploadID, partNumber)
	if err != nil {
		return "", apierr.Wrap(apierr.ErrInternal, err, err.Error())
	}
	return u, nil
}

// ResumableStatus reports the parts already stored for each in-progress
// upload so a client can resume where it stopped.
func (c *Coordinator) ResumableStatus(ctx context.Context, q types.ResumableQuery) ([]types.ChunksInfo, error) {
	out := make([]types.ChunksInfo, 0, len(q.ObjectInfos))
	for _, info := range q.ObjectInfos {
		parts, err := c.deps.Store.ListParts(ctx, q.Bucket, info.ObjectPath, info.ResumableID)
		if err != nil {
			return nil, apierr.Wrap(apierr.ErrNotFound, err, err.Error())
		}
		chunks := make(map[int32]string, len(parts))
		for _, p := range parts {
			chunks[p.PartNumber] = p.ETag
		}
		out = append(out, types.ChunksInfo{
			ObjectPath:  info.ObjectPath,
			ResumableID: info.ResumableID,
			ChunksInfo:  chunks,
		})
	}
	return out, nil
}

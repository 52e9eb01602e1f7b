// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/LeeDigitalWorks/zapupload/pkg/s3client"
	"github.com/LeeDigitalWorks/zapupload/pkg/types"
	"github.com/LeeDigitalWorks/zapupload/pkg/utils"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Config configures S3Store.
type S3Config struct {
	Internal s3client.Config
	// Public is the endpoint presigned URLs point at. Defaults to Internal.
	Public s3client.Config

	Checksum      utils.ChecksumAlgorithm
	PresignExpiry time.Duration
	// LocationScheme prefixes catalog locations, e.g. "minio".
	LocationScheme string
}

// S3Store implements Store on any S3-compatible service.
type S3Store struct {
	client    *s3.Client
	presigner *s3.PresignClient
	config    S3Config
}

var _ Store = (*S3Store)(nil)

func NewS3Store(ctx context.Context, pool *s3client.Pool, cfg S3Config) (*S3Store, error) {
	if cfg.Public.Endpoint == "" {
		cfg.Public = cfg.Internal
	}
	if cfg.PresignExpiry <= 0 {
		cfg.PresignExpiry = time.Hour
	}
	if cfg.LocationScheme == "" {
		cfg.LocationScheme = "minio"
	}

	client, err := pool.GetClient(ctx, cfg.Internal)
	if err != nil {
		return nil, fmt.Errorf("internal s3 client: %w", err)
	}
	presigner, err := pool.GetPresignClient(ctx, cfg.Public)
	if err != nil {
		return nil, fmt.Errorf("public s3 client: %w", err)
	}

	return &S3Store{client: client, presigner: presigner, config: cfg}, nil
}

func (s *S3Store) checksumAlgorithm() s3types.ChecksumAlgorithm {
	switch s.config.Checksum {
	case utils.ChecksumSHA256:
		return s3types.ChecksumAlgorithmSha256
	case utils.ChecksumCRC64NVME:
		return s3types.ChecksumAlgorithmCrc64nvme
	}
	return ""
}

func (s *S3Store) OpenMultipart(ctx context.Context, bucket, key string) (string, error) {
	in := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if algo := s.checksumAlgorithm(); algo != "" {
		in.ChecksumAlgorithm = algo
	}
	out, err := s.client.CreateMultipartUpload(ctx, in)
	if err != nil {
		return "", fmt.Errorf("create multipart %s/%s: %w", bucket, key, err)
	}
	return aws.ToString(out.UploadId), nil
}

func (s *S3Store) UploadPart(ctx context.Context, in PartInput) (string, error) {
	req := &s3.UploadPartInput{
		Bucket:        aws.String(in.Bucket),
		Key:           aws.String(in.Key),
		UploadId:      aws.String(in.UploadID),
		PartNumber:    aws.Int32(in.PartNumber),
		ContentLength: aws.Int64(in.Size),
		Body:          in.Body,
	}

	if s.config.Checksum != utils.ChecksumNone {
		sum, err := utils.Checksum(s.config.Checksum, in.Body)
		if err != nil {
			return "", fmt.Errorf("checksum part %d: %w", in.PartNumber, err)
		}
		if _, err := in.Body.Seek(0, io.SeekStart); err != nil {
			return "", fmt.Errorf("rewind part %d: %w", in.PartNumber, err)
		}
		req.ChecksumAlgorithm = s.checksumAlgorithm()
		switch s.config.Checksum {
		case utils.ChecksumSHA256:
			req.ChecksumSHA256 = aws.String(sum)
		case utils.ChecksumCRC64NVME:
			req.ChecksumCRC64NVME = aws.String(sum)
		}
	}

	out, err := s.client.UploadPart(ctx, req)
	if err != nil {
		return "", mapError(fmt.Errorf("upload part %d of %s/%s: %w", in.PartNumber, in.Bucket, in.Key, err))
	}
	return types.TrimETag(aws.ToString(out.ETag)), nil
}

func (s *S3Store) ListParts(ctx context.Context, bucket, key, uploadID string) ([]types.MultipartPart, error) {
	var parts []types.MultipartPart
	p := s3.NewListPartsPaginator(s.client, &s3.ListPartsInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, mapError(fmt.Errorf("list parts of %s/%s: %w", bucket, key, err))
		}
		for _, part := range page.Parts {
			mp := types.MultipartPart{
				PartNumber: aws.ToInt32(part.PartNumber),
				Size:       aws.ToInt64(part.Size),
				ETag:       types.TrimETag(aws.ToString(part.ETag)),
			}
			switch s.config.Checksum {
			case utils.ChecksumSHA256:
				mp.Checksum = aws.ToString(part.ChecksumSHA256)
			case utils.ChecksumCRC64NVME:
				mp.Checksum = aws.ToString(part.ChecksumCRC64NVME)
			}
			parts = append(parts, mp)
		}
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })
	return parts, nil
}

func (s *S3Store) CombineParts(ctx context.Context, bucket, key, uploadID string, parts []types.MultipartPart) (types.CombinedObject, error) {
	completed := make([]s3types.CompletedPart, len(parts))
	for i, p := range parts {
		cp := s3types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(p.PartNumber),
		}
		switch s.config.Checksum {
		case utils.ChecksumSHA256:
			cp.ChecksumSHA256 = aws.String(p.Checksum)
		case utils.ChecksumCRC64NVME:
			cp.ChecksumCRC64NVME = aws.String(p.Checksum)
		}
		completed[i] = cp
	}
	sort.Slice(completed, func(i, j int) bool {
		return aws.ToInt32(completed[i].PartNumber) < aws.ToInt32(completed[j].PartNumber)
	})

	out, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &s3types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return types.CombinedObject{}, mapError(fmt.Errorf("complete multipart %s/%s: %w", bucket, key, err))
	}
	return types.CombinedObject{
		Bucket:    bucket,
		Key:       key,
		VersionID: aws.ToString(out.VersionId),
		ETag:      types.TrimETag(aws.ToString(out.ETag)),
	}, nil
}

func (s *S3Store) AbortMultipart(ctx context.Context, bucket, key, uploadID string) error {
	_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		return mapError(fmt.Errorf("abort multipart %s/%s: %w", bucket, key, err))
	}
	return nil
}

func (s *S3Store) Download(ctx context.Context, bucket, key, dest string) (int64, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, mapError(fmt.Errorf("get object %s/%s: %w", bucket, key, err))
	}
	defer out.Body.Close()

	return writeFile(dest, out.Body)
}

func (s *S3Store) PresignPart(ctx context.Context, bucket, key, uploadID string, partNumber int32) (string, error) {
	req, err := s.presigner.PresignUploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(bucket),
		Key:        aws.String(key),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int32(partNumber),
	}, s3.WithPresignExpires(s.config.PresignExpiry))
	if err != nil {
		return "", fmt.Errorf("presign part %d of %s/%s: %w", partNumber, bucket, key, err)
	}
	return req.URL, nil
}

func (s *S3Store) LocationURI(bucket, key string) string {
	return fmt.Sprintf("%s://%s/%s/%s", s.config.LocationScheme, s.config.Internal.Endpoint, bucket, key)
}

func (s *S3Store) Ping(ctx context.Context) error {
	_, err := s.client.ListBuckets(ctx, &s3.ListBucketsInput{MaxBuckets: aws.Int32(1)})
	return err
}

// writeFile streams r into dest through a sibling temp file so a partial
// download never appears under the final name.
func writeFile(dest string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return n, err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return n, err
	}
	return n, nil
}

func mapError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchUpload":
			return fmt.Errorf("%w: %w", ErrUploadNotFound, err)
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%w: %w", ErrObjectNotFound, err)
		}
	}
	return err
}

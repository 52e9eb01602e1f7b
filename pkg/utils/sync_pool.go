// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"encoding/base64"
	"fmt"
	"hash"
	"io"
	"sync"

	"github.com/minio/crc64nvme"
	"github.com/minio/sha256-simd"
)

// ChecksumAlgorithm selects the per-part integrity checksum sent with each
// chunk. The names match the S3 x-amz-checksum-* algorithms.
type ChecksumAlgorithm string

const (
	ChecksumNone      ChecksumAlgorithm = ""
	ChecksumSHA256    ChecksumAlgorithm = "SHA256"
	ChecksumCRC64NVME ChecksumAlgorithm = "CRC64NVME"
)

func ParseChecksumAlgorithm(s string) (ChecksumAlgorithm, error) {
	switch ChecksumAlgorithm(s) {
	case ChecksumNone, ChecksumSHA256, ChecksumCRC64NVME:
		return ChecksumAlgorithm(s), nil
	case "none":
		return ChecksumNone, nil
	}
	return "", fmt.Errorf("unsupported checksum algorithm %q", s)
}

var (
	sha256Pool = sync.Pool{
		New: func() any {
			return sha256.New()
		},
	}
	crc64nvmePool = sync.Pool{
		New: func() any {
			return crc64nvme.New()
		},
	}
)

func Sha256PoolGetHasher() hash.Hash {
	return sha256Pool.Get().(hash.Hash)
}

func Sha256PoolPutHasher(h hash.Hash) {
	h.Reset()
	sha256Pool.Put(h)
}

func Crc64nvmePoolGetHasher() hash.Hash64 {
	return crc64nvmePool.Get().(hash.Hash64)
}

func Crc64nvmePoolPutHasher(h hash.Hash64) {
	h.Reset()
	crc64nvmePool.Put(h)
}

// Checksum streams r through the pooled hasher for algo and returns the
// base64 digest, the form S3 expects in checksum headers.
func Checksum(algo ChecksumAlgorithm, r io.Reader) (string, error) {
	switch algo {
	case ChecksumSHA256:
		h := Sha256PoolGetHasher()
		defer Sha256PoolPutHasher(h)
		if _, err := io.Copy(h, r); err != nil {
			return "", err
		}
		return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
	case ChecksumCRC64NVME:
		h := Crc64nvmePoolGetHasher()
		defer Crc64nvmePoolPutHasher(h)
		if _, err := io.Copy(h, r); err != nil {
			return "", err
		}
		return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
	case ChecksumNone:
		return "", nil
	}
	return "", fmt.Errorf("unsupported checksum algorithm %q", algo)
}

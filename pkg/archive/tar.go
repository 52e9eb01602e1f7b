// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

var (
	gzipMagic  = []byte{0x1f, 0x8b}
	bzip2Magic = []byte("BZh")
	xzMagic    = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
	zstdMagic  = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

func listTar(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, closeFn, err := decompress(bufio.NewReader(f), filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalid, err)
	}
	defer closeFn()

	var entries []Entry
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errInvalid, err)
		}
		entries = append(entries, Entry{
			Name:  hdr.Name,
			IsDir: hdr.Typeflag == tar.TypeDir,
			Size:  hdr.Size,
		})
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no tar entries", errInvalid)
	}
	return entries, nil
}

// decompress wraps br in the decoder matching its leading magic bytes.
func decompress(br *bufio.Reader, ext string) (io.Reader, func(), error) {
	noop := func() {}
	head, _ := br.Peek(len(xzMagic))

	switch {
	case bytes.HasPrefix(head, gzipMagic):
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, noop, err
		}
		return zr, func() { zr.Close() }, nil
	case bytes.HasPrefix(head, bzip2Magic):
		return bzip2.NewReader(br), noop, nil
	case bytes.HasPrefix(head, xzMagic):
		xr, err := xz.NewReader(br)
		if err != nil {
			return nil, noop, err
		}
		return xr, noop, nil
	case bytes.HasPrefix(head, zstdMagic):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, noop, err
		}
		return zr, zr.Close, nil
	case bytes.HasPrefix(head, lz4Magic):
		return lz4.NewReader(br), noop, nil
	case ext == ".br" || ext == ".tbr":
		return brotli.NewReader(br), noop, nil
	}
	return br, noop, nil
}

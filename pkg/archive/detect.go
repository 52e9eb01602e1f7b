// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// mimeFormats maps detected content types to the family used to read them.
var mimeFormats = map[string]Format{
	"application/x-7z-compressed":  FormatSevenZip,
	"application/zip":              FormatZip,
	"application/x-zip-compressed": FormatZip,
	"multipart/x-zip":              FormatZip,
	"application/gzip":             FormatTar,
	"application/x-tar":            FormatTar,
	"application/x-gtar":           FormatTar,
	"application/x-bzip2":          FormatTar,
	"application/bzip2":            FormatTar,
	"application/x-brotli":         FormatTar,
	"application/x-xz":             FormatTar,
	"application/zstd":             FormatTar,
	"application/vnd.rar":          FormatRar,
	"application/x-rar-compressed": FormatRar,
	"application/x-rar":            FormatRar,
}

// extFormats maps file extensions to the family they announce. Only formats
// with a decoder are listed; lzip and .Z compress fall through as unsupported.
var extFormats = map[string]Format{
	"tar": FormatTar, "tgz": FormatTar, "tbz": FormatTar, "txz": FormatTar,
	"tzs": FormatTar, "gz": FormatTar, "br": FormatTar, "bz2": FormatTar,
	"xz": FormatTar, "zst": FormatTar, "tb2": FormatTar, "tbz2": FormatTar,
	"tz2": FormatTar,

	"rar": FormatRar, "rev": FormatRar, "r00": FormatRar, "r01": FormatRar,

	"zip": FormatZip, "zipx": FormatZip,

	"7z": FormatSevenZip,
}

// FormatForName returns the archive family announced by name's extension.
func FormatForName(name string) (Format, bool) {
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	f, ok := extFormats[ext]
	return f, ok
}

var lz4Magic = []byte{0x04, 0x22, 0x4d, 0x18}

// Detect reports the family of the file's content and its MIME type.
// Content without a recognizable signature falls back to the extension
// for brotli streams, which carry no magic number.
func Detect(path string) (Format, string, error) {
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return "", "", err
	}
	for cur := m; cur != nil; cur = cur.Parent() {
		for mime, f := range mimeFormats {
			if cur.Is(mime) {
				return f, m.String(), nil
			}
		}
	}

	head, err := readHead(path, len(lz4Magic))
	if err != nil {
		return "", m.String(), err
	}
	if bytes.HasPrefix(head, lz4Magic) {
		return FormatTar, "application/x-lz4", nil
	}
	if ext := filepath.Ext(path); ext == ".br" || ext == ".tbr" {
		return FormatTar, "application/x-brotli", nil
	}
	return "", m.String(), nil
}

func readHead(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, n)
	k, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	return buf[:k], nil
}

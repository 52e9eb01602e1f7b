// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/nwaples/rardecode/v2"
)

func listRar(path string) ([]Entry, error) {
	r, err := rardecode.OpenReader(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", errInvalid, err)
	}
	defer r.Close()

	var entries []Entry
	for {
		hdr, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errInvalid, err)
		}
		entries = append(entries, Entry{
			Name:  hdr.Name,
			IsDir: hdr.IsDir,
			Size:  hdr.UnPackedSize,
		})
	}
	return entries, nil
}

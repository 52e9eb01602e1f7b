// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"errors"
	"fmt"

	"github.com/LeeDigitalWorks/zapupload/pkg/logger"
)

var listers = map[Format]func(path string) ([]Entry, error){
	FormatZip:      listZip,
	FormatTar:      listTar,
	FormatSevenZip: listSevenZip,
	FormatRar:      listRar,
}

// Inspect builds the preview tree of the archive at path. The family is
// detected from content; a disagreeing declared family is only logged.
// Content of a known family that fails to parse yields ErrorTree rather
// than an error.
func Inspect(ctx context.Context, path string, declared Format) (Tree, error) {
	detected, mime, err := Detect(path)
	if err != nil {
		return nil, fmt.Errorf("detect archive type: %w", err)
	}

	log := logger.Ctx(ctx).With().
		Str("path", path).
		Str("declared", string(declared)).
		Str("mimetype", mime).
		Logger()

	if detected != declared {
		log.Warn().Str("detected", string(detected)).Msg("archive type does not match file content")
	}

	list, ok := listers[detected]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mime)
	}

	entries, err := list(path)
	if errors.Is(err, errInvalid) {
		log.Error().Err(err).Str("format", string(detected)).Msg("archive is malformed")
		return ErrorTree(detected), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s archive: %w", detected, err)
	}
	return BuildTree(entries), nil
}

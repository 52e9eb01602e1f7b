// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

var ErrLowDiskSpace = errors.New("insufficient scratch space")

type FreeSpaceType int

const (
	AsPercent FreeSpaceType = iota
	AsBytes
)

// FreeSpace is a minimum free-space threshold, either a percentage of the
// filesystem or an absolute byte count ("5", "2GiB").
type FreeSpace struct {
	Type    FreeSpaceType
	Bytes   uint64
	Percent float32
	Raw     string
}

func (s FreeSpace) IsLow(freeBytes uint64, freePercent float32) (bool, string) {
	switch s.Type {
	case AsPercent:
		return freePercent < s.Percent, fmt.Sprintf("disk free percent %.2f%%, threshold %.2f%%", freePercent, s.Percent)
	case AsBytes:
		return freeBytes < s.Bytes, fmt.Sprintf("disk free %s, threshold %s", humanize.IBytes(freeBytes), humanize.IBytes(s.Bytes))
	}
	return false, ""
}

func (s FreeSpace) String() string {
	switch s.Type {
	case AsPercent:
		return fmt.Sprintf("%.2f%%", s.Percent)
	default:
		return s.Raw
	}
}

func ParseMinFreeSpace(s string) (*FreeSpace, error) {
	if percent, err := strconv.ParseFloat(s, 32); err == nil {
		if percent < 0 || percent > 100 {
			return nil, fmt.Errorf("invalid percent value: %s", s)
		}
		return &FreeSpace{
			Type:    AsPercent,
			Percent: float32(percent),
			Raw:     s,
		}, nil
	}

	if bytes, err := humanize.ParseBytes(s); err == nil {
		if bytes <= 100 {
			return nil, fmt.Errorf("invalid byte value: %s", s)
		}
		return &FreeSpace{
			Type:  AsBytes,
			Bytes: bytes,
			Raw:   s,
		}, nil
	}

	return nil, errors.New("invalid min free space format")
}

// DiskFree reports available bytes and the available percentage of the
// filesystem holding path.
func DiskFree(path string) (uint64, float32, error) {
	var fs unix.Statfs_t
	if err := unix.Statfs(path, &fs); err != nil {
		return 0, 0, err
	}
	total := fs.Blocks * uint64(fs.Bsize)
	free := fs.Bavail * uint64(fs.Bsize)
	if total == 0 {
		return free, 0, nil
	}
	return free, float32(free) / float32(total) * 100, nil
}

// CheckFreeSpace returns ErrLowDiskSpace when the filesystem holding path
// cannot fit need more bytes while staying above the threshold.
func CheckFreeSpace(path string, threshold *FreeSpace, need uint64) error {
	free, pct, err := DiskFree(path)
	if err != nil {
		return err
	}
	if need > free {
		return fmt.Errorf("%w: need %s, have %s", ErrLowDiskSpace, humanize.IBytes(need), humanize.IBytes(free))
	}
	if threshold == nil {
		return nil
	}
	if low, msg := threshold.IsLow(free-need, pct); low {
		return fmt.Errorf("%w: %s", ErrLowDiskSpace, msg)
	}
	return nil
}

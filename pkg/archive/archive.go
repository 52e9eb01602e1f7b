// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package archive lists the contents of archive files as a nested tree.
//
// Each container format has an adapter that produces a flat list of
// entries; BuildTree turns any such list into the preview tree.
package archive

import (
	"errors"
	"strings"
)

// Format is an archive container family.
type Format string

const (
	FormatZip      Format = "zip"
	FormatTar      Format = "tar"
	FormatSevenZip Format = "7z"
	FormatRar      Format = "rar"
)

var ErrUnsupportedFormat = errors.New("unsupported archive format")

// errInvalid marks content that claims a format but does not parse as it.
var errInvalid = errors.New("invalid archive")

// Entry is one member of an archive.
type Entry struct {
	Name  string
	IsDir bool
	Size  int64
}

// Tree is the preview of an archive. Directory nodes are maps holding
// "is_dir": true next to their children; file leaves are maps with
// "filename", "size" and "is_dir": false.
type Tree map[string]any

// ErrorTree is the preview returned for a malformed archive.
func ErrorTree(f Format) Tree {
	return Tree{"Error: The file is not a valid " + string(f) + " file": ""}
}

// BuildTree nests entries by path segment.
func BuildTree(entries []Entry) Tree {
	root := Tree{}
	for _, e := range entries {
		name := strings.TrimPrefix(e.Name, "./")
		name = strings.TrimRight(name, "/")
		if name == "" || name == "." {
			continue
		}
		parts := strings.Split(name, "/")

		dirs, leaf := parts[:len(parts)-1], parts[len(parts)-1]
		if e.IsDir {
			dirs = parts
		}

		cur := root
		for _, p := range dirs {
			if p == "" || p == "." {
				continue
			}
			next, ok := cur[p].(Tree)
			if !ok {
				next = Tree{"is_dir": true}
				cur[p] = next
			}
			cur = next
		}

		if !e.IsDir {
			cur[leaf] = Tree{
				"filename": leaf,
				"size":     e.Size,
				"is_dir":   false,
			}
		}
	}
	return root
}

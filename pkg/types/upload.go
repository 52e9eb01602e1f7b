// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package types

import "io"

// JobType selects how a batch of files is placed.
type JobType string

const (
	JobTypeFile   JobType = "AS_FILE"
	JobTypeFolder JobType = "AS_FOLDER"
)

func (t JobType) Valid() bool {
	return t == JobTypeFile || t == JobTypeFolder
}

// FileEntry is one file announced in a pre-upload request.
type FileEntry struct {
	ResumableFilename     string `json:"resumable_filename"`
	ResumableRelativePath string `json:"resumable_relative_path"`
}

// PreUploadRequest announces a batch of files before any chunk is sent.
type PreUploadRequest struct {
	ProjectCode       string      `json:"project_code"`
	Operator          string      `json:"operator"`
	JobType           JobType     `json:"job_type"`
	Data              []FileEntry `json:"data"`
	CurrentFolderNode string      `json:"current_folder_node"`
	ParentFolderID    string      `json:"parent_folder_id"`
	Incremental       bool        `json:"incremental"`
}

// ChunkRequest carries one chunk of a file.
type ChunkRequest struct {
	SessionID             string
	JobID                 string
	ProjectCode           string
	Operator              string
	ResumableIdentifier   string
	ResumableFilename     string
	ResumableRelativePath string
	ResumableChunkNumber  int32
	Size                  int64
	Body                  io.ReadSeeker
}

// FinalizeRequest is sent once every chunk of a file has been uploaded.
type FinalizeRequest struct {
	SessionID             string   `json:"session_id"`
	ProjectCode           string   `json:"project_code"`
	Operator              string   `json:"operator"`
	JobID                 string   `json:"job_id"`
	ItemID                string   `json:"item_id"`
	ResumableIdentifier   string   `json:"resumable_identifier"`
	ResumableFilename     string   `json:"resumable_filename"`
	ResumableRelativePath string   `json:"resumable_relative_path"`
	ResumableTotalChunks  int      `json:"resumable_total_chunks"`
	ResumableTotalSize    int64    `json:"resumable_total_size"`
	Tags                  []string `json:"tags"`
}

// ObjectKey is the object path of the file below its bucket.
func (r FinalizeRequest) ObjectKey() string {
	return JoinKey(r.ResumableRelativePath, r.ResumableFilename)
}

// ObjectInfo names one in-progress multipart upload for resumable status.
type ObjectInfo struct {
	ObjectPath  string `json:"object_path"`
	ResumableID string `json:"resumable_id"`
}

type ResumableQuery struct {
	Bucket      string       `json:"bucket"`
	ObjectInfos []ObjectInfo `json:"object_infos"`
}

// ChunksInfo maps part number to ETag for one object.
type ChunksInfo struct {
	ObjectPath  string           `json:"object_path"`
	ResumableID string           `json:"resumable_id"`
	ChunksInfo  map[int32]string `json:"chunks_info"`
}

// JoinKey joins a relative path and a filename with a single slash.
func JoinKey(relativePath, name string) string {
	if relativePath == "" {
		return name
	}
	if relativePath[len(relativePath)-1] == '/' {
		return relativePath + name
	}
	return relativePath + "/" + name
}

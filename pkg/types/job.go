// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ActionDataUpload is the action recorded on every upload job.
const ActionDataUpload = "data_upload"

// JobStatus is the lifecycle state of one file's upload job.
type JobStatus int

const (
	StatusUnset JobStatus = iota - 1
	StatusWaiting
	StatusRunning
	StatusSucceed
	StatusFailed
	StatusChunkUploaded
)

var jobStatusNames = map[JobStatus]string{
	StatusWaiting:       "WAITING",
	StatusRunning:       "RUNNING",
	StatusSucceed:       "SUCCEED",
	StatusFailed:        "FAILED",
	StatusChunkUploaded: "CHUNK_UPLOADED",
}

func (s JobStatus) String() string {
	if name, ok := jobStatusNames[s]; ok {
		return name
	}
	return ""
}

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == StatusSucceed || s == StatusFailed
}

func ParseJobStatus(s string) (JobStatus, error) {
	for st, name := range jobStatusNames {
		if strings.EqualFold(name, s) {
			return st, nil
		}
	}
	return StatusUnset, fmt.Errorf("unknown job status %q", s)
}

func (s JobStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *JobStatus) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	if name == "" {
		*s = StatusUnset
		return nil
	}
	st, err := ParseJobStatus(name)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// Payload keys carried on a job record.
const (
	PayloadItemID              = "item_id"
	PayloadResumableIdentifier = "resumable_identifier"
	PayloadErrorMsg            = "error_msg"
	PayloadSourceGEID          = "source_geid"
	PayloadTaskID              = "task_id"
)

// JobRecord is the persisted form of an upload job.
type JobRecord struct {
	SessionID       string         `json:"session_id"`
	JobID           string         `json:"job_id"`
	TargetNames     []string       `json:"target_names"`
	ActionType      string         `json:"action_type"`
	Status          JobStatus      `json:"status"`
	ProjectCode     string         `json:"project_code"`
	Operator        string         `json:"operator"`
	Progress        int            `json:"progress"`
	Payload         map[string]any `json:"payload"`
	UpdateTimestamp string         `json:"update_timestamp"`
}

// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package job persists the per-file upload job and enforces its lifecycle:
//
//	WAITING -> RUNNING -> CHUNK_UPLOADED -> SUCCEED
//	              |              |
//	              +-> FAILED <---+
package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/zapupload/pkg/apierr"
	"github.com/LeeDigitalWorks/zapupload/pkg/jobstore"
	"github.com/LeeDigitalWorks/zapupload/pkg/types"
)

var (
	ErrJobIDMissing       = apierr.New(apierr.ErrInvalidPayload, "job_id not provided")
	ErrTargetNamesMissing = apierr.New(apierr.ErrInvalidPayload, "target_names not provided")
	ErrStatusMissing      = apierr.New(apierr.ErrInvalidPayload, "status not provided")
	ErrInvalidTransition  = apierr.New(apierr.ErrInvalidPayload, "invalid job status transition")
	ErrNotFound           = apierr.New(apierr.ErrNotFound, "job not found")
)

const DefaultTTL = 24 * time.Hour

var transitions = map[types.JobStatus][]types.JobStatus{
	types.StatusWaiting:       {types.StatusRunning},
	types.StatusRunning:       {types.StatusChunkUploaded, types.StatusFailed},
	types.StatusChunkUploaded: {types.StatusSucceed, types.StatusFailed},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to types.JobStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Repository creates and loads jobs against one store.
type Repository struct {
	store jobstore.Store
	ttl   time.Duration
	now   func() time.Time
}

func NewRepository(store jobstore.Store, ttl time.Duration) *Repository {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Repository{store: store, ttl: ttl, now: time.Now}
}

// New returns an unsaved WAITING job.
func (r *Repository) New(sessionID, projectCode, operator, jobID string) *Job {
	return &Job{
		JobRecord: types.JobRecord{
			SessionID:   sessionID,
			JobID:       jobID,
			ActionType:  types.ActionDataUpload,
			Status:      types.StatusWaiting,
			ProjectCode: projectCode,
			Operator:    operator,
			Payload:     make(map[string]any),
		},
		repo: r,
	}
}

// Load reads the most recent record of (sessionID, jobID).
func (r *Repository) Load(ctx context.Context, sessionID, jobID string) (*Job, error) {
	j := r.New(sessionID, "", "", jobID)
	if err := j.Read(ctx); err != nil {
		return nil, err
	}
	return j, nil
}

// List returns the latest record of every job in the session, newest first.
func (r *Repository) List(ctx context.Context, sessionID string) ([]types.JobRecord, error) {
	kvs, err := r.store.ScanPrefix(ctx, sessionPrefix(sessionID))
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	latest := make(map[string]storedRecord)
	for _, v := range kvs {
		var rec storedRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			continue
		}
		if cur, ok := latest[rec.JobID]; !ok || rec.newerThan(cur) {
			latest[rec.JobID] = rec
		}
	}

	out := make([]storedRecord, 0, len(latest))
	for _, rec := range latest {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].newerThan(out[k]) })

	records := make([]types.JobRecord, len(out))
	for i, rec := range out {
		records[i] = rec.JobRecord
	}
	return records, nil
}

// Job is one file's upload job.
type Job struct {
	types.JobRecord
	revision int64
	repo     *Repository
}

func (j *Job) SetTarget(target string) {
	j.TargetNames = []string{target}
}

// Target returns the single destination path, or "".
func (j *Job) Target() string {
	if len(j.TargetNames) == 0 {
		return ""
	}
	return j.TargetNames[0]
}

// AddPayload sets key, replacing an existing value.
func (j *Job) AddPayload(key string, value any) {
	if j.Payload == nil {
		j.Payload = make(map[string]any)
	}
	j.Payload[key] = value
}

// PayloadString returns payload[key] when it is a string.
func (j *Job) PayloadString(key string) string {
	s, _ := j.Payload[key].(string)
	return s
}

func (j *Job) SetProgress(p int) {
	j.Progress = min(max(p, 0), 100)
}

// SetStatus moves the job to status and saves it. Illegal transitions are
// rejected without touching the stored record.
func (j *Job) SetStatus(ctx context.Context, status types.JobStatus) error {
	if !CanTransition(j.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, status)
	}
	prev := j.Status
	j.Status = status
	if status == types.StatusSucceed {
		j.Progress = 100
	}
	if err := j.Save(ctx); err != nil {
		j.Status = prev
		return err
	}
	return nil
}

// Save upserts the record under its composite key.
func (j *Job) Save(ctx context.Context) error {
	if j.JobID == "" {
		return ErrJobIDMissing
	}
	if j.Target() == "" {
		return ErrTargetNamesMissing
	}
	if j.Status.String() == "" {
		return ErrStatusMissing
	}

	j.revision++
	j.UpdateTimestamp = strconv.FormatInt(j.repo.now().Unix(), 10)
	b, err := json.Marshal(storedRecord{JobRecord: j.JobRecord, Revision: j.revision})
	if err != nil {
		return fmt.Errorf("encode job %s: %w", j.JobID, err)
	}
	if err := j.repo.store.Set(ctx, j.Key(), b, j.repo.ttl); err != nil {
		return fmt.Errorf("save job %s: %w", j.JobID, err)
	}
	return nil
}

// Read repopulates the job from its most recent stored record.
func (j *Job) Read(ctx context.Context) error {
	kvs, err := j.repo.store.ScanPrefix(ctx, jobPrefix(j.SessionID, j.JobID))
	if err != nil {
		return fmt.Errorf("read job %s: %w", j.JobID, err)
	}

	var (
		found  bool
		latest storedRecord
	)
	for _, v := range kvs {
		var rec storedRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			continue
		}
		if !found || rec.newerThan(latest) {
			latest, found = rec, true
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, j.JobID)
	}

	j.TargetNames = latest.TargetNames
	j.Status = latest.Status
	j.Progress = latest.Progress
	j.Payload = latest.Payload
	if j.Payload == nil {
		j.Payload = make(map[string]any)
	}
	j.ProjectCode = latest.ProjectCode
	j.Operator = latest.Operator
	j.UpdateTimestamp = latest.UpdateTimestamp
	j.revision = latest.Revision
	return nil
}

// Key is dataaction:{session}:Container:{job}:{action}:{project}:{operator}:{target}.
func (j *Job) Key() string {
	return fmt.Sprintf("%s%s:%s:%s:%s",
		jobPrefix(j.SessionID, j.JobID), j.ActionType, j.ProjectCode, j.Operator,
		strings.Join(j.TargetNames, ","))
}

// Record returns a copy of the persisted fields.
func (j *Job) Record() types.JobRecord {
	rec := j.JobRecord
	rec.TargetNames = append([]string(nil), j.TargetNames...)
	rec.Payload = make(map[string]any, len(j.Payload))
	for k, v := range j.Payload {
		rec.Payload[k] = v
	}
	return rec
}

func sessionPrefix(sessionID string) string {
	return "dataaction:" + sessionID + ":Container:"
}

func jobPrefix(sessionID, jobID string) string {
	return sessionPrefix(sessionID) + jobID + ":"
}

// storedRecord adds a per-job revision so records written within the same
// second still order correctly.
type storedRecord struct {
	types.JobRecord
	Revision int64 `json:"revision"`
}

func (r storedRecord) newerThan(o storedRecord) bool {
	a, _ := strconv.ParseInt(r.UpdateTimestamp, 10, 64)
	b, _ := strconv.ParseInt(o.UpdateTimestamp, 10, 64)
	if a != b {
		return a > b
	}
	return r.Revision > o.Revision
}

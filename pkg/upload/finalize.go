// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/LeeDigitalWorks/zapupload/pkg/apierr"
	"github.com/LeeDigitalWorks/zapupload/pkg/archive"
	"github.com/LeeDigitalWorks/zapupload/pkg/catalog"
	"github.com/LeeDigitalWorks/zapupload/pkg/events"
	"github.com/LeeDigitalWorks/zapupload/pkg/job"
	"github.com/LeeDigitalWorks/zapupload/pkg/logger"
	"github.com/LeeDigitalWorks/zapupload/pkg/taskqueue"
	"github.com/LeeDigitalWorks/zapupload/pkg/types"
	"github.com/LeeDigitalWorks/zapupload/pkg/utils"

	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"
)

// TriggerFinalize moves the job to CHUNK_UPLOADED and queues the
// finalization. The returned record reflects the job at enqueue time.
func (c *Coordinator) TriggerFinalize(ctx context.Context, req types.FinalizeRequest) (types.JobRecord, error) {
	if req.JobID == "" || req.ItemID == "" || req.ResumableIdentifier == "" || req.ProjectCode == "" {
		return types.JobRecord{}, apierr.New(apierr.ErrInvalidPayload, "job_id, item_id, resumable_identifier and project_code are required")
	}
	if req.ResumableTotalChunks < 1 || req.ResumableTotalChunks > maxPartNumber {
		return types.JobRecord{}, apierr.New(apierr.ErrInvalidPayload, "resumable_total_chunks is out of range")
	}
	if _, ok := scratchName(req.ResumableIdentifier); !ok {
		return types.JobRecord{}, apierr.New(apierr.ErrInvalidPayload, fmt.Sprintf("invalid resumable_identifier %q", req.ResumableIdentifier))
	}
	req.ResumableFilename = norm.NFC.String(req.ResumableFilename)
	if req.Tags == nil {
		req.Tags = []string{}
	}

	j, err := c.deps.Jobs.Load(ctx, req.SessionID, req.JobID)
	if err != nil {
		return types.JobRecord{}, err
	}
	j.SetTarget(req.ObjectKey())
	if err := j.SetStatus(ctx, types.StatusChunkUploaded); err != nil {
		return types.JobRecord{}, err
	}

	payload, err := taskqueue.MarshalPayload(req)
	if err != nil {
		return types.JobRecord{}, err
	}
	// Runs that reach the job leave it terminal; redelivery then skips it.
	task := &taskqueue.Task{
		Type:    taskqueue.TaskTypeFinalize,
		Key:     req.JobID,
		Payload: payload,
	}
	if err := c.deps.Queue.Enqueue(ctx, task); err != nil {
		c.failJob(ctx, req.SessionID, req.JobID, fmt.Errorf("queue finalization: %w", err))
		return types.JobRecord{}, apierr.Wrap(apierr.ErrInternal, err, "Fail to queue finalization")
	}

	logger.Ctx(ctx).Info().
		Str("session_id", req.SessionID).
		Str("job_id", req.JobID).
		Str("task_id", task.ID).
		Msg("finalization queued")
	return j.Record(), nil
}

// Finalizer runs the finalization pipeline of one file. It is the task
// handler for finalize tasks.
type Finalizer struct {
	cfg  Config
	deps Deps
	now  func() time.Time
	// sleep waits between part listings; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

var _ taskqueue.Handler = (*Finalizer)(nil)

func NewFinalizer(cfg Config, deps Deps) (*Finalizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Catalog == nil || deps.Store == nil || deps.Jobs == nil {
		return nil, errors.New("finalizer needs a catalog, an object store and a job repository")
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NoopPublisher{}
	}
	if err := utils.EnsureWritableDir(cfg.ScratchDir); err != nil {
		return nil, fmt.Errorf("scratch dir %s: %w", cfg.ScratchDir, err)
	}
	return &Finalizer{cfg: cfg, deps: deps, now: time.Now, sleep: utils.Sleep}, nil
}

func (f *Finalizer) Type() taskqueue.TaskType {
	return taskqueue.TaskTypeFinalize
}

func (f *Finalizer) Handle(ctx context.Context, task *taskqueue.Task) error {
	req, err := taskqueue.UnmarshalPayload[types.FinalizeRequest](task.Payload)
	if err != nil {
		return fmt.Errorf("%w: decode payload: %w", taskqueue.ErrPermanent, err)
	}
	return f.Run(ctx, req)
}

// Run finalizes one file. Jobs already SUCCEED or FAILED are left alone so
// a redelivered task is harmless. Every failure after the job reached
// CHUNK_UPLOADED marks it FAILED with the error message.
func (f *Finalizer) Run(ctx context.Context, req types.FinalizeRequest) error {
	start := f.now()
	log := logger.Ctx(ctx).With().
		Str("session_id", req.SessionID).
		Str("job_id", req.JobID).
		Str("item_id", req.ItemID).
		Str("key", req.ObjectKey()).
		Logger()
	ctx = logger.WithLogger(ctx, &log)

	j, err := f.deps.Jobs.Load(ctx, req.SessionID, req.JobID)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			return fmt.Errorf("%w: %w", taskqueue.ErrPermanent, err)
		}
		return err
	}
	if j.Status.Terminal() {
		FinalizeTotal.WithLabelValues("skipped").Inc()
		log.Info().Str("status", j.Status.String()).Msg("job already finished, skipping finalization")
		return nil
	}
	// A job that never reached CHUNK_UPLOADED is still being uploaded to.
	if j.Status != types.StatusChunkUploaded {
		return fmt.Errorf("%w: job %s is %s, not %s", taskqueue.ErrPermanent, req.JobID, j.Status, types.StatusChunkUploaded)
	}

	fail := func(err error) error {
		FinalizeTotal.WithLabelValues("failed").Inc()
		log.Error().Err(err).Msg("finalization failed")
		j.AddPayload(types.PayloadErrorMsg, err.Error())
		if serr := j.SetStatus(context.WithoutCancel(ctx), types.StatusFailed); serr != nil {
			log.Error().Err(serr).Msg("cannot mark job failed")
			return errors.Join(err, serr)
		}
		return fmt.Errorf("%w: %w", taskqueue.ErrPermanent, err)
	}

	name, ok := scratchName(req.ResumableIdentifier)
	if !ok {
		return fail(fmt.Errorf("invalid resumable identifier %q", req.ResumableIdentifier))
	}
	scratch := filepath.Join(f.cfg.ScratchDir, name)
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			log.Warn().Err(err).Str("dir", scratch).Msg("failed to remove scratch directory")
		}
	}()

	item, err := f.finalize(ctx, req, scratch)
	FinalizeDuration.Observe(f.now().Sub(start).Seconds())
	if err != nil {
		return fail(err)
	}

	j.AddPayload(types.PayloadSourceGEID, item.ID)
	if err := j.SetStatus(ctx, types.StatusSucceed); err != nil {
		return fmt.Errorf("mark job succeeded: %w", err)
	}
	FinalizeTotal.WithLabelValues("succeed").Inc()
	log.Info().Dur("took", f.now().Sub(start)).Msg("upload finalized")
	return nil
}

// scratchName is the scratch directory name of an upload. Identifiers that
// would resolve outside the scratch root are rejected.
func scratchName(resumableID string) (string, bool) {
	name := filepath.Base(resumableID)
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return "", false
	}
	return name, true
}

func (f *Finalizer) finalize(ctx context.Context, req types.FinalizeRequest, scratch string) (types.Item, error) {
	log := logger.Ctx(ctx)
	bucket := f.cfg.Zone().Bucket(req.ProjectCode)
	key := req.ObjectKey()

	parts, err := f.reconcileParts(ctx, log, bucket, key, req)
	if err != nil {
		return types.Item{}, err
	}

	combineCtx, cancel := context.WithTimeout(ctx, f.cfg.StepTimeout)
	obj, err := f.deps.Store.CombineParts(combineCtx, bucket, key, req.ResumableIdentifier, parts)
	cancel()
	if err != nil {
		return types.Item{}, fmt.Errorf("combine parts: %w", err)
	}

	tags := req.Tags
	if tags == nil {
		tags = []string{}
	}
	item, err := f.deps.Catalog.UpdateItem(ctx, req.ItemID, catalog.ItemUpdate{
		Status:      types.ItemActive,
		Size:        req.ResumableTotalSize,
		LocationURI: f.deps.Store.LocationURI(bucket, key),
		Version:     obj.VersionID,
		Tags:        tags,
	})
	if err != nil {
		return types.Item{}, fmt.Errorf("update item: %w", err)
	}
	item = f.completeItem(item, req, obj)

	if format, ok := archive.FormatForName(req.ResumableFilename); ok {
		if err := f.preview(ctx, bucket, key, format, item, req.ResumableTotalSize, scratch); err != nil {
			return types.Item{}, err
		}
	}

	event := events.NewUploadEvent(item, req.Operator, f.cfg.ZoneLabel(), f.now())
	if err := f.deps.Publisher.PublishActivity(ctx, event); err != nil {
		return types.Item{}, fmt.Errorf("publish activity: %w", err)
	}
	return item, nil
}

// reconcileParts lists the stored parts, listing again with a growing
// pause while fewer parts than declared are visible. After the last retry
// it proceeds with whatever is visible.
func (f *Finalizer) reconcileParts(ctx context.Context, log *zerolog.Logger, bucket, key string, req types.FinalizeRequest) ([]types.MultipartPart, error) {
	parts, err := f.deps.Store.ListParts(ctx, bucket, key, req.ResumableIdentifier)
	if err != nil {
		return nil, fmt.Errorf("list parts: %w", err)
	}

	for attempt := 1; len(parts) != req.ResumableTotalChunks && attempt <= f.cfg.ReconcileRetries; attempt++ {
		ReconcileRetriesTotal.Inc()
		log.Warn().
			Int("visible", len(parts)).
			Int("declared", req.ResumableTotalChunks).
			Int("attempt", attempt).
			Msg("part count mismatch, listing again")
		if err := f.sleep(ctx, f.cfg.ReconcileBackoff*time.Duration(attempt)); err != nil {
			return nil, err
		}
		parts, err = f.deps.Store.ListParts(ctx, bucket, key, req.ResumableIdentifier)
		if err != nil {
			return nil, fmt.Errorf("list parts: %w", err)
		}
	}

	if len(parts) != req.ResumableTotalChunks {
		log.Warn().
			Int("visible", len(parts)).
			Int("declared", req.ResumableTotalChunks).
			Msg("combining with fewer parts than declared")
	}
	return parts, nil
}

// completeItem fills fields the catalog answer may leave out.
func (f *Finalizer) completeItem(item types.Item, req types.FinalizeRequest, obj types.CombinedObject) types.Item {
	if item.ID == "" {
		item.ID = req.ItemID
	}
	if item.Name == "" {
		item.Name = req.ResumableFilename
		item.ParentPath = req.ResumableRelativePath
	}
	if item.ContainerCode == "" {
		item.ContainerCode = req.ProjectCode
		item.ContainerType = types.ContainerTypeProject
	}
	if item.Type == "" {
		item.Type = types.ItemTypeFile
	}
	if item.Version == "" {
		item.Version = obj.VersionID
	}
	item.Zone = f.cfg.Zone()
	return item
}

// preview downloads an archive into scratch, lists its contents and
// attaches the listing to the item. Formats the inspector cannot read are
// skipped.
func (f *Finalizer) preview(ctx context.Context, bucket, key string, declared archive.Format, item types.Item, size int64, scratch string) error {
	log := logger.Ctx(ctx)

	dest, ok := utils.SafeJoin(scratch, key)
	if !ok {
		return fmt.Errorf("object key %q escapes the scratch directory", key)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("prepare scratch: %w", err)
	}
	if err := utils.CheckFreeSpace(scratch, f.cfg.minFree, uint64(max(size, 0))); err != nil {
		return fmt.Errorf("archive preview: %w", err)
	}

	dlCtx, cancel := context.WithTimeout(ctx, f.cfg.StepTimeout)
	_, err := f.deps.Store.Download(dlCtx, bucket, key, dest)
	cancel()
	if err != nil {
		return fmt.Errorf("download archive: %w", err)
	}

	tree, err := archive.Inspect(ctx, dest, declared)
	if errors.Is(err, archive.ErrUnsupportedFormat) {
		ArchivePreviewsTotal.WithLabelValues(string(declared), "unsupported").Inc()
		log.Warn().Err(err).Msg("skipping archive preview")
		return nil
	}
	if err != nil {
		ArchivePreviewsTotal.WithLabelValues(string(declared), "failed").Inc()
		return fmt.Errorf("inspect archive: %w", err)
	}

	if err := f.deps.Catalog.SubmitArchivePreview(ctx, item.ID, tree); err != nil {
		ArchivePreviewsTotal.WithLabelValues(string(declared), "failed").Inc()
		return fmt.Errorf("submit archive preview: %w", err)
	}
	ArchivePreviewsTotal.WithLabelValues(string(declared), "succeed").Inc()
	return nil
}

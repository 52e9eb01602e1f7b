// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/zapupload/pkg/catalog"
	"github.com/LeeDigitalWorks/zapupload/pkg/events"
	"github.com/LeeDigitalWorks/zapupload/pkg/folder"
	"github.com/LeeDigitalWorks/zapupload/pkg/job"
	"github.com/LeeDigitalWorks/zapupload/pkg/jobstore"
	"github.com/LeeDigitalWorks/zapupload/pkg/lock"
	"github.com/LeeDigitalWorks/zapupload/pkg/objectstore"
	"github.com/LeeDigitalWorks/zapupload/pkg/taskqueue"
	"github.com/LeeDigitalWorks/zapupload/pkg/types"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// fakeCatalog keeps items in memory and answers searches by exact path.
type fakeCatalog struct {
	mu       sync.Mutex
	items    map[string]types.Item
	taken    map[string]bool
	batches  [][]types.Item
	previews map[string]map[string]any

	batchErr  error
	updateErr error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		items:    make(map[string]types.Item),
		taken:    make(map[string]bool),
		previews: make(map[string]map[string]any),
	}
}

func (c *fakeCatalog) take(parentPath, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.taken[types.JoinKey(parentPath, name)] = true
}

func (c *fakeCatalog) BatchCreate(ctx context.Context, items []types.Item) ([]types.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.batchErr != nil {
		return nil, c.batchErr
	}
	c.batches = append(c.batches, items)
	for _, it := range items {
		c.items[it.ID] = it
	}
	return items, nil
}

func (c *fakeCatalog) UpdateItem(ctx context.Context, id string, u catalog.ItemUpdate) (types.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.updateErr != nil {
		return types.Item{}, c.updateErr
	}
	it, ok := c.items[id]
	if !ok {
		return types.Item{}, &catalog.StatusError{Op: "update item", StatusCode: 404}
	}
	it.Status = u.Status
	it.Size = u.Size
	it.LocationURI = u.LocationURI
	it.Version = u.Version
	it.Tags = u.Tags
	c.items[id] = it
	return it, nil
}

func (c *fakeCatalog) SearchItems(ctx context.Context, q catalog.SearchQuery) ([]types.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.taken[types.JoinKey(q.ParentPath, q.Name)] {
		return []types.Item{{Name: q.Name, ParentPath: q.ParentPath, Status: types.ItemActive}}, nil
	}
	return nil, nil
}

func (c *fakeCatalog) SubmitArchivePreview(ctx context.Context, fileID string, preview map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.previews[fileID] = preview
	return nil
}

func (c *fakeCatalog) item(id string) types.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items[id]
}

type fakeProjects map[string]types.Project

func (p fakeProjects) GetProject(ctx context.Context, code string) (types.Project, error) {
	if proj, ok := p[code]; ok {
		return proj, nil
	}
	return types.Project{}, catalog.ErrProjectNotFound
}

// recordingPublisher keeps every event it is handed.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.ActivityEvent
	err    error
}

func (p *recordingPublisher) PublishActivity(ctx context.Context, e events.ActivityEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Ping(ctx context.Context) error { return nil }
func (p *recordingPublisher) Close() error                   { return nil }

func (p *recordingPublisher) published() []events.ActivityEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.ActivityEvent(nil), p.events...)
}

type testEnv struct {
	coord     *Coordinator
	finalizer *Finalizer
	store     *objectstore.MemoryStore
	catalog   *fakeCatalog
	queue     *taskqueue.MemoryQueue
	publisher *recordingPublisher
	jobs      *job.Repository
	folders   *folder.Resolver
	locker    *lock.Locker
	mr        *miniredis.Miniredis
	cfg       Config

	mu     sync.Mutex
	sleeps []time.Duration
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	kv := jobstore.NewRedisStoreWithClient(client, jobstore.RedisConfig{})

	cfg := DefaultConfig()
	cfg.ScratchDir = t.TempDir()

	env := &testEnv{
		store:     objectstore.NewMemoryStore(),
		catalog:   newFakeCatalog(),
		queue:     taskqueue.NewMemoryQueue(),
		publisher: &recordingPublisher{},
		jobs:      job.NewRepository(kv, 0),
		folders:   folder.NewResolver(kv, folder.DefaultConfig()),
		locker:    lock.NewLocker(kv, 0),
		mr:        mr,
		cfg:       cfg,
	}
	t.Cleanup(func() { env.queue.Close() })

	deps := Deps{
		Projects:  fakeProjects{"proj": {ID: "p-1", Code: "proj", Name: "Project"}},
		Catalog:   env.catalog,
		Store:     env.store,
		Jobs:      env.jobs,
		Folders:   env.folders,
		Locker:    env.locker,
		Queue:     env.queue,
		Publisher: env.publisher,
	}

	var err error
	env.coord, err = NewCoordinator(cfg, deps)
	require.NoError(t, err)
	env.finalizer, err = NewFinalizer(cfg, deps)
	require.NoError(t, err)
	env.finalizer.sleep = func(ctx context.Context, d time.Duration) error {
		env.mu.Lock()
		defer env.mu.Unlock()
		env.sleeps = append(env.sleeps, d)
		return nil
	}
	return env
}

func (e *testEnv) recordedSleeps() []time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]time.Duration(nil), e.sleeps...)
}

func folderRequest(files ...types.FileEntry) types.PreUploadRequest {
	return types.PreUploadRequest{
		ProjectCode:       "proj",
		Operator:          "alice",
		JobType:           types.JobTypeFolder,
		Data:              files,
		CurrentFolderNode: "alice/photos",
		ParentFolderID:    "alice-home-id",
	}
}

func fileRequest(files ...types.FileEntry) types.PreUploadRequest {
	return types.PreUploadRequest{
		ProjectCode:    "proj",
		Operator:       "alice",
		JobType:        types.JobTypeFile,
		Data:           files,
		ParentFolderID: "alice-home-id",
	}
}

// startUpload pre-uploads one file and sends its chunks. It returns the job
// record and the finalize request a client would send next.
func (e *testEnv) startUpload(t *testing.T, session, relPath, name string, chunks ...[]byte) (types.JobRecord, types.FinalizeRequest) {
	t.Helper()
	ctx := context.Background()

	recs, err := e.coord.PreUpload(ctx, session, fileRequest(types.FileEntry{
		ResumableFilename:     name,
		ResumableRelativePath: relPath,
	}))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	rec := recs[0]
	uploadID := rec.Payload[types.PayloadResumableIdentifier].(string)

	var size int64
	for i, chunk := range chunks {
		size += int64(len(chunk))
		require.NoError(t, e.coord.UploadChunk(ctx, types.ChunkRequest{
			SessionID:             session,
			JobID:                 rec.JobID,
			ProjectCode:           "proj",
			Operator:              "alice",
			ResumableIdentifier:   uploadID,
			ResumableFilename:     name,
			ResumableRelativePath: relPath,
			ResumableChunkNumber:  int32(i + 1),
			Size:                  int64(len(chunk)),
			Body:                  bytes.NewReader(chunk),
		}))
	}

	return rec, types.FinalizeRequest{
		SessionID:             session,
		ProjectCode:           "proj",
		Operator:              "alice",
		JobID:                 rec.JobID,
		ItemID:                rec.Payload[types.PayloadItemID].(string),
		ResumableIdentifier:   uploadID,
		ResumableFilename:     name,
		ResumableRelativePath: relPath,
		ResumableTotalChunks:  len(chunks),
		ResumableTotalSize:    size,
		Tags:                  []string{"raw"},
	}
}

// finalizeQueued triggers finalization and runs the queued task inline.
func (e *testEnv) finalizeQueued(t *testing.T, req types.FinalizeRequest) error {
	t.Helper()
	ctx := context.Background()

	_, err := e.coord.TriggerFinalize(ctx, req)
	require.NoError(t, err)

	task, err := e.queue.Dequeue(ctx, "test-worker", taskqueue.TaskTypeFinalize)
	require.NoError(t, err)
	require.NotNil(t, task)
	return e.finalizer.Handle(ctx, task)
}

var errBoom = errors.New("boom")

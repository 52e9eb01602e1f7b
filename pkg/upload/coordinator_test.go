// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"bytes"
	"context"
	"testing"

	"github.com/LeeDigitalWorks/zapupload/pkg/apierr"
	"github.com/LeeDigitalWorks/zapupload/pkg/catalog"
	"github.com/LeeDigitalWorks/zapupload/pkg/folder"
	"github.com/LeeDigitalWorks/zapupload/pkg/lock"
	"github.com/LeeDigitalWorks/zapupload/pkg/taskqueue"
	"github.com/LeeDigitalWorks/zapupload/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCoordinator_RequiresDeps(t *testing.T) {
	t.Parallel()
	_, err := NewCoordinator(DefaultConfig(), Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "object store is required")
	assert.Contains(t, err.Error(), "task queue is required")
}

func TestNewCoordinator_BadMinFreeSpace(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.MinFreeSpace = "lots"
	_, err := NewCoordinator(cfg, Deps{})
	assert.ErrorContains(t, err, "min_free_space")
}

func TestConfig_Zone(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	assert.Equal(t, types.ZoneGreenroom, cfg.Zone())
	assert.Equal(t, "Greenroom", cfg.ZoneLabel())

	cfg.Namespace = "core"
	assert.Equal(t, types.ZoneCore, cfg.Zone())
	assert.Equal(t, "Core", cfg.ZoneLabel())
}

func TestPreUpload_Folder(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	recs, err := env.coord.PreUpload(ctx, "s1", folderRequest(
		types.FileEntry{ResumableFilename: "a.jpg", ResumableRelativePath: "alice/photos/2024"},
		types.FileEntry{ResumableFilename: "b.jpg", ResumableRelativePath: "alice/photos/2024"},
		types.FileEntry{ResumableFilename: "c.jpg", ResumableRelativePath: "alice/photos"},
	))
	require.NoError(t, err)
	require.Len(t, recs, 3)

	for _, rec := range recs {
		assert.Equal(t, types.StatusRunning, rec.Status)
		assert.Equal(t, "proj", rec.ProjectCode)
		assert.Equal(t, "alice", rec.Operator)
		assert.NotEmpty(t, rec.Payload[types.PayloadItemID])
		assert.NotEmpty(t, rec.Payload[types.PayloadResumableIdentifier])
	}
	assert.Equal(t, "alice/photos/2024/a.jpg", recs[0].TargetNames[0])
	assert.Equal(t, 3, env.store.Uploads())

	require.Len(t, env.catalog.batches, 1)
	batch := env.catalog.batches[0]
	var folders, files []types.Item
	for _, it := range batch {
		if it.Type == types.ItemTypeFolder {
			folders = append(folders, it)
		} else {
			files = append(files, it)
		}
	}
	// photos and 2024, each created once
	require.Len(t, folders, 2)
	assert.Equal(t, "photos", folders[0].Name)
	assert.Equal(t, "alice-home-id", folders[0].Parent)
	assert.Equal(t, "2024", folders[1].Name)
	assert.Equal(t, folders[0].ID, folders[1].Parent)

	require.Len(t, files, 3)
	assert.Equal(t, folders[1].ID, files[0].Parent)
	assert.Equal(t, folders[0].ID, files[2].Parent)
	for _, f := range files {
		assert.Equal(t, types.ItemRegistered, f.Status)
		assert.NotEmpty(t, f.UploadID)
		assert.Equal(t, []string{}, f.Tags)
	}

	// a later batch into the same folders creates nothing new
	_, err = env.coord.PreUpload(ctx, "s1", types.PreUploadRequest{
		ProjectCode:       "proj",
		Operator:          "alice",
		JobType:           types.JobTypeFolder,
		Incremental:       true,
		Data:              []types.FileEntry{{ResumableFilename: "d.jpg", ResumableRelativePath: "alice/photos/2024"}},
		CurrentFolderNode: "alice/photos",
		ParentFolderID:    "alice-home-id",
	})
	require.NoError(t, err)
	require.Len(t, env.catalog.batches, 2)
	require.Len(t, env.catalog.batches[1], 1)
	assert.Equal(t, folders[1].ID, env.catalog.batches[1][0].Parent)
}

func TestPreUpload_FileUsesParentFolderID(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	recs, err := env.coord.PreUpload(context.Background(), "s1", fileRequest(
		types.FileEntry{ResumableFilename: "a.txt", ResumableRelativePath: "alice"},
	))
	require.NoError(t, err)
	require.Len(t, recs, 1)

	require.Len(t, env.catalog.batches, 1)
	require.Len(t, env.catalog.batches[0], 1)
	item := env.catalog.batches[0][0]
	assert.Equal(t, "alice-home-id", item.Parent)
	assert.Equal(t, types.ZoneGreenroom, item.Zone)
	assert.Equal(t, "proj", item.ContainerCode)
}

func TestPreUpload_Validation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	tests := []struct {
		name string
		req  types.PreUploadRequest
		msg  string
	}{
		{
			name: "job type",
			req: types.PreUploadRequest{
				ProjectCode: "proj", Operator: "alice", JobType: "AS_ZIP",
				Data: []types.FileEntry{{ResumableFilename: "a"}},
			},
			msg: "Invalid job type: AS_ZIP",
		},
		{
			name: "no data",
			req:  types.PreUploadRequest{ProjectCode: "proj", Operator: "alice", JobType: types.JobTypeFile},
			msg:  "data must not be empty",
		},
		{
			name: "no operator",
			req: types.PreUploadRequest{
				ProjectCode: "proj", JobType: types.JobTypeFile,
				Data: []types.FileEntry{{ResumableFilename: "a"}},
			},
			msg: "project_code and operator are required",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.coord.PreUpload(context.Background(), "s1", tc.req)
			kind, msg, _ := apierr.Resolve(err)
			assert.Equal(t, apierr.ErrInvalidPayload, kind)
			assert.Equal(t, tc.msg, msg)
		})
	}
}

func TestPreUpload_ProjectNotFound(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	req := fileRequest(types.FileEntry{ResumableFilename: "a.txt", ResumableRelativePath: "alice"})
	req.ProjectCode = "missing"
	_, err := env.coord.PreUpload(context.Background(), "s1", req)
	assert.ErrorIs(t, err, apierr.ErrNotFound)
	assert.Equal(t, 0, env.store.Uploads())
}

func TestPreUpload_FileConflict(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.catalog.take("alice", "a.txt")

	_, err := env.coord.PreUpload(context.Background(), "s1", fileRequest(
		types.FileEntry{ResumableFilename: "a.txt", ResumableRelativePath: "alice"},
		types.FileEntry{ResumableFilename: "b.txt", ResumableRelativePath: "alice"},
	))
	require.Error(t, err)

	kind, msg, result := apierr.Resolve(err)
	assert.Equal(t, apierr.ErrAlreadyExists, kind)
	assert.Equal(t, 409, kind.HTTPStatusCode())
	assert.Equal(t, msgInvalidFile, msg)
	assert.Equal(t, map[string]any{
		"failed": []Conflict{{Name: "a.txt", RelativePath: "alice", Type: "File"}},
	}, result)
	assert.Equal(t, 0, env.store.Uploads())
	assert.Empty(t, env.catalog.batches)
}

func TestCheckConflicts_Folder(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.catalog.take("alice", "photos")

	check := ConflictCheck{
		ProjectCode:       "proj",
		JobType:           types.JobTypeFolder,
		CurrentFolderNode: "alice/photos",
		Data:              []types.FileEntry{{ResumableFilename: "a.jpg", ResumableRelativePath: "alice/photos"}},
	}
	err := env.coord.CheckConflicts(context.Background(), check)

	var cerr *ConflictError
	require.ErrorAs(t, err, &cerr)
	assert.Empty(t, cerr.Files)
	assert.Equal(t, []Conflict{{DisplayPath: "alice/photos", Type: "Folder"}}, cerr.Folders)

	_, msg, _ := apierr.Resolve(err)
	assert.Equal(t, msgInvalidFolder, msg)

	check.Incremental = true
	assert.NoError(t, env.coord.CheckConflicts(context.Background(), check))
}

func TestCheckConflicts_FilesReportedBeforeFolders(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.catalog.take("alice", "photos")
	env.catalog.take("alice/photos", "a.jpg")

	err := env.coord.CheckConflicts(context.Background(), ConflictCheck{
		ProjectCode:       "proj",
		JobType:           types.JobTypeFolder,
		CurrentFolderNode: "alice/photos",
		Data:              []types.FileEntry{{ResumableFilename: "a.jpg", ResumableRelativePath: "alice/photos"}},
	})
	_, msg, result := apierr.Resolve(err)
	assert.Equal(t, msgInvalidFile, msg)
	assert.Equal(t, map[string]any{
		"failed": []Conflict{
			{Name: "a.jpg", RelativePath: "alice/photos", Type: "File"},
			{DisplayPath: "alice/photos", Type: "Folder"},
		},
	}, result)
}

func TestCheckConflicts_RootFolder(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	err := env.coord.CheckConflicts(context.Background(), ConflictCheck{
		ProjectCode:       "proj",
		JobType:           types.JobTypeFolder,
		CurrentFolderNode: "alice",
	})
	assert.ErrorIs(t, err, apierr.ErrInvalidPayload)
}

func TestPreUpload_IncrementalRootFolderRejected(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	req := folderRequest(types.FileEntry{ResumableFilename: "a.jpg", ResumableRelativePath: "alice/2024"})
	req.CurrentFolderNode = "alice"
	req.Incremental = true

	_, err := env.coord.PreUpload(context.Background(), "s1", req)
	kind, msg, _ := apierr.Resolve(err)
	assert.Equal(t, apierr.ErrInvalidPayload, kind)
	assert.Equal(t, "Cannot create folder directly under project node", msg)
	assert.Equal(t, 0, env.store.Uploads())
	assert.Empty(t, env.catalog.batches)
	for _, k := range env.mr.Keys() {
		assert.NotContains(t, k, "folder:")
	}
}

func TestPreUpload_FolderStagedByOtherUploadIsInUse(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	// another batch has staged alice/photos/2024 but not committed it yet
	other, err := env.folders.Resolve(ctx, folder.Request{
		ProjectCode:    "proj",
		Zone:           types.ZoneGreenroom,
		CurrentFolder:  "alice/photos",
		ParentFolderID: "alice-home-id",
		RelativePath:   "alice/photos/2024",
		Creator:        "bob",
	})
	require.NoError(t, err)

	req := folderRequest(types.FileEntry{ResumableFilename: "a.jpg", ResumableRelativePath: "alice/photos/2024"})
	_, err = env.coord.PreUpload(ctx, "s1", req)
	assert.ErrorIs(t, err, apierr.ErrResourceInUse)
	assert.Equal(t, 0, env.store.Uploads())
	assert.Empty(t, env.catalog.batches)

	// the other batch fails and rolls back; the retry creates its own folders
	require.NoError(t, env.folders.Rollback(ctx, other))
	_, err = env.coord.PreUpload(ctx, "s1", req)
	require.NoError(t, err)

	require.Len(t, env.catalog.batches, 1)
	batch := env.catalog.batches[0]
	require.Len(t, batch, 3)
	assert.Equal(t, types.ItemTypeFolder, batch[0].Type)
	assert.Equal(t, types.ItemTypeFolder, batch[1].Type)
	assert.NotEqual(t, other.TerminalID, batch[1].ID)
	assert.Equal(t, batch[1].ID, batch[2].Parent)
}

func TestPreUpload_CatalogConflictCleansUp(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.catalog.batchErr = apierr.Wrap(apierr.ErrAlreadyExists, errBoom, catalog.ErrAlreadyExists.Message)

	_, err := env.coord.PreUpload(context.Background(), "s1", folderRequest(
		types.FileEntry{ResumableFilename: "a.jpg", ResumableRelativePath: "alice/photos/2024"},
	))
	kind, msg, _ := apierr.Resolve(err)
	assert.Equal(t, apierr.ErrAlreadyExists, kind)
	assert.Equal(t, "ResourceAlreadyExist", msg)
	assert.Equal(t, 0, env.store.Uploads())

	// staged folders were rolled back, so a retry mints them again
	env.catalog.batchErr = nil
	_, err = env.coord.PreUpload(context.Background(), "s1", folderRequest(
		types.FileEntry{ResumableFilename: "a.jpg", ResumableRelativePath: "alice/photos/2024"},
	))
	require.NoError(t, err)
	require.Len(t, env.catalog.batches, 1)
	assert.Len(t, env.catalog.batches[0], 3)
}

func TestPreUpload_CatalogFailureIsInternal(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.catalog.batchErr = errBoom

	_, err := env.coord.PreUpload(context.Background(), "s1", fileRequest(
		types.FileEntry{ResumableFilename: "a.txt", ResumableRelativePath: "alice"},
	))
	kind, msg, _ := apierr.Resolve(err)
	assert.Equal(t, apierr.ErrInternal, kind)
	assert.Equal(t, "Error when pre uploading", msg)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 0, env.store.Uploads())
}

func TestPreUpload_LockedPath(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	held, err := env.locker.Acquire(ctx, "gr-proj/alice/a.txt")
	require.NoError(t, err)
	defer held.Release(ctx)

	_, err = env.coord.PreUpload(ctx, "s1", fileRequest(
		types.FileEntry{ResumableFilename: "a.txt", ResumableRelativePath: "alice"},
	))
	assert.ErrorIs(t, err, lock.ErrResourceInUse)
	assert.Equal(t, 409, apierr.ErrResourceInUse.HTTPStatusCode())

	held.Release(ctx)
	_, err = env.coord.PreUpload(ctx, "s1", fileRequest(
		types.FileEntry{ResumableFilename: "a.txt", ResumableRelativePath: "alice"},
	))
	assert.NoError(t, err)
}

func TestPreUpload_NormalizesNames(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	// "e" followed by a combining acute accent
	recs, err := env.coord.PreUpload(context.Background(), "s1", fileRequest(
		types.FileEntry{ResumableFilename: "cafe\u0301.txt", ResumableRelativePath: "alice"},
	))
	require.NoError(t, err)
	assert.Equal(t, "alice/caf\u00e9.txt", recs[0].TargetNames[0])
	assert.Equal(t, "caf\u00e9.txt", env.catalog.batches[0][0].Name)
}

func TestJobs_GetAndList(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	recs, err := env.coord.PreUpload(ctx, "s1", fileRequest(
		types.FileEntry{ResumableFilename: "a.txt", ResumableRelativePath: "alice"},
		types.FileEntry{ResumableFilename: "b.txt", ResumableRelativePath: "alice"},
	))
	require.NoError(t, err)

	got, err := env.coord.GetJob(ctx, "s1", recs[1].JobID)
	require.NoError(t, err)
	assert.Equal(t, recs[1].JobID, got.JobID)
	assert.Equal(t, types.StatusRunning, got.Status)

	all, err := env.coord.ListJobs(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = env.coord.GetJob(ctx, "other-session", recs[0].JobID)
	assert.ErrorIs(t, err, apierr.ErrNotFound)
}

func TestUploadChunk(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec, _ := env.startUpload(t, "s1", "alice", "a.txt", []byte("hello "), []byte("world"))

	infos, err := env.coord.ResumableStatus(context.Background(), types.ResumableQuery{
		Bucket: "gr-proj",
		ObjectInfos: []types.ObjectInfo{{
			ObjectPath:  "alice/a.txt",
			ResumableID: rec.Payload[types.PayloadResumableIdentifier].(string),
		}},
	})
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "alice/a.txt", infos[0].ObjectPath)
	assert.Len(t, infos[0].ChunksInfo, 2)
	assert.NotEmpty(t, infos[0].ChunksInfo[1])
	assert.NotEmpty(t, infos[0].ChunksInfo[2])
}

func TestUploadChunk_FailureMarksJobFailed(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	rec, _ := env.startUpload(t, "s1", "alice", "a.txt")

	err := env.coord.UploadChunk(ctx, types.ChunkRequest{
		SessionID:             "s1",
		JobID:                 rec.JobID,
		ProjectCode:           "proj",
		ResumableIdentifier:   "no-such-upload",
		ResumableFilename:     "a.txt",
		ResumableRelativePath: "alice",
		ResumableChunkNumber:  1,
		Body:                  bytes.NewReader([]byte("x")),
	})
	kind, msg, _ := apierr.Resolve(err)
	assert.Equal(t, apierr.ErrInternal, kind)
	assert.Contains(t, msg, "multipart upload not found")

	got, err := env.coord.GetJob(ctx, "s1", rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, got.Status)
	assert.Contains(t, got.Payload[types.PayloadErrorMsg], "multipart upload not found")
}

func TestUploadChunk_Validation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	tests := []struct {
		name string
		req  types.ChunkRequest
	}{
		{"part zero", types.ChunkRequest{ResumableChunkNumber: 0, ResumableIdentifier: "u", ProjectCode: "p", Body: bytes.NewReader(nil)}},
		{"part too large", types.ChunkRequest{ResumableChunkNumber: 10001, ResumableIdentifier: "u", ProjectCode: "p", Body: bytes.NewReader(nil)}},
		{"no body", types.ChunkRequest{ResumableChunkNumber: 1, ResumableIdentifier: "u", ProjectCode: "p"}},
		{"no identifier", types.ChunkRequest{ResumableChunkNumber: 1, ProjectCode: "p", Body: bytes.NewReader(nil)}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := env.coord.UploadChunk(context.Background(), tc.req)
			assert.ErrorIs(t, err, apierr.ErrInvalidPayload)
		})
	}
}

func TestUploadChunk_FailureWithoutJobIDFindsJob(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	env.startUpload(t, "s1", "alice", "other.txt")
	rec, _ := env.startUpload(t, "s1", "alice", "a.txt")
	uploadID := rec.Payload[types.PayloadResumableIdentifier].(string)
	require.NoError(t, env.store.AbortMultipart(ctx, "gr-proj", "alice/a.txt", uploadID))

	err := env.coord.UploadChunk(ctx, types.ChunkRequest{
		SessionID:             "s1",
		ProjectCode:           "proj",
		ResumableIdentifier:   uploadID,
		ResumableFilename:     "a.txt",
		ResumableRelativePath: "alice",
		ResumableChunkNumber:  1,
		Body:                  bytes.NewReader([]byte("x")),
	})
	assert.ErrorIs(t, err, apierr.ErrInternal)

	got, err := env.coord.GetJob(ctx, "s1", rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, got.Status)
	assert.Contains(t, got.Payload[types.PayloadErrorMsg], "multipart upload not found")

	jobs, err := env.coord.ListJobs(ctx, "s1")
	require.NoError(t, err)
	for _, j := range jobs {
		if j.JobID != rec.JobID {
			assert.Equal(t, types.StatusRunning, j.Status)
		}
	}
}

func TestResumableStatus_UnknownUpload(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	_, err := env.coord.ResumableStatus(context.Background(), types.ResumableQuery{
		Bucket:      "gr-proj",
		ObjectInfos: []types.ObjectInfo{{ObjectPath: "alice/a.txt", ResumableID: "nope"}},
	})
	kind, _, _ := apierr.Resolve(err)
	assert.Equal(t, apierr.ErrNotFound, kind)
}

func TestPresignPart(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	u, err := env.coord.PresignPart(ctx, "gr-proj", "alice/a.txt", "up-1", 2)
	require.NoError(t, err)
	assert.Contains(t, u, "partNumber=2")

	_, err = env.coord.PresignPart(ctx, "gr-proj", "alice/a.txt", "up-1", 0)
	assert.ErrorIs(t, err, apierr.ErrInvalidPayload)
	_, err = env.coord.PresignPart(ctx, "", "alice/a.txt", "up-1", 1)
	assert.ErrorIs(t, err, apierr.ErrInvalidPayload)
}

func TestTriggerFinalize_QueuesTask(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	_, req := env.startUpload(t, "s1", "alice", "a.txt", []byte("data"))
	rec, err := env.coord.TriggerFinalize(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, types.StatusChunkUploaded, rec.Status)

	tasks, err := env.queue.List(ctx, taskqueue.TaskFilter{Key: req.JobID})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, taskqueue.TaskTypeFinalize, tasks[0].Type)
	assert.Equal(t, taskqueue.DefaultMaxRetries, tasks[0].MaxRetries)

	queued, err := taskqueue.UnmarshalPayload[types.FinalizeRequest](tasks[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, req.ItemID, queued.ItemID)
	assert.Equal(t, []string{"raw"}, queued.Tags)
}

func TestTriggerFinalize_Validation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	_, req := env.startUpload(t, "s1", "alice", "a.txt", []byte("data"))
	req.ResumableTotalChunks = 0
	_, err := env.coord.TriggerFinalize(context.Background(), req)
	assert.ErrorIs(t, err, apierr.ErrInvalidPayload)

	req.ResumableTotalChunks = 1
	req.ItemID = ""
	_, err = env.coord.TriggerFinalize(context.Background(), req)
	assert.ErrorIs(t, err, apierr.ErrInvalidPayload)
}

func TestTriggerFinalize_RejectsUnsafeIdentifier(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	_, req := env.startUpload(t, "s1", "alice", "a.txt", []byte("data"))
	for _, id := range []string{"..", ".", "/"} {
		bad := req
		bad.ResumableIdentifier = id
		_, err := env.coord.TriggerFinalize(ctx, bad)
		assert.ErrorIs(t, err, apierr.ErrInvalidPayload, id)
	}

	got, err := env.coord.GetJob(ctx, "s1", req.JobID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRunning, got.Status)

	tasks, err := env.queue.List(ctx, taskqueue.TaskFilter{Key: req.JobID})
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestTriggerFinalize_UnknownJob(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	_, req := env.startUpload(t, "s1", "alice", "a.txt", []byte("data"))
	req.JobID = "nope"
	_, err := env.coord.TriggerFinalize(context.Background(), req)
	assert.ErrorIs(t, err, apierr.ErrNotFound)
}

func TestTriggerFinalize_QueueClosedFailsJob(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	_, req := env.startUpload(t, "s1", "alice", "a.txt", []byte("data"))
	require.NoError(t, env.queue.Close())

	_, err := env.coord.TriggerFinalize(ctx, req)
	kind, msg, _ := apierr.Resolve(err)
	assert.Equal(t, apierr.ErrInternal, kind)
	assert.Equal(t, "Fail to queue finalization", msg)

	got, err := env.coord.GetJob(ctx, "s1", req.JobID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, got.Status)
	assert.Contains(t, got.Payload[types.PayloadErrorMsg], "queue finalization")
}

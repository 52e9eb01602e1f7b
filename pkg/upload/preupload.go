// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/LeeDigitalWorks/zapupload/pkg/apierr"
	"github.com/LeeDigitalWorks/zapupload/pkg/catalog"
	"github.com/LeeDigitalWorks/zapupload/pkg/folder"
	"github.com/LeeDigitalWorks/zapupload/pkg/logger"
	"github.com/LeeDigitalWorks/zapupload/pkg/types"

	"golang.org/x/text/unicode/norm"
)

const (
	msgInvalidFile   = "[Invalid File] File Name has already taken by other resources(file/folder)"
	msgInvalidFolder = "[Invalid Folder] Folder Name has already taken by other resources(file/folder)"
)

// Conflict is one taken path reported back to the client.
type Conflict struct {
	Name         string `json:"name,omitempty"`
	RelativePath string `json:"relative_path,omitempty"`
	DisplayPath  string `json:"display_path,omitempty"`
	Type         string `json:"type"`
}

// ConflictError lists the files and folders of a batch whose names are
// already taken. File conflicts are reported ahead of folder conflicts.
type ConflictError struct {
	Files   []Conflict
	Folders []Conflict
}

func (e *ConflictError) Error() string {
	if len(e.Files) > 0 {
		return msgInvalidFile
	}
	return msgInvalidFolder
}

// Unwrap exposes the API form of the conflict. Both lists are reported
// under "failed", files first.
func (e *ConflictError) Unwrap() error {
	failed := make([]Conflict, 0, len(e.Files)+len(e.Folders))
	failed = append(failed, e.Files...)
	failed = append(failed, e.Folders...)
	return apierr.New(apierr.ErrAlreadyExists, e.Error()).WithResult(map[string]any{"failed": failed})
}

// ConflictCheck is the input of CheckConflicts.
type ConflictCheck struct {
	ProjectCode       string
	JobType           types.JobType
	CurrentFolderNode string
	Incremental       bool
	Data              []types.FileEntry
}

// CheckConflicts searches the catalog for active items at every target
// path. A folder upload that is not incremental also checks its anchor
// folder. It returns a *ConflictError when anything is taken.
func (c *Coordinator) CheckConflicts(ctx context.Context, req ConflictCheck) error {
	zone := c.cfg.Zone()
	cerr := &ConflictError{}

	for _, f := range req.Data {
		name := norm.NFC.String(f.ResumableFilename)
		items, err := c.deps.Catalog.SearchItems(ctx, catalog.SearchQuery{
			ParentPath:    f.ResumableRelativePath,
			Name:          name,
			ContainerCode: req.ProjectCode,
			Status:        types.ItemActive,
			Zone:          zone,
		})
		if err != nil {
			return fmt.Errorf("search %s: %w", types.JoinKey(f.ResumableRelativePath, name), err)
		}
		if len(items) > 0 {
			cerr.Files = append(cerr.Files, Conflict{Name: name, RelativePath: f.ResumableRelativePath, Type: "File"})
		}
	}

	if req.JobType == types.JobTypeFolder && !req.Incremental {
		idx := strings.LastIndex(req.CurrentFolderNode, "/")
		if idx < 0 {
			return folder.ErrRootFolder
		}
		items, err := c.deps.Catalog.SearchItems(ctx, catalog.SearchQuery{
			ParentPath:    req.CurrentFolderNode[:idx],
			Name:          req.CurrentFolderNode[idx+1:],
			ContainerCode: req.ProjectCode,
			Status:        types.ItemActive,
			Zone:          zone,
		})
		if err != nil {
			return fmt.Errorf("search %s: %w", req.CurrentFolderNode, err)
		}
		if len(items) > 0 {
			cerr.Folders = append(cerr.Folders, Conflict{DisplayPath: req.CurrentFolderNode, Type: "Folder"})
		}
	}

	if len(cerr.Files) == 0 && len(cerr.Folders) == 0 {
		return nil
	}
	ConflictsTotal.WithLabelValues("file").Add(float64(len(cerr.Files)))
	ConflictsTotal.WithLabelValues("folder").Add(float64(len(cerr.Folders)))
	return cerr
}

// pendingFile is one file of a batch as it moves through registration.
type pendingFile struct {
	entry    types.FileEntry
	key      string
	uploadID string
	item     types.Item
}

// PreUpload registers a batch of files and returns one RUNNING job per
// file. Nothing is left behind when it fails: staged folders are rolled
// back and opened multipart uploads aborted.
func (c *Coordinator) PreUpload(ctx context.Context, sessionID string, req types.PreUploadRequest) ([]types.JobRecord, error) {
	if !req.JobType.Valid() {
		return nil, apierr.New(apierr.ErrInvalidPayload, fmt.Sprintf("Invalid job type: %s", req.JobType))
	}
	if len(req.Data) == 0 {
		return nil, apierr.New(apierr.ErrInvalidPayload, "data must not be empty")
	}
	if req.ProjectCode == "" || req.Operator == "" {
		return nil, apierr.New(apierr.ErrInvalidPayload, "project_code and operator are required")
	}

	if _, err := c.deps.Projects.GetProject(ctx, req.ProjectCode); err != nil {
		return nil, err
	}

	files := make([]*pendingFile, len(req.Data))
	paths := make([]string, len(req.Data))
	for i, e := range req.Data {
		e.ResumableFilename = norm.NFC.String(e.ResumableFilename)
		if e.ResumableFilename == "" {
			return nil, apierr.New(apierr.ErrInvalidPayload, "resumable_filename is required")
		}
		req.Data[i] = e
		key := types.JoinKey(e.ResumableRelativePath, e.ResumableFilename)
		files[i] = &pendingFile{entry: e, key: key}
		paths[i] = c.Bucket(req.ProjectCode) + "/" + key
	}

	if err := c.CheckConflicts(ctx, ConflictCheck{
		ProjectCode:       req.ProjectCode,
		JobType:           req.JobType,
		CurrentFolderNode: req.CurrentFolderNode,
		Incremental:       req.Incremental,
		Data:              req.Data,
	}); err != nil {
		return nil, err
	}

	held, err := c.deps.Locker.Acquire(ctx, paths...)
	if err != nil {
		return nil, err
	}
	defer held.Release(context.WithoutCancel(ctx))

	log := logger.Ctx(ctx).With().
		Str("session_id", sessionID).
		Str("project_code", req.ProjectCode).
		Str("job_type", string(req.JobType)).
		Int("files", len(files)).
		Logger()

	bucket := c.Bucket(req.ProjectCode)
	resolution := &folder.Resolution{}
	owner := c.newID()
	committed := false
	defer func() {
		if committed {
			return
		}
		cleanup := context.WithoutCancel(ctx)
		if err := c.deps.Folders.Rollback(cleanup, resolution); err != nil {
			log.Warn().Err(err).Msg("failed to roll back staged folders")
		}
		for _, f := range files {
			if f.uploadID == "" {
				continue
			}
			if err := c.deps.Store.AbortMultipart(cleanup, bucket, f.key, f.uploadID); err != nil {
				log.Warn().Err(err).Str("key", f.key).Msg("failed to abort multipart upload")
			}
		}
	}()

	for _, f := range files {
		id, err := c.deps.Store.OpenMultipart(ctx, bucket, f.key)
		if err != nil {
			return nil, fmt.Errorf("open multipart upload for %s: %w", f.key, err)
		}
		f.uploadID = id
	}

	zone := c.cfg.Zone()
	toCreate := make([]types.Item, 0, len(files))
	fileItems := make([]types.Item, 0, len(files))
	for _, f := range files {
		parentID := req.ParentFolderID
		if req.JobType == types.JobTypeFolder {
			res, err := c.deps.Folders.Resolve(ctx, folder.Request{
				ProjectCode:    req.ProjectCode,
				Zone:           zone,
				CurrentFolder:  req.CurrentFolderNode,
				ParentFolderID: req.ParentFolderID,
				RelativePath:   f.entry.ResumableRelativePath,
				Creator:        req.Operator,
				Owner:          owner,
			})
			resolution.Merge(res)
			if err != nil {
				return nil, err
			}
			toCreate = append(toCreate, res.ToCreate...)
			parentID = res.TerminalID
		}

		f.item = types.Item{
			ID:            c.newID(),
			Parent:        parentID,
			ParentPath:    f.entry.ResumableRelativePath,
			Type:          types.ItemTypeFile,
			Status:        types.ItemRegistered,
			Zone:          zone,
			Name:          f.entry.ResumableFilename,
			Owner:         req.Operator,
			ContainerCode: req.ProjectCode,
			ContainerType: types.ContainerTypeProject,
			Tags:          []string{},
			UploadID:      f.uploadID,
		}
		fileItems = append(fileItems, f.item)
	}

	// folders first so every parent precedes its children
	toCreate = append(toCreate, fileItems...)
	if _, err := c.deps.Catalog.BatchCreate(ctx, toCreate); err != nil {
		if errors.Is(err, apierr.ErrAlreadyExists) {
			return nil, err
		}
		return nil, apierr.Wrap(apierr.ErrInternal, err, "Error when pre uploading")
	}

	committed = true
	if err := c.deps.Folders.Commit(ctx, resolution); err != nil {
		log.Warn().Err(err).Msg("failed to commit folder nodes")
	}

	records := make([]types.JobRecord, 0, len(files))
	for _, f := range files {
		j := c.deps.Jobs.New(sessionID, req.ProjectCode, req.Operator, c.newID())
		j.SetTarget(f.item.FullPath())
		j.AddPayload(types.PayloadResumableIdentifier, f.uploadID)
		j.AddPayload(types.PayloadItemID, f.item.ID)
		if err := j.SetStatus(ctx, types.StatusRunning); err != nil {
			return nil, fmt.Errorf("start job for %s: %w", f.key, err)
		}
		records = append(records, j.Record())
	}

	PreUploadFilesTotal.WithLabelValues(string(req.JobType)).Add(float64(len(files)))
	log.Info().Int("folders", len(toCreate)-len(fileItems)).Msg("upload jobs started")
	return records, nil
}

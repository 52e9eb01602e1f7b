// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package upload coordinates resumable chunked uploads: it registers the
// files of a batch, accepts their chunks and finalizes each file once the
// client reports every chunk sent.
package upload

import (
	"context"
	"errors"
	"time"

	"github.com/LeeDigitalWorks/zapupload/pkg/catalog"
	"github.com/LeeDigitalWorks/zapupload/pkg/events"
	"github.com/LeeDigitalWorks/zapupload/pkg/folder"
	"github.com/LeeDigitalWorks/zapupload/pkg/job"
	"github.com/LeeDigitalWorks/zapupload/pkg/lock"
	"github.com/LeeDigitalWorks/zapupload/pkg/objectstore"
	"github.com/LeeDigitalWorks/zapupload/pkg/taskqueue"
	"github.com/LeeDigitalWorks/zapupload/pkg/types"

	"github.com/google/uuid"
)

// Deps are the collaborators shared by the coordinator and the finalizer.
type Deps struct {
	Projects  catalog.Projects
	Catalog   catalog.Catalog
	Store     objectstore.Store
	Jobs      *job.Repository
	Folders   *folder.Resolver
	Locker    *lock.Locker
	Queue     taskqueue.Queue
	Publisher events.Publisher
}

func (d Deps) validate() error {
	var errs []error
	if d.Projects == nil {
		errs = append(errs, errors.New("projects client is required"))
	}
	if d.Catalog == nil {
		errs = append(errs, errors.New("catalog client is required"))
	}
	if d.Store == nil {
		errs = append(errs, errors.New("object store is required"))
	}
	if d.Jobs == nil {
		errs = append(errs, errors.New("job repository is required"))
	}
	if d.Folders == nil {
		errs = append(errs, errors.New("folder resolver is required"))
	}
	if d.Locker == nil {
		errs = append(errs, errors.New("path locker is required"))
	}
	if d.Queue == nil {
		errs = append(errs, errors.New("task queue is required"))
	}
	return errors.Join(errs...)
}

// Coordinator serves the request side of the upload flow.
type Coordinator struct {
	cfg   Config
	deps  Deps
	newID func() string
	now   func() time.Time
}

func NewCoordinator(cfg Config, deps Deps) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NoopPublisher{}
	}
	return &Coordinator{cfg: cfg, deps: deps, newID: uuid.NewString, now: time.Now}, nil
}

// Bucket is the bucket of projectCode in the configured zone.
func (c *Coordinator) Bucket(projectCode string) string {
	return c.cfg.Zone().Bucket(projectCode)
}

// GetJob returns the latest record of one job.
func (c *Coordinator) GetJob(ctx context.Context, sessionID, jobID string) (types.JobRecord, error) {
	j, err := c.deps.Jobs.Load(ctx, sessionID, jobID)
	if err != nil {
		return types.JobRecord{}, err
	}
	return j.Record(), nil
}

// ListJobs returns every job of a session, newest first.
func (c *Coordinator) ListJobs(ctx context.Context, sessionID string) ([]types.JobRecord, error) {
	return c.deps.Jobs.List(ctx, sessionID)
}

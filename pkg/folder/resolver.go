// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package folder materializes the folder chain below an upload's anchor
// folder, reusing nodes already recorded in the shared node cache.
//
// New nodes are staged in the cache as soon as they are minted. Staged
// nodes carry a short TTL and an owner token; the caller either commits
// them after the catalog accepted the batch or rolls back the ones it
// staged. Resolutions sharing an owner adopt each other's staged nodes.
// Any other resolution reaching a staged node gets lock.ErrResourceInUse
// until the node is committed or gone.
package folder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/zapupload/pkg/apierr"
	"github.com/LeeDigitalWorks/zapupload/pkg/jobstore"
	"github.com/LeeDigitalWorks/zapupload/pkg/lock"
	"github.com/LeeDigitalWorks/zapupload/pkg/logger"
	"github.com/LeeDigitalWorks/zapupload/pkg/types"

	"github.com/google/uuid"
)

var ErrRootFolder = apierr.New(apierr.ErrInvalidPayload, "Cannot create folder directly under project node")

// Config controls node cache lifetimes.
type Config struct {
	// StagedTTL bounds how long an uncommitted node survives a crashed
	// resolution.
	StagedTTL time.Duration `mapstructure:"staged_ttl"`

	// CommittedTTL is the lifetime of committed nodes; zero keeps them.
	CommittedTTL time.Duration `mapstructure:"committed_ttl"`

	// KeyPrefix namespaces node keys in the store.
	KeyPrefix string `mapstructure:"key_prefix"`
}

func DefaultConfig() Config {
	return Config{
		StagedTTL: 10 * time.Minute,
		KeyPrefix: "folder:",
	}
}

// Resolver resolves folder chains against the node cache.
type Resolver struct {
	store  jobstore.Store
	config Config
	newID  func() string
}

func NewResolver(store jobstore.Store, cfg Config) *Resolver {
	if cfg.StagedTTL <= 0 {
		cfg.StagedTTL = DefaultConfig().StagedTTL
	}
	return &Resolver{store: store, config: cfg, newID: uuid.NewString}
}

// Request describes one file's destination.
type Request struct {
	ProjectCode string
	Zone        types.Zone
	// CurrentFolder is the anchor, e.g. "admin/folderA". It must contain
	// at least one slash.
	CurrentFolder string
	// ParentFolderID is the catalog id of the anchor's parent.
	ParentFolderID string
	// RelativePath is the file's parent directory, e.g. "admin/folderA/sub".
	RelativePath string
	Creator      string
	// Owner groups the resolutions of one batch. Empty mints a fresh owner.
	Owner string
}

// Resolution is the outcome of resolving one path.
type Resolution struct {
	// TerminalID is the id of the deepest folder; it parents the file.
	TerminalID string
	// TerminalPath is the deepest folder's full path below the project.
	TerminalPath string
	// ToCreate holds a creation payload for every node this call minted,
	// ordered parent before child.
	ToCreate []types.Item

	staged []stagedNode
}

type stagedNode struct {
	key   string
	value []byte
	node  types.FolderNode
}

// Merge folds other into r. Used when several files of one batch share a
// resolver pass.
func (r *Resolution) Merge(other *Resolution) {
	if other == nil {
		return
	}
	r.ToCreate = append(r.ToCreate, other.ToCreate...)
	r.staged = append(r.staged, other.staged...)
}

// Segments returns the folder names to walk below the anchor.
func Segments(currentFolder, relativePath string) []string {
	rest := strings.TrimPrefix(relativePath+"/", currentFolder+"/")
	parts := strings.Split(rest, "/")
	return parts[:len(parts)-1]
}

// Resolve walks the anchor and each segment below it. Each missing node is
// minted, staged in the cache and appended to ToCreate before the walk
// moves on.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Resolution, error) {
	idx := strings.LastIndex(req.CurrentFolder, "/")
	if idx < 0 {
		return nil, ErrRootFolder
	}
	anchorPath, anchorName := req.CurrentFolder[:idx], req.CurrentFolder[idx+1:]

	res := &Resolution{}
	owner := req.Owner
	if owner == "" {
		owner = r.newID()
	}

	parentID, err := r.resolveNode(ctx, res, owner, req, anchorPath, anchorName, req.ParentFolderID)
	if err != nil {
		return res, err
	}
	curPath := path.Join(anchorPath, anchorName)

	for _, seg := range Segments(req.CurrentFolder, req.RelativePath) {
		if seg == "" {
			continue
		}
		parentID, err = r.resolveNode(ctx, res, owner, req, curPath, seg, parentID)
		if err != nil {
			return res, err
		}
		curPath = path.Join(curPath, seg)
	}

	res.TerminalID = parentID
	res.TerminalPath = curPath

	logger.Ctx(ctx).Debug().
		Str("project_code", req.ProjectCode).
		Str("terminal_path", curPath).
		Int("created", len(res.ToCreate)).
		Msg("resolved folder chain")
	return res, nil
}

func (r *Resolver) resolveNode(ctx context.Context, res *Resolution, owner string, req Request, relPath, name, parentID string) (string, error) {
	key := r.Key(req.Zone, req.ProjectCode, relPath, name)

	if node, ok, err := r.lookup(ctx, key); err != nil {
		return "", err
	} else if ok {
		return adopt(key, node, owner)
	}

	node := types.FolderNode{
		GlobalEntityID: r.newID(),
		ParentID:       parentID,
		Creator:        req.Creator,
		ProjectCode:    req.ProjectCode,
		Zone:           req.Zone,
		RelativePath:   relPath,
		Name:           name,
		Exists:         true,
		State:          types.NodeStaged,
		Owner:          owner,
	}
	b, err := json.Marshal(node)
	if err != nil {
		return "", err
	}

	won, err := r.store.SetNX(ctx, key, b, r.config.StagedTTL)
	if err != nil {
		return "", fmt.Errorf("stage folder %s: %w", key, err)
	}
	if !won {
		winner, ok, err := r.lookup(ctx, key)
		if err != nil {
			return "", err
		}
		if ok {
			return adopt(key, winner, owner)
		}
		return "", fmt.Errorf("folder node %s vanished after conflicting stage", key)
	}

	res.staged = append(res.staged, stagedNode{key: key, value: b, node: node})
	res.ToCreate = append(res.ToCreate, node.Payload())
	return node.GlobalEntityID, nil
}

// adopt returns the id of a cached node unless another owner still holds
// it staged. Its catalog entry only exists once that owner commits.
func adopt(key string, node types.FolderNode, owner string) (string, error) {
	if node.State == types.NodeStaged && node.Owner != owner {
		return "", fmt.Errorf("%w: folder %s is being created by another upload", lock.ErrResourceInUse, key)
	}
	return node.GlobalEntityID, nil
}

func (r *Resolver) lookup(ctx context.Context, key string) (types.FolderNode, bool, error) {
	b, err := r.store.Get(ctx, key)
	if errors.Is(err, jobstore.ErrNotFound) {
		return types.FolderNode{}, false, nil
	}
	if err != nil {
		return types.FolderNode{}, false, fmt.Errorf("read folder %s: %w", key, err)
	}
	var node types.FolderNode
	if err := json.Unmarshal(b, &node); err != nil {
		return types.FolderNode{}, false, fmt.Errorf("decode folder %s: %w", key, err)
	}
	return node, true, nil
}

// Commit promotes every node staged by res. A node whose stage expired and
// was replaced by another resolution is skipped.
func (r *Resolver) Commit(ctx context.Context, res *Resolution) error {
	if res == nil {
		return nil
	}
	var errs []error
	for _, s := range res.staged {
		cur, err := r.store.Get(ctx, s.key)
		if err != nil && !errors.Is(err, jobstore.ErrNotFound) {
			errs = append(errs, err)
			continue
		}
		if err == nil && string(cur) != string(s.value) {
			logger.Ctx(ctx).Warn().Str("key", s.key).Msg("staged folder replaced before commit")
			continue
		}

		node := s.node
		node.State = types.NodeCommitted
		node.Owner = ""
		b, err := json.Marshal(node)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := r.store.Set(ctx, s.key, b, r.config.CommittedTTL); err != nil {
			errs = append(errs, fmt.Errorf("commit folder %s: %w", s.key, err))
		}
	}
	res.staged = nil
	return errors.Join(errs...)
}

// Rollback removes the nodes res staged so a later resolution mints them
// again. Nodes adopted from other resolutions are left untouched.
func (r *Resolver) Rollback(ctx context.Context, res *Resolution) error {
	if res == nil {
		return nil
	}
	var errs []error
	for i := len(res.staged) - 1; i >= 0; i-- {
		s := res.staged[i]
		if _, err := r.store.CompareAndDelete(ctx, s.key, s.value); err != nil {
			errs = append(errs, fmt.Errorf("rollback folder %s: %w", s.key, err))
		}
	}
	res.staged = nil
	return errors.Join(errs...)
}

// Key is {prefix}{zone}/{project}/{relative_path}/{name}; an empty relative
// path is omitted.
func (r *Resolver) Key(zone types.Zone, projectCode, relPath, name string) string {
	return r.config.KeyPrefix + path.Join(zone.String(), projectCode, relPath, name)
}

// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package types

import "path"

// Zone separates the pre-curation area from the curated core area.
type Zone int

const (
	ZoneGreenroom Zone = 0
	ZoneCore      Zone = 1
)

// ParseZone maps the request namespace to a zone; anything that is not
// "greenroom" is core.
func ParseZone(ns string) Zone {
	if ns == "greenroom" {
		return ZoneGreenroom
	}
	return ZoneCore
}

func (z Zone) String() string {
	if z == ZoneGreenroom {
		return "greenroom"
	}
	return "core"
}

// BucketPrefix is prepended to the project code to form the bucket name.
func (z Zone) BucketPrefix() string {
	if z == ZoneGreenroom {
		return "gr-"
	}
	return "core-"
}

func (z Zone) Bucket(projectCode string) string {
	return z.BucketPrefix() + projectCode
}

type ItemType string

const (
	ItemTypeFile   ItemType = "file"
	ItemTypeFolder ItemType = "folder"
)

type ItemStatus string

const (
	ItemRegistered ItemStatus = "REGISTERED"
	ItemActive     ItemStatus = "ACTIVE"
	ItemArchived   ItemStatus = "ARCHIVED"
)

// Item is the catalog descriptor of a file or folder.
type Item struct {
	ID            string     `json:"id"`
	Parent        string     `json:"parent"`
	ParentPath    string     `json:"parent_path"`
	Type          ItemType   `json:"type"`
	Status        ItemStatus `json:"status"`
	Zone          Zone       `json:"zone"`
	Name          string     `json:"name"`
	Size          int64      `json:"size"`
	Owner         string     `json:"owner"`
	ContainerCode string     `json:"container_code"`
	ContainerType string     `json:"container_type"`
	LocationURI   string     `json:"location_uri"`
	Version       string     `json:"version"`
	Tags          []string   `json:"tags"`
	UploadID      string     `json:"upload_id,omitempty"`
}

// FullPath is the item's path below the project root.
func (i Item) FullPath() string {
	if i.ParentPath == "" {
		return i.Name
	}
	return path.Join(i.ParentPath, i.Name)
}

// FolderNode is a cached folder entry used to avoid re-creating folders.
type FolderNode struct {
	GlobalEntityID string    `json:"global_entity_id"`
	ParentID       string    `json:"parent_id"`
	Creator        string    `json:"creator"`
	ProjectCode    string    `json:"project_code"`
	Zone           Zone      `json:"zone"`
	RelativePath   string    `json:"relative_path"`
	Name           string    `json:"name"`
	Exists         bool      `json:"exists"`
	State          NodeState `json:"state"`
	Owner          string    `json:"owner,omitempty"`
}

type NodeState string

const (
	NodeStaged    NodeState = "staged"
	NodeCommitted NodeState = "committed"
)

// Project is the subset of the project service record the coordinator uses.
type Project struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// ContainerTypeProject is the container type of every item this service
// registers.
const ContainerTypeProject = "project"

// Payload is the catalog creation payload for a newly minted folder.
func (n FolderNode) Payload() Item {
	return Item{
		ID:            n.GlobalEntityID,
		Parent:        n.ParentID,
		ParentPath:    n.RelativePath,
		Type:          ItemTypeFolder,
		Status:        ItemActive,
		Zone:          n.Zone,
		Name:          n.Name,
		Size:          0,
		Owner:         n.Creator,
		ContainerCode: n.ProjectCode,
		ContainerType: ContainerTypeProject,
		Tags:          []string{},
	}
}

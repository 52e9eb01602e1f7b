// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"time"

	"github.com/LeeDigitalWorks/zapupload/pkg/types"
)

// ActivityType names what happened to an item.
type ActivityType string

const ActivityUpload ActivityType = "upload"

// ActivityEvent is the record written to the activity topic.
type ActivityEvent struct {
	ActivityType   ActivityType `json:"activity_type"`
	ActivityTime   time.Time    `json:"activity_time"`
	ItemID         string       `json:"item_id"`
	ItemType       string       `json:"item_type"`
	ItemName       string       `json:"item_name"`
	ItemParentPath string       `json:"item_parent_path"`
	ContainerCode  string       `json:"container_code"`
	ContainerType  string       `json:"container_type"`
	Zone           int          `json:"zone"`
	User           string       `json:"user"`
	// DisplayPath is the item path prefixed with its zone label.
	DisplayPath string           `json:"display_path"`
	ImportedFrom string           `json:"imported_from"`
	Changes      []map[string]any `json:"changes"`
}

// NewUploadEvent builds the activity record of a finalized upload.
func NewUploadEvent(item types.Item, operator, zoneLabel string, now time.Time) ActivityEvent {
	display := item.FullPath()
	if zoneLabel != "" {
		display = zoneLabel + "/" + display
	}
	return ActivityEvent{
		ActivityType:   ActivityUpload,
		ActivityTime:   now.UTC(),
		ItemID:         item.ID,
		ItemType:       string(item.Type),
		ItemName:       item.Name,
		ItemParentPath: item.ParentPath,
		ContainerCode:  item.ContainerCode,
		ContainerType:  item.ContainerType,
		Zone:           int(item.Zone),
		User:           operator,
		DisplayPath:    display,
		Changes:        []map[string]any{},
	}
}

// Key is the partition key; events of one container stay ordered.
func (e ActivityEvent) Key() string {
	return e.ContainerCode
}

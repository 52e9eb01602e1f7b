// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/LeeDigitalWorks/zapupload/pkg/types"
	"github.com/LeeDigitalWorks/zapupload/pkg/utils"
)

// Config controls the coordinator and the finalization pipeline.
type Config struct {
	// Namespace selects the zone: "greenroom" or anything else for core.
	Namespace string `mapstructure:"namespace"`

	// Zone labels prefix the display path of activity events.
	GreenZoneLabel string `mapstructure:"green_zone_label"`
	CoreZoneLabel  string `mapstructure:"core_zone_label"`

	// ScratchDir holds archive downloads, one directory per upload.
	ScratchDir string `mapstructure:"scratch_dir"`
	// MinFreeSpace is kept free on ScratchDir: a percentage ("5") or a
	// size ("2GiB"). Empty disables the threshold.
	MinFreeSpace string `mapstructure:"min_free_space"`

	// StepTimeout bounds combine and archive download.
	StepTimeout time.Duration `mapstructure:"step_timeout"`

	// ReconcileRetries is how many times the part listing is repeated
	// while fewer parts than declared are visible.
	ReconcileRetries int           `mapstructure:"reconcile_retries"`
	ReconcileBackoff time.Duration `mapstructure:"reconcile_backoff"`

	minFree *utils.FreeSpace
}

func DefaultConfig() Config {
	return Config{
		Namespace:        "greenroom",
		GreenZoneLabel:   "Greenroom",
		CoreZoneLabel:    "Core",
		ScratchDir:       filepath.Join(".", "tmp", "upload"),
		StepTimeout:      10 * time.Minute,
		ReconcileRetries: 3,
		ReconcileBackoff: time.Second,
	}
}

// Validate fills defaults and parses derived fields.
func (c *Config) Validate() error {
	def := DefaultConfig()
	if c.ScratchDir == "" {
		c.ScratchDir = def.ScratchDir
	}
	c.ScratchDir = utils.ResolvePath(c.ScratchDir)
	if c.StepTimeout <= 0 {
		c.StepTimeout = def.StepTimeout
	}
	if c.ReconcileRetries < 0 {
		c.ReconcileRetries = 0
	}
	if c.ReconcileBackoff < 0 {
		c.ReconcileBackoff = 0
	}
	if c.MinFreeSpace != "" {
		fs, err := utils.ParseMinFreeSpace(c.MinFreeSpace)
		if err != nil {
			return fmt.Errorf("min_free_space: %w", err)
		}
		c.minFree = fs
	}
	return nil
}

func (c Config) Zone() types.Zone {
	return types.ParseZone(c.Namespace)
}

// ZoneLabel is the display prefix of the configured zone.
func (c Config) ZoneLabel() string {
	if c.Zone() == types.ZoneGreenroom {
		return c.GreenZoneLabel
	}
	return c.CoreZoneLabel
}

// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package lock provides short-lived exclusive locks on upload target paths.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/LeeDigitalWorks/zapupload/pkg/apierr"
	"github.com/LeeDigitalWorks/zapupload/pkg/jobstore"
	"github.com/LeeDigitalWorks/zapupload/pkg/logger"

	"github.com/google/uuid"
)

var ErrResourceInUse = apierr.New(apierr.ErrResourceInUse, "resource is already in use")

const (
	keyPrefix  = "resource_lock:"
	DefaultTTL = 5 * time.Minute
)

// Locker hands out path locks backed by a shared store.
type Locker struct {
	store jobstore.Store
	ttl   time.Duration
}

func NewLocker(store jobstore.Store, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Locker{store: store, ttl: ttl}
}

// Held is a set of acquired locks sharing one owner token.
type Held struct {
	locker *Locker
	token  []byte
	keys   []string
}

// Acquire locks every path or none. Paths are taken in sorted order so two
// overlapping batches cannot deadlock each other's partial acquisitions.
func (l *Locker) Acquire(ctx context.Context, paths ...string) (*Held, error) {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)

	h := &Held{locker: l, token: []byte(uuid.NewString())}
	var last string
	for _, p := range sorted {
		if p == last {
			continue
		}
		last = p

		key := keyPrefix + p
		ok, err := l.store.SetNX(ctx, key, h.token, l.ttl)
		if err != nil {
			h.Release(ctx)
			return nil, fmt.Errorf("lock %s: %w", p, err)
		}
		if !ok {
			h.Release(ctx)
			return nil, fmt.Errorf("%w: %s", ErrResourceInUse, p)
		}
		h.keys = append(h.keys, key)
	}
	return h, nil
}

// Release drops every lock still owned by h. Locks that expired and were
// taken by someone else are left alone.
func (h *Held) Release(ctx context.Context) {
	if h == nil {
		return
	}
	var errs []error
	for _, key := range h.keys {
		if _, err := h.locker.store.CompareAndDelete(ctx, key, h.token); err != nil {
			errs = append(errs, err)
		}
	}
	h.keys = nil
	if err := errors.Join(errs...); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("failed to release path locks")
	}
}

// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"net/http"
)

// Data is the per-request state shared by the filter chain and handlers.
type Data struct {
	Ctx context.Context
	Req *http.Request

	RequestID string
	SessionID string
	// Route is the matched mux pattern, e.g. "GET /v1/files/jobs/{job_id}".
	Route string
}

func NewData(ctx context.Context, req *http.Request) *Data {
	return &Data{Ctx: ctx, Req: req}
}

type dataKey struct{}

func withData(ctx context.Context, d *Data) context.Context {
	return context.WithValue(ctx, dataKey{}, d)
}

func dataFrom(r *http.Request) *Data {
	if d, ok := r.Context().Value(dataKey{}).(*Data); ok {
		return d
	}
	return NewData(r.Context(), r)
}

// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/LeeDigitalWorks/zapupload/pkg/apierr"
	"github.com/LeeDigitalWorks/zapupload/pkg/logger"

	"github.com/google/uuid"
)

const (
	HeaderRequestID = "X-Request-Id"
	HeaderSessionID = "Session-Id"
	// older clients send the header with an underscore
	headerSessionIDLegacy = "session_id"

	FilterTypeRequestID = "RequestIDFilter"
	FilterTypeSession   = "SessionFilter"
)

var ErrSessionRequired = apierr.New(apierr.ErrMissingHeader, "session_id is required")

// RequestIDFilter tags each request with an id and a logger carrying it.
// An id sent by the client is kept.
type RequestIDFilter struct {
	counter atomic.Uint64
	prefix  string
}

func NewRequestIDFilter() *RequestIDFilter {
	return &RequestIDFilter{prefix: uuid.New().String()[0:8]}
}

func (f *RequestIDFilter) Run(d *Data) (Response, error) {
	id := d.Req.Header.Get(HeaderRequestID)
	if id == "" {
		id = f.prefix + strconv.FormatUint(f.counter.Add(1), 10)
		d.Req.Header.Set(HeaderRequestID, id)
	}
	d.RequestID = id

	l := logger.Ctx(d.Ctx).With().Str("request_id", id).Logger()
	d.Ctx = logger.WithLogger(d.Ctx, &l)
	return Next{}, nil
}

func (f *RequestIDFilter) Type() string {
	return FilterTypeRequestID
}

// SessionFilter resolves the route and enforces the session header on the
// routes that act on a client session.
type SessionFilter struct {
	mux    *http.ServeMux
	routes map[string]bool
}

func NewSessionFilter(mux *http.ServeMux, routes ...string) *SessionFilter {
	f := &SessionFilter{mux: mux, routes: make(map[string]bool, len(routes))}
	for _, r := range routes {
		f.routes[r] = true
	}
	return f
}

func (f *SessionFilter) Run(d *Data) (Response, error) {
	_, d.Route = f.mux.Handler(d.Req)

	d.SessionID = d.Req.Header.Get(HeaderSessionID)
	if d.SessionID == "" {
		d.SessionID = d.Req.Header.Get(headerSessionIDLegacy)
	}

	if f.routes[d.Route] && d.SessionID == "" {
		return nil, ErrSessionRequired
	}
	if d.SessionID != "" {
		l := logger.Ctx(d.Ctx).With().Str("session_id", d.SessionID).Logger()
		d.Ctx = logger.WithLogger(d.Ctx, &l)
	}
	return Next{}, nil
}

func (f *SessionFilter) Type() string {
	return FilterTypeSession
}

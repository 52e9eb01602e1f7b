// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/LeeDigitalWorks/zapupload/pkg/apierr"
	"github.com/LeeDigitalWorks/zapupload/pkg/logger"
)

type wrappedResponseRecorder struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
	wroteHeader  bool
}

func (w *wrappedResponseRecorder) WriteHeader(code int) {
	if !w.wroteHeader {
		w.statusCode = code
		w.wroteHeader = true
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *wrappedResponseRecorder) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += int64(n)
	return n, err
}

// Envelope wraps every JSON response.
type Envelope struct {
	Code       int    `json:"code"`
	ErrorMsg   string `json:"error_msg"`
	Page       int    `json:"page"`
	Total      int    `json:"total"`
	NumOfPages int    `json:"num_of_pages"`
	Result     any    `json:"result"`
}

func newEnvelope(code int, result any) Envelope {
	return Envelope{Code: code, Total: 1, NumOfPages: 1, Result: result}
}

func writeJSON(w http.ResponseWriter, d *Data, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	if d != nil && d.RequestID != "" {
		w.Header().Set(HeaderRequestID, d.RequestID)
	}
	w.WriteHeader(env.Code)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		logger.Ctx(d.Ctx).Warn().Err(err).Msg("failed to write response")
	}
}

func writeResult(w http.ResponseWriter, d *Data, result any) {
	writeJSON(w, d, newEnvelope(http.StatusOK, result))
}

// writeError answers with the API form of err. Internal errors are logged
// with their cause.
func writeError(w http.ResponseWriter, d *Data, err error) {
	kind, msg, result := apierr.Resolve(err)
	status := kind.HTTPStatusCode()

	log := logger.Ctx(d.Ctx)
	switch {
	case errors.Is(err, context.Canceled):
		log.Debug().Err(err).Msg("request cancelled")
	case status >= http.StatusInternalServerError:
		log.Error().Err(err).Str("route", d.Route).Msg("request failed")
	default:
		log.Debug().Err(err).Str("route", d.Route).Msg("request rejected")
	}

	env := newEnvelope(status, result)
	if result == nil {
		env.Result = map[string]any{}
	}
	env.ErrorMsg = msg
	writeJSON(w, d, env)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apierr.Wrap(apierr.ErrInvalidPayload, err, "invalid request body: "+err.Error())
	}
	return nil
}

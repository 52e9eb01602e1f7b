// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/LeeDigitalWorks/zapupload/pkg/apierr"
	"github.com/LeeDigitalWorks/zapupload/pkg/logger"
	"github.com/LeeDigitalWorks/zapupload/pkg/types"
	"github.com/LeeDigitalWorks/zapupload/pkg/upload"
)

func (s *Server) root(d *Data, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "OK",
		"name":    s.config.Name,
		"version": s.config.Version,
	})
}

func (s *Server) checkHealth(d *Data, w http.ResponseWriter) {
	failed := s.health(d.Ctx)
	if len(failed) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	for name, err := range failed {
		logger.Ctx(d.Ctx).Warn().Err(err).Str("dependency", name).Msg("health check failed")
	}
	w.WriteHeader(http.StatusServiceUnavailable)
}

func (s *Server) preUpload(d *Data, w http.ResponseWriter) {
	var req types.PreUploadRequest
	if err := decodeJSON(d.Req, &req); err != nil {
		writeError(w, d, err)
		return
	}
	recs, err := s.service.PreUpload(d.Ctx, d.SessionID, req)
	if err != nil {
		writeError(w, d, err)
		return
	}
	writeResult(w, d, recs)
}

func (s *Server) listJobs(d *Data, w http.ResponseWriter) {
	recs, err := s.service.ListJobs(d.Ctx, d.SessionID)
	if err != nil {
		writeError(w, d, err)
		return
	}
	env := newEnvelope(http.StatusOK, recs)
	env.Total = len(recs)
	writeJSON(w, d, env)
}

func (s *Server) getJob(d *Data, w http.ResponseWriter) {
	rec, err := s.service.GetJob(d.Ctx, d.SessionID, d.Req.PathValue("job_id"))
	if err != nil {
		writeError(w, d, err)
		return
	}
	writeResult(w, d, rec)
}

type conflictRequest struct {
	ProjectCode       string            `json:"project_code"`
	JobType           types.JobType     `json:"job_type"`
	CurrentFolderNode string            `json:"current_folder_node"`
	Incremental       bool              `json:"incremental"`
	Data              []types.FileEntry `json:"data"`
}

func (s *Server) checkConflicts(d *Data, w http.ResponseWriter) {
	var req conflictRequest
	if err := decodeJSON(d.Req, &req); err != nil {
		writeError(w, d, err)
		return
	}
	if req.ProjectCode == "" {
		writeError(w, d, apierr.New(apierr.ErrInvalidPayload, "project_code is required"))
		return
	}
	err := s.service.CheckConflicts(d.Ctx, upload.ConflictCheck{
		ProjectCode:       req.ProjectCode,
		JobType:           req.JobType,
		CurrentFolderNode: req.CurrentFolderNode,
		Incremental:       req.Incremental,
		Data:              req.Data,
	})
	if err != nil {
		writeError(w, d, err)
		return
	}
	writeResult(w, d, map[string]any{"failed": []upload.Conflict{}})
}

func (s *Server) uploadChunk(d *Data, w http.ResponseWriter) {
	d.Req.Body = http.MaxBytesReader(w, d.Req.Body, s.config.MaxChunkBytes)
	if err := d.Req.ParseMultipartForm(s.config.MaxFormMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, d, apierr.Wrap(apierr.ErrInvalidPayload, err, "chunk is too large"))
			return
		}
		writeError(w, d, apierr.Wrap(apierr.ErrInvalidPayload, err, "invalid multipart form: "+err.Error()))
		return
	}
	defer d.Req.MultipartForm.RemoveAll()

	file, header, err := d.Req.FormFile("chunk_data")
	if err != nil {
		writeError(w, d, apierr.Wrap(apierr.ErrInvalidPayload, err, "chunk_data is required"))
		return
	}
	defer file.Close()

	number, err := strconv.ParseInt(d.Req.FormValue("resumable_chunk_number"), 10, 32)
	if err != nil {
		writeError(w, d, apierr.Wrap(apierr.ErrInvalidPayload, err, "resumable_chunk_number must be an integer"))
		return
	}

	err = s.service.UploadChunk(d.Ctx, types.ChunkRequest{
		SessionID:             d.SessionID,
		JobID:                 d.Req.FormValue("job_id"),
		ProjectCode:           d.Req.FormValue("project_code"),
		Operator:              d.Req.FormValue("operator"),
		ResumableIdentifier:   d.Req.FormValue("resumable_identifier"),
		ResumableFilename:     d.Req.FormValue("resumable_filename"),
		ResumableRelativePath: d.Req.FormValue("resumable_relative_path"),
		ResumableChunkNumber:  int32(number),
		Size:                  header.Size,
		Body:                  file,
	})
	if err != nil {
		writeError(w, d, err)
		return
	}
	writeResult(w, d, map[string]string{"msg": "Succeed"})
}

func (s *Server) presignChunk(d *Data, w http.ResponseWriter) {
	q := d.Req.URL.Query()
	number, err := strconv.ParseInt(q.Get("chunk_number"), 10, 32)
	if err != nil {
		writeError(w, d, apierr.Wrap(apierr.ErrInvalidPayload, err, "chunk_number must be an integer"))
		return
	}
	u, err := s.service.PresignPart(d.Ctx, q.Get("bucket"), q.Get("key"), q.Get("upload_id"), int32(number))
	if err != nil {
		writeError(w, d, err)
		return
	}
	writeResult(w, d, u)
}

func (s *Server) finalize(d *Data, w http.ResponseWriter) {
	var req types.FinalizeRequest
	if err := decodeJSON(d.Req, &req); err != nil {
		writeError(w, d, err)
		return
	}
	req.SessionID = d.SessionID
	rec, err := s.service.TriggerFinalize(d.Ctx, req)
	if err != nil {
		writeError(w, d, err)
		return
	}
	writeResult(w, d, rec)
}

func (s *Server) resumable(d *Data, w http.ResponseWriter) {
	var q types.ResumableQuery
	if err := decodeJSON(d.Req, &q); err != nil {
		writeError(w, d, err)
		return
	}
	if strings.TrimSpace(q.Bucket) == "" {
		writeError(w, d, apierr.New(apierr.ErrInvalidPayload, "bucket is required"))
		return
	}
	infos, err := s.service.ResumableStatus(d.Ctx, q)
	if err != nil {
		writeError(w, d, err)
		return
	}
	writeResult(w, d, infos)
}

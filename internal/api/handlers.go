package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/harun/crucible/pkg/jobs"
	"github.com/harun/crucible/pkg/kernel"
	"github.com/harun/crucible/pkg/sandbox"
	"github.com/harun/crucible/pkg/storage"
	"github.com/harun/crucible/pkg/uploads"
)

// maxRequestBody bounds JSON request bodies.
const maxRequestBody = 4 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Uptime:   time.Since(s.startTime).Seconds(),
		Sessions: len(s.executor.ListSessions()),
	})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeExecuteRequest(w, r)
	if !ok {
		return
	}

	result, err := s.executor.Execute(r.Context(), sandbox.ExecuteRequest{
		SessionID: req.SessionID,
		Code:      req.Code,
		Timeout:   req.Timeout(),
	})
	if err != nil {
		s.writeAPIError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeError(w, http.StatusNotFound, "job queue is not enabled")
		return
	}

	req, ok := s.decodeExecuteRequest(w, r)
	if !ok {
		return
	}

	job, err := s.queue.Submit(sandbox.ExecuteRequest{
		SessionID: req.SessionID,
		Code:      req.Code,
		Timeout:   req.Timeout(),
	})
	if err != nil {
		s.writeAPIError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeError(w, http.StatusNotFound, "job queue is not enabled")
		return
	}
	writeJSON(w, http.StatusOK, s.queue.List())
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeError(w, http.StatusNotFound, "job queue is not enabled")
		return
	}

	job, err := s.queue.Get(r.PathValue("id"))
	if err != nil {
		s.writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req CreateSessionRequest
	if len(body) > 0 {
		if err := validateBody(createSessionSchema, body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	if req.SessionID == "" {
		req.SessionID = newSessionID()
	}

	info, err := s.executor.CreateSession(req.SessionID)
	if err != nil {
		s.writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.executor.ListSessions())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info, ok := s.executor.GetSession(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	if err := s.executor.ResetSession(r.PathValue("id")); err != nil {
		s.writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleRemoveSession(w http.ResponseWriter, r *http.Request) {
	if err := s.executor.RemoveSession(r.Context(), r.PathValue("id")); err != nil {
		s.writeAPIError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	names, err := s.executor.ListFiles(r.PathValue("id"))
	if err != nil {
		s.writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"files": names})
}

func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	data, err := s.executor.ReadFile(r.PathValue("id"), r.PathValue("name"))
	if err != nil {
		s.writeAPIError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "artifact store is not enabled")
		return
	}

	artifact, err := s.store.Get(r.Context(), r.PathValue("handle"))
	if err != nil {
		s.writeAPIError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+artifact.Filename+"\"")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(artifact.Content)
}

func (s *Server) handleListUploads(w http.ResponseWriter, r *http.Request) {
	if s.uploads == nil {
		writeError(w, http.StatusNotFound, "uploads are not enabled")
		return
	}
	writeJSON(w, http.StatusOK, map[string][]uploads.FileInfo{"files": s.uploads.List()})
}

func (s *Server) handleSaveUpload(w http.ResponseWriter, r *http.Request) {
	if s.uploads == nil {
		writeError(w, http.StatusNotFound, "uploads are not enabled")
		return
	}

	info, err := s.uploads.Save(r.PathValue("name"), r.Body)
	if err != nil {
		s.writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

// decodeExecuteRequest validates and decodes an execute body, filling
// in a generated session id when the caller did not pick one.
func (s *Server) decodeExecuteRequest(w http.ResponseWriter, r *http.Request) (ExecuteRequest, bool) {
	var req ExecuteRequest

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return req, false
	}

	if err := validateBody(executeSchema, body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return req, false
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return req, false
	}
	if req.SessionID == "" {
		req.SessionID = newSessionID()
	}
	return req, true
}

// writeAPIError maps domain errors onto HTTP status codes.
func (s *Server) writeAPIError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, sandbox.ErrEmptyScript),
		errors.Is(err, sandbox.ErrScriptTooLarge),
		errors.Is(err, sandbox.ErrInvalidTimeout),
		errors.Is(err, kernel.ErrInvalidSessionID),
		errors.Is(err, uploads.ErrInvalidName):
		status = http.StatusBadRequest
	case errors.Is(err, kernel.ErrSessionNotFound),
		errors.Is(err, jobs.ErrJobNotFound),
		errors.Is(err, storage.ErrArtifactNotFound),
		errors.Is(err, sandbox.ErrFileNotFound),
		errors.Is(err, uploads.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, kernel.ErrSessionBusy):
		status = http.StatusConflict
	case errors.Is(err, uploads.ErrTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, kernel.ErrCapacityExceeded),
		errors.Is(err, jobs.ErrQueueFull),
		errors.Is(err, jobs.ErrQueueClosed),
		errors.Is(err, kernel.ErrManagerClosed):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}
	writeError(w, status, err.Error())
}

// newSessionID generates an id for callers that did not pick one.
func newSessionID() string {
	return "s-" + gonanoid.MustGenerate("0123456789abcdefghijklmnopqrstuvwxyz", 12)
}

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/caevv/agenthistory/internal/build"
	"github.com/caevv/agenthistory/internal/history"
	"github.com/caevv/agenthistory/internal/logging"
	"github.com/caevv/agenthistory/internal/query"
	"github.com/caevv/agenthistory/internal/store"
)

const (
	version = "v0.1.0"

	// maxBodyBytes bounds run documents and events.
	maxBodyBytes = 4 << 20
)

// handleHealth returns the health status of the server
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: version,
		Uptime:  s.Uptime(),
	})
}

// handleListNodes returns indexed nodes, optionally filtered by ?match=<glob>.
func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.history.MatchNodes(r.URL.Query().Get("match"))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if nodes == nil {
		nodes = []string{}
	}
	s.writeJSON(w, r, http.StatusOK, NodesResponse{Nodes: nodes})
}

// handleNodeHistory returns one page of a node's build history.
func (s *Server) handleNodeHistory(w http.ResponseWriter, r *http.Request) {
	node := pathParam(r, "node")
	p, err := s.historyParams(r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}

	res, err := s.history.Query(r.Context(), node, p)
	if err != nil {
		s.writeServiceError(w, r, "failed to query node history", err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, res)
}

// handleTrend returns a window of one job's runs with their agents.
func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	p, err := trendParams(r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}
	trend, err := s.history.Trend(r.Context(), p)
	if err != nil {
		s.writeServiceError(w, r, "failed to build trend", err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, trend)
}

// handleGetRun returns one mirrored run.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	job := pathParam(r, "job")
	number, err := strconv.Atoi(pathParam(r, "number"))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "build number must be an integer", nil)
		return
	}
	run, err := s.history.Run(job, number)
	if err != nil {
		s.writeServiceError(w, r, "failed to load run", err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, run)
}

// handlePutRun upserts a run and its optional step graph into the host mirror.
func (s *Server) handlePutRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "run ingestion not available", nil)
		return
	}

	var doc store.RunDocument
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&doc); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error(), nil)
		return
	}
	if err := doc.Validate(); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err := store.Ingest(s.runs, &doc); err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "failed to store run", err)
		return
	}

	logging.FromContext(r.Context()).Debug("run stored",
		"job", doc.Run.Job,
		"build", doc.Run.Number,
		"has_graph", doc.Graph != nil)
	s.writeJSON(w, r, http.StatusOK, RunAccepted{
		Job:      doc.Run.Job,
		Number:   doc.Run.Number,
		HasGraph: doc.Graph != nil,
	})
}

// handleEvent applies one host event to the index.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev history.Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&ev); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error(), nil)
		return
	}
	if err := s.history.Dispatch(ev); err != nil {
		s.writeServiceError(w, r, "failed to apply event", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListTasks returns the maintenance tasks and their last runs.
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		s.writeJSON(w, r, http.StatusOK, []TaskSummary{})
		return
	}
	s.writeJSON(w, r, http.StatusOK, taskSummaries(s.tasks))
}

// handleRunTask runs a maintenance task immediately and waits for it.
func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "scheduler not available", nil)
		return
	}
	name := pathParam(r, "name")
	if _, ok := s.tasks.GetTaskStats(name); !ok {
		s.writeError(w, r, http.StatusNotFound, "task not found", nil)
		return
	}
	exec, err := s.tasks.RunNow(name)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "failed to run task", err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, executionResponse(exec))
}

// writeServiceError maps history errors to HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, message string, err error) {
	switch {
	case errors.Is(err, query.ErrInvalidParams), errors.Is(err, history.ErrInvalidEvent):
		s.writeError(w, r, http.StatusBadRequest, err.Error(), nil)
	case build.IsNotFound(err):
		s.writeError(w, r, http.StatusNotFound, err.Error(), nil)
	case r.Context().Err() != nil:
		s.writeError(w, r, http.StatusServiceUnavailable, "request cancelled", nil)
	default:
		s.writeError(w, r, http.StatusInternalServerError, message, err)
	}
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.FromContext(r.Context()).Error("failed to encode JSON response", "error", err)
	}
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	if err != nil {
		logging.FromContext(r.Context()).Error("API error", "status", status, "message", message, "error", err)
	}
	s.writeJSON(w, r, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	})
}

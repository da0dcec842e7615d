package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/calcops/internal/model"
	"github.com/seantiz/calcops/internal/refresh"
	"github.com/seantiz/calcops/internal/store"
)

// refreshRequest is the JSON body for POST /v1/refresh and /v1/refresh/async.
// An empty body refreshes every user's items with the defaults.
type refreshRequest struct {
	UserID      string `json:"user_id"`
	Mode        string `json:"mode"`
	Concurrency int    `json:"concurrency"`
}

// refreshResponse is returned by the synchronous refresh endpoint.
type refreshResponse struct {
	Run     *model.RefreshRun `json:"run"`
	Summary string            `json:"summary"`
}

// listRunsResponse wraps the paginated run list.
type listRunsResponse struct {
	Runs   []*model.RefreshRun `json:"runs"`
	Total  int                 `json:"total"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

// parseRefreshRequest decodes and validates the request into a pending run.
func (s *Server) parseRefreshRequest(w http.ResponseWriter, r *http.Request, trigger string) (*model.RefreshRun, error) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.New("invalid JSON body")
	}
	if req.Mode != "" && !model.ValidMode(req.Mode) {
		return nil, fmt.Errorf("mode must be %q or %q", model.ModeCollect, model.ModeFailFast)
	}
	if req.Concurrency < 0 {
		return nil, errors.New("concurrency must not be negative")
	}
	return s.refresher.NewRun(req.UserID, trigger, req.Mode, req.Concurrency), nil
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	run, err := s.parseRefreshRequest(w, r, model.TriggerManual)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	finished, err := s.refresher.Refresh(r.Context(), run)
	if err != nil {
		s.logger.Error("refresh", "run_id", run.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to refresh")
		return
	}

	s.writeJSON(w, http.StatusOK, refreshResponse{
		Run:     finished,
		Summary: refresh.Summary(finished),
	})
}

func (s *Server) handleAsyncRefresh(w http.ResponseWriter, r *http.Request) {
	run, err := s.parseRefreshRequest(w, r, model.TriggerAsync)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.refresher.Submit(r.Context(), run); err != nil {
		s.logger.Error("submit refresh", "run_id", run.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit refresh")
		return
	}

	s.writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "refresh run not found")
		return
	}
	if err != nil {
		s.logger.Error("get run", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get refresh run")
		return
	}

	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	runs, total, err := s.store.ListRuns(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list runs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list refresh runs")
		return
	}

	if runs == nil {
		runs = []*model.RefreshRun{}
	}

	s.writeJSON(w, http.StatusOK, listRunsResponse{
		Runs:   runs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

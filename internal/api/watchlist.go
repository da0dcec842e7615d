package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/calcops/internal/model"
	"github.com/seantiz/calcops/internal/source"
	"github.com/seantiz/calcops/internal/store"
)

// addLookupTimeout bounds the listing lookup made when an item is added.
const addLookupTimeout = 15 * time.Second

// createWatchItemRequest is the JSON body for POST /v1/watchlist.
type createWatchItemRequest struct {
	UserID    string `json:"user_id"`
	Source    string `json:"source"`
	ListingID string `json:"listing_id"`
}

// listWatchItemsResponse wraps the paginated list response.
type listWatchItemsResponse struct {
	Items  []*model.WatchItem `json:"items"`
	Total  int                `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// handleCreateWatchItem looks the listing up once so that the stored item
// starts with a title and price, then saves it.
func (s *Server) handleCreateWatchItem(w http.ResponseWriter, r *http.Request) {
	var req createWatchItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	switch {
	case req.UserID == "":
		s.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	case req.Source == "":
		s.writeError(w, http.StatusBadRequest, "source is required")
		return
	case req.ListingID == "":
		s.writeError(w, http.StatusBadRequest, "listing_id is required")
		return
	}

	src, err := s.sources.Resolve(req.Source)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), addLookupTimeout)
	defer cancel()
	l, err := src.Lookup(ctx, req.ListingID)
	if errors.Is(err, source.ErrListingNotFound) {
		s.writeError(w, http.StatusUnprocessableEntity, "listing not found")
		return
	}
	if err != nil {
		s.logger.Error("lookup listing", "source", req.Source, "listing_id", req.ListingID, "error", err)
		s.writeError(w, http.StatusBadGateway, "listing lookup failed")
		return
	}

	now := time.Now().UTC()
	item := &model.WatchItem{
		ID:              model.NewID(),
		UserID:          req.UserID,
		Source:          req.Source,
		ListingID:       req.ListingID,
		Title:           l.Title,
		PriceCents:      &l.PriceCents,
		Currency:        l.Currency,
		ImageURL:        l.ImageURL,
		ItemURL:         l.ItemURL,
		Available:       l.Available,
		LastRefreshedAt: &now,
		CreatedAt:       now,
	}

	if err := s.store.CreateWatchItem(r.Context(), item); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			s.writeError(w, http.StatusConflict, "listing already on watchlist")
			return
		}
		s.logger.Error("create watch item", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create watch item")
		return
	}

	s.writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleGetWatchItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	item, err := s.store.GetWatchItem(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "watch item not found")
		return
	}
	if err != nil {
		s.logger.Error("get watch item", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get watch item")
		return
	}

	s.writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleListWatchItems(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	items, total, err := s.store.ListWatchItems(r.Context(), r.URL.Query().Get("user_id"), limit, offset)
	if err != nil {
		s.logger.Error("list watch items", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list watch items")
		return
	}

	if items == nil {
		items = []*model.WatchItem{}
	}

	s.writeJSON(w, http.StatusOK, listWatchItemsResponse{
		Items:  items,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

func (s *Server) handleDeleteWatchItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.store.DeleteWatchItem(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "watch item not found")
			return
		}
		s.logger.Error("delete watch item", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to delete watch item")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

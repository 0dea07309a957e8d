package gateway

import (
	"errors"
	"net/http"
	"strings"

	"github.com/CosmoTheDev/dupescan-agent/internal/store"
	"github.com/CosmoTheDev/dupescan-agent/models"
)

func (gw *Gateway) handleListRepos(w http.ResponseWriter, r *http.Request) {
	repos, err := gw.store.ListRepos(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	page, pageSize := parsePaginationParams(r, 50, 200)
	writeJSON(w, http.StatusOK, paginate(repos, page, pageSize))
}

type trackRepoRequest struct {
	Provider string `json:"provider"`
	Owner    string `json:"owner"`
	Name     string `json:"name"`
}

func (gw *Gateway) handleTrackRepo(w http.ResponseWriter, r *http.Request) {
	var req trackRepoRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Owner = strings.TrimSpace(req.Owner)
	req.Name = strings.TrimSpace(req.Name)
	if req.Owner == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "owner and name are required")
		return
	}
	repo, err := gw.store.TrackRepo(r.Context(), req.Provider, req.Owner, req.Name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, repo)
}

func (gw *Gateway) handleGetRepo(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	repo, err := gw.store.GetRepo(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "repo not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, repo)
}

func (gw *Gateway) handleDeleteRepo(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := gw.store.DeleteRepo(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (gw *Gateway) handleClearRepos(w http.ResponseWriter, r *http.Request) {
	if err := gw.store.ClearRepos(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

func (gw *Gateway) handleListRepoPRs(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	prs, err := gw.store.ListOpenPRs(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	page, pageSize := parsePaginationParams(r, 50, 500)
	writeJSON(w, http.StatusOK, paginate(prs, page, pageSize))
}

func (gw *Gateway) handleListRepoScans(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	scans, err := gw.store.ListScans(r.Context(), id, 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if scans == nil {
		scans = []models.Scan{}
	}
	writeJSON(w, http.StatusOK, scans)
}

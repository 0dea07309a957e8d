package gateway

import (
	"errors"
	"net/http"

	"github.com/CosmoTheDev/dupescan-agent/internal/store"
	"github.com/CosmoTheDev/dupescan-agent/models"
)

type startScanRequest struct {
	RepoID    int64 `json:"repo_id"`
	AccountID int64 `json:"account_id"`
	Full      bool  `json:"full"`
	MaxPRs    int   `json:"max_prs,omitempty"`
}

func (gw *Gateway) handleStartScan(w http.ResponseWriter, r *http.Request) {
	var req startScanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.RepoID <= 0 || req.AccountID <= 0 {
		writeError(w, http.StatusBadRequest, "repo_id and account_id are required")
		return
	}
	scanRow, err := gw.orch.StartScan(r.Context(), req.RepoID, req.AccountID, req.Full, req.MaxPRs)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "repo or account not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, scanRow)
}

func (gw *Gateway) handleListScans(w http.ResponseWriter, r *http.Request) {
	scans, err := gw.store.ListRecentScans(r.Context(), 500)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	page, pageSize := parsePaginationParams(r, 50, 200)
	writeJSON(w, http.StatusOK, paginate(scans, page, pageSize))
}

func (gw *Gateway) handleGetScan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	scanRow, err := gw.store.GetScan(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "scan not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, scanRow)
}

// groupWithMembers is the detail payload for a scan's group listing.
type groupWithMembers struct {
	models.DupeGroup
	Members []models.DupeGroupMember `json:"members"`
}

func (gw *Gateway) handleListScanGroups(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	groups, err := gw.store.ListDupeGroups(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]groupWithMembers, 0, len(groups))
	for _, g := range groups {
		members, err := gw.store.ListGroupMembers(r.Context(), g.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out = append(out, groupWithMembers{DupeGroup: g, Members: members})
	}
	writeJSON(w, http.StatusOK, out)
}

func (gw *Gateway) handleListGroupMembers(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	members, err := gw.store.ListGroupMembers(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if members == nil {
		members = []models.DupeGroupMember{}
	}
	writeJSON(w, http.StatusOK, members)
}

func (gw *Gateway) handleClearScans(w http.ResponseWriter, r *http.Request) {
	if err := gw.store.ClearScans(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

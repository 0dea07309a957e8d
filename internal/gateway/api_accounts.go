package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/CosmoTheDev/dupescan-agent/internal/store"
)

type createAccountRequest struct {
	Name      string          `json:"name"`
	Providers json.RawMessage `json:"providers,omitempty"`
}

func (gw *Gateway) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	providers := "{}"
	if len(req.Providers) > 0 {
		providers = string(req.Providers)
	}
	acct, err := gw.store.CreateAccount(r.Context(), req.Name, providers)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

func (gw *Gateway) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := gw.store.ListAccounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	page, pageSize := parsePaginationParams(r, 50, 200)
	writeJSON(w, http.StatusOK, paginate(accounts, page, pageSize))
}

func (gw *Gateway) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	acct, err := gw.store.GetAccount(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (gw *Gateway) handleUpdateAccountProviders(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var providers json.RawMessage
	if err := decodeJSON(r, &providers); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := gw.store.GetAccount(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := gw.store.UpdateAccountProviders(r.Context(), id, string(providers)); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// Cached provider clients for this account are now stale.
	gw.resolver.Invalidate(id)
	writeJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

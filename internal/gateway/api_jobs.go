package gateway

import (
	"net/http"
)

func (gw *Gateway) handleListJobs(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	jobs, err := gw.queue.List(r.Context(), status, 500)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	page, pageSize := parsePaginationParams(r, 50, 200)
	writeJSON(w, http.StatusOK, paginate(jobs, page, pageSize))
}

func (gw *Gateway) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	job, err := gw.queue.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (gw *Gateway) handleJobsSummary(w http.ResponseWriter, r *http.Request) {
	counts, err := gw.queue.Counts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

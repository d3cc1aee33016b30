package routes

import (
	"context"
	"net/http"
	"strconv"

	"github.com/petervdpas/goopcall/internal/storage"
)

// HistoryLister reads the call history.
type HistoryLister interface {
	List(ctx context.Context, limit int) ([]storage.CallRecord, error)
}

// RegisterHistory wires the call history endpoint.
//
//	GET /api/call/history?limit=N  newest first, default 50, max 500
func RegisterHistory(mux *http.ServeMux, h HistoryLister) {
	if h == nil {
		return
	}
	handleGet(mux, "/api/call/history", func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = min(n, 500)
		}
		recs, err := h.List(r.Context(), limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if recs == nil {
			recs = []storage.CallRecord{}
		}
		writeJSON(w, recs)
	})
}

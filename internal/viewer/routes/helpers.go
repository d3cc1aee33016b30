package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/goopcall/internal/call"
)

var log = logging.Logger("viewer")

// maxBody caps JSON request bodies.
const maxBody = 64 << 10

func handleGet(mux *http.ServeMux, path string, fn http.HandlerFunc) {
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		fn(w, r)
	})
}

// handlePost decodes the JSON body into a T before calling fn. An empty
// body decodes to the zero T.
func handlePost[T any](mux *http.ServeMux, path string, fn func(http.ResponseWriter, *http.Request, T)) {
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req T
		if r.ContentLength != 0 {
			if decodeJSON(w, r, &req) != nil {
				return
			}
		}
		fn(w, r, req)
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps controller errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, call.ErrInvalidIdentity):
		status = http.StatusBadRequest
	case errors.Is(err, call.ErrSessionBusy),
		errors.Is(err, call.ErrNoIncomingCall),
		errors.Is(err, call.ErrSessionEnded),
		errors.Is(err, call.ErrNoAlternateDevice):
		status = http.StatusConflict
	case errors.Is(err, call.ErrMediaAcquisitionFailed),
		errors.Is(err, call.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, call.ErrNegotiationFailed):
		status = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

package routes

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/petervdpas/goopcall/internal/state"
	"github.com/petervdpas/goopcall/internal/storage"
)

// PeerLister reads the persisted known-peer cache.
type PeerLister interface {
	ListPeers(ctx context.Context) ([]storage.KnownPeer, error)
}

type peerView struct {
	PeerID   string    `json:"peer_id"`
	Name     string    `json:"name"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
}

// RegisterPeers lists callable peers: live presence first, then peers only
// known from earlier sessions.
//
//	GET /api/peers
func RegisterPeers(mux *http.ServeMux, live *state.PeerTable, known PeerLister) {
	if live == nil && known == nil {
		return
	}
	handleGet(mux, "/api/peers", func(w http.ResponseWriter, r *http.Request) {
		seen := map[string]bool{}
		out := []peerView{}
		if live != nil {
			for id, sp := range live.Snapshot() {
				seen[id] = true
				out = append(out, peerView{PeerID: id, Name: sp.Name, Online: sp.Reachable, LastSeen: sp.LastSeen})
			}
		}
		if known != nil {
			peers, err := known.ListPeers(r.Context())
			if err != nil {
				log.Warnf("VIEWER: list known peers: %v", err)
			}
			for _, p := range peers {
				if seen[p.PeerID] {
					continue
				}
				out = append(out, peerView{PeerID: p.PeerID, Name: p.Name, LastSeen: p.LastSeen})
			}
		}
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Online != out[j].Online {
				return out[i].Online
			}
			return out[i].LastSeen.After(out[j].LastSeen)
		})
		writeJSON(w, out)
	})
}

package state

import (
	"sync"
	"time"
)

type SeenPeer struct {
	Name         string    `json:"name"`
	Reachable    bool      `json:"reachable"`
	LastSeen     time.Time `json:"last_seen"`
	OfflineSince time.Time `json:"offline_since,omitempty"`
}

// PeerTable tracks peers announced through presence. Peers that stop
// announcing go offline first and are removed after a grace period.
type PeerTable struct {
	mu    sync.Mutex
	peers map[string]SeenPeer
}

func NewPeerTable() *PeerTable {
	return &PeerTable{peers: map[string]SeenPeer{}}
}

func (t *PeerTable) Upsert(id, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if name == "" {
		name = t.peers[id].Name
	}
	t.peers[id] = SeenPeer{
		Name:      name,
		Reachable: true,
		LastSeen:  time.Now(),
	}
}

func (t *PeerTable) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, id)
}

func (t *PeerTable) Get(id string) (SeenPeer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sp, ok := t.peers[id]
	return sp, ok
}

func (t *PeerTable) Snapshot() map[string]SeenPeer {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := make(map[string]SeenPeer, len(t.peers))
	for k, v := range t.peers {
		cp[k] = v
	}
	return cp
}

// PruneStale moves online peers with expired TTL to offline state, then removes
// offline peers that have exceeded the grace period.
func (t *PeerTable) PruneStale(ttlCutoff, graceCutoff time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, sp := range t.peers {
		if sp.OfflineSince.IsZero() {
			if sp.LastSeen.Before(ttlCutoff) {
				sp.Reachable = false
				sp.OfflineSince = time.Now()
				t.peers[id] = sp
			}
		} else if sp.OfflineSince.Before(graceCutoff) {
			delete(t.peers, id)
		}
	}
}

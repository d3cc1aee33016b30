package storage

import (
	"context"
	"time"
)

// KnownPeer is the persistent record of a peer last seen through presence.
// It is kept after the peer goes offline so the UI can still offer a call.
type KnownPeer struct {
	PeerID   string    `json:"peer_id"`
	Name     string    `json:"name"`
	LastSeen time.Time `json:"last_seen"`
}

// UpsertPeer stores or refreshes a peer. An empty name keeps the old one.
func (d *DB) UpsertPeer(ctx context.Context, p KnownPeer) error {
	q := `
		INSERT INTO known_peers (peer_id, name, last_seen) VALUES (?, ?, ?)
		ON CONFLICT(peer_id) DO UPDATE SET
			name      = CASE WHEN excluded.name = '' THEN known_peers.name ELSE excluded.name END,
			last_seen = excluded.last_seen`
	if d.driver == DriverMySQL {
		q = `
		INSERT INTO known_peers (peer_id, name, last_seen) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE
			name      = IF(VALUES(name) = '', name, VALUES(name)),
			last_seen = VALUES(last_seen)`
	}
	_, err := d.exec(ctx, q, p.PeerID, p.Name, millis(p.LastSeen))
	return err
}

// ListPeers returns all known peers, most recently seen first.
func (d *DB) ListPeers(ctx context.Context) ([]KnownPeer, error) {
	rows, err := d.query(ctx, `SELECT peer_id, name, last_seen FROM known_peers ORDER BY last_seen DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var peers []KnownPeer
	for rows.Next() {
		var p KnownPeer
		var seen int64
		if err := rows.Scan(&p.PeerID, &p.Name, &seen); err != nil {
			return nil, err
		}
		p.LastSeen = fromMillis(seen)
		peers = append(peers, p)
	}
	return peers, rows.Err()
}

// DeletePeer forgets a peer entirely.
func (d *DB) DeletePeer(ctx context.Context, peerID string) error {
	_, err := d.exec(ctx, `DELETE FROM known_peers WHERE peer_id = ?`, peerID)
	return err
}

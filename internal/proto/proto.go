package proto

import "time"

const (
	// Call signaling topics are CallTopicPrefix + "/" + peer id.
	CallTopicPrefix = "goop.call.v1"
	PresenceTopic   = "goop.call.presence.v1"
	MdnsTag         = "goopcall-mdns"
)

const (
	TypeOnline  = "online"
	TypeUpdate  = "update"
	TypeOffline = "offline"
)

type PresenceMsg struct {
	Type   string   `json:"type"` // online|update|offline
	PeerID string   `json:"peerId"`
	Name   string   `json:"name,omitempty"`
	Addrs  []string `json:"addrs,omitempty"` // Multiaddresses for WAN connectivity
	TS     int64    `json:"ts"`
}

func NowMillis() int64 { return time.Now().UnixMilli() }

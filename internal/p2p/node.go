// Package p2p runs the libp2p host that carries call signaling and
// presence: mDNS discovery on the LAN, one gossipsub router shared by the
// presence topic and the per-identity call mailboxes.
package p2p

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	logging "github.com/ipfs/go-log/v2"
	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"

	"github.com/petervdpas/goopcall/internal/proto"
	"github.com/petervdpas/goopcall/internal/state"
)

var log = logging.Logger("p2p")

const connectTimeout = 3 * time.Second

func init() {
	// Silence noisy libp2p subsystems: dial failures and backoff errors
	// go to stderr by default and pollute terminal output.
	logging.SetLogLevel("swarm2", "error")
	logging.SetLogLevel("autonat", "warn")
	logging.SetLogLevel("mdns", "warn")
}

// Options configures a Node.
type Options struct {
	ListenPort    int
	KeyFile       string
	MdnsTag       string
	PresenceTopic string
	// PresenceTTL bounds how long addresses learned from presence stay in
	// the peerstore.
	PresenceTTL time.Duration
	Peers       *state.PeerTable
	SelfName    func() string
}

type Node struct {
	Host  host.Host
	ps    *pubsub.PubSub
	mdns  mdns.Service
	topic *pubsub.Topic
	sub   *pubsub.Subscription

	selfName    func() string
	peers       *state.PeerTable
	presenceTTL time.Duration
}

type mdnsNotifee struct {
	h host.Host
}

func (n *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == n.h.ID() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := n.h.Connect(ctx, pi); err != nil {
		log.Debugf("P2P: mdns connect %s: %v", pi.ID, err)
	}
}

// loadOrCreateKey loads a persistent identity key from disk,
// or generates a new Ed25519 key and saves it on first run.
func loadOrCreateKey(keyFile string) (crypto.PrivKey, bool, error) {
	data, err := os.ReadFile(keyFile)
	if err == nil {
		priv, err := crypto.UnmarshalPrivateKey(data)
		if err == nil {
			return priv, false, nil
		}
		log.Warnf("P2P: corrupt identity key at %s: %v (generating new key)", keyFile, err)
	}

	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, false, err
	}

	raw, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, false, fmt.Errorf("marshal identity key: %w", err)
	}

	if dir := filepath.Dir(keyFile); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, false, fmt.Errorf("create key directory: %w", err)
		}
	}

	if err := os.WriteFile(keyFile, raw, 0600); err != nil {
		return nil, false, fmt.Errorf("save identity key: %w", err)
	}

	return priv, true, nil
}

// LoadIdentity returns the peer id for keyFile, creating the key on first
// run. Transports without a libp2p host use it as the call identity.
func LoadIdentity(keyFile string) (string, error) {
	priv, _, err := loadOrCreateKey(keyFile)
	if err != nil {
		return "", err
	}
	id, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func New(ctx context.Context, o Options) (*Node, error) {
	priv, isNew, err := loadOrCreateKey(o.KeyFile)
	if err != nil {
		return nil, err
	}
	if isNew {
		log.Infof("P2P: generated new identity key: %s", o.KeyFile)
	} else {
		log.Infof("P2P: loaded identity key: %s", o.KeyFile)
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", o.ListenPort)),
	)
	if err != nil {
		return nil, err
	}

	tag := o.MdnsTag
	if tag == "" {
		tag = proto.MdnsTag
	}
	md := mdns.NewMdnsService(h, tag, &mdnsNotifee{h: h})
	if err := md.Start(); err != nil {
		_ = h.Close()
		return nil, err
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = md.Close()
		_ = h.Close()
		return nil, err
	}

	topicName := o.PresenceTopic
	if topicName == "" {
		topicName = proto.PresenceTopic
	}
	topic, err := ps.Join(topicName)
	if err != nil {
		_ = md.Close()
		_ = h.Close()
		return nil, err
	}

	sub, err := topic.Subscribe()
	if err != nil {
		_ = md.Close()
		_ = h.Close()
		return nil, err
	}

	selfName := o.SelfName
	if selfName == nil {
		selfName = func() string { return "" }
	}
	peers := o.Peers
	if peers == nil {
		peers = state.NewPeerTable()
	}

	n := &Node{
		Host:        h,
		ps:          ps,
		mdns:        md,
		topic:       topic,
		sub:         sub,
		selfName:    selfName,
		peers:       peers,
		presenceTTL: o.PresenceTTL,
	}
	log.Infof("P2P: node %s listening on %v", h.ID(), h.Addrs())
	return n, nil
}

func (n *Node) Close() error {
	n.sub.Cancel()
	_ = n.mdns.Close()
	return n.Host.Close()
}

func (n *Node) ID() string {
	return n.Host.ID().String()
}

// PubSub returns the gossipsub router so other mailboxes can share it.
func (n *Node) PubSub() *pubsub.PubSub {
	return n.ps
}

// Peers returns the presence table.
func (n *Node) Peers() *state.PeerTable {
	return n.peers
}

func (n *Node) Publish(ctx context.Context, typ string) {
	msg := proto.PresenceMsg{
		Type:   typ,
		PeerID: n.ID(),
		TS:     proto.NowMillis(),
	}
	if typ == proto.TypeOnline || typ == proto.TypeUpdate {
		msg.Name = n.selfName()
		msg.Addrs = n.wanAddrs()
	}

	b, _ := json.Marshal(msg)
	if err := n.topic.Publish(ctx, b); err != nil {
		log.Debugf("P2P: presence publish: %v", err)
	}
}

// wanAddrs returns the host's multiaddresses filtered to exclude loopback
// and link-local addresses.
func (n *Node) wanAddrs() []string {
	var out []string
	for _, a := range n.Host.Addrs() {
		ip, err := manet.ToIP(a)
		if err != nil {
			continue
		}
		if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			continue
		}
		out = append(out, a.String())
	}
	return out
}

// addPeerAddrs parses multiaddr strings and adds them to the peerstore for the given peer.
func (n *Node) addPeerAddrs(peerID string, addrs []string) {
	if len(addrs) == 0 {
		return
	}
	pid, err := peer.Decode(peerID)
	if err != nil {
		return
	}
	var maddrs []ma.Multiaddr
	for _, s := range addrs {
		a, err := ma.NewMultiaddr(s)
		if err != nil {
			continue
		}
		if ip, err := manet.ToIP(a); err == nil {
			if ip.IsLoopback() || ip.IsLinkLocalUnicast() {
				continue
			}
		}
		maddrs = append(maddrs, a)
	}
	ttl := n.presenceTTL
	if ttl <= 0 {
		ttl = 20 * time.Second
	}
	if len(maddrs) > 0 {
		n.Host.Peerstore().AddAddrs(pid, maddrs, ttl)
	}
}

// RunPresenceLoop folds presence messages into the peer table. onEvent, if
// set, sees every accepted message.
func (n *Node) RunPresenceLoop(ctx context.Context, onEvent func(msg proto.PresenceMsg)) {
	go func() {
		for {
			m, err := n.sub.Next(ctx)
			if err != nil {
				return
			}

			var pm proto.PresenceMsg
			if err := json.Unmarshal(m.Data, &pm); err != nil {
				continue
			}
			if pm.PeerID == "" || pm.Type == "" {
				continue
			}
			if pm.PeerID == n.ID() {
				continue
			}
			// The announced id must be the sender's.
			if pm.PeerID != m.GetFrom().String() {
				continue
			}

			switch pm.Type {
			case proto.TypeOnline, proto.TypeUpdate:
				n.peers.Upsert(pm.PeerID, pm.Name)
				n.addPeerAddrs(pm.PeerID, pm.Addrs)
			case proto.TypeOffline:
				n.peers.Remove(pm.PeerID)
			}

			if onEvent != nil {
				onEvent(pm)
			}
		}
	}()
}

// RunHeartbeat announces the node online, re-announces every interval and
// prunes peers that missed their ttl. It blocks until ctx is done, then
// announces offline.
func (n *Node) RunHeartbeat(ctx context.Context, interval, ttl time.Duration) {
	n.Publish(ctx, proto.TypeOnline)

	beat := time.NewTicker(interval)
	defer beat.Stop()
	prune := time.NewTicker(time.Second)
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			offCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			n.Publish(offCtx, proto.TypeOffline)
			cancel()
			return
		case <-beat.C:
			n.Publish(ctx, proto.TypeUpdate)
		case <-prune.C:
			now := time.Now()
			n.peers.PruneStale(now.Add(-ttl), now.Add(-3*ttl))
		}
	}
}

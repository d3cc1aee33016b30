// Package app wires a call peer together: configuration, identity, the
// signaling transport, history storage, the call controller and the local
// HTTP viewer.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/petervdpas/goopcall/internal/call"
	"github.com/petervdpas/goopcall/internal/config"
	"github.com/petervdpas/goopcall/internal/p2p"
	"github.com/petervdpas/goopcall/internal/proto"
	"github.com/petervdpas/goopcall/internal/realtime"
	"github.com/petervdpas/goopcall/internal/storage"
	"github.com/petervdpas/goopcall/internal/util"
	"github.com/petervdpas/goopcall/internal/viewer"
)

var log = logging.Logger("app")

// subsystems whose level follows log.level. libp2p's own subsystems keep
// the levels set in p2p.
var subsystems = []string{"app", "call", "config", "p2p", "realtime", "storage", "viewer"}

type Options struct {
	PeerDir string
	CfgPath string
	Cfg     config.Config
	// Logs, when set, receives a copy of all log output for /api/logs.
	Logs *viewer.LogBuffer
}

// transport is the signaling side of a running peer.
type transport struct {
	self    string
	mailbox realtime.Mailbox
	node    *p2p.Node // libp2p only
}

func (t *transport) close() {
	if err := t.mailbox.Close(); err != nil {
		log.Debugf("APP: mailbox close: %v", err)
	}
	if t.node != nil {
		_ = t.node.Close()
	}
}

// Run starts the peer and blocks until ctx is done or the viewer fails.
func Run(ctx context.Context, opt Options) error {
	cfg := opt.Cfg

	if opt.Logs != nil {
		pr := logging.NewPipeReader(logging.PipeFormat(logging.PlaintextOutput))
		defer pr.Close()
		opt.Logs.Follow(pr)
	}
	setLogLevel(cfg.Log.Level)

	tr, err := openTransport(ctx, opt.PeerDir, cfg)
	if err != nil {
		return err
	}
	defer tr.close()

	logBanner(opt.PeerDir, opt.CfgPath, tr.self, cfg.Signaling.Transport)

	db, history, err := openHistory(opt.PeerDir, cfg.History)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	capturer, err := call.NewDeviceCapturer(cfg.Call.VideoBitRate)
	if err != nil {
		return fmt.Errorf("media capture: %w", err)
	}
	media := call.NewMediaController(capturer)
	applyDevicePrefs(media, cfg.Call)

	ctrl, err := newController(tr, media, history, cfg.Call)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := call.RegisterMetrics(reg); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	go logUpdates(ctx, ctrl)

	if tr.node != nil {
		runPresence(ctx, tr.node, db, cfg.Presence)
	}

	if opt.CfgPath != "" {
		err := config.Watch(ctx, opt.CfgPath, func(c config.Config) {
			applyDevicePrefs(media, c.Call)
			setLogLevel(c.Log.Level)
		})
		if err != nil {
			log.Warnf("APP: config hot reload disabled: %v", err)
		}
	}

	viewerErr := make(chan error, 1)
	if cfg.Viewer.HTTPAddr != "" {
		addr, url := NormalizeLocalViewer(cfg.Viewer.HTTPAddr)
		v := viewer.Viewer{
			Call:           ctrl,
			Logs:           opt.Logs,
			Gatherer:       reg,
			AllowedOrigins: cfg.Viewer.AllowedOrigins,
		}
		if history != nil {
			v.History = history
		}
		if db != nil {
			v.Known = db
		}
		if tr.node != nil {
			v.Peers = tr.node.Peers()
		}
		log.Infof("APP: control API at %s", url)
		go func() { viewerErr <- viewer.Start(ctx, addr, v) }()
	}

	select {
	case <-ctx.Done():
		log.Info("APP: shutting down")
		return nil
	case err := <-viewerErr:
		if err != nil {
			return fmt.Errorf("viewer: %w", err)
		}
		return nil
	}
}

func openTransport(ctx context.Context, peerDir string, cfg config.Config) (*transport, error) {
	keyPath := util.ResolvePath(peerDir, cfg.Identity.KeyFile)
	prefix := cfg.Signaling.TopicPrefix
	if prefix == "" {
		prefix = proto.CallTopicPrefix
	}

	switch cfg.Signaling.Transport {
	case config.TransportLibp2p:
		node, err := p2p.New(ctx, p2p.Options{
			ListenPort:    cfg.P2P.ListenPort,
			KeyFile:       keyPath,
			MdnsTag:       cfg.P2P.MdnsTag,
			PresenceTopic: cfg.Presence.Topic,
			PresenceTTL:   time.Duration(cfg.Presence.TTLSec) * time.Second,
			SelfName:      func() string { return cfg.Identity.Name },
		})
		if err != nil {
			return nil, fmt.Errorf("p2p node: %w", err)
		}
		return &transport{
			self:    node.ID(),
			mailbox: realtime.NewGossipMailbox(node.PubSub(), node.Host.ID(), prefix),
			node:    node,
		}, nil

	case config.TransportRedis:
		self, err := p2p.LoadIdentity(keyPath)
		if err != nil {
			return nil, err
		}
		mb, err := realtime.NewRedisMailbox(ctx, &redis.Options{
			Addr:     cfg.Signaling.RedisAddr,
			Password: cfg.Signaling.RedisPassword,
			DB:       cfg.Signaling.RedisDB,
		}, prefix)
		if err != nil {
			return nil, err
		}
		return &transport{self: self, mailbox: mb}, nil

	case config.TransportLoopback:
		self, err := p2p.LoadIdentity(keyPath)
		if err != nil {
			return nil, err
		}
		return &transport{self: self, mailbox: realtime.NewHub()}, nil
	}
	return nil, fmt.Errorf("unknown signaling transport %q", cfg.Signaling.Transport)
}

// openHistory returns nil store and db when history is disabled.
func openHistory(peerDir string, h config.History) (*storage.DB, *storage.HistoryStore, error) {
	if h.Driver == "" {
		log.Info("APP: call history disabled")
		return nil, nil, nil
	}
	dsn := h.DSN
	if h.Driver == storage.DriverSQLite {
		dsn = util.ResolvePath(peerDir, dsn)
	}
	db, err := storage.Open(h.Driver, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("history: %w", err)
	}
	return db, storage.NewHistoryStore(db), nil
}

// NewController builds a call controller for self over mb. It is the
// embedding entry point: Run uses it, and so can tools that host several
// peers on one in-process Hub.
func NewController(self string, mb realtime.Mailbox, media *call.MediaController, newPeer call.PeerFactory, history call.HistoryRecorder, c config.Call) (*call.Controller, error) {
	cons := call.Constraints{Audio: true, Video: !c.AudioOnly, Fallback: c.MediaFallback}
	return call.NewController(call.Options{
		Self:        self,
		Signaler:    newMailboxSignaler(mb),
		Media:       media,
		NewPeer:     newPeer,
		History:     history,
		Constraints: cons,
		RingTimeout: c.RingTimeout(),
	})
}

func newController(tr *transport, media *call.MediaController, history *storage.HistoryStore, c config.Call) (*call.Controller, error) {
	var rec call.HistoryRecorder
	if history != nil {
		rec = history
	}
	return NewController(tr.self, tr.mailbox, media, call.NewPionFactory(pionConfig(c)), rec, c)
}

func pionConfig(c config.Call) call.PionConfig {
	pc := call.PionConfig{
		DisconnectedTimeout: time.Duration(c.DisconnectedTimeoutSec) * time.Second,
		FailedTimeout:       time.Duration(c.FailedTimeoutSec) * time.Second,
		LoggerFactory:       pionLoggerFactory{},
	}
	if len(c.ICEServers) > 0 {
		pc.ICEServers = []webrtc.ICEServer{{URLs: c.ICEServers}}
	}
	return pc
}

func applyDevicePrefs(media *call.MediaController, c config.Call) {
	media.SetPreferred(call.KindVideo, c.PreferredCam)
	media.SetPreferred(call.KindAudio, c.PreferredMic)
}

func setLogLevel(level string) {
	if level == "" {
		return
	}
	if _, err := logging.LevelFromString(level); err != nil {
		log.Warnf("APP: invalid log level %q: %v", level, err)
		return
	}
	for _, s := range subsystems {
		_ = logging.SetLogLevel(s, level)
	}
}

// runPresence announces this peer and keeps the peer table and the known
// peer cache current.
func runPresence(ctx context.Context, node *p2p.Node, db *storage.DB, p config.Presence) {
	node.RunPresenceLoop(ctx, func(m proto.PresenceMsg) {
		log.Debugf("APP: presence [%s] %s %q", m.Type, m.PeerID, m.Name)
		if db == nil || m.Type == proto.TypeOffline {
			return
		}
		err := db.UpsertPeer(ctx, storage.KnownPeer{PeerID: m.PeerID, Name: m.Name, LastSeen: time.Now()})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warnf("APP: cache peer %s: %v", m.PeerID, err)
		}
	})
	go node.RunHeartbeat(ctx,
		time.Duration(p.HeartbeatSec)*time.Second,
		time.Duration(p.TTLSec)*time.Second)
}

// logUpdates writes session transitions to the log so a headless peer
// shows incoming calls.
func logUpdates(ctx context.Context, ctrl *call.Controller) {
	updates, cancel := ctrl.Subscribe()
	defer cancel()
	last := call.StateIdle
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if u.Err != nil {
				log.Warnf("APP: call with %s failed: %v", u.Session.Remote, u.Err)
			}
			if u.Session.State == last {
				continue
			}
			last = u.Session.State
			switch last {
			case call.StateIncoming:
				log.Infof("APP: incoming call from %s (POST /api/call/accept to answer)", u.Session.Remote)
			case call.StateIdle:
				log.Info("APP: idle")
			default:
				log.Infof("APP: call %s with %s", last, u.Session.Remote)
			}
		}
	}
}

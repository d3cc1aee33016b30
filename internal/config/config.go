package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/petervdpas/goopcall/internal/util"
)

// Signaling transports.
const (
	TransportLibp2p   = "libp2p"
	TransportRedis    = "redis"
	TransportLoopback = "loopback"
)

type Config struct {
	Identity  Identity  `json:"identity"`
	P2P       P2P       `json:"p2p"`
	Presence  Presence  `json:"presence"`
	Signaling Signaling `json:"signaling"`
	Call      Call      `json:"call"`
	History   History   `json:"history"`
	Viewer    Viewer    `json:"viewer"`
	Log       Log       `json:"log"`
}

type Identity struct {
	KeyFile string `json:"key_file"`
	// Name is shown to other peers in presence. Empty means the peer id.
	Name string `json:"name"`
}

type P2P struct {
	ListenPort int    `json:"listen_port"`
	MdnsTag    string `json:"mdns_tag"`
}

type Presence struct {
	Topic        string `json:"topic"`
	TTLSec       int    `json:"ttl_seconds"`
	HeartbeatSec int    `json:"heartbeat_seconds"`
}

type Signaling struct {
	Transport   string `json:"transport"`
	TopicPrefix string `json:"topic_prefix"`

	// Redis transport only.
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
}

type Call struct {
	ICEServers []string `json:"ice_servers"`
	// ICE timeouts (seconds). 0 = pion default.
	DisconnectedTimeoutSec int `json:"disconnected_timeout_sec"`
	FailedTimeoutSec       int `json:"failed_timeout_sec"`
	// RingTimeoutSec ends an unanswered outbound call. 0 = ring forever.
	RingTimeoutSec int    `json:"ring_timeout_seconds"`
	PreferredCam   string `json:"preferred_cam"`
	PreferredMic   string `json:"preferred_mic"`
	AudioOnly      bool   `json:"audio_only"`
	// MediaFallback continues a call audio-only when the camera fails.
	MediaFallback bool `json:"media_fallback"`
	VideoBitRate  int  `json:"video_bitrate"`
}

type History struct {
	Driver string `json:"driver"`
	// DSN is a file path (relative to the peer dir) for sqlite, or a
	// go-sql-driver DSN for mysql.
	DSN string `json:"dsn"`
}

type Viewer struct {
	HTTPAddr       string   `json:"http_addr"`
	AllowedOrigins []string `json:"allowed_origins"`
	Debug          bool     `json:"debug"`
}

type Log struct {
	Level string `json:"level"`
}

func Default() Config {
	return Config{
		Identity: Identity{
			KeyFile: "data/identity.key",
		},
		P2P: P2P{
			ListenPort: 0,
			MdnsTag:    "goopcall-mdns",
		},
		Presence: Presence{
			Topic:        "goop.call.presence.v1",
			TTLSec:       20,
			HeartbeatSec: 5,
		},
		Signaling: Signaling{
			Transport:   TransportLibp2p,
			TopicPrefix: "goop.call.v1",
			RedisAddr:   "localhost:6379",
		},
		Call: Call{
			ICEServers:     []string{"stun:stun.l.google.com:19302"},
			RingTimeoutSec: 0,
			MediaFallback:  true,
			VideoBitRate:   500_000,
		},
		History: History{
			Driver: "sqlite",
			DSN:    "data/history.db",
		},
		Viewer: Viewer{
			HTTPAddr: "127.0.0.1:8080",
		},
		Log: Log{
			Level: "info",
		},
	}
}

// RingTimeout returns the ring timeout as a duration.
func (c Call) RingTimeout() time.Duration {
	return time.Duration(c.RingTimeoutSec) * time.Second
}

func (c *Config) Validate() error {
	// Identity
	if strings.TrimSpace(c.Identity.KeyFile) == "" {
		return errors.New("identity.key_file is required")
	}

	// P2P
	if c.P2P.ListenPort < 0 || c.P2P.ListenPort > 65535 {
		return errors.New("p2p.listen_port must be 0..65535")
	}
	if strings.TrimSpace(c.P2P.MdnsTag) == "" {
		return errors.New("p2p.mdns_tag is required")
	}

	// Presence
	if strings.TrimSpace(c.Presence.Topic) == "" {
		return errors.New("presence.topic is required")
	}
	if c.Presence.TTLSec <= 0 {
		return errors.New("presence.ttl_seconds must be > 0")
	}
	if c.Presence.HeartbeatSec <= 0 {
		return errors.New("presence.heartbeat_seconds must be > 0")
	}
	if c.Presence.HeartbeatSec >= c.Presence.TTLSec {
		return errors.New("presence.heartbeat_seconds must be < presence.ttl_seconds")
	}

	// Signaling
	switch c.Signaling.Transport {
	case TransportLibp2p, TransportLoopback:
	case TransportRedis:
		if _, _, err := net.SplitHostPort(c.Signaling.RedisAddr); err != nil {
			return fmt.Errorf("signaling.redis_addr: %w", err)
		}
		if c.Signaling.RedisDB < 0 {
			return errors.New("signaling.redis_db must be >= 0")
		}
	default:
		return fmt.Errorf("signaling.transport must be %s, %s or %s", TransportLibp2p, TransportRedis, TransportLoopback)
	}
	if strings.TrimSpace(c.Signaling.TopicPrefix) == "" {
		return errors.New("signaling.topic_prefix is required")
	}

	// Call
	for _, s := range c.Call.ICEServers {
		if err := validateICEURL(s); err != nil {
			return fmt.Errorf("call.ice_servers: %q: %w", s, err)
		}
	}
	if c.Call.DisconnectedTimeoutSec < 0 || c.Call.FailedTimeoutSec < 0 {
		return errors.New("call ICE timeouts must be >= 0")
	}
	if c.Call.RingTimeoutSec < 0 {
		return errors.New("call.ring_timeout_seconds must be >= 0")
	}
	if c.Call.VideoBitRate < 0 {
		return errors.New("call.video_bitrate must be >= 0")
	}

	// History
	switch c.History.Driver {
	case "sqlite", "mysql":
		if strings.TrimSpace(c.History.DSN) == "" {
			return errors.New("history.dsn is required")
		}
	case "":
		// history disabled
	default:
		return errors.New("history.driver must be sqlite, mysql or empty")
	}

	// Viewer
	if a := c.Viewer.HTTPAddr; a != "" {
		if _, _, err := net.SplitHostPort(a); err != nil {
			return fmt.Errorf("viewer.http_addr: %w", err)
		}
	}

	return nil
}

func validateICEURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	switch u.Scheme {
	case "stun", "stuns", "turn", "turns":
	default:
		return errors.New("scheme must be stun, stuns, turn or turns")
	}
	if u.Opaque == "" {
		return errors.New("missing host")
	}
	return nil
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, true, err
	}
	return cfg, true, cfg.Validate()
}

// LoadDotEnv loads a .env file into the process environment. Variables that
// are already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from GOOPCALL_* environment variables.
func (c *Config) ApplyEnv() error {
	str := map[string]*string{
		"GOOPCALL_NAME":                &c.Identity.Name,
		"GOOPCALL_SIGNALING_TRANSPORT": &c.Signaling.Transport,
		"GOOPCALL_REDIS_ADDR":          &c.Signaling.RedisAddr,
		"GOOPCALL_REDIS_PASSWORD":      &c.Signaling.RedisPassword,
		"GOOPCALL_HISTORY_DRIVER":      &c.History.Driver,
		"GOOPCALL_HISTORY_DSN":         &c.History.DSN,
		"GOOPCALL_HTTP_ADDR":           &c.Viewer.HTTPAddr,
		"GOOPCALL_LOG_LEVEL":           &c.Log.Level,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	ints := map[string]*int{
		"GOOPCALL_LISTEN_PORT":  &c.P2P.ListenPort,
		"GOOPCALL_REDIS_DB":     &c.Signaling.RedisDB,
		"GOOPCALL_RING_TIMEOUT": &c.Call.RingTimeoutSec,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = n
	}

	if v, ok := os.LookupEnv("GOOPCALL_ICE_SERVERS"); ok {
		c.Call.ICEServers = nil
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				c.Call.ICEServers = append(c.Call.ICEServers, s)
			}
		}
	}
	return nil
}

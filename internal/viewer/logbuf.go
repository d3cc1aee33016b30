package viewer

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/petervdpas/goopcall/internal/util"
)

// LogEntry is one log line. Level and Logger are filled when the line is in
// go-log's plaintext layout (time, level, logger, caller, message).
type LogEntry struct {
	TS     time.Time `json:"ts"`
	Level  string    `json:"level,omitempty"`
	Logger string    `json:"logger,omitempty"`
	Msg    string    `json:"msg"`
}

func parseLogLine(line string) LogEntry {
	e := LogEntry{TS: time.Now(), Msg: line}
	parts := strings.SplitN(line, "\t", 5)
	if len(parts) != 5 {
		return e
	}
	switch lvl := strings.ToLower(parts[1]); lvl {
	case "debug", "info", "warn", "error", "dpanic", "panic", "fatal":
		e.Level = lvl
		e.Logger = parts[2]
		e.Msg = parts[4]
	}
	return e
}

// LogBuffer keeps the most recent log lines for /api/logs and fans new
// lines out to stream subscribers.
type LogBuffer struct {
	mu      sync.Mutex
	entries *util.RingBuffer[LogEntry]
	subs    map[chan LogEntry]struct{}
	partial bytes.Buffer
}

func NewLogBuffer(max int) *LogBuffer {
	if max <= 0 {
		max = 500
	}
	return &LogBuffer{
		entries: util.NewRingBuffer[LogEntry](max),
		subs:    make(map[chan LogEntry]struct{}),
	}
}

// Follow copies log output from r (typically a go-log pipe reader) into the
// buffer until r is closed.
func (b *LogBuffer) Follow(r io.Reader) {
	go func() {
		if _, err := io.Copy(b, r); err != nil {
			log.Debugf("VIEWER: log follow ended: %v", err)
		}
	}()
}

// Write implements io.Writer, one entry per complete line.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.partial.Write(p)
	for {
		i := bytes.IndexByte(b.partial.Bytes(), '\n')
		if i == -1 {
			break
		}
		line := strings.TrimRight(string(b.partial.Next(i + 1)[:i]), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		e := parseLogLine(line)
		b.entries.Push(e)
		for ch := range b.subs {
			select {
			case ch <- e:
			default: // slow subscriber
			}
		}
	}
	return len(p), nil
}

func (b *LogBuffer) Snapshot() []LogEntry {
	return b.entries.Snapshot()
}

// Tail returns the newest n entries, optionally only those of one logger.
func (b *LogBuffer) Tail(n int, logger string) []LogEntry {
	if logger == "" {
		return b.entries.Tail(n)
	}
	out := b.entries.Filter(func(e LogEntry) bool { return e.Logger == logger })
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

func (b *LogBuffer) Subscribe() (ch chan LogEntry, cancel func()) {
	ch = make(chan LogEntry, 64)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel = func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// tailQuery reads ?n= and ?logger=. A missing or invalid n means def.
func tailQuery(r *http.Request, def int) (int, string) {
	n := def
	if v, err := strconv.Atoi(r.URL.Query().Get("n")); err == nil && v >= 0 {
		n = v
	}
	return n, r.URL.Query().Get("logger")
}

// GET /api/logs?n=N&logger=L
func (b *LogBuffer) ServeLogsJSON(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	n, logger := tailQuery(r, 0)
	out := b.Tail(n, logger)
	if out == nil {
		out = []LogEntry{}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(out)
}

// GET /api/logs/stream?n=N&logger=L (Server-Sent Events). The newest n
// entries are replayed first, then new lines follow.
func (b *LogBuffer) ServeLogsSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	n, logger := tailQuery(r, 0)

	// Subscribe before reading the backlog so nothing falls in between.
	ch, cancel := b.Subscribe()
	defer cancel()

	if n > 0 {
		for _, e := range b.Tail(n, logger) {
			writeSSE(w, e)
		}
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if logger != "" && e.Logger != logger {
				continue
			}
			writeSSE(w, e)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, e LogEntry) {
	b, _ := json.Marshal(e)
	_, _ = w.Write([]byte("event: message\n"))
	_, _ = w.Write([]byte("data: " + string(b) + "\n\n"))
}

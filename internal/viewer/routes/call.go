package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/petervdpas/goopcall/internal/call"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// CallController is the part of *call.Controller the API drives.
type CallController interface {
	Start(ctx context.Context, remote, contextID string) error
	Accept(ctx context.Context) error
	Reject(ctx context.Context) error
	End(ctx context.Context) error
	ToggleAudio() (bool, error)
	ToggleVideo() (bool, error)
	SwitchCamera(ctx context.Context) error
	Session() call.Session
	Subscribe() (<-chan call.Update, func())
	LocalTracks() []call.Track
	RemoteTracks() []call.RemoteTrack
	Recent(key string) []call.Event
}

type trackInfo struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	DeviceID string `json:"device_id,omitempty"`
	Enabled  bool   `json:"enabled"`
}

type stateResponse struct {
	Session      call.Session `json:"session"`
	LocalTracks  []trackInfo  `json:"local_tracks"`
	RemoteTracks []trackInfo  `json:"remote_tracks"`
}

// eventMessage is one frame of the /api/call/events stream.
type eventMessage struct {
	Session call.Session `json:"session"`
	Error   string       `json:"error,omitempty"`
}

// RegisterCall wires the call control API.
//
//	GET  /api/call/state          session snapshot and tracks
//	POST /api/call/start          {"remote_peer", "context_id"}
//	POST /api/call/accept|reject|end
//	POST /api/call/toggle-audio|toggle-video|switch-camera
//	GET  /api/call/events         websocket of session updates
//	GET  /api/call/debug?key=K    recent controller events
func RegisterCall(mux *http.ServeMux, ctrl CallController, checkOrigin func(*http.Request) bool) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     checkOrigin,
	}

	handleGet(mux, "/api/call/state", func(w http.ResponseWriter, r *http.Request) {
		resp := stateResponse{
			Session:      ctrl.Session(),
			LocalTracks:  []trackInfo{},
			RemoteTracks: []trackInfo{},
		}
		for _, t := range ctrl.LocalTracks() {
			resp.LocalTracks = append(resp.LocalTracks, trackInfo{
				ID: t.ID(), Kind: t.Kind().String(), DeviceID: t.DeviceID(), Enabled: t.Enabled(),
			})
		}
		for _, t := range ctrl.RemoteTracks() {
			resp.RemoteTracks = append(resp.RemoteTracks, trackInfo{
				ID: t.ID(), Kind: t.Kind().String(), Enabled: true,
			})
		}
		writeJSON(w, resp)
	})

	handlePost(mux, "/api/call/start", func(w http.ResponseWriter, r *http.Request, req struct {
		RemotePeer string `json:"remote_peer"`
		ContextID  string `json:"context_id"`
	}) {
		if req.RemotePeer == "" {
			http.Error(w, "missing remote_peer", http.StatusBadRequest)
			return
		}
		if err := ctrl.Start(r.Context(), req.RemotePeer, req.ContextID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, ctrl.Session())
	})

	session := func(op func(context.Context) error) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if err := op(r.Context()); err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, ctrl.Session())
		}
	}
	post := func(path string, h http.HandlerFunc) {
		handlePost(mux, path, func(w http.ResponseWriter, r *http.Request, _ struct{}) { h(w, r) })
	}

	post("/api/call/accept", session(ctrl.Accept))
	post("/api/call/reject", session(ctrl.Reject))
	post("/api/call/end", session(ctrl.End))
	post("/api/call/switch-camera", session(ctrl.SwitchCamera))

	post("/api/call/toggle-audio", func(w http.ResponseWriter, r *http.Request) {
		on, err := ctrl.ToggleAudio()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]bool{"audio_enabled": on})
	})
	post("/api/call/toggle-video", func(w http.ResponseWriter, r *http.Request) {
		on, err := ctrl.ToggleVideo()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]bool{"video_enabled": on})
	})

	handleGet(mux, "/api/call/debug", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"session": ctrl.Session(),
			"events":  ctrl.Recent(r.URL.Query().Get("key")),
		})
	})

	// Each connection gets its own subscription; the current snapshot is
	// sent first so a client never starts from an unknown state.
	handleGet(mux, "/api/call/events", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warnf("VIEWER: websocket upgrade: %v", err)
			return
		}
		defer conn.Close()

		updates, cancel := ctrl.Subscribe()
		defer cancel()

		// Read side only handles control frames; it ends the stream when the
		// client goes away.
		gone := make(chan struct{})
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		write := func(v any) error {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			return conn.WriteJSON(v)
		}
		if err := write(eventMessage{Session: ctrl.Session()}); err != nil {
			return
		}

		ping := time.NewTicker(pingPeriod)
		defer ping.Stop()
		for {
			select {
			case <-gone:
				return
			case u, ok := <-updates:
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "controller closed"),
						time.Now().Add(writeWait))
					return
				}
				msg := eventMessage{Session: u.Session}
				if u.Err != nil {
					msg.Error = u.Err.Error()
				}
				if err := write(msg); err != nil {
					return
				}
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	})
}

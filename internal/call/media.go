package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MediaController owns the local capture tracks. It exists independently of
// any session so capture can start as a preview; all enablement and
// stop/replace mutation goes through it.
type MediaController struct {
	capturer Capturer

	// acquireMu serializes device opening (Acquire, SwitchVideoDevice).
	// Release never takes it, so a release can run while an open blocks.
	acquireMu sync.Mutex

	mu        sync.Mutex
	tracks    map[TrackKind]Track
	enabled   map[TrackKind]bool
	preferred map[TrackKind]string
}

// NewMediaController creates a controller over capturer. Both kinds start enabled.
func NewMediaController(capturer Capturer) *MediaController {
	return &MediaController{
		capturer:  capturer,
		tracks:    make(map[TrackKind]Track),
		enabled:   map[TrackKind]bool{KindAudio: true, KindVideo: true},
		preferred: make(map[TrackKind]string),
	}
}

// SetPreferred records the device ID to try first for kind. An empty ID
// clears the preference. It applies to the next acquisition.
func (m *MediaController) SetPreferred(kind TrackKind, deviceID string) {
	m.mu.Lock()
	if deviceID == "" {
		delete(m.preferred, kind)
	} else {
		m.preferred[kind] = deviceID
	}
	m.mu.Unlock()
}

// Acquire opens the requested tracks. If tracks are already held (preview)
// they are returned as-is. On failure nothing is retained and the error
// wraps ErrMediaAcquisitionFailed. If ctx is cancelled while devices are
// opening, everything opened so far is stopped.
func (m *MediaController) Acquire(ctx context.Context, c Constraints) ([]Track, error) {
	if !c.Audio && !c.Video {
		return nil, fmt.Errorf("%w: no media requested", ErrMediaAcquisitionFailed)
	}

	m.acquireMu.Lock()
	defer m.acquireMu.Unlock()

	if held := m.Tracks(); len(held) > 0 {
		return held, nil
	}

	devices, err := m.capturer.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: enumerate devices: %v", ErrMediaAcquisitionFailed, err)
	}

	opened := make(map[TrackKind]Track)
	stopAll := func() {
		for _, t := range opened {
			_ = t.Stop()
		}
	}

	var errs []error
	for _, kind := range []TrackKind{KindVideo, KindAudio} {
		if (kind == KindVideo && !c.Video) || (kind == KindAudio && !c.Audio) {
			continue
		}
		if err := ctx.Err(); err != nil {
			stopAll()
			return nil, fmt.Errorf("%w: %w", ErrMediaAcquisitionFailed, err)
		}
		t, err := m.open(ctx, devices, kind)
		if err != nil {
			log.Warnf("CALL: open %s failed: %v", kind, err)
			errs = append(errs, err)
			continue
		}
		opened[kind] = t
	}

	if len(errs) > 0 && (!c.Fallback || len(opened) == 0) {
		stopAll()
		return nil, fmt.Errorf("%w: %w", ErrMediaAcquisitionFailed, errors.Join(errs...))
	}

	m.mu.Lock()
	if err := ctx.Err(); err != nil {
		m.mu.Unlock()
		stopAll()
		return nil, fmt.Errorf("%w: %w", ErrMediaAcquisitionFailed, err)
	}
	for kind, t := range opened {
		t.SetEnabled(m.enabled[kind])
		m.tracks[kind] = t
	}
	m.mu.Unlock()

	if len(errs) > 0 {
		log.Warnf("CALL: local media degraded to %d track(s)", len(opened))
	}
	return m.Tracks(), nil
}

// open picks the preferred device for kind, or the first one available.
func (m *MediaController) open(ctx context.Context, devices []Device, kind TrackKind) (Track, error) {
	m.mu.Lock()
	want := m.preferred[kind]
	m.mu.Unlock()

	var pick *Device
	for i := range devices {
		d := &devices[i]
		if d.Kind != kind {
			continue
		}
		if pick == nil || d.ID == want {
			pick = d
		}
		if d.ID == want {
			break
		}
	}
	if pick == nil {
		return nil, fmt.Errorf("no %s device", kind)
	}
	return m.capturer.Open(ctx, *pick)
}

// Release stops every held track. It is idempotent; each track is stopped
// exactly once. It returns the number of tracks stopped.
func (m *MediaController) Release() int {
	m.mu.Lock()
	held := m.tracks
	m.tracks = make(map[TrackKind]Track)
	m.mu.Unlock()

	for kind, t := range held {
		if err := t.Stop(); err != nil {
			log.Warnf("CALL: stop %s track %s: %v", kind, t.ID(), err)
		}
	}
	return len(held)
}

// SetTrackEnabled flips the enablement flag for kind. The underlying track
// is neither stopped nor recreated, so no renegotiation is needed.
func (m *MediaController) SetTrackEnabled(kind TrackKind, on bool) {
	m.mu.Lock()
	m.enabled[kind] = on
	t := m.tracks[kind]
	m.mu.Unlock()
	if t != nil {
		t.SetEnabled(on)
	}
}

// Enabled reports the enablement flag for kind.
func (m *MediaController) Enabled(kind TrackKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled[kind]
}

// Track returns the held track of kind, or nil.
func (m *MediaController) Track(kind TrackKind) Track {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracks[kind]
}

// Tracks returns the held tracks, audio first.
func (m *MediaController) Tracks() []Track {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Track, 0, len(m.tracks))
	for _, kind := range []TrackKind{KindAudio, KindVideo} {
		if t, ok := m.tracks[kind]; ok {
			out = append(out, t)
		}
	}
	return out
}

// SwitchVideoDevice replaces the held video track with one from the next
// camera. The new device is opened before the old track is stopped, so a
// failed open leaves everything unchanged. The audio track is untouched.
func (m *MediaController) SwitchVideoDevice(ctx context.Context) (old, next Track, err error) {
	m.acquireMu.Lock()
	defer m.acquireMu.Unlock()

	old = m.Track(KindVideo)
	if old == nil {
		return nil, nil, fmt.Errorf("%w: no active camera", ErrNoAlternateDevice)
	}

	devices, err := m.capturer.Devices()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: enumerate devices: %v", ErrMediaAcquisitionFailed, err)
	}
	var cams []Device
	cur := -1
	for _, d := range devices {
		if d.Kind != KindVideo {
			continue
		}
		if d.ID == old.DeviceID() {
			cur = len(cams)
		}
		cams = append(cams, d)
	}
	if len(cams) < 2 {
		return nil, nil, ErrNoAlternateDevice
	}

	dev := cams[(cur+1)%len(cams)]
	next, err = m.capturer.Open(ctx, dev)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: open %s: %v", ErrMediaAcquisitionFailed, dev.Label, err)
	}

	m.mu.Lock()
	if m.tracks[KindVideo] != old {
		m.mu.Unlock()
		_ = next.Stop()
		return nil, nil, fmt.Errorf("%w: camera released during switch", ErrMediaAcquisitionFailed)
	}
	next.SetEnabled(m.enabled[KindVideo])
	m.tracks[KindVideo] = next
	m.mu.Unlock()

	if err := old.Stop(); err != nil {
		log.Warnf("CALL: stop replaced camera %s: %v", old.ID(), err)
	}
	log.Infof("CALL: camera switched %s → %s", old.DeviceID(), next.DeviceID())
	return old, next, nil
}

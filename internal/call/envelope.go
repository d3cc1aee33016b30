package call

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
)

// EnvelopeKind is the value of the "kind" field on the wire.
type EnvelopeKind string

const (
	KindOffer     EnvelopeKind = "offer"
	KindAnswer    EnvelopeKind = "answer"
	KindCandidate EnvelopeKind = "candidate"
	KindRejected  EnvelopeKind = "rejected"
	KindEnded     EnvelopeKind = "ended"
)

// Envelope is one signaling message. Envelopes are built once and passed
// by value; nothing mutates them after construction.
//
// Key identifies the call attempt. The caller generates it and every
// envelope of the attempt carries it, so leftovers from an earlier attempt
// with the same peer are dropped.
type Envelope struct {
	Kind      EnvelopeKind               `json:"kind"`
	From      string                     `json:"from"`
	To        string                     `json:"to"`
	Key       string                     `json:"key"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	Reason    string                     `json:"reason,omitempty"`
	SentAt    int64                      `json:"sent_at"`
}

func newEnvelope(kind EnvelopeKind, from, to, key string) Envelope {
	return Envelope{
		Kind:   kind,
		From:   from,
		To:     to,
		Key:    key,
		SentAt: time.Now().UnixMilli(),
	}
}

func offerEnvelope(from, to, key string, sdp webrtc.SessionDescription) Envelope {
	env := newEnvelope(KindOffer, from, to, key)
	env.SDP = &sdp
	return env
}

func answerEnvelope(from, to, key string, sdp webrtc.SessionDescription) Envelope {
	env := newEnvelope(KindAnswer, from, to, key)
	env.SDP = &sdp
	return env
}

func candidateEnvelope(from, to, key string, c webrtc.ICECandidateInit) Envelope {
	env := newEnvelope(KindCandidate, from, to, key)
	env.Candidate = &c
	return env
}

func terminalEnvelope(kind EnvelopeKind, from, to, key, reason string) Envelope {
	env := newEnvelope(kind, from, to, key)
	env.Reason = reason
	return env
}

// Validate checks that the envelope carries the payload its kind requires.
func (e Envelope) Validate() error {
	if e.From == "" || e.To == "" {
		return fmt.Errorf("%w: missing from/to", ErrInvalidEnvelope)
	}
	switch e.Kind {
	case KindOffer:
		if e.SDP == nil || e.SDP.Type != webrtc.SDPTypeOffer {
			return fmt.Errorf("%w: offer without offer sdp", ErrInvalidEnvelope)
		}
		if e.Key == "" {
			return fmt.Errorf("%w: offer without key", ErrInvalidEnvelope)
		}
	case KindAnswer:
		if e.SDP == nil || e.SDP.Type != webrtc.SDPTypeAnswer {
			return fmt.Errorf("%w: answer without answer sdp", ErrInvalidEnvelope)
		}
	case KindCandidate:
		if e.Candidate == nil || e.Candidate.Candidate == "" {
			return fmt.Errorf("%w: candidate without payload", ErrInvalidEnvelope)
		}
	case KindRejected, KindEnded:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEnvelope, e.Kind)
	}
	return nil
}

// EncodeEnvelope renders env in its JSON wire form.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// DecodeEnvelope parses and validates a wire envelope.
func DecodeEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

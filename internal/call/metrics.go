package call

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	callsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goopcall_calls_started_total",
			Help: "Call sessions created, by role",
		},
		[]string{"role"},
	)

	callsEnded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goopcall_calls_ended_total",
			Help: "Call sessions terminated, by reason",
		},
		[]string{"reason"},
	)

	callState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "goopcall_call_state",
			Help: "1 for the state the controller is currently in",
		},
		[]string{"state"},
	)

	callDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "goopcall_call_duration_seconds",
		Help:    "Connected duration of finished calls",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5h
	})

	envelopesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goopcall_envelopes_total",
			Help: "Signaling envelopes by direction and kind",
		},
		[]string{"direction", "kind"},
	)

	envelopesIgnored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goopcall_envelopes_ignored_total",
			Help: "Inbound envelopes dropped by the controller",
		},
		[]string{"reason"},
	)

	candidatesBuffered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "goopcall_candidates_buffered_total",
		Help: "Remote candidates buffered before the remote description",
	})

	historyErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "goopcall_history_errors_total",
		Help: "Failed call history writes",
	})
)

// RegisterMetrics adds the call collectors to reg. Call it once per registry.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		callsStarted,
		callsEnded,
		callState,
		callDuration,
		envelopesTotal,
		envelopesIgnored,
		candidatesBuffered,
		historyErrors,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func observeState(s State) {
	for _, st := range []State{StateIdle, StateCalling, StateIncoming, StateConnected, StateEnded} {
		v := 0.0
		if st == s {
			v = 1
		}
		callState.WithLabelValues(string(st)).Set(v)
	}
}

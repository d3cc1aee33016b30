package call

import (
	"context"
	"fmt"
	"time"
)

const historyTimeout = 10 * time.Second

// historyEntry is the recorder-side view of one session. id is only
// touched on the history queue.
type historyEntry struct {
	id        string
	caller    string
	receiver  string
	startedAt time.Time
}

// historyWorker runs recorder calls on a serial queue, so an update never
// overtakes the create it depends on. Failures are logged and counted;
// only the record id flows back to the controller.
type historyWorker struct {
	rec HistoryRecorder
	q   *serialQueue
}

func newHistoryWorker(rec HistoryRecorder) *historyWorker {
	return &historyWorker{rec: rec, q: newSerialQueue()}
}

func (w *historyWorker) submit(job func(context.Context)) {
	if w.rec == nil {
		return
	}
	w.q.submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
		defer cancel()
		job(ctx)
	})
}

// create records a new call. onID receives the record id on success.
func (w *historyWorker) create(e *historyEntry, onID func(string)) {
	w.submit(func(ctx context.Context) {
		id, err := w.rec.Create(ctx, e.caller, e.receiver, e.startedAt)
		if err != nil {
			historyFailed("create", err)
			return
		}
		e.id = id
		if onID != nil {
			onID(id)
		}
	})
}

// update writes status for e. It is skipped when the create failed.
func (w *historyWorker) update(e *historyEntry, status HistoryStatus, endedAt *time.Time, duration *int) {
	w.submit(func(ctx context.Context) {
		if e.id == "" {
			log.Warnf("CALL: history %s skipped, no record for %s → %s", status, e.caller, e.receiver)
			return
		}
		if err := w.rec.UpdateStatus(ctx, e.id, status, endedAt, duration); err != nil {
			historyFailed(string(status), err)
		}
	})
}

func (w *historyWorker) close(ctx context.Context) { w.q.close(ctx) }

func historyFailed(op string, err error) {
	historyErrors.Inc()
	log.Errorf("CALL: %v", fmt.Errorf("%w: %s: %v", ErrHistoryWriteFailed, op, err))
}

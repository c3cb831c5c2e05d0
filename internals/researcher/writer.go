package researcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"research/internals/store"
)

// recordWriter applies store updates on its own goroutine so slow storage
// I/O never stalls event consumption. Updates for a task are applied
// strictly in enqueue order; status transitions are never reordered. The
// first write failure is retained and surfaced by Close.
type recordWriter struct {
	store     *store.Store
	logger    *slog.Logger
	updates   chan store.UpdateParams
	done      chan struct{}
	closeOnce sync.Once
	err       error
}

func newRecordWriter(st *store.Store, logger *slog.Logger) *recordWriter {
	w := &recordWriter{
		store:   st,
		logger:  logger,
		updates: make(chan store.UpdateParams, 16),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *recordWriter) loop() {
	defer close(w.done)
	for params := range w.updates {
		// Background context: a cancelled run still persists its last
		// observed state truthfully.
		if err := w.store.Update(context.Background(), params); err != nil {
			w.logger.Error("Failed to persist task update",
				slog.String("status", string(params.Status)),
				slog.String("error", err.Error()))
			if w.err == nil {
				w.err = fmt.Errorf("persist %s: %w", params.Status, err)
			}
		}
	}
}

func (w *recordWriter) Enqueue(params store.UpdateParams) {
	w.updates <- params
}

// Close drains pending updates, waits for the last write to land and
// returns the first write failure, if any. It is safe to call more than
// once; later calls return the same error.
func (w *recordWriter) Close() error {
	w.closeOnce.Do(func() { close(w.updates) })
	<-w.done
	return w.err
}

package application

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/bnema/multisession/internal/domain"
	"github.com/bnema/multisession/internal/ports"
	"github.com/rs/zerolog"
)

const statusPersistTimeout = 5 * time.Second

type statusOp struct {
	status domain.SessionStatus
	delete bool
}

// statusWriter persists session snapshots on its own goroutine so that a
// slow status file never holds up a session loop. Only the newest pending
// operation per session is kept; operations for one session are applied in
// submission order.
type statusWriter struct {
	repo   ports.StatusRepository
	logger zerolog.Logger

	mu      sync.Mutex
	pending map[domain.SessionID]statusOp
	notify  chan struct{}

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newStatusWriter(repo ports.StatusRepository, logger zerolog.Logger) *statusWriter {
	w := &statusWriter{
		repo:    repo,
		logger:  logger,
		pending: map[domain.SessionID]statusOp{},
		notify:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w
}

// Save queues status, replacing anything still pending for its session.
// It never blocks on the repository. A nil writer ignores the call.
func (w *statusWriter) Save(status domain.SessionStatus) {
	if w == nil {
		return
	}
	w.enqueue(status.ID, statusOp{status: status})
}

func (w *statusWriter) Delete(id domain.SessionID) {
	if w == nil {
		return
	}
	w.enqueue(id, statusOp{status: domain.SessionStatus{ID: id}, delete: true})
}

func (w *statusWriter) enqueue(id domain.SessionID, op statusOp) {
	w.mu.Lock()
	w.pending[id] = op
	w.mu.Unlock()

	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// Close applies everything still pending and stops the writer.
func (w *statusWriter) Close(ctx context.Context) error {
	if w == nil {
		return nil
	}
	w.stopOnce.Do(func() { close(w.stop) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("flush session statuses: %w", ctx.Err())
	}
}

func (w *statusWriter) loop() {
	defer close(w.done)

	for {
		select {
		case <-w.notify:
			w.flush()
		case <-w.stop:
			w.flush()
			return
		}
	}
}

func (w *statusWriter) flush() {
	for {
		w.mu.Lock()
		batch := w.pending
		w.pending = map[domain.SessionID]statusOp{}
		w.mu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, id := range slices.Sorted(maps.Keys(batch)) {
			w.apply(batch[id])
		}
	}
}

func (w *statusWriter) apply(op statusOp) {
	ctx, cancel := context.WithTimeout(context.Background(), statusPersistTimeout)
	defer cancel()

	logger := w.logger.With().Str("session", op.status.ID.String()).Logger()
	if op.delete {
		if err := w.repo.Delete(ctx, op.status.ID); err != nil {
			logger.Warn().Err(err).Msg("delete status snapshot failed")
		}
		return
	}
	if err := w.repo.Save(ctx, op.status); err != nil {
		logger.Warn().Err(err).Msg("persist session status failed")
	}
}

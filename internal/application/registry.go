package application

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/bnema/multisession/internal/domain"
	"github.com/bnema/multisession/internal/ports"
	"github.com/rs/zerolog"
)

// Dependencies are shared by every supervisor of a registry. Statuses,
// Dispatcher and Clock are optional.
type Dependencies struct {
	Store      ports.CredentialStore
	Statuses   ports.StatusRepository
	Engine     ports.Engine
	Dispatcher *Dispatcher
	Clock      ports.Clock
}

func (d Dependencies) validate() error {
	if d.Store == nil {
		return errors.New("credential store is required")
	}
	if d.Engine == nil {
		return errors.New("engine is required")
	}
	return nil
}

// Registry maps session identifiers to their live supervisors. At most one
// supervisor exists per identifier.
type Registry struct {
	deps     Dependencies
	cfg      SupervisorConfig
	logger   zerolog.Logger
	statuses *statusWriter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	supervisors map[domain.SessionID]*Supervisor
	closed      bool
}

func NewRegistry(deps Dependencies, cfg SupervisorConfig, logger zerolog.Logger) (*Registry, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Clock == nil {
		deps.Clock = ports.SystemClock{}
	}

	var statuses *statusWriter
	if deps.Statuses != nil {
		statuses = newStatusWriter(deps.Statuses, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		deps:        deps,
		cfg:         cfg,
		logger:      logger,
		statuses:    statuses,
		ctx:         ctx,
		cancel:      cancel,
		supervisors: map[domain.SessionID]*Supervisor{},
	}, nil
}

// EnsureStarted returns the live supervisor for id, starting one if needed.
// A non-nil waiter is handed to the supervisor, which answers it exactly
// once. A supervisor that is being torn down is awaited so the replacement
// never overlaps its credential cleanup.
func (r *Registry) EnsureStarted(ctx context.Context, id domain.SessionID, waiter *PairingWaiter) (*Supervisor, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidIdentifier, id)
	}

	for {
		sup, created, err := r.getOrSpawn(id, waiter)
		if err != nil {
			return nil, err
		}
		if created {
			return sup, nil
		}

		if sup.closing.Load() {
			if err := r.awaitExit(ctx, sup); err != nil {
				return nil, err
			}
			continue
		}

		if waiter == nil {
			return sup, nil
		}

		err = sup.attach(ctx, waiter)
		if errors.Is(err, errSupervisorExited) {
			if err := r.awaitExit(ctx, sup); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		return sup, nil
	}
}

func (r *Registry) getOrSpawn(id domain.SessionID, waiter *PairingWaiter) (*Supervisor, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, false, domain.ErrRegistryClosed
	}
	if sup, ok := r.supervisors[id]; ok {
		return sup, false, nil
	}

	sup := newSupervisor(id, r.deps, r.cfg, r, r.statuses, r.logger)
	r.supervisors[id] = sup
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		sup.run(r.ctx, waiter)
	}()

	return sup, true, nil
}

func (r *Registry) awaitExit(ctx context.Context, sup *Supervisor) error {
	select {
	case <-sup.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) release(id domain.SessionID, sup *Supervisor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.supervisors[id]; ok && current == sup {
		delete(r.supervisors, id)
	}
}

func (r *Registry) Get(id domain.SessionID) (*Supervisor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sup, ok := r.supervisors[id]
	return sup, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.supervisors)
}

// All yields the identifiers of live supervisors in ascending order.
func (r *Registry) All() iter.Seq[domain.SessionID] {
	r.mu.Lock()
	ids := slices.Sorted(maps.Keys(r.supervisors))
	r.mu.Unlock()

	return slices.Values(ids)
}

// Known yields the identifiers that have persisted credentials.
func (r *Registry) Known(ctx context.Context) (iter.Seq[domain.SessionID], error) {
	ids, err := r.deps.Store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list persisted sessions: %w", err)
	}

	return slices.Values(ids), nil
}

// Restore starts a supervisor for every persisted session. No waiter is
// attached, so none of them requests a pairing code.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	known, err := r.Known(ctx)
	if err != nil {
		return 0, err
	}

	started := 0
	for id := range known {
		if _, err := r.EnsureStarted(ctx, id, nil); err != nil {
			return started, fmt.Errorf("restore session %s: %w", id, err)
		}
		started++
		r.logger.Info().Str("session", id.String()).Msg("session restored")
	}

	return started, nil
}

func (r *Registry) Statuses() []domain.SessionStatus {
	r.mu.Lock()
	sups := slices.Collect(maps.Values(r.supervisors))
	r.mu.Unlock()

	statuses := make([]domain.SessionStatus, 0, len(sups))
	for _, sup := range sups {
		statuses = append(statuses, sup.Status())
	}
	slices.SortFunc(statuses, func(a, b domain.SessionStatus) int {
		return strings.Compare(string(a.ID), string(b.ID))
	})

	return statuses
}

// Shutdown stops every supervisor and waits for them to exit or for ctx to
// end, then flushes pending status snapshots. Credentials are left in place.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("wait for sessions to stop: %w", ctx.Err())
	}

	return r.statuses.Close(ctx)
}

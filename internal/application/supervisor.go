package application

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bnema/multisession/internal/domain"
	"github.com/bnema/multisession/internal/observability"
	"github.com/bnema/multisession/internal/ports"
	"github.com/rs/zerolog"
)

const (
	defaultSendTimeout    = 10 * time.Second
	connectedNoticeFormat = "*msd session connected*\n\nSession active for: %s"
)

var (
	errSupervisorExited = errors.New("supervisor exited")
	errPairingSkipped   = errors.New("pairing waiter abandoned before request")
)

type SupervisorConfig struct {
	PairingSettleDelay time.Duration
	Backoff            BackoffConfig
	NotifyOnConnect    bool
	SendTimeout        time.Duration
}

func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		PairingSettleDelay: 3 * time.Second,
		Backoff:            DefaultBackoffConfig(),
		NotifyOnConnect:    true,
		SendTimeout:        defaultSendTimeout,
	}
}

// releaser is the part of the registry a supervisor talks back to.
type releaser interface {
	release(id domain.SessionID, s *Supervisor)
}

type pairingResult struct {
	gen  uint64
	code string
	err  error
}

// Supervisor keeps one session connected until it is logged out or the
// registry shuts down. All session state below the status snapshot is owned
// by the run loop goroutine.
type Supervisor struct {
	id     domain.SessionID
	deps   Dependencies
	cfg    SupervisorConfig
	owner    releaser
	statuses *statusWriter
	logger   zerolog.Logger
	rng      *rand.Rand

	attachCh       chan *PairingWaiter
	pairingResults chan pairingResult
	done           chan struct{}
	closing        atomic.Bool

	mu     sync.RWMutex
	status domain.SessionStatus

	waiter          *PairingWaiter
	creds           domain.Credentials
	retryCount      int
	pairingInFlight bool
	pairingGen      uint64
}

func newSupervisor(id domain.SessionID, deps Dependencies, cfg SupervisorConfig, owner releaser, statuses *statusWriter, logger zerolog.Logger) *Supervisor {
	if deps.Clock == nil {
		deps.Clock = ports.SystemClock{}
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}

	return &Supervisor{
		id:             id,
		deps:           deps,
		cfg:            cfg,
		owner:          owner,
		statuses:       statuses,
		logger:         logger.With().Str("session", id.String()).Logger(),
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
		attachCh:       make(chan *PairingWaiter),
		pairingResults: make(chan pairingResult),
		done:           make(chan struct{}),
		status: domain.SessionStatus{
			ID:    id,
			State: domain.StateUnauthenticated,
		},
		creds: domain.NewCredentials(id),
	}
}

func (s *Supervisor) ID() domain.SessionID {
	return s.id
}

func (s *Supervisor) Status() domain.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Supervisor) State() domain.SessionState {
	return s.Status().State
}

// Done is closed once the supervisor has exited and released its registry
// entry.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

func (s *Supervisor) attach(ctx context.Context, w *PairingWaiter) error {
	select {
	case s.attachCh <- w:
		return nil
	case <-s.done:
		return errSupervisorExited
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) run(ctx context.Context, initial *PairingWaiter) {
	defer close(s.done)
	defer s.owner.release(s.id, s)
	defer s.finish()

	if initial != nil && !initial.Abandoned() {
		s.waiter = initial
	}
	observability.RecordStateTransition("", domain.StateUnauthenticated)
	s.update(func(*domain.SessionStatus) {})
	s.logger.Debug().Msg("session supervisor started")

	for {
		creds, err := s.deps.Store.Load(ctx, s.id)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error().Err(err).Msg("load credentials failed, stopping session")
			s.failWaiter(fmt.Errorf("load credentials: %w", err))
			return
		}
		s.creds = creds
		s.update(func(st *domain.SessionStatus) {
			st.Registered = creds.Registered
			st.Account = creds.Account
			// An unpaired session has nothing to reconnect to until a
			// pairing request arrives.
			if !creds.Registered && st.State == domain.StateReconnecting {
				st.State = domain.StateUnauthenticated
			}
		})
		if creds.Registered {
			s.failWaiter(domain.ErrAlreadyRegistered)
		}

		reason, stop := s.connectAndServe(ctx)
		if stop {
			return
		}
		if reason.Terminal() {
			s.logout(ctx)
			return
		}

		s.retryCount++
		observability.RecordReconnect(reason)
		delay := NextBackoffDelay(s.cfg.Backoff, s.retryCount, s.rng)
		s.update(func(st *domain.SessionStatus) {
			st.State = domain.StateReconnecting
			st.LastDisconnectReason = reason
		})
		s.logger.Warn().
			Str("reason", reason.String()).
			Int("attempt", s.retryCount).
			Dur("delay", delay).
			Msg("connection closed, reconnecting")

		if !s.wait(ctx, delay) {
			return
		}
	}
}

// connectAndServe acquires a fresh client and consumes its events until the
// connection closes. stop is true when the registry is shutting down.
func (s *Supervisor) connectAndServe(ctx context.Context) (reason domain.DisconnectReason, stop bool) {
	client, err := s.deps.Engine.NewClient(ctx, s.creds.Clone())
	if err != nil {
		if ctx.Err() != nil {
			return "", true
		}
		s.logger.Warn().Err(err).Msg("acquire client failed")
		return domain.DisconnectConnectionLost, false
	}
	defer func() {
		if err := client.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("close client")
		}
	}()

	pairCtx, cancelPairing := context.WithCancel(ctx)
	defer func() {
		cancelPairing()
		s.dropPairing()
	}()

	if err := client.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			return "", true
		}
		s.logger.Warn().Err(err).Msg("connect failed")
		return domain.DisconnectConnectionLost, false
	}

	s.maybeStartPairing(pairCtx, client)

	events := client.Events()
	for {
		select {
		case <-ctx.Done():
			return "", true
		case w := <-s.attachCh:
			s.handleAttach(w)
			s.maybeStartPairing(pairCtx, client)
		case res := <-s.pairingResults:
			if s.handlePairingResult(res) {
				s.maybeStartPairing(pairCtx, client)
			}
		case evt, ok := <-events:
			if !ok {
				return domain.DisconnectConnectionLost, false
			}
			switch e := evt.(type) {
			case ports.CredentialsUpdated:
				s.handleCredentials(ctx, e.Credentials)
			case ports.ConnectionOpened:
				s.handleOpened(ctx, client, e)
			case ports.ConnectionClosed:
				if e.Reason == "" {
					return domain.DisconnectConnectionClose, false
				}
				return e.Reason, false
			case ports.MessageReceived:
				s.dispatch(ctx, client, e.Message)
			default:
				s.logger.Debug().Str("event", ports.EventKind(evt)).Msg("ignoring event")
			}
		}
	}
}

// wait sleeps out the reconnect delay while still answering pairing callers.
func (s *Supervisor) wait(ctx context.Context, delay time.Duration) bool {
	timer := s.deps.Clock.After(delay)
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer:
			return true
		case w := <-s.attachCh:
			s.handleAttach(w)
		case res := <-s.pairingResults:
			s.handlePairingResult(res)
		}
	}
}

func (s *Supervisor) handleAttach(w *PairingWaiter) {
	if w == nil || w.Abandoned() {
		return
	}
	if s.waiter != nil && !s.waiter.Abandoned() {
		w.deliver("", domain.ErrPairingInProgress)
		return
	}
	if s.creds.Registered || s.State() == domain.StateConnected {
		w.deliver("", domain.ErrAlreadyRegistered)
		return
	}

	s.logger.Debug().Str("request_id", w.RequestID()).Msg("pairing waiter attached")
	s.waiter = w
}

func (s *Supervisor) maybeStartPairing(pairCtx context.Context, client ports.Client) {
	if s.pairingInFlight || s.creds.Registered {
		return
	}
	if s.waiter == nil || s.waiter.Abandoned() {
		return
	}

	s.pairingInFlight = true
	s.pairingGen++
	s.update(func(st *domain.SessionStatus) {
		st.State = domain.StatePairingRequested
	})

	go s.requestPairing(pairCtx, client, s.waiter, s.pairingGen)
}

func (s *Supervisor) requestPairing(ctx context.Context, client ports.Client, w *PairingWaiter, gen uint64) {
	res := pairingResult{gen: gen}

	select {
	case <-ctx.Done():
		res.err = ctx.Err()
	case <-s.deps.Clock.After(s.cfg.PairingSettleDelay):
		if w.Abandoned() {
			res.err = errPairingSkipped
			break
		}
		res.code, res.err = client.RequestPairingCode(ctx, s.id)
	}

	select {
	case s.pairingResults <- res:
	case <-s.done:
	}
}

// handlePairingResult reports whether pairing should be attempted again
// for a waiter that attached while the previous request was in flight.
func (s *Supervisor) handlePairingResult(res pairingResult) bool {
	if res.gen != s.pairingGen || !s.pairingInFlight {
		return false
	}
	s.pairingInFlight = false

	if errors.Is(res.err, errPairingSkipped) {
		s.update(func(st *domain.SessionStatus) {
			st.State = domain.StateUnauthenticated
		})
		return s.waiter != nil && !s.waiter.Abandoned()
	}

	w := s.waiter
	s.waiter = nil

	if res.err != nil {
		s.logger.Warn().Err(res.err).Msg("pairing code request failed")
		s.update(func(st *domain.SessionStatus) {
			st.State = domain.StateUnauthenticated
		})
		if w != nil {
			w.deliver("", fmt.Errorf("%w: %w", domain.ErrPairingFailed, res.err))
		}
		return false
	}

	if w == nil || !w.deliver(domain.FormatPairingCode(res.code), nil) {
		s.logger.Info().Msg("pairing code produced after the caller left, discarded")
		return false
	}

	s.logger.Info().Str("request_id", w.RequestID()).Msg("pairing code delivered")
	return false
}

// dropPairing invalidates any in-flight pairing request. Its result, if it
// still arrives, is ignored.
func (s *Supervisor) dropPairing() {
	if !s.pairingInFlight {
		return
	}
	s.pairingInFlight = false
	s.pairingGen++
}

func (s *Supervisor) handleCredentials(ctx context.Context, creds domain.Credentials) {
	creds.SessionID = s.id
	s.creds = creds.Clone()

	if err := s.deps.Store.Save(ctx, creds); err != nil {
		s.logger.Error().Err(err).Msg("persist credentials failed")
	}

	s.update(func(st *domain.SessionStatus) {
		st.Registered = creds.Registered
		st.Account = creds.Account
	})
}

func (s *Supervisor) handleOpened(ctx context.Context, client ports.Client, evt ports.ConnectionOpened) {
	s.retryCount = 0
	s.dropPairing()

	now := s.deps.Clock.Now()
	s.update(func(st *domain.SessionStatus) {
		st.State = domain.StateConnected
		st.LastDisconnectReason = ""
		st.ConnectedAt = now
		if evt.Account != "" {
			st.Account = evt.Account
		}
	})
	s.logger.Info().Str("account", evt.Account).Msg("session connected")

	s.failWaiter(domain.ErrAlreadyRegistered)

	if !s.cfg.NotifyOnConnect {
		return
	}

	self := client.SelfID()
	if self == "" {
		self = evt.Account
	}
	if self == "" {
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()
	if err := client.SendMessage(sendCtx, self, fmt.Sprintf(connectedNoticeFormat, s.id)); err != nil {
		s.logger.Warn().Err(err).Msg("send connected notice failed")
	}
}

func (s *Supervisor) dispatch(ctx context.Context, client ports.Client, msg domain.InboundMessage) {
	if s.deps.Dispatcher == nil {
		return
	}

	s.deps.Dispatcher.Dispatch(ctx, msg, chatReplier{
		client:  client,
		chat:    msg.Chat,
		timeout: s.cfg.SendTimeout,
	})
}

func (s *Supervisor) logout(ctx context.Context) {
	s.closing.Store(true)
	s.update(func(st *domain.SessionStatus) {
		st.State = domain.StateLoggedOut
		st.Registered = false
		st.LastDisconnectReason = domain.DisconnectLoggedOut
	})

	cleanupCtx := context.WithoutCancel(ctx)
	if err := s.deps.Store.Delete(cleanupCtx, s.id); err != nil {
		s.logger.Error().Err(err).Msg("delete credentials failed")
	}
	s.statuses.Delete(s.id)

	s.failWaiter(domain.ErrLoggedOut)
	observability.RecordLogout()
	s.logger.Info().Msg("session logged out, credentials removed")
}

func (s *Supervisor) finish() {
	s.closing.Store(true)
	s.failWaiter(domain.ErrRegistryClosed)
	observability.RecordStateTransition(s.State(), "")
	s.logger.Debug().Msg("session supervisor stopped")
}

func (s *Supervisor) failWaiter(err error) {
	if s.waiter == nil {
		return
	}
	s.waiter.deliver("", err)
	s.waiter = nil
}

// update applies mutate to the status snapshot and queues it for
// persistence. The logged out state is never persisted; its snapshot is
// deleted instead.
func (s *Supervisor) update(mutate func(*domain.SessionStatus)) {
	s.mu.Lock()
	prev := s.status.State
	mutate(&s.status)
	s.status.RetryCount = s.retryCount
	s.status.UpdatedAt = s.deps.Clock.Now()
	snapshot := s.status
	s.mu.Unlock()

	if prev != snapshot.State {
		observability.RecordStateTransition(prev, snapshot.State)
		s.logger.Debug().
			Str("from", string(prev)).
			Str("to", string(snapshot.State)).
			Msg("session state changed")
	}

	if snapshot.State != domain.StateLoggedOut {
		s.statuses.Save(snapshot)
	}
}

type chatReplier struct {
	client  ports.Client
	chat    string
	timeout time.Duration
}

func (r chatReplier) Reply(ctx context.Context, text string) error {
	sendCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.client.SendMessage(sendCtx, r.chat, text)
}

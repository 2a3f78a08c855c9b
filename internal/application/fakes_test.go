package application

import (
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bnema/multisession/internal/domain"
	"github.com/bnema/multisession/internal/ports"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
)

type memStore struct {
	mu      sync.Mutex
	creds   map[domain.SessionID]domain.Credentials
	deletes map[domain.SessionID]int
}

func newMemStore(seed ...domain.Credentials) *memStore {
	s := &memStore{
		creds:   map[domain.SessionID]domain.Credentials{},
		deletes: map[domain.SessionID]int{},
	}
	for _, c := range seed {
		s.creds[c.SessionID] = c
	}
	return s
}

func (s *memStore) Load(_ context.Context, id domain.SessionID) (domain.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.creds[id]; ok {
		return c.Clone(), nil
	}
	return domain.NewCredentials(id), nil
}

func (s *memStore) Save(_ context.Context, creds domain.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[creds.SessionID] = creds.Clone()
	return nil
}

func (s *memStore) Delete(_ context.Context, id domain.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, id)
	s.deletes[id]++
	return nil
}

func (s *memStore) List(context.Context) ([]domain.SessionID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.creds)), nil
}

func (s *memStore) Deletes(id domain.SessionID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deletes[id]
}

func (s *memStore) Has(id domain.SessionID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.creds[id]
	return ok
}

type sentMessage struct {
	To   string
	Text string
}

// fakeEngine opens registered clients immediately; unregistered ones wait
// for events pushed by the test.
type fakeEngine struct {
	mu      sync.Mutex
	clients map[domain.SessionID][]*fakeClient
	code    string
	codeErr error
	gate    chan struct{}

	pairingCalls atomic.Int32
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		clients: map[domain.SessionID][]*fakeClient{},
		code:    "ABCD1234",
	}
}

func (e *fakeEngine) NewClient(_ context.Context, creds domain.Credentials) (ports.Client, error) {
	c := &fakeClient{
		engine: e,
		creds:  creds,
		events: make(chan ports.Event, 32),
	}
	if creds.Registered {
		c.events <- ports.ConnectionOpened{Account: selfJID(creds.SessionID)}
	}

	e.mu.Lock()
	e.clients[creds.SessionID] = append(e.clients[creds.SessionID], c)
	e.mu.Unlock()

	return c, nil
}

func (e *fakeEngine) ClientCount(id domain.SessionID) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.clients[id])
}

func (e *fakeEngine) Latest(t *testing.T, id domain.SessionID) *fakeClient {
	t.Helper()

	var client *fakeClient
	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		clients := e.clients[id]
		if len(clients) == 0 {
			return false
		}
		client = clients[len(clients)-1]
		return true
	}, waitFor, tick)

	return client
}

func (e *fakeEngine) SetCode(code string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.code = code
	e.codeErr = err
}

// Hold makes pairing code requests block until the returned release is
// called.
func (e *fakeEngine) Hold() (release func()) {
	gate := make(chan struct{})
	e.mu.Lock()
	e.gate = gate
	e.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

type fakeClient struct {
	engine *fakeEngine
	creds  domain.Credentials
	events chan ports.Event

	mu     sync.Mutex
	sent   []sentMessage
	closed bool
}

func (c *fakeClient) Connect(context.Context) error { return nil }

func (c *fakeClient) Events() <-chan ports.Event { return c.events }

func (c *fakeClient) RequestPairingCode(ctx context.Context, _ domain.SessionID) (string, error) {
	c.engine.pairingCalls.Add(1)

	c.engine.mu.Lock()
	gate, code, err := c.engine.gate, c.engine.code, c.engine.codeErr
	c.engine.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	return code, err
}

func (c *fakeClient) SendMessage(_ context.Context, to string, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentMessage{To: to, Text: text})
	return nil
}

func (c *fakeClient) SelfID() string {
	return selfJID(c.creds.SessionID)
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeClient) Push(evt ports.Event) {
	c.events <- evt
}

func (c *fakeClient) Sent() []sentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentMessage(nil), c.sent...)
}

func (c *fakeClient) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func selfJID(id domain.SessionID) string {
	return string(id) + "@s.whatsapp.net"
}

func registeredCreds(id domain.SessionID) domain.Credentials {
	return domain.Credentials{
		SessionID:  id,
		Registered: true,
		Account:    selfJID(id),
		Material:   []byte("material-" + string(id)),
	}
}

func fastSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		PairingSettleDelay: time.Millisecond,
		Backoff: BackoffConfig{
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2,
		},
		NotifyOnConnect: true,
		SendTimeout:     time.Second,
	}
}

func newTestRegistry(t *testing.T, store ports.CredentialStore, engine ports.Engine) *Registry {
	t.Helper()

	return newTestRegistryWith(t, Dependencies{
		Store:      store,
		Engine:     engine,
		Dispatcher: NewDefaultDispatcher(zerolog.Nop()),
	})
}

func newTestRegistryWith(t *testing.T, deps Dependencies) *Registry {
	t.Helper()

	reg, err := NewRegistry(deps, fastSupervisorConfig(), zerolog.Nop())
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = reg.Shutdown(ctx)
	})

	return reg
}

func waitForState(t *testing.T, reg *Registry, id domain.SessionID, want domain.SessionState) {
	t.Helper()

	require.Eventually(t, func() bool {
		sup, ok := reg.Get(id)
		return ok && sup.State() == want
	}, waitFor, tick, "session %s never reached %s", id, want)
}

// gatedClock fires timers at once until Hold is called. Held timers fire on
// Release.
type gatedClock struct {
	mu      sync.Mutex
	held    bool
	waiting []chan time.Time
}

func (c *gatedClock) Now() time.Time { return time.Now() }

func (c *gatedClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.held {
		c.waiting = append(c.waiting, ch)
	} else {
		ch <- time.Now()
	}
	return ch
}

func (c *gatedClock) Hold() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.held = true
}

func (c *gatedClock) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.held = false
	for _, ch := range c.waiting {
		ch <- time.Now()
	}
	c.waiting = nil
}

func (c *gatedClock) Waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiting)
}

package application

import "sync"

// PairingOutcome is the single response a pairing caller receives.
type PairingOutcome struct {
	Code string
	Err  error
}

// PairingWaiter carries one pairing request from a caller to a supervisor. It
// accepts at most one outcome; once abandoned by the caller it accepts none.
type PairingWaiter struct {
	requestID   string
	result      chan PairingOutcome
	once        sync.Once
	abandoned   chan struct{}
	abandonOnce sync.Once
}

func NewPairingWaiter(requestID string) *PairingWaiter {
	return &PairingWaiter{
		requestID: requestID,
		result:    make(chan PairingOutcome, 1),
		abandoned: make(chan struct{}),
	}
}

func (w *PairingWaiter) RequestID() string {
	return w.requestID
}

func (w *PairingWaiter) Result() <-chan PairingOutcome {
	return w.result
}

func (w *PairingWaiter) Abandoned() bool {
	select {
	case <-w.abandoned:
		return true
	default:
		return false
	}
}

// Abandon marks the caller as gone; later deliveries are dropped.
func (w *PairingWaiter) Abandon() {
	w.abandonOnce.Do(func() { close(w.abandoned) })
}

func (w *PairingWaiter) deliver(code string, err error) bool {
	if w.Abandoned() {
		return false
	}

	delivered := false
	w.once.Do(func() {
		w.result <- PairingOutcome{Code: code, Err: err}
		delivered = true
	})
	return delivered
}

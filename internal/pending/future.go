package pending

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// ErrPending is returned by Result while no reply has arrived.
var ErrPending = errors.New("request still pending")

// Future is the caller-visible half of a pending request. It completes
// exactly once, either with response data or with an error.
type Future struct {
	id   uint64
	done chan struct{}
	once sync.Once

	data json.RawMessage
	err  error

	timerMu sync.Mutex
	timer   *time.Timer
}

// NewFuture returns an incomplete future for message id.
func NewFuture(id uint64) *Future {
	return &Future{id: id, done: make(chan struct{})}
}

// Rejected returns a future that has already failed with err.
func Rejected(err error) *Future {
	f := NewFuture(0)
	f.Reject(err)
	return f
}

// ID returns the message ID the future is waiting on, or 0 for a future
// that was rejected before anything was sent.
func (f *Future) ID() uint64 { return f.id }

// Done returns a channel that is closed once the future has completed.
func (f *Future) Done() <-chan struct{} { return f.done }

// Resolve completes the future with data. Only the first completion counts;
// it reports whether this call was it.
func (f *Future) Resolve(data json.RawMessage) bool {
	return f.complete(data, nil)
}

// Reject completes the future with err. Only the first completion counts.
func (f *Future) Reject(err error) bool {
	return f.complete(nil, err)
}

func (f *Future) complete(data json.RawMessage, err error) bool {
	completed := false
	f.once.Do(func() {
		f.data = data
		f.err = err
		close(f.done)
		completed = true
	})
	if completed {
		f.stopTimer()
	}
	return completed
}

// SetTimer ties t to the future: it is stopped once the future completes,
// or right away if that already happened.
func (f *Future) SetTimer(t *time.Timer) {
	f.timerMu.Lock()
	f.timer = t
	f.timerMu.Unlock()

	select {
	case <-f.done:
		f.stopTimer()
	default:
	}
}

func (f *Future) stopTimer() {
	f.timerMu.Lock()
	defer f.timerMu.Unlock()
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
}

// Result returns the outcome without blocking, or ErrPending.
func (f *Future) Result() (json.RawMessage, error) {
	select {
	case <-f.done:
		return f.data, f.err
	default:
		return nil, ErrPending
	}
}

// Wait blocks until the future completes or ctx is done. Giving up on ctx
// does not withdraw the request; a late reply still consumes its entry.
func (f *Future) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-f.done:
		return f.data, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Decode waits for the future and unmarshals its data into v.
func (f *Future) Decode(ctx context.Context, v any) error {
	data, err := f.Wait(ctx)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

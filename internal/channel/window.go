package channel

import (
	"errors"
	"math/rand"
	"sync"
	"time"
)

// ErrWindowClosed is returned when posting to a closed window.
var ErrWindowClosed = errors.New("window closed")

// Option configures a Window.
type Option func(*Window)

// WithJitter delays every delivery by a random duration in [0, max), so
// messages may arrive in a different order than they were posted.
func WithJitter(max time.Duration) Option {
	return func(w *Window) { w.jitter = max }
}

// WithLoss drops each delivery with the given probability in [0, 1].
func WithLoss(rate float64) Option {
	return func(w *Window) { w.loss = rate }
}

// Window is an in-process execution context with its own origin and event
// loop. Messages posted to it are queued and handed to its listeners one at
// a time on a single goroutine.
type Window struct {
	Listeners

	origin string
	jitter time.Duration
	loss   float64

	mu     sync.Mutex
	queue  []Event
	wake   chan struct{}
	closed bool
	done   chan struct{}
}

// NewWindow creates a window at origin and starts its event loop.
func NewWindow(origin string, opts ...Option) *Window {
	w := &Window{
		origin: origin,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	go w.loop()
	return w
}

// Origin returns the window's origin.
func (w *Window) Origin() string { return w.origin }

// PortTo returns a handle that posts from w to other. Events delivered
// through it carry w's origin and a port back to w as their source.
func (w *Window) PortTo(other *Window) *Port {
	return &Port{from: w, to: other}
}

// Close stops the event loop. Queued events are discarded.
func (w *Window) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	w.queue = nil
	close(w.done)
}

// Done returns a channel that is closed when the window is closed.
func (w *Window) Done() <-chan struct{} { return w.done }

// Inject queues ev as if it had been posted to w. Tests use it to simulate
// foreign senders on a shared channel.
func (w *Window) Inject(ev Event) error {
	return w.enqueue(ev)
}

// deliver applies loss and jitter before queueing ev.
func (w *Window) deliver(ev Event) error {
	select {
	case <-w.done:
		return ErrWindowClosed
	default:
	}

	if w.loss > 0 && rand.Float64() < w.loss {
		return nil
	}

	if w.jitter > 0 {
		delay := time.Duration(rand.Int63n(int64(w.jitter)))
		time.AfterFunc(delay, func() { _ = w.enqueue(ev) })
		return nil
	}
	return w.enqueue(ev)
}

func (w *Window) enqueue(ev Event) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWindowClosed
	}
	w.queue = append(w.queue, ev)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return nil
}

// loop is the window's single event-loop goroutine.
func (w *Window) loop() {
	for {
		select {
		case <-w.wake:
		case <-w.done:
			return
		}

		for {
			w.mu.Lock()
			if w.closed || len(w.queue) == 0 {
				w.mu.Unlock()
				break
			}
			ev := w.queue[0]
			w.queue[0] = Event{}
			w.queue = w.queue[1:]
			w.mu.Unlock()

			w.Emit(ev)
		}
	}
}

// Port is a Target that posts from one window to another.
type Port struct {
	from *Window
	to   *Window
}

// PostMessage implements Target. Messages whose targetOrigin does not match
// the recipient are dropped without error.
func (p *Port) PostMessage(message string, targetOrigin string) error {
	if !OriginMatches(targetOrigin, p.to.origin) {
		return nil
	}
	return p.to.deliver(Event{
		Origin: p.from.origin,
		Data:   message,
		Source: &Port{from: p.to, to: p.from},
	})
}

// Window returns the window this port posts to.
func (p *Port) Window() *Window { return p.to }

// Package peer implements one endpoint of the request/response protocol.
// A Peer sends requests to a bound target and answers requests that arrive
// on its inbound bus, over the same channel.
package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/1ureka/postbridge/internal/channel"
	"github.com/1ureka/postbridge/internal/pending"
	"github.com/1ureka/postbridge/internal/protocol"
	"github.com/1ureka/postbridge/internal/util"
)

// Handler answers an inbound request. Its value, or its error, becomes the
// response data of the reply; see Rejection.
type Handler func(ctx context.Context, data json.RawMessage, ev channel.Event) (any, error)

// EventValidator decides whether an inbound event is trusted.
type EventValidator func(ev channel.Event) bool

// Config holds the construction parameters of a Peer.
type Config struct {
	// Sender identifies this peer. It must be unique among peers sharing
	// a channel. Defaults to the current Unix time in milliseconds.
	Sender string

	// Bus is the inbound event stream. Required.
	Bus channel.Bus

	// Target receives outbound requests. May be nil and bound later.
	Target channel.Target

	// TargetOrigin restricts who may receive outbound requests.
	// Defaults to channel.AnyOrigin.
	TargetOrigin string

	// EventValidator filters inbound events. Defaults to trusting all.
	EventValidator EventValidator

	// Handler answers inbound requests. Without one, inbound requests
	// are dropped.
	Handler Handler

	// RequestTimeout, if positive, rejects requests left unanswered for
	// that long with ErrTimeout.
	RequestTimeout time.Duration
}

// State is the lifecycle state of a Peer.
type State int32

const (
	StateUnattached State = iota
	StateListening
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUnattached:
		return "unattached"
	case StateListening:
		return "listening"
	case StateDestroyed:
		return "destroyed"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// Peer is one protocol endpoint.
type Peer struct {
	sender       string
	targetOrigin string
	validate     EventValidator
	handler      Handler
	timeout      time.Duration
	log          util.Logger

	table *pending.Table

	mu     sync.RWMutex
	target channel.Target

	// ctx is handed to handlers and cancelled on Destroy.
	ctx    context.Context
	cancel context.CancelFunc

	state       atomic.Int32
	unsubscribe func()
	destroyOnce sync.Once
}

// New validates cfg, subscribes to cfg.Bus and returns a listening Peer.
func New(cfg Config) (*Peer, error) {
	if cfg.Sender != "" && strings.TrimSpace(cfg.Sender) == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSender, cfg.Sender)
	}
	if cfg.Bus == nil {
		return nil, ErrNoBus
	}

	sender := cfg.Sender
	if sender == "" {
		sender = strconv.FormatInt(time.Now().UnixMilli(), 10)
	}
	targetOrigin := cfg.TargetOrigin
	if targetOrigin == "" {
		targetOrigin = channel.AnyOrigin
	}
	validate := cfg.EventValidator
	if validate == nil {
		validate = func(channel.Event) bool { return true }
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Peer{
		sender:       sender,
		targetOrigin: targetOrigin,
		validate:     validate,
		handler:      cfg.Handler,
		timeout:      cfg.RequestTimeout,
		log:          util.With("peer", sender),
		table:        pending.NewTable(),
		ctx:          ctx,
		cancel:       cancel,
	}
	p.SetTarget(cfg.Target)

	p.state.Store(int32(StateListening))
	p.unsubscribe = cfg.Bus.Subscribe(p.onEvent)
	p.log.Debug("peer listening", "targetOrigin", targetOrigin)

	return p, nil
}

// Sender returns the peer's identity.
func (p *Peer) Sender() string { return p.sender }

// State returns the current lifecycle state.
func (p *Peer) State() State { return State(p.state.Load()) }

// Pending returns the number of requests still awaiting a reply.
func (p *Peer) Pending() int { return p.table.Len() }

// Target returns the currently bound target, or nil.
func (p *Peer) Target() channel.Target {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.target
}

// SetTarget rebinds outbound requests to t. A nil target is ignored.
// Requests already sent are unaffected.
func (p *Peer) SetTarget(t channel.Target) {
	if t == nil {
		return
	}
	p.mu.Lock()
	p.target = t
	p.mu.Unlock()
}

// SendRequest posts data to the bound target and returns a future for the
// reply. Falsy data (nil, null, false, zero or "") yields an
// already-rejected future and nothing is posted.
func (p *Peer) SendRequest(data any) *pending.Future {
	raw, err := protocol.Marshal(data)
	if err != nil {
		return pending.Rejected(fmt.Errorf("%w: %v", ErrInvalidData, err))
	}
	if protocol.IsFalsy(raw) {
		return pending.Rejected(ErrInvalidData)
	}

	target := p.Target()
	if target == nil {
		return pending.Rejected(ErrNoTarget)
	}

	id, f := p.table.Create(p.sender)
	env := &protocol.Envelope{
		Sender:    p.sender,
		MessageID: id,
		Request:   &protocol.Body{Data: raw},
	}

	wire, err := protocol.Encode(env)
	if err != nil {
		p.fail(id, err)
		return f
	}
	if err := target.PostMessage(wire, p.targetOrigin); err != nil {
		p.fail(id, fmt.Errorf("post request: %w", err))
		return f
	}
	util.Stats.AddRequest()
	p.log.Debug("request sent", "messageId", id)

	if p.timeout > 0 {
		f.SetTimer(time.AfterFunc(p.timeout, func() { p.fail(id, ErrTimeout) }))
	}
	return f
}

// SendHandshake sends the conventional handshake request that lets the
// other side learn this peer's reply handle.
func (p *Peer) SendHandshake() *pending.Future {
	return p.SendRequest(map[string]any{"type": "handshake", "handshake": true})
}

// Call sends data and waits for the reply, decoding it into out when out
// is non-nil.
func (p *Peer) Call(ctx context.Context, data any, out any) error {
	f := p.SendRequest(data)
	if out == nil {
		_, err := f.Wait(ctx)
		return err
	}
	return f.Decode(ctx, out)
}

// Cancel withdraws a pending request, rejecting its future with
// ErrCanceled. A reply arriving later is dropped.
func (p *Peer) Cancel(id uint64) bool {
	return p.fail(id, ErrCanceled)
}

// fail removes a pending request and rejects it with err.
func (p *Peer) fail(id uint64, err error) bool {
	f, ok := p.table.Take(p.sender, id)
	if !ok {
		return false
	}
	p.log.Debug("request failed", "messageId", id, "error", err)
	return f.Reject(err)
}

// Destroy stops listening for inbound events. Pending requests are left
// as they are. Calling Destroy more than once is a no-op.
func (p *Peer) Destroy() {
	p.destroyOnce.Do(func() {
		p.state.Store(int32(StateDestroyed))
		if p.unsubscribe != nil {
			p.unsubscribe()
		}
		p.cancel()
		p.log.Debug("peer destroyed", "pending", p.table.Len())
	})
}

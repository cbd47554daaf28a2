// Package transport provides channel adapters that carry peer envelopes
// between processes: a WebRTC DataChannel and a plain WebSocket.
package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/1ureka/postbridge/internal/channel"
	"github.com/1ureka/postbridge/internal/util"
	"github.com/pion/webrtc/v4"
)

// ErrClosed is returned when posting to a transport that has shut down.
var ErrClosed = errors.New("transport closed")

// Transport wraps a single PeerConnection + DataChannel pair. It is both the
// channel.Target for outbound envelopes and the channel.Bus delivering
// inbound ones, so a peer.Peer can run on it directly.
//
// Its lifecycle is governed by the DataChannel state and the context passed
// at construction time. The PeerConnection state is recorded but does not
// drive open/close decisions.
type Transport struct {
	channel.Listeners

	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	sender     *sender
	openSignal chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.RWMutex
	pcState      webrtc.PeerConnectionState
	remoteOrigin string
}

// NewTransport creates a Transport backed by a new PeerConnection and a
// pre-negotiated DataChannel. The caller should perform signaling via the
// exposed methods (CreateOffer / CreateAnswer / …) and then run a peer on
// it.
//
// The Transport is considered alive as long as the DataChannel is open and
// ctx has not been cancelled.
func NewTransport(ctx context.Context, opts Options) (*Transport, error) {
	pc, err := newPeerConnection(opts)
	if err != nil {
		return nil, err
	}

	dc, err := newDataChannel(pc, opts)
	if err != nil {
		pc.Close()
		return nil, err
	}

	tCtx, tCancel := context.WithCancel(ctx)

	t := &Transport{
		pc:         pc,
		dc:         dc,
		openSignal: make(chan struct{}),
		ctx:        tCtx,
		cancel:     tCancel,
		pcState:    webrtc.PeerConnectionStateNew,
	}

	// DC open gate.
	var openOnce sync.Once
	dc.OnOpen(func() {
		openOnce.Do(func() { close(t.openSignal) })
	})

	// DC close → cancel transport context.
	dc.OnClose(func() {
		util.LogDebug("DataChannel closed")
		tCancel()
	})

	// Inbound messages → subscribers. pion delivers them one at a time.
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if !msg.IsString {
			util.LogDebug("ignoring binary DataChannel message (%d bytes)", len(msg.Data))
			return
		}
		util.Stats.AddRecv(len(msg.Data))
		t.Emit(channel.Event{
			Origin: t.RemoteOrigin(),
			Data:   string(msg.Data),
			Source: t,
		})
	})

	// Record PC state (informational only).
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())
		t.mu.Lock()
		t.pcState = state
		t.mu.Unlock()
	})

	// Start the sender goroutine.
	t.sender = newSender(tCtx, tCancel, dc, t.openSignal)

	return t, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Ready returns a channel that is closed when the DataChannel is open and
// the Transport is ready to send and receive.
func (t *Transport) Ready() <-chan struct{} {
	return t.openSignal
}

// Done returns a channel that is closed when the Transport is shut down
// (DataChannel closed or parent context cancelled).
func (t *Transport) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Close shuts down the DataChannel and PeerConnection.
func (t *Transport) Close() error {
	t.cancel()
	return errors.Join(t.dc.Close(), t.pc.Close())
}

// ConnectionState returns the last observed PeerConnection state.
func (t *Transport) ConnectionState() webrtc.PeerConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pcState
}

// SetRemoteOrigin records the origin learned during signaling. It is the
// Origin of inbound events and what outbound targetOrigins are checked
// against.
func (t *Transport) SetRemoteOrigin(origin string) {
	t.mu.Lock()
	t.remoteOrigin = origin
	t.mu.Unlock()
}

// RemoteOrigin returns the origin recorded by SetRemoteOrigin.
func (t *Transport) RemoteOrigin() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.remoteOrigin
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (t *Transport) CreateOffer() (webrtc.SessionDescription, error) {
	return t.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (t *Transport) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP.
func (t *Transport) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (t *Transport) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(sdp)
}

// OnICECandidate registers a callback invoked whenever a new local ICE
// candidate is gathered. A nil candidate signals the end of gathering.
func (t *Transport) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	t.pc.OnICECandidate(fn)
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (t *Transport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(candidate)
}

// ---------------------------------------------------------------------------
// Data
// ---------------------------------------------------------------------------

// PostMessage implements channel.Target. The message is queued for the
// sender goroutine; it is dropped if targetOrigin does not match the remote
// origin.
func (t *Transport) PostMessage(message string, targetOrigin string) error {
	if !channel.OriginMatches(targetOrigin, t.RemoteOrigin()) {
		util.LogDebug("dropping message for origin %q (remote is %q)", targetOrigin, t.RemoteOrigin())
		return nil
	}
	if t.ctx.Err() != nil || !t.sender.send(t.ctx, message) {
		return ErrClosed
	}
	return nil
}

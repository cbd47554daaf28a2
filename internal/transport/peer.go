package transport

import (
	"github.com/pion/webrtc/v4"
)

// DefaultSTUNServers are used for ICE candidate gathering when Options does
// not name any. No TURN: peers are expected to reach each other directly.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Options tunes the PeerConnection and DataChannel behind a Transport.
type Options struct {
	// STUNServers overrides DefaultSTUNServers. An empty, non-nil slice
	// disables STUN (useful on a LAN or in tests).
	STUNServers []string

	// Lossy disables retransmission, so a message lost on the wire stays
	// lost. The peer protocol tolerates this.
	Lossy bool

	// IncludeLoopback gathers loopback candidates, so two peers on the
	// same machine connect without a usable network interface.
	IncludeLoopback bool
}

// newPeerConnection creates a PeerConnection configured with STUN servers.
func newPeerConnection(opts Options) (*webrtc.PeerConnection, error) {
	servers := opts.STUNServers
	if servers == nil {
		servers = DefaultSTUNServers
	}

	config := webrtc.Configuration{}
	if len(servers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: servers}}
	}
	if !opts.IncludeLoopback {
		return webrtc.NewPeerConnection(config)
	}

	se := webrtc.SettingEngine{}
	se.SetIncludeLoopbackCandidate(true)
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))
	return api.NewPeerConnection(config)
}

// newDataChannel creates a pre-negotiated, unordered DataChannel on the given
// PeerConnection. Using negotiated mode (ID 0) allows both sides to create
// the channel independently without relying on OnDataChannel. Envelopes are
// matched by message ID, so arrival order does not matter.
func newDataChannel(pc *webrtc.PeerConnection, opts Options) (*webrtc.DataChannel, error) {
	ordered := false
	negotiated := true
	id := uint16(0)

	init := &webrtc.DataChannelInit{
		Ordered:    &ordered,
		Negotiated: &negotiated,
		ID:         &id,
	}
	if opts.Lossy {
		retransmits := uint16(0)
		init.MaxRetransmits = &retransmits
	}
	return pc.CreateDataChannel("postbridge", init)
}

package signaling

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/postbridge/internal/transport"
	"github.com/1ureka/postbridge/internal/util"
)

// exchange runs the SDP/ICE negotiation of one Transport over one signaling
// WebSocket. Writes may come from any goroutine; reads happen only in run.
type exchange struct {
	tr   *transport.Transport
	conn *websocket.Conn

	writeMu sync.Mutex

	// Candidates that arrive before the remote description. Owned by run.
	remoteSet bool
	early     []webrtc.ICECandidateInit
}

// newExchange wires tr's local ICE candidates to conn.
func newExchange(tr *transport.Transport, conn *websocket.Conn) *exchange {
	x := &exchange{tr: tr, conn: conn}
	tr.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		if err := x.write(message{Type: msgTypeCandidate, Candidate: string(data)}); err != nil {
			util.LogDebug("failed to forward ICE candidate: %v", err)
		}
	})
	return x
}

func (x *exchange) write(msg message) error {
	x.writeMu.Lock()
	defer x.writeMu.Unlock()
	return x.conn.WriteJSON(msg)
}

// offer starts the negotiation from the host side.
func (x *exchange) offer() error {
	offer, err := x.tr.CreateOffer()
	if err != nil {
		return err
	}
	if err := x.tr.SetLocalDescription(offer); err != nil {
		return err
	}
	return x.write(message{Type: msgTypeOffer, SDP: offer.SDP})
}

func (x *exchange) answer() error {
	answer, err := x.tr.CreateAnswer()
	if err != nil {
		return err
	}
	if err := x.tr.SetLocalDescription(answer); err != nil {
		return err
	}
	return x.write(message{Type: msgTypeAnswer, SDP: answer.SDP})
}

// run applies incoming signaling messages until the WebSocket is closed or a
// step fails. The client answers an offer; the host applies the answer.
// Once the remote description is in place a closed socket returns nil: the
// other side hangs up as soon as its own DataChannel opens.
func (x *exchange) run() error {
	for {
		var msg message
		if err := x.conn.ReadJSON(&msg); err != nil {
			if x.remoteSet {
				util.LogDebug("signaling WS closed after negotiation: %v", err)
				return nil
			}
			return fmt.Errorf("failed to read WS message: %w", err)
		}

		switch msg.Type {
		case msgTypeOffer:
			if err := x.setRemote(webrtc.SDPTypeOffer, msg.SDP); err != nil {
				return err
			}
			if err := x.answer(); err != nil {
				return err
			}

		case msgTypeAnswer:
			if err := x.setRemote(webrtc.SDPTypeAnswer, msg.SDP); err != nil {
				return err
			}

		case msgTypeCandidate:
			var init webrtc.ICECandidateInit
			if err := json.Unmarshal([]byte(msg.Candidate), &init); err != nil {
				return fmt.Errorf("failed to parse ICE candidate: %w", err)
			}
			if err := x.addCandidate(init); err != nil {
				return err
			}

		default:
			util.LogDebug("ignoring signaling message of type %q", msg.Type)
		}
	}
}

// setRemote applies the remote SDP, then any candidates that beat it here.
func (x *exchange) setRemote(typ webrtc.SDPType, sdp string) error {
	if err := x.tr.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: sdp}); err != nil {
		return err
	}
	x.remoteSet = true

	early := x.early
	x.early = nil
	for _, c := range early {
		if err := x.tr.AddICECandidate(c); err != nil {
			return err
		}
	}
	return nil
}

func (x *exchange) addCandidate(c webrtc.ICECandidateInit) error {
	if !x.remoteSet {
		x.early = append(x.early, c)
		return nil
	}
	return x.tr.AddICECandidate(c)
}

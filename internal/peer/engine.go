package peer

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/1ureka/postbridge/internal/channel"
	"github.com/1ureka/postbridge/internal/protocol"
	"github.com/1ureka/postbridge/internal/util"
)

// onEvent classifies one inbound event. It runs on the bus's delivery
// goroutine and never blocks on a handler.
func (p *Peer) onEvent(ev channel.Event) {
	if p.State() != StateListening {
		return
	}

	if !p.validate(ev) {
		p.drop("untrusted event", "origin", ev.Origin)
		return
	}

	env, err := protocol.Decode(ev.Data)
	if err != nil {
		p.drop("malformed envelope", "origin", ev.Origin, "error", err)
		return
	}

	if env.Sender == p.sender {
		// Only a reply to a request still pending here is acceptable; this
		// also discards replays of replies already consumed and anything
		// that looks like a request from ourselves.
		if !env.IsReply() || !p.table.Has(env.Sender, env.MessageID) {
			p.drop("unexpected envelope from own sender", "messageId", env.MessageID)
			return
		}
		p.resolve(env)
		return
	}

	if p.handler == nil {
		p.drop("no handler for request", "from", env.Sender, "messageId", env.MessageID)
		return
	}
	go p.serve(env, ev)
}

// resolve completes the pending request env answers.
func (p *Peer) resolve(env *protocol.Envelope) {
	f, ok := p.table.Take(env.Sender, env.MessageID)
	if !ok {
		return
	}
	data := env.Response.Data
	if protocol.IsNull(data) {
		data = nil
	}
	f.Resolve(data)
	util.Stats.AddResolved()
	p.log.Debug("reply received", "messageId", env.MessageID)
}

// serve runs the handler for a fresh request and posts its outcome back to
// the event's source, at the origin the event claimed. The reply is the
// request as received with a response added.
func (p *Peer) serve(env *protocol.Envelope, ev channel.Event) {
	value, err := p.invoke(env.Request.Data, ev)

	wire, err := protocol.Reply(ev.Data, p.replyData(value, err))
	if err != nil {
		p.log.Error("failed to encode reply", "from", env.Sender, "messageId", env.MessageID, "error", err)
		return
	}

	if ev.Source == nil {
		p.drop("request has no reply source", "from", env.Sender, "messageId", env.MessageID)
		return
	}
	if err := ev.Source.PostMessage(wire, ev.Origin); err != nil {
		p.log.Warn("failed to post reply", "from", env.Sender, "messageId", env.MessageID, "error", err)
		return
	}
	util.Stats.AddHandled()
	p.log.Debug("request answered", "from", env.Sender, "messageId", env.MessageID)
}

// invoke calls the handler, turning a panic into an error.
func (p *Peer) invoke(data json.RawMessage, ev channel.Event) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return p.handler(p.ctx, data, ev)
}

// replyData picks the response payload for a handler outcome. The wire does
// not distinguish success from failure.
func (p *Peer) replyData(value any, err error) json.RawMessage {
	if err != nil {
		var rej *Rejection
		if errors.As(err, &rej) {
			value = rej.Value
		} else {
			value = err.Error()
		}
	}

	data, mErr := protocol.Marshal(value)
	if mErr != nil {
		p.log.Warn("handler result is not JSON", "error", mErr)
		data, _ = protocol.Marshal(mErr.Error())
	}
	return data
}

func (p *Peer) drop(reason string, kv ...any) {
	util.Stats.AddDropped()
	p.log.Debug("dropped: "+reason, kv...)
}

package sso

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/1ureka/postbridge/internal/channel"
	"github.com/1ureka/postbridge/internal/pending"
	"github.com/1ureka/postbridge/internal/peer"
	"github.com/1ureka/postbridge/internal/util"
)

// reply is what the opener answers to every popup request.
type reply struct {
	Success   bool   `json:"success"`
	AuthURL   string `json:"authURL,omitempty"`
	LogoutURL string `json:"logoutURL,omitempty"`
}

// handler answers the popup's requests and completes flow when the popup
// reports an outcome. owner is the peer the handler is installed on.
func (s *Session) handler(flow *pending.Future, owner *atomic.Pointer[peer.Peer]) peer.Handler {
	return func(ctx context.Context, data json.RawMessage, ev channel.Event) (any, error) {
		var m message
		if err := json.Unmarshal(data, &m); err != nil {
			return reply{}, nil
		}
		util.LogDebug("sso: received %s", m.Type)

		switch m.Type {
		case TypeHandshake:
			s.adopt(owner.Load(), ev.Source)
			return reply{Success: true}, nil

		case TypeAuthDetails:
			return reply{Success: true, AuthURL: s.authURL}, nil

		case TypeLogoutDetails:
			return reply{Success: true, LogoutURL: s.logoutURL}, nil

		case TypeUserDetails:
			flow.Resolve(m.UserDetails)
			return reply{Success: true}, nil

		case TypeLogoutSuccess:
			flow.Resolve(json.RawMessage(`{"loggedout":true}`))
			return reply{Success: true}, nil

		case TypeError:
			err := &FlowError{Reason: m.reason()}
			util.LogDebug("sso: %v", err)
			flow.Reject(err)
			return reply{Success: true}, nil
		}
		return reply{}, nil
	}
}

// adopt makes src the target of p. It becomes the popup handle only while p
// is still the session's peer; a handshake reaching a replaced flow leaves
// the current one alone.
func (s *Session) adopt(p *peer.Peer, src channel.Target) {
	if p == nil || src == nil {
		return
	}
	p.SetTarget(src)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peer == p {
		s.source = src
	}
}

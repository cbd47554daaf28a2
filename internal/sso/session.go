// Package sso runs a single sign-on flow in a popup window. The opener and
// the popup talk through a pair of peers: the popup asks for the login or
// logout URL, performs the flow, and reports the outcome back.
package sso

import (
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/1ureka/postbridge/internal/channel"
	"github.com/1ureka/postbridge/internal/pending"
	"github.com/1ureka/postbridge/internal/peer"
	"github.com/1ureka/postbridge/internal/util"
)

// Flow modes understood by the redirect page.
const (
	ModeCheckAuth = "check-auth"
	ModeLogout    = "logout"
)

// Message types exchanged between the opener and the popup.
const (
	TypeHandshake     = "handshake"
	TypeAuthDetails   = "auth-details"
	TypeLogoutDetails = "logout-details"
	TypeUserDetails   = "user-details"
	TypeLogoutSuccess = "logout-success"
	TypeError         = "error"
)

const (
	flowFailed   = "Error in Login/Logout through Single Sign-On. Try reloading the window."
	popupBlocked = "Popup blocked. Please allow popup to open for this site."
	loginPath    = "/sso/login"
	logoutPath   = "/sso/logout"
	redirectPage = "/redirect.html"
)

// ErrInvalidMode is the rejection of a flow opened without a mode.
var ErrInvalidMode = errors.New("mode is invalid")

// FlowError is the rejection of a flow the popup reported as failed.
type FlowError struct {
	Reason string
}

func (e *FlowError) Error() string {
	if e.Reason == "" {
		return flowFailed
	}
	return flowFailed + " Reason: " + e.Reason
}

// Popup is a window opened by the session.
type Popup interface {
	Focus() bool
	Close() bool
	// Target posts into the popup.
	Target() channel.Target
	// Blocked reports whether the popup failed to open.
	Blocked() bool
}

// Opener opens a popup at url. It may return nil when nothing was opened.
type Opener func(url string) Popup

// Alerter shows a message to the user.
type Alerter func(msg string)

// Config describes where the flow's pages live and how to reach the user.
type Config struct {
	// CDNOrigin serves the redirect page. Only events from this origin are
	// trusted.
	CDNOrigin string
	// APIOrigin serves the login and logout endpoints.
	APIOrigin string
	// Bus delivers events posted to the opener window.
	Bus  channel.Bus
	Open Opener
	// Alert defaults to logging a warning.
	Alert Alerter
}

// Session owns at most one popup and the peer that listens to it.
type Session struct {
	cfg       Config
	authURL   string
	logoutURL string

	mu     sync.Mutex
	popup  Popup
	source channel.Target
	peer   *peer.Peer
}

// NewSession checks cfg and returns an idle session.
func NewSession(cfg Config) (*Session, error) {
	if cfg.CDNOrigin == "" {
		return nil, errors.New("sso: CDN origin is required")
	}
	if cfg.APIOrigin == "" {
		return nil, errors.New("sso: API origin is required")
	}
	if cfg.Bus == nil {
		return nil, peer.ErrNoBus
	}
	if cfg.Open == nil {
		return nil, errors.New("sso: opener is required")
	}
	if cfg.Alert == nil {
		cfg.Alert = func(msg string) { util.LogWarning("%s", msg) }
	}
	return &Session{
		cfg:       cfg,
		authURL:   cfg.APIOrigin + loginPath,
		logoutURL: cfg.APIOrigin + logoutPath,
	}, nil
}

// Auth opens the popup in check-auth mode. The future resolves with the
// user details the popup reports.
func (s *Session) Auth() *pending.Future {
	return s.Open(ModeCheckAuth)
}

// Logout opens the popup in logout mode. The future resolves with
// {"loggedout":true}.
func (s *Session) Logout() *pending.Future {
	return s.Open(ModeLogout)
}

// Open starts a flow in mode. A previous flow's peer is destroyed first.
// When the popup is blocked the user is alerted and the future stays
// pending until a later flow, or the caller, gives up on it.
func (s *Session) Open(mode string) *pending.Future {
	if mode == "" {
		return pending.Rejected(ErrInvalidMode)
	}

	flow := pending.NewFuture(0)
	owner := new(atomic.Pointer[peer.Peer])

	p, err := peer.New(peer.Config{
		Sender:         "opener-" + uuid.NewString(),
		Bus:            s.cfg.Bus,
		EventValidator: func(ev channel.Event) bool { return ev.Origin == s.cfg.CDNOrigin },
		Handler:        s.handler(flow, owner),
	})
	if err != nil {
		return pending.Rejected(err)
	}
	owner.Store(p)

	s.mu.Lock()
	if s.peer != nil {
		s.peer.Destroy()
	}
	s.peer = p
	s.mu.Unlock()

	popupURL := s.cfg.CDNOrigin + redirectPage + "?mode=" + url.QueryEscape(mode)
	popup := s.cfg.Open(popupURL)

	s.mu.Lock()
	s.popup = popup
	s.source = nil
	s.mu.Unlock()

	if popup == nil || popup.Blocked() {
		s.cfg.Alert(popupBlocked)
		return flow
	}
	if popup.Target() != nil {
		p.SetTarget(popup.Target())
	}
	s.Focus()
	return flow
}

// Focus brings the popup to the front. It reports whether there was one.
func (s *Session) Focus() bool {
	s.mu.Lock()
	popup := s.popup
	s.mu.Unlock()
	if popup == nil {
		return false
	}
	popup.Focus()
	return true
}

// DestroyPeer stops listening to the popup. It reports whether a peer was
// running.
func (s *Session) DestroyPeer() bool {
	s.mu.Lock()
	p := s.peer
	s.peer = nil
	s.mu.Unlock()
	if p == nil {
		return false
	}
	p.Destroy()
	return true
}

// Close destroys the peer and closes the popup. It reports whether a popup
// was open.
func (s *Session) Close() bool {
	s.DestroyPeer()

	s.mu.Lock()
	popup := s.popup
	s.popup = nil
	s.source = nil
	s.mu.Unlock()
	if popup == nil {
		return false
	}
	popup.Close()
	return true
}

// Source returns the reply handle learned from the popup's handshake.
func (s *Session) Source() channel.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// message is the union of request payloads the popup sends.
type message struct {
	Type        string          `json:"type"`
	UserDetails json.RawMessage `json:"userDetails,omitempty"`
	Message     json.RawMessage `json:"message,omitempty"`
}

// reason returns the error message when it is a JSON string.
func (m *message) reason() string {
	var r string
	if len(m.Message) == 0 || json.Unmarshal(m.Message, &r) != nil {
		return ""
	}
	return r
}

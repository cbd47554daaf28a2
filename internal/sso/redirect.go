package sso

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/1ureka/postbridge/internal/channel"
	"github.com/1ureka/postbridge/internal/peer"
)

// RedirectConfig describes the popup side of a flow.
type RedirectConfig struct {
	Mode string
	// Bus delivers events posted to the popup.
	Bus channel.Bus
	// Opener posts back to the window that opened the popup.
	Opener       channel.Target
	OpenerOrigin string

	// Login performs the sign-in at authURL and returns the user details.
	Login func(ctx context.Context, authURL string) (json.RawMessage, error)
	// Logout performs the sign-out at logoutURL.
	Logout func(ctx context.Context, logoutURL string) error
}

// Redirect runs the popup side of a flow to completion: handshake, fetch
// the endpoint, run it, report the outcome. A failed login or logout is
// reported to the opener as an error message and also returned.
func Redirect(ctx context.Context, cfg RedirectConfig) error {
	p, err := peer.New(peer.Config{
		Sender:         "popup-" + uuid.NewString(),
		Bus:            cfg.Bus,
		Target:         cfg.Opener,
		TargetOrigin:   cfg.OpenerOrigin,
		EventValidator: func(ev channel.Event) bool { return ev.Origin == cfg.OpenerOrigin },
	})
	if err != nil {
		return err
	}
	defer p.Destroy()

	var ack reply
	if err := p.Call(ctx, map[string]any{"type": TypeHandshake, "handshake": true}, &ack); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	if !ack.Success {
		return errors.New("handshake refused")
	}

	switch cfg.Mode {
	case ModeCheckAuth:
		return redirectLogin(ctx, p, cfg)
	case ModeLogout:
		return redirectLogout(ctx, p, cfg)
	default:
		return report(ctx, p, ErrInvalidMode)
	}
}

func redirectLogin(ctx context.Context, p *peer.Peer, cfg RedirectConfig) error {
	var details reply
	if err := p.Call(ctx, map[string]any{"type": TypeAuthDetails}, &details); err != nil {
		return fmt.Errorf("auth details: %w", err)
	}
	if cfg.Login == nil {
		return report(ctx, p, errors.New("login is not supported"))
	}

	user, err := cfg.Login(ctx, details.AuthURL)
	if err != nil {
		return report(ctx, p, err)
	}
	return p.Call(ctx, map[string]any{"type": TypeUserDetails, "userDetails": user}, nil)
}

func redirectLogout(ctx context.Context, p *peer.Peer, cfg RedirectConfig) error {
	var details reply
	if err := p.Call(ctx, map[string]any{"type": TypeLogoutDetails}, &details); err != nil {
		return fmt.Errorf("logout details: %w", err)
	}
	if cfg.Logout == nil {
		return report(ctx, p, errors.New("logout is not supported"))
	}

	if err := cfg.Logout(ctx, details.LogoutURL); err != nil {
		return report(ctx, p, err)
	}
	return p.Call(ctx, map[string]any{"type": TypeLogoutSuccess}, nil)
}

// report tells the opener the flow failed with cause, then returns cause.
func report(ctx context.Context, p *peer.Peer, cause error) error {
	if err := p.Call(ctx, map[string]any{"type": TypeError, "message": cause.Error()}, nil); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

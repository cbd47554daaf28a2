package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/1ureka/postbridge/internal/channel"
	"github.com/1ureka/postbridge/internal/config"
	"github.com/1ureka/postbridge/internal/peer"
	"github.com/1ureka/postbridge/internal/signaling"
	"github.com/1ureka/postbridge/internal/sso"
	"github.com/1ureka/postbridge/internal/util"
)

var hostFlags struct {
	listen    string
	port      int
	lan       bool
	pin       string
	ssoMode   string
	apiOrigin string
}

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Start the signaling server and answer requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(cmd, config.RoleHost)
		if err != nil {
			return err
		}

		switch {
		case cmd.Flags().Changed("listen"):
			cfg.Listen = hostFlags.listen
		case hostFlags.lan:
			cfg.Listen = fmt.Sprintf(":%d", hostFlags.port)
		case hostFlags.port > 0:
			cfg.Listen = fmt.Sprintf("127.0.0.1:%d", hostFlags.port)
		}
		if cmd.Flags().Changed("pin") {
			cfg.PIN = hostFlags.pin
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return runHost(cmd.Context(), cfg, hostFlags.ssoMode)
	},
}

func init() {
	f := hostCmd.Flags()
	f.StringVar(&hostFlags.listen, "listen", "", "Signaling listen address (overrides --port/--lan)")
	f.IntVar(&hostFlags.port, "port", 0, "Signaling server port (default: random)")
	f.BoolVar(&hostFlags.lan, "lan", false, "Listen on all network interfaces, for LAN access")
	f.StringVar(&hostFlags.pin, "pin", "", "PIN clients must present (default: generated)")
	f.StringVar(&hostFlags.ssoMode, "sso", "", "Act as the SSO opener in this mode (check-auth or logout)")
	f.StringVar(&hostFlags.apiOrigin, "api-origin", "https://sso.example", "SSO API origin handed to the client")
}

// runHost executes the host-side logic. With ssoMode set it runs one SSO
// flow instead of the request responder.
func runHost(ctx context.Context, cfg config.Config, ssoMode string) error {
	pin := cfg.PIN
	if pin == "" {
		pin = signaling.GeneratePIN(6)
	}

	srv := signaling.NewServer(cfg.Listen, pin)
	port, err := srv.Start()
	if err != nil {
		return err
	}
	defer srv.Close()
	signaling.PrintBanner(port, pin)

	lk, err := acceptLink(ctx, srv, cfg)
	if err != nil {
		return fmt.Errorf("failed to establish connection: %w", err)
	}
	defer lk.Close()
	srv.Close()

	if cfg.StatsInterval > 0 {
		util.StartStatsReporter(ctx, cfg.StatsInterval)
	}
	util.LogSuccess("connection established with %s", lk.RemoteOrigin())

	if ssoMode != "" {
		return runOpener(ctx, lk, ssoMode, hostFlags.apiOrigin)
	}

	p, err := newPeer(lk, cfg, respond)
	if err != nil {
		return err
	}
	defer p.Destroy()
	util.LogInfo("answering requests as %s", p.Sender())

	select {
	case <-ctx.Done():
	case <-lk.Done():
		util.LogWarning("connection closed by client")
	}
	return nil
}

// request is the shape of the demo's requests. Anything else is echoed.
type request struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// respond answers the demo request types.
func respond(ctx context.Context, data json.RawMessage, ev channel.Event) (any, error) {
	var req request
	if err := json.Unmarshal(data, &req); err != nil || req.Type == "" {
		return data, nil
	}

	switch req.Type {
	case "ping":
		return map[string]string{"type": "pong"}, nil

	case "handshake":
		return map[string]bool{"success": true}, nil

	case "echo":
		return data, nil

	case "sleep":
		d, err := time.ParseDuration(req.Text)
		if err != nil {
			return nil, peer.Reject(map[string]string{"error": "bad duration: " + req.Text})
		}
		select {
		case <-time.After(d):
			return map[string]string{"slept": d.String()}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}

	case "fail":
		return nil, peer.Reject(map[string]string{"error": req.Text})
	}

	util.LogDebug("unknown request type %q from %s", req.Type, ev.Origin)
	return nil, peer.Reject(map[string]any{"success": false, "error": "unknown type " + req.Type})
}

// remotePopup stands in for the SSO popup window: the client on the other
// end of the link.
type remotePopup struct {
	lk link
}

func (p *remotePopup) Focus() bool            { return true }
func (p *remotePopup) Close() bool            { return p.lk.Close() == nil }
func (p *remotePopup) Target() channel.Target { return p.lk }
func (p *remotePopup) Blocked() bool {
	select {
	case <-p.lk.Done():
		return true
	default:
		return false
	}
}

// runOpener runs one SSO flow with the client acting as the popup.
func runOpener(ctx context.Context, lk link, mode, apiOrigin string) error {
	session, err := sso.NewSession(sso.Config{
		CDNOrigin: lk.RemoteOrigin(),
		APIOrigin: apiOrigin,
		Bus:       lk,
		Open: func(url string) sso.Popup {
			util.LogInfo("opening %s on the client", url)
			return &remotePopup{lk: lk}
		},
	})
	if err != nil {
		return err
	}
	defer session.Close()

	data, err := session.Open(mode).Wait(ctx)
	if err != nil {
		return fmt.Errorf("sso %s: %w", mode, err)
	}
	util.LogSuccess("sso %s finished: %s", mode, string(data))

	// Let the last reply reach the client before the link goes away.
	select {
	case <-lk.Done():
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
	}
	return nil
}

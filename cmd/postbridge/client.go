package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/1ureka/postbridge/internal/config"
	"github.com/1ureka/postbridge/internal/peer"
	"github.com/1ureka/postbridge/internal/sso"
	"github.com/1ureka/postbridge/internal/util"
)

// clientOptions select what the client does once connected.
type clientOptions struct {
	batch       int
	concurrency int
	ssoMode     string
}

var clientFlags struct {
	url  string
	pin  string
	opts clientOptions
}

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Connect to a host and send requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(cmd, config.RoleClient)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("url") {
			cfg.WSURL = clientFlags.url
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		wsURL, err := config.NormalizeWSURL(cfg.WSURL)
		if err != nil {
			return err
		}
		cfg.WSURL = config.WithPIN(wsURL, clientFlags.pin)

		return runClient(cmd.Context(), cfg, clientFlags.opts)
	},
}

func init() {
	f := clientCmd.Flags()
	f.StringVar(&clientFlags.url, "url", "", "WebSocket URL of the host")
	f.StringVar(&clientFlags.pin, "pin", "", "PIN shown by the host")
	f.IntVar(&clientFlags.opts.batch, "batch", 0, "Send this many pings concurrently, report, and exit")
	f.IntVar(&clientFlags.opts.concurrency, "concurrency", 16, "Requests in flight at once in batch mode")
	f.StringVar(&clientFlags.opts.ssoMode, "sso", "", "Act as the SSO popup in this mode (check-auth or logout)")
}

const (
	handshakeAttempts = 5
	handshakeWait     = 2 * time.Second
)

// runClient executes the client-side logic.
func runClient(ctx context.Context, cfg config.Config, opts clientOptions) error {
	fmt.Println("Connecting to Host...")
	lk, err := dialLink(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to establish connection: %w", err)
	}
	defer lk.Close()

	if cfg.StatsInterval > 0 {
		util.StartStatsReporter(ctx, cfg.StatsInterval)
	}
	util.LogSuccess("connection established with %s", lk.RemoteOrigin())

	p, err := newPeer(lk, cfg, nil)
	if err != nil {
		return err
	}
	defer p.Destroy()

	if err := handshake(ctx, p); err != nil {
		return err
	}

	switch {
	case opts.ssoMode != "":
		p.Destroy()
		return runPopup(ctx, lk, opts.ssoMode)
	case opts.batch > 0:
		if cfg.Lossy && cfg.RequestTimeout == 0 {
			util.LogWarning("lossy batch without --timeout may never finish")
		}
		return runBatch(ctx, p, opts)
	default:
		return runPrompt(ctx, p, lk)
	}
}

// handshake retries until the host answers. The host may not be listening
// yet when the link comes up, and a lossy channel may eat the request.
func handshake(ctx context.Context, p *peer.Peer) error {
	for attempt := 1; attempt <= handshakeAttempts; attempt++ {
		f := p.SendHandshake()
		waitCtx, cancel := context.WithTimeout(ctx, handshakeWait)
		_, err := f.Wait(waitCtx)
		cancel()

		switch {
		case err == nil:
			util.LogDebug("handshake answered on attempt %d", attempt)
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			p.Cancel(f.ID())
			util.LogDebug("handshake attempt %d unanswered", attempt)
		default:
			return fmt.Errorf("handshake: %w", err)
		}
	}
	return fmt.Errorf("handshake: no answer after %d attempts", handshakeAttempts)
}

// runPrompt sends each line the user types until they quit or the link
// closes.
func runPrompt(ctx context.Context, p *peer.Peer, lk link) error {
	util.LogInfo(`type "ping", a JSON value, or any text to echo; "quit" to exit`)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-lk.Done():
			util.LogWarning("connection closed by host")
			return nil
		default:
		}

		raw, err := pterm.DefaultInteractiveTextInput.WithDefaultText("request").Show()
		if err != nil {
			return err
		}
		line := strings.TrimSpace(raw)
		switch line {
		case "":
			continue
		case "quit", "exit":
			return nil
		}

		start := time.Now()
		data, err := p.SendRequest(parseLine(line)).Wait(ctx)
		if err != nil {
			util.LogError("request failed: %v", err)
			continue
		}
		util.LogInfo("reply in %s: %s", time.Since(start).Round(time.Microsecond), string(data))
	}
}

// parseLine turns prompt input into a request payload.
func parseLine(line string) any {
	if line == "ping" {
		return request{Type: "ping"}
	}
	if json.Valid([]byte(line)) {
		return json.RawMessage(line)
	}
	return request{Type: "echo", Text: line}
}

// runBatch fires opts.batch pings and prints a latency summary.
func runBatch(ctx context.Context, p *peer.Peer, opts clientOptions) error {
	var (
		mu        sync.Mutex
		latencies []time.Duration
		failures  int
	)

	g, gctx := errgroup.WithContext(ctx)
	if opts.concurrency > 0 {
		g.SetLimit(opts.concurrency)
	}

	start := time.Now()
	for i := 0; i < opts.batch; i++ {
		g.Go(func() error {
			sent := time.Now()
			var pong request
			err := p.Call(gctx, request{Type: "ping"}, &pong)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && pong.Type == "pong":
				latencies = append(latencies, time.Since(sent))
			case gctx.Err() != nil:
				return gctx.Err()
			default:
				failures++
				util.LogDebug("ping failed: %v", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return renderBatch(opts.batch, latencies, failures, time.Since(start))
}

func renderBatch(total int, latencies []time.Duration, failures int, elapsed time.Duration) error {
	slices.Sort(latencies)
	pct := func(q float64) string {
		if len(latencies) == 0 {
			return "-"
		}
		return latencies[int(q*float64(len(latencies)-1))].Round(time.Microsecond).String()
	}

	return pterm.DefaultTable.WithHasHeader().WithData(pterm.TableData{
		{"sent", "ok", "failed", "elapsed", "p50", "p90", "max"},
		{
			fmt.Sprint(total),
			fmt.Sprint(len(latencies)),
			fmt.Sprint(failures),
			elapsed.Round(time.Millisecond).String(),
			pct(0.5), pct(0.9), pct(1),
		},
	}).Render()
}

// runPopup plays the SSO popup page against a host running as the opener.
func runPopup(ctx context.Context, lk link, mode string) error {
	err := sso.Redirect(ctx, sso.RedirectConfig{
		Mode:         mode,
		Bus:          lk,
		Opener:       lk,
		OpenerOrigin: lk.RemoteOrigin(),
		Login: func(_ context.Context, authURL string) (json.RawMessage, error) {
			util.LogInfo("signing in at %s", authURL)
			return json.Marshal(map[string]string{"name": "demo", "signedInAt": time.Now().Format(time.RFC3339)})
		},
		Logout: func(_ context.Context, logoutURL string) error {
			util.LogInfo("signing out at %s", logoutURL)
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("sso %s: %w", mode, err)
	}
	util.LogSuccess("sso %s reported to host", mode)
	return nil
}

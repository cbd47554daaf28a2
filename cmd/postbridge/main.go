// Postbridge: CLI entry point.
//
// This tool runs a pair of request/response peers across two machines. The
// host starts a PIN protected WebSocket signaling server; once a client
// joins, both sides talk over an unordered WebRTC DataChannel (or the
// WebSocket itself with --direct).
//
// It can be launched interactively (no subcommand) or non-interactively via
// the host and client subcommands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/postbridge/internal/config"
	"github.com/1ureka/postbridge/internal/util"
)

var version = "dev"

// globalFlags are shared by every subcommand. Only flags the user actually
// set override the config file.
type globalFlags struct {
	configPath     string
	sender         string
	targetOrigin   string
	allowedOrigins []string
	timeout        time.Duration
	direct         bool
	lossy          bool
	stunServers    []string
	statsInterval  time.Duration
	debug          bool
}

var flags globalFlags

var rootCmd = &cobra.Command{
	Use:           "postbridge",
	Short:         "Request/response peers over an unordered, lossy channel",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(cmd, "")
		if err != nil {
			return err
		}
		return runInteractive(cmd.Context(), cfg)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "TOML config file")
	pf.StringVar(&flags.sender, "sender", "", "Peer identity (default: generated)")
	pf.StringVar(&flags.targetOrigin, "target-origin", "", "Origin allowed to receive our requests (default \"*\")")
	pf.StringSliceVar(&flags.allowedOrigins, "allow-origin", nil, "Origins whose messages are trusted (default: all)")
	pf.DurationVar(&flags.timeout, "timeout", 0, "Fail requests left unanswered this long (0 waits forever)")
	pf.BoolVar(&flags.direct, "direct", false, "Run over the signaling WebSocket instead of WebRTC")
	pf.BoolVar(&flags.lossy, "lossy", false, "Disable DataChannel retransmits")
	pf.StringSliceVar(&flags.stunServers, "stun", nil, "STUN server URLs")
	pf.DurationVar(&flags.statsInterval, "stats-interval", 0, "Traffic report interval (0 uses the config value)")
	pf.BoolVar(&flags.debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(hostCmd)
	rootCmd.AddCommand(clientCmd)
}

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	pterm.Info.Println(fmt.Sprintf("Postbridge — v%s", version))
	pterm.Println()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

// resolveConfig loads the config file, applies the flags that were set and
// fills in generated defaults. role is empty while it is still unknown.
func resolveConfig(cmd *cobra.Command, role config.Role) (config.Config, error) {
	cfg := config.Default()
	if flags.configPath != "" {
		loaded, err := config.Load(flags.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if role != "" {
		cfg.Role = role
	}

	changed := cmd.Flags().Changed
	if changed("sender") {
		cfg.Sender = flags.sender
	}
	if changed("target-origin") {
		cfg.TargetOrigin = flags.targetOrigin
	}
	if changed("allow-origin") {
		cfg.AllowedOrigins = flags.allowedOrigins
	}
	if changed("timeout") {
		cfg.RequestTimeout = flags.timeout
	}
	if changed("direct") {
		cfg.Direct = flags.direct
	}
	if changed("lossy") {
		cfg.Lossy = flags.lossy
	}
	if changed("stun") {
		cfg.STUNServers = flags.stunServers
	}
	if changed("stats-interval") {
		cfg.StatsInterval = flags.statsInterval
	}
	if changed("debug") {
		cfg.Debug = flags.debug
	}

	if cfg.Debug {
		util.EnableDebug()
	}
	return cfg, nil
}

// defaultSender returns cfg.Sender, or a fresh role-prefixed identity.
func defaultSender(cfg config.Config) string {
	if cfg.Sender != "" {
		return cfg.Sender
	}
	return string(cfg.Role) + "-" + uuid.NewString()
}

// ---------------------------------------------------------------------------
// Interactive mode
// ---------------------------------------------------------------------------

// runInteractive prompts for everything the subcommands take as flags.
func runInteractive(ctx context.Context, cfg config.Config) error {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Host  — Answer requests from a client", "Client — Send requests to a host"}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	if strings.HasPrefix(role, "Host") {
		cfg.Role = config.RoleHost
		return runHost(ctx, cfg, "")
	}

	cfg.Role = config.RoleClient
	cfg.WSURL = askURL()
	if !strings.Contains(cfg.WSURL, "pin=") {
		cfg.WSURL = config.WithPIN(cfg.WSURL, askPIN())
	}
	return runClient(ctx, cfg, clientOptions{})
}

// askURL prompts the user for a valid WebSocket URL until one is entered.
func askURL() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("WebSocket URL (e.g. wss://***.asse.devtunnels.ms/ws)").
			Show()

		wsURL, err := config.NormalizeWSURL(raw)
		if err == nil {
			pterm.Println()
			return wsURL
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}

// askPIN prompts for the PIN shown by the host.
func askPIN() string {
	raw, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultText("PIN shown by the host").
		Show()
	pterm.Println()
	return strings.TrimSpace(raw)
}

package signaling

import (
	"context"
	"errors"
	"fmt"

	"github.com/1ureka/postbridge/internal/transport"
	"github.com/1ureka/postbridge/internal/util"
)

// PrintBanner shows the address details a client needs to connect.
func PrintBanner(port int, pin string) {
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════╗")
	fmt.Println("║        WebSocket Signaling Server        ║")
	fmt.Println("╠══════════════════════════════════════════╣")
	fmt.Printf("║  Port : %-32d ║\n", port)
	fmt.Printf("║  PIN  : %-32s ║\n", pin)
	fmt.Println("╠══════════════════════════════════════════╣")
	fmt.Println("║  Tip: forward this port (e.g. VS Code    ║")
	fmt.Println("║  Port Forwarding) to reach it publicly   ║")
	fmt.Println("╚══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Println("Waiting for client...")
}

// EstablishAsHost executes the full host-side signaling flow on a started
// server:
//  1. Wait for the client to connect
//  2. Create a Transport
//  3. Perform SDP/ICE exchange
//  4. Wait for the DataChannel to be ready
//  5. Close the WS connection (resource cleanup)
//  6. Return the ready Transport
func EstablishAsHost(ctx context.Context, srv *Server, opts transport.Options) (*transport.Transport, error) {
	// 1. Wait for client WS connection.
	client, err := srv.waitForClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for client: %w", err)
	}
	wsConn := client.conn
	defer wsConn.Close()

	// 2. Create Transport.
	tr, err := transport.NewTransport(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create Transport: %w", err)
	}
	tr.SetRemoteOrigin(client.origin)

	// 3. Perform SDP/ICE exchange. The read loop exits when wsConn is closed.
	x := newExchange(tr, wsConn)
	errCh := make(chan error, 1)
	go func() { errCh <- x.run() }()

	// Host sends the Offer first.
	if err := x.offer(); err != nil {
		tr.Close()
		return nil, fmt.Errorf("failed to send Offer: %w", err)
	}

	return waitReady(ctx, tr, errCh)
}

// EstablishAsClient executes the full client-side signaling flow:
//  1. Connect to the host's WS server
//  2. Create a Transport
//  3. Perform SDP/ICE exchange
//  4. Wait for the DataChannel to be ready
//  5. Close the WS connection (resource cleanup)
//  6. Return the ready Transport
func EstablishAsClient(ctx context.Context, wsURL string, opts transport.Options) (*transport.Transport, error) {
	// 1. Connect to WS server.
	wsConn, origin, err := connect(ctx, wsURL)
	if err != nil {
		return nil, err
	}
	defer wsConn.Close()
	util.LogDebug("WS connected: %s", wsURL)

	// 2. Create Transport.
	tr, err := transport.NewTransport(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create Transport: %w", err)
	}
	tr.SetRemoteOrigin(origin)

	// 3. Perform SDP/ICE exchange.
	x := newExchange(tr, wsConn)
	errCh := make(chan error, 1)
	go func() { errCh <- x.run() }()

	// The client waits for the host's offer; run answers it.
	return waitReady(ctx, tr, errCh)
}

// waitReady blocks until the DataChannel opens, signaling fails, the
// transport dies, or ctx is cancelled. A nil result from errCh means the
// negotiation finished and the transport is left to connect on its own.
func waitReady(ctx context.Context, tr *transport.Transport, errCh <-chan error) (*transport.Transport, error) {
	for {
		select {
		case <-tr.Ready():
			util.LogDebug("WebRTC DataChannel established, closing WS")
			return tr, nil

		case err := <-errCh:
			if err == nil {
				errCh = nil
				continue
			}
			tr.Close()
			return nil, fmt.Errorf("signaling failed: %w", err)

		case <-tr.Done():
			tr.Close()
			return nil, errors.New("transport closed before the DataChannel opened")

		case <-ctx.Done():
			tr.Close()
			return nil, ctx.Err()
		}
	}
}

// AcceptDirect waits for a client on srv and returns a transport that runs
// the peer protocol over the WebSocket itself, skipping WebRTC.
func AcceptDirect(ctx context.Context, srv *Server) (*transport.WSConn, error) {
	client, err := srv.waitForClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for client: %w", err)
	}
	return transport.NewWSConn(client.conn, client.origin), nil
}

// DialDirect connects to a host started for direct mode.
func DialDirect(ctx context.Context, wsURL string) (*transport.WSConn, error) {
	conn, origin, err := connect(ctx, wsURL)
	if err != nil {
		return nil, err
	}
	util.LogDebug("WS connected: %s", wsURL)
	return transport.NewWSConn(conn, origin), nil
}

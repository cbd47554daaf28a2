package signaling

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"

	"github.com/1ureka/postbridge/internal/util"
)

var upgrader = websocket.Upgrader{
	// Origins are not checked here; the peer's event validator decides
	// which origins it trusts.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// accepted is a client connection plus the origin it presented.
type accepted struct {
	conn   *websocket.Conn
	origin string
}

// Server is the host-side WebSocket rendezvous. It accepts exactly one
// client that presents the right PIN.
type Server struct {
	addr     string
	pin      string
	listener net.Listener
	connCh   chan accepted
}

// NewServer creates a server that will listen on addr. An empty pin
// accepts any client.
func NewServer(addr, pin string) *Server {
	return &Server{
		addr:   addr,
		pin:    pin,
		connCh: make(chan accepted, 1),
	}
}

// Start begins listening. Returns the assigned port number.
func (s *Server) Start() (int, error) {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return 0, fmt.Errorf("failed to start WS server: %w", err)
	}
	s.listener = listener
	port := listener.Addr().(*net.TCPAddr).Port

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)

	go func() {
		_ = http.Serve(listener, mux)
	}()

	return port, nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.pin != "" && r.URL.Query().Get("pin") != s.pin {
		http.Error(w, "Invalid PIN", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = "ws://" + r.RemoteAddr
	}

	// Only accept the first client.
	select {
	case s.connCh <- accepted{conn: conn, origin: origin}:
		util.LogDebug("client connected from %s", origin)
	default:
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "already connected"))
		conn.Close()
	}
}

// waitForClient blocks until a client connects or context is cancelled.
func (s *Server) waitForClient(ctx context.Context) (accepted, error) {
	select {
	case a := <-s.connCh:
		return a, nil
	case <-ctx.Done():
		return accepted{}, ctx.Err()
	}
}

// Close shuts down the listener, preventing new connections.
func (s *Server) Close() {
	if s.listener != nil {
		s.listener.Close()
	}
}

// connect dials the given WebSocket URL and returns the connection along
// with the origin the server will see for it.
func connect(ctx context.Context, wsURL string) (*websocket.Conn, string, error) {
	origin, err := originOf(wsURL)
	if err != nil {
		return nil, "", err
	}

	dialer := websocket.DefaultDialer
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, "", ErrInvalidPIN
		}
		return nil, "", fmt.Errorf("failed to connect to WS server: %w", err)
	}
	return conn, origin, nil
}

// ErrInvalidPIN is returned when the host refuses the client's PIN.
var ErrInvalidPIN = errors.New("invalid PIN")

// originOf returns scheme://host for a WebSocket URL.
func originOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	return u.Scheme + "://" + u.Host, nil
}

// GeneratePIN returns a random numeric PIN of the specified length.
func GeneratePIN(length int) string {
	digits := make([]byte, length)
	for i := range digits {
		n, _ := rand.Int(rand.Reader, big.NewInt(10))
		digits[i] = byte('0') + byte(n.Int64())
	}
	return string(digits)
}

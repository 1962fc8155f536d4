package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/Bryght7/TIRC/internal/protocol"
)

const testOrigin = "http://relay.test"

// wsClient speaks the relay protocol over a WebSocket, one binary message per
// request.
type wsClient struct {
	t    *testing.T
	conn net.Conn
	rw   io.ReadWriter
	buf  []byte
}

type wsStream struct {
	io.Reader
	io.Writer
}

// startGateway serves a gateway for a fresh reactor and returns the ws:// URL.
// A zero pongWait keeps the default keepalive.
func startGateway(t *testing.T, pongWait time.Duration) (*Reactor, string) {
	t.Helper()
	cfg := NewConfig()
	cfg.AllowedOrigins = []string{testOrigin}
	if pongWait > 0 {
		cfg.PongWait = pongWait
		cfg.PingPeriod = pongWait / 5
	}
	r := startReactor(t, cfg)

	srv := httptest.NewServer(NewGateway(cfg, r).Routes())
	t.Cleanup(srv.Close)
	return r, "ws://" + strings.TrimPrefix(srv.URL, "http://") + "/ws"
}

func dialWS(ctx context.Context, url, origin string) (net.Conn, *bufio.Reader, error) {
	dialer := ws.Dialer{
		Header: ws.HandshakeHeaderHTTP(http.Header{"Origin": []string{origin}}),
	}
	conn, br, _, err := dialer.Dial(ctx, url)
	return conn, br, err
}

func dialWSClient(t *testing.T, url string) *wsClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, br, err := dialWS(ctx, url, testOrigin)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	c := &wsClient{t: t, conn: conn, rw: conn}
	if br != nil {
		c.rw = wsStream{Reader: br, Writer: conn}
	}
	return c
}

func (c *wsClient) send(f protocol.Frame) {
	c.t.Helper()
	raw, err := protocol.Encode(f)
	if err != nil {
		c.t.Fatalf("Encode(%s) error: %v", f.Op, err)
	}
	if err := wsutil.WriteClientBinary(c.conn, raw); err != nil {
		c.t.Fatalf("WebSocket write error: %v", err)
	}
}

func (c *wsClient) expect(op protocol.Opcode) protocol.Frame {
	c.t.Helper()
	if err := c.conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		c.t.Fatalf("SetReadDeadline error: %v", err)
	}
	for {
		f, n, err := protocol.Decode(c.buf)
		if err != nil {
			c.t.Fatalf("Decode error: %v", err)
		}
		if n > 0 {
			c.buf = c.buf[n:]
			if f.Op != op {
				c.t.Fatalf("received %s (%+v), want %s", f.Op, f, op)
			}
			return f
		}
		data, code, err := wsutil.ReadServerData(c.rw)
		if err != nil {
			c.t.Fatalf("waiting for %s: %v", op, err)
		}
		if code != ws.OpBinary {
			c.t.Fatalf("received %v message, want binary", code)
		}
		c.buf = append(c.buf, data...)
	}
}

// TestGatewayBridgesClients verifies that WebSocket and TCP clients share one
// chat.
func TestGatewayBridgesClients(t *testing.T) {
	r, url := startGateway(t, 0)
	alice := dialClient(t, r.Addr().String())
	alice.register("alice")

	wally := dialWSClient(t, url)
	wally.send(protocol.Frame{Op: protocol.OpRegister, Nickname: "wally"})
	if f := wally.expect(protocol.OpRegisterResult); f.Status != protocol.StatusAccepted {
		t.Fatalf("registration rejected with status %d", f.Status)
	}
	if f := alice.expect(protocol.OpJoined); f.Nickname != "wally" {
		t.Errorf("alice saw %q join, want wally", f.Nickname)
	}

	alice.send(protocol.Frame{Op: protocol.OpMessage, From: "alice", Text: "hi"})
	if f := wally.expect(protocol.OpMessage); f.From != "alice" || f.Text != "hi" {
		t.Errorf("wally received %+v", f)
	}

	wally.send(protocol.Frame{Op: protocol.OpMessage, From: "wally", Text: "hello"})
	if f := alice.expect(protocol.OpMessage); f.From != "wally" || f.Text != "hello" {
		t.Errorf("alice received %+v", f)
	}

	_ = wally.conn.Close()
	if f := alice.expect(protocol.OpLeft); f.Nickname != "wally" {
		t.Errorf("left notice for %q, want wally", f.Nickname)
	}
}

// TestGatewaySilentPeerDropped verifies that a WebSocket peer that stops
// answering pings is torn down, its departure announced, and its nickname freed.
func TestGatewaySilentPeerDropped(t *testing.T) {
	r, url := startGateway(t, 300*time.Millisecond)
	alice := dialClient(t, r.Addr().String())
	alice.register("alice")

	wally := dialWSClient(t, url)
	wally.send(protocol.Frame{Op: protocol.OpRegister, Nickname: "wally"})
	wally.expect(protocol.OpRegisterResult)
	alice.expect(protocol.OpJoined)

	// wally never reads again, so no pong answers the server's pings.
	if f := alice.expect(protocol.OpLeft); f.Nickname != "wally" {
		t.Fatalf("left notice for %q, want wally", f.Nickname)
	}

	again := dialClient(t, r.Addr().String())
	again.register("wally")
}

// TestGatewayAnsweringPeerKept verifies that a peer answering pings outlives
// the pong wait.
func TestGatewayAnsweringPeerKept(t *testing.T) {
	r, url := startGateway(t, 500*time.Millisecond)
	alice := dialClient(t, r.Addr().String())
	alice.register("alice")

	wally := dialWSClient(t, url)
	wally.send(protocol.Frame{Op: protocol.OpRegister, Nickname: "wally"})
	wally.expect(protocol.OpRegisterResult)
	alice.expect(protocol.OpJoined)

	// Reading answers pings, and the message is sent after three pong waits.
	raw, err := protocol.Encode(protocol.Frame{Op: protocol.OpMessage, From: "alice", Text: "still here?"})
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	timer := time.AfterFunc(1500*time.Millisecond, func() { _, _ = alice.conn.Write(raw) })
	defer timer.Stop()

	if f := wally.expect(protocol.OpMessage); f.Text != "still here?" {
		t.Errorf("wally received %+v", f)
	}
	alice.expectNothing(quiet)
}

// TestGatewayIgnoresTextMessages verifies that only binary messages carry
// requests.
func TestGatewayIgnoresTextMessages(t *testing.T) {
	_, url := startGateway(t, 0)
	wally := dialWSClient(t, url)

	if err := wsutil.WriteClientText(wally.conn, []byte("hello")); err != nil {
		t.Fatalf("WebSocket write error: %v", err)
	}
	wally.send(protocol.Frame{Op: protocol.OpRegister, Nickname: "wally"})
	if f := wally.expect(protocol.OpRegisterResult); f.Status != protocol.StatusAccepted {
		t.Errorf("registration rejected with status %d", f.Status)
	}
}

// TestGatewayRejectsDisallowedOrigin verifies that the origin allow-list is
// enforced during the handshake.
func TestGatewayRejectsDisallowedOrigin(t *testing.T) {
	_, url := startGateway(t, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, _, err := dialWS(ctx, url, "http://evil.test")
	if err == nil {
		_ = conn.Close()
		t.Fatal("handshake from disallowed origin succeeded")
	}
	var status ws.StatusError
	if errors.As(err, &status) && int(status) != http.StatusForbidden {
		t.Errorf("handshake status = %d, want %d", int(status), http.StatusForbidden)
	}
}

// TestWebSocketHandlerMethodValidation verifies that only GET reaches the upgrader.
func TestWebSocketHandlerMethodValidation(t *testing.T) {
	g := NewGateway(nil, NewReactor(nil))

	for _, method := range []string{"POST", "PUT", "DELETE", "PATCH"} {
		t.Run(method, func(t *testing.T) {
			req := httptest.NewRequest(method, "/ws", nil)
			w := httptest.NewRecorder()

			g.WebSocketHandler(w, req)

			if w.Code != http.StatusMethodNotAllowed {
				t.Errorf("Expected status code %d, got %d", http.StatusMethodNotAllowed, w.Code)
			}
		})
	}
}

// TestWebSocketHandlerGETWithoutUpgrade verifies that a plain GET is refused.
func TestWebSocketHandlerGETWithoutUpgrade(t *testing.T) {
	g := NewGateway(nil, NewReactor(nil))
	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "http://localhost:8080")
	w := httptest.NewRecorder()

	g.WebSocketHandler(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status code %d for invalid WebSocket upgrade, got %d", http.StatusBadRequest, w.Code)
	}
}

// TestRoutesHealth verifies the health endpoint served by Routes.
func TestRoutesHealth(t *testing.T) {
	mux := NewGateway(nil, NewReactor(nil)).Routes()
	req := httptest.NewRequest("GET", "/", http.NoBody)
	rr := httptest.NewRecorder()

	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	if rr.Body.String() != "TIRC relay is running!" {
		t.Errorf("handler returned unexpected body: got %v", rr.Body.String())
	}
}

// TestCreateServer verifies the gateway server timeouts.
func TestCreateServer(t *testing.T) {
	mux := http.NewServeMux()
	srv := CreateServer(":8080", mux)

	if srv.Addr != ":8080" {
		t.Errorf("Expected server addr :8080, got %s", srv.Addr)
	}
	if srv.Handler != mux {
		t.Error("Server handler not set correctly")
	}
	if srv.ReadHeaderTimeout != 15*time.Second {
		t.Errorf("Expected ReadHeaderTimeout 15s, got %v", srv.ReadHeaderTimeout)
	}
	if srv.IdleTimeout != 60*time.Second {
		t.Errorf("Expected IdleTimeout 60s, got %v", srv.IdleTimeout)
	}
}

package server

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"net"
	"os"
	"testing"
	"time"

	"github.com/Bryght7/TIRC/internal/protocol"
)

func TestMain(m *testing.M) {
	flag.Parse()
	if !testing.Verbose() {
		log.SetOutput(io.Discard)
	}
	os.Exit(m.Run())
}

// recordingPeer is a Peer that keeps every accepted frame and refuses frames
// once capacity is reached.
type recordingPeer struct {
	frames   [][]byte
	capacity int
}

func newRecordingPeer() *recordingPeer {
	return &recordingPeer{capacity: MaxQueuedFrames}
}

func (p *recordingPeer) Enqueue(frame []byte) bool {
	if len(p.frames) >= p.capacity {
		return false
	}
	p.frames = append(p.frames, frame)
	return true
}

// decoded returns the recorded frames in decoded form.
func (p *recordingPeer) decoded(t *testing.T) []protocol.Frame {
	t.Helper()
	out := make([]protocol.Frame, 0, len(p.frames))
	for _, raw := range p.frames {
		f, n, err := protocol.Decode(raw)
		if err != nil || n != len(raw) {
			t.Fatalf("recorded frame %v does not decode: n=%d err=%v", raw, n, err)
		}
		out = append(out, f)
	}
	return out
}

// count returns how many recorded frames have opcode op and nickname nickname.
func (p *recordingPeer) count(t *testing.T, op protocol.Opcode, nickname string) int {
	t.Helper()
	n := 0
	for _, f := range p.decoded(t) {
		if f.Op == op && f.Nickname == nickname {
			n++
		}
	}
	return n
}

// testClient speaks the relay protocol over a real socket.
type testClient struct {
	t    *testing.T
	conn net.Conn
	buf  []byte
}

func dialClient(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("Failed to connect to %s: %v", addr, err)
	}
	c := &testClient{t: t, conn: conn}
	t.Cleanup(func() { _ = conn.Close() })
	return c
}

func (c *testClient) send(f protocol.Frame) {
	c.t.Helper()
	raw, err := protocol.Encode(f)
	if err != nil {
		c.t.Fatalf("Encode(%s) error: %v", f.Op, err)
	}
	c.sendRaw(raw)
}

func (c *testClient) sendRaw(raw []byte) {
	c.t.Helper()
	if _, err := c.conn.Write(raw); err != nil {
		c.t.Fatalf("Write error: %v", err)
	}
}

// read returns the next frame, or an error if none arrives within timeout.
func (c *testClient) read(timeout time.Duration) (protocol.Frame, error) {
	deadline := time.Now().Add(timeout)
	for {
		f, n, err := protocol.Decode(c.buf)
		if err != nil {
			return protocol.Frame{}, err
		}
		if n > 0 {
			c.buf = c.buf[n:]
			return f, nil
		}
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return protocol.Frame{}, err
		}
		chunk := make([]byte, 4096)
		m, err := c.conn.Read(chunk)
		c.buf = append(c.buf, chunk[:m]...)
		if err != nil && m == 0 {
			return protocol.Frame{}, err
		}
	}
}

// expect reads the next frame and checks its opcode.
func (c *testClient) expect(op protocol.Opcode) protocol.Frame {
	c.t.Helper()
	f, err := c.read(2 * time.Second)
	if err != nil {
		c.t.Fatalf("waiting for %s: %v", op, err)
	}
	if f.Op != op {
		c.t.Fatalf("received %s (%+v), want %s", f.Op, f, op)
	}
	return f
}

// expectNothing fails if any frame arrives within d.
func (c *testClient) expectNothing(d time.Duration) {
	c.t.Helper()
	f, err := c.read(d)
	if err == nil {
		c.t.Fatalf("unexpected %s frame: %+v", f.Op, f)
	}
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		c.t.Fatalf("expected a timeout, got %v", err)
	}
}

// expectClosed waits for the server to close the connection.
func (c *testClient) expectClosed() {
	c.t.Helper()
	for {
		f, err := c.read(2 * time.Second)
		if err == nil {
			continue
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			c.t.Fatalf("connection still open, last frame %+v", f)
		}
		return
	}
}

// register registers nickname and checks that the server accepted it.
func (c *testClient) register(nickname string) {
	c.t.Helper()
	c.send(protocol.Frame{Op: protocol.OpRegister, Nickname: nickname})
	f := c.expect(protocol.OpRegisterResult)
	if f.Status != protocol.StatusAccepted {
		c.t.Fatalf("registration of %q rejected with status %d", nickname, f.Status)
	}
}

// count asks the server how many clients are registered.
func (c *testClient) count() uint32 {
	c.t.Helper()
	c.send(protocol.Frame{Op: protocol.OpCountRequest})
	return c.expect(protocol.OpCount).Count
}

// startReactor runs a reactor on a loopback port until the test ends.
func startReactor(t *testing.T, cfg *Config) *Reactor {
	t.Helper()
	r := NewReactor(cfg)
	if err := r.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- r.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		if err := <-runErr; err != nil {
			t.Errorf("Run returned error: %v", err)
		}
		if err := r.Wait(2 * time.Second); err != nil {
			t.Errorf("Wait error: %v", err)
		}
	})
	return r
}

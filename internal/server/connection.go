// Package server manages individual relay connections: decoding their requests,
// queueing their outgoing frames, and running the pumps that move bytes for the
// reactor.
package server

import (
	"fmt"
	"log"
	"net"

	"github.com/google/uuid"

	"github.com/Bryght7/TIRC/internal/protocol"
)

const readBufferSize = 4096

// Connection is one accepted stream. Its fields are owned by the reactor
// goroutine; the pumps only touch conn and the writes channel.
type Connection struct {
	id       uuid.UUID
	conn     net.Conn
	addr     string
	hub      *Hub
	inbound  []byte
	nickname string
	outbox   outbox
	// inflight is the number of frames handed to the writer pump and not yet
	// acknowledged. Write interest is on while it is non-zero.
	inflight    int
	writes      chan [][]byte
	closed      bool
	rateLimiter *rateLimiter
	rateLimit   RateLimitConfig
}

// NewConnection wraps conn. The connection starts as a candidate: it has no
// nickname and receives nothing from the hub until it registers.
func NewConnection(conn net.Conn, hub *Hub, cfg *Config) *Connection {
	addr := "?"
	if ra := conn.RemoteAddr(); ra != nil {
		addr = ra.String()
	}
	return &Connection{
		id:          uuid.New(),
		conn:        conn,
		addr:        addr,
		hub:         hub,
		outbox:      newOutbox(MaxQueuedFrames),
		writes:      make(chan [][]byte, 1),
		rateLimiter: newRateLimiter(cfg.RateLimit),
		rateLimit:   cfg.RateLimit,
	}
}

func (c *Connection) String() string {
	if c.nickname != "" {
		return fmt.Sprintf("%s (%s %q)", c.id, c.addr, c.nickname)
	}
	return fmt.Sprintf("%s (%s)", c.id, c.addr)
}

// Nickname returns the registered nickname, if any.
func (c *Connection) Nickname() (string, bool) {
	return c.nickname, c.nickname != ""
}

// Enqueue queues frame for sending. It reports false when the connection is
// closed or already holds MaxQueuedFrames frames.
func (c *Connection) Enqueue(frame []byte) bool {
	if c.closed || !c.outbox.push(frame) {
		return false
	}
	c.armWrite()
	return true
}

// armWrite hands every queued frame to the writer pump unless a batch is
// already in flight. The writes channel is empty whenever inflight is zero, so
// the send never blocks.
func (c *Connection) armWrite() {
	if c.closed || c.inflight > 0 || c.outbox.len() == 0 {
		return
	}
	batch := c.outbox.batch()
	c.inflight = len(batch)
	c.writes <- batch
}

// OnWritable acknowledges n frames written by the pump and hands over the rest.
func (c *Connection) OnWritable(n int) error {
	if n > c.inflight {
		return fmt.Errorf("writer acknowledged %d frames, %d in flight", n, c.inflight)
	}
	c.outbox.pop(n)
	c.inflight = 0
	c.armWrite()
	return nil
}

// OnReadable appends data to the inbound buffer and handles every complete
// request it now holds. A returned error is fatal to the connection.
func (c *Connection) OnReadable(data []byte) error {
	c.inbound = append(c.inbound, data...)

	consumed := 0
	for !c.closed {
		frame, n, err := protocol.DecodeRequest(c.inbound[consumed:])
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
		consumed += n
		if err := c.handle(frame); err != nil {
			return err
		}
	}

	if consumed == len(c.inbound) {
		c.inbound = nil
	} else if consumed > 0 {
		c.inbound = append([]byte(nil), c.inbound[consumed:]...)
	}
	return nil
}

// Close releases the transport. It may be called more than once.
func (c *Connection) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.writes)
	c.outbox.reset()
	c.inflight = 0
	c.inbound = nil
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		return err
	}
	return nil
}

// checkRateLimit takes a token from the connection's bucket and reports
// whether the request may be handled.
func (c *Connection) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		log.Printf("Rate limit exceeded for %s (%d requests per %s); discarding request", c, c.rateLimit.Burst, c.rateLimit.RefillInterval)
		return false
	}
	return true
}

func (c *Connection) handle(f protocol.Frame) error {
	if !f.Op.FromClient() {
		return &protocol.FrameError{Op: f.Op, Reason: "not a client request"}
	}
	if f.Op == protocol.OpLeave {
		return ErrClientLeft
	}
	if !c.checkRateLimit() {
		return nil
	}
	if f.Op == protocol.OpRegister {
		c.register(f.Nickname)
		return nil
	}
	if c.nickname == "" {
		log.Printf("Dropping %s from unregistered client %s", f.Op, c)
		return nil
	}

	switch f.Op {
	case protocol.OpRosterRequest:
		c.Enqueue(c.hub.Broadcaster.Roster())
	case protocol.OpCountRequest:
		c.Enqueue(protocol.Count(c.hub.Registry.ConnectedCount()))
	case protocol.OpMessage:
		if c.spoofed(f) {
			return nil
		}
		c.hub.Broadcaster.Broadcast(protocol.Message(c.nickname, f.Text), c.nickname)
	case protocol.OpPrivateAsk:
		if c.spoofed(f) {
			return nil
		}
		c.hub.Rendezvous.Request(c.nickname, f.To)
	case protocol.OpPrivateAccept:
		if c.spoofed(f) {
			return nil
		}
		c.hub.Rendezvous.Accept(c.nickname, f.To, f.Addr, f.Port, f.Token)
	case protocol.OpPrivateRefuse:
		if c.spoofed(f) {
			return nil
		}
		c.hub.Rendezvous.Refuse(c.nickname, f.To)
	}
	return nil
}

func (c *Connection) register(nickname string) {
	if c.nickname != "" {
		c.Enqueue(protocol.RegisterResult(protocol.StatusAlreadyRegistered))
		return
	}
	if !c.hub.Registry.Register(nickname, c) {
		log.Printf("Nickname %q already taken; rejecting %s", nickname, c)
		c.Enqueue(protocol.RegisterResult(protocol.StatusNicknameTaken))
		return
	}
	c.nickname = nickname
	c.Enqueue(protocol.RegisterResult(protocol.StatusAccepted))
}

// spoofed reports, and logs, a frame whose sender is not this connection.
func (c *Connection) spoofed(f protocol.Frame) bool {
	if f.From == c.nickname {
		return false
	}
	log.Printf("Dropping %s claiming to be from %q sent by %s", f.Op, f.From, c)
	return true
}

// readPump reads from the transport and posts every chunk to the reactor. It
// returns after posting the read error that ends the stream.
func (c *Connection) readPump(post func(event) bool) {
	for {
		buf := make([]byte, readBufferSize)
		n, err := c.conn.Read(buf)
		if n > 0 {
			if !post(event{kind: eventReadable, conn: c, data: buf[:n]}) {
				return
			}
		}
		if err != nil {
			post(event{kind: eventFaulted, conn: c, err: err})
			return
		}
	}
}

// writePump writes each batch handed over by armWrite and reports how many
// frames went out. It returns when the writes channel is closed or a write fails.
func (c *Connection) writePump(post func(event) bool) {
	for batch := range c.writes {
		frames := len(batch)
		buffers := net.Buffers(batch)
		if _, err := buffers.WriteTo(c.conn); err != nil {
			post(event{kind: eventFaulted, conn: c, err: err})
			return
		}
		if !post(event{kind: eventWritable, conn: c, written: frames}) {
			return
		}
	}
}

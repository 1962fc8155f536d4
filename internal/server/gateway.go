// Package server bridges WebSocket clients into the relay: each upgraded
// socket becomes a net.Conn carrying the same binary frames as a TCP client.
package server

import (
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Gateway upgrades HTTP requests to WebSocket and hands the sockets to a Reactor.
type Gateway struct {
	reactor    *Reactor
	origins    originPolicy
	upgrader   websocket.Upgrader
	pongWait   time.Duration
	pingPeriod time.Duration
}

// NewGateway creates a Gateway feeding reactor. A nil cfg selects the defaults.
func NewGateway(cfg *Config, reactor *Reactor) *Gateway {
	c := defaultConfig()
	if cfg != nil {
		c = sanitizeConfig(*cfg)
	}
	g := &Gateway{
		reactor:    reactor,
		origins:    newOriginPolicy(c.AllowedOrigins),
		pongWait:   c.PongWait,
		pingPeriod: c.PingPeriod,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.origins.checkOrigin,
	}
	return g
}

// writeWait bounds every write to a WebSocket peer, pings included.
const writeWait = 10 * time.Second

// wsConn presents a WebSocket as a byte stream. Reads run across message
// boundaries; each Write goes out as one binary message. A peer that stops
// answering pings within pongWait fails its next Read, which tears the
// connection down like any other read error.
type wsConn struct {
	ws       *websocket.Conn
	reader   io.Reader
	addr     string
	done     chan struct{}
	stopOnce sync.Once
}

func newWSConn(ws *websocket.Conn, pongWait, pingPeriod time.Duration) *wsConn {
	c := &wsConn{
		ws:   ws,
		addr: ws.RemoteAddr().String(),
		done: make(chan struct{}),
	}
	c.setupReadConnection(pongWait)
	go c.keepAlive(pingPeriod)
	return c
}

// setupReadConnection configures the read deadline and the pong handler that
// extends it.
func (c *wsConn) setupReadConnection(pongWait time.Duration) {
	if err := c.ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Printf("Error setting initial read deadline for %s: %v", c.addr, err)
	}
	c.ws.SetPongHandler(func(string) error {
		if err := c.ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			log.Printf("Error setting read deadline in pong handler for %s: %v", c.addr, err)
		}
		return nil
	})
}

// keepAlive pings the peer every period until Close. WriteControl may run
// alongside the writer pump's Write.
func (c *wsConn) keepAlive(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			if err != nil {
				if !isExpectedCloseError(err) {
					log.Printf("Error writing ping message to %s: %v", c.addr, err)
				}
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			mt, r, err := c.ws.NextReader()
			if err != nil {
				return 0, err
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			c.reader = r
		}
		n, err := c.reader.Read(p)
		if errors.Is(err, io.EOF) {
			c.reader = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return 0, err
	}
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error {
	c.stopOnce.Do(func() { close(c.done) })
	return c.ws.Close()
}

func (c *wsConn) LocalAddr() net.Addr {
	return c.ws.LocalAddr()
}

func (c *wsConn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

func (c *wsConn) SetWriteDeadline(t time.Time) error {
	return c.ws.SetWriteDeadline(t)
}

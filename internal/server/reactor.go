// Package server runs the relay's event loop: one goroutine owns every
// connection and all chat state, and reacts to readiness events posted by the
// acceptor and the per-connection pumps.
package server

import (
	"context"
	"errors"
	"log"
	"net"
	"strings"
	"sync"
	"time"
)

const acceptRetryDelay = 50 * time.Millisecond

// Reactor owns the listening socket, the set of live connections and the Hub.
// Only the goroutine executing Run touches connections or the Hub; everything
// else talks to it through the events channel.
type Reactor struct {
	cfg      Config
	hub      *Hub
	listener net.Listener
	events   chan event
	conns    map[*Connection]struct{}

	// quit is closed by Shutdown, done by Run once it has torn everything down.
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// stopped is set by stop under postMu once no more events are consumed.
	postMu  sync.RWMutex
	stopped bool
}

// NewReactor creates a Reactor. A nil cfg selects the defaults.
func NewReactor(cfg *Config) *Reactor {
	c := defaultConfig()
	if cfg != nil {
		c = sanitizeConfig(*cfg)
	}
	return &Reactor{
		cfg:    c,
		hub:    NewHub(),
		events: make(chan event, c.MaxEventsPerPass),
		conns:  make(map[*Connection]struct{}),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start binds the listening socket on addr.
func (r *Reactor) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return &BindError{Addr: addr, Err: err}
	}
	r.listener = ln
	log.Printf("Relay listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound address, or nil before Start.
func (r *Reactor) Addr() net.Addr {
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Done is closed once Run has closed every connection.
func (r *Reactor) Done() <-chan struct{} {
	return r.done
}

// Run processes readiness events until ctx is cancelled or Shutdown is called.
// Connection failures never stop it.
func (r *Reactor) Run(ctx context.Context) error {
	if r.listener == nil {
		return errNotStarted
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.acceptLoop()
	}()

	for {
		if r.cfg.Debug {
			r.logHandles()
		}
		select {
		case <-ctx.Done():
			r.stop()
			return nil
		case <-r.quit:
			r.stop()
			return nil
		case ev := <-r.events:
			p := r.collect(ev)
			if r.cfg.Debug {
				r.logReady(p)
			}
			r.dispatch(p)
		}
	}
}

// Adopt hands a stream accepted elsewhere to the loop, which treats it like
// one accepted from its own listener.
func (r *Reactor) Adopt(conn net.Conn) {
	if !r.post(event{kind: eventAcceptable, accept: conn}) {
		_ = conn.Close()
	}
}

// Shutdown closes the listening socket and asks Run to return. It may be
// called any number of times, from any goroutine.
func (r *Reactor) Shutdown() {
	r.closeOnce.Do(func() {
		if r.listener != nil {
			if err := r.listener.Close(); err != nil && !isExpectedCloseError(err) {
				log.Printf("Error closing listener: %v", err)
			}
		}
		close(r.quit)
	})
}

// Wait blocks until Run has returned and every pump has exited, or timeout
// elapses.
func (r *Reactor) Wait(timeout time.Duration) error {
	finished := make(chan struct{})
	go func() {
		<-r.done
		r.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-time.After(timeout):
		log.Println("Reactor shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}

// post delivers ev to the loop unless the loop has stopped. An event it
// delivers is either handled by Run or drained by stop.
func (r *Reactor) post(ev event) bool {
	r.postMu.RLock()
	defer r.postMu.RUnlock()
	if r.stopped {
		return false
	}
	select {
	case r.events <- ev:
		return true
	case <-r.done:
		return false
	}
}

func (r *Reactor) acceptLoop() {
	for {
		conn, err := r.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("Accept error: %v", err)
			select {
			case <-time.After(acceptRetryDelay):
				continue
			case <-r.done:
				return
			}
		}
		if !r.post(event{kind: eventAcceptable, accept: conn}) {
			_ = conn.Close()
			return
		}
	}
}

// collect starts a pass with first and adds whatever else is already queued,
// up to MaxEventsPerPass events, without blocking.
func (r *Reactor) collect(first event) *pass {
	p := newPass()
	p.add(first)
	for i := 1; i < r.cfg.MaxEventsPerPass; i++ {
		select {
		case ev := <-r.events:
			p.add(ev)
		default:
			return p
		}
	}
	return p
}

// dispatch runs every ready handle's actions. A failing action closes that
// connection and moves on to the next handle.
func (r *Reactor) dispatch(p *pass) {
	for _, rd := range p.ready {
		for _, act := range rd.actions() {
			if rd.conn != nil && rd.conn.closed {
				break
			}
			if err := r.perform(rd, act); err != nil {
				r.closeConnection(rd.conn, err)
				break
			}
		}
	}
}

func (r *Reactor) perform(rd *readiness, act action) error {
	switch act {
	case actionAccept:
		for _, conn := range rd.accepted {
			r.accept(conn)
		}
	case actionWrite:
		return rd.conn.OnWritable(rd.written)
	case actionRead:
		for _, data := range rd.inbound {
			if err := rd.conn.OnReadable(data); err != nil {
				return err
			}
		}
	case actionClose:
		return rd.err
	}
	return nil
}

// accept registers a new connection for reading. Write interest comes later,
// from its first Enqueue.
func (r *Reactor) accept(conn net.Conn) {
	c := NewConnection(conn, r.hub, &r.cfg)
	r.conns[c] = struct{}{}
	log.Printf("Connection accepted from %s. Open connections: %d", c.addr, len(r.conns))

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		c.writePump(r.post)
	}()
	go func() {
		defer r.wg.Done()
		c.readPump(r.post)
	}()
}

// closeConnection tears c down. The nickname is released first so that no
// broadcast or rendezvous can reach a closed connection.
func (r *Reactor) closeConnection(c *Connection, cause error) {
	if nickname, ok := c.Nickname(); ok {
		r.hub.Registry.Unregister(nickname)
	}
	if err := c.Close(); err != nil {
		log.Printf("Error closing connection %s: %v", c, err)
	}
	delete(r.conns, c)

	switch {
	case errors.Is(cause, ErrClientLeft):
		log.Printf("Client %s left", c)
	case isExpectedCloseError(cause):
		log.Printf("Client %s disconnected: %v", c, cause)
	default:
		log.Printf("Closing %s: %v", c, cause)
	}
}

// stop closes everything without flushing pending output.
func (r *Reactor) stop() {
	log.Println("Shutting down relay...")
	r.Shutdown()

	for c := range r.conns {
		if err := c.Close(); err != nil {
			log.Printf("Error closing connection %s: %v", c, err)
		}
	}
	closed := len(r.conns)
	clear(r.conns)
	r.hub.Registry.Reset()
	close(r.done)

	// Posts blocked on a full channel return once done is closed; waiting for
	// them here leaves every delivered event in the channel for the drain.
	r.postMu.Lock()
	r.stopped = true
	r.postMu.Unlock()

	for {
		select {
		case ev := <-r.events:
			if ev.accept != nil {
				_ = ev.accept.Close()
			}
		default:
			log.Printf("Closed %d client connections", closed)
			return
		}
	}
}

// logHandles prints every handle and the readiness it waits for.
func (r *Reactor) logHandles() {
	log.Println("The reactor contains:")
	log.Printf("\tListener %s : ACCEPT", r.listener.Addr())
	for c := range r.conns {
		interest := "READ"
		if c.inflight > 0 {
			interest += "|WRITE"
		}
		log.Printf("\tClient %s : %s", c, interest)
	}
}

// logReady prints what each ready handle is about to do.
func (r *Reactor) logReady(p *pass) {
	lines := make([]string, 0, len(p.ready))
	for _, rd := range p.ready {
		if rd.conn == nil {
			lines = append(lines, "\tListener can perform : "+rd.String())
			continue
		}
		lines = append(lines, "\tClient "+rd.conn.String()+" can perform : "+rd.String())
	}
	log.Printf("The ready handles are:\n%s", strings.Join(lines, "\n"))
}

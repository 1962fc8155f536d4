package server

import (
	"net"
	"strings"
)

// eventKind tags what a pump or the acceptor observed.
type eventKind uint8

const (
	eventAcceptable eventKind = iota
	eventWritable
	eventReadable
	eventFaulted
)

// event is posted to the reactor by the acceptor and the connection pumps.
type event struct {
	kind    eventKind
	conn    *Connection // nil for the listener
	accept  net.Conn
	data    []byte
	written int
	err     error
}

// action is one step the reactor performs on a ready handle.
type action uint8

const (
	actionAccept action = iota
	actionWrite
	actionRead
	actionClose
)

var actionNames = [...]string{
	actionAccept: "ACCEPT",
	actionWrite:  "WRITE",
	actionRead:   "READ",
	actionClose:  "CLOSE",
}

func (a action) String() string {
	return actionNames[a]
}

// readiness merges the events one handle produced during a pass.
type readiness struct {
	conn     *Connection
	accepted []net.Conn
	written  int
	inbound  [][]byte
	err      error
}

func (rd *readiness) add(ev event) {
	switch ev.kind {
	case eventAcceptable:
		rd.accepted = append(rd.accepted, ev.accept)
	case eventWritable:
		rd.written += ev.written
	case eventReadable:
		rd.inbound = append(rd.inbound, ev.data)
	case eventFaulted:
		if rd.err == nil {
			rd.err = ev.err
		}
	}
}

// actions lists what to do for the handle, in order: flush before taking in
// more input, and close only after the bytes read before the fault are handled.
func (rd *readiness) actions() []action {
	if rd.conn == nil {
		return []action{actionAccept}
	}
	var acts []action
	if rd.written > 0 {
		acts = append(acts, actionWrite)
	}
	if len(rd.inbound) > 0 {
		acts = append(acts, actionRead)
	}
	if rd.err != nil {
		acts = append(acts, actionClose)
	}
	return acts
}

func (rd *readiness) String() string {
	names := make([]string, 0, 3)
	for _, act := range rd.actions() {
		names = append(names, act.String())
	}
	return strings.Join(names, " and ")
}

// pass groups a batch of events per handle, keeping the order in which each
// handle first appeared.
type pass struct {
	ready []*readiness
	index map[*Connection]*readiness
}

func newPass() *pass {
	return &pass{index: make(map[*Connection]*readiness)}
}

func (p *pass) add(ev event) {
	rd, ok := p.index[ev.conn]
	if !ok {
		rd = &readiness{conn: ev.conn}
		p.index[ev.conn] = rd
		p.ready = append(p.ready, rd)
	}
	rd.add(ev)
}

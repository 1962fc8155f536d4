// Package protocol defines the binary frames exchanged between relay clients
// and the server: a one byte opcode followed by big-endian length-prefixed fields.
package protocol

import (
	"fmt"
	"net/netip"
)

const (
	// MaxNicknameSize is the maximum nickname length in bytes (ASCII).
	MaxNicknameSize = 15
	// MaxMessageSize is the maximum chat payload length in bytes (UTF-8).
	MaxMessageSize = 2048
	// MaxRosterEntries bounds the nickname count a roster frame may announce.
	MaxRosterEntries = 1 << 16
)

// Opcode is the leading tag byte of every frame.
type Opcode byte

const (
	OpRegister Opcode = iota
	OpRegisterResult
	OpRosterRequest
	OpRoster
	OpMessage
	OpJoined
	OpLeft
	OpPrivateAsk
	OpPrivateAccept
	OpPrivateRefuse
	OpCountRequest
	OpCount
	OpLeave
)

var opcodeNames = [...]string{
	OpRegister:       "REGISTER",
	OpRegisterResult: "REGISTER_RESULT",
	OpRosterRequest:  "ROSTER_REQUEST",
	OpRoster:         "ROSTER",
	OpMessage:        "MESSAGE",
	OpJoined:         "JOINED",
	OpLeft:           "LEFT",
	OpPrivateAsk:     "PRIVATE_ASK",
	OpPrivateAccept:  "PRIVATE_ACCEPT",
	OpPrivateRefuse:  "PRIVATE_REFUSE",
	OpCountRequest:   "COUNT_REQUEST",
	OpCount:          "COUNT",
	OpLeave:          "LEAVE",
}

func (op Opcode) String() string {
	if int(op) < len(opcodeNames) {
		return opcodeNames[op]
	}
	return fmt.Sprintf("OPCODE(%d)", byte(op))
}

// FromClient reports whether op is a request a client may send to the server.
func (op Opcode) FromClient() bool {
	switch op {
	case OpRegister, OpRosterRequest, OpMessage, OpPrivateAsk,
		OpPrivateAccept, OpPrivateRefuse, OpCountRequest, OpLeave:
		return true
	}
	return false
}

// Registration outcomes carried by OpRegisterResult.
const (
	StatusAccepted byte = iota
	StatusNicknameTaken
	StatusAlreadyRegistered
)

// Frame is the decoded form of any frame. Only the fields relevant to Op are set:
//
//	Register, Joined, Left         Nickname
//	RegisterResult                 Status
//	Roster                         Nicknames
//	Message                        From, Text
//	PrivateAsk, PrivateRefuse      From, To
//	PrivateAccept                  From, To, Addr, Port, Token
//	Count                          Count
type Frame struct {
	Op        Opcode
	Nickname  string
	Status    byte
	Nicknames []string
	From      string
	To        string
	Text      string
	Addr      netip.Addr
	Port      uint16
	Token     uint64
	Count     uint32
}

// FrameError reports a frame that violates the wire format.
type FrameError struct {
	Op     Opcode
	Reason string
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("malformed %s frame: %s", e.Op, e.Reason)
}

func malformed(op Opcode, format string, args ...interface{}) error {
	return &FrameError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

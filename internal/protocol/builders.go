package protocol

import "net/netip"

// The builders below produce server-originated frames. Their nickname and text
// arguments have already passed Decode, so they skip validation.

// RegisterResult answers a Register request.
func RegisterResult(status byte) []byte {
	return encode(Frame{Op: OpRegisterResult, Status: status})
}

// Joined announces that nickname registered.
func Joined(nickname string) []byte {
	return encode(Frame{Op: OpJoined, Nickname: nickname})
}

// Left announces that nickname is gone.
func Left(nickname string) []byte {
	return encode(Frame{Op: OpLeft, Nickname: nickname})
}

// Roster lists nicknames in the given order.
func Roster(nicknames []string) []byte {
	return encode(Frame{Op: OpRoster, Nicknames: nicknames})
}

// Message relays text written by from.
func Message(from, text string) []byte {
	return encode(Frame{Op: OpMessage, From: from, Text: text})
}

// Count reports the number of registered clients.
func Count(n int) []byte {
	return encode(Frame{Op: OpCount, Count: uint32(n)})
}

// PrivateAsk tells to that from wants a private connection.
func PrivateAsk(from, to string) []byte {
	return encode(Frame{Op: OpPrivateAsk, From: from, To: to})
}

// PrivateAccept tells the requester to where it should connect and which token
// authenticates it there.
func PrivateAccept(from, to string, addr netip.Addr, port uint16, token uint64) []byte {
	return encode(Frame{Op: OpPrivateAccept, From: from, To: to, Addr: addr, Port: port, Token: token})
}

// PrivateRefuse tells the requester that from declined.
func PrivateRefuse(from, to string) []byte {
	return encode(Frame{Op: OpPrivateRefuse, From: from, To: to})
}

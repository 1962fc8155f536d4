package protocol

import (
	"encoding/binary"
	"errors"
	"net/netip"
	"unicode/utf8"
)

// errShort signals that the buffer ends before the frame does.
var errShort = errors.New("protocol: short buffer")

// Decode parses the first frame held in buf. It returns the frame and the number
// of bytes it occupies. When buf does not yet hold a complete frame, Decode
// returns n == 0 and a nil error; callers keep the bytes and retry once more
// data has arrived. Length prefixes are checked as soon as they are read, so a
// buffer that cannot possibly become a legal frame fails immediately.
func Decode(buf []byte) (Frame, int, error) {
	if len(buf) == 0 {
		return Frame{}, 0, nil
	}
	r := &reader{buf: buf, off: 1, op: Opcode(buf[0])}
	f, err := r.frame()
	if errors.Is(err, errShort) {
		return Frame{}, 0, nil
	}
	if err != nil {
		return Frame{}, 0, err
	}
	return f, r.off, nil
}

// DecodeRequest is Decode for bytes sent by a client. The opcode is checked
// before anything else, so a frame only the server may send is rejected
// without its body being buffered or parsed.
func DecodeRequest(buf []byte) (Frame, int, error) {
	if len(buf) > 0 && !Opcode(buf[0]).FromClient() {
		return Frame{}, 0, malformed(Opcode(buf[0]), "not a client request")
	}
	return Decode(buf)
}

// Encode validates f and returns its wire form.
func Encode(f Frame) ([]byte, error) {
	if err := Validate(f); err != nil {
		return nil, err
	}
	return encode(f), nil
}

// Validate checks the fields of f against the limits of its opcode.
func Validate(f Frame) error {
	switch f.Op {
	case OpRegister, OpJoined, OpLeft:
		return checkNickname(f.Op, f.Nickname)
	case OpRegisterResult, OpRosterRequest, OpCountRequest, OpCount, OpLeave:
		return nil
	case OpRoster:
		if len(f.Nicknames) > MaxRosterEntries {
			return malformed(f.Op, "roster of %d entries exceeds %d", len(f.Nicknames), MaxRosterEntries)
		}
		for _, nickname := range f.Nicknames {
			if err := checkNickname(f.Op, nickname); err != nil {
				return err
			}
		}
		return nil
	case OpMessage:
		if err := checkNickname(f.Op, f.From); err != nil {
			return err
		}
		return checkText(f.Op, f.Text)
	case OpPrivateAsk, OpPrivateRefuse:
		if err := checkNickname(f.Op, f.From); err != nil {
			return err
		}
		return checkNickname(f.Op, f.To)
	case OpPrivateAccept:
		if err := checkNickname(f.Op, f.From); err != nil {
			return err
		}
		if err := checkNickname(f.Op, f.To); err != nil {
			return err
		}
		if !f.Addr.IsValid() {
			return malformed(f.Op, "missing address")
		}
		return nil
	}
	return malformed(f.Op, "unknown opcode")
}

func checkNickname(op Opcode, nickname string) error {
	if len(nickname) == 0 {
		return malformed(op, "empty nickname")
	}
	if len(nickname) > MaxNicknameSize {
		return malformed(op, "nickname of %d bytes exceeds %d", len(nickname), MaxNicknameSize)
	}
	for i := 0; i < len(nickname); i++ {
		if nickname[i] >= utf8.RuneSelf {
			return malformed(op, "nickname is not ASCII")
		}
	}
	return nil
}

func checkText(op Opcode, text string) error {
	if len(text) > MaxMessageSize {
		return malformed(op, "message of %d bytes exceeds %d", len(text), MaxMessageSize)
	}
	if !utf8.ValidString(text) {
		return malformed(op, "message is not UTF-8")
	}
	return nil
}

func encode(f Frame) []byte {
	b := []byte{byte(f.Op)}
	switch f.Op {
	case OpRegister, OpJoined, OpLeft:
		b = appendString(b, f.Nickname)
	case OpRegisterResult:
		b = append(b, f.Status)
	case OpRoster:
		b = binary.BigEndian.AppendUint32(b, uint32(len(f.Nicknames)))
		for _, nickname := range f.Nicknames {
			b = appendString(b, nickname)
		}
	case OpMessage:
		b = appendString(b, f.From)
		b = appendString(b, f.Text)
	case OpPrivateAsk, OpPrivateRefuse:
		b = appendString(b, f.From)
		b = appendString(b, f.To)
	case OpPrivateAccept:
		b = appendString(b, f.From)
		b = appendString(b, f.To)
		b = appendAddr(b, f.Addr)
		b = binary.BigEndian.AppendUint16(b, f.Port)
		b = binary.BigEndian.AppendUint64(b, f.Token)
	case OpCount:
		b = binary.BigEndian.AppendUint32(b, f.Count)
	}
	return b
}

func appendString(b []byte, s string) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(s)))
	return append(b, s...)
}

func appendAddr(b []byte, addr netip.Addr) []byte {
	if addr.Is4() {
		a := addr.As4()
		b = append(b, 4)
		return append(b, a[:]...)
	}
	a := addr.As16()
	b = append(b, 16)
	return append(b, a[:]...)
}

type reader struct {
	buf []byte
	off int
	op  Opcode
}

func (r *reader) take(n int) ([]byte, error) {
	if len(r.buf)-r.off < n {
		return nil, errShort
	}
	p := r.buf[r.off : r.off+n]
	r.off += n
	return p, nil
}

func (r *reader) u8() (byte, error) {
	p, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

func (r *reader) u16() (uint16, error) {
	p, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(p), nil
}

func (r *reader) u32() (uint32, error) {
	p, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(p), nil
}

func (r *reader) u64() (uint64, error) {
	p, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(p), nil
}

// str reads a length-prefixed string, rejecting the length before waiting for
// the bytes it announces.
func (r *reader) str(limit int) (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	if n > uint32(limit) {
		return "", malformed(r.op, "field of %d bytes exceeds %d", n, limit)
	}
	p, err := r.take(int(n))
	if err != nil {
		return "", err
	}
	return string(p), nil
}

func (r *reader) nickname() (string, error) {
	s, err := r.str(MaxNicknameSize)
	if err != nil {
		return "", err
	}
	return s, checkNickname(r.op, s)
}

func (r *reader) text() (string, error) {
	s, err := r.str(MaxMessageSize)
	if err != nil {
		return "", err
	}
	return s, checkText(r.op, s)
}

func (r *reader) addr() (netip.Addr, error) {
	n, err := r.u8()
	if err != nil {
		return netip.Addr{}, err
	}
	if n != 4 && n != 16 {
		return netip.Addr{}, malformed(r.op, "address length %d", n)
	}
	p, err := r.take(int(n))
	if err != nil {
		return netip.Addr{}, err
	}
	addr, _ := netip.AddrFromSlice(p)
	return addr, nil
}

func (r *reader) frame() (Frame, error) {
	f := Frame{Op: r.op}
	var err error
	switch r.op {
	case OpRegister, OpJoined, OpLeft:
		f.Nickname, err = r.nickname()
	case OpRegisterResult:
		f.Status, err = r.u8()
	case OpRosterRequest, OpCountRequest, OpLeave:
	case OpRoster:
		err = r.roster(&f)
	case OpMessage:
		if f.From, err = r.nickname(); err == nil {
			f.Text, err = r.text()
		}
	case OpPrivateAsk, OpPrivateRefuse:
		if f.From, err = r.nickname(); err == nil {
			f.To, err = r.nickname()
		}
	case OpPrivateAccept:
		err = r.accept(&f)
	case OpCount:
		f.Count, err = r.u32()
	default:
		err = malformed(r.op, "unknown opcode")
	}
	return f, err
}

func (r *reader) roster(f *Frame) error {
	n, err := r.u32()
	if err != nil {
		return err
	}
	if n > MaxRosterEntries {
		return malformed(r.op, "roster of %d entries exceeds %d", n, MaxRosterEntries)
	}
	f.Nicknames = make([]string, 0, min(int(n), 64))
	for i := uint32(0); i < n; i++ {
		nickname, err := r.nickname()
		if err != nil {
			return err
		}
		f.Nicknames = append(f.Nicknames, nickname)
	}
	return nil
}

func (r *reader) accept(f *Frame) error {
	var err error
	if f.From, err = r.nickname(); err != nil {
		return err
	}
	if f.To, err = r.nickname(); err != nil {
		return err
	}
	if f.Addr, err = r.addr(); err != nil {
		return err
	}
	if f.Port, err = r.u16(); err != nil {
		return err
	}
	f.Token, err = r.u64()
	return err
}

package server

// outbox is a bounded FIFO of outgoing frames. Frames stay queued until the
// writer pump reports them written, so frames being written count against the
// bound too.
type outbox struct {
	frames [][]byte
	limit  int
}

func newOutbox(limit int) outbox {
	return outbox{limit: limit}
}

// push appends frame, or reports false when the outbox is full.
func (o *outbox) push(frame []byte) bool {
	if len(o.frames) >= o.limit {
		return false
	}
	o.frames = append(o.frames, frame)
	return true
}

// batch returns the queued frames in a slice the caller may consume freely.
func (o *outbox) batch() [][]byte {
	return append([][]byte(nil), o.frames...)
}

// pop drops the n oldest frames.
func (o *outbox) pop(n int) {
	if n > len(o.frames) {
		n = len(o.frames)
	}
	clear(o.frames[:n])
	o.frames = o.frames[n:]
	if len(o.frames) == 0 {
		o.frames = nil
	}
}

func (o *outbox) len() int {
	return len(o.frames)
}

func (o *outbox) reset() {
	o.frames = nil
}

//go:build linux

package session

import "github.com/hewenhao2008/dispatch-ng/internal/netio"

// pipe is a bounded one-direction byte buffer between two Handles. The Relaying state runs
// two of these, c2r (client to remote) and r2c (remote to client), and drives each
// independently off whichever side's readiness fires.
type pipe struct {
	buf        []byte
	readPos    int // next unread byte
	writePos   int // next free byte
	srcClosed  bool // source hit EOF; once drained, sink's write side half-closes
	sinkClosed bool // sink's write side has been half-closed after the buffer drained
}

func newPipe(size int) *pipe {
	return &pipe{buf: make([]byte, size)}
}

// pending reports whether there are buffered bytes not yet flushed to the sink.
func (p *pipe) pending() bool { return p.readPos < p.writePos }

// full reports whether the buffer has no room left for fillFrom without a compact.
func (p *pipe) full() bool { return p.writePos == len(p.buf) }

// compact slides unread bytes to the front, reclaiming space consumed by flushTo.
func (p *pipe) compact() {
	if p.readPos == 0 {
		return
	}
	n := copy(p.buf, p.buf[p.readPos:p.writePos])
	p.readPos = 0
	p.writePos = n
}

// fillFrom reads as much as fits from src into the buffer. A netio KindAgain error is not
// propagated as a failure; it just means no more bytes are available right now.
func (p *pipe) fillFrom(src *netio.Handle) error {
	if p.full() {
		p.compact()
		if p.full() {
			return nil
		}
	}
	n, err := netio.Read(src, p.buf[p.writePos:])
	if n > 0 {
		p.writePos += n
	}
	if err != nil {
		return err
	}
	if n == 0 {
		p.srcClosed = true
	}
	return nil
}

// flushTo writes as many buffered bytes as dst accepts, returning the number of bytes
// written. A netio KindAgain error is not propagated; it just means the sink's send
// buffer is currently full.
func (p *pipe) flushTo(dst *netio.Handle) (int, error) {
	written := 0
	for p.pending() {
		n, err := netio.Write(dst, p.buf[p.readPos:p.writePos])
		if n > 0 {
			p.readPos += n
			written += n
		}
		if err != nil {
			return written, err
		}
		if n == 0 {
			break
		}
	}
	if p.readPos == p.writePos {
		p.readPos, p.writePos = 0, 0
	}
	return written, nil
}

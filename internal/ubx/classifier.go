package ubx

import "encoding/binary"

// Result is the classification of the byte just pushed.
type Result int

const (
	ContinueText Result = iota
	TextComplete
	ContinueBinary
	BinaryComplete
	Resync
)

func (r Result) String() string {
	switch r {
	case ContinueText:
		return "continue_text"
	case TextComplete:
		return "text_complete"
	case ContinueBinary:
		return "continue_binary"
	case BinaryComplete:
		return "binary_complete"
	case Resync:
		return "resync"
	default:
		return "unknown"
	}
}

// Text reports whether the byte belonged to a text run.
func (r Result) Text() bool {
	return r == ContinueText || r == TextComplete
}

// Classifier splits a receiver byte stream into carriage-return terminated
// text frames and UBX binary frames.
//
// The zero value is ready to use. A Classifier is not safe for concurrent use.
type Classifier struct {
	buf    [MaxFrame]byte
	n      int
	binary bool
	need   int
	done   bool

	resyncs uint32
}

// Push consumes one byte. After TextComplete or BinaryComplete, Frame returns
// the completed frame until the next call to Push.
func (c *Classifier) Push(b byte) Result {
	if c.done {
		c.reset()
	}

	if c.binary {
		return c.pushBinary(b)
	}

	if b == Sync1 {
		// 0xB5 never appears in NMEA; any partial text line is abandoned.
		c.reset()
		c.binary = true
		c.buf[0] = b
		c.n = 1
		return ContinueBinary
	}

	c.buf[c.n] = b
	c.n++
	if b == '\r' {
		c.done = true
		return TextComplete
	}
	if c.n >= MaxFrame {
		return c.resync()
	}
	return ContinueText
}

func (c *Classifier) pushBinary(b byte) Result {
	c.buf[c.n] = b
	c.n++

	switch {
	case c.n == 2:
		if b != Sync2 {
			return c.resync()
		}
	case c.n == HeaderLen:
		c.need = Overhead + int(binary.LittleEndian.Uint16(c.buf[4:6]))
		if c.need > MaxFrame {
			return c.resync()
		}
	case c.n > HeaderLen && c.n == c.need:
		if !Verify(c.buf[:c.n]) {
			return c.resync()
		}
		c.done = true
		return BinaryComplete
	}
	return ContinueBinary
}

// Frame returns the most recently completed frame. The slice aliases the
// classifier's scratch buffer and is only valid until the next Push.
func (c *Classifier) Frame() []byte {
	if !c.done {
		return nil
	}
	return c.buf[:c.n]
}

// Reset drops any partial frame, e.g. after a baud rate change.
func (c *Classifier) Reset() {
	c.reset()
}

// Resyncs returns how many times the classifier discarded a partial frame.
func (c *Classifier) Resyncs() uint32 {
	return c.resyncs
}

func (c *Classifier) resync() Result {
	c.resyncs++
	c.reset()
	return Resync
}

func (c *Classifier) reset() {
	c.n = 0
	c.need = 0
	c.binary = false
	c.done = false
}

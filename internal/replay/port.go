package replay

import (
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
)

// SerialPort matches the receiver port contract: Read never blocks.
type SerialPort interface {
	io.ReadWriteCloser
	SetBaud(baud int) error
	Baud() int
	Flush() error
}

// loopGap separates the last chunk of a pass from the first of the next.
const loopGap = time.Second

type timedChunk struct {
	at    time.Duration
	chunk []byte
}

// Port plays a capture back with its original timing. Writes are accepted
// and counted but otherwise ignored.
type Port struct {
	clk    clock.Clock
	chunks []timedChunk
	loop   bool

	mu      sync.Mutex
	start   time.Time
	idx     int
	pending []byte
	baud    int
	written int
	closed  bool
}

// NewPort lays the records out on one timeline: each START continues from
// the last chunk of the previous segment.
func NewPort(recs []Record, clk clock.Clock, loop bool) (*Port, error) {
	if clk == nil {
		clk = clock.New()
	}
	var chunks []timedChunk
	var base, last time.Duration
	for _, r := range recs {
		if r.Chunk == nil {
			base = last
			continue
		}
		at := base + r.At
		if at < last {
			at = last
		}
		chunks = append(chunks, timedChunk{at: at, chunk: r.Chunk})
		last = at
	}
	if len(chunks) == 0 {
		return nil, errors.New("capture has no data")
	}
	return &Port{clk: clk, chunks: chunks, loop: loop, start: clk.Now(), baud: 9600}, nil
}

// release moves every chunk that is due into pending. A looping port
// restarts once the previous pass has been fully read and loopGap passed.
func (p *Port) release() {
	p.advance()
	end := p.chunks[len(p.chunks)-1].at + loopGap
	if p.idx == len(p.chunks) && p.loop && len(p.pending) == 0 && p.clk.Since(p.start) >= end {
		p.idx = 0
		p.start = p.clk.Now()
		p.advance()
	}
}

func (p *Port) advance() {
	elapsed := p.clk.Since(p.start)
	for p.idx < len(p.chunks) && p.chunks[p.idx].at <= elapsed {
		p.pending = append(p.pending, p.chunks[p.idx].chunk...)
		p.idx++
	}
}

// Read returns whatever is due, or 0 bytes once the capture is exhausted.
func (p *Port) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, os.ErrClosed
	}
	p.release()
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, os.ErrClosed
	}
	p.written += len(b)
	return len(b), nil
}

// Written returns the number of bytes the caller wrote.
func (p *Port) Written() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written
}

func (p *Port) SetBaud(baud int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.baud = baud
	return nil
}

func (p *Port) Baud() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.baud
}

// Flush drops input that is already due.
func (p *Port) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.release()
	p.pending = nil
	return nil
}

func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Tap records every chunk read from the wrapped port.
type Tap struct {
	SerialPort
	w *Writer

	mu  sync.Mutex
	err error
}

func NewTap(p SerialPort, w *Writer) *Tap {
	return &Tap{SerialPort: p, w: w}
}

func (t *Tap) Read(b []byte) (int, error) {
	n, err := t.SerialPort.Read(b)
	if n > 0 {
		if werr := t.w.WriteChunk(b[:n]); werr != nil {
			t.mu.Lock()
			if t.err == nil {
				t.err = werr
			}
			t.mu.Unlock()
		}
	}
	return n, err
}

// Err returns the first capture write failure. Reads keep working after one.
func (t *Tap) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Tap) Close() error {
	return multierr.Append(t.SerialPort.Close(), t.w.Close())
}

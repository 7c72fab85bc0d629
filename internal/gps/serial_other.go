//go:build !linux

package gps

import (
	"sync"
	"time"

	"go.bug.st/serial"
)

// readPoll bounds a Read when no byte is waiting.
const readPoll = time.Millisecond

type bugstPort struct {
	mu   sync.Mutex
	p    serial.Port
	baud int
}

func openSerial(path string, baud int) (Port, error) {
	p, err := serial.Open(path, serialMode(baud))
	if err != nil {
		return nil, err
	}
	if err := p.SetReadTimeout(readPoll); err != nil {
		_ = p.Close()
		return nil, err
	}
	return &bugstPort{p: p, baud: baud}, nil
}

func serialMode(baud int) *serial.Mode {
	return &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

func (b *bugstPort) Read(buf []byte) (int, error)  { return b.p.Read(buf) }
func (b *bugstPort) Write(buf []byte) (int, error) { return b.p.Write(buf) }
func (b *bugstPort) Flush() error                  { return b.p.ResetInputBuffer() }
func (b *bugstPort) Close() error                  { return b.p.Close() }

func (b *bugstPort) SetBaud(baud int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if baud == b.baud {
		return nil
	}
	_ = b.p.Drain()
	if err := b.p.SetMode(serialMode(baud)); err != nil {
		return err
	}
	b.baud = baud
	return nil
}

func (b *bugstPort) Baud() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.baud
}

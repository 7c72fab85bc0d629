package gps

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// DefaultBaud is the factory rate of most receivers.
const DefaultBaud = 9600

// ErrPortInUse is returned when a second controller tries to own a Handle.
var ErrPortInUse = errors.New("gps: port already owned by another controller")

// Port is a serial channel to the receiver.
//
// Read must not block: it returns (0, nil) when no byte is waiting.
type Port interface {
	io.ReadWriteCloser
	SetBaud(baud int) error
	Baud() int
	// Flush discards any buffered input.
	Flush() error
}

// Handle is exclusive ownership of one Port. A controller acquires it once
// at construction; the serial setup it guards runs at most once per handle.
type Handle struct {
	port  Port
	owned atomic.Bool

	initMu   sync.Mutex
	initDone bool
}

// NewHandle wraps p. A nil p yields a handle for absent hardware.
func NewHandle(p Port) *Handle {
	return &Handle{port: p}
}

// Port returns the wrapped port, or nil when no receiver is present.
func (h *Handle) Port() Port {
	if h == nil {
		return nil
	}
	return h.port
}

func (h *Handle) acquire() error {
	if h == nil {
		return nil
	}
	if !h.owned.CompareAndSwap(false, true) {
		return ErrPortInUse
	}
	return nil
}

func (h *Handle) release() {
	if h != nil {
		h.owned.Store(false)
	}
}

// initialize runs fn until it succeeds once. Later calls return nil without
// running fn again.
func (h *Handle) initialize(fn func(Port) error) error {
	h.initMu.Lock()
	defer h.initMu.Unlock()
	if h.initDone {
		return nil
	}
	if err := fn(h.port); err != nil {
		return err
	}
	h.initDone = true
	return nil
}

// Close closes the underlying port.
func (h *Handle) Close() error {
	if h == nil || h.port == nil {
		return nil
	}
	return h.port.Close()
}

// OpenSerial opens path at baud, auto-detecting a USB/ACM device when path
// is empty.
func OpenSerial(path string, baud int) (Port, string, error) {
	if path == "" {
		path = autoDetectDevice()
		if path == "" {
			return nil, "", errors.New("gps auto-detect failed: no /dev/ttyACM* or /dev/ttyUSB* found")
		}
	}
	if baud == 0 {
		baud = DefaultBaud
	}
	p, err := openSerial(path, baud)
	if err != nil {
		return nil, path, errors.Wrapf(err, "gps open failed device=%s baud=%d", path, baud)
	}
	return p, path, nil
}

func autoDetectDevice() string {
	candidates := []string{}
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyACM%d", i))
	}
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyUSB%d", i))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

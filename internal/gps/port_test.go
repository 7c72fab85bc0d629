package gps

import (
	"bytes"
	"errors"
	"sync"
	"testing"
)

// fakePort is an in-memory Port. reply, when set, is called with each write
// and its result is queued as input.
type fakePort struct {
	mu      sync.Mutex
	in      []byte
	out     bytes.Buffer
	baud    int
	bauds   []int
	flushes int
	closed  bool
	reply   func(written []byte) []byte

	// failWrites makes the next n writes fail.
	failWrites int
}

func newFakePort() *fakePort {
	return &fakePort{baud: DefaultBaud}
}

func (p *fakePort) feed(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.in = append(p.in, b...)
}

func (p *fakePort) written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.out.Bytes()...)
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := copy(b, p.in)
	p.in = p.in[n:]
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWrites > 0 {
		p.failWrites--
		return 0, errors.New("write failed")
	}
	p.out.Write(b)
	if p.reply != nil {
		p.in = append(p.in, p.reply(append([]byte(nil), b...))...)
	}
	return len(b), nil
}

func (p *fakePort) SetBaud(baud int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.baud = baud
	p.bauds = append(p.bauds, baud)
	return nil
}

func (p *fakePort) Baud() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.baud
}

func (p *fakePort) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.in = nil
	p.flushes++
	return nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// fakeLine records every value written to a GPIO line.
type fakeLine struct {
	values []int
	closed bool
}

func (l *fakeLine) SetValue(v int) error {
	l.values = append(l.values, v)
	return nil
}

func (l *fakeLine) Close() error {
	l.closed = true
	return nil
}

func (l *fakeLine) last() int {
	if len(l.values) == 0 {
		return -1
	}
	return l.values[len(l.values)-1]
}

func TestHandle_SingleOwner(t *testing.T) {
	h := NewHandle(newFakePort())
	if err := h.acquire(); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := h.acquire(); !errors.Is(err, ErrPortInUse) {
		t.Fatalf("second acquire err=%v want ErrPortInUse", err)
	}
	h.release()
	if err := h.acquire(); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestHandle_InitializeLatchesOnSuccess(t *testing.T) {
	h := NewHandle(newFakePort())
	calls := 0
	boom := errors.New("boom")
	fn := func(Port) error {
		calls++
		if calls == 1 {
			return boom
		}
		return nil
	}
	if err := h.initialize(fn); !errors.Is(err, boom) {
		t.Fatalf("first call err=%v", err)
	}
	for i := 0; i < 3; i++ {
		if err := h.initialize(fn); err != nil {
			t.Fatalf("call %d err=%v", i, err)
		}
	}
	if calls != 2 {
		t.Fatalf("init ran %d times want 2", calls)
	}
}

func TestPower_Strategies(t *testing.T) {
	en, sb := &fakeLine{}, &fakeLine{}
	p := NewPower(en, sb, nil, PinConfig{})

	if err := p.Set(false, false); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if en.last() != 0 || len(sb.values) != 0 {
		t.Fatalf("full off: en=%v sb=%v", en.values, sb.values)
	}

	if err := p.Set(true, true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if en.last() != 1 || sb.last() != 1 {
		t.Fatalf("standby on: en=%v sb=%v", en.values, sb.values)
	}
	if err := p.Set(false, true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if en.last() != 1 || sb.last() != 0 {
		t.Fatalf("standby off must leave enable on: en=%v sb=%v", en.values, sb.values)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !en.closed || !sb.closed {
		t.Fatalf("lines not closed")
	}
}

func TestPower_StandbyFallsBackToEnable(t *testing.T) {
	en := &fakeLine{}
	p := NewPower(en, nil, nil, PinConfig{EnableActiveLow: true})
	if err := p.Set(false, true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if en.last() != 1 {
		t.Fatalf("active-low enable off should drive 1, got %v", en.values)
	}
}

func TestPower_NilIsNoop(t *testing.T) {
	var p *Power
	if err := p.Set(true, false); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if p.HasReset() || p.HasStandby() {
		t.Fatalf("nil power reports lines")
	}
}

func TestOpenPower_UsesOpenLineFn(t *testing.T) {
	orig := openLineFn
	t.Cleanup(func() { openLineFn = orig })

	opened := map[int]int{}
	openLineFn = func(pin, initial int, consumer string) (Line, error) {
		opened[pin] = initial
		return &fakeLine{}, nil
	}
	p, err := OpenPower(PinConfig{Enable: 5, Standby: 6, Reset: 7, ResetActiveLow: true})
	if err != nil {
		t.Fatalf("OpenPower: %v", err)
	}
	if !p.HasStandby() || !p.HasReset() {
		t.Fatalf("expected standby and reset lines")
	}
	// Enable on, standby awake, reset released (high for active-low).
	if opened[5] != 1 || opened[6] != 1 || opened[7] != 1 {
		t.Fatalf("initial values=%v", opened)
	}
}

func TestOpenPower_ClosesOnError(t *testing.T) {
	orig := openLineFn
	t.Cleanup(func() { openLineFn = orig })

	first := &fakeLine{}
	openLineFn = func(pin, initial int, consumer string) (Line, error) {
		if pin == 5 {
			return first, nil
		}
		return nil, errors.New("busy")
	}
	if _, err := OpenPower(PinConfig{Enable: 5, Standby: 6}); err == nil {
		t.Fatalf("expected error")
	}
	if !first.closed {
		t.Fatalf("enable line leaked")
	}
}

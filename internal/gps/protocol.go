package gps

import (
	"bytes"
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"gnssctl/internal/fix"
	"gnssctl/internal/ubx"
)

// AckOutcome classifies the reply to a command.
type AckOutcome int

const (
	Acknowledged AckOutcome = iota
	NegativeAcknowledged
	TimedOut
	FrameErrorStorm
)

func (o AckOutcome) String() string {
	switch o {
	case Acknowledged:
		return "ack"
	case NegativeAcknowledged:
		return "nak"
	case TimedOut:
		return "timeout"
	case FrameErrorStorm:
		return "frame_errors"
	default:
		return "unknown"
	}
}

// Model is the detected receiver family.
type Model int

const (
	ModelUnknown Model = iota
	ModelMTK
	ModelUBlox
)

func (m Model) String() string {
	switch m {
	case ModelMTK:
		return "mtk"
	case ModelUBlox:
		return "ublox"
	default:
		return "unknown"
	}
}

// Text handshakes, sent verbatim.
const (
	cmdCloseSentences = "$PCAS03,0,0,0,0,0,0,0,0,0,0,,,0,0*02\r\n"
	cmdVersionQuery   = "$PCAS06,0*1B\r\n"
	mtkReadyPrefix    = "$GPTXT,01,01,02,SW="
)

// frameErrors is printed by some receivers when the link runs at the wrong
// rate.
var frameErrors = []byte("More than 100 frame errors")

// textLineMax bounds an AwaitText line without a carriage return.
const textLineMax = 767

const (
	defaultPollInterval = 2 * time.Millisecond
	probeSettle         = 100 * time.Millisecond
	closeSentencesDelay = 20 * time.Millisecond
	versionTimeout      = 500 * time.Millisecond
	rateAckTimeout      = 750 * time.Millisecond
	resetPulse          = 150 * time.Millisecond
)

// Protocol runs command/acknowledgement exchanges on a Port. Every wait is
// bounded by its timeout and by ctx.
type Protocol struct {
	port Port
	clk  clock.Clock
	log  *zap.SugaredLogger

	// PollInterval is how long a wait sleeps when no byte is waiting.
	PollInterval time.Duration

	buf     [64]byte
	pending []byte
}

// NewProtocol returns a Protocol on port.
func NewProtocol(port Port, clk clock.Clock, log *zap.SugaredLogger) *Protocol {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Protocol{port: port, clk: clk, log: log, PollInterval: defaultPollInterval}
}

// errDeadline ends a wait without a match.
var errDeadline = errors.New("deadline reached")

// next returns the next input byte, polling until deadline. The deadline is
// checked before every byte so a stream of unmatched input cannot extend a
// wait.
func (p *Protocol) next(ctx context.Context, deadline time.Time) (byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if !p.clk.Now().Before(deadline) {
			return 0, errDeadline
		}
		if len(p.pending) > 0 {
			break
		}
		n, err := p.port.Read(p.buf[:])
		if err != nil {
			return 0, errors.Wrap(err, "gps read")
		}
		if n > 0 {
			p.pending = p.buf[:n]
			break
		}
		p.clk.Sleep(p.PollInterval)
	}
	b := p.pending[0]
	p.pending = p.pending[1:]
	return b, nil
}

// waitResult maps the error that ended a wait to an outcome.
func waitResult(err error) (AckOutcome, error) {
	if err == errDeadline {
		return TimedOut, nil
	}
	return TimedOut, err
}

// Drain discards everything waiting on the port.
func (p *Protocol) Drain() {
	p.pending = nil
	if err := p.port.Flush(); err != nil {
		p.log.Debugw("gps flush", "err", err)
	}
	for {
		n, err := p.port.Read(p.buf[:])
		if err != nil || n == 0 {
			return
		}
	}
}

func (p *Protocol) write(b []byte) error {
	_, err := p.port.Write(b)
	return errors.Wrap(err, "gps write")
}

// WriteText sends a text command verbatim.
func (p *Protocol) WriteText(s string) error {
	return p.write([]byte(s))
}

// WriteSentence frames payload as an NMEA sentence with checksum and CRLF.
func (p *Protocol) WriteSentence(payload string) error {
	return p.WriteText(fix.Sentence(payload) + "\r\n")
}

// SendCommand drains input, sends a UBX frame and waits for its ACK.
func (p *Protocol) SendCommand(ctx context.Context, class, id byte, payload []byte, timeout time.Duration) (AckOutcome, error) {
	p.Drain()
	if err := p.write(ubx.Encode(class, id, payload)); err != nil {
		return TimedOut, err
	}
	return p.AwaitAck(ctx, class, id, timeout)
}

// AwaitAck matches the ACK-ACK frame for class/id byte by byte. A mismatch
// restarts the match; a zero in the message-id slot of the ACK header is a
// NAK.
func (p *Protocol) AwaitAck(ctx context.Context, class, id byte, timeout time.Duration) (AckOutcome, error) {
	want := ubx.AckFrame(class, id, false)
	deadline := p.clk.Now().Add(timeout)
	idx, storm := 0, 0
	for {
		b, err := p.next(ctx, deadline)
		if err != nil {
			return waitResult(err)
		}

		if b == frameErrors[storm] {
			storm++
			if storm == len(frameErrors) {
				return FrameErrorStorm, nil
			}
		} else {
			storm = 0
		}

		if b == want[idx] {
			idx++
			if idx == len(want) {
				return Acknowledged, nil
			}
			continue
		}
		if idx == 3 && b == ubx.IDNak {
			p.log.Warnw("gps nak", "class", class, "id", id)
			return NegativeAcknowledged, nil
		}
		idx = 0
	}
}

// AwaitText collects carriage-return terminated lines and reports
// Acknowledged when one contains needle.
func (p *Protocol) AwaitText(ctx context.Context, needle string, timeout time.Duration) (AckOutcome, error) {
	deadline := p.clk.Now().Add(timeout)
	line := make([]byte, 0, textLineMax)
	for {
		b, err := p.next(ctx, deadline)
		if err != nil {
			return waitResult(err)
		}
		line = append(line, b)
		if len(line) == textLineMax || b == '\r' {
			if bytes.Contains(line, []byte(needle)) {
				return Acknowledged, nil
			}
			line = line[:0]
		}
	}
}

// ReadPayload waits for a frame of class/id and copies its payload into buf.
// Frames whose payload does not fit buf are skipped. A header mismatch
// restarts the match at zero, except that a sync byte counts as the start of
// a new header.
func (p *Protocol) ReadPayload(ctx context.Context, buf []byte, class, id byte, timeout time.Duration) (int, AckOutcome, error) {
	deadline := p.clk.Now().Add(timeout)
	header := [...]byte{ubx.Sync1, ubx.Sync2, class, id}
	idx := 0
	for {
		b, err := p.next(ctx, deadline)
		if err != nil {
			o, err := waitResult(err)
			return 0, o, err
		}
		if idx < len(header) {
			switch {
			case b == header[idx]:
				idx++
			case b == header[0]:
				idx = 1
			default:
				idx = 0
			}
			continue
		}

		lo := b
		hi, err := p.next(ctx, deadline)
		if err != nil {
			o, err := waitResult(err)
			return 0, o, err
		}
		idx = 0
		need := int(lo) | int(hi)<<8
		if need >= len(buf) {
			continue
		}
		got := 0
		for got < need {
			c, err := p.next(ctx, deadline)
			if err != nil {
				o, err := waitResult(err)
				return 0, o, err
			}
			buf[got] = c
			got++
		}
		return need, Acknowledged, nil
	}
}

// Probe sets baud and identifies the receiver family.
func (p *Protocol) Probe(ctx context.Context, baud int) (Model, error) {
	if p.port.Baud() != baud {
		p.log.Debugw("gps set baud", "baud", baud)
		if err := p.port.SetBaud(baud); err != nil {
			return ModelUnknown, errors.Wrapf(err, "set baud %d", baud)
		}
	}
	p.pending = nil
	if err := sleepCtx(ctx, p.clk, probeSettle); err != nil {
		return ModelUnknown, err
	}

	if err := p.WriteText(cmdCloseSentences); err != nil {
		return ModelUnknown, err
	}
	if err := sleepCtx(ctx, p.clk, closeSentencesDelay); err != nil {
		return ModelUnknown, err
	}

	p.Drain()
	if err := p.WriteText(cmdVersionQuery); err != nil {
		return ModelUnknown, err
	}
	o, err := p.AwaitText(ctx, mtkReadyPrefix, versionTimeout)
	if err != nil {
		return ModelUnknown, err
	}
	if o == Acknowledged {
		p.log.Infow("gps model detected", "model", ModelMTK, "baud", baud)
		return ModelMTK, nil
	}

	o, err = p.SendCommand(ctx, ubx.ClassCFG, ubx.IDRate, nil, rateAckTimeout)
	if err != nil {
		return ModelUnknown, err
	}
	switch o {
	case TimedOut:
		p.log.Warnw("gps probe: no ublox or mtk response", "baud", baud)
		return ModelUnknown, nil
	case FrameErrorStorm:
		p.log.Infow("gps probe: ublox frame errors", "baud", baud)
	default:
		p.log.Infow("gps model detected", "model", ModelUBlox, "baud", baud)
	}
	return ModelUBlox, nil
}

// Detect probes each baud in order and returns the first identified model.
// On failure the port is left at the last rate tried.
func (p *Protocol) Detect(ctx context.Context, bauds []int) (Model, int, error) {
	for _, baud := range bauds {
		m, err := p.Probe(ctx, baud)
		if err != nil {
			return ModelUnknown, baud, err
		}
		if m != ModelUnknown {
			return m, baud, nil
		}
	}
	return ModelUnknown, 0, nil
}

// FactoryReset pulses the reset line when wired, then sends CFG-CFG with
// clear/load masks that restore defaults.
func (p *Protocol) FactoryReset(ctx context.Context, pw *Power, settle time.Duration) error {
	if pw.HasReset() {
		if err := pw.PulseReset(p.clk, resetPulse); err != nil {
			return errors.Wrap(err, "gps reset pulse")
		}
	}
	if err := p.write(ubx.FactoryResetFrame()); err != nil {
		return err
	}
	p.log.Infow("gps factory reset sent")
	if err := sleepCtx(ctx, p.clk, settle); err != nil {
		return err
	}
	p.Drain()
	return nil
}

func sleepCtx(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := clk.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

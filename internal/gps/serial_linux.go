//go:build linux

package gps

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

const writePollMillis = 100

type termiosPort struct {
	mu   sync.Mutex
	fd   int
	path string
	baud int
}

func openSerial(path string, baud int) (Port, error) {
	flag := unix.O_RDWR | unix.O_NOCTTY | unix.O_NONBLOCK
	fd, err := unix.Open(path, flag, 0)
	if err != nil {
		return nil, err
	}

	ok := false
	defer func() {
		if !ok {
			_ = unix.Close(fd)
		}
	}()

	p := &termiosPort{fd: fd, path: path}
	if err := p.configure(baud); err != nil {
		return nil, err
	}
	ok = true
	return p, nil
}

// configure puts the line in raw 8N1 mode at baud. VMIN=0/VTIME=0 makes
// reads return immediately.
func (p *termiosPort) configure(baud int) error {
	spd, err := baudToUnix(baud)
	if err != nil {
		return err
	}
	t, err := unix.IoctlGetTermios(p.fd, unix.TCGETS)
	if err != nil {
		return err
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL

	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 0

	t.Cflag &^= unix.CBAUD
	t.Cflag |= spd
	t.Ispeed = spd
	t.Ospeed = spd

	if err := unix.IoctlSetTermios(p.fd, unix.TCSETS, t); err != nil {
		return err
	}
	p.baud = baud
	return nil
}

func (p *termiosPort) Read(b []byte) (int, error) {
	n, err := unix.Read(p.fd, b)
	if err == unix.EAGAIN || err == unix.EINTR {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if n < 0 {
		n = 0
	}
	return n, nil
}

func (p *termiosPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	written := 0
	for written < len(b) {
		n, err := unix.Write(p.fd, b[written:])
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			if err := p.waitWritable(); err != nil {
				return written, err
			}
			continue
		}
		if err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}

// waitWritable blocks until the output queue has room, at most
// writePollMillis.
func (p *termiosPort) waitWritable() error {
	fds := []unix.PollFd{{Fd: int32(p.fd), Events: unix.POLLOUT}}
	_, err := unix.Poll(fds, writePollMillis)
	if err == unix.EINTR {
		return nil
	}
	return err
}

func (p *termiosPort) SetBaud(baud int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if baud == p.baud {
		return nil
	}
	// Let pending output leave at the old rate.
	_ = unix.IoctlSetInt(p.fd, unix.TCSBRK, 1)
	return p.configure(baud)
}

func (p *termiosPort) Baud() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.baud
}

func (p *termiosPort) Flush() error {
	return unix.IoctlSetInt(p.fd, unix.TCFLSH, unix.TCIFLUSH)
}

func (p *termiosPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fd < 0 {
		return nil
	}
	err := multierr.Append(unix.IoctlSetInt(p.fd, unix.TCFLSH, unix.TCIOFLUSH), unix.Close(p.fd))
	p.fd = -1
	return err
}

func baudToUnix(baud int) (uint32, error) {
	switch baud {
	case 4800:
		return unix.B4800, nil
	case 9600:
		return unix.B9600, nil
	case 19200:
		return unix.B19200, nil
	case 38400:
		return unix.B38400, nil
	case 57600:
		return unix.B57600, nil
	case 115200:
		return unix.B115200, nil
	case 230400:
		return unix.B230400, nil
	default:
		return 0, fmt.Errorf("unsupported baud %d", baud)
	}
}

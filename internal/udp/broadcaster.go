// Package udp sends status datagrams to a fixed destination, typically a
// subnet broadcast address.
package udp

import (
	"net"
	"sync"

	"github.com/pkg/errors"
)

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type resolveFunc func(network, address string) (*net.UDPAddr, error)
type dialFunc func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)

// Broadcaster writes each payload as one datagram. It is safe for
// concurrent use.
type Broadcaster struct {
	dest string

	mu   sync.Mutex
	conn udpConn
	sent uint64
}

// NewBroadcaster resolves dest and connects a UDP socket to it.
func NewBroadcaster(dest string) (*Broadcaster, error) {
	return newBroadcaster(dest, net.ResolveUDPAddr, func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return net.DialUDP(network, laddr, raddr)
	})
}

func newBroadcaster(dest string, resolve resolveFunc, dial dialFunc) (*Broadcaster, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, errors.Wrap(err, "resolve dest")
	}

	// DialUDP selects a suitable local address automatically.
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, errors.Wrap(err, "dial udp")
	}

	return &Broadcaster{dest: dest, conn: conn}, nil
}

// Dest returns the configured destination.
func (b *Broadcaster) Dest() string { return b.dest }

// Send writes payload as one datagram. Empty payloads are skipped.
func (b *Broadcaster) Send(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return errors.New("udp: broadcaster closed")
	}
	if _, err := b.conn.Write(payload); err != nil {
		return errors.Wrapf(err, "udp send to %s", b.dest)
	}
	b.sent++
	return nil
}

// Sent returns the number of datagrams written.
func (b *Broadcaster) Sent() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sent
}

func (b *Broadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}

//go:build linux

package gps

import (
	"bytes"
	"io"
	"os"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestTermiosPort_WriteWaitsWhenFull(t *testing.T) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		t.Fatalf("Pipe2: %v", err)
	}
	r := os.NewFile(uintptr(fds[0]), "pipe-r")
	defer r.Close()
	p := &termiosPort{fd: fds[1], baud: DefaultBaud}
	defer unix.Close(fds[1])

	// Larger than a pipe buffer so the write hits EAGAIN.
	data := bytes.Repeat([]byte("0123456789abcdef"), 64*1024)
	got := make(chan []byte, 1)
	go func() {
		time.Sleep(20 * time.Millisecond)
		b, _ := io.ReadAll(io.LimitReader(r, int64(len(data))))
		got <- b
	}()

	n, err := p.Write(data)
	if err != nil || n != len(data) {
		t.Fatalf("Write n=%d err=%v", n, err)
	}
	select {
	case b := <-got:
		if !bytes.Equal(b, data) {
			t.Fatalf("read %d bytes, mismatch", len(b))
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("reader did not finish")
	}
}

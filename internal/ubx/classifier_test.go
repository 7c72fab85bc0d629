package ubx

import (
	"bytes"
	"testing"
)

func pushAll(c *Classifier, data []byte) []Result {
	out := make([]Result, 0, len(data))
	for _, b := range data {
		out = append(out, c.Push(b))
	}
	return out
}

func TestClassifier_TextFrame(t *testing.T) {
	var c Classifier
	line := []byte("$GPTXT,01,01,02,SW=V2.3*1A\r")
	res := pushAll(&c, line)
	for i, r := range res[:len(res)-1] {
		if r != ContinueText {
			t.Fatalf("byte %d: %v", i, r)
		}
	}
	if res[len(res)-1] != TextComplete {
		t.Fatalf("last=%v want text_complete", res[len(res)-1])
	}
	if !bytes.Equal(c.Frame(), line) {
		t.Fatalf("frame=%q", c.Frame())
	}
	// Next byte starts a fresh frame.
	if r := c.Push('\n'); r != ContinueText {
		t.Fatalf("after complete: %v", r)
	}
	if c.Frame() != nil {
		t.Fatalf("expected no frame while accumulating")
	}
}

func TestClassifier_BinaryFrame(t *testing.T) {
	var c Classifier
	f := AckFrame(0x06, 0x08, false)
	res := pushAll(&c, f)
	for i, r := range res[:len(res)-1] {
		if r != ContinueBinary {
			t.Fatalf("byte %d: %v", i, r)
		}
	}
	if res[len(res)-1] != BinaryComplete {
		t.Fatalf("last=%v", res[len(res)-1])
	}
	if !bytes.Equal(c.Frame(), f) {
		t.Fatalf("frame=% X", c.Frame())
	}
}

func TestClassifier_EmptyPayloadFrame(t *testing.T) {
	var c Classifier
	res := pushAll(&c, RatePollFrame())
	if res[len(res)-1] != BinaryComplete {
		t.Fatalf("last=%v", res[len(res)-1])
	}
}

func TestClassifier_BadChecksumResyncs(t *testing.T) {
	var c Classifier
	f := AckFrame(0x06, 0x08, false)
	f[len(f)-1] ^= 0x01
	res := pushAll(&c, f)
	if res[len(res)-1] != Resync {
		t.Fatalf("last=%v want resync", res[len(res)-1])
	}
	if c.Resyncs() != 1 {
		t.Fatalf("resyncs=%d", c.Resyncs())
	}
}

func TestClassifier_BadSecondSyncResyncs(t *testing.T) {
	var c Classifier
	if r := c.Push(Sync1); r != ContinueBinary {
		t.Fatalf("first=%v", r)
	}
	if r := c.Push('$'); r != Resync {
		t.Fatalf("second=%v", r)
	}
	if r := c.Push('$'); r != ContinueText {
		t.Fatalf("third=%v", r)
	}
}

func TestClassifier_OversizeLengthResyncs(t *testing.T) {
	var c Classifier
	res := pushAll(&c, []byte{Sync1, Sync2, 0x0A, 0x04, 0xFF, 0x01})
	if res[len(res)-1] != Resync {
		t.Fatalf("last=%v want resync", res[len(res)-1])
	}
}

func TestClassifier_TextOverflowResyncs(t *testing.T) {
	var c Classifier
	res := pushAll(&c, bytes.Repeat([]byte{'A'}, MaxFrame))
	if res[len(res)-1] != Resync {
		t.Fatalf("last=%v want resync", res[len(res)-1])
	}
}

func TestClassifier_BinaryInterruptsText(t *testing.T) {
	var c Classifier
	pushAll(&c, []byte("$GPGGA,partial"))
	f := AckFrame(0x06, 0x09, false)
	res := pushAll(&c, f)
	if res[len(res)-1] != BinaryComplete {
		t.Fatalf("last=%v", res[len(res)-1])
	}
}

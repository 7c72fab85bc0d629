package ubx

import (
	"bytes"
	"testing"
)

func TestFactoryResetFrame_WireExact(t *testing.T) {
	want := []byte{
		0xB5, 0x62, 0x06, 0x09, 0x0D, 0x00,
		0xFF, 0xFB, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xFF, 0xFF, 0x00, 0x00, 0x17,
		0x2B, 0x7E,
	}
	got := FactoryResetFrame()
	if len(got) != 21 {
		t.Fatalf("len=%d want 21", len(got))
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("frame=% X\nwant  % X", got, want)
	}
}

func TestRatePollFrame(t *testing.T) {
	want := []byte{0xB5, 0x62, 0x06, 0x08, 0x00, 0x00, 0x0E, 0x30}
	if got := RatePollFrame(); !bytes.Equal(got, want) {
		t.Fatalf("frame=% X want % X", got, want)
	}
}

func TestAckFrame(t *testing.T) {
	ack := AckFrame(0x06, 0x08, false)
	want := []byte{0xB5, 0x62, 0x05, 0x01, 0x02, 0x00, 0x06, 0x08, 0x16, 0x3F}
	if !bytes.Equal(ack, want) {
		t.Fatalf("ack=% X want % X", ack, want)
	}
	nak := AckFrame(0x06, 0x08, true)
	if nak[3] != IDNak || !Verify(nak) {
		t.Fatalf("bad nak % X", nak)
	}
}

func TestVerify_AcceptsEncoded(t *testing.T) {
	payloads := [][]byte{
		nil,
		{0x00},
		{0x01, 0x02, 0x03},
		bytes.Repeat([]byte{0xA5}, 200),
	}
	for _, p := range payloads {
		f := Encode(0x0A, 0x04, p)
		if !Verify(f) {
			t.Fatalf("Verify rejected encoded frame len=%d", len(p))
		}
		if !bytes.Equal(Payload(f), p) && len(p) > 0 {
			t.Fatalf("payload mismatch")
		}
	}
}

func TestVerify_RejectsSingleBitCorruption(t *testing.T) {
	f := Encode(0x06, 0x31, []byte{0x00, 0x01, 0x00, 0x00, 0x32, 0x00, 0x00, 0x00, 0x40, 0x42, 0x0F, 0x00})
	// Every bit from the payload through the checksum bytes.
	for i := HeaderLen; i < len(f); i++ {
		for bit := 0; bit < 8; bit++ {
			c := append([]byte(nil), f...)
			c[i] ^= 1 << bit
			if Verify(c) {
				t.Fatalf("corruption at byte %d bit %d accepted", i, bit)
			}
		}
	}
}

func TestVerify_RejectsBadLength(t *testing.T) {
	f := Encode(0x06, 0x08, []byte{1, 2})
	if Verify(f[:len(f)-1]) {
		t.Fatalf("expected truncated frame rejected")
	}
	if Verify([]byte{0xB5}) {
		t.Fatalf("expected short frame rejected")
	}
}

func TestChecksum_AccumulatorOrder(t *testing.T) {
	// CK_B accumulates CK_A after the add, not before.
	a, b := Checksum([]byte{0x01, 0x02})
	if a != 0x03 || b != 0x04 {
		t.Fatalf("ck=%02X %02X want 03 04", a, b)
	}
}

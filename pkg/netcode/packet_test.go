package netcode

import (
	"bytes"
	"testing"
)

func TestConnectionRequestRoundTrip(t *testing.T) {
	var priv [ConnectTokenBytes]byte
	copy(priv[:], bytes.Repeat([]byte{0x7E}, ConnectTokenBytes))

	b := encodeConnectionRequest(0xC0FFEE, 1234567890, 7, &priv)

	p, err := decode(b, 0xC0FFEE, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Type != PacketConnectionRequest {
		t.Fatalf("type = %v, want ConnectionRequest", p.Type)
	}
	if p.ProtocolID != 0xC0FFEE {
		t.Errorf("protocol id = %#x", p.ProtocolID)
	}
	if p.TokenExpire != 1234567890 {
		t.Errorf("token expire = %d", p.TokenExpire)
	}
	if p.Sequence != 7 {
		t.Errorf("sequence = %d", p.Sequence)
	}
	if !bytes.Equal(p.PrivateData[:], priv[:]) {
		t.Error("private data mismatch")
	}
}

func TestDecodeSealedRoundTrip(t *testing.T) {
	var key [KeyBytes]byte
	copy(key[:], bytes.Repeat([]byte{0x33}, KeyBytes))

	b, err := encodeSealed(42, PacketKeepAlive, 9, &key, encodeKeepAlivePlaintext(3, 16))
	if err != nil {
		t.Fatalf("encodeSealed: %v", err)
	}

	p, err := decode(b, 42, &key)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Type != PacketKeepAlive {
		t.Fatalf("type = %v, want KeepAlive", p.Type)
	}
	if p.SlotIndex != 3 || p.Capacity != 16 {
		t.Errorf("slot=%d capacity=%d, want 3,16", p.SlotIndex, p.Capacity)
	}
}

func TestDecodeSealedWrongKeyFails(t *testing.T) {
	var key, wrongKey [KeyBytes]byte
	copy(key[:], bytes.Repeat([]byte{0x33}, KeyBytes))
	copy(wrongKey[:], bytes.Repeat([]byte{0x34}, KeyBytes))

	b, err := encodeSealed(42, PacketKeepAlive, 9, &key, encodeKeepAlivePlaintext(3, 16))
	if err != nil {
		t.Fatalf("encodeSealed: %v", err)
	}
	if _, err := decode(b, 42, &wrongKey); err == nil {
		t.Fatal("decode with wrong key should fail")
	}
}

func TestSeqByteLen(t *testing.T) {
	cases := []struct {
		seq  uint64
		want int
	}{
		{0, 1},
		{0xFF, 1},
		{0x100, 2},
		{0xFFFF, 2},
		{0x10000, 3},
		{1 << 56, 8},
	}
	for _, c := range cases {
		if got := seqByteLen(c.seq); got != c.want {
			t.Errorf("seqByteLen(%#x) = %d, want %d", c.seq, got, c.want)
		}
	}
}

func TestSeqBytesRoundTrip(t *testing.T) {
	for _, seq := range []uint64{0, 1, 0xFF, 0x1234, 0xDEADBEEF, 0x0102030405060708} {
		n := seqByteLen(seq)
		buf := make([]byte, n)
		putSeqBytes(buf, seq, n)
		if got := getSeqBytes(buf); got != seq {
			t.Errorf("round trip %#x through %d bytes = %#x", seq, n, got)
		}
	}
}

func FuzzDecode(f *testing.F) {
	var key [KeyBytes]byte
	copy(key[:], bytes.Repeat([]byte{0x55}, KeyBytes))

	var priv [ConnectTokenBytes]byte
	f.Add(encodeConnectionRequest(1, 100, 1, &priv))

	if b, err := encodeSealed(1, PacketKeepAlive, 1, &key, encodeKeepAlivePlaintext(0, 8)); err == nil {
		f.Add(b)
	}
	if b, err := encodeSealed(1, PacketPayload, 1, &key, []byte("hello")); err == nil {
		f.Add(b)
	}
	f.Add([]byte{})
	f.Add([]byte{0x00})
	f.Add(bytes.Repeat([]byte{0xAA}, 64))

	f.Fuzz(func(_ *testing.T, pkt []byte) {
		// ensure this doesn't panic, regardless of whether it decodes
		decode(pkt, 1, &key)
	})
}

package rdp

import (
	"bytes"
	"testing"
)

func TestFixedHeaderRoundTrip(t *testing.T) {
	in := FixedHeader{
		Flags:  FlagACK | FlagEACK,
		HLen:   fixedHeaderSize / 2,
		Src:    100,
		Dst:    200,
		Dlen:   1400,
		Seq:    1001,
		Ack:    5000,
		TTL:    2500,
		LCS:    4999,
		AckNxt: 1001,
		SOM:    1001,
		FCnt:   3,
	}
	buf := make([]byte, fixedHeaderSize)
	EncodeFixed(buf, &in)
	if buf[0]&byte(versionMask) != byte(version1) {
		t.Fatalf("version bits not written: %#x", buf[0])
	}
	out, err := DecodeFixed(buf)
	if err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", out, in)
	}
}

func TestDecodeFixedRejects(t *testing.T) {
	var h FixedHeader
	h.HLen = fixedHeaderSize / 2
	buf := make([]byte, fixedHeaderSize)
	EncodeFixed(buf, &h)

	if _, err := DecodeFixed(buf[:10]); err == nil {
		t.Error("short buffer accepted")
	}

	bad := append([]byte(nil), buf...)
	bad[0] &^= byte(versionMask) // version 0
	if _, err := DecodeFixed(bad); err != ErrVersionNotSupported {
		t.Errorf("wrong version: got %v, want ErrVersionNotSupported", err)
	}

	bad = append([]byte(nil), buf...)
	bad[1] = 4 // hlen*2 = 8 < 36
	if _, err := DecodeFixed(bad); err == nil {
		t.Error("undersized hlen accepted")
	}
}

func TestSynHeaderRoundTrip(t *testing.T) {
	in := SynHeader{
		Flags:   FlagSYN | FlagACK,
		HLen:    synHeaderSize / 2,
		Src:     7,
		Dst:     9,
		Dlen:    2,
		Seq:     5000,
		Ack:     1000,
		SegMax:  32,
		SegBMax: 1500,
		DACKT:   100,
	}
	buf := make([]byte, synHeaderSize)
	EncodeSyn(buf, &in)
	out, err := DecodeSyn(buf)
	if err != nil {
		t.Fatal(err)
	}
	// The encoder forces the SDM option bit on.
	if out.Options&optSDM == 0 {
		t.Error("SDM option not set by encoder")
	}
	out.Options = 0
	if out != in {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", out, in)
	}
}

func TestDecodeSynRejects(t *testing.T) {
	in := SynHeader{Flags: FlagSYN, HLen: synHeaderSize / 2, Seq: 1}
	buf := make([]byte, synHeaderSize)
	EncodeSyn(buf, &in)

	bad := append([]byte(nil), buf...)
	bad[0] &^= byte(versionMask)
	if _, err := DecodeSyn(bad); err != ErrVersionNotSupported {
		t.Errorf("wrong version: got %v", err)
	}

	bad = append([]byte(nil), buf...)
	bad[24], bad[25] = 0, 0 // clear options, dropping SDM
	if _, err := DecodeSyn(bad); err == nil {
		t.Error("missing SDM option accepted")
	}
}

func TestEackMaskBits(t *testing.T) {
	m := NewEackMask(64)
	if m.Size() != 2 {
		t.Fatalf("mask size = %d, want 2 words", m.Size())
	}
	m.Set(0)
	m.Set(33)
	if !m.Test(0) || !m.Test(33) || m.Test(1) {
		t.Fatal("set/test mismatch")
	}
	// Bit 0 is the MSB of the first word on the wire.
	b := m.Bytes()
	if b[0]&0x80 == 0 {
		t.Error("bit 0 not MSB of first word")
	}
	m.Clear(0)
	if m.Test(0) {
		t.Error("clear did not clear")
	}
}

func TestEackMaskShiftCrossesWords(t *testing.T) {
	m := NewEackMask(64)
	m.Set(32) // first bit of second word
	m.ShiftLeft(1)
	if !m.Test(31) || m.Test(32) {
		t.Error("shift did not carry across word boundary")
	}
	m.ShiftLeft(31)
	if !m.Test(0) {
		t.Error("bit did not reach position 0")
	}
	m.ShiftLeft(1)
	for i := 0; i < 64; i++ {
		if m.Test(i) {
			t.Fatalf("bit %d survived shifting out", i)
		}
	}
}

func TestEackMaskWireRoundTrip(t *testing.T) {
	m := NewEackMask(32)
	m.Set(0)
	m.Set(5)
	got, err := DecodeEackMask(m.Bytes(), m.Size())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Bytes(), m.Bytes()) {
		t.Error("wire round trip mismatch")
	}
	if _, err := DecodeEackMask([]byte{1, 2}, 1); err == nil {
		t.Error("short mask accepted")
	}
}

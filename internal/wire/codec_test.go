// Copyright (c) 2021 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

package wire

import (
	"bytes"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	r := NewRecord(TypeWriteBlock)
	r.SetUint64(FieldBlock, 42)
	r.SetUint64(FieldRequestID, 17)
	r.SetBytes(FieldData, []byte("AB"))
	r.SetString(FieldBucket, "bucket-1")

	b, err := Encode(r)
	if err != nil {
		t.Fatalf("encode failed: %s", err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("decode failed: %s", err)
	}
	if !got.Equal(r) {
		t.Fatalf("round trip mismatch: sent %#v got %#v", r, got)
	}
	if got.Type() != TypeWriteBlock {
		t.Errorf("wrong type after round trip: %q", got.Type())
	}
}

func TestRoundTripEdgeValues(t *testing.T) {
	r := NewRecord(TypeEndTxg)
	r.SetUint64(FieldTxg, 0)
	r.SetUint64(FieldGUID, ^uint64(0))
	r.SetBytes(FieldData, []byte{})
	r.SetString(FieldName, "")

	b, err := Encode(r)
	if err != nil {
		t.Fatalf("encode failed: %s", err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("decode failed: %s", err)
	}
	if !got.Equal(r) {
		t.Fatalf("round trip mismatch: sent %#v got %#v", r, got)
	}
	if u, ok := got.Uint64(FieldGUID); !ok || u != ^uint64(0) {
		t.Errorf("max uint64 didn't survive: %d %v", u, ok)
	}
}

func TestFreeBlockRoundTrip(t *testing.T) {
	r := NewRecord(TypeFreeBlock)
	r.SetUint64(FieldBlock, 1234)
	r.SetUint64(FieldSize, 8)

	b, err := Encode(r)
	if err != nil {
		t.Fatalf("encode failed: %s", err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("decode failed: %s", err)
	}
	if blk, ok := got.Uint64(FieldBlock); !ok || blk != 1234 {
		t.Errorf("block: got %d %v, want 1234", blk, ok)
	}
	if size, ok := got.Uint64(FieldSize); !ok || size != 8 {
		t.Errorf("size: got %d %v, want 8", size, ok)
	}
}

func TestFieldTypesDontAlias(t *testing.T) {
	r := NewRecord(TypeReadDone)
	r.SetUint64(FieldBlock, 7)

	if _, ok := r.String(FieldBlock); ok {
		t.Errorf("uint64 field readable as string")
	}
	if _, ok := r.Bytes(FieldBlock); ok {
		t.Errorf("uint64 field readable as bytes")
	}
	if _, ok := r.Uint64("no such field"); ok {
		t.Errorf("missing field readable")
	}
}

func TestCanonicalEncoding(t *testing.T) {
	a := NewRecord(TypeReadBlock)
	a.SetUint64(FieldSize, 512)
	a.SetUint64(FieldBlock, 9)

	b := NewRecord(TypeReadBlock)
	b.SetUint64(FieldBlock, 9)
	b.SetUint64(FieldSize, 512)

	ea, err := Encode(a)
	if err != nil {
		t.Fatalf("encode failed: %s", err)
	}
	eb, err := Encode(b)
	if err != nil {
		t.Fatalf("encode failed: %s", err)
	}
	if !bytes.Equal(ea, eb) {
		t.Errorf("insertion order leaked into the encoding")
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := [][]byte{
		nil,
		{0xc1},             // reserved msgpack code
		{0x91, 0x01},       // an array, not a map
		{0x81, 0xa1, 0x61}, // map with a key but no value
	}
	for _, b := range cases {
		if _, err := Decode(b); err == nil {
			t.Errorf("decode of %x succeeded, want error", b)
		}
	}

	// Truncation of a valid encoding must be an error, never silent.
	r := NewRecord(TypeWriteBlock)
	r.SetBytes(FieldData, make([]byte, 100))
	enc, err := Encode(r)
	if err != nil {
		t.Fatalf("encode failed: %s", err)
	}
	if _, err := Decode(enc[:len(enc)-10]); err == nil {
		t.Errorf("decode of truncated record succeeded")
	}
	if _, err := Decode(append(enc, 0x00)); err == nil {
		t.Errorf("decode with trailing bytes succeeded")
	}
}

func TestFrame(t *testing.T) {
	r := NewRecord(TypeBeginTxg)
	r.SetUint64(FieldTxg, 5)

	frame, err := EncodeFrame(r)
	if err != nil {
		t.Fatalf("encode failed: %s", err)
	}
	payload, err := Encode(r)
	if err != nil {
		t.Fatalf("encode failed: %s", err)
	}
	if FrameLen(frame[:FrameHeaderSize]) != uint64(len(payload)) {
		t.Fatalf("prefix says %d bytes, payload is %d",
			FrameLen(frame[:FrameHeaderSize]), len(payload))
	}
	if !bytes.Equal(frame[FrameHeaderSize:], payload) {
		t.Errorf("frame body differs from encoded record")
	}
}

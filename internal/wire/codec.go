// Copyright (c) 2021 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT
//
// Records travel as msgpack maps: field names are msgpack strings, field
// values are msgpack strings, uint64s or bins, matching the three field kinds
// one to one. Encoding is canonical (sorted keys, fixed-width integers) so
// decode(encode(r)) == r and equal records produce equal bytes.
//
// On the socket each record is preceded by an 8-byte little-endian length of
// the encoded bytes that follow. The framing never splits or coalesces a
// record.

package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// FrameHeaderSize is the size of the length prefix preceding every record.
const FrameHeaderSize = 8

// Encode serializes a record. The full record is materialized; there is no
// streaming.
func Encode(r Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeMapLen(r.Len()); err != nil {
		return nil, err
	}
	for _, k := range r.Keys() {
		if err := enc.EncodeString(k); err != nil {
			return nil, err
		}
		v := r.fields[k]
		var err error
		switch v.kind {
		case KindString:
			err = enc.EncodeString(v.s)
		case KindUint64:
			err = enc.EncodeUint64(v.u)
		case KindBytes:
			err = enc.EncodeBytes(v.b)
		}
		if err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Decode is the exact inverse of Encode. Any malformed input returns an
// error; truncation is never silent.
func Decode(b []byte) (Record, error) {
	rd := bytes.NewReader(b)
	dec := msgpack.NewDecoder(rd)

	n, err := dec.DecodeMapLen()
	if err != nil {
		return Record{}, fmt.Errorf("record is not a map: %v", err)
	}
	r := Record{fields: make(map[string]value, n)}
	for i := 0; i < n; i++ {
		key, err := dec.DecodeString()
		if err != nil {
			return Record{}, fmt.Errorf("bad field name: %v", err)
		}
		c, err := dec.PeekCode()
		if err != nil {
			return Record{}, fmt.Errorf("truncated field %q: %v", key, err)
		}
		switch {
		case msgpcode.IsString(c) || msgpcode.IsFixedString(c):
			s, err := dec.DecodeString()
			if err != nil {
				return Record{}, fmt.Errorf("bad string field %q: %v", key, err)
			}
			r.SetString(key, s)
		case msgpcode.IsBin(c):
			data, err := dec.DecodeBytes()
			if err != nil {
				return Record{}, fmt.Errorf("bad bytes field %q: %v", key, err)
			}
			r.SetBytes(key, data)
		default:
			u, err := dec.DecodeUint64()
			if err != nil {
				return Record{}, fmt.Errorf("bad uint64 field %q: %v", key, err)
			}
			r.SetUint64(key, u)
		}
	}
	if rd.Len() != 0 {
		return Record{}, fmt.Errorf("%d trailing bytes after record", rd.Len())
	}
	return r, nil
}

// EncodeFrame serializes a record and prepends the length prefix, yielding
// the exact bytes to put on the socket.
func EncodeFrame(r Record) ([]byte, error) {
	payload, err := Encode(r)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, FrameHeaderSize+len(payload))
	binary.LittleEndian.PutUint64(frame, uint64(len(payload)))
	copy(frame[FrameHeaderSize:], payload)
	return frame, nil
}

// FrameLen extracts the payload length from a frame header.
func FrameLen(hdr []byte) uint64 {
	return binary.LittleEndian.Uint64(hdr)
}

// Copyright (c) 2021 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT
//
// A Record is a set of named, typed fields -- the unit of conversation with
// the agent. Every record carries a string "Type" field naming the operation
// or completion it describes; the remaining fields depend on the type.

package wire

import (
	"bytes"
	"fmt"
	"sort"
)

// Kind identifies the type of a record field.
type Kind int

// The three field types the protocol uses.
const (
	KindString Kind = iota
	KindUint64
	KindBytes
)

type value struct {
	kind Kind
	s    string
	u    uint64
	b    []byte
}

// Record is a mapping from field name to a string, uint64 or byte-array
// value. The zero Record is not usable; construct with NewRecord.
//
// Record is not thread-safe; build it fully before handing it to a sender.
type Record struct {
	fields map[string]value
}

// NewRecord returns a record with its type field already set.
func NewRecord(typ string) Record {
	r := Record{fields: make(map[string]value)}
	r.SetString(FieldType, typ)
	return r
}

// Type returns the record's type discriminant, or "" if it has none.
func (r Record) Type() string {
	s, _ := r.String(FieldType)
	return s
}

// SetString sets a string field, replacing any previous value under the name.
func (r Record) SetString(name, v string) {
	r.fields[name] = value{kind: KindString, s: v}
}

// SetUint64 sets a 64-bit unsigned integer field.
func (r Record) SetUint64(name string, v uint64) {
	r.fields[name] = value{kind: KindUint64, u: v}
}

// SetBytes sets a byte-array field. The record keeps a reference to b, not a
// copy; the caller must not mutate it until the record has been encoded.
func (r Record) SetBytes(name string, b []byte) {
	r.fields[name] = value{kind: KindBytes, b: b}
}

// String returns the named string field.
func (r Record) String(name string) (string, bool) {
	v, ok := r.fields[name]
	if !ok || v.kind != KindString {
		return "", false
	}
	return v.s, true
}

// Uint64 returns the named integer field.
func (r Record) Uint64(name string) (uint64, bool) {
	v, ok := r.fields[name]
	if !ok || v.kind != KindUint64 {
		return 0, false
	}
	return v.u, true
}

// Bytes returns the named byte-array field.
func (r Record) Bytes(name string) ([]byte, bool) {
	v, ok := r.fields[name]
	if !ok || v.kind != KindBytes {
		return nil, false
	}
	return v.b, true
}

// Len returns the number of fields in the record.
func (r Record) Len() int {
	return len(r.fields)
}

// Keys returns the field names in sorted order. Encode iterates in this order
// so that equal records always serialize to equal bytes.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r.fields))
	for k := range r.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal reports whether two records have exactly the same fields with the
// same types and values.
func (r Record) Equal(o Record) bool {
	if len(r.fields) != len(o.fields) {
		return false
	}
	for k, v := range r.fields {
		w, ok := o.fields[k]
		if !ok || v.kind != w.kind {
			return false
		}
		switch v.kind {
		case KindString:
			if v.s != w.s {
				return false
			}
		case KindUint64:
			if v.u != w.u {
				return false
			}
		case KindBytes:
			if !bytes.Equal(v.b, w.b) {
				return false
			}
		}
	}
	return true
}

// GoString gives a readable dump for debug logging.
func (r Record) GoString() string {
	var buf bytes.Buffer
	buf.WriteString("{")
	for i, k := range r.Keys() {
		if i > 0 {
			buf.WriteString(" ")
		}
		v := r.fields[k]
		switch v.kind {
		case KindString:
			fmt.Fprintf(&buf, "%s=%q", k, v.s)
		case KindUint64:
			fmt.Fprintf(&buf, "%s=%d", k, v.u)
		case KindBytes:
			fmt.Fprintf(&buf, "%s=[%d bytes]", k, len(v.b))
		}
	}
	buf.WriteString("}")
	return buf.String()
}

// Copyright (c) 2021 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

package vdev

import (
	"fmt"
	"time"

	"github.com/westerndigitalcorporation/agentdisk/internal/core"
	"github.com/westerndigitalcorporation/agentdisk/internal/stats"
	"github.com/westerndigitalcorporation/agentdisk/internal/wire"
)

// RequestType says what a request asks the device to do.
type RequestType int

// Possible request types.
const (
	ReqRead RequestType = iota
	ReqWrite
	ReqFlush
	ReqTrim
)

func (t RequestType) String() string {
	switch t {
	case ReqRead:
		return "read"
	case ReqWrite:
		return "write"
	case ReqFlush:
		return "flush"
	case ReqTrim:
		return "trim"
	}
	return "unknown"
}

// Request is one I/O submitted to the device. Completion is asynchronous:
// Submit returns once the request is on the wire (or rejected), and the
// result arrives via Wait when the agent's reply is routed back.
type Request struct {
	// What to do.
	Type RequestType

	// Byte offset on the device. Must be 512-byte aligned.
	Offset uint64

	// Byte length of the transfer.
	Size uint64

	// For reads, filled in on completion. For writes, the source; the device
	// takes a private copy before serializing, so the caller may reuse the
	// buffer as soon as Submit returns.
	Buf []byte

	// Scheduling class, used for the per-class active statistics.
	Priority core.Priority

	// Marks when the request was submitted.
	enqueueTime time.Time

	// Slot index in the outstanding table while in flight, -1 otherwise.
	// Checked against the completion's slot to catch cross-wiring.
	slot int

	op  *stats.Op
	err core.Error

	// Closed exactly once when the request finishes.
	done chan struct{}
}

func newRequest(t RequestType, offset uint64, buf []byte, pri core.Priority) *Request {
	return &Request{
		Type:        t,
		Offset:      offset,
		Size:        uint64(len(buf)),
		Buf:         buf,
		Priority:    pri,
		enqueueTime: time.Now(),
		slot:        -1,
		done:        make(chan struct{}),
	}
}

// NewReadRequest builds a read of len(buf) bytes at the given byte offset.
func NewReadRequest(offset uint64, buf []byte, pri core.Priority) *Request {
	return newRequest(ReqRead, offset, buf, pri)
}

// NewWriteRequest builds a write of the given data at the given byte offset.
func NewWriteRequest(offset uint64, data []byte, pri core.Priority) *Request {
	return newRequest(ReqWrite, offset, data, pri)
}

// NewFlushRequest builds a cache-flush request.
func NewFlushRequest() *Request {
	return newRequest(ReqFlush, 0, nil, core.HighPri)
}

// NewTrimRequest builds a trim/discard request. The device always rejects
// these with ErrNotSupported.
func NewTrimRequest(offset, size uint64) *Request {
	r := newRequest(ReqTrim, offset, nil, core.LowPri)
	r.Size = size
	return r
}

// Wait blocks until the request finishes and returns its result.
func (r *Request) Wait() core.Error {
	<-r.done
	return r.err
}

// Done exposes the completion channel for select-based callers.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Err returns the result after the request has finished.
func (r *Request) Err() core.Error {
	return r.err
}

// finish resolves the request. Must be called exactly once.
func (r *Request) finish(err core.Error) {
	r.err = err
	if r.op != nil {
		r.op.EndWithError(&err)
	}
	close(r.done)
}

// blockID maps the byte offset to the protocol's 512-byte block index.
func (r *Request) blockID() uint64 {
	return r.Offset >> wire.BlockShift
}

func (r *Request) String() string {
	switch r.Type {
	case ReqRead, ReqWrite:
		return fmt.Sprintf("%s block=%d len=%d pri=%s", r.Type, r.blockID(), r.Size, r.Priority)
	case ReqTrim:
		return fmt.Sprintf("trim off=%d len=%d", r.Offset, r.Size)
	}
	return r.Type.String()
}

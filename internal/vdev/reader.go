// Copyright (c) 2021 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT
//
// The response reader. One goroutine per session; it is the only reader of
// the socket and never sends. It demultiplexes agent responses to the request
// table (block I/O) or the serial latch (lifecycle operations), and dies --
// faulting the session -- the moment the stream stops making sense.

package vdev

import (
	log "github.com/golang/glog"

	"github.com/westerndigitalcorporation/agentdisk/internal/core"
	"github.com/westerndigitalcorporation/agentdisk/internal/wire"
)

func (d *Device) readLoop() {
	log.V(1).Infof("vdev: agent reader running")
	for {
		rec, err := d.session.readRecord()
		if err != core.NoError {
			if err == core.ErrClosed {
				log.V(1).Infof("vdev: agent reader exiting, session closed")
			} else {
				log.Errorf("vdev: agent reader exiting: %s", err)
			}
			d.teardown(err)
			return
		}
		if err := d.dispatch(rec); err != core.NoError {
			log.Errorf("vdev: agent reader halting on fatal response: %s", err)
			d.session.fail(err)
			d.teardown(err)
			return
		}
	}
}

// teardown releases everyone blocked on the dead session: lifecycle waiters
// on the latch and block I/O waiters in the request table.
func (d *Device) teardown(err core.Error) {
	d.serial.abort(err)
	d.table.drain(err)
}

func (d *Device) dispatch(rec wire.Record) core.Error {
	typ := rec.Type()
	log.V(2).Infof("vdev: got response from agent type=%q", typ)

	switch typ {
	case wire.TypePoolCreateDone, wire.TypeEndTxgDone:
		return d.serial.signal()
	case wire.TypePoolOpenDone:
		return d.poolOpenDone(rec)
	case wire.TypeReadDone:
		return d.readDone(rec)
	case wire.TypeWriteDone:
		return d.writeDone(rec)
	}

	// The protocol is evolvable; unrecognized responses are dropped, not
	// treated as parse errors.
	log.Warningf("vdev: ignoring unrecognized agent response type %q", typ)
	return core.NoError
}

// poolOpenDone publishes the pool metadata snapshot (allocation cursor and,
// if present, the last committed uberblock) before releasing the waiting
// open.
func (d *Device) poolOpenDone(rec wire.Record) core.Error {
	var ub []byte
	if arr, ok := rec.Bytes(wire.FieldUberblock); ok {
		if len(arr) != wire.UberblockSize {
			log.Errorf("vdev: pool open done carries %d-byte uberblock, want %d",
				len(arr), wire.UberblockSize)
			return core.ErrConsistency
		}
		ub = make([]byte, len(arr))
		copy(ub, arr)
	}
	next, ok := rec.Uint64(wire.FieldNextBlock)
	if !ok {
		log.Errorf("vdev: pool open done missing next_block")
		return core.ErrProtocol
	}

	d.metaLock.Lock()
	if ub != nil {
		d.uberblock = ub
	}
	d.nextBlock = next
	d.metaLock.Unlock()

	log.Infof("vdev: pool open done, next_block=%d uberblock=%v", next, ub != nil)
	return d.serial.signal()
}

// completionRequest resolves the echoed request id back to the in-flight
// request and validates the echoed block id against it.
func (d *Device) completionRequest(rec wire.Record) (*Request, core.Error) {
	id, ok := rec.Uint64(wire.FieldRequestID)
	if !ok {
		log.Errorf("vdev: %q response missing request_id", rec.Type())
		return nil, core.ErrProtocol
	}
	r, err := d.table.complete(int(id))
	if err != core.NoError {
		return nil, err
	}
	blk, ok := rec.Uint64(wire.FieldBlock)
	if !ok || blk != r.blockID() {
		log.Errorf("vdev: request %d is for block %d but agent answered for block %d",
			id, r.blockID(), blk)
		r.finish(core.ErrConsistency)
		return nil, core.ErrConsistency
	}
	return r, core.NoError
}

func (d *Device) readDone(rec wire.Record) core.Error {
	r, err := d.completionRequest(rec)
	if err != core.NoError {
		return err
	}
	data, ok := rec.Bytes(wire.FieldData)
	if !ok {
		log.Errorf("vdev: read done for block %d missing data", r.blockID())
		r.finish(core.ErrProtocol)
		return core.ErrProtocol
	}
	if uint64(len(data)) != r.Size {
		log.Errorf("vdev: read done for block %d returned %d bytes, want %d",
			r.blockID(), len(data), r.Size)
		r.finish(core.ErrConsistency)
		return core.ErrConsistency
	}
	// The caller's buffer is only mutated here, after the completion has
	// been matched and validated.
	copy(r.Buf, data)
	r.finish(core.NoError)
	return core.NoError
}

func (d *Device) writeDone(rec wire.Record) core.Error {
	r, err := d.completionRequest(rec)
	if err != core.NoError {
		return err
	}
	r.finish(core.NoError)
	return core.NoError
}

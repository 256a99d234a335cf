// Copyright (c) 2021 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

package vdev

import (
	log "github.com/golang/glog"

	"github.com/westerndigitalcorporation/agentdisk/internal/core"
	"github.com/westerndigitalcorporation/agentdisk/internal/wire"
)

func (d *Device) readBlock(r *Request) core.Error {
	rec := wire.NewRecord(wire.TypeReadBlock)
	rec.SetUint64(wire.FieldSize, r.Size)
	rec.SetUint64(wire.FieldBlock, r.blockID())
	return d.sendBlockRequest(r, rec)
}

func (d *Device) writeBlock(r *Request) core.Error {
	rec := wire.NewRecord(wire.TypeWriteBlock)
	rec.SetUint64(wire.FieldBlock, r.blockID())
	// Private copy so serialization never aliases the caller's buffer.
	data := make([]byte, len(r.Buf))
	copy(data, r.Buf)
	rec.SetBytes(wire.FieldData, data)
	return d.sendBlockRequest(r, rec)
}

// sendBlockRequest claims a slot (blocking while the table is full), tags the
// record with the slot as its request id, and puts it on the wire. From here
// the request belongs to the reader loop; the submitter hears back through
// r.Wait.
func (d *Device) sendBlockRequest(r *Request, rec wire.Record) core.Error {
	slot := d.table.acquire(r)
	rec.SetUint64(wire.FieldRequestID, uint64(slot))
	log.V(2).Infof("vdev: submitting %s as request %d", r, slot)

	if err := d.session.send(rec); err != core.NoError {
		// The request never made it out; give the slot back and resolve the
		// request here, since no completion will ever arrive.
		if req, cerr := d.table.complete(slot); cerr == core.NoError {
			req.finish(err)
		}
		return err
	}
	return core.NoError
}

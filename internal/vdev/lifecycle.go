// Copyright (c) 2021 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT
//
// Pool lifecycle operations. These are strictly one-at-a-time: each method
// that expects a completion sends its request and waits on the serial latch
// before returning, so a second lifecycle request is never issued while the
// first is outstanding.

package vdev

import (
	log "github.com/golang/glog"

	"github.com/westerndigitalcorporation/agentdisk/internal/core"
	"github.com/westerndigitalcorporation/agentdisk/internal/wire"
)

func (d *Device) connectionFields(rec wire.Record) {
	rec.SetUint64(wire.FieldGUID, d.cfg.PoolGUID)
	rec.SetString(wire.FieldCredentials, d.cfg.Credentials)
	rec.SetString(wire.FieldEndpoint, d.cfg.Endpoint)
	rec.SetString(wire.FieldRegion, d.cfg.Region)
	rec.SetString(wire.FieldBucket, d.cfg.Bucket)
}

func (d *Device) createPool() (err core.Error) {
	op := opm.Start("create_pool")
	defer op.EndWithError(&err)

	rec := wire.NewRecord(wire.TypeCreatePool)
	rec.SetString(wire.FieldName, d.cfg.PoolName)
	d.connectionFields(rec)
	log.Infof("vdev: creating pool %q guid=%d bucket=%s",
		d.cfg.PoolName, d.cfg.PoolGUID, d.cfg.Bucket)
	if err = d.session.send(rec); err != core.NoError {
		return err
	}
	return d.serial.wait()
}

func (d *Device) openPool() (err core.Error) {
	op := opm.Start("open_pool")
	defer op.EndWithError(&err)

	rec := wire.NewRecord(wire.TypeOpenPool)
	d.connectionFields(rec)
	log.Infof("vdev: opening pool guid=%d bucket=%s", d.cfg.PoolGUID, d.cfg.Bucket)
	if err = d.session.send(rec); err != core.NoError {
		return err
	}
	return d.serial.wait()
}

// BeginTxg tells the agent a new transaction group is open. Fire-and-forget:
// the agent sends no completion and we don't wait for one.
func (d *Device) BeginTxg(txg uint64) core.Error {
	rec := wire.NewRecord(wire.TypeBeginTxg)
	rec.SetUint64(wire.FieldTxg, txg)
	log.V(1).Infof("vdev: begin txg %d", txg)
	return d.session.send(rec)
}

// EndTxg closes a transaction group, shipping the serialized pool-state
// snapshot alongside. It returns only after the agent acknowledges; before
// that, the txg cannot be considered durable.
func (d *Device) EndTxg(txg uint64, snapshot []byte) (err core.Error) {
	op := opm.Start("end_txg")
	defer op.EndWithError(&err)

	rec := wire.NewRecord(wire.TypeEndTxg)
	rec.SetUint64(wire.FieldTxg, txg)
	rec.SetBytes(wire.FieldData, snapshot)
	log.V(1).Infof("vdev: end txg %d (%d-byte snapshot)", txg, len(snapshot))
	if err = d.session.send(rec); err != core.NoError {
		return err
	}
	return d.serial.wait()
}

// Free returns a block range to the agent. Fire-and-forget with no
// correlation at all: no slot is held and no completion is expected.
func (d *Device) Free(offset, size uint64) core.Error {
	rec := wire.NewRecord(wire.TypeFreeBlock)
	rec.SetUint64(wire.FieldBlock, offset>>wire.BlockShift)
	rec.SetUint64(wire.FieldSize, size)
	log.V(1).Infof("vdev: free block=%d size=%d", offset>>wire.BlockShift, size)
	return d.session.send(rec)
}

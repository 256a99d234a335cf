// Copyright (c) 2021 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT
//
// Package vdev implements a virtual block device backed by an external
// object-store agent. The device never touches media: every read, write,
// free and pool-lifecycle event becomes a length-framed record on one
// persistent socket to the agent, and the agent's asynchronous replies are
// routed back to the waiting caller.
//
// Concurrency model: any number of callers submit I/O; one reader goroutine
// per session drains the socket and dispatches completions. Block I/O is
// multiplexed through a fixed table of request slots (out-of-order completion,
// bounded in-flight count); lifecycle operations are serialized through a
// single-flight latch.

package vdev

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	log "github.com/golang/glog"

	"github.com/westerndigitalcorporation/agentdisk/internal/core"
	"github.com/westerndigitalcorporation/agentdisk/internal/stats"
)

// MaxDeviceSize is the addressable size reported to the storage engine.
// We can only support ~1EB since the allocator weights use some of the
// high order bits.
const MaxDeviceSize = (uint64(1) << 60) - 1

var (
	// OpMetric to record counts and latencies of agent ops, including queue
	// and round-trip time for block I/O.
	opm = stats.NewOpMetric("agentdisk_agent_ops", "op")

	// Other metrics.
	metricActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: "agentdisk",
		Name:      "active_requests",
		Help:      "block requests in flight to the agent",
	}, []string{"priority"})
	metricQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Subsystem: "agentdisk",
		Name:      "queued_requests",
		Help:      "submitters blocked waiting for a free request slot",
	})
)

// Device is the external-facing object-store device.
//
// A Device is created with NewDevice, made usable with Open, and torn down
// with Close. At most one agent connection exists per Device.
type Device struct {
	cfg Config

	session *session
	table   *requestTable
	serial  *serialLatch

	// Pool metadata snapshot, written only by the reader loop on
	// "pool open done" and read by everyone else under the lock.
	metaLock  sync.Mutex
	nextBlock uint64
	uberblock []byte // nil until the agent reports one
}

// Geometry is what Open reports back to the storage engine.
type Geometry struct {
	// Addressable size in bytes.
	Size uint64

	// Block size exponents from the device config.
	LogicalAshift  uint
	PhysicalAshift uint
}

// NewDevice validates the config and builds an unopened device.
func NewDevice(cfg Config) (*Device, core.Error) {
	if err := cfg.Validate(); err != nil {
		log.Errorf("vdev: bad device config: %s", err)
		return nil, core.ErrInvalidArgument
	}
	return &Device{
		cfg:    cfg,
		table:  newRequestTable(cfg.MaxOutstanding),
		serial: newSerialLatch(),
	}, core.NoError
}

// Open connects to the agent, starts the response reader, and brings the
// pool online. With create set it creates the pool first, then opens it, as
// two serialized lifecycle operations.
func (d *Device) Open(create bool) (Geometry, core.Error) {
	if d.session != nil {
		log.Errorf("vdev: device is already open")
		return Geometry{}, core.ErrInvalidArgument
	}

	s, err := dialAgent(d.cfg.AgentNetwork, d.cfg.AgentAddr, d.cfg.ConnectWait)
	if err != core.NoError {
		return Geometry{}, err
	}
	d.session = s
	go d.readLoop()

	if create {
		if err := d.createPool(); err != core.NoError {
			s.close()
			return Geometry{}, err
		}
	}
	if err := d.openPool(); err != core.NoError {
		s.close()
		return Geometry{}, err
	}

	return Geometry{
		Size:           MaxDeviceSize,
		LogicalAshift:  d.cfg.LogicalAshift,
		PhysicalAshift: d.cfg.PhysicalAshift,
	}, core.NoError
}

// Close releases the agent connection. Idempotent.
func (d *Device) Close() {
	if d.session != nil {
		d.session.close()
	}
}

// Done is closed when the session ends, by Close or by a fault.
func (d *Device) Done() <-chan struct{} {
	return d.session.done
}

// Failure reports the fault that killed the session, or NoError.
func (d *Device) Failure() core.Error {
	if d.session == nil {
		return core.NoError
	}
	return d.session.failure()
}

// Submit starts one I/O. Reads and writes go to the agent and complete
// asynchronously through r.Wait; flushes succeed immediately (the agent makes
// writes durable at txg boundaries, there is no cache to flush); trims are
// not supported by this backend. Submit blocks while all request slots are
// occupied -- that is the device's backpressure.
func (d *Device) Submit(r *Request) core.Error {
	r.op = opm.Start(r.Type.String())
	switch r.Type {
	case ReqRead:
		return d.readBlock(r)
	case ReqWrite:
		return d.writeBlock(r)
	case ReqFlush:
		r.finish(core.NoError)
		return core.NoError
	case ReqTrim:
		r.finish(core.ErrNotSupported)
		return core.ErrNotSupported
	}
	log.Errorf("vdev: unknown request type %d", r.Type)
	r.finish(core.ErrInvalidArgument)
	return core.ErrInvalidArgument
}

// Uberblock returns a copy of the last uberblock the agent reported, or nil
// if it has not reported one (a freshly created pool).
func (d *Device) Uberblock() []byte {
	d.metaLock.Lock()
	defer d.metaLock.Unlock()
	if d.uberblock == nil {
		return nil
	}
	ub := make([]byte, len(d.uberblock))
	copy(ub, d.uberblock)
	return ub
}

// NextBlock returns the allocation cursor learned from the agent at pool
// open.
func (d *Device) NextBlock() uint64 {
	d.metaLock.Lock()
	defer d.metaLock.Unlock()
	return d.nextBlock
}

// ConfigGenerate returns the configuration to persist for this device. The
// credential location is persisted, never the credential material.
func (d *Device) ConfigGenerate() map[string]string {
	return map[string]string{
		PropEndpoint:    d.cfg.Endpoint,
		PropRegion:      d.cfg.Region,
		PropCredentials: d.cfg.CredentialLocation,
	}
}

// Stats returns the in-flight and queued request counts.
func (d *Device) Stats() (active, queued int) {
	return d.table.stats()
}

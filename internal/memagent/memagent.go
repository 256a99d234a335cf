// Copyright (c) 2021 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT
//
// Package memagent is a memory-only object-store agent that is useful for
// testing. It speaks the full device wire protocol over any net.Listener and
// backs blocks with a map, so a Device can be exercised end to end without an
// object store.

package memagent

import (
	"io"
	"net"
	"sync"

	log "github.com/golang/glog"

	"github.com/westerndigitalcorporation/agentdisk/internal/wire"
)

// MemAgent serves the agent side of the protocol from memory.
//
// MemAgent is thread-safe. Each accepted connection gets its own goroutine;
// within a connection, requests are handled in arrival order, which
// exercises the device's out-of-order tolerance only as far as concurrent
// connections go -- good enough for tests.
type MemAgent struct {
	lock      sync.Mutex
	blocks    map[uint64][]byte
	uberblock []byte
	nextBlock uint64
	pools     map[uint64]string // GUID -> name, for created pools
	openTxg   uint64

	ln      net.Listener
	wg      sync.WaitGroup
	stopped bool
}

// New returns an empty agent.
func New() *MemAgent {
	return &MemAgent{
		blocks: make(map[uint64][]byte),
		pools:  make(map[uint64]string),
	}
}

// Listen starts serving on the given address and returns immediately.
func (a *MemAgent) Listen(network, addr string) error {
	ln, err := net.Listen(network, addr)
	if err != nil {
		return err
	}
	a.ln = ln
	a.wg.Add(1)
	go a.serve()
	log.Infof("memagent: listening on %s", ln.Addr())
	return nil
}

// Addr returns the listen address.
func (a *MemAgent) Addr() net.Addr {
	return a.ln.Addr()
}

// Close stops the listener. Connections drain on their own as peers
// disconnect.
func (a *MemAgent) Close() {
	a.lock.Lock()
	a.stopped = true
	a.lock.Unlock()
	a.ln.Close()
	a.wg.Wait()
}

func (a *MemAgent) serve() {
	defer a.wg.Done()
	for {
		conn, err := a.ln.Accept()
		if err != nil {
			a.lock.Lock()
			stopped := a.stopped
			a.lock.Unlock()
			if !stopped {
				log.Errorf("memagent: accept: %s", err)
			}
			return
		}
		go a.handleConn(conn)
	}
}

func (a *MemAgent) handleConn(conn net.Conn) {
	defer conn.Close()
	for {
		rec, err := ReadFrame(conn)
		if err != nil {
			if err != io.EOF {
				log.Errorf("memagent: dropping connection: %s", err)
			}
			return
		}
		reply, ok := a.handle(rec)
		if !ok {
			continue
		}
		if err := WriteFrame(conn, reply); err != nil {
			log.Errorf("memagent: can't send %q: %s", reply.Type(), err)
			return
		}
	}
}

// handle services one request, returning the reply to send, if any.
func (a *MemAgent) handle(rec wire.Record) (wire.Record, bool) {
	a.lock.Lock()
	defer a.lock.Unlock()

	typ := rec.Type()
	log.V(2).Infof("memagent: request type=%q", typ)

	switch typ {
	case wire.TypeCreatePool:
		guid, _ := rec.Uint64(wire.FieldGUID)
		name, _ := rec.String(wire.FieldName)
		a.pools[guid] = name
		return wire.NewRecord(wire.TypePoolCreateDone), true

	case wire.TypeOpenPool:
		reply := wire.NewRecord(wire.TypePoolOpenDone)
		reply.SetUint64(wire.FieldNextBlock, a.nextBlock)
		if a.uberblock != nil {
			reply.SetBytes(wire.FieldUberblock, append([]byte(nil), a.uberblock...))
		}
		return reply, true

	case wire.TypeReadBlock:
		blk, _ := rec.Uint64(wire.FieldBlock)
		size, _ := rec.Uint64(wire.FieldSize)
		id, _ := rec.Uint64(wire.FieldRequestID)
		data := make([]byte, size)
		copy(data, a.blocks[blk]) // unwritten blocks read as zeros
		reply := wire.NewRecord(wire.TypeReadDone)
		reply.SetUint64(wire.FieldRequestID, id)
		reply.SetUint64(wire.FieldBlock, blk)
		reply.SetBytes(wire.FieldData, data)
		return reply, true

	case wire.TypeWriteBlock:
		blk, _ := rec.Uint64(wire.FieldBlock)
		id, _ := rec.Uint64(wire.FieldRequestID)
		data, _ := rec.Bytes(wire.FieldData)
		a.blocks[blk] = append([]byte(nil), data...)
		if next := blk + uint64(len(data)+wire.BlockSize-1)/wire.BlockSize; next > a.nextBlock {
			a.nextBlock = next
		}
		reply := wire.NewRecord(wire.TypeWriteDone)
		reply.SetUint64(wire.FieldRequestID, id)
		reply.SetUint64(wire.FieldBlock, blk)
		return reply, true

	case wire.TypeFreeBlock:
		blk, _ := rec.Uint64(wire.FieldBlock)
		delete(a.blocks, blk)
		return wire.Record{}, false

	case wire.TypeBeginTxg:
		a.openTxg, _ = rec.Uint64(wire.FieldTxg)
		return wire.Record{}, false

	case wire.TypeEndTxg:
		data, _ := rec.Bytes(wire.FieldData)
		a.uberblock = append([]byte(nil), data...)
		a.openTxg = 0
		return wire.NewRecord(wire.TypeEndTxgDone), true

	case wire.TypeFlushWrites:
		return wire.Record{}, false
	}

	log.Warningf("memagent: ignoring unrecognized request type %q", typ)
	return wire.Record{}, false
}

// SetNextBlock primes the allocation cursor reported at pool open.
func (a *MemAgent) SetNextBlock(n uint64) {
	a.lock.Lock()
	a.nextBlock = n
	a.lock.Unlock()
}

// SetUberblock primes the uberblock reported at pool open.
func (a *MemAgent) SetUberblock(ub []byte) {
	a.lock.Lock()
	a.uberblock = append([]byte(nil), ub...)
	a.lock.Unlock()
}

// Uberblock returns the last uberblock committed via end txg (or primed).
func (a *MemAgent) Uberblock() []byte {
	a.lock.Lock()
	defer a.lock.Unlock()
	return append([]byte(nil), a.uberblock...)
}

// HasBlock reports whether the block has data.
func (a *MemAgent) HasBlock(blk uint64) bool {
	a.lock.Lock()
	defer a.lock.Unlock()
	_, ok := a.blocks[blk]
	return ok
}

// HasPool reports whether a pool with this GUID was created.
func (a *MemAgent) HasPool(guid uint64) bool {
	a.lock.Lock()
	defer a.lock.Unlock()
	_, ok := a.pools[guid]
	return ok
}

// ReadFrame reads one length-prefixed record from a connection. Exposed so
// tests can speak the protocol directly.
func ReadFrame(conn net.Conn) (wire.Record, error) {
	var hdr [wire.FrameHeaderSize]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return wire.Record{}, err
	}
	buf := make([]byte, wire.FrameLen(hdr[:]))
	if _, err := io.ReadFull(conn, buf); err != nil {
		return wire.Record{}, err
	}
	return wire.Decode(buf)
}

// WriteFrame writes one length-prefixed record to a connection.
func WriteFrame(conn net.Conn, rec wire.Record) error {
	frame, err := wire.EncodeFrame(rec)
	if err != nil {
		return err
	}
	_, err = conn.Write(frame)
	return err
}

// Copyright (c) 2021 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

package vdev

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/westerndigitalcorporation/agentdisk/internal/core"
	"github.com/westerndigitalcorporation/agentdisk/internal/memagent"
	"github.com/westerndigitalcorporation/agentdisk/internal/wire"
)

// scriptAgent is an agent whose replies are chosen by the test, frame by
// frame, so misbehavior can be injected. It accepts one connection and
// forwards every request it receives to recv.
type scriptAgent struct {
	t    *testing.T
	ln   net.Listener
	conn net.Conn
	recv chan wire.Record
}

func newScriptAgent(t *testing.T) *scriptAgent {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("can't listen: %s", err)
	}
	a := &scriptAgent{t: t, ln: ln, recv: make(chan wire.Record, 16)}
	go a.serve()
	return a
}

func (a *scriptAgent) serve() {
	conn, err := a.ln.Accept()
	if err != nil {
		return
	}
	a.conn = conn
	for {
		rec, err := memagent.ReadFrame(conn)
		if err != nil {
			return
		}
		a.recv <- rec
	}
}

// expect waits for the next request and asserts its type.
func (a *scriptAgent) expect(typ string) wire.Record {
	select {
	case rec := <-a.recv:
		if rec.Type() != typ {
			a.t.Fatalf("agent got %q, want %q", rec.Type(), typ)
		}
		return rec
	case <-time.After(5 * time.Second):
		a.t.Fatalf("no %q request arrived", typ)
	}
	return wire.Record{}
}

// expectNone asserts that no request arrives for the given duration.
func (a *scriptAgent) expectNone(d time.Duration) {
	select {
	case rec := <-a.recv:
		a.t.Fatalf("agent got unexpected %q request", rec.Type())
	case <-time.After(d):
	}
}

func (a *scriptAgent) reply(rec wire.Record) {
	if err := memagent.WriteFrame(a.conn, rec); err != nil {
		a.t.Fatalf("can't send %q reply: %s", rec.Type(), err)
	}
}

func (a *scriptAgent) close() {
	a.ln.Close()
	if a.conn != nil {
		a.conn.Close()
	}
}

// startOpen kicks off Open in the background so the test goroutine is free to
// script the agent's half of the handshake.
func startOpen(t *testing.T, a *scriptAgent, create bool) (*Device, <-chan core.Error) {
	d, err := NewDevice(testConfig(a.ln.Addr().String()))
	if err != core.NoError {
		t.Fatalf("can't build device: %s", err)
	}
	opened := make(chan core.Error, 1)
	go func() {
		_, err := d.Open(create)
		opened <- err
	}()
	return d, opened
}

// openScripted performs a healthy open handshake and returns the device.
func openScripted(t *testing.T, a *scriptAgent) *Device {
	d, opened := startOpen(t, a, false)
	a.expect(wire.TypeOpenPool)
	done := wire.NewRecord(wire.TypePoolOpenDone)
	done.SetUint64(wire.FieldNextBlock, 0)
	a.reply(done)
	if err := <-opened; err != core.NoError {
		t.Fatalf("open failed: %s", err)
	}
	return d
}

func TestLifecycleWaitsBetweenOps(t *testing.T) {
	a := newScriptAgent(t)
	defer a.close()

	d, opened := startOpen(t, a, true)
	defer d.Close()

	req := a.expect(wire.TypeCreatePool)
	if name, _ := req.String(wire.FieldName); name != "testpool" {
		t.Errorf("create pool carries name %q, want testpool", name)
	}
	if guid, _ := req.Uint64(wire.FieldGUID); guid != 42 {
		t.Errorf("create pool carries guid %d, want 42", guid)
	}
	if creds, _ := req.String(wire.FieldCredentials); creds != "key:secret" {
		t.Errorf("create pool carries credentials %q", creds)
	}

	// The open must not go out until the create completes.
	a.expectNone(100 * time.Millisecond)
	a.reply(wire.NewRecord(wire.TypePoolCreateDone))

	req = a.expect(wire.TypeOpenPool)
	if bucket, _ := req.String(wire.FieldBucket); bucket != "bucket-1" {
		t.Errorf("open pool carries bucket %q, want bucket-1", bucket)
	}
	done := wire.NewRecord(wire.TypePoolOpenDone)
	done.SetUint64(wire.FieldNextBlock, 3)
	a.reply(done)

	if err := <-opened; err != core.NoError {
		t.Fatalf("open failed: %s", err)
	}
	if d.NextBlock() != 3 {
		t.Errorf("next block = %d, want 3", d.NextBlock())
	}
}

func TestWriteRequestWireFormat(t *testing.T) {
	a := newScriptAgent(t)
	defer a.close()
	d := openScripted(t, a)
	defer d.Close()

	data := bytes.Repeat([]byte{0x42}, wire.BlockSize)
	wr := NewWriteRequest(9*wire.BlockSize, data, core.HighPri)
	if err := d.Submit(wr); err != core.NoError {
		t.Fatalf("submit failed: %s", err)
	}

	req := a.expect(wire.TypeWriteBlock)
	if blk, _ := req.Uint64(wire.FieldBlock); blk != 9 {
		t.Errorf("write carries block %d, want 9", blk)
	}
	sent, ok := req.Bytes(wire.FieldData)
	if !ok || !bytes.Equal(sent, data) {
		t.Errorf("write payload doesn't match the submitted buffer")
	}
	id, ok := req.Uint64(wire.FieldRequestID)
	if !ok {
		t.Fatalf("write carries no request_id")
	}

	done := wire.NewRecord(wire.TypeWriteDone)
	done.SetUint64(wire.FieldRequestID, id)
	done.SetUint64(wire.FieldBlock, 9)
	a.reply(done)
	if err := wr.Wait(); err != core.NoError {
		t.Fatalf("write failed: %s", err)
	}
}

func TestMismatchedReadDoneFaults(t *testing.T) {
	a := newScriptAgent(t)
	defer a.close()
	d := openScripted(t, a)
	defer d.Close()

	rd := NewReadRequest(3*wire.BlockSize, make([]byte, wire.BlockSize), core.MedPri)
	if err := d.Submit(rd); err != core.NoError {
		t.Fatalf("submit failed: %s", err)
	}
	req := a.expect(wire.TypeReadBlock)
	id, _ := req.Uint64(wire.FieldRequestID)

	// Right request id, wrong block: the agent answered for an I/O we never
	// issued, which is unrecoverable.
	done := wire.NewRecord(wire.TypeReadDone)
	done.SetUint64(wire.FieldRequestID, id)
	done.SetUint64(wire.FieldBlock, 999)
	done.SetBytes(wire.FieldData, make([]byte, wire.BlockSize))
	a.reply(done)

	if err := rd.Wait(); err != core.ErrConsistency {
		t.Fatalf("request result = %s, want ErrConsistency", err)
	}
	select {
	case <-d.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("session never faulted")
	}
	if err := d.Failure(); err != core.ErrConsistency {
		t.Fatalf("failure = %s, want ErrConsistency", err)
	}
}

func TestShortReadDoneFaults(t *testing.T) {
	a := newScriptAgent(t)
	defer a.close()
	d := openScripted(t, a)
	defer d.Close()

	rd := NewReadRequest(0, make([]byte, wire.BlockSize), core.MedPri)
	d.Submit(rd)
	req := a.expect(wire.TypeReadBlock)
	id, _ := req.Uint64(wire.FieldRequestID)

	done := wire.NewRecord(wire.TypeReadDone)
	done.SetUint64(wire.FieldRequestID, id)
	done.SetUint64(wire.FieldBlock, 0)
	done.SetBytes(wire.FieldData, make([]byte, wire.BlockSize-1))
	a.reply(done)

	if err := rd.Wait(); err != core.ErrConsistency {
		t.Fatalf("request result = %s, want ErrConsistency", err)
	}
}

func TestUnissuedRequestIDFaultsAndDrains(t *testing.T) {
	a := newScriptAgent(t)
	defer a.close()
	d := openScripted(t, a)
	defer d.Close()

	rd := NewReadRequest(0, make([]byte, wire.BlockSize), core.MedPri)
	d.Submit(rd)
	a.expect(wire.TypeReadBlock)

	// A completion for a slot we never issued faults the session, and the
	// fault must release the unrelated in-flight read too.
	done := wire.NewRecord(wire.TypeWriteDone)
	done.SetUint64(wire.FieldRequestID, 999999)
	done.SetUint64(wire.FieldBlock, 0)
	a.reply(done)

	if err := rd.Wait(); err != core.ErrConsistency {
		t.Fatalf("drained request result = %s, want ErrConsistency", err)
	}
	if active, _ := d.Stats(); active != 0 {
		t.Fatalf("%d requests still active after drain", active)
	}
}

func TestUnknownResponseIgnored(t *testing.T) {
	a := newScriptAgent(t)
	defer a.close()
	d := openScripted(t, a)
	defer d.Close()

	a.reply(wire.NewRecord("weather report"))

	// The session must still be healthy and serving I/O.
	wr := NewWriteRequest(0, make([]byte, wire.BlockSize), core.MedPri)
	d.Submit(wr)
	req := a.expect(wire.TypeWriteBlock)
	id, _ := req.Uint64(wire.FieldRequestID)
	done := wire.NewRecord(wire.TypeWriteDone)
	done.SetUint64(wire.FieldRequestID, id)
	done.SetUint64(wire.FieldBlock, 0)
	a.reply(done)

	if err := wr.Wait(); err != core.NoError {
		t.Fatalf("write after junk response failed: %s", err)
	}
	if err := d.Failure(); err != core.NoError {
		t.Fatalf("session faulted on an ignorable response: %s", err)
	}
}

func TestBadUberblockSizeFailsOpen(t *testing.T) {
	a := newScriptAgent(t)
	defer a.close()

	d, opened := startOpen(t, a, false)
	defer d.Close()

	a.expect(wire.TypeOpenPool)
	done := wire.NewRecord(wire.TypePoolOpenDone)
	done.SetUint64(wire.FieldNextBlock, 1)
	done.SetBytes(wire.FieldUberblock, make([]byte, 10))
	a.reply(done)

	if err := <-opened; err != core.ErrConsistency {
		t.Fatalf("open = %s, want ErrConsistency", err)
	}
}

func TestMissingNextBlockFailsOpen(t *testing.T) {
	a := newScriptAgent(t)
	defer a.close()

	d, opened := startOpen(t, a, false)
	defer d.Close()

	a.expect(wire.TypeOpenPool)
	a.reply(wire.NewRecord(wire.TypePoolOpenDone))

	if err := <-opened; err != core.ErrProtocol {
		t.Fatalf("open = %s, want ErrProtocol", err)
	}
}

func TestConnectionDropFailsInflight(t *testing.T) {
	a := newScriptAgent(t)
	defer a.close()
	d := openScripted(t, a)
	defer d.Close()

	rd := NewReadRequest(0, make([]byte, wire.BlockSize), core.MedPri)
	d.Submit(rd)
	a.expect(wire.TypeReadBlock)

	a.conn.Close()

	if err := rd.Wait(); err != core.ErrShortRead {
		t.Fatalf("request result = %s, want ErrShortRead", err)
	}
	select {
	case <-d.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("session never noticed the dropped connection")
	}
}

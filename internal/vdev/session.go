// Copyright (c) 2021 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

package vdev

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	log "github.com/golang/glog"

	"github.com/westerndigitalcorporation/agentdisk/internal/core"
	"github.com/westerndigitalcorporation/agentdisk/internal/wire"
	"github.com/westerndigitalcorporation/agentdisk/pkg/retry"
)

// Responses carrying block data can be large, but a length prefix beyond this
// means the stream is garbage, not a big message.
const maxFrameSize = 64 << 20

type sessionState int

const (
	stateConnected sessionState = iota
	stateClosed
	stateFaulted
)

// session owns the one socket to the agent. Any number of threads may send
// through it (one frame at a time, never interleaved); exactly one reader
// drains it.
//
// A session that experiences a transport or protocol fault transitions to a
// terminal faulted state: the socket is torn down, the first fault is
// recorded, and Done() is closed so the owner can observe the failure. There
// is no reconnect.
type session struct {
	conn net.Conn

	// Held for the duration of a whole frame write.
	sendLock sync.Mutex

	lock     sync.Mutex
	state    sessionState
	faultErr core.Error
	done     chan struct{}
}

// dialAgent establishes the connection to the agent. The agent is a separate
// process that may not be up yet, so a missing socket is retried with backoff
// for up to wait before it becomes an error.
func dialAgent(network, addr string, wait time.Duration) (*session, core.Error) {
	var conn net.Conn
	dial := func(attempt int) bool {
		var err error
		if conn, err = net.Dial(network, addr); err != nil {
			log.V(1).Infof("vdev: agent not reachable at %s!%s (attempt %d): %s",
				network, addr, attempt, err)
			return false
		}
		return true
	}

	ok := dial(0)
	if !ok && wait > 0 {
		r := retry.Retrier{
			MinSleep: 50 * time.Millisecond,
			MaxSleep: time.Second,
			MaxRetry: wait,
		}
		ok, _ = r.Do(context.Background(), dial)
	}
	if !ok {
		log.Errorf("vdev: can't connect to agent at %s!%s", network, addr)
		return nil, core.ErrConnect
	}
	log.Infof("vdev: agent connection ready at %s!%s", network, addr)
	return &session{conn: conn, done: make(chan struct{})}, core.NoError
}

// send encodes the record, prepends the length and writes the whole frame
// while holding the send lock, so frames from concurrent senders never
// interleave. A partial write is not a supported outcome; it faults the
// session.
func (s *session) send(rec wire.Record) core.Error {
	frame, err := wire.EncodeFrame(rec)
	if err != nil {
		log.Errorf("vdev: can't encode %q request: %s", rec.Type(), err)
		return core.ErrProtocol
	}

	s.sendLock.Lock()
	n, werr := s.conn.Write(frame)
	s.sendLock.Unlock()

	if werr != nil || n != len(frame) {
		if s.currentState() == stateClosed {
			return core.ErrClosed
		}
		log.Errorf("vdev: sent wrong length to agent socket: expected %d got %d: %v",
			len(frame), n, werr)
		s.fail(core.ErrShortWrite)
		return core.ErrShortWrite
	}
	log.V(2).Infof("vdev: sent %d-byte request to agent type=%q", len(frame), rec.Type())
	return core.NoError
}

// readRecord reads one length-prefixed record, looping internally until the
// exact byte counts arrive. Only the reader loop calls this.
func (s *session) readRecord() (wire.Record, core.Error) {
	var hdr [wire.FrameHeaderSize]byte
	if err := s.readFull(hdr[:]); err != core.NoError {
		return wire.Record{}, err
	}
	size := wire.FrameLen(hdr[:])
	if size == 0 || size > maxFrameSize {
		log.Errorf("vdev: nonsense frame length %d from agent", size)
		s.fail(core.ErrProtocol)
		return wire.Record{}, core.ErrProtocol
	}
	buf := make([]byte, size)
	if err := s.readFull(buf); err != core.NoError {
		return wire.Record{}, err
	}
	rec, err := wire.Decode(buf)
	if err != nil {
		log.Errorf("vdev: can't decode %d-byte response from agent: %s", size, err)
		s.fail(core.ErrProtocol)
		return wire.Record{}, core.ErrProtocol
	}
	return rec, core.NoError
}

func (s *session) readFull(buf []byte) core.Error {
	if _, err := io.ReadFull(s.conn, buf); err != nil {
		if s.currentState() == stateClosed {
			return core.ErrClosed
		}
		log.Errorf("vdev: got wrong length from agent socket: expected %d: %s",
			len(buf), err)
		s.fail(core.ErrShortRead)
		return core.ErrShortRead
	}
	return core.NoError
}

// fail moves the session to the terminal faulted state. Only the first fault
// is recorded. Closing the socket kicks the reader out of any blocked read.
func (s *session) fail(err core.Error) {
	s.lock.Lock()
	if s.state != stateConnected {
		s.lock.Unlock()
		return
	}
	s.state = stateFaulted
	s.faultErr = err
	close(s.done)
	s.lock.Unlock()

	s.conn.Close()
	log.Errorf("vdev: agent session is now unusable: %s", err)
}

// close releases the connection. Idempotent; harmless after a fault.
func (s *session) close() {
	s.lock.Lock()
	if s.state != stateConnected {
		s.lock.Unlock()
		return
	}
	s.state = stateClosed
	close(s.done)
	s.lock.Unlock()

	s.conn.Close()
	log.Infof("vdev: agent connection closed")
}

func (s *session) currentState() sessionState {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.state
}

// failure returns the first fault, or NoError if the session is healthy or
// was closed deliberately.
func (s *session) failure() core.Error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.faultErr
}

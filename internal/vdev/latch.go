// Copyright (c) 2021 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

package vdev

import (
	"sync"

	log "github.com/golang/glog"

	"github.com/westerndigitalcorporation/agentdisk/internal/core"
)

// serialLatch is the completion signal for the one-at-a-time lifecycle
// operations (pool create, pool open, txg end). The caller discipline is
// strict: exactly one such request may be outstanding, so a completion
// arriving while the previous one is unconsumed means the agent and the
// device disagree about the protocol.
type serialLatch struct {
	lock sync.Mutex
	cond *sync.Cond
	done bool

	// Sticky. Once the session dies no more completions will ever arrive,
	// so every wait, present and future, returns this instead of blocking.
	err core.Error
}

func newSerialLatch() *serialLatch {
	l := &serialLatch{}
	l.cond = sync.NewCond(&l.lock)
	return l
}

// wait blocks until the outstanding lifecycle operation completes, then
// consumes the completion. Returns the abort error if the session died
// while waiting.
func (l *serialLatch) wait() core.Error {
	l.lock.Lock()
	defer l.lock.Unlock()
	for !l.done && l.err == core.NoError {
		l.cond.Wait()
	}
	if l.err != core.NoError {
		return l.err
	}
	l.done = false
	return core.NoError
}

// signal marks the outstanding lifecycle operation complete and wakes all
// waiters. A second signal before the first is consumed is a protocol
// violation.
func (l *serialLatch) signal() core.Error {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.done {
		log.Errorf("vdev: agent signaled a serial completion nobody was waiting for")
		return core.ErrConsistency
	}
	l.done = true
	l.cond.Broadcast()
	return core.NoError
}

// abort poisons the latch so no lifecycle caller ever blocks on a dead
// session.
func (l *serialLatch) abort(err core.Error) {
	l.lock.Lock()
	if l.err == core.NoError {
		l.err = err
	}
	l.cond.Broadcast()
	l.lock.Unlock()
}

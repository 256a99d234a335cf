// Copyright (c) 2021 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

package vdev

import (
	"sync"

	log "github.com/golang/glog"

	"github.com/westerndigitalcorporation/agentdisk/internal/core"
)

// requestTable is the fixed-capacity map from request id (slot index) to
// in-flight request. It is the device's only backpressure mechanism: once all
// slots are occupied, further submitters block inside acquire until a
// completion frees one. Waiters are woken in whatever order the runtime
// picks; this is best-effort, not FIFO.
type requestTable struct {
	lock sync.Mutex
	cond *sync.Cond

	// A slot is either nil or holds exactly one in-flight request.
	slots []*Request

	occupied int
	queued   int
}

func newRequestTable(capacity int) *requestTable {
	t := &requestTable{slots: make([]*Request, capacity)}
	t.cond = sync.NewCond(&t.lock)
	return t
}

// acquire claims a free slot for r, records the slot index inside r for the
// completion-time identity check, and returns the slot index. Blocks while
// the table is full.
func (t *requestTable) acquire(r *Request) int {
	t.lock.Lock()
	defer t.lock.Unlock()

	for {
		for i, slot := range t.slots {
			if slot == nil {
				t.slots[i] = r
				r.slot = i
				t.occupied++
				metricActive.WithLabelValues(r.Priority.String()).Inc()
				log.V(2).Infof("vdev: request %s claimed slot %d", r, i)
				return i
			}
		}
		// Queued submitters are counted so stats can see them even though
		// they hold no slot yet.
		t.queued++
		metricQueued.Inc()
		t.cond.Wait()
		t.queued--
		metricQueued.Dec()
	}
}

// complete clears the slot and returns its request, waking one blocked
// submitter. The slot must hold a request that recorded this same slot at
// acquire time; anything else means the agent echoed a request id we never
// issued, or the table is corrupt.
func (t *requestTable) complete(slot int) (*Request, core.Error) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if slot < 0 || slot >= len(t.slots) {
		log.Errorf("vdev: completion for slot %d outside table of %d", slot, len(t.slots))
		return nil, core.ErrConsistency
	}
	r := t.slots[slot]
	if r == nil {
		log.Errorf("vdev: completion for empty slot %d", slot)
		return nil, core.ErrConsistency
	}
	if r.slot != slot {
		log.Errorf("vdev: slot %d holds request claiming slot %d", slot, r.slot)
		return nil, core.ErrConsistency
	}

	t.slots[slot] = nil
	r.slot = -1
	t.occupied--
	metricActive.WithLabelValues(r.Priority.String()).Dec()
	t.cond.Signal()
	return r, core.NoError
}

// drain finishes every in-flight request with err and empties the table.
// Called when the session dies; without it, callers of Wait would block
// forever on completions that can no longer arrive.
func (t *requestTable) drain(err core.Error) {
	t.lock.Lock()
	var doomed []*Request
	for i, r := range t.slots {
		if r == nil {
			continue
		}
		t.slots[i] = nil
		r.slot = -1
		t.occupied--
		metricActive.WithLabelValues(r.Priority.String()).Dec()
		doomed = append(doomed, r)
	}
	t.cond.Broadcast()
	t.lock.Unlock()

	if len(doomed) > 0 {
		log.Errorf("vdev: failing %d in-flight requests: %s", len(doomed), err)
	}
	for _, r := range doomed {
		r.finish(err)
	}
}

// stats returns the occupied slot count and the number of blocked submitters.
func (t *requestTable) stats() (occupied, queued int) {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.occupied, t.queued
}

// Copyright (c) 2021 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

// Package retry runs a task repeatedly with jittered exponential backoff
// until it succeeds, a bound is hit, or the context is cancelled. The device
// uses it to wait out an agent that has not come up yet.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Task is one attempt. It gets the attempt number and reports whether it
// succeeded; false means try again.
type Task func(attempt int) bool

// Retrier bounds a retry loop. The zero value retries forever with no sleep,
// which is never what you want; set at least MinSleep.
type Retrier struct {
	// MinSleep is the initial backoff between attempts.
	MinSleep time.Duration

	// MaxSleep caps the backoff.
	MaxSleep time.Duration

	// MaxRetry, if positive, bounds the total time spent in Do.
	MaxRetry time.Duration

	// MaxNumRetries, if positive, bounds the number of attempts.
	MaxNumRetries int
}

// Do runs task until it returns true. It returns (true, false) on success,
// (false, false) when a bound is exhausted, and (false, true) when ctx is
// cancelled while sleeping.
func (r *Retrier) Do(ctx context.Context, task Task) (success, cancelled bool) {
	if r.MaxSleep < r.MinSleep {
		r.MaxSleep = r.MinSleep
	}
	backoff := r.MinSleep
	start := time.Now()
	for i := 0; ; i++ {
		if r.MaxNumRetries > 0 && i >= r.MaxNumRetries {
			return false, false
		}
		if r.MaxRetry > 0 && time.Since(start)+backoff > r.MaxRetry {
			return false, false
		}
		if task(i) {
			return true, false
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return false, true
		}
		// Roughly double each time, with jitter so a herd of dialers
		// doesn't stay in lockstep.
		backoff = time.Duration(float64(backoff) * (1.75 + 0.5*rand.Float64()))
		if backoff > r.MaxSleep {
			backoff = r.MaxSleep + time.Duration(float64(r.MinSleep)*rand.Float64())
		}
	}
}

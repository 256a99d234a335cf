// Copyright (c) 2021 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

package retry

import (
	"context"
	"testing"
	"time"
)

func TestSucceedsAfterRetries(t *testing.T) {
	r := Retrier{MinSleep: time.Millisecond, MaxSleep: 5 * time.Millisecond}
	calls := 0
	ok, cancelled := r.Do(context.Background(), func(attempt int) bool {
		if attempt != calls {
			t.Errorf("attempt = %d, want %d", attempt, calls)
		}
		calls++
		return calls == 4
	})
	if !ok || cancelled {
		t.Fatalf("Do = %v, %v, want true, false", ok, cancelled)
	}
	if calls != 4 {
		t.Fatalf("task ran %d times, want 4", calls)
	}
}

func TestMaxNumRetries(t *testing.T) {
	r := Retrier{MinSleep: time.Millisecond, MaxNumRetries: 3}
	calls := 0
	ok, cancelled := r.Do(context.Background(), func(int) bool {
		calls++
		return false
	})
	if ok || cancelled {
		t.Fatalf("Do = %v, %v, want false, false", ok, cancelled)
	}
	if calls != 3 {
		t.Fatalf("task ran %d times, want 3", calls)
	}
}

func TestMaxRetryBoundsTotalTime(t *testing.T) {
	r := Retrier{MinSleep: 10 * time.Millisecond, MaxRetry: 50 * time.Millisecond}
	start := time.Now()
	ok, _ := r.Do(context.Background(), func(int) bool { return false })
	if ok {
		t.Fatalf("Do succeeded, want exhaustion")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Do took %s, bound was 50ms", elapsed)
	}
}

func TestCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := Retrier{MinSleep: time.Hour}
	done := make(chan bool, 1)
	go func() {
		_, cancelled := r.Do(ctx, func(int) bool { return false })
		done <- cancelled
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case cancelled := <-done:
		if !cancelled {
			t.Fatalf("Do didn't report cancellation")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Do never returned after cancel")
	}
}

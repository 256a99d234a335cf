// Copyright (c) 2021 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

package core

// The Priority of an I/O request. We map engine-supplied priorities to our own
// scale to reduce coupling.
type Priority int

// Pre-defined priority levels.
const (
	LowPri  Priority = 10
	MedPri  Priority = 20
	HighPri Priority = 30
)

// String returns the metrics label for a priority class.
func (p Priority) String() string {
	switch p {
	case LowPri:
		return "low"
	case HighPri:
		return "high"
	}
	return "med"
}

// Copyright (c) 2021 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

package wire

// Possible keys in records sent to / received from the agent.
const (
	FieldType        = "Type"
	FieldName        = "name"
	FieldSize        = "size"
	FieldTxg         = "TXG"
	FieldGUID        = "GUID"
	FieldBucket      = "bucket"
	FieldCredentials = "credentials"
	FieldEndpoint    = "endpoint"
	FieldRegion      = "region"
	FieldBlock       = "block"
	FieldData        = "data"
	FieldRequestID   = "request_id"
	FieldUberblock   = "uberblock"
	FieldNextBlock   = "next_block"
)

// Request types, sent to the agent.
const (
	TypeCreatePool = "create pool"
	TypeOpenPool   = "open pool"
	TypeReadBlock  = "read block"
	TypeWriteBlock = "write block"
	TypeFreeBlock  = "free block"
	TypeBeginTxg   = "begin txg"
	TypeEndTxg     = "end txg"

	// TypeFlushWrites is part of the protocol but nothing sends it today.
	TypeFlushWrites = "flush writes"
)

// Response types, received from the agent.
const (
	TypePoolCreateDone = "pool create done"
	TypePoolOpenDone   = "pool open done"
	TypeReadDone       = "read done"
	TypeWriteDone      = "write done"
	TypeEndTxgDone     = "end txg done"
)

const (
	// BlockShift fixes the block granularity of the protocol at 512 bytes,
	// regardless of the ashift the device reports to the storage engine.
	BlockShift = 9

	// BlockSize is the protocol block size in bytes.
	BlockSize = 1 << BlockShift

	// UberblockSize is the exact size of the opaque uberblock record carried
	// in "pool open done" and "end txg" messages.
	UberblockSize = 1024
)

// Copyright (c) 2021 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

package vdev

import (
	"fmt"
	"time"
)

// Keys used by ConfigGenerate when persisting device configuration. The
// credential material itself is never persisted, only its location.
const (
	PropEndpoint    = "objstore_endpoint"
	PropRegion      = "objstore_region"
	PropCredentials = "objstore_credentials"
)

// Config encapsulates parameters for a Device.
type Config struct {
	// --- Agent connection ---
	AgentNetwork string // Network of the agent socket ("unix", "tcp").
	AgentAddr    string // Address of the agent socket.

	// How long to keep retrying the initial connection. The agent is a
	// separate process and may come up after us; until ConnectWait elapses a
	// missing socket is treated as "not yet", not an error. Zero means a
	// single attempt.
	ConnectWait time.Duration

	// --- Object store ---
	Endpoint           string // Object store endpoint URL.
	Region             string // Object store region.
	CredentialLocation string // Where the credentials came from; persisted in the config instead of the material.
	Credentials        string // Credential material, passed to the agent verbatim.
	Bucket             string // Bucket (or pool path) backing the device.

	// --- Pool identity ---
	PoolName string // Name of the pool this device belongs to.
	PoolGUID uint64 // GUID of the pool this device belongs to.

	// --- Geometry ---
	// Logical/physical block size exponents reported to the storage engine.
	// These only affect what the engine is told; the agent protocol always
	// addresses 512-byte blocks.
	LogicalAshift  uint
	PhysicalAshift uint

	// --- Backpressure ---
	// Cap on in-flight block requests to the agent. Submitters past the cap
	// block until a slot frees.
	MaxOutstanding int
}

// DefaultConfig has the default values for a device.
var DefaultConfig = Config{
	AgentNetwork:   "unix",
	AgentAddr:      "/run/zfs_socket",
	LogicalAshift:  9,
	PhysicalAshift: 9,
	MaxOutstanding: 1000,
}

// Validate checks that all required parameters are present and sane. A device
// cannot become usable with an invalid config.
func (c *Config) Validate() error {
	if c.AgentNetwork == "" || c.AgentAddr == "" {
		return fmt.Errorf("agent socket address must be provided")
	}
	if c.Endpoint == "" {
		return fmt.Errorf("object store endpoint must be provided")
	}
	if c.Region == "" {
		return fmt.Errorf("object store region must be provided")
	}
	if c.CredentialLocation == "" {
		return fmt.Errorf("credential location must be provided")
	}
	if c.Credentials == "" {
		return fmt.Errorf("credentials must be provided")
	}
	if c.Bucket == "" {
		return fmt.Errorf("bucket must be provided")
	}
	if c.PoolGUID == 0 {
		return fmt.Errorf("pool GUID must be provided")
	}
	if c.LogicalAshift < 9 || c.LogicalAshift > 17 ||
		c.PhysicalAshift < 9 || c.PhysicalAshift > 17 {
		return fmt.Errorf("ashift must be within [9, 17]")
	}
	if c.MaxOutstanding <= 0 {
		return fmt.Errorf("max outstanding requests must be positive")
	}
	return nil
}

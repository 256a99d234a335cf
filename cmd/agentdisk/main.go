// Copyright (c) 2021 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"flag"
	"os"
)

func main() {
	// We should send our own log output to stderr.
	flag.Set("logtostderr", "true")
	flag.Parse()

	if err := newAgentdiskCli().run(os.Args); err != nil {
		os.Exit(1)
	}
}

// Copyright (c) 2021 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT
//
// memagent runs the in-memory object-store agent as a standalone process, so
// a device (or the agentdisk CLI) can be pointed at a real socket without an
// object store behind it.

package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	log "github.com/golang/glog"

	"github.com/westerndigitalcorporation/agentdisk/internal/memagent"
)

var (
	network     = flag.String("net", "unix", "network of the listen socket (unix, tcp)")
	addr        = flag.String("addr", "/run/zfs_socket", "address of the listen socket")
	metricsAddr = flag.String("metricsAddr", "", "if set, serve /metrics on this address")
	nextBlock   = flag.Uint64("nextBlock", 0, "initial allocation cursor to report at pool open")
)

func main() {
	flag.Parse()

	agent := memagent.New()
	agent.SetNextBlock(*nextBlock)

	if *network == "unix" {
		// A stale socket file from a previous run would make Listen fail.
		os.Remove(*addr)
	}
	if err := agent.Listen(*network, *addr); err != nil {
		log.Fatalf("memagent: can't listen on %s!%s: %s", *network, *addr, err)
	}

	if *metricsAddr != "" {
		http.Handle("/metrics", promhttp.Handler())
		go func() {
			log.Fatalf("memagent: metrics listener: %s",
				http.ListenAndServe(*metricsAddr, nil))
		}()
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	agent.Close()
	if *network == "unix" {
		os.Remove(*addr)
	}
}

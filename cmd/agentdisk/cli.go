// Copyright (c) 2021 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT
//
// agentdisk is a small operator tool for poking at an object-store device
// through a running agent: create the pool, read and write blocks, free
// ranges, and cycle a transaction group.

package main

import (
	"fmt"
	"io/ioutil"
	"os"

	"github.com/codegangsta/cli"

	log "github.com/golang/glog"

	"github.com/westerndigitalcorporation/agentdisk/internal/core"
	"github.com/westerndigitalcorporation/agentdisk/internal/vdev"
	"github.com/westerndigitalcorporation/agentdisk/internal/wire"
)

type agentdiskCli struct {
	app *cli.App
}

func newAgentdiskCli() *agentdiskCli {
	a := &agentdiskCli{}

	app := cli.NewApp()
	app.Name = "agentdisk"
	app.Usage = "interact with an object-store device through its agent"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "net", Value: vdev.DefaultConfig.AgentNetwork, Usage: "network of the agent socket"},
		cli.StringFlag{Name: "socket", Value: vdev.DefaultConfig.AgentAddr, Usage: "address of the agent socket"},
		cli.DurationFlag{Name: "wait", Usage: "how long to wait for the agent socket to appear"},
		cli.StringFlag{Name: "endpoint", Usage: "object store endpoint"},
		cli.StringFlag{Name: "region", Usage: "object store region"},
		cli.StringFlag{Name: "credentials", Usage: "path to a file holding the credentials"},
		cli.StringFlag{Name: "bucket", Usage: "bucket backing the device"},
		cli.StringFlag{Name: "pool", Value: "tank", Usage: "pool name"},
		cli.Uint64Flag{Name: "guid", Value: 1, Usage: "pool GUID"},
	}
	app.Commands = []cli.Command{
		{
			Name:   "create",
			Usage:  "create the pool and report its geometry",
			Action: a.create,
		},
		{
			Name:   "status",
			Usage:  "open the pool and print its metadata snapshot",
			Action: a.status,
		},
		{
			Name:  "read",
			Usage: "read a range and hex-dump it",
			Flags: []cli.Flag{
				cli.Uint64Flag{Name: "offset", Usage: "byte offset, 512-aligned"},
				cli.Uint64Flag{Name: "length", Value: wire.BlockSize, Usage: "bytes to read"},
			},
			Action: a.read,
		},
		{
			Name:  "write",
			Usage: "write a string at an offset",
			Flags: []cli.Flag{
				cli.Uint64Flag{Name: "offset", Usage: "byte offset, 512-aligned"},
				cli.StringFlag{Name: "data", Usage: "bytes to write"},
			},
			Action: a.write,
		},
		{
			Name:  "free",
			Usage: "return a range to the agent",
			Flags: []cli.Flag{
				cli.Uint64Flag{Name: "offset", Usage: "byte offset, 512-aligned"},
				cli.Uint64Flag{Name: "size", Usage: "bytes to free"},
			},
			Action: a.free,
		},
		{
			Name:  "sync",
			Usage: "run one begin/end transaction group cycle",
			Flags: []cli.Flag{
				cli.Uint64Flag{Name: "txg", Value: 1, Usage: "transaction group id"},
				cli.StringFlag{Name: "snapshot", Usage: "file with the pool-state snapshot (zeros if unset)"},
			},
			Action: a.sync,
		},
	}
	a.app = app
	return a
}

func (a *agentdiskCli) run(args []string) error {
	return a.app.Run(args)
}

// openDevice builds a device from the global flags and opens it.
func (a *agentdiskCli) openDevice(c *cli.Context, create bool) (*vdev.Device, error) {
	credPath := c.GlobalString("credentials")
	material, err := ioutil.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("can't read credentials: %s", err)
	}

	cfg := vdev.DefaultConfig
	cfg.AgentNetwork = c.GlobalString("net")
	cfg.AgentAddr = c.GlobalString("socket")
	cfg.ConnectWait = c.GlobalDuration("wait")
	cfg.Endpoint = c.GlobalString("endpoint")
	cfg.Region = c.GlobalString("region")
	cfg.CredentialLocation = credPath
	cfg.Credentials = string(material)
	cfg.Bucket = c.GlobalString("bucket")
	cfg.PoolName = c.GlobalString("pool")
	cfg.PoolGUID = c.GlobalUint64("guid")

	d, cerr := vdev.NewDevice(cfg)
	if cerr != core.NoError {
		return nil, cerr.Error()
	}
	geom, cerr := d.Open(create)
	if cerr != core.NoError {
		return nil, cerr.Error()
	}
	log.V(1).Infof("device open: size=%d ashift=%d/%d",
		geom.Size, geom.LogicalAshift, geom.PhysicalAshift)
	return d, nil
}

func (a *agentdiskCli) create(c *cli.Context) error {
	d, err := a.openDevice(c, true)
	if err != nil {
		return fail(err)
	}
	defer d.Close()
	fmt.Printf("pool created; next_block=%d\n", d.NextBlock())
	return nil
}

func (a *agentdiskCli) status(c *cli.Context) error {
	d, err := a.openDevice(c, false)
	if err != nil {
		return fail(err)
	}
	defer d.Close()
	fmt.Printf("next_block: %d\n", d.NextBlock())
	if ub := d.Uberblock(); ub != nil {
		fmt.Printf("uberblock: %x...\n", ub[:16])
	} else {
		fmt.Println("uberblock: none")
	}
	for k, v := range d.ConfigGenerate() {
		fmt.Printf("%s: %s\n", k, v)
	}
	return nil
}

func (a *agentdiskCli) read(c *cli.Context) error {
	d, err := a.openDevice(c, false)
	if err != nil {
		return fail(err)
	}
	defer d.Close()

	buf := make([]byte, c.Uint64("length"))
	req := vdev.NewReadRequest(c.Uint64("offset"), buf, core.MedPri)
	if err := submitAndWait(d, req); err != nil {
		return fail(err)
	}
	fmt.Printf("%x\n", buf)
	return nil
}

func (a *agentdiskCli) write(c *cli.Context) error {
	d, err := a.openDevice(c, false)
	if err != nil {
		return fail(err)
	}
	defer d.Close()

	req := vdev.NewWriteRequest(c.Uint64("offset"), []byte(c.String("data")), core.MedPri)
	if err := submitAndWait(d, req); err != nil {
		return fail(err)
	}
	fmt.Println("ok")
	return nil
}

func (a *agentdiskCli) free(c *cli.Context) error {
	d, err := a.openDevice(c, false)
	if err != nil {
		return fail(err)
	}
	defer d.Close()

	if cerr := d.Free(c.Uint64("offset"), c.Uint64("size")); cerr != core.NoError {
		return fail(cerr.Error())
	}
	fmt.Println("ok")
	return nil
}

func (a *agentdiskCli) sync(c *cli.Context) error {
	d, err := a.openDevice(c, false)
	if err != nil {
		return fail(err)
	}
	defer d.Close()

	snapshot := make([]byte, wire.UberblockSize)
	if path := c.String("snapshot"); path != "" {
		if snapshot, err = ioutil.ReadFile(path); err != nil {
			return fail(err)
		}
	}

	txg := c.Uint64("txg")
	if cerr := d.BeginTxg(txg); cerr != core.NoError {
		return fail(cerr.Error())
	}
	if cerr := d.EndTxg(txg, snapshot); cerr != core.NoError {
		return fail(cerr.Error())
	}
	fmt.Printf("txg %d committed\n", txg)
	return nil
}

func submitAndWait(d *vdev.Device, req *vdev.Request) error {
	if cerr := d.Submit(req); cerr != core.NoError {
		return cerr.Error()
	}
	if cerr := req.Wait(); cerr != core.NoError {
		return cerr.Error()
	}
	return nil
}

func fail(err error) error {
	fmt.Fprintf(os.Stderr, "agentdisk: %s\n", err)
	return err
}

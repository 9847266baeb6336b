// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Program iblock provides a command-line wrapper around package iblockpkg APIs.
//
// The program requires a single argument that is a path to a package config
// formatted configuration to load. Optionally, overrides to the config may
// be passed as additional arguments in the form <section_name>.<option_name>=<value>.
//
package main

import (
	"fmt"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"github.com/NVIDIA/iblock/conf"
	"github.com/NVIDIA/iblock/iblock/iblockpkg"
)

func main() {
	var (
		confMap        conf.ConfMap
		err            error
		fissionErr     error
		fissionErrChan chan error
		signalChan     chan os.Signal
		signalReceived os.Signal
	)

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "no .conf file specified\n")
		os.Exit(1)
	}

	confMap, err = conf.MakeConfMapFromFile(os.Args[1])
	if nil != err {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = confMap.UpdateFromStrings(os.Args[2:])
	if nil != err {
		fmt.Fprintf(os.Stderr, "failed to apply config overrides: %v\n", err)
		os.Exit(1)
	}

	// Start

	fissionErrChan = make(chan error, 1)

	err = iblockpkg.Start(confMap, fissionErrChan)
	if nil != err {
		fmt.Fprintf(os.Stderr, "iblockpkg.Start(confMap, fissionErrChan) failed: %v\n", err)
		os.Exit(1)
	}

	// Arm signal handler used to indicate termination & wait on it
	//
	// Note: signal'd chan must be buffered to avoid race with window between
	// arming handler and blocking on the chan read

	signalChan = make(chan os.Signal, 1)

	signal.Notify(signalChan, unix.SIGINT, unix.SIGTERM, unix.SIGHUP)

	// Await a signal - reloading as indicated by SIGHUP - or an error from
	// the /dev/fuse read loop

Loop:
	for {
		select {
		case signalReceived = <-signalChan:
			if unix.SIGHUP != signalReceived {
				break Loop
			}

			// SIGHUP simply triggers a log rotation

			err = iblockpkg.Signal()
			if nil != err {
				fmt.Fprintf(os.Stderr, "iblockpkg.Signal() failed: %v\n", err)
				os.Exit(1)
			}
		case fissionErr = <-fissionErrChan:
			iblockpkg.LogFatalf("unexpected error from fission: %v", fissionErr)
		}
	}

	// Stop

	err = iblockpkg.Stop()
	if nil != err {
		fmt.Fprintf(os.Stderr, "iblockpkg.Stop() failed: %v\n", err)
		os.Exit(1)
	}
}

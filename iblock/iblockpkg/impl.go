// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iblockpkg

import (
	"github.com/NVIDIA/iblock/conf"
)

func start(confMap conf.ConfMap, fissionErrChan chan error) (err error) {
	err = initializeGlobals(confMap, fissionErrChan)
	if nil != err {
		return
	}

	globals.volume, err = openVolume()
	if nil != err {
		return
	}

	err = performMountFUSE()
	if nil != err {
		return
	}

	err = startHTTPServer()
	if nil != err {
		return
	}

	return
}

func stop() (err error) {
	err = stopHTTPServer()
	if nil != err {
		return
	}

	err = performUnmountFUSE()
	if nil != err {
		return
	}

	if nil != globals.volume {
		globals.volume.closeVolume()
		globals.volume = nil
	}

	globals.engine.Stop()

	err = uninitializeGlobals()

	return
}

func signal() (err error) {
	logSIGHUP()

	err = nil
	return
}

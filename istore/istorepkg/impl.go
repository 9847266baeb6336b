// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package istorepkg

import (
	"github.com/NVIDIA/iblock/conf"
)

func start(confMap conf.ConfMap) (err error) {
	err = initializeGlobals(confMap)
	if nil != err {
		return
	}

	err = startHTTPServer()
	if nil != err {
		return
	}

	logInfof("ISTORE up and serving http://%s", globals.httpServer.Addr)

	err = nil
	return
}

func stop() (err error) {
	err = stopHTTPServer()
	if nil != err {
		return
	}

	err = uninitializeGlobals()
	if nil != err {
		return
	}

	err = nil
	return
}

func signal() (err error) {
	logSIGHUP()

	err = nil
	return
}

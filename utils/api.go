// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package utils provides miscellaneous one-off helpers shared by the
// packages in this repository.
package utils

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
)

// JSONify returns the JSON representation of the supplied struct (or
// pointer to one), optionally indented, falling back to a %+v rendering
// should the struct prove unmarshalable.
func JSONify(input interface{}, indentify bool) (output string) {
	var (
		err         error
		outputBytes []byte
	)

	if indentify {
		outputBytes, err = json.MarshalIndent(input, "", "  ")
	} else {
		outputBytes, err = json.Marshal(input)
	}

	if nil == err {
		output = string(outputBytes[:])
	} else {
		output = fmt.Sprintf("%+v", input)
	}

	return
}

// FetchRandomByteSlice returns a buffer of the requested length filled
// with cryptographically random bytes.
func FetchRandomByteSlice(len int) (randomByteSlice []byte) {
	var (
		err error
	)

	randomByteSlice = make([]byte, len)

	_, err = rand.Read(randomByteSlice)
	if nil != err {
		panic(fmt.Errorf("rand.Read(randomByteSlice) failed: %v", err))
	}

	return
}

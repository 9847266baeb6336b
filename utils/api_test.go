// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"bytes"
	"testing"
)

func TestJSONify(t *testing.T) {
	type testStruct struct {
		Name string
		Port uint16
	}

	var (
		compact  string
		indented string
	)

	compact = JSONify(&testStruct{Name: "testvol", Port: 33123}, false)
	if "{\"Name\":\"testvol\",\"Port\":33123}" != compact {
		t.Fatalf("JSONify(,false) returned unexpected %q", compact)
	}

	indented = JSONify(&testStruct{Name: "testvol", Port: 33123}, true)
	if compact == indented {
		t.Fatalf("JSONify(,true) should have differed from JSONify(,false)")
	}
}

func TestFetchRandomByteSlice(t *testing.T) {
	var (
		randomByteSliceA []byte
		randomByteSliceB []byte
	)

	randomByteSliceA = FetchRandomByteSlice(32)
	if 32 != len(randomByteSliceA) {
		t.Fatalf("len(randomByteSliceA) (%v) should have been 32", len(randomByteSliceA))
	}

	randomByteSliceB = FetchRandomByteSlice(32)
	if bytes.Equal(randomByteSliceA, randomByteSliceB) {
		t.Fatalf("two FetchRandomByteSlice(32) calls should not have matched")
	}
}

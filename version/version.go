// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package version provides the single version string reported by each of
// the programs in this repository (e.g. via their GET /version endpoints).
package version

const (
	IBlockVersion = "0.1.0"
)

// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package bucketstats implements a simple in-memory statistics registry.
//
// A package declares a struct whose exported fields are of type Totaler
// and/or BucketLog2Round, registers a pointer to an instance of it via
// Register(), and then simply invokes the fields' methods on its hot
// paths. The accumulated values of every registered struct are rendered
// on demand via SprintStats() (typically behind an HTTP GET /stats
// endpoint).
//
// All field methods are safe for concurrent use without locking.
package bucketstats

// Totaler is a monotonically increasing counter.
type Totaler struct {
	total uint64
}

// BucketLog2Round accumulates a distribution of uint64 samples (count,
// sum, min, max, plus per-power-of-2 buckets with round-to-nearest
// bucket selection).
type BucketLog2Round struct {
	count      uint64
	sum        uint64
	minPlusOne uint64 // 0 == no samples yet
	max        uint64
	buckets    [65]uint64
}

// StatsFormatType selects the rendering style used by SprintStats.
type StatsFormatType uint32

const (
	// StatFormatParsable1 renders one stat per line as
	// "<pkgName>.<statsGroupName>.<fieldName> key:value ...".
	StatFormatParsable1 StatsFormatType = iota
)

// Register adds the supplied statsStruct (a pointer to a struct whose
// exported fields are Totaler and/or BucketLog2Round values) to the
// registry under pkgName.statsGroupName. Registering a name twice or
// passing anything but a conforming struct pointer panics (registration
// happens at process start; misuse is a programming error).
func Register(pkgName string, statsGroupName string, statsStruct interface{}) {
	register(pkgName, statsGroupName, statsStruct)
}

// UnRegister removes a previously Register()'d statsStruct.
func UnRegister(pkgName string, statsGroupName string) {
	unRegister(pkgName, statsGroupName)
}

// SprintStats renders every registered statsStruct matching the supplied
// pkgName and statsGroupName ("*" matches any) in the requested format.
func SprintStats(statsFormat StatsFormatType, pkgName string, statsGroupName string) (statsAsString string) {
	statsAsString = sprintStats(statsFormat, pkgName, statsGroupName)
	return
}

// Increment adds one to the Totaler.
func (totaler *Totaler) Increment() {
	totaler.add(1)
}

// Add adds the supplied delta to the Totaler.
func (totaler *Totaler) Add(delta uint64) {
	totaler.add(delta)
}

// TotalGet returns the Totaler's current value.
func (totaler *Totaler) TotalGet() (total uint64) {
	total = totaler.get()
	return
}

// Add records one sample.
func (bucketLog2Round *BucketLog2Round) Add(value uint64) {
	bucketLog2Round.add(value)
}

// CountGet returns the number of samples recorded.
func (bucketLog2Round *BucketLog2Round) CountGet() (count uint64) {
	count = bucketLog2Round.countGet()
	return
}

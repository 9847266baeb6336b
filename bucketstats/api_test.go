// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package bucketstats

import (
	"strings"
	"sync"
	"testing"
)

type testStatsStruct struct {
	ReadUsecs  BucketLog2Round
	WriteUsecs BucketLog2Round
	ClipErrors Totaler
}

func TestRegisterAddSprint(t *testing.T) {
	var (
		stats         *testStatsStruct
		statsAsString string
	)

	stats = &testStatsStruct{}

	Register("TESTPKG", "", stats)
	defer UnRegister("TESTPKG", "")

	stats.ClipErrors.Increment()
	stats.ClipErrors.Add(2)

	if 3 != stats.ClipErrors.TotalGet() {
		t.Fatalf("stats.ClipErrors.TotalGet() (%v) should have been 3", stats.ClipErrors.TotalGet())
	}

	stats.ReadUsecs.Add(0)
	stats.ReadUsecs.Add(5)
	stats.ReadUsecs.Add(100)

	if 3 != stats.ReadUsecs.CountGet() {
		t.Fatalf("stats.ReadUsecs.CountGet() (%v) should have been 3", stats.ReadUsecs.CountGet())
	}

	statsAsString = SprintStats(StatFormatParsable1, "TESTPKG", "")

	if !strings.Contains(statsAsString, "TESTPKG..ClipErrors total:3") {
		t.Fatalf("SprintStats() missing ClipErrors line:\n%s", statsAsString)
	}
	if !strings.Contains(statsAsString, "TESTPKG..ReadUsecs count:3 sum:105 min:0 max:100") {
		t.Fatalf("SprintStats() missing ReadUsecs line:\n%s", statsAsString)
	}
	if !strings.Contains(statsAsString, "TESTPKG..WriteUsecs count:0 sum:0 min:0 max:0") {
		t.Fatalf("SprintStats() missing (zero-valued) WriteUsecs line:\n%s", statsAsString)
	}

	statsAsString = SprintStats(StatFormatParsable1, "*", "*")
	if !strings.Contains(statsAsString, "TESTPKG..ClipErrors") {
		t.Fatalf("SprintStats(,\"*\",\"*\") missing TESTPKG entry:\n%s", statsAsString)
	}

	statsAsString = SprintStats(StatFormatParsable1, "OTHERPKG", "*")
	if "" != statsAsString {
		t.Fatalf("SprintStats(,\"OTHERPKG\",) should have been empty, got:\n%s", statsAsString)
	}
}

func TestConcurrentAdds(t *testing.T) {
	var (
		adderIndex int
		stats      *testStatsStruct
		wg         sync.WaitGroup
	)

	stats = &testStatsStruct{}

	Register("TESTPKGCONCURRENT", "", stats)
	defer UnRegister("TESTPKGCONCURRENT", "")

	for adderIndex = 0; adderIndex < 8; adderIndex++ {
		wg.Add(1)
		go func() {
			var (
				i uint64
			)
			for i = 1; i <= 1000; i++ {
				stats.WriteUsecs.Add(i)
				stats.ClipErrors.Increment()
			}
			wg.Done()
		}()
	}

	wg.Wait()

	if 8000 != stats.WriteUsecs.CountGet() {
		t.Fatalf("stats.WriteUsecs.CountGet() (%v) should have been 8000", stats.WriteUsecs.CountGet())
	}
	if 8000 != stats.ClipErrors.TotalGet() {
		t.Fatalf("stats.ClipErrors.TotalGet() (%v) should have been 8000", stats.ClipErrors.TotalGet())
	}
}

func TestLog2RoundBucketIndex(t *testing.T) {
	var (
		testCase struct {
			value       uint64
			bucketIndex int
		}
		testCases []struct {
			value       uint64
			bucketIndex int
		}
	)

	testCases = []struct {
		value       uint64
		bucketIndex int
	}{
		{0, 0},
		{1, 1},
		{2, 2},
		{3, 2}, // 3 is the [2,4] midpoint; midpoints round down
		{4, 3},
		{5, 3}, // 5 rounds down to 4
		{6, 3}, // 6 is the [4,8] midpoint; midpoints round down
		{7, 4}, // 7 rounds up to 8
		{8, 4},
	}

	for _, testCase = range testCases {
		if log2RoundBucketIndex(testCase.value) != testCase.bucketIndex {
			t.Fatalf("log2RoundBucketIndex(%v) (%v) should have been %v", testCase.value, log2RoundBucketIndex(testCase.value), testCase.bucketIndex)
		}
	}
}

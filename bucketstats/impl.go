// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package bucketstats

import (
	"fmt"
	"math/bits"
	"reflect"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

type registryEntryStruct struct {
	pkgName        string
	statsGroupName string
	statsStruct    interface{}
}

var (
	registry     map[string]*registryEntryStruct
	registryLock sync.Mutex
)

func init() {
	registry = make(map[string]*registryEntryStruct)
}

func registryKey(pkgName string, statsGroupName string) string {
	return pkgName + "." + statsGroupName
}

func register(pkgName string, statsGroupName string, statsStruct interface{}) {
	var (
		fieldIndex        int
		key               string
		ok                bool
		statsStructValue  reflect.Value
		statsStructStruct reflect.Value
	)

	key = registryKey(pkgName, statsGroupName)

	statsStructValue = reflect.ValueOf(statsStruct)
	if reflect.Ptr != statsStructValue.Kind() {
		panic(fmt.Errorf("bucketstats.Register(%q,%q,) passed a non-pointer", pkgName, statsGroupName))
	}

	statsStructStruct = statsStructValue.Elem()
	if reflect.Struct != statsStructStruct.Kind() {
		panic(fmt.Errorf("bucketstats.Register(%q,%q,) passed a pointer to a non-struct", pkgName, statsGroupName))
	}

	for fieldIndex = 0; fieldIndex < statsStructStruct.NumField(); fieldIndex++ {
		switch statsStructStruct.Field(fieldIndex).Addr().Interface().(type) {
		case *Totaler:
		case *BucketLog2Round:
		default:
			panic(fmt.Errorf("bucketstats.Register(%q,%q,) field %s is neither a Totaler nor a BucketLog2Round", pkgName, statsGroupName, statsStructStruct.Type().Field(fieldIndex).Name))
		}
	}

	registryLock.Lock()
	defer registryLock.Unlock()

	_, ok = registry[key]
	if ok {
		panic(fmt.Errorf("bucketstats.Register(%q,%q,) called twice", pkgName, statsGroupName))
	}

	registry[key] = &registryEntryStruct{
		pkgName:        pkgName,
		statsGroupName: statsGroupName,
		statsStruct:    statsStruct,
	}
}

func unRegister(pkgName string, statsGroupName string) {
	registryLock.Lock()
	defer registryLock.Unlock()

	delete(registry, registryKey(pkgName, statsGroupName))
}

func sprintStats(statsFormat StatsFormatType, pkgName string, statsGroupName string) (statsAsString string) {
	var (
		key               string
		matchingKeys      []string
		registryEntry     *registryEntryStruct
		statsStringBuffer strings.Builder
	)

	if StatFormatParsable1 != statsFormat {
		panic(fmt.Errorf("bucketstats.SprintStats() passed unknown statsFormat: %v", statsFormat))
	}

	registryLock.Lock()
	defer registryLock.Unlock()

	matchingKeys = make([]string, 0, len(registry))

	for key, registryEntry = range registry {
		if ("*" != pkgName) && (pkgName != registryEntry.pkgName) {
			continue
		}
		if ("*" != statsGroupName) && (statsGroupName != registryEntry.statsGroupName) {
			continue
		}
		matchingKeys = append(matchingKeys, key)
	}

	sort.Strings(matchingKeys)

	for _, key = range matchingKeys {
		registryEntry = registry[key]
		sprintStatsStruct(&statsStringBuffer, registryEntry)
	}

	statsAsString = statsStringBuffer.String()
	return
}

func sprintStatsStruct(statsStringBuffer *strings.Builder, registryEntry *registryEntryStruct) {
	var (
		bucketIndex       int
		bucketLog2Round   *BucketLog2Round
		fieldIndex        int
		fieldName         string
		minPlusOne        uint64
		statName          string
		statsStructStruct reflect.Value
		totaler           *Totaler
	)

	statsStructStruct = reflect.ValueOf(registryEntry.statsStruct).Elem()

	for fieldIndex = 0; fieldIndex < statsStructStruct.NumField(); fieldIndex++ {
		fieldName = statsStructStruct.Type().Field(fieldIndex).Name
		statName = registryEntry.pkgName + "." + registryEntry.statsGroupName + "." + fieldName

		switch field := statsStructStruct.Field(fieldIndex).Addr().Interface().(type) {
		case *Totaler:
			totaler = field
			fmt.Fprintf(statsStringBuffer, "%s total:%d\n", statName, totaler.get())
		case *BucketLog2Round:
			bucketLog2Round = field
			minPlusOne = atomic.LoadUint64(&bucketLog2Round.minPlusOne)
			if 0 != minPlusOne {
				minPlusOne--
			}
			fmt.Fprintf(statsStringBuffer, "%s count:%d sum:%d min:%d max:%d",
				statName,
				atomic.LoadUint64(&bucketLog2Round.count),
				atomic.LoadUint64(&bucketLog2Round.sum),
				minPlusOne,
				atomic.LoadUint64(&bucketLog2Round.max))
			for bucketIndex = 0; bucketIndex < len(bucketLog2Round.buckets); bucketIndex++ {
				if 0 != atomic.LoadUint64(&bucketLog2Round.buckets[bucketIndex]) {
					fmt.Fprintf(statsStringBuffer, " 2^%d:%d", bucketIndex, atomic.LoadUint64(&bucketLog2Round.buckets[bucketIndex]))
				}
			}
			statsStringBuffer.WriteString("\n")
		}
	}
}

func (totaler *Totaler) add(delta uint64) {
	atomic.AddUint64(&totaler.total, delta)
}

func (totaler *Totaler) get() (total uint64) {
	total = atomic.LoadUint64(&totaler.total)
	return
}

func (bucketLog2Round *BucketLog2Round) add(value uint64) {
	var (
		bucketIndex int
		oldExtreme  uint64
	)

	bucketIndex = log2RoundBucketIndex(value)

	atomic.AddUint64(&bucketLog2Round.count, 1)
	atomic.AddUint64(&bucketLog2Round.sum, value)
	atomic.AddUint64(&bucketLog2Round.buckets[bucketIndex], 1)

	for {
		oldExtreme = atomic.LoadUint64(&bucketLog2Round.max)
		if value <= oldExtreme {
			break
		}
		if atomic.CompareAndSwapUint64(&bucketLog2Round.max, oldExtreme, value) {
			break
		}
	}

	for {
		oldExtreme = atomic.LoadUint64(&bucketLog2Round.minPlusOne)
		if (0 != oldExtreme) && ((value + 1) >= oldExtreme) {
			break
		}
		if atomic.CompareAndSwapUint64(&bucketLog2Round.minPlusOne, oldExtreme, value+1) {
			break
		}
	}
}

func (bucketLog2Round *BucketLog2Round) countGet() (count uint64) {
	count = atomic.LoadUint64(&bucketLog2Round.count)
	return
}

// log2RoundBucketIndex maps a sample to the index of its nearest power of
// 2: 0 maps to bucket 0, 1 to bucket 1, and any other value v to
// round(log2(v))+1.
func log2RoundBucketIndex(value uint64) (bucketIndex int) {
	var (
		floorLog2 int
	)

	if 0 == value {
		bucketIndex = 0
		return
	}

	floorLog2 = bits.Len64(value) - 1

	bucketIndex = floorLog2 + 1

	if (floorLog2 < 63) && (value > (uint64(1)<<floorLog2)+(uint64(1)<<floorLog2)/2) {
		bucketIndex++
	}

	return
}

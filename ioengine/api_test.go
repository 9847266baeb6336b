// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package ioengine

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPostRunsAllWork(t *testing.T) {
	var (
		engine    *EngineStruct
		postIndex int
		ranCount  uint64
		wg        sync.WaitGroup
	)

	engine = NewEngine(4)

	for postIndex = 0; postIndex < 1000; postIndex++ {
		wg.Add(1)
		engine.Post(func() {
			atomic.AddUint64(&ranCount, 1)
			wg.Done()
		})
	}

	wg.Wait()

	if 1000 != atomic.LoadUint64(&ranCount) {
		t.Fatalf("ranCount (%v) should have been 1000", atomic.LoadUint64(&ranCount))
	}

	engine.Stop()
}

func TestStopDrainsQueuedWork(t *testing.T) {
	var (
		engine    *EngineStruct
		postIndex int
		ranCount  uint64
	)

	engine = NewEngine(1)

	// A slow first item guarantees the remainder are still queued when
	// Stop() begins.

	engine.Post(func() {
		time.Sleep(50 * time.Millisecond)
		atomic.AddUint64(&ranCount, 1)
	})

	for postIndex = 0; postIndex < 100; postIndex++ {
		engine.Post(func() {
			atomic.AddUint64(&ranCount, 1)
		})
	}

	engine.Stop()

	if 101 != atomic.LoadUint64(&ranCount) {
		t.Fatalf("ranCount (%v) should have been 101 after Stop()", atomic.LoadUint64(&ranCount))
	}
}

func TestPostCompletionDeliversResultCode(t *testing.T) {
	var (
		engine         *EngineStruct
		resultCodeChan chan int
	)

	engine = NewEngine(2)

	resultCodeChan = make(chan int, 1)

	engine.PostCompletion(func(resultCode int) {
		resultCodeChan <- resultCode
	}, -22)

	if -22 != <-resultCodeChan {
		t.Fatalf("completion should have been delivered -22")
	}

	engine.DispatchCompletion(func(resultCode int) {
		resultCodeChan <- resultCode
	}, 0)

	if 0 != <-resultCodeChan {
		t.Fatalf("completion should have been delivered 0")
	}

	engine.Stop()
}

func TestStrandNeverConcurrentAndFIFO(t *testing.T) {
	var (
		concurrent    int64
		engine        *EngineStruct
		maxConcurrent int64
		observed      []int
		observedLock  sync.Mutex
		postIndex     int
		strand        *StrandStruct
		wg            sync.WaitGroup
	)

	engine = NewEngine(8)

	strand = engine.NewStrand()

	for postIndex = 0; postIndex < 500; postIndex++ {
		wg.Add(1)
		sequence := postIndex
		strand.Post(func() {
			nowConcurrent := atomic.AddInt64(&concurrent, 1)
			for {
				oldMax := atomic.LoadInt64(&maxConcurrent)
				if nowConcurrent <= oldMax {
					break
				}
				if atomic.CompareAndSwapInt64(&maxConcurrent, oldMax, nowConcurrent) {
					break
				}
			}
			observedLock.Lock()
			observed = append(observed, sequence)
			observedLock.Unlock()
			atomic.AddInt64(&concurrent, -1)
			wg.Done()
		})
	}

	wg.Wait()

	if 1 != atomic.LoadInt64(&maxConcurrent) {
		t.Fatalf("maxConcurrent (%v) should have been 1", atomic.LoadInt64(&maxConcurrent))
	}

	for postIndex = 0; postIndex < 500; postIndex++ {
		if observed[postIndex] != postIndex {
			t.Fatalf("observed[%v] (%v) out of posting order", postIndex, observed[postIndex])
		}
	}

	engine.Stop()
}

func TestTwoStrandsProgressIndependently(t *testing.T) {
	var (
		engine  *EngineStruct
		strandA *StrandStruct
		strandB *StrandStruct
		wg      sync.WaitGroup
	)

	engine = NewEngine(2)

	strandA = engine.NewStrand()
	strandB = engine.NewStrand()

	// A long-running item on strand A must not stall strand B.

	wg.Add(2)

	strandA.Post(func() {
		time.Sleep(100 * time.Millisecond)
		wg.Done()
	})

	strandB.Post(func() {
		wg.Done()
	})

	doneChan := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneChan)
	}()

	select {
	case <-doneChan:
	case <-time.After(5 * time.Second):
		t.Fatalf("strands failed to progress independently")
	}

	engine.Stop()
}

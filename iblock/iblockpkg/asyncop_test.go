// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iblockpkg

import (
	"container/list"
	"sync/atomic"
	"testing"
	"time"

	"github.com/NVIDIA/iblock/blunder"
	"github.com/NVIDIA/iblock/ioengine"
)

const testAsyncOpFireWait = 250 * time.Millisecond

// testEngineSetup installs just enough of globals for tracker-level and
// dispatcher-level tests that never open a volume.
func testEngineSetup(t *testing.T) {
	initLogger()

	globals.engine = ioengine.NewEngine(4)
	globals.strand = globals.engine.NewStrand()
	globals.stats = &statsStruct{}
}

func testEngineTeardown(t *testing.T) {
	globals.engine.Stop()

	globals.engine = nil
	globals.strand = nil
	globals.stats = nil
}

func testNewTrackerVolume() (volume *volumeStruct) {
	volume = &volumeStruct{
		name:         testVolumeName,
		asyncOpsList: list.New(),
	}
	return
}

func testFired(fireChan chan int) (fired bool) {
	select {
	case <-fireChan:
		fired = true
	case <-time.After(testAsyncOpFireWait):
		fired = false
	}
	return
}

func TestFlushWithNothingOlderFiresImmediately(t *testing.T) {
	var (
		fireChan  chan int
		operation *asyncOperationStruct
		volume    *volumeStruct
	)

	testEngineSetup(t)
	defer testEngineTeardown(t)

	volume = testNewTrackerVolume()

	operation = &asyncOperationStruct{}
	operation.startOp(volume)

	fireChan = make(chan int, 1)

	operation.flush(func(resultCode int) {
		fireChan <- resultCode
	})

	if !testFired(fireChan) {
		t.Fatalf("flush() on the oldest started operation failed to fire")
	}

	operation.finishOp()

	if 0 != volume.asyncOpsList.Len() {
		t.Fatalf("volume.asyncOpsList.Len() == %d after finishOp() (expected 0)", volume.asyncOpsList.Len())
	}
}

func TestFlushAwaitsOlderOperation(t *testing.T) {
	var (
		fireChan   chan int
		fireCount  uint32
		operationA *asyncOperationStruct
		operationB *asyncOperationStruct
		volume     *volumeStruct
	)

	testEngineSetup(t)
	defer testEngineTeardown(t)

	volume = testNewTrackerVolume()

	// Start A then B, flush on B, finish B first... the callback must
	// ride A and fire exactly once, only when A finishes.

	operationA = &asyncOperationStruct{}
	operationA.startOp(volume)

	operationB = &asyncOperationStruct{}
	operationB.startOp(volume)

	fireChan = make(chan int, 2)
	fireCount = 0

	operationB.flush(func(resultCode int) {
		atomic.AddUint32(&fireCount, 1)
		fireChan <- resultCode
	})

	if testFired(fireChan) {
		t.Fatalf("flush callback fired before anything finished")
	}

	operationB.finishOp()

	if testFired(fireChan) {
		t.Fatalf("flush callback fired after only the newer operation finished")
	}

	operationA.finishOp()

	if !testFired(fireChan) {
		t.Fatalf("flush callback failed to fire after the older operation finished")
	}
	if testFired(fireChan) {
		t.Fatalf("flush callback fired more than once")
	}
	if 1 != atomic.LoadUint32(&fireCount) {
		t.Fatalf("fireCount == %d (expected 1)", atomic.LoadUint32(&fireCount))
	}
}

func TestFlushBarrierAcrossInterleavings(t *testing.T) {
	var (
		finishOrder       []int
		finishOrders      [][]int
		fireChan          chan int
		operationIndex    int
		operations        []*asyncOperationStruct
		volume            *volumeStruct
		waitsForOperation map[int]bool
	)

	testEngineSetup(t)
	defer testEngineTeardown(t)

	// Operations 0..3 start in index order; a flush is attached while
	// operation 2 is the newest started. The callback must wait for
	// operations 0 and 1 (and only those) no matter the finish order.

	finishOrders = [][]int{
		{3, 1, 0, 2},
		{1, 3, 0, 2},
		{1, 0, 3, 2},
		{0, 1, 2, 3},
		{3, 0, 1, 2},
	}

	waitsForOperation = map[int]bool{0: true, 1: true}

	for _, finishOrder = range finishOrders {
		volume = testNewTrackerVolume()

		operations = make([]*asyncOperationStruct, 4)
		for operationIndex = range operations {
			operations[operationIndex] = &asyncOperationStruct{}
		}

		operations[0].startOp(volume)
		operations[1].startOp(volume)
		operations[2].startOp(volume)

		fireChan = make(chan int, 1)

		operations[2].flush(func(resultCode int) {
			fireChan <- resultCode
		})

		operations[3].startOp(volume)

		for _, operationIndex = range finishOrder {
			operations[operationIndex].finishOp()

			if waitsForOperation[operationIndex] {
				delete(waitsForOperation, operationIndex)
			}

			if 0 == len(waitsForOperation) {
				break
			}

			if testFired(fireChan) {
				t.Fatalf("finishOrder %v: flush callback fired after finishing operation %d with %v still in flight", finishOrder, operationIndex, waitsForOperation)
			}
		}

		if !testFired(fireChan) {
			t.Fatalf("finishOrder %v: flush callback failed to fire once every older operation finished", finishOrder)
		}

		// Drain the rest and reset for the next interleaving.

		for _, operationIndex = range finishOrder {
			if nil != operations[operationIndex].listElement {
				operations[operationIndex].finishOp()
			}
		}

		waitsForOperation = map[int]bool{0: true, 1: true}
	}
}

func TestShutdownBarrierDrainsOlderOperations(t *testing.T) {
	var (
		fireChan          chan int
		operationA        *asyncOperationStruct
		operationB        *asyncOperationStruct
		shutdownOperation *asyncOperationStruct
		volume            *volumeStruct
	)

	testEngineSetup(t)
	defer testEngineTeardown(t)

	volume = testNewTrackerVolume()

	// The dispatcher's shutdown path rides a throwaway operation's flush
	// barrier; it must trail every genuinely older operation no matter
	// which of them finishes last.

	operationA = &asyncOperationStruct{}
	operationA.startOp(volume)

	operationB = &asyncOperationStruct{}
	operationB.startOp(volume)

	shutdownOperation = &asyncOperationStruct{}
	shutdownOperation.startOp(volume)

	fireChan = make(chan int, 1)

	shutdownOperation.flush(func(resultCode int) {
		fireChan <- resultCode
	})

	operationB.finishOp()

	if testFired(fireChan) {
		t.Fatalf("shutdown flush fired with an older operation still in flight")
	}

	operationA.finishOp()

	if !testFired(fireChan) {
		t.Fatalf("shutdown flush failed to fire once every older operation finished")
	}

	shutdownOperation.finishOp()

	if 0 != volume.asyncOpsList.Len() {
		t.Fatalf("volume.asyncOpsList.Len() == %d after draining (expected 0)", volume.asyncOpsList.Len())
	}
}

func TestDispatcherShutdownRejectsNewRequests(t *testing.T) {
	var (
		requestResultChan  chan int
		resultCode         int
		shutdownResultChan chan int
		volume             *volumeStruct
	)

	testEngineSetup(t)
	defer testEngineTeardown(t)

	volume = testNewTrackerVolume()
	volume.storeClient = &storeClientStruct{
		volume:       volume,
		readCacheMap: make(map[readCacheKeyStruct]*readCacheLineStruct),
		readCacheLRU: list.New(),
	}
	volume.dispatcher = newDispatcher(volume)

	shutdownResultChan = make(chan int, 1)

	volume.dispatcher.shutdown(func(resultCode int) {
		shutdownResultChan <- resultCode
	})

	select {
	case resultCode = <-shutdownResultChan:
		if 0 != resultCode {
			t.Fatalf("shutdown completed with resultCode %d (expected 0)", resultCode)
		}
	case <-time.After(testAwaitMaxDelay):
		t.Fatalf("shutdown failed to complete")
	}

	requestResultChan = make(chan int, 1)

	volume.dispatcher.send(&volumeRequestStruct{
		volume:  volume,
		payload: &flushPayloadStruct{},
		completion: func(resultCode int) {
			requestResultChan <- resultCode
		},
	})

	select {
	case resultCode = <-requestResultChan:
		if -int(blunder.ShutdownError) != resultCode {
			t.Fatalf("post-shutdown send completed with resultCode %d (expected %d)", resultCode, -int(blunder.ShutdownError))
		}
	case <-time.After(testAwaitMaxDelay):
		t.Fatalf("post-shutdown send failed to complete")
	}
}

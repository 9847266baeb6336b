// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iblockpkg

import (
	"container/list"
	"sync"

	"github.com/NVIDIA/iblock/blunder"
	"github.com/NVIDIA/iblock/ioengine"
)

// writeBlockLayerStruct quiesces the write path on demand. Blocking
// completes once every write-class request already past this layer has
// finished; write-class requests arriving while blocked are held and
// resume in arrival order on the final unblock. Blocks nest. Reads,
// flushes, and list-snaps always pass through.
type writeBlockLayerStruct struct {
	volume              *volumeStruct
	writeBlockLock      sync.Mutex
	writeBlockerCount   uint32
	inFlightWriteCount  uint64
	heldRequestList     *list.List                // of *volumeRequestStruct
	blockCompletionList []ioengine.CompletionFunc // fire when in-flight writes drain
	unblockWaitList     []ioengine.CompletionFunc // fire when the last blocker unblocks
}

func newWriteBlockLayer(volume *volumeStruct) (layer *writeBlockLayerStruct) {
	layer = &writeBlockLayerStruct{
		volume:             volume,
		writeBlockerCount:  0,
		inFlightWriteCount: 0,
		heldRequestList:    list.New(),
	}
	return
}

func (layer *writeBlockLayerStruct) name() (layerName string) {
	return "writeblock"
}

func (layer *writeBlockLayerStruct) read(request *volumeRequestStruct) (handled bool) {
	return false
}

func (layer *writeBlockLayerStruct) write(request *volumeRequestStruct) (handled bool) {
	return layer.gate(request)
}

func (layer *writeBlockLayerStruct) discard(request *volumeRequestStruct) (handled bool) {
	return layer.gate(request)
}

func (layer *writeBlockLayerStruct) writeSame(request *volumeRequestStruct) (handled bool) {
	return layer.gate(request)
}

func (layer *writeBlockLayerStruct) compareAndWrite(request *volumeRequestStruct) (handled bool) {
	return layer.gate(request)
}

func (layer *writeBlockLayerStruct) flush(request *volumeRequestStruct) (handled bool) {
	return false
}

func (layer *writeBlockLayerStruct) listSnaps(request *volumeRequestStruct) (handled bool) {
	return false
}

func (layer *writeBlockLayerStruct) gate(request *volumeRequestStruct) (handled bool) {
	layer.writeBlockLock.Lock()

	if 0 != layer.writeBlockerCount {
		_ = layer.heldRequestList.PushBack(request)
		globals.stats.WriteBlockHeldRequests.Increment()
		layer.writeBlockLock.Unlock()
		handled = true
		return
	}

	request.flags |= requestFlagWriteBlockTracked
	layer.inFlightWriteCount++

	layer.writeBlockLock.Unlock()

	handled = false
	return
}

func (layer *writeBlockLayerStruct) finished(request *volumeRequestStruct) {
	var (
		completion  ioengine.CompletionFunc
		completions []ioengine.CompletionFunc
	)

	layer.writeBlockLock.Lock()

	if 0 == (request.flags & requestFlagWriteBlockTracked) {
		layer.writeBlockLock.Unlock()
		return
	}

	layer.inFlightWriteCount--

	if (0 != layer.writeBlockerCount) && (0 == layer.inFlightWriteCount) {
		completions = layer.blockCompletionList
		layer.blockCompletionList = nil
	}

	layer.writeBlockLock.Unlock()

	for _, completion = range completions {
		globals.engine.PostCompletion(completion, 0)
	}
}

// asyncBlockWrites registers a blocker and posts completion once every
// write-class request already in flight has finished.
func (layer *writeBlockLayerStruct) asyncBlockWrites(completion ioengine.CompletionFunc) {
	layer.writeBlockLock.Lock()

	layer.writeBlockerCount++

	if 0 == layer.inFlightWriteCount {
		layer.writeBlockLock.Unlock()
		globals.engine.PostCompletion(completion, 0)
		return
	}

	layer.blockCompletionList = append(layer.blockCompletionList, completion)

	layer.writeBlockLock.Unlock()
}

func (layer *writeBlockLayerStruct) blockWrites() {
	var (
		drainedChan chan struct{}
	)

	drainedChan = make(chan struct{}, 1)

	layer.asyncBlockWrites(func(resultCode int) {
		drainedChan <- struct{}{}
	})

	<-drainedChan
}

// unblockWrites removes one blocker. When the last blocker is removed,
// held write-class requests resume in arrival order and unblock waiters
// are posted. Unblocking a volume whose writes are not blocked is an
// error.
func (layer *writeBlockLayerStruct) unblockWrites() (err error) {
	var (
		completion  ioengine.CompletionFunc
		heldElement *list.Element
		heldRequest *volumeRequestStruct
		resumeList  []*volumeRequestStruct
		waiters     []ioengine.CompletionFunc
	)

	layer.writeBlockLock.Lock()

	if 0 == layer.writeBlockerCount {
		layer.writeBlockLock.Unlock()
		err = blunder.NewError(blunder.InvalidArgError, "writes are not blocked")
		return
	}

	layer.writeBlockerCount--

	if 0 != layer.writeBlockerCount {
		layer.writeBlockLock.Unlock()
		err = nil
		return
	}

	for 0 != layer.heldRequestList.Len() {
		heldElement = layer.heldRequestList.Front()
		heldRequest = heldElement.Value.(*volumeRequestStruct)
		_ = layer.heldRequestList.Remove(heldElement)

		heldRequest.flags |= requestFlagWriteBlockTracked
		layer.inFlightWriteCount++

		resumeList = append(resumeList, heldRequest)
	}

	waiters = layer.unblockWaitList
	layer.unblockWaitList = nil

	layer.writeBlockLock.Unlock()

	for _, heldRequest = range resumeList {
		layer.volume.dispatcher.resume(heldRequest)
	}

	for _, completion = range waiters {
		globals.engine.PostCompletion(completion, 0)
	}

	err = nil
	return
}

func (layer *writeBlockLayerStruct) writesBlocked() (blocked bool) {
	layer.writeBlockLock.Lock()
	blocked = 0 != layer.writeBlockerCount
	layer.writeBlockLock.Unlock()
	return
}

// waitOnWritesUnblocked posts completion once no blocker remains (at once
// if writes are not blocked).
func (layer *writeBlockLayerStruct) waitOnWritesUnblocked(completion ioengine.CompletionFunc) {
	layer.writeBlockLock.Lock()

	if 0 == layer.writeBlockerCount {
		layer.writeBlockLock.Unlock()
		globals.engine.PostCompletion(completion, 0)
		return
	}

	layer.unblockWaitList = append(layer.unblockWaitList, completion)

	layer.writeBlockLock.Unlock()
}

func (layer *writeBlockLayerStruct) teardown() {
	layer.writeBlockLock.Lock()

	if 0 != layer.heldRequestList.Len() {
		logFatalf("writeblock layer torn down with %d held request(s)", layer.heldRequestList.Len())
	}
	if 0 != layer.inFlightWriteCount {
		logFatalf("writeblock layer torn down with %d in-flight write(s)", layer.inFlightWriteCount)
	}
	if 0 != len(layer.blockCompletionList) {
		logFatalf("writeblock layer torn down with %d pending block completion(s)", len(layer.blockCompletionList))
	}

	layer.writeBlockLock.Unlock()
}

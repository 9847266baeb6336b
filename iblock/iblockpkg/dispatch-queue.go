// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iblockpkg

import (
	"container/list"
	"math"
	"sync"

	"github.com/google/btree"
)

// queueLayerStruct bounds concurrent in-flight work and preserves
// submission order for overlapping writes.
//
// Admission is strict FIFO: while any request waits, later arrivals wait
// behind it even if they would themselves be admissible. A request is
// admissible when a slot is free ([IBLOCK]QueueDepth; zero means
// unbounded) and, for write-class kinds, when none of its extents overlap
// an extent of an in-flight write-class request. In-flight write extents
// are indexed in a btree per address space; because admission keeps them
// pairwise disjoint, an overlap probe needs only the nearest extent
// starting at or before the probe plus a range scan of extents starting
// within it. Flush and list-snaps requests neither consume slots nor wait.
type queueLayerStruct struct {
	volume           *volumeStruct
	queueLock        sync.Mutex
	depth            uint32
	inFlightCount    uint32
	waitList         *list.List   // of *volumeRequestStruct; Front() is next to admit
	dataWriteIndex   *btree.BTree // of *inFlightWriteExtentStruct (data area)
	headerWriteIndex *btree.BTree // of *inFlightWriteExtentStruct (aux header area)
}

// inFlightWriteExtentStruct indexes one non-empty extent of an admitted
// write-class request, ordered by (offset, tid).
type inFlightWriteExtentStruct struct {
	offset uint64
	length uint64
	tid    uint64
}

func (extent *inFlightWriteExtentStruct) Less(than btree.Item) bool {
	var (
		thanExtent *inFlightWriteExtentStruct
	)

	thanExtent = than.(*inFlightWriteExtentStruct)

	if extent.offset == thanExtent.offset {
		return extent.tid < thanExtent.tid
	}

	return extent.offset < thanExtent.offset
}

func newQueueLayer(volume *volumeStruct) (layer *queueLayerStruct) {
	layer = &queueLayerStruct{
		volume:           volume,
		depth:            globals.config.QueueDepth,
		inFlightCount:    0,
		waitList:         list.New(),
		dataWriteIndex:   btree.New(2),
		headerWriteIndex: btree.New(2),
	}
	return
}

func (layer *queueLayerStruct) name() (layerName string) {
	return "queue"
}

func (layer *queueLayerStruct) read(request *volumeRequestStruct) (handled bool) {
	return layer.admit(request)
}

func (layer *queueLayerStruct) write(request *volumeRequestStruct) (handled bool) {
	return layer.admit(request)
}

func (layer *queueLayerStruct) discard(request *volumeRequestStruct) (handled bool) {
	return layer.admit(request)
}

func (layer *queueLayerStruct) writeSame(request *volumeRequestStruct) (handled bool) {
	return layer.admit(request)
}

func (layer *queueLayerStruct) compareAndWrite(request *volumeRequestStruct) (handled bool) {
	return layer.admit(request)
}

func (layer *queueLayerStruct) flush(request *volumeRequestStruct) (handled bool) {
	return false
}

func (layer *queueLayerStruct) listSnaps(request *volumeRequestStruct) (handled bool) {
	return false
}

func (layer *queueLayerStruct) admit(request *volumeRequestStruct) (handled bool) {
	layer.queueLock.Lock()

	if (0 == layer.waitList.Len()) && layer.admissibleLocked(request) {
		layer.admitLocked(request)
		layer.queueLock.Unlock()
		handled = false
		return
	}

	_ = layer.waitList.PushBack(request)
	globals.stats.QueueHeldRequests.Increment()

	layer.queueLock.Unlock()

	handled = true
	return
}

func (layer *queueLayerStruct) admissibleLocked(request *volumeRequestStruct) (admissible bool) {
	var (
		extent extentStruct
	)

	if (0 != layer.depth) && (layer.inFlightCount >= layer.depth) {
		admissible = false
		return
	}

	if request.isWriteClass() {
		for _, extent = range request.extents {
			if layer.overlapsInFlightWriteLocked(request, extent) {
				admissible = false
				return
			}
		}
	}

	admissible = true
	return
}

func (layer *queueLayerStruct) writeIndexFor(request *volumeRequestStruct) (writeIndex *btree.BTree) {
	if 0 != (request.flags & RequestFlagAuxHeaderArea) {
		writeIndex = layer.headerWriteIndex
	} else {
		writeIndex = layer.dataWriteIndex
	}
	return
}

func (layer *queueLayerStruct) overlapsInFlightWriteLocked(request *volumeRequestStruct, extent extentStruct) (overlaps bool) {
	var (
		writeIndex *btree.BTree
	)

	if 0 == extent.length {
		overlaps = false
		return
	}

	writeIndex = layer.writeIndexFor(request)

	// Only the nearest in-flight extent starting at or before this one
	// can span across its start (indexed extents are pairwise disjoint).

	writeIndex.DescendLessOrEqual(&inFlightWriteExtentStruct{offset: extent.offset, tid: math.MaxUint64}, func(item btree.Item) bool {
		var (
			inFlightWriteExtent *inFlightWriteExtentStruct
		)

		inFlightWriteExtent = item.(*inFlightWriteExtentStruct)
		overlaps = (inFlightWriteExtent.offset + inFlightWriteExtent.length) > extent.offset

		return false
	})

	if overlaps {
		return
	}

	// Any in-flight extent starting inside this one overlaps it.

	writeIndex.AscendRange(
		&inFlightWriteExtentStruct{offset: extent.offset, tid: 0},
		&inFlightWriteExtentStruct{offset: extent.offset + extent.length, tid: 0},
		func(item btree.Item) bool {
			overlaps = true
			return false
		})

	return
}

func (layer *queueLayerStruct) admitLocked(request *volumeRequestStruct) {
	var (
		extent     extentStruct
		writeIndex *btree.BTree
	)

	layer.inFlightCount++
	request.flags |= requestFlagQueueAdmitted

	if request.isWriteClass() {
		writeIndex = layer.writeIndexFor(request)
		for _, extent = range request.extents {
			if 0 != extent.length {
				_ = writeIndex.ReplaceOrInsert(&inFlightWriteExtentStruct{offset: extent.offset, length: extent.length, tid: request.tid})
			}
		}
	}
}

func (layer *queueLayerStruct) finished(request *volumeRequestStruct) {
	var (
		extent        extentStruct
		resumeList    []*volumeRequestStruct
		waitElement   *list.Element
		waitedRequest *volumeRequestStruct
		writeIndex    *btree.BTree
	)

	layer.queueLock.Lock()

	if 0 == (request.flags & requestFlagQueueAdmitted) {
		layer.queueLock.Unlock()
		return
	}

	layer.inFlightCount--

	if request.isWriteClass() {
		writeIndex = layer.writeIndexFor(request)
		for _, extent = range request.extents {
			if 0 != extent.length {
				_ = writeIndex.Delete(&inFlightWriteExtentStruct{offset: extent.offset, length: extent.length, tid: request.tid})
			}
		}
	}

	// Admit newly admissible waiters from the head (FIFO; the first
	// non-admissible waiter stops the drain).

	for 0 != layer.waitList.Len() {
		waitElement = layer.waitList.Front()
		waitedRequest = waitElement.Value.(*volumeRequestStruct)
		if !layer.admissibleLocked(waitedRequest) {
			break
		}
		_ = layer.waitList.Remove(waitElement)
		layer.admitLocked(waitedRequest)
		resumeList = append(resumeList, waitedRequest)
	}

	layer.queueLock.Unlock()

	for _, waitedRequest = range resumeList {
		layer.volume.dispatcher.resume(waitedRequest)
	}
}

func (layer *queueLayerStruct) teardown() {
	layer.queueLock.Lock()

	if 0 != layer.waitList.Len() {
		logFatalf("queue layer torn down with %d waiting request(s)", layer.waitList.Len())
	}
	if 0 != layer.inFlightCount {
		logFatalf("queue layer torn down with %d in-flight request(s)", layer.inFlightCount)
	}
	if (0 != layer.dataWriteIndex.Len()) || (0 != layer.headerWriteIndex.Len()) {
		logFatalf("queue layer torn down with in-flight write extents still indexed")
	}

	layer.queueLock.Unlock()
}

func (layer *queueLayerStruct) status() (inFlightCount uint32, heldCount int) {
	layer.queueLock.Lock()
	inFlightCount = layer.inFlightCount
	heldCount = layer.waitList.Len()
	layer.queueLock.Unlock()
	return
}

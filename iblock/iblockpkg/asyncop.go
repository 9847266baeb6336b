// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iblockpkg

import (
	"container/list"

	"github.com/NVIDIA/iblock/ioengine"
)

// asyncOperationStruct tracks one started operation on the owning volume's
// newest-to-oldest asyncOpsList. A flush context appended to an operation
// fires only after that operation and every older one have finished. When
// an operation finishes while older operations remain, its pending flush
// contexts migrate to its next-older neighbor rather than firing, so a
// barrier placed at any point in the stream is honored no matter in what
// order the operations ahead of it complete.
type asyncOperationStruct struct {
	volume           *volumeStruct // set exactly once by startOp()
	listElement      *list.Element // non-nil while on volume.asyncOpsList
	pendingFlushList list.List     // of ioengine.CompletionFunc
}

func (operation *asyncOperationStruct) startOp(volume *volumeStruct) {
	if nil != operation.listElement {
		logFatalf("(*asyncOperationStruct).startOp() called on an already started operation")
	}

	operation.volume = volume

	volume.asyncOpsLock.Lock()
	operation.listElement = volume.asyncOpsList.PushFront(operation)
	volume.asyncOpsLock.Unlock()
}

func (operation *asyncOperationStruct) finishOp() {
	var (
		olderElement        *list.Element
		olderOperation      *asyncOperationStruct
		pendingFlushElement *list.Element
		pendingFlushes      []ioengine.CompletionFunc
		volume              *volumeStruct
	)

	volume = operation.volume

	volume.asyncOpsLock.Lock()

	if nil == operation.listElement {
		logFatalf("(*asyncOperationStruct).finishOp() called on a non-started operation")
	}

	olderElement = operation.listElement.Next()

	if nil != olderElement {
		// Older operations remain... hand off our pending flush contexts
		// (in order) to the next-older neighbor.

		if 0 != operation.pendingFlushList.Len() {
			globals.stats.FlushCallbackHandoffs.Add(uint64(operation.pendingFlushList.Len()))
		}

		olderOperation = olderElement.Value.(*asyncOperationStruct)
		olderOperation.pendingFlushList.PushBackList(&operation.pendingFlushList)

		volume.asyncOpsList.Remove(operation.listElement)
		operation.listElement = nil

		volume.asyncOpsLock.Unlock()

		return
	}

	// This was the oldest operation... collect its pending flush contexts
	// under asyncOpsLock but deliver them only after releasing it.

	for pendingFlushElement = operation.pendingFlushList.Front(); nil != pendingFlushElement; pendingFlushElement = pendingFlushElement.Next() {
		pendingFlushes = append(pendingFlushes, pendingFlushElement.Value.(ioengine.CompletionFunc))
	}

	volume.asyncOpsList.Remove(operation.listElement)
	operation.listElement = nil

	volume.asyncOpsLock.Unlock()

	if 0 != len(pendingFlushes) {
		volume.postFlushCompletions(pendingFlushes)
	}
}

func (operation *asyncOperationStruct) flush(onFinish ioengine.CompletionFunc) {
	var (
		olderElement   *list.Element
		olderOperation *asyncOperationStruct
		volume         *volumeStruct
	)

	volume = operation.volume

	volume.asyncOpsLock.Lock()

	if nil == operation.listElement {
		logFatalf("(*asyncOperationStruct).flush() called on a non-started operation")
	}

	olderElement = operation.listElement.Next()

	if nil != olderElement {
		olderOperation = olderElement.Value.(*asyncOperationStruct)
		olderOperation.pendingFlushList.PushBack(onFinish)
		volume.asyncOpsLock.Unlock()
		return
	}

	volume.asyncOpsLock.Unlock()

	// No older operation remains... onFinish is immediately due.

	volume.postFlushCompletions([]ioengine.CompletionFunc{onFinish})
}

// postFlushCompletions delivers due flush contexts on an engine worker,
// holding the volume owner lock shared for the duration of the delivery.
// It must not be called with asyncOpsLock held.
func (volume *volumeStruct) postFlushCompletions(pendingFlushes []ioengine.CompletionFunc) {
	globals.engine.Post(func() {
		var (
			pendingFlush ioengine.CompletionFunc
		)

		volume.ownerLock.RLock()
		defer volume.ownerLock.RUnlock()

		for _, pendingFlush = range pendingFlushes {
			pendingFlush(0)
		}
	})
}

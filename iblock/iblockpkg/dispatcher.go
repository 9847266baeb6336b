// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iblockpkg

import (
	"sync/atomic"

	"github.com/NVIDIA/iblock/blunder"
	"github.com/NVIDIA/iblock/ioengine"
	"github.com/NVIDIA/iblock/vlayout"
)

// dispatchLayerInterface is the contract each dispatch layer implements.
// Each per-kind handler returns whether the layer took ownership of the
// request (held it for later resumption or completed it); an unhandled
// request proceeds to the next layer. finished() is invoked for every
// layer (reverse registration order) exactly once as a request completes
// so the layer can retire any per-request state it holds. teardown() is
// invoked (reverse registration order) exactly once at volume shutdown
// after all in-flight requests have drained.
type dispatchLayerInterface interface {
	name() (layerName string)
	read(request *volumeRequestStruct) (handled bool)
	write(request *volumeRequestStruct) (handled bool)
	discard(request *volumeRequestStruct) (handled bool)
	writeSame(request *volumeRequestStruct) (handled bool)
	compareAndWrite(request *volumeRequestStruct) (handled bool)
	flush(request *volumeRequestStruct) (handled bool)
	listSnaps(request *volumeRequestStruct) (handled bool)
	finished(request *volumeRequestStruct)
	teardown()
}

// dispatcherStruct walks requests down the volume's ordered layer chain.
// The layer slice is immutable once the first request has been dispatched.
type dispatcherStruct struct {
	volume         *volumeStruct
	layers         []dispatchLayerInterface
	nextTID        uint64 // accessed atomically
	dispatched     uint64 // accessed atomically; non-zero once send() has run
	shutdownCalled uint64 // accessed atomically; non-zero once shutdown() has run
}

func newDispatcher(volume *volumeStruct) (dispatcher *dispatcherStruct) {
	dispatcher = &dispatcherStruct{
		volume: volume,
		layers: make([]dispatchLayerInterface, 0, 5),
	}
	return
}

// registerLayer appends layer to the chain. Registration order is
// processing order. Registering once dispatching has begun is a
// programming error.
func (dispatcher *dispatcherStruct) registerLayer(layer dispatchLayerInterface) {
	if 0 != atomic.LoadUint64(&dispatcher.dispatched) {
		logFatalf("(*dispatcherStruct).registerLayer(\"%s\") called after first dispatch", layer.name())
	}

	dispatcher.layers = append(dispatcher.layers, layer)
}

// send enters a request into the layer chain. A request arriving with
// tid == 0 is new: it is assigned the next tid, preprocessed (clipping and
// write-class validation) exactly once, and its operation is started. A
// request re-entering with tid != 0 simply continues from its stored layer
// ordinal. Requests sent after shutdown() complete with ESHUTDOWN without
// touching any layer.
func (dispatcher *dispatcherStruct) send(request *volumeRequestStruct) {
	var (
		err error
	)

	if 0 == request.tid {
		if 0 != atomic.LoadUint64(&dispatcher.shutdownCalled) {
			globals.stats.RequestsShutdownRejected.Increment()
			request.result = -int(blunder.ShutdownError)
			globals.strand.PostCompletion(request.completion, request.result)
			return
		}

		atomic.StoreUint64(&dispatcher.dispatched, 1)

		request.tid = atomic.AddUint64(&dispatcher.nextTID, 1)

		err = dispatcher.preprocess(request)
		if nil != err {
			logTracef("dispatcher: tid 0x%016X %s failed preprocess: %v", request.tid, opKindName(request.kind()), err)
			request.result = -blunder.Errno(err)
			globals.strand.PostCompletion(request.completion, request.result)
			return
		}

		request.operation.startOp(dispatcher.volume)
	}

	dispatcher.walk(request)
}

// resume continues a request (held by a queuing layer) from its stored
// layer ordinal on an engine worker, never inline.
func (dispatcher *dispatcherStruct) resume(request *volumeRequestStruct) {
	globals.engine.Post(func() {
		dispatcher.walk(request)
	})
}

func (dispatcher *dispatcherStruct) walk(request *volumeRequestStruct) {
	var (
		handled bool
		layer   dispatchLayerInterface
	)

	for {
		if request.nextLayerOrdinal >= len(dispatcher.layers) {
			logFatalf("tid 0x%016X (%s) ran off the end of the layer chain", request.tid, opKindName(request.kind()))
		}

		layer = dispatcher.layers[request.nextLayerOrdinal]

		// Advance before invoking so a held request resumes at the
		// layer after the one that held it.

		request.nextLayerOrdinal++

		handled = dispatcher.sendToLayer(layer, request)
		if handled {
			return
		}
	}
}

func (dispatcher *dispatcherStruct) sendToLayer(layer dispatchLayerInterface, request *volumeRequestStruct) (handled bool) {
	switch request.payload.(type) {
	case *readPayloadStruct:
		handled = layer.read(request)
	case *writePayloadStruct:
		handled = layer.write(request)
	case *discardPayloadStruct:
		handled = layer.discard(request)
	case *writeSamePayloadStruct:
		handled = layer.writeSame(request)
	case *compareAndWritePayloadStruct:
		handled = layer.compareAndWrite(request)
	case *flushPayloadStruct:
		handled = layer.flush(request)
	case *listSnapsPayloadStruct:
		handled = layer.listSnaps(request)
	default:
		logFatalf("tid 0x%016X carries an unknown payload type (%T)", request.tid, request.payload)
	}

	return
}

// preprocess clips the request's extents to the selected address space and
// enforces write-class validation. It runs exactly once per request (at
// tid assignment) and has no side effects on failure.
func (dispatcher *dispatcherStruct) preprocess(request *volumeRequestStruct) (err error) {
	var (
		areaSize    uint64
		extentIndex int
		opKind      uint32
		skipClip    bool
		volume      *volumeStruct
	)

	volume = dispatcher.volume
	opKind = request.kind()

	// List-snaps requests carry snap ids, not extents; reads may opt out
	// of clipping (callers reading the header region of a volume whose
	// current size is unknown). Flush carries no extents, so clipping it
	// is structurally a no-op.

	skipClip = (opKindListSnaps == opKind) ||
		((opKindRead == opKind) && (0 != (request.flags & ReadFlagDisableClipping)))

	volume.ownerLock.RLock()

	if !skipClip {
		if 0 != (request.flags & RequestFlagAuxHeaderArea) {
			areaSize = vlayout.AuxHeaderAreaSize
		} else {
			areaSize = volume.size
		}

		for extentIndex = range request.extents {
			if request.extents[extentIndex].offset > areaSize {
				volume.ownerLock.RUnlock()
				globals.stats.RequestsClipFailed.Increment()
				err = blunder.NewError(blunder.InvalidArgError, "%s offset 0x%016X beyond area size 0x%016X", opKindName(opKind), request.extents[extentIndex].offset, areaSize)
				return
			}
			if request.extents[extentIndex].length > (areaSize - request.extents[extentIndex].offset) {
				request.extents[extentIndex].length = areaSize - request.extents[extentIndex].offset
			}
		}
	}

	if 0 != (opKind & opKindWriteClass) {
		if volume.readOnly {
			volume.ownerLock.RUnlock()
			globals.stats.RequestsReadOnlyRejected.Increment()
			err = blunder.NewError(blunder.ReadOnlyError, "%s rejected: volume \"%s\" is read-only", opKindName(opKind), volume.name)
			return
		}
		if 0 != volume.snapPinID {
			volume.ownerLock.RUnlock()
			globals.stats.RequestsReadOnlyRejected.Increment()
			err = blunder.NewError(blunder.ReadOnlyError, "%s rejected: volume \"%s\" is pinned to snap 0x%016X", opKindName(opKind), volume.name, volume.snapPinID)
			return
		}
	}

	volume.ownerLock.RUnlock()

	err = nil
	return
}

// shutdown arranges for completion to be posted once every in-flight
// request has drained and the layers are torn down. It invalidates the
// read cache, then rides a throwaway operation's flush barrier: the barrier
// fires only after every operation started before it has finished.
func (dispatcher *dispatcherStruct) shutdown(completion ioengine.CompletionFunc) {
	var (
		shutdownOperation *asyncOperationStruct
	)

	if 0 != atomic.SwapUint64(&dispatcher.shutdownCalled, 1) {
		logFatalf("(*dispatcherStruct).shutdown() called twice")
	}

	dispatcher.volume.storeClient.invalidateReadCache()

	shutdownOperation = &asyncOperationStruct{}
	shutdownOperation.startOp(dispatcher.volume)

	shutdownOperation.flush(func(resultCode int) {
		// The barrier fires with the volume owner lock held shared;
		// post the teardown so it runs lock-free.

		globals.engine.Post(func() {
			var (
				layerOrdinal int
			)

			shutdownOperation.finishOp()

			for layerOrdinal = len(dispatcher.layers) - 1; layerOrdinal >= 0; layerOrdinal-- {
				dispatcher.layers[layerOrdinal].teardown()
			}

			globals.strand.PostCompletion(completion, resultCode)
		})
	})
}

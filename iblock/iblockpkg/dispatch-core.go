// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iblockpkg

import (
	"github.com/NVIDIA/sortedmap"

	"github.com/NVIDIA/iblock/blunder"
	"github.com/NVIDIA/iblock/vlayout"
)

// coreLayerStruct is the terminal layer: it translates clipped, validated
// extents into per-object store operations and completes every request it
// is handed (backend errnos pass through unmodified). Backend calls run on
// engine workers, never on the sender's goroutine.
type coreLayerStruct struct {
	volume *volumeStruct
}

// objectSpanStruct is the portion of one store object covered by (part of)
// an extent.
type objectSpanStruct struct {
	objectNumber uint64
	objectOffset uint64
	length       uint64
}

func newCoreLayer(volume *volumeStruct) (layer *coreLayerStruct) {
	layer = &coreLayerStruct{volume: volume}
	return
}

func (layer *coreLayerStruct) name() (layerName string) {
	return "core"
}

// objectSpans splits extent into per-object spans. The auxiliary header
// area lives entirely in the volume header object (beyond the marshaled
// header, per vlayout.AuxHeaderAreaOffset), so a header-area extent is
// always a single span there; data-area extents split at 1<<objectOrder
// boundaries.
func (layer *coreLayerStruct) objectSpans(extent extentStruct, auxHeaderArea bool) (spans []objectSpanStruct) {
	var (
		objectOffset uint64
		objectSize   uint64
		offset       uint64
		remaining    uint64
		spanLength   uint64
	)

	if 0 == extent.length {
		return
	}

	if auxHeaderArea {
		spans = []objectSpanStruct{{
			objectNumber: vlayout.VolumeHeaderObjectNumber,
			objectOffset: vlayout.AuxHeaderAreaOffset + extent.offset,
			length:       extent.length,
		}}
		return
	}

	objectSize = uint64(1) << layer.volume.objectOrder

	offset = extent.offset
	remaining = extent.length

	for 0 != remaining {
		objectOffset = vlayout.DataObjectOffset(offset, layer.volume.objectOrder)

		spanLength = objectSize - objectOffset
		if spanLength > remaining {
			spanLength = remaining
		}

		spans = append(spans, objectSpanStruct{
			objectNumber: vlayout.DataObjectNumber(offset, layer.volume.objectOrder),
			objectOffset: objectOffset,
			length:       spanLength,
		})

		offset += spanLength
		remaining -= spanLength
	}

	return
}

func (layer *coreLayerStruct) auxHeaderArea(request *volumeRequestStruct) (auxHeaderArea bool) {
	return 0 != (request.flags & RequestFlagAuxHeaderArea)
}

func (layer *coreLayerStruct) read(request *volumeRequestStruct) (handled bool) {
	if 0 == request.totalLength() {
		request.complete(0)
		handled = true
		return
	}

	globals.engine.Post(func() {
		layer.performRead(request)
	})

	handled = true
	return
}

func (layer *coreLayerStruct) performRead(request *volumeRequestStruct) {
	var (
		auxHeaderArea bool
		bufOffset     uint64
		err           error
		extent        extentStruct
		payload       *readPayloadStruct
		span          objectSpanStruct
	)

	payload = request.payload.(*readPayloadStruct)
	payload.buf = make([]byte, request.totalLength())

	auxHeaderArea = layer.auxHeaderArea(request)

	bufOffset = 0

	for _, extent = range request.extents {
		for _, span = range layer.objectSpans(extent, auxHeaderArea) {
			err = layer.volume.storeClient.objectRead(span.objectNumber, span.objectOffset, payload.buf[bufOffset:bufOffset+span.length])
			if nil != err {
				request.complete(-blunder.Errno(err))
				return
			}
			bufOffset += span.length
		}
	}

	request.complete(0)
}

func (layer *coreLayerStruct) write(request *volumeRequestStruct) (handled bool) {
	if 0 == request.totalLength() {
		request.complete(0)
		handled = true
		return
	}

	globals.engine.Post(func() {
		layer.performWrite(request)
	})

	handled = true
	return
}

func (layer *coreLayerStruct) performWrite(request *volumeRequestStruct) {
	var (
		auxHeaderArea bool
		bufOffset     uint64
		err           error
		extent        extentStruct
		payload       *writePayloadStruct
		span          objectSpanStruct
	)

	payload = request.payload.(*writePayloadStruct)

	auxHeaderArea = layer.auxHeaderArea(request)

	bufOffset = 0

	for _, extent = range request.extents {
		for _, span = range layer.objectSpans(extent, auxHeaderArea) {
			err = layer.volume.storeClient.objectPut(span.objectNumber, span.objectOffset, payload.buf[bufOffset:bufOffset+span.length])
			if nil != err {
				request.complete(-blunder.Errno(err))
				return
			}
			bufOffset += span.length
		}
	}

	request.complete(0)
}

func (layer *coreLayerStruct) discard(request *volumeRequestStruct) (handled bool) {
	if 0 == request.totalLength() {
		request.complete(0)
		handled = true
		return
	}

	globals.engine.Post(func() {
		layer.performDiscard(request)
	})

	handled = true
	return
}

func (layer *coreLayerStruct) performDiscard(request *volumeRequestStruct) {
	var (
		alignedEnd    uint64
		alignedStart  uint64
		auxHeaderArea bool
		err           error
		extent        extentStruct
		granularity   uint64
		objectSize    uint64
		span          objectSpanStruct
	)

	auxHeaderArea = layer.auxHeaderArea(request)
	granularity = globals.config.DiscardGranularity
	objectSize = uint64(1) << layer.volume.objectOrder

	for _, extent = range request.extents {
		alignedStart = extent.offset
		alignedEnd = extent.offset + extent.length

		// Only whole granules are discarded; the ragged head and tail
		// of the range are left intact.

		if 0 != granularity {
			alignedStart = ((alignedStart + granularity - 1) / granularity) * granularity
			alignedEnd = (alignedEnd / granularity) * granularity
		}

		if alignedStart >= alignedEnd {
			continue
		}

		for _, span = range layer.objectSpans(extentStruct{offset: alignedStart, length: alignedEnd - alignedStart}, auxHeaderArea) {
			if !auxHeaderArea && globals.config.DiscardZeroesFullObjects && (0 == span.objectOffset) && (objectSize == span.length) {
				err = layer.volume.storeClient.objectDelete(span.objectNumber)
			} else {
				err = layer.volume.storeClient.objectZero(span.objectNumber, span.objectOffset, span.length)
			}
			if nil != err {
				request.complete(-blunder.Errno(err))
				return
			}
		}
	}

	request.complete(0)
}

func (layer *coreLayerStruct) writeSame(request *volumeRequestStruct) (handled bool) {
	if 0 == request.totalLength() {
		request.complete(0)
		handled = true
		return
	}

	globals.engine.Post(func() {
		layer.performWriteSame(request)
	})

	handled = true
	return
}

func (layer *coreLayerStruct) performWriteSame(request *volumeRequestStruct) {
	var (
		auxHeaderArea bool
		err           error
		extent        extentStruct
		extentOffset  uint64
		patternLength uint64
		payload       *writeSamePayloadStruct
		span          objectSpanStruct
		startPhase    uint64
	)

	payload = request.payload.(*writeSamePayloadStruct)
	patternLength = uint64(len(payload.pattern))

	auxHeaderArea = layer.auxHeaderArea(request)

	for _, extent = range request.extents {
		extentOffset = 0

		for _, span = range layer.objectSpans(extent, auxHeaderArea) {
			startPhase = extentOffset % patternLength

			if (0 == startPhase) && (0 == (span.length % patternLength)) {
				err = layer.volume.storeClient.objectWriteSame(span.objectNumber, span.objectOffset, payload.pattern, span.length)
			} else {
				// The span boundaries don't line up with the
				// pattern... materialize the bytes instead.

				err = layer.volume.storeClient.objectPut(span.objectNumber, span.objectOffset, materializePattern(payload.pattern, startPhase, span.length))
			}
			if nil != err {
				request.complete(-blunder.Errno(err))
				return
			}

			extentOffset += span.length
		}
	}

	request.complete(0)
}

func materializePattern(pattern []byte, startPhase uint64, length uint64) (buf []byte) {
	var (
		bufIndex      uint64
		patternLength uint64
		phase         uint64
	)

	patternLength = uint64(len(pattern))

	buf = make([]byte, length)

	phase = startPhase
	for bufIndex = 0; bufIndex < length; bufIndex++ {
		buf[bufIndex] = pattern[phase]
		phase++
		if phase == patternLength {
			phase = 0
		}
	}

	return
}

func (layer *coreLayerStruct) compareAndWrite(request *volumeRequestStruct) (handled bool) {
	var (
		payload *compareAndWritePayloadStruct
		spans   []objectSpanStruct
	)

	handled = true

	payload = request.payload.(*compareAndWritePayloadStruct)

	if 1 != len(request.extents) {
		request.complete(-int(blunder.InvalidArgError))
		return
	}

	// The compared length is exact: a request clipped shorter than its
	// buffers must fail rather than compare a prefix.

	if (request.extents[0].length != uint64(len(payload.compareBuf))) || (request.extents[0].length != uint64(len(payload.writeBuf))) {
		request.complete(-int(blunder.InvalidArgError))
		return
	}

	if 0 == request.extents[0].length {
		request.complete(0)
		return
	}

	spans = layer.objectSpans(request.extents[0], layer.auxHeaderArea(request))
	if 1 != len(spans) {
		request.complete(-int(blunder.InvalidArgError))
		return
	}

	globals.engine.Post(func() {
		layer.performCompareAndWrite(request, spans[0])
	})

	return
}

func (layer *coreLayerStruct) performCompareAndWrite(request *volumeRequestStruct, span objectSpanStruct) {
	var (
		err            error
		matched        bool
		mismatchOffset int64
		payload        *compareAndWritePayloadStruct
	)

	payload = request.payload.(*compareAndWritePayloadStruct)

	matched, mismatchOffset, err = layer.volume.storeClient.objectCompareAndWrite(span.objectNumber, span.objectOffset, payload.compareBuf, payload.writeBuf)
	if nil != err {
		request.complete(-blunder.Errno(err))
		return
	}

	if !matched {
		payload.mismatchOffset = mismatchOffset
		globals.stats.CompareAndWriteMismatches.Increment()
		request.complete(-int(blunder.MismatchError))
		return
	}

	request.complete(0)
}

func (layer *coreLayerStruct) flush(request *volumeRequestStruct) (handled bool) {
	// The barrier: complete once every operation older than this one has
	// finished.

	request.operation.flush(func(resultCode int) {
		request.complete(resultCode)
	})

	handled = true
	return
}

func (layer *coreLayerStruct) listSnaps(request *volumeRequestStruct) (handled bool) {
	var (
		err                error
		ok                 bool
		payload            *listSnapsPayloadStruct
		snapID             uint64
		snapRecordAsValue  sortedmap.Value
		snapRecords        []vlayout.SnapshotRecordV1Struct
		snapshotTableIndex int
		snapshotTableLen   int
		volume             *volumeStruct
	)

	handled = true

	payload = request.payload.(*listSnapsPayloadStruct)
	volume = layer.volume

	volume.ownerLock.RLock()

	if 0 == len(payload.snapIDs) {
		snapshotTableLen, err = volume.snapshotTable.Len()
		if nil != err {
			logFatalf("volume.snapshotTable.Len() failed: %v", err)
		}

		snapRecords = make([]vlayout.SnapshotRecordV1Struct, 0, snapshotTableLen)

		for snapshotTableIndex = 0; snapshotTableIndex < snapshotTableLen; snapshotTableIndex++ {
			_, snapRecordAsValue, ok, err = volume.snapshotTable.GetByIndex(snapshotTableIndex)
			if nil != err {
				logFatalf("volume.snapshotTable.GetByIndex(%d) failed: %v", snapshotTableIndex, err)
			}
			if !ok {
				logFatalf("volume.snapshotTable.GetByIndex(%d) returned !ok", snapshotTableIndex)
			}
			snapRecords = append(snapRecords, *(snapRecordAsValue.(*vlayout.SnapshotRecordV1Struct)))
		}
	} else {
		snapRecords = make([]vlayout.SnapshotRecordV1Struct, 0, len(payload.snapIDs))

		for _, snapID = range payload.snapIDs {
			snapRecordAsValue, ok, err = volume.snapshotTable.GetByKey(snapID)
			if nil != err {
				logFatalf("volume.snapshotTable.GetByKey(0x%016X) failed: %v", snapID, err)
			}
			if !ok {
				volume.ownerLock.RUnlock()
				request.complete(-int(blunder.NotFoundError))
				return
			}
			snapRecords = append(snapRecords, *(snapRecordAsValue.(*vlayout.SnapshotRecordV1Struct)))
		}
	}

	volume.ownerLock.RUnlock()

	payload.snapRecords = snapRecords

	request.complete(0)
	return
}

func (layer *coreLayerStruct) finished(request *volumeRequestStruct) {
	// Terminal layer; nothing to retire.
}

func (layer *coreLayerStruct) teardown() {
}

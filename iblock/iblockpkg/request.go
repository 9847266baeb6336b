// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iblockpkg

import (
	"github.com/NVIDIA/iblock/ioengine"
	"github.com/NVIDIA/iblock/vlayout"
)

// Operation kinds, one bit each so layers can match sets of them.

const (
	opKindRead = uint32(1) << iota
	opKindWrite
	opKindDiscard
	opKindWriteSame
	opKindCompareAndWrite
	opKindFlush
	opKindListSnaps
)

const opKindWriteClass = opKindWrite | opKindDiscard | opKindWriteSame | opKindCompareAndWrite

// Layer-progress request flags. The low byte is reserved for the exported
// Request/Read flags in api.go.

const (
	requestFlagQueueAdmitted     = uint32(0x00000100) // dispatch-queue admitted (and indexed) this request
	requestFlagWriteBlockTracked = uint32(0x00000200) // dispatch-writeblock counts this request in flight

	requestFlagQoSChargedIOPS      = uint32(0x00010000)
	requestFlagQoSChargedBPS       = uint32(0x00020000)
	requestFlagQoSChargedReadIOPS  = uint32(0x00040000)
	requestFlagQoSChargedWriteIOPS = uint32(0x00080000)
	requestFlagQoSChargedReadBPS   = uint32(0x00100000)
	requestFlagQoSChargedWriteBPS  = uint32(0x00200000)
)

// payloadInterface is the sealed sum type carried by a volumeRequestStruct.
// Layers route on the concrete type (equivalently on kind()); the set of
// implementations below is exhaustive.
type payloadInterface interface {
	kind() (opKind uint32)
}

type readPayloadStruct struct {
	buf []byte // allocated by the core layer to the clipped length
}

type writePayloadStruct struct {
	buf []byte
}

type discardPayloadStruct struct {
}

type writeSamePayloadStruct struct {
	pattern []byte
}

type compareAndWritePayloadStruct struct {
	compareBuf     []byte
	writeBuf       []byte
	mismatchOffset int64 // index into compareBuf of the first differing byte; valid only on EILSEQ
}

type flushPayloadStruct struct {
}

type listSnapsPayloadStruct struct {
	snapIDs     []uint64                         // empty selects every snapshot
	snapRecords []vlayout.SnapshotRecordV1Struct // filled by the core layer
}

func (payload *readPayloadStruct) kind() (opKind uint32) {
	return opKindRead
}

func (payload *writePayloadStruct) kind() (opKind uint32) {
	return opKindWrite
}

func (payload *discardPayloadStruct) kind() (opKind uint32) {
	return opKindDiscard
}

func (payload *writeSamePayloadStruct) kind() (opKind uint32) {
	return opKindWriteSame
}

func (payload *compareAndWritePayloadStruct) kind() (opKind uint32) {
	return opKindCompareAndWrite
}

func (payload *flushPayloadStruct) kind() (opKind uint32) {
	return opKindFlush
}

func (payload *listSnapsPayloadStruct) kind() (opKind uint32) {
	return opKindListSnaps
}

type extentStruct struct {
	offset uint64
	length uint64
}

// volumeRequestStruct is one in-flight operation as it travels the layer
// chain. tid is zero until the dispatcher first sees the request; a request
// re-entering the dispatcher with tid != 0 is resumed, never re-preprocessed.
type volumeRequestStruct struct {
	volume           *volumeStruct
	tid              uint64
	extents          []extentStruct
	payload          payloadInterface
	completion       ioengine.CompletionFunc
	flags            uint32
	result           int
	operation        asyncOperationStruct
	nextLayerOrdinal int
}

func (request *volumeRequestStruct) kind() (opKind uint32) {
	return request.payload.kind()
}

func (request *volumeRequestStruct) isWriteClass() (isWriteClass bool) {
	return 0 != (request.kind() & opKindWriteClass)
}

func (request *volumeRequestStruct) totalLength() (totalLength uint64) {
	var (
		extent extentStruct
	)

	totalLength = 0
	for _, extent = range request.extents {
		totalLength += extent.length
	}

	return
}

// complete finishes the request: it records the result, lets every layer
// retire its per-request state (reverse registration order), finishes the
// tracked operation, and posts the caller's completion on the API strand.
// It must be called exactly once per started request.
func (request *volumeRequestStruct) complete(resultCode int) {
	var (
		dispatcher   *dispatcherStruct
		layerOrdinal int
	)

	request.result = resultCode

	dispatcher = request.volume.dispatcher

	for layerOrdinal = len(dispatcher.layers) - 1; layerOrdinal >= 0; layerOrdinal-- {
		dispatcher.layers[layerOrdinal].finished(request)
	}

	request.operation.finishOp()

	globals.strand.PostCompletion(request.completion, resultCode)
}

func opKindName(opKind uint32) (opKindName string) {
	switch opKind {
	case opKindRead:
		opKindName = "read"
	case opKindWrite:
		opKindName = "write"
	case opKindDiscard:
		opKindName = "discard"
	case opKindWriteSame:
		opKindName = "write-same"
	case opKindCompareAndWrite:
		opKindName = "compare-and-write"
	case opKindFlush:
		opKindName = "flush"
	case opKindListSnaps:
		opKindName = "list-snaps"
	default:
		opKindName = "unknown"
	}

	return
}

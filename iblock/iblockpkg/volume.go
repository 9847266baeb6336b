// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iblockpkg

import (
	"container/list"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NVIDIA/sortedmap"

	"github.com/NVIDIA/iblock/blunder"
	"github.com/NVIDIA/iblock/vlayout"
)

// volumeStruct is the opened volume. name, objectOrder, and createTime are
// immutable once openVolume() returns; the remaining header-derived fields
// are guarded by ownerLock and replaced wholesale by applyVolumeHeader().
type volumeStruct struct {
	name        string
	objectOrder uint64
	createTime  time.Time

	ownerLock        sync.RWMutex
	size             uint64
	readOnly         bool
	snapPinID        uint64
	headerGeneration uint64
	snapshotTable    sortedmap.LLRBTree // SnapID (uint64) -> *vlayout.SnapshotRecordV1Struct

	asyncOpsLock sync.Mutex
	asyncOpsList *list.List // of *asyncOperationStruct; Front() is newest

	dispatcher      *dispatcherStruct
	queueLayer      *queueLayerStruct
	qosLayer        *qosLayerStruct
	writeBlockLayer *writeBlockLayerStruct
	refreshLayer    *refreshLayerStruct
	coreLayer       *coreLayerStruct

	storeClient *storeClientStruct
}

func (volume *volumeStruct) DumpKey(key sortedmap.Key) (keyAsString string, err error) {
	var (
		keyAsUint64 uint64
		ok          bool
	)

	keyAsUint64, ok = key.(uint64)
	if ok {
		keyAsString = fmt.Sprintf("0x%016X", keyAsUint64)
		err = nil
	} else {
		err = fmt.Errorf("snapshotTable's DumpKey(%v) called for non-uint64", key)
	}

	return
}

func (volume *volumeStruct) DumpValue(value sortedmap.Value) (valueAsString string, err error) {
	var (
		ok                      bool
		valueAsSnapshotRecordV1 *vlayout.SnapshotRecordV1Struct
	)

	valueAsSnapshotRecordV1, ok = value.(*vlayout.SnapshotRecordV1Struct)
	if ok {
		valueAsString = fmt.Sprintf("%+v", valueAsSnapshotRecordV1)
		err = nil
	} else {
		err = fmt.Errorf("snapshotTable's DumpValue(%v) called for non-*vlayout.SnapshotRecordV1Struct", value)
	}

	return
}

// openVolume authenticates to the store, fetches and applies the volume
// header, assembles the dispatch layer chain, and starts the header watch.
func openVolume() (volume *volumeStruct, err error) {
	var (
		volumeHeader *vlayout.VolumeHeaderV1Struct
	)

	volume = &volumeStruct{
		asyncOpsList: list.New(),
	}

	volume.storeClient, err = newStoreClient(volume)
	if nil != err {
		volume = nil
		return
	}

	volumeHeader, err = volume.storeClient.volumeHeaderFetch()
	if nil != err {
		volume = nil
		return
	}

	if volumeHeader.VolumeName != globals.config.VolumeName {
		err = blunder.NewError(blunder.InvalidArgError, "volume header names \"%s\" but [IBLOCK]VolumeName is \"%s\"", volumeHeader.VolumeName, globals.config.VolumeName)
		volume = nil
		return
	}

	volume.name = volumeHeader.VolumeName
	volume.objectOrder = volumeHeader.ObjectOrder
	volume.createTime = volumeHeader.CreateTime

	volume.applyVolumeHeader(volumeHeader)

	volume.dispatcher = newDispatcher(volume)

	volume.queueLayer = newQueueLayer(volume)
	volume.qosLayer = newQoSLayer(volume)
	volume.writeBlockLayer = newWriteBlockLayer(volume)
	volume.refreshLayer = newRefreshLayer(volume)
	volume.coreLayer = newCoreLayer(volume)

	volume.dispatcher.registerLayer(volume.queueLayer)
	volume.dispatcher.registerLayer(volume.qosLayer)
	volume.dispatcher.registerLayer(volume.writeBlockLayer)
	volume.dispatcher.registerLayer(volume.refreshLayer)
	volume.dispatcher.registerLayer(volume.coreLayer)

	volume.storeClient.startHeaderWatch()

	logInfof("volume \"%s\" opened: size=%d objectOrder=%d readOnly=%v snapPinID=0x%016X headerGeneration=%d",
		volume.name, volumeHeader.Size, volume.objectOrder, volumeHeader.ReadOnly, volumeHeader.SnapPinID, volumeHeader.HeaderGeneration)

	err = nil
	return
}

// applyVolumeHeader installs the header-derived fields under ownerLock and
// drops the read cache (cached lines may predate the mutation that bumped
// the header).
func (volume *volumeStruct) applyVolumeHeader(volumeHeader *vlayout.VolumeHeaderV1Struct) {
	var (
		err             error
		ok              bool
		snapRecordIndex int
		snapshotTable   sortedmap.LLRBTree
	)

	snapshotTable = sortedmap.NewLLRBTree(sortedmap.CompareUint64, volume)

	for snapRecordIndex = range volumeHeader.SnapshotTable {
		ok, err = snapshotTable.Put(volumeHeader.SnapshotTable[snapRecordIndex].SnapID, &volumeHeader.SnapshotTable[snapRecordIndex])
		if nil != err {
			logFatalf("snapshotTable.Put(0x%016X,) failed: %v", volumeHeader.SnapshotTable[snapRecordIndex].SnapID, err)
		}
		if !ok {
			logFatalf("volume \"%s\" header carries duplicate snapID 0x%016X", volumeHeader.VolumeName, volumeHeader.SnapshotTable[snapRecordIndex].SnapID)
		}
	}

	volume.ownerLock.Lock()

	volume.size = volumeHeader.Size
	volume.readOnly = volumeHeader.ReadOnly
	volume.snapPinID = volumeHeader.SnapPinID
	volume.headerGeneration = volumeHeader.HeaderGeneration
	volume.snapshotTable = snapshotTable

	volume.ownerLock.Unlock()

	volume.storeClient.invalidateReadCache()
}

// refreshVolumeHeader re-fetches the volume header and applies it. A
// header that no longer names this volume is an error; a changed
// objectOrder would silently re-map every data offset, so it is fatal.
func (volume *volumeStruct) refreshVolumeHeader() (err error) {
	var (
		volumeHeader *vlayout.VolumeHeaderV1Struct
	)

	volumeHeader, err = volume.storeClient.volumeHeaderFetch()
	if nil != err {
		return
	}

	if volumeHeader.VolumeName != volume.name {
		err = blunder.NewError(blunder.InvalidArgError, "volume header now names \"%s\" (expected \"%s\")", volumeHeader.VolumeName, volume.name)
		return
	}
	if volumeHeader.ObjectOrder != volume.objectOrder {
		logFatalf("volume \"%s\" header ObjectOrder changed from %d to %d", volume.name, volume.objectOrder, volumeHeader.ObjectOrder)
	}

	volume.applyVolumeHeader(volumeHeader)

	logInfof("volume \"%s\" refreshed: size=%d readOnly=%v snapPinID=0x%016X headerGeneration=%d",
		volume.name, volumeHeader.Size, volumeHeader.ReadOnly, volumeHeader.SnapPinID, volumeHeader.HeaderGeneration)

	err = nil
	return
}

// closeVolume stops the header watch, pushes one final flush through the
// full dispatch path, then shuts the dispatcher down (draining every
// in-flight request and tearing down the layers).
func (volume *volumeStruct) closeVolume() {
	var (
		flushDoneChan    chan int
		resultCode       int
		shutdownDoneChan chan int
	)

	volume.storeClient.stopHeaderWatch()

	flushDoneChan = make(chan int, 1)

	volume.dispatcher.send(&volumeRequestStruct{
		volume:  volume,
		payload: &flushPayloadStruct{},
		completion: func(resultCode int) {
			flushDoneChan <- resultCode
		},
	})

	resultCode = <-flushDoneChan
	if 0 != resultCode {
		logWarnf("volume \"%s\" final flush completed with result %d", volume.name, resultCode)
	}

	shutdownDoneChan = make(chan int, 1)

	volume.dispatcher.shutdown(func(resultCode int) {
		shutdownDoneChan <- resultCode
	})

	_ = <-shutdownDoneChan

	logInfof("volume \"%s\" closed", volume.name)
}

func (volume *volumeStruct) status() (volumeStatus *VolumeStatusStruct) {
	var (
		err           error
		heldCount     int
		inFlightCount uint32
		snapshotCount int
	)

	inFlightCount, heldCount = volume.queueLayer.status()

	volume.ownerLock.RLock()

	snapshotCount, err = volume.snapshotTable.Len()
	if nil != err {
		logFatalf("volume.snapshotTable.Len() failed: %v", err)
	}

	volumeStatus = &VolumeStatusStruct{
		VolumeName:       volume.name,
		Size:             volume.size,
		ObjectOrder:      volume.objectOrder,
		CreateTime:       volume.createTime.Format(time.RFC3339),
		ReadOnly:         volume.readOnly,
		SnapPinID:        volume.snapPinID,
		HeaderGeneration: volume.headerGeneration,
		SnapshotCount:    uint64(snapshotCount),
		LastTID:          atomic.LoadUint64(&volume.dispatcher.nextTID),
		InFlightRequests: uint64(inFlightCount),
		QueuedRequests:   uint64(heldCount),
		QoSLimits:        volume.qosLayer.status(),
	}

	volume.ownerLock.RUnlock()

	volumeStatus.WritesBlocked = volume.writeBlockLayer.writesBlocked()

	return
}

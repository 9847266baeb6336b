// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iblockpkg

import (
	"container/list"
	"sync"

	"github.com/NVIDIA/iblock/blunder"
)

// refreshLayerStruct keeps requests from running against a stale volume
// header. While a header re-fetch is required or in progress, every
// arriving request (of any kind) is held in arrival order; once the fetch
// lands, held requests resume in that same order. A fetch failure fails
// the held requests with the fetch's errno and leaves the layer gated so
// the next arrival retries the fetch.
type refreshLayerStruct struct {
	volume            *volumeStruct
	refreshLock       sync.Mutex
	refreshRequired   bool
	refreshInProgress bool
	tornDown          bool
	heldRequestList   *list.List // of *volumeRequestStruct
}

func newRefreshLayer(volume *volumeStruct) (layer *refreshLayerStruct) {
	layer = &refreshLayerStruct{
		volume:            volume,
		refreshRequired:   false,
		refreshInProgress: false,
		tornDown:          false,
		heldRequestList:   list.New(),
	}
	return
}

func (layer *refreshLayerStruct) name() (layerName string) {
	return "refresh"
}

func (layer *refreshLayerStruct) read(request *volumeRequestStruct) (handled bool) {
	return layer.gate(request)
}

func (layer *refreshLayerStruct) write(request *volumeRequestStruct) (handled bool) {
	return layer.gate(request)
}

func (layer *refreshLayerStruct) discard(request *volumeRequestStruct) (handled bool) {
	return layer.gate(request)
}

func (layer *refreshLayerStruct) writeSame(request *volumeRequestStruct) (handled bool) {
	return layer.gate(request)
}

func (layer *refreshLayerStruct) compareAndWrite(request *volumeRequestStruct) (handled bool) {
	return layer.gate(request)
}

func (layer *refreshLayerStruct) flush(request *volumeRequestStruct) (handled bool) {
	return layer.gate(request)
}

func (layer *refreshLayerStruct) listSnaps(request *volumeRequestStruct) (handled bool) {
	return layer.gate(request)
}

func (layer *refreshLayerStruct) gate(request *volumeRequestStruct) (handled bool) {
	layer.refreshLock.Lock()

	if !layer.refreshRequired && !layer.refreshInProgress {
		layer.refreshLock.Unlock()
		handled = false
		return
	}

	_ = layer.heldRequestList.PushBack(request)
	globals.stats.RefreshHeldRequests.Increment()

	if !layer.refreshInProgress {
		layer.refreshInProgress = true
		layer.refreshRequired = false
		globals.stats.VolumeRefreshes.Increment()
		globals.engine.Post(layer.performRefresh)
	}

	layer.refreshLock.Unlock()

	handled = true
	return
}

// markRefreshRequired flags the volume header stale (watch notification or
// explicit request) and starts a re-fetch at once if none is running.
func (layer *refreshLayerStruct) markRefreshRequired() {
	layer.refreshLock.Lock()

	if layer.tornDown {
		layer.refreshLock.Unlock()
		return
	}

	if layer.refreshInProgress {
		layer.refreshRequired = true
		layer.refreshLock.Unlock()
		return
	}

	layer.refreshInProgress = true
	layer.refreshRequired = false

	layer.refreshLock.Unlock()

	globals.stats.VolumeRefreshes.Increment()
	globals.engine.Post(layer.performRefresh)
}

func (layer *refreshLayerStruct) performRefresh() {
	var (
		err         error
		failList    []*volumeRequestStruct
		heldElement *list.Element
		heldRequest *volumeRequestStruct
		resultCode  int
		resumeList  []*volumeRequestStruct
	)

	layer.refreshLock.Lock()
	if layer.tornDown {
		layer.refreshLock.Unlock()
		return
	}
	layer.refreshLock.Unlock()

	err = layer.volume.refreshVolumeHeader()

	layer.refreshLock.Lock()

	for 0 != layer.heldRequestList.Len() {
		heldElement = layer.heldRequestList.Front()
		heldRequest = heldElement.Value.(*volumeRequestStruct)
		_ = layer.heldRequestList.Remove(heldElement)

		if nil == err {
			resumeList = append(resumeList, heldRequest)
		} else {
			failList = append(failList, heldRequest)
		}
	}

	if layer.refreshRequired {
		// Invalidated again while fetching... go around once more.

		layer.refreshRequired = false
		globals.stats.VolumeRefreshes.Increment()
		globals.engine.Post(layer.performRefresh)
	} else {
		layer.refreshInProgress = false
		if nil != err {
			layer.refreshRequired = true
		}
	}

	layer.refreshLock.Unlock()

	if nil != err {
		logWarnf("refresh: volume \"%s\" header re-fetch failed: %v", layer.volume.name, err)

		resultCode = -blunder.Errno(err)
		for _, heldRequest = range failList {
			heldRequest.complete(resultCode)
		}

		return
	}

	for _, heldRequest = range resumeList {
		layer.volume.dispatcher.resume(heldRequest)
	}
}

func (layer *refreshLayerStruct) finished(request *volumeRequestStruct) {
	// No per-request state survives past gate().
}

func (layer *refreshLayerStruct) teardown() {
	layer.refreshLock.Lock()

	layer.tornDown = true

	if 0 != layer.heldRequestList.Len() {
		logFatalf("refresh layer torn down with %d held request(s)", layer.heldRequestList.Len())
	}

	layer.refreshLock.Unlock()
}

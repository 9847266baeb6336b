// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iblockpkg

import (
	"container/list"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/NVIDIA/iblock/blunder"
)

const opKindQoSLimited = opKindRead | opKindWrite | opKindDiscard | opKindWriteSame | opKindCompareAndWrite

// qosBucketStruct is one token bucket. A request is charged against every
// bucket whose kindMask matches it; the per-request charged flag keeps a
// request from being charged twice against the same bucket when charging
// resumes after a deferral.
type qosBucketStruct struct {
	flag         uint32 // exported QoSFlag* value
	flagName     string
	chargedFlag  uint32 // requestFlagQoSCharged* value
	kindMask     uint32
	perByte      bool   // charge is the request's total length rather than one op
	limit        uint64 // tokens per second; 0 disables the bucket
	burst        uint64
	burstSeconds uint64
	capacity     uint64        // token capacity; also clamps a single charge
	limiter      *rate.Limiter // nil while disabled
}

// qosDeferredRequestStruct parks one request awaiting tokens. A zero
// readyTime means the request has not yet been charged (it arrived while
// others were already waiting and may not overtake them).
type qosDeferredRequestStruct struct {
	request   *volumeRequestStruct
	readyTime time.Time
}

// qosLayerStruct rate-limits data-path requests with six independently
// configured token buckets. Deferred requests release in strict FIFO
// order; a single timer, never armed for less than
// [IBLOCK]QoSScheduleTickMin, coalesces their releases.
type qosLayerStruct struct {
	volume            *volumeStruct
	qosLock           sync.Mutex
	buckets           []*qosBucketStruct
	excludedKindsMask uint32
	scheduleTickMin   time.Duration
	deferredList      *list.List // of *qosDeferredRequestStruct; Front() releases first
	timerArmed        bool
}

func newQoSLayer(volume *volumeStruct) (layer *qosLayerStruct) {
	var (
		bucket *qosBucketStruct
	)

	layer = &qosLayerStruct{
		volume:            volume,
		excludedKindsMask: qosKindMaskFromOpNames(globals.config.QoSExcludeOps),
		scheduleTickMin:   globals.config.QoSScheduleTickMin,
		deferredList:      list.New(),
		timerArmed:        false,
	}

	layer.buckets = []*qosBucketStruct{
		{flag: QoSFlagIOPS, flagName: "iops", chargedFlag: requestFlagQoSChargedIOPS, kindMask: opKindQoSLimited, perByte: false},
		{flag: QoSFlagBPS, flagName: "bps", chargedFlag: requestFlagQoSChargedBPS, kindMask: opKindQoSLimited, perByte: true},
		{flag: QoSFlagReadIOPS, flagName: "read-iops", chargedFlag: requestFlagQoSChargedReadIOPS, kindMask: opKindRead, perByte: false},
		{flag: QoSFlagWriteIOPS, flagName: "write-iops", chargedFlag: requestFlagQoSChargedWriteIOPS, kindMask: opKindWriteClass, perByte: false},
		{flag: QoSFlagReadBPS, flagName: "read-bps", chargedFlag: requestFlagQoSChargedReadBPS, kindMask: opKindRead, perByte: true},
		{flag: QoSFlagWriteBPS, flagName: "write-bps", chargedFlag: requestFlagQoSChargedWriteBPS, kindMask: opKindWriteClass, perByte: true},
	}

	for _, bucket = range layer.buckets {
		switch bucket.flag {
		case QoSFlagIOPS:
			layer.configureBucketLocked(bucket, globals.config.QoSIOPS.Limit, globals.config.QoSIOPS.Burst, globals.config.QoSIOPS.BurstSeconds)
		case QoSFlagBPS:
			layer.configureBucketLocked(bucket, globals.config.QoSBPS.Limit, globals.config.QoSBPS.Burst, globals.config.QoSBPS.BurstSeconds)
		case QoSFlagReadIOPS:
			layer.configureBucketLocked(bucket, globals.config.QoSReadIOPS.Limit, globals.config.QoSReadIOPS.Burst, globals.config.QoSReadIOPS.BurstSeconds)
		case QoSFlagWriteIOPS:
			layer.configureBucketLocked(bucket, globals.config.QoSWriteIOPS.Limit, globals.config.QoSWriteIOPS.Burst, globals.config.QoSWriteIOPS.BurstSeconds)
		case QoSFlagReadBPS:
			layer.configureBucketLocked(bucket, globals.config.QoSReadBPS.Limit, globals.config.QoSReadBPS.Burst, globals.config.QoSReadBPS.BurstSeconds)
		case QoSFlagWriteBPS:
			layer.configureBucketLocked(bucket, globals.config.QoSWriteBPS.Limit, globals.config.QoSWriteBPS.Burst, globals.config.QoSWriteBPS.BurstSeconds)
		}
	}

	return
}

func qosKindMaskFromOpNames(opNames []string) (kindMask uint32) {
	var (
		opName string
	)

	kindMask = 0

	for _, opName = range opNames {
		switch opName {
		case "read":
			kindMask |= opKindRead
		case "write":
			kindMask |= opKindWrite
		case "discard":
			kindMask |= opKindDiscard
		case "write-same":
			kindMask |= opKindWriteSame
		case "compare-and-write":
			kindMask |= opKindCompareAndWrite
		default:
			logFatalf("[IBLOCK]QoSExcludeOps contains unrecognized op name \"%s\"", opName)
		}
	}

	return
}

func qosFlagFromName(flagName string) (flag uint32, ok bool) {
	switch flagName {
	case "iops":
		flag = QoSFlagIOPS
	case "bps":
		flag = QoSFlagBPS
	case "read-iops":
		flag = QoSFlagReadIOPS
	case "write-iops":
		flag = QoSFlagWriteIOPS
	case "read-bps":
		flag = QoSFlagReadBPS
	case "write-bps":
		flag = QoSFlagWriteBPS
	default:
		ok = false
		return
	}

	ok = true
	return
}

// configureBucketLocked installs new settings in bucket. The token
// capacity is burst*burstSeconds but never less than one second's worth of
// the sustained limit; a single charge larger than the capacity is clamped
// to it (an oversized request drains a full bucket, no more).
func (layer *qosLayerStruct) configureBucketLocked(bucket *qosBucketStruct, limit uint64, burst uint64, burstSeconds uint64) {
	bucket.limit = limit
	bucket.burst = burst
	bucket.burstSeconds = burstSeconds

	if 0 == limit {
		bucket.capacity = 0
		bucket.limiter = nil
		return
	}

	bucket.capacity = burst * burstSeconds
	if bucket.capacity < limit {
		bucket.capacity = limit
	}

	bucket.limiter = rate.NewLimiter(rate.Limit(limit), int(bucket.capacity))
}

func (layer *qosLayerStruct) name() (layerName string) {
	return "qos"
}

func (layer *qosLayerStruct) read(request *volumeRequestStruct) (handled bool) {
	return layer.throttle(request)
}

func (layer *qosLayerStruct) write(request *volumeRequestStruct) (handled bool) {
	return layer.throttle(request)
}

func (layer *qosLayerStruct) discard(request *volumeRequestStruct) (handled bool) {
	return layer.throttle(request)
}

func (layer *qosLayerStruct) writeSame(request *volumeRequestStruct) (handled bool) {
	return layer.throttle(request)
}

func (layer *qosLayerStruct) compareAndWrite(request *volumeRequestStruct) (handled bool) {
	return layer.throttle(request)
}

func (layer *qosLayerStruct) flush(request *volumeRequestStruct) (handled bool) {
	return false
}

func (layer *qosLayerStruct) listSnaps(request *volumeRequestStruct) (handled bool) {
	return false
}

func (layer *qosLayerStruct) throttle(request *volumeRequestStruct) (handled bool) {
	var (
		delay time.Duration
	)

	layer.qosLock.Lock()

	if 0 != layer.deferredList.Len() {
		// Others are already waiting... no overtaking.

		layer.parkLocked(request, time.Time{})
		layer.qosLock.Unlock()
		handled = true
		return
	}

	delay = layer.chargeLocked(request)
	if 0 == delay {
		layer.qosLock.Unlock()
		handled = false
		return
	}

	layer.parkLocked(request, time.Now().Add(delay))
	layer.qosLock.Unlock()

	handled = true
	return
}

// chargeLocked charges request against every matching bucket it has not
// already been charged against, stopping at the first bucket demanding a
// wait. It returns 0 once the request is fully charged (or exempt).
func (layer *qosLayerStruct) chargeLocked(request *volumeRequestStruct) (delay time.Duration) {
	var (
		bucket      *qosBucketStruct
		charge      uint64
		now         time.Time
		opKind      uint32
		reservation *rate.Reservation
	)

	delay = time.Duration(0)

	opKind = request.kind()

	if 0 != (opKind & layer.excludedKindsMask) {
		return
	}

	now = time.Now()

	for _, bucket = range layer.buckets {
		if 0 == (opKind & bucket.kindMask) {
			continue
		}
		if 0 != (request.flags & bucket.chargedFlag) {
			continue
		}

		request.flags |= bucket.chargedFlag

		if nil == bucket.limiter {
			continue
		}

		if bucket.perByte {
			charge = request.totalLength()
			if 0 == charge {
				continue
			}
			if charge > bucket.capacity {
				charge = bucket.capacity
			}
		} else {
			charge = 1
		}

		reservation = bucket.limiter.ReserveN(now, int(charge))
		if !reservation.OK() {
			logFatalf("qos layer failed to reserve %d token(s) from the \"%s\" bucket (capacity %d)", charge, bucket.flagName, bucket.capacity)
		}

		delay = reservation.DelayFrom(now)
		if 0 != delay {
			return
		}
	}

	return
}

func (layer *qosLayerStruct) parkLocked(request *volumeRequestStruct, readyTime time.Time) {
	_ = layer.deferredList.PushBack(&qosDeferredRequestStruct{request: request, readyTime: readyTime})
	globals.stats.QoSHeldRequests.Increment()
	layer.armTimerForHeadLocked()
}

func (layer *qosLayerStruct) armTimerForHeadLocked() {
	var (
		delay    time.Duration
		deferred *qosDeferredRequestStruct
	)

	if layer.timerArmed || (0 == layer.deferredList.Len()) {
		return
	}

	deferred = layer.deferredList.Front().Value.(*qosDeferredRequestStruct)

	delay = time.Until(deferred.readyTime)
	if delay < layer.scheduleTickMin {
		delay = layer.scheduleTickMin
	}

	layer.timerArmed = true
	_ = time.AfterFunc(delay, layer.releaseDeferred)
}

// releaseDeferred releases ready requests from the head of the deferred
// list in FIFO order, re-arming the timer if the (possibly re-charged)
// head still has to wait. It is safe to invoke redundantly.
func (layer *qosLayerStruct) releaseDeferred() {
	var (
		deferred        *qosDeferredRequestStruct
		deferredElement *list.Element
		delay           time.Duration
		now             time.Time
		releasedRequest *volumeRequestStruct
		resumeList      []*volumeRequestStruct
	)

	layer.qosLock.Lock()

	layer.timerArmed = false

	for 0 != layer.deferredList.Len() {
		deferredElement = layer.deferredList.Front()
		deferred = deferredElement.Value.(*qosDeferredRequestStruct)

		now = time.Now()

		if deferred.readyTime.After(now) {
			layer.armTimerForHeadLocked()
			break
		}

		delay = layer.chargeLocked(deferred.request)
		if 0 != delay {
			deferred.readyTime = now.Add(delay)
			layer.armTimerForHeadLocked()
			break
		}

		_ = layer.deferredList.Remove(deferredElement)
		resumeList = append(resumeList, deferred.request)
	}

	layer.qosLock.Unlock()

	for _, releasedRequest = range resumeList {
		layer.volume.dispatcher.resume(releasedRequest)
	}
}

// applyQoSLimit reconfigures the bucket selected by flag. A zero limit
// disables the bucket. Requests already waiting are re-evaluated under the
// new settings immediately (their previously computed ready times are
// discarded).
func (layer *qosLayerStruct) applyQoSLimit(flag uint32, limit uint64, burst uint64, burstSeconds uint64) (err error) {
	var (
		bucket          *qosBucketStruct
		deferredElement *list.Element
		selectedBucket  *qosBucketStruct
	)

	layer.qosLock.Lock()

	for _, bucket = range layer.buckets {
		if flag == bucket.flag {
			selectedBucket = bucket
			break
		}
	}

	if nil == selectedBucket {
		layer.qosLock.Unlock()
		err = blunder.NewError(blunder.InvalidArgError, "unrecognized QoS flag 0x%02X", flag)
		return
	}

	layer.configureBucketLocked(selectedBucket, limit, burst, burstSeconds)

	for deferredElement = layer.deferredList.Front(); nil != deferredElement; deferredElement = deferredElement.Next() {
		deferredElement.Value.(*qosDeferredRequestStruct).readyTime = time.Time{}
	}

	layer.qosLock.Unlock()

	logInfof("qos: flag \"%s\" now limit=%d burst=%d burstSeconds=%d", selectedBucket.flagName, limit, burst, burstSeconds)

	layer.releaseDeferred()

	err = nil
	return
}

func (layer *qosLayerStruct) finished(request *volumeRequestStruct) {
	// Token charges are not refunded.
}

func (layer *qosLayerStruct) teardown() {
	layer.qosLock.Lock()

	if 0 != layer.deferredList.Len() {
		logFatalf("qos layer torn down with %d deferred request(s)", layer.deferredList.Len())
	}

	layer.qosLock.Unlock()
}

func (layer *qosLayerStruct) status() (limits []QoSLimitStatusStruct) {
	var (
		bucket *qosBucketStruct
	)

	layer.qosLock.Lock()

	limits = make([]QoSLimitStatusStruct, 0, len(layer.buckets))
	for _, bucket = range layer.buckets {
		limits = append(limits, QoSLimitStatusStruct{
			Flag:         bucket.flagName,
			Limit:        bucket.limit,
			Burst:        bucket.burst,
			BurstSeconds: bucket.burstSeconds,
		})
	}

	layer.qosLock.Unlock()

	return
}

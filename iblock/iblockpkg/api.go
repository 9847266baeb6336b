// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package iblockpkg implements a client to an object-storage session (e.g.
// package istorepkg) for the purpose of presenting a single network block
// volume, optionally exposed via FUSE as a one-file disk image.
//
// Every volume request is pushed through an ordered chain of dispatch layers
// (queueing, QoS rate limiting, write blocking, header refresh, core) before
// reaching the object store; flushes act as barriers over all operations
// started before them.
//
// To configure an iblockpkg instance, Start() is called passing, as the first
// argument, a package conf ConfMap. Here is a sample .conf file:
//
//  [IBLOCK]
//  VolumeName:               testvol
//  StoreURL:                 http://istore:9090
//  StoreAuthUser:            test:tester
//  StoreAuthKey:             testing
//  StorePool:                testvol
//  StoreTimeout:             10m
//  StoreConnectionPoolSize:  128
//  StoreRetryDelay:          100ms
//  StoreRetryExpBackoff:     2
//  StoreRetryLimit:          4
//  EngineWorkerCount:        0   # Zero defaults to StoreConnectionPoolSize
//  QueueDepth:               64  # Zero means unbounded
//  QoSIOPSLimit:             0   # Zero disables the bucket
//  QoSIOPSBurst:             0
//  QoSIOPSBurstSeconds:      0
//  QoSBPSLimit:              0
//  QoSBPSBurst:              0
//  QoSBPSBurstSeconds:       0
//  QoSReadIOPSLimit:         0
//  QoSReadIOPSBurst:         0
//  QoSReadIOPSBurstSeconds:  0
//  QoSWriteIOPSLimit:        0
//  QoSWriteIOPSBurst:        0
//  QoSWriteIOPSBurstSeconds: 0
//  QoSReadBPSLimit:          0
//  QoSReadBPSBurst:          0
//  QoSReadBPSBurstSeconds:   0
//  QoSWriteBPSLimit:         0
//  QoSWriteBPSBurst:         0
//  QoSWriteBPSBurstSeconds:  0
//  QoSExcludeOps:            # Op names exempt from QoS (e.g. discard,write-same)
//  QoSScheduleTickMin:       1ms
//  DiscardGranularity:       4096
//  DiscardZeroesFullObjects: true
//  ReadCacheLineSize:        1048576 # Zero disables the read cache
//  ReadCacheLineCountMax:    1024
//  FUSEMountPointDirPath:    # Empty means no FUSE mount
//  FUSEAllowOther:           true
//  FUSEMaxRead:              1048576
//  FUSEMaxWrite:             1048576
//  FUSEMaxBackground:        1000
//  FUSECongestionThreshhold: 0
//  FUSEBlockSize:            512
//  FUSEAttrValidDuration:    10s
//  HTTPServerIPAddr:         # Defaults to 0.0.0.0 (i.e. all interfaces)
//  HTTPServerPort:           # Defaults to disabling the embedded HTTP Server
//  LogFilePath:              iblock.log
//  LogToConsole:             true
//  TraceEnabled:             false
//
// The embedded HTTP Server (at URL http://<HTTPServerIPAddr>:<HTTPServerPort>)
// responds to the following:
//
//  GET /config
//
// This will return a JSON document that matches the conf.ConfMap used to
// launch this package.
//
//  GET /stats
//
// This will return a raw bucketstats dump.
//
//  GET /version
//
//  GET /volume
//
// This will return a JSON document describing the served volume: size,
// snapshot pin, read-only state, writes-blocked state, the last assigned
// transfer ID, in-flight and queued request counts, and the current QoS
// limits.
//
//  POST /volume/qos?flag=<name>&limit=<#>&burst=<#>&burstSeconds=<#>
//
// This will reconfigure the named QoS token bucket (one of "iops", "bps",
// "read-iops", "write-iops", "read-bps", or "write-bps"); a zero limit
// disables it.
//
//  POST /volume/write-block
//
//  POST /volume/write-unblock
//
//  POST /volume/refresh
//
// This will force a volume header re-fetch as if the header watch had fired.
//
//  POST /volume/flush
//
package iblockpkg

import (
	"time"

	"github.com/NVIDIA/iblock/blunder"
	"github.com/NVIDIA/iblock/conf"
	"github.com/NVIDIA/iblock/vlayout"
)

// Request flag bits accepted by (VolumeHandle).Read(). Requests carrying
// RequestFlagAuxHeaderArea address the volume's auxiliary header area
// (vlayout.AuxHeaderAreaSize client-owned bytes on the header object,
// disjoint from the marshaled header) in place of the data area. Reads
// carrying ReadFlagDisableClipping skip clipping to the volume's current
// size; bytes beyond it read as zeroes.
const (
	RequestFlagAuxHeaderArea = uint32(0x01)
	ReadFlagDisableClipping  = uint32(0x02)
)

// QoS token bucket selectors accepted by (VolumeHandle).ApplyQoSLimit().
const (
	QoSFlagIOPS      = uint32(1) << 0
	QoSFlagBPS       = uint32(1) << 1
	QoSFlagReadIOPS  = uint32(1) << 2
	QoSFlagWriteIOPS = uint32(1) << 3
	QoSFlagReadBPS   = uint32(1) << 4
	QoSFlagWriteBPS  = uint32(1) << 5
)

// QoSLimitStatusStruct reports one QoS token bucket's current settings.
type QoSLimitStatusStruct struct {
	Flag         string // "iops", "bps", "read-iops", "write-iops", "read-bps", or "write-bps"
	Limit        uint64 // tokens per second; zero means the bucket is disabled
	Burst        uint64
	BurstSeconds uint64
}

// VolumeStatusStruct describes the served volume (also returned, JSON
// encoded, by GET /volume).
type VolumeStatusStruct struct {
	VolumeName       string
	Size             uint64
	ObjectOrder      uint64
	CreateTime       string // time.RFC3339
	ReadOnly         bool
	SnapPinID        uint64 // non-zero when pinned to a historical snapshot
	HeaderGeneration uint64
	SnapshotCount    uint64
	WritesBlocked    bool
	LastTID          uint64
	InFlightRequests uint64
	QueuedRequests   uint64
	QoSLimits        []QoSLimitStatusStruct
}

// VolumeHandle is the handle through which the served volume is accessed.
// Each method is a synchronous wrapper over the asynchronous dispatcher:
// the calling goroutine parks until the request's completion is delivered.
//
// Failures are returned as errors annotated via package blunder; the
// embedded errno (e.g. EINVAL for a clipping failure, EROFS for a write to
// a read-only or snapshot-pinned volume, EILSEQ for a compare mismatch) is
// available via blunder.Errno().
type VolumeHandle interface {
	// Read returns length bytes starting at offset. Unless flags carries
	// ReadFlagDisableClipping, the range is clipped to the volume's current
	// size and the returned buf may be shorter than length.
	Read(offset uint64, length uint64, flags uint32) (buf []byte, err error)

	// Write stores buf at offset. The range is clipped to the volume's
	// current size.
	Write(offset uint64, buf []byte) (err error)

	// Discard drops whole [IBLOCK]DiscardGranularity granules inside the
	// given range; the ragged head and tail of the range are left intact.
	// Discarded bytes subsequently read as zeroes.
	Discard(offset uint64, length uint64) (err error)

	// WriteSame tiles pattern across the given range.
	WriteSame(offset uint64, length uint64, pattern []byte) (err error)

	// CompareAndWrite atomically compares len(compareBuf) bytes at offset
	// against compareBuf and, only if every byte matches, stores writeBuf
	// there. len(writeBuf) must equal len(compareBuf) and the range must
	// not be clipped. On a mismatch, err carries EILSEQ and mismatchOffset
	// reports the first differing byte relative to offset.
	CompareAndWrite(offset uint64, compareBuf []byte, writeBuf []byte) (mismatchOffset int64, err error)

	// Flush completes once every operation started before it has finished,
	// no matter in what order those operations complete.
	Flush() (err error)

	// ListSnaps returns the snapshot records for the given SnapIDs; an
	// empty snapIDs selects every snapshot in ascending SnapID order.
	ListSnaps(snapIDs []uint64) (snapRecords []vlayout.SnapshotRecordV1Struct, err error)

	// BlockWrites holds every subsequently arriving write-class request,
	// returning once the writes already in flight have drained.
	BlockWrites() (err error)

	// UnblockWrites undoes one BlockWrites; held write-class requests
	// resume, in arrival order, when the last outstanding block is undone.
	UnblockWrites() (err error)

	// WritesBlocked returns whether writes are currently blocked.
	WritesBlocked() (writesBlocked bool)

	// ApplyQoSLimit reconfigures the QoS token bucket selected by flag (one
	// of the QoSFlag* values); a zero limit disables the bucket. Requests
	// already deferred by the bucket are re-charged under the new settings.
	ApplyQoSLimit(flag uint32, limit uint64, burst uint64, burstSeconds uint64) (err error)
}

// Start is called to start serving.
//
func Start(confMap conf.ConfMap, fissionErrChan chan error) (err error) {
	err = start(confMap, fissionErrChan)
	return
}

// Stop is called to stop serving.
//
func Stop() (err error) {
	err = stop()
	return
}

// Signal is called to interrupt the server for performing operations such as log rotation.
//
func Signal() (err error) {
	err = signal()
	return
}

// FetchVolumeHandle returns a VolumeHandle for the volume being served.
//
func FetchVolumeHandle() (volumeHandle VolumeHandle, err error) {
	if nil == globals.volume {
		err = blunder.NewError(blunder.NotFoundError, "no volume is currently being served")
		return
	}

	volumeHandle = globals.volume
	err = nil
	return
}

// LogFatalf is a wrapper around the internal logFatalf() func called by iblock/main.go::main().
//
func LogFatalf(format string, args ...interface{}) {
	logFatalf(format, args...)
}

// LogWarnf is a wrapper around the internal logWarnf() func called by iblock/main.go::main().
//
func LogWarnf(format string, args ...interface{}) {
	logWarnf(format, args...)
}

// LogInfof is a wrapper around the internal logInfof() func called by iblock/main.go::main().
//
func LogInfof(format string, args ...interface{}) {
	logInfof(format, args...)
}

func (volume *volumeStruct) Read(offset uint64, length uint64, flags uint32) (buf []byte, err error) {
	var (
		payload        *readPayloadStruct
		request        *volumeRequestStruct
		resultCode     int
		resultCodeChan chan int
		startTime      time.Time = time.Now()
	)

	defer func() {
		globals.stats.ReadUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	resultCodeChan = make(chan int, 1)

	payload = &readPayloadStruct{}

	request = &volumeRequestStruct{
		volume: volume,
		extents: []extentStruct{
			{offset: offset, length: length},
		},
		payload: payload,
		flags:   flags & (RequestFlagAuxHeaderArea | ReadFlagDisableClipping),
		completion: func(resultCode int) {
			resultCodeChan <- resultCode
		},
	}

	volume.dispatcher.send(request)

	resultCode = <-resultCodeChan
	if 0 > resultCode {
		err = blunder.NewError(blunder.FsError(-resultCode), "Read(offset=0x%016X,length=0x%X) failed", offset, length)
		return
	}

	buf = payload.buf
	err = nil
	return
}

func (volume *volumeStruct) Write(offset uint64, buf []byte) (err error) {
	var (
		request        *volumeRequestStruct
		resultCode     int
		resultCodeChan chan int
		startTime      time.Time = time.Now()
	)

	defer func() {
		globals.stats.WriteUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	resultCodeChan = make(chan int, 1)

	request = &volumeRequestStruct{
		volume: volume,
		extents: []extentStruct{
			{offset: offset, length: uint64(len(buf))},
		},
		payload: &writePayloadStruct{buf: buf},
		completion: func(resultCode int) {
			resultCodeChan <- resultCode
		},
	}

	volume.dispatcher.send(request)

	resultCode = <-resultCodeChan
	if 0 > resultCode {
		err = blunder.NewError(blunder.FsError(-resultCode), "Write(offset=0x%016X,length=0x%X) failed", offset, len(buf))
		return
	}

	err = nil
	return
}

func (volume *volumeStruct) Discard(offset uint64, length uint64) (err error) {
	var (
		request        *volumeRequestStruct
		resultCode     int
		resultCodeChan chan int
		startTime      time.Time = time.Now()
	)

	defer func() {
		globals.stats.DiscardUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	resultCodeChan = make(chan int, 1)

	request = &volumeRequestStruct{
		volume: volume,
		extents: []extentStruct{
			{offset: offset, length: length},
		},
		payload: &discardPayloadStruct{},
		completion: func(resultCode int) {
			resultCodeChan <- resultCode
		},
	}

	volume.dispatcher.send(request)

	resultCode = <-resultCodeChan
	if 0 > resultCode {
		err = blunder.NewError(blunder.FsError(-resultCode), "Discard(offset=0x%016X,length=0x%X) failed", offset, length)
		return
	}

	err = nil
	return
}

func (volume *volumeStruct) WriteSame(offset uint64, length uint64, pattern []byte) (err error) {
	var (
		request        *volumeRequestStruct
		resultCode     int
		resultCodeChan chan int
		startTime      time.Time = time.Now()
	)

	defer func() {
		globals.stats.WriteSameUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	if 0 == len(pattern) {
		err = blunder.NewError(blunder.InvalidArgError, "WriteSame() requires a non-empty pattern")
		return
	}

	resultCodeChan = make(chan int, 1)

	request = &volumeRequestStruct{
		volume: volume,
		extents: []extentStruct{
			{offset: offset, length: length},
		},
		payload: &writeSamePayloadStruct{pattern: pattern},
		completion: func(resultCode int) {
			resultCodeChan <- resultCode
		},
	}

	volume.dispatcher.send(request)

	resultCode = <-resultCodeChan
	if 0 > resultCode {
		err = blunder.NewError(blunder.FsError(-resultCode), "WriteSame(offset=0x%016X,length=0x%X) failed", offset, length)
		return
	}

	err = nil
	return
}

func (volume *volumeStruct) CompareAndWrite(offset uint64, compareBuf []byte, writeBuf []byte) (mismatchOffset int64, err error) {
	var (
		payload        *compareAndWritePayloadStruct
		request        *volumeRequestStruct
		resultCode     int
		resultCodeChan chan int
		startTime      time.Time = time.Now()
	)

	defer func() {
		globals.stats.CompareAndWriteUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	if len(compareBuf) != len(writeBuf) {
		err = blunder.NewError(blunder.InvalidArgError, "CompareAndWrite() requires len(compareBuf) == len(writeBuf)")
		return
	}

	resultCodeChan = make(chan int, 1)

	payload = &compareAndWritePayloadStruct{
		compareBuf: compareBuf,
		writeBuf:   writeBuf,
	}

	request = &volumeRequestStruct{
		volume: volume,
		extents: []extentStruct{
			{offset: offset, length: uint64(len(compareBuf))},
		},
		payload: payload,
		completion: func(resultCode int) {
			resultCodeChan <- resultCode
		},
	}

	volume.dispatcher.send(request)

	resultCode = <-resultCodeChan
	if 0 > resultCode {
		if int(blunder.MismatchError) == -resultCode {
			mismatchOffset = payload.mismatchOffset
			err = blunder.NewError(blunder.MismatchError, "CompareAndWrite(offset=0x%016X) mismatch at relative offset %d", offset, mismatchOffset)
			return
		}

		err = blunder.NewError(blunder.FsError(-resultCode), "CompareAndWrite(offset=0x%016X,length=0x%X) failed", offset, len(compareBuf))
		return
	}

	err = nil
	return
}

func (volume *volumeStruct) Flush() (err error) {
	var (
		request        *volumeRequestStruct
		resultCode     int
		resultCodeChan chan int
		startTime      time.Time = time.Now()
	)

	defer func() {
		globals.stats.FlushUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	resultCodeChan = make(chan int, 1)

	request = &volumeRequestStruct{
		volume:  volume,
		payload: &flushPayloadStruct{},
		completion: func(resultCode int) {
			resultCodeChan <- resultCode
		},
	}

	volume.dispatcher.send(request)

	resultCode = <-resultCodeChan
	if 0 > resultCode {
		err = blunder.NewError(blunder.FsError(-resultCode), "Flush() failed")
		return
	}

	err = nil
	return
}

func (volume *volumeStruct) ListSnaps(snapIDs []uint64) (snapRecords []vlayout.SnapshotRecordV1Struct, err error) {
	var (
		payload        *listSnapsPayloadStruct
		request        *volumeRequestStruct
		resultCode     int
		resultCodeChan chan int
		startTime      time.Time = time.Now()
	)

	defer func() {
		globals.stats.ListSnapsUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	resultCodeChan = make(chan int, 1)

	payload = &listSnapsPayloadStruct{snapIDs: snapIDs}

	request = &volumeRequestStruct{
		volume:  volume,
		payload: payload,
		completion: func(resultCode int) {
			resultCodeChan <- resultCode
		},
	}

	volume.dispatcher.send(request)

	resultCode = <-resultCodeChan
	if 0 > resultCode {
		err = blunder.NewError(blunder.FsError(-resultCode), "ListSnaps() failed")
		return
	}

	snapRecords = payload.snapRecords
	err = nil
	return
}

func (volume *volumeStruct) BlockWrites() (err error) {
	var (
		startTime time.Time = time.Now()
	)

	defer func() {
		globals.stats.BlockWritesUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	volume.writeBlockLayer.blockWrites()

	err = nil
	return
}

func (volume *volumeStruct) UnblockWrites() (err error) {
	var (
		startTime time.Time = time.Now()
	)

	defer func() {
		globals.stats.UnblockWritesUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	err = volume.writeBlockLayer.unblockWrites()

	return
}

func (volume *volumeStruct) WritesBlocked() (writesBlocked bool) {
	writesBlocked = volume.writeBlockLayer.writesBlocked()
	return
}

func (volume *volumeStruct) ApplyQoSLimit(flag uint32, limit uint64, burst uint64, burstSeconds uint64) (err error) {
	var (
		startTime time.Time = time.Now()
	)

	defer func() {
		globals.stats.ApplyQoSLimitUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	err = volume.qosLayer.applyQoSLimit(flag, limit, burst, burstSeconds)

	return
}

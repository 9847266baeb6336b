// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iblockpkg

import (
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/NVIDIA/fission"
	"github.com/sirupsen/logrus"

	"github.com/NVIDIA/iblock/bucketstats"
	"github.com/NVIDIA/iblock/conf"
	"github.com/NVIDIA/iblock/ioengine"
	"github.com/NVIDIA/iblock/utils"
)

type qosLimitConfigStruct struct {
	Limit        uint64 // unit (IOs or bytes) per second; == 0 means unlimited
	Burst        uint64 // unit per second permitted while burst capacity remains
	BurstSeconds uint64 // seconds of burst capacity
}

type configStruct struct {
	VolumeName string

	StoreURL                string // auth endpoint is <StoreURL>/auth/v1.0
	StoreAuthUser           string
	StoreAuthKey            string
	StorePool               string
	StoreTimeout            time.Duration
	StoreConnectionPoolSize uint32
	StoreRetryDelay         time.Duration
	StoreRetryExpBackoff    float64
	StoreRetryLimit         uint32

	EngineWorkerCount uint32

	QueueDepth uint32 // concurrently in-flight request bound; == 0 means unbounded

	QoSIOPS            qosLimitConfigStruct
	QoSBPS             qosLimitConfigStruct
	QoSReadIOPS        qosLimitConfigStruct
	QoSWriteIOPS       qosLimitConfigStruct
	QoSReadBPS         qosLimitConfigStruct
	QoSWriteBPS        qosLimitConfigStruct
	QoSExcludeOps      []string // of: read write discard write-same compare-and-write
	QoSScheduleTickMin time.Duration

	DiscardGranularity       uint64 // == 0 means byte-granular discards
	DiscardZeroesFullObjects bool   // discard spanning a whole data object deletes it

	ReadCacheLineSize     uint64 // == 0 means read caching is disabled
	ReadCacheLineCountMax uint64

	FUSEMountPointDirPath    string // == "" means the volume is not FUSE-mounted
	FUSEAllowOther           bool
	FUSEMaxRead              uint32
	FUSEMaxWrite             uint32
	FUSEMaxBackground        uint16
	FUSECongestionThreshhold uint16
	FUSEBlockSize            uint32
	FUSEAttrValidDuration    time.Duration

	HTTPServerIPAddr string
	HTTPServerPort   uint16

	LogFilePath  string // Unless starting with '/', relative to $CWD; == "" means disabled
	LogToConsole bool
	TraceEnabled bool
}

type statsStruct struct {
	ReadUsecs            bucketstats.BucketLog2Round // (*volumeStruct).Read()
	WriteUsecs           bucketstats.BucketLog2Round // (*volumeStruct).Write()
	DiscardUsecs         bucketstats.BucketLog2Round // (*volumeStruct).Discard()
	WriteSameUsecs       bucketstats.BucketLog2Round // (*volumeStruct).WriteSame()
	CompareAndWriteUsecs bucketstats.BucketLog2Round // (*volumeStruct).CompareAndWrite()
	FlushUsecs           bucketstats.BucketLog2Round // (*volumeStruct).Flush()
	ListSnapsUsecs       bucketstats.BucketLog2Round // (*volumeStruct).ListSnaps()
	BlockWritesUsecs     bucketstats.BucketLog2Round // (*volumeStruct).BlockWrites()
	UnblockWritesUsecs   bucketstats.BucketLog2Round // (*volumeStruct).UnblockWrites()
	ApplyQoSLimitUsecs   bucketstats.BucketLog2Round // (*volumeStruct).ApplyQoSLimit()

	StoreAuthUsecs            bucketstats.BucketLog2Round // GET /auth/v1.0
	ObjectGetUsecs            bucketstats.BucketLog2Round // GET <poolURL>/<object>
	ObjectPutUsecs            bucketstats.BucketLog2Round // PUT <poolURL>/<object>
	ObjectDeleteUsecs         bucketstats.BucketLog2Round // DELETE <poolURL>/<object>
	ObjectZeroUsecs           bucketstats.BucketLog2Round // POST <poolURL>/<object> X-Object-Op: zero
	ObjectWriteSameUsecs      bucketstats.BucketLog2Round // PUT <poolURL>/<object> X-Object-Op: write-same
	ObjectCompareAndWriteUsec bucketstats.BucketLog2Round // POST <poolURL>/<object> X-Object-Op: compare-and-write
	VolumeHeaderFetchUsecs    bucketstats.BucketLog2Round // volume header GET + unmarshal

	GetConfigUsecs  bucketstats.BucketLog2Round // GET /config
	GetStatsUsecs   bucketstats.BucketLog2Round // GET /stats
	GetVersionUsecs bucketstats.BucketLog2Round // GET /version
	GetVolumeUsecs  bucketstats.BucketLog2Round // GET /volume
	PostVolumeUsecs bucketstats.BucketLog2Round // POST /volume/...

	DoLookupUsecs      bucketstats.BucketLog2Round
	DoForgetUsecs      bucketstats.BucketLog2Round
	DoGetAttrUsecs     bucketstats.BucketLog2Round
	DoSetAttrUsecs     bucketstats.BucketLog2Round
	DoReadLinkUsecs    bucketstats.BucketLog2Round
	DoSymLinkUsecs     bucketstats.BucketLog2Round
	DoMkNodUsecs       bucketstats.BucketLog2Round
	DoMkDirUsecs       bucketstats.BucketLog2Round
	DoUnlinkUsecs      bucketstats.BucketLog2Round
	DoRmDirUsecs       bucketstats.BucketLog2Round
	DoRenameUsecs      bucketstats.BucketLog2Round
	DoLinkUsecs        bucketstats.BucketLog2Round
	DoOpenUsecs        bucketstats.BucketLog2Round
	DoReadUsecs        bucketstats.BucketLog2Round
	DoWriteUsecs       bucketstats.BucketLog2Round
	DoStatFSUsecs      bucketstats.BucketLog2Round
	DoReleaseUsecs     bucketstats.BucketLog2Round
	DoFSyncUsecs       bucketstats.BucketLog2Round
	DoSetXAttrUsecs    bucketstats.BucketLog2Round
	DoGetXAttrUsecs    bucketstats.BucketLog2Round
	DoListXAttrUsecs   bucketstats.BucketLog2Round
	DoRemoveXAttrUsecs bucketstats.BucketLog2Round
	DoFlushUsecs       bucketstats.BucketLog2Round
	DoInitUsecs        bucketstats.BucketLog2Round
	DoOpenDirUsecs     bucketstats.BucketLog2Round
	DoReadDirUsecs     bucketstats.BucketLog2Round
	DoReleaseDirUsecs  bucketstats.BucketLog2Round
	DoFSyncDirUsecs    bucketstats.BucketLog2Round
	DoGetLKUsecs       bucketstats.BucketLog2Round
	DoSetLKUsecs       bucketstats.BucketLog2Round
	DoSetLKWUsecs      bucketstats.BucketLog2Round
	DoAccessUsecs      bucketstats.BucketLog2Round
	DoCreateUsecs      bucketstats.BucketLog2Round
	DoInterruptUsecs   bucketstats.BucketLog2Round
	DoBMapUsecs        bucketstats.BucketLog2Round
	DoDestroyUsecs     bucketstats.BucketLog2Round
	DoPollUsecs        bucketstats.BucketLog2Round
	DoBatchForgetUsecs bucketstats.BucketLog2Round
	DoFAllocateUsecs   bucketstats.BucketLog2Round
	DoReadDirPlusUsecs bucketstats.BucketLog2Round
	DoRename2Usecs     bucketstats.BucketLog2Round
	DoLSeekUsecs       bucketstats.BucketLog2Round

	DoReadBytes  bucketstats.BucketLog2Round
	DoWriteBytes bucketstats.BucketLog2Round

	RequestsClipFailed        bucketstats.Totaler // preprocessing EINVAL rejections
	RequestsReadOnlyRejected  bucketstats.Totaler // preprocessing EROFS rejections
	RequestsShutdownRejected  bucketstats.Totaler // sends arriving after dispatcher shutdown
	QueueHeldRequests         bucketstats.Totaler // requests held by the queueing layer
	QoSHeldRequests           bucketstats.Totaler // requests held by the QoS layer
	WriteBlockHeldRequests    bucketstats.Totaler // write-class requests held while writes are blocked
	RefreshHeldRequests       bucketstats.Totaler // requests held awaiting a header re-fetch
	VolumeRefreshes           bucketstats.Totaler // header re-fetches performed
	HeaderWatchWakeups        bucketstats.Totaler // header watch long-polls observing a new generation
	FlushCallbackHandoffs     bucketstats.Totaler // pending flush callbacks handed to an older operation
	ReadCacheHits             bucketstats.Totaler
	ReadCacheMisses           bucketstats.Totaler
	StoreAuths                bucketstats.Totaler // GET /auth/v1.0 round trips
	StoreRetries              bucketstats.Totaler // per-operation retry sleeps
	CompareAndWriteMismatches bucketstats.Totaler
}

type globalsStruct struct {
	config         configStruct
	logger         *logrus.Logger
	logFile        *os.File // == nil if config.LogFilePath == ""
	engine         *ioengine.EngineStruct
	strand         *ioengine.StrandStruct // every user-visible completion runs here
	volume         *volumeStruct
	fissionErrChan chan error
	fissionVolume  fission.Volume
	httpServer     *http.Server
	httpServerWG   sync.WaitGroup
	stats          *statsStruct

	fuseAttrValidDurationSec  uint64
	fuseAttrValidDurationNSec uint32

	openHandleMapLock sync.Mutex
	openHandleMap     map[uint64]*openHandleStruct // key == openHandleStruct.fissionFH
	lastFissionFH     uint64                       // protected by openHandleMapLock
}

var globals globalsStruct

func fetchQoSLimitConfig(confMap conf.ConfMap, optionNamePrefix string, qosLimitConfig *qosLimitConfigStruct) {
	var (
		err error
	)

	qosLimitConfig.Limit, err = confMap.FetchOptionValueUint64("IBLOCK", optionNamePrefix+"Limit")
	if nil != err {
		logFatal(err)
	}
	qosLimitConfig.Burst, err = confMap.FetchOptionValueUint64("IBLOCK", optionNamePrefix+"Burst")
	if nil != err {
		logFatal(err)
	}
	qosLimitConfig.BurstSeconds, err = confMap.FetchOptionValueUint64("IBLOCK", optionNamePrefix+"BurstSeconds")
	if nil != err {
		logFatal(err)
	}
}

func initializeGlobals(confMap conf.ConfMap, fissionErrChan chan error) (err error) {
	var (
		configJSONified   string
		engineWorkerCount uint32
	)

	// Default logging related globals

	globals.config.LogFilePath = ""
	globals.config.LogToConsole = true
	globals.logFile = nil

	initLogger()

	// Process resultant confMap

	globals.config.VolumeName, err = confMap.FetchOptionValueString("IBLOCK", "VolumeName")
	if nil != err {
		logFatal(err)
	}
	globals.config.StoreURL, err = confMap.FetchOptionValueString("IBLOCK", "StoreURL")
	if nil != err {
		logFatal(err)
	}
	globals.config.StoreAuthUser, err = confMap.FetchOptionValueString("IBLOCK", "StoreAuthUser")
	if nil != err {
		logFatal(err)
	}
	globals.config.StoreAuthKey, err = confMap.FetchOptionValueString("IBLOCK", "StoreAuthKey")
	if nil != err {
		logFatal(err)
	}
	globals.config.StorePool, err = confMap.FetchOptionValueString("IBLOCK", "StorePool")
	if nil != err {
		logFatal(err)
	}
	globals.config.StoreTimeout, err = confMap.FetchOptionValueDuration("IBLOCK", "StoreTimeout")
	if nil != err {
		logFatal(err)
	}
	globals.config.StoreConnectionPoolSize, err = confMap.FetchOptionValueUint32("IBLOCK", "StoreConnectionPoolSize")
	if nil != err {
		logFatal(err)
	}
	globals.config.StoreRetryDelay, err = confMap.FetchOptionValueDuration("IBLOCK", "StoreRetryDelay")
	if nil != err {
		logFatal(err)
	}
	globals.config.StoreRetryExpBackoff, err = confMap.FetchOptionValueFloat64("IBLOCK", "StoreRetryExpBackoff")
	if nil != err {
		logFatal(err)
	}
	globals.config.StoreRetryLimit, err = confMap.FetchOptionValueUint32("IBLOCK", "StoreRetryLimit")
	if nil != err {
		logFatal(err)
	}
	globals.config.EngineWorkerCount, err = confMap.FetchOptionValueUint32("IBLOCK", "EngineWorkerCount")
	if nil != err {
		logFatal(err)
	}
	globals.config.QueueDepth, err = confMap.FetchOptionValueUint32("IBLOCK", "QueueDepth")
	if nil != err {
		logFatal(err)
	}

	fetchQoSLimitConfig(confMap, "QoSIOPS", &globals.config.QoSIOPS)
	fetchQoSLimitConfig(confMap, "QoSBPS", &globals.config.QoSBPS)
	fetchQoSLimitConfig(confMap, "QoSReadIOPS", &globals.config.QoSReadIOPS)
	fetchQoSLimitConfig(confMap, "QoSWriteIOPS", &globals.config.QoSWriteIOPS)
	fetchQoSLimitConfig(confMap, "QoSReadBPS", &globals.config.QoSReadBPS)
	fetchQoSLimitConfig(confMap, "QoSWriteBPS", &globals.config.QoSWriteBPS)

	globals.config.QoSExcludeOps, err = confMap.FetchOptionValueStringSlice("IBLOCK", "QoSExcludeOps")
	if nil != err {
		err = confMap.VerifyOptionValueIsEmpty("IBLOCK", "QoSExcludeOps")
		if nil == err {
			globals.config.QoSExcludeOps = nil
		} else {
			logFatalf("[IBLOCK]QoSExcludeOps must either be a valid string list or empty]")
		}
	}
	globals.config.QoSScheduleTickMin, err = confMap.FetchOptionValueDuration("IBLOCK", "QoSScheduleTickMin")
	if nil != err {
		logFatal(err)
	}
	globals.config.DiscardGranularity, err = confMap.FetchOptionValueUint64("IBLOCK", "DiscardGranularity")
	if nil != err {
		logFatal(err)
	}
	globals.config.DiscardZeroesFullObjects, err = confMap.FetchOptionValueBool("IBLOCK", "DiscardZeroesFullObjects")
	if nil != err {
		logFatal(err)
	}
	globals.config.ReadCacheLineSize, err = confMap.FetchOptionValueUint64("IBLOCK", "ReadCacheLineSize")
	if nil != err {
		logFatal(err)
	}
	globals.config.ReadCacheLineCountMax, err = confMap.FetchOptionValueUint64("IBLOCK", "ReadCacheLineCountMax")
	if nil != err {
		logFatal(err)
	}
	globals.config.FUSEMountPointDirPath, err = confMap.FetchOptionValueString("IBLOCK", "FUSEMountPointDirPath")
	if nil != err {
		err = confMap.VerifyOptionValueIsEmpty("IBLOCK", "FUSEMountPointDirPath")
		if nil == err {
			globals.config.FUSEMountPointDirPath = ""
		} else {
			logFatalf("[IBLOCK]FUSEMountPointDirPath must either be a valid string or empty]")
		}
	}
	globals.config.FUSEAllowOther, err = confMap.FetchOptionValueBool("IBLOCK", "FUSEAllowOther")
	if nil != err {
		logFatal(err)
	}
	globals.config.FUSEMaxRead, err = confMap.FetchOptionValueUint32("IBLOCK", "FUSEMaxRead")
	if nil != err {
		logFatal(err)
	}
	globals.config.FUSEMaxWrite, err = confMap.FetchOptionValueUint32("IBLOCK", "FUSEMaxWrite")
	if nil != err {
		logFatal(err)
	}
	globals.config.FUSEMaxBackground, err = confMap.FetchOptionValueUint16("IBLOCK", "FUSEMaxBackground")
	if nil != err {
		logFatal(err)
	}
	globals.config.FUSECongestionThreshhold, err = confMap.FetchOptionValueUint16("IBLOCK", "FUSECongestionThreshhold")
	if nil != err {
		logFatal(err)
	}
	globals.config.FUSEBlockSize, err = confMap.FetchOptionValueUint32("IBLOCK", "FUSEBlockSize")
	if nil != err {
		logFatal(err)
	}
	globals.config.FUSEAttrValidDuration, err = confMap.FetchOptionValueDuration("IBLOCK", "FUSEAttrValidDuration")
	if nil != err {
		logFatal(err)
	}
	globals.config.HTTPServerIPAddr, err = confMap.FetchOptionValueString("IBLOCK", "HTTPServerIPAddr")
	if nil != err {
		globals.config.HTTPServerIPAddr = "0.0.0.0"
	}
	globals.config.HTTPServerPort, err = confMap.FetchOptionValueUint16("IBLOCK", "HTTPServerPort")
	if nil != err {
		globals.config.HTTPServerPort = 0
	}
	globals.config.LogFilePath, err = confMap.FetchOptionValueString("IBLOCK", "LogFilePath")
	if nil != err {
		err = confMap.VerifyOptionValueIsEmpty("IBLOCK", "LogFilePath")
		if nil == err {
			globals.config.LogFilePath = ""
		} else {
			logFatalf("[IBLOCK]LogFilePath must either be a valid string or empty]")
		}
	}
	globals.config.LogToConsole, err = confMap.FetchOptionValueBool("IBLOCK", "LogToConsole")
	if nil != err {
		logFatal(err)
	}
	globals.config.TraceEnabled, err = confMap.FetchOptionValueBool("IBLOCK", "TraceEnabled")
	if nil != err {
		logFatal(err)
	}

	updateLogger()

	configJSONified = utils.JSONify(globals.config, true)

	logInfof("globals.config:\n%s", configJSONified)

	// The engine must carry at least as many workers as the store-client
	// may occupy with concurrent HTTP round trips

	engineWorkerCount = globals.config.EngineWorkerCount
	if engineWorkerCount < globals.config.StoreConnectionPoolSize {
		engineWorkerCount = globals.config.StoreConnectionPoolSize
	}

	globals.engine = ioengine.NewEngine(engineWorkerCount)
	globals.strand = globals.engine.NewStrand()

	globals.fissionErrChan = fissionErrChan

	globals.fuseAttrValidDurationSec, globals.fuseAttrValidDurationNSec = nsToUnixTime(uint64(globals.config.FUSEAttrValidDuration))

	globals.openHandleMap = make(map[uint64]*openHandleStruct)
	globals.lastFissionFH = 0

	globals.stats = &statsStruct{}

	bucketstats.Register("IBLOCK", "", globals.stats)

	err = nil
	return
}

func uninitializeGlobals() (err error) {
	globals.config.VolumeName = ""
	globals.config.StoreURL = ""
	globals.config.StoreAuthUser = ""
	globals.config.StoreAuthKey = ""
	globals.config.StorePool = ""
	globals.config.StoreTimeout = time.Duration(0)
	globals.config.StoreConnectionPoolSize = 0
	globals.config.StoreRetryDelay = time.Duration(0)
	globals.config.StoreRetryExpBackoff = 0.0
	globals.config.StoreRetryLimit = 0
	globals.config.EngineWorkerCount = 0
	globals.config.QueueDepth = 0
	globals.config.QoSIOPS = qosLimitConfigStruct{}
	globals.config.QoSBPS = qosLimitConfigStruct{}
	globals.config.QoSReadIOPS = qosLimitConfigStruct{}
	globals.config.QoSWriteIOPS = qosLimitConfigStruct{}
	globals.config.QoSReadBPS = qosLimitConfigStruct{}
	globals.config.QoSWriteBPS = qosLimitConfigStruct{}
	globals.config.QoSExcludeOps = nil
	globals.config.QoSScheduleTickMin = time.Duration(0)
	globals.config.DiscardGranularity = 0
	globals.config.DiscardZeroesFullObjects = false
	globals.config.ReadCacheLineSize = 0
	globals.config.ReadCacheLineCountMax = 0
	globals.config.FUSEMountPointDirPath = ""
	globals.config.FUSEAllowOther = false
	globals.config.FUSEMaxRead = 0
	globals.config.FUSEMaxWrite = 0
	globals.config.FUSEMaxBackground = 0
	globals.config.FUSECongestionThreshhold = 0
	globals.config.FUSEBlockSize = 0
	globals.config.FUSEAttrValidDuration = time.Duration(0)
	globals.config.HTTPServerIPAddr = ""
	globals.config.HTTPServerPort = 0
	globals.config.LogFilePath = ""
	globals.config.LogToConsole = false
	globals.config.TraceEnabled = false

	globals.engine = nil
	globals.strand = nil
	globals.fissionErrChan = nil
	globals.fuseAttrValidDurationSec = 0
	globals.fuseAttrValidDurationNSec = 0
	globals.openHandleMap = nil
	globals.lastFissionFH = 0

	closeLogFile()

	bucketstats.UnRegister("IBLOCK", "")

	err = nil
	return
}

// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package istorepkg

import (
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/NVIDIA/sortedmap"
	"github.com/sirupsen/logrus"

	"github.com/NVIDIA/iblock/bucketstats"
	"github.com/NVIDIA/iblock/conf"
	"github.com/NVIDIA/iblock/utils"
)

type configStruct struct {
	IPAddr           string
	Port             uint16
	AuthUser         string
	AuthKey          string
	AuthAccount      string
	AuthTokenTTL     time.Duration
	WatchPollTimeout time.Duration
	MaxConnections   uint32
	LogFilePath      string // Unless starting with '/', relative to $CWD; == "" means disabled
	LogToConsole     bool
	TraceEnabled     bool
}

type statsStruct struct {
	AuthUsecs             bucketstats.BucketLog2Round // GET /auth/v1.0
	DeleteObjectUsecs     bucketstats.BucketLog2Round // DELETE /v1/<account>/<pool>/<object>
	DeletePoolUsecs       bucketstats.BucketLog2Round // DELETE /v1/<account>/<pool>
	GetAdminPoolsUsecs    bucketstats.BucketLog2Round // GET /admin/pools
	GetConfigUsecs        bucketstats.BucketLog2Round // GET /config
	GetObjectUsecs        bucketstats.BucketLog2Round // GET /v1/<account>/<pool>/<object>
	GetPoolUsecs          bucketstats.BucketLog2Round // GET /v1/<account>/<pool>
	GetStatsUsecs         bucketstats.BucketLog2Round // GET /stats
	GetVersionUsecs       bucketstats.BucketLog2Round // GET /version
	HeadObjectUsecs       bucketstats.BucketLog2Round // HEAD /v1/<account>/<pool>/<object>
	PostAdminCommandUsecs bucketstats.BucketLog2Round // POST /admin/command
	PostObjectUsecs       bucketstats.BucketLog2Round // POST /v1/<account>/<pool>/<object>
	PutObjectUsecs        bucketstats.BucketLog2Round // PUT /v1/<account>/<pool>/<object>
	PutPoolUsecs          bucketstats.BucketLog2Round // PUT /v1/<account>/<pool>

	AuthFailures              bucketstats.Totaler // rejected/expired X-Auth-Token's
	CompareAndWriteMismatches bucketstats.Totaler // POST compare-and-write mismatches
	WatchWaits                bucketstats.Totaler // long-poll GETs that had to wait
	WatchWakeups              bucketstats.Totaler // watchers woken by a mutation
}

type authTokenStruct struct {
	authToken string
	expiresAt time.Time
}

type globalsStruct struct {
	sync.Mutex
	config       configStruct
	logger       *logrus.Logger
	logFile      *os.File // == nil if config.LogFilePath == ""
	authTokenMap map[string]*authTokenStruct
	poolMap      sortedmap.LLRBTree // key == poolStruct.name; value == *poolStruct
	netListener  net.Listener
	httpServer   *http.Server
	httpServerWG sync.WaitGroup
	stats        *statsStruct
}

var globals globalsStruct

func initializeGlobals(confMap conf.ConfMap) (err error) {
	var (
		configJSONified string
	)

	// Default logging related globals

	globals.config.LogFilePath = ""
	globals.config.LogToConsole = true
	globals.logFile = nil

	initLogger()

	// Process resultant confMap

	globals.config.IPAddr, err = confMap.FetchOptionValueString("ISTORE", "IPAddr")
	if nil != err {
		logFatal(err)
	}
	globals.config.Port, err = confMap.FetchOptionValueUint16("ISTORE", "Port")
	if nil != err {
		logFatal(err)
	}
	globals.config.AuthUser, err = confMap.FetchOptionValueString("ISTORE", "AuthUser")
	if nil != err {
		logFatal(err)
	}
	globals.config.AuthKey, err = confMap.FetchOptionValueString("ISTORE", "AuthKey")
	if nil != err {
		logFatal(err)
	}
	globals.config.AuthAccount, err = confMap.FetchOptionValueString("ISTORE", "AuthAccount")
	if nil != err {
		logFatal(err)
	}
	globals.config.AuthTokenTTL, err = confMap.FetchOptionValueDuration("ISTORE", "AuthTokenTTL")
	if nil != err {
		logFatal(err)
	}
	globals.config.WatchPollTimeout, err = confMap.FetchOptionValueDuration("ISTORE", "WatchPollTimeout")
	if nil != err {
		logFatal(err)
	}
	globals.config.MaxConnections, err = confMap.FetchOptionValueUint32("ISTORE", "MaxConnections")
	if nil != err {
		logFatal(err)
	}
	globals.config.LogFilePath, err = confMap.FetchOptionValueString("ISTORE", "LogFilePath")
	if nil != err {
		err = confMap.VerifyOptionValueIsEmpty("ISTORE", "LogFilePath")
		if nil == err {
			globals.config.LogFilePath = ""
		} else {
			logFatalf("[ISTORE]LogFilePath must either be a valid string or empty]")
		}
	}
	globals.config.LogToConsole, err = confMap.FetchOptionValueBool("ISTORE", "LogToConsole")
	if nil != err {
		logFatal(err)
	}
	globals.config.TraceEnabled, err = confMap.FetchOptionValueBool("ISTORE", "TraceEnabled")
	if nil != err {
		logFatal(err)
	}

	updateLogger()

	configJSONified = utils.JSONify(globals.config, true)

	logInfof("globals.config:\n%s", configJSONified)

	globals.authTokenMap = make(map[string]*authTokenStruct)
	globals.poolMap = sortedmap.NewLLRBTree(sortedmap.CompareString, &globals)

	globals.stats = &statsStruct{}

	bucketstats.Register("ISTORE", "", globals.stats)

	err = nil
	return
}

func uninitializeGlobals() (err error) {
	globals.config.IPAddr = ""
	globals.config.Port = 0
	globals.config.AuthUser = ""
	globals.config.AuthKey = ""
	globals.config.AuthAccount = ""
	globals.config.AuthTokenTTL = time.Duration(0)
	globals.config.WatchPollTimeout = time.Duration(0)
	globals.config.MaxConnections = 0
	globals.config.LogFilePath = ""
	globals.config.LogToConsole = false
	globals.config.TraceEnabled = false

	globals.authTokenMap = nil
	globals.poolMap = nil

	closeLogFile()

	bucketstats.UnRegister("ISTORE", "")

	err = nil
	return
}

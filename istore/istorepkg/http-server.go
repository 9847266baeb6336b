// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package istorepkg

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/netutil"

	"github.com/NVIDIA/iblock/blunder"
	"github.com/NVIDIA/iblock/bucketstats"
	"github.com/NVIDIA/iblock/version"
)

const (
	startHTTPServerUpCheckDelay      = 100 * time.Millisecond
	startHTTPServerUpCheckMaxRetries = 10
)

func startHTTPServer() (err error) {
	var (
		ipAddrTCPPort                 string
		netListener                   net.Listener
		startHTTPServerUpCheckRetries uint32
	)

	ipAddrTCPPort = net.JoinHostPort(globals.config.IPAddr, strconv.Itoa(int(globals.config.Port)))

	netListener, err = net.Listen("tcp", ipAddrTCPPort)
	if nil != err {
		return
	}

	globals.netListener = netutil.LimitListener(netListener, int(globals.config.MaxConnections))

	globals.httpServer = &http.Server{
		Addr:    ipAddrTCPPort,
		Handler: &globals,
	}

	globals.httpServerWG.Add(1)

	go func() {
		var (
			err error
		)

		err = globals.httpServer.Serve(globals.netListener)
		if http.ErrServerClosed != err {
			logFatalf("httpServer.Serve() exited unexpectedly: %v", err)
		}

		globals.httpServerWG.Done()
	}()

	for startHTTPServerUpCheckRetries = 0; startHTTPServerUpCheckRetries < startHTTPServerUpCheckMaxRetries; startHTTPServerUpCheckRetries++ {
		_, err = http.Get("http://" + ipAddrTCPPort + "/version")
		if nil == err {
			return
		}

		time.Sleep(startHTTPServerUpCheckDelay)
	}

	err = fmt.Errorf("startHTTPServerUpCheckMaxRetries (%v) exceeded", startHTTPServerUpCheckMaxRetries)
	return
}

func stopHTTPServer() (err error) {
	err = globals.httpServer.Shutdown(context.TODO())
	if nil == err {
		globals.httpServerWG.Wait()
	}

	return
}

func (dummy *globalsStruct) ServeHTTP(responseWriter http.ResponseWriter, request *http.Request) {
	var (
		err         error
		requestBody []byte
		requestPath string
	)

	requestPath = strings.TrimRight(request.URL.Path, "/")

	requestBody, err = ioutil.ReadAll(request.Body)
	if nil == err {
		err = request.Body.Close()
		if nil != err {
			responseWriter.WriteHeader(http.StatusBadRequest)
			return
		}
	} else {
		_ = request.Body.Close()
		responseWriter.WriteHeader(http.StatusBadRequest)
		return
	}

	switch request.Method {
	case http.MethodDelete:
		serveHTTPDelete(responseWriter, request, requestPath)
	case http.MethodGet:
		serveHTTPGet(responseWriter, request, requestPath)
	case http.MethodHead:
		serveHTTPHead(responseWriter, request, requestPath)
	case http.MethodPost:
		serveHTTPPost(responseWriter, request, requestPath, requestBody)
	case http.MethodPut:
		serveHTTPPut(responseWriter, request, requestPath, requestBody)
	default:
		responseWriter.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// splitStoragePath decomposes "/v1/<account>/<pool>[/<object>]". The object
// return is "" for pool-level paths.
//
func splitStoragePath(requestPath string) (account string, poolName string, objectName string, ok bool) {
	var (
		pathSplit []string
	)

	pathSplit = strings.Split(requestPath, "/")

	switch len(pathSplit) {
	case 4:
		account = pathSplit[2]
		poolName = pathSplit[3]
		objectName = ""
		ok = ("" != account) && ("" != poolName)
	case 5:
		account = pathSplit[2]
		poolName = pathSplit[3]
		objectName = pathSplit[4]
		ok = ("" != account) && ("" != poolName) && ("" != objectName)
	default:
		ok = false
	}

	return
}

// requestAuthorized validates the X-Auth-Token header, responding 401 itself
// when the token is missing, unknown, or expired.
//
func requestAuthorized(responseWriter http.ResponseWriter, request *http.Request) (authorized bool) {
	authorized = authTokenValid(request.Header.Get("X-Auth-Token"))
	if !authorized {
		globals.stats.AuthFailures.Increment()
		responseWriter.WriteHeader(http.StatusUnauthorized)
	}

	return
}

// accountMatches verifies the storage path names the configured account,
// responding 403 itself when it does not.
//
func accountMatches(responseWriter http.ResponseWriter, account string) (matches bool) {
	matches = (account == globals.config.AuthAccount)
	if !matches {
		responseWriter.WriteHeader(http.StatusForbidden)
	}

	return
}

func errnoHTTPStatus(err error) (httpStatus int) {
	switch blunder.Errno(err) {
	case int(blunder.NotFoundError):
		httpStatus = http.StatusNotFound
	case int(blunder.InvalidArgError):
		httpStatus = http.StatusBadRequest
	case int(blunder.ExistsError), int(blunder.NotEmptyError), int(blunder.MismatchError):
		httpStatus = http.StatusConflict
	default:
		httpStatus = http.StatusInternalServerError
	}

	return
}

// parseContentRangeHeader parses "bytes <first>-<last>/<total|*>" returning
// the inclusive byte span.
//
func parseContentRangeHeader(request *http.Request) (startOffset uint64, endOffset uint64, err error) {
	var (
		contentRange      string
		contentRangeSpan  string
		contentRangeSplit []string
		spanSplit         []string
	)

	contentRange = request.Header.Get("Content-Range")
	if !strings.HasPrefix(contentRange, "bytes ") {
		err = blunder.NewError(blunder.InvalidArgError, "malformed Content-Range: \"%s\"", contentRange)
		return
	}

	contentRangeSplit = strings.SplitN(strings.TrimPrefix(contentRange, "bytes "), "/", 2)
	if 2 != len(contentRangeSplit) {
		err = blunder.NewError(blunder.InvalidArgError, "malformed Content-Range: \"%s\"", contentRange)
		return
	}

	contentRangeSpan = contentRangeSplit[0]

	spanSplit = strings.SplitN(contentRangeSpan, "-", 2)
	if 2 != len(spanSplit) {
		err = blunder.NewError(blunder.InvalidArgError, "malformed Content-Range: \"%s\"", contentRange)
		return
	}

	startOffset, err = strconv.ParseUint(spanSplit[0], 10, 64)
	if nil != err {
		err = blunder.NewError(blunder.InvalidArgError, "malformed Content-Range: \"%s\"", contentRange)
		return
	}
	endOffset, err = strconv.ParseUint(spanSplit[1], 10, 64)
	if nil != err {
		err = blunder.NewError(blunder.InvalidArgError, "malformed Content-Range: \"%s\"", contentRange)
		return
	}

	if endOffset < startOffset {
		err = blunder.NewError(blunder.InvalidArgError, "malformed Content-Range: \"%s\"", contentRange)
		return
	}

	err = nil
	return
}

// parseRangeHeader resolves "bytes=<first>-<last>", "bytes=<first>-", or
// "bytes=-<suffixLen>" against objectSize to a concrete inclusive span.
//
func parseRangeHeader(rangeHeaderValue string, objectSize uint64) (startOffset uint64, endOffset uint64, err error) {
	var (
		rangeSpec string
		spanSplit []string
		suffixLen uint64
	)

	if !strings.HasPrefix(rangeHeaderValue, "bytes=") {
		err = blunder.NewError(blunder.InvalidArgError, "malformed Range: \"%s\"", rangeHeaderValue)
		return
	}

	if 0 == objectSize {
		err = blunder.NewError(blunder.InvalidArgError, "unsatisfiable Range: \"%s\"", rangeHeaderValue)
		return
	}

	rangeSpec = strings.TrimPrefix(rangeHeaderValue, "bytes=")

	if strings.HasPrefix(rangeSpec, "-") {
		suffixLen, err = strconv.ParseUint(strings.TrimPrefix(rangeSpec, "-"), 10, 64)
		if nil != err {
			err = blunder.NewError(blunder.InvalidArgError, "malformed Range: \"%s\"", rangeHeaderValue)
			return
		}
		if suffixLen >= objectSize {
			startOffset = 0
		} else {
			startOffset = objectSize - suffixLen
		}
		endOffset = objectSize - 1
		err = nil
		return
	}

	spanSplit = strings.SplitN(rangeSpec, "-", 2)
	if 2 != len(spanSplit) {
		err = blunder.NewError(blunder.InvalidArgError, "malformed Range: \"%s\"", rangeHeaderValue)
		return
	}

	startOffset, err = strconv.ParseUint(spanSplit[0], 10, 64)
	if nil != err {
		err = blunder.NewError(blunder.InvalidArgError, "malformed Range: \"%s\"", rangeHeaderValue)
		return
	}

	if "" == spanSplit[1] {
		endOffset = objectSize - 1
	} else {
		endOffset, err = strconv.ParseUint(spanSplit[1], 10, 64)
		if nil != err {
			err = blunder.NewError(blunder.InvalidArgError, "malformed Range: \"%s\"", rangeHeaderValue)
			return
		}
		if endOffset >= objectSize {
			endOffset = objectSize - 1
		}
	}

	if (startOffset > endOffset) || (startOffset >= objectSize) {
		err = blunder.NewError(blunder.InvalidArgError, "unsatisfiable Range: \"%s\"", rangeHeaderValue)
		return
	}

	err = nil
	return
}

func serveHTTPDelete(responseWriter http.ResponseWriter, request *http.Request, requestPath string) {
	switch {
	case strings.HasPrefix(requestPath, "/v1/"):
		serveHTTPDeleteOfStorage(responseWriter, request, requestPath)
	default:
		responseWriter.WriteHeader(http.StatusNotFound)
	}
}

func serveHTTPDeleteOfStorage(responseWriter http.ResponseWriter, request *http.Request, requestPath string) {
	var (
		account    string
		err        error
		objectName string
		ok         bool
		poolName   string
		startTime  time.Time
	)

	startTime = time.Now()

	if !requestAuthorized(responseWriter, request) {
		return
	}

	account, poolName, objectName, ok = splitStoragePath(requestPath)
	if !ok {
		responseWriter.WriteHeader(http.StatusBadRequest)
		return
	}
	if !accountMatches(responseWriter, account) {
		return
	}

	if "" == objectName {
		defer func() {
			globals.stats.DeletePoolUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
		}()

		err = deletePool(poolName)
	} else {
		defer func() {
			globals.stats.DeleteObjectUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
		}()

		err = deleteObject(poolName, objectName)
	}

	if nil == err {
		responseWriter.WriteHeader(http.StatusNoContent)
	} else {
		responseWriter.WriteHeader(errnoHTTPStatus(err))
	}
}

func serveHTTPGet(responseWriter http.ResponseWriter, request *http.Request, requestPath string) {
	switch {
	case "/auth/v1.0" == requestPath:
		serveHTTPGetOfAuth(responseWriter, request)
	case "/admin/pools" == requestPath:
		serveHTTPGetOfAdminPools(responseWriter, request)
	case "/config" == requestPath:
		serveHTTPGetOfConfig(responseWriter, request)
	case "/stats" == requestPath:
		serveHTTPGetOfStats(responseWriter, request)
	case "/version" == requestPath:
		serveHTTPGetOfVersion(responseWriter, request)
	case strings.HasPrefix(requestPath, "/v1/"):
		serveHTTPGetOfStorage(responseWriter, request, requestPath)
	default:
		responseWriter.WriteHeader(http.StatusNotFound)
	}
}

func serveHTTPGetOfAuth(responseWriter http.ResponseWriter, request *http.Request) {
	var (
		authToken string
		startTime time.Time
	)

	startTime = time.Now()
	defer func() {
		globals.stats.AuthUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	if (request.Header.Get("X-Auth-User") != globals.config.AuthUser) || (request.Header.Get("X-Auth-Key") != globals.config.AuthKey) {
		globals.stats.AuthFailures.Increment()
		responseWriter.WriteHeader(http.StatusUnauthorized)
		return
	}

	authToken = createAuthToken()

	responseWriter.Header().Set("X-Auth-Token", authToken)
	responseWriter.Header().Set("X-Storage-Url", fmt.Sprintf("http://%s/v1/%s", globals.httpServer.Addr, globals.config.AuthAccount))
	responseWriter.WriteHeader(http.StatusOK)
}

func serveHTTPGetOfAdminPools(responseWriter http.ResponseWriter, request *http.Request) {
	var (
		err                 error
		poolAdminList       []*poolAdminStruct
		poolAdminListAsJSON []byte
		startTime           time.Time
	)

	startTime = time.Now()
	defer func() {
		globals.stats.GetAdminPoolsUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	poolAdminList = fetchAllPoolAdmin()

	poolAdminListAsJSON, err = json.Marshal(poolAdminList)
	if nil != err {
		logFatal(err)
	}

	responseWriter.Header().Set("Content-Length", fmt.Sprintf("%d", len(poolAdminListAsJSON)))
	responseWriter.Header().Set("Content-Type", "application/json")
	responseWriter.WriteHeader(http.StatusOK)

	_, err = responseWriter.Write(poolAdminListAsJSON)
	if nil != err {
		logWarnf("responseWriter.Write(poolAdminListAsJSON) failed: %v", err)
	}
}

func serveHTTPGetOfConfig(responseWriter http.ResponseWriter, request *http.Request) {
	var (
		confMapJSON []byte
		err         error
		startTime   time.Time
	)

	startTime = time.Now()
	defer func() {
		globals.stats.GetConfigUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	confMapJSON, err = json.Marshal(globals.config)
	if nil != err {
		logFatalf("json.Marshal(globals.config) failed: %v", err)
	}

	responseWriter.Header().Set("Content-Length", fmt.Sprintf("%d", len(confMapJSON)))
	responseWriter.Header().Set("Content-Type", "application/json")
	responseWriter.WriteHeader(http.StatusOK)

	_, err = responseWriter.Write(confMapJSON)
	if nil != err {
		logWarnf("responseWriter.Write(confMapJSON) failed: %v", err)
	}
}

func serveHTTPGetOfStats(responseWriter http.ResponseWriter, request *http.Request) {
	var (
		err           error
		startTime     time.Time
		statsAsString string
	)

	startTime = time.Now()
	defer func() {
		globals.stats.GetStatsUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	statsAsString = bucketstats.SprintStats(bucketstats.StatFormatParsable1, "*", "*")

	responseWriter.Header().Set("Content-Length", fmt.Sprintf("%d", len(statsAsString)))
	responseWriter.Header().Set("Content-Type", "text/plain")
	responseWriter.WriteHeader(http.StatusOK)

	_, err = responseWriter.Write([]byte(statsAsString))
	if nil != err {
		logWarnf("responseWriter.Write([]byte(statsAsString)) failed: %v", err)
	}
}

func serveHTTPGetOfVersion(responseWriter http.ResponseWriter, request *http.Request) {
	var (
		err       error
		startTime time.Time
	)

	startTime = time.Now()
	defer func() {
		globals.stats.GetVersionUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	responseWriter.Header().Set("Content-Length", fmt.Sprintf("%d", len(version.IBlockVersion)))
	responseWriter.Header().Set("Content-Type", "text/plain")
	responseWriter.WriteHeader(http.StatusOK)

	_, err = responseWriter.Write([]byte(version.IBlockVersion))
	if nil != err {
		logWarnf("responseWriter.Write([]byte(version.IBlockVersion)) failed: %v", err)
	}
}

func serveHTTPGetOfStorage(responseWriter http.ResponseWriter, request *http.Request, requestPath string) {
	var (
		account    string
		objectName string
		ok         bool
		poolName   string
	)

	if !requestAuthorized(responseWriter, request) {
		return
	}

	account, poolName, objectName, ok = splitStoragePath(requestPath)
	if !ok {
		responseWriter.WriteHeader(http.StatusBadRequest)
		return
	}
	if !accountMatches(responseWriter, account) {
		return
	}

	if "" == objectName {
		serveHTTPGetOfPool(responseWriter, request, poolName)
	} else {
		serveHTTPGetOfObject(responseWriter, request, poolName, objectName)
	}
}

func serveHTTPGetOfPool(responseWriter http.ResponseWriter, request *http.Request, poolName string) {
	var (
		err         error
		listing     string
		objectNames []string
		startTime   time.Time
	)

	startTime = time.Now()
	defer func() {
		globals.stats.GetPoolUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	objectNames, err = listPool(poolName)
	if nil != err {
		responseWriter.WriteHeader(errnoHTTPStatus(err))
		return
	}

	listing = strings.Join(objectNames, "\n")
	if 0 != len(objectNames) {
		listing += "\n"
	}

	responseWriter.Header().Set("Content-Length", fmt.Sprintf("%d", len(listing)))
	responseWriter.Header().Set("Content-Type", "text/plain")
	responseWriter.WriteHeader(http.StatusOK)

	_, err = responseWriter.Write([]byte(listing))
	if nil != err {
		logWarnf("responseWriter.Write([]byte(listing)) failed: %v", err)
	}
}

func serveHTTPGetOfObject(responseWriter http.ResponseWriter, request *http.Request, poolName string, objectName string) {
	var (
		buf              []byte
		endOffset        uint64
		err              error
		generation       uint64
		rangeHeaderValue string
		startOffset      uint64
		startTime        time.Time
		watchGeneration  uint64
		watchHeaderValue string
	)

	startTime = time.Now()
	defer func() {
		globals.stats.GetObjectUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	watchHeaderValue = request.Header.Get("X-Watch-Generation")

	if "" != watchHeaderValue {
		watchGeneration, err = strconv.ParseUint(watchHeaderValue, 10, 64)
		if nil != err {
			responseWriter.WriteHeader(http.StatusBadRequest)
			return
		}

		buf, generation, err = awaitObjectGeneration(poolName, objectName, watchGeneration)
		if nil != err {
			responseWriter.WriteHeader(errnoHTTPStatus(err))
			return
		}
	} else {
		buf, generation, err = fetchObjectBody(poolName, objectName)
		if nil != err {
			responseWriter.WriteHeader(errnoHTTPStatus(err))
			return
		}
	}

	responseWriter.Header().Set("X-Object-Generation", strconv.FormatUint(generation, 10))

	rangeHeaderValue = request.Header.Get("Range")

	if "" == rangeHeaderValue {
		responseWriter.Header().Set("Content-Length", fmt.Sprintf("%d", len(buf)))
		responseWriter.Header().Set("Content-Type", "application/octet-stream")
		responseWriter.WriteHeader(http.StatusOK)

		_, err = responseWriter.Write(buf)
		if nil != err {
			logWarnf("responseWriter.Write(buf) failed: %v", err)
		}

		return
	}

	startOffset, endOffset, err = parseRangeHeader(rangeHeaderValue, uint64(len(buf)))
	if nil != err {
		responseWriter.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	responseWriter.Header().Set("Content-Length", fmt.Sprintf("%d", endOffset-startOffset+1))
	responseWriter.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", startOffset, endOffset, len(buf)))
	responseWriter.Header().Set("Content-Type", "application/octet-stream")
	responseWriter.WriteHeader(http.StatusPartialContent)

	_, err = responseWriter.Write(buf[startOffset : endOffset+1])
	if nil != err {
		logWarnf("responseWriter.Write(buf[,]) failed: %v", err)
	}
}

func serveHTTPHead(responseWriter http.ResponseWriter, request *http.Request, requestPath string) {
	var (
		account    string
		err        error
		generation uint64
		objectName string
		objectSize uint64
		ok         bool
		poolName   string
		startTime  time.Time
	)

	if !strings.HasPrefix(requestPath, "/v1/") {
		responseWriter.WriteHeader(http.StatusNotFound)
		return
	}

	startTime = time.Now()
	defer func() {
		globals.stats.HeadObjectUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	if !requestAuthorized(responseWriter, request) {
		return
	}

	account, poolName, objectName, ok = splitStoragePath(requestPath)
	if !ok {
		responseWriter.WriteHeader(http.StatusBadRequest)
		return
	}
	if !accountMatches(responseWriter, account) {
		return
	}

	if "" == objectName {
		globals.Lock()
		_, err = fetchPool(poolName)
		globals.Unlock()

		if nil == err {
			responseWriter.WriteHeader(http.StatusNoContent)
		} else {
			responseWriter.WriteHeader(errnoHTTPStatus(err))
		}

		return
	}

	objectSize, generation, err = fetchObjectInfo(poolName, objectName)
	if nil != err {
		responseWriter.WriteHeader(errnoHTTPStatus(err))
		return
	}

	responseWriter.Header().Set("Content-Length", fmt.Sprintf("%d", objectSize))
	responseWriter.Header().Set("X-Object-Generation", strconv.FormatUint(generation, 10))
	responseWriter.WriteHeader(http.StatusOK)
}

type adminCommandRequestStruct struct {
	Prefix string
	Pool   string
}

type adminStatusStruct struct {
	Status    string
	Pools     uint64
	Objects   uint64
	BytesUsed uint64
}

func serveHTTPPost(responseWriter http.ResponseWriter, request *http.Request, requestPath string, requestBody []byte) {
	switch {
	case "/admin/command" == requestPath:
		serveHTTPPostOfAdminCommand(responseWriter, request, requestBody)
	case strings.HasPrefix(requestPath, "/v1/"):
		serveHTTPPostOfStorage(responseWriter, request, requestPath, requestBody)
	default:
		responseWriter.WriteHeader(http.StatusNotFound)
	}
}

func serveHTTPPostOfAdminCommand(responseWriter http.ResponseWriter, request *http.Request, requestBody []byte) {
	var (
		adminCommand    adminCommandRequestStruct
		adminStatus     *adminStatusStruct
		err             error
		poolAdmin       *poolAdminStruct
		poolAdminAsJSON []byte
		poolAdminList   []*poolAdminStruct
		startTime       time.Time
		statusAsJSON    []byte
	)

	startTime = time.Now()
	defer func() {
		globals.stats.PostAdminCommandUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	err = json.Unmarshal(requestBody, &adminCommand)
	if nil != err {
		responseWriter.WriteHeader(http.StatusBadRequest)
		return
	}

	switch adminCommand.Prefix {
	case "status":
		adminStatus = &adminStatusStruct{Status: "OK"}

		poolAdminList = fetchAllPoolAdmin()
		for _, poolAdmin = range poolAdminList {
			adminStatus.Pools++
			adminStatus.Objects += poolAdmin.ObjectCount
			adminStatus.BytesUsed += poolAdmin.BytesUsed
		}

		statusAsJSON, err = json.Marshal(adminStatus)
		if nil != err {
			logFatal(err)
		}

		responseWriter.Header().Set("Content-Length", fmt.Sprintf("%d", len(statusAsJSON)))
		responseWriter.Header().Set("Content-Type", "application/json")
		responseWriter.WriteHeader(http.StatusOK)

		_, err = responseWriter.Write(statusAsJSON)
		if nil != err {
			logWarnf("responseWriter.Write(statusAsJSON) failed: %v", err)
		}
	case "pool stats":
		var (
			pool *poolStruct
		)

		globals.Lock()

		pool, err = fetchPool(adminCommand.Pool)
		if nil != err {
			globals.Unlock()
			responseWriter.WriteHeader(errnoHTTPStatus(err))
			return
		}

		poolAdmin = fetchPoolAdmin(pool)

		globals.Unlock()

		poolAdminAsJSON, err = json.Marshal(poolAdmin)
		if nil != err {
			logFatal(err)
		}

		responseWriter.Header().Set("Content-Length", fmt.Sprintf("%d", len(poolAdminAsJSON)))
		responseWriter.Header().Set("Content-Type", "application/json")
		responseWriter.WriteHeader(http.StatusOK)

		_, err = responseWriter.Write(poolAdminAsJSON)
		if nil != err {
			logWarnf("responseWriter.Write(poolAdminAsJSON) failed: %v", err)
		}
	default:
		responseWriter.WriteHeader(http.StatusBadRequest)
	}
}

func serveHTTPPostOfStorage(responseWriter http.ResponseWriter, request *http.Request, requestPath string, requestBody []byte) {
	var (
		account        string
		compareLength  uint64
		endOffset      uint64
		err            error
		mismatchOffset uint64
		objectName     string
		objectOp       string
		ok             bool
		poolName       string
		startOffset    uint64
		startTime      time.Time
	)

	startTime = time.Now()
	defer func() {
		globals.stats.PostObjectUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	if !requestAuthorized(responseWriter, request) {
		return
	}

	account, poolName, objectName, ok = splitStoragePath(requestPath)
	if !ok || ("" == objectName) {
		responseWriter.WriteHeader(http.StatusBadRequest)
		return
	}
	if !accountMatches(responseWriter, account) {
		return
	}

	startOffset, endOffset, err = parseContentRangeHeader(request)
	if nil != err {
		responseWriter.WriteHeader(http.StatusBadRequest)
		return
	}

	objectOp = request.Header.Get("X-Object-Op")

	switch objectOp {
	case "zero":
		err = zeroObjectRange(poolName, objectName, startOffset, endOffset-startOffset+1)
		if nil == err {
			responseWriter.WriteHeader(http.StatusNoContent)
		} else {
			responseWriter.WriteHeader(errnoHTTPStatus(err))
		}
	case "compare-and-write":
		compareLength, err = strconv.ParseUint(request.Header.Get("X-Compare-Length"), 10, 64)
		if nil != err {
			responseWriter.WriteHeader(http.StatusBadRequest)
			return
		}
		if (uint64(len(requestBody)) != (2 * compareLength)) || ((endOffset - startOffset + 1) != compareLength) {
			responseWriter.WriteHeader(http.StatusBadRequest)
			return
		}

		mismatchOffset, err = compareAndWriteObjectRange(poolName, objectName, startOffset, requestBody[:compareLength], requestBody[compareLength:])
		if nil == err {
			responseWriter.WriteHeader(http.StatusNoContent)
		} else if blunder.Is(err, blunder.MismatchError) {
			responseWriter.Header().Set("X-Mismatch-Offset", strconv.FormatUint(mismatchOffset, 10))
			responseWriter.WriteHeader(http.StatusConflict)
		} else {
			responseWriter.WriteHeader(errnoHTTPStatus(err))
		}
	default:
		responseWriter.WriteHeader(http.StatusBadRequest)
	}
}

func serveHTTPPut(responseWriter http.ResponseWriter, request *http.Request, requestPath string, requestBody []byte) {
	switch {
	case strings.HasPrefix(requestPath, "/v1/"):
		serveHTTPPutOfStorage(responseWriter, request, requestPath, requestBody)
	default:
		responseWriter.WriteHeader(http.StatusNotFound)
	}
}

func serveHTTPPutOfStorage(responseWriter http.ResponseWriter, request *http.Request, requestPath string, requestBody []byte) {
	var (
		account        string
		alreadyExisted bool
		endOffset      uint64
		err            error
		objectName     string
		objectOp       string
		ok             bool
		poolName       string
		spanLength     uint64
		startOffset    uint64
		startTime      time.Time
	)

	startTime = time.Now()

	if !requestAuthorized(responseWriter, request) {
		return
	}

	account, poolName, objectName, ok = splitStoragePath(requestPath)
	if !ok {
		responseWriter.WriteHeader(http.StatusBadRequest)
		return
	}
	if !accountMatches(responseWriter, account) {
		return
	}

	if "" == objectName {
		defer func() {
			globals.stats.PutPoolUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
		}()

		alreadyExisted, err = createPool(poolName)
		if nil != err {
			responseWriter.WriteHeader(errnoHTTPStatus(err))
		} else if alreadyExisted {
			responseWriter.WriteHeader(http.StatusAccepted)
		} else {
			responseWriter.WriteHeader(http.StatusCreated)
		}

		return
	}

	defer func() {
		globals.stats.PutObjectUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	objectOp = request.Header.Get("X-Object-Op")

	switch objectOp {
	case "":
		if "" == request.Header.Get("Content-Range") {
			err = putObjectFull(poolName, objectName, requestBody)
		} else {
			startOffset, endOffset, err = parseContentRangeHeader(request)
			if nil != err {
				responseWriter.WriteHeader(http.StatusBadRequest)
				return
			}
			if (endOffset - startOffset + 1) != uint64(len(requestBody)) {
				responseWriter.WriteHeader(http.StatusBadRequest)
				return
			}

			err = putObjectRange(poolName, objectName, startOffset, requestBody)
		}
	case "write-same":
		startOffset, endOffset, err = parseContentRangeHeader(request)
		if nil != err {
			responseWriter.WriteHeader(http.StatusBadRequest)
			return
		}

		spanLength, err = strconv.ParseUint(request.Header.Get("X-Span-Length"), 10, 64)
		if nil != err {
			responseWriter.WriteHeader(http.StatusBadRequest)
			return
		}
		if spanLength != (endOffset - startOffset + 1) {
			responseWriter.WriteHeader(http.StatusBadRequest)
			return
		}

		err = putObjectWriteSame(poolName, objectName, startOffset, spanLength, requestBody)
	default:
		responseWriter.WriteHeader(http.StatusBadRequest)
		return
	}

	if nil == err {
		responseWriter.WriteHeader(http.StatusCreated)
	} else {
		responseWriter.WriteHeader(errnoHTTPStatus(err))
	}
}

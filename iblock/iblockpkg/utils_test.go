// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iblockpkg

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"testing"
	"time"

	"github.com/NVIDIA/iblock/conf"
	"github.com/NVIDIA/iblock/istore/istorepkg"
	"github.com/NVIDIA/iblock/vlayout"
)

const (
	testIPAddr         = "127.0.0.1"
	testIStorePort     = 18091
	testHTTPServerPort = 15362
	testAuthUser       = "test:tester"
	testAuthKey        = "testing"
	testAccount        = "AUTH_test"
	testVolumeName     = "testvol"
	testObjectOrder    = uint64(16) // 64KiB data objects
	testVolumeSize     = uint64(4 * 1024 * 1024)

	testAwaitPollDelay = 10 * time.Millisecond
	testAwaitMaxDelay  = 10 * time.Second
)

type testGlobalsStruct struct {
	confMap          conf.ConfMap
	fissionErrChan   chan error
	httpServerURL    string
	authURL          string
	authToken        string
	accountURL       string
	poolURL          string
	headerObjectURL  string
	headerGeneration uint64
	volumeCreateTime time.Time
	volumeHandle     VolumeHandle
}

var testGlobals *testGlobalsStruct

func testSetup(t *testing.T) {
	var (
		authRequestHeaders  http.Header
		authResponseHeaders http.Header
		confStrings         []string
		err                 error
		httpStatus          int
		istoreConfMap       conf.ConfMap
		istoreConfStrings   []string
	)

	testGlobals = &testGlobalsStruct{
		fissionErrChan:   make(chan error, 1),
		httpServerURL:    fmt.Sprintf("http://%s:%d", testIPAddr, testHTTPServerPort),
		authURL:          fmt.Sprintf("http://%s:%d/auth/v1.0", testIPAddr, testIStorePort),
		headerGeneration: 0,
		volumeCreateTime: time.Now().Truncate(time.Microsecond),
	}

	istoreConfStrings = []string{
		"ISTORE.IPAddr=" + testIPAddr,
		"ISTORE.Port=" + fmt.Sprintf("%d", testIStorePort),
		"ISTORE.AuthUser=" + testAuthUser,
		"ISTORE.AuthKey=" + testAuthKey,
		"ISTORE.AuthAccount=" + testAccount,
		"ISTORE.AuthTokenTTL=1h",
		"ISTORE.WatchPollTimeout=250ms",
		"ISTORE.MaxConnections=64",
		"ISTORE.LogFilePath=",
		"ISTORE.LogToConsole=false",
		"ISTORE.TraceEnabled=false",
	}

	istoreConfMap, err = conf.MakeConfMapFromStrings(istoreConfStrings)
	if nil != err {
		t.Fatalf("conf.MakeConfMapFromStrings(istoreConfStrings) failed: %v", err)
	}

	err = istorepkg.Start(istoreConfMap)
	if nil != err {
		t.Fatalf("istorepkg.Start(istoreConfMap) failed: %v", err)
	}

	authRequestHeaders = make(http.Header)

	authRequestHeaders["X-Auth-User"] = []string{testAuthUser}
	authRequestHeaders["X-Auth-Key"] = []string{testAuthKey}

	httpStatus, authResponseHeaders, _, err = testDoHTTPRequest("GET", testGlobals.authURL, authRequestHeaders, nil)
	if nil != err {
		t.Fatalf("testDoHTTPRequest(\"GET\", testGlobals.authURL, authRequestHeaders, nil) failed: %v", err)
	}
	if http.StatusOK != httpStatus {
		t.Fatalf("GET /auth/v1.0 returned unexpected httpStatus: %d", httpStatus)
	}

	testGlobals.authToken = authResponseHeaders.Get("X-Auth-Token")
	testGlobals.accountURL = authResponseHeaders.Get("X-Storage-Url")
	testGlobals.poolURL = testGlobals.accountURL + "/" + testVolumeName
	testGlobals.headerObjectURL = testGlobals.poolURL + "/" + vlayout.ObjectName(vlayout.VolumeHeaderObjectNumber)

	httpStatus, _, _, err = testDoHTTPRequest("PUT", testGlobals.poolURL, testAuthHeaders(), nil)
	if nil != err {
		t.Fatalf("testDoHTTPRequest(\"PUT\", testGlobals.poolURL, testAuthHeaders(), nil) failed: %v", err)
	}
	if http.StatusCreated != httpStatus {
		t.Fatalf("PUT pool returned unexpected httpStatus: %d", httpStatus)
	}

	testPutVolumeHeader(t, testNewVolumeHeader())

	confStrings = []string{
		"IBLOCK.VolumeName=" + testVolumeName,
		"IBLOCK.StoreURL=" + fmt.Sprintf("http://%s:%d", testIPAddr, testIStorePort),
		"IBLOCK.StoreAuthUser=" + testAuthUser,
		"IBLOCK.StoreAuthKey=" + testAuthKey,
		"IBLOCK.StorePool=" + testVolumeName,
		"IBLOCK.StoreTimeout=10m",
		"IBLOCK.StoreConnectionPoolSize=16",
		"IBLOCK.StoreRetryDelay=100ms",
		"IBLOCK.StoreRetryExpBackoff=2",
		"IBLOCK.StoreRetryLimit=4",
		"IBLOCK.EngineWorkerCount=0",
		"IBLOCK.QueueDepth=64",
		"IBLOCK.QoSIOPSLimit=0",
		"IBLOCK.QoSIOPSBurst=0",
		"IBLOCK.QoSIOPSBurstSeconds=0",
		"IBLOCK.QoSBPSLimit=0",
		"IBLOCK.QoSBPSBurst=0",
		"IBLOCK.QoSBPSBurstSeconds=0",
		"IBLOCK.QoSReadIOPSLimit=0",
		"IBLOCK.QoSReadIOPSBurst=0",
		"IBLOCK.QoSReadIOPSBurstSeconds=0",
		"IBLOCK.QoSWriteIOPSLimit=0",
		"IBLOCK.QoSWriteIOPSBurst=0",
		"IBLOCK.QoSWriteIOPSBurstSeconds=0",
		"IBLOCK.QoSReadBPSLimit=0",
		"IBLOCK.QoSReadBPSBurst=0",
		"IBLOCK.QoSReadBPSBurstSeconds=0",
		"IBLOCK.QoSWriteBPSLimit=0",
		"IBLOCK.QoSWriteBPSBurst=0",
		"IBLOCK.QoSWriteBPSBurstSeconds=0",
		"IBLOCK.QoSExcludeOps=discard",
		"IBLOCK.QoSScheduleTickMin=1ms",
		"IBLOCK.DiscardGranularity=4096",
		"IBLOCK.DiscardZeroesFullObjects=true",
		"IBLOCK.ReadCacheLineSize=65536",
		"IBLOCK.ReadCacheLineCountMax=64",
		"IBLOCK.FUSEMountPointDirPath=",
		"IBLOCK.FUSEAllowOther=false",
		"IBLOCK.FUSEMaxRead=1048576",
		"IBLOCK.FUSEMaxWrite=1048576",
		"IBLOCK.FUSEMaxBackground=1000",
		"IBLOCK.FUSECongestionThreshhold=0",
		"IBLOCK.FUSEBlockSize=512",
		"IBLOCK.FUSEAttrValidDuration=10s",
		"IBLOCK.HTTPServerIPAddr=" + testIPAddr,
		"IBLOCK.HTTPServerPort=" + fmt.Sprintf("%d", testHTTPServerPort),
		"IBLOCK.LogFilePath=",
		"IBLOCK.LogToConsole=false",
		"IBLOCK.TraceEnabled=false",
	}

	testGlobals.confMap, err = conf.MakeConfMapFromStrings(confStrings)
	if nil != err {
		t.Fatalf("conf.MakeConfMapFromStrings(confStrings) failed: %v", err)
	}

	err = Start(testGlobals.confMap, testGlobals.fissionErrChan)
	if nil != err {
		t.Fatalf("Start(testGlobals.confMap, testGlobals.fissionErrChan) failed: %v", err)
	}

	testGlobals.volumeHandle, err = FetchVolumeHandle()
	if nil != err {
		t.Fatalf("FetchVolumeHandle() failed: %v", err)
	}
}

func testTeardown(t *testing.T) {
	var (
		err error
	)

	err = Stop()
	if nil != err {
		t.Fatalf("Stop() failed: %v", err)
	}

	err = istorepkg.Stop()
	if nil != err {
		t.Fatalf("istorepkg.Stop() failed: %v", err)
	}

	testGlobals = nil
}

// testNewVolumeHeader returns a fresh read-write header for the test
// volume with the next HeaderGeneration.
func testNewVolumeHeader() (volumeHeader *vlayout.VolumeHeaderV1Struct) {
	testGlobals.headerGeneration++

	volumeHeader = &vlayout.VolumeHeaderV1Struct{
		VolumeName:       testVolumeName,
		Size:             testVolumeSize,
		ObjectOrder:      testObjectOrder,
		ReadOnly:         false,
		SnapPinID:        0,
		HeaderGeneration: testGlobals.headerGeneration,
		CreateTime:       testGlobals.volumeCreateTime,
		SnapshotTable:    nil,
	}

	return
}

func testPutVolumeHeader(t *testing.T, volumeHeader *vlayout.VolumeHeaderV1Struct) {
	var (
		err               error
		httpStatus        int
		volumeHeaderV1Buf []byte
	)

	volumeHeaderV1Buf, err = volumeHeader.MarshalVolumeHeaderV1()
	if nil != err {
		t.Fatalf("volumeHeader.MarshalVolumeHeaderV1() failed: %v", err)
	}

	httpStatus, _, _, err = testDoHTTPRequest("PUT", testGlobals.headerObjectURL, testAuthHeaders(), bytes.NewReader(volumeHeaderV1Buf))
	if nil != err {
		t.Fatalf("testDoHTTPRequest(\"PUT\", testGlobals.headerObjectURL,,) failed: %v", err)
	}
	if http.StatusCreated != httpStatus {
		t.Fatalf("PUT volume header object returned unexpected httpStatus: %d", httpStatus)
	}
}

// testAwait polls condition every testAwaitPollDelay until it holds,
// failing the test after testAwaitMaxDelay.
func testAwait(t *testing.T, what string, condition func() bool) {
	var (
		deadline time.Time
	)

	deadline = time.Now().Add(testAwaitMaxDelay)

	for {
		if condition() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("gave up awaiting %s", what)
		}
		time.Sleep(testAwaitPollDelay)
	}
}

func testAuthHeaders() (requestHeaders http.Header) {
	requestHeaders = make(http.Header)
	requestHeaders["X-Auth-Token"] = []string{testGlobals.authToken}
	return
}

func testDoHTTPRequest(method string, url string, requestHeaders http.Header, requestBody io.Reader) (httpStatus int, responseHeaders http.Header, responseBody []byte, err error) {
	var (
		headerKey    string
		headerValues []string
		httpRequest  *http.Request
		httpResponse *http.Response
	)

	httpRequest, err = http.NewRequest(method, url, requestBody)
	if nil != err {
		err = fmt.Errorf("http.NewRequest(\"%s\", \"%s\", requestBody) failed: %v", method, url, err)
		return
	}

	if nil != requestHeaders {
		for headerKey, headerValues = range requestHeaders {
			httpRequest.Header[headerKey] = headerValues
		}
	}

	httpResponse, err = http.DefaultClient.Do(httpRequest)
	if nil != err {
		err = fmt.Errorf("http.DefaultClient.Do(httpRequest) failed: %v", err)
		return
	}

	responseBody, err = ioutil.ReadAll(httpResponse.Body)
	if nil != err {
		err = fmt.Errorf("ioutil.ReadAll(httpResponse.Body) failed: %v", err)
		return
	}
	err = httpResponse.Body.Close()
	if nil != err {
		err = fmt.Errorf("httpResponse.Body.Close() failed: %v", err)
		return
	}

	httpStatus = httpResponse.StatusCode
	responseHeaders = httpResponse.Header

	err = nil
	return
}

// testListPoolObjects returns the newline-split object names currently in
// the test pool.
func testListPoolObjects(t *testing.T) (objectNames []string) {
	var (
		err          error
		httpStatus   int
		lineStart    int
		position     int
		responseBody []byte
	)

	httpStatus, _, responseBody, err = testDoHTTPRequest("GET", testGlobals.poolURL, testAuthHeaders(), nil)
	if nil != err {
		t.Fatalf("testDoHTTPRequest(\"GET\", testGlobals.poolURL, testAuthHeaders(), nil) failed: %v", err)
	}
	if (http.StatusOK != httpStatus) && (http.StatusNoContent != httpStatus) {
		t.Fatalf("GET pool returned unexpected httpStatus: %d", httpStatus)
	}

	objectNames = make([]string, 0)

	lineStart = 0
	for position = 0; position < len(responseBody); position++ {
		if '\n' == responseBody[position] {
			if position > lineStart {
				objectNames = append(objectNames, string(responseBody[lineStart:position]))
			}
			lineStart = position + 1
		}
	}
	if len(responseBody) > lineStart {
		objectNames = append(objectNames, string(responseBody[lineStart:]))
	}

	return
}

// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package istorepkg

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/NVIDIA/iblock/conf"
	"github.com/NVIDIA/iblock/version"
)

const (
	testIPAddr           = "127.0.0.1"
	testPort             = 18090
	testAuthUser         = "test:tester"
	testAuthKey          = "testing"
	testAccount          = "AUTH_test"
	testPool             = "testpool"
	testWatchPollTimeout = "250ms"
)

type testGlobalsStruct struct {
	confMap    conf.ConfMap
	serverURL  string
	authURL    string
	accountURL string
	poolURL    string
	authToken  string
}

var testGlobals *testGlobalsStruct

func testSetup(t *testing.T) {
	var (
		authRequestHeaders  http.Header
		authResponseHeaders http.Header
		confStrings         []string
		err                 error
		expectedAccountURL  string
		httpStatus          int
	)

	testGlobals = &testGlobalsStruct{
		serverURL: fmt.Sprintf("http://%s:%d", testIPAddr, testPort),
		authURL:   fmt.Sprintf("http://%s:%d/auth/v1.0", testIPAddr, testPort),
	}

	confStrings = []string{
		"ISTORE.IPAddr=" + testIPAddr,
		"ISTORE.Port=" + fmt.Sprintf("%d", testPort),
		"ISTORE.AuthUser=" + testAuthUser,
		"ISTORE.AuthKey=" + testAuthKey,
		"ISTORE.AuthAccount=" + testAccount,
		"ISTORE.AuthTokenTTL=1h",
		"ISTORE.WatchPollTimeout=" + testWatchPollTimeout,
		"ISTORE.MaxConnections=16",
		"ISTORE.LogFilePath=",
		"ISTORE.LogToConsole=false",
		"ISTORE.TraceEnabled=false",
	}

	testGlobals.confMap, err = conf.MakeConfMapFromStrings(confStrings)
	if nil != err {
		t.Fatalf("conf.MakeConfMapFromStrings(confStrings) failed: %v", err)
	}

	err = Start(testGlobals.confMap)
	if nil != err {
		t.Fatalf("Start(testGlobals.confMap) failed: %v", err)
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

	expectedAccountURL = fmt.Sprintf("http://%s:%d/v1/%s", testIPAddr, testPort, testAccount)

	if expectedAccountURL != testGlobals.accountURL {
		t.Fatalf("expectedAccountURL: %s but X-Storage-Url: %s", expectedAccountURL, testGlobals.accountURL)
	}

	testGlobals.poolURL = testGlobals.accountURL + "/" + testPool

	httpStatus, _, _, err = testDoHTTPRequest("PUT", testGlobals.poolURL, testAuthHeaders(), nil)
	if nil != err {
		t.Fatalf("testDoHTTPRequest(\"PUT\", testGlobals.poolURL, testAuthHeaders(), nil) failed: %v", err)
	}
	if http.StatusCreated != httpStatus {
		t.Fatalf("PUT pool returned unexpected httpStatus: %d", httpStatus)
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

	testGlobals = nil
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
		err = fmt.Errorf("http.NewRequest(\"%s\", \"%s\", nil) failed: %v", method, url, err)
		return
	}

	if nil != requestHeaders {
		for headerKey, headerValues = range requestHeaders {
			httpRequest.Header[headerKey] = headerValues
		}
	}

	httpResponse, err = http.DefaultClient.Do(httpRequest)
	if nil != err {
		err = fmt.Errorf("http.Do(httpRequest) failed: %v", err)
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

func TestAuthAndPoolLifecycle(t *testing.T) {
	var (
		badAuthRequestHeaders http.Header
		err                   error
		httpStatus            int
		requestHeaders        http.Header
		responseBody          []byte
	)

	testSetup(t)

	httpStatus, _, responseBody, err = testDoHTTPRequest("GET", testGlobals.serverURL+"/version", nil, nil)
	if nil != err {
		t.Fatalf("GET /version failed: %v", err)
	}
	if http.StatusOK != httpStatus {
		t.Fatalf("GET /version returned unexpected httpStatus: %d", httpStatus)
	}
	if string(responseBody[:]) != version.IBlockVersion {
		t.Fatalf("GET /version should have returned \"%s\" - it returned \"%s\"", version.IBlockVersion, string(responseBody[:]))
	}

	httpStatus, _, _, err = testDoHTTPRequest("GET", testGlobals.serverURL+"/config", nil, nil)
	if nil != err {
		t.Fatalf("GET /config failed: %v", err)
	}
	if http.StatusOK != httpStatus {
		t.Fatalf("GET /config returned unexpected httpStatus: %d", httpStatus)
	}

	httpStatus, _, _, err = testDoHTTPRequest("GET", testGlobals.serverURL+"/stats", nil, nil)
	if nil != err {
		t.Fatalf("GET /stats failed: %v", err)
	}
	if http.StatusOK != httpStatus {
		t.Fatalf("GET /stats returned unexpected httpStatus: %d", httpStatus)
	}

	badAuthRequestHeaders = make(http.Header)

	badAuthRequestHeaders["X-Auth-User"] = []string{testAuthUser}
	badAuthRequestHeaders["X-Auth-Key"] = []string{"not-the-key"}

	httpStatus, _, _, err = testDoHTTPRequest("GET", testGlobals.authURL, badAuthRequestHeaders, nil)
	if nil != err {
		t.Fatalf("GET /auth/v1.0 [bad key] failed: %v", err)
	}
	if http.StatusUnauthorized != httpStatus {
		t.Fatalf("GET /auth/v1.0 [bad key] returned unexpected httpStatus: %d", httpStatus)
	}

	requestHeaders = make(http.Header)

	requestHeaders["X-Auth-Token"] = []string{"AUTH_tkBogus"}

	httpStatus, _, _, err = testDoHTTPRequest("GET", testGlobals.poolURL, requestHeaders, nil)
	if nil != err {
		t.Fatalf("GET pool [bogus token] failed: %v", err)
	}
	if http.StatusUnauthorized != httpStatus {
		t.Fatalf("GET pool [bogus token] returned unexpected httpStatus: %d", httpStatus)
	}

	httpStatus, _, _, err = testDoHTTPRequest("GET", testGlobals.serverURL+"/v1/AUTH_other/"+testPool, testAuthHeaders(), nil)
	if nil != err {
		t.Fatalf("GET pool [wrong account] failed: %v", err)
	}
	if http.StatusForbidden != httpStatus {
		t.Fatalf("GET pool [wrong account] returned unexpected httpStatus: %d", httpStatus)
	}

	httpStatus, _, _, err = testDoHTTPRequest("PUT", testGlobals.poolURL, testAuthHeaders(), nil)
	if nil != err {
		t.Fatalf("PUT pool [again] failed: %v", err)
	}
	if http.StatusAccepted != httpStatus {
		t.Fatalf("PUT pool [again] returned unexpected httpStatus: %d", httpStatus)
	}

	httpStatus, _, responseBody, err = testDoHTTPRequest("GET", testGlobals.poolURL, testAuthHeaders(), nil)
	if nil != err {
		t.Fatalf("GET pool [empty] failed: %v", err)
	}
	if http.StatusOK != httpStatus {
		t.Fatalf("GET pool [empty] returned unexpected httpStatus: %d", httpStatus)
	}
	if "" != string(responseBody[:]) {
		t.Fatalf("GET pool [empty] should have returned an empty listing - it returned \"%s\"", string(responseBody[:]))
	}

	httpStatus, _, _, err = testDoHTTPRequest("PUT", testGlobals.poolURL+"/0000000000000001", testAuthHeaders(), strings.NewReader("hello"))
	if nil != err {
		t.Fatalf("PUT object failed: %v", err)
	}
	if http.StatusCreated != httpStatus {
		t.Fatalf("PUT object returned unexpected httpStatus: %d", httpStatus)
	}

	httpStatus, _, responseBody, err = testDoHTTPRequest("GET", testGlobals.poolURL, testAuthHeaders(), nil)
	if nil != err {
		t.Fatalf("GET pool [one object] failed: %v", err)
	}
	if http.StatusOK != httpStatus {
		t.Fatalf("GET pool [one object] returned unexpected httpStatus: %d", httpStatus)
	}
	if "0000000000000001\n" != string(responseBody[:]) {
		t.Fatalf("GET pool [one object] returned unexpected listing: \"%s\"", string(responseBody[:]))
	}

	httpStatus, _, _, err = testDoHTTPRequest("DELETE", testGlobals.poolURL, testAuthHeaders(), nil)
	if nil != err {
		t.Fatalf("DELETE pool [non-empty] failed: %v", err)
	}
	if http.StatusConflict != httpStatus {
		t.Fatalf("DELETE pool [non-empty] returned unexpected httpStatus: %d", httpStatus)
	}

	httpStatus, _, _, err = testDoHTTPRequest("DELETE", testGlobals.poolURL+"/0000000000000001", testAuthHeaders(), nil)
	if nil != err {
		t.Fatalf("DELETE object failed: %v", err)
	}
	if http.StatusNoContent != httpStatus {
		t.Fatalf("DELETE object returned unexpected httpStatus: %d", httpStatus)
	}

	httpStatus, _, _, err = testDoHTTPRequest("DELETE", testGlobals.poolURL, testAuthHeaders(), nil)
	if nil != err {
		t.Fatalf("DELETE pool failed: %v", err)
	}
	if http.StatusNoContent != httpStatus {
		t.Fatalf("DELETE pool returned unexpected httpStatus: %d", httpStatus)
	}

	httpStatus, _, _, err = testDoHTTPRequest("GET", testGlobals.poolURL, testAuthHeaders(), nil)
	if nil != err {
		t.Fatalf("GET pool [deleted] failed: %v", err)
	}
	if http.StatusNotFound != httpStatus {
		t.Fatalf("GET pool [deleted] returned unexpected httpStatus: %d", httpStatus)
	}

	testTeardown(t)
}

func TestObjectReadWrite(t *testing.T) {
	var (
		err             error
		httpStatus      int
		objectURL       string
		requestHeaders  http.Header
		responseBody    []byte
		responseHeaders http.Header
	)

	testSetup(t)

	objectURL = testGlobals.poolURL + "/0000000000000002"

	httpStatus, _, _, err = testDoHTTPRequest("PUT", objectURL, testAuthHeaders(), strings.NewReader("0123456789"))
	if nil != err {
		t.Fatalf("PUT object failed: %v", err)
	}
	if http.StatusCreated != httpStatus {
		t.Fatalf("PUT object returned unexpected httpStatus: %d", httpStatus)
	}

	httpStatus, responseHeaders, _, err = testDoHTTPRequest("HEAD", objectURL, testAuthHeaders(), nil)
	if nil != err {
		t.Fatalf("HEAD object failed: %v", err)
	}
	if http.StatusOK != httpStatus {
		t.Fatalf("HEAD object returned unexpected httpStatus: %d", httpStatus)
	}
	if "10" != responseHeaders.Get("Content-Length") {
		t.Fatalf("HEAD object returned unexpected Content-Length: \"%s\"", responseHeaders.Get("Content-Length"))
	}
	if "1" != responseHeaders.Get("X-Object-Generation") {
		t.Fatalf("HEAD object returned unexpected X-Object-Generation: \"%s\"", responseHeaders.Get("X-Object-Generation"))
	}

	httpStatus, responseHeaders, responseBody, err = testDoHTTPRequest("GET", objectURL, testAuthHeaders(), nil)
	if nil != err {
		t.Fatalf("GET object failed: %v", err)
	}
	if http.StatusOK != httpStatus {
		t.Fatalf("GET object returned unexpected httpStatus: %d", httpStatus)
	}
	if "0123456789" != string(responseBody[:]) {
		t.Fatalf("GET object returned unexpected body: \"%s\"", string(responseBody[:]))
	}
	if "1" != responseHeaders.Get("X-Object-Generation") {
		t.Fatalf("GET object returned unexpected X-Object-Generation: \"%s\"", responseHeaders.Get("X-Object-Generation"))
	}

	requestHeaders = testAuthHeaders()
	requestHeaders["Range"] = []string{"bytes=2-5"}

	httpStatus, responseHeaders, responseBody, err = testDoHTTPRequest("GET", objectURL, requestHeaders, nil)
	if nil != err {
		t.Fatalf("GET object [Range bytes=2-5] failed: %v", err)
	}
	if http.StatusPartialContent != httpStatus {
		t.Fatalf("GET object [Range bytes=2-5] returned unexpected httpStatus: %d", httpStatus)
	}
	if "2345" != string(responseBody[:]) {
		t.Fatalf("GET object [Range bytes=2-5] returned unexpected body: \"%s\"", string(responseBody[:]))
	}
	if "bytes 2-5/10" != responseHeaders.Get("Content-Range") {
		t.Fatalf("GET object [Range bytes=2-5] returned unexpected Content-Range: \"%s\"", responseHeaders.Get("Content-Range"))
	}

	requestHeaders = testAuthHeaders()
	requestHeaders["Range"] = []string{"bytes=6-"}

	httpStatus, _, responseBody, err = testDoHTTPRequest("GET", objectURL, requestHeaders, nil)
	if nil != err {
		t.Fatalf("GET object [Range bytes=6-] failed: %v", err)
	}
	if http.StatusPartialContent != httpStatus {
		t.Fatalf("GET object [Range bytes=6-] returned unexpected httpStatus: %d", httpStatus)
	}
	if "6789" != string(responseBody[:]) {
		t.Fatalf("GET object [Range bytes=6-] returned unexpected body: \"%s\"", string(responseBody[:]))
	}

	requestHeaders = testAuthHeaders()
	requestHeaders["Range"] = []string{"bytes=-3"}

	httpStatus, _, responseBody, err = testDoHTTPRequest("GET", objectURL, requestHeaders, nil)
	if nil != err {
		t.Fatalf("GET object [Range bytes=-3] failed: %v", err)
	}
	if http.StatusPartialContent != httpStatus {
		t.Fatalf("GET object [Range bytes=-3] returned unexpected httpStatus: %d", httpStatus)
	}
	if "789" != string(responseBody[:]) {
		t.Fatalf("GET object [Range bytes=-3] returned unexpected body: \"%s\"", string(responseBody[:]))
	}

	requestHeaders = testAuthHeaders()
	requestHeaders["Range"] = []string{"bytes=10-12"}

	httpStatus, _, _, err = testDoHTTPRequest("GET", objectURL, requestHeaders, nil)
	if nil != err {
		t.Fatalf("GET object [Range bytes=10-12] failed: %v", err)
	}
	if http.StatusRequestedRangeNotSatisfiable != httpStatus {
		t.Fatalf("GET object [Range bytes=10-12] returned unexpected httpStatus: %d", httpStatus)
	}

	requestHeaders = testAuthHeaders()
	requestHeaders["Content-Range"] = []string{"bytes 12-15/*"}

	httpStatus, _, _, err = testDoHTTPRequest("PUT", objectURL, requestHeaders, strings.NewReader("ABCD"))
	if nil != err {
		t.Fatalf("PUT object [Content-Range bytes 12-15/*] failed: %v", err)
	}
	if http.StatusCreated != httpStatus {
		t.Fatalf("PUT object [Content-Range bytes 12-15/*] returned unexpected httpStatus: %d", httpStatus)
	}

	httpStatus, responseHeaders, responseBody, err = testDoHTTPRequest("GET", objectURL, testAuthHeaders(), nil)
	if nil != err {
		t.Fatalf("GET object [extended] failed: %v", err)
	}
	if http.StatusOK != httpStatus {
		t.Fatalf("GET object [extended] returned unexpected httpStatus: %d", httpStatus)
	}
	if "0123456789\x00\x00ABCD" != string(responseBody[:]) {
		t.Fatalf("GET object [extended] returned unexpected body: %q", string(responseBody[:]))
	}
	if "2" != responseHeaders.Get("X-Object-Generation") {
		t.Fatalf("GET object [extended] returned unexpected X-Object-Generation: \"%s\"", responseHeaders.Get("X-Object-Generation"))
	}

	requestHeaders = testAuthHeaders()
	requestHeaders["X-Object-Op"] = []string{"zero"}
	requestHeaders["Content-Range"] = []string{"bytes 0-3/*"}

	httpStatus, _, _, err = testDoHTTPRequest("POST", objectURL, requestHeaders, nil)
	if nil != err {
		t.Fatalf("POST object [zero] failed: %v", err)
	}
	if http.StatusNoContent != httpStatus {
		t.Fatalf("POST object [zero] returned unexpected httpStatus: %d", httpStatus)
	}

	httpStatus, _, responseBody, err = testDoHTTPRequest("GET", objectURL, testAuthHeaders(), nil)
	if nil != err {
		t.Fatalf("GET object [zeroed] failed: %v", err)
	}
	if http.StatusOK != httpStatus {
		t.Fatalf("GET object [zeroed] returned unexpected httpStatus: %d", httpStatus)
	}
	if "\x00\x00\x00\x00456789\x00\x00ABCD" != string(responseBody[:]) {
		t.Fatalf("GET object [zeroed] returned unexpected body: %q", string(responseBody[:]))
	}

	requestHeaders = testAuthHeaders()
	requestHeaders["X-Object-Op"] = []string{"write-same"}
	requestHeaders["Content-Range"] = []string{"bytes 0-5/*"}
	requestHeaders["X-Span-Length"] = []string{"6"}

	httpStatus, _, _, err = testDoHTTPRequest("PUT", objectURL, requestHeaders, strings.NewReader("AB"))
	if nil != err {
		t.Fatalf("PUT object [write-same] failed: %v", err)
	}
	if http.StatusCreated != httpStatus {
		t.Fatalf("PUT object [write-same] returned unexpected httpStatus: %d", httpStatus)
	}

	httpStatus, _, responseBody, err = testDoHTTPRequest("GET", objectURL, testAuthHeaders(), nil)
	if nil != err {
		t.Fatalf("GET object [write-same] failed: %v", err)
	}
	if http.StatusOK != httpStatus {
		t.Fatalf("GET object [write-same] returned unexpected httpStatus: %d", httpStatus)
	}
	if "ABABAB6789\x00\x00ABCD" != string(responseBody[:]) {
		t.Fatalf("GET object [write-same] returned unexpected body: %q", string(responseBody[:]))
	}

	requestHeaders = testAuthHeaders()
	requestHeaders["X-Object-Op"] = []string{"write-same"}
	requestHeaders["Content-Range"] = []string{"bytes 0-4/*"}
	requestHeaders["X-Span-Length"] = []string{"5"}

	httpStatus, _, _, err = testDoHTTPRequest("PUT", objectURL, requestHeaders, strings.NewReader("AB"))
	if nil != err {
		t.Fatalf("PUT object [write-same misaligned] failed: %v", err)
	}
	if http.StatusBadRequest != httpStatus {
		t.Fatalf("PUT object [write-same misaligned] returned unexpected httpStatus: %d", httpStatus)
	}

	httpStatus, _, _, err = testDoHTTPRequest("GET", testGlobals.poolURL+"/FFFFFFFFFFFFFFFF", testAuthHeaders(), nil)
	if nil != err {
		t.Fatalf("GET object [missing] failed: %v", err)
	}
	if http.StatusNotFound != httpStatus {
		t.Fatalf("GET object [missing] returned unexpected httpStatus: %d", httpStatus)
	}

	testTeardown(t)
}

func TestCompareAndWrite(t *testing.T) {
	var (
		err             error
		httpStatus      int
		objectURL       string
		requestBody     []byte
		requestHeaders  http.Header
		responseBody    []byte
		responseHeaders http.Header
	)

	testSetup(t)

	objectURL = testGlobals.poolURL + "/0000000000000003"

	httpStatus, _, _, err = testDoHTTPRequest("PUT", objectURL, testAuthHeaders(), strings.NewReader("AAAABBBB"))
	if nil != err {
		t.Fatalf("PUT object failed: %v", err)
	}
	if http.StatusCreated != httpStatus {
		t.Fatalf("PUT object returned unexpected httpStatus: %d", httpStatus)
	}

	requestHeaders = testAuthHeaders()
	requestHeaders["X-Object-Op"] = []string{"compare-and-write"}
	requestHeaders["X-Compare-Length"] = []string{"4"}
	requestHeaders["Content-Range"] = []string{"bytes 0-3/*"}

	requestBody = []byte("AAAACCCC")

	httpStatus, _, _, err = testDoHTTPRequest("POST", objectURL, requestHeaders, bytes.NewReader(requestBody))
	if nil != err {
		t.Fatalf("POST object [compare-and-write match] failed: %v", err)
	}
	if http.StatusNoContent != httpStatus {
		t.Fatalf("POST object [compare-and-write match] returned unexpected httpStatus: %d", httpStatus)
	}

	httpStatus, _, responseBody, err = testDoHTTPRequest("GET", objectURL, testAuthHeaders(), nil)
	if nil != err {
		t.Fatalf("GET object [after match] failed: %v", err)
	}
	if http.StatusOK != httpStatus {
		t.Fatalf("GET object [after match] returned unexpected httpStatus: %d", httpStatus)
	}
	if "CCCCBBBB" != string(responseBody[:]) {
		t.Fatalf("GET object [after match] returned unexpected body: \"%s\"", string(responseBody[:]))
	}

	requestHeaders = testAuthHeaders()
	requestHeaders["X-Object-Op"] = []string{"compare-and-write"}
	requestHeaders["X-Compare-Length"] = []string{"4"}
	requestHeaders["Content-Range"] = []string{"bytes 4-7/*"}

	requestBody = []byte("BBXXYYYY")

	httpStatus, responseHeaders, _, err = testDoHTTPRequest("POST", objectURL, requestHeaders, bytes.NewReader(requestBody))
	if nil != err {
		t.Fatalf("POST object [compare-and-write mismatch] failed: %v", err)
	}
	if http.StatusConflict != httpStatus {
		t.Fatalf("POST object [compare-and-write mismatch] returned unexpected httpStatus: %d", httpStatus)
	}
	if "2" != responseHeaders.Get("X-Mismatch-Offset") {
		t.Fatalf("POST object [compare-and-write mismatch] returned unexpected X-Mismatch-Offset: \"%s\"", responseHeaders.Get("X-Mismatch-Offset"))
	}

	httpStatus, _, responseBody, err = testDoHTTPRequest("GET", objectURL, testAuthHeaders(), nil)
	if nil != err {
		t.Fatalf("GET object [after mismatch] failed: %v", err)
	}
	if http.StatusOK != httpStatus {
		t.Fatalf("GET object [after mismatch] returned unexpected httpStatus: %d", httpStatus)
	}
	if "CCCCBBBB" != string(responseBody[:]) {
		t.Fatalf("GET object [after mismatch] should have been untouched - it returned \"%s\"", string(responseBody[:]))
	}

	requestHeaders = testAuthHeaders()
	requestHeaders["X-Object-Op"] = []string{"compare-and-write"}
	requestHeaders["X-Compare-Length"] = []string{"2"}
	requestHeaders["Content-Range"] = []string{"bytes 8-9/*"}

	requestBody = []byte("\x00\x00ZZ")

	httpStatus, _, _, err = testDoHTTPRequest("POST", objectURL, requestHeaders, bytes.NewReader(requestBody))
	if nil != err {
		t.Fatalf("POST object [compare-and-write beyond EOF] failed: %v", err)
	}
	if http.StatusNoContent != httpStatus {
		t.Fatalf("POST object [compare-and-write beyond EOF] returned unexpected httpStatus: %d", httpStatus)
	}

	httpStatus, _, responseBody, err = testDoHTTPRequest("GET", objectURL, testAuthHeaders(), nil)
	if nil != err {
		t.Fatalf("GET object [after beyond EOF] failed: %v", err)
	}
	if http.StatusOK != httpStatus {
		t.Fatalf("GET object [after beyond EOF] returned unexpected httpStatus: %d", httpStatus)
	}
	if "CCCCBBBBZZ" != string(responseBody[:]) {
		t.Fatalf("GET object [after beyond EOF] returned unexpected body: \"%s\"", string(responseBody[:]))
	}

	requestHeaders = testAuthHeaders()
	requestHeaders["X-Object-Op"] = []string{"compare-and-write"}
	requestHeaders["X-Compare-Length"] = []string{"4"}
	requestHeaders["Content-Range"] = []string{"bytes 0-3/*"}

	requestBody = []byte("short")

	httpStatus, _, _, err = testDoHTTPRequest("POST", objectURL, requestHeaders, bytes.NewReader(requestBody))
	if nil != err {
		t.Fatalf("POST object [compare-and-write malformed] failed: %v", err)
	}
	if http.StatusBadRequest != httpStatus {
		t.Fatalf("POST object [compare-and-write malformed] returned unexpected httpStatus: %d", httpStatus)
	}

	testTeardown(t)
}

func TestWatch(t *testing.T) {
	var (
		err             error
		httpStatus      int
		objectURL       string
		requestHeaders  http.Header
		responseBody    []byte
		responseHeaders http.Header
		watchDoneChan   chan error
		watchStartTime  time.Time
	)

	testSetup(t)

	objectURL = testGlobals.poolURL + "/0000000000000004"

	httpStatus, _, _, err = testDoHTTPRequest("PUT", objectURL, testAuthHeaders(), strings.NewReader("v1"))
	if nil != err {
		t.Fatalf("PUT object failed: %v", err)
	}
	if http.StatusCreated != httpStatus {
		t.Fatalf("PUT object returned unexpected httpStatus: %d", httpStatus)
	}

	// A watch presenting an older generation returns immediately

	requestHeaders = testAuthHeaders()
	requestHeaders["X-Watch-Generation"] = []string{"0"}

	httpStatus, responseHeaders, responseBody, err = testDoHTTPRequest("GET", objectURL, requestHeaders, nil)
	if nil != err {
		t.Fatalf("GET object [watch gen 0] failed: %v", err)
	}
	if http.StatusOK != httpStatus {
		t.Fatalf("GET object [watch gen 0] returned unexpected httpStatus: %d", httpStatus)
	}
	if "1" != responseHeaders.Get("X-Object-Generation") {
		t.Fatalf("GET object [watch gen 0] returned unexpected X-Object-Generation: \"%s\"", responseHeaders.Get("X-Object-Generation"))
	}
	if "v1" != string(responseBody[:]) {
		t.Fatalf("GET object [watch gen 0] returned unexpected body: \"%s\"", string(responseBody[:]))
	}

	// A watch presenting the current generation blocks until a mutation

	watchDoneChan = make(chan error, 1)

	go func() {
		var (
			watchErr             error
			watchHTTPStatus      int
			watchRequestHeaders  http.Header
			watchResponseBody    []byte
			watchResponseHeaders http.Header
		)

		watchRequestHeaders = testAuthHeaders()
		watchRequestHeaders["X-Watch-Generation"] = []string{"1"}

		watchHTTPStatus, watchResponseHeaders, watchResponseBody, watchErr = testDoHTTPRequest("GET", objectURL, watchRequestHeaders, nil)
		if nil != watchErr {
			watchDoneChan <- fmt.Errorf("GET object [watch gen 1] failed: %v", watchErr)
			return
		}
		if http.StatusOK != watchHTTPStatus {
			watchDoneChan <- fmt.Errorf("GET object [watch gen 1] returned unexpected httpStatus: %d", watchHTTPStatus)
			return
		}
		if "2" != watchResponseHeaders.Get("X-Object-Generation") {
			watchDoneChan <- fmt.Errorf("GET object [watch gen 1] returned unexpected X-Object-Generation: \"%s\"", watchResponseHeaders.Get("X-Object-Generation"))
			return
		}
		if "v2" != string(watchResponseBody[:]) {
			watchDoneChan <- fmt.Errorf("GET object [watch gen 1] returned unexpected body: \"%s\"", string(watchResponseBody[:]))
			return
		}

		watchDoneChan <- nil
	}()

	time.Sleep(50 * time.Millisecond)

	httpStatus, _, _, err = testDoHTTPRequest("PUT", objectURL, testAuthHeaders(), strings.NewReader("v2"))
	if nil != err {
		t.Fatalf("PUT object [v2] failed: %v", err)
	}
	if http.StatusCreated != httpStatus {
		t.Fatalf("PUT object [v2] returned unexpected httpStatus: %d", httpStatus)
	}

	err = <-watchDoneChan
	if nil != err {
		t.Fatal(err)
	}

	// A watch that sees no mutation returns the current state at poll timeout

	requestHeaders = testAuthHeaders()
	requestHeaders["X-Watch-Generation"] = []string{"99"}

	watchStartTime = time.Now()

	httpStatus, responseHeaders, _, err = testDoHTTPRequest("GET", objectURL, requestHeaders, nil)
	if nil != err {
		t.Fatalf("GET object [watch gen 99] failed: %v", err)
	}
	if http.StatusOK != httpStatus {
		t.Fatalf("GET object [watch gen 99] returned unexpected httpStatus: %d", httpStatus)
	}
	if "2" != responseHeaders.Get("X-Object-Generation") {
		t.Fatalf("GET object [watch gen 99] returned unexpected X-Object-Generation: \"%s\"", responseHeaders.Get("X-Object-Generation"))
	}
	if time.Since(watchStartTime) < 200*time.Millisecond {
		t.Fatalf("GET object [watch gen 99] returned before WatchPollTimeout elapsed")
	}

	// A watcher blocked on an object that gets deleted observes NotFound

	watchDoneChan = make(chan error, 1)

	go func() {
		var (
			watchErr            error
			watchHTTPStatus     int
			watchRequestHeaders http.Header
		)

		watchRequestHeaders = testAuthHeaders()
		watchRequestHeaders["X-Watch-Generation"] = []string{"2"}

		watchHTTPStatus, _, _, watchErr = testDoHTTPRequest("GET", objectURL, watchRequestHeaders, nil)
		if nil != watchErr {
			watchDoneChan <- fmt.Errorf("GET object [watch then delete] failed: %v", watchErr)
			return
		}
		if http.StatusNotFound != watchHTTPStatus {
			watchDoneChan <- fmt.Errorf("GET object [watch then delete] returned unexpected httpStatus: %d", watchHTTPStatus)
			return
		}

		watchDoneChan <- nil
	}()

	time.Sleep(50 * time.Millisecond)

	httpStatus, _, _, err = testDoHTTPRequest("DELETE", objectURL, testAuthHeaders(), nil)
	if nil != err {
		t.Fatalf("DELETE object failed: %v", err)
	}
	if http.StatusNoContent != httpStatus {
		t.Fatalf("DELETE object returned unexpected httpStatus: %d", httpStatus)
	}

	err = <-watchDoneChan
	if nil != err {
		t.Fatal(err)
	}

	// A watch on a missing object fails immediately

	requestHeaders = testAuthHeaders()
	requestHeaders["X-Watch-Generation"] = []string{"0"}

	httpStatus, _, _, err = testDoHTTPRequest("GET", objectURL, requestHeaders, nil)
	if nil != err {
		t.Fatalf("GET object [watch missing] failed: %v", err)
	}
	if http.StatusNotFound != httpStatus {
		t.Fatalf("GET object [watch missing] returned unexpected httpStatus: %d", httpStatus)
	}

	testTeardown(t)
}

func TestAdminEndpoints(t *testing.T) {
	var (
		adminStatus   adminStatusStruct
		err           error
		httpStatus    int
		poolAdmin     poolAdminStruct
		poolAdminList []poolAdminStruct
		responseBody  []byte
	)

	testSetup(t)

	httpStatus, _, _, err = testDoHTTPRequest("PUT", testGlobals.poolURL+"/0000000000000005", testAuthHeaders(), strings.NewReader("some bytes"))
	if nil != err {
		t.Fatalf("PUT object failed: %v", err)
	}
	if http.StatusCreated != httpStatus {
		t.Fatalf("PUT object returned unexpected httpStatus: %d", httpStatus)
	}

	httpStatus, _, responseBody, err = testDoHTTPRequest("GET", testGlobals.serverURL+"/admin/pools", nil, nil)
	if nil != err {
		t.Fatalf("GET /admin/pools failed: %v", err)
	}
	if http.StatusOK != httpStatus {
		t.Fatalf("GET /admin/pools returned unexpected httpStatus: %d", httpStatus)
	}

	err = json.Unmarshal(responseBody, &poolAdminList)
	if nil != err {
		t.Fatalf("json.Unmarshal(responseBody, &poolAdminList) failed: %v", err)
	}
	if 1 != len(poolAdminList) {
		t.Fatalf("GET /admin/pools returned unexpected pool count: %d", len(poolAdminList))
	}
	if (testPool != poolAdminList[0].Name) || (1 != poolAdminList[0].ObjectCount) || (10 != poolAdminList[0].BytesUsed) {
		t.Fatalf("GET /admin/pools returned unexpected poolAdminList[0]: %+v", poolAdminList[0])
	}

	httpStatus, _, responseBody, err = testDoHTTPRequest("POST", testGlobals.serverURL+"/admin/command", nil, strings.NewReader("{\"prefix\":\"status\"}"))
	if nil != err {
		t.Fatalf("POST /admin/command [status] failed: %v", err)
	}
	if http.StatusOK != httpStatus {
		t.Fatalf("POST /admin/command [status] returned unexpected httpStatus: %d", httpStatus)
	}

	err = json.Unmarshal(responseBody, &adminStatus)
	if nil != err {
		t.Fatalf("json.Unmarshal(responseBody, &adminStatus) failed: %v", err)
	}
	if ("OK" != adminStatus.Status) || (1 != adminStatus.Pools) || (1 != adminStatus.Objects) || (10 != adminStatus.BytesUsed) {
		t.Fatalf("POST /admin/command [status] returned unexpected adminStatus: %+v", adminStatus)
	}

	httpStatus, _, responseBody, err = testDoHTTPRequest("POST", testGlobals.serverURL+"/admin/command", nil, strings.NewReader(fmt.Sprintf("{\"prefix\":\"pool stats\",\"pool\":\"%s\"}", testPool)))
	if nil != err {
		t.Fatalf("POST /admin/command [pool stats] failed: %v", err)
	}
	if http.StatusOK != httpStatus {
		t.Fatalf("POST /admin/command [pool stats] returned unexpected httpStatus: %d", httpStatus)
	}

	err = json.Unmarshal(responseBody, &poolAdmin)
	if nil != err {
		t.Fatalf("json.Unmarshal(responseBody, &poolAdmin) failed: %v", err)
	}
	if (testPool != poolAdmin.Name) || (1 != poolAdmin.ObjectCount) || (10 != poolAdmin.BytesUsed) {
		t.Fatalf("POST /admin/command [pool stats] returned unexpected poolAdmin: %+v", poolAdmin)
	}

	httpStatus, _, _, err = testDoHTTPRequest("POST", testGlobals.serverURL+"/admin/command", nil, strings.NewReader("{\"prefix\":\"no such command\"}"))
	if nil != err {
		t.Fatalf("POST /admin/command [unknown] failed: %v", err)
	}
	if http.StatusBadRequest != httpStatus {
		t.Fatalf("POST /admin/command [unknown] returned unexpected httpStatus: %d", httpStatus)
	}

	testTeardown(t)
}

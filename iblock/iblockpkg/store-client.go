// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iblockpkg

import (
	"bytes"
	"container/list"
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NVIDIA/iblock/blunder"
	"github.com/NVIDIA/iblock/vlayout"
)

type readCacheKeyStruct struct {
	objectNumber uint64
	lineNumber   uint64
}

type readCacheLineStruct struct {
	key         readCacheKeyStruct
	listElement *list.Element // storeClientStruct.readCacheLRU element holding this line
	buf         []byte        // always [IBLOCK]ReadCacheLineSize bytes; zero filled past object EOF
}

type storeClientStruct struct {
	volume                 *volumeStruct
	httpClient             *http.Client // data path; bounded by [IBLOCK]StoreTimeout
	watchClient            *http.Client // header watch long-polls; no response deadline
	authLock               sync.RWMutex // protects authToken, storageURL, & poolURL
	authToken              string
	storageURL             string
	poolURL                string // <storageURL>/<[IBLOCK]StorePool>
	readCacheLock          sync.Mutex
	readCacheMap           map[readCacheKeyStruct]*readCacheLineStruct
	readCacheLRU           *list.List // Front() == MRU; Back() == next to evict
	readCacheGeneration    uint64     // bumped on every invalidation to discard in-flight cache fills
	headerObjectGeneration uint64     // generation of the last volume header observed (accessed via sync/atomic)
	watchContext           context.Context
	watchCancel            context.CancelFunc
	watchWG                sync.WaitGroup
}

func newStoreClient(volume *volumeStruct) (storeClient *storeClientStruct, err error) {
	var (
		dataTransport    *http.Transport
		defaultTransport *http.Transport
		ok               bool
		watchTransport   *http.Transport
	)

	defaultTransport, ok = http.DefaultTransport.(*http.Transport)
	if !ok {
		err = fmt.Errorf("http.DefaultTransport.(*http.Transport) returned !ok")
		return
	}

	dataTransport = &http.Transport{ // Up-to-date as of Golang 1.11
		Proxy:                  defaultTransport.Proxy,
		DialContext:            defaultTransport.DialContext,
		Dial:                   defaultTransport.Dial,
		DialTLS:                defaultTransport.DialTLS,
		TLSClientConfig:        defaultTransport.TLSClientConfig,
		TLSHandshakeTimeout:    globals.config.StoreTimeout,
		DisableKeepAlives:      false,
		DisableCompression:     defaultTransport.DisableCompression,
		MaxIdleConns:           int(globals.config.StoreConnectionPoolSize),
		MaxIdleConnsPerHost:    int(globals.config.StoreConnectionPoolSize),
		MaxConnsPerHost:        int(globals.config.StoreConnectionPoolSize),
		IdleConnTimeout:        globals.config.StoreTimeout,
		ResponseHeaderTimeout:  globals.config.StoreTimeout,
		ExpectContinueTimeout:  globals.config.StoreTimeout,
		TLSNextProto:           defaultTransport.TLSNextProto,
		ProxyConnectHeader:     defaultTransport.ProxyConnectHeader,
		MaxResponseHeaderBytes: defaultTransport.MaxResponseHeaderBytes,
	}

	// The watch long-poll only responds once the volume header object next
	// changes, so its transport (and client) must carry no response deadline.

	watchTransport = &http.Transport{
		Proxy:                  defaultTransport.Proxy,
		DialContext:            defaultTransport.DialContext,
		Dial:                   defaultTransport.Dial,
		DialTLS:                defaultTransport.DialTLS,
		TLSClientConfig:        defaultTransport.TLSClientConfig,
		TLSHandshakeTimeout:    globals.config.StoreTimeout,
		DisableKeepAlives:      false,
		DisableCompression:     defaultTransport.DisableCompression,
		MaxIdleConns:           1,
		MaxIdleConnsPerHost:    1,
		MaxConnsPerHost:        1,
		IdleConnTimeout:        0,
		ResponseHeaderTimeout:  0,
		ExpectContinueTimeout:  globals.config.StoreTimeout,
		TLSNextProto:           defaultTransport.TLSNextProto,
		ProxyConnectHeader:     defaultTransport.ProxyConnectHeader,
		MaxResponseHeaderBytes: defaultTransport.MaxResponseHeaderBytes,
	}

	storeClient = &storeClientStruct{
		volume: volume,
		httpClient: &http.Client{
			Transport: dataTransport,
			Timeout:   globals.config.StoreTimeout,
		},
		watchClient: &http.Client{
			Transport: watchTransport,
		},
		readCacheMap: make(map[readCacheKeyStruct]*readCacheLineStruct),
		readCacheLRU: list.New(),
	}

	err = storeClient.updateAuthTokenAndPoolURL()
	if nil != err {
		storeClient = nil
		return
	}

	err = nil
	return
}

func (storeClient *storeClientStruct) updateAuthTokenAndPoolURL() (err error) {
	var (
		authToken    string
		httpRequest  *http.Request
		httpResponse *http.Response
		startTime    time.Time = time.Now()
		storageURL   string
	)

	defer func() {
		globals.stats.StoreAuthUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	globals.stats.StoreAuths.Increment()

	httpRequest, err = http.NewRequest("GET", globals.config.StoreURL+"/auth/v1.0", nil)
	if nil != err {
		return
	}

	httpRequest.Header["X-Auth-User"] = []string{globals.config.StoreAuthUser}
	httpRequest.Header["X-Auth-Key"] = []string{globals.config.StoreAuthKey}

	httpResponse, err = storeClient.httpClient.Do(httpRequest)
	if nil != err {
		err = fmt.Errorf("storeClient.httpClient.Do(GET /auth/v1.0) failed: %v", err)
		return
	}

	_, err = ioutil.ReadAll(httpResponse.Body)
	if nil != err {
		err = fmt.Errorf("ioutil.ReadAll(httpResponse.Body) failed: %v", err)
		return
	}
	err = httpResponse.Body.Close()
	if nil != err {
		err = fmt.Errorf("httpResponse.Body.Close() failed: %v", err)
		return
	}

	if (200 > httpResponse.StatusCode) || (299 < httpResponse.StatusCode) {
		err = fmt.Errorf("httpResponse.Status: %s", httpResponse.Status)
		return
	}

	authToken = httpResponse.Header.Get("X-Auth-Token")
	storageURL = httpResponse.Header.Get("X-Storage-Url")

	if ("" == authToken) || ("" == storageURL) {
		err = fmt.Errorf("GET /auth/v1.0 response missing X-Auth-Token and/or X-Storage-Url")
		return
	}

	storeClient.authLock.Lock()
	storeClient.authToken = authToken
	storeClient.storageURL = storageURL
	storeClient.poolURL = storageURL + "/" + globals.config.StorePool
	storeClient.authLock.Unlock()

	err = nil
	return
}

func (storeClient *storeClientStruct) fetchAuthTokenAndPoolURL() (authToken string, poolURL string) {
	storeClient.authLock.RLock()
	authToken = storeClient.authToken
	poolURL = storeClient.poolURL
	storeClient.authLock.RUnlock()
	return
}

func (storeClient *storeClientStruct) objectGetOnce(objectURL string, authToken string, rangeHeaderValue string) (buf []byte, objectGeneration uint64, found bool, authOK bool, err error) {
	var (
		httpRequest  *http.Request
		httpResponse *http.Response
	)

	httpRequest, err = http.NewRequest("GET", objectURL, nil)
	if nil != err {
		return
	}

	if "" != authToken {
		httpRequest.Header["X-Auth-Token"] = []string{authToken}
	}
	if "" != rangeHeaderValue {
		httpRequest.Header["Range"] = []string{rangeHeaderValue}
	}

	httpResponse, err = storeClient.httpClient.Do(httpRequest)
	if nil != err {
		err = fmt.Errorf("storeClient.httpClient.Do(GET %s) failed: %v", objectURL, err)
		return
	}

	buf, err = ioutil.ReadAll(httpResponse.Body)
	if nil != err {
		err = fmt.Errorf("ioutil.ReadAll(httpResponse.Body) failed: %v", err)
		return
	}
	err = httpResponse.Body.Close()
	if nil != err {
		err = fmt.Errorf("httpResponse.Body.Close() failed: %v", err)
		return
	}

	switch {
	case (200 <= httpResponse.StatusCode) && (299 >= httpResponse.StatusCode):
		objectGeneration, err = strconv.ParseUint(httpResponse.Header.Get("X-Object-Generation"), 10, 64)
		if nil != err {
			err = fmt.Errorf("GET %s returned unparsable X-Object-Generation: %v", objectURL, err)
			return
		}
		found = true
		authOK = true
		err = nil
	case http.StatusUnauthorized == httpResponse.StatusCode:
		authOK = false // Auth failed,
		err = nil      //   but we will still indicate the func succeeded
	case http.StatusNotFound == httpResponse.StatusCode:
		// Never written objects read as zeroes
		buf = nil
		found = false
		authOK = true
		err = nil
	case http.StatusRequestedRangeNotSatisfiable == httpResponse.StatusCode:
		// As do ranges entirely beyond the object's current size
		buf = nil
		found = false
		authOK = true
		err = nil
	default:
		err = fmt.Errorf("httpResponse.Status: %s", httpResponse.Status)
	}

	return
}

// objectGet returns up to length bytes of the object starting at objectOffset.
// Absent objects and ranges beyond the object's current size yield a short
// (possibly empty) buf... the caller supplies the implied zeroes.
func (storeClient *storeClientStruct) objectGet(objectNumber uint64, objectOffset uint64, length uint64) (buf []byte, err error) {
	var (
		authOK              bool
		authToken           string
		nextStoreRetryDelay time.Duration
		numStoreRetries     uint32
		objectURL           string
		poolURL             string
		rangeHeaderValue    string
		startTime           time.Time = time.Now()
	)

	defer func() {
		globals.stats.ObjectGetUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	rangeHeaderValue = fmt.Sprintf("bytes=%d-%d", objectOffset, objectOffset+length-1)

	nextStoreRetryDelay = globals.config.StoreRetryDelay

	for numStoreRetries = 0; numStoreRetries <= globals.config.StoreRetryLimit; numStoreRetries++ {
		authToken, poolURL = storeClient.fetchAuthTokenAndPoolURL()
		objectURL = poolURL + "/" + vlayout.ObjectName(objectNumber)

		buf, _, _, authOK, err = storeClient.objectGetOnce(objectURL, authToken, rangeHeaderValue)
		if nil == err {
			if authOK {
				return
			}

			err = storeClient.updateAuthTokenAndPoolURL()
			if nil != err {
				return
			}

			continue
		}

		globals.stats.StoreRetries.Increment()

		time.Sleep(nextStoreRetryDelay)

		nextStoreRetryDelay = time.Duration(float64(nextStoreRetryDelay) * globals.config.StoreRetryExpBackoff)
	}

	err = blunder.NewError(blunder.TimedOutError, "GET %s retries exhausted: %v", objectURL, err)

	return
}

// objectRead fills buf from the object starting at objectOffset, zero filling
// any portion beyond the object's current size.
func (storeClient *storeClientStruct) objectRead(objectNumber uint64, objectOffset uint64, buf []byte) (err error) {
	var (
		bufOffset   uint64
		chunkLength uint64
		fetched     []byte
		fetchedLen  uint64
		lineBuf     []byte
		lineNumber  uint64
		lineOffset  uint64
		lineSize    uint64
		remaining   uint64
	)

	if 0 == len(buf) {
		err = nil
		return
	}

	lineSize = globals.config.ReadCacheLineSize

	if (0 == lineSize) || (0 == globals.config.ReadCacheLineCountMax) {
		fetched, err = storeClient.objectGet(objectNumber, objectOffset, uint64(len(buf)))
		if nil != err {
			return
		}

		fetchedLen = uint64(copy(buf, fetched))
		for fetchedLen < uint64(len(buf)) {
			buf[fetchedLen] = 0
			fetchedLen++
		}

		err = nil
		return
	}

	remaining = uint64(len(buf))

	for 0 < remaining {
		lineNumber = objectOffset / lineSize
		lineOffset = objectOffset % lineSize

		chunkLength = lineSize - lineOffset
		if chunkLength > remaining {
			chunkLength = remaining
		}

		lineBuf, err = storeClient.fetchReadCacheLine(objectNumber, lineNumber)
		if nil != err {
			return
		}

		_ = copy(buf[bufOffset:bufOffset+chunkLength], lineBuf[lineOffset:lineOffset+chunkLength])

		bufOffset += chunkLength
		objectOffset += chunkLength
		remaining -= chunkLength
	}

	err = nil
	return
}

func (storeClient *storeClientStruct) fetchReadCacheLine(objectNumber uint64, lineNumber uint64) (lineBuf []byte, err error) {
	var (
		evictLine           *readCacheLineStruct
		evictListElement    *list.Element
		fetched             []byte
		key                 readCacheKeyStruct
		line                *readCacheLineStruct
		lineSize            uint64
		ok                  bool
		readCacheGeneration uint64
	)

	lineSize = globals.config.ReadCacheLineSize
	key = readCacheKeyStruct{objectNumber: objectNumber, lineNumber: lineNumber}

	storeClient.readCacheLock.Lock()

	line, ok = storeClient.readCacheMap[key]
	if ok {
		storeClient.readCacheLRU.MoveToFront(line.listElement)
		lineBuf = line.buf
		storeClient.readCacheLock.Unlock()

		globals.stats.ReadCacheHits.Increment()

		err = nil
		return
	}

	readCacheGeneration = storeClient.readCacheGeneration

	storeClient.readCacheLock.Unlock()

	globals.stats.ReadCacheMisses.Increment()

	fetched, err = storeClient.objectGet(objectNumber, lineNumber*lineSize, lineSize)
	if nil != err {
		return
	}

	lineBuf = make([]byte, lineSize)
	_ = copy(lineBuf, fetched)

	storeClient.readCacheLock.Lock()

	if readCacheGeneration == storeClient.readCacheGeneration {
		line, ok = storeClient.readCacheMap[key]
		if ok {
			// A concurrent miss beat us to the fill... serve its copy
			storeClient.readCacheLRU.MoveToFront(line.listElement)
			lineBuf = line.buf
		} else {
			line = &readCacheLineStruct{
				key: key,
				buf: lineBuf,
			}
			line.listElement = storeClient.readCacheLRU.PushFront(line)
			storeClient.readCacheMap[key] = line

			for uint64(storeClient.readCacheLRU.Len()) > globals.config.ReadCacheLineCountMax {
				evictListElement = storeClient.readCacheLRU.Back()
				evictLine, ok = evictListElement.Value.(*readCacheLineStruct)
				if !ok {
					logFatalf("evictListElement.Value.(*readCacheLineStruct) returned !ok")
				}
				_ = storeClient.readCacheLRU.Remove(evictListElement)
				delete(storeClient.readCacheMap, evictLine.key)
			}
		}
	}
	// else... invalidated while we fetched; serve the bytes uncached

	storeClient.readCacheLock.Unlock()

	err = nil
	return
}

func (storeClient *storeClientStruct) objectPutOnce(objectURL string, authToken string, contentRangeHeaderValue string, body []byte) (authOK bool, err error) {
	var (
		httpRequest  *http.Request
		httpResponse *http.Response
	)

	httpRequest, err = http.NewRequest("PUT", objectURL, bytes.NewReader(body))
	if nil != err {
		return
	}

	if "" != authToken {
		httpRequest.Header["X-Auth-Token"] = []string{authToken}
	}
	httpRequest.Header["Content-Range"] = []string{contentRangeHeaderValue}

	httpResponse, err = storeClient.httpClient.Do(httpRequest)
	if nil != err {
		err = fmt.Errorf("storeClient.httpClient.Do(PUT %s) failed: %v", objectURL, err)
		return
	}

	_, err = ioutil.ReadAll(httpResponse.Body)
	if nil != err {
		err = fmt.Errorf("ioutil.ReadAll(httpResponse.Body) failed: %v", err)
		return
	}
	err = httpResponse.Body.Close()
	if nil != err {
		err = fmt.Errorf("httpResponse.Body.Close() failed: %v", err)
		return
	}

	if (200 <= httpResponse.StatusCode) && (299 >= httpResponse.StatusCode) {
		authOK = true
		err = nil
	} else if http.StatusUnauthorized == httpResponse.StatusCode {
		authOK = false // Auth failed,
		err = nil      //   but we will still indicate the func succeeded
	} else {
		err = fmt.Errorf("httpResponse.Status: %s", httpResponse.Status)
	}

	return
}

func (storeClient *storeClientStruct) objectPut(objectNumber uint64, objectOffset uint64, buf []byte) (err error) {
	var (
		authOK                  bool
		authToken               string
		contentRangeHeaderValue string
		nextStoreRetryDelay     time.Duration
		numStoreRetries         uint32
		objectURL               string
		poolURL                 string
		startTime               time.Time = time.Now()
	)

	defer func() {
		globals.stats.ObjectPutUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	contentRangeHeaderValue = fmt.Sprintf("bytes %d-%d/*", objectOffset, objectOffset+uint64(len(buf))-1)

	nextStoreRetryDelay = globals.config.StoreRetryDelay

	for numStoreRetries = 0; numStoreRetries <= globals.config.StoreRetryLimit; numStoreRetries++ {
		authToken, poolURL = storeClient.fetchAuthTokenAndPoolURL()
		objectURL = poolURL + "/" + vlayout.ObjectName(objectNumber)

		authOK, err = storeClient.objectPutOnce(objectURL, authToken, contentRangeHeaderValue, buf)
		if nil == err {
			if authOK {
				storeClient.invalidateReadCacheSpan(objectNumber, objectOffset, uint64(len(buf)))
				return
			}

			err = storeClient.updateAuthTokenAndPoolURL()
			if nil != err {
				return
			}

			continue
		}

		globals.stats.StoreRetries.Increment()

		time.Sleep(nextStoreRetryDelay)

		nextStoreRetryDelay = time.Duration(float64(nextStoreRetryDelay) * globals.config.StoreRetryExpBackoff)
	}

	err = blunder.NewError(blunder.TimedOutError, "PUT %s retries exhausted: %v", objectURL, err)

	return
}

func (storeClient *storeClientStruct) objectDeleteOnce(objectURL string, authToken string) (authOK bool, err error) {
	var (
		httpRequest  *http.Request
		httpResponse *http.Response
	)

	httpRequest, err = http.NewRequest("DELETE", objectURL, nil)
	if nil != err {
		return
	}

	if "" != authToken {
		httpRequest.Header["X-Auth-Token"] = []string{authToken}
	}

	httpResponse, err = storeClient.httpClient.Do(httpRequest)
	if nil != err {
		err = fmt.Errorf("storeClient.httpClient.Do(DELETE %s) failed: %v", objectURL, err)
		return
	}

	_, err = ioutil.ReadAll(httpResponse.Body)
	if nil != err {
		err = fmt.Errorf("ioutil.ReadAll(httpResponse.Body) failed: %v", err)
		return
	}
	err = httpResponse.Body.Close()
	if nil != err {
		err = fmt.Errorf("httpResponse.Body.Close() failed: %v", err)
		return
	}

	if (200 <= httpResponse.StatusCode) && (299 >= httpResponse.StatusCode) {
		authOK = true
		err = nil
	} else if http.StatusUnauthorized == httpResponse.StatusCode {
		authOK = false // Auth failed,
		err = nil      //   but we will still indicate the func succeeded
	} else if http.StatusNotFound == httpResponse.StatusCode {
		// Deleting a never written object is a no-op
		authOK = true
		err = nil
	} else {
		err = fmt.Errorf("httpResponse.Status: %s", httpResponse.Status)
	}

	return
}

func (storeClient *storeClientStruct) objectDelete(objectNumber uint64) (err error) {
	var (
		authOK              bool
		authToken           string
		nextStoreRetryDelay time.Duration
		numStoreRetries     uint32
		objectURL           string
		poolURL             string
		startTime           time.Time = time.Now()
	)

	defer func() {
		globals.stats.ObjectDeleteUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	nextStoreRetryDelay = globals.config.StoreRetryDelay

	for numStoreRetries = 0; numStoreRetries <= globals.config.StoreRetryLimit; numStoreRetries++ {
		authToken, poolURL = storeClient.fetchAuthTokenAndPoolURL()
		objectURL = poolURL + "/" + vlayout.ObjectName(objectNumber)

		authOK, err = storeClient.objectDeleteOnce(objectURL, authToken)
		if nil == err {
			if authOK {
				storeClient.invalidateReadCacheObject(objectNumber)
				return
			}

			err = storeClient.updateAuthTokenAndPoolURL()
			if nil != err {
				return
			}

			continue
		}

		globals.stats.StoreRetries.Increment()

		time.Sleep(nextStoreRetryDelay)

		nextStoreRetryDelay = time.Duration(float64(nextStoreRetryDelay) * globals.config.StoreRetryExpBackoff)
	}

	err = blunder.NewError(blunder.TimedOutError, "DELETE %s retries exhausted: %v", objectURL, err)

	return
}

func (storeClient *storeClientStruct) objectZeroOnce(objectURL string, authToken string, contentRangeHeaderValue string) (authOK bool, err error) {
	var (
		httpRequest  *http.Request
		httpResponse *http.Response
	)

	httpRequest, err = http.NewRequest("POST", objectURL, nil)
	if nil != err {
		return
	}

	if "" != authToken {
		httpRequest.Header["X-Auth-Token"] = []string{authToken}
	}
	httpRequest.Header["X-Object-Op"] = []string{"zero"}
	httpRequest.Header["Content-Range"] = []string{contentRangeHeaderValue}

	httpResponse, err = storeClient.httpClient.Do(httpRequest)
	if nil != err {
		err = fmt.Errorf("storeClient.httpClient.Do(POST %s) failed: %v", objectURL, err)
		return
	}

	_, err = ioutil.ReadAll(httpResponse.Body)
	if nil != err {
		err = fmt.Errorf("ioutil.ReadAll(httpResponse.Body) failed: %v", err)
		return
	}
	err = httpResponse.Body.Close()
	if nil != err {
		err = fmt.Errorf("httpResponse.Body.Close() failed: %v", err)
		return
	}

	if (200 <= httpResponse.StatusCode) && (299 >= httpResponse.StatusCode) {
		authOK = true
		err = nil
	} else if http.StatusUnauthorized == httpResponse.StatusCode {
		authOK = false // Auth failed,
		err = nil      //   but we will still indicate the func succeeded
	} else {
		err = fmt.Errorf("httpResponse.Status: %s", httpResponse.Status)
	}

	return
}

func (storeClient *storeClientStruct) objectZero(objectNumber uint64, objectOffset uint64, length uint64) (err error) {
	var (
		authOK                  bool
		authToken               string
		contentRangeHeaderValue string
		nextStoreRetryDelay     time.Duration
		numStoreRetries         uint32
		objectURL               string
		poolURL                 string
		startTime               time.Time = time.Now()
	)

	defer func() {
		globals.stats.ObjectZeroUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	contentRangeHeaderValue = fmt.Sprintf("bytes %d-%d/*", objectOffset, objectOffset+length-1)

	nextStoreRetryDelay = globals.config.StoreRetryDelay

	for numStoreRetries = 0; numStoreRetries <= globals.config.StoreRetryLimit; numStoreRetries++ {
		authToken, poolURL = storeClient.fetchAuthTokenAndPoolURL()
		objectURL = poolURL + "/" + vlayout.ObjectName(objectNumber)

		authOK, err = storeClient.objectZeroOnce(objectURL, authToken, contentRangeHeaderValue)
		if nil == err {
			if authOK {
				storeClient.invalidateReadCacheSpan(objectNumber, objectOffset, length)
				return
			}

			err = storeClient.updateAuthTokenAndPoolURL()
			if nil != err {
				return
			}

			continue
		}

		globals.stats.StoreRetries.Increment()

		time.Sleep(nextStoreRetryDelay)

		nextStoreRetryDelay = time.Duration(float64(nextStoreRetryDelay) * globals.config.StoreRetryExpBackoff)
	}

	err = blunder.NewError(blunder.TimedOutError, "POST %s (zero) retries exhausted: %v", objectURL, err)

	return
}

func (storeClient *storeClientStruct) objectWriteSameOnce(objectURL string, authToken string, contentRangeHeaderValue string, spanLength uint64, pattern []byte) (authOK bool, err error) {
	var (
		httpRequest  *http.Request
		httpResponse *http.Response
	)

	httpRequest, err = http.NewRequest("PUT", objectURL, bytes.NewReader(pattern))
	if nil != err {
		return
	}

	if "" != authToken {
		httpRequest.Header["X-Auth-Token"] = []string{authToken}
	}
	httpRequest.Header["X-Object-Op"] = []string{"write-same"}
	httpRequest.Header["X-Span-Length"] = []string{strconv.FormatUint(spanLength, 10)}
	httpRequest.Header["Content-Range"] = []string{contentRangeHeaderValue}

	httpResponse, err = storeClient.httpClient.Do(httpRequest)
	if nil != err {
		err = fmt.Errorf("storeClient.httpClient.Do(PUT %s) failed: %v", objectURL, err)
		return
	}

	_, err = ioutil.ReadAll(httpResponse.Body)
	if nil != err {
		err = fmt.Errorf("ioutil.ReadAll(httpResponse.Body) failed: %v", err)
		return
	}
	err = httpResponse.Body.Close()
	if nil != err {
		err = fmt.Errorf("httpResponse.Body.Close() failed: %v", err)
		return
	}

	if (200 <= httpResponse.StatusCode) && (299 >= httpResponse.StatusCode) {
		authOK = true
		err = nil
	} else if http.StatusUnauthorized == httpResponse.StatusCode {
		authOK = false // Auth failed,
		err = nil      //   but we will still indicate the func succeeded
	} else {
		err = fmt.Errorf("httpResponse.Status: %s", httpResponse.Status)
	}

	return
}

// objectWriteSame repeats pattern across spanLength bytes of the object
// starting at objectOffset. spanLength must be a multiple of len(pattern).
func (storeClient *storeClientStruct) objectWriteSame(objectNumber uint64, objectOffset uint64, pattern []byte, spanLength uint64) (err error) {
	var (
		authOK                  bool
		authToken               string
		contentRangeHeaderValue string
		nextStoreRetryDelay     time.Duration
		numStoreRetries         uint32
		objectURL               string
		poolURL                 string
		startTime               time.Time = time.Now()
	)

	defer func() {
		globals.stats.ObjectWriteSameUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	contentRangeHeaderValue = fmt.Sprintf("bytes %d-%d/*", objectOffset, objectOffset+spanLength-1)

	nextStoreRetryDelay = globals.config.StoreRetryDelay

	for numStoreRetries = 0; numStoreRetries <= globals.config.StoreRetryLimit; numStoreRetries++ {
		authToken, poolURL = storeClient.fetchAuthTokenAndPoolURL()
		objectURL = poolURL + "/" + vlayout.ObjectName(objectNumber)

		authOK, err = storeClient.objectWriteSameOnce(objectURL, authToken, contentRangeHeaderValue, spanLength, pattern)
		if nil == err {
			if authOK {
				storeClient.invalidateReadCacheSpan(objectNumber, objectOffset, spanLength)
				return
			}

			err = storeClient.updateAuthTokenAndPoolURL()
			if nil != err {
				return
			}

			continue
		}

		globals.stats.StoreRetries.Increment()

		time.Sleep(nextStoreRetryDelay)

		nextStoreRetryDelay = time.Duration(float64(nextStoreRetryDelay) * globals.config.StoreRetryExpBackoff)
	}

	err = blunder.NewError(blunder.TimedOutError, "PUT %s (write-same) retries exhausted: %v", objectURL, err)

	return
}

func (storeClient *storeClientStruct) objectCompareAndWriteOnce(objectURL string, authToken string, contentRangeHeaderValue string, compareLength uint64, body []byte) (matched bool, mismatchOffset int64, authOK bool, err error) {
	var (
		httpRequest  *http.Request
		httpResponse *http.Response
	)

	httpRequest, err = http.NewRequest("POST", objectURL, bytes.NewReader(body))
	if nil != err {
		return
	}

	if "" != authToken {
		httpRequest.Header["X-Auth-Token"] = []string{authToken}
	}
	httpRequest.Header["X-Object-Op"] = []string{"compare-and-write"}
	httpRequest.Header["X-Compare-Length"] = []string{strconv.FormatUint(compareLength, 10)}
	httpRequest.Header["Content-Range"] = []string{contentRangeHeaderValue}

	httpResponse, err = storeClient.httpClient.Do(httpRequest)
	if nil != err {
		err = fmt.Errorf("storeClient.httpClient.Do(POST %s) failed: %v", objectURL, err)
		return
	}

	_, err = ioutil.ReadAll(httpResponse.Body)
	if nil != err {
		err = fmt.Errorf("ioutil.ReadAll(httpResponse.Body) failed: %v", err)
		return
	}
	err = httpResponse.Body.Close()
	if nil != err {
		err = fmt.Errorf("httpResponse.Body.Close() failed: %v", err)
		return
	}

	switch {
	case (200 <= httpResponse.StatusCode) && (299 >= httpResponse.StatusCode):
		matched = true
		authOK = true
		err = nil
	case http.StatusConflict == httpResponse.StatusCode:
		mismatchOffset, err = strconv.ParseInt(httpResponse.Header.Get("X-Mismatch-Offset"), 10, 64)
		if nil != err {
			err = fmt.Errorf("POST %s returned unparsable X-Mismatch-Offset: %v", objectURL, err)
			return
		}
		matched = false
		authOK = true
		err = nil
	case http.StatusUnauthorized == httpResponse.StatusCode:
		authOK = false // Auth failed,
		err = nil      //   but we will still indicate the func succeeded
	default:
		err = fmt.Errorf("httpResponse.Status: %s", httpResponse.Status)
	}

	return
}

// objectCompareAndWrite atomically compares len(compareBuf) bytes of the
// object starting at objectOffset against compareBuf and, only if they all
// match, writes writeBuf there. On a mismatch, mismatchOffset reports the
// first differing byte relative to objectOffset.
func (storeClient *storeClientStruct) objectCompareAndWrite(objectNumber uint64, objectOffset uint64, compareBuf []byte, writeBuf []byte) (matched bool, mismatchOffset int64, err error) {
	var (
		authOK                  bool
		authToken               string
		body                    []byte
		contentRangeHeaderValue string
		nextStoreRetryDelay     time.Duration
		numStoreRetries         uint32
		objectURL               string
		poolURL                 string
		startTime               time.Time = time.Now()
	)

	defer func() {
		globals.stats.ObjectCompareAndWriteUsec.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	contentRangeHeaderValue = fmt.Sprintf("bytes %d-%d/*", objectOffset, objectOffset+uint64(len(compareBuf))-1)

	body = make([]byte, 0, len(compareBuf)+len(writeBuf))
	body = append(body, compareBuf...)
	body = append(body, writeBuf...)

	nextStoreRetryDelay = globals.config.StoreRetryDelay

	for numStoreRetries = 0; numStoreRetries <= globals.config.StoreRetryLimit; numStoreRetries++ {
		authToken, poolURL = storeClient.fetchAuthTokenAndPoolURL()
		objectURL = poolURL + "/" + vlayout.ObjectName(objectNumber)

		matched, mismatchOffset, authOK, err = storeClient.objectCompareAndWriteOnce(objectURL, authToken, contentRangeHeaderValue, uint64(len(compareBuf)), body)
		if nil == err {
			if authOK {
				if matched {
					storeClient.invalidateReadCacheSpan(objectNumber, objectOffset, uint64(len(writeBuf)))
				}
				return
			}

			err = storeClient.updateAuthTokenAndPoolURL()
			if nil != err {
				return
			}

			continue
		}

		globals.stats.StoreRetries.Increment()

		time.Sleep(nextStoreRetryDelay)

		nextStoreRetryDelay = time.Duration(float64(nextStoreRetryDelay) * globals.config.StoreRetryExpBackoff)
	}

	err = blunder.NewError(blunder.TimedOutError, "POST %s (compare-and-write) retries exhausted: %v", objectURL, err)

	return
}

func (storeClient *storeClientStruct) invalidateReadCache() {
	storeClient.readCacheLock.Lock()
	storeClient.readCacheGeneration++
	storeClient.readCacheMap = make(map[readCacheKeyStruct]*readCacheLineStruct)
	storeClient.readCacheLRU.Init()
	storeClient.readCacheLock.Unlock()
}

func (storeClient *storeClientStruct) invalidateReadCacheSpan(objectNumber uint64, objectOffset uint64, length uint64) {
	var (
		firstLineNumber uint64
		lastLineNumber  uint64
		line            *readCacheLineStruct
		lineNumber      uint64
		lineSize        uint64
		ok              bool
	)

	lineSize = globals.config.ReadCacheLineSize
	if (0 == lineSize) || (0 == length) {
		return
	}

	firstLineNumber = objectOffset / lineSize
	lastLineNumber = (objectOffset + length - 1) / lineSize

	storeClient.readCacheLock.Lock()

	storeClient.readCacheGeneration++

	for lineNumber = firstLineNumber; lineNumber <= lastLineNumber; lineNumber++ {
		line, ok = storeClient.readCacheMap[readCacheKeyStruct{objectNumber: objectNumber, lineNumber: lineNumber}]
		if ok {
			_ = storeClient.readCacheLRU.Remove(line.listElement)
			delete(storeClient.readCacheMap, line.key)
		}
	}

	storeClient.readCacheLock.Unlock()
}

func (storeClient *storeClientStruct) invalidateReadCacheObject(objectNumber uint64) {
	var (
		key  readCacheKeyStruct
		line *readCacheLineStruct
	)

	storeClient.readCacheLock.Lock()

	storeClient.readCacheGeneration++

	for key, line = range storeClient.readCacheMap {
		if objectNumber == key.objectNumber {
			_ = storeClient.readCacheLRU.Remove(line.listElement)
			delete(storeClient.readCacheMap, key)
		}
	}

	storeClient.readCacheLock.Unlock()
}

// volumeHeaderFetch reads and unmarshals the volume header object, recording
// its generation as the new baseline for the header watch.
func (storeClient *storeClientStruct) volumeHeaderFetch() (volumeHeader *vlayout.VolumeHeaderV1Struct, err error) {
	var (
		authOK              bool
		authToken           string
		buf                 []byte
		found               bool
		nextStoreRetryDelay time.Duration
		numStoreRetries     uint32
		objectGeneration    uint64
		objectURL           string
		poolURL             string
		startTime           time.Time = time.Now()
	)

	defer func() {
		globals.stats.VolumeHeaderFetchUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	nextStoreRetryDelay = globals.config.StoreRetryDelay

	for numStoreRetries = 0; numStoreRetries <= globals.config.StoreRetryLimit; numStoreRetries++ {
		authToken, poolURL = storeClient.fetchAuthTokenAndPoolURL()
		objectURL = poolURL + "/" + vlayout.ObjectName(vlayout.VolumeHeaderObjectNumber)

		buf, objectGeneration, found, authOK, err = storeClient.objectGetOnce(objectURL, authToken, "")
		if nil == err {
			if authOK {
				if !found {
					err = blunder.NewError(blunder.NotFoundError, "volume header object %s not found", vlayout.ObjectName(vlayout.VolumeHeaderObjectNumber))
					return
				}

				volumeHeader, err = vlayout.UnmarshalVolumeHeaderV1(buf)
				if nil != err {
					return
				}

				atomic.StoreUint64(&storeClient.headerObjectGeneration, objectGeneration)

				err = nil
				return
			}

			err = storeClient.updateAuthTokenAndPoolURL()
			if nil != err {
				return
			}

			continue
		}

		globals.stats.StoreRetries.Increment()

		time.Sleep(nextStoreRetryDelay)

		nextStoreRetryDelay = time.Duration(float64(nextStoreRetryDelay) * globals.config.StoreRetryExpBackoff)
	}

	err = blunder.NewError(blunder.TimedOutError, "GET %s retries exhausted: %v", objectURL, err)

	return
}

func (storeClient *storeClientStruct) headerWatchOnce() (objectGeneration uint64, authOK bool, err error) {
	var (
		authToken    string
		httpRequest  *http.Request
		httpResponse *http.Response
		objectURL    string
		poolURL      string
	)

	authToken, poolURL = storeClient.fetchAuthTokenAndPoolURL()
	objectURL = poolURL + "/" + vlayout.ObjectName(vlayout.VolumeHeaderObjectNumber)

	httpRequest, err = http.NewRequestWithContext(storeClient.watchContext, "GET", objectURL, nil)
	if nil != err {
		return
	}

	if "" != authToken {
		httpRequest.Header["X-Auth-Token"] = []string{authToken}
	}
	httpRequest.Header["X-Watch-Generation"] = []string{strconv.FormatUint(atomic.LoadUint64(&storeClient.headerObjectGeneration), 10)}

	httpResponse, err = storeClient.watchClient.Do(httpRequest)
	if nil != err {
		err = fmt.Errorf("storeClient.watchClient.Do(GET %s) failed: %v", objectURL, err)
		return
	}

	_, err = ioutil.ReadAll(httpResponse.Body)
	if nil != err {
		err = fmt.Errorf("ioutil.ReadAll(httpResponse.Body) failed: %v", err)
		return
	}
	err = httpResponse.Body.Close()
	if nil != err {
		err = fmt.Errorf("httpResponse.Body.Close() failed: %v", err)
		return
	}

	switch {
	case (200 <= httpResponse.StatusCode) && (299 >= httpResponse.StatusCode):
		objectGeneration, err = strconv.ParseUint(httpResponse.Header.Get("X-Object-Generation"), 10, 64)
		if nil != err {
			err = fmt.Errorf("GET %s returned unparsable X-Object-Generation: %v", objectURL, err)
			return
		}
		authOK = true
		err = nil
	case http.StatusUnauthorized == httpResponse.StatusCode:
		authOK = false // Auth failed,
		err = nil      //   but we will still indicate the func succeeded
	default:
		err = fmt.Errorf("httpResponse.Status: %s", httpResponse.Status)
	}

	return
}

// headerWatchDaemon long-polls the volume header object and, upon observing a
// new generation, asks the refresh layer to pick up the new header.
func (storeClient *storeClientStruct) headerWatchDaemon() {
	var (
		authOK           bool
		err              error
		objectGeneration uint64
	)

	defer storeClient.watchWG.Done()

	for {
		if nil != storeClient.watchContext.Err() {
			return
		}

		objectGeneration, authOK, err = storeClient.headerWatchOnce()

		if nil != storeClient.watchContext.Err() {
			return
		}

		if nil == err {
			if authOK {
				if objectGeneration > atomic.LoadUint64(&storeClient.headerObjectGeneration) {
					atomic.StoreUint64(&storeClient.headerObjectGeneration, objectGeneration)
					globals.stats.HeaderWatchWakeups.Increment()
					storeClient.volume.refreshLayer.markRefreshRequired()
				}

				continue
			}

			err = storeClient.updateAuthTokenAndPoolURL()
			if nil == err {
				continue
			}

			logWarnf("headerWatchDaemon() for volume %s re-auth failed: %v", storeClient.volume.name, err)
		} else {
			logWarnf("headerWatchDaemon() for volume %s long-poll failed: %v", storeClient.volume.name, err)
		}

		select {
		case <-storeClient.watchContext.Done():
			return
		case <-time.After(globals.config.StoreRetryDelay):
		}
	}
}

func (storeClient *storeClientStruct) startHeaderWatch() {
	storeClient.watchContext, storeClient.watchCancel = context.WithCancel(context.Background())

	storeClient.watchWG.Add(1)

	go storeClient.headerWatchDaemon()
}

func (storeClient *storeClientStruct) stopHeaderWatch() {
	storeClient.watchCancel()
	storeClient.watchWG.Wait()
}

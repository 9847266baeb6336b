// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iblockpkg

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
		startHTTPServerUpCheckRetries uint32
	)

	if 0 == globals.config.HTTPServerPort {
		// The embedded HTTP server is disabled
		globals.httpServer = nil
		err = nil
		return
	}

	ipAddrTCPPort = net.JoinHostPort(globals.config.HTTPServerIPAddr, strconv.Itoa(int(globals.config.HTTPServerPort)))

	globals.httpServer = &http.Server{
		Addr:    ipAddrTCPPort,
		Handler: &globals,
	}

	globals.httpServerWG.Add(1)

	go func() {
		var (
			err error
		)

		err = globals.httpServer.ListenAndServe()
		if http.ErrServerClosed != err {
			logFatalf("httpServer.ListenAndServe() exited unexpectedly: %v", err)
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
	if nil == globals.httpServer {
		err = nil
		return
	}

	err = globals.httpServer.Shutdown(context.TODO())
	if nil == err {
		globals.httpServerWG.Wait()
	}

	globals.httpServer = nil

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
	case http.MethodGet:
		serveHTTPGet(responseWriter, request, requestPath)
	case http.MethodPost:
		serveHTTPPost(responseWriter, request, requestPath, requestBody)
	default:
		responseWriter.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func serveHTTPGet(responseWriter http.ResponseWriter, request *http.Request, requestPath string) {
	switch {
	case "" == requestPath:
		serveHTTPGetOfIndexDotHTML(responseWriter, request)
	case "/index.html" == requestPath:
		serveHTTPGetOfIndexDotHTML(responseWriter, request)
	case "/config" == requestPath:
		serveHTTPGetOfConfig(responseWriter, request)
	case "/stats" == requestPath:
		serveHTTPGetOfStats(responseWriter, request)
	case "/version" == requestPath:
		serveHTTPGetOfVersion(responseWriter, request)
	case "/volume" == requestPath:
		serveHTTPGetOfVolume(responseWriter, request)
	default:
		responseWriter.WriteHeader(http.StatusNotFound)
	}
}

func serveHTTPGetOfIndexDotHTML(responseWriter http.ResponseWriter, request *http.Request) {
	responseWriter.Header().Set("Content-Type", "text/html")
	responseWriter.WriteHeader(http.StatusOK)
	_, _ = responseWriter.Write([]byte(fmt.Sprintf(indexDotHTMLTemplate, version.IBlockVersion)))
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

	if strings.Contains(request.Header.Get("Accept"), "text/html") {
		responseWriter.Header().Set("Content-Type", "text/html")
		responseWriter.WriteHeader(http.StatusOK)

		_, err = responseWriter.Write([]byte(fmt.Sprintf(configTemplate, version.IBlockVersion, string(confMapJSON[:]))))
		if nil != err {
			logWarnf("responseWriter.Write([]byte(fmt.Sprintf(configTemplate, ...))) failed: %v", err)
		}
	} else {
		responseWriter.Header().Set("Content-Length", fmt.Sprintf("%d", len(confMapJSON)))
		responseWriter.Header().Set("Content-Type", "application/json")
		responseWriter.WriteHeader(http.StatusOK)

		_, err = responseWriter.Write(confMapJSON)
		if nil != err {
			logWarnf("responseWriter.Write(confMapJSON) failed: %v", err)
		}
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

func serveHTTPGetOfVolume(responseWriter http.ResponseWriter, request *http.Request) {
	var (
		err              error
		startTime        time.Time
		volumeStatusJSON []byte
	)

	startTime = time.Now()
	defer func() {
		globals.stats.GetVolumeUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	volumeStatusJSON, err = json.Marshal(globals.volume.status())
	if nil != err {
		logFatalf("json.Marshal(globals.volume.status()) failed: %v", err)
	}

	responseWriter.Header().Set("Content-Length", fmt.Sprintf("%d", len(volumeStatusJSON)))
	responseWriter.Header().Set("Content-Type", "application/json")
	responseWriter.WriteHeader(http.StatusOK)

	_, err = responseWriter.Write(volumeStatusJSON)
	if nil != err {
		logWarnf("responseWriter.Write(volumeStatusJSON) failed: %v", err)
	}
}

func serveHTTPPost(responseWriter http.ResponseWriter, request *http.Request, requestPath string, requestBody []byte) {
	switch {
	case strings.HasPrefix(requestPath, "/volume"):
		serveHTTPPostOfVolume(responseWriter, request, requestPath)
	default:
		responseWriter.WriteHeader(http.StatusNotFound)
	}
}

func serveHTTPPostOfVolume(responseWriter http.ResponseWriter, request *http.Request, requestPath string) {
	var (
		burst        uint64
		burstSeconds uint64
		err          error
		flag         uint32
		limit        uint64
		ok           bool
		startTime    time.Time
	)

	startTime = time.Now()
	defer func() {
		globals.stats.PostVolumeUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	switch requestPath {
	case "/volume/qos":
		flag, ok = qosFlagFromName(request.URL.Query().Get("flag"))
		if !ok {
			responseWriter.WriteHeader(http.StatusBadRequest)
			return
		}

		limit, err = strconv.ParseUint(request.URL.Query().Get("limit"), 10, 64)
		if nil != err {
			responseWriter.WriteHeader(http.StatusBadRequest)
			return
		}
		burst, err = strconv.ParseUint(request.URL.Query().Get("burst"), 10, 64)
		if nil != err {
			responseWriter.WriteHeader(http.StatusBadRequest)
			return
		}
		burstSeconds, err = strconv.ParseUint(request.URL.Query().Get("burstSeconds"), 10, 64)
		if nil != err {
			responseWriter.WriteHeader(http.StatusBadRequest)
			return
		}

		err = globals.volume.ApplyQoSLimit(flag, limit, burst, burstSeconds)
		if nil != err {
			responseWriter.WriteHeader(errnoHTTPStatus(err))
			return
		}

		responseWriter.WriteHeader(http.StatusNoContent)
	case "/volume/write-block":
		err = globals.volume.BlockWrites()
		if nil != err {
			responseWriter.WriteHeader(errnoHTTPStatus(err))
			return
		}

		responseWriter.WriteHeader(http.StatusNoContent)
	case "/volume/write-unblock":
		err = globals.volume.UnblockWrites()
		if nil != err {
			responseWriter.WriteHeader(errnoHTTPStatus(err))
			return
		}

		responseWriter.WriteHeader(http.StatusNoContent)
	case "/volume/refresh":
		globals.volume.refreshLayer.markRefreshRequired()

		responseWriter.WriteHeader(http.StatusNoContent)
	case "/volume/flush":
		err = globals.volume.Flush()
		if nil != err {
			responseWriter.WriteHeader(errnoHTTPStatus(err))
			return
		}

		responseWriter.WriteHeader(http.StatusNoContent)
	default:
		responseWriter.WriteHeader(http.StatusNotFound)
	}
}

func errnoHTTPStatus(err error) (httpStatus int) {
	switch blunder.Errno(err) {
	case int(blunder.NotFoundError):
		httpStatus = http.StatusNotFound
	case int(blunder.InvalidArgError):
		httpStatus = http.StatusBadRequest
	case int(blunder.ReadOnlyError):
		httpStatus = http.StatusForbidden
	case int(blunder.MismatchError):
		httpStatus = http.StatusConflict
	case int(blunder.ShutdownError):
		httpStatus = http.StatusServiceUnavailable
	default:
		httpStatus = http.StatusInternalServerError
	}

	return
}

// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package istorepkg implements an in-memory object store against which the
// iblock volume client dispatches its per-object I/O. It speaks a small
// Swift-flavored HTTP protocol extended with the sub-object operations a
// block volume needs (ranged writes, zeroing, write-same, compare-and-write)
// and a long-poll watch mechanism used to notify clients of volume header
// updates.
//
// Authorization follows the Swift v1.0 model:
//
//  GET /auth/v1.0
//
// With valid X-Auth-User and X-Auth-Key headers, responds 200 with an
// X-Auth-Token header (honored until [ISTORE]AuthTokenTTL elapses) and an
// X-Storage-Url header of the form http://<IPAddr>:<Port>/v1/<AuthAccount>.
// Every /v1/... request must carry a valid X-Auth-Token and responds 401
// if it does not.
//
//  PUT /v1/<account>/<pool>
//
// Creates the named pool. Responds 201 if created, 202 if it already existed.
//
//  DELETE /v1/<account>/<pool>
//
// Deletes the named pool. Responds 409 if the pool still holds objects.
//
//  GET /v1/<account>/<pool>
//
// Responds with a newline-separated listing of the pool's object names in
// sorted order.
//
//  PUT /v1/<account>/<pool>/<object>
//
// With no Content-Range header, replaces (or creates) the object with the
// request body. With a Content-Range header of the form "bytes <first>-<last>/*",
// writes the request body at that byte range, implicitly creating the object
// and zero-filling any gap. With an X-Object-Op: write-same header, the
// request body is a pattern replicated across the Content-Range span; the
// span length must both match X-Span-Length and be a multiple of the pattern
// length.
//
//  GET /v1/<account>/<pool>/<object>
//
// Responds with the object (206 honoring an optional Range header of the
// forms "bytes=<first>-<last>", "bytes=<first>-", or "bytes=-<suffixLen>").
// With an X-Watch-Generation: <generation> header, the request long-polls:
// it responds as soon as the object's generation exceeds the presented one
// (every mutation bumps the generation) or when [ISTORE]WatchPollTimeout
// elapses, whichever comes first. The response carries the current
// generation in X-Object-Generation.
//
//  HEAD /v1/<account>/<pool>/<object>
//
// Responds 200 with Content-Length and X-Object-Generation headers.
//
//  POST /v1/<account>/<pool>/<object>
//
// Sub-object mutations selected by the X-Object-Op header:
// "zero" zeroes the Content-Range span (extending the object if needed);
// "compare-and-write" interprets the request body as a compare buffer
// followed by a write buffer, each X-Compare-Length bytes long, compares
// the compare buffer against the Content-Range span and, on a match,
// installs the write buffer. A mismatch responds 409 with the span-relative
// offset of the first differing byte in X-Mismatch-Offset and leaves the
// object unmodified.
//
//  DELETE /v1/<account>/<pool>/<object>
//
// Deletes the object (waking any watchers, who will then observe 404).
//
//  GET /admin/pools
//
// Responds with a JSON array of per-pool statistics (name, object count,
// bytes used).
//
//  POST /admin/command
//
// Accepts a JSON command document {"prefix": ...}: "status" responds with
// store-wide totals; "pool stats" (plus "pool") responds with one pool's
// statistics.
//
//  GET /config
//  GET /stats
//  GET /version
//
// The usual daemon introspection endpoints: the marshaled config, a raw
// bucketstats dump, and the version string.
//
// To configure an istorepkg instance, Start() is called passing, as the sole
// argument, a package conf ConfMap. Here is a sample .conf file:
//
//  [ISTORE]
//  IPAddr:           127.0.0.1
//  Port:             8090
//  AuthUser:         test:tester
//  AuthKey:          testing
//  AuthAccount:      AUTH_test
//  AuthTokenTTL:     1h
//  WatchPollTimeout: 30s
//  MaxConnections:   64
//  LogFilePath:      istore.log
//  LogToConsole:     true
//  TraceEnabled:     false
//
package istorepkg

import (
	"github.com/NVIDIA/iblock/conf"
)

// Start is called to start serving.
//
func Start(confMap conf.ConfMap) (err error) {
	err = start(confMap)
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

// LogWarnf is a wrapper around the internal logWarnf() func called by istore/main.go::main().
//
func LogWarnf(format string, args ...interface{}) {
	logWarnf(format, args...)
}

// LogInfof is a wrapper around the internal logInfof() func called by istore/main.go::main().
//
func LogInfof(format string, args ...interface{}) {
	logInfof(format, args...)
}

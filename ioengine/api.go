// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package ioengine provides the execution substrate shared by the I/O
// dispatch path: a single work engine serviced by a pool of worker
// goroutines, plus strands (serialization domains) guaranteeing that the
// work funcs posted to one strand never execute concurrently with each
// other even though the engine's workers are many.
//
// Completion handles (the single entry point by which consumers learn a
// request's outcome) are invoked with a result code that is zero on
// success and a negative errno on failure. The posting primitives never
// fail; they simply run what they are given. Posting to a stopped engine
// is a programming error and panics.
package ioengine

// WorkFunc is a unit of deferred work.
type WorkFunc func()

// CompletionFunc is the single entry point by which a consumer of the
// dispatch core learns the outcome of a request, flush, or shutdown. It
// is invoked exactly once per request, always via the engine (never
// inline from within a lock), with 0 on success or a negative errno on
// failure.
type CompletionFunc func(resultCode int)

// NewEngine returns a started engine whose work queue is serviced by
// workerCount worker goroutines. A workerCount of zero panics.
func NewEngine(workerCount uint32) (engine *EngineStruct) {
	engine = newEngine(workerCount)
	return
}

// Post schedules work to run on the engine asynchronously, never inline.
func (engine *EngineStruct) Post(work WorkFunc) {
	engine.post(work)
}

// Dispatch runs work immediately on the calling goroutine. It exists for
// paths already executing on the engine that must not incur another queue
// round trip; the caller must not hold locks that work acquires.
func (engine *EngineStruct) Dispatch(work WorkFunc) {
	work()
}

// PostCompletion schedules the invocation of completion with resultCode,
// never inline.
func (engine *EngineStruct) PostCompletion(completion CompletionFunc, resultCode int) {
	engine.post(func() {
		completion(resultCode)
	})
}

// DispatchCompletion invokes completion with resultCode immediately on
// the calling goroutine; the caller must hold no locks the completion
// acquires.
func (engine *EngineStruct) DispatchCompletion(completion CompletionFunc, resultCode int) {
	completion(resultCode)
}

// NewStrand returns a serialization domain over the engine: work posted
// to it executes in posting order and never concurrently.
func (engine *EngineStruct) NewStrand() (strand *StrandStruct) {
	strand = engine.newStrand()
	return
}

// Stop drains all posted work and joins the worker goroutines. Work
// posted after Stop panics.
func (engine *EngineStruct) Stop() {
	engine.stop()
}

// Post schedules work on the strand: it will run after every WorkFunc
// previously posted to this strand has returned, and concurrently with
// none of them.
func (strand *StrandStruct) Post(work WorkFunc) {
	strand.post(work)
}

// PostCompletion schedules the invocation of completion with resultCode
// on the strand.
func (strand *StrandStruct) PostCompletion(completion CompletionFunc, resultCode int) {
	strand.post(func() {
		completion(resultCode)
	})
}

// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package ioengine

import (
	"container/list"
	"fmt"
	"sync"
)

// EngineStruct is the shared work engine. The work queue is unbounded so
// that a worker re-posting follow-on work (e.g. a strand scheduling its
// next item) can never deadlock against a full queue.
type EngineStruct struct {
	sync.Mutex
	workListCond *sync.Cond // .Wait()'d on by idle workers; signaled by post()
	workList     *list.List // of WorkFunc
	workersWG    sync.WaitGroup
	stopping     bool // drain in progress; posts (e.g. strand re-posts) still accepted
	stopped      bool // workers joined; further posts panic
}

// StrandStruct is a serialization domain over an EngineStruct.
type StrandStruct struct {
	sync.Mutex
	engine    *EngineStruct
	workList  *list.List // of WorkFunc
	scheduled bool       // a runNext() is posted or running
}

func newEngine(workerCount uint32) (engine *EngineStruct) {
	var (
		workerIndex uint32
	)

	if 0 == workerCount {
		panic(fmt.Errorf("ioengine.NewEngine(0) called"))
	}

	engine = &EngineStruct{
		workList: list.New(),
		stopping: false,
		stopped:  false,
	}

	engine.workListCond = sync.NewCond(engine)

	for workerIndex = 0; workerIndex < workerCount; workerIndex++ {
		engine.workersWG.Add(1)
		go engine.worker()
	}

	return
}

func (engine *EngineStruct) worker() {
	var (
		work WorkFunc
	)

	for {
		engine.Lock()

		for (0 == engine.workList.Len()) && !engine.stopping {
			engine.workListCond.Wait()
		}

		if 0 == engine.workList.Len() {
			// stopping and fully drained
			engine.Unlock()
			engine.workersWG.Done()
			return
		}

		work = engine.workList.Remove(engine.workList.Front()).(WorkFunc)

		engine.Unlock()

		work()
	}
}

func (engine *EngineStruct) post(work WorkFunc) {
	engine.Lock()

	if engine.stopped {
		engine.Unlock()
		panic(fmt.Errorf("ioengine: Post() called after Stop() returned"))
	}

	_ = engine.workList.PushBack(work)

	engine.workListCond.Signal()

	engine.Unlock()
}

func (engine *EngineStruct) stop() {
	engine.Lock()
	engine.stopping = true
	engine.workListCond.Broadcast()
	engine.Unlock()

	engine.workersWG.Wait()

	engine.Lock()
	engine.stopped = true
	engine.Unlock()
}

func (engine *EngineStruct) newStrand() (strand *StrandStruct) {
	strand = &StrandStruct{
		engine:    engine,
		workList:  list.New(),
		scheduled: false,
	}

	return
}

func (strand *StrandStruct) post(work WorkFunc) {
	strand.Lock()

	_ = strand.workList.PushBack(work)

	if !strand.scheduled {
		strand.scheduled = true
		strand.engine.post(strand.runNext)
	}

	strand.Unlock()
}

// runNext executes exactly one queued WorkFunc and then re-posts itself
// if more remain. Running at most one instance at a time (enforced via
// .scheduled) is what makes the strand a serialization domain, while
// re-posting between items keeps one busy strand from monopolizing a
// worker.
func (strand *StrandStruct) runNext() {
	var (
		work WorkFunc
	)

	strand.Lock()
	work = strand.workList.Remove(strand.workList.Front()).(WorkFunc)
	strand.Unlock()

	work()

	strand.Lock()
	if 0 == strand.workList.Len() {
		strand.scheduled = false
	} else {
		strand.engine.post(strand.runNext)
	}
	strand.Unlock()
}

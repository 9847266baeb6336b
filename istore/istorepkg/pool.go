// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package istorepkg

import (
	"container/list"
	"fmt"
	"time"

	"github.com/NVIDIA/sortedmap"

	"github.com/NVIDIA/iblock/blunder"
	"github.com/NVIDIA/iblock/utils"
)

const authTokenByteSliceLen = 16

type poolStruct struct {
	name       string
	createTime time.Time
	objectMap  sortedmap.LLRBTree // key == objectStruct.name; value == *objectStruct
}

type objectStruct struct {
	name        string
	buf         []byte
	generation  uint64     // bumped on every mutation
	watcherList *list.List // each list.Element.Value.(chan struct{}) is closed on mutation
}

type poolAdminStruct struct {
	Name        string
	ObjectCount uint64
	BytesUsed   uint64
}

func (dummy *globalsStruct) DumpKey(key sortedmap.Key) (keyAsString string, err error) {
	var (
		ok bool
	)

	keyAsString, ok = key.(string)
	if ok {
		err = nil
	} else {
		err = fmt.Errorf("poolMap's DumpKey(%v) called for non-string", key)
	}

	return
}

func (dummy *globalsStruct) DumpValue(value sortedmap.Value) (valueAsString string, err error) {
	var (
		ok          bool
		valueAsPool *poolStruct
	)

	valueAsPool, ok = value.(*poolStruct)
	if ok {
		valueAsString = valueAsPool.name
		err = nil
	} else {
		err = fmt.Errorf("poolMap's DumpValue(%v) called for non-*poolStruct", value)
	}

	return
}

func (pool *poolStruct) DumpKey(key sortedmap.Key) (keyAsString string, err error) {
	var (
		ok bool
	)

	keyAsString, ok = key.(string)
	if ok {
		err = nil
	} else {
		err = fmt.Errorf("objectMap's DumpKey(%v) called for non-string", key)
	}

	return
}

func (pool *poolStruct) DumpValue(value sortedmap.Value) (valueAsString string, err error) {
	var (
		ok            bool
		valueAsObject *objectStruct
	)

	valueAsObject, ok = value.(*objectStruct)
	if ok {
		valueAsString = fmt.Sprintf("%s[%d bytes gen %d]", valueAsObject.name, len(valueAsObject.buf), valueAsObject.generation)
		err = nil
	} else {
		err = fmt.Errorf("objectMap's DumpValue(%v) called for non-*objectStruct", value)
	}

	return
}

func createAuthToken() (authToken string) {
	authToken = fmt.Sprintf("AUTH_tk%x", utils.FetchRandomByteSlice(authTokenByteSliceLen))

	globals.Lock()
	globals.authTokenMap[authToken] = &authTokenStruct{
		authToken: authToken,
		expiresAt: time.Now().Add(globals.config.AuthTokenTTL),
	}
	globals.Unlock()

	return
}

func authTokenValid(authToken string) (valid bool) {
	var (
		ok            bool
		retainedToken *authTokenStruct
	)

	globals.Lock()

	retainedToken, ok = globals.authTokenMap[authToken]
	if !ok {
		globals.Unlock()
		valid = false
		return
	}

	if time.Now().After(retainedToken.expiresAt) {
		delete(globals.authTokenMap, authToken)
		globals.Unlock()
		valid = false
		return
	}

	globals.Unlock()

	valid = true
	return
}

// fetchPool returns the named pool. The caller must hold globals.Lock.
//
func fetchPool(poolName string) (pool *poolStruct, err error) {
	var (
		ok          bool
		poolAsValue sortedmap.Value
	)

	poolAsValue, ok, err = globals.poolMap.GetByKey(poolName)
	if nil != err {
		logFatal(err)
	}
	if !ok {
		err = blunder.NewError(blunder.NotFoundError, "pool \"%s\" not found", poolName)
		return
	}

	pool, ok = poolAsValue.(*poolStruct)
	if !ok {
		logFatalf("globals.poolMap[\"%s\"] was not a *poolStruct", poolName)
	}

	err = nil
	return
}

// fetchObject returns the named object within pool. The caller must hold globals.Lock.
//
func fetchObject(pool *poolStruct, objectName string) (object *objectStruct, err error) {
	var (
		objectAsValue sortedmap.Value
		ok            bool
	)

	objectAsValue, ok, err = pool.objectMap.GetByKey(objectName)
	if nil != err {
		logFatal(err)
	}
	if !ok {
		err = blunder.NewError(blunder.NotFoundError, "object \"%s/%s\" not found", pool.name, objectName)
		return
	}

	object, ok = objectAsValue.(*objectStruct)
	if !ok {
		logFatalf("pool \"%s\" objectMap[\"%s\"] was not an *objectStruct", pool.name, objectName)
	}

	err = nil
	return
}

// ensureObject returns the named object within pool, creating an empty one
// if absent. The caller must hold globals.Lock.
//
func ensureObject(pool *poolStruct, objectName string) (object *objectStruct) {
	var (
		err error
		ok  bool
	)

	object, err = fetchObject(pool, objectName)
	if nil == err {
		return
	}

	object = &objectStruct{
		name:        objectName,
		buf:         make([]byte, 0),
		generation:  0,
		watcherList: list.New(),
	}

	ok, err = pool.objectMap.Put(objectName, object)
	if nil != err {
		logFatal(err)
	}
	if !ok {
		logFatalf("pool \"%s\" objectMap.Put(\"%s\",) returned !ok", pool.name, objectName)
	}

	return
}

// bumpObjectGeneration advances the object's generation and wakes every
// watcher. The caller must hold globals.Lock.
//
func bumpObjectGeneration(object *objectStruct) {
	var (
		watcherListElement *list.Element
	)

	object.generation++

	for {
		watcherListElement = object.watcherList.Front()
		if nil == watcherListElement {
			break
		}

		_ = object.watcherList.Remove(watcherListElement)

		close(watcherListElement.Value.(chan struct{}))

		globals.stats.WatchWakeups.Increment()
	}
}

func createPool(poolName string) (alreadyExisted bool, err error) {
	var (
		ok   bool
		pool *poolStruct
	)

	globals.Lock()

	_, err = fetchPool(poolName)
	if nil == err {
		globals.Unlock()
		alreadyExisted = true
		return
	}

	pool = &poolStruct{
		name:       poolName,
		createTime: time.Now(),
	}
	pool.objectMap = sortedmap.NewLLRBTree(sortedmap.CompareString, pool)

	ok, err = globals.poolMap.Put(poolName, pool)
	if nil != err {
		logFatal(err)
	}
	if !ok {
		logFatalf("globals.poolMap.Put(\"%s\",) returned !ok", poolName)
	}

	globals.Unlock()

	alreadyExisted = false
	err = nil
	return
}

func deletePool(poolName string) (err error) {
	var (
		objectMapLen int
		ok           bool
		pool         *poolStruct
	)

	globals.Lock()

	pool, err = fetchPool(poolName)
	if nil != err {
		globals.Unlock()
		return
	}

	objectMapLen, err = pool.objectMap.Len()
	if nil != err {
		logFatal(err)
	}
	if 0 != objectMapLen {
		globals.Unlock()
		err = blunder.NewError(blunder.NotEmptyError, "pool \"%s\" still holds %d objects", poolName, objectMapLen)
		return
	}

	ok, err = globals.poolMap.DeleteByKey(poolName)
	if nil != err {
		logFatal(err)
	}
	if !ok {
		logFatalf("globals.poolMap.DeleteByKey(\"%s\") returned !ok", poolName)
	}

	globals.Unlock()

	err = nil
	return
}

func listPool(poolName string) (objectNames []string, err error) {
	var (
		objectAsKey  sortedmap.Key
		objectIndex  int
		objectMapLen int
		objectName   string
		ok           bool
		pool         *poolStruct
	)

	globals.Lock()

	pool, err = fetchPool(poolName)
	if nil != err {
		globals.Unlock()
		return
	}

	objectMapLen, err = pool.objectMap.Len()
	if nil != err {
		logFatal(err)
	}

	objectNames = make([]string, 0, objectMapLen)

	for objectIndex = 0; objectIndex < objectMapLen; objectIndex++ {
		objectAsKey, _, ok, err = pool.objectMap.GetByIndex(objectIndex)
		if nil != err {
			logFatal(err)
		}
		if !ok {
			logFatalf("pool \"%s\" objectMap len (%d) is wrong", poolName, objectMapLen)
		}

		objectName, ok = objectAsKey.(string)
		if !ok {
			logFatalf("pool \"%s\" objectMap[%d] key was not a string", poolName, objectIndex)
		}

		objectNames = append(objectNames, objectName)
	}

	globals.Unlock()

	err = nil
	return
}

// fetchPoolAdmin summarizes one pool. The caller must hold globals.Lock.
//
func fetchPoolAdmin(pool *poolStruct) (poolAdmin *poolAdminStruct) {
	var (
		err           error
		object        *objectStruct
		objectAsValue sortedmap.Value
		objectIndex   int
		objectMapLen  int
		ok            bool
	)

	objectMapLen, err = pool.objectMap.Len()
	if nil != err {
		logFatal(err)
	}

	poolAdmin = &poolAdminStruct{
		Name:        pool.name,
		ObjectCount: uint64(objectMapLen),
		BytesUsed:   0,
	}

	for objectIndex = 0; objectIndex < objectMapLen; objectIndex++ {
		_, objectAsValue, ok, err = pool.objectMap.GetByIndex(objectIndex)
		if nil != err {
			logFatal(err)
		}
		if !ok {
			logFatalf("pool \"%s\" objectMap len (%d) is wrong", pool.name, objectMapLen)
		}

		object, ok = objectAsValue.(*objectStruct)
		if !ok {
			logFatalf("pool \"%s\" objectMap[%d] value was not an *objectStruct", pool.name, objectIndex)
		}

		poolAdmin.BytesUsed += uint64(len(object.buf))
	}

	return
}

func fetchAllPoolAdmin() (poolAdminList []*poolAdminStruct) {
	var (
		err         error
		ok          bool
		pool        *poolStruct
		poolAsValue sortedmap.Value
		poolIndex   int
		poolMapLen  int
	)

	globals.Lock()

	poolMapLen, err = globals.poolMap.Len()
	if nil != err {
		logFatal(err)
	}

	poolAdminList = make([]*poolAdminStruct, 0, poolMapLen)

	for poolIndex = 0; poolIndex < poolMapLen; poolIndex++ {
		_, poolAsValue, ok, err = globals.poolMap.GetByIndex(poolIndex)
		if nil != err {
			logFatal(err)
		}
		if !ok {
			logFatalf("globals.poolMap len (%d) is wrong", poolMapLen)
		}

		pool, ok = poolAsValue.(*poolStruct)
		if !ok {
			logFatalf("globals.poolMap[%d] value was not a *poolStruct", poolIndex)
		}

		poolAdminList = append(poolAdminList, fetchPoolAdmin(pool))
	}

	globals.Unlock()

	return
}

func putObjectFull(poolName string, objectName string, body []byte) (err error) {
	var (
		object *objectStruct
		pool   *poolStruct
	)

	globals.Lock()

	pool, err = fetchPool(poolName)
	if nil != err {
		globals.Unlock()
		return
	}

	object = ensureObject(pool, objectName)

	object.buf = make([]byte, len(body))
	copy(object.buf, body)

	bumpObjectGeneration(object)

	globals.Unlock()

	err = nil
	return
}

// extendObject grows object.buf (zero filled) to hold at least newSize bytes.
// The caller must hold globals.Lock.
//
func extendObject(object *objectStruct, newSize uint64) {
	var (
		extendedBuf []byte
	)

	if uint64(len(object.buf)) >= newSize {
		return
	}

	extendedBuf = make([]byte, newSize)
	copy(extendedBuf, object.buf)
	object.buf = extendedBuf
}

func putObjectRange(poolName string, objectName string, startOffset uint64, body []byte) (err error) {
	var (
		object *objectStruct
		pool   *poolStruct
	)

	globals.Lock()

	pool, err = fetchPool(poolName)
	if nil != err {
		globals.Unlock()
		return
	}

	object = ensureObject(pool, objectName)

	extendObject(object, startOffset+uint64(len(body)))
	copy(object.buf[startOffset:], body)

	bumpObjectGeneration(object)

	globals.Unlock()

	err = nil
	return
}

func putObjectWriteSame(poolName string, objectName string, startOffset uint64, spanLength uint64, pattern []byte) (err error) {
	var (
		object  *objectStruct
		pool    *poolStruct
		spanPos uint64
	)

	if 0 == len(pattern) {
		err = blunder.NewError(blunder.InvalidArgError, "write-same pattern must be non-empty")
		return
	}
	if 0 != (spanLength % uint64(len(pattern))) {
		err = blunder.NewError(blunder.InvalidArgError, "write-same span length (%d) must be a multiple of the pattern length (%d)", spanLength, len(pattern))
		return
	}

	globals.Lock()

	pool, err = fetchPool(poolName)
	if nil != err {
		globals.Unlock()
		return
	}

	object = ensureObject(pool, objectName)

	extendObject(object, startOffset+spanLength)

	for spanPos = 0; spanPos < spanLength; spanPos += uint64(len(pattern)) {
		copy(object.buf[startOffset+spanPos:startOffset+spanPos+uint64(len(pattern))], pattern)
	}

	bumpObjectGeneration(object)

	globals.Unlock()

	err = nil
	return
}

func zeroObjectRange(poolName string, objectName string, startOffset uint64, spanLength uint64) (err error) {
	var (
		object  *objectStruct
		pool    *poolStruct
		spanPos uint64
	)

	globals.Lock()

	pool, err = fetchPool(poolName)
	if nil != err {
		globals.Unlock()
		return
	}

	object = ensureObject(pool, objectName)

	extendObject(object, startOffset+spanLength)

	for spanPos = startOffset; spanPos < (startOffset + spanLength); spanPos++ {
		object.buf[spanPos] = 0
	}

	bumpObjectGeneration(object)

	globals.Unlock()

	err = nil
	return
}

// compareAndWriteObjectRange atomically compares compareBuf against the span
// starting at startOffset (bytes beyond the object's current size compare as
// zero) and, only on a full match, installs writeBuf there. A mismatch leaves
// the object untouched and returns a MismatchError with mismatchOffset set to
// the span-relative offset of the first differing byte.
//
func compareAndWriteObjectRange(poolName string, objectName string, startOffset uint64, compareBuf []byte, writeBuf []byte) (mismatchOffset uint64, err error) {
	var (
		object     *objectStruct
		objectByte byte
		pool       *poolStruct
		spanPos    uint64
		spanPosAbs uint64
	)

	if len(compareBuf) != len(writeBuf) {
		err = blunder.NewError(blunder.InvalidArgError, "compare buffer length (%d) must match write buffer length (%d)", len(compareBuf), len(writeBuf))
		return
	}

	globals.Lock()

	pool, err = fetchPool(poolName)
	if nil != err {
		globals.Unlock()
		return
	}

	object = ensureObject(pool, objectName)

	for spanPos = 0; spanPos < uint64(len(compareBuf)); spanPos++ {
		spanPosAbs = startOffset + spanPos
		if spanPosAbs < uint64(len(object.buf)) {
			objectByte = object.buf[spanPosAbs]
		} else {
			objectByte = 0
		}
		if objectByte != compareBuf[spanPos] {
			globals.Unlock()
			globals.stats.CompareAndWriteMismatches.Increment()
			mismatchOffset = spanPos
			err = blunder.NewError(blunder.MismatchError, "compare-and-write mismatch at span offset %d", spanPos)
			return
		}
	}

	extendObject(object, startOffset+uint64(len(writeBuf)))
	copy(object.buf[startOffset:], writeBuf)

	bumpObjectGeneration(object)

	globals.Unlock()

	err = nil
	return
}

func fetchObjectBody(poolName string, objectName string) (buf []byte, generation uint64, err error) {
	var (
		object *objectStruct
		pool   *poolStruct
	)

	globals.Lock()

	pool, err = fetchPool(poolName)
	if nil != err {
		globals.Unlock()
		return
	}

	object, err = fetchObject(pool, objectName)
	if nil != err {
		globals.Unlock()
		return
	}

	buf = make([]byte, len(object.buf))
	copy(buf, object.buf)
	generation = object.generation

	globals.Unlock()

	err = nil
	return
}

func fetchObjectInfo(poolName string, objectName string) (objectSize uint64, generation uint64, err error) {
	var (
		object *objectStruct
		pool   *poolStruct
	)

	globals.Lock()

	pool, err = fetchPool(poolName)
	if nil != err {
		globals.Unlock()
		return
	}

	object, err = fetchObject(pool, objectName)
	if nil != err {
		globals.Unlock()
		return
	}

	objectSize = uint64(len(object.buf))
	generation = object.generation

	globals.Unlock()

	err = nil
	return
}

// awaitObjectGeneration long-polls the named object until its generation
// exceeds watchGeneration or [ISTORE]WatchPollTimeout elapses, returning the
// object's content and generation as of the wakeup. Deletion of the object
// wakes watchers who then observe NotFoundError.
//
func awaitObjectGeneration(poolName string, objectName string, watchGeneration uint64) (buf []byte, generation uint64, err error) {
	var (
		deadline           time.Time
		object             *objectStruct
		pool               *poolStruct
		waited             bool
		wakeChan           chan struct{}
		watcherListElement *list.Element
	)

	deadline = time.Now().Add(globals.config.WatchPollTimeout)

	for {
		globals.Lock()

		pool, err = fetchPool(poolName)
		if nil != err {
			globals.Unlock()
			return
		}

		object, err = fetchObject(pool, objectName)
		if nil != err {
			globals.Unlock()
			return
		}

		if (object.generation > watchGeneration) || !time.Now().Before(deadline) {
			buf = make([]byte, len(object.buf))
			copy(buf, object.buf)
			generation = object.generation

			globals.Unlock()

			err = nil
			return
		}

		wakeChan = make(chan struct{})
		watcherListElement = object.watcherList.PushBack(wakeChan)

		globals.Unlock()

		if !waited {
			waited = true
			globals.stats.WatchWaits.Increment()
		}

		select {
		case <-wakeChan:
			// Re-evaluate the object under the lock
		case <-time.After(time.Until(deadline)):
			globals.Lock()
			object.watcherList.Remove(watcherListElement)
			globals.Unlock()
		}
	}
}

func deleteObject(poolName string, objectName string) (err error) {
	var (
		object *objectStruct
		ok     bool
		pool   *poolStruct
	)

	globals.Lock()

	pool, err = fetchPool(poolName)
	if nil != err {
		globals.Unlock()
		return
	}

	object, err = fetchObject(pool, objectName)
	if nil != err {
		globals.Unlock()
		return
	}

	// Watchers woken here will re-fetch and observe NotFoundError

	bumpObjectGeneration(object)

	ok, err = pool.objectMap.DeleteByKey(objectName)
	if nil != err {
		logFatal(err)
	}
	if !ok {
		logFatalf("pool \"%s\" objectMap.DeleteByKey(\"%s\") returned !ok", poolName, objectName)
	}

	globals.Unlock()

	err = nil
	return
}

// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iblockpkg

import (
	"syscall"
	"time"

	"github.com/NVIDIA/fission"

	"github.com/NVIDIA/iblock/blunder"
)

const (
	attrBlockSize = uint32(512)
	attrRDev      = uint32(0)

	fuseDefaultPermissions = true // Make VFS/FUSE do access checks rather than this driver

	fuseSubtype = "IBlock"

	rootDirInodeNumber    = uint64(1) // FUSE_ROOT_ID
	volumeFileInodeNumber = uint64(2)

	initOutFlags = uint32(0) |
		fission.InitFlagsAsyncRead |
		fission.InitFlagsFileOps |
		fission.InitFlagsAtomicOTrunc |
		fission.InitFlagsBigWrites |
		fission.InitFlagsAutoInvalData |
		fission.InitFlagsDoReadDirPlus |
		fission.InitFlagsReaddirplusAuto |
		fission.InitFlagsParallelDirops |
		fission.InitFlagsMaxPages |
		fission.InitFlagsExplicitInvalData
)

// The FUSE namespace is fixed: a root directory holding exactly one regular
// file named after the served volume. Reads and writes of that file are
// forwarded to the VolumeHandle and, hence, traverse the dispatch stack.

type openHandleStruct struct {
	fissionFH         uint64
	inodeNumber       uint64
	fissionFlagsRead  bool
	fissionFlagsWrite bool
}

func performMountFUSE() (err error) {
	if "" == globals.config.FUSEMountPointDirPath {
		// The volume is being served via the VolumeHandle and HTTP only
		globals.fissionVolume = nil
		err = nil
		return
	}

	globals.fissionVolume = fission.NewVolume(
		globals.config.VolumeName,
		globals.config.FUSEMountPointDirPath,
		fuseSubtype,
		globals.config.FUSEMaxRead,
		globals.config.FUSEMaxWrite,
		fuseDefaultPermissions,
		globals.config.FUSEAllowOther,
		&globals,
		newLogger(),
		globals.fissionErrChan,
	)

	err = globals.fissionVolume.DoMount()

	return
}

func performUnmountFUSE() (err error) {
	if nil == globals.fissionVolume {
		err = nil
		return
	}

	err = globals.fissionVolume.DoUnmount()

	globals.fissionVolume = nil

	return
}

func createOpenHandle(inodeNumber uint64) (openHandle *openHandleStruct) {
	globals.openHandleMapLock.Lock()

	globals.lastFissionFH++

	openHandle = &openHandleStruct{
		fissionFH:   globals.lastFissionFH,
		inodeNumber: inodeNumber,
	}

	globals.openHandleMap[openHandle.fissionFH] = openHandle

	globals.openHandleMapLock.Unlock()

	return
}

func lookupOpenHandleByFissionFH(fissionFH uint64) (openHandle *openHandleStruct) {
	var (
		ok bool
	)

	globals.openHandleMapLock.Lock()
	openHandle, ok = globals.openHandleMap[fissionFH]
	globals.openHandleMapLock.Unlock()

	if !ok {
		openHandle = nil
	}

	return
}

func (openHandle *openHandleStruct) destroy() {
	globals.openHandleMapLock.Lock()
	delete(globals.openHandleMap, openHandle.fissionFH)
	globals.openHandleMapLock.Unlock()
}

// rootDirAttr returns the (synthesized) attributes of the root directory.
func rootDirAttr() (attr fission.Attr) {
	var (
		createTimeNSec uint32
		createTimeSec  uint64
	)

	globals.volume.ownerLock.RLock()
	createTimeSec, createTimeNSec = nsToUnixTime(uint64(globals.volume.createTime.UnixNano()))
	globals.volume.ownerLock.RUnlock()

	attr = fission.Attr{
		Ino:       rootDirInodeNumber,
		Size:      0,
		Blocks:    0,
		ATimeSec:  createTimeSec,
		MTimeSec:  createTimeSec,
		CTimeSec:  createTimeSec,
		ATimeNSec: createTimeNSec,
		MTimeNSec: createTimeNSec,
		CTimeNSec: createTimeNSec,
		Mode:      syscall.S_IFDIR | 0755,
		NLink:     2,
		UID:       0,
		GID:       0,
		RDev:      attrRDev,
		BlkSize:   0,
		Padding:   0,
	}

	return
}

// volumeFileAttr returns the attributes of the single file presenting the
// served volume. The file is exactly as large as the volume's data area and
// loses its write bits while the volume header marks it read-only or pins it
// to a historical snapshot.
func volumeFileAttr() (attr fission.Attr) {
	var (
		attrMode       uint32
		createTimeNSec uint32
		createTimeSec  uint64
		size           uint64
	)

	globals.volume.ownerLock.RLock()

	size = globals.volume.size
	if globals.volume.readOnly || (0 != globals.volume.snapPinID) {
		attrMode = syscall.S_IFREG | 0444
	} else {
		attrMode = syscall.S_IFREG | 0644
	}
	createTimeSec, createTimeNSec = nsToUnixTime(uint64(globals.volume.createTime.UnixNano()))

	globals.volume.ownerLock.RUnlock()

	attr = fission.Attr{
		Ino:       volumeFileInodeNumber,
		Size:      size, // Possibly overwritten by fixAttrSizes()
		Blocks:    0,    // Computed by fixAttrSizes()
		ATimeSec:  createTimeSec,
		MTimeSec:  createTimeSec,
		CTimeSec:  createTimeSec,
		ATimeNSec: createTimeNSec,
		MTimeNSec: createTimeNSec,
		CTimeNSec: createTimeNSec,
		Mode:      attrMode,
		NLink:     1,
		UID:       0,
		GID:       0,
		RDev:      attrRDev,
		BlkSize:   attrBlockSize, // Possibly overwritten by fixAttrSizes()
		Padding:   0,
	}

	fixAttrSizes(&attr)

	return
}

// fissionErrno converts an error returned by a VolumeHandle operation into
// the errno handed back to the kernel.
func fissionErrno(err error) (errno syscall.Errno) {
	var (
		errnoAsInt int
	)

	errnoAsInt = blunder.Errno(err)
	if 0 >= errnoAsInt {
		errno = syscall.EIO
	} else {
		errno = syscall.Errno(errnoAsInt)
	}

	return
}

func (dummy *globalsStruct) DoLookup(inHeader *fission.InHeader, lookupIn *fission.LookupIn) (lookupOut *fission.LookupOut, errno syscall.Errno) {
	var (
		startTime time.Time = time.Now()
	)

	logTracef("==> DoLookup(inHeader: %+v, lookupIn: %+v)", inHeader, lookupIn)
	defer func() {
		logTracef("<== DoLookup(lookupOut: %+v, errno: %v)", lookupOut, errno)
	}()

	defer func() {
		globals.stats.DoLookupUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	if rootDirInodeNumber != inHeader.NodeID {
		lookupOut = nil
		errno = syscall.ENOENT
		return
	}

	if globals.config.VolumeName != string(lookupIn.Name) {
		lookupOut = nil
		errno = syscall.ENOENT
		return
	}

	lookupOut = &fission.LookupOut{
		EntryOut: fission.EntryOut{
			NodeID:         volumeFileInodeNumber,
			Generation:     0,
			EntryValidSec:  globals.fuseAttrValidDurationSec,
			EntryValidNSec: globals.fuseAttrValidDurationNSec,
			AttrValidSec:   globals.fuseAttrValidDurationSec,
			AttrValidNSec:  globals.fuseAttrValidDurationNSec,
			Attr:           volumeFileAttr(),
		},
	}

	errno = 0
	return
}

func (dummy *globalsStruct) DoForget(inHeader *fission.InHeader, forgetIn *fission.ForgetIn) {
	var (
		startTime time.Time = time.Now()
	)

	logTracef("==> DoForget(inHeader: %+v, forgetIn: %+v)", inHeader, forgetIn)
	defer func() {
		logTracef("<== DoForget()")
	}()

	defer func() {
		globals.stats.DoForgetUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	// Nothing to do here... the namespace is fixed
}

func (dummy *globalsStruct) DoGetAttr(inHeader *fission.InHeader, getAttrIn *fission.GetAttrIn) (getAttrOut *fission.GetAttrOut, errno syscall.Errno) {
	var (
		attr      fission.Attr
		startTime time.Time = time.Now()
	)

	logTracef("==> DoGetAttr(inHeader: %+v, getAttrIn: %+v)", inHeader, getAttrIn)
	defer func() {
		logTracef("<== DoGetAttr(getAttrOut: %+v, errno: %v)", getAttrOut, errno)
	}()

	defer func() {
		globals.stats.DoGetAttrUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	switch inHeader.NodeID {
	case rootDirInodeNumber:
		attr = rootDirAttr()
	case volumeFileInodeNumber:
		attr = volumeFileAttr()
	default:
		getAttrOut = nil
		errno = syscall.ENOENT
		return
	}

	getAttrOut = &fission.GetAttrOut{
		AttrValidSec:  globals.fuseAttrValidDurationSec,
		AttrValidNSec: globals.fuseAttrValidDurationNSec,
		Dummy:         0,
		Attr:          attr,
	}

	errno = 0
	return
}

func (dummy *globalsStruct) DoSetAttr(inHeader *fission.InHeader, setAttrIn *fission.SetAttrIn) (setAttrOut *fission.SetAttrOut, errno syscall.Errno) {
	var (
		size      uint64
		startTime time.Time = time.Now()
	)

	logTracef("==> DoSetAttr(inHeader: %+v, setAttrIn: %+v)", inHeader, setAttrIn)
	defer func() {
		logTracef("<== DoSetAttr(setAttrOut: %+v, errno: %v)", setAttrOut, errno)
	}()

	defer func() {
		globals.stats.DoSetAttrUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	if volumeFileInodeNumber != inHeader.NodeID {
		setAttrOut = nil
		errno = syscall.EPERM
		return
	}

	if 0 != (setAttrIn.Valid & fission.SetAttrInValidSize) {
		globals.volume.ownerLock.RLock()
		size = globals.volume.size
		globals.volume.ownerLock.RUnlock()

		// The volume is fixed-size... only ivoladm may resize it

		if setAttrIn.Size != size {
			setAttrOut = nil
			errno = syscall.ENOTSUP
			return
		}
	}

	// Mode/owner/time updates have nowhere to live... report current attrs

	setAttrOut = &fission.SetAttrOut{
		AttrValidSec:  globals.fuseAttrValidDurationSec,
		AttrValidNSec: globals.fuseAttrValidDurationNSec,
		Dummy:         0,
		Attr:          volumeFileAttr(),
	}

	errno = 0
	return
}

func (dummy *globalsStruct) DoReadLink(inHeader *fission.InHeader) (readLinkOut *fission.ReadLinkOut, errno syscall.Errno) {
	var (
		startTime time.Time = time.Now()
	)

	logTracef("==> DoReadLink(inHeader: %+v)", inHeader)
	defer func() {
		logTracef("<== DoReadLink(readLinkOut: %+v, errno: %v)", readLinkOut, errno)
	}()

	defer func() {
		globals.stats.DoReadLinkUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	readLinkOut = nil
	errno = syscall.EINVAL
	return
}

func (dummy *globalsStruct) DoSymLink(inHeader *fission.InHeader, symLinkIn *fission.SymLinkIn) (symLinkOut *fission.SymLinkOut, errno syscall.Errno) {
	var (
		startTime time.Time = time.Now()
	)

	logTracef("==> DoSymLink(inHeader: %+v, symLinkIn: %+v)", inHeader, symLinkIn)
	defer func() {
		logTracef("<== DoSymLink(symLinkOut: %+v, errno: %v)", symLinkOut, errno)
	}()

	defer func() {
		globals.stats.DoSymLinkUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	symLinkOut = nil
	errno = syscall.EPERM
	return
}

func (dummy *globalsStruct) DoMkNod(inHeader *fission.InHeader, mkNodIn *fission.MkNodIn) (mkNodOut *fission.MkNodOut, errno syscall.Errno) {
	var (
		startTime time.Time = time.Now()
	)

	logTracef("==> DoMkNod(inHeader: %+v, mkNodIn: %+v)", inHeader, mkNodIn)
	defer func() {
		logTracef("<== DoMkNod(mkNodOut: %+v, errno: %v)", mkNodOut, errno)
	}()

	defer func() {
		globals.stats.DoMkNodUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	// The namespace holds exactly the served volume's file

	mkNodOut = nil
	errno = syscall.EPERM
	return
}

func (dummy *globalsStruct) DoMkDir(inHeader *fission.InHeader, mkDirIn *fission.MkDirIn) (mkDirOut *fission.MkDirOut, errno syscall.Errno) {
	var (
		startTime time.Time = time.Now()
	)

	logTracef("==> DoMkDir(inHeader: %+v, mkDirIn: %+v)", inHeader, mkDirIn)
	defer func() {
		logTracef("<== DoMkDir(mkDirOut: %+v, errno: %v)", mkDirOut, errno)
	}()

	defer func() {
		globals.stats.DoMkDirUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	mkDirOut = nil
	errno = syscall.EPERM
	return
}

func (dummy *globalsStruct) DoUnlink(inHeader *fission.InHeader, unlinkIn *fission.UnlinkIn) (errno syscall.Errno) {
	var (
		startTime time.Time = time.Now()
	)

	logTracef("==> DoUnlink(inHeader: %+v, unlinkIn: %+v)", inHeader, unlinkIn)
	defer func() {
		logTracef("<== DoUnlink(errno: %v)", errno)
	}()

	defer func() {
		globals.stats.DoUnlinkUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	errno = syscall.EPERM
	return
}

func (dummy *globalsStruct) DoRmDir(inHeader *fission.InHeader, rmDirIn *fission.RmDirIn) (errno syscall.Errno) {
	var (
		startTime time.Time = time.Now()
	)

	logTracef("==> DoRmDir(inHeader: %+v, rmDirIn: %+v)", inHeader, rmDirIn)
	defer func() {
		logTracef("<== DoRmDir(errno: %v)", errno)
	}()

	defer func() {
		globals.stats.DoRmDirUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	errno = syscall.EPERM
	return
}

func (dummy *globalsStruct) DoRename(inHeader *fission.InHeader, renameIn *fission.RenameIn) (errno syscall.Errno) {
	var (
		startTime time.Time = time.Now()
	)

	logTracef("==> DoRename(inHeader: %+v, renameIn: %+v)", inHeader, renameIn)
	defer func() {
		logTracef("<== DoRename(errno: %v)", errno)
	}()

	defer func() {
		globals.stats.DoRenameUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	errno = syscall.EPERM
	return
}

func (dummy *globalsStruct) DoLink(inHeader *fission.InHeader, linkIn *fission.LinkIn) (linkOut *fission.LinkOut, errno syscall.Errno) {
	var (
		startTime time.Time = time.Now()
	)

	logTracef("==> DoLink(inHeader: %+v, linkIn: %+v)", inHeader, linkIn)
	defer func() {
		logTracef("<== DoLink(linkOut: %+v, errno: %v)", linkOut, errno)
	}()

	defer func() {
		globals.stats.DoLinkUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	linkOut = nil
	errno = syscall.EPERM
	return
}

func (dummy *globalsStruct) DoOpen(inHeader *fission.InHeader, openIn *fission.OpenIn) (openOut *fission.OpenOut, errno syscall.Errno) {
	var (
		openHandle    *openHandleStruct
		readOnly      bool
		requestsWrite bool
		startTime     time.Time = time.Now()
	)

	logTracef("==> DoOpen(inHeader: %+v, openIn: %+v)", inHeader, openIn)
	defer func() {
		logTracef("<== DoOpen(openOut: %+v, errno: %v)", openOut, errno)
	}()

	defer func() {
		globals.stats.DoOpenUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	if rootDirInodeNumber == inHeader.NodeID {
		openOut = nil
		errno = syscall.EISDIR
		return
	}
	if volumeFileInodeNumber != inHeader.NodeID {
		openOut = nil
		errno = syscall.ENOENT
		return
	}

	requestsWrite = ((openIn.Flags & syscall.O_ACCMODE) == syscall.O_RDWR) || ((openIn.Flags & syscall.O_ACCMODE) == syscall.O_WRONLY)

	if requestsWrite {
		globals.volume.ownerLock.RLock()
		readOnly = globals.volume.readOnly || (0 != globals.volume.snapPinID)
		globals.volume.ownerLock.RUnlock()

		if readOnly {
			openOut = nil
			errno = syscall.EROFS
			return
		}
	}

	// Note that O_TRUNC (if present) is ignored... the volume is fixed-size

	openHandle = createOpenHandle(inHeader.NodeID)

	openHandle.fissionFlagsRead = ((openIn.Flags & syscall.O_ACCMODE) == syscall.O_RDONLY) || ((openIn.Flags & syscall.O_ACCMODE) == syscall.O_RDWR)
	openHandle.fissionFlagsWrite = requestsWrite

	openOut = &fission.OpenOut{
		FH:        openHandle.fissionFH,
		OpenFlags: 0,
		Padding:   0,
	}

	errno = 0
	return
}

func (dummy *globalsStruct) DoRead(inHeader *fission.InHeader, readIn *fission.ReadIn) (readOut *fission.ReadOut, errno syscall.Errno) {
	var (
		buf        []byte
		err        error
		openHandle *openHandleStruct
		readLength uint64
		startTime  time.Time = time.Now()
		volumeSize uint64
	)

	logTracef("==> DoRead(inHeader: %+v, readIn: %+v)", inHeader, readIn)
	defer func() {
		if errno == 0 {
			logTracef("<== DoRead(readOut: &{len(Data):%v}, errno: %v)", len(readOut.Data), errno)
		} else {
			logTracef("<== DoRead(readOut: %+v, errno: %v)", readOut, errno)
		}
	}()

	defer func() {
		globals.stats.DoReadUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
		if (errno == 0) && (readOut != nil) {
			globals.stats.DoReadBytes.Add(uint64(len(readOut.Data)))
		}
	}()

	openHandle = lookupOpenHandleByFissionFH(readIn.FH)
	if nil == openHandle {
		readOut = nil
		errno = syscall.EBADF
		return
	}
	if openHandle.inodeNumber != inHeader.NodeID {
		readOut = nil
		errno = syscall.EBADF
		return
	}
	if !openHandle.fissionFlagsRead {
		readOut = nil
		errno = syscall.EBADF
		return
	}

	globals.volume.ownerLock.RLock()
	volumeSize = globals.volume.size
	globals.volume.ownerLock.RUnlock()

	if readIn.Offset >= volumeSize {
		readOut = &fission.ReadOut{
			Data: make([]byte, 0),
		}
		errno = 0
		return
	}

	readLength = uint64(readIn.Size)
	if (readIn.Offset + readLength) > volumeSize {
		readLength = volumeSize - readIn.Offset
	}

	buf, err = globals.volume.Read(readIn.Offset, readLength, 0)
	if nil != err {
		readOut = nil
		errno = fissionErrno(err)
		return
	}

	readOut = &fission.ReadOut{
		Data: buf,
	}

	errno = 0
	return
}

func (dummy *globalsStruct) DoWrite(inHeader *fission.InHeader, writeIn *fission.WriteIn) (writeOut *fission.WriteOut, errno syscall.Errno) {
	var (
		err         error
		openHandle  *openHandleStruct
		startTime   time.Time = time.Now()
		volumeSize  uint64
		writeLength uint64
	)

	logTracef("==> DoWrite(inHeader: %+v, writeIn: &{FH:%v Offset:%v Size:%v: WriteFlags:%v LockOwner:%v Flags:%v Padding:%v len(Data):%v})", inHeader, writeIn.FH, writeIn.Offset, writeIn.Size, writeIn.WriteFlags, writeIn.LockOwner, writeIn.Flags, writeIn.Padding, len(writeIn.Data))
	defer func() {
		logTracef("<== DoWrite(writeOut: %+v, errno: %v)", writeOut, errno)
	}()

	defer func() {
		globals.stats.DoWriteUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
		if (errno == 0) && (writeOut != nil) {
			globals.stats.DoWriteBytes.Add(uint64(writeOut.Size))
		}
	}()

	if uint64(writeIn.Size) != uint64(len(writeIn.Data)) {
		writeOut = nil
		errno = syscall.EIO
		return
	}

	openHandle = lookupOpenHandleByFissionFH(writeIn.FH)
	if nil == openHandle {
		writeOut = nil
		errno = syscall.EBADF
		return
	}
	if openHandle.inodeNumber != inHeader.NodeID {
		writeOut = nil
		errno = syscall.EBADF
		return
	}
	if !openHandle.fissionFlagsWrite {
		writeOut = nil
		errno = syscall.EBADF
		return
	}

	globals.volume.ownerLock.RLock()
	volumeSize = globals.volume.size
	globals.volume.ownerLock.RUnlock()

	// A fixed-size volume cannot grow... reject writes starting at or beyond
	// its end and trim writes crossing it

	if writeIn.Offset >= volumeSize {
		writeOut = nil
		errno = syscall.ENOSPC
		return
	}

	writeLength = uint64(len(writeIn.Data))
	if (writeIn.Offset + writeLength) > volumeSize {
		writeLength = volumeSize - writeIn.Offset
	}

	err = globals.volume.Write(writeIn.Offset, writeIn.Data[:writeLength])
	if nil != err {
		writeOut = nil
		errno = fissionErrno(err)
		return
	}

	writeOut = &fission.WriteOut{
		Size:    uint32(writeLength),
		Padding: 0,
	}

	errno = 0
	return
}

func (dummy *globalsStruct) DoStatFS(inHeader *fission.InHeader) (statFSOut *fission.StatFSOut, errno syscall.Errno) {
	var (
		startTime  time.Time = time.Now()
		volumeSize uint64
	)

	logTracef("==> DoStatFS(inHeader: %+v)", inHeader)
	defer func() {
		logTracef("<== DoStatFS(statFSOut: %+v, errno: %v)", statFSOut, errno)
	}()

	defer func() {
		globals.stats.DoStatFSUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	globals.volume.ownerLock.RLock()
	volumeSize = globals.volume.size
	globals.volume.ownerLock.RUnlock()

	statFSOut = &fission.StatFSOut{
		KStatFS: fission.KStatFS{
			Blocks:  (volumeSize + uint64(globals.config.FUSEBlockSize) - 1) / uint64(globals.config.FUSEBlockSize),
			BFree:   0,
			BAvail:  0,
			Files:   1,
			FFree:   0,
			BSize:   globals.config.FUSEBlockSize,
			FRSize:  globals.config.FUSEBlockSize,
			Padding: 0,
			Spare:   [6]uint32{0, 0, 0, 0, 0, 0},
		},
	}

	errno = 0
	return
}

func (dummy *globalsStruct) DoRelease(inHeader *fission.InHeader, releaseIn *fission.ReleaseIn) (errno syscall.Errno) {
	var (
		openHandle *openHandleStruct
		startTime  time.Time = time.Now()
	)

	logTracef("==> DoRelease(inHeader: %+v, releaseIn: %+v)", inHeader, releaseIn)
	defer func() {
		logTracef("<== DoRelease(errno: %v)", errno)
	}()

	defer func() {
		globals.stats.DoReleaseUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	openHandle = lookupOpenHandleByFissionFH(releaseIn.FH)
	if nil == openHandle {
		errno = syscall.EBADF
		return
	}
	if openHandle.inodeNumber != inHeader.NodeID {
		errno = syscall.EBADF
		return
	}

	openHandle.destroy()

	errno = 0
	return
}

func (dummy *globalsStruct) DoFSync(inHeader *fission.InHeader, fSyncIn *fission.FSyncIn) (errno syscall.Errno) {
	var (
		err       error
		startTime time.Time = time.Now()
	)

	logTracef("==> DoFSync(inHeader: %+v, fSyncIn: %+v)", inHeader, fSyncIn)
	defer func() {
		logTracef("<== DoFSync(errno: %v)", errno)
	}()

	defer func() {
		globals.stats.DoFSyncUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	err = globals.volume.Flush()
	if nil != err {
		errno = fissionErrno(err)
		return
	}

	errno = 0
	return
}

func (dummy *globalsStruct) DoSetXAttr(inHeader *fission.InHeader, setXAttrIn *fission.SetXAttrIn) (errno syscall.Errno) {
	var (
		startTime time.Time = time.Now()
	)

	logTracef("==> DoSetXAttr(inHeader: %+v, setXAttrIn: %+v)", inHeader, setXAttrIn)
	defer func() {
		logTracef("<== DoSetXAttr(errno: %v)", errno)
	}()

	defer func() {
		globals.stats.DoSetXAttrUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	errno = syscall.ENOSYS
	return
}

func (dummy *globalsStruct) DoGetXAttr(inHeader *fission.InHeader, getXAttrIn *fission.GetXAttrIn) (getXAttrOut *fission.GetXAttrOut, errno syscall.Errno) {
	var (
		startTime time.Time = time.Now()
	)

	logTracef("==> DoGetXAttr(inHeader: %+v, getXAttrIn: %+v)", inHeader, getXAttrIn)
	defer func() {
		logTracef("<== DoGetXAttr(getXAttrOut: %+v, errno: %v)", getXAttrOut, errno)
	}()

	defer func() {
		globals.stats.DoGetXAttrUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	getXAttrOut = nil
	errno = syscall.ENOSYS
	return
}

func (dummy *globalsStruct) DoListXAttr(inHeader *fission.InHeader, listXAttrIn *fission.ListXAttrIn) (listXAttrOut *fission.ListXAttrOut, errno syscall.Errno) {
	var (
		startTime time.Time = time.Now()
	)

	logTracef("==> DoListXAttr(inHeader: %+v, listXAttrIn: %+v)", inHeader, listXAttrIn)
	defer func() {
		logTracef("<== DoListXAttr(listXAttrOut: %+v, errno: %v)", listXAttrOut, errno)
	}()

	defer func() {
		globals.stats.DoListXAttrUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	listXAttrOut = nil
	errno = syscall.ENOSYS
	return
}

func (dummy *globalsStruct) DoRemoveXAttr(inHeader *fission.InHeader, removeXAttrIn *fission.RemoveXAttrIn) (errno syscall.Errno) {
	var (
		startTime time.Time = time.Now()
	)

	logTracef("==> DoRemoveXAttr(inHeader: %+v, removeXAttrIn: %+v)", inHeader, removeXAttrIn)
	defer func() {
		logTracef("<== DoRemoveXAttr(errno: %v)", errno)
	}()

	defer func() {
		globals.stats.DoRemoveXAttrUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	errno = syscall.ENOSYS
	return
}

func (dummy *globalsStruct) DoFlush(inHeader *fission.InHeader, flushIn *fission.FlushIn) (errno syscall.Errno) {
	var (
		err       error
		startTime time.Time = time.Now()
	)

	logTracef("==> DoFlush(inHeader: %+v, flushIn: %+v)", inHeader, flushIn)
	defer func() {
		logTracef("<== DoFlush(errno: %v)", errno)
	}()

	defer func() {
		globals.stats.DoFlushUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	err = globals.volume.Flush()
	if nil != err {
		errno = fissionErrno(err)
		return
	}

	errno = 0
	return
}

func (dummy *globalsStruct) DoInit(inHeader *fission.InHeader, initIn *fission.InitIn) (initOut *fission.InitOut, errno syscall.Errno) {
	var (
		startTime time.Time = time.Now()
	)

	logTracef("==> DoInit(inHeader: %+v, initIn: %+v)", inHeader, initIn)
	defer func() {
		logTracef("<== DoInit(initOut: %+v, errno: %v)", initOut, errno)
	}()

	defer func() {
		globals.stats.DoInitUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	initOut = &fission.InitOut{
		Major:                initIn.Major,
		Minor:                initIn.Minor,
		MaxReadAhead:         initIn.MaxReadAhead,
		Flags:                initOutFlags,
		MaxBackground:        globals.config.FUSEMaxBackground,
		CongestionThreshhold: globals.config.FUSECongestionThreshhold,
		MaxWrite:             globals.config.FUSEMaxWrite,
	}

	errno = 0
	return
}

func (dummy *globalsStruct) DoOpenDir(inHeader *fission.InHeader, openDirIn *fission.OpenDirIn) (openDirOut *fission.OpenDirOut, errno syscall.Errno) {
	var (
		openHandle *openHandleStruct
		startTime  time.Time = time.Now()
	)

	logTracef("==> DoOpenDir(inHeader: %+v, openDirIn: %+v)", inHeader, openDirIn)
	defer func() {
		logTracef("<== DoOpenDir(openDirOut: %+v, errno: %v)", openDirOut, errno)
	}()

	defer func() {
		globals.stats.DoOpenDirUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	if rootDirInodeNumber != inHeader.NodeID {
		openDirOut = nil
		errno = syscall.ENOTDIR
		return
	}

	if ((openDirIn.Flags & syscall.O_APPEND) == syscall.O_APPEND) || ((openDirIn.Flags & syscall.O_ACCMODE) != syscall.O_RDONLY) {
		openDirOut = nil
		errno = syscall.EACCES
		return
	}

	openHandle = createOpenHandle(inHeader.NodeID)

	openHandle.fissionFlagsRead = true
	openHandle.fissionFlagsWrite = false

	openDirOut = &fission.OpenDirOut{
		FH:        openHandle.fissionFH,
		OpenFlags: 0,
		Padding:   0,
	}

	errno = 0
	return
}

func (dummy *globalsStruct) DoReadDir(inHeader *fission.InHeader, readDirIn *fission.ReadDirIn) (readDirOut *fission.ReadDirOut, errno syscall.Errno) {
	var (
		dirEnt          fission.DirEnt
		dirEntIndex     int
		dirEnts         []fission.DirEnt
		dirEntSize      uint64
		dirEntSliceSize uint64
		openHandle      *openHandleStruct
		startTime       time.Time = time.Now()
	)

	logTracef("==> DoReadDir(inHeader: %+v, readDirIn: %+v)", inHeader, readDirIn)
	defer func() {
		logTracef("<== DoReadDir(readDirOut: %+v, errno: %v)", readDirOut, errno)
	}()

	defer func() {
		globals.stats.DoReadDirUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	openHandle = lookupOpenHandleByFissionFH(readDirIn.FH)
	if nil == openHandle {
		readDirOut = nil
		errno = syscall.EBADF
		return
	}
	if openHandle.inodeNumber != inHeader.NodeID {
		readDirOut = nil
		errno = syscall.EBADF
		return
	}

	dirEnts = rootDirEnts()

	readDirOut = &fission.ReadDirOut{
		DirEnt: make([]fission.DirEnt, 0, len(dirEnts)),
	}

	if readDirIn.Offset >= uint64(len(dirEnts)) {
		errno = 0
		return
	}

	dirEntIndex = int(readDirIn.Offset)
	dirEntSliceSize = 0

	for dirEntIndex < len(dirEnts) {
		dirEnt = dirEnts[dirEntIndex]

		dirEntSize = fission.DirEntFixedPortionSize + uint64(len(dirEnt.Name)) + fission.DirEntAlignment - 1
		dirEntSize /= fission.DirEntAlignment
		dirEntSize *= fission.DirEntAlignment

		dirEntSliceSize += dirEntSize
		if dirEntSliceSize > uint64(readDirIn.Size) {
			break
		}

		dirEntIndex++

		dirEnt.Off = uint64(dirEntIndex)

		readDirOut.DirEnt = append(readDirOut.DirEnt, dirEnt)
	}

	errno = 0
	return
}

func (dummy *globalsStruct) DoReleaseDir(inHeader *fission.InHeader, releaseDirIn *fission.ReleaseDirIn) (errno syscall.Errno) {
	var (
		openHandle *openHandleStruct
		startTime  time.Time = time.Now()
	)

	logTracef("==> DoReleaseDir(inHeader: %+v, releaseDirIn: %+v)", inHeader, releaseDirIn)
	defer func() {
		logTracef("<== DoReleaseDir(errno: %v)", errno)
	}()

	defer func() {
		globals.stats.DoReleaseDirUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	openHandle = lookupOpenHandleByFissionFH(releaseDirIn.FH)
	if nil == openHandle {
		errno = syscall.EBADF
		return
	}
	if openHandle.inodeNumber != inHeader.NodeID {
		errno = syscall.EBADF
		return
	}

	openHandle.destroy()

	errno = 0
	return
}

func (dummy *globalsStruct) DoFSyncDir(inHeader *fission.InHeader, fSyncDirIn *fission.FSyncDirIn) (errno syscall.Errno) {
	var (
		startTime time.Time = time.Now()
	)

	logTracef("==> DoFSyncDir(inHeader: %+v, fSyncDirIn: %+v)", inHeader, fSyncDirIn)
	defer func() {
		logTracef("<== DoFSyncDir(errno: %v)", errno)
	}()

	defer func() {
		globals.stats.DoFSyncDirUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	// The namespace is synthetic... there is nothing to sync

	errno = 0
	return
}

func (dummy *globalsStruct) DoGetLK(inHeader *fission.InHeader, getLKIn *fission.GetLKIn) (getLKOut *fission.GetLKOut, errno syscall.Errno) {
	var (
		startTime time.Time = time.Now()
	)

	logTracef("==> DoGetLK(inHeader: %+v, getLKIn: %+v)", inHeader, getLKIn)
	defer func() {
		logTracef("<== DoGetLK(getLKOut: %+v, errno: %v)", getLKOut, errno)
	}()

	defer func() {
		globals.stats.DoGetLKUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	getLKOut = nil
	errno = syscall.ENOSYS
	return
}

func (dummy *globalsStruct) DoSetLK(inHeader *fission.InHeader, setLKIn *fission.SetLKIn) (errno syscall.Errno) {
	var (
		startTime time.Time = time.Now()
	)

	logTracef("==> DoSetLK(inHeader: %+v, setLKIn: %+v)", inHeader, setLKIn)
	defer func() {
		logTracef("<== DoSetLK(errno: %v)", errno)
	}()

	defer func() {
		globals.stats.DoSetLKUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	errno = syscall.ENOSYS
	return
}

func (dummy *globalsStruct) DoSetLKW(inHeader *fission.InHeader, setLKWIn *fission.SetLKWIn) (errno syscall.Errno) {
	var (
		startTime time.Time = time.Now()
	)

	logTracef("==> DoSetLKW(inHeader: %+v, setLKWIn: %+v)", inHeader, setLKWIn)
	defer func() {
		logTracef("<== DoSetLKW(errno: %v)", errno)
	}()

	defer func() {
		globals.stats.DoSetLKWUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	errno = syscall.ENOSYS
	return
}

func (dummy *globalsStruct) DoAccess(inHeader *fission.InHeader, accessIn *fission.AccessIn) (errno syscall.Errno) {
	var (
		startTime time.Time = time.Now()
	)

	logTracef("==> DoAccess(inHeader: %+v, accessIn: %+v)", inHeader, accessIn)
	defer func() {
		logTracef("<== DoAccess(errno: %v)", errno)
	}()

	defer func() {
		globals.stats.DoAccessUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	// Note that with setting defaultPermissions to true, this call should never be made

	errno = syscall.ENOSYS
	return
}

func (dummy *globalsStruct) DoCreate(inHeader *fission.InHeader, createIn *fission.CreateIn) (createOut *fission.CreateOut, errno syscall.Errno) {
	var (
		startTime time.Time = time.Now()
	)

	logTracef("==> DoCreate(inHeader: %+v, createIn: %+v)", inHeader, createIn)
	defer func() {
		logTracef("<== DoCreate(createOut: %+v, errno: %v)", createOut, errno)
	}()

	defer func() {
		globals.stats.DoCreateUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	createOut = nil
	errno = syscall.EPERM
	return
}

func (dummy *globalsStruct) DoInterrupt(inHeader *fission.InHeader, interruptIn *fission.InterruptIn) {
	var (
		startTime time.Time = time.Now()
	)

	logTracef("==> DoInterrupt(inHeader: %+v, interruptIn: %+v)", inHeader, interruptIn)
	defer func() {
		logTracef("<== DoInterrupt()")
	}()

	defer func() {
		globals.stats.DoInterruptUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	// In-flight operations are never abandoned... their results are awaited
}

func (dummy *globalsStruct) DoBMap(inHeader *fission.InHeader, bMapIn *fission.BMapIn) (bMapOut *fission.BMapOut, errno syscall.Errno) {
	var (
		startTime time.Time = time.Now()
	)

	logTracef("==> DoBMap(inHeader: %+v, bMapIn: %+v)", inHeader, bMapIn)
	defer func() {
		logTracef("<== DoBMap(bMapOut: %+v, errno: %v)", bMapOut, errno)
	}()

	defer func() {
		globals.stats.DoBMapUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	bMapOut = nil
	errno = syscall.ENOSYS
	return
}

func (dummy *globalsStruct) DoDestroy(inHeader *fission.InHeader) (errno syscall.Errno) {
	var (
		startTime time.Time = time.Now()
	)

	logTracef("==> DoDestroy(inHeader: %+v)", inHeader)
	defer func() {
		logTracef("<== DoDestroy(errno: %v)", errno)
	}()

	defer func() {
		globals.stats.DoDestroyUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	errno = syscall.ENOSYS
	return
}

func (dummy *globalsStruct) DoPoll(inHeader *fission.InHeader, pollIn *fission.PollIn) (pollOut *fission.PollOut, errno syscall.Errno) {
	var (
		startTime time.Time = time.Now()
	)

	logTracef("==> DoPoll(inHeader: %+v, pollIn: %+v)", inHeader, pollIn)
	defer func() {
		logTracef("<== DoPoll(pollOut: %+v, errno: %v)", pollOut, errno)
	}()

	defer func() {
		globals.stats.DoPollUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	pollOut = nil
	errno = syscall.ENOSYS
	return
}

func (dummy *globalsStruct) DoBatchForget(inHeader *fission.InHeader, batchForgetIn *fission.BatchForgetIn) {
	var (
		startTime time.Time = time.Now()
	)

	logTracef("==> DoBatchForget(inHeader: %+v, batchForgetIn: %+v)", inHeader, batchForgetIn)
	defer func() {
		logTracef("<== DoBatchForget()")
	}()

	defer func() {
		globals.stats.DoBatchForgetUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	// Nothing to do here... the namespace is fixed
}

func (dummy *globalsStruct) DoFAllocate(inHeader *fission.InHeader, fAllocateIn *fission.FAllocateIn) (errno syscall.Errno) {
	var (
		startTime time.Time = time.Now()
	)

	logTracef("==> DoFAllocate(inHeader: %+v, fAllocateIn: %+v)", inHeader, fAllocateIn)
	defer func() {
		logTracef("<== DoFAllocate(errno: %v)", errno)
	}()

	defer func() {
		globals.stats.DoFAllocateUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	errno = syscall.ENOSYS
	return
}

func (dummy *globalsStruct) DoReadDirPlus(inHeader *fission.InHeader, readDirPlusIn *fission.ReadDirPlusIn) (readDirPlusOut *fission.ReadDirPlusOut, errno syscall.Errno) {
	var (
		attr                fission.Attr
		dirEnt              fission.DirEnt
		dirEntIndex         int
		dirEntPlusSize      uint64
		dirEntPlusSliceSize uint64
		dirEnts             []fission.DirEnt
		openHandle          *openHandleStruct
		startTime           time.Time = time.Now()
	)

	logTracef("==> DoReadDirPlus(inHeader: %+v, readDirPlusIn: %+v)", inHeader, readDirPlusIn)
	defer func() {
		logTracef("<== DoReadDirPlus(readDirPlusOut: %+v, errno: %v)", readDirPlusOut, errno)
	}()

	defer func() {
		globals.stats.DoReadDirPlusUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	openHandle = lookupOpenHandleByFissionFH(readDirPlusIn.FH)
	if nil == openHandle {
		readDirPlusOut = nil
		errno = syscall.EBADF
		return
	}
	if openHandle.inodeNumber != inHeader.NodeID {
		readDirPlusOut = nil
		errno = syscall.EBADF
		return
	}

	dirEnts = rootDirEnts()

	readDirPlusOut = &fission.ReadDirPlusOut{
		DirEntPlus: make([]fission.DirEntPlus, 0, len(dirEnts)),
	}

	if readDirPlusIn.Offset >= uint64(len(dirEnts)) {
		errno = 0
		return
	}

	dirEntIndex = int(readDirPlusIn.Offset)
	dirEntPlusSliceSize = 0

	for dirEntIndex < len(dirEnts) {
		dirEnt = dirEnts[dirEntIndex]

		dirEntPlusSize = fission.DirEntPlusFixedPortionSize + uint64(len(dirEnt.Name)) + fission.DirEntAlignment - 1
		dirEntPlusSize /= fission.DirEntAlignment
		dirEntPlusSize *= fission.DirEntAlignment

		dirEntPlusSliceSize += dirEntPlusSize
		if dirEntPlusSliceSize > uint64(readDirPlusIn.Size) {
			break
		}

		dirEntIndex++

		dirEnt.Off = uint64(dirEntIndex)

		if volumeFileInodeNumber == dirEnt.Ino {
			attr = volumeFileAttr()
		} else {
			attr = rootDirAttr()
		}

		readDirPlusOut.DirEntPlus = append(readDirPlusOut.DirEntPlus, fission.DirEntPlus{
			EntryOut: fission.EntryOut{
				NodeID:         dirEnt.Ino,
				Generation:     0,
				EntryValidSec:  globals.fuseAttrValidDurationSec,
				EntryValidNSec: globals.fuseAttrValidDurationNSec,
				AttrValidSec:   globals.fuseAttrValidDurationSec,
				AttrValidNSec:  globals.fuseAttrValidDurationNSec,
				Attr:           attr,
			},
			DirEnt: dirEnt,
		})
	}

	errno = 0
	return
}

func (dummy *globalsStruct) DoRename2(inHeader *fission.InHeader, rename2In *fission.Rename2In) (errno syscall.Errno) {
	var (
		startTime time.Time = time.Now()
	)

	logTracef("==> DoRename2(inHeader: %+v, rename2In: %+v)", inHeader, rename2In)
	defer func() {
		logTracef("<== DoRename2(errno: %v)", errno)
	}()

	defer func() {
		globals.stats.DoRename2Usecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	errno = syscall.EPERM
	return
}

func (dummy *globalsStruct) DoLSeek(inHeader *fission.InHeader, lSeekIn *fission.LSeekIn) (lSeekOut *fission.LSeekOut, errno syscall.Errno) {
	var (
		startTime time.Time = time.Now()
	)

	logTracef("==> DoLSeek(inHeader: %+v, lSeekIn: %+v)", inHeader, lSeekIn)
	defer func() {
		logTracef("<== DoLSeek(lSeekOut: %+v, errno: %v)", lSeekOut, errno)
	}()

	defer func() {
		globals.stats.DoLSeekUsecs.Add(uint64(time.Since(startTime) / time.Microsecond))
	}()

	lSeekOut = nil
	errno = syscall.ENOSYS
	return
}

// rootDirEnts lists the root directory: ".", "..", and the volume's file.
func rootDirEnts() (dirEnts []fission.DirEnt) {
	dirEnts = []fission.DirEnt{
		{
			Ino:     rootDirInodeNumber,
			Off:     0, // Filled in during the readdir scan
			NameLen: 1,
			Type:    syscall.S_IFDIR,
			Name:    []byte("."),
		},
		{
			Ino:     rootDirInodeNumber,
			Off:     0,
			NameLen: 2,
			Type:    syscall.S_IFDIR,
			Name:    []byte(".."),
		},
		{
			Ino:     volumeFileInodeNumber,
			Off:     0,
			NameLen: uint32(len(globals.config.VolumeName)),
			Type:    syscall.S_IFREG,
			Name:    []byte(globals.config.VolumeName),
		},
	}

	return
}

func fixAttrSizes(attr *fission.Attr) {
	if syscall.S_IFREG == (attr.Mode & syscall.S_IFMT) {
		attr.Blocks = attr.Size + (uint64(attrBlockSize) - 1)
		attr.Blocks /= uint64(attrBlockSize)
		attr.BlkSize = attrBlockSize
	} else {
		attr.Size = 0
		attr.Blocks = 0
		attr.BlkSize = 0
	}
}

func nsToUnixTime(ns uint64) (sec uint64, nsec uint32) {
	sec = ns / 1e9
	nsec = uint32(ns - (sec * 1e9))
	return
}

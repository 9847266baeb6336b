// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package vlayout

import (
	"fmt"
	"time"

	"github.com/NVIDIA/cstruct"
	"github.com/creachadair/cityhash"
)

type volumeHeaderV1FixedStruct struct {
	Magic            uint64
	Version          uint64
	Size             uint64
	ObjectOrder      uint64
	ReadOnly         bool
	SnapPinID        uint64
	HeaderGeneration uint64
	CreateTime       uint64 // time.Time.UnixNano()
	SnapshotCount    uint64
}

type snapshotRecordV1FixedStruct struct {
	SnapID     uint64
	Size       uint64
	CreateTime uint64 // time.Time.UnixNano()
}

func (volumeHeaderV1 *VolumeHeaderV1Struct) marshalVolumeHeaderV1() (volumeHeaderV1Buf []byte, err error) {
	var (
		checksum                 uint64
		checksumBuf              []byte
		snapshotRecordV1         SnapshotRecordV1Struct
		snapshotRecordV1FixedBuf []byte
		snapshotRecordV1NameBuf  []byte
		volumeHeaderV1FixedBuf   []byte
		volumeNameBuf            []byte
	)

	volumeHeaderV1FixedBuf, err = cstruct.Pack(&volumeHeaderV1FixedStruct{
		Magic:            VolumeHeaderV1Magic,
		Version:          VolumeHeaderVersionV1,
		Size:             volumeHeaderV1.Size,
		ObjectOrder:      volumeHeaderV1.ObjectOrder,
		ReadOnly:         volumeHeaderV1.ReadOnly,
		SnapPinID:        volumeHeaderV1.SnapPinID,
		HeaderGeneration: volumeHeaderV1.HeaderGeneration,
		CreateTime:       uint64(volumeHeaderV1.CreateTime.UnixNano()),
		SnapshotCount:    uint64(len(volumeHeaderV1.SnapshotTable)),
	}, cstruct.LittleEndian)
	if nil != err {
		return
	}

	volumeNameBuf, err = marshalName(volumeHeaderV1.VolumeName)
	if nil != err {
		return
	}

	volumeHeaderV1Buf = make([]byte, 0, len(volumeHeaderV1FixedBuf)+len(volumeNameBuf))
	volumeHeaderV1Buf = append(volumeHeaderV1Buf, volumeHeaderV1FixedBuf...)
	volumeHeaderV1Buf = append(volumeHeaderV1Buf, volumeNameBuf...)

	for _, snapshotRecordV1 = range volumeHeaderV1.SnapshotTable {
		snapshotRecordV1FixedBuf, err = cstruct.Pack(&snapshotRecordV1FixedStruct{
			SnapID:     snapshotRecordV1.SnapID,
			Size:       snapshotRecordV1.Size,
			CreateTime: uint64(snapshotRecordV1.CreateTime.UnixNano()),
		}, cstruct.LittleEndian)
		if nil != err {
			return
		}

		snapshotRecordV1NameBuf, err = marshalName(snapshotRecordV1.Name)
		if nil != err {
			return
		}

		volumeHeaderV1Buf = append(volumeHeaderV1Buf, snapshotRecordV1FixedBuf...)
		volumeHeaderV1Buf = append(volumeHeaderV1Buf, snapshotRecordV1NameBuf...)
	}

	checksum = cityhash.Hash64(volumeHeaderV1Buf)

	checksumBuf, err = cstruct.Pack(&checksum, cstruct.LittleEndian)
	if nil != err {
		return
	}

	volumeHeaderV1Buf = append(volumeHeaderV1Buf, checksumBuf...)

	if uint64(len(volumeHeaderV1Buf)) > VolumeHeaderRegionSize {
		err = fmt.Errorf("marshaled volume header (%v bytes) exceeds VolumeHeaderRegionSize (%v)", len(volumeHeaderV1Buf), VolumeHeaderRegionSize)
		return
	}

	err = nil
	return
}

// unmarshalVolumeHeaderV1 walks the self-framing header content (fixed
// portion, volume name, snapshot records), then validates the CityHash64
// checksum that immediately follows it. The checksum, not the buffer
// length, delimits the header: trailing bytes (a shorter header rewritten
// in place, or auxiliary header area content) are ignored.
func unmarshalVolumeHeaderV1(volumeHeaderV1Buf []byte) (volumeHeaderV1 *VolumeHeaderV1Struct, err error) {
	var (
		bytesConsumed         uint64
		checksumComputed      uint64
		checksumStored        uint64
		curPos                uint64
		name                  string
		snapshotIndex         uint64
		snapshotRecordV1Fixed snapshotRecordV1FixedStruct
		volumeHeaderV1Fixed   volumeHeaderV1FixedStruct
	)

	bytesConsumed, err = cstruct.Unpack(volumeHeaderV1Buf, &volumeHeaderV1Fixed, cstruct.LittleEndian)
	if nil != err {
		return
	}

	if VolumeHeaderV1Magic != volumeHeaderV1Fixed.Magic {
		err = fmt.Errorf("volume header magic unexpected (%016X)", volumeHeaderV1Fixed.Magic)
		return
	}
	if VolumeHeaderVersionV1 != volumeHeaderV1Fixed.Version {
		err = fmt.Errorf("volume header version unsupported (%v)", volumeHeaderV1Fixed.Version)
		return
	}

	curPos = bytesConsumed

	name, curPos, err = unmarshalName(volumeHeaderV1Buf, curPos)
	if nil != err {
		return
	}

	volumeHeaderV1 = &VolumeHeaderV1Struct{
		VolumeName:       name,
		Size:             volumeHeaderV1Fixed.Size,
		ObjectOrder:      volumeHeaderV1Fixed.ObjectOrder,
		ReadOnly:         volumeHeaderV1Fixed.ReadOnly,
		SnapPinID:        volumeHeaderV1Fixed.SnapPinID,
		HeaderGeneration: volumeHeaderV1Fixed.HeaderGeneration,
		CreateTime:       time.Unix(0, int64(volumeHeaderV1Fixed.CreateTime)),
		SnapshotTable:    make([]SnapshotRecordV1Struct, 0, volumeHeaderV1Fixed.SnapshotCount),
	}

	for snapshotIndex = 0; snapshotIndex < volumeHeaderV1Fixed.SnapshotCount; snapshotIndex++ {
		bytesConsumed, err = cstruct.Unpack(volumeHeaderV1Buf[curPos:], &snapshotRecordV1Fixed, cstruct.LittleEndian)
		if nil != err {
			volumeHeaderV1 = nil
			return
		}

		curPos += bytesConsumed

		name, curPos, err = unmarshalName(volumeHeaderV1Buf, curPos)
		if nil != err {
			volumeHeaderV1 = nil
			return
		}

		volumeHeaderV1.SnapshotTable = append(volumeHeaderV1.SnapshotTable, SnapshotRecordV1Struct{
			SnapID:     snapshotRecordV1Fixed.SnapID,
			Name:       name,
			Size:       snapshotRecordV1Fixed.Size,
			CreateTime: time.Unix(0, int64(snapshotRecordV1Fixed.CreateTime)),
		})
	}

	if curPos+8 > uint64(len(volumeHeaderV1Buf)) {
		err = fmt.Errorf("volume header truncated before its checksum")
		volumeHeaderV1 = nil
		return
	}

	_, err = cstruct.Unpack(volumeHeaderV1Buf[curPos:curPos+8], &checksumStored, cstruct.LittleEndian)
	if nil != err {
		volumeHeaderV1 = nil
		return
	}

	checksumComputed = cityhash.Hash64(volumeHeaderV1Buf[:curPos])
	if checksumComputed != checksumStored {
		err = fmt.Errorf("volume header checksum mismatch (stored: %016X computed: %016X)", checksumStored, checksumComputed)
		volumeHeaderV1 = nil
		return
	}

	err = nil
	return
}

func marshalName(name string) (nameBuf []byte, err error) {
	var (
		nameLen    uint64
		nameLenBuf []byte
	)

	nameLen = uint64(len(name))
	if nameLen > MaxNameLen {
		err = fmt.Errorf("name length (%v) exceeds MaxNameLen (%v)", nameLen, MaxNameLen)
		return
	}

	nameLenBuf, err = cstruct.Pack(&nameLen, cstruct.LittleEndian)
	if nil != err {
		return
	}

	nameBuf = make([]byte, 0, uint64(len(nameLenBuf))+nameLen)
	nameBuf = append(nameBuf, nameLenBuf...)
	nameBuf = append(nameBuf, []byte(name)...)

	err = nil
	return
}

func unmarshalName(buf []byte, pos uint64) (name string, newPos uint64, err error) {
	var (
		bytesConsumed uint64
		nameLen       uint64
	)

	bytesConsumed, err = cstruct.Unpack(buf[pos:], &nameLen, cstruct.LittleEndian)
	if nil != err {
		return
	}

	pos += bytesConsumed

	if nameLen > MaxNameLen {
		err = fmt.Errorf("name length (%v) exceeds MaxNameLen (%v)", nameLen, MaxNameLen)
		return
	}
	if pos+nameLen > uint64(len(buf)) {
		err = fmt.Errorf("name extends beyond buffer")
		return
	}

	name = string(buf[pos : pos+nameLen])
	newPos = pos + nameLen

	err = nil
	return
}

func objectName16HexDigits(objectNumber uint64) (objectName string) {
	objectName = fmt.Sprintf("%016X", objectNumber)
	return
}

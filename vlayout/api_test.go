// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package vlayout

import (
	"encoding/binary"
	"strings"
	"testing"
	"time"

	"github.com/creachadair/cityhash"
	"github.com/stretchr/testify/require"
)

func testRewriteChecksum(buf []byte) {
	binary.LittleEndian.PutUint64(buf[len(buf)-8:], cityhash.Hash64(buf[:len(buf)-8]))
}

func TestVolumeHeaderV1MarshalUnmarshal(t *testing.T) {
	var (
		assert              *require.Assertions
		err                 error
		snapshotRecordIndex int
		unmarshaledHeader   *VolumeHeaderV1Struct
		volumeHeaderV1      *VolumeHeaderV1Struct
		volumeHeaderV1Buf   []byte
	)

	assert = require.New(t)

	volumeHeaderV1 = &VolumeHeaderV1Struct{
		VolumeName:       "TestVolume",
		Size:             100 * 1024 * 1024,
		ObjectOrder:      22,
		ReadOnly:         false,
		SnapPinID:        0,
		HeaderGeneration: 7,
		CreateTime:       time.Unix(0, 1700000000000000000),
		SnapshotTable: []SnapshotRecordV1Struct{
			{SnapID: 1, Name: "snap-one", Size: 50 * 1024 * 1024, CreateTime: time.Unix(0, 1700000001000000000)},
			{SnapID: 2, Name: "snap-two", Size: 100 * 1024 * 1024, CreateTime: time.Unix(0, 1700000002000000000)},
		},
	}

	volumeHeaderV1Buf, err = volumeHeaderV1.MarshalVolumeHeaderV1()
	assert.Nil(err)
	assert.LessOrEqual(uint64(len(volumeHeaderV1Buf)), VolumeHeaderRegionSize)

	unmarshaledHeader, err = UnmarshalVolumeHeaderV1(volumeHeaderV1Buf)
	assert.Nil(err)

	assert.Equal(volumeHeaderV1.VolumeName, unmarshaledHeader.VolumeName)
	assert.Equal(volumeHeaderV1.Size, unmarshaledHeader.Size)
	assert.Equal(volumeHeaderV1.ObjectOrder, unmarshaledHeader.ObjectOrder)
	assert.Equal(volumeHeaderV1.ReadOnly, unmarshaledHeader.ReadOnly)
	assert.Equal(volumeHeaderV1.SnapPinID, unmarshaledHeader.SnapPinID)
	assert.Equal(volumeHeaderV1.HeaderGeneration, unmarshaledHeader.HeaderGeneration)
	assert.True(volumeHeaderV1.CreateTime.Equal(unmarshaledHeader.CreateTime))
	assert.Equal(len(volumeHeaderV1.SnapshotTable), len(unmarshaledHeader.SnapshotTable))

	for snapshotRecordIndex = range volumeHeaderV1.SnapshotTable {
		assert.Equal(volumeHeaderV1.SnapshotTable[snapshotRecordIndex].SnapID, unmarshaledHeader.SnapshotTable[snapshotRecordIndex].SnapID)
		assert.Equal(volumeHeaderV1.SnapshotTable[snapshotRecordIndex].Name, unmarshaledHeader.SnapshotTable[snapshotRecordIndex].Name)
		assert.Equal(volumeHeaderV1.SnapshotTable[snapshotRecordIndex].Size, unmarshaledHeader.SnapshotTable[snapshotRecordIndex].Size)
		assert.True(volumeHeaderV1.SnapshotTable[snapshotRecordIndex].CreateTime.Equal(unmarshaledHeader.SnapshotTable[snapshotRecordIndex].CreateTime))
	}
}

func TestVolumeHeaderV1EmptySnapshotTable(t *testing.T) {
	var (
		assert            *require.Assertions
		err               error
		unmarshaledHeader *VolumeHeaderV1Struct
		volumeHeaderV1    *VolumeHeaderV1Struct
		volumeHeaderV1Buf []byte
	)

	assert = require.New(t)

	volumeHeaderV1 = &VolumeHeaderV1Struct{
		VolumeName:       "Bare",
		Size:             1024,
		ObjectOrder:      12,
		ReadOnly:         true,
		SnapPinID:        3,
		HeaderGeneration: 1,
		CreateTime:       time.Unix(0, 1600000000000000000),
		SnapshotTable:    nil,
	}

	volumeHeaderV1Buf, err = volumeHeaderV1.MarshalVolumeHeaderV1()
	assert.Nil(err)

	unmarshaledHeader, err = UnmarshalVolumeHeaderV1(volumeHeaderV1Buf)
	assert.Nil(err)
	assert.True(unmarshaledHeader.ReadOnly)
	assert.Equal(uint64(3), unmarshaledHeader.SnapPinID)
	assert.Equal(0, len(unmarshaledHeader.SnapshotTable))
}

func TestVolumeHeaderV1RejectsCorruption(t *testing.T) {
	var (
		assert            *require.Assertions
		err               error
		volumeHeaderV1    *VolumeHeaderV1Struct
		volumeHeaderV1Buf []byte
	)

	assert = require.New(t)

	volumeHeaderV1 = &VolumeHeaderV1Struct{
		VolumeName:       "Corruptible",
		Size:             4096,
		ObjectOrder:      12,
		CreateTime:       time.Unix(0, 1600000000000000000),
		HeaderGeneration: 1,
	}

	volumeHeaderV1Buf, err = volumeHeaderV1.MarshalVolumeHeaderV1()
	assert.Nil(err)

	// Flip a byte in the middle... checksum validation must reject it

	volumeHeaderV1Buf[len(volumeHeaderV1Buf)/2] ^= 0xFF

	_, err = UnmarshalVolumeHeaderV1(volumeHeaderV1Buf)
	assert.NotNil(err)
	assert.True(strings.Contains(err.Error(), "checksum"))

	volumeHeaderV1Buf[len(volumeHeaderV1Buf)/2] ^= 0xFF

	// Patch the Magic field (bytes [0:8)) with the checksum recomputed

	binary.LittleEndian.PutUint64(volumeHeaderV1Buf[0:8], 0x0123456789ABCDEF)
	testRewriteChecksum(volumeHeaderV1Buf)

	_, err = UnmarshalVolumeHeaderV1(volumeHeaderV1Buf)
	assert.NotNil(err)
	assert.True(strings.Contains(err.Error(), "magic"))

	binary.LittleEndian.PutUint64(volumeHeaderV1Buf[0:8], VolumeHeaderV1Magic)

	// Patch the Version field (bytes [8:16)) the same way

	binary.LittleEndian.PutUint64(volumeHeaderV1Buf[8:16], 2)
	testRewriteChecksum(volumeHeaderV1Buf)

	_, err = UnmarshalVolumeHeaderV1(volumeHeaderV1Buf)
	assert.NotNil(err)
	assert.True(strings.Contains(err.Error(), "version"))

	binary.LittleEndian.PutUint64(volumeHeaderV1Buf[8:16], VolumeHeaderVersionV1)
	testRewriteChecksum(volumeHeaderV1Buf)

	// A buffer cut off inside the header content is rejected outright

	_, err = UnmarshalVolumeHeaderV1(volumeHeaderV1Buf[:4])
	assert.NotNil(err)

	// ...as is one cut off inside the trailing checksum

	_, err = UnmarshalVolumeHeaderV1(volumeHeaderV1Buf[:len(volumeHeaderV1Buf)-3])
	assert.NotNil(err)
	assert.True(strings.Contains(err.Error(), "truncated"))
}

func TestVolumeHeaderV1ToleratesTrailingBytes(t *testing.T) {
	var (
		assert            *require.Assertions
		err               error
		extendedBuf       []byte
		unmarshaledHeader *VolumeHeaderV1Struct
		volumeHeaderV1    *VolumeHeaderV1Struct
		volumeHeaderV1Buf []byte
	)

	assert = require.New(t)

	volumeHeaderV1 = &VolumeHeaderV1Struct{
		VolumeName:       "Extended",
		Size:             8192,
		ObjectOrder:      12,
		HeaderGeneration: 4,
		CreateTime:       time.Unix(0, 1600000000000000000),
		SnapshotTable: []SnapshotRecordV1Struct{
			{SnapID: 9, Name: "tail", Size: 8192, CreateTime: time.Unix(0, 1600000001000000000)},
		},
	}

	volumeHeaderV1Buf, err = volumeHeaderV1.MarshalVolumeHeaderV1()
	assert.Nil(err)

	// The checksum, not the buffer length, delimits the header: a header
	// object carrying auxiliary area content (or the residue of a longer
	// header rewritten in place) must still unmarshal.

	extendedBuf = make([]byte, 0, 2*VolumeHeaderRegionSize)
	extendedBuf = append(extendedBuf, volumeHeaderV1Buf...)
	extendedBuf = append(extendedBuf, make([]byte, VolumeHeaderRegionSize-uint64(len(volumeHeaderV1Buf)))...)
	extendedBuf = append(extendedBuf, []byte("auxiliary header area content")...)

	unmarshaledHeader, err = UnmarshalVolumeHeaderV1(extendedBuf)
	assert.Nil(err)
	assert.Equal(volumeHeaderV1.VolumeName, unmarshaledHeader.VolumeName)
	assert.Equal(volumeHeaderV1.Size, unmarshaledHeader.Size)
	assert.Equal(volumeHeaderV1.HeaderGeneration, unmarshaledHeader.HeaderGeneration)
	assert.Equal(1, len(unmarshaledHeader.SnapshotTable))
	assert.Equal(uint64(9), unmarshaledHeader.SnapshotTable[0].SnapID)
}

func TestVolumeHeaderV1RejectsOverlongName(t *testing.T) {
	var (
		err            error
		volumeHeaderV1 *VolumeHeaderV1Struct
	)

	volumeHeaderV1 = &VolumeHeaderV1Struct{
		VolumeName: strings.Repeat("x", int(MaxNameLen)+1),
		Size:       4096,
		CreateTime: time.Unix(0, 1600000000000000000),
	}

	_, err = volumeHeaderV1.MarshalVolumeHeaderV1()
	if nil == err {
		t.Fatalf("MarshalVolumeHeaderV1() of overlong VolumeName unexpectedly succeeded")
	}
}

func TestObjectNaming(t *testing.T) {
	var (
		assert *require.Assertions
	)

	assert = require.New(t)

	assert.Equal("0000000000000000", ObjectName(0))
	assert.Equal("0000000000000001", ObjectName(1))
	assert.Equal("00000000DEADBEEF", ObjectName(0xDEADBEEF))
	assert.Equal("FFFFFFFFFFFFFFFF", ObjectName(0xFFFFFFFFFFFFFFFF))

	assert.Equal(uint64(0), VolumeHeaderObjectNumber)
}

func TestDataObjectArithmetic(t *testing.T) {
	var (
		assert      *require.Assertions
		objectOrder uint64
		objectSize  uint64
	)

	assert = require.New(t)

	objectOrder = 22 // 4MiB objects
	objectSize = uint64(1) << objectOrder

	assert.Equal(uint64(1), DataObjectNumber(0, objectOrder))
	assert.Equal(uint64(0), DataObjectOffset(0, objectOrder))

	assert.Equal(uint64(1), DataObjectNumber(objectSize-1, objectOrder))
	assert.Equal(objectSize-1, DataObjectOffset(objectSize-1, objectOrder))

	assert.Equal(uint64(2), DataObjectNumber(objectSize, objectOrder))
	assert.Equal(uint64(0), DataObjectOffset(objectSize, objectOrder))

	assert.Equal(uint64(3), DataObjectNumber(2*objectSize+17, objectOrder))
	assert.Equal(uint64(17), DataObjectOffset(2*objectSize+17, objectOrder))
}

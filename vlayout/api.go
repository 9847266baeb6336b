// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package vlayout specifies the on-store layout of an iblock volume.
//
// A volume occupies one pool (a flat object namespace) in the backing
// object store. Object number 0 is the volume header object; the data
// region of the volume is striped across the remaining objects, each
// covering 1<<ObjectOrder bytes of the volume's address space:
//
//	objectNumber = 1 + (volumeOffset >> ObjectOrder)
//
// Object names are the 16-digit uppercase hex rendering of their object
// number (e.g. object number 1 is named "0000000000000001").
//
// The header object holds the marshaled VolumeHeaderV1Struct: a fixed
// little-endian portion (packed via package cstruct), the volume name
// and snapshot records (length-framed), and a trailing CityHash64
// checksum of everything that precedes it. The marshaled header is
// bounded by VolumeHeaderRegionSize; the VolumeHeaderRegionSize bytes
// of the header object beyond that bound form the auxiliary header
// area, a client-owned scratch region that can never alias the header
// itself. Every mutation of the header bumps HeaderGeneration; clients
// watch the header object's generation to learn of resizes,
// snapshot-table changes, and read-only/pin flips.
package vlayout

import (
	"time"
)

const (
	// VolumeHeaderV1Magic begins every marshaled V1 volume header
	// ("IBLKVHDR" read as a little-endian uint64).
	VolumeHeaderV1Magic = uint64(0x524448564B4C4249)

	// VolumeHeaderVersionV1 is the (only) supported header version.
	VolumeHeaderVersionV1 = uint64(1)

	// VolumeHeaderObjectNumber is the reserved object number of the
	// volume header object.
	VolumeHeaderObjectNumber = uint64(0)

	// VolumeHeaderRegionSize bounds the marshaled volume header within
	// the header object.
	VolumeHeaderRegionSize = uint64(64 * 1024)

	// AuxHeaderAreaOffset and AuxHeaderAreaSize locate the auxiliary
	// header area within the header object: a client-owned scratch
	// region beginning beyond every possible marshaled header, so
	// writes there never alias the header itself. Dispatch requests
	// flagged as targeting the area address [0,AuxHeaderAreaSize) of
	// it rather than the volume's data space.
	AuxHeaderAreaOffset = VolumeHeaderRegionSize
	AuxHeaderAreaSize   = VolumeHeaderRegionSize

	// MaxNameLen bounds the volume and snapshot name lengths accepted
	// by the marshaling routines.
	MaxNameLen = uint64(255)
)

// SnapshotRecordV1Struct describes one snapshot in the header's
// snapshot table.
type SnapshotRecordV1Struct struct {
	SnapID     uint64
	Name       string
	Size       uint64 // volume size as of the snapshot
	CreateTime time.Time
}

// VolumeHeaderV1Struct is the unmarshaled volume header object.
type VolumeHeaderV1Struct struct {
	VolumeName       string
	Size             uint64 // data region size (bytes)
	ObjectOrder      uint64 // each data object covers 1<<ObjectOrder bytes
	ReadOnly         bool
	SnapPinID        uint64 // 0 == not pinned to a snapshot
	HeaderGeneration uint64
	CreateTime       time.Time
	SnapshotTable    []SnapshotRecordV1Struct
}

// MarshalVolumeHeaderV1 returns the on-store form of the header,
// checksummed and ready to PUT to the volume header object.
func (volumeHeaderV1 *VolumeHeaderV1Struct) MarshalVolumeHeaderV1() (volumeHeaderV1Buf []byte, err error) {
	volumeHeaderV1Buf, err = volumeHeaderV1.marshalVolumeHeaderV1()
	return
}

// UnmarshalVolumeHeaderV1 parses and validates (magic, version,
// checksum) the on-store form of the header. Bytes beyond the
// checksummed header are ignored, so the buffer may be the whole
// header object even when the object extends past the header (a
// shorter header rewritten in place, or auxiliary header area use).
func UnmarshalVolumeHeaderV1(volumeHeaderV1Buf []byte) (volumeHeaderV1 *VolumeHeaderV1Struct, err error) {
	volumeHeaderV1, err = unmarshalVolumeHeaderV1(volumeHeaderV1Buf)
	return
}

// ObjectName returns the object name for the supplied object number.
func ObjectName(objectNumber uint64) (objectName string) {
	objectName = objectName16HexDigits(objectNumber)
	return
}

// DataObjectNumber returns the object number covering the supplied
// volume offset given the volume's object order.
func DataObjectNumber(volumeOffset uint64, objectOrder uint64) (objectNumber uint64) {
	objectNumber = 1 + (volumeOffset >> objectOrder)
	return
}

// DataObjectOffset returns the offset within its covering object of the
// supplied volume offset.
func DataObjectOffset(volumeOffset uint64, objectOrder uint64) (objectOffset uint64) {
	objectOffset = volumeOffset & ((uint64(1) << objectOrder) - 1)
	return
}

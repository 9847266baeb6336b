// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Program ivoladm administers iblock volumes directly in the backing
// object store: it formats (and destroys) the volume's pool, resizes
// the volume, manages its snapshot table, and flips its read-only and
// snapshot-pin state.
//
// The program requires two arguments: a path to a package conf formatted
// configuration (ivoladm reads the same [IBLOCK] section the iblock
// daemon mounts with) and a command:
//
//	ivoladm <conf-file> format <size-in-bytes> [<object-order>]
//	ivoladm <conf-file> destroy
//	ivoladm <conf-file> resize <size-in-bytes>
//	ivoladm <conf-file> snap-create <name>
//	ivoladm <conf-file> snap-remove <name>
//	ivoladm <conf-file> snap-pin <name>
//	ivoladm <conf-file> snap-unpin
//	ivoladm <conf-file> readonly <on|off>
//	ivoladm <conf-file> status
//
// Every mutating command rewrites the volume header object with a
// bumped HeaderGeneration, so mounted clients watching the header
// object pick the change up immediately.
//
package main

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/NVIDIA/iblock/conf"
	"github.com/NVIDIA/iblock/vlayout"
)

const (
	httpUserAgent = "ivoladm"

	formatObjectOrderDefault = uint64(22) // data objects cover 1<<22 (4MiB) of the volume
	formatObjectOrderMax     = uint64(30)
	formatObjectOrderMin     = uint64(12)
)

var (
	headerObjectURL string
	httpClient      http.Client
	poolURL         string
	storePool       string
	swiftAuthToken  string
	swiftStorageURL string
	volumeName      string
)

func main() {
	var (
		command       string
		commandArgs   []string
		confMap       conf.ConfMap
		err           error
		storeAuthKey  string
		storeAuthUser string
		storeURL      string
	)

	if len(os.Args) < 3 {
		usage()
	}

	confMap, err = conf.MakeConfMapFromFile(os.Args[1])
	if nil != err {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	volumeName, err = confMap.FetchOptionValueString("IBLOCK", "VolumeName")
	if nil != err {
		fmt.Printf("confMap.FetchOptionValueString(\"IBLOCK\", \"VolumeName\") failed: %v\n", err)
		os.Exit(1)
	}
	storeURL, err = confMap.FetchOptionValueString("IBLOCK", "StoreURL")
	if nil != err {
		fmt.Printf("confMap.FetchOptionValueString(\"IBLOCK\", \"StoreURL\") failed: %v\n", err)
		os.Exit(1)
	}
	storeAuthUser, err = confMap.FetchOptionValueString("IBLOCK", "StoreAuthUser")
	if nil != err {
		fmt.Printf("confMap.FetchOptionValueString(\"IBLOCK\", \"StoreAuthUser\") failed: %v\n", err)
		os.Exit(1)
	}
	storeAuthKey, err = confMap.FetchOptionValueString("IBLOCK", "StoreAuthKey")
	if nil != err {
		fmt.Printf("confMap.FetchOptionValueString(\"IBLOCK\", \"StoreAuthKey\") failed: %v\n", err)
		os.Exit(1)
	}
	storePool, err = confMap.FetchOptionValueString("IBLOCK", "StorePool")
	if nil != err {
		fmt.Printf("confMap.FetchOptionValueString(\"IBLOCK\", \"StorePool\") failed: %v\n", err)
		os.Exit(1)
	}

	httpClient = http.Client{}

	performAuth(storeURL, storeAuthUser, storeAuthKey)

	poolURL = swiftStorageURL + "/" + storePool
	headerObjectURL = poolURL + "/" + vlayout.ObjectName(vlayout.VolumeHeaderObjectNumber)

	command = os.Args[2]
	commandArgs = os.Args[3:]

	switch command {
	case "format":
		commandFormat(commandArgs)
	case "destroy":
		commandDestroy(commandArgs)
	case "resize":
		commandResize(commandArgs)
	case "snap-create":
		commandSnapCreate(commandArgs)
	case "snap-remove":
		commandSnapRemove(commandArgs)
	case "snap-pin":
		commandSnapPin(commandArgs)
	case "snap-unpin":
		commandSnapUnpin(commandArgs)
	case "readonly":
		commandReadOnly(commandArgs)
	case "status":
		commandStatus(commandArgs)
	default:
		usage()
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: ivoladm <conf-file> <command> [<arg>...]\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "commands:\n")
	fmt.Fprintf(os.Stderr, "  format <size-in-bytes> [<object-order>]\n")
	fmt.Fprintf(os.Stderr, "  destroy\n")
	fmt.Fprintf(os.Stderr, "  resize <size-in-bytes>\n")
	fmt.Fprintf(os.Stderr, "  snap-create <name>\n")
	fmt.Fprintf(os.Stderr, "  snap-remove <name>\n")
	fmt.Fprintf(os.Stderr, "  snap-pin <name>\n")
	fmt.Fprintf(os.Stderr, "  snap-unpin\n")
	fmt.Fprintf(os.Stderr, "  readonly <on|off>\n")
	fmt.Fprintf(os.Stderr, "  status\n")
	os.Exit(1)
}

func performAuth(storeURL string, storeAuthUser string, storeAuthKey string) {
	var (
		err          error
		httpRequest  *http.Request
		httpResponse *http.Response
	)

	httpRequest, err = http.NewRequest("GET", storeURL+"/auth/v1.0", nil)
	if nil != err {
		fmt.Printf("http.NewRequest(\"GET\", storeURL+\"/auth/v1.0\", nil) failed: %v\n", err)
		os.Exit(1)
	}

	httpRequest.Header.Add("User-Agent", httpUserAgent)
	httpRequest.Header.Add("X-Auth-User", storeAuthUser)
	httpRequest.Header.Add("X-Auth-Key", storeAuthKey)

	httpResponse, err = httpClient.Do(httpRequest)
	if nil != err {
		fmt.Printf("httpClient.Do(httpRequest) failed: %v\n", err)
		os.Exit(1)
	}

	_, err = ioutil.ReadAll(httpResponse.Body)
	if nil != err {
		fmt.Printf("ioutil.ReadAll(httpResponse.Body) failed: %v\n", err)
		os.Exit(1)
	}

	if (httpResponse.StatusCode < 200) || (httpResponse.StatusCode > 299) {
		fmt.Printf("httpResponse.Status unexpected: %v\n", httpResponse.Status)
		os.Exit(1)
	}

	swiftAuthToken = httpResponse.Header.Get("X-Auth-Token")
	swiftStorageURL = httpResponse.Header.Get("X-Storage-Url")

	if ("" == swiftAuthToken) || ("" == swiftStorageURL) {
		fmt.Printf("GET /auth/v1.0 response missing X-Auth-Token and/or X-Storage-Url\n")
		os.Exit(1)
	}
}

// storeRequest performs one authenticated request against the store,
// exiting on transport errors. The response body has already been read
// in full; HTTP status interpretation is left to the caller.
func storeRequest(method string, url string, objectOp string, contentRange string, requestBody []byte) (httpResponse *http.Response, responseBody []byte) {
	var (
		err         error
		httpRequest *http.Request
	)

	if nil == requestBody {
		httpRequest, err = http.NewRequest(method, url, nil)
	} else {
		httpRequest, err = http.NewRequest(method, url, bytes.NewReader(requestBody))
	}
	if nil != err {
		fmt.Printf("http.NewRequest(\"%s\", \"%s\",) failed: %v\n", method, url, err)
		os.Exit(1)
	}

	httpRequest.Header.Add("User-Agent", httpUserAgent)
	httpRequest.Header.Add("X-Auth-Token", swiftAuthToken)
	if "" != objectOp {
		httpRequest.Header.Add("X-Object-Op", objectOp)
	}
	if "" != contentRange {
		httpRequest.Header.Add("Content-Range", contentRange)
	}

	httpResponse, err = httpClient.Do(httpRequest)
	if nil != err {
		fmt.Printf("httpClient.Do(%s %s) failed: %v\n", method, url, err)
		os.Exit(1)
	}

	responseBody, err = ioutil.ReadAll(httpResponse.Body)
	if nil != err {
		fmt.Printf("ioutil.ReadAll(httpResponse.Body) failed: %v\n", err)
		os.Exit(1)
	}

	return
}

// volumeHeaderFetch GETs and unmarshals the volume header object,
// verifying it names the configured volume.
func volumeHeaderFetch() (volumeHeader *vlayout.VolumeHeaderV1Struct) {
	var (
		err          error
		httpResponse *http.Response
		responseBody []byte
	)

	httpResponse, responseBody = storeRequest("GET", headerObjectURL, "", "", nil)
	if http.StatusNotFound == httpResponse.StatusCode {
		fmt.Printf("pool %s holds no volume header object (\"ivoladm format\" first?)\n", storePool)
		os.Exit(1)
	}
	if (httpResponse.StatusCode < 200) || (httpResponse.StatusCode > 299) {
		fmt.Printf("GET %s returned unexpected status: %v\n", headerObjectURL, httpResponse.Status)
		os.Exit(1)
	}

	volumeHeader, err = vlayout.UnmarshalVolumeHeaderV1(responseBody)
	if nil != err {
		fmt.Printf("vlayout.UnmarshalVolumeHeaderV1(responseBody) failed: %v\n", err)
		os.Exit(1)
	}

	if volumeHeader.VolumeName != volumeName {
		fmt.Printf("volume header names \"%s\" but [IBLOCK]VolumeName is \"%s\"\n", volumeHeader.VolumeName, volumeName)
		os.Exit(1)
	}

	return
}

// volumeHeaderStore marshals and PUTs the (whole) volume header object.
func volumeHeaderStore(volumeHeader *vlayout.VolumeHeaderV1Struct) {
	var (
		err             error
		httpResponse    *http.Response
		volumeHeaderBuf []byte
	)

	volumeHeaderBuf, err = volumeHeader.MarshalVolumeHeaderV1()
	if nil != err {
		fmt.Printf("volumeHeader.MarshalVolumeHeaderV1() failed: %v\n", err)
		os.Exit(1)
	}

	httpResponse, _ = storeRequest("PUT", headerObjectURL, "", "", volumeHeaderBuf)
	if (httpResponse.StatusCode < 200) || (httpResponse.StatusCode > 299) {
		fmt.Printf("PUT %s returned unexpected status: %v\n", headerObjectURL, httpResponse.Status)
		os.Exit(1)
	}
}

func commandFormat(args []string) {
	var (
		err          error
		httpResponse *http.Response
		objectOrder  uint64
		size         uint64
		volumeHeader *vlayout.VolumeHeaderV1Struct
	)

	if (1 != len(args)) && (2 != len(args)) {
		usage()
	}

	size, err = strconv.ParseUint(args[0], 10, 64)
	if (nil != err) || (0 == size) {
		fmt.Printf("format <size-in-bytes> must be a positive integer (got \"%s\")\n", args[0])
		os.Exit(1)
	}

	if 2 == len(args) {
		objectOrder, err = strconv.ParseUint(args[1], 10, 64)
		if (nil != err) || (objectOrder < formatObjectOrderMin) || (objectOrder > formatObjectOrderMax) {
			fmt.Printf("format <object-order> must be an integer in [%v,%v] (got \"%s\")\n", formatObjectOrderMin, formatObjectOrderMax, args[1])
			os.Exit(1)
		}
	} else {
		objectOrder = formatObjectOrderDefault
	}

	if uint64(len(volumeName)) > vlayout.MaxNameLen {
		fmt.Printf("[IBLOCK]VolumeName length (%v) exceeds vlayout.MaxNameLen (%v)\n", len(volumeName), vlayout.MaxNameLen)
		os.Exit(1)
	}

	httpResponse, _ = storeRequest("PUT", poolURL, "", "", nil)
	if (httpResponse.StatusCode < 200) || (httpResponse.StatusCode > 299) {
		fmt.Printf("PUT %s returned unexpected status: %v\n", poolURL, httpResponse.Status)
		os.Exit(1)
	}

	httpResponse, _ = storeRequest("GET", headerObjectURL, "", "", nil)
	if http.StatusNotFound != httpResponse.StatusCode {
		if (httpResponse.StatusCode >= 200) && (httpResponse.StatusCode <= 299) {
			fmt.Printf("pool %s already holds a volume header object (\"ivoladm destroy\" first)\n", storePool)
		} else {
			fmt.Printf("GET %s returned unexpected status: %v\n", headerObjectURL, httpResponse.Status)
		}
		os.Exit(1)
	}

	volumeHeader = &vlayout.VolumeHeaderV1Struct{
		VolumeName:       volumeName,
		Size:             size,
		ObjectOrder:      objectOrder,
		ReadOnly:         false,
		SnapPinID:        0,
		HeaderGeneration: 1,
		CreateTime:       time.Now(),
		SnapshotTable:    make([]vlayout.SnapshotRecordV1Struct, 0),
	}

	volumeHeaderStore(volumeHeader)

	fmt.Printf("formatted volume \"%s\" in pool %s: %v bytes, %v byte objects\n", volumeName, storePool, size, uint64(1)<<objectOrder)
}

func commandDestroy(args []string) {
	var (
		httpResponse *http.Response
		objectName   string
		objectNames  []string
		responseBody []byte
	)

	if 0 != len(args) {
		usage()
	}

ReFetchObjectNameList:

	httpResponse, responseBody = storeRequest("GET", poolURL, "", "", nil)
	if http.StatusNotFound == httpResponse.StatusCode {
		fmt.Printf("pool %s not found\n", storePool)
		return
	}
	if (httpResponse.StatusCode < 200) || (httpResponse.StatusCode > 299) {
		fmt.Printf("GET %s returned unexpected status: %v\n", poolURL, httpResponse.Status)
		os.Exit(1)
	}

	objectNames = strings.Fields(string(responseBody[:]))

	if 0 == len(objectNames) {
		httpResponse, _ = storeRequest("DELETE", poolURL, "", "", nil)
		if (httpResponse.StatusCode < 200) || (httpResponse.StatusCode > 299) {
			fmt.Printf("DELETE %s returned unexpected status: %v\n", poolURL, httpResponse.Status)
			os.Exit(1)
		}

		fmt.Printf("destroyed volume pool %s\n", storePool)
		return
	}

	for _, objectName = range objectNames {
		httpResponse, _ = storeRequest("DELETE", poolURL+"/"+objectName, "", "", nil)
		if (httpResponse.StatusCode < 200) || (httpResponse.StatusCode > 299) {
			fmt.Printf("DELETE %s returned unexpected status: %v\n", poolURL+"/"+objectName, httpResponse.Status)
			os.Exit(1)
		}
	}

	goto ReFetchObjectNameList
}

func commandResize(args []string) {
	var (
		err          error
		newSize      uint64
		oldSize      uint64
		volumeHeader *vlayout.VolumeHeaderV1Struct
	)

	if 1 != len(args) {
		usage()
	}

	newSize, err = strconv.ParseUint(args[0], 10, 64)
	if (nil != err) || (0 == newSize) {
		fmt.Printf("resize <size-in-bytes> must be a positive integer (got \"%s\")\n", args[0])
		os.Exit(1)
	}

	volumeHeader = volumeHeaderFetch()

	if 0 != volumeHeader.SnapPinID {
		fmt.Printf("volume \"%s\" is pinned to snapshot id %v (\"ivoladm snap-unpin\" first)\n", volumeName, volumeHeader.SnapPinID)
		os.Exit(1)
	}

	oldSize = volumeHeader.Size

	if newSize == oldSize {
		fmt.Printf("volume \"%s\" is already %v bytes\n", volumeName, newSize)
		return
	}

	volumeHeader.Size = newSize
	volumeHeader.HeaderGeneration++

	volumeHeaderStore(volumeHeader)

	if newSize < oldSize {
		trimDataObjects(newSize, volumeHeader.ObjectOrder)
	}

	fmt.Printf("resized volume \"%s\": %v -> %v bytes\n", volumeName, oldSize, newSize)
}

// trimDataObjects removes data objects wholly beyond the shrunken
// volume size and zeroes the stale tail of the boundary object, so a
// later re-grow reads zeroes rather than the discarded contents. The
// shrunken header is published first; clients still draining writes
// validated against the old size may leave garbage behind, which the
// next shrink or destroy removes.
func trimDataObjects(newSize uint64, objectOrder uint64) {
	var (
		boundaryObjectLength  uint64
		boundaryObjectOffset  uint64
		boundaryObjectURL     string
		err                   error
		firstDeadObjectNumber uint64
		httpResponse          *http.Response
		objectName            string
		objectNumber          uint64
		responseBody          []byte
	)

	firstDeadObjectNumber = vlayout.DataObjectNumber(newSize, objectOrder)
	boundaryObjectOffset = vlayout.DataObjectOffset(newSize, objectOrder)
	if 0 != boundaryObjectOffset {
		firstDeadObjectNumber++
	}

	httpResponse, responseBody = storeRequest("GET", poolURL, "", "", nil)
	if (httpResponse.StatusCode < 200) || (httpResponse.StatusCode > 299) {
		fmt.Printf("GET %s returned unexpected status: %v\n", poolURL, httpResponse.Status)
		os.Exit(1)
	}

	for _, objectName = range strings.Fields(string(responseBody[:])) {
		objectNumber, err = strconv.ParseUint(objectName, 16, 64)
		if nil != err {
			fmt.Printf("pool %s contains unparseable object name \"%s\"\n", storePool, objectName)
			os.Exit(1)
		}

		if (vlayout.VolumeHeaderObjectNumber != objectNumber) && (objectNumber >= firstDeadObjectNumber) {
			httpResponse, _ = storeRequest("DELETE", poolURL+"/"+objectName, "", "", nil)
			if (httpResponse.StatusCode < 200) || (httpResponse.StatusCode > 299) {
				fmt.Printf("DELETE %s returned unexpected status: %v\n", poolURL+"/"+objectName, httpResponse.Status)
				os.Exit(1)
			}
		}
	}

	if 0 == boundaryObjectOffset {
		return
	}

	boundaryObjectURL = poolURL + "/" + vlayout.ObjectName(firstDeadObjectNumber-1)

	httpResponse, _ = storeRequest("HEAD", boundaryObjectURL, "", "", nil)
	if http.StatusNotFound == httpResponse.StatusCode {
		return
	}
	if (httpResponse.StatusCode < 200) || (httpResponse.StatusCode > 299) {
		fmt.Printf("HEAD %s returned unexpected status: %v\n", boundaryObjectURL, httpResponse.Status)
		os.Exit(1)
	}
	if 0 > httpResponse.ContentLength {
		fmt.Printf("HEAD %s returned no Content-Length\n", boundaryObjectURL)
		os.Exit(1)
	}

	boundaryObjectLength = uint64(httpResponse.ContentLength)

	if boundaryObjectLength <= boundaryObjectOffset {
		return
	}

	httpResponse, _ = storeRequest("POST", boundaryObjectURL, "zero", fmt.Sprintf("bytes %d-%d/*", boundaryObjectOffset, boundaryObjectLength-1), nil)
	if (httpResponse.StatusCode < 200) || (httpResponse.StatusCode > 299) {
		fmt.Printf("POST %s (X-Object-Op: zero) returned unexpected status: %v\n", boundaryObjectURL, httpResponse.Status)
		os.Exit(1)
	}
}

func commandSnapCreate(args []string) {
	var (
		name           string
		nextSnapID     uint64
		snapshotRecord vlayout.SnapshotRecordV1Struct
		volumeHeader   *vlayout.VolumeHeaderV1Struct
	)

	if 1 != len(args) {
		usage()
	}

	name = args[0]
	if "" == name {
		fmt.Printf("snap-create <name> must be non-empty\n")
		os.Exit(1)
	}
	if uint64(len(name)) > vlayout.MaxNameLen {
		fmt.Printf("snap-create <name> length (%v) exceeds vlayout.MaxNameLen (%v)\n", len(name), vlayout.MaxNameLen)
		os.Exit(1)
	}

	volumeHeader = volumeHeaderFetch()

	nextSnapID = 0
	for _, snapshotRecord = range volumeHeader.SnapshotTable {
		if name == snapshotRecord.Name {
			fmt.Printf("volume \"%s\" already has a snapshot named \"%s\" (snap id %v)\n", volumeName, name, snapshotRecord.SnapID)
			os.Exit(1)
		}
		if snapshotRecord.SnapID > nextSnapID {
			nextSnapID = snapshotRecord.SnapID
		}
	}
	nextSnapID++

	volumeHeader.SnapshotTable = append(volumeHeader.SnapshotTable, vlayout.SnapshotRecordV1Struct{
		SnapID:     nextSnapID,
		Name:       name,
		Size:       volumeHeader.Size,
		CreateTime: time.Now(),
	})
	volumeHeader.HeaderGeneration++

	volumeHeaderStore(volumeHeader)

	fmt.Printf("created snapshot \"%s\" (snap id %v) of volume \"%s\"\n", name, nextSnapID, volumeName)
}

func commandSnapRemove(args []string) {
	var (
		name          string
		removedSnapID uint64
		snapshotFound bool
		snapshotIndex int
		volumeHeader  *vlayout.VolumeHeaderV1Struct
	)

	if 1 != len(args) {
		usage()
	}

	name = args[0]

	volumeHeader = volumeHeaderFetch()

	snapshotFound = false
	for snapshotIndex = range volumeHeader.SnapshotTable {
		if name == volumeHeader.SnapshotTable[snapshotIndex].Name {
			snapshotFound = true
			break
		}
	}
	if !snapshotFound {
		fmt.Printf("volume \"%s\" has no snapshot named \"%s\"\n", volumeName, name)
		os.Exit(1)
	}

	removedSnapID = volumeHeader.SnapshotTable[snapshotIndex].SnapID

	if volumeHeader.SnapPinID == removedSnapID {
		fmt.Printf("snapshot \"%s\" is pinned by volume \"%s\" (\"ivoladm snap-unpin\" first)\n", name, volumeName)
		os.Exit(1)
	}

	volumeHeader.SnapshotTable = append(volumeHeader.SnapshotTable[:snapshotIndex], volumeHeader.SnapshotTable[snapshotIndex+1:]...)
	volumeHeader.HeaderGeneration++

	volumeHeaderStore(volumeHeader)

	fmt.Printf("removed snapshot \"%s\" (snap id %v) from volume \"%s\"\n", name, removedSnapID, volumeName)
}

func commandSnapPin(args []string) {
	var (
		name          string
		pinnedSnapID  uint64
		snapshotFound bool
		snapshotIndex int
		volumeHeader  *vlayout.VolumeHeaderV1Struct
	)

	if 1 != len(args) {
		usage()
	}

	name = args[0]

	volumeHeader = volumeHeaderFetch()

	snapshotFound = false
	for snapshotIndex = range volumeHeader.SnapshotTable {
		if name == volumeHeader.SnapshotTable[snapshotIndex].Name {
			snapshotFound = true
			break
		}
	}
	if !snapshotFound {
		fmt.Printf("volume \"%s\" has no snapshot named \"%s\"\n", volumeName, name)
		os.Exit(1)
	}

	pinnedSnapID = volumeHeader.SnapshotTable[snapshotIndex].SnapID

	if volumeHeader.SnapPinID == pinnedSnapID {
		fmt.Printf("volume \"%s\" is already pinned to snapshot \"%s\" (snap id %v)\n", volumeName, name, pinnedSnapID)
		return
	}

	volumeHeader.SnapPinID = pinnedSnapID
	volumeHeader.HeaderGeneration++

	volumeHeaderStore(volumeHeader)

	fmt.Printf("pinned volume \"%s\" to snapshot \"%s\" (snap id %v); clients now serve it read-only\n", volumeName, name, pinnedSnapID)
}

func commandSnapUnpin(args []string) {
	var (
		volumeHeader *vlayout.VolumeHeaderV1Struct
	)

	if 0 != len(args) {
		usage()
	}

	volumeHeader = volumeHeaderFetch()

	if 0 == volumeHeader.SnapPinID {
		fmt.Printf("volume \"%s\" is not pinned to a snapshot\n", volumeName)
		return
	}

	volumeHeader.SnapPinID = 0
	volumeHeader.HeaderGeneration++

	volumeHeaderStore(volumeHeader)

	fmt.Printf("unpinned volume \"%s\"\n", volumeName)
}

func commandReadOnly(args []string) {
	var (
		readOnly     bool
		volumeHeader *vlayout.VolumeHeaderV1Struct
	)

	if 1 != len(args) {
		usage()
	}

	switch args[0] {
	case "on":
		readOnly = true
	case "off":
		readOnly = false
	default:
		usage()
	}

	volumeHeader = volumeHeaderFetch()

	if volumeHeader.ReadOnly == readOnly {
		if readOnly {
			fmt.Printf("volume \"%s\" is already read-only\n", volumeName)
		} else {
			fmt.Printf("volume \"%s\" is already writable\n", volumeName)
		}
		return
	}

	volumeHeader.ReadOnly = readOnly
	volumeHeader.HeaderGeneration++

	volumeHeaderStore(volumeHeader)

	if readOnly {
		fmt.Printf("volume \"%s\" is now read-only\n", volumeName)
	} else {
		fmt.Printf("volume \"%s\" is now writable\n", volumeName)
	}
}

func commandStatus(args []string) {
	var (
		snapshotRecord vlayout.SnapshotRecordV1Struct
		volumeHeader   *vlayout.VolumeHeaderV1Struct
	)

	if 0 != len(args) {
		usage()
	}

	volumeHeader = volumeHeaderFetch()

	fmt.Printf("Volume:           %s\n", volumeHeader.VolumeName)
	fmt.Printf("Pool:             %s\n", storePool)
	fmt.Printf("Size:             %v\n", volumeHeader.Size)
	fmt.Printf("ObjectOrder:      %v (%v byte objects)\n", volumeHeader.ObjectOrder, uint64(1)<<volumeHeader.ObjectOrder)
	fmt.Printf("ReadOnly:         %v\n", volumeHeader.ReadOnly)
	if 0 == volumeHeader.SnapPinID {
		fmt.Printf("SnapPinID:        0 (not pinned)\n")
	} else {
		fmt.Printf("SnapPinID:        %v\n", volumeHeader.SnapPinID)
	}
	fmt.Printf("HeaderGeneration: %v\n", volumeHeader.HeaderGeneration)
	fmt.Printf("CreateTime:       %s\n", volumeHeader.CreateTime.Format(time.RFC3339))
	fmt.Printf("Snapshots:        %v\n", len(volumeHeader.SnapshotTable))
	for _, snapshotRecord = range volumeHeader.SnapshotTable {
		fmt.Printf("  %8v  %12v  %s  %s\n", snapshotRecord.SnapID, snapshotRecord.Size, snapshotRecord.CreateTime.Format(time.RFC3339), snapshotRecord.Name)
	}
}

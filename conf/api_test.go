// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package conf

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMakeConfMapFromStrings(t *testing.T) {
	var (
		confMap ConfMap
		err     error
	)

	confMap, err = MakeConfMapFromStrings([]string{
		"TestSection.IPAddr=127.0.0.1",
		"TestSection.Port=33123",
		"TestSection.RetryDelay=100ms",
		"TestSection.RetryExpBackoff=1.5",
		"TestSection.RetryLimit=4",
		"TestSection.TraceEnabled=false",
		"TestSection.PoolList=poolA,poolB,poolC",
		"TestSection.LogFilePath=",
	})
	require.NoError(t, err)

	ipAddr, err := confMap.FetchOptionValueString("TestSection", "IPAddr")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", ipAddr)

	port, err := confMap.FetchOptionValueUint16("TestSection", "Port")
	require.NoError(t, err)
	require.Equal(t, uint16(33123), port)

	retryDelay, err := confMap.FetchOptionValueDuration("TestSection", "RetryDelay")
	require.NoError(t, err)
	require.Equal(t, 100*time.Millisecond, retryDelay)

	retryExpBackoff, err := confMap.FetchOptionValueFloat64("TestSection", "RetryExpBackoff")
	require.NoError(t, err)
	require.Equal(t, 1.5, retryExpBackoff)

	retryLimit, err := confMap.FetchOptionValueUint32("TestSection", "RetryLimit")
	require.NoError(t, err)
	require.Equal(t, uint32(4), retryLimit)

	traceEnabled, err := confMap.FetchOptionValueBool("TestSection", "TraceEnabled")
	require.NoError(t, err)
	require.False(t, traceEnabled)

	poolList, err := confMap.FetchOptionValueStringSlice("TestSection", "PoolList")
	require.NoError(t, err)
	require.Equal(t, []string{"poolA", "poolB", "poolC"}, poolList)

	require.NoError(t, confMap.VerifyOptionValueIsEmpty("TestSection", "LogFilePath"))
	require.Error(t, confMap.VerifyOptionValueIsEmpty("TestSection", "IPAddr"))

	require.NoError(t, confMap.VerifyOptionIsMissing("TestSection", "NoSuchOption"))
	require.NoError(t, confMap.VerifyOptionIsMissing("NoSuchSection", "NoSuchOption"))
	require.Error(t, confMap.VerifyOptionIsMissing("TestSection", "IPAddr"))

	_, err = confMap.FetchOptionValueString("TestSection", "PoolList")
	require.Error(t, err, "multi-valued option must not satisfy FetchOptionValueString")

	_, err = confMap.FetchOptionValueUint16("TestSection", "IPAddr")
	require.Error(t, err)
}

func TestUpdateFromStrings(t *testing.T) {
	var (
		confMap ConfMap
		err     error
	)

	confMap, err = MakeConfMapFromStrings([]string{
		"TestSection.Port=33123",
	})
	require.NoError(t, err)

	err = confMap.UpdateFromStrings([]string{
		"TestSection.Port=33124",
		"OtherSection.Name=volA",
	})
	require.NoError(t, err)

	port, err := confMap.FetchOptionValueUint16("TestSection", "Port")
	require.NoError(t, err)
	require.Equal(t, uint16(33124), port)

	name, err := confMap.FetchOptionValueString("OtherSection", "Name")
	require.NoError(t, err)
	require.Equal(t, "volA", name)

	require.Error(t, confMap.UpdateFromString("MissingEquals"))
	require.Error(t, confMap.UpdateFromString("MissingPeriod=Value"))
}

func TestMakeConfMapFromFile(t *testing.T) {
	var (
		confFileContents string
		confFilePath     string
		confMap          ConfMap
		err              error
		tempDirPath      string
	)

	confFileContents = `# Sample .conf file
[IBLOCK]
VolumeName:       testvol
EngineWorkerCount: 8       # sized with the store connection pool in mind
LogFilePath:
; alternate comment style
[ISTORE]
IPAddr:           127.0.0.1
Port:             33131
`

	tempDirPath, err = ioutil.TempDir("", "conf_test")
	require.NoError(t, err)
	defer func() {
		_ = os.RemoveAll(tempDirPath)
	}()

	confFilePath = filepath.Join(tempDirPath, "test.conf")

	err = ioutil.WriteFile(confFilePath, []byte(confFileContents), 0644)
	require.NoError(t, err)

	confMap, err = MakeConfMapFromFile(confFilePath)
	require.NoError(t, err)

	volumeName, err := confMap.FetchOptionValueString("IBLOCK", "VolumeName")
	require.NoError(t, err)
	require.Equal(t, "testvol", volumeName)

	engineWorkerCount, err := confMap.FetchOptionValueUint32("IBLOCK", "EngineWorkerCount")
	require.NoError(t, err)
	require.Equal(t, uint32(8), engineWorkerCount)

	require.NoError(t, confMap.VerifyOptionValueIsEmpty("IBLOCK", "LogFilePath"))

	port, err := confMap.FetchOptionValueUint16("ISTORE", "Port")
	require.NoError(t, err)
	require.Equal(t, uint16(33131), port)

	_, err = MakeConfMapFromFile(filepath.Join(tempDirPath, "no_such.conf"))
	require.Error(t, err)
}

// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package conf provides a simple .conf file format parser and accessor.
//
// A .conf file is a line-oriented text file of the form:
//
//  # Comment lines begin with '#' (';' is also accepted)
//
//  [SectionName]
//  OptionName:          Value1, Value2      # Trailing comments are stripped
//  EmptyValuedOption:
//
// Each option holds a list of zero or more string values. Typed accessors
// (FetchOptionValue*) convert a single-valued option to the requested type.
//
// A ConfMap may also be constructed from (or updated by) strings of the
// form "SectionName.OptionName=Value1,Value2" as typically supplied on a
// program's command line following the .conf file path argument.
package conf

import (
	"fmt"
	"io/ioutil"
	"strconv"
	"strings"
	"time"
)

type ConfMapOption []string

type ConfMapSection map[string]ConfMapOption

type ConfMap map[string]ConfMapSection

// MakeConfMapFromFile returns a ConfMap loaded from the .conf file at the
// supplied path.
func MakeConfMapFromFile(confFilePath string) (confMap ConfMap, err error) {
	var (
		confFileBytes []byte
	)

	confFileBytes, err = ioutil.ReadFile(confFilePath)
	if nil != err {
		err = fmt.Errorf("unable to read confFilePath %s: %v", confFilePath, err)
		return
	}

	confMap = make(ConfMap)

	err = confMap.updateFromFileContents(string(confFileBytes[:]))
	if nil != err {
		confMap = nil
		return
	}

	err = nil
	return
}

// MakeConfMapFromStrings returns a ConfMap built from the supplied slice of
// "SectionName.OptionName=Value1,Value2,..." strings.
func MakeConfMapFromStrings(confStrings []string) (confMap ConfMap, err error) {
	confMap = make(ConfMap)

	err = confMap.UpdateFromStrings(confStrings)
	if nil != err {
		confMap = nil
		return
	}

	err = nil
	return
}

// UpdateFromString applies a single "SectionName.OptionName=Value1,..."
// string to the ConfMap, replacing any prior value list for that option.
func (confMap ConfMap) UpdateFromString(confString string) (err error) {
	var (
		confMapSection     ConfMapSection
		equalsSplit        []string
		ok                 bool
		optionName         string
		optionValues       ConfMapOption
		optionValuesJoined string
		periodSplit        []string
		sectionName        string
		value              string
	)

	equalsSplit = strings.SplitN(confString, "=", 2)
	if 2 != len(equalsSplit) {
		err = fmt.Errorf("confString %q missing '='", confString)
		return
	}

	periodSplit = strings.SplitN(strings.TrimSpace(equalsSplit[0]), ".", 2)
	if 2 != len(periodSplit) {
		err = fmt.Errorf("confString %q missing '.' preceding '='", confString)
		return
	}

	sectionName = strings.TrimSpace(periodSplit[0])
	optionName = strings.TrimSpace(periodSplit[1])

	if ("" == sectionName) || ("" == optionName) {
		err = fmt.Errorf("confString %q contained empty SectionName or OptionName", confString)
		return
	}

	optionValues = make(ConfMapOption, 0)

	optionValuesJoined = strings.TrimSpace(equalsSplit[1])

	if "" != optionValuesJoined {
		for _, value = range strings.Split(optionValuesJoined, ",") {
			optionValues = append(optionValues, strings.TrimSpace(value))
		}
	}

	confMapSection, ok = confMap[sectionName]
	if !ok {
		confMapSection = make(ConfMapSection)
		confMap[sectionName] = confMapSection
	}

	confMapSection[optionName] = optionValues

	err = nil
	return
}

// UpdateFromStrings applies each of the supplied
// "SectionName.OptionName=Value1,..." strings to the ConfMap in order.
func (confMap ConfMap) UpdateFromStrings(confStrings []string) (err error) {
	var (
		confString string
	)

	for _, confString = range confStrings {
		err = confMap.UpdateFromString(confString)
		if nil != err {
			return
		}
	}

	err = nil
	return
}

// FetchOptionValueStringSlice returns the option's value list verbatim.
func (confMap ConfMap) FetchOptionValueStringSlice(sectionName string, optionName string) (optionValueSlice []string, err error) {
	var (
		confMapSection ConfMapSection
		ok             bool
		optionValues   ConfMapOption
	)

	confMapSection, ok = confMap[sectionName]
	if !ok {
		err = fmt.Errorf("[%s] missing", sectionName)
		return
	}

	optionValues, ok = confMapSection[optionName]
	if !ok {
		err = fmt.Errorf("[%s]%s missing", sectionName, optionName)
		return
	}

	optionValueSlice = []string(optionValues)

	err = nil
	return
}

// FetchOptionValueString returns the option's single value. An option with
// zero or multiple values returns an error.
func (confMap ConfMap) FetchOptionValueString(sectionName string, optionName string) (optionValue string, err error) {
	var (
		optionValueSlice []string
	)

	optionValueSlice, err = confMap.FetchOptionValueStringSlice(sectionName, optionName)
	if nil != err {
		return
	}

	if 1 != len(optionValueSlice) {
		err = fmt.Errorf("[%s]%s must have a single value", sectionName, optionName)
		return
	}

	optionValue = optionValueSlice[0]

	err = nil
	return
}

// FetchOptionValueBool returns the option's single value parsed as a bool.
func (confMap ConfMap) FetchOptionValueBool(sectionName string, optionName string) (optionValue bool, err error) {
	var (
		optionValueString string
	)

	optionValueString, err = confMap.FetchOptionValueString(sectionName, optionName)
	if nil != err {
		return
	}

	optionValue, err = strconv.ParseBool(optionValueString)
	if nil != err {
		err = fmt.Errorf("[%s]%s (\"%s\") not parseable as a bool: %v", sectionName, optionName, optionValueString, err)
		return
	}

	err = nil
	return
}

// FetchOptionValueUint16 returns the option's single value parsed as a uint16.
func (confMap ConfMap) FetchOptionValueUint16(sectionName string, optionName string) (optionValue uint16, err error) {
	var (
		optionValueAsUint64 uint64
		optionValueString   string
	)

	optionValueString, err = confMap.FetchOptionValueString(sectionName, optionName)
	if nil != err {
		return
	}

	optionValueAsUint64, err = strconv.ParseUint(optionValueString, 10, 16)
	if nil != err {
		err = fmt.Errorf("[%s]%s (\"%s\") not parseable as a uint16: %v", sectionName, optionName, optionValueString, err)
		return
	}

	optionValue = uint16(optionValueAsUint64)

	err = nil
	return
}

// FetchOptionValueUint32 returns the option's single value parsed as a uint32.
func (confMap ConfMap) FetchOptionValueUint32(sectionName string, optionName string) (optionValue uint32, err error) {
	var (
		optionValueAsUint64 uint64
		optionValueString   string
	)

	optionValueString, err = confMap.FetchOptionValueString(sectionName, optionName)
	if nil != err {
		return
	}

	optionValueAsUint64, err = strconv.ParseUint(optionValueString, 10, 32)
	if nil != err {
		err = fmt.Errorf("[%s]%s (\"%s\") not parseable as a uint32: %v", sectionName, optionName, optionValueString, err)
		return
	}

	optionValue = uint32(optionValueAsUint64)

	err = nil
	return
}

// FetchOptionValueUint64 returns the option's single value parsed as a uint64.
func (confMap ConfMap) FetchOptionValueUint64(sectionName string, optionName string) (optionValue uint64, err error) {
	var (
		optionValueString string
	)

	optionValueString, err = confMap.FetchOptionValueString(sectionName, optionName)
	if nil != err {
		return
	}

	optionValue, err = strconv.ParseUint(optionValueString, 10, 64)
	if nil != err {
		err = fmt.Errorf("[%s]%s (\"%s\") not parseable as a uint64: %v", sectionName, optionName, optionValueString, err)
		return
	}

	err = nil
	return
}

// FetchOptionValueFloat64 returns the option's single value parsed as a float64.
func (confMap ConfMap) FetchOptionValueFloat64(sectionName string, optionName string) (optionValue float64, err error) {
	var (
		optionValueString string
	)

	optionValueString, err = confMap.FetchOptionValueString(sectionName, optionName)
	if nil != err {
		return
	}

	optionValue, err = strconv.ParseFloat(optionValueString, 64)
	if nil != err {
		err = fmt.Errorf("[%s]%s (\"%s\") not parseable as a float64: %v", sectionName, optionName, optionValueString, err)
		return
	}

	err = nil
	return
}

// FetchOptionValueDuration returns the option's single value parsed as a
// time.Duration (e.g. "100ms", "10s", "5m").
func (confMap ConfMap) FetchOptionValueDuration(sectionName string, optionName string) (optionValue time.Duration, err error) {
	var (
		optionValueString string
	)

	optionValueString, err = confMap.FetchOptionValueString(sectionName, optionName)
	if nil != err {
		return
	}

	optionValue, err = time.ParseDuration(optionValueString)
	if nil != err {
		err = fmt.Errorf("[%s]%s (\"%s\") not parseable as a time.Duration: %v", sectionName, optionName, optionValueString, err)
		return
	}

	err = nil
	return
}

// VerifyOptionIsMissing returns nil if (and only if) the option is entirely
// absent from the ConfMap.
func (confMap ConfMap) VerifyOptionIsMissing(sectionName string, optionName string) (err error) {
	var (
		confMapSection ConfMapSection
		ok             bool
	)

	confMapSection, ok = confMap[sectionName]
	if !ok {
		err = nil
		return
	}

	_, ok = confMapSection[optionName]
	if ok {
		err = fmt.Errorf("[%s]%s present", sectionName, optionName)
		return
	}

	err = nil
	return
}

// VerifyOptionValueIsEmpty returns nil if (and only if) the option is
// present but holds no values.
func (confMap ConfMap) VerifyOptionValueIsEmpty(sectionName string, optionName string) (err error) {
	var (
		optionValueSlice []string
	)

	optionValueSlice, err = confMap.FetchOptionValueStringSlice(sectionName, optionName)
	if nil != err {
		return
	}

	if 0 != len(optionValueSlice) {
		err = fmt.Errorf("[%s]%s non-empty", sectionName, optionName)
		return
	}

	err = nil
	return
}

func (confMap ConfMap) updateFromFileContents(confFileContents string) (err error) {
	var (
		colonSplit         []string
		commentIndex       int
		confFileLine       string
		confFileLineNumber int
		currentSectionName string
		ok                 bool
		optionName         string
		optionValues       ConfMapOption
		optionValuesJoined string
		value              string
	)

	currentSectionName = ""

	for confFileLineNumber, confFileLine = range strings.Split(confFileContents, "\n") {
		commentIndex = strings.IndexAny(confFileLine, "#;")
		if commentIndex >= 0 {
			confFileLine = confFileLine[:commentIndex]
		}

		confFileLine = strings.TrimSpace(confFileLine)

		if "" == confFileLine {
			continue
		}

		if strings.HasPrefix(confFileLine, "[") {
			if !strings.HasSuffix(confFileLine, "]") {
				err = fmt.Errorf("line %d: section header %q missing ']'", confFileLineNumber+1, confFileLine)
				return
			}

			currentSectionName = strings.TrimSpace(confFileLine[1 : len(confFileLine)-1])
			if "" == currentSectionName {
				err = fmt.Errorf("line %d: empty SectionName", confFileLineNumber+1)
				return
			}

			_, ok = confMap[currentSectionName]
			if !ok {
				confMap[currentSectionName] = make(ConfMapSection)
			}

			continue
		}

		if "" == currentSectionName {
			err = fmt.Errorf("line %d: option line %q precedes any section header", confFileLineNumber+1, confFileLine)
			return
		}

		colonSplit = strings.SplitN(confFileLine, ":", 2)
		if 2 != len(colonSplit) {
			err = fmt.Errorf("line %d: option line %q missing ':'", confFileLineNumber+1, confFileLine)
			return
		}

		optionName = strings.TrimSpace(colonSplit[0])
		if "" == optionName {
			err = fmt.Errorf("line %d: empty OptionName", confFileLineNumber+1)
			return
		}

		optionValues = make(ConfMapOption, 0)

		optionValuesJoined = strings.TrimSpace(colonSplit[1])

		if "" != optionValuesJoined {
			for _, value = range strings.Split(optionValuesJoined, ",") {
				optionValues = append(optionValues, strings.TrimSpace(value))
			}
		}

		confMap[currentSectionName][optionName] = optionValues
	}

	err = nil
	return
}

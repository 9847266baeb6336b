// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iblockpkg

import (
	"io"
	"io/ioutil"
	"log"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

func initLogger() {
	globals.logger = logrus.New()
	globals.logger.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339Nano,
	})
	globals.logger.SetLevel(logrus.InfoLevel)
	globals.logger.SetOutput(os.Stderr)
}

func updateLogger() {
	var (
		err error
	)

	if "" == globals.config.LogFilePath {
		globals.logFile = nil
	} else {
		globals.logFile, err = os.OpenFile(globals.config.LogFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0666)
		if nil != err {
			globals.logger.Fatalf("os.OpenFile(\"%s\",,) failed: %v", globals.config.LogFilePath, err)
		}
	}

	if globals.config.TraceEnabled {
		globals.logger.SetLevel(logrus.TraceLevel)
	} else {
		globals.logger.SetLevel(logrus.InfoLevel)
	}

	updateLogOutput()
}

func updateLogOutput() {
	var (
		writers []io.Writer
	)

	if nil != globals.logFile {
		writers = append(writers, globals.logFile)
	}
	if globals.config.LogToConsole {
		writers = append(writers, os.Stderr)
	}

	switch len(writers) {
	case 0:
		globals.logger.SetOutput(ioutil.Discard)
	case 1:
		globals.logger.SetOutput(writers[0])
	default:
		globals.logger.SetOutput(io.MultiWriter(writers...))
	}
}

func closeLogFile() {
	if nil != globals.logFile {
		_ = globals.logFile.Close()
		globals.logFile = nil
	}
}

func logFatal(err error) {
	globals.logger.Fatal(err)
}

func logFatalf(format string, args ...interface{}) {
	globals.logger.Fatalf(format, args...)
}

func logError(err error) {
	globals.logger.WithError(err).Error("error encountered")
}

func logErrorf(format string, args ...interface{}) {
	globals.logger.Errorf(format, args...)
}

func logWarn(err error) {
	globals.logger.WithError(err).Warn("warning encountered")
}

func logWarnf(format string, args ...interface{}) {
	globals.logger.Warnf(format, args...)
}

func logInfof(format string, args ...interface{}) {
	globals.logger.Infof(format, args...)
}

func logTracef(format string, args ...interface{}) {
	globals.logger.Tracef(format, args...)
}

func logSIGHUP() {
	if nil == globals.logFile {
		return
	}

	_ = globals.logFile.Close()

	globals.logFile, _ = os.OpenFile(globals.config.LogFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0666)

	updateLogOutput()
}

// newLogger adapts the package logger for package fission (which wants a
// stdlib *log.Logger).
func newLogger() *log.Logger {
	return log.New(&globals, "", 0)
}

func (dummy *globalsStruct) Write(p []byte) (n int, err error) {
	globals.logger.Infof("[FISSION] %s", strings.TrimSuffix(string(p[:]), "\n"))
	return len(p), nil
}

// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package blunder provides error annotation in the style long used by this
// codebase: each error carries an FsError (an errno) alongside the stack
// captured at annotation time (via package merry), so that failures can be
// surfaced to dispatch completions as negative errno result codes while
// remaining debuggable in the logs.
package blunder

import (
	"fmt"
	"syscall"

	"github.com/ansel1/merry"

	"golang.org/x/sys/unix"
)

// FsError is the errno class attached to an annotated error.
type FsError int

const (
	NotFoundError   = FsError(unix.ENOENT)
	IOError         = FsError(unix.EIO)
	TryAgainError   = FsError(unix.EAGAIN)
	ExistsError     = FsError(unix.EEXIST)
	InvalidArgError = FsError(unix.EINVAL)
	NotEmptyError   = FsError(unix.ENOTEMPTY)
	ReadOnlyError   = FsError(unix.EROFS)
	MismatchError   = FsError(unix.EILSEQ)
	TimedOutError   = FsError(unix.ETIMEDOUT)
	ShutdownError   = FsError(unix.ESHUTDOWN)
	NotPermError    = FsError(unix.EPERM)
	PermDeniedError = FsError(unix.EACCES)
)

type fsErrorKeyType string

const fsErrorKey = fsErrorKeyType("errno")

// String returns the symbolic errno name (e.g. "EROFS") of the FsError.
func (fsErr FsError) String() string {
	var (
		errnoName string
	)

	errnoName = unix.ErrnoName(syscall.Errno(fsErr))
	if "" == errnoName {
		errnoName = fmt.Sprintf("errno %d", int(fsErr))
	}

	return errnoName
}

// NewError constructs an error carrying the supplied FsError and a stack
// captured at the caller.
func NewError(errValue FsError, format string, args ...interface{}) (err error) {
	err = merry.WithValue(merry.WrapSkipping(fmt.Errorf(format, args...), 1), fsErrorKey, errValue)
	return
}

// AddError annotates (or re-annotates) an existing error with the supplied
// FsError, capturing a stack at the caller if one was not already present.
func AddError(e error, errValue FsError) (err error) {
	err = merry.WithValue(merry.WrapSkipping(e, 1), fsErrorKey, errValue)
	return
}

// Is returns whether the error carries the supplied FsError. A nil error
// carries no FsError.
func Is(e error, errValue FsError) bool {
	if nil == e {
		return false
	}

	return Errno(e) == int(errValue)
}

// IsNot is the negation of Is.
func IsNot(e error, errValue FsError) bool {
	return !Is(e, errValue)
}

// Errno returns the errno carried by the error: 0 for a nil error and
// IOError for an error never annotated via this package.
func Errno(e error) (errno int) {
	var (
		fsErr FsError
		ok    bool
	)

	if nil == e {
		errno = 0
		return
	}

	fsErr, ok = merry.Value(e, fsErrorKey).(FsError)
	if !ok {
		errno = int(IOError)
		return
	}

	errno = int(fsErr)
	return
}

// Details returns the error's message, attached values, and captured stack.
func Details(e error) string {
	return merry.Details(e)
}

// Stacktrace returns the stack captured when the error was annotated.
func Stacktrace(e error) string {
	return merry.Stacktrace(e)
}

// SourceLine returns the file:line captured when the error was annotated.
func SourceLine(e error) string {
	return merry.SourceLine(e)
}

// Copyright 2026 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoConfig          = errors.New("missing config")
	ErrNoSources         = errors.New("no sources configured")
	ErrAllocationFailed  = errors.New("shared memory allocation failed")
	ErrReleased          = errors.New("shared memory already released")
	ErrChannelClosed     = errors.New("result channel closed")
	ErrWorkerStartFailed = errors.New("worker failed to start")
	ErrSourceNotFound    = errors.New("source not found")
	ErrProfileNotFound   = errors.New("profile not found")
)

func New(err string) error {
	return errors.New(err)
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

func ErrCouldNotParseConfig(err error) error {
	return fmt.Errorf("could not parse config: %v", err)
}

func ErrInvalidConfig(field string) error {
	return fmt.Errorf("config has missing or invalid field: %s", field)
}

func ErrDuplicateName(name string) error {
	return fmt.Errorf("source name %q is used more than once", name)
}

func ErrFrameTooLarge(size, capacity int) error {
	return fmt.Errorf("frame of %d bytes exceeds buffer capacity of %d bytes", size, capacity)
}

func ErrInsufficientMemory(required, available uint64) error {
	return fmt.Errorf("%w: %d bytes required, %d available", ErrAllocationFailed, required, available)
}

func ErrUploadFailed(location string, err error) error {
	return fmt.Errorf("%s upload failed: %v", location, err)
}

// FatalError marks errors that must abort startup before any worker runs.
type FatalError struct {
	err error
}

func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{err: err}
}

func (e *FatalError) Error() string {
	return e.err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.err
}

func IsFatal(err error) bool {
	var f *FatalError
	return errors.As(err, &f)
}

type ErrArray struct {
	errs []error
}

func (e *ErrArray) AppendErr(err error) {
	if err != nil {
		e.errs = append(e.errs, err)
	}
}

func (e *ErrArray) Len() int {
	return len(e.errs)
}

func (e *ErrArray) ToError() error {
	switch len(e.errs) {
	case 0:
		return nil
	case 1:
		return e.errs[0]
	}

	msg := make([]string, 0, len(e.errs))
	for _, err := range e.errs {
		msg = append(msg, err.Error())
	}
	return &joinedError{msg: strings.Join(msg, "\n"), errs: e.errs}
}

type joinedError struct {
	msg  string
	errs []error
}

func (j *joinedError) Error() string {
	return j.msg
}

func (j *joinedError) Unwrap() []error {
	return j.errs
}

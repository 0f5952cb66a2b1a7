// Copyright 2023 Google LLC
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

/*
Package errs defines the error taxonomy shared by every component: a tagged
error type whose Code field is the discriminant, serializable to the wire
shape { name, code, message, context }.
*/
package errs

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Code tags an Error with its kind.
type Code string

const (
	ENOTFOUND   Code = "ENOTFOUND"
	EFETCH      Code = "EFETCH"
	EINSTALL    Code = "EINSTALL"
	EEXEC       Code = "EEXEC"
	ESECURITY   Code = "ESECURITY"
	EVALIDATION Code = "EVALIDATION"
	ETIMEOUT    Code = "ETIMEOUT"
	ERESOLUTION Code = "ERESOLUTION"
	ETARBALL    Code = "ETARBALL"
	EPARSE      Code = "EPARSE"
)

// name maps a code to the error class name used on the wire.
func (c Code) name() string {
	switch c {
	case ENOTFOUND:
		return "NotFoundError"
	case EFETCH:
		return "FetchError"
	case EINSTALL:
		return "InstallError"
	case EEXEC:
		return "ExecError"
	case ESECURITY:
		return "SecurityError"
	case ETIMEOUT:
		return "TimeoutError"
	case ERESOLUTION:
		return "ResolutionError"
	case ETARBALL:
		return "TarballError"
	case EPARSE:
		return "ParseError"
	default:
		return "ValidationError"
	}
}

// Error is a tagged error. Context keys are restricted by convention to
// package, version, registry, path and cause.
type Error struct {
	Code    Code
	Message string
	Context map[string]string
	cause   error
}

// New creates an Error with the given code and message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Newf creates an Error with a formatted message. A trailing %w verb wraps
// its argument as the cause.
func Newf(code Code, format string, args ...any) *Error {
	wrapped := fmt.Errorf(format, args...)
	e := &Error{Code: code, Message: wrapped.Error()}
	e.cause = errors.Unwrap(wrapped)
	return e
}

// Wrap coerces an arbitrary error into the taxonomy. An error that already
// is an *Error keeps its original code; anything else gets the given code,
// defaulting to EVALIDATION when code is empty, with the original message
// preserved as context.cause.
func Wrap(err error, code Code) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if code == "" {
		code = EVALIDATION
	}
	return &Error{
		Code:    code,
		Message: err.Error(),
		Context: map[string]string{"cause": err.Error()},
		cause:   err,
	}
}

// With returns e with the context key set. It mutates and returns e to
// allow chaining at construction sites.
func (e *Error) With(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// HasCode reports whether err is or wraps an Error with the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// CodeOf returns the code of err, or EVALIDATION when err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return EVALIDATION
}

// wireError is the serialized transport shape.
type wireError struct {
	Name    string            `json:"name"`
	Code    Code              `json:"code"`
	Message string            `json:"message"`
	Context map[string]string `json:"context,omitempty"`
	Stack   string            `json:"stack,omitempty"`
}

func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireError{
		Name:    e.Code.name(),
		Code:    e.Code,
		Message: e.Message,
		Context: e.Context,
	})
}

func (e *Error) UnmarshalJSON(data []byte) error {
	var w wireError
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.Code = w.Code
	e.Message = w.Message
	e.Context = w.Context
	return nil
}

/*
Copyright 2023 The Vitess Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package sqlerror contains the structured error type used for every
// error the server reports over the wire, plus the client-side (CR)
// error numbers used when the failure happens before the server could
// answer at all.
package sqlerror

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// SQLError is the error structure returned from calling a db library function
type SQLError struct {
	Num     ErrorCode
	State   string
	Message string
	Query   string
}

// NewSQLError creates a new SQLError.
// If sqlState is left empty it will default to "HY000" (general error).
func NewSQLError(number ErrorCode, sqlState string, format string, args ...any) *SQLError {
	if sqlState == "" {
		sqlState = SSUnknownSQLState
	}
	return &SQLError{
		Num:     number,
		State:   sqlState,
		Message: fmt.Sprintf(format, args...),
	}
}

// Error implements the error interface
func (se *SQLError) Error() string {
	buf := &bytes.Buffer{}
	buf.WriteString(se.Message)

	// Add MySQL errno and SQLSTATE in a format that we can later parse.
	// There's no avoiding string parsing because all errors
	// are converted to strings anyway at RPC boundaries.
	// See NewSQLErrorFromError.
	fmt.Fprintf(buf, " (errno %v) (sqlstate %v)", se.Num, se.State)

	if se.Query != "" {
		fmt.Fprintf(buf, " during query: %s", se.Query)
	}

	return buf.String()
}

// Number returns the internal MySQL error code.
func (se *SQLError) Number() ErrorCode {
	return se.Num
}

// SQLState returns the SQLSTATE value.
func (se *SQLError) SQLState() string {
	return se.State
}

var errExtract = regexp.MustCompile(`\(errno ([0-9]*)\) \(sqlstate ([0-9a-zA-Z]{5})\)`)

// NewSQLErrorFromError returns a *SQLError from the provided error.
// If it's not the right type, it still tries to get it from a regexp.
func NewSQLErrorFromError(err error) error {
	if err == nil {
		return nil
	}

	var serr *SQLError
	if errors.As(err, &serr) {
		return serr
	}

	msg := err.Error()
	match := errExtract.FindStringSubmatch(msg)
	if len(match) >= 3 {
		if num, atoiErr := strconv.Atoi(match[1]); atoiErr == nil {
			return &SQLError{
				Num:     ErrorCode(num),
				State:   match[2],
				Message: msg,
			}
		}
	}

	return &SQLError{
		Num:     ERUnknownError,
		State:   SSUnknownSQLState,
		Message: msg,
	}
}

// IsConnErr returns true if the error is a connection error, in which
// case the physical connection must be discarded rather than reused.
func IsConnErr(err error) bool {
	var serr *SQLError
	if !errors.As(err, &serr) {
		return false
	}
	num := serr.Number()
	if num == ERQueryInterrupted {
		return false
	}
	return (num >= CRUnknownError && num <= CRNamedPipeStateError) ||
		num == ERServerLost || num == ERClientInteractionTimeout
}

// IsEphemeralError returns true if the error is a server-side condition
// that may clear on a fresh connection (server restart, failover).
func IsEphemeralError(err error) bool {
	var serr *SQLError
	if !errors.As(err, &serr) {
		return false
	}
	switch serr.Number() {
	case CRConnectionError, CRConnHostError, CRServerLost, CRServerGone,
		ERConnectionKilled, ERServerShutdown, ERServerIsntAvailable,
		ERTooManyUserConnections, ERClientInteractionTimeout:
		return true
	}
	return false
}

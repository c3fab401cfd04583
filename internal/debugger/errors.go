/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package debugger

import (
	"errors"
	"fmt"

	"github.com/microsoft/vmdbg/internal/compiler"
)

// Error codes reported in the body of error responses.
const (
	ErrorCodeLaunchArguments    = 1001
	ErrorCodeLaunchFailed       = 1002
	ErrorCodeVMExecution        = 1003
	ErrorCodeUnsupportedRequest = 1004
	ErrorCodeMalformedRequest   = 1005
)

// LaunchArgumentError means the launch request did not carry usable arguments.
// The session stays uninitialized and may be launched again.
type LaunchArgumentError struct {
	Reason string
}

func (e *LaunchArgumentError) Error() string {
	return e.Reason
}

// CompileError means the program named by the launch request could not be compiled.
type CompileError struct {
	Path        string
	Diagnostics []compiler.Diagnostic
	Err         error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("failed to compile '%s': %v", e.Path, e.Err)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// VMExecutionError is returned when the virtual machine reports a failure.
// It is fatal: the session is exited by the time the error is returned.
type VMExecutionError struct {
	ProgramCounter uint64
	Message        string
}

func (e *VMExecutionError) Error() string {
	return fmt.Sprintf("program failed at address %d: %s", e.ProgramCounter, e.Message)
}

// ProtocolViolation is returned for requests that are not valid in the current session state.
// The session state is not changed.
type ProtocolViolation struct {
	State   string
	Command string
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("unsupported request '%s' while the debug session is %s", e.Command, e.State)
}

// IsFatal returns true if the error ends the debug session.
func IsFatal(err error) bool {
	var vmErr *VMExecutionError
	return errors.As(err, &vmErr)
}

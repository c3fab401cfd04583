/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package resiliency

import (
	"fmt"
	"runtime/debug"

	"github.com/go-logr/logr"
)

// PanicError is a recovered panic, together with the stack of the goroutine that panicked.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes the panic value when it was an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// MakePanicError turns a value returned by recover() into an error and logs it with the call stack.
// It returns nil if there was no panic. It must be called from the deferred function itself:
//
//	defer func() {
//		if panicErr := resiliency.MakePanicError(recover(), log); panicErr != nil {
//			...
//		}
//	}()
func MakePanicError(panicVal any, log logr.Logger) error {
	if panicVal == nil {
		return nil
	}

	panicErr := &PanicError{
		Value: panicVal,
		Stack: string(debug.Stack()),
	}
	log.Error(panicErr, "A goroutine ended prematurely due to panic", "stack", panicErr.Stack)

	return panicErr
}

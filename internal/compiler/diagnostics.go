/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package compiler

import (
	"fmt"
	"strings"
)

// Diagnostic describes a single problem found in a source file.
// Line is 1-based; zero means the problem is not tied to a line.
type Diagnostic struct {
	File    string
	Line    int
	Message string
}

func (d Diagnostic) String() string {
	if d.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", d.File, d.Line, d.Message)
	}
	return fmt.Sprintf("%s: %s", d.File, d.Message)
}

// DiagnosticsError is returned when a source file could not be compiled.
type DiagnosticsError struct {
	Diagnostics []Diagnostic
}

func (e *DiagnosticsError) Error() string {
	switch len(e.Diagnostics) {
	case 0:
		return "compilation failed"
	case 1:
		return e.Diagnostics[0].String()
	}

	lines := make([]string, len(e.Diagnostics))
	for i, d := range e.Diagnostics {
		lines[i] = d.String()
	}
	return fmt.Sprintf("compilation failed with %d errors:\n%s", len(e.Diagnostics), strings.Join(lines, "\n"))
}

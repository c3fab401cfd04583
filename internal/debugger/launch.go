/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package debugger

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/microsoft/vmdbg/internal/compiler"
	"github.com/microsoft/vmdbg/internal/regvm"
	"github.com/microsoft/vmdbg/internal/solver"
	"github.com/microsoft/vmdbg/internal/vm"
)

// LaunchArguments are the debugger specific arguments of a launch request.
type LaunchArguments struct {
	// SourcePath is the program to debug. Relative paths are resolved against the session working directory.
	SourcePath string

	VM vm.Kind
}

const (
	launchArgSourcePath = "src_path"
	launchArgVM         = "vm"
)

// parseLaunchArguments extracts LaunchArguments from the raw arguments of a launch request.
func parseLaunchArguments(raw json.RawMessage, workDir string) (LaunchArguments, error) {
	var fields map[string]json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &fields) != nil || fields == nil {
		return LaunchArguments{}, &LaunchArgumentError{Reason: "Source file is not provided"}
	}

	srcPath, srcErr := stringArgument(fields, launchArgSourcePath, "source file")
	if srcErr != nil {
		return LaunchArguments{}, srcErr
	}
	kindName, kindErr := stringArgument(fields, launchArgVM, "vm kind")
	if kindErr != nil {
		return LaunchArguments{}, kindErr
	}

	kind, parseErr := vm.ParseKind(kindName)
	if parseErr != nil {
		return LaunchArguments{}, &LaunchArgumentError{Reason: parseErr.Error()}
	}

	if !filepath.IsAbs(srcPath) && workDir != "" {
		srcPath = filepath.Join(workDir, srcPath)
	}

	return LaunchArguments{SourcePath: srcPath, VM: kind}, nil
}

func stringArgument(fields map[string]json.RawMessage, name string, what string) (string, error) {
	raw, found := fields[name]
	if !found || string(raw) == "null" {
		return "", &LaunchArgumentError{Reason: fmt.Sprintf("Missing %s ('%s')", what, name)}
	}

	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", &LaunchArgumentError{Reason: fmt.Sprintf("The %s ('%s') is not a string", what, name)}
	}
	if strings.TrimSpace(value) == "" {
		return "", &LaunchArgumentError{Reason: fmt.Sprintf("The %s ('%s') is empty", what, name)}
	}
	return value, nil
}

// Backend builds the virtual machine for a launch request.
// The solver is owned by the session; the backend may hand it to the machine but must not close it.
type Backend interface {
	Build(args LaunchArguments, s *solver.Solver) (vm.Machine, error)
}

// BackendFunc adapts a function to the Backend interface.
type BackendFunc func(args LaunchArguments, s *solver.Solver) (vm.Machine, error)

func (f BackendFunc) Build(args LaunchArguments, s *solver.Solver) (vm.Machine, error) {
	return f(args, s)
}

// CompilerBackend compiles register VM assembly and runs it on the register VM.
type CompilerBackend struct {
	// Options are passed to every machine the backend creates.
	Options []regvm.Option
}

func (b CompilerBackend) Build(args LaunchArguments, s *solver.Solver) (vm.Machine, error) {
	if args.VM != vm.KindBrillig {
		return nil, fmt.Errorf("vm kind '%s' is not supported by the compiler backend", args.VM)
	}

	artifact, compileErr := compiler.Compile(args.SourcePath)
	if compileErr != nil {
		diags, _ := compiler.AsDiagnostics(compileErr)
		return nil, &CompileError{Path: args.SourcePath, Diagnostics: diags, Err: compileErr}
	}

	opts := append([]regvm.Option{regvm.WithSolver(s)}, b.Options...)
	return regvm.New(artifact.Program, artifact.Registers, artifact.Memory, opts...), nil
}

var _ Backend = CompilerBackend{}

/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/microsoft/vmdbg/internal/debugger"
	"github.com/microsoft/vmdbg/internal/solver"
	"github.com/microsoft/vmdbg/internal/vm"
)

const defaultMaxSteps = 10_000_000

var maxSteps uint64

var errStepLimit = errors.New("step limit reached")

func NewRunCommand(log logr.Logger) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [--max-steps N] file",
		Short: "Runs a program without a debugger",
		Long: `Runs a program without a debugger.

		The program output is printed as it is produced; the register file is printed once the program ends.`,
		RunE: runProgram(log),
		Args: cobra.ExactArgs(1),
	}

	runCmd.Flags().Uint64Var(&maxSteps, "max-steps", defaultMaxSteps, "Maximum number of opcodes to execute before giving up. Zero means no limit.")

	return runCmd
}

func runProgram(log logr.Logger) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		runLog := log.WithName("run")

		srcPath, pathErr := filepath.Abs(args[0])
		if pathErr != nil {
			return pathErr
		}

		slv := solver.New()
		defer func() { _ = slv.Close() }()

		machine, buildErr := debugger.CompilerBackend{}.Build(debugger.LaunchArguments{SourcePath: srcPath, VM: vm.KindBrillig}, slv)
		if buildErr != nil {
			var compileErr *debugger.CompileError
			if errors.As(buildErr, &compileErr) {
				for _, d := range compileErr.Diagnostics {
					fmt.Fprintln(cmd.ErrOrStderr(), d.String())
				}
			}
			return buildErr
		}

		executed, runErr := execute(cmd.Context(), machine, maxSteps, cmd.OutOrStdout())
		runLog.V(1).Info("Program ended", "path", srcPath, "executed", executed, "blackBoxCalls", slv.Calls())

		printRegisters(cmd.OutOrStdout(), machine)
		return runErr
	}
}

// execute runs the machine to completion, copying program output to out as it appears.
func execute(ctx context.Context, machine vm.Machine, limit uint64, out io.Writer) (uint64, error) {
	var executed uint64
	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return executed, ctxErr
		}
		if limit > 0 && executed >= limit {
			return executed, fmt.Errorf("%w after %d opcodes, at address %d", errStepLimit, executed, machine.ProgramCounter())
		}

		outcome := machine.ProcessOpcode()
		executed++

		if src, isSource := machine.(vm.OutputSource); isSource {
			for _, line := range src.DrainOutput() {
				fmt.Fprintln(out, line)
			}
		}

		switch outcome.Kind {
		case vm.Finished:
			return executed, nil
		case vm.Failed:
			return executed, &debugger.VMExecutionError{ProgramCounter: machine.ProgramCounter(), Message: outcome.Message}
		}
	}
}

func printRegisters(out io.Writer, machine vm.Machine) {
	for i, r := range machine.Registers() {
		fmt.Fprintf(out, "r%d = %s\n", i, r.Dec())
	}
}

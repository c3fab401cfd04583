/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/microsoft/vmdbg/internal/compiler"
)

func NewDisasmCommand(log logr.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "disasm file",
		Short: "Prints the compiled program",
		Long: `Prints the compiled program, one opcode per line, prefixed with its address.

		Breakpoints are set on these addresses.`,
		RunE: disassemble(log),
		Args: cobra.ExactArgs(1),
	}
}

func disassemble(log logr.Logger) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		artifact, compileErr := compiler.Compile(args[0])
		if compileErr != nil {
			if diags, found := compiler.AsDiagnostics(compileErr); found {
				for _, d := range diags {
					fmt.Fprintln(cmd.ErrOrStderr(), d.String())
				}
			}
			log.V(1).Info("Compilation failed", "path", args[0])
			return compileErr
		}

		for _, line := range compiler.Disassemble(artifact.Program) {
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		return nil
	}
}

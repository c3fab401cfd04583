/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	cmds "github.com/microsoft/vmdbg/internal/commands"
	"github.com/microsoft/vmdbg/pkg/logger"
)

const configFlagName = "config"

var configPath string

func NewRootCommand(log *logger.Logger) (*cobra.Command, error) {
	rootCmd := &cobra.Command{
		SilenceErrors: true,
		Use:           "vmdbg",
		Short:         "Debug adapter for register VM programs",
		Long: `Debug adapter for register VM programs.

	vmdbg speaks the Debug Adapter Protocol over stdio, TCP or WebSocket and lets an editor
	step through programs compiled from register VM assembly, one opcode at a time.`,
		SilenceUsage:     true,
		PersistentPreRun: cmds.LogVersion(log.Logger, "Starting vmdbg..."),
	}

	rootCmd.CompletionOptions.HiddenDefaultCmd = true

	log.AddLevelFlag(rootCmd.PersistentFlags())
	rootCmd.PersistentFlags().StringVar(&configPath, configFlagName, "", "Path to a YAML configuration file. Command-line flags override values from the file.")

	var err error
	var cmd *cobra.Command

	if cmd, err = cmds.NewVersionCommand(log.Logger); err != nil {
		return nil, fmt.Errorf("could not set up 'version' command: %w", err)
	} else {
		rootCmd.AddCommand(cmd)
	}

	rootCmd.AddCommand(NewServeCommand(log))
	rootCmd.AddCommand(NewRunCommand(log.Logger))
	rootCmd.AddCommand(NewDisasmCommand(log.Logger))

	return rootCmd, nil
}

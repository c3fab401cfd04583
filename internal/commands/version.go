/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/microsoft/vmdbg/internal/version"
	"github.com/microsoft/vmdbg/pkg/osutil"
)

const (
	// If set, the value of this variable will be written to the log as one of the first log messages.
	VMDBG_LOGGING_CONTEXT = "VMDBG_LOGGING_CONTEXT"
)

func NewVersionCommand(log logr.Logger) (*cobra.Command, error) {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Prints version information",
		Long:  `Prints version information.`,
		RunE:  getVersion(log),
		Args:  cobra.NoArgs,
	}

	return versionCmd, nil
}

func getVersion(log logr.Logger) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		log = log.WithName("version")

		versionStr, err := versionString()
		if err != nil {
			log.Error(err, "Could not serialize version information")
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), versionStr)
		return nil
	}
}

// LogVersion returns a pre-run hook that records the version and invocation details.
func LogVersion(log logr.Logger, programStartMsg string) func(_ *cobra.Command, _ []string) {
	return func(_ *cobra.Command, _ []string) {
		versionString, err := versionString()
		if err != nil {
			versionString = fmt.Sprintf("unknown: %v", err)
		}

		launchPath, pathErr := os.Executable()
		if pathErr != nil {
			launchPath = os.Args[0]
		}

		log.V(1).Info(programStartMsg,
			"PID", os.Getpid(),
			"Exe", launchPath,
			"Args", os.Args[1:],
			"Version", versionString,
		)

		if logContext := osutil.EnvVarStringWithDefault(VMDBG_LOGGING_CONTEXT, ""); logContext != "" {
			log.V(1).Info(logContext)
		}
	}
}

func versionString() (string, error) {
	v, err := json.Marshal(version.Version())
	if err != nil {
		return "", err
	}
	return string(v), nil
}

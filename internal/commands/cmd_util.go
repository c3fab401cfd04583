/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"os"

	"github.com/microsoft/vmdbg/pkg/logger"
	"github.com/microsoft/vmdbg/pkg/osutil"
)

// ErrorExit reports err on stderr, closes the logs and exits with the given code.
func ErrorExit(log *logger.Logger, err error, exitCode int) {
	log.Error(err, "Command failed")
	_, _ = os.Stderr.WriteString(err.Error() + string(osutil.LineSep()))
	logger.ReleaseAllSessionLogs()
	log.Flush()
	os.Exit(exitCode)
}

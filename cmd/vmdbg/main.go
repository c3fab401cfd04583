/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	cmdutil "github.com/microsoft/vmdbg/internal/commands"
	"github.com/microsoft/vmdbg/internal/vmdbg/commands"
	"github.com/microsoft/vmdbg/pkg/logger"
	"github.com/microsoft/vmdbg/pkg/osutil"
	"github.com/microsoft/vmdbg/pkg/resiliency"
)

const (
	errCommandError = 1
	errSetup        = 2
	errPanic        = 3
)

func main() {
	log := logger.New("vmdbg").WithName("vmdbg")
	defer func() {
		panicErr := resiliency.MakePanicError(recover(), log.Logger)
		if panicErr != nil {
			_, _ = os.Stderr.WriteString(panicErr.Error() + string(osutil.LineSep()))
			logger.ReleaseAllSessionLogs()
			log.Flush()
			os.Exit(errPanic)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, err := commands.NewRootCommand(log)
	if err != nil {
		cmdutil.ErrorExit(log, err, errSetup)
	}

	err = root.ExecuteContext(ctx)
	if err != nil {
		stop()
		cmdutil.ErrorExit(log, err, errCommandError)
	} else {
		logger.ReleaseAllSessionLogs()
		log.Flush()
	}
}

/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/microsoft/vmdbg/internal/config"
	"github.com/microsoft/vmdbg/internal/dap"
	"github.com/microsoft/vmdbg/internal/debugger"
	"github.com/microsoft/vmdbg/pkg/logger"
)

const (
	gracefulShutdownTimeout = 5 * time.Second
	readHeaderTimeout       = 10 * time.Second
)

var serveFlags = config.Default()

func NewServeCommand(log *logger.Logger) *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve [--listen address | --connect address | --ws address]",
		Short: "Runs the debug adapter",
		Long: `Runs the debug adapter.

		By default the adapter talks to a single client over stdin and stdout.
		With --listen it accepts any number of clients on a TCP address, with --connect it connects
		to a client that is waiting for it, and with --ws it serves clients over WebSocket.`,
		RunE: runServe(log),
		Args: cobra.NoArgs,
	}

	serveCmd.Flags().StringVar(&serveFlags.Listen, "listen", "", "TCP address to accept debug adapter clients on, e.g. localhost:4711.")
	serveCmd.Flags().StringVar(&serveFlags.Connect, "connect", "", "Address of a debug adapter client to connect to: host:port, or a ws:// or wss:// URL.")
	serveCmd.Flags().StringVar(&serveFlags.WebSocket, "ws", "", "Address to serve debug adapter clients over WebSocket on, e.g. localhost:8080.")
	serveCmd.Flags().StringSliceVar(&serveFlags.AllowedOrigins, "allowed-origin", nil, "Origin allowed to open WebSocket sessions. May be repeated; '*' allows any origin.")
	serveCmd.Flags().DurationVar(&serveFlags.ConnectTimeout, "connect-timeout", config.DefaultConnectTimeout, "How long to keep trying to reach the client in --connect mode.")
	serveCmd.Flags().StringVar(&serveFlags.WorkDir, "work-dir", "", "Folder that relative source paths are resolved against. Defaults to the current folder.")

	return serveCmd
}

func runServe(log *logger.Logger) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		serveLog := log.Logger.WithName("serve")

		cfg, configErr := effectiveConfig(cmd.Flags(), configPath, serveFlags)
		if configErr != nil {
			serveLog.Error(configErr, "Invalid configuration")
			return configErr
		}

		// The command line wins over the configuration file.
		if levelFlag, found := logger.GetLevelFlagValue(cmd.Flags()); cfg.Verbosity != "" && (!found || !levelFlag.IsSet()) {
			if level, levelErr := logger.StringToLevel(cfg.Verbosity, log.Level()); levelErr == nil {
				log.SetLevel(level)
			}
		}

		if cfg.WorkDir == "" {
			wd, wdErr := os.Getwd()
			if wdErr != nil {
				return fmt.Errorf("unable to determine the working folder: %w", wdErr)
			}
			cfg.WorkDir = wd
		}

		serverConfig := dap.ServerConfig{
			Logger: serveLog,
			Session: debugger.SessionConfig{
				WorkDir: cfg.WorkDir,
				Logger:  serveLog.WithName("session"),
			},
		}

		ctx := cmd.Context()
		serveLog.V(1).Info("Debug adapter starting", "mode", string(cfg.Mode()))

		var serveErr error
		switch cfg.Mode() {
		case config.ModeListen:
			serveErr = serveTCP(ctx, cfg, serverConfig)
		case config.ModeConnect:
			serveErr = serveConnectBack(ctx, cfg, serverConfig)
		case config.ModeWebSocket:
			serveErr = serveWebSocket(ctx, cfg, serverConfig, serveLog)
		default:
			server := dap.NewServer(dap.NewStdioTransport(os.Stdin, os.Stdout), serverConfig)
			serveErr = server.Run(ctx)
		}

		if debugger.IsFatal(serveErr) {
			// The failure was reported to the client; the adapter itself did its job.
			serveLog.Info("Debugged program failed", "error", serveErr.Error())
			return nil
		}
		return serveErr
	}
}

// effectiveConfig loads the configuration file, if any, and applies the flags that were set explicitly.
func effectiveConfig(flags *pflag.FlagSet, path string, fromFlags config.Config) (config.Config, error) {
	cfg := config.Default()
	if path != "" {
		loaded, loadErr := config.Load(path)
		if loadErr != nil {
			return config.Config{}, loadErr
		}
		cfg = loaded
	}

	if flags.Changed("listen") {
		cfg.Listen = fromFlags.Listen
	}
	if flags.Changed("connect") {
		cfg.Connect = fromFlags.Connect
	}
	if flags.Changed("ws") {
		cfg.WebSocket = fromFlags.WebSocket
	}
	if flags.Changed("allowed-origin") {
		cfg.AllowedOrigins = fromFlags.AllowedOrigins
	}
	if flags.Changed("connect-timeout") {
		cfg.ConnectTimeout = fromFlags.ConnectTimeout
	}
	if flags.Changed("work-dir") {
		cfg.WorkDir = fromFlags.WorkDir
	}

	if validationErr := cfg.Validate(); validationErr != nil {
		return config.Config{}, validationErr
	}
	return cfg, nil
}

func serveTCP(ctx context.Context, cfg config.Config, serverConfig dap.ServerConfig) error {
	lc := net.ListenConfig{}
	ln, listenErr := lc.Listen(ctx, "tcp", cfg.Listen)
	if listenErr != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Listen, listenErr)
	}
	defer func() { _ = ln.Close() }()

	// Editors launching the adapter read the actual address, which matters when the port is 0.
	fmt.Fprintln(os.Stdout, ln.Addr().String())

	return dap.ServeListener(ctx, ln, serverConfig)
}

func serveConnectBack(ctx context.Context, cfg config.Config, serverConfig dap.ServerConfig) error {
	transport, dialErr := dialClient(ctx, cfg.Connect, cfg.ConnectTimeout)
	if dialErr != nil {
		return dialErr
	}
	return dap.NewServer(transport, serverConfig).Run(ctx)
}

// dialClient connects to a waiting client over WebSocket for ws:// and wss:// URLs, and over TCP otherwise.
func dialClient(ctx context.Context, address string, timeout time.Duration) (dap.Transport, error) {
	lower := strings.ToLower(address)
	if strings.HasPrefix(lower, "ws://") || strings.HasPrefix(lower, "wss://") {
		return dap.DialWebSocket(ctx, address, timeout)
	}
	return dap.DialTCP(ctx, address, timeout)
}

func serveWebSocket(ctx context.Context, cfg config.Config, serverConfig dap.ServerConfig, log logr.Logger) error {
	lc := net.ListenConfig{}
	ln, listenErr := lc.Listen(ctx, "tcp", cfg.WebSocket)
	if listenErr != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.WebSocket, listenErr)
	}

	httpServer := &http.Server{
		Handler:           dap.WebSocketHandler(ctx, serverConfig, cfg.AllowedOrigins),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErrChan := make(chan error, 1)
	go func() {
		serveErrChan <- httpServer.Serve(ln)
	}()

	log.Info("Serving debug adapter clients over WebSocket", "address", ln.Addr().String())
	fmt.Fprintln(os.Stdout, ln.Addr().String())

	select {
	case <-ctx.Done():
		log.Info("WebSocket server is shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)

	case serveErr := <-serveErrChan:
		if errors.Is(serveErr, http.ErrServerClosed) {
			return nil
		}
		return serveErr
	}
}

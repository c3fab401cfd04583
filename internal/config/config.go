/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package config holds the settings of the debug adapter that may come from a YAML file.
// Command-line flags take precedence over the file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/microsoft/vmdbg/pkg/logger"
	"github.com/microsoft/vmdbg/pkg/osutil"
)

const (
	DefaultConnectTimeout = 10 * time.Second

	// Overrides the default connect timeout for all configuration sources.
	VMDBG_CONNECT_TIMEOUT = "VMDBG_CONNECT_TIMEOUT"
)

type Config struct {
	// TCP address to accept DAP clients on, e.g. "localhost:4711"
	Listen string `yaml:"listen,omitempty"`
	// Address of a DAP client waiting for the adapter to connect back: host:port for TCP,
	// or a ws:// or wss:// URL for WebSocket
	Connect string `yaml:"connect,omitempty"`
	// Address of an HTTP server that accepts DAP clients over WebSocket
	WebSocket string `yaml:"websocket,omitempty"`
	// Origins allowed to open WebSocket sessions; "*" allows any
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty"`
	// How long to keep retrying the connection to a client in "connect" mode
	ConnectTimeout time.Duration `yaml:"connectTimeout,omitempty"`
	// Folder relative source paths are resolved against (defaults to the current folder)
	WorkDir string `yaml:"workDir,omitempty"`
	// Console log verbosity: debug, info, error, or a positive number
	Verbosity string `yaml:"verbosity,omitempty"`
}

func Default() Config {
	return Config{
		ConnectTimeout: osutil.EnvVarDurationValWithDefault(VMDBG_CONNECT_TIMEOUT, DefaultConnectTimeout),
	}
}

// Load reads the configuration file at path on top of the defaults.
func Load(path string) (Config, error) {
	content, readErr := os.ReadFile(path)
	if readErr != nil {
		return Config{}, fmt.Errorf("unable to read configuration file '%s': %w", path, readErr)
	}

	cfg, parseErr := Parse(content)
	if parseErr != nil {
		return Config{}, fmt.Errorf("configuration file '%s' is invalid: %w", path, parseErr)
	}
	return cfg, nil
}

// Parse decodes YAML configuration on top of the defaults. Unknown keys are rejected.
func Parse(content []byte) (Config, error) {
	cfg := Default()

	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)
	if decodeErr := decoder.Decode(&cfg); decodeErr != nil && !errors.Is(decodeErr, io.EOF) {
		return Config{}, decodeErr
	}

	if validationErr := cfg.Validate(); validationErr != nil {
		return Config{}, validationErr
	}
	return cfg, nil
}

// Validate checks that at most one way of reaching the client is configured
// and that the remaining values make sense.
func (c Config) Validate() error {
	var modes []string
	if c.Listen != "" {
		modes = append(modes, "listen")
	}
	if c.Connect != "" {
		modes = append(modes, "connect")
	}
	if c.WebSocket != "" {
		modes = append(modes, "websocket")
	}
	if len(modes) > 1 {
		return fmt.Errorf("only one of 'listen', 'connect' and 'websocket' may be set, got %s", strings.Join(modes, ", "))
	}

	if c.ConnectTimeout < 0 {
		return fmt.Errorf("connect timeout must not be negative, got %s", c.ConnectTimeout)
	}

	if c.Verbosity != "" {
		if _, levelErr := logger.StringToLevel(c.Verbosity, 0); levelErr != nil {
			return fmt.Errorf("verbosity: %w", levelErr)
		}
	}

	return nil
}

// Mode describes how the adapter reaches its client.
type Mode string

const (
	ModeStdio     Mode = "stdio"
	ModeListen    Mode = "listen"
	ModeConnect   Mode = "connect"
	ModeWebSocket Mode = "websocket"
)

func (c Config) Mode() Mode {
	switch {
	case c.Listen != "":
		return ModeListen
	case c.Connect != "":
		return ModeConnect
	case c.WebSocket != "":
		return ModeWebSocket
	default:
		return ModeStdio
	}
}

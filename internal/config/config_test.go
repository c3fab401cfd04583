/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/vmdbg/pkg/osutil"
)

func TestParse(t *testing.T) {
	t.Parallel()

	type testcase struct {
		description string
		content     string
		expected    Config
		errContains string
	}

	testcases := []testcase{
		{"empty file uses defaults", "", Default(), ""},
		{"comments only", "# nothing here\n", Default(), ""},
		{
			"listen mode",
			"listen: localhost:4711\nverbosity: debug\nworkDir: /src\n",
			Config{Listen: "localhost:4711", Verbosity: "debug", WorkDir: "/src", ConnectTimeout: DefaultConnectTimeout},
			"",
		},
		{
			"connect mode with timeout",
			"connect: 127.0.0.1:9000\nconnectTimeout: 3s\n",
			Config{Connect: "127.0.0.1:9000", ConnectTimeout: 3 * time.Second},
			"",
		},
		{
			"websocket mode with origins",
			"websocket: :8080\nallowedOrigins: [\"*\"]\n",
			Config{WebSocket: ":8080", AllowedOrigins: []string{"*"}, ConnectTimeout: DefaultConnectTimeout},
			"",
		},
		{"two modes", "listen: :1\nconnect: :2\n", Config{}, "only one of"},
		{"unknown key", "port: 4711\n", Config{}, "field port not found"},
		{"bad verbosity", "verbosity: loud\n", Config{}, "invalid log level"},
		{"negative timeout", "connectTimeout: -1s\n", Config{}, "must not be negative"},
	}

	for _, tc := range testcases {
		cfg, err := Parse([]byte(tc.content))
		if tc.errContains != "" {
			require.Error(t, err, tc.description)
			assert.Contains(t, err.Error(), tc.errContains, tc.description)
		} else {
			require.NoError(t, err, tc.description)
			assert.Equal(t, tc.expected, cfg, tc.description)
		}
	}
}

func TestMode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ModeStdio, Default().Mode())
	assert.Equal(t, ModeListen, Config{Listen: ":1"}.Mode())
	assert.Equal(t, ModeConnect, Config{Connect: ":1"}.Mode())
	assert.Equal(t, ModeWebSocket, Config{WebSocket: ":1"}.Mode())
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "vmdbg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: localhost:4711\n"), osutil.PermissionOnlyOwnerReadWrite))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "localhost:4711", cfg.Listen)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unable to read configuration file")
}

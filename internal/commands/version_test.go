/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/vmdbg/internal/version"
	"github.com/microsoft/vmdbg/pkg/testutil"
)

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	cmd, err := NewVersionCommand(testutil.NewLogForTesting(t.Name()))
	require.NoError(t, err)

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())

	var v version.VersionOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &v))
	assert.Equal(t, version.DevelopmentVersion, v.Version)
}

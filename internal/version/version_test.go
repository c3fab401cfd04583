/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package version

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionJSON(t *testing.T) {
	t.Parallel()

	out := VersionOutput{Version: "1.2.3"}
	b, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"version": "1.2.3"}`, string(b))

	out.BuildTime = &BuildTime{time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	out.CommitHash = "abc123"
	b, err = json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"version": "1.2.3", "commitHash": "abc123", "buildTimestamp": "2024-03-01T12:00:00Z"}`, string(b))

	var decoded VersionOutput
	require.NoError(t, json.Unmarshal(b, &decoded))
	require.NotNil(t, decoded.BuildTime)
	assert.True(t, out.BuildTime.Equal(decoded.BuildTime.Time))
}

func TestDefaultVersion(t *testing.T) {
	t.Parallel()

	v := Version()
	assert.Equal(t, DevelopmentVersion, v.Version)
	assert.Nil(t, v.BuildTime)
}

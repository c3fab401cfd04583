/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package version

import (
	"bytes"
	"strconv"
	"time"
)

const (
	DevelopmentVersion = "dev"
)

// Set at build time via -ldflags "-X".
var (
	ProductVersion = DevelopmentVersion
	CommitHash     = ""
	BuildTimestamp = ""
)

// BuildTime serializes as an RFC 3339 string, or null when unknown.
type BuildTime struct {
	time.Time
}

func (t BuildTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}

	return []byte("\"" + t.Format(time.RFC3339) + "\""), nil
}

func (t *BuildTime) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}

	parsed, err := time.Parse("\""+time.RFC3339+"\"", string(data))
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

type VersionOutput struct {
	Version    string     `json:"version"`
	CommitHash string     `json:"commitHash,omitempty"`
	BuildTime  *BuildTime `json:"buildTimestamp,omitempty"`
}

func Version() VersionOutput {
	out := VersionOutput{
		Version:    ProductVersion,
		CommitHash: CommitHash,
	}
	if out.Version == "" {
		out.Version = DevelopmentVersion
	}

	// The timestamp is either Unix seconds or RFC 3339.
	if BuildTimestamp != "" {
		if seconds, err := strconv.ParseInt(BuildTimestamp, 10, 64); err == nil {
			out.BuildTime = &BuildTime{time.Unix(seconds, 0).UTC()}
		} else if parsed, timeErr := time.Parse(time.RFC3339, BuildTimestamp); timeErr == nil {
			out.BuildTime = &BuildTime{parsed}
		}
	}

	return out
}

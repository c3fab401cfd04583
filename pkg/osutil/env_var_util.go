/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package osutil

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvVarIntVal returns the value of an integer environment variable.
// The second result is false when the variable does not hold a valid 32-bit integer.
func EnvVarIntVal(varName string) (int, bool) {
	value, found := os.LookupEnv(varName)
	if !found || strings.TrimSpace(value) == "" {
		return 0, false
	}

	value = strings.TrimSpace(value)
	val, err := strconv.ParseInt(value, 10, 32)
	if err != nil {
		return 0, false
	}

	return int(val), true
}

func EnvVarStringWithDefault(varName string, defaultVal string) string {
	val, found := os.LookupEnv(varName)
	if !found || strings.TrimSpace(val) == "" {
		return defaultVal
	} else {
		return val
	}
}

func EnvVarIntValWithDefault(varName string, defaultVal int) int {
	val, found := EnvVarIntVal(varName)
	if !found {
		return defaultVal
	} else {
		return val
	}
}

func EnvVarDurationValWithDefault(varName string, defaultVal time.Duration) time.Duration {
	value, found := os.LookupEnv(varName)
	if !found || strings.TrimSpace(value) == "" {
		return defaultVal
	}

	value = strings.TrimSpace(value)
	val, err := time.ParseDuration(value)
	if err != nil {
		return defaultVal
	}

	return val
}

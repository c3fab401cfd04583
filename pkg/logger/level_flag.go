/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package logger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
)

var verbosityNames = map[string]zapcore.Level{
	"debug": zapcore.DebugLevel,
	"info":  zapcore.InfoLevel,
	"error": zapcore.ErrorLevel,
}

// StringToLevel parses a verbosity setting. Besides the level names, a positive number N
// enables logr V(N) messages, which zap sees as level -N.
func StringToLevel(value string, defaultLevel zapcore.Level) (zapcore.Level, error) {
	value = strings.TrimSpace(value)
	if level, named := verbosityNames[strings.ToLower(value)]; named {
		return level, nil
	}

	n, convErr := strconv.ParseInt(value, 10, 8)
	if convErr != nil || n <= 0 {
		return defaultLevel, fmt.Errorf("invalid log level %q: expected debug, info, error, or a positive number", value)
	}
	return zapcore.Level(-n), nil
}

// LevelFlagValue backs the -v flag. The level is applied as soon as the flag is parsed,
// so it is in effect before any command runs.
type LevelFlagValue struct {
	apply func(zapcore.Level)
	raw   string
}

func NewLevelFlagValue(apply func(zapcore.Level)) LevelFlagValue {
	return LevelFlagValue{apply: apply}
}

func (v *LevelFlagValue) Set(value string) error {
	level, parseErr := StringToLevel(value, zapcore.InfoLevel)
	if parseErr != nil {
		return parseErr
	}
	v.apply(level)
	v.raw = value
	return nil
}

func (v *LevelFlagValue) String() string {
	return v.raw
}

func (*LevelFlagValue) Type() string {
	return "level"
}

// IsSet returns true if the flag was given on the command line.
func (v *LevelFlagValue) IsSet() bool {
	return v.raw != ""
}

// GetLevelFlagValue finds the verbosity flag registered by Logger.AddLevelFlag.
func GetLevelFlagValue(fs *pflag.FlagSet) (*LevelFlagValue, bool) {
	if fs == nil {
		return nil, false
	}
	f := fs.Lookup(verbosityFlagName)
	if f == nil {
		return nil, false
	}
	v, isLevelFlag := f.Value.(*LevelFlagValue)
	return v, isLevelFlag
}

var _ pflag.Value = &LevelFlagValue{}

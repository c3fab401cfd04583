/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	stdslices "slices"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/microsoft/vmdbg/pkg/osutil"
)

const (
	// This value acts as a special key for any logger that has a session sink enabled. If the first argument to WithValues is this key,
	// the second argument is treated as a debug session ID. Neither of the two arguments is included in the log entries; instead a copy
	// of every entry is written to a separate file named after the session (session-<id>.log), so that the log of a single debug session
	// can be retrieved in isolation.
	SESSION_LOG_STREAM_ID = "session_log_stream_id"
)

var (
	sessionLoggerLock     = &sync.Mutex{}
	sessionLoggerDisabled = &atomic.Bool{}
	sessionSinks          = map[string]*sessionFileSink{}
)

type sessionFileSink struct {
	file   *os.File
	logger logr.Logger
	flush  func()
}

func GetSessionLogPath(folder string, sessionId string) string {
	if sessionId == "" {
		return ""
	}

	return filepath.Join(folder, fmt.Sprintf("session-%s.log", sessionId))
}

// ReleaseSessionLog flushes and closes the log file of the given session.
// Entries logged for the session afterwards re-open the file in append mode.
func ReleaseSessionLog(sessionId string) {
	sessionLoggerLock.Lock()
	defer sessionLoggerLock.Unlock()

	if sink, found := sessionSinks[sessionId]; found {
		sink.flush()
		// Best effort; nothing useful can be done if closing fails.
		_ = sink.file.Close()
		delete(sessionSinks, sessionId)
	}
}

// ReleaseAllSessionLogs closes all session log files and stops writing new ones.
func ReleaseAllSessionLogs() {
	sessionLoggerLock.Lock()
	defer sessionLoggerLock.Unlock()

	sessionLoggerDisabled.Store(true)

	for _, sink := range sessionSinks {
		sink.flush()
		_ = sink.file.Close()
	}

	sessionSinks = map[string]*sessionFileSink{}
}

func flushSessionLogs() {
	sessionLoggerLock.Lock()
	defer sessionLoggerLock.Unlock()

	for _, sink := range sessionSinks {
		sink.flush()
	}
}

type sessionSink struct {
	folder      string
	name        string
	sessionId   string
	values      []any
	atomicLevel zap.AtomicLevel
	innerSink   logr.LogSink
}

func newSessionSink(folder string, atomicLevel zap.AtomicLevel, innerSink logr.LogSink) *sessionSink {
	return &sessionSink{
		folder:      folder,
		atomicLevel: atomicLevel,
		innerSink:   innerSink,
	}
}

// Enabled implements logr.LogSink.
func (s *sessionSink) Enabled(level int) bool {
	return s.innerSink.Enabled(level)
}

// Error implements logr.LogSink.
func (s *sessionSink) Error(err error, msg string, keysAndValues ...any) {
	s.innerSink.Error(err, msg, keysAndValues...)

	if sink := s.getSink(); sink != nil {
		sink.logger.WithValues(s.values...).GetSink().Error(err, msg, keysAndValues...)
	}
}

// Info implements logr.LogSink.
func (s *sessionSink) Info(level int, msg string, keysAndValues ...any) {
	s.innerSink.Info(level, msg, keysAndValues...)

	if sink := s.getSink(); sink != nil {
		sink.logger.WithValues(s.values...).GetSink().Info(level, msg, keysAndValues...)
	}
}

// Init implements logr.LogSink.
func (s *sessionSink) Init(info logr.RuntimeInfo) {
	s.innerSink.Init(info)
}

// WithName implements logr.LogSink.
func (s *sessionSink) WithName(name string) logr.LogSink {
	fullName := name
	if s.name != "" {
		fullName = s.name + "." + name
	}

	return &sessionSink{
		folder:      s.folder,
		name:        fullName,
		sessionId:   s.sessionId,
		values:      s.values,
		atomicLevel: s.atomicLevel,
		innerSink:   s.innerSink.WithName(name),
	}
}

// WithValues implements logr.LogSink.
func (s *sessionSink) WithValues(keysAndValues ...any) logr.LogSink {
	sessionId := s.sessionId
	// Only the first pair is checked for the session key.
	if len(keysAndValues) >= 2 && keysAndValues[0] == SESSION_LOG_STREAM_ID {
		if id, isString := keysAndValues[1].(string); isString {
			sessionId = id
		}
		keysAndValues = keysAndValues[2:]
	}

	values := stdslices.Clone(s.values)
	values = append(values, keysAndValues...)

	return &sessionSink{
		folder:      s.folder,
		name:        s.name,
		sessionId:   sessionId,
		values:      values,
		atomicLevel: s.atomicLevel,
		innerSink:   s.innerSink.WithValues(keysAndValues...),
	}
}

func (s *sessionSink) getSink() *sessionFileSink {
	if s.sessionId == "" || sessionLoggerDisabled.Load() {
		return nil
	}

	sessionLoggerLock.Lock()
	defer sessionLoggerLock.Unlock()

	if sessionLoggerDisabled.Load() {
		return nil
	}

	sink, found := sessionSinks[s.sessionId]
	if !found {
		var sinkErr error
		sink, sinkErr = s.newSessionFileSink()
		if sinkErr != nil {
			return nil
		}
		sessionSinks[s.sessionId] = sink
	}

	return sink
}

func (s *sessionSink) newSessionFileSink() (*sessionFileSink, error) {
	file, err := os.OpenFile(GetSessionLogPath(s.folder, s.sessionId), os.O_RDWR|os.O_CREATE|os.O_APPEND, osutil.PermissionOnlyOwnerReadWrite)
	if err != nil {
		return nil, err
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if runtime.GOOS == "windows" {
		encoderConfig.LineEnding = string(osutil.CRLF())
	}
	consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)

	zapLogger := zap.New(zapcore.NewCore(consoleEncoder, zapcore.Lock(file), s.atomicLevel))

	fileLogger := zapr.NewLogger(zapLogger)
	if s.name != "" {
		fileLogger = fileLogger.WithName(s.name)
	}

	return &sessionFileSink{
		file:   file,
		logger: fileLogger,
		flush:  func() { _ = zapLogger.Sync() },
	}, nil
}

var _ logr.LogSink = (*sessionSink)(nil)

// Copyright 2025 Longopass
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger provides structured JSON logging for the gateway services.
package logger

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// LogLevel represents the severity of a log entry
type LogLevel string

const (
	DEBUG LogLevel = "DEBUG"
	INFO  LogLevel = "INFO"
	WARN  LogLevel = "WARN"
	ERROR LogLevel = "ERROR"
)

// Logger writes structured log entries for one gateway component.
type Logger struct {
	Component string
	Service   string
	Host      string
}

// LogEntry is the JSON shape written to stdout for every log call.
type LogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     LogLevel               `json:"level"`
	Service   string                 `json:"service"`
	Component string                 `json:"component"`
	Host      string                 `json:"host"`
	RequestID string                 `json:"request_id,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// New creates a Logger for the named component.
func New(component string) *Logger {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	return &Logger{
		Component: component,
		Service:   "longopass-ai",
		Host:      host,
	}
}

// Log writes one structured entry to stdout.
func (l *Logger) Log(level LogLevel, requestID, userID, message string, fields map[string]interface{}) {
	entry := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Service:   l.Service,
		Component: l.Component,
		Host:      l.Host,
		RequestID: requestID,
		UserID:    userID,
		Message:   message,
		Fields:    fields,
	}

	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		// Fallback to plain text if JSON marshaling fails
		log.Printf("ERROR: Failed to marshal log entry: %v", err)
		return
	}

	log.Println(string(jsonBytes))
}

// Info logs an informational message
func (l *Logger) Info(requestID, userID, message string, fields map[string]interface{}) {
	l.Log(INFO, requestID, userID, message, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(requestID, userID, message string, fields map[string]interface{}) {
	l.Log(WARN, requestID, userID, message, fields)
}

// Error logs an error message
func (l *Logger) Error(requestID, userID, message string, fields map[string]interface{}) {
	l.Log(ERROR, requestID, userID, message, fields)
}

// Debug logs a debug message
func (l *Logger) Debug(requestID, userID, message string, fields map[string]interface{}) {
	l.Log(DEBUG, requestID, userID, message, fields)
}

// InfoWithDuration logs an info message with a duration_ms field attached.
func (l *Logger) InfoWithDuration(requestID, userID, message string, durationMS int64, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["duration_ms"] = durationMS
	l.Log(INFO, requestID, userID, message, fields)
}

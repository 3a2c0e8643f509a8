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

package logger

import (
	"bytes"
	"encoding/json"
	"log"
	"strings"
	"testing"
)

func captureOutput(fn func()) string {
	original := log.Writer()
	originalFlags := log.Flags()
	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.SetFlags(0)
	defer func() {
		log.SetOutput(original)
		log.SetFlags(originalFlags)
	}()
	fn()
	return buf.String()
}

func parseEntry(t *testing.T, output string) LogEntry {
	t.Helper()
	line := strings.TrimSpace(output)
	var entry LogEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("Failed to parse log output %q: %v", line, err)
	}
	return entry
}

func TestNew(t *testing.T) {
	l := New("http")

	if l.Component != "http" {
		t.Errorf("Expected component http, got %s", l.Component)
	}
	if l.Service != "longopass-ai" {
		t.Errorf("Expected service longopass-ai, got %s", l.Service)
	}
	if l.Host == "" {
		t.Error("Expected host to be set from hostname")
	}
}

func TestLogLevels(t *testing.T) {
	tests := []struct {
		name    string
		logFunc func(*Logger, string, string, string, map[string]interface{})
		level   LogLevel
	}{
		{"Info log", (*Logger).Info, INFO},
		{"Warn log", (*Logger).Warn, WARN},
		{"Error log", (*Logger).Error, ERROR},
		{"Debug log", (*Logger).Debug, DEBUG},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New("test-component")
			output := captureOutput(func() {
				tt.logFunc(l, "req-1", "user-7", "test message", map[string]interface{}{"key": "value"})
			})

			entry := parseEntry(t, output)
			if entry.Level != tt.level {
				t.Errorf("Expected level %s, got %s", tt.level, entry.Level)
			}
			if entry.RequestID != "req-1" {
				t.Errorf("Expected request ID req-1, got %s", entry.RequestID)
			}
			if entry.UserID != "user-7" {
				t.Errorf("Expected user ID user-7, got %s", entry.UserID)
			}
			if entry.Message != "test message" {
				t.Errorf("Expected message %q, got %q", "test message", entry.Message)
			}
			if entry.Fields["key"] != "value" {
				t.Errorf("Expected field key=value, got %v", entry.Fields["key"])
			}
		})
	}
}

func TestInfoWithDuration(t *testing.T) {
	l := New("orchestrator")
	output := captureOutput(func() {
		l.InfoWithDuration("req-2", "", "request completed", 150, nil)
	})

	entry := parseEntry(t, output)
	if entry.Fields["duration_ms"] != float64(150) {
		t.Errorf("Expected duration_ms 150, got %v", entry.Fields["duration_ms"])
	}
}

func TestOmitsEmptyIdentity(t *testing.T) {
	l := New("guard")
	output := captureOutput(func() {
		l.Info("", "", "anonymous call", nil)
	})

	if strings.Contains(output, "request_id") || strings.Contains(output, "user_id") {
		t.Errorf("Expected empty identity fields to be omitted, got %s", output)
	}
}

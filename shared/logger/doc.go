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

/*
Package logger provides structured JSON logging for the Longopass AI
Gateway.

Log entries are written to stdout as single-line JSON so they can be
consumed directly by CloudWatch or any other log aggregation system.

Each entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Service and component name
  - Host (for tracing across instances)
  - Request ID and user ID (for request correlation, omitted when empty)
  - Custom fields

Create a logger for your component and log with request context:

	log := logger.New("orchestrator")
	log.Info("req-123", "user-7", "fan-out completed", map[string]interface{}{
	    "candidates": 3,
	})

Duration tracking attaches a duration_ms field:

	start := time.Now()
	// ... do work ...
	log.InfoWithDuration("req-123", "", "request completed",
	    time.Since(start).Milliseconds(), nil)

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger

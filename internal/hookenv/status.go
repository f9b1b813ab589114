/*
Copyright 2024.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package hookenv

import (
	"bytes"
	"context"
	"strings"
)

// StatusName is a workload status a charm may set
type StatusName string

const (
	// StatusActive means the workload is serving
	StatusActive StatusName = "active"
	// StatusBlocked means human intervention is needed
	StatusBlocked StatusName = "blocked"
	// StatusWaiting means the charm waits on another application
	StatusWaiting StatusName = "waiting"
	// StatusMaintenance means the charm is busy with its own work
	StatusMaintenance StatusName = "maintenance"
)

// Status is a workload status with its message
type Status struct {
	Name    StatusName
	Message string
}

func (s Status) String() string {
	if s.Message == "" {
		return string(s.Name)
	}
	return string(s.Name) + ": " + s.Message
}

// ActiveStatus returns an active status
func ActiveStatus() Status {
	return Status{Name: StatusActive}
}

// BlockedStatus returns a blocked status with a message
func BlockedStatus(msg string) Status {
	return Status{Name: StatusBlocked, Message: msg}
}

// WaitingStatus returns a waiting status with a message
func WaitingStatus(msg string) Status {
	return Status{Name: StatusWaiting, Message: msg}
}

// MaintenanceStatus returns a maintenance status with a message
func MaintenanceStatus(msg string) Status {
	return Status{Name: StatusMaintenance, Message: msg}
}

// LogLevel is a juju-log level
type LogLevel string

const (
	LogInfo  LogLevel = "INFO"
	LogError LogLevel = "ERROR"
)

// LogWriter forwards everything written to it to juju-log, one call per line
type LogWriter struct {
	Context *Context
	Level   LogLevel
}

// Write implements io.Writer
func (w *LogWriter) Write(p []byte) (int, error) {
	level := w.Level
	if level == "" {
		level = LogInfo
	}
	for _, line := range bytes.Split(p, []byte("\n")) {
		msg := strings.TrimSpace(string(line))
		if msg == "" {
			continue
		}
		if err := w.Context.Log(context.Background(), level, msg); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

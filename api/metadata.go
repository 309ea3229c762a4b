// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package api

// SessionMetadata is the metadata the CLI publishes for a session.
type SessionMetadata struct {
	Path         string `json:"path"`
	Host         string `json:"host"`
	Version      string `json:"version,omitempty"`
	OS           string `json:"os,omitempty"`
	MachineID    string `json:"machineId,omitempty"`
	HomeDir      string `json:"homeDir,omitempty"`
	HappyHomeDir string `json:"happyHomeDir,omitempty"`
	Flavor       string `json:"flavor,omitempty"`
	StartedBy    string `json:"startedBy,omitempty"`
}

// MachineMetadata is the metadata the daemon publishes for its machine.
type MachineMetadata struct {
	Host            string `json:"host"`
	Platform        string `json:"platform"`
	HappyCLIVersion string `json:"happyCliVersion"`
	HomeDir         string `json:"homeDir"`
	HappyHomeDir    string `json:"happyHomeDir"`
}

// Daemon status values.
const (
	DaemonRunning      = "running"
	DaemonShuttingDown = "shutting-down"
	DaemonOffline      = "offline"
)

// DaemonState is the daemon's runtime state as published on its machine.
type DaemonState struct {
	Status              string `json:"status"`
	PID                 int    `json:"pid,omitempty"`
	HTTPPort            int    `json:"httpPort,omitempty"`
	StartedAt           int64  `json:"startedAt,omitempty"`
	ShutdownRequestedAt int64  `json:"shutdownRequestedAt,omitempty"`
	ShutdownSource      string `json:"shutdownSource,omitempty"`
}

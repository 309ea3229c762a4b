// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Enflame-Media/Magic-Agent-sub008/lib/encryption"
	"github.com/Enflame-Media/Magic-Agent-sub008/transport"
)

// MachineClient keeps a machine in sync over a machine-scoped socket,
// sends periodic machine-alive events and routes remote settings.
type MachineClient struct {
	client     *Client
	id         string
	cipher     encryption.Cipher
	socket     *transport.Client
	stopSocket func()
	settings   *SettingsReconciler
	logger     *slog.Logger

	metadata    *versionedField
	daemonState *versionedField

	cancelKeepAlive context.CancelFunc
	keepAliveDone   chan struct{}
	shutdownOnce    sync.Once
}

// OpenMachine connects a socket for machine and starts the keep-alive.
// Remote settings are applied to settings, which may be nil.
func (c *Client) OpenMachine(machine *Machine, settings SettingsApplier) (*MachineClient, error) {
	if err := c.checkDisposed(); err != nil {
		return nil, err
	}
	if machine == nil || machine.cipher == nil {
		return nil, fmt.Errorf("api: OpenMachine requires a machine returned by GetOrCreateMachine")
	}

	socket, err := c.newSocket(transport.Auth{ClientType: transport.MachineScoped, MachineID: machine.ID})
	if err != nil {
		return nil, err
	}
	logger := c.logger.With("machine_id", machine.ID)
	machineClient := &MachineClient{
		client: c,
		id:     machine.ID,
		cipher: machine.cipher,
		socket: socket,
		logger: logger,
		metadata: &versionedField{
			event:      "machine-update-metadata",
			idField:    "machineId",
			id:         machine.ID,
			valueField: "metadata",
			value:      machine.Metadata,
			version:    machine.MetadataVersion,
		},
		daemonState: &versionedField{
			event:      "machine-update-state",
			idField:    "machineId",
			id:         machine.ID,
			valueField: "daemonState",
			value:      machine.DaemonState,
			version:    machine.DaemonStateVersion,
		},
		keepAliveDone: make(chan struct{}),
	}
	if settings != nil {
		machineClient.settings = NewSettingsReconciler(settings, logger)
	}
	socket.On("update", transport.NewHandler(machineClient.handleUpdate))

	machineClient.stopSocket, err = c.startSocket(socket, func() error { return c.trackMachine(machineClient) })
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	machineClient.cancelKeepAlive = cancel
	go machineClient.keepAlive(ctx)
	return machineClient, nil
}

func (m *MachineClient) handleUpdate(event transport.Event) {
	var envelope updateEnvelope
	if err := json.Unmarshal(event.Data, &envelope); err != nil {
		m.logger.Warn("ignoring malformed update", "error", err)
		return
	}
	var kind updateBodyType
	if err := json.Unmarshal(envelope.Body, &kind); err != nil {
		m.logger.Warn("ignoring update without a type", "seq", envelope.Seq, "error", err)
		return
	}

	switch kind.T {
	case updateTypeMachine:
		var body updateMachineBody
		if err := json.Unmarshal(envelope.Body, &body); err != nil {
			m.logger.Warn("ignoring malformed machine update", "seq", envelope.Seq, "error", err)
			return
		}
		if body.MachineID != m.id {
			return
		}
		m.metadata.applyRemote(m.cipher, body.Metadata, m.logger)
		m.daemonState.applyRemote(m.cipher, body.DaemonState, m.logger)
	case updateTypeKVBatch:
		if m.settings != nil {
			m.settings.HandleBatch(envelope.Body)
		}
	}
}

func (m *MachineClient) keepAlive(ctx context.Context) {
	defer close(m.keepAliveDone)
	ticker := m.client.clock.NewTicker(m.client.keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := m.socket.Emit(ctx, "machine-alive", map[string]any{
				"machineId": m.id,
				"time":      m.client.clock.Now().UnixMilli(),
			})
			if err != nil {
				m.logger.Debug("machine keep-alive not sent", "error", err)
			}
		}
	}
}

// ID returns the machine ID.
func (m *MachineClient) ID() string { return m.id }

// Transport returns the machine's socket, for diagnostics.
func (m *MachineClient) Transport() *transport.Client { return m.socket }

// Metadata returns the local copy of the metadata and its version.
func (m *MachineClient) Metadata() (json.RawMessage, int64) { return m.metadata.snapshot() }

// DaemonState returns the local copy of the daemon state and its
// version.
func (m *MachineClient) DaemonState() (json.RawMessage, int64) { return m.daemonState.snapshot() }

// UpdateMetadata applies mutate to the machine metadata.
func (m *MachineClient) UpdateMetadata(ctx context.Context, mutate Mutator) (UpdateOutcome, error) {
	return m.metadata.update(ctx, m.socket, m.cipher, mutate, m.logger)
}

// UpdateDaemonState applies mutate to the daemon state.
func (m *MachineClient) UpdateDaemonState(ctx context.Context, mutate Mutator) (UpdateOutcome, error) {
	return m.daemonState.update(ctx, m.socket, m.cipher, mutate, m.logger)
}

// Shutdown stops the keep-alive and closes the socket. It returns once
// both have stopped. Idempotent.
func (m *MachineClient) Shutdown() {
	m.shutdownOnce.Do(func() {
		m.cancelKeepAlive()
		<-m.keepAliveDone
		m.stopSocket()
		m.client.untrackMachine(m)
		m.logger.Info("machine client shut down")
	})
}

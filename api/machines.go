// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// GetOrCreateMachine registers the machine or returns its existing
// record. Concurrent calls for the same ID share one request. A 403 or
// 409 means the ID belongs to another account and is reported as a
// *ReassociationError.
func (c *Client) GetOrCreateMachine(ctx context.Context, request MachineRequest) (*Machine, error) {
	if err := c.checkDisposed(); err != nil {
		return nil, err
	}
	if request.ID == "" {
		return nil, fmt.Errorf("api: machine ID is required")
	}
	if request.Metadata == nil {
		return nil, fmt.Errorf("api: machine metadata is required")
	}
	return c.machineRegistrations.Do(ctx, "machine:"+request.ID, func(ctx context.Context) (*Machine, error) {
		return c.registerMachine(ctx, request)
	})
}

func (c *Client) registerMachine(ctx context.Context, request MachineRequest) (*Machine, error) {
	var dataKey []byte
	if c.credentials.MachineKey != nil {
		dataKey = c.credentials.MachineKey.Bytes()
	}
	cipher, dataEncryptionKey, err := c.objectCipher(dataKey)
	if err != nil {
		return nil, err
	}

	metadata, err := seal(cipher, request.Metadata)
	if err != nil {
		return nil, fmt.Errorf("api: encrypting machine metadata: %w", err)
	}
	daemonState, err := sealOptional(cipher, request.DaemonState)
	if err != nil {
		return nil, fmt.Errorf("api: encrypting daemon state: %w", err)
	}

	var response machineResponse
	err = c.doRequest(ctx, http.MethodPost, "/v1/machines", createMachineRequest{
		ID:                request.ID,
		Metadata:          metadata,
		DaemonState:       daemonState,
		DataEncryptionKey: dataEncryptionKey,
	}, &response)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusForbidden || apiErr.StatusCode == http.StatusConflict) {
			c.logger.Error("machine is registered to another account",
				"machine_id", request.ID,
				"status", apiErr.StatusCode,
			)
			return nil, &ReassociationError{MachineID: request.ID, StatusCode: apiErr.StatusCode}
		}
		return nil, fmt.Errorf("api: registering machine: %w", err)
	}

	raw := response.Machine
	machine := &Machine{
		ID:                 request.ID,
		Variant:            cipher.Variant(),
		Metadata:           openOptional(cipher, raw.Metadata, c.logger, "metadata"),
		MetadataVersion:    raw.MetadataVersion,
		DaemonState:        openOptional(cipher, raw.DaemonState, c.logger, "daemonState"),
		DaemonStateVersion: raw.DaemonStateVersion,
		Active:             raw.Active,
		cipher:             cipher,
	}
	if raw.ID != "" && raw.ID != request.ID {
		return nil, fmt.Errorf("api: registered machine %q but server returned %q", request.ID, raw.ID)
	}
	c.logger.Info("machine registered",
		"machine_id", machine.ID,
		"variant", machine.Variant.String(),
		"metadata_version", machine.MetadataVersion,
		"daemon_state_version", machine.DaemonStateVersion,
	)
	return machine, nil
}

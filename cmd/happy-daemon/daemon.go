// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Enflame-Media/Magic-Agent-sub008/api"
	"github.com/Enflame-Media/Magic-Agent-sub008/lib/clock"
	"github.com/Enflame-Media/Magic-Agent-sub008/lib/config"
	"github.com/Enflame-Media/Magic-Agent-sub008/lib/credential"
	"github.com/Enflame-Media/Magic-Agent-sub008/lib/encryption"
	"github.com/Enflame-Media/Magic-Agent-sub008/lib/statefile"
	"github.com/Enflame-Media/Magic-Agent-sub008/lib/version"
	"github.com/Enflame-Media/Magic-Agent-sub008/transport"
)

// shutdownTimeout bounds the final state publish and disconnect.
const shutdownTimeout = 10 * time.Second

// machineIDFile holds the generated machine ID inside the home
// directory.
const machineIDFile = "machine.id"

type daemonOptions struct {
	config    *config.Config
	machineID string
	logger    *slog.Logger

	// Overridable for tests.
	dialer transport.Dialer
	clock  clock.Clock
}

// Daemon owns the relay connection for one machine.
type Daemon struct {
	config    *config.Config
	machineID string
	logger    *slog.Logger
	dialer    transport.Dialer
	clock     clock.Clock
	engine    *encryption.Engine

	credentials *credential.Credentials
	keyStore    *credential.KeyStore
	keys        *encryption.KeyVersionManager
	local       *localState

	client  *api.Client
	machine *api.MachineClient

	stateMu sync.Mutex
	state   api.DaemonState

	background sync.WaitGroup
}

func newDaemon(options daemonOptions) (*Daemon, error) {
	if options.config == nil {
		return nil, errors.New("daemon: config is required")
	}
	daemon := &Daemon{
		config:    options.config,
		machineID: options.machineID,
		logger:    options.logger,
		dialer:    options.dialer,
		clock:     options.clock,
		engine:    encryption.NewEngine(),
	}
	if daemon.logger == nil {
		daemon.logger = slog.Default()
	}
	if daemon.clock == nil {
		daemon.clock = clock.Real()
	}
	return daemon, nil
}

// run starts the daemon and blocks until ctx is done, then shuts down.
func (d *Daemon) run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	if err := d.start(ctx); err != nil {
		d.close()
		return err
	}

	var metrics *metricsServer
	if d.config.Metrics.Listen != "" {
		registry, err := newMetricsRegistry(
			transport.NewCollector(d.machine.Transport(), prometheus.Labels{"client_type": string(transport.MachineScoped)}),
		)
		if err == nil {
			metrics, err = startMetrics(d.config.Metrics.Listen, registry, d.logger)
		}
		if err != nil {
			cancel()
			d.shutdown("startup-failure")
			return err
		}
	}

	<-ctx.Done()
	d.logger.Info("shutdown requested")
	if metrics != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		metrics.stop(stopCtx)
		cancel()
	}
	d.shutdown("signal")
	return nil
}

// start loads credentials and key state, registers the machine and
// publishes the running state once the socket is up.
func (d *Daemon) start(ctx context.Context) error {
	credentials, err := credential.Load(d.config.Paths.Credentials)
	if err != nil {
		return err
	}
	d.credentials = credentials

	if err := d.openKeys(); err != nil {
		return err
	}

	if d.machineID == "" {
		machineID, err := loadOrCreateMachineID(filepath.Join(d.config.Paths.Home, machineIDFile))
		if err != nil {
			return err
		}
		d.machineID = machineID
	}

	client, err := api.NewClient(api.Config{
		ServerURL:   d.config.Server.URL,
		Credentials: d.credentials,
		HTTPClient:  &http.Client{Timeout: d.config.Server.HTTPTimeout},
		Engine:      d.engine,
		Socket: api.SocketConfig{
			Dialer: d.dialer,
			Backoff: transport.Backoff{
				Base:         d.config.Transport.ReconnectBase,
				Max:          d.config.Transport.ReconnectMax,
				JitterFactor: d.config.Transport.JitterFactor,
			},
			AckTimeout: d.config.Transport.AckTimeout,
		},
		KeepAliveInterval: d.config.Transport.KeepAliveInterval,
		Clock:             d.clock,
		Logger:            d.logger,
	})
	if err != nil {
		return err
	}
	d.client = client

	d.setState(api.DaemonState{
		Status:    api.DaemonRunning,
		PID:       os.Getpid(),
		StartedAt: d.clock.Now().UnixMilli(),
	})
	machine, err := client.GetOrCreateMachine(ctx, api.MachineRequest{
		ID:          d.machineID,
		Metadata:    d.machineMetadata(),
		DaemonState: d.currentState(),
	})
	if err != nil {
		return err
	}

	notifier := api.NewContextNotifier(api.LogPushSender{Logger: d.logger}, d.logger)
	d.machine, err = client.OpenMachine(machine, notifier)
	if err != nil {
		return err
	}

	d.writeLocalState()
	d.background.Add(1)
	go func() {
		defer d.background.Done()
		select {
		case <-d.machine.Transport().Ready():
			d.publishState(ctx)
		case <-ctx.Done():
		}
	}()
	d.logger.Info("daemon started",
		"machine_id", d.machineID,
		"server", d.config.Server.URL,
		"variant", machine.Variant.String(),
	)
	return nil
}

// openKeys loads the sealed key state and starts rotation if enabled.
// Every rotation is persisted and the local state re-encrypted.
func (d *Daemon) openKeys() error {
	keyStore, err := credential.OpenKeyStore(credential.KeyStoreConfig{
		StatePath:       d.config.Paths.KeyState,
		IdentityPath:    d.config.Paths.KeyIdentity,
		EscrowRecipient: d.config.Encryption.EscrowRecipient,
		Logger:          d.logger,
	})
	if err != nil {
		return err
	}
	d.keyStore = keyStore

	keys, err := keyStore.Load(encryption.KeyVersionConfig{
		Engine:    d.engine,
		Retention: d.config.Encryption.KeyRetention,
		Clock:     d.clock,
		Logger:    d.logger,
		OnRotate:  d.keysRotated,
	})
	if err != nil {
		return err
	}
	d.keys = keys
	d.local = &localState{path: d.config.Paths.DaemonState, cipher: keys}

	if interval := d.config.Encryption.AutoRotateInterval; interval > 0 {
		if err := keys.StartAutoRotation(interval); err != nil {
			return err
		}
	}
	return nil
}

func (d *Daemon) keysRotated(keyVersion uint16) {
	if err := d.keyStore.Save(d.keys); err != nil {
		d.logger.Error("persisting rotated key state", "version", keyVersion, "error", err)
		return
	}
	d.writeLocalState()
}

func (d *Daemon) machineMetadata() api.MachineMetadata {
	host, _ := os.Hostname()
	home, _ := os.UserHomeDir()
	return api.MachineMetadata{
		Host:            host,
		Platform:        runtime.GOOS,
		HappyCLIVersion: version.Short(),
		HomeDir:         home,
		HappyHomeDir:    d.config.Paths.Home,
	}
}

func (d *Daemon) setState(state api.DaemonState) {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	d.state = state
}

func (d *Daemon) currentState() api.DaemonState {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.state
}

func (d *Daemon) writeLocalState() {
	if d.local == nil {
		return
	}
	if err := d.local.write(d.currentState()); err != nil {
		d.logger.Warn("local daemon state not written", "path", d.local.path, "error", err)
	}
}

// publishState pushes the current state to the server. The server copy
// is replaced wholesale, so retries after a conflict simply resend it.
func (d *Daemon) publishState(ctx context.Context) {
	state := d.currentState()
	outcome, err := d.machine.UpdateDaemonState(ctx, func(json.RawMessage) (any, error) {
		return state, nil
	})
	if err != nil {
		d.logger.Warn("daemon state not published", "status", state.Status, "error", err)
		return
	}
	if outcome.Result != api.UpdateSuccess {
		d.logger.Warn("daemon state not accepted",
			"status", state.Status,
			"result", outcome.Result.String(),
			"message", outcome.Message,
		)
		return
	}
	d.logger.Debug("daemon state published", "status", state.Status, "version", outcome.Version)
}

// shutdown publishes shutting-down and releases everything.
func (d *Daemon) shutdown(source string) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	d.background.Wait()
	state := d.currentState()
	state.Status = api.DaemonShuttingDown
	state.ShutdownRequestedAt = d.clock.Now().UnixMilli()
	state.ShutdownSource = source
	d.setState(state)
	d.writeLocalState()
	if d.machine != nil {
		d.publishState(ctx)
	}
	d.close()
	d.logger.Info("daemon stopped", "source", source)
}

// close disconnects and releases key material. Safe after a partial
// start.
func (d *Daemon) close() {
	if d.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := d.client.Dispose(ctx); err != nil {
			d.logger.Warn("disposing api client", "error", err)
		}
		cancel()
	}
	if d.keys != nil {
		d.keys.Close()
	}
	if d.keyStore != nil {
		d.keyStore.Close()
	}
	if d.credentials != nil {
		d.credentials.Close()
	}
}

// loadOrCreateMachineID returns the ID stored at path, generating and
// saving a new one on first use.
func loadOrCreateMachineID(path string) (string, error) {
	data, found, err := statefile.Read(path)
	if err != nil {
		return "", err
	}
	if found {
		machineID := string(bytes.TrimSpace(data))
		if machineID == "" {
			return "", fmt.Errorf("%s is empty; delete it to generate a new machine ID", path)
		}
		return machineID, nil
	}
	machineID := uuid.NewString()
	if err := statefile.Write(path, []byte(machineID+"\n")); err != nil {
		return "", err
	}
	return machineID, nil
}

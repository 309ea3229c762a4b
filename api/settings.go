// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
)

// ContextNotificationsKey is the remote setting that controls context
// notifications. An absent or null value means enabled.
const ContextNotificationsKey = "contextNotificationsEnabled"

// SettingsApplier receives the reconciled context-notification setting.
type SettingsApplier interface {
	SetEnabled(enabled bool)
}

// KVEntry is one change in a kv-batch-update. A nil Value means the key
// was deleted.
type KVEntry struct {
	Key     string  `json:"key"`
	Value   *string `json:"value"`
	Version int64   `json:"version"`
}

// SettingsReconciler applies server-pushed key/value settings. Only
// recognized keys have any effect.
type SettingsReconciler struct {
	applier SettingsApplier
	logger  *slog.Logger
}

// NewSettingsReconciler returns a reconciler that drives applier.
func NewSettingsReconciler(applier SettingsApplier, logger *slog.Logger) *SettingsReconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsReconciler{applier: applier, logger: logger}
}

// HandleBatch applies a kv-batch-update body. Malformed bodies and
// entries are logged and skipped. It returns the number of settings
// applied.
func (r *SettingsReconciler) HandleBatch(body json.RawMessage) int {
	var batch struct {
		Changes []json.RawMessage `json:"changes"`
	}
	if err := json.Unmarshal(body, &batch); err != nil {
		r.logger.Warn("ignoring malformed kv batch", "error", err)
		return 0
	}

	entries := make([]KVEntry, 0, len(batch.Changes))
	for index, raw := range batch.Changes {
		var entry KVEntry
		if err := json.Unmarshal(raw, &entry); err != nil || entry.Key == "" {
			r.logger.Warn("skipping malformed kv entry", "index", index, "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	return r.Apply(entries)
}

// Apply processes entries in order and returns how many were applied.
func (r *SettingsReconciler) Apply(entries []KVEntry) int {
	applied := 0
	for _, entry := range entries {
		switch entry.Key {
		case ContextNotificationsKey:
			enabled, ok := r.parseBool(entry, true)
			if !ok {
				continue
			}
			r.applier.SetEnabled(enabled)
			applied++
			r.logger.Info("applied remote setting",
				"key", entry.Key,
				"value", enabled,
				"version", entry.Version,
			)
		default:
			r.logger.Debug("ignoring unrecognized setting", "key", entry.Key)
		}
	}
	return applied
}

// parseBool decodes a JSON boolean setting. A null value yields
// fallback.
func (r *SettingsReconciler) parseBool(entry KVEntry, fallback bool) (bool, bool) {
	if entry.Value == nil {
		return fallback, true
	}
	var value bool
	if err := json.Unmarshal([]byte(*entry.Value), &value); err != nil {
		r.logger.Warn("skipping setting with invalid value",
			"key", entry.Key,
			"version", entry.Version,
			"error", err,
		)
		return false, false
	}
	return value, true
}

// PushSender delivers a notification to every device on the account.
type PushSender interface {
	SendToAllDevices(ctx context.Context, title, body string, data map[string]any) error
}

// LogPushSender records notifications in the log instead of delivering
// them.
type LogPushSender struct {
	Logger *slog.Logger
}

func (s LogPushSender) SendToAllDevices(ctx context.Context, title, body string, data map[string]any) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "push notification", "title", title, "body", body, "data", data)
	return nil
}

// ContextNotifier forwards context notifications to a PushSender while
// the remote setting allows it. It is the SettingsApplier for
// ContextNotificationsKey and starts enabled.
type ContextNotifier struct {
	sender  PushSender
	logger  *slog.Logger
	enabled atomic.Bool
}

// NewContextNotifier returns an enabled notifier.
func NewContextNotifier(sender PushSender, logger *slog.Logger) *ContextNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	notifier := &ContextNotifier{sender: sender, logger: logger}
	notifier.enabled.Store(true)
	return notifier
}

// SetEnabled implements SettingsApplier.
func (n *ContextNotifier) SetEnabled(enabled bool) {
	if n.enabled.Swap(enabled) != enabled {
		n.logger.Info("context notifications toggled", "enabled", enabled)
	}
}

// Enabled reports the current setting.
func (n *ContextNotifier) Enabled() bool { return n.enabled.Load() }

// Notify sends a notification unless context notifications are
// disabled. It reports whether one was sent.
func (n *ContextNotifier) Notify(ctx context.Context, title, body string, data map[string]any) (bool, error) {
	if !n.enabled.Load() {
		n.logger.Debug("context notification suppressed", "title", title)
		return false, nil
	}
	if err := n.sender.SendToAllDevices(ctx, title, body, data); err != nil {
		return false, err
	}
	return true, nil
}

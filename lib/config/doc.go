// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the Happy
// daemon.
//
// Configuration is loaded from a single file named by either the
// HAPPY_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). Missing fields keep the values from [Default].
//
// The file may carry environment-specific sections (development,
// staging, production) that override base values when
// [Config].Environment matches.
//
// Path fields are expanded after loading: ${HOME}, ${HAPPY_HOME_DIR}
// and ${VAR:-default} patterns. No other environment variables
// override config values.
//
// Key exports:
//
//   - [Config] -- server, transport, encryption, paths, logging, metrics
//   - [Default] -- a Config with development defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
package config

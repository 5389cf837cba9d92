// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the YAML configuration of the repotool command.
//
// The file comes from exactly one place: the REPOSTORE_CONFIG
// environment variable ([Load]) or an explicit --config flag
// ([LoadFile]). Without either, repotool runs on [Default]. There is no
// discovery of files in well-known locations.
//
// After loading, ${HOME} and ${VAR:-default} patterns in path fields
// are expanded. [Config.Validate] reports every invalid field in one
// joined error.
//
//	repositories: ${HOME}/repos
//	default_storage: sqlite
//	default_hash_method: BLAKE3/256
//	log_level: info
//	compression: auto
//	busy_retries: 5
//	sqlite:
//	  pool_size: 4
//	  busy_timeout: 10s
package config

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/repostore/lib/repoerr"
)

// Descriptor keys every storage implementation understands.
const (
	// KeyStorage selects the storage implementation by name.
	KeyStorage = "storage"

	// KeyPath is the location of the repository's on-disk state.
	KeyPath = "path"
)

// DescriptorFile is the name repotool gives a descriptor stored inside
// a repository directory.
const DescriptorFile = "descriptor.json"

// Descriptor is the key/value document that names a repository
// instance: which storage implementation holds it and where. Keys other
// than storage and path are implementation-specific.
type Descriptor map[string]string

// NewDescriptor returns a descriptor for the given implementation and
// path.
func NewDescriptor(storageName, path string) Descriptor {
	return Descriptor{KeyStorage: storageName, KeyPath: path}
}

// ParseDescriptor parses a JSON descriptor. Comments and trailing
// commas are accepted. Number and boolean values are kept in their
// JSON text form.
func ParseDescriptor(data []byte) (Descriptor, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(jsonc.ToJSON(data), &raw); err != nil {
		return nil, fmt.Errorf("parsing descriptor: %v: %w", err, repoerr.ErrInvalidArgument)
	}
	descriptor := make(Descriptor, len(raw))
	for key, value := range raw {
		var text string
		if err := json.Unmarshal(value, &text); err == nil {
			descriptor[key] = text
			continue
		}
		var scalar any
		if err := json.Unmarshal(value, &scalar); err != nil {
			return nil, fmt.Errorf("descriptor key %q: %v: %w", key, err, repoerr.ErrInvalidArgument)
		}
		switch scalar.(type) {
		case float64, bool:
			descriptor[key] = string(value)
		default:
			return nil, fmt.Errorf("descriptor key %q must be a string, number or boolean: %w",
				key, repoerr.ErrInvalidArgument)
		}
	}
	if descriptor.Storage() == "" {
		return nil, fmt.Errorf("descriptor has no %q key: %w", KeyStorage, repoerr.ErrInvalidArgument)
	}
	return descriptor, nil
}

// LoadDescriptor reads a descriptor file. When path is a directory,
// the descriptor inside it is read. A relative path value is resolved
// against the directory holding the descriptor file.
func LoadDescriptor(path string) (Descriptor, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("loading descriptor: %w", err)
	}
	if info.IsDir() {
		path = filepath.Join(path, DescriptorFile)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading descriptor: %w", err)
	}
	descriptor, err := ParseDescriptor(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if p := descriptor.Path(); p != "" && !filepath.IsAbs(p) {
		descriptor[KeyPath] = filepath.Join(filepath.Dir(path), p)
	}
	return descriptor, nil
}

// Storage returns the storage implementation name.
func (d Descriptor) Storage() string { return d[KeyStorage] }

// Path returns the on-disk location.
func (d Descriptor) Path() string { return d[KeyPath] }

// Get returns the value of key, or "" when absent.
func (d Descriptor) Get(key string) string { return d[key] }

// Int returns key parsed as an integer, or fallback when absent.
func (d Descriptor) Int(key string, fallback int) (int, error) {
	value, ok := d[key]
	if !ok || value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("descriptor key %q: %q is not an integer: %w", key, value, repoerr.ErrInvalidArgument)
	}
	return parsed, nil
}

// Bool returns key parsed as a boolean, or false when absent.
func (d Descriptor) Bool(key string) (bool, error) {
	value, ok := d[key]
	if !ok || value == "" {
		return false, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("descriptor key %q: %q is not a boolean: %w", key, value, repoerr.ErrInvalidArgument)
	}
	return parsed, nil
}

// Duration returns key parsed as a Go duration, or fallback when
// absent.
func (d Descriptor) Duration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := d[key]
	if !ok || value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("descriptor key %q: %v: %w", key, err, repoerr.ErrInvalidArgument)
	}
	return parsed, nil
}

// RequirePath returns the path value or an error naming the
// implementation that needs it.
func (d Descriptor) RequirePath() (string, error) {
	if d.Path() == "" {
		return "", fmt.Errorf("%s descriptor has no %q key: %w", d.Storage(), KeyPath, repoerr.ErrInvalidArgument)
	}
	return d.Path(), nil
}

// Marshal returns the descriptor as indented JSON with sorted keys.
func (d Descriptor) Marshal() ([]byte, error) {
	if d == nil {
		d = Descriptor{}
	}
	data, err := json.MarshalIndent(map[string]string(d), "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Clone returns a copy of d.
func (d Descriptor) Clone() Descriptor {
	clone := make(Descriptor, len(d))
	for key, value := range d {
		clone[key] = value
	}
	return clone
}

// Copyright (C) 2025 PermissionsEx contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the pex CLI configuration from
// ~/.permissionsex/pex.yaml, creating a default file on first run.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Str4nger14/PermissionsEx/services/permissions/datastore"
)

// Backend declares one configured store backend.
type Backend struct {
	// Type is the registered backend type name ("memory", "badger").
	Type string `yaml:"type" validate:"required"`
	// Options are passed to the backend factory undecoded.
	Options yaml.Node `yaml:"options"`
}

// Config is the full CLI configuration.
type Config struct {
	// DefaultBackend names the backend commands operate on unless
	// overridden with a flag.
	DefaultBackend string `yaml:"default-backend" validate:"required"`
	// Backends maps instance names to backend declarations.
	Backends map[string]Backend `yaml:"backends" validate:"required,min=1,dive"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log-level" validate:"omitempty,oneof=debug info warn error"`
	// LogDir enables file logging when set.
	LogDir string `yaml:"log-dir"`
}

var (
	// Global is a singleton instance.
	Global Config
	once   sync.Once
)

// DefaultConfig returns the configuration written on first run: a badger
// backend under ~/.permissionsex/data.
func DefaultConfig() Config {
	var options yaml.Node
	_ = options.Encode(map[string]string{"path": defaultDataDir()})
	return Config{
		DefaultBackend: "main",
		Backends: map[string]Backend{
			"main": {Type: "badger", Options: options},
		},
		LogLevel: "info",
	}
}

// Load ensures the config is loaded into the Global variable.
func Load() error {
	var err error
	once.Do(func() {
		err = loadInternal()
	})
	return err
}

func loadInternal() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("could not find the user's home directory: %w", err)
	}
	configPath := filepath.Join(home, ".permissionsex", "pex.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fmt.Printf("First run detected, creating the config at %s\n", configPath)
		if err := createDefault(configPath); err != nil {
			return err
		}
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read the config file: %w", err)
	}
	return Parse(data, &Global)
}

// Parse decodes and validates a configuration document into out.
func Parse(data []byte, out *Config) error {
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse the config: %w", err)
	}
	if err := validator.New().Struct(out); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, ok := out.Backends[out.DefaultBackend]; !ok {
		return fmt.Errorf("default-backend %q is not declared under backends", out.DefaultBackend)
	}
	return nil
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	defaultCfg := DefaultConfig()
	data, err := yaml.Marshal(defaultCfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0640)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "permissionsex-data")
	}
	return filepath.Join(home, ".permissionsex", "data")
}

// CreateStore instantiates the named backend through the datastore
// registry.
func (c *Config) CreateStore(name string) (datastore.Store, error) {
	backend, ok := c.Backends[name]
	if !ok {
		return nil, fmt.Errorf("backend %q is not declared in the config", name)
	}
	options := &backend.Options
	if backend.Options.IsZero() {
		options = nil
	}
	return datastore.Create(backend.Type, name, options)
}

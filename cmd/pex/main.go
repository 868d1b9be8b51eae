// Copyright (C) 2025 PermissionsEx contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// pex is the administration CLI for the PermissionsEx subject directory:
// it inspects and migrates subject data, rank ladders and context
// inheritance across the configured store backends.
package main

import (
	"context"
	"log"

	"github.com/spf13/cobra"

	"github.com/Str4nger14/PermissionsEx/cmd/pex/config"
	"github.com/Str4nger14/PermissionsEx/pkg/logging"
	"github.com/Str4nger14/PermissionsEx/services/permissions"

	// Register the built-in store backends.
	_ "github.com/Str4nger14/PermissionsEx/services/permissions/datastore/badgerstore"
	_ "github.com/Str4nger14/PermissionsEx/services/permissions/datastore/memory"
)

var (
	backendFlag string
	logger      *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "pex",
	Short: "Administer the PermissionsEx subject directory",
	Long: `pex inspects and maintains the permission store: subject snapshots,
rank ladders and the context-inheritance graph. It operates directly on the
backends declared in ~/.permissionsex/pex.yaml.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "",
		"backend instance to operate on (default: the configured default-backend)")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if err := config.Load(); err != nil {
			log.Fatalf("Error loading configuration: %v", err)
		}
		logger = logging.New(logging.Config{
			Level:   parseLevel(config.Global.LogLevel),
			LogDir:  config.Global.LogDir,
			Service: "pex",
		})
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Close()
		}
	}
}

func parseLevel(name string) logging.Level {
	switch name {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

// selectedBackend resolves the backend instance the command operates on.
func selectedBackend() string {
	if backendFlag != "" {
		return backendFlag
	}
	return config.Global.DefaultBackend
}

// openEngine creates an engine on the selected backend. The caller owns the
// returned engine and must Close it.
func openEngine(ctx context.Context) (*permissions.Engine, error) {
	store, err := config.Global.CreateStore(selectedBackend())
	if err != nil {
		return nil, err
	}
	engine, err := permissions.NewEngine(ctx, store, permissions.WithLogger(logger.Slog()))
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return engine, nil
}

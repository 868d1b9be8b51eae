// Copyright (C) 2025 PermissionsEx contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLevelString verifies level names.
func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "INFO", LevelInfo.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "ERROR", LevelError.String())
}

// TestExporterReceivesEntries verifies entries at or above the configured
// level reach the exporter with their attributes.
func TestExporterReceivesEntries(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{
		Level:    LevelInfo,
		Service:  "test",
		Quiet:    true,
		Exporter: exporter,
	})
	defer logger.Close()

	logger.Info("subject loaded", "type", "user", "identifier", "alice")
	logger.Debug("should be filtered")

	entries := exporter.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "subject loaded", entries[0].Message)
	assert.Equal(t, LevelInfo, entries[0].Level)
	assert.Equal(t, "test", entries[0].Service)
	assert.Equal(t, "user", entries[0].Attrs["type"])
	assert.Equal(t, "alice", entries[0].Attrs["identifier"])
	assert.WithinDuration(t, time.Now(), entries[0].Timestamp, time.Minute)
}

// TestWithCarriesAttributes verifies child loggers share the exporter.
func TestWithCarriesAttributes(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{Level: LevelInfo, Quiet: true, Exporter: exporter})
	defer logger.Close()

	child := logger.With("job_id", "42")
	child.Info("started")

	entries := exporter.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "started", entries[0].Message)
}

// TestFileLogging verifies the dated JSON log file is created and written.
func TestFileLogging(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		Level:   LevelInfo,
		LogDir:  dir,
		Service: "test",
		Quiet:   true,
	})

	logger.Info("persisted entry", "key", "value")
	require.NoError(t, logger.Close())

	filename := "test_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, filename))
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal(data, &record))
	assert.Equal(t, "persisted entry", record["msg"])
	assert.Equal(t, "value", record["key"])
	assert.Equal(t, "test", record["service"])
}

// TestCloseIsSafeWithoutResources verifies Close on a plain stderr logger.
func TestCloseIsSafeWithoutResources(t *testing.T) {
	logger := Default()
	assert.NoError(t, logger.Close())
}

// TestArgsToMap verifies attribute pairing skips non-string keys and
// dangling values.
func TestArgsToMap(t *testing.T) {
	attrs := argsToMap([]any{"a", 1, 2, "ignored", "b", "x", "dangling"})
	assert.Equal(t, map[string]any{"a": 1, "b": "x"}, attrs)
}

// Copyright (C) 2025 PermissionsEx contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/Str4nger14/PermissionsEx/services/permissions/contexts"
)

var checkContexts []string

var checkCmd = &cobra.Command{
	Use:   "check <type> <identifier> <permission>",
	Short: "Resolve a permission for a subject and print the tristate result",
	Long: `check loads the subject through the full resolution chain (direct
segments, parents, type defaults, global defaults) in the given context set
and prints allow, deny or undefined along with the raw weight.`,
	Args: cobra.ExactArgs(3),
	Run:  runCheck,
}

func runCheck(cmd *cobra.Command, args []string) {
	values := make([]contexts.Value, 0, len(checkContexts))
	for _, raw := range checkContexts {
		v, err := contexts.ParseValue(raw)
		if err != nil {
			log.Fatalf("Invalid --context %q: %v", raw, err)
		}
		values = append(values, v)
	}
	set := contexts.NewSet(values...)

	engine, err := openEngine(cmd.Context())
	if err != nil {
		log.Fatalf("Error opening backend: %v", err)
	}
	defer engine.Close()

	collection, err := engine.Subjects(cmd.Context(), args[0])
	if err != nil {
		log.Fatalf("Error loading collection %q: %v", args[0], err)
	}
	subj, err := collection.Load(cmd.Context(), args[1])
	if err != nil {
		log.Fatalf("Error loading subject %s:%s: %v", args[0], args[1], err)
	}

	weight, err := subj.Permission(cmd.Context(), set, args[2])
	if err != nil {
		log.Fatalf("Error resolving permission %q: %v", args[2], err)
	}
	value, err := subj.PermissionValue(cmd.Context(), set, args[2])
	if err != nil {
		log.Fatalf("Error resolving permission %q: %v", args[2], err)
	}
	fmt.Printf("%s (weight %d)\n", value, weight)
}

func init() {
	checkCmd.Flags().StringArrayVar(&checkContexts, "context", nil,
		"context value key=value, repeatable (default: global context)")
	rootCmd.AddCommand(checkCmd)
}

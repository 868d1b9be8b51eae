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
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List every subject type with stored data",
	Args:  cobra.NoArgs,
	Run:   runTypes,
}

var subjectsCmd = &cobra.Command{
	Use:   "subjects <type>",
	Short: "List every identifier stored under a subject type",
	Args:  cobra.ExactArgs(1),
	Run:   runSubjects,
}

var dumpCmd = &cobra.Command{
	Use:   "dump <type> <identifier>",
	Short: "Print the stored snapshot for a subject as YAML",
	Args:  cobra.ExactArgs(2),
	Run:   runDump,
}

func runTypes(cmd *cobra.Command, args []string) {
	engine, err := openEngine(cmd.Context())
	if err != nil {
		log.Fatalf("Error opening backend: %v", err)
	}
	defer engine.Close()

	types, err := engine.Store().RegisteredTypes(cmd.Context())
	if err != nil {
		log.Fatalf("Error listing subject types: %v", err)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Println(t)
	}
}

func runSubjects(cmd *cobra.Command, args []string) {
	engine, err := openEngine(cmd.Context())
	if err != nil {
		log.Fatalf("Error opening backend: %v", err)
	}
	defer engine.Close()

	identifiers, err := engine.Store().AllIdentifiers(cmd.Context(), args[0])
	if err != nil {
		log.Fatalf("Error listing subjects of type %q: %v", args[0], err)
	}
	sort.Strings(identifiers)
	for _, id := range identifiers {
		fmt.Println(id)
	}
}

func runDump(cmd *cobra.Command, args []string) {
	engine, err := openEngine(cmd.Context())
	if err != nil {
		log.Fatalf("Error opening backend: %v", err)
	}
	defer engine.Close()

	registered, err := engine.Store().IsRegistered(cmd.Context(), args[0], args[1])
	if err != nil {
		log.Fatalf("Error checking subject %s:%s: %v", args[0], args[1], err)
	}
	if !registered {
		log.Fatalf("No data stored for subject %s:%s", args[0], args[1])
	}
	data, err := engine.Store().Get(cmd.Context(), args[0], args[1])
	if err != nil {
		log.Fatalf("Error loading subject %s:%s: %v", args[0], args[1], err)
	}
	out, err := yaml.Marshal(data.Model())
	if err != nil {
		log.Fatalf("Error encoding snapshot: %v", err)
	}
	fmt.Print(string(out))
}

func init() {
	rootCmd.AddCommand(typesCmd)
	rootCmd.AddCommand(subjectsCmd)
	rootCmd.AddCommand(dumpCmd)
}

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
)

var laddersCmd = &cobra.Command{
	Use:   "ladders [name]",
	Short: "List rank ladders, or show one ladder's ranks low to high",
	Args:  cobra.MaximumNArgs(1),
	Run:   runLadders,
}

func runLadders(cmd *cobra.Command, args []string) {
	engine, err := openEngine(cmd.Context())
	if err != nil {
		log.Fatalf("Error opening backend: %v", err)
	}
	defer engine.Close()

	if len(args) == 0 {
		names, err := engine.LadderNames(cmd.Context())
		if err != nil {
			log.Fatalf("Error listing ladders: %v", err)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Println(name)
		}
		return
	}

	ladder, err := engine.Ladder(cmd.Context(), args[0])
	if err != nil {
		log.Fatalf("Error loading ladder %q: %v", args[0], err)
	}
	if ladder.Len() == 0 {
		fmt.Printf("ladder %q is empty\n", ladder.Name())
		return
	}
	for i, ref := range ladder.Ranks() {
		fmt.Printf("%d. %s\n", i, ref)
	}
}

func init() {
	rootCmd.AddCommand(laddersCmd)
}

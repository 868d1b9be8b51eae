// Copyright (C) 2025 PermissionsEx contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Str4nger14/PermissionsEx/cmd/pex/config"
	"github.com/Str4nger14/PermissionsEx/services/permissions/datastore"
	"github.com/Str4nger14/PermissionsEx/services/permissions/subject"
)

var (
	migrateFrom string
	migrateTo   string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate --from <backend> --to <backend>",
	Short: "Copy all subjects, rank ladders and context inheritance between backends",
	Long: `migrate bulk-copies every stored subject snapshot, every rank ladder and
the context-inheritance graph from one configured backend to another. Existing
data in the destination is overwritten key by key; keys present only in the
destination are left alone.`,
	Args: cobra.NoArgs,
	Run:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) {
	if migrateFrom == migrateTo {
		log.Fatalf("--from and --to name the same backend %q", migrateFrom)
	}

	src, err := config.Global.CreateStore(migrateFrom)
	if err != nil {
		log.Fatalf("Error opening source backend: %v", err)
	}
	defer src.Close()
	dst, err := config.Global.CreateStore(migrateTo)
	if err != nil {
		log.Fatalf("Error opening destination backend: %v", err)
	}
	defer dst.Close()

	ctx := cmd.Context()
	if _, err := src.Initialize(ctx); err != nil {
		log.Fatalf("Error initializing source backend: %v", err)
	}
	if _, err := dst.Initialize(ctx); err != nil {
		log.Fatalf("Error initializing destination backend: %v", err)
	}

	jobID := uuid.NewString()
	jobLog := logger.With("job_id", jobID, "from", migrateFrom, "to", migrateTo)
	jobLog.Info("Starting migration")

	var subjects, ladders int
	err = dst.BulkOperation(ctx, func(ctx context.Context, dst datastore.Store) error {
		var iterErr error
		if err := src.All(ctx, func(ref subject.Ref, data subject.Data) bool {
			if _, iterErr = dst.Set(ctx, ref.Type, ref.Identifier, data); iterErr != nil {
				return false
			}
			subjects++
			return true
		}); err != nil {
			return fmt.Errorf("scanning source subjects: %w", err)
		}
		if iterErr != nil {
			return fmt.Errorf("copying subject: %w", iterErr)
		}

		names, err := src.AllRankLadderNames(ctx)
		if err != nil {
			return fmt.Errorf("listing source ladders: %w", err)
		}
		for _, name := range names {
			ladder, err := src.GetRankLadder(ctx, name)
			if err != nil {
				return fmt.Errorf("loading ladder %q: %w", name, err)
			}
			if _, err := dst.SetRankLadder(ctx, name, ladder); err != nil {
				return fmt.Errorf("copying ladder %q: %w", name, err)
			}
			ladders++
		}

		inheritance, err := src.ContextInheritance(ctx)
		if err != nil {
			return fmt.Errorf("loading context inheritance: %w", err)
		}
		if _, err := dst.SetContextInheritance(ctx, inheritance); err != nil {
			return fmt.Errorf("copying context inheritance: %w", err)
		}
		return nil
	})
	if err != nil {
		jobLog.Error("Migration failed", "error", err)
		log.Fatalf("Migration failed: %v", err)
	}

	jobLog.Info("Migration complete", "subjects", subjects, "ladders", ladders)
	fmt.Printf("migrated %d subjects and %d ladders (job %s)\n", subjects, ladders, jobID)
}

func init() {
	migrateCmd.Flags().StringVar(&migrateFrom, "from", "", "source backend instance")
	migrateCmd.Flags().StringVar(&migrateTo, "to", "", "destination backend instance")
	_ = migrateCmd.MarkFlagRequired("from")
	_ = migrateCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(migrateCmd)
}

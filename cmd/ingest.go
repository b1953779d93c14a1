// File: cmd/ingest.go
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aviatools/unipix-etl/internal/etl"
	"github.com/aviatools/unipix-etl/internal/observability"
	"github.com/aviatools/unipix-etl/internal/store"
)

// newIngestCmd creates and configures the `ingest` command.
func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Loads downloaded report files into the warehouse",
		Long: `Sweeps the input folder for CSV files and zip archives, normalizes
their headers and persists the rows. Processed files move to the processed
folder, failures to the error folder.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			if cfg.Database.URL == "" {
				return fmt.Errorf("ingest requires a database: set UNIPIX_DATABASE_URL")
			}

			pool, err := pgxpool.New(ctx, cfg.Database.URL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer pool.Close()

			st, err := store.New(ctx, pool, logger)
			if err != nil {
				return err
			}
			if err := st.EnsureSchema(ctx); err != nil {
				return err
			}

			manager := etl.NewManager(cfg.Folders, logger)
			if err := manager.EnsureFolders(); err != nil {
				return err
			}

			files, err := manager.ListInput()
			if err != nil {
				return err
			}
			if len(files) == 0 {
				logger.Info("No files to ingest", zap.String("folder", cfg.Folders.Input))
				return nil
			}

			processed := 0
			for _, file := range files {
				if err := ingestFile(ctx, logger, manager, st, file); err != nil {
					logger.Error("File failed",
						zap.String("file", file.Name),
						zap.Error(err))
					if _, moveErr := manager.MoveError(file.Path); moveErr != nil {
						return moveErr
					}
					continue
				}
				if _, err := manager.MoveProcessed(file.Path); err != nil {
					return err
				}
				processed++
			}

			logger.Info("Ingest finished",
				zap.Int("processed", processed),
				zap.Int("failed", len(files)-processed))
			return manager.CleanTemp()
		},
	}
}

func ingestFile(ctx context.Context, logger *zap.Logger, manager *etl.Manager, st *store.Store, file etl.InputFile) error {
	paths := []string{file.Path}
	if file.Archive {
		extracted, err := manager.ExtractArchive(file.Path)
		if err != nil {
			return err
		}
		if len(extracted) == 0 {
			return fmt.Errorf("archive %s holds no CSV files", file.Name)
		}
		paths = extracted
	}

	for _, path := range paths {
		table, err := manager.ReadTable(path)
		if err != nil {
			return err
		}

		kind := etl.DetectKind(table.Headers)
		logger.Info("Dataset detected",
			zap.String("file", file.Name),
			zap.String("kind", string(kind)),
			zap.Int("rows", len(table.Rows)))

		now := time.Now()
		normalized := etl.Normalize(table, kind, now)
		if _, err := st.SaveTable(ctx, kind, file.Name, normalized, now); err != nil {
			return err
		}
	}
	return nil
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	appconfig "github.com/clinicalkb/medrag/config"
	"github.com/clinicalkb/medrag/internal/corpus"
	"github.com/clinicalkb/medrag/internal/provider"
	srv "github.com/clinicalkb/medrag/internal/server"
)

func main() {
	_ = godotenv.Load()

	var cfgPath string
	root := &cobra.Command{Use: "medrag", SilenceUsage: true}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx, cfg)
		},
	}

	var migDir, direction string
	var steps int
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			dsn, err := cfg.Storage.Postgres.DSN()
			if err != nil {
				return err
			}
			return srv.Migrate(migDir, dsn, direction, steps)
		},
	}
	migrateCmd.Flags().StringVar(&migDir, "dir", "file://migrations", "migrations source")
	migrateCmd.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrateCmd.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")

	var inputPath string
	indexCmd := &cobra.Command{
		Use:   "index",
		Short: "Embed and load corpus chunks from a JSONL file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			dsn, err := cfg.Storage.Postgres.DSN()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := corpus.NewPostgres(ctx, dsn)
			if err != nil {
				return err
			}
			defer store.Close()

			_, _, embedder, err := provider.BuildProviders(cfg.LLM, cfg.Embedding)
			if err != nil {
				return err
			}

			f, err := os.Open(inputPath)
			if err != nil {
				return err
			}
			defer f.Close()

			n, err := corpus.NewIndexer(embedder, store, nil).IndexJSONL(ctx, f)
			if err != nil {
				return err
			}
			log.Printf("indexed %d chunks from %s", n, inputPath)
			return nil
		},
	}
	indexCmd.Flags().StringVar(&inputPath, "file", "", "JSONL file of corpus chunks")
	_ = indexCmd.MarkFlagRequired("file")

	root.AddCommand(serve, migrateCmd, indexCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cancervariants/therapy-term-normalization/internal/config"
	"github.com/cancervariants/therapy-term-normalization/internal/domain/therapy"
	"github.com/cancervariants/therapy-term-normalization/internal/etl"
	"github.com/cancervariants/therapy-term-normalization/internal/platform/db"
	"github.com/cancervariants/therapy-term-normalization/internal/platform/fetch"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "therapy-normalizer",
		Short: "Therapy concept normalization service",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(loadCmd())
	rootCmd.AddCommand(downloadCmd())
	rootCmd.AddCommand(backfillCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func setup(ctx context.Context) (*config.Config, zerolog.Logger, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Logger{}, nil, err
	}
	log := newLogger(cfg)
	pool, err := db.Connect(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}
	return cfg, log, pool, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the exact-match lookup API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, log, pool, err := setup(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := therapy.NewService(therapy.NewSinkPG(pool))
			handler := therapy.NewHandler(svc)

			e := echo.New()
			e.HideBanner = true
			e.Use(echomw.Recover())
			e.Use(echomw.RequestID())
			handler.RegisterRoutes(e.Group("/api/v1"))

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("port", cfg.Port).Msg("starting server")
				if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err := <-errCh:
				return err
			case <-quit:
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			log.Info().Msg("shutting down")
			return e.Shutdown(shutdownCtx)
		},
	}
}

var sourceOrder = []string{"chembl", "drugbank", "rxnorm", "wikidata"}

func loadCmd() *cobra.Command {
	var batchSize int
	cmd := &cobra.Command{
		Use:   "load [source...]",
		Short: "Normalize and load sources (default: all)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, log, pool, err := setup(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := db.Migrate(ctx, pool); err != nil {
				return err
			}

			names := args
			if len(names) == 0 {
				names = sourceOrder
			}
			sources, err := buildSources(cfg, log, names)
			if err != nil {
				return err
			}

			if batchSize <= 0 {
				batchSize = cfg.LoadBatchSize
			}
			results := etl.LoadAll(ctx, therapy.NewSinkPG(pool), log, batchSize, sources...)

			failed := 0
			for _, res := range results {
				if res.Err != nil {
					failed++
					log.Error().Err(res.Err).Str("source", string(res.Source)).Msg("load failed")
					continue
				}
				log.Info().
					Str("source", string(res.Source)).
					Int("written", res.Written).
					Int("failed_items", len(res.Failures)).
					Msg("source loaded")
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d sources failed to load", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "items per write batch")
	return cmd
}

// buildSources wires one adapter per requested source over the newest
// versioned artifact in its data directory.
func buildSources(cfg *config.Config, log zerolog.Logger, names []string) ([]etl.Source, error) {
	var sources []etl.Source
	for _, name := range names {
		switch strings.ToLower(name) {
		case "chembl":
			path, version := latestArtifact(filepath.Join(cfg.DataDir, "chembl"), ".db")
			var handle *sqlx.DB
			if path != "" {
				var err error
				handle, err = sqlx.Open("sqlite3", path)
				if err != nil {
					return nil, fmt.Errorf("open chembl extract: %w", err)
				}
			}
			sources = append(sources, etl.NewChEMBL(handle, log, version))
		case "drugbank":
			path, version := latestArtifact(filepath.Join(cfg.DataDir, "drugbank"), ".xml")
			sources = append(sources, etl.NewDrugBank(path, log, version))
		case "rxnorm":
			path, version := latestArtifact(filepath.Join(cfg.DataDir, "rxnorm"), ".RRF")
			formsPath := filepath.Join(cfg.DataDir, "rxnorm",
				fmt.Sprintf("rxnorm_drug_forms_%s.yaml", version))
			sources = append(sources, etl.NewRxNorm(path, formsPath, log, version))
		case "wikidata":
			path, version := latestArtifact(filepath.Join(cfg.DataDir, "wikidata"), ".json")
			sources = append(sources, etl.NewWikidata(path, log, version))
		default:
			return nil, fmt.Errorf("unknown source %q", name)
		}
	}
	return sources, nil
}

// latestArtifact picks the newest versioned file in dir by name order.
// Versions are the filename stem after the last underscore. Returns empty
// values when nothing is available; the adapter reports SourceUnavailable.
func latestArtifact(dir, ext string) (path, version string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", ""
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ext) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", ""
	}
	sort.Strings(names)
	name := names[len(names)-1]
	stem := strings.TrimSuffix(name, ext)
	if i := strings.LastIndex(stem, "_"); i >= 0 {
		version = stem[i+1:]
	}
	return filepath.Join(dir, name), version
}

func downloadCmd() *cobra.Command {
	var version string
	cmd := &cobra.Command{
		Use:   "download-rxnorm",
		Short: "Download a versioned RxNorm dump via the UMLS ticket flow",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := newLogger(cfg)

			client := fetch.NewClient(log)
			dataURL := fmt.Sprintf(
				"https://download.nlm.nih.gov/umls/kss/rxnorm/RxNorm_full_%s.zip", version)
			destDir := filepath.Join(cfg.DataDir, "rxnorm")
			if err := os.MkdirAll(destDir, 0o755); err != nil {
				return err
			}
			path, err := client.DownloadRxNorm(cmd.Context(), cfg.RxNormAPIKey, dataURL, version, destDir)
			if err != nil {
				return err
			}
			log.Info().Str("path", path).Msg("rxnorm dump ready")
			return nil
		},
	}
	cmd.Flags().StringVar(&version, "version", "", "release version, e.g. 09012025")
	cmd.MarkFlagRequired("version")
	return cmd
}

func backfillCmd() *cobra.Command {
	var token string
	var pageSize int
	cmd := &cobra.Command{
		Use:   "backfill-xrefs",
		Short: "Reclassify cross-references on stored identity records",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, log, pool, err := setup(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			job := etl.NewXrefBackfill(therapy.NewSinkPG(pool), log, pageSize)
			stats, resumeToken, err := job.Run(ctx, token)
			if err != nil {
				log.Error().Err(err).Str("resume_token", resumeToken).Msg("backfill interrupted")
				return err
			}
			log.Info().
				Int("scanned", stats.Scanned).
				Int("updated", stats.Updated).
				Int("unchanged", stats.Unchanged).
				Msg("backfill finished")
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "continuation token to resume from")
	cmd.Flags().IntVar(&pageSize, "page-size", 100, "records per scan page")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, log, pool, err := setup(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := db.Migrate(ctx, pool); err != nil {
				return err
			}
			log.Info().Msg("migrations applied")
			return nil
		},
	}
}

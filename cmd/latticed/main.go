// Command latticed runs the lattice graph core: a storage backend picked by
// configuration, the well-known schema seed, and the collaborator HTTP API.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/latticehq/lattice/internal/config"
	"github.com/latticehq/lattice/internal/events"
	"github.com/latticehq/lattice/internal/graph"
	"github.com/latticehq/lattice/internal/seed"
	"github.com/latticehq/lattice/internal/server/api"
)

var version = "dev"

var verbose bool

func main() {
	root := &cobra.Command{
		Use:           "latticed",
		Short:         "lattice graph storage core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log mutation events")

	root.AddCommand(serveCmd(), seedCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the collaborator HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			backend, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer backend.Close(context.Background())

			bus := events.NewBus()
			backend.SetEventEmitter(bus.Publish)
			if verbose {
				bus.Subscribe(func(e events.Event) {
					log.Printf("event %s node=%s", e.Type, e.NodeID)
				}, events.Filter{})
			}

			if err := seed.Ensure(ctx, backend); err != nil {
				return fmt.Errorf("seeding schema: %w", err)
			}

			r := chi.NewRouter()
			r.Use(middleware.Logger)
			r.Use(middleware.Recoverer)
			api.NewHandler(backend).Routes(r)

			log.Printf("lattice %s serving %s backend on %s", version, cfg.Backend, cfg.ListenAddr)
			return http.ListenAndServe(cfg.ListenAddr, r)
		},
	}
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the well-known schema records",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			backend, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer backend.Close(context.Background())

			if err := seed.Ensure(ctx, backend); err != nil {
				return err
			}
			if err := backend.Save(ctx); err != nil {
				return err
			}
			log.Printf("seeded well-known schema records (%s backend)", cfg.Backend)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("latticed %s\n", version)
		},
	}
}

// openBackend constructs the configured storage engine.
func openBackend(ctx context.Context, cfg *config.Config) (graph.NodeBackend, error) {
	switch cfg.Backend {
	case config.BackendNeo4j:
		return graph.NewNeo4j(ctx, graph.Neo4jConfig{
			URI:      cfg.Neo4jURI,
			Username: cfg.Neo4jUsername,
			Password: cfg.Neo4jPassword,
			Database: cfg.Neo4jDatabase,
		})
	case config.BackendSQLite:
		if path := cfg.SQLitePath; path != "" && path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return nil, fmt.Errorf("creating data directory: %w", err)
			}
		}
		return graph.NewSQLite(ctx, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

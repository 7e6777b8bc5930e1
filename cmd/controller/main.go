package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/warren/pkg/config"
	"github.com/cuemby/warren/pkg/controller"
	"github.com/cuemby/warren/pkg/dbstore"
	"github.com/cuemby/warren/pkg/httpapi"
	"github.com/cuemby/warren/pkg/ingest"
	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/metrics"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "controller",
	Short:   "Qserv replication and ingest control plane",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"controller version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control plane: load configuration, open the store, and serve the REST API",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		dbPath, _ := cmd.Flags().GetString("db")
		addr, _ := cmd.Flags().GetString("addr")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		authKey, _ := cmd.Flags().GetString("auth-key")
		adminKey, _ := cmd.Flags().GetString("admin-key")
		pprofEnabled, _ := cmd.Flags().GetBool("enable-pprof")

		doc, err := config.LoadDocument(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		snapshot, err := config.Build(doc, config.DefaultSchema())
		if err != nil {
			return fmt.Errorf("failed to build configuration snapshot: %w", err)
		}
		snapshot.Freeze()

		store, err := dbstore.Open(dbPath)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer store.Close()
		if err := dbstore.InitSchema(context.Background(), store.DB()); err != nil {
			return fmt.Errorf("failed to initialize store schema: %w", err)
		}

		ctrl, err := controller.New(controller.Config{Store: store, Snapshot: snapshot})
		if err != nil {
			return fmt.Errorf("failed to create controller: %w", err)
		}

		ctx := context.Background()
		if err := ctrl.Bootstrap(ctx); err != nil {
			return fmt.Errorf("failed to bootstrap controller: %w", err)
		}
		metrics.SetVersion(Version)
		metrics.RegisterComponent("store", true, "open")
		metrics.RegisterComponent("httpapi", false, "starting")

		mgr := ingest.NewManager(ingest.Config{
			Store:    store,
			Snapshot: snapshot,
			Loader:   ingest.NewHTTPLoader(store, snapshot, nil),
		})
		mgr.Start()
		fmt.Println("✓ Ingest manager started")

		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			mux.Handle("/health", metrics.HealthHandler())
			mux.Handle("/ready", metrics.ReadyHandler())
			mux.Handle("/live", metrics.LivenessHandler())
			if pprofEnabled {
				mux.Handle("/debug/pprof/", http.DefaultServeMux)
			}
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
			}
		}()
		fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", metricsAddr)

		srv := httpapi.NewServer(httpapi.Config{
			Controller: ctrl,
			Ingest:     mgr,
			AuthKey:    authKey,
			AdminKey:   adminKey,
		})
		errCh := make(chan error, 1)
		go func() {
			if err := srv.Start(addr); err != nil {
				errCh <- err
			}
		}()
		time.Sleep(500 * time.Millisecond)
		metrics.RegisterComponent("httpapi", true, "ready")
		fmt.Printf("✓ REST API listening on %s\n", addr)
		fmt.Println()
		fmt.Println("Controller running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\nREST API error: %v\n", err)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "REST API shutdown error: %v\n", err)
		}
		mgr.Stop()
		ctrl.Shutdown()

		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("config", "./controller.yaml", "Path to the configuration document")
	serveCmd.Flags().String("db", "./controller.db", "Path to the SQLite store")
	serveCmd.Flags().String("addr", "127.0.0.1:8080", "REST API listen address")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Metrics/health listen address")
	serveCmd.Flags().String("auth-key", "", "Key REQUIRED routes accept (in addition to admin-key)")
	serveCmd.Flags().String("admin-key", "", "Key ADMIN routes require")
	serveCmd.Flags().Bool("enable-pprof", false, "Enable pprof profiling endpoints on the metrics server")
}

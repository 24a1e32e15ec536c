package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/veriseal/server/internal/config"
	"github.com/veriseal/server/internal/db"
	"github.com/veriseal/server/internal/grpcapi"
	"github.com/veriseal/server/internal/httpapi"
	"github.com/veriseal/server/internal/veriseal/service"
)

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "veriseal-server",
		Short:         "Package lifecycle and checkpoint journey server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return config.LoadDotEnv(envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading VERISEAL_* variables")

	serve := serveCmd()
	root.AddCommand(serve, migrateCmd(), seedDevCmd())
	// Bare invocation serves.
	root.RunE = serve.RunE
	return root
}

func newLogger() *log.Logger {
	return log.New(os.Stdout, "veriseal-server ", log.LstdFlags|log.LUTC)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the gRPC health listener",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.FromEnv()
			logger := newLogger()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			// The dispatcher outlives the signal context so records submitted
			// while requests drain are still written; Stop flushes them.
			a.dispatcher.Start(context.Background())

			srv := httpapi.NewServer(httpapi.Dependencies{
				Logger:   logger,
				Addr:     cfg.HTTPAddr,
				Packages: a.packages,
				Tamper:   a.ledger,
				Gate:     a.gate,
				Verify:   httpapi.RateLimit{RPS: cfg.VerifyRPS, Burst: cfg.VerifyBurst},
				AuditLog: a.auditLog,
				Gatherer: a.registry,
				Ready:    a.Ready,
			})

			var health *grpcapi.HealthServer
			if cfg.GRPCAddr != "" {
				health = grpcapi.NewHealthServer(grpcapi.Dependencies{
					Logger: logger,
					Addr:   cfg.GRPCAddr,
					Ready:  a.Ready,
				})
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logger.Printf("listening on %s (env=%s store=%s)", cfg.HTTPAddr, cfg.Env, cfg.Store)
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			})
			if health != nil {
				g.Go(func() error {
					return health.Serve(gctx)
				})
			}
			g.Go(func() error {
				<-gctx.Done()

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if health != nil {
					health.Shutdown(shutdownCtx)
				}
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Printf("http shutdown: %v", err)
				}
				return nil
			})

			err = g.Wait()
			a.dispatcher.Stop()
			logger.Printf("audit chain at seq %d, head %s", a.dispatcher.Chain().Seq(), a.dispatcher.Chain().Head())
			return err
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.FromEnv()
			logger := newLogger()

			h, err := db.Open(cmd.Context(), dbConfig(cfg))
			if err != nil {
				return err
			}
			defer h.DB.Close()

			versions, err := db.Applied(cmd.Context(), h.DB)
			if err != nil {
				return err
			}
			logger.Printf("schema at %v (driver=%s)", versions, cfg.DBDriver)
			return nil
		},
	}
}

func seedDevCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed-dev",
		Short: "Load the demo packages into the configured database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.FromEnv()
			logger := newLogger()

			if cfg.Env == "prod" {
				return errors.New("seed-dev refuses to run with VERISEAL_ENV=prod")
			}
			if cfg.Store == "memory" {
				logger.Printf("VERISEAL_STORE=memory: seeded packages will not outlive this process")
			}

			a, err := buildApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			a.dispatcher.Start(context.Background())
			defer a.dispatcher.Stop()

			n, err := service.SeedDev(cmd.Context(), a.packages, a.ledger, cfg.SeedSenderID)
			if err != nil {
				return err
			}
			logger.Printf("seeded %d demo packages", n)

			out := cmd.OutOrStdout()
			for _, p := range service.DemoPackages() {
				fmt.Fprintf(out, "%-14s code=%s device=%s\n", p.Token, p.Code, p.DeviceID)
			}
			return nil
		},
	}
}

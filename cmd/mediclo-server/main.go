package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mediclo/mediclo/internal/config"
	"github.com/mediclo/mediclo/internal/domain/backup"
	"github.com/mediclo/mediclo/internal/domain/identity"
	"github.com/mediclo/mediclo/internal/domain/tenant"
	"github.com/mediclo/mediclo/internal/platform/db"
	"github.com/mediclo/mediclo/internal/platform/passhash"
	"github.com/mediclo/mediclo/internal/server"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "mediclo-server",
		Short:        "Multi-tenant clinic and lab API server",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(tenantCmd())
	root.AddCommand(backupCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run docstore migrations (postgres driver only)",
	}

	withMigrator := func(cmd *cobra.Command, fn func(context.Context, *db.Migrator) error) error {
		schema, _ := cmd.Flags().GetString("schema")
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.DocstoreDriver != "postgres" {
			return fmt.Errorf("migrations apply to DOCSTORE_DRIVER=postgres, got %q", cfg.DocstoreDriver)
		}
		dir, _ := cmd.Flags().GetString("dir")
		if dir == "" {
			dir = cfg.MigrationsDir
		}

		ctx := cmd.Context()
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return err
		}
		defer pool.Close()
		return fn(ctx, db.NewMigrator(pool, dir, schema))
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				n, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s).\n", n)
				return nil
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("migration status: %w", err)
				}
				printMigrationStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	}

	for _, c := range []*cobra.Command{upCmd, statusCmd} {
		c.Flags().String("schema", db.DefaultSchema, "Target schema")
		c.Flags().String("dir", "", "Migrations directory (default MIGRATIONS_DIR)")
		cmd.AddCommand(c)
	}
	return cmd
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-8s %-40s %-8s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status, at := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				at = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-8d %-40s %-8s %s\n", s.Version, s.Name, status, at)
	}
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Register a tenant and print its generated staff credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			ownerName, _ := cmd.Flags().GetString("owner-name")

			return withBackends(cmd, func(ctx context.Context, logger zerolog.Logger, cfg *config.Config, b *backends) error {
				repo := identity.NewRepository(b.docs)
				svc := tenant.NewService(repo, passhash.New(0), b.events, logger)
				reg, err := svc.Register(ctx, tenant.RegisterRequest{
					Name: name, OwnerEmail: email, OwnerPassword: password, OwnerName: ownerName,
				})
				if err != nil {
					return err
				}
				printRegistration(cmd.OutOrStdout(), reg)
				return nil
			})
		},
	}
	createCmd.Flags().String("name", "", "Clinic name")
	createCmd.Flags().String("email", "", "Owner email")
	createCmd.Flags().String("password", "", "Owner password")
	createCmd.Flags().String("owner-name", "", "Owner display name")
	for _, f := range []string{"name", "email", "password"} {
		createCmd.MarkFlagRequired(f)
	}

	cmd.AddCommand(createCmd)
	return cmd
}

func printRegistration(w io.Writer, reg *tenant.Registration) {
	fmt.Fprintf(w, "Tenant %s (%s) created, prefix %q\n", reg.Name, reg.TenantID, reg.Prefix)
	fmt.Fprintf(w, "%-14s %-30s %s\n", "ROLE", "USERNAME", "PASSWORD")
	for _, c := range reg.Credentials {
		fmt.Fprintf(w, "%-14s %-30s %s\n", c.Role, c.Username, c.Password)
	}
}

func backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, list and sweep tenant backups",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Take a backup of one tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, _ := cmd.Flags().GetString("tenant")
			kindFlag, _ := cmd.Flags().GetString("kind")
			kind, err := backup.ParseKind(kindFlag)
			if err != nil {
				return err
			}
			return withBackends(cmd, func(ctx context.Context, logger zerolog.Logger, cfg *config.Config, b *backends) error {
				entry, err := backup.NewEngine(b.docs, b.objects, b.events, logger).Run(ctx, tenantID, kind)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created %s (%d bytes)\n%s\n", entry.Path, entry.Size, entry.URL)
				return nil
			})
		},
	}
	createCmd.Flags().String("tenant", "", "Tenant id")
	createCmd.Flags().String("kind", string(backup.KindManual), "daily, weekly, monthly or manual")
	createCmd.MarkFlagRequired("tenant")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List a tenant's backups, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, _ := cmd.Flags().GetString("tenant")
			kindFlag, _ := cmd.Flags().GetString("kind")
			var kind backup.Kind
			if kindFlag != "" {
				var err error
				if kind, err = backup.ParseKind(kindFlag); err != nil {
					return err
				}
			}
			return withBackends(cmd, func(ctx context.Context, logger zerolog.Logger, cfg *config.Config, b *backends) error {
				entries, err := backup.NewEngine(b.docs, b.objects, b.events, logger).List(ctx, tenantID, kind)
				if err != nil {
					return err
				}
				printBackups(cmd.OutOrStdout(), entries)
				return nil
			})
		},
	}
	listCmd.Flags().String("tenant", "", "Tenant id")
	listCmd.Flags().String("kind", "", "Only this kind")
	listCmd.MarkFlagRequired("tenant")

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete backups older than the retention window",
		Long:  "Delete backups older than the retention window. Run from cron; the server schedules nothing itself.",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, _ := cmd.Flags().GetString("tenant")
			all, _ := cmd.Flags().GetBool("all")
			days, _ := cmd.Flags().GetInt("retention-days")
			if (tenantID == "") == !all {
				return errors.New("exactly one of --tenant or --all is required")
			}
			return withBackends(cmd, func(ctx context.Context, logger zerolog.Logger, cfg *config.Config, b *backends) error {
				if days <= 0 {
					days = cfg.BackupRetentionDays
				}
				ids := []string{tenantID}
				if all {
					var err error
					if ids, err = identity.NewRepository(b.docs).TenantIDs(ctx); err != nil {
						return err
					}
				}
				engine := backup.NewEngine(b.docs, b.objects, b.events, logger)
				return sweepTenants(ctx, engine, ids, days, cmd.OutOrStdout())
			})
		},
	}
	sweepCmd.Flags().String("tenant", "", "Tenant id")
	sweepCmd.Flags().Bool("all", false, "Sweep every registered tenant")
	sweepCmd.Flags().Int("retention-days", 0, "Retention window in days (default BACKUP_RETENTION_DAYS)")

	cmd.AddCommand(createCmd, listCmd, sweepCmd)
	return cmd
}

func printBackups(w io.Writer, entries []backup.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No backups.")
		return
	}
	fmt.Fprintf(w, "%-8s %-20s %10s  %s\n", "KIND", "DATE", "SIZE", "PATH")
	for _, e := range entries {
		fmt.Fprintf(w, "%-8s %-20s %10d  %s\n", e.Kind, e.Date, e.Size, e.Path)
	}
}

// sweepTenants applies the retention window to each tenant in turn. A
// failing tenant does not stop the others; the first error is returned.
func sweepTenants(ctx context.Context, engine *backup.Engine, tenantIDs []string, days int, w io.Writer) error {
	var firstErr error
	total := 0
	for _, id := range tenantIDs {
		n, err := engine.DeleteOld(ctx, id, days)
		if err != nil {
			fmt.Fprintf(w, "%s: %v\n", id, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		total += n
		fmt.Fprintf(w, "%s: deleted %d\n", id, n)
	}
	fmt.Fprintf(w, "Swept %d tenant(s), deleted %d backup(s) older than %d days.\n", len(tenantIDs), total, days)
	return firstErr
}

func withBackends(cmd *cobra.Command, fn func(context.Context, zerolog.Logger, *config.Config, *backends) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(ctx, logger, cfg, b)
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := newLogger(nil)
		bootLogger.Error().Err(err).Msg("failed to load config")
		return err
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open backends")
		return err
	}
	defer b.Close()

	app, err := server.New(server.Deps{
		Config:   cfg,
		Logger:   logger,
		Docs:     b.docs,
		Objects:  b.objects,
		Sessions: b.sessions,
		Events:   b.events,
		DBHealth: b.dbHealth,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("docstore", cfg.DocstoreDriver).Str("objectstore", cfg.ObjectStoreDriver).Msg("starting server")
		if err := app.Echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Echo.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"labsales/internal/adapters/web"
	"labsales/internal/app"
	"labsales/internal/db"
)

func (c *cli) serveCommand() *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.cfg.Validate(); err != nil {
				return err
			}
			if port == "" {
				port = c.cfg.ServerPort
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, release, err := c.open(ctx, c.cfg)
			if err != nil {
				return err
			}
			defer release()
			return web.Serve(ctx, ":"+port, web.NewHandler(svc, c.cfg.AllowedOrigins))
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port (default SERVER_PORT)")
	return cmd
}

func (c *cli) migrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.cfg.Validate(); err != nil {
				return err
			}
			if err := db.MigrateUp(c.cfg.DatabaseURL); err != nil {
				return err
			}
			return c.migrationStatus()
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.cfg.Validate(); err != nil {
				return err
			}
			if err := db.MigrateDown(c.cfg.DatabaseURL, steps); err != nil {
				return err
			}
			return c.migrationStatus()
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.cfg.Validate(); err != nil {
				return err
			}
			return c.migrationStatus()
		},
	}

	cmd.AddCommand(up, down, status)
	return cmd
}

func (c *cli) migrationStatus() error {
	st, err := db.Status(c.cfg.DatabaseURL)
	if err != nil {
		return err
	}
	if st.Dirty {
		return fmt.Errorf("schema version %d is dirty, fix it and force the version", st.Version)
	}
	return c.print(st)
}

func (c *cli) catalogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Browse products, fees and partners",
	}

	var category string
	products := &cobra.Command{
		Use:   "products",
		Short: "List active products",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, svc app.ApplicationService) (any, error) {
				return svc.ListProducts(ctx, category)
			})
		},
	}
	products.Flags().StringVar(&category, "category", "", "filter by category")

	fees := &cobra.Command{
		Use:   "fees",
		Short: "List chargeable fees",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, svc app.ApplicationService) (any, error) {
				return svc.ListFees(ctx)
			})
		},
	}

	var customersOnly bool
	partners := &cobra.Command{
		Use:   "partners",
		Short: "List partners",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, svc app.ApplicationService) (any, error) {
				return svc.ListPartners(ctx, customersOnly)
			})
		},
	}
	partners.Flags().BoolVar(&customersOnly, "customers", false, "only partners flagged as customers")

	cmd.AddCommand(products, fees, partners)
	return cmd
}

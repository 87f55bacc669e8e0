// Package cli is the command-line adapter. Every command goes through app.ApplicationService
// and prints its result as indented JSON.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"labsales/internal/app"
	"labsales/internal/config"
	"labsales/internal/logger"
)

var version = "0.1.0"

// opener builds the service a command runs against and returns a release func.
type opener func(ctx context.Context, cfg *config.Config) (app.ApplicationService, func(), error)

func openRuntime(ctx context.Context, cfg *config.Config) (app.ApplicationService, func(), error) {
	rt, err := app.NewRuntime(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return rt.Service, rt.Close, nil
}

// cli carries state shared by all commands of one invocation.
type cli struct {
	configFile string
	cfg        *config.Config
	open       opener
	out        io.Writer
}

// NewRootCommand builds the command tree. open may be nil to use the database runtime.
func NewRootCommand(open opener, out io.Writer) *cobra.Command {
	if open == nil {
		open = openRuntime
	}
	c := &cli{open: open, out: out}

	root := &cobra.Command{
		Use:           "labsales",
		Short:         "Order-to-cash for laboratory sales: orders, invoices, cash flows and partner balances",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.configFile)
			if err != nil {
				return err
			}
			if err := logger.Setup(cfg.GetLoggerConfig()); err != nil {
				return err
			}
			c.cfg = cfg
			return nil
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&c.configFile, "config", "", "config file (yaml, json or env)")

	root.AddCommand(
		c.serveCommand(),
		c.migrateCommand(),
		c.catalogCommand(),
		c.orderCommand(),
		c.invoiceCommand(),
		c.receiptCommand(),
		c.paymentCommand(),
		c.cashFlowCommand(),
		c.methodCommand(),
		c.balanceCommand(),
	)
	return root
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand(nil, os.Stdout).Execute(); err != nil {
		log := logger.WithComponent("cli")
		log.Debug().Err(err).Msg("command failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run opens the service, calls fn and prints its result.
func (c *cli) run(cmd *cobra.Command, fn func(ctx context.Context, svc app.ApplicationService) (any, error)) error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	ctx := cmd.Context()
	svc, release, err := c.open(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer release()

	result, err := fn(ctx, svc)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	return c.print(result)
}

func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(name, raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return id, nil
}

func parseAmount(name, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return d, nil
}

// optString returns a pointer to the flag value when the flag was given.
func optString(cmd *cobra.Command, name string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetString(name)
	return &v
}

func optInt(cmd *cobra.Command, name string) *int {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetInt(name)
	return &v
}

func optInt64(cmd *cobra.Command, name string) *int64 {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetInt64(name)
	return &v
}

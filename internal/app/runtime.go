package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"labsales/internal/catalog"
	"labsales/internal/config"
	"labsales/internal/core"
	"labsales/internal/db"
	"labsales/internal/logger"
)

// Runtime owns the connections and background workers behind an ApplicationService.
type Runtime struct {
	Service  ApplicationService
	Pool     *pgxpool.Pool
	Catalog  *catalog.Store
	notifier *core.AsyncNotifier
}

// NewRuntime connects to the database, optionally migrates it, and wires every service.
// The caller must Close the runtime.
func NewRuntime(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	log := logger.WithComponent("runtime")

	if cfg.MigrationsAuto {
		if err := db.MigrateUp(cfg.DatabaseURL); err != nil {
			return nil, err
		}
		log.Info().Msg("migrations applied")
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	store, err := catalog.Open(cfg.DatabaseURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	notifier := core.NewAsyncNotifier(cfg.NotifyQueueSize, core.LogSink{Log: logger.WithComponent("notify")}, logger.WithComponent("notifier"))
	notifier.Start(context.WithoutCancel(ctx))

	kinds := core.DefaultKindRegistry()
	docs := core.NewDocumentService()
	balances := core.NewBalanceLedger(pool)
	orders := core.NewOrderService(pool, kinds, store, docs, notifier, cfg.InvoiceDueDays)
	invoices := core.NewInvoiceService(pool, orders)
	lines := core.NewLineService(pool, kinds, store)
	cashflows := core.NewCashFlowService(pool, docs, invoices, balances, store, notifier)

	return &Runtime{
		Service:  NewAppService(store, orders, lines, invoices, cashflows, balances),
		Pool:     pool,
		Catalog:  store,
		notifier: notifier,
	}, nil
}

// Close drains pending notifications, then releases the database connections.
func (r *Runtime) Close() {
	r.notifier.Close()
	if err := r.Catalog.Close(); err != nil {
		log := logger.WithComponent("runtime")
		log.Warn().Err(err).Msg("failed to close catalog")
	}
	r.Pool.Close()
}

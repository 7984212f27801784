package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/viper"

	"github.com/Veraticus/fitcheck/internal/analysis"
	"github.com/Veraticus/fitcheck/internal/config"
	"github.com/Veraticus/fitcheck/internal/ledger"
	"github.com/Veraticus/fitcheck/internal/llm"
	"github.com/Veraticus/fitcheck/internal/purchase"
	"github.com/Veraticus/fitcheck/internal/search"
	"github.com/Veraticus/fitcheck/internal/service"
	"github.com/Veraticus/fitcheck/internal/storage"
	"github.com/Veraticus/fitcheck/internal/store"
)

// app wires the long-lived services every command shares.
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	storage     *storage.SQLiteStorage
	ledger      *ledger.Ledger
	sandbox     *store.Sandbox
	coordinator *purchase.Coordinator
	closers     []func()
}

// openApp loads configuration, opens the database, builds the ledger and
// purchase services and starts the transaction listener, which runs until
// close. Remote clients are built on demand by newWorkflow.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: slog.Default()}

	a.storage, err = storage.NewSQLiteStorage(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.closers = append(a.closers, func() { _ = a.storage.Close() })

	if err := a.storage.Migrate(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	a.ledger, err = ledger.Open(ctx, a.storage, cfg.Ledger, a.logger.With("component", "ledger"))
	if err != nil {
		a.close()
		return nil, err
	}
	a.closers = append(a.closers, a.ledger.Close)

	products, err := purchase.NewProductMap(cfg.Products)
	if err != nil {
		a.close()
		return nil, err
	}

	a.sandbox, err = store.NewSandbox(a.storage, cfg.Store, a.logger.With("component", "store"))
	if err != nil {
		a.close()
		return nil, err
	}

	a.coordinator, err = purchase.NewCoordinator(a.sandbox, a.ledger, products, a.logger.With("component", "purchase"))
	if err != nil {
		a.close()
		return nil, err
	}
	a.closers = append(a.closers, a.coordinator.Close)

	if err := a.coordinator.Start(ctx); err != nil {
		a.close()
		return nil, err
	}

	return a, nil
}

// newWorkflow builds the stylist, voice and image search clients and the
// analysis workflow on top of the app's ledger.
func (a *app) newWorkflow(ctx context.Context, player service.AudioPlayer) (*analysis.Workflow, error) {
	stylist, err := llm.NewStylist(a.cfg.LLM, a.logger.With("component", "stylist"))
	if err != nil {
		return nil, err
	}

	speaker, err := llm.NewSpeaker(a.cfg.Speech, a.logger.With("component", "speech"))
	if err != nil {
		return nil, err
	}

	searcher, err := search.New(ctx, a.cfg.Search, a.logger.With("component", "search"))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, searcher.Close)

	wf, err := analysis.NewWorkflow(analysis.Deps{
		Ledger: a.ledger,
		Vision: stylist,
		Speech: speaker,
		Search: searcher,
		Player: player,
	}, a.cfg.Analysis, a.logger.With("component", "analysis"))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, wf.Close)
	return wf, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// withApp opens the app for the duration of fn.
func withApp(ctx context.Context, fn func(*app) error) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}

// errNoProducts is returned when the catalog has nothing to sell.
var errNoProducts = errors.New("no credit packs available")

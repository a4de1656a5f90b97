package main

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/brianellis1997/ErrandBoy-sub000/internal/ledger"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/matching"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/outreach"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/queries"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/scoring"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/settlement"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/store"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/synthesis"
	"github.com/brianellis1997/ErrandBoy-sub000/pkg/anthropic"
)

// pipelineEnv holds the wired services shared by the serve and CLI commands.
type pipelineEnv struct {
	Store       store.Store
	Queries     *queries.Service
	Selector    *matching.Selector
	Outreach    *outreach.Orchestrator
	Synthesizer *synthesis.Synthesizer
	Ledger      *ledger.Engine
}

// openStore opens the configured backend and runs migrations.
func openStore(ctx context.Context) (store.Store, error) {
	var st store.Store
	var err error

	switch cfg.Store.Driver {
	case "sqlite", "":
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.New(fmt.Sprintf("unknown store driver %q", cfg.Store.Driver))
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// initPipeline wires the full routing pipeline over the configured store.
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	engine := scoring.NewEngine(scoring.WeightsFromConfig(cfg.Matching), nil)
	selector := matching.NewSelector(engine, st, cfg.Matching, cfg.Outreach, nil)

	registry := outreach.NewRegistry()
	registry.Register(outreach.NewLogNotifier("sms"))
	orch := outreach.NewOrchestrator(st, registry, outreach.NewThrottle(cfg.Outreach.PerExpertPerHour), cfg.Outreach)

	ledgerEngine := ledger.NewEngine(st, cfg.Ledger)
	settler := settlement.NewCoordinator(ledgerEngine, nil)

	gen := synthesis.NewGenerator(anthropic.NewClient(cfg.Anthropic.Key), cfg.Anthropic)
	synth := synthesis.NewSynthesizer(st, gen, settler)

	return &pipelineEnv{
		Store:       st,
		Queries:     queries.NewService(st, cfg.Ledger, nil),
		Selector:    selector,
		Outreach:    orch,
		Synthesizer: synth,
		Ledger:      ledgerEngine,
	}, nil
}

func (e *pipelineEnv) Close() {
	e.Store.Close()
}

// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	gorp "github.com/go-gorp/gorp/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/httpext"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/osext"

	"github.com/kissaten/kissaten/internal/api"
	"github.com/kissaten/kissaten/internal/canonical"
	"github.com/kissaten/kissaten/internal/core"
	"github.com/kissaten/kissaten/internal/currency"
	"github.com/kissaten/kissaten/internal/db"
	"github.com/kissaten/kissaten/internal/dedupe"
	"github.com/kissaten/kissaten/internal/loader"
)

func main() {
	logg.ShowDebug = osext.GetenvBool("KISSATEN_DEBUG")

	// first argument must be the task name; the configuration file is
	// optional since every setting has an environment override
	if len(os.Args) < 2 {
		printUsageAndExit()
	}
	taskName := os.Args[1]
	configPath := ""
	for _, arg := range os.Args[2:] {
		switch {
		case arg == "--review":
			reviewFlag = true
		case configPath == "":
			configPath = arg
		default:
			printUsageAndExit()
		}
	}

	cfg, errs := core.NewConfiguration(configPath)
	if !errs.IsEmpty() {
		for _, err := range errs {
			logg.Error(err.Error())
		}
		os.Exit(2)
	}

	tables, errs := canonical.NewTables(cfg)
	if !errs.IsEmpty() {
		for _, err := range errs {
			logg.Error(err.Error())
		}
		os.Exit(1)
	}

	var task func(context.Context, core.Configuration, *canonical.Tables) error
	switch taskName {
	case "serve":
		task = taskServe
	case "load":
		task = taskLoad
	case "dedupe-farms":
		task = taskDedupeFarms
	default:
		printUsageAndExit()
	}

	ctx := httpext.ContextWithSIGINT(context.Background(), 10*time.Second)
	err := task(ctx, cfg, tables)
	if err != nil {
		logg.Fatal(err.Error())
	}
}

var usageMessage = `Usage:
  %[1]s serve        [<config-file>]
  %[1]s load         [<config-file>]
  %[1]s dedupe-farms [<config-file>] [--review]
`

func printUsageAndExit() {
	fmt.Fprintf(os.Stderr, usageMessage, os.Args[0])
	os.Exit(1)
}

// reviewFlag selects the interactive reviewer for the dedupe-farms task.
var reviewFlag bool

func connect(cfg core.Configuration, tables *canonical.Tables, readOnly bool) (*gorp.DbMap, error) {
	dbConn, err := db.Init(db.Options{Path: cfg.DatabasePath, ReadOnly: readOnly}, tables.SQLFunctions())
	if err != nil {
		return nil, err
	}
	return db.InitORM(dbConn), nil
}

////////////////////////////////////////////////////////////////////////////////
// task: serve

func taskServe(ctx context.Context, cfg core.Configuration, tables *canonical.Tables) error {
	// the loader is the only writer unless configured otherwise
	dbm, err := connect(cfg, tables, !cfg.UseRWDatabase)
	if err != nil {
		return err
	}

	currencySvc, err := currency.NewService(dbm, cfg.Currency)
	if err != nil {
		return err
	}
	if cfg.Currency.APIKey != "" {
		err := currencySvc.RefreshIfStale(ctx)
		if err != nil {
			// stale or missing rates degrade conversion, not the whole API
			logg.Error("cannot refresh exchange rates: %s", err.Error())
		}
	}

	handler := httpapi.Compose(
		api.NewV1API(cfg, dbm, tables, currencySvc, time.Now),
		httpapi.HealthCheckAPI{SkipRequestLog: true},
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", withCORS(cfg, handler))

	logg.Info("listening on %s", cfg.ListenAddress)
	return httpext.ListenAndServeContext(ctx, cfg.ListenAddress, mux)
}

func withCORS(cfg core.Configuration, handler http.Handler) http.Handler {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return handler
	}
	return cors.New(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"HEAD", "GET", "POST"},
		AllowedHeaders: []string{"Content-Type", "User-Agent"},
	}).Handler(handler)
}

////////////////////////////////////////////////////////////////////////////////
// task: load

func taskLoad(ctx context.Context, cfg core.Configuration, tables *canonical.Tables) error {
	dbm, err := connect(cfg, tables, false)
	if err != nil {
		return err
	}
	loader.RegisterMetrics()

	stats, err := loader.New(dbm, cfg, tables).Run(ctx)
	if err != nil {
		return err
	}
	logg.Info("ingest done: %d/%d files parsed (%d skipped), %d beans inserted, %d updated, %d diffs applied (%d skipped), %d deletions swept",
		stats.FilesParsed, stats.FilesSeen, stats.FilesSkipped,
		stats.BeansInserted, stats.BeansUpdated,
		stats.DiffsApplied, stats.DiffsSkipped, stats.DeletionsSwept)
	return nil
}

////////////////////////////////////////////////////////////////////////////////
// task: dedupe-farms

func taskDedupeFarms(ctx context.Context, cfg core.Configuration, tables *canonical.Tables) error {
	dbm, err := connect(cfg, tables, true)
	if err != nil {
		return err
	}

	pipeline := dedupe.NewPipeline(dbm)
	if reviewFlag {
		pipeline.Reviewer = dedupe.TerminalReviewer{In: os.Stdin, Out: os.Stdout}
	}
	return pipeline.Run(cfg.FarmMappingsPath())
}

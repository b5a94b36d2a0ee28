// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/dlmiddlecote/sqlstats"
	gorp "github.com/go-gorp/gorp/v3"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sapcc/go-bits/sqlext"
)

// Options describes how to open the warehouse database.
type Options struct {
	// Path to the database file, or ":memory:" for tests.
	Path string
	// ReadOnly opens the file without write access. This is the default
	// mode for the API process; only the loader should write.
	ReadOnly bool
}

// SQLFunctions bundles the Go implementations behind the SQL-callable
// canonicalization functions. They are registered on every connection, so
// both ingest queries and search queries can use them directly in SQL.
//
// SQLite scalar functions cannot return NULL through this binding, so each
// function returns "" for "no result" and call sites wrap the call in
// NULLIF(..., '').
type SQLFunctions struct {
	// CanonicalState maps (country, region) to the canonical state name.
	CanonicalState func(country, region string) string
	// CanonicalFarm maps (country, region_slug, farm_normalized) to the
	// canonical farm name.
	CanonicalFarm func(country, regionSlug, farmNormalized string) string
	// NormalizeRegionName and NormalizeFarmName apply the slug
	// normalization rule (accent-stripped, lowercased, hyphenated).
	NormalizeRegionName func(string) string
	NormalizeFarmName   func(string) string
	// CountryFullName renders an alpha-2 code as a display name.
	CountryFullName func(string) string
}

// Each call to Connect registers a fresh driver name. Driver registration is
// global to the process and cannot be undone, and the connect hook closes
// over one specific set of canonicalization tables, so sharing a driver
// between connections (e.g. parallel tests) would leak state between them.
var driverCounter atomic.Uint64

func registerDriver(funcs SQLFunctions) string {
	name := fmt.Sprintf("sqlite3_kissaten_%d", driverCounter.Add(1))
	sql.Register(name, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			if funcs.CanonicalState != nil {
				if err := conn.RegisterFunc("canonical_state", funcs.CanonicalState, true); err != nil {
					return err
				}
			}
			if funcs.CanonicalFarm != nil {
				if err := conn.RegisterFunc("canonical_farm", funcs.CanonicalFarm, true); err != nil {
					return err
				}
			}
			if funcs.NormalizeRegionName != nil {
				if err := conn.RegisterFunc("normalize_region_name", funcs.NormalizeRegionName, true); err != nil {
					return err
				}
			}
			if funcs.NormalizeFarmName != nil {
				if err := conn.RegisterFunc("normalize_farm_name", funcs.NormalizeFarmName, true); err != nil {
					return err
				}
			}
			if funcs.CountryFullName != nil {
				if err := conn.RegisterFunc("country_full_name", funcs.CountryFullName, true); err != nil {
					return err
				}
			}
			return nil
		},
	})
	return name
}

func buildDSN(opts Options) string {
	params := []string{"_busy_timeout=5000", "_foreign_keys=on", "_loc=UTC"}
	if opts.Path == ":memory:" {
		return "file::memory:?" + strings.Join(params, "&")
	}
	params = append(params, "_journal_mode=WAL")
	if opts.ReadOnly {
		params = append(params, "mode=ro")
	}
	return "file:" + opts.Path + "?" + strings.Join(params, "&")
}

// Connect opens the warehouse database and, unless read-only, brings the
// schema up to date.
func Connect(opts Options, funcs SQLFunctions) (*sql.DB, error) {
	dbConn, err := sql.Open(registerDriver(funcs), buildDSN(opts))
	if err != nil {
		return nil, fmt.Errorf("open database at %s: %w", opts.Path, err)
	}

	// SQLite serializes writers at the file level anyway; a single pooled
	// connection turns contention into queueing instead of SQLITE_BUSY.
	// This also pins in-memory databases to one connection so they are not
	// dropped when the pool cycles. Readers can fan out under WAL.
	if opts.ReadOnly {
		dbConn.SetMaxOpenConns(4)
	} else {
		dbConn.SetMaxOpenConns(1)
	}

	err = dbConn.Ping()
	if err != nil {
		return nil, fmt.Errorf("connect to database at %s: %w", opts.Path, err)
	}

	if !opts.ReadOnly {
		err = applyMigrations(dbConn)
		if err != nil {
			return nil, err
		}
	}
	return dbConn, nil
}

// Init opens the warehouse database for a long-running process, registering
// its connection pool metrics with Prometheus. Tests use Connect directly to
// avoid double registration on the default registry.
func Init(opts Options, funcs SQLFunctions) (*sql.DB, error) {
	dbConn, err := Connect(opts, funcs)
	if err != nil {
		return nil, err
	}
	prometheus.MustRegister(sqlstats.NewStatsCollector("kissaten", dbConn))
	return dbConn, nil
}

// InitORM wraps a database connection into a gorp.DbMap instance.
func InitORM(dbConn *sql.DB) *gorp.DbMap {
	dbMap := &gorp.DbMap{Db: dbConn, Dialect: gorp.SqliteDialect{}}
	initGorp(dbMap)
	return dbMap
}

// Interface provides the common methods that both SQL connections and
// transactions implement.
type Interface interface {
	// from database/sql
	sqlext.Executor

	// from github.com/go-gorp/gorp
	Insert(args ...any) error
	Update(args ...any) (int64, error)
	Delete(args ...any) (int64, error)
	Select(i any, query string, args ...any) ([]any, error)
}

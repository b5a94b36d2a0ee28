// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/sapcc/go-bits/sqlext"
)

var sqlMigrations = map[string]string{
	"001_initial.up.sql": `
		---------- scraped catalog

		CREATE TABLE beans (
			id                     INTEGER    NOT NULL PRIMARY KEY,
			name                   TEXT       NOT NULL,
			roaster                TEXT       NOT NULL,
			roaster_directory      TEXT       NOT NULL,
			url                    TEXT       NOT NULL,
			image_url              TEXT       NOT NULL DEFAULT '',
			is_single_origin       BOOLEAN    DEFAULT NULL,
			is_decaf               BOOLEAN    DEFAULT NULL,
			price                  REAL       DEFAULT NULL,
			currency               TEXT       NOT NULL DEFAULT '',
			price_usd              REAL       DEFAULT NULL,
			price_paid_for_green   REAL       DEFAULT NULL,
			green_price_currency   TEXT       NOT NULL DEFAULT '',
			weight_grams           INTEGER    DEFAULT NULL,
			roast_level            TEXT       DEFAULT NULL,
			roast_profile          TEXT       DEFAULT NULL,
			cupping_score          REAL       DEFAULT NULL,
			tasting_notes          TEXT       NOT NULL DEFAULT '[]',
			description            TEXT       NOT NULL DEFAULT '',
			in_stock               BOOLEAN    NOT NULL DEFAULT TRUE,
			scraped_at             TIMESTAMP  NOT NULL,
			scraper_version        TEXT       NOT NULL DEFAULT '',
			filename               TEXT       NOT NULL,
			clean_url_slug         TEXT       NOT NULL,
			bean_url_path          TEXT       NOT NULL,
			date_added             TIMESTAMP  NOT NULL,
			UNIQUE (roaster_directory, url)
		);
		CREATE INDEX beans_slug_idx ON beans (roaster, clean_url_slug);
		CREATE INDEX beans_stock_idx ON beans (in_stock);

		CREATE TABLE origins (
			id                   INTEGER    NOT NULL PRIMARY KEY AUTOINCREMENT,
			bean_id              INTEGER    NOT NULL REFERENCES beans ON DELETE CASCADE,
			country              TEXT       NOT NULL DEFAULT '',
			region               TEXT       NOT NULL DEFAULT '',
			region_normalized    TEXT       NOT NULL DEFAULT '',
			producer             TEXT       NOT NULL DEFAULT '',
			farm                 TEXT       NOT NULL DEFAULT '',
			farm_normalized      TEXT       NOT NULL DEFAULT '',
			elevation_min        INTEGER    DEFAULT NULL,
			elevation_max        INTEGER    DEFAULT NULL,
			latitude             REAL       DEFAULT NULL,
			longitude            REAL       DEFAULT NULL,
			process              TEXT       NOT NULL DEFAULT '',
			process_common_name  TEXT       NOT NULL DEFAULT '',
			variety              TEXT       NOT NULL DEFAULT '',
			variety_canonical    TEXT       NOT NULL DEFAULT '[]',
			harvest_date         TIMESTAMP  DEFAULT NULL
		);
		CREATE INDEX origins_bean_idx ON origins (bean_id);
		CREATE INDEX origins_country_idx ON origins (country, region_normalized);

		CREATE TABLE roasters (
			slug                 TEXT       NOT NULL PRIMARY KEY,
			name                 TEXT       NOT NULL,
			website              TEXT       NOT NULL DEFAULT '',
			location_code        TEXT       NOT NULL DEFAULT '',
			active               BOOLEAN    NOT NULL DEFAULT TRUE,
			last_scraped         TIMESTAMP  DEFAULT NULL,
			total_beans_scraped  INTEGER    NOT NULL DEFAULT 0
		);

		---------- ingest bookkeeping

		CREATE TABLE processed_files (
			filename      TEXT       NOT NULL PRIMARY KEY,
			checksum      TEXT       NOT NULL,
			file_type     TEXT       NOT NULL,
			processed_at  TIMESTAMP  NOT NULL
		);

		---------- canonicalization (joinable during ingest)

		CREATE TABLE varietal_mappings (
			original         TEXT     NOT NULL PRIMARY KEY,
			canonical_names  TEXT     NOT NULL DEFAULT '[]',
			is_compound      BOOLEAN  NOT NULL DEFAULT FALSE
		);

		CREATE TABLE processing_method_mappings (
			original     TEXT  NOT NULL PRIMARY KEY,
			common_name  TEXT  NOT NULL
		);

		---------- services

		CREATE TABLE currency_rates (
			id              INTEGER    NOT NULL PRIMARY KEY AUTOINCREMENT,
			base            TEXT       NOT NULL DEFAULT 'USD',
			target          TEXT       NOT NULL,
			rate            REAL       NOT NULL,
			fetched_at      TIMESTAMP  NOT NULL,
			data_timestamp  TIMESTAMP  DEFAULT NULL
		);
		CREATE INDEX currency_rates_target_idx ON currency_rates (target, fetched_at);

		CREATE TABLE ai_translation_cache (
			query_hash     TEXT       NOT NULL PRIMARY KEY,
			query_type     TEXT       NOT NULL,
			original_query TEXT       DEFAULT NULL,
			search_params  TEXT       NOT NULL,
			hit_count      INTEGER    NOT NULL DEFAULT 0,
			created_at     TIMESTAMP  NOT NULL,
			last_accessed  TIMESTAMP  NOT NULL,
			expires_at     TIMESTAMP  NOT NULL
		);
	`,
	"001_initial.down.sql": `
		DROP TABLE ai_translation_cache;
		DROP TABLE currency_rates;
		DROP TABLE processing_method_mappings;
		DROP TABLE varietal_mappings;
		DROP TABLE processed_files;
		DROP TABLE roasters;
		DROP TABLE origins;
		DROP TABLE beans;
	`,
}

// catalogTables lists the tables that a full-refresh ingest truncates.
// processed_files is deliberately absent: the ledger survives a full refresh
// so that later incremental runs start from correct bookkeeping.
var catalogTables = []string{"origins", "beans", "roasters"}

// TruncateCatalog empties the scraped catalog for a full-refresh ingest.
func TruncateCatalog(tx Interface) error {
	for _, table := range catalogTables {
		_, err := tx.Exec(`DELETE FROM ` + table) //nolint:gosec // table names come from a fixed list
		if err != nil {
			return fmt.Errorf("truncate %s: %w", table, err)
		}
	}
	return nil
}

// applyMigrations brings the schema up to date. Each *.up.sql entry runs at
// most once; applied names are recorded in the schema_migrations table.
func applyMigrations(dbConn *sql.DB) error {
	_, err := dbConn.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (name TEXT NOT NULL PRIMARY KEY)`)
	if err != nil {
		return fmt.Errorf("initialize schema_migrations: %w", err)
	}

	applied := make(map[string]bool)
	err = sqlext.ForeachRow(dbConn, `SELECT name FROM schema_migrations`, nil, func(rows *sql.Rows) error {
		var name string
		err := rows.Scan(&name)
		if err == nil {
			applied[name] = true
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("enumerate applied migrations: %w", err)
	}

	var pending []string
	for name := range sqlMigrations {
		if strings.HasSuffix(name, ".up.sql") && !applied[name] {
			pending = append(pending, name)
		}
	}
	sort.Strings(pending)

	for _, name := range pending {
		tx, err := dbConn.Begin()
		if err != nil {
			return err
		}
		_, err = tx.Exec(sqlMigrations[name])
		if err == nil {
			_, err = tx.Exec(`INSERT INTO schema_migrations (name) VALUES (?)`, name)
		}
		if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				err = fmt.Errorf("%w (rollback also failed: %s)", err, rollbackErr.Error())
			}
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		err = tx.Commit()
		if err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
	}
	return nil
}

// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package loader

import (
	"fmt"
	"time"

	gorp "github.com/go-gorp/gorp/v3"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/kissaten/kissaten/internal/db"
)

// The file-tracking ledger records which artifacts have been folded into the
// warehouse, keyed by relative path with a content checksum. Incremental
// ingest runs consult it to skip unchanged files; full-refresh runs still
// populate it so that a later incremental run starts from correct bookkeeping.

// filterUnprocessed splits the given files into those missing from the ledger
// and those whose recorded checksum differs from the file on disk. Changed
// files are only reported when checkChecksum is set. The ledger is read with
// one query, not one per file.
func filterUnprocessed(dbi db.Interface, files []SourceFile, checkChecksum bool) (unprocessed, changed []SourceFile, err error) {
	recorded, err := db.BuildIndexOfDBResult(dbi,
		func(f db.ProcessedFile) string { return f.Filename },
		`SELECT * FROM processed_files`)
	if err != nil {
		return nil, nil, fmt.Errorf("enumerate ledger: %w", err)
	}

	for _, file := range files {
		entry, exists := recorded[file.RelPath]
		switch {
		case !exists:
			unprocessed = append(unprocessed, file)
		case checkChecksum && entry.Checksum != file.Checksum:
			changed = append(changed, file)
		}
	}
	return unprocessed, changed, nil
}

var markProcessedQuery = sqlext.SimplifyWhitespace(`
	INSERT INTO processed_files (filename, checksum, file_type, processed_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT (filename) DO UPDATE
	SET checksum = excluded.checksum, file_type = excluded.file_type, processed_at = excluded.processed_at
`)

// markProcessed upserts ledger entries for the given files.
func markProcessed(tx *gorp.Transaction, now time.Time, files ...SourceFile) error {
	stmt, err := tx.Prepare(markProcessedQuery)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, file := range files {
		fileType := "json"
		if file.IsDiff {
			fileType = "diffjson"
		}
		_, err := stmt.Exec(file.RelPath, file.Checksum, fileType, now)
		if err != nil {
			return fmt.Errorf("record %s in ledger: %w", file.RelPath, err)
		}
	}
	return nil
}

// sweepDeletedFiles removes ledger entries whose file no longer exists on
// disk, cascading into the beans (and, via foreign key, origins) that were
// loaded from them.
func (l *Loader) sweepDeletedFiles(tx *gorp.Transaction, onDisk map[string]bool) (swept int, err error) {
	var stale []db.ProcessedFile
	_, err = tx.Select(&stale, `SELECT * FROM processed_files`)
	if err != nil {
		return 0, fmt.Errorf("enumerate ledger: %w", err)
	}

	for _, entry := range stale {
		if onDisk[entry.Filename] {
			continue
		}
		if entry.FileType == "json" {
			_, err := tx.Exec(`DELETE FROM beans WHERE filename = ?`, entry.Filename)
			if err != nil {
				return swept, fmt.Errorf("remove beans from deleted file %s: %w", entry.Filename, err)
			}
		}
		_, err := tx.Exec(`DELETE FROM processed_files WHERE filename = ?`, entry.Filename)
		if err != nil {
			return swept, fmt.Errorf("remove ledger entry %s: %w", entry.Filename, err)
		}
		logg.Info("swept deleted file %s", entry.Filename)
		swept++
	}
	return swept, nil
}

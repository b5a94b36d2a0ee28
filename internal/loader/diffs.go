// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package loader

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	gorp "github.com/go-gorp/gorp/v3"
	"github.com/sapcc/go-bits/logg"

	"github.com/kissaten/kissaten/internal/core"
	"github.com/kissaten/kissaten/internal/db"
)

// applyDiffs folds partial updates into their target beans. Updates are
// applied in ascending scraped_at order, so a later diff for the same URL
// always wins. A diff whose URL matches no bean is skipped but still marked
// processed; diffs never insert beans.
func (l *Loader) applyDiffs(tx *gorp.Transaction, diffs []parsedDiff, now time.Time, stats *Stats) error {
	sort.SliceStable(diffs, func(i, j int) bool {
		lhs := diffs[i].Record.ScrapedAt.Value.UTC()
		rhs := diffs[j].Record.ScrapedAt.Value.UTC()
		if !lhs.Equal(rhs) {
			return lhs.Before(rhs)
		}
		return diffs[i].File.RelPath < diffs[j].File.RelPath
	})

	for _, diff := range diffs {
		var bean db.Bean
		err := tx.SelectOne(&bean, `SELECT * FROM beans WHERE url = ?`, diff.Record.URL)
		if errors.Is(err, sql.ErrNoRows) {
			logg.Debug("diff %s matches no bean, skipping", diff.File.RelPath)
			stats.DiffsSkipped++
			err = markProcessed(tx, now, diff.File)
			if err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("look up bean for diff %s: %w", diff.File.RelPath, err)
		}

		err = applyDiffToBean(&bean, diff.Record)
		if err != nil {
			l.LogError("skipping diff %s: %s", diff.File.RelPath, err.Error())
			stats.DiffsSkipped++
			continue
		}
		_, err = tx.Update(&bean)
		if err != nil {
			return fmt.Errorf("apply diff %s: %w", diff.File.RelPath, err)
		}
		stats.DiffsApplied++

		err = markProcessed(tx, now, diff.File)
		if err != nil {
			return err
		}
	}
	return nil
}

// applyDiffToBean copies every field that was present in the diff JSON onto
// the bean row. Absent fields are left untouched; present-but-null fields
// clear the column.
func applyDiffToBean(bean *db.Bean, diff core.DiffRecord) error {
	if diff.Price.Set {
		bean.Price = diff.Price.Ptr()
	}
	if diff.Currency.Set && diff.Currency.Valid {
		bean.Currency = diff.Currency.Value
	}
	if diff.PriceUSD.Set {
		bean.PriceUSD = diff.PriceUSD.Ptr()
	}
	// "stock" is the legacy spelling; an explicit "in_stock" wins over it
	if diff.Stock.Set && diff.Stock.Valid {
		bean.InStock = diff.Stock.Value
	}
	if diff.InStock.Set && diff.InStock.Valid {
		bean.InStock = diff.InStock.Value
	}
	if diff.WeightGrams.Set {
		bean.WeightGrams = diff.WeightGrams.Ptr()
	}
	if diff.RoastLevel.Set {
		if diff.RoastLevel.Valid {
			level, ok := core.NormalizeRoastLevel(diff.RoastLevel.Value)
			if ok {
				bean.RoastLevel = &level
			}
		} else {
			bean.RoastLevel = nil
		}
	}
	if diff.RoastProfile.Set {
		bean.RoastProfile = diff.RoastProfile.Ptr()
	}
	if diff.CuppingScore.Set {
		bean.CuppingScore = diff.CuppingScore.Ptr()
	}
	if diff.TastingNotes.Set {
		notesJSON, err := json.Marshal(emptyAsList(core.NormalizeTastingNotes(diff.TastingNotes.Values)))
		if err != nil {
			return err
		}
		bean.TastingNotesJSON = string(notesJSON)
	}
	if diff.Description.Set && diff.Description.Valid {
		bean.Description = diff.Description.Value
	}
	if diff.ScrapedAt.Valid && diff.ScrapedAt.Value.After(bean.ScrapedAt) {
		bean.ScrapedAt = diff.ScrapedAt.Value
	}
	return nil
}

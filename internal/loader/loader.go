// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

// Package loader implements the ingest pipeline: it scans the dated artifact
// tree written by the scraper fleet, folds new and changed files into the
// warehouse in scrape-time order, derives per-bean stock status from each
// roaster's latest scrape, and applies partial diff updates.
//
// A run is idempotent and incremental. All warehouse writes happen inside one
// transaction, so a failed run leaves the previous snapshot untouched.
package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	gorp "github.com/go-gorp/gorp/v3"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/sqlext"
	"golang.org/x/sync/errgroup"

	"github.com/kissaten/kissaten/internal/canonical"
	"github.com/kissaten/kissaten/internal/core"
	"github.com/kissaten/kissaten/internal/db"
	"github.com/kissaten/kissaten/internal/util"
)

// Loader is the ingest pipeline. All fields must be filled before calling Run.
type Loader struct {
	DB     *gorp.DbMap
	Config core.Configuration
	Tables *canonical.Tables
	// Usually logg.Error, but can be changed inside unit tests.
	LogError func(msg string, args ...any)
	// Usually time.Now, but can be changed inside unit tests.
	TimeNow func() time.Time
}

// New builds a Loader with the default logging and clock wiring.
func New(dbm *gorp.DbMap, cfg core.Configuration, tables *canonical.Tables) *Loader {
	return &Loader{
		DB:       dbm,
		Config:   cfg,
		Tables:   tables,
		LogError: logg.Error,
		TimeNow:  time.Now,
	}
}

// Stats reports what one ingest pass did.
type Stats struct {
	FilesSeen      int
	FilesParsed    int
	FilesSkipped   int
	BeansInserted  int
	BeansUpdated   int
	DiffsApplied   int
	DiffsSkipped   int
	DeletionsSwept int
}

type parsedBean struct {
	File   SourceFile
	Record core.BeanRecord
}

type parsedDiff struct {
	File   SourceFile
	Record core.DiffRecord
}

// Run executes one ingest pass.
func (l *Loader) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	files, err := l.discoverFiles()
	if err != nil {
		return stats, err
	}
	stats.FilesSeen = len(files)
	err = l.checksumFiles(files)
	if err != nil {
		return stats, err
	}

	var jsonFiles, diffFiles []SourceFile
	onDisk := make(map[string]bool, len(files))
	for _, file := range files {
		onDisk[file.RelPath] = true
		if file.IsDiff {
			diffFiles = append(diffFiles, file)
		} else {
			jsonFiles = append(jsonFiles, file)
		}
	}

	// decide which files need (re)processing
	jsonToParse := jsonFiles
	diffsToApply := diffFiles
	var changedJSON []SourceFile
	if l.Config.Loader.Incremental {
		checkChecksum := l.Config.Loader.CheckForChanges
		var unprocessed []SourceFile
		unprocessed, changedJSON, err = filterUnprocessed(l.DB, jsonFiles, checkChecksum)
		if err != nil {
			return stats, err
		}
		jsonToParse = append(unprocessed, changedJSON...)
		var changedDiffs []SourceFile
		diffsToApply, changedDiffs, err = filterUnprocessed(l.DB, diffFiles, checkChecksum)
		if err != nil {
			return stats, err
		}
		diffsToApply = append(diffsToApply, changedDiffs...)
	}

	beans := l.parseBeanFiles(ctx, jsonToParse, &stats)
	diffs := l.parseDiffFiles(diffsToApply, &stats)

	latest := latestScrapeDates(files)
	stockDiffURLs, err := l.collectLatestDiffURLs(diffFiles, latest)
	if err != nil {
		return stats, err
	}

	err = sqlext.WithTransaction(l.DB, func(tx *gorp.Transaction) error {
		if !l.Config.Loader.Incremental {
			err := db.TruncateCatalog(tx)
			if err != nil {
				return err
			}
		}

		stats.DeletionsSwept, err = l.sweepDeletedFiles(tx, onDisk)
		if err != nil {
			return err
		}

		extraDiffs, err := l.resetChangedFiles(tx, changedJSON, beans, diffFiles)
		if err != nil {
			return err
		}
		diffs = append(diffs, extraDiffs...)

		err = l.Tables.SyncMappingTables(tx)
		if err != nil {
			return err
		}
		err = l.syncRoasters(tx, latest)
		if err != nil {
			return err
		}

		err = l.upsertBeans(tx, beans, &stats)
		if err != nil {
			return err
		}
		err = l.deriveStockStatus(tx, latest, stockDiffURLs)
		if err != nil {
			return err
		}
		err = l.updateRoasterStats(tx, latest)
		if err != nil {
			return err
		}

		now := l.TimeNow().UTC()
		err = markProcessed(tx, now, jsonToParse...)
		if err != nil {
			return err
		}

		err = l.applyDiffs(tx, diffs, now, &stats)
		if err != nil {
			return err
		}

		return recomputePriceUSD(tx)
	})
	if err != nil {
		return stats, err
	}

	observeIngestRun(stats)
	logg.Info("ingest done: %d files seen, %d parsed, %d skipped, %d beans inserted, %d updated, %d diffs applied, %d skipped, %d deletions swept",
		stats.FilesSeen, stats.FilesParsed, stats.FilesSkipped,
		stats.BeansInserted, stats.BeansUpdated,
		stats.DiffsApplied, stats.DiffsSkipped, stats.DeletionsSwept)
	return stats, nil
}

// parseBeanFiles reads and validates full snapshots in parallel. A file that
// fails parsing or validation is logged and skipped; it never aborts the run.
func (l *Loader) parseBeanFiles(ctx context.Context, files []SourceFile, stats *Stats) []parsedBean {
	var (
		mu     sync.Mutex
		result []parsedBean
	)
	concurrency := l.Config.Loader.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	group, _ := errgroup.WithContext(ctx)
	group.SetLimit(concurrency)
	now := l.TimeNow().UTC()

	for _, file := range files {
		group.Go(func() error {
			record, err := l.parseBeanFile(file, now)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				l.LogError("skipping %s: %s", file.RelPath, err.Error())
				stats.FilesSkipped++
				return nil
			}
			stats.FilesParsed++
			result = append(result, parsedBean{file, record})
			return nil
		})
	}
	_ = group.Wait() // the workers only report errors through the stats

	// restore deterministic order after parallel parsing
	sort.Slice(result, func(i, j int) bool { return result[i].File.RelPath < result[j].File.RelPath })
	return result
}

func (l *Loader) parseBeanFile(file SourceFile, now time.Time) (core.BeanRecord, error) {
	buf, err := l.readFile(file.RelPath)
	if err != nil {
		return core.BeanRecord{}, err
	}
	var record core.BeanRecord
	err = json.Unmarshal(buf, &record)
	if err != nil {
		return core.BeanRecord{}, fmt.Errorf("parse: %w", err)
	}
	err = record.Validate()
	if err != nil {
		return core.BeanRecord{}, fmt.Errorf("validate: %w", err)
	}
	for _, issue := range record.Sanitize(now) {
		logg.Debug("%s: %s", file.RelPath, issue)
	}
	if !record.ScrapedAt.Valid {
		// fall back to the scrape date directory for legacy artifacts
		if date, ok := scrapeDateTime(file.ScrapeDate); ok {
			record.ScrapedAt = core.TimeOf(date)
		} else {
			return core.BeanRecord{}, fmt.Errorf("no usable scraped_at timestamp")
		}
	}
	return record, nil
}

func (l *Loader) parseDiffFiles(files []SourceFile, stats *Stats) []parsedDiff {
	var result []parsedDiff
	for _, file := range files {
		record, err := l.parseDiffFile(file)
		if err != nil {
			l.LogError("skipping %s: %s", file.RelPath, err.Error())
			stats.FilesSkipped++
			continue
		}
		result = append(result, parsedDiff{file, record})
	}
	return result
}

func (l *Loader) parseDiffFile(file SourceFile) (core.DiffRecord, error) {
	buf, err := l.readFile(file.RelPath)
	if err != nil {
		return core.DiffRecord{}, err
	}
	var record core.DiffRecord
	err = json.Unmarshal(buf, &record)
	if err != nil {
		return core.DiffRecord{}, fmt.Errorf("parse: %w", err)
	}
	err = record.Validate()
	if err != nil {
		return core.DiffRecord{}, fmt.Errorf("validate: %w", err)
	}
	if !record.ScrapedAt.Valid {
		if date, ok := scrapeDateTime(file.ScrapeDate); ok {
			record.ScrapedAt = core.TimeOf(date)
		}
	}
	return record, nil
}

// collectLatestDiffURLs parses the diff files in each roaster's latest scrape
// date folder, regardless of ledger state. Their URLs count as "present in
// the latest scrape" for stock derivation.
func (l *Loader) collectLatestDiffURLs(diffFiles []SourceFile, latest map[string]string) (map[string]map[string]bool, error) {
	result := make(map[string]map[string]bool)
	for _, file := range diffFiles {
		if file.ScrapeDate != latest[file.RoasterDir] {
			continue
		}
		record, err := l.parseDiffFile(file)
		if err != nil {
			logg.Debug("ignoring %s for stock derivation: %s", file.RelPath, err.Error())
			continue
		}
		urls := result[file.RoasterDir]
		if urls == nil {
			urls = make(map[string]bool)
			result[file.RoasterDir] = urls
		}
		urls[record.URL] = true
	}
	return result, nil
}

// resetChangedFiles clears warehouse state that depends on JSON files whose
// content changed since they were last processed: their bean rows are removed
// (the fresh parse re-inserts them), and ledger entries of diff files that
// touch the same URLs are dropped so those diffs get re-applied on top of the
// rebuilt rows.
func (l *Loader) resetChangedFiles(tx *gorp.Transaction, changed []SourceFile, beans []parsedBean, allDiffs []SourceFile) (reapply []parsedDiff, err error) {
	if len(changed) == 0 {
		return nil, nil
	}

	changedPaths := make(map[string]bool, len(changed))
	affectedRoasters := make(map[string]bool)
	affectedURLs := make(map[string]bool)
	for _, file := range changed {
		changedPaths[file.RelPath] = true
		affectedRoasters[file.RoasterDir] = true
	}
	for _, bean := range beans {
		if changedPaths[bean.File.RelPath] {
			affectedURLs[bean.Record.URL] = true
		}
	}

	for _, file := range changed {
		// collect the URL from the previous content too, in case it changed
		var urls []string
		_, err := tx.Select(&urls, `SELECT url FROM beans WHERE filename = ?`, file.RelPath)
		if err != nil {
			return nil, err
		}
		for _, url := range urls {
			affectedURLs[url] = true
		}
		_, err = tx.Exec(`DELETE FROM beans WHERE filename = ?`, file.RelPath)
		if err != nil {
			return nil, fmt.Errorf("remove beans from changed file %s: %w", file.RelPath, err)
		}
	}

	// find previously processed diffs that touch the affected URLs
	for _, file := range allDiffs {
		if !affectedRoasters[file.RoasterDir] {
			continue
		}
		record, err := l.parseDiffFile(file)
		if err != nil || !affectedURLs[record.URL] {
			continue
		}
		count, err := tx.SelectInt(`SELECT COUNT(*) FROM processed_files WHERE filename = ?`, file.RelPath)
		if err != nil {
			return nil, err
		}
		if count == 0 {
			continue // not yet processed, already queued for application
		}
		_, err = tx.Exec(`DELETE FROM processed_files WHERE filename = ?`, file.RelPath)
		if err != nil {
			return nil, err
		}
		reapply = append(reapply, parsedDiff{file, record})
	}
	return reapply, nil
}

// syncRoasters reconciles the roasters table with the curated registry plus
// every roaster directory seen on disk.
func (l *Loader) syncRoasters(tx *gorp.Transaction, latest map[string]string) error {
	wanted := make(map[string]bool, len(latest))
	for slug := range latest {
		wanted[slug] = true
	}
	for slug := range l.Tables.Roasters {
		wanted[slug] = true
	}
	slugs := make([]string, 0, len(wanted))
	for slug := range wanted {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)

	var existing []db.Roaster
	_, err := tx.Select(&existing, `SELECT * FROM roasters`)
	if err != nil {
		return fmt.Errorf("enumerate roasters: %w", err)
	}
	_, err = db.SetUpdate[db.Roaster, string]{
		ExistingRecords: existing,
		WantedKeys:      slugs,
		KeyForRecord:    func(r db.Roaster) string { return r.Slug },
		Create:          func(slug string) (db.Roaster, error) { return db.Roaster{Slug: slug}, nil },
		Update: func(r *db.Roaster) error {
			info, inRegistry := l.Tables.Roasters[r.Slug]
			if inRegistry {
				r.Name = info.Name
				r.Website = info.Website
				r.LocationCode = info.LocationCode
				r.Active = info.IsActive()
			} else if r.Name == "" {
				r.Name = r.Slug
				r.Active = true
			}
			return nil
		},
	}.Execute(tx)
	return err
}

func (l *Loader) updateRoasterStats(tx *gorp.Transaction, latest map[string]string) error {
	for slug, date := range latest {
		lastScraped, ok := scrapeDateTime(date)
		if !ok {
			continue
		}
		_, err := tx.Exec(sqlext.SimplifyWhitespace(`
			UPDATE roasters
			SET last_scraped = ?,
			    total_beans_scraped = (SELECT COUNT(*) FROM beans WHERE beans.roaster_directory = roasters.slug)
			WHERE slug = ?
		`), lastScraped, slug)
		if err != nil {
			return fmt.Errorf("update stats for roaster %s: %w", slug, err)
		}
	}
	return nil
}

// beanGroup is the authoritative view of one (roaster_directory, url) pair:
// the newest observation wins, and the earliest scraped_at feeds date_added.
type beanGroup struct {
	Best         parsedBean
	MinScrapedAt time.Time
}

func groupKey(roasterDir, url string) string {
	return roasterDir + "\x00" + url
}

// observationRank orders observations of the same bean: by scrape date
// first, then by the scraped_at timestamp within the date.
func observationRank(file SourceFile, scrapedAt time.Time) string {
	return file.ScrapeDate + "\x00" + scrapedAt.UTC().Format(time.RFC3339Nano)
}

func (l *Loader) upsertBeans(tx *gorp.Transaction, beans []parsedBean, stats *Stats) error {
	groups := make(map[string]*beanGroup)
	var order []string
	for _, bean := range beans {
		key := groupKey(bean.File.RoasterDir, bean.Record.URL)
		scrapedAt := bean.Record.ScrapedAt.Value
		group, exists := groups[key]
		if !exists {
			groups[key] = &beanGroup{Best: bean, MinScrapedAt: scrapedAt}
			order = append(order, key)
			continue
		}
		if scrapedAt.Before(group.MinScrapedAt) {
			group.MinScrapedAt = scrapedAt
		}
		if observationRank(bean.File, scrapedAt) > observationRank(group.Best.File, group.Best.Record.ScrapedAt.Value) {
			group.Best = bean
		}
	}

	existing, err := db.BuildIndexOfDBResult(tx,
		func(b db.Bean) string { return groupKey(b.RoasterDirectory, b.URL) },
		`SELECT * FROM beans`)
	if err != nil {
		return fmt.Errorf("enumerate beans: %w", err)
	}
	nextID, err := tx.SelectInt(`SELECT COALESCE(MAX(id), 0) + 1 FROM beans`)
	if err != nil {
		return err
	}

	for _, key := range order {
		group := groups[key]
		row, err := l.buildBeanRow(group.Best)
		if err != nil {
			l.LogError("skipping %s: %s", group.Best.File.RelPath, err.Error())
			stats.FilesSkipped++
			continue
		}

		previous, exists := existing[key]
		if exists {
			row.ID = previous.ID
			row.DateAdded = minTime(previous.DateAdded, group.MinScrapedAt)
			previousRank := previous.ScrapedAt.UTC().Format(time.RFC3339Nano)
			newRank := group.Best.Record.ScrapedAt.Value.UTC().Format(time.RFC3339Nano)
			if newRank < previousRank {
				// the new artifact is older than what we already have;
				// only the date_added can move
				if !row.DateAdded.Equal(previous.DateAdded) {
					_, err := tx.Exec(`UPDATE beans SET date_added = ? WHERE id = ?`, row.DateAdded, previous.ID)
					if err != nil {
						return err
					}
				}
				continue
			}
			_, err = tx.Update(&row)
			if err != nil {
				return fmt.Errorf("update bean %s: %w", group.Best.Record.URL, err)
			}
			_, err = tx.Exec(`DELETE FROM origins WHERE bean_id = ?`, row.ID)
			if err != nil {
				return err
			}
			stats.BeansUpdated++
		} else {
			row.ID = db.BeanID(nextID)
			nextID++
			row.DateAdded = group.MinScrapedAt
			err = tx.Insert(&row)
			if err != nil {
				return fmt.Errorf("insert bean %s: %w", group.Best.Record.URL, err)
			}
			stats.BeansInserted++
		}

		err = l.insertOrigins(tx, row.ID, group.Best.Record.Origins)
		if err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) buildBeanRow(bean parsedBean) (db.Bean, error) {
	record := bean.Record
	file := bean.File

	notesJSON, err := json.Marshal(emptyAsList(record.TastingNotes.Values))
	if err != nil {
		return db.Bean{}, err
	}
	imageURL := ""
	if record.ImageURL != "" {
		imageURL = core.StaticImagePath(file.RelPath)
	}
	cleanSlug := core.CleanSlug(core.FilenameStem(file.RelPath))

	return db.Bean{
		Name:              record.Name,
		Roaster:           l.Tables.RoasterDisplayName(file.RoasterDir, record.Roaster),
		RoasterDirectory:  file.RoasterDir,
		URL:               record.URL,
		ImageURL:          imageURL,
		IsSingleOrigin:    record.IsSingleOrigin.Ptr(),
		IsDecaf:           record.IsDecaf.Ptr(),
		Price:             record.Price.Ptr(),
		Currency:          record.Currency,
		PricePaidForGreen: record.GreenPrice.Ptr(),
		GreenCurrency:     record.GreenCurrency,
		WeightGrams:       record.WeightGrams.Ptr(),
		RoastLevel:        record.RoastLevel.Ptr(),
		RoastProfile:      record.RoastProfile.Ptr(),
		CuppingScore:      record.CuppingScore.Ptr(),
		TastingNotesJSON:  string(notesJSON),
		Description:       record.Description,
		InStock:           record.InStock.Value,
		ScrapedAt:         record.ScrapedAt.Value,
		ScraperVersion:    record.ScraperVersion,
		Filename:          file.RelPath,
		CleanURLSlug:      cleanSlug,
		BeanURLPath:       core.BeanURLPath(file.RoasterDir, cleanSlug),
	}, nil
}

func (l *Loader) insertOrigins(tx *gorp.Transaction, beanID db.BeanID, origins []core.OriginRecord) error {
	for _, origin := range origins {
		country := origin.Country
		if country != "" {
			country, _ = core.NormalizeCountry(country)
		}
		canonicalJSON, err := json.Marshal(emptyAsList(l.Tables.CanonicalVarietals(origin.Variety)))
		if err != nil {
			return err
		}
		row := db.Origin{
			BeanID:            beanID,
			Country:           country,
			Region:            origin.Region,
			RegionNormalized:  util.Slugify(origin.Region),
			Producer:          origin.Producer,
			Farm:              origin.Farm,
			FarmNormalized:    util.Slugify(origin.Farm),
			ElevationMin:      origin.ElevationMin.Ptr(),
			ElevationMax:      origin.ElevationMax.Ptr(),
			Latitude:          origin.Latitude.Ptr(),
			Longitude:         origin.Longitude.Ptr(),
			Process:           origin.Process,
			ProcessCommonName: l.Tables.ProcessCommonName(origin.Process),
			Variety:           origin.Variety,
			VarietyCanonical:  string(canonicalJSON),
			HarvestDate:       origin.HarvestDate.Ptr(),
		}
		err = tx.Insert(&row)
		if err != nil {
			return fmt.Errorf("insert origin for bean %d: %w", beanID, err)
		}
	}
	return nil
}

func emptyAsList(names []string) []string {
	if names == nil {
		return []string{}
	}
	return names
}

// deriveStockStatus forces in_stock = false on every bean that does not
// appear in its roaster's latest scrape, and back to true when a bean is only
// referenced by a diff update in the latest scrape date.
func (l *Loader) deriveStockStatus(tx *gorp.Transaction, latest map[string]string, diffURLs map[string]map[string]bool) error {
	for roasterDir, date := range latest {
		prefix := "roasters/" + roasterDir + "/" + date + "/"

		urls := make([]string, 0, len(diffURLs[roasterDir]))
		for url := range diffURLs[roasterDir] {
			urls = append(urls, url)
		}
		sort.Strings(urls)

		urlCondition, urlArgs := db.BuildSimpleWhereClause(map[string]any{"url": urls})
		args := append([]any{prefix + "%"}, urlArgs...)
		args = append(args, roasterDir)
		_, err := tx.Exec(fmt.Sprintf(sqlext.SimplifyWhitespace(`
			UPDATE beans SET in_stock = FALSE
			WHERE NOT (filename LIKE ?) AND NOT (%s) AND roaster_directory = ?
		`), urlCondition), args...)
		if err != nil {
			return fmt.Errorf("derive stock status for roaster %s: %w", roasterDir, err)
		}

		if len(urls) > 0 {
			condition, condArgs := db.BuildSimpleWhereClause(map[string]any{"url": urls, "roaster_directory": roasterDir})
			_, err = tx.Exec("UPDATE beans SET in_stock = TRUE WHERE "+condition, condArgs...)
			if err != nil {
				return fmt.Errorf("derive stock status for roaster %s: %w", roasterDir, err)
			}
		}
	}
	return nil
}

// recomputePriceUSD fills beans.price_usd from the newest USD-based rate for
// each bean's currency. Beans whose currency has no usable rate get NULL.
var recomputePriceUSDQuery = sqlext.SimplifyWhitespace(`
	UPDATE beans SET price_usd = CASE
		WHEN price IS NULL THEN NULL
		WHEN upper(currency) = 'USD' THEN price
		ELSE price / (
			SELECT r.rate FROM currency_rates r
			WHERE r.target = upper(beans.currency) AND r.rate != 0
			ORDER BY r.fetched_at DESC, r.id DESC
			LIMIT 1
		)
	END
`)

func recomputePriceUSD(tx *gorp.Transaction) error {
	_, err := tx.Exec(recomputePriceUSDQuery)
	if err != nil {
		return fmt.Errorf("recompute price_usd: %w", err)
	}
	return nil
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

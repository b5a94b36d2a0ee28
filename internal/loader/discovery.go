// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package loader

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/sapcc/go-bits/logg"
	"golang.org/x/sync/errgroup"
)

// SourceFile is one artifact discovered in the scraper output tree. The
// relative path doubles as the primary key of the file-tracking ledger.
type SourceFile struct {
	RelPath    string // relative to the data directory
	RoasterDir string
	ScrapeDate string // YYYYMMDD directory name
	IsDiff     bool
	Checksum   string // sha256 hex
}

var scrapeDateRx = regexp.MustCompile(`^\d{8}$`)

// discoverFiles enumerates all artifact files below <data>/roasters/.
// Files outside the <roaster>/<YYYYMMDD>/<name> layout are skipped with a
// debug log; scrapers occasionally leave stray state files behind.
func (l *Loader) discoverFiles() ([]SourceFile, error) {
	fsys := os.DirFS(l.Config.DataDir)
	matches, err := doublestar.Glob(fsys, "roasters/*/*/*.{json,diffjson}")
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", l.Config.RoastersDir(), err)
	}
	sort.Strings(matches)

	files := make([]SourceFile, 0, len(matches))
	for _, match := range matches {
		segments := strings.Split(match, "/")
		// "roasters" / roaster_directory / scrape_date / filename
		if len(segments) != 4 {
			continue
		}
		if !scrapeDateRx.MatchString(segments[2]) {
			logg.Debug("skipping artifact outside a dated directory: %s", match)
			continue
		}
		files = append(files, SourceFile{
			RelPath:    match,
			RoasterDir: segments[1],
			ScrapeDate: segments[2],
			IsDiff:     strings.HasSuffix(match, ".diffjson"),
		})
	}
	return files, nil
}

// checksumFiles fills in the Checksum field of each file, reading in parallel.
func (l *Loader) checksumFiles(files []SourceFile) error {
	concurrency := l.Config.Loader.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}
	var group errgroup.Group
	group.SetLimit(concurrency)
	for idx := range files {
		group.Go(func() error {
			buf, err := l.readFile(files[idx].RelPath)
			if err != nil {
				return err
			}
			sum := sha256.Sum256(buf)
			files[idx].Checksum = hex.EncodeToString(sum[:])
			return nil
		})
	}
	return group.Wait()
}

func (l *Loader) readFile(relPath string) ([]byte, error) {
	buf, err := os.ReadFile(l.absPath(relPath))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", relPath, err)
	}
	return buf, nil
}

func (l *Loader) absPath(relPath string) string {
	return filepath.Join(l.Config.DataDir, filepath.FromSlash(relPath))
}

// scrapeDateTime parses a scrape date directory name into a UTC timestamp.
func scrapeDateTime(scrapeDate string) (time.Time, bool) {
	parsed, err := time.Parse("20060102", scrapeDate)
	if err != nil {
		return time.Time{}, false
	}
	return parsed.UTC(), true
}

// latestScrapeDates finds the newest scrape date per roaster, considering
// both full snapshots and diff updates.
func latestScrapeDates(files []SourceFile) map[string]string {
	latest := make(map[string]string)
	for _, file := range files {
		if file.ScrapeDate > latest[file.RoasterDir] {
			latest[file.RoasterDir] = file.ScrapeDate
		}
	}
	return latest
}

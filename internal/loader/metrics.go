// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package loader

import (
	"database/sql"

	gorp "github.com/go-gorp/gorp/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/sqlext"
)

var (
	filesSeenCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kissaten_ingest_files_seen_total",
		Help: "Number of artifact files discovered by ingest runs.",
	})
	filesParsedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kissaten_ingest_files_parsed_total",
		Help: "Number of artifact files parsed successfully by ingest runs.",
	})
	filesSkippedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kissaten_ingest_files_skipped_total",
		Help: "Number of artifact files skipped because of parse or validation errors.",
	})
	beansWrittenCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kissaten_ingest_beans_written_total",
		Help: "Number of bean rows written by ingest runs.",
	}, []string{"operation"})
	diffsAppliedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kissaten_ingest_diffs_applied_total",
		Help: "Number of diff updates applied to existing beans.",
	})
	diffsSkippedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kissaten_ingest_diffs_skipped_total",
		Help: "Number of diff updates that matched no bean or failed to apply.",
	})
	deletionsSweptCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kissaten_ingest_deletions_swept_total",
		Help: "Number of ledger entries removed because their file vanished from disk.",
	})
)

// RegisterMetrics adds the ingest counters to the default Prometheus
// registry. Call this once in the main function of the loader task.
func RegisterMetrics() {
	prometheus.MustRegister(filesSeenCounter, filesParsedCounter, filesSkippedCounter,
		beansWrittenCounter, diffsAppliedCounter, diffsSkippedCounter, deletionsSweptCounter)
}

func observeIngestRun(stats Stats) {
	filesSeenCounter.Add(float64(stats.FilesSeen))
	filesParsedCounter.Add(float64(stats.FilesParsed))
	filesSkippedCounter.Add(float64(stats.FilesSkipped))
	beansWrittenCounter.WithLabelValues("insert").Add(float64(stats.BeansInserted))
	beansWrittenCounter.WithLabelValues("update").Add(float64(stats.BeansUpdated))
	diffsAppliedCounter.Add(float64(stats.DiffsApplied))
	diffsSkippedCounter.Add(float64(stats.DiffsSkipped))
	deletionsSweptCounter.Add(float64(stats.DeletionsSwept))
}

// DataMetricsCollector reports catalog gauges straight from the warehouse:
// bean counts per roaster and stock state. It is registered by the API
// process, so the dashboards stay current without a loader run.
type DataMetricsCollector struct {
	DB *gorp.DbMap
}

var beansGaugeDesc = prometheus.NewDesc(
	"kissaten_beans",
	"Number of beans in the catalog, by roaster and stock state.",
	[]string{"roaster", "in_stock"}, nil)

// Describe implements the prometheus.Collector interface.
func (c *DataMetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- beansGaugeDesc
}

var beansGaugeQuery = sqlext.SimplifyWhitespace(`
	SELECT roaster_directory, in_stock, COUNT(*) FROM beans GROUP BY roaster_directory, in_stock
`)

// Collect implements the prometheus.Collector interface.
func (c *DataMetricsCollector) Collect(ch chan<- prometheus.Metric) {
	err := sqlext.ForeachRow(c.DB, beansGaugeQuery, nil, func(rows *sql.Rows) error {
		var (
			roaster string
			inStock bool
			count   int64
		)
		err := rows.Scan(&roaster, &inStock, &count)
		if err != nil {
			return err
		}
		stockLabel := "false"
		if inStock {
			stockLabel = "true"
		}
		ch <- prometheus.MustNewConstMetric(beansGaugeDesc, prometheus.GaugeValue, float64(count), roaster, stockLabel)
		return nil
	})
	if err != nil {
		logg.Error("collect data metrics: %s", err.Error())
	}
}

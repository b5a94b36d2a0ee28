// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package loader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kissaten/kissaten/internal/db"
	"github.com/kissaten/kissaten/internal/test"
)

func newLoader(s test.Setup) *Loader {
	l := New(s.DB, s.Config, s.Tables)
	l.TimeNow = s.Clock.Now
	return l
}

func selectBeans(t *testing.T, s test.Setup) []db.Bean {
	t.Helper()
	var beans []db.Bean
	_, err := s.DB.Select(&beans, `SELECT * FROM beans ORDER BY roaster_directory, url`)
	require.NoError(t, err)
	return beans
}

func TestLoadSingleSnapshot(t *testing.T) {
	s := test.NewSetup(t,
		test.WithDataFile("roasters.json", test.RoasterRegistryJSON(
			[3]string{"blue-bottle", "Blue Bottle Coffee", "US"},
		)),
		test.WithDataFile("roasters/blue-bottle/20260815/yirgacheffe.json",
			test.BeanJSON("Yirgacheffe", "Blue Bottle", "https://bluebottle.example/products/yirgacheffe",
				`"price": 18.50`, `"currency": "USD"`, `"weight": 250`,
				`"tasting_notes": ["blueberry", "jasmine"]`)),
	)
	l := newLoader(s)

	stats, err := l.Run(s.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesSeen)
	assert.Equal(t, 1, stats.BeansInserted)
	assert.Equal(t, 0, stats.BeansUpdated)

	beans := selectBeans(t, s)
	require.Len(t, beans, 1)
	bean := beans[0]
	assert.Equal(t, "Yirgacheffe", bean.Name)
	assert.Equal(t, "blue-bottle", bean.RoasterDirectory)
	assert.Equal(t, "Blue Bottle Coffee", bean.Roaster) // registry display name wins
	assert.True(t, bean.InStock)
	require.NotNil(t, bean.Price)
	assert.InDelta(t, 18.50, *bean.Price, 0.001)
	assert.Equal(t, []string{"Blueberry", "Jasmine"}, bean.TastingNotes())

	var origins []db.Origin
	_, err = s.DB.Select(&origins, `SELECT * FROM origins WHERE bean_id = ?`, bean.ID)
	require.NoError(t, err)
	require.Len(t, origins, 1)
	assert.Equal(t, "ET", origins[0].Country)
	assert.Equal(t, "Yirgacheffe", origins[0].Region)
}

func TestRunIsIdempotent(t *testing.T) {
	s := test.NewSetup(t,
		test.WithDataFile("roasters/blue-bottle/20260815/a.json",
			test.BeanJSON("Bean A", "Blue Bottle", "https://bluebottle.example/products/a")),
		test.WithDataFile("roasters/blue-bottle/20260815/b.json",
			test.BeanJSON("Bean B", "Blue Bottle", "https://bluebottle.example/products/b")),
	)
	l := newLoader(s)

	_, err := l.Run(s.Ctx)
	require.NoError(t, err)
	firstRun := selectBeans(t, s)

	_, err = l.Run(s.Ctx)
	require.NoError(t, err)
	secondRun := selectBeans(t, s)

	assert.Equal(t, firstRun, secondRun)
}

func TestIncrementalSkipsProcessedFiles(t *testing.T) {
	s := test.NewSetup(t,
		test.WithDataFile("roasters/blue-bottle/20260815/a.json",
			test.BeanJSON("Bean A", "Blue Bottle", "https://bluebottle.example/products/a")),
	)
	s.Config.Loader.Incremental = true
	l := newLoader(s)

	stats, err := l.Run(s.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesParsed)

	stats, err = l.Run(s.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.FilesParsed)

	s.AddScrapeFile(t, "blue-bottle", "20260815", "b.json",
		test.BeanJSON("Bean B", "Blue Bottle", "https://bluebottle.example/products/b"))
	stats, err = l.Run(s.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesParsed)
	assert.Len(t, selectBeans(t, s), 2)
}

func TestChecksumChangeReprocessesFile(t *testing.T) {
	s := test.NewSetup(t,
		test.WithDataFile("roasters/blue-bottle/20260815/a.json",
			test.BeanJSON("Bean A", "Blue Bottle", "https://bluebottle.example/products/a",
				`"price": 18.50`, `"currency": "USD"`)),
	)
	s.Config.Loader.Incremental = true
	s.Config.Loader.CheckForChanges = true
	l := newLoader(s)

	_, err := l.Run(s.Ctx)
	require.NoError(t, err)

	// same file, new content: the ledger checksum no longer matches
	s.AddScrapeFile(t, "blue-bottle", "20260815", "a.json",
		test.BeanJSON("Bean A", "Blue Bottle", "https://bluebottle.example/products/a",
			`"price": 21.00`, `"currency": "USD"`))
	stats, err := l.Run(s.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesParsed)

	beans := selectBeans(t, s)
	require.Len(t, beans, 1)
	require.NotNil(t, beans[0].Price)
	assert.InDelta(t, 21.00, *beans[0].Price, 0.001)
}

func TestNewestObservationWinsWithinRun(t *testing.T) {
	url := "https://bluebottle.example/products/a"
	s := test.NewSetup(t,
		test.WithDataFile("roasters/blue-bottle/20260810/a.json",
			test.BeanJSON("Bean A", "Blue Bottle", url,
				`"price": 16.00`, `"currency": "USD"`, `"scraped_at": "2026-08-10T08:00:00Z"`)),
		test.WithDataFile("roasters/blue-bottle/20260815/a.json",
			test.BeanJSON("Bean A", "Blue Bottle", url,
				`"price": 18.00`, `"currency": "USD"`)),
	)
	l := newLoader(s)

	stats, err := l.Run(s.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.BeansInserted)

	beans := selectBeans(t, s)
	require.Len(t, beans, 1)
	bean := beans[0]
	require.NotNil(t, bean.Price)
	assert.InDelta(t, 18.00, *bean.Price, 0.001) // newest scrape wins
	// but the first sighting feeds date_added
	assert.Equal(t, "2026-08-10", bean.DateAdded.UTC().Format("2006-01-02"))
	assert.True(t, bean.InStock)
}

func TestStockDerivation(t *testing.T) {
	s := test.NewSetup(t,
		// present in the older scrape only: must end up out of stock
		test.WithDataFile("roasters/blue-bottle/20260810/gone.json",
			test.BeanJSON("Gone Bean", "Blue Bottle", "https://bluebottle.example/products/gone")),
		// present in the latest scrape: stays in stock
		test.WithDataFile("roasters/blue-bottle/20260815/kept.json",
			test.BeanJSON("Kept Bean", "Blue Bottle", "https://bluebottle.example/products/kept")),
		// a different roaster's latest scrape is independent
		test.WithDataFile("roasters/sey/20260812/other.json",
			test.BeanJSON("Other Bean", "Sey", "https://sey.example/products/other")),
	)
	l := newLoader(s)

	_, err := l.Run(s.Ctx)
	require.NoError(t, err)

	stock := make(map[string]bool)
	for _, bean := range selectBeans(t, s) {
		stock[bean.Name] = bean.InStock
	}
	assert.Equal(t, map[string]bool{
		"Gone Bean":  false,
		"Kept Bean":  true,
		"Other Bean": true,
	}, stock)
}

func TestDiffUpdatesApplyInScrapeOrder(t *testing.T) {
	url := "https://bluebottle.example/products/a"
	s := test.NewSetup(t,
		test.WithDataFile("roasters/blue-bottle/20260815/a.json",
			test.BeanJSON("Bean A", "Blue Bottle", url,
				`"price": 18.00`, `"currency": "USD"`)),
		// deliberately listed out of order; application sorts by scraped_at
		test.WithDataFile("roasters/blue-bottle/20260815/update2.diffjson",
			test.DiffJSON(url, "2026-08-15T12:00:00Z", `"price": 15.00`, `"in_stock": false`)),
		test.WithDataFile("roasters/blue-bottle/20260815/update1.diffjson",
			test.DiffJSON(url, "2026-08-15T09:00:00Z", `"price": 17.00`)),
	)
	l := newLoader(s)

	stats, err := l.Run(s.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.DiffsApplied)

	beans := selectBeans(t, s)
	require.Len(t, beans, 1)
	bean := beans[0]
	require.NotNil(t, bean.Price)
	assert.InDelta(t, 15.00, *bean.Price, 0.001)
	assert.False(t, bean.InStock)
	assert.Equal(t, "2026-08-15T12:00:00Z", bean.ScrapedAt.UTC().Format("2006-01-02T15:04:05Z07:00"))
}

func TestDiffForUnknownBeanIsSkipped(t *testing.T) {
	s := test.NewSetup(t,
		test.WithDataFile("roasters/blue-bottle/20260815/a.json",
			test.BeanJSON("Bean A", "Blue Bottle", "https://bluebottle.example/products/a")),
		test.WithDataFile("roasters/blue-bottle/20260815/stray.diffjson",
			test.DiffJSON("https://bluebottle.example/products/never-scraped", "2026-08-15T09:00:00Z",
				`"price": 12.00`)),
	)
	l := newLoader(s)

	stats, err := l.Run(s.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.DiffsApplied)
	assert.Equal(t, 1, stats.DiffsSkipped)

	// the stray diff is still marked processed so it is not retried forever
	count, err := s.DB.SelectInt(`SELECT COUNT(*) FROM processed_files WHERE file_type = 'diffjson'`)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestDiffOnlyPresenceKeepsBeanInStock(t *testing.T) {
	url := "https://bluebottle.example/products/a"
	s := test.NewSetup(t,
		test.WithDataFile("roasters/blue-bottle/20260810/a.json",
			test.BeanJSON("Bean A", "Blue Bottle", url)),
		// the latest scrape date has no full snapshot for this bean, only a
		// diff mentioning it, which still counts as presence
		test.WithDataFile("roasters/blue-bottle/20260815/a.diffjson",
			test.DiffJSON(url, "2026-08-15T09:00:00Z", `"price": 19.00`, `"currency": "USD"`)),
	)
	l := newLoader(s)

	_, err := l.Run(s.Ctx)
	require.NoError(t, err)

	beans := selectBeans(t, s)
	require.Len(t, beans, 1)
	assert.True(t, beans[0].InStock)
	require.NotNil(t, beans[0].Price)
	assert.InDelta(t, 19.00, *beans[0].Price, 0.001)
}

func TestDeletedFilesAreSweptFromWarehouse(t *testing.T) {
	s := test.NewSetup(t,
		test.WithDataFile("roasters/blue-bottle/20260815/a.json",
			test.BeanJSON("Bean A", "Blue Bottle", "https://bluebottle.example/products/a")),
		test.WithDataFile("roasters/blue-bottle/20260815/b.json",
			test.BeanJSON("Bean B", "Blue Bottle", "https://bluebottle.example/products/b")),
	)
	s.Config.Loader.Incremental = true
	l := newLoader(s)

	_, err := l.Run(s.Ctx)
	require.NoError(t, err)
	require.Len(t, selectBeans(t, s), 2)

	s.RemoveScrapeFile(t, "blue-bottle", "20260815", "b.json")
	stats, err := l.Run(s.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DeletionsSwept)

	beans := selectBeans(t, s)
	require.Len(t, beans, 1)
	assert.Equal(t, "Bean A", beans[0].Name)

	count, err := s.DB.SelectInt(`SELECT COUNT(*) FROM processed_files`)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestInvalidFilesAreSkippedWithoutAbort(t *testing.T) {
	s := test.NewSetup(t,
		test.WithDataFile("roasters/blue-bottle/20260815/good.json",
			test.BeanJSON("Good Bean", "Blue Bottle", "https://bluebottle.example/products/good")),
		test.WithDataFile("roasters/blue-bottle/20260815/broken.json", `{not json`),
		test.WithDataFile("roasters/blue-bottle/20260815/no-name.json",
			`{"roaster": "Blue Bottle", "url": "https://bluebottle.example/products/x", "origins": [{"country": "ET"}]}`),
	)
	l := newLoader(s)
	var loggedErrors []string
	l.LogError = func(msg string, args ...any) {
		loggedErrors = append(loggedErrors, msg)
	}

	stats, err := l.Run(s.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.BeansInserted)
	assert.Len(t, loggedErrors, 2)

	beans := selectBeans(t, s)
	require.Len(t, beans, 1)
	assert.Equal(t, "Good Bean", beans[0].Name)
}

func TestSanitizationDegradesOutOfRangeValues(t *testing.T) {
	s := test.NewSetup(t,
		test.WithDataFile("roasters/blue-bottle/20260815/a.json",
			test.BeanJSON("Bean A", "Blue Bottle", "https://bluebottle.example/products/a",
				`"price": -5.0`, `"currency": "USD"`, `"weight": 20`, `"cupping_score": 120`)),
	)
	l := newLoader(s)

	_, err := l.Run(s.Ctx)
	require.NoError(t, err)

	beans := selectBeans(t, s)
	require.Len(t, beans, 1)
	bean := beans[0]
	assert.Nil(t, bean.Price)
	assert.Nil(t, bean.WeightGrams)
	assert.Nil(t, bean.CuppingScore)
	assert.Equal(t, "Bean A", bean.Name)
}

func TestPriceUSDComputedFromRates(t *testing.T) {
	s := test.NewSetup(t,
		test.WithExchangeRates(map[string]float64{"EUR": 0.90, "JPY": 150}),
		test.WithDataFile("roasters/sey/20260815/eur.json",
			test.BeanJSON("Euro Bean", "Sey", "https://sey.example/products/eur",
				`"price": 18.00`, `"currency": "EUR"`)),
		test.WithDataFile("roasters/sey/20260815/usd.json",
			test.BeanJSON("Dollar Bean", "Sey", "https://sey.example/products/usd",
				`"price": 20.00`, `"currency": "USD"`)),
		test.WithDataFile("roasters/sey/20260815/unknown.json",
			test.BeanJSON("Franc Bean", "Sey", "https://sey.example/products/chf",
				`"price": 22.00`, `"currency": "CHF"`)),
	)
	l := newLoader(s)

	_, err := l.Run(s.Ctx)
	require.NoError(t, err)

	priceUSD := make(map[string]*float64)
	for _, bean := range selectBeans(t, s) {
		priceUSD[bean.Name] = bean.PriceUSD
	}
	require.NotNil(t, priceUSD["Euro Bean"])
	assert.InDelta(t, 20.00, *priceUSD["Euro Bean"], 0.001)
	require.NotNil(t, priceUSD["Dollar Bean"])
	assert.InDelta(t, 20.00, *priceUSD["Dollar Bean"], 0.001)
	assert.Nil(t, priceUSD["Franc Bean"])
}

func TestRoasterStatsAfterLoad(t *testing.T) {
	s := test.NewSetup(t,
		test.WithDataFile("roasters.json", test.RoasterRegistryJSON(
			[3]string{"blue-bottle", "Blue Bottle Coffee", "US"},
			[3]string{"never-scraped", "Paper Roaster", "DE"},
		)),
		test.WithDataFile("roasters/blue-bottle/20260815/a.json",
			test.BeanJSON("Bean A", "Blue Bottle", "https://bluebottle.example/products/a")),
	)
	l := newLoader(s)

	_, err := l.Run(s.Ctx)
	require.NoError(t, err)

	var roasters []db.Roaster
	_, err = s.DB.Select(&roasters, `SELECT * FROM roasters ORDER BY slug`)
	require.NoError(t, err)
	require.Len(t, roasters, 2)

	assert.Equal(t, "blue-bottle", roasters[0].Slug)
	assert.EqualValues(t, 1, roasters[0].TotalBeansScraped)
	require.NotNil(t, roasters[0].LastScraped)

	// registry entries without scrape data still appear
	assert.Equal(t, "never-scraped", roasters[1].Slug)
	assert.EqualValues(t, 0, roasters[1].TotalBeansScraped)
	assert.Nil(t, roasters[1].LastScraped)
}

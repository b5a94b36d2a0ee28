// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package dedupe

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kissaten/kissaten/internal/canonical"
	"github.com/kissaten/kissaten/internal/loader"
	"github.com/kissaten/kissaten/internal/test"
)

// farmBean renders a bean whose single origin carries the given farm and
// producer, in the given country/region.
func farmBean(name, url, country, region, farm, producer string) string {
	return test.BeanJSON(name, "Blue Bottle", url,
		`"origins": [{"country": "`+country+`", "region": "`+region+`", "farm": "`+farm+`", "producer": "`+producer+`"}]`)
}

func dedupeSetup(t *testing.T, beanFiles map[string]string) test.Setup {
	t.Helper()
	opts := []test.SetupOption{
		test.WithDataFile("roasters.json", test.RoasterRegistryJSON(
			[3]string{"blue-bottle", "Blue Bottle Coffee", "US"},
		)),
	}
	for name, content := range beanFiles {
		opts = append(opts, test.WithDataFile("roasters/blue-bottle/20260815/"+name, content))
	}
	s := test.NewSetup(t, opts...)

	l := loader.New(s.DB, s.Config, s.Tables)
	l.TimeNow = s.Clock.Now
	_, err := l.Run(s.Ctx)
	require.NoError(t, err)
	return s
}

func readMappings(t *testing.T, path string) []canonical.FarmClusterMapping {
	t.Helper()
	buf, err := os.ReadFile(path)
	require.NoError(t, err)
	var mappings []canonical.FarmClusterMapping
	require.NoError(t, json.Unmarshal(buf, &mappings))
	return mappings
}

func TestPipelineClustersSimilarFarms(t *testing.T) {
	s := dedupeSetup(t, map[string]string{
		// two beans on the dominant spelling, one on a typo variant
		"lot1_100000.json": farmBean("Yirgacheffe Lot 1", "https://bluebottle.example/products/lot1", "ET", "Yirgacheffe", "Halo Beriti", "Tadesse Edema"),
		"lot2_100000.json": farmBean("Yirgacheffe Lot 2", "https://bluebottle.example/products/lot2", "ET", "Yirgacheffe", "Halo Beriti", "Tadesse Edema"),
		"lot3_100000.json": farmBean("Yirgacheffe Lot 3", "https://bluebottle.example/products/lot3", "ET", "Yirgacheffe", "Halo Berity", "Tadesse Edema"),
		// similar name, but the producer surname does not match
		"lot4_100000.json": farmBean("Yirgacheffe Lot 4", "https://bluebottle.example/products/lot4", "ET", "Yirgacheffe", "Halo Beritti", "Girma Bekele"),
		// shared producer, but the name is nothing alike
		"lot5_100000.json": farmBean("Yirgacheffe Lot 5", "https://bluebottle.example/products/lot5", "ET", "Yirgacheffe", "Chelbesa", "Tadesse Edema"),
	})

	outputPath := filepath.Join(t.TempDir(), "farm_mappings.json")
	err := NewPipeline(s.DB).Run(outputPath)
	require.NoError(t, err)

	mappings := readMappings(t, outputPath)
	require.Len(t, mappings, 1)
	assert.Equal(t, "ET", mappings[0].Country)
	assert.Equal(t, "yirgacheffe", mappings[0].Region)
	// the spelling with the most beans becomes canonical
	assert.Equal(t, "Halo Beriti", mappings[0].CanonicalFarmName)
	assert.Equal(t, []string{"halo-beriti", "halo-berity"}, mappings[0].NormalizedFarmNames)
}

func TestPipelineComparesTokenSortedNames(t *testing.T) {
	s := dedupeSetup(t, map[string]string{
		"p1_100000.json": farmBean("Huila Lot 1", "https://bluebottle.example/products/p1", "CO", "Huila", "Finca El Paraiso", "Diego Bermudez"),
		"p2_100000.json": farmBean("Huila Lot 2", "https://bluebottle.example/products/p2", "CO", "Huila", "Finca El Paraiso", "Diego Bermudez"),
		"p3_100000.json": farmBean("Huila Lot 3", "https://bluebottle.example/products/p3", "CO", "Huila", "El Paraiso Finca", "Diego Bermudez"),
	})

	outputPath := filepath.Join(t.TempDir(), "farm_mappings.json")
	err := NewPipeline(s.DB).Run(outputPath)
	require.NoError(t, err)

	// word order does not matter, so the two spellings compare as identical
	mappings := readMappings(t, outputPath)
	require.Len(t, mappings, 1)
	assert.Equal(t, "Finca El Paraiso", mappings[0].CanonicalFarmName)
	assert.Equal(t, []string{"el-paraiso-finca", "finca-el-paraiso"}, mappings[0].NormalizedFarmNames)
}

func TestPipelineMergePreservesOtherRegions(t *testing.T) {
	s := dedupeSetup(t, map[string]string{
		"lot1_100000.json": farmBean("Yirgacheffe Lot 1", "https://bluebottle.example/products/lot1", "ET", "Yirgacheffe", "Halo Beriti", "Tadesse Edema"),
		"lot2_100000.json": farmBean("Yirgacheffe Lot 2", "https://bluebottle.example/products/lot2", "ET", "Yirgacheffe", "Halo Beriti", "Tadesse Edema"),
		"lot3_100000.json": farmBean("Yirgacheffe Lot 3", "https://bluebottle.example/products/lot3", "ET", "Yirgacheffe", "Halo Berity", "Tadesse Edema"),
	})

	// a mapping from an earlier run, for a region this run does not touch
	outputPath := filepath.Join(t.TempDir(), "farm_mappings.json")
	existing := []canonical.FarmClusterMapping{{
		Country:             "BR",
		Region:              "cerrado",
		CanonicalFarmName:   "Fazenda Sertao",
		NormalizedFarmNames: []string{"fazenda-sertao", "sertao"},
	}}
	buf, err := json.Marshal(existing)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(outputPath, buf, 0o666))

	pipeline := NewPipeline(s.DB)
	require.NoError(t, pipeline.Run(outputPath))

	mappings := readMappings(t, outputPath)
	require.Len(t, mappings, 2)
	assert.Equal(t, "Fazenda Sertao", mappings[0].CanonicalFarmName)
	assert.Equal(t, "Halo Beriti", mappings[1].CanonicalFarmName)

	// a second run over unchanged data must not change the file
	firstRun, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	require.NoError(t, pipeline.Run(outputPath))
	secondRun, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Equal(t, string(firstRun), string(secondRun))
}

func TestPipelineRejectedClustersAreDropped(t *testing.T) {
	s := dedupeSetup(t, map[string]string{
		"lot1_100000.json": farmBean("Yirgacheffe Lot 1", "https://bluebottle.example/products/lot1", "ET", "Yirgacheffe", "Halo Beriti", "Tadesse Edema"),
		"lot2_100000.json": farmBean("Yirgacheffe Lot 2", "https://bluebottle.example/products/lot2", "ET", "Yirgacheffe", "Halo Berity", "Tadesse Edema"),
	})

	outputPath := filepath.Join(t.TempDir(), "farm_mappings.json")
	pipeline := NewPipeline(s.DB)
	pipeline.ReviewThreshold = 1.01 // force every cluster through review
	pipeline.Reviewer = TerminalReviewer{In: strings.NewReader("r\n"), Out: &bytes.Buffer{}}
	require.NoError(t, pipeline.Run(outputPath))

	assert.Empty(t, readMappings(t, outputPath))
}

func TestPipelineSingleMemberSubsetIsDropped(t *testing.T) {
	s := dedupeSetup(t, map[string]string{
		"lot1_100000.json": farmBean("Yirgacheffe Lot 1", "https://bluebottle.example/products/lot1", "ET", "Yirgacheffe", "Halo Beriti", "Tadesse Edema"),
		"lot2_100000.json": farmBean("Yirgacheffe Lot 2", "https://bluebottle.example/products/lot2", "ET", "Yirgacheffe", "Halo Berity", "Tadesse Edema"),
	})

	outputPath := filepath.Join(t.TempDir(), "farm_mappings.json")
	pipeline := NewPipeline(s.DB)
	pipeline.ReviewThreshold = 1.01
	// keeping only one member leaves nothing to merge
	pipeline.Reviewer = TerminalReviewer{In: strings.NewReader("1\n"), Out: &bytes.Buffer{}}
	require.NoError(t, pipeline.Run(outputPath))

	assert.Empty(t, readMappings(t, outputPath))
}

func TestTerminalReviewerDecisions(t *testing.T) {
	cluster := Cluster{
		Country:       "ET",
		RegionSlug:    "yirgacheffe",
		CanonicalName: "Halo Beriti",
		Members:       []string{"halo-beriti", "halo-beritti", "halo-berity"},
		Confidence:    0.91,
	}

	review := func(input string) (ReviewDecision, []string) {
		t.Helper()
		reviewer := TerminalReviewer{In: strings.NewReader(input), Out: &bytes.Buffer{}}
		decision, keep, err := reviewer.Review(cluster)
		require.NoError(t, err)
		return decision, keep
	}

	decision, _ := review("a\n")
	assert.Equal(t, ReviewApprove, decision)
	decision, _ = review("yes\n")
	assert.Equal(t, ReviewApprove, decision)
	decision, _ = review("r\n")
	assert.Equal(t, ReviewReject, decision)

	decision, keep := review("1 3\n")
	assert.Equal(t, ReviewKeepSubset, decision)
	assert.Equal(t, []string{"halo-beriti", "halo-berity"}, keep)

	// garbage input reprompts until something parseable arrives
	decision, keep = review("bogus\n0 7\n2\n")
	assert.Equal(t, ReviewKeepSubset, decision)
	assert.Equal(t, []string{"halo-beritti"}, keep)

	// EOF without a decision counts as reject
	decision, _ = review("")
	assert.Equal(t, ReviewReject, decision)
}

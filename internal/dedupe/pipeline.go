// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

// Package dedupe implements the offline farm deduplication pipeline. It scans
// the warehouse for farms within the same growing region whose names are
// near-identical, clusters them, and writes the resulting canonicalization
// map to farm_mappings.json for the next ingest run to pick up.
package dedupe

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	gorp "github.com/go-gorp/gorp/v3"
	"github.com/hbollon/go-edlib"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/kissaten/kissaten/internal/canonical"
	"github.com/kissaten/kissaten/internal/util"
)

// farmGroup is one distinct normalized farm name within a region, with the
// data needed to compare and rank it.
type farmGroup struct {
	FarmNormalized string
	// DisplayName is the most common raw spelling.
	DisplayName string
	// ProducerSurnames holds the folded last token of every producer seen
	// on this farm's origin rows.
	ProducerSurnames map[string]bool
	TotalBeans       int64
}

// Cluster is a group of farm spellings that the pipeline considers to be the
// same physical farm.
type Cluster struct {
	Country       string
	RegionSlug    string
	CanonicalName string
	// Members are the normalized farm names, canonical member included.
	Members    []string
	Confidence float64
}

// Pipeline holds the tunables of one deduplication run.
type Pipeline struct {
	DB *gorp.DbMap
	// SimilarityThreshold is the minimum Jaro-Winkler similarity of the
	// token-sorted names for a merge (default 0.90).
	SimilarityThreshold float64
	// ReviewThreshold is the cluster confidence above which clusters are
	// approved without manual review.
	ReviewThreshold float64
	Reviewer        Reviewer
}

// NewPipeline builds a Pipeline with the default thresholds and an
// auto-approving reviewer.
func NewPipeline(dbm *gorp.DbMap) *Pipeline {
	return &Pipeline{
		DB:                  dbm,
		SimilarityThreshold: 0.90,
		ReviewThreshold:     0.95,
		Reviewer:            AutoApprove{},
	}
}

var farmGroupsQuery = sqlext.SimplifyWhitespace(`
	SELECT origins.country,
	       COALESCE(
	         NULLIF(normalize_region_name(NULLIF(canonical_state(origins.country, origins.region), '')), ''),
	         origins.region_normalized) AS region_slug,
	       origins.farm_normalized, MIN(origins.farm), origins.producer,
	       COUNT(DISTINCT origins.bean_id)
	  FROM origins
	 WHERE origins.farm_normalized != '' AND origins.country != ''
	 GROUP BY origins.country, region_slug, origins.farm_normalized, origins.producer
`)

// Run scans the warehouse, clusters similar farms per region, surfaces
// low-confidence clusters to the reviewer, and merges the approved clusters
// into the mappings file at outputPath. Regions that yield no clusters this
// run keep their existing mappings.
func (p *Pipeline) Run(outputPath string) error {
	groupsByRegion, err := p.scanFarms()
	if err != nil {
		return err
	}

	var approved []Cluster
	for _, regionKey := range sortedRegionKeys(groupsByRegion) {
		clusters := p.clusterRegion(regionKey, groupsByRegion[regionKey])
		for _, cluster := range clusters {
			if len(cluster.Members) < 2 {
				continue
			}
			if cluster.Confidence < p.ReviewThreshold {
				cluster, err = p.review(cluster)
				if err != nil {
					return err
				}
				if len(cluster.Members) < 2 {
					continue
				}
			}
			approved = append(approved, cluster)
		}
	}

	logg.Info("farm dedup: %d clusters approved", len(approved))
	return mergeMappingsFile(outputPath, approved)
}

type regionKey struct {
	Country    string
	RegionSlug string
}

func (p *Pipeline) scanFarms() (map[regionKey][]farmGroup, error) {
	type groupKey struct {
		Region regionKey
		Farm   string
	}
	groups := make(map[groupKey]*farmGroup)
	regions := make(map[regionKey][]string)

	err := sqlext.ForeachRow(p.DB, farmGroupsQuery, nil, func(rows *sql.Rows) error {
		var (
			country, regionSlug, farmNormalized, displayName, producer string
			beanCount                                                  int64
		)
		err := rows.Scan(&country, &regionSlug, &farmNormalized, &displayName, &producer, &beanCount)
		if err != nil {
			return err
		}
		if regionSlug == "" {
			return nil
		}
		key := groupKey{regionKey{country, regionSlug}, farmNormalized}
		group := groups[key]
		if group == nil {
			group = &farmGroup{
				FarmNormalized:   farmNormalized,
				DisplayName:      displayName,
				ProducerSurnames: make(map[string]bool),
			}
			groups[key] = group
			regions[key.Region] = append(regions[key.Region], farmNormalized)
		}
		group.TotalBeans += beanCount
		if surname := producerSurname(producer); surname != "" {
			group.ProducerSurnames[surname] = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan farms: %w", err)
	}

	result := make(map[regionKey][]farmGroup, len(regions))
	for region, farmNames := range regions {
		sort.Strings(farmNames)
		for _, farmName := range farmNames {
			result[region] = append(result[region], *groups[groupKey{region, farmName}])
		}
	}
	return result, nil
}

// clusterRegion runs the pairwise comparison within one region and emerges
// clusters through Union-Find.
func (p *Pipeline) clusterRegion(region regionKey, farms []farmGroup) []Cluster {
	uf := newUnionFind(len(farms))
	type pairScore struct{ a, b int }
	confidences := make(map[pairScore]float64)

	for i := range farms {
		for j := i + 1; j < len(farms); j++ {
			similarity, ok := p.compareFarms(farms[i], farms[j])
			if !ok {
				continue
			}
			uf.union(i, j)
			confidences[pairScore{i, j}] = similarity
		}
	}

	memberIdxs := make(map[int][]int)
	for idx := range farms {
		root := uf.find(idx)
		memberIdxs[root] = append(memberIdxs[root], idx)
	}

	var clusters []Cluster
	for _, members := range memberIdxs {
		cluster := Cluster{
			Country:    region.Country,
			RegionSlug: region.RegionSlug,
			Confidence: 1.0,
		}

		// canonical pick: most beans, ties broken by the longer (more
		// formal) name
		canonicalIdx := members[0]
		for _, idx := range members[1:] {
			current, candidate := farms[canonicalIdx], farms[idx]
			if candidate.TotalBeans > current.TotalBeans ||
				(candidate.TotalBeans == current.TotalBeans && len(candidate.DisplayName) > len(current.DisplayName)) {
				canonicalIdx = idx
			}
		}
		cluster.CanonicalName = farms[canonicalIdx].DisplayName

		for _, idx := range members {
			cluster.Members = append(cluster.Members, farms[idx].FarmNormalized)
		}
		sort.Strings(cluster.Members)

		if len(members) > 1 {
			var total float64
			var count int
			for i := 0; i < len(members); i++ {
				for j := i + 1; j < len(members); j++ {
					a, b := members[i], members[j]
					if a > b {
						a, b = b, a
					}
					if confidence, exists := confidences[pairScore{a, b}]; exists {
						total += confidence
						count++
					}
				}
			}
			if count > 0 {
				cluster.Confidence = total / float64(count)
			}
		}
		clusters = append(clusters, cluster)
	}

	sort.Slice(clusters, func(i, j int) bool { return clusters[i].CanonicalName < clusters[j].CanonicalName })
	return clusters
}

// compareFarms applies the two merge signals: name similarity of the
// token-sorted folded names above the threshold, and at least one shared
// producer surname.
func (p *Pipeline) compareFarms(a, b farmGroup) (similarity float64, ok bool) {
	sharedSurname := false
	for surname := range a.ProducerSurnames {
		if b.ProducerSurnames[surname] {
			sharedSurname = true
			break
		}
	}
	if !sharedSurname {
		return 0, false
	}

	score, err := edlib.StringsSimilarity(tokenSortedName(a.FarmNormalized), tokenSortedName(b.FarmNormalized), edlib.JaroWinkler)
	if err != nil {
		return 0, false
	}
	similarity = float64(score)
	if similarity < p.SimilarityThreshold {
		return 0, false
	}
	return similarity, true
}

// tokenSortedName folds a name and sorts its tokens, so that "Finca La
// Esperanza" and "La Esperanza Finca" compare as equal.
func tokenSortedName(name string) string {
	tokens := strings.FieldsFunc(util.FoldText(name), func(r rune) bool {
		return r == ' ' || r == '-'
	})
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// producerSurname extracts the folded last name token of a producer.
func producerSurname(producer string) string {
	tokens := strings.Fields(util.FoldText(producer))
	if len(tokens) == 0 {
		return ""
	}
	return tokens[len(tokens)-1]
}

func (p *Pipeline) review(cluster Cluster) (Cluster, error) {
	decision, keep, err := p.Reviewer.Review(cluster)
	if err != nil {
		return Cluster{}, err
	}
	switch decision {
	case ReviewApprove:
		return cluster, nil
	case ReviewKeepSubset:
		cluster.Members = keep
		sort.Strings(cluster.Members)
		return cluster, nil
	default: // ReviewReject splits the cluster into singletons
		cluster.Members = nil
		return cluster, nil
	}
}

func sortedRegionKeys(groups map[regionKey][]farmGroup) []regionKey {
	keys := make([]regionKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Country != keys[j].Country {
			return keys[i].Country < keys[j].Country
		}
		return keys[i].RegionSlug < keys[j].RegionSlug
	})
	return keys
}

// mergeMappingsFile folds the approved clusters into the existing mappings
// file. Clusters of (country, region) pairs touched this run are replaced;
// everything else is preserved, so partial runs never lose data.
func mergeMappingsFile(path string, approved []Cluster) error {
	var existing []canonical.FarmClusterMapping
	buf, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// first run
	case err != nil:
		return fmt.Errorf("read farm mappings: %w", err)
	default:
		err = json.Unmarshal(buf, &existing)
		if err != nil {
			return fmt.Errorf("parse farm mappings: %w", err)
		}
	}

	touched := make(map[regionKey]bool)
	for _, cluster := range approved {
		touched[regionKey{cluster.Country, cluster.RegionSlug}] = true
	}

	var merged []canonical.FarmClusterMapping
	for _, mapping := range existing {
		if !touched[regionKey{strings.ToUpper(mapping.Country), mapping.Region}] {
			merged = append(merged, mapping)
		}
	}
	for _, cluster := range approved {
		merged = append(merged, canonical.FarmClusterMapping{
			Country:             cluster.Country,
			Region:              cluster.RegionSlug,
			CanonicalFarmName:   cluster.CanonicalName,
			NormalizedFarmNames: cluster.Members,
		})
	}
	sort.Slice(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.Country != b.Country {
			return a.Country < b.Country
		}
		if a.Region != b.Region {
			return a.Region < b.Region
		}
		return a.CanonicalFarmName < b.CanonicalFarmName
	})

	buf, err = json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return err
	}
	err = os.WriteFile(path, append(buf, '\n'), 0o666)
	if err != nil {
		return fmt.Errorf("write farm mappings: %w", err)
	}
	return nil
}

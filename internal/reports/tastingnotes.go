// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package reports

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/sapcc/go-bits/sqlext"

	"github.com/kissaten/kissaten/internal/db"
	"github.com/kissaten/kissaten/internal/search"
)

// NoteCategory is one flavor family with its aggregated note counts.
type NoteCategory struct {
	Category   string      `json:"category"`
	TotalBeans int64       `json:"total_beans"`
	Notes      []NameCount `json:"notes"`
}

// noteCategoryPatterns maps each flavor family to the substrings that assign
// a tasting note to it. A note lands in every category it matches; notes
// matching nothing are collected under "Other".
var noteCategoryPatterns = map[string][]string{
	"Fruity":    {"berry", "cherry", "apple", "pear", "peach", "apricot", "plum", "grape", "melon", "mango", "papaya", "pineapple", "banana", "passion", "lychee", "fig", "raisin", "currant", "fruit", "stone"},
	"Citrus":    {"lemon", "lime", "orange", "grapefruit", "citrus", "bergamot", "tangerine", "mandarin", "yuzu"},
	"Floral":    {"floral", "jasmine", "rose", "lavender", "hibiscus", "blossom", "elderflower", "chamomile"},
	"Chocolate": {"chocolate", "cocoa", "cacao", "nib", "fudge", "brownie", "mocha"},
	"Nutty":     {"almond", "hazelnut", "peanut", "walnut", "pecan", "cashew", "nut", "marzipan"},
	"Caramel":   {"caramel", "toffee", "butterscotch", "honey", "molasses", "maple", "brown sugar", "syrup"},
	"Spice":     {"cinnamon", "clove", "nutmeg", "cardamom", "ginger", "anise", "pepper", "spice"},
	"Sweet":     {"sugar", "vanilla", "marshmallow", "nougat", "candy", "sweet", "cream", "custard"},
	"Earthy":    {"earth", "tobacco", "cedar", "wood", "leather", "forest", "moss", "herbal", "hay"},
	"Fermented": {"wine", "rum", "whisky", "brandy", "boozy", "fermented", "funk", "sangria"},
	"Tea":       {"tea", "oolong", "matcha"},
}

var distinctNotesQuery = sqlext.SimplifyWhitespace(`
	SELECT notes.value, COUNT(*) AS cnt
	  FROM beans, json_each(beans.tasting_notes) AS notes
	 WHERE %s GROUP BY notes.value
`)

// GetNoteCategories aggregates the distinct tasting notes of the filtered
// beans into flavor families.
func GetNoteCategories(dbi db.Interface, params search.Parameters) ([]NoteCategory, error) {
	whereSQL, args, err := beanFilter(params)
	if err != nil {
		return nil, err
	}

	buckets := make(map[string][]NameCount)
	err = sqlext.ForeachRow(dbi, fmt.Sprintf(distinctNotesQuery, whereSQL), args, func(rows *sql.Rows) error {
		var entry NameCount
		err := rows.Scan(&entry.Name, &entry.Count)
		if err != nil {
			return err
		}
		for _, category := range categoriesOfNote(entry.Name) {
			buckets[category] = append(buckets[category], entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("aggregate tasting notes: %w", err)
	}

	result := make([]NoteCategory, 0, len(buckets))
	for category, notes := range buckets {
		sort.Slice(notes, func(i, j int) bool {
			if notes[i].Count != notes[j].Count {
				return notes[i].Count > notes[j].Count
			}
			return notes[i].Name < notes[j].Name
		})
		var total int64
		for _, note := range notes {
			total += note.Count
		}
		result = append(result, NoteCategory{Category: category, TotalBeans: total, Notes: notes})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].TotalBeans != result[j].TotalBeans {
			return result[i].TotalBeans > result[j].TotalBeans
		}
		return result[i].Category < result[j].Category
	})
	return result, nil
}

func categoriesOfNote(note string) []string {
	folded := strings.ToLower(note)
	var matched []string
	for category, patterns := range noteCategoryPatterns {
		for _, pattern := range patterns {
			if strings.Contains(folded, pattern) {
				matched = append(matched, category)
				break
			}
		}
	}
	if len(matched) == 0 {
		return []string{"Other"}
	}
	sort.Strings(matched)
	return matched
}

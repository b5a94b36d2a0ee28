// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"strings"

	"github.com/kissaten/kissaten/internal/util"
)

// CountryInfo describes one coffee-growing country. Aliases cover the
// spellings that actually show up on storefronts, including historical names
// and frequent misspellings.
type CountryInfo struct {
	Code    string // ISO 3166-1 alpha-2
	Alpha3  string
	Name    string
	Aliases []string
}

// Countries lists every country the catalog knows about, ordered by name.
var Countries = []CountryInfo{
	{Code: "AU", Alpha3: "AUS", Name: "Australia"},
	{Code: "BI", Alpha3: "BDI", Name: "Burundi"},
	{Code: "BO", Alpha3: "BOL", Name: "Bolivia", Aliases: []string{"Plurinational State of Bolivia"}},
	{Code: "BR", Alpha3: "BRA", Name: "Brazil", Aliases: []string{"Brasil"}},
	{Code: "CD", Alpha3: "COD", Name: "Democratic Republic of the Congo", Aliases: []string{"DR Congo", "DRC", "Congo DRC", "Congo Kinshasa", "Democratic Republic of Congo"}},
	{Code: "CN", Alpha3: "CHN", Name: "China", Aliases: []string{"Yunnan China"}},
	{Code: "CO", Alpha3: "COL", Name: "Colombia", Aliases: []string{"Columbia"}},
	{Code: "CR", Alpha3: "CRI", Name: "Costa Rica"},
	{Code: "CU", Alpha3: "CUB", Name: "Cuba"},
	{Code: "DO", Alpha3: "DOM", Name: "Dominican Republic"},
	{Code: "EC", Alpha3: "ECU", Name: "Ecuador"},
	{Code: "ET", Alpha3: "ETH", Name: "Ethiopia", Aliases: []string{"Abyssinia"}},
	{Code: "GT", Alpha3: "GTM", Name: "Guatemala"},
	{Code: "HN", Alpha3: "HND", Name: "Honduras"},
	{Code: "HT", Alpha3: "HTI", Name: "Haiti"},
	{Code: "ID", Alpha3: "IDN", Name: "Indonesia"},
	{Code: "IN", Alpha3: "IND", Name: "India"},
	{Code: "JM", Alpha3: "JAM", Name: "Jamaica"},
	{Code: "KE", Alpha3: "KEN", Name: "Kenya"},
	{Code: "LA", Alpha3: "LAO", Name: "Laos", Aliases: []string{"Lao PDR", "Lao People's Democratic Republic"}},
	{Code: "MM", Alpha3: "MMR", Name: "Myanmar", Aliases: []string{"Burma"}},
	{Code: "MW", Alpha3: "MWI", Name: "Malawi"},
	{Code: "MX", Alpha3: "MEX", Name: "Mexico", Aliases: []string{"México"}},
	{Code: "NI", Alpha3: "NIC", Name: "Nicaragua"},
	{Code: "PA", Alpha3: "PAN", Name: "Panama"},
	{Code: "PE", Alpha3: "PER", Name: "Peru", Aliases: []string{"Perú"}},
	{Code: "PG", Alpha3: "PNG", Name: "Papua New Guinea"},
	{Code: "PH", Alpha3: "PHL", Name: "Philippines", Aliases: []string{"The Philippines"}},
	{Code: "PR", Alpha3: "PRI", Name: "Puerto Rico"},
	{Code: "RW", Alpha3: "RWA", Name: "Rwanda"},
	{Code: "SV", Alpha3: "SLV", Name: "El Salvador", Aliases: []string{"Salvador"}},
	{Code: "TH", Alpha3: "THA", Name: "Thailand"},
	{Code: "TL", Alpha3: "TLS", Name: "Timor-Leste", Aliases: []string{"East Timor", "Timor Leste"}},
	{Code: "TW", Alpha3: "TWN", Name: "Taiwan"},
	{Code: "TZ", Alpha3: "TZA", Name: "Tanzania", Aliases: []string{"United Republic of Tanzania"}},
	{Code: "UG", Alpha3: "UGA", Name: "Uganda"},
	{Code: "US", Alpha3: "USA", Name: "United States", Aliases: []string{"United States of America", "America", "Hawaii", "Hawai'i"}},
	{Code: "VE", Alpha3: "VEN", Name: "Venezuela"},
	{Code: "VN", Alpha3: "VNM", Name: "Vietnam", Aliases: []string{"Viet Nam"}},
	{Code: "YE", Alpha3: "YEM", Name: "Yemen"},
	{Code: "ZM", Alpha3: "ZMB", Name: "Zambia"},
	{Code: "ZW", Alpha3: "ZWE", Name: "Zimbabwe"},
}

var (
	countryByCode   = make(map[string]CountryInfo, len(Countries))
	countryByAlias  = make(map[string]string, 3*len(Countries))
	countryOrdinals = make(map[string]int, len(Countries))
)

func init() {
	for idx, c := range Countries {
		countryByCode[c.Code] = c
		countryOrdinals[c.Code] = idx
		countryByAlias[util.MatchKey(c.Alpha3)] = c.Code
		countryByAlias[util.MatchKey(c.Name)] = c.Code
		for _, alias := range c.Aliases {
			countryByAlias[util.MatchKey(alias)] = c.Code
		}
	}
}

// NormalizeCountry maps a free-form country value (alpha-2, alpha-3, full
// name, or alias) onto the ISO alpha-2 code. Unrecognized values come back
// unchanged with ok == false, so callers can store what the scraper saw.
func NormalizeCountry(input string) (code string, ok bool) {
	trimmed := strings.TrimSpace(input)
	if len(trimmed) == 2 {
		upper := strings.ToUpper(trimmed)
		if _, exists := countryByCode[upper]; exists {
			return upper, true
		}
	}
	if code, exists := countryByAlias[util.MatchKey(trimmed)]; exists {
		return code, true
	}
	return input, false
}

// CountryName returns the display name for an alpha-2 code, or the code
// itself when it is not in the table.
func CountryName(code string) string {
	if c, exists := countryByCode[strings.ToUpper(code)]; exists {
		return c.Name
	}
	return code
}

// IsKnownCountry reports whether the alpha-2 code is in the table.
func IsKnownCountry(code string) bool {
	_, exists := countryByCode[strings.ToUpper(code)]
	return exists
}

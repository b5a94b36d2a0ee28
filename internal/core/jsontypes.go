// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/sapcc/go-bits/logg"
)

// The scraper fleet feeds us JSON from dozens of storefronts, so scalar
// fields arrive in whatever shape the extractor produced: numbers as strings,
// booleans as 0/1, timestamps in several ISO-8601 dialects. The Opt* types in
// this file decode tolerantly: a present-but-malformed value degrades to NULL
// instead of failing the whole record.
//
// Each type tracks two flags: Set reports whether the key was present in the
// JSON at all (encoding/json only calls UnmarshalJSON for present keys), and
// Valid reports whether a usable value was decoded. Diff updates rely on this
// distinction: absent fields are not touched, present-but-null fields clear
// the column.

// OptFloat is a nullable float64 with tolerant decoding.
type OptFloat struct {
	Value float64
	Valid bool
	Set   bool
}

// Float returns v as a present, valid OptFloat.
func Float(v float64) OptFloat {
	return OptFloat{Value: v, Valid: true, Set: true}
}

// Ptr returns the value as *float64, or nil when invalid.
func (f OptFloat) Ptr() *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Value
	return &v
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (f *OptFloat) UnmarshalJSON(buf []byte) error {
	f.Set = true
	f.Valid = false
	var raw any
	if err := json.Unmarshal(buf, &raw); err != nil {
		return err
	}
	switch val := raw.(type) {
	case nil:
		// explicit null
	case float64:
		f.Value = val
		f.Valid = true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err == nil {
			f.Value = parsed
			f.Valid = true
		} else {
			logg.Debug("cannot coerce %q into a number; treating as null", val)
		}
	default:
		logg.Debug("cannot coerce %T into a number; treating as null", raw)
	}
	return nil
}

// MarshalJSON implements the json.Marshaler interface.
func (f OptFloat) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}

// OptInt is a nullable int64 with tolerant decoding. Floats are truncated.
type OptInt struct {
	Value int64
	Valid bool
	Set   bool
}

// Int returns v as a present, valid OptInt.
func Int(v int64) OptInt {
	return OptInt{Value: v, Valid: true, Set: true}
}

// Ptr returns the value as *int64, or nil when invalid.
func (i OptInt) Ptr() *int64 {
	if !i.Valid {
		return nil
	}
	v := i.Value
	return &v
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (i *OptInt) UnmarshalJSON(buf []byte) error {
	var f OptFloat
	if err := f.UnmarshalJSON(buf); err != nil {
		return err
	}
	i.Set = f.Set
	i.Valid = f.Valid
	i.Value = int64(f.Value)
	return nil
}

// MarshalJSON implements the json.Marshaler interface.
func (i OptInt) MarshalJSON() ([]byte, error) {
	if !i.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(i.Value)
}

// OptBool is a nullable bool. Numbers and the usual string spellings coerce.
type OptBool struct {
	Value bool
	Valid bool
	Set   bool
}

// Bool returns v as a present, valid OptBool.
func Bool(v bool) OptBool {
	return OptBool{Value: v, Valid: true, Set: true}
}

// Ptr returns the value as *bool, or nil when invalid.
func (b OptBool) Ptr() *bool {
	if !b.Valid {
		return nil
	}
	v := b.Value
	return &v
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (b *OptBool) UnmarshalJSON(buf []byte) error {
	b.Set = true
	b.Valid = false
	var raw any
	if err := json.Unmarshal(buf, &raw); err != nil {
		return err
	}
	switch val := raw.(type) {
	case nil:
		// explicit null
	case bool:
		b.Value = val
		b.Valid = true
	case float64:
		b.Value = val != 0
		b.Valid = true
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "yes", "1":
			b.Value = true
			b.Valid = true
		case "false", "no", "0":
			b.Value = false
			b.Valid = true
		default:
			logg.Debug("cannot coerce %q into a bool; treating as null", val)
		}
	default:
		logg.Debug("cannot coerce %T into a bool; treating as null", raw)
	}
	return nil
}

// MarshalJSON implements the json.Marshaler interface.
func (b OptBool) MarshalJSON() ([]byte, error) {
	if !b.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(b.Value)
}

// OptString is a nullable string. Numbers are rendered; other shapes are null.
type OptString struct {
	Value string
	Valid bool
	Set   bool
}

// String returns v as a present, valid OptString.
func String(v string) OptString {
	return OptString{Value: v, Valid: true, Set: true}
}

// Ptr returns the value as *string, or nil when invalid.
func (s OptString) Ptr() *string {
	if !s.Valid {
		return nil
	}
	v := s.Value
	return &v
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (s *OptString) UnmarshalJSON(buf []byte) error {
	s.Set = true
	s.Valid = false
	var raw any
	if err := json.Unmarshal(buf, &raw); err != nil {
		return err
	}
	switch val := raw.(type) {
	case nil:
		// explicit null
	case string:
		s.Value = val
		s.Valid = true
	case float64:
		s.Value = strconv.FormatFloat(val, 'f', -1, 64)
		s.Valid = true
	case bool:
		s.Value = strconv.FormatBool(val)
		s.Valid = true
	default:
		logg.Debug("cannot coerce %T into a string; treating as null", raw)
	}
	return nil
}

// MarshalJSON implements the json.Marshaler interface.
func (s OptString) MarshalJSON() ([]byte, error) {
	if !s.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(s.Value)
}

// timeLayouts are tried in order when decoding timestamps. The scraper
// contract says ISO-8601 with timezone, but historical artifacts contain
// naive timestamps and date-only harvest dates, so we accept those too.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Time is a nullable timestamp normalized to UTC at decode time.
type Time struct {
	Value time.Time
	Valid bool
	Set   bool
}

// TimeOf returns v (converted to UTC) as a present, valid Time.
func TimeOf(v time.Time) Time {
	return Time{Value: v.UTC(), Valid: true, Set: true}
}

// Ptr returns the value as *time.Time, or nil when invalid.
func (t Time) Ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Value
	return &v
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (t *Time) UnmarshalJSON(buf []byte) error {
	t.Set = true
	t.Valid = false
	var raw any
	if err := json.Unmarshal(buf, &raw); err != nil {
		return err
	}
	str, ok := raw.(string)
	if !ok {
		if raw != nil {
			logg.Debug("cannot coerce %T into a timestamp; treating as null", raw)
		}
		return nil
	}
	str = strings.TrimSpace(str)
	for _, layout := range timeLayouts {
		parsed, err := time.Parse(layout, str)
		if err == nil {
			t.Value = parsed.UTC()
			t.Valid = true
			return nil
		}
	}
	logg.Debug("cannot parse timestamp %q; treating as null", str)
	return nil
}

// MarshalJSON implements the json.Marshaler interface.
func (t Time) MarshalJSON() ([]byte, error) {
	if !t.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(t.Value.UTC().Format(time.RFC3339))
}

// StringList is a list of strings that also accepts a single bare string and
// coerces numeric elements. Used for tasting notes.
type StringList struct {
	Values []string
	Set    bool
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (l *StringList) UnmarshalJSON(buf []byte) error {
	l.Set = true
	l.Values = nil
	var raw any
	if err := json.Unmarshal(buf, &raw); err != nil {
		return err
	}
	switch val := raw.(type) {
	case nil:
		// explicit null -> empty list
	case string:
		if val != "" {
			l.Values = []string{val}
		}
	case []any:
		for _, elem := range val {
			var s OptString
			buf, err := json.Marshal(elem)
			if err != nil {
				continue
			}
			if err := s.UnmarshalJSON(buf); err == nil && s.Valid && s.Value != "" {
				l.Values = append(l.Values, s.Value)
			}
		}
	default:
		logg.Debug("cannot coerce %T into a string list; treating as empty", raw)
	}
	return nil
}

// MarshalJSON implements the json.Marshaler interface.
func (l StringList) MarshalJSON() ([]byte, error) {
	if l.Values == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.Values)
}

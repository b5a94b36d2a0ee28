// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package util

import (
	"time"
)

// MarshalableTimeDuration is a time.Duration that can be unmarshaled from a
// YAML document, using the same format accepted by time.ParseDuration().
type MarshalableTimeDuration time.Duration

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (d *MarshalableTimeDuration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	err := unmarshal(&s)
	if err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	*d = MarshalableTimeDuration(parsed)
	return err
}

// MarshalYAML implements the yaml.Marshaler interface.
func (d MarshalableTimeDuration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Into converts to the stdlib type for further processing.
func (d MarshalableTimeDuration) Into() time.Duration {
	return time.Duration(d)
}

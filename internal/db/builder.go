// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"fmt"
	"strings"
)

// BuildSimpleWhereClause constructs a WHERE clause of the form "field1 = val1
// AND field2 = val2 AND field3 IN (val3, val4)". Slice values become IN
// clauses; an empty slice makes the whole condition unsatisfiable.
//
// SQLite binds positionally with "?", so the fragment can be spliced into a
// larger query as long as the args are appended in the same order.
func BuildSimpleWhereClause(fields map[string]any) (queryFragment string, queryArgs []any) {
	var (
		conditions []string
		args       []any
	)
	for field, val := range fields {
		switch value := val.(type) {
		case []string:
			if len(value) == 0 {
				// no admissible values for this field, so the entire condition must fail
				return "FALSE", nil
			}
			conditions = append(conditions, fmt.Sprintf("%s IN (%s)", field, makePlaceholderList(len(value))))
			for _, v := range value {
				args = append(args, v)
			}
		case []any:
			if len(value) == 0 {
				// no admissible values for this field, so the entire condition must fail
				return "FALSE", nil
			}
			conditions = append(conditions, fmt.Sprintf("%s IN (%s)", field, makePlaceholderList(len(value))))
			args = append(args, value...)
		default:
			conditions = append(conditions, field+" = ?")
			args = append(args, value)
		}
	}

	if len(conditions) == 0 {
		return "TRUE", nil
	}

	return strings.Join(conditions, " AND "), args
}

func makePlaceholderList(count int) string {
	placeholders := make([]string, count)
	for idx := range placeholders {
		placeholders[idx] = "?"
	}
	return strings.Join(placeholders, ",")
}

// Copyright 2022 Stock Parfait

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package db

import (
	"strings"

	"github.com/stockparfait/errors"
)

// TableID identifies a warehouse table within its project.
type TableID struct {
	Dataset string
	Table   string
}

func validName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return false
		}
	}
	return true
}

// ParseTableID parses the "<dataset>.<table>" format. Both names may only
// contain letters, digits and underscores.
func ParseTableID(s string) (TableID, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 2 {
		return TableID{}, errors.Reason(
			"table ID must have the form <dataset>.<table>: '%s'", s)
	}
	if !validName(parts[0]) || !validName(parts[1]) {
		return TableID{}, errors.Reason("invalid dataset or table name in '%s'", s)
	}
	return TableID{Dataset: parts[0], Table: parts[1]}, nil
}

func (t TableID) String() string {
	return t.Dataset + "." + t.Table
}

// TableName converts a symbol into a valid table name component: lower case,
// with anything other than letters and digits replaced by underscores.
func TableName(symbol string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(symbol)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

// values.go
//
// Dynamic document type schema and table lifecycle engine
// Copyright (c) 2026 Alex Grant <info@localnerve.com> (https://www.localnerve.com), LocalNerve LLC
//
// This file is part of doctypesdb.
// doctypesdb is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later version.
// doctypesdb is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY;
// without even the implied warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU Affero General Public License for more details.
// You should have received a copy of the GNU Affero General Public License along with doctypesdb.
// If not, see <https://www.gnu.org/licenses/>.
// Additional terms under GNU AGPL version 3 section 7:
// a) The reasonable legal notice of original copyright and author attribution must be preserved
//    by including the string: "Copyright (c) 2026 Alex Grant <info@localnerve.com> (https://www.localnerve.com), LocalNerve LLC"
//    in this material, copies, or source code of derived works.

package schema

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Canonical layouts for temporal values.
const (
	DateLayout     = "2006-01-02"
	TimeLayout     = "15:04:05"
	DatetimeLayout = time.RFC3339
)

var datetimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

var clockLayouts = []string{TimeLayout, "15:04", "15:04:05.999999999"}

func plain(v interface{}) interface{} {
	switch b := v.(type) {
	case []byte:
		return string(b)
	case *string:
		if b == nil {
			return nil
		}
		return *b
	}
	return v
}

// ToText coerces v to a string.
func ToText(v interface{}) (string, error) {
	return cast.ToStringE(plain(v))
}

// ToNumber coerces v to a finite float64. Booleans, NaN and infinities are rejected.
func ToNumber(v interface{}) (float64, error) {
	v = plain(v)
	switch x := v.(type) {
	case bool:
		return 0, fmt.Errorf("unable to cast %v of type bool to number", x)
	case string:
		v = strings.TrimSpace(x)
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%v is not a finite number", v)
	}
	return f, nil
}

// ParseDatetime coerces v to a UTC timestamp.
func ParseDatetime(v interface{}) (time.Time, error) {
	v = plain(v)
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		for _, layout := range datetimeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		if t, err := time.Parse(DateLayout, s); err == nil {
			return t.UTC(), nil
		}
		return time.Time{}, fmt.Errorf("invalid datetime %q", s)
	}
	t, err := cast.ToTimeE(v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// ParseDate coerces v to midnight UTC of its calendar date.
func ParseDate(v interface{}) (time.Time, error) {
	v = plain(v)
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if t, err := time.Parse(DateLayout, s); err == nil {
			return t, nil
		}
	}
	if t, ok := v.(time.Time); ok {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	t, err := ParseDatetime(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %v", v)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

// ParseClock coerces v to a canonical "15:04:05" time of day.
func ParseClock(v interface{}) (string, error) {
	v = plain(v)
	switch x := v.(type) {
	case time.Time:
		return x.Format(TimeLayout), nil
	case time.Duration:
		if x < 0 || x >= 24*time.Hour {
			return "", fmt.Errorf("invalid time of day %v", x)
		}
		return time.Time{}.Add(x).Format(TimeLayout), nil
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range clockLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.Format(TimeLayout), nil
			}
		}
		if t, err := ParseDatetime(s); err == nil {
			return t.Format(TimeLayout), nil
		}
		return "", fmt.Errorf("invalid time %q", s)
	}
	return "", fmt.Errorf("unable to cast %v of type %T to time", v, v)
}

func clockTime(s string) time.Time {
	t, _ := time.Parse(TimeLayout, s)
	return t
}

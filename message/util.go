// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package message

import (
	"fmt"
	"strings"
	"time"
)

// PrettyList joins names the way a human would write them.
func PrettyList(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	case 2:
		return names[0] + " and " + names[1]
	default:
		return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
	}
}

// LimitList truncates a name list to max entries with an "N others" tail.
func LimitList(names []string, max int) []string {
	if len(names) <= max {
		return names
	}
	others := len(names) - max + 1
	limited := make([]string, 0, max)
	limited = append(limited, names[:max-1]...)
	return append(limited, fmt.Sprintf("%d others", others))
}

// PrettyElapsed renders how long ago ts was in the largest sensible unit.
func PrettyElapsed(ts time.Time, now time.Time) string {
	elapsed := now.Sub(ts)
	switch {
	case elapsed < time.Minute:
		return "just now"
	case elapsed < time.Hour:
		return plural(int(elapsed.Minutes()), "minute")
	case elapsed < 24*time.Hour:
		return plural(int(elapsed.Hours()), "hour")
	case elapsed < 7*24*time.Hour:
		return plural(int(elapsed.Hours()/24), "day")
	case elapsed < 30*24*time.Hour:
		return plural(int(elapsed.Hours()/(24*7)), "week")
	case elapsed < 365*24*time.Hour:
		return plural(int(elapsed.Hours()/(24*30)), "month")
	default:
		return plural(int(elapsed.Hours()/(24*365)), "year")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}

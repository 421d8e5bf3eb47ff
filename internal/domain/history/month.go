package history

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

const (
	// ShardSuffix is appended to the YYYY-MM key of every month shard file.
	ShardSuffix = ".index.json"
	// WorkspaceIndexFile maps workspace -> latest ts.
	WorkspaceIndexFile = "workspaces.index.json"
	// ItemFileName is the per-task metadata document.
	ItemFileName = "history_item.json"
)

var shardNamePattern = regexp.MustCompile(`^(\d{4})-(\d{2})\.index\.json$`)

// HistoryMonth describes one month shard and the instants it covers.
type HistoryMonth struct {
	Year         int   `json:"year"`
	Month        int   `json:"month"`
	MonthStartTs int64 `json:"monthStartTs"`
	MonthEndTs   int64 `json:"monthEndTs"`
}

// Key returns the zero-padded YYYY-MM key of the shard.
func (m HistoryMonth) Key() string {
	return MonthKey(m.Year, time.Month(m.Month))
}

// FileName returns the shard file name.
func (m HistoryMonth) FileName() string {
	return m.Key() + ShardSuffix
}

// Intersects reports whether any instant of the month falls inside r.
func (m HistoryMonth) Intersects(r *DateRange) bool {
	if r == nil {
		return true
	}
	if r.From > 0 && m.MonthEndTs < r.From {
		return false
	}
	if r.To > 0 && m.MonthStartTs > r.To {
		return false
	}
	return true
}

// MonthKey formats a year and month as YYYY-MM.
func MonthKey(year int, month time.Month) string {
	return fmt.Sprintf("%04d-%02d", year, int(month))
}

// MonthOf returns the calendar month a millisecond timestamp falls in, in loc.
func MonthOf(ts int64, loc *time.Location) HistoryMonth {
	if loc == nil {
		loc = time.Local
	}
	t := time.UnixMilli(ts).In(loc)
	return NewHistoryMonth(t.Year(), t.Month(), loc)
}

// NewHistoryMonth computes the first and last millisecond of a calendar month.
func NewHistoryMonth(year int, month time.Month, loc *time.Location) HistoryMonth {
	if loc == nil {
		loc = time.Local
	}
	start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	next := start.AddDate(0, 1, 0)
	return HistoryMonth{
		Year:         year,
		Month:        int(month),
		MonthStartTs: start.UnixMilli(),
		MonthEndTs:   next.UnixMilli() - 1,
	}
}

// ParseShardFileName parses a strict YYYY-MM.index.json name. Names with a
// month outside 01..12 or a year of 0000 are rejected.
func ParseShardFileName(name string, loc *time.Location) (HistoryMonth, bool) {
	match := shardNamePattern.FindStringSubmatch(name)
	if match == nil {
		return HistoryMonth{}, false
	}
	year, err := strconv.Atoi(match[1])
	if err != nil || year < 1 {
		return HistoryMonth{}, false
	}
	month, err := strconv.Atoi(match[2])
	if err != nil || month < 1 || month > 12 {
		return HistoryMonth{}, false
	}
	return NewHistoryMonth(year, time.Month(month), loc), true
}

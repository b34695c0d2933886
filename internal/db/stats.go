package db

import (
	"context"
	"fmt"
	"sort"

	"github.com/wesm/breaktime/internal/timeutil"
)

// Stats holds table counts for status reporting.
type Stats struct {
	OngoingCount  int `json:"ongoing_count"`
	ActivityCount int `json:"activity_count"`
	ChatCount     int `json:"chat_count"`
}

// GetStats returns row counts across both tables.
func (db *DB) GetStats(ctx context.Context) (Stats, error) {
	const query = `
		SELECT
			(SELECT COUNT(*) FROM ongoing),
			(SELECT COUNT(*) FROM activities),
			(SELECT COUNT(DISTINCT chat_id) FROM activities)`

	var s Stats
	err := db.reader.QueryRowContext(ctx, query).Scan(
		&s.OngoingCount,
		&s.ActivityCount,
		&s.ChatCount,
	)
	if err != nil {
		return Stats{}, fmt.Errorf("fetching stats: %w", err)
	}
	return s, nil
}

// StatsRow aggregates one user's completed records of one
// activity over a time range.
type StatsRow struct {
	UserFullName  string `json:"user_full_name"`
	Activity      string `json:"activity"`
	Count         int    `json:"count"`
	TotalDuration int64  `json:"total_duration"`
	TotalOvertime int64  `json:"total_overtime"`
	OvertimeCount int    `json:"overtime_count"`
}

// statsRecord is the raw input to aggregate.
type statsRecord struct {
	userFullName string
	activity     string
	duration     int64
}

// QueryStats aggregates a chat's completed activities that
// started inside the named range. Overtime is computed from
// limits rather than the stored overtime column, so a limit
// change applies retroactively. Rows are ordered by user name,
// then activity.
func (db *DB) QueryStats(
	ctx context.Context, rangeName string, chatID int64,
	limits Limits,
) ([]StatsRow, error) {
	w, err := timeutil.Range(rangeName, db.localNow())
	if err != nil {
		return nil, err
	}

	rows, err := db.reader.QueryContext(ctx, `
		SELECT user_full_name, activity, duration
		FROM activities
		WHERE chat_id = ? AND start_time >= ? AND start_time < ?`,
		chatID, timeutil.Format(w.Start), timeutil.Format(w.End),
	)
	if err != nil {
		return nil, fmt.Errorf("querying stats: %w", err)
	}
	defer rows.Close()

	var recs []statsRecord
	for rows.Next() {
		var r statsRecord
		if err := rows.Scan(
			&r.userFullName, &r.activity, &r.duration,
		); err != nil {
			return nil, fmt.Errorf("scanning stats row: %w", err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stats rows: %w", err)
	}
	return aggregate(recs, limits), nil
}

// aggregate groups records by (user, activity).
func aggregate(recs []statsRecord, limits Limits) []StatsRow {
	type key struct{ user, activity string }
	groups := make(map[key]*StatsRow)
	for _, r := range recs {
		k := key{r.userFullName, r.activity}
		g := groups[k]
		if g == nil {
			g = &StatsRow{
				UserFullName: r.userFullName,
				Activity:     r.activity,
			}
			groups[k] = g
		}
		g.Count++
		g.TotalDuration += r.duration
		if over := limits.Overtime(r.activity, r.duration); over > 0 {
			g.TotalOvertime += over
			g.OvertimeCount++
		}
	}

	out := make([]StatsRow, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserFullName != out[j].UserFullName {
			return out[i].UserFullName < out[j].UserFullName
		}
		return out[i].Activity < out[j].Activity
	})
	return out
}

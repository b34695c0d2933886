// Package report renders activity records and statistics as
// plain chat-ready text.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/wesm/breaktime/internal/db"
)

const clockLayout = "15:04:05"

// FormatDuration renders whole seconds as "45s", "2m5s" or
// "1h0m7s".
func FormatDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm%ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

func prefix(emoji string) string {
	if emoji == "" {
		return ""
	}
	return emoji + " "
}

// FormatStarted confirms a newly started activity.
func FormatStarted(
	o db.OngoingActivity, emoji string, limit int64,
	loc *time.Location,
) string {
	return fmt.Sprintf(
		"%s%s started\nStart: %s\nLimit: %s",
		prefix(emoji), o.Activity,
		o.StartTime.In(loc).Format(clockLayout),
		FormatDuration(limit),
	)
}

// FormatOngoing describes an activity that is still running.
func FormatOngoing(
	o db.OngoingActivity, loc *time.Location, now time.Time,
) string {
	elapsed := int64(now.Sub(o.StartTime) / time.Second)
	return fmt.Sprintf(
		"%s is doing %s since %s (%s)",
		o.UserFullName, o.Activity,
		o.StartTime.In(loc).Format(clockLayout),
		FormatDuration(elapsed),
	)
}

// FormatStopped summarizes a completed activity.
func FormatStopped(
	a db.CompletedActivity, emoji string, loc *time.Location,
) string {
	over := "none"
	if a.Overtime > 0 {
		over = FormatDuration(a.Overtime)
	}
	return fmt.Sprintf(
		"%s%s finished\nStart: %s\nEnd: %s\nDuration: %s\nOvertime: %s",
		prefix(emoji), a.Activity,
		a.StartTime.In(loc).Format(clockLayout),
		a.EndTime.In(loc).Format(clockLayout),
		FormatDuration(a.Duration),
		over,
	)
}

// FormatStats renders aggregated rows under a heading, one
// block per user.
func FormatStats(label string, rows []db.StatsRow) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s stats:\n", label)
	if len(rows) == 0 {
		b.WriteString("\nNo data")
		return b.String()
	}
	user := ""
	for i, r := range rows {
		if i == 0 || r.UserFullName != user {
			user = r.UserFullName
			fmt.Fprintf(&b, "\n%s\n", user)
		}
		fmt.Fprintf(&b,
			"  %s: %d times, total %s, overtime %s (%d over)\n",
			r.Activity, r.Count,
			FormatDuration(r.TotalDuration),
			FormatDuration(r.TotalOvertime),
			r.OvertimeCount,
		)
	}
	return strings.TrimRight(b.String(), "\n")
}

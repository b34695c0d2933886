package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/wesm/breaktime/internal/timeutil"
)

// DefaultLimit is the allowance in seconds for activities that
// have no configured limit.
const DefaultLimit int64 = 5 * 60

// ErrConflict is returned when starting an activity while one
// is already ongoing for the same user and chat.
var ErrConflict = errors.New("activity already ongoing")

// Limits maps activity names to their allowance in seconds.
type Limits map[string]int64

// For returns the limit for name, falling back to DefaultLimit.
func (l Limits) For(name string) int64 {
	if v, ok := l[name]; ok {
		return v
	}
	return DefaultLimit
}

// Overtime returns how far duration exceeds the limit for
// name, or zero.
func (l Limits) Overtime(name string, duration int64) int64 {
	return max(0, duration-l.For(name))
}

// OngoingActivity is an activity that has been started but not
// stopped. There is at most one per (UserID, ChatID).
type OngoingActivity struct {
	UserID       int64     `json:"user_id"`
	ChatID       int64     `json:"chat_id"`
	Activity     string    `json:"activity"`
	StartTime    time.Time `json:"start_time"`
	UserFullName string    `json:"user_full_name"`
}

// CompletedActivity is an immutable record of a finished
// activity. Duration and Overtime are whole seconds.
type CompletedActivity struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	ChatID       int64     `json:"chat_id"`
	Activity     string    `json:"activity"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	Duration     int64     `json:"duration"`
	Overtime     int64     `json:"overtime"`
	UserFullName string    `json:"user_full_name"`
	CreatedAt    time.Time `json:"created_at"`
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows,
// allowing a single scan helper for both.
type rowScanner interface {
	Scan(dest ...any) error
}

const ongoingBaseCols = `user_id, chat_id, activity, start_time,
	user_full_name`

func scanOngoingRow(rs rowScanner) (OngoingActivity, error) {
	var o OngoingActivity
	var start string
	if err := rs.Scan(
		&o.UserID, &o.ChatID, &o.Activity, &start,
		&o.UserFullName,
	); err != nil {
		return o, err
	}
	t, err := timeutil.Parse(start)
	if err != nil {
		return o, err
	}
	o.StartTime = t
	return o, nil
}

const activityBaseCols = `id, user_id, chat_id, activity,
	start_time, end_time, duration, overtime, user_full_name,
	created_at`

func scanActivityRow(rs rowScanner) (CompletedActivity, error) {
	var a CompletedActivity
	var start, end, created string
	if err := rs.Scan(
		&a.ID, &a.UserID, &a.ChatID, &a.Activity,
		&start, &end, &a.Duration, &a.Overtime,
		&a.UserFullName, &created,
	); err != nil {
		return a, err
	}
	var err error
	if a.StartTime, err = timeutil.Parse(start); err != nil {
		return a, err
	}
	if a.EndTime, err = timeutil.Parse(end); err != nil {
		return a, err
	}
	if a.CreatedAt, err = timeutil.Parse(created); err != nil {
		return a, err
	}
	return a, nil
}

// isUniqueViolation reports whether err is a primary key or
// unique constraint failure.
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		se.ExtendedCode == sqlite3.ErrConstraintUnique
}

// GetOngoing returns the ongoing activity for the user in the
// chat, or nil if there is none.
func (db *DB) GetOngoing(
	ctx context.Context, userID, chatID int64,
) (*OngoingActivity, error) {
	row := db.reader.QueryRowContext(ctx,
		"SELECT "+ongoingBaseCols+
			" FROM ongoing WHERE user_id = ? AND chat_id = ?",
		userID, chatID,
	)
	o, err := scanOngoingRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf(
			"getting ongoing activity %d/%d: %w",
			userID, chatID, err,
		)
	}
	return &o, nil
}

// ListOngoing returns all ongoing activities in a chat ordered
// by start time.
func (db *DB) ListOngoing(
	ctx context.Context, chatID int64,
) ([]OngoingActivity, error) {
	rows, err := db.reader.QueryContext(ctx,
		"SELECT "+ongoingBaseCols+
			" FROM ongoing WHERE chat_id = ?"+
			" ORDER BY start_time, user_id",
		chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying ongoing activities: %w", err)
	}
	defer rows.Close()

	var out []OngoingActivity
	for rows.Next() {
		o, err := scanOngoingRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning ongoing activity: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating ongoing activities: %w", err)
	}
	return out, nil
}

// StartActivity records a new ongoing activity starting now.
// It returns ErrConflict if the user already has one in the
// chat; the existing row is left untouched.
func (db *DB) StartActivity(
	userID, chatID int64, activity, fullName string,
) (OngoingActivity, error) {
	o := OngoingActivity{
		UserID:       userID,
		ChatID:       chatID,
		Activity:     activity,
		StartTime:    db.clock(),
		UserFullName: fullName,
	}
	err := db.Update(func(tx *sql.Tx) error {
		ts := timeutil.Format(o.StartTime)
		_, err := tx.Exec(`
			INSERT INTO ongoing (
				user_id, chat_id, activity, start_time,
				user_full_name, created_at
			) VALUES (?, ?, ?, ?, ?, ?)`,
			o.UserID, o.ChatID, o.Activity, ts,
			o.UserFullName, ts,
		)
		return err
	})
	if isUniqueViolation(err) {
		return OngoingActivity{}, ErrConflict
	}
	if err != nil {
		return OngoingActivity{}, fmt.Errorf(
			"starting activity %d/%d: %w", userID, chatID, err,
		)
	}
	return o, nil
}

// StopActivity finishes the user's ongoing activity in the
// chat. It returns nil and no error if nothing is ongoing.
// The completed row is inserted and the ongoing row deleted in
// one transaction.
func (db *DB) StopActivity(
	userID, chatID int64, limits Limits,
) (*CompletedActivity, error) {
	var done *CompletedActivity
	err := db.Update(func(tx *sql.Tx) error {
		row := tx.QueryRow(
			"SELECT "+ongoingBaseCols+
				" FROM ongoing WHERE user_id = ? AND chat_id = ?",
			userID, chatID,
		)
		o, err := scanOngoingRow(row)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading ongoing activity: %w", err)
		}

		end := db.clock()
		duration := max(0, int64(end.Sub(o.StartTime)/time.Second))
		a := CompletedActivity{
			UserID:       o.UserID,
			ChatID:       o.ChatID,
			Activity:     o.Activity,
			StartTime:    o.StartTime,
			EndTime:      end,
			Duration:     duration,
			Overtime:     limits.Overtime(o.Activity, duration),
			UserFullName: o.UserFullName,
			CreatedAt:    end,
		}

		res, err := tx.Exec(`
			INSERT INTO activities (
				user_id, chat_id, activity, start_time,
				end_time, duration, overtime,
				user_full_name, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.UserID, a.ChatID, a.Activity,
			timeutil.Format(a.StartTime),
			timeutil.Format(a.EndTime),
			a.Duration, a.Overtime, a.UserFullName,
			timeutil.Format(a.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("inserting activity: %w", err)
		}
		if a.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("reading activity id: %w", err)
		}

		res, err = tx.Exec(
			"DELETE FROM ongoing WHERE user_id = ? AND chat_id = ?",
			userID, chatID,
		)
		if err != nil {
			return fmt.Errorf("deleting ongoing activity: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("deleting ongoing activity: %w", err)
		} else if n != 1 {
			return fmt.Errorf(
				"deleting ongoing activity: %d rows affected", n,
			)
		}

		done = &a
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf(
			"stopping activity %d/%d: %w", userID, chatID, err,
		)
	}
	return done, nil
}

// ListActivities returns completed activities in a chat whose
// start time falls in [from, to), oldest first.
func (db *DB) ListActivities(
	ctx context.Context, chatID int64, from, to time.Time,
) ([]CompletedActivity, error) {
	rows, err := db.reader.QueryContext(ctx,
		"SELECT "+activityBaseCols+
			" FROM activities"+
			" WHERE chat_id = ? AND start_time >= ? AND start_time < ?"+
			" ORDER BY start_time, id",
		chatID, timeutil.Format(from), timeutil.Format(to),
	)
	if err != nil {
		return nil, fmt.Errorf("querying activities: %w", err)
	}
	defer rows.Close()

	var out []CompletedActivity
	for rows.Next() {
		a, err := scanActivityRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning activity: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating activities: %w", err)
	}
	return out, nil
}

// ActivitiesInRange returns a chat's completed activities that
// started inside the named range, oldest first.
func (db *DB) ActivitiesInRange(
	ctx context.Context, rangeName string, chatID int64,
) ([]CompletedActivity, error) {
	w, err := timeutil.Range(rangeName, db.localNow())
	if err != nil {
		return nil, err
	}
	return db.ListActivities(ctx, chatID, w.Start, w.End)
}

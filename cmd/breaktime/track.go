package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/wesm/breaktime/internal/config"
	"github.com/wesm/breaktime/internal/db"
	"github.com/wesm/breaktime/internal/report"
	"github.com/wesm/breaktime/internal/timeutil"
)

// trackArgs holds parsed CLI options for the tracking commands.
type trackArgs struct {
	ChatID   int64
	UserID   int64
	Name     string
	Range    string
	Activity string
}

func parseTrackFlags(cmd string, args []string) (trackArgs, error) {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	chatID := fs.Int64("chat", 0, "Chat ID")
	userID := fs.Int64("user", 0, "User ID")
	name := fs.String("name", "", "User display name (start)")
	rng := fs.String(
		"range", timeutil.Today,
		"Time range: "+strings.Join(timeutil.RangeNames, ", "),
	)

	if err := fs.Parse(args); err != nil {
		return trackArgs{}, err
	}

	ta := trackArgs{
		ChatID: *chatID,
		UserID: *userID,
		Name:   strings.TrimSpace(*name),
		Range:  *rng,
	}

	if ta.ChatID == 0 {
		return trackArgs{}, fmt.Errorf("-chat is required")
	}
	switch cmd {
	case "start":
		if fs.NArg() != 1 {
			return trackArgs{}, fmt.Errorf(
				"start takes exactly one activity name",
			)
		}
		ta.Activity = fs.Arg(0)
		if ta.Name == "" {
			return trackArgs{}, fmt.Errorf("-name is required")
		}
		fallthrough
	case "stop":
		if ta.UserID == 0 {
			return trackArgs{}, fmt.Errorf("-user is required")
		}
	case "stats", "history":
		if !timeutil.IsRange(ta.Range) {
			return trackArgs{}, fmt.Errorf(
				"%w: %q", timeutil.ErrInvalidRange, ta.Range,
			)
		}
	}
	return ta, nil
}

// Tracker runs tracking commands against a local database.
type Tracker struct {
	DB  *db.DB
	Cfg config.Config
	Loc *time.Location
	Out io.Writer
}

func newTracker(
	database *db.DB, cfg config.Config, out io.Writer,
) *Tracker {
	loc, err := cfg.Location()
	if err != nil {
		log.Printf("warning: %v; using local time", err)
		loc = time.Local
	}
	return &Tracker{DB: database, Cfg: cfg, Loc: loc, Out: out}
}

// Run dispatches cmd.
func (t *Tracker) Run(
	ctx context.Context, cmd string, ta trackArgs,
) error {
	switch cmd {
	case "start":
		return t.Start(ctx, ta)
	case "stop":
		return t.Stop(ta)
	case "status":
		return t.Status(ctx, ta)
	case "stats":
		return t.Stats(ctx, ta)
	case "history":
		return t.History(ctx, ta)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

// Start begins an activity. A conflict prints the activity that
// is already running and returns db.ErrConflict.
func (t *Tracker) Start(ctx context.Context, ta trackArgs) error {
	spec, ok := t.Cfg.Activity(ta.Activity)
	if !ok {
		return fmt.Errorf("unknown activity %q", ta.Activity)
	}
	o, err := t.DB.StartActivity(
		ta.UserID, ta.ChatID, spec.Name, ta.Name,
	)
	if errors.Is(err, db.ErrConflict) {
		cur, gerr := t.DB.GetOngoing(ctx, ta.UserID, ta.ChatID)
		if gerr == nil && cur != nil {
			fmt.Fprintln(t.Out,
				report.FormatOngoing(*cur, t.Loc, t.DB.Now()))
		}
		return err
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(t.Out, report.FormatStarted(
		o, spec.Emoji, t.Cfg.Limits().For(o.Activity), t.Loc,
	))
	return nil
}

// Stop finishes the user's ongoing activity, if any.
func (t *Tracker) Stop(ta trackArgs) error {
	a, err := t.DB.StopActivity(ta.UserID, ta.ChatID, t.Cfg.Limits())
	if err != nil {
		return err
	}
	if a == nil {
		fmt.Fprintln(t.Out, "No ongoing activity.")
		return nil
	}
	var emoji string
	if spec, ok := t.Cfg.Activity(a.Activity); ok {
		emoji = spec.Emoji
	}
	fmt.Fprintln(t.Out, report.FormatStopped(*a, emoji, t.Loc))
	return nil
}

// Status lists ongoing activities in the chat, or only the
// given user's when -user is set.
func (t *Tracker) Status(ctx context.Context, ta trackArgs) error {
	var list []db.OngoingActivity
	if ta.UserID != 0 {
		o, err := t.DB.GetOngoing(ctx, ta.UserID, ta.ChatID)
		if err != nil {
			return err
		}
		if o != nil {
			list = append(list, *o)
		}
	} else {
		var err error
		if list, err = t.DB.ListOngoing(ctx, ta.ChatID); err != nil {
			return err
		}
	}
	if len(list) == 0 {
		fmt.Fprintln(t.Out, "No ongoing activities.")
		return nil
	}
	now := t.DB.Now()
	for _, o := range list {
		fmt.Fprintln(t.Out, report.FormatOngoing(o, t.Loc, now))
	}
	return nil
}

// Stats prints per-user totals for the range.
func (t *Tracker) Stats(ctx context.Context, ta trackArgs) error {
	rows, err := t.DB.QueryStats(
		ctx, ta.Range, ta.ChatID, t.Cfg.Limits(),
	)
	if err != nil {
		return err
	}
	fmt.Fprintln(t.Out,
		report.FormatStats(t.Cfg.RangeLabel(ta.Range), rows))
	return nil
}

// History prints the completed activities in the range, oldest
// first.
func (t *Tracker) History(ctx context.Context, ta trackArgs) error {
	list, err := t.DB.ActivitiesInRange(ctx, ta.Range, ta.ChatID)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(t.Out, "No activities.")
		return nil
	}
	for _, a := range list {
		line := fmt.Sprintf("%s-%s %s %s %s",
			a.StartTime.In(t.Loc).Format("01-02 15:04:05"),
			a.EndTime.In(t.Loc).Format("15:04:05"),
			a.UserFullName, a.Activity,
			report.FormatDuration(a.Duration),
		)
		if a.Overtime > 0 {
			line += " (+" + report.FormatDuration(a.Overtime) + ")"
		}
		fmt.Fprintln(t.Out, line)
	}
	return nil
}

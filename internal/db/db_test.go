package db

import (
	"path/filepath"
	"sync"
	"testing"
	"time"
)

const (
	chatA  int64 = -1001
	chatB  int64 = -1002
	alice  int64 = 11
	bob    int64 = 22
	smoke        = "抽菸"
	toilet       = "上廁所"
)

// fakeClock is a settable time source shared by a test DB.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	d, err := Open(path)
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

// testDBWithClock returns a DB whose clock starts at start and
// whose stats location is start's location.
func testDBWithClock(
	t *testing.T, start time.Time,
) (*DB, *fakeClock) {
	t.Helper()
	d := testDB(t)
	c := &fakeClock{t: start}
	d.SetClock(c.Now)
	d.SetLocation(start.Location())
	return d, c
}

// record starts and stops an activity so that it runs from
// start for dur, leaving the clock at start+dur.
func record(
	t *testing.T, d *DB, c *fakeClock,
	userID, chatID int64, activity, name string,
	start time.Time, dur time.Duration,
) *CompletedActivity {
	t.Helper()
	c.Set(start)
	if _, err := d.StartActivity(
		userID, chatID, activity, name,
	); err != nil {
		t.Fatalf("StartActivity: %v", err)
	}
	c.Set(start.Add(dur))
	a, err := d.StopActivity(userID, chatID, nil)
	if err != nil {
		t.Fatalf("StopActivity: %v", err)
	}
	if a == nil {
		t.Fatal("StopActivity returned nil record")
	}
	return a
}

// countRows returns the number of rows in table.
func countRows(t *testing.T, d *DB, table string) int {
	t.Helper()
	var n int
	if err := d.Reader().QueryRow(
		"SELECT COUNT(*) FROM " + table,
	).Scan(&n); err != nil {
		t.Fatalf("counting %s: %v", table, err)
	}
	return n
}

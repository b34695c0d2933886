package main

import (
	"bytes"
	"io"
	"log"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wesm/breaktime/internal/server"
)

func TestMustLoadConfig(t *testing.T) {
	tests := []struct {
		name         string
		args         []string
		wantHost     string
		wantPort     int
		wantTimezone string
	}{
		{
			name:     "DefaultArgs",
			args:     []string{},
			wantHost: "127.0.0.1",
			wantPort: 8080,
		},
		{
			name: "ExplicitFlags",
			args: []string{
				"-host", "0.0.0.0", "-port", "9090",
				"-timezone", "Asia/Bangkok",
			},
			wantHost:     "0.0.0.0",
			wantPort:     9090,
			wantTimezone: "Asia/Bangkok",
		},
		{
			name:     "PartialFlags",
			args:     []string{"-port", "3000"},
			wantHost: "127.0.0.1",
			wantPort: 3000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("BREAKTIME_DATA_DIR", t.TempDir())
			t.Setenv("BREAKTIME_TIMEZONE", "")
			cfg := mustLoadConfig(tt.args)

			if cfg.Host != tt.wantHost {
				t.Errorf("Host = %q, want %q", cfg.Host, tt.wantHost)
			}
			if cfg.Port != tt.wantPort {
				t.Errorf("Port = %d, want %d", cfg.Port, tt.wantPort)
			}
			if cfg.Timezone != tt.wantTimezone {
				t.Errorf("Timezone = %q, want %q",
					cfg.Timezone, tt.wantTimezone)
			}

			if cfg.DataDir == "" {
				t.Error("DataDir should be set")
			}
			wantDBPath := filepath.Join(cfg.DataDir, "tracker.db")
			if cfg.DBPath != wantDBPath {
				t.Errorf("DBPath = %q, want %q", cfg.DBPath, wantDBPath)
			}
		})
	}
}

func TestMustOpenDBUsesConfiguredZone(t *testing.T) {
	t.Setenv("BREAKTIME_DATA_DIR", t.TempDir())
	t.Setenv("BREAKTIME_TIMEZONE", "")
	cfg := mustLoadConfig([]string{"-timezone", "Asia/Bangkok"})

	database := mustOpenDB(cfg)
	defer database.Close()

	if _, err := os.Stat(cfg.DBPath); err != nil {
		t.Fatalf("db file not created: %v", err)
	}
}

func TestSetupLogFile(t *testing.T) {
	origOutput := log.Writer()
	t.Cleanup(func() { log.SetOutput(origOutput) })

	dir := t.TempDir()
	setupLogFile(dir)

	log.Print("test-log-message")

	data, err := os.ReadFile(filepath.Join(dir, logFileName))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "test-log-message") {
		t.Errorf(
			"log file missing message, got: %q", data,
		)
	}
}

func TestSetupLogFileOpenFailure(t *testing.T) {
	origOutput := log.Writer()
	t.Cleanup(func() { log.SetOutput(origOutput) })

	var buf bytes.Buffer
	log.SetOutput(io.MultiWriter(origOutput, &buf))

	// A regular file standing in for the data dir cannot hold
	// the log file.
	tmpFile := filepath.Join(t.TempDir(), "notadir")
	if err := os.WriteFile(tmpFile, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	setupLogFile(tmpFile)

	if !strings.Contains(buf.String(), "cannot open log file") {
		t.Errorf(
			"expected warning about log file, got: %q",
			buf.String(),
		)
	}
}

func TestTruncateLogFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.log")

	big := bytes.Repeat([]byte("x"), 1024)
	if err := os.WriteFile(path, big, 0o644); err != nil {
		t.Fatal(err)
	}

	truncateLogFile(path, 512)

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat after truncate: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("size after truncate = %d, want 0", info.Size())
	}
}

func TestTruncateLogFileUnderLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.log")

	content := []byte("small log content")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	truncateLogFile(path, 1024)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read after truncate: %v", err)
	}
	if string(data) != string(content) {
		t.Errorf("content changed: got %q", data)
	}
}

func TestTruncateLogFileMissing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing", "log.txt")
	truncateLogFile(missing, 1024)
}

func TestTruncateLogFileSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real.log")
	link := filepath.Join(dir, "link.log")

	big := bytes.Repeat([]byte("x"), 1024)
	if err := os.WriteFile(target, big, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	truncateLogFile(link, 512)

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read target: %v", err)
	}
	if len(data) != 1024 {
		t.Errorf(
			"symlink target was truncated: size=%d, want 1024",
			len(data),
		)
	}
}

func TestStartConfigWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("BREAKTIME_DATA_DIR", dir)
	t.Setenv("BREAKTIME_TIMEZONE", "")

	fs := parseServeFlags([]string{"-timezone", "UTC"})
	cfg := mustLoad(fs)
	database := mustOpenDB(cfg)
	defer database.Close()
	srv := server.New(cfg, database)

	stop := startConfigWatcher(dir, fs, srv)
	defer stop()

	body := `{"activities":[{"name":"stretch","limit":"90s"}]}`
	if err := os.WriteFile(
		filepath.Join(dir, "config.json"), []byte(body), 0o600,
	); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w,
			httptest.NewRequest("GET", "/api/v1/activities", nil))
		if strings.Contains(w.Body.String(), `"limit_seconds":90`) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("config change was not applied to the server")
}

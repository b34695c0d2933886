package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/wesm/breaktime/internal/config"
	"github.com/wesm/breaktime/internal/db"
	"github.com/wesm/breaktime/internal/server"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = ""
)

const (
	logFileName     = "breaktime.log"
	maxLogSize      = 10 << 20
	shutdownTimeout = 10 * time.Second
	configDebounce  = 500 * time.Millisecond
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			runServe(os.Args[2:])
			return
		case "start", "stop", "status", "stats", "history":
			runTrack(os.Args[1], os.Args[2:])
			return
		case "set-timezone":
			runSetTimezone(os.Args[2:])
			return
		case "version", "--version", "-v":
			fmt.Printf("breaktime %s (commit %s, built %s)\n",
				version, commit, buildDate)
			return
		case "help", "--help", "-h":
			printUsage()
			return
		}
	}

	runServe(os.Args[1:])
}

func printUsage() {
	fmt.Printf(`breaktime %s - break and activity duration tracker

Records when chat members start and stop timed activities,
computes overtime against per-activity limits, and reports
per-user totals over calendar ranges.

Usage:
  breaktime [flags]                    Start the API server (default)
  breaktime serve [flags]              Start the API server (explicit)
  breaktime start -chat N -user N -name NAME ACTIVITY
                                       Start an activity
  breaktime stop -chat N -user N       Stop the ongoing activity
  breaktime status -chat N [-user N]   Show ongoing activities
  breaktime stats -chat N [-range R]   Show per-user totals
  breaktime history -chat N [-range R] List completed activities
  breaktime set-timezone ZONE          Save the reporting time zone
  breaktime version                    Show version information
  breaktime help                       Show this help

Server flags:
  -host string        Host to bind to (default "127.0.0.1")
  -port int           Port to listen on (default 8080)
  -timezone string    IANA time zone for stats ranges

Ranges:
  today, yesterday, this_week, last_week, this_month, last_month

Environment variables:
  BREAKTIME_DATA_DIR   Data directory (database, config, log)
  BREAKTIME_TIMEZONE   IANA time zone for stats ranges

Data is stored in ~/.breaktime/ by default.
`, version)
}

func runServe(args []string) {
	fs := parseServeFlags(args)
	cfg := mustLoad(fs)
	setupLogFile(cfg.DataDir)
	database := mustOpenDB(cfg)
	defer database.Close()

	port := server.FindAvailablePort(cfg.Host, cfg.Port)
	if port != cfg.Port {
		fmt.Printf("Port %d in use, using %d\n", cfg.Port, port)
	}
	cfg.Port = port

	srv := server.New(cfg, database,
		server.WithVersion(server.VersionInfo{
			Version:   version,
			Commit:    commit,
			BuildDate: buildDate,
		}),
	)

	stopWatcher := startConfigWatcher(cfg.DataDir, fs, srv)
	defer stopWatcher()

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	fmt.Printf("breaktime %s listening at http://%s:%d\n",
		version, cfg.Host, cfg.Port)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	case <-ctx.Done():
		log.Println("Shutting down...")
		shutCtx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	}
}

func mustLoadConfig(args []string) config.Config {
	return mustLoad(parseServeFlags(args))
}

func parseServeFlags(args []string) *flag.FlagSet {
	fs := flag.NewFlagSet("breaktime", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(),
			"Usage: breaktime [serve] [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	config.RegisterServeFlags(fs)
	if err := fs.Parse(args); err != nil {
		log.Fatalf("parsing flags: %v", err)
	}
	return fs
}

func mustLoad(fs *flag.FlagSet) config.Config {
	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("creating data dir: %v", err)
	}
	return cfg
}

// mustOpenDB opens the database and points its stats ranges at
// the configured time zone.
func mustOpenDB(cfg config.Config) *db.DB {
	loc, err := cfg.Location()
	if err != nil {
		log.Fatalf("loading time zone: %v", err)
	}
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	database.SetLocation(loc)
	return database
}

func runTrack(cmd string, args []string) {
	ta, err := parseTrackFlags(cmd, args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	cfg, err := config.LoadMinimal()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	database := mustOpenDB(cfg)

	tr := newTracker(database, cfg, os.Stdout)
	err = tr.Run(context.Background(), cmd, ta)
	database.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runSetTimezone(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr,
			"usage: breaktime set-timezone ZONE")
		os.Exit(2)
	}
	cfg, err := config.LoadMinimal()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if err := cfg.SaveTimezone(args[0]); err != nil {
		log.Fatalf("saving time zone: %v", err)
	}
	fmt.Printf("Time zone set to %s\n", cfg.Timezone)
}

// startConfigWatcher reloads config.json into srv when it
// changes. Explicit flags still win over the file.
func startConfigWatcher(
	dataDir string, fs *flag.FlagSet, srv *server.Server,
) func() {
	onChange := func() {
		next, err := config.Load(fs)
		if err != nil {
			log.Printf("config reload failed: %v", err)
			return
		}
		srv.ApplyConfig(next)
		log.Printf("config reloaded: %d activities", len(next.Activities))
	}
	watcher, err := config.NewWatcher(
		dataDir, configDebounce, onChange,
	)
	if err != nil {
		log.Printf("warning: config watcher unavailable: %v", err)
		return func() {}
	}
	watcher.Start()
	return watcher.Stop
}

// setupLogFile mirrors the standard logger into a file under
// dataDir. Failure to open the file only logs a warning.
func setupLogFile(dataDir string) {
	path := filepath.Join(dataDir, logFileName)
	truncateLogFile(path, maxLogSize)
	f, err := os.OpenFile(
		path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600,
	)
	if err != nil {
		log.Printf("warning: cannot open log file: %v", err)
		return
	}
	log.SetOutput(io.MultiWriter(os.Stderr, f))
}

// truncateLogFile empties the file at path when it exceeds
// limit bytes. Symlinks and missing files are left alone.
func truncateLogFile(path string, limit int64) {
	info, err := os.Lstat(path)
	if err != nil {
		return
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return
	}
	if info.Size() <= limit {
		return
	}
	if err := os.Truncate(path, 0); err != nil {
		log.Printf("warning: truncating log file: %v", err)
	}
}

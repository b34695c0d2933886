package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/wesm/breaktime/internal/db"
	"github.com/wesm/breaktime/internal/timeutil"
)

const configFileName = "config.json"

// ActivitySpec describes one trackable activity.
type ActivitySpec struct {
	Name  string        `json:"name"`
	Limit time.Duration `json:"-"`
	Emoji string        `json:"emoji,omitempty"`
}

// Config holds all application configuration.
type Config struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	DataDir      string        `json:"data_dir"`
	DBPath       string        `json:"-"`
	Timezone     string        `json:"timezone,omitempty"`
	WriteTimeout time.Duration `json:"-"`

	// Activities lists the trackable activities in menu order.
	Activities []ActivitySpec `json:"-"`

	// RangeLabels maps range names to display labels.
	RangeLabels map[string]string `json:"range_labels,omitempty"`
}

// DefaultActivities returns the built-in activity list.
func DefaultActivities() []ActivitySpec {
	return []ActivitySpec{
		{Name: "上廁所", Limit: 6 * time.Minute, Emoji: "🚽"},
		{Name: "抽菸", Limit: 5 * time.Minute, Emoji: "🚬"},
		{Name: "大便10", Limit: 10 * time.Minute, Emoji: "💩"},
		{Name: "大便15", Limit: 15 * time.Minute, Emoji: "💩"},
		{Name: "使用手機", Limit: 10 * time.Minute, Emoji: "📱"},
	}
}

// DefaultRangeLabels returns display labels for each range.
func DefaultRangeLabels() map[string]string {
	return map[string]string{
		timeutil.Today:     "Today",
		timeutil.Yesterday: "Yesterday",
		timeutil.ThisWeek:  "This week",
		timeutil.LastWeek:  "Last week",
		timeutil.ThisMonth: "This month",
		timeutil.LastMonth: "Last month",
	}
}

// Default returns a Config with default values.
func Default() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf(
			"determining home directory: %w", err,
		)
	}
	dataDir := filepath.Join(home, ".breaktime")
	return Config{
		Host:         "127.0.0.1",
		Port:         8080,
		DataDir:      dataDir,
		DBPath:       filepath.Join(dataDir, "tracker.db"),
		WriteTimeout: 30 * time.Second,
		Activities:   DefaultActivities(),
		RangeLabels:  DefaultRangeLabels(),
	}, nil
}

// Load builds a Config by layering: defaults < config file < env < flags.
// The provided FlagSet must already be parsed by the caller.
// Only flags that were explicitly set override the lower layers.
func Load(fs *flag.FlagSet) (Config, error) {
	cfg, err := Default()
	if err != nil {
		return cfg, err
	}
	cfg.loadEnv()
	if err := cfg.loadFile(); err != nil {
		return cfg, fmt.Errorf("loading config file: %w", err)
	}
	// Env wins over the file for the fields both can set.
	cfg.loadEnv()
	applyFlags(&cfg, fs)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	cfg.DBPath = filepath.Join(cfg.DataDir, "tracker.db")
	return cfg, nil
}

// LoadMinimal builds a Config from defaults, config file and env,
// without CLI flags.
func LoadMinimal() (Config, error) {
	return Load(nil)
}

func (c *Config) configPath() string {
	return filepath.Join(c.DataDir, configFileName)
}

func (c *Config) loadFile() error {
	data, err := os.ReadFile(c.configPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var file struct {
		Host        string            `json:"host"`
		Port        int               `json:"port"`
		Timezone    string            `json:"timezone"`
		RangeLabels map[string]string `json:"range_labels"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if file.Host != "" {
		c.Host = file.Host
	}
	if file.Port != 0 {
		c.Port = file.Port
	}
	if file.Timezone != "" {
		c.Timezone = file.Timezone
	}
	for k, v := range file.RangeLabels {
		c.RangeLabels[k] = v
	}

	acts := gjson.GetBytes(data, "activities")
	if !acts.Exists() {
		return nil
	}
	if !acts.IsArray() {
		return fmt.Errorf("activities: expected an array")
	}
	list, err := parseActivities(acts)
	if err != nil {
		return fmt.Errorf("activities: %w", err)
	}
	c.Activities = list
	return nil
}

// parseActivities reads the activities array. Each limit is
// either a number of seconds or a Go duration string ("6m").
// A missing limit means the store's default.
func parseActivities(arr gjson.Result) ([]ActivitySpec, error) {
	var out []ActivitySpec
	var perr error
	arr.ForEach(func(_, v gjson.Result) bool {
		spec := ActivitySpec{
			Name:  v.Get("name").String(),
			Emoji: v.Get("emoji").String(),
			Limit: time.Duration(db.DefaultLimit) * time.Second,
		}
		lim := v.Get("limit")
		switch lim.Type {
		case gjson.Null:
		case gjson.Number:
			spec.Limit = time.Duration(lim.Int()) * time.Second
		case gjson.String:
			d, err := time.ParseDuration(lim.Str)
			if err != nil {
				perr = fmt.Errorf("%q limit: %w", spec.Name, err)
				return false
			}
			spec.Limit = d
		default:
			perr = fmt.Errorf("%q limit: unsupported value %s",
				spec.Name, lim.Raw)
			return false
		}
		out = append(out, spec)
		return true
	})
	return out, perr
}

func (c *Config) loadEnv() {
	if v := os.Getenv("BREAKTIME_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("BREAKTIME_TIMEZONE"); v != "" {
		c.Timezone = v
	}
}

// Validate checks the activity list and time zone.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Activities))
	for _, a := range c.Activities {
		if a.Name == "" {
			return fmt.Errorf("activity with empty name")
		}
		if seen[a.Name] {
			return fmt.Errorf("duplicate activity %q", a.Name)
		}
		seen[a.Name] = true
		if a.Limit < 0 {
			return fmt.Errorf("activity %q: negative limit", a.Name)
		}
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone, defaulting to the process's
// local zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Limits returns the per-activity limits in whole seconds.
func (c *Config) Limits() db.Limits {
	l := make(db.Limits, len(c.Activities))
	for _, a := range c.Activities {
		l[a.Name] = int64(a.Limit / time.Second)
	}
	return l
}

// Activity looks up a configured activity by name.
func (c *Config) Activity(name string) (ActivitySpec, bool) {
	for _, a := range c.Activities {
		if a.Name == name {
			return a, true
		}
	}
	return ActivitySpec{}, false
}

// RangeLabel returns the display label for a range, or the
// range name itself.
func (c *Config) RangeLabel(name string) string {
	if l := c.RangeLabels[name]; l != "" {
		return l
	}
	return name
}

// RegisterServeFlags registers serve-command flags on fs.
// The caller must call fs.Parse before passing fs to Load.
func RegisterServeFlags(fs *flag.FlagSet) {
	fs.String("host", "127.0.0.1", "Host to bind to")
	fs.Int("port", 8080, "Port to listen on")
	fs.String("timezone", "", "IANA time zone for stats ranges")
}

// applyFlags copies explicitly-set flags from fs into cfg.
func applyFlags(cfg *Config, fs *flag.FlagSet) {
	if fs == nil {
		return
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = f.Value.String()
		case "port":
			// flag already validated the int; ignore parse error
			cfg.Port, _ = strconv.Atoi(f.Value.String())
		case "timezone":
			cfg.Timezone = f.Value.String()
		}
	})
}

// SaveTimezone persists the time zone to the config file,
// preserving other keys.
func (c *Config) SaveTimezone(tz string) error {
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	if err := os.MkdirAll(c.DataDir, 0o700); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	existing := make(map[string]any)
	data, err := os.ReadFile(c.configPath())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err == nil {
		if err := json.Unmarshal(data, &existing); err != nil {
			return fmt.Errorf(
				"existing config is invalid, cannot update: %w",
				err,
			)
		}
	}

	existing["timezone"] = tz
	out, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(c.configPath(), out, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	c.Timezone = tz
	return nil
}

// Package config loads tablewatch settings from a YAML file, TABLEWATCH_*
// environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/nexusgeo/tablewatch/internal/debounce"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "TABLEWATCH"

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete runtime configuration.
type Config struct {
	Camera   CameraConfig   `mapstructure:"camera"`
	Motion   MotionConfig   `mapstructure:"motion"`
	Detector DetectorConfig `mapstructure:"detector"`
	Debounce DebounceConfig `mapstructure:"debounce"`
	Alert    AlertConfig    `mapstructure:"alert"`
	Zones    ZonesConfig    `mapstructure:"zones"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Store    StoreConfig    `mapstructure:"store"`
}

// CameraConfig selects the video source and its frame rates.
type CameraConfig struct {
	// Source is a device index ("0") or a file path or stream URL.
	Source    string `mapstructure:"source"`
	IdleFPS   int    `mapstructure:"idle_fps"`
	ActiveFPS int    `mapstructure:"active_fps"`
}

// MotionConfig tunes the motion gate in front of pose detection.
type MotionConfig struct {
	// Threshold is the percentage of changed pixels counted as motion.
	Threshold float64 `mapstructure:"threshold"`
	// IdleTimeout is how long the scene must be still before dropping back
	// to the idle frame rate.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

// DetectorConfig locates the pose service.
type DetectorConfig struct {
	Script        string  `mapstructure:"script"`
	Python        string  `mapstructure:"python"`
	MinConfidence float64 `mapstructure:"min_confidence"`
}

// DebounceConfig mirrors debounce.Config with a textual absence policy.
type DebounceConfig struct {
	Threshold  uint   `mapstructure:"threshold"`
	EvictAfter uint64 `mapstructure:"evict_after"`
	Absence    string `mapstructure:"absence"`
}

// AlertConfig controls alert delivery and history retention.
type AlertConfig struct {
	// Endpoint is the backend URL. Empty logs alerts instead of posting them.
	Endpoint  string        `mapstructure:"endpoint"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Cooldown  time.Duration `mapstructure:"cooldown"`
	Retention time.Duration `mapstructure:"retention"`
	// HooksDir holds executables run for every alert.
	HooksDir string `mapstructure:"hooks_dir"`
}

// ZonesConfig seeds the table zones.
type ZonesConfig struct {
	DefaultTable int          `mapstructure:"default_table"`
	Tables       []ZoneConfig `mapstructure:"tables"`
}

// ZoneConfig is one table polygon given as [x, y] pairs.
type ZoneConfig struct {
	TableID int      `mapstructure:"table_id"`
	Name    string   `mapstructure:"name"`
	Polygon [][2]int `mapstructure:"polygon"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// DefaultStorePath returns ~/.tablewatch/tablewatch.db, or a file in the
// working directory when the home directory is unknown.
func DefaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "tablewatch.db"
	}
	return filepath.Join(home, ".tablewatch", "tablewatch.db")
}

// DefaultHooksDir returns ~/.tablewatch/hooks.
func DefaultHooksDir() string {
	return filepath.Join(filepath.Dir(DefaultStorePath()), "hooks")
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("camera.source", "0")
	v.SetDefault("camera.idle_fps", 5)
	v.SetDefault("camera.active_fps", 15)
	v.SetDefault("motion.threshold", 1.0)
	v.SetDefault("motion.idle_timeout", 2*time.Second)
	v.SetDefault("detector.script", "")
	v.SetDefault("detector.python", "")
	v.SetDefault("detector.min_confidence", 0.5)
	v.SetDefault("debounce.threshold", debounce.DefaultThreshold)
	v.SetDefault("debounce.evict_after", debounce.DefaultEvictAfter)
	v.SetDefault("debounce.absence", debounce.AbsenceReset.String())
	v.SetDefault("alert.endpoint", "")
	v.SetDefault("alert.timeout", 5*time.Second)
	v.SetDefault("alert.cooldown", 10*time.Second)
	v.SetDefault("alert.retention", 30*24*time.Hour)
	v.SetDefault("alert.hooks_dir", DefaultHooksDir())
	v.SetDefault("zones.default_table", 1)
	v.SetDefault("zones.tables", []any{})
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("store.path", DefaultStorePath())
}

// Load reads the configuration. args are the command-line arguments without
// the program name. pflag.ErrHelp is returned when -h or --help is given.
func Load(args []string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	fs := NewFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := bindFlags(v, fs); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file, _ := fs.GetString("config"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("tablewatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.tablewatch")
		v.AddConfigPath("/etc/tablewatch")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"source":    "camera.source",
	"endpoint":  "alert.endpoint",
	"addr":      "http.addr",
	"db":        "store.path",
	"threshold": "debounce.threshold",
	"absence":   "debounce.absence",
	"script":    "detector.script",
}

// NewFlagSet returns the command-line flags understood by Load.
func NewFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("tablewatch", pflag.ContinueOnError)
	fs.StringP("config", "c", "", "path to a YAML config file")
	fs.StringP("source", "s", "0", "camera device index, video file or stream URL")
	fs.String("endpoint", "", "backend URL alerts are posted to (empty logs them)")
	fs.String("addr", ":8080", "HTTP listen address")
	fs.String("db", DefaultStorePath(), "SQLite database path")
	fs.Uint("threshold", debounce.DefaultThreshold, "consecutive raised-hand frames before alerting")
	fs.String("absence", debounce.AbsenceReset.String(), "what a frame without a track does to its count: reset or preserve")
	fs.String("script", "", "path to the pose service script")
	return fs
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	if c.Camera.Source == "" {
		return fmt.Errorf("%w: camera.source is empty", ErrInvalid)
	}
	if c.Camera.IdleFPS <= 0 || c.Camera.ActiveFPS <= 0 {
		return fmt.Errorf("%w: camera fps must be positive (idle %d, active %d)", ErrInvalid, c.Camera.IdleFPS, c.Camera.ActiveFPS)
	}
	if c.Motion.Threshold < 0 || c.Motion.Threshold > 100 {
		return fmt.Errorf("%w: motion.threshold %v is not a percentage", ErrInvalid, c.Motion.Threshold)
	}
	if c.Motion.IdleTimeout <= 0 {
		return fmt.Errorf("%w: motion.idle_timeout must be positive", ErrInvalid)
	}
	if frames := c.Motion.IdleTimeout.Seconds() * float64(c.Camera.ActiveFPS); float64(c.Debounce.Threshold) > frames {
		return fmt.Errorf("%w: debounce.threshold %d exceeds the %.0f frames seen in motion.idle_timeout at camera.active_fps",
			ErrInvalid, c.Debounce.Threshold, frames)
	}
	if c.Detector.MinConfidence < 0 || c.Detector.MinConfidence > 1 {
		return fmt.Errorf("%w: detector.min_confidence %v outside [0, 1]", ErrInvalid, c.Detector.MinConfidence)
	}
	if c.Debounce.Threshold < 1 {
		return fmt.Errorf("%w: debounce.threshold must be at least 1", ErrInvalid)
	}
	if _, err := debounce.ParseAbsencePolicy(c.Debounce.Absence); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Alert.Endpoint != "" {
		u, err := url.Parse(c.Alert.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: alert.endpoint %q is not an http(s) URL", ErrInvalid, c.Alert.Endpoint)
		}
	}
	if c.Alert.Timeout < 0 || c.Alert.Retention < 0 {
		return fmt.Errorf("%w: alert durations must not be negative", ErrInvalid)
	}
	if c.Zones.DefaultTable < 1 {
		return fmt.Errorf("%w: zones.default_table must be positive", ErrInvalid)
	}

	seen := make(map[int]bool)
	for i, z := range c.Zones.Tables {
		if z.TableID < 1 {
			return fmt.Errorf("%w: zones.tables[%d] has no table_id", ErrInvalid, i)
		}
		if seen[z.TableID] {
			return fmt.Errorf("%w: table %d has more than one zone", ErrInvalid, z.TableID)
		}
		seen[z.TableID] = true
		if len(z.Polygon) < 3 {
			return fmt.Errorf("%w: zone for table %d needs at least 3 points", ErrInvalid, z.TableID)
		}
	}

	if c.HTTP.Addr == "" {
		return fmt.Errorf("%w: http.addr is empty", ErrInvalid)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("%w: store.path is empty", ErrInvalid)
	}
	return nil
}

// DebounceSettings converts the debounce section to debounce.Config.
// It assumes Validate has passed.
func (c *Config) DebounceSettings() debounce.Config {
	absence, _ := debounce.ParseAbsencePolicy(c.Debounce.Absence)
	return debounce.Config{
		Threshold:  c.Debounce.Threshold,
		EvictAfter: c.Debounce.EvictAfter,
		Absence:    absence,
	}
}

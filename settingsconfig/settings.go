// Package settingsconfig is the operational surface: enable/disable hot
// reload, log level/category, the worker TCP port, and the
// watcher/history/entrypoint tunables. A struct is decoded from YAML (or
// TOML by extension), then overridden field by field from environment
// variables tagged `env:"..."`, converted with github.com/golobby/cast.
package settingsconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/golobby/cast"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every `env` tag to build the actual
// environment variable name, e.g. `env:"LOG_LEVEL"` -> HOTPATCH_LOG_LEVEL.
const EnvPrefix = "HOTPATCH"

// Settings is the full operational surface.
type Settings struct {
	Enabled                bool     `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	LogLevel               string   `yaml:"log_level" toml:"log_level" env:"LOG_LEVEL"`
	LogCategories          []string `yaml:"log_categories" toml:"log_categories" env:"LOG_CATEGORIES"`
	WorkerPort             int      `yaml:"worker_port" toml:"worker_port" env:"WORKER_PORT"`
	HTTPPort               int      `yaml:"http_port" toml:"http_port" env:"HTTP_PORT"`
	WatchDebounceMS        int      `yaml:"watch_debounce_ms" toml:"watch_debounce_ms" env:"WATCH_DEBOUNCE_MS"`
	HistoryDir             string   `yaml:"history_dir" toml:"history_dir" env:"HISTORY_DIR"`
	SignatureCachePath     string   `yaml:"signature_cache_path" toml:"signature_cache_path" env:"SIGNATURE_CACHE_PATH"`
	EntrypointScanSchedule string   `yaml:"entrypoint_scan_schedule" toml:"entrypoint_scan_schedule" env:"ENTRYPOINT_SCAN_SCHEDULE"`
	HistorySweepSchedule   string   `yaml:"history_sweep_schedule" toml:"history_sweep_schedule" env:"HISTORY_SWEEP_SCHEDULE"`
}

// Default returns the built-in defaults, used as the base before a YAML
// file or environment overrides are applied.
func Default() Settings {
	return Settings{
		Enabled:                true,
		LogLevel:               "info",
		LogCategories:          []string{"general"},
		WorkerPort:             7777,
		HTTPPort:               8088,
		WatchDebounceMS:        300,
		HistoryDir:             "./hotpatch-history",
		SignatureCachePath:     "./hotpatch-signatures.cache",
		EntrypointScanSchedule: "@every 1s",
		HistorySweepSchedule:   "@every 5m",
	}
}

// WatchDebounce returns WatchDebounceMS as a time.Duration.
func (s Settings) WatchDebounce() time.Duration {
	return time.Duration(s.WatchDebounceMS) * time.Millisecond
}

// Load reads path (if it exists) over Default(), then applies HOTPATCH_*
// environment overrides. The file format is chosen by extension: ".toml"
// decodes with BurntSushi/toml, anything else decodes as YAML. A missing
// file is not an error — the process may be configured purely via
// environment.
func Load(path string) (Settings, error) {
	s := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return s, fmt.Errorf("settingsconfig: reading %s: %w", path, err)
			}
		} else if strings.EqualFold(filepath.Ext(path), ".toml") {
			if _, err := toml.Decode(string(data), &s); err != nil {
				return s, fmt.Errorf("settingsconfig: parsing %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &s); err != nil {
			return s, fmt.Errorf("settingsconfig: parsing %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(&s); err != nil {
		return s, fmt.Errorf("settingsconfig: applying environment overrides: %w", err)
	}
	return s, nil
}

// applyEnvOverrides walks s's fields, and for each `env`-tagged field
// whose HOTPATCH_<TAG> variable is set, converts and assigns it.
func applyEnvOverrides(s *Settings) error {
	rv := reflect.ValueOf(s).Elem()
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		tag, ok := rt.Field(i).Tag.Lookup("env")
		if !ok {
			continue
		}
		envName := EnvPrefix + "_" + strings.ToUpper(tag)
		raw, present := os.LookupEnv(envName)
		if !present {
			continue
		}
		field := rv.Field(i)
		if err := setFieldFromEnvValue(field, raw); err != nil {
			return fmt.Errorf("field %s from %s: %w", rt.Field(i).Name, envName, err)
		}
	}
	return nil
}

func setFieldFromEnvValue(field reflect.Value, raw string) error {
	if field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.String {
		field.Set(reflect.ValueOf(strings.Split(raw, ",")))
		return nil
	}
	converted, err := cast.FromType(raw, field.Type())
	if err != nil {
		return fmt.Errorf("cannot convert %q to %v: %w", raw, field.Type(), err)
	}
	if !field.CanSet() {
		return fmt.Errorf("field cannot be set")
	}
	field.Set(reflect.ValueOf(converted))
	return nil
}

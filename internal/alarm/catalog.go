// Package alarm — catalog.go
//
// Loads the alarm configuration file (spec §6): a YAML document with a
// schema version and a list of alarm configs. Codes must match [EWI]\d{3}
// and be unique; duplicates are rejected at load time.
package alarm

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mxrc/control-core/internal/coreerr"
)

// catalogFile mirrors the on-disk YAML shape.
type catalogFile struct {
	Version int           `yaml:"version"`
	Alarms  []catalogItem `yaml:"alarms"`
}

// catalogItem is the raw YAML record; severity is a string on disk
// ("CRITICAL"/"WARNING"/"INFO") and durations are plain seconds.
type catalogItem struct {
	Code                string `yaml:"code"`
	Name                string `yaml:"name"`
	Severity            string `yaml:"severity,omitempty"`
	Description         string `yaml:"description,omitempty"`
	RecommendedAction   string `yaml:"recommended_action,omitempty"`
	RecurrenceWindowSec float64 `yaml:"recurrence_window,omitempty"`
	RecurrenceThreshold int    `yaml:"recurrence_threshold,omitempty"`
	AutoReset           bool   `yaml:"auto_reset,omitempty"`
}

// Catalog is the validated, in-memory alarm configuration, keyed by code.
type Catalog struct {
	Version int
	entries map[string]Config
}

// LoadCatalog reads and validates an alarm configuration file from path.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("alarm.LoadCatalog: read %q: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses and validates an alarm configuration document already
// read into memory. Exposed separately from LoadCatalog so callers that
// embed the catalog in a larger config document can reuse validation.
func ParseCatalog(data []byte) (*Catalog, error) {
	var raw catalogFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("alarm.ParseCatalog: parse: %w", err)
	}

	entries := make(map[string]Config, len(raw.Alarms))
	for _, item := range raw.Alarms {
		if !ValidCode(item.Code) {
			return nil, fmt.Errorf("alarm.ParseCatalog: %w: %q", coreerr.ErrInvalidAlarmCode, item.Code)
		}
		if _, dup := entries[item.Code]; dup {
			return nil, fmt.Errorf("alarm.ParseCatalog: %w: %q", coreerr.ErrDuplicateAlarmCode, item.Code)
		}

		sev := BaseSeverityFromCode(item.Code)
		if item.Severity != "" {
			parsed, ok := parseSeverity(item.Severity)
			if !ok {
				return nil, fmt.Errorf("alarm.ParseCatalog: code %q: unknown severity %q", item.Code, item.Severity)
			}
			sev = parsed
		}

		entries[item.Code] = Config{
			Code:                item.Code,
			Name:                item.Name,
			Severity:            sev,
			Description:         item.Description,
			RecommendedAction:   item.RecommendedAction,
			RecurrenceWindow:    time.Duration(item.RecurrenceWindowSec * float64(time.Second)),
			RecurrenceThreshold: item.RecurrenceThreshold,
			AutoReset:           item.AutoReset,
		}
	}

	return &Catalog{Version: raw.Version, entries: entries}, nil
}

func parseSeverity(s string) (Severity, bool) {
	switch s {
	case "CRITICAL":
		return Critical, true
	case "WARNING":
		return Warning, true
	case "INFO":
		return Info, true
	default:
		return 0, false
	}
}

// Lookup returns the config for code and whether it was found.
func (c *Catalog) Lookup(code string) (Config, bool) {
	cfg, ok := c.entries[code]
	return cfg, ok
}

// Codes returns all configured alarm codes, in no particular order.
func (c *Catalog) Codes() []string {
	out := make([]string, 0, len(c.entries))
	for code := range c.entries {
		out = append(out, code)
	}
	return out
}

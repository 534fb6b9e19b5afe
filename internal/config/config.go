package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes environment overrides. Nested keys are separated by a
// double underscore: GAMESTATS_SERVER__PORT=9000.
const EnvPrefix = "GAMESTATS_"

// DefaultPolicyName is the profile used by games that do not name one.
const DefaultPolicyName = "default"

type Config struct {
	Server   ServerConfig            `koanf:"server"`
	Log      LogConfig               `koanf:"log"`
	Tracing  TracingConfig           `koanf:"tracing"`
	Mongo    MongoConfig             `koanf:"mongo"`
	Audit    AuditConfig             `koanf:"audit"`
	Policies map[string]PolicyConfig `koanf:"policies"`
	Games    []GameConfig            `koanf:"games"`
}

type ServerConfig struct {
	Port           int    `koanf:"port"`
	RequestTimeout string `koanf:"request_timeout"` // Duration string like "30s"
	MaxBodyBytes   int64  `koanf:"max_body_bytes"`
}

// Timeout parses RequestTimeout.
func (s ServerConfig) Timeout() (time.Duration, error) {
	if s.RequestTimeout == "" {
		return 30 * time.Second, nil
	}
	d, err := time.ParseDuration(s.RequestTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid request_timeout %q: %w", s.RequestTimeout, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("request_timeout must be positive, got %s", d)
	}
	return d, nil
}

type LogConfig struct {
	Level string `koanf:"level"` // debug, info, warn, error
}

type TracingConfig struct {
	Exporter string `koanf:"exporter"` // stdout, none
}

type MongoConfig struct {
	URI            string `koanf:"uri"`
	Database       string `koanf:"database"`
	ConnectTimeout string `koanf:"connect_timeout"`
}

type AuditConfig struct {
	Type   string       `koanf:"type"` // sqlite, memory, none
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// PolicyConfig is a sanitizer profile. Zero fields inherit the built-in
// defaults.
type PolicyConfig struct {
	MaxStages        int  `koanf:"max_stages"`
	MaxLimit         int  `koanf:"max_limit"`
	MaxSortFields    int  `koanf:"max_sort_fields"`
	MaxGroupOverflow int  `koanf:"max_group_overflow"`
	LookupSubLimit   int  `koanf:"lookup_sub_limit"`
	DefaultLimit     int  `koanf:"default_limit"`
	Strict           bool `koanf:"strict"`
}

type GameConfig struct {
	ID     string `koanf:"id"`
	Name   string `koanf:"name"`
	Policy string `koanf:"policy"` // Optional: policy profile name, default "default"
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads configuration from the YAML file at path (if it exists), then
// applies environment overrides and defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// File not found is OK, we'll use env vars
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	// Default values
	defaults := map[string]any{
		"server.port":            8080,
		"server.request_timeout": "30s",
		"server.max_body_bytes":  1 << 20,
		"log.level":              "info",
		"tracing.exporter":       "none",
		"mongo.uri":              "mongodb://localhost:27017",
		"mongo.database":         "gamestats",
		"mongo.connect_timeout":  "10s",
		"audit.type":             "sqlite",
		"audit.sqlite.path":      "./data/audit.db",
	}
	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Mongo.URI = substituteEnvVars(cfg.Mongo.URI)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints that koanf cannot express.
func (c *Config) Validate() error {
	if _, err := c.Server.Timeout(); err != nil {
		return err
	}
	switch c.Tracing.Exporter {
	case "stdout", "none":
	default:
		return fmt.Errorf("unsupported tracing exporter %q (must be stdout or none)", c.Tracing.Exporter)
	}
	switch c.Audit.Type {
	case "sqlite", "memory", "none":
	default:
		return fmt.Errorf("unsupported audit type %q (must be sqlite, memory or none)", c.Audit.Type)
	}

	seen := make(map[string]bool, len(c.Games))
	for _, g := range c.Games {
		if g.ID == "" {
			return fmt.Errorf("game with empty id")
		}
		if seen[g.ID] {
			return fmt.Errorf("duplicate game id %q", g.ID)
		}
		seen[g.ID] = true

		name := g.Policy
		if name == "" || name == DefaultPolicyName {
			continue
		}
		if _, ok := c.Policies[name]; !ok {
			return fmt.Errorf("game %s: unknown policy %q", g.ID, name)
		}
	}
	return nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

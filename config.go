package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const defaultPort = 5432

// CopyConfig holds the file-driven pgcp configuration.
type CopyConfig struct {
	Source      string                      `toml:"source" yaml:"source"`
	Destination string                      `toml:"destination" yaml:"destination"`
	Databases   map[string]ConnectionConfig `toml:"databases" yaml:"databases"`
	Copy        CopyOptionsConfig           `toml:"copy" yaml:"copy"`
	Hooks       HooksConfig                 `toml:"hooks" yaml:"hooks"`
	LogFile     string                      `toml:"log_file" yaml:"log_file"`
	Journal     string                      `toml:"journal" yaml:"journal"`
	Progress    bool                        `toml:"progress" yaml:"progress"`

	// configDir is the directory containing the config file, used to resolve relative paths.
	configDir string
}

// ConnectionConfig identifies one PostgreSQL database. Empty fields fall
// back to the libpq environment (PGHOST, PGPASSWORD, ~/.pgpass, ...).
type ConnectionConfig struct {
	Host     string `toml:"host" yaml:"host"`
	Port     int    `toml:"port" yaml:"port"`
	User     string `toml:"user" yaml:"user"`
	Password string `toml:"password" yaml:"password"`
	DBName   string `toml:"dbname" yaml:"dbname"`
	SSLMode  string `toml:"sslmode" yaml:"sslmode"`
}

type CopyOptionsConfig struct {
	CreateSchema   bool   `toml:"create_schema" yaml:"create_schema"`
	SkipIndexes    bool   `toml:"skip_indexes" yaml:"skip_indexes"`
	ForceSchema    string `toml:"force_schema" yaml:"force_schema"`
	ListFromSource bool   `toml:"list_from_source" yaml:"list_from_source"`
}

type HooksConfig struct {
	AfterCopy []string `toml:"after_copy" yaml:"after_copy"`
}

// connString renders c as a libpq keyword/value string.
func (c ConnectionConfig) connString() string {
	var parts []string
	add := func(key, val string) {
		if val == "" {
			return
		}
		val = strings.ReplaceAll(val, `\`, `\\`)
		val = strings.ReplaceAll(val, `'`, `\'`)
		parts = append(parts, fmt.Sprintf("%s='%s'", key, val))
	}
	add("host", c.Host)
	if c.Port > 0 {
		add("port", fmt.Sprint(c.Port))
	}
	add("user", c.User)
	add("password", c.Password)
	add("dbname", c.DBName)
	add("sslmode", c.SSLMode)
	return strings.Join(parts, " ")
}

func (c CopyOptionsConfig) options() CopyOptions {
	return CopyOptions{
		CreateSchema:   c.CreateSchema,
		SkipIndexes:    c.SkipIndexes,
		ForceSchema:    strings.TrimSpace(c.ForceSchema),
		ListFromSource: c.ListFromSource,
	}
}

// loadConfig reads a TOML or YAML config file (chosen by extension) and
// returns a CopyConfig with defaults applied.
func loadConfig(path string) (*CopyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := CopyConfig{
		Copy: CopyOptionsConfig{CreateSchema: true},
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if err := decodeTOML(data, &cfg); err != nil {
			return nil, err
		}
	case ".yml", ".yaml":
		if err := decodeYAML(data, &cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q (use .toml, .yml or .yaml)", ext)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	cfg.configDir = filepath.Dir(absPath)

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeTOML(data []byte, cfg *CopyConfig) error {
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if unknown := md.Undecoded(); len(unknown) > 0 {
		keys := make([]string, len(unknown))
		for i, k := range unknown {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

func decodeYAML(data []byte, cfg *CopyConfig) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// normalize applies defaults and validates cross-field constraints.
func (c *CopyConfig) normalize() error {
	if len(c.Databases) == 0 {
		return fmt.Errorf("at least one entry under databases is required")
	}
	for name, db := range c.Databases {
		if db.Port == 0 {
			db.Port = defaultPort
		}
		if db.Port < 1 || db.Port > 65535 {
			return fmt.Errorf("databases.%s.port must be between 1 and 65535", name)
		}
		c.Databases[name] = db
	}

	c.Source = strings.TrimSpace(c.Source)
	c.Destination = strings.TrimSpace(c.Destination)
	for _, ref := range []struct{ key, name string }{
		{"source", c.Source},
		{"destination", c.Destination},
	} {
		if ref.name == "" {
			continue
		}
		if _, ok := c.Databases[ref.name]; !ok {
			return fmt.Errorf("%s %q is not defined under databases (have: %s)",
				ref.key, ref.name, strings.Join(c.databaseNames(), ", "))
		}
	}

	c.Copy.ForceSchema = strings.TrimSpace(c.Copy.ForceSchema)
	if c.LogFile != "" {
		c.LogFile = c.resolvePath(c.LogFile)
	}
	if c.Journal != "" {
		c.Journal = c.resolvePath(c.Journal)
	}
	return nil
}

// database looks up a connection profile by name.
func (c *CopyConfig) database(name string) (ConnectionConfig, error) {
	if name == "" {
		return ConnectionConfig{}, fmt.Errorf("database profile name required")
	}
	db, ok := c.Databases[name]
	if !ok {
		return ConnectionConfig{}, fmt.Errorf("database %q is not defined (have: %s)",
			name, strings.Join(c.databaseNames(), ", "))
	}
	return db, nil
}

func (c *CopyConfig) databaseNames() []string {
	names := make([]string, 0, len(c.Databases))
	for n := range c.Databases {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// resolvePath resolves a path relative to the config file directory.
func (c *CopyConfig) resolvePath(p string) string {
	if filepath.IsAbs(p) || c.configDir == "" {
		return p
	}
	return filepath.Join(c.configDir, p)
}

// defaultConfigPath returns the first of the conventional per-user config
// files that exists, or "" when there is none.
func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	for _, name := range []string{".pgcp.yml", ".pgcp.yaml", ".pgcp.toml"} {
		p := filepath.Join(home, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// SeedRule - какой справочник в какую сущность засеять при старте.
type SeedRule struct {
	Catalog   string `json:"catalog" yaml:"catalog"`
	Entity    string `json:"entity" yaml:"entity"`
	CodeField string `json:"codeField" yaml:"codeField"`
	NameField string `json:"nameField" yaml:"nameField"`
}

type Config struct {
	Port        string `json:"port" yaml:"port"`
	ModelsDir   string `json:"modelsDir" yaml:"modelsDir"`
	EnumsDir    string `json:"enumsDir" yaml:"enumsDir"`
	DBURL       string `json:"dbUrl" yaml:"dbUrl"`
	DBMaxConns  int    `json:"dbMaxConns" yaml:"dbMaxConns"`
	AutoMigrate bool   `json:"autoMigrate" yaml:"autoMigrate"`

	LogLevel  string `json:"logLevel" yaml:"logLevel"`   // debug | info | warn | error
	LogFormat string `json:"logFormat" yaml:"logFormat"` // text | json

	// пагинация списков
	DefaultLimit uint64 `json:"defaultLimit" yaml:"defaultLimit"`
	MaxLimit     uint64 `json:"maxLimit" yaml:"maxLimit"`

	Seed []SeedRule `json:"seed" yaml:"seed"`
}

func def() Config {
	return Config{
		Port:        "8080",
		ModelsDir:   "models",
		EnumsDir:    "reference/enums",
		DBURL:       "",
		DBMaxConns:  10,
		AutoMigrate: false,

		LogLevel:  "info",
		LogFormat: "text",

		DefaultLimit: 50,
		MaxLimit:     500,

		Seed: []SeedRule{
			{Catalog: "roles", Entity: "accounts.Role", CodeField: "code", NameField: "title"},
		},
	}
}

// loadFile читает YAML или JSON (по расширению) поверх значений по умолчанию.
func loadFile(path string) (Config, error) {
	c := def()
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &c)
	default:
		err = json.Unmarshal(b, &c)
	}
	if err != nil {
		return c, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

func getenv(k, fallback string) string {
	if v, ok := os.LookupEnv(k); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func parseBool(v string) (bool, bool) {
	switch strings.TrimSpace(strings.ToLower(v)) {
	case "1", "true", "yes":
		return true, true
	case "0", "false", "no":
		return false, true
	}
	return false, false
}

func getenvBool(k string, fallback bool) bool {
	if v, ok := os.LookupEnv(k); ok {
		if b, ok := parseBool(v); ok {
			return b
		}
	}
	return fallback
}

func getenvUint(k string, fallback uint64) uint64 {
	if v, ok := os.LookupEnv(k); ok {
		if n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

// Load: значения по умолчанию -> файл (-config или ACCOUNTS_CONFIG) -> ENV -> флаги.
// Отсутствующий файл не ошибка; битый - ошибка.
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("accounts", flag.ContinueOnError)
	configPath := fs.String("config", getenv("ACCOUNTS_CONFIG", "config.yaml"), "Path to config file (YAML or JSON)")
	port := fs.String("port", "", "HTTP port")
	models := fs.String("models", "", "Path to models DSL directory")
	enums := fs.String("enums", "", "Path to enums directory")
	db := fs.String("db", "", "Postgres URL")
	auto := fs.String("auto-migrate", "", "Apply generated DDL on start (true/false)")
	level := fs.String("log-level", "", "Log level (debug/info/warn/error)")
	format := fs.String("log-format", "", "Log format (text/json)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := def()
	if st, err := os.Stat(*configPath); err == nil && !st.IsDir() {
		c2, err := loadFile(*configPath)
		if err != nil {
			return cfg, err
		}
		cfg = c2
	}

	// ENV overrides
	cfg.Port = getenv("ACCOUNTS_PORT", cfg.Port)
	cfg.ModelsDir = getenv("ACCOUNTS_MODELS_DIR", cfg.ModelsDir)
	cfg.EnumsDir = getenv("ACCOUNTS_ENUMS_DIR", cfg.EnumsDir)
	cfg.DBURL = getenv("ACCOUNTS_DB_URL", cfg.DBURL)
	cfg.DBMaxConns = int(getenvUint("ACCOUNTS_DB_MAX_CONNS", uint64(cfg.DBMaxConns)))
	cfg.AutoMigrate = getenvBool("ACCOUNTS_AUTO_MIGRATE", cfg.AutoMigrate)
	cfg.LogLevel = getenv("ACCOUNTS_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getenv("ACCOUNTS_LOG_FORMAT", cfg.LogFormat)
	cfg.DefaultLimit = getenvUint("ACCOUNTS_DEFAULT_LIMIT", cfg.DefaultLimit)
	cfg.MaxLimit = getenvUint("ACCOUNTS_MAX_LIMIT", cfg.MaxLimit)

	// Flags overrides: только явно переданные
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = strings.TrimSpace(*port)
		case "models":
			cfg.ModelsDir = strings.TrimSpace(*models)
		case "enums":
			cfg.EnumsDir = strings.TrimSpace(*enums)
		case "db":
			cfg.DBURL = strings.TrimSpace(*db)
		case "auto-migrate":
			if b, ok := parseBool(*auto); ok {
				cfg.AutoMigrate = b
			}
		case "log-level":
			cfg.LogLevel = strings.TrimSpace(*level)
		case "log-format":
			cfg.LogFormat = strings.TrimSpace(*format)
		}
	})

	if cfg.MaxLimit > 0 && cfg.DefaultLimit > cfg.MaxLimit {
		cfg.DefaultLimit = cfg.MaxLimit
	}
	return cfg, nil
}

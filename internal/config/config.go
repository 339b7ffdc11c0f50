package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultAPIBaseURL        = "https://clinicaltrials.gov/api/v2/studies"
	defaultAPIPageSize       = 100
	defaultAPIMaxRetries     = 5
	defaultAPITimeoutSeconds = 30
	defaultBatchSizeRows     = 5000
	defaultConnectorName     = "postgres"

	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 10 * time.Minute

	maxAPIPageSize = 1000
)

// ErrDatabaseURLEmpty is returned when db_dsn is an empty string.
var ErrDatabaseURLEmpty = errors.New("database DSN cannot be empty")

// ErrConnectorNameUnknown is returned when connector.name names an
// unsupported backend.
var ErrConnectorNameUnknown = errors.New("unknown connector name")

// ErrAPIPageSizeOutOfRange is returned when api.page_size falls outside 1..1000.
var ErrAPIPageSizeOutOfRange = errors.New("api.page_size must be between 1 and 1000")

// API holds the extraction client's configuration, matching the
// api.* keys.
type API struct {
	BaseURL        string
	PageSize       int
	MaxRetries     int
	TimeoutSeconds int
}

// Load holds batching configuration for the bulk-load/merge stage.
type Load struct {
	BatchSizeRows int
}

// Connector names the backend implementation to drive; today only
// "postgres" is supported.
type Connector struct {
	Name string
}

// Database holds pool-tuning knobs layered on top of the DSN.
type Database struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Config aggregates every externally configurable knob,
// constructed once at process startup and passed explicitly to each
// component constructor — no ambient singletons.
type Config struct {
	databaseURL string

	API       API
	Load      Load
	Connector Connector
	Database  Database
}

// fileOverlay mirrors the YAML shape a --config file may supply. Every
// field is optional; env vars win when both are set.
type fileOverlay struct {
	DBDSN     string `yaml:"db_dsn"`
	API       struct {
		BaseURL        string `yaml:"base_url"`
		PageSize       int    `yaml:"page_size"`
		MaxRetries     int    `yaml:"max_retries"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"api"`
	Load struct {
		BatchSizeRows int `yaml:"batch_size_rows"`
	} `yaml:"load"`
	Connector struct {
		Name string `yaml:"name"`
	} `yaml:"connector"`
}

// LoadConfig builds a Config from an optional YAML file followed by environment
// variables, which always take precedence over the file. Pass an empty
// configPath to skip the file overlay entirely.
func LoadConfig(configPath string) (*Config, error) {
	overlay, err := readFileOverlay(configPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		databaseURL: GetEnvStr("DB_DSN", overlay.DBDSN),
		API: API{
			BaseURL:        GetEnvStr("API_BASE_URL", firstNonEmpty(overlay.API.BaseURL, defaultAPIBaseURL)),
			PageSize:       GetEnvInt("API_PAGE_SIZE", firstNonZero(overlay.API.PageSize, defaultAPIPageSize)),
			MaxRetries:     GetEnvInt("API_MAX_RETRIES", firstNonZero(overlay.API.MaxRetries, defaultAPIMaxRetries)),
			TimeoutSeconds: GetEnvInt("API_TIMEOUT_SECONDS", firstNonZero(overlay.API.TimeoutSeconds, defaultAPITimeoutSeconds)),
		},
		Load: Load{
			BatchSizeRows: GetEnvInt("LOAD_BATCH_SIZE_ROWS", firstNonZero(overlay.Load.BatchSizeRows, defaultBatchSizeRows)),
		},
		Connector: Connector{
			Name: GetEnvStr("CONNECTOR_NAME", firstNonEmpty(overlay.Connector.Name, defaultConnectorName)),
		},
		Database: Database{
			MaxOpenConns:    GetEnvInt("DATABASE_MAX_OPEN_CONNS", defaultMaxOpenConns),
			MaxIdleConns:    GetEnvInt("DATABASE_MAX_IDLE_CONNS", defaultMaxIdleConns),
			ConnMaxLifetime: GetEnvDuration("DATABASE_CONN_MAX_LIFETIME", defaultConnMaxLifetime),
			ConnMaxIdleTime: GetEnvDuration("DATABASE_CONN_MAX_IDLE_TIME", defaultConnMaxIdleTime),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func readFileOverlay(configPath string) (fileOverlay, error) {
	var overlay fileOverlay
	if configPath == "" {
		return overlay, nil
	}

	raw, err := os.ReadFile(configPath)
	if err != nil {
		return overlay, fmt.Errorf("reading config file %s: %w", configPath, err)
	}

	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return overlay, fmt.Errorf("parsing config file %s: %w", configPath, err)
	}

	return overlay, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonZero(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}

// DatabaseURL returns the connection DSN. Kept unexported at the field
// level so it cannot be logged by accident — call String() instead.
func (c *Config) DatabaseURL() string {
	return c.databaseURL
}

// Validate checks the aggregate configuration for consistency.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.databaseURL) == "" {
		return ErrDatabaseURLEmpty
	}

	if c.API.PageSize < 1 || c.API.PageSize > maxAPIPageSize {
		return fmt.Errorf("%w: got %d", ErrAPIPageSizeOutOfRange, c.API.PageSize)
	}

	if c.Connector.Name != "postgres" {
		return fmt.Errorf("%w: %q", ErrConnectorNameUnknown, c.Connector.Name)
	}

	return nil
}

// String renders the configuration safe for logging, masking the DSN.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{DatabaseURL: %s, API: %+v, Load: %+v, Connector: %+v}",
		MaskDatabaseURL(c.databaseURL), c.API, c.Load, c.Connector,
	)
}

// MaskDatabaseURL masks the password component of a DSN for safe logging.
func MaskDatabaseURL(dsn string) string {
	if dsn == "" {
		return ""
	}

	schemeEnd := strings.Index(dsn, "://")
	if schemeEnd == -1 {
		return dsn
	}

	afterScheme := dsn[schemeEnd+3:]

	lastAtIndex := strings.LastIndex(afterScheme, "@")
	if lastAtIndex == -1 {
		return dsn
	}

	userInfo := afterScheme[:lastAtIndex]

	colonIndex := strings.Index(userInfo, ":")
	if colonIndex == -1 {
		return dsn
	}

	username := userInfo[:colonIndex]
	password := userInfo[colonIndex+1:]

	if password == "" {
		return dsn
	}

	scheme := dsn[:schemeEnd]
	hostAndRest := afterScheme[lastAtIndex:]

	return scheme + "://" + username + ":***" + hostAndRest
}

package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// FailedRetryPolicy decides whether files ledgered as failed are attempted
// again on later runs.
type FailedRetryPolicy string

const (
	RetryFailedNever  FailedRetryPolicy = "never"
	RetryFailedAlways FailedRetryPolicy = "always"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	BaseURL     string
	LoginPath   string
	ListingPath string
	Username    string
	Password    string
	LocationTag string

	StoreDriver      string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
	SQLitePath       string
	UpsertBatchSize  int

	DownloadDir string
	ChromeBin   string
	Headless    bool

	LoginWait        time.Duration
	LoadMoreAttempts int
	LoadMoreDelay    time.Duration
	SettleDelay      time.Duration
	ClickWait        time.Duration
	ArtifactTimeout  time.Duration
	ElementTimeout   time.Duration
	HTTPTimeout      time.Duration
	ProbeRPS         float64
	MaxRetries       int

	FailedRetry   FailedRetryPolicy
	CSVOutputPath string
	LogLevel      string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		BaseURL:     strings.TrimRight(getEnv("ACES_BASE_URL", "https://de.acespower.com"), "/"),
		LoginPath:   getEnv("ACES_LOGIN_PATH", "/Web/Account/Login.htm"),
		ListingPath: getEnv("ACES_LISTING_PATH", "#/"),
		Username:    getEnv("ACES_USERNAME", ""),
		Password:    getEnv("ACES_PASSWORD", ""),
		LocationTag: getEnv("LOCATION_TAG", "NIPS.WVPA"),

		StoreDriver:      strings.ToLower(getEnv("STORE_DRIVER", DriverPostgres)),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "aces"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "aces"),
		PostgresDB:       getEnv("POSTGRES_DB", "forecasts"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		SQLitePath:       getEnv("SQLITE_PATH", "./output/forecasts.db"),
		UpsertBatchSize:  getEnvInt("UPSERT_BATCH_SIZE", 200),

		DownloadDir: getEnv("DOWNLOAD_DIR", "./downloads"),
		ChromeBin:   getEnv("CHROME_BIN", ""),
		Headless:    getEnvBool("HEADLESS", true),

		LoginWait:        getEnvDuration("LOGIN_WAIT", 5*time.Second),
		LoadMoreAttempts: getEnvInt("LOAD_MORE_ATTEMPTS", 5),
		LoadMoreDelay:    getEnvDuration("LOAD_MORE_DELAY", time.Second),
		SettleDelay:      getEnvDuration("SETTLE_DELAY", 3*time.Second),
		ClickWait:        getEnvDuration("CLICK_WAIT", 3*time.Second),
		ArtifactTimeout:  getEnvDuration("ARTIFACT_TIMEOUT", 20*time.Second),
		ElementTimeout:   getEnvDuration("ELEMENT_TIMEOUT", 5*time.Second),
		HTTPTimeout:      getEnvDuration("HTTP_TIMEOUT", 30*time.Second),
		ProbeRPS:         getEnvFloat("PROBE_RPS", 2),
		MaxRetries:       getEnvInt("MAX_RETRIES", 3),

		FailedRetry:   FailedRetryPolicy(strings.ToLower(getEnv("FAILED_RETRY_POLICY", string(RetryFailedNever)))),
		CSVOutputPath: getEnv("CSV_OUTPUT_PATH", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
	}
}

// Validate reports every setting that would stop a run from working.
func (c *Config) Validate() error {
	var errs []error
	if c.Username == "" || c.Password == "" {
		errs = append(errs, errors.New("ACES_USERNAME and ACES_PASSWORD are required"))
	}
	if c.BaseURL == "" {
		errs = append(errs, errors.New("ACES_BASE_URL is empty"))
	}
	if c.LocationTag == "" {
		errs = append(errs, errors.New("LOCATION_TAG is empty"))
	}
	switch c.StoreDriver {
	case DriverPostgres, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER %q is not one of postgres, sqlite", c.StoreDriver))
	}
	switch c.FailedRetry {
	case RetryFailedNever, RetryFailedAlways:
	default:
		errs = append(errs, fmt.Errorf("FAILED_RETRY_POLICY %q is not one of never, always", c.FailedRetry))
	}
	if c.LoadMoreAttempts < 0 {
		errs = append(errs, errors.New("LOAD_MORE_ATTEMPTS must not be negative"))
	}
	if c.UpsertBatchSize <= 0 {
		errs = append(errs, errors.New("UPSERT_BATCH_SIZE must be positive"))
	}
	if c.ProbeRPS <= 0 {
		errs = append(errs, errors.New("PROBE_RPS must be positive"))
	}
	return errors.Join(errs...)
}

// LoginURL returns the absolute login page URL.
func (c *Config) LoginURL() string { return c.BaseURL + c.LoginPath }

// ListingURL returns the absolute file listing URL.
func (c *Config) ListingURL() string { return c.BaseURL + c.ListingPath }

// DSN returns the connection string for the configured store driver.
func (c *Config) DSN() string {
	if c.StoreDriver == DriverSQLite {
		return c.SQLitePath
	}
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("1500ms") or a bare number of milliseconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(val); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

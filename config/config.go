package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// Store backends.
const (
	BackendSheets = "sheets"
	BackendMemory = "memory"
)

// Notifier kinds.
const (
	NotifierGmail = "gmail"
	NotifierLog   = "log"
)

type Config struct {
	Addr     string
	LogLevel string
	LogDev   bool

	// AllowedOrigin is sent as Access-Control-Allow-Origin.
	AllowedOrigin string
	// AllowedNetworks restricts which client networks may submit. Empty
	// allows everyone.
	AllowedNetworks []string
	// TrustedProxies may set X-Forwarded-For. Empty trusts none.
	TrustedProxies  []string
	RateLimitPerMin int
	MaxBodyBytes    int64

	StoreBackend          string
	CredentialsPath       string
	ContactSpreadsheetID  string
	ParticipationSheetID  string
	ShareSpreadsheetsWith string
	TimeZone              string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	IdempotencyTTL        time.Duration
	NotificationEmail     string
	Notifier              string
	GmailSender           string
	NotificationQueueSize int
	JournalPath           string
	PersistTimeout        time.Duration
}

// Load reads envFile (ignored when missing) and the process environment.
func Load(envFile string) Config {
	if envFile != "" {
		_ = godotenv.Load(envFile)
	}
	return Config{
		Addr:                  getString("ADDR", ":8081"),
		LogLevel:              getString("LOG_LEVEL", "INFO"),
		LogDev:                getBool("LOG_DEV", false),
		AllowedOrigin:         getString("ALLOWED_ORIGIN", "*"),
		AllowedNetworks:       parseList(getString("ALLOWED_NETWORKS", "")),
		TrustedProxies:        parseList(getString("TRUSTED_PROXIES", "")),
		RateLimitPerMin:       getInt("RATE_LIMIT_PER_MIN", 20),
		MaxBodyBytes:          int64(getInt("MAX_BODY_BYTES", 64<<10)),
		StoreBackend:          getString("STORE_BACKEND", BackendSheets),
		CredentialsPath:       getString("GOOGLE_CREDENTIALS", "./credentials/credentials.json"),
		ContactSpreadsheetID:  getString("SPREADSHEET_ID", ""),
		ParticipationSheetID:  getString("PARTICIPATION_SPREADSHEET_ID", ""),
		ShareSpreadsheetsWith: getString("SHARE_SPREADSHEETS_WITH", ""),
		TimeZone:              getString("TIME_ZONE", "Asia/Tokyo"),
		RedisAddr:             getString("REDIS_ADDR", ""),
		RedisPassword:         getString("REDIS_PASSWORD", ""),
		RedisDB:               getInt("REDIS_DB", 0),
		IdempotencyTTL:        time.Duration(getInt("IDEMPOTENCY_TTL_HOURS", 24)) * time.Hour,
		NotificationEmail:     getString("NOTIFICATION_EMAIL", ""),
		Notifier:              getString("NOTIFIER", NotifierGmail),
		GmailSender:           getString("GMAIL_SENDER", ""),
		NotificationQueueSize: getInt("NOTIFICATION_QUEUE_SIZE", 100),
		JournalPath:           getString("JOURNAL_PATH", ""),
		PersistTimeout:        time.Duration(getInt("PERSIST_TIMEOUT_SECONDS", 20)) * time.Second,
	}
}

// AddFlags lets command-line flags override the environment.
func (c *Config) AddFlags(fs *pflag.FlagSet) {
	if fs == nil {
		fs = pflag.CommandLine
	}
	fs.StringVar(&c.Addr, "addr", c.Addr, "Address the intake server listens on.")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level: DEBUG, INFO, WARN or ERROR.")
	fs.BoolVar(&c.LogDev, "log-dev", c.LogDev, "Human-readable development logging.")
	fs.StringVar(&c.StoreBackend, "store", c.StoreBackend, "Store backend: sheets or memory.")
	fs.StringVar(&c.Notifier, "notifier", c.Notifier, "Notifier: gmail or log.")
	fs.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "Redis address; empty keeps state in process memory.")
	fs.StringVar(&c.JournalPath, "journal", c.JournalPath, "Path of the JSON-lines submission journal; empty disables it.")
	fs.StringSliceVar(&c.AllowedNetworks, "allow-network", c.AllowedNetworks, "Repeatable. CIDR allowed to submit.")
}

// Validate checks for missing or conflicting values.
func (c Config) Validate() error {
	var errs []error
	if c.NotificationEmail == "" {
		errs = append(errs, errors.New("NOTIFICATION_EMAIL is not set"))
	}
	switch c.StoreBackend {
	case BackendSheets:
		if c.CredentialsPath == "" {
			errs = append(errs, errors.New("GOOGLE_CREDENTIALS is required for the sheets backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.StoreBackend))
	}
	switch c.Notifier {
	case NotifierGmail:
		if c.GmailSender == "" {
			errs = append(errs, errors.New("GMAIL_SENDER is required for the gmail notifier"))
		}
	case NotifierLog:
	default:
		errs = append(errs, fmt.Errorf("unknown notifier %q", c.Notifier))
	}
	for _, cidr := range c.AllowedNetworks {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			errs = append(errs, fmt.Errorf("allowed network %q: %w", cidr, err))
		}
	}
	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		errs = append(errs, fmt.Errorf("time zone %q: %w", c.TimeZone, err))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("MAX_BODY_BYTES must be positive"))
	}
	return errors.Join(errs...)
}

func parseList(csv string) []string {
	var out []string
	for _, v := range strings.Split(csv, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

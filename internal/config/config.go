// Package config provides centralized configuration for the verification runner.
// It loads configuration from CLI flags and environment variables, validates required fields,
// and provides defaults matching the local dev server the scripts were written against.
//
// CLI flags control which outer services are mocked (--no-email, --no-s3).
// Environment variables provide secrets and service configuration.
package config

import (
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kuitang/handover-verify/internal/urlutil"
)

const (
	DefaultBaseURL       = "http://127.0.0.1:8788"
	DefaultResultsDir    = "jules-scratch/verification"
	DefaultTimeout       = 30 * time.Second
	DefaultBrowser       = "chromium"
	DefaultLoginUser     = "admin"
	DefaultLoginPassword = "112233"
	DefaultMCPRPS        = 2.0
	DefaultMCPBurst      = 10

	defaultS3Region = "auto"
)

// Flags holds parsed CLI flag values. Empty values fall back to the environment.
type Flags struct {
	BaseURL    string
	ResultsDir string
	Browser    string
	Timeout    time.Duration
	Headed     bool
	NoS3       bool
	NoEmail    bool
	List       bool
	Checklists []string
	MCPAddr    string
	Scripts    []string
}

// Config holds all runner configuration.
type Config struct {
	// Target application
	BaseURL       string
	LoginUser     string
	LoginPassword string

	// Browser
	Browser  string // chromium, firefox or webkit
	Headless bool
	Timeout  time.Duration // default bound for every wait

	// Outputs
	ResultsDir string
	HistoryDB  string

	// Mock service flags (controlled by CLI flags, not env vars)
	NoS3    bool
	NoEmail bool

	// S3 artifact storage
	AWSEndpointS3      string // AWS_ENDPOINT_URL_S3
	AWSRegion          string // AWS_REGION
	AWSAccessKeyID     string // AWS_ACCESS_KEY_ID
	AWSSecretAccessKey string // AWS_SECRET_ACCESS_KEY
	AWSBucketName      string // BUCKET_NAME
	AWSPublicURL       string // S3_PUBLIC_URL

	// Failure notification
	ResendAPIKey    string
	ResendFromEmail string
	NotifyEmailTo   string

	// MCP
	MCPAddr  string
	MCPToken string  // VERIFY_MCP_TOKEN, optional bearer token
	MCPRPS   float64 // VERIFY_MCP_RPS, 0 disables rate limiting
	MCPBurst int     // VERIFY_MCP_BURST
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*l = append(*l, part)
		}
	}
	return nil
}

// ParseFlags parses CLI arguments (without the program name).
func ParseFlags(args []string, output io.Writer) (Flags, error) {
	var f Flags
	var checklists listFlag

	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	if output != nil {
		fs.SetOutput(output)
	}
	fs.StringVar(&f.BaseURL, "base-url", "", "Target application base URL (default "+DefaultBaseURL+", overrides VERIFY_BASE_URL)")
	fs.StringVar(&f.ResultsDir, "results-dir", "", "Directory for screenshots and reports (default "+DefaultResultsDir+")")
	fs.StringVar(&f.Browser, "browser", "", "Browser engine: chromium, firefox or webkit")
	fs.DurationVar(&f.Timeout, "timeout", 0, "Default bound for every wait (default 30s)")
	fs.BoolVar(&f.Headed, "headed", false, "Show the browser window")
	fs.BoolVar(&f.NoS3, "no-s3", false, "Keep artifacts local even when S3 is configured")
	fs.BoolVar(&f.NoEmail, "no-email", false, "Write failure notifications to the mock outbox")
	fs.BoolVar(&f.List, "list", false, "List built-in scripts and exit")
	fs.Var(&checklists, "checklist", "YAML checklist file(s), comma separated or repeated")
	fs.StringVar(&f.MCPAddr, "mcp-addr", "", "Serve the MCP verification tools on this address instead of running scripts")

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	f.Checklists = checklists
	f.Scripts = fs.Args()
	return f, nil
}

// LoadConfig loads configuration from environment variables and CLI flag values.
func LoadConfig(f Flags) (*Config, error) {
	cfg := &Config{}

	cfg.NoS3 = f.NoS3
	cfg.NoEmail = f.NoEmail
	cfg.MCPAddr = f.MCPAddr
	cfg.MCPToken = strings.TrimSpace(os.Getenv("VERIFY_MCP_TOKEN"))
	cfg.MCPRPS = parseFloatOrDefault("VERIFY_MCP_RPS", DefaultMCPRPS)
	cfg.MCPBurst = parseIntOrDefault("VERIFY_MCP_BURST", DefaultMCPBurst)

	// Target application
	cfg.BaseURL = urlutil.TrimBase(firstNonEmpty(f.BaseURL, os.Getenv("VERIFY_BASE_URL"), DefaultBaseURL))
	cfg.LoginUser = getEnvOrDefault("VERIFY_LOGIN_USER", DefaultLoginUser)
	cfg.LoginPassword = getEnvOrDefault("VERIFY_LOGIN_PASSWORD", DefaultLoginPassword)

	// Browser
	cfg.Browser = strings.ToLower(firstNonEmpty(f.Browser, os.Getenv("VERIFY_BROWSER"), DefaultBrowser))
	cfg.Headless = parseBoolOrDefault("VERIFY_HEADLESS", true)
	if f.Headed {
		cfg.Headless = false
	}
	cfg.Timeout = parseDurationOrDefault("VERIFY_TIMEOUT", DefaultTimeout)
	if f.Timeout != 0 {
		cfg.Timeout = f.Timeout
	}

	// Outputs
	cfg.ResultsDir = firstNonEmpty(f.ResultsDir, os.Getenv("VERIFY_RESULTS_DIR"), DefaultResultsDir)
	cfg.HistoryDB = getEnvOrDefault("VERIFY_HISTORY_DB", cfg.ResultsDir+"/history.db")

	// S3 artifact storage
	cfg.AWSEndpointS3 = strings.TrimSpace(os.Getenv("AWS_ENDPOINT_URL_S3"))
	cfg.AWSRegion = getEnvOrDefault("AWS_REGION", defaultS3Region)
	cfg.AWSAccessKeyID = strings.TrimSpace(os.Getenv("AWS_ACCESS_KEY_ID"))
	cfg.AWSSecretAccessKey = strings.TrimSpace(os.Getenv("AWS_SECRET_ACCESS_KEY"))
	cfg.AWSBucketName = strings.TrimSpace(os.Getenv("BUCKET_NAME"))
	cfg.AWSPublicURL = strings.TrimSpace(os.Getenv("S3_PUBLIC_URL"))
	if cfg.AWSPublicURL == "" && cfg.AWSEndpointS3 != "" && cfg.AWSBucketName != "" {
		cfg.AWSPublicURL = urlutil.Join(cfg.AWSEndpointS3, cfg.AWSBucketName)
	}

	// Failure notification
	cfg.ResendAPIKey = strings.TrimSpace(os.Getenv("RESEND_API_KEY"))
	cfg.ResendFromEmail = getEnvOrDefault("RESEND_FROM_EMAIL", "verify@handover.local")
	cfg.NotifyEmailTo = strings.TrimSpace(os.Getenv("NOTIFY_EMAIL_TO"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration is present and valid.
func (c *Config) Validate() error {
	var errs []string

	if u, err := url.Parse(c.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, "VERIFY_BASE_URL must be an absolute http(s) URL")
	}

	switch c.Browser {
	case "chromium", "firefox", "webkit":
	default:
		errs = append(errs, fmt.Sprintf("VERIFY_BROWSER must be chromium, firefox or webkit (got %q)", c.Browser))
	}

	if c.Timeout <= 0 {
		errs = append(errs, "VERIFY_TIMEOUT (-timeout) must be positive")
	}
	if strings.TrimSpace(c.ResultsDir) == "" {
		errs = append(errs, "VERIFY_RESULTS_DIR must not be empty")
	}

	// S3: a partially configured bucket is a mistake, an absent one means local only
	if c.S3Enabled() {
		if c.AWSAccessKeyID == "" {
			errs = append(errs, "AWS_ACCESS_KEY_ID is required when BUCKET_NAME is set (or use --no-s3)")
		}
		if c.AWSSecretAccessKey == "" {
			errs = append(errs, "AWS_SECRET_ACCESS_KEY is required when BUCKET_NAME is set (or use --no-s3)")
		}
	}

	// Email: real sends need a key and a recipient
	if !c.NoEmail && c.ResendAPIKey != "" && c.NotifyEmailTo == "" {
		errs = append(errs, "NOTIFY_EMAIL_TO is required when RESEND_API_KEY is set (or use --no-email)")
	}

	if c.MCPRPS < 0 {
		errs = append(errs, "VERIFY_MCP_RPS must not be negative")
	}
	if c.MCPRPS > 0 && c.MCPBurst < 1 {
		errs = append(errs, "VERIFY_MCP_BURST must be at least 1")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// S3Enabled reports whether screenshots should be uploaded.
func (c *Config) S3Enabled() bool {
	return !c.NoS3 && c.AWSBucketName != ""
}

// EmailEnabled reports whether failure notifications go through Resend.
func (c *Config) EmailEnabled() bool {
	return !c.NoEmail && c.ResendAPIKey != ""
}

// PrintStartupSummary prints a human-readable summary of the configuration.
func (c *Config) PrintStartupSummary(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "handover verification starting...")
	fmt.Fprintf(w, "  Target:  %s\n", c.BaseURL)

	mode := "headless"
	if !c.Headless {
		mode = "headed"
	}
	fmt.Fprintf(w, "  Browser: %s (%s, waits bounded at %s)\n", c.Browser, mode, c.Timeout)
	fmt.Fprintf(w, "  Results: %s\n", c.ResultsDir)

	if c.S3Enabled() {
		fmt.Fprintf(w, "  Storage: S3 bucket %s (endpoint: %s)\n", c.AWSBucketName, c.AWSEndpointS3)
	} else {
		fmt.Fprintln(w, "  Storage: local only")
	}

	if c.EmailEnabled() {
		fmt.Fprintf(w, "  Notify:  Resend to %s\n", c.NotifyEmailTo)
	} else {
		fmt.Fprintln(w, "  Notify:  mock outbox")
	}
	fmt.Fprintln(w, "")
}

// Helper functions for parsing environment variables

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func parseBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseFloatOrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

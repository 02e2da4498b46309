package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Port      string
	DB        DBConfig
	JWTSecret string
	RedisAddr string
	ScorerURL string
	S3        S3Config
	LogDev    bool
	Rules     Rules

	// AdminBootstrapSecret enables POST /auth/bootstrap-admin when set.
	AdminBootstrapSecret string
}

type DBConfig struct {
	Driver     string
	URL        string
	SQLitePath string
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// Enabled reports whether document archiving is configured.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// Load reads .env (if present) and the process environment. Marketplace
// rules start from DefaultRules and are overlaid by MARKET_RULES_FILE.
func Load() (*Config, error) {
	cfg, err := LoadEnv()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnv is Load without the server-only checks. The admin CLI uses it
// since it never issues tokens.
func LoadEnv() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port: getEnv("PORT", "8080"),
		DB: DBConfig{
			Driver:     getEnv("DB_DRIVER", DriverPostgres),
			URL:        os.Getenv("DATABASE_URL"),
			SQLitePath: getEnv("SQLITE_PATH", "homebid.db"),
		},
		JWTSecret: os.Getenv("JWT_SECRET"),
		RedisAddr: os.Getenv("REDIS_ADDR"),
		ScorerURL: os.Getenv("SCORER_URL"),
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		},
		LogDev: os.Getenv("LOG_DEV") == "true",
		Rules:  DefaultRules(),
	}

	cfg.AdminBootstrapSecret = os.Getenv("ADMIN_BOOTSTRAP_SECRET")

	if cfg.DB.Driver == DriverPostgres && cfg.DB.URL == "" {
		cfg.DB.URL = fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s",
			os.Getenv("DB_USER"),
			os.Getenv("DB_PASSWORD"),
			getEnv("DB_HOST", "localhost"),
			getEnv("DB_PORT", "5432"),
			os.Getenv("DB_NAME"),
		)
	}

	if path := os.Getenv("MARKET_RULES_FILE"); path != "" {
		rules, err := LoadRules(path)
		if err != nil {
			return nil, err
		}
		cfg.Rules = rules
	}

	// Env overrides for the knobs most often tuned per deployment.
	cfg.Rules.ClaimTTL = getEnvDuration("CLAIM_TTL", cfg.Rules.ClaimTTL)
	cfg.Rules.AuctionWindow = getEnvDuration("AUCTION_WINDOW", cfg.Rules.AuctionWindow)
	cfg.Rules.SweepInterval = getEnvDuration("SWEEP_INTERVAL", cfg.Rules.SweepInterval)
	cfg.Rules.SignupGrant = int64(getEnvInt("SIGNUP_GRANT", int(cfg.Rules.SignupGrant)))

	if err := cfg.Rules.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.DB.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.DB.Driver)
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	return c.Rules.Validate()
}

// Rules are the marketplace constants. Amounts are credits.
type Rules struct {
	MinBid              int64         `yaml:"min_bid"`
	InstantWinThreshold int64         `yaml:"instant_win_threshold"`
	ShowingEscrow       int64         `yaml:"showing_escrow"`
	AuctionWindow       time.Duration `yaml:"auction_window"`
	ClaimTTL            time.Duration `yaml:"claim_ttl"`
	BountyReward        int64         `yaml:"bounty_reward"`
	BountyOpenTTL       time.Duration `yaml:"bounty_open_ttl"`
	SignupGrant         int64         `yaml:"signup_grant"`
	SweepInterval       time.Duration `yaml:"sweep_interval"`
}

func DefaultRules() Rules {
	return Rules{
		MinBid:              20,
		InstantWinThreshold: 50,
		ShowingEscrow:       50,
		AuctionWindow:       2 * time.Hour,
		ClaimTTL:            24 * time.Hour,
		BountyReward:        10,
		BountyOpenTTL:       0,
		SignupGrant:         0,
		SweepInterval:       time.Minute,
	}
}

// LoadRules overlays the YAML file at path on DefaultRules. Keys missing
// from the file keep their defaults.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	data, err := os.ReadFile(path)
	if err != nil {
		return rules, fmt.Errorf("reading rules file: %w", err)
	}
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return rules, fmt.Errorf("parsing rules file: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return rules, err
	}
	return rules, nil
}

func (r Rules) Validate() error {
	switch {
	case r.MinBid <= 0:
		return errors.New("min_bid must be positive")
	case r.InstantWinThreshold < r.MinBid:
		return errors.New("instant_win_threshold must be at least min_bid")
	case r.ShowingEscrow < 0:
		return errors.New("showing_escrow must not be negative")
	case r.AuctionWindow <= 0:
		return errors.New("auction_window must be positive")
	case r.ClaimTTL <= 0:
		return errors.New("claim_ttl must be positive")
	case r.BountyReward < 0:
		return errors.New("bounty_reward must not be negative")
	case r.BountyOpenTTL < 0:
		return errors.New("bounty_open_ttl must not be negative")
	case r.SignupGrant < 0:
		return errors.New("signup_grant must not be negative")
	case r.SweepInterval <= 0:
		return errors.New("sweep_interval must be positive")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

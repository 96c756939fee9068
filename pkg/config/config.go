// Package config assembles connector settings from flags, the environment and
// an optional .env file. Flags win over the environment.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

var ErrInvalid = errors.New("invalid config")

const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreMySQL  = "mysql"
	StoreConsul = "consul"
)

type Config struct {
	ILPAddress string
	Env        string

	ILPListen   string
	AdminListen string
	AdminToken  string

	TLSCert     string
	TLSKey      string
	TLSClientCA string

	Store      string
	SQLitePath string
	MySQLDSN   string
	MySQLHost  string
	MySQLPort  string
	MySQLUser  string
	MySQLPass  string
	MySQLDB    string
	ConsulAddr string
	RedisAddr  string

	MinExpirationWindow time.Duration
	MaxHoldWindow       time.Duration
	RequestsPerSecond   float64
	Burst               int

	LogLevel  string
	LogFormat string
	LogFile   string

	SeedFile    string
	ShowVersion bool
}

// Load parses args (without the program name) on top of the environment. A
// .env file in the working directory is read first and never overrides
// variables that are already set.
func Load(args []string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	c := &Config{}
	fs := flag.NewFlagSet("ilp-connector", flag.ContinueOnError)
	fs.StringVar(&c.ILPAddress, "ilp-address", getenv("ILP_ADDRESS", ""), "own ILP address; empty to learn it from a parent (env ILP_ADDRESS)")
	fs.StringVar(&c.Env, "env", getenv("CONNECTOR_ENV", "test"), "production or test, selects the g. or test. global prefix (env CONNECTOR_ENV)")
	fs.StringVar(&c.ILPListen, "ilp-listen", getenv("ILP_LISTEN", ":7768"), "ILP-over-HTTP listen address")
	fs.StringVar(&c.AdminListen, "admin-listen", getenv("ADMIN_LISTEN", ":7769"), "admin API and settlement callback listen address")
	fs.StringVar(&c.AdminToken, "admin-token", getenv("ADMIN_TOKEN", ""), "admin API token (optional, env ADMIN_TOKEN)")
	fs.StringVar(&c.TLSCert, "tls-cert", getenv("TLS_CERT", ""), "TLS cert path (enables HTTPS if set with --tls-key)")
	fs.StringVar(&c.TLSKey, "tls-key", getenv("TLS_KEY", ""), "TLS key path (enables HTTPS if set with --tls-cert)")
	fs.StringVar(&c.TLSClientCA, "client-ca", getenv("TLS_CLIENT_CA", ""), "require and verify client certs using this CA (optional)")
	fs.StringVar(&c.Store, "store", getenv("STORE", StoreMemory), "store backend: memory|sqlite|mysql|consul (consul requires build tag consul)")
	fs.StringVar(&c.SQLitePath, "sqlite-path", getenv("SQLITE_PATH", "./data/connector.db"), "sqlite database file (when store=sqlite)")
	fs.StringVar(&c.MySQLDSN, "mysql-dsn", getenv("MYSQL_DSN", ""), "mysql DSN; overrides the MYSQL_* parts (when store=mysql)")
	fs.StringVar(&c.ConsulAddr, "consul-addr", getenv("CONSUL_ADDR", "127.0.0.1:8500"), "consul address (when store=consul)")
	fs.StringVar(&c.RedisAddr, "redis-addr", getenv("REDIS_ADDR", ""), "redis address for shared rate limits (optional)")
	fs.DurationVar(&c.MinExpirationWindow, "min-expiration-window", getenvDuration("MIN_EXPIRATION_WINDOW", time.Second), "minimum time left on a forwarded prepare")
	fs.DurationVar(&c.MaxHoldWindow, "max-hold-window", getenvDuration("MAX_HOLD_WINDOW", 30*time.Second), "maximum time we hold an outgoing prepare")
	fs.Float64Var(&c.RequestsPerSecond, "http-rps", getenvFloat("HTTP_RPS", 0), "per client IP request rate on the ILP endpoint; 0 disables")
	fs.IntVar(&c.Burst, "http-burst", getenvInt("HTTP_BURST", 50), "per client IP burst on the ILP endpoint")
	fs.StringVar(&c.LogLevel, "log-level", getenv("LOG_LEVEL", "info"), "debug|info|warn|error")
	fs.StringVar(&c.LogFormat, "log-format", getenv("LOG_FORMAT", "json"), "json|console")
	fs.StringVar(&c.LogFile, "log-file", getenv("LOG_FILE", ""), "also write logs to this rotated file")
	fs.StringVar(&c.SeedFile, "seed", getenv("SEED_FILE", ""), "YAML file of peers and routes loaded into an empty store")
	fs.BoolVar(&c.ShowVersion, "v", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	c.MySQLHost = getenv("MYSQL_HOST", "127.0.0.1")
	c.MySQLPort = getenv("MYSQL_PORT", "3306")
	c.MySQLUser = getenv("MYSQL_USER", "root")
	c.MySQLPass = getenv("MYSQL_PASS", "")
	c.MySQLDB = getenv("MYSQL_DB", "ilp_connector")

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory, StoreSQLite, StoreMySQL, StoreConsul:
	default:
		return fmt.Errorf("%w: unsupported store type %q", ErrInvalid, c.Store)
	}
	if c.Env != "production" && c.Env != "test" {
		return fmt.Errorf("%w: env must be production or test, got %q", ErrInvalid, c.Env)
	}
	if c.MinExpirationWindow <= 0 || c.MaxHoldWindow <= 0 {
		return fmt.Errorf("%w: expiry windows must be positive", ErrInvalid)
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("%w: --tls-cert and --tls-key go together", ErrInvalid)
	}
	if c.RequestsPerSecond < 0 || c.Burst < 0 {
		return fmt.Errorf("%w: negative rate limit", ErrInvalid)
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return def
}

func getenvInt(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return def
}

func loadDotEnv() error {
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load(".env")
	}
	return nil
}

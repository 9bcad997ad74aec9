package db

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Validate checks if the database configuration is valid
func (c *Config) Validate() error {
	switch c.DriverName() {
	case DriverSQLite:
		if c.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
		if c.MaxOpenConns < 0 {
			return fmt.Errorf("max_open_conns cannot be negative")
		}
		return nil
	case DriverMySQL:
	default:
		return fmt.Errorf("unsupported driver %q", c.Driver)
	}

	if c.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("database port must be between 1 and 65535, got %d", c.Port)
	}
	if c.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Username == "" {
		return fmt.Errorf("database username is required")
	}
	if c.MaxOpenConns < 1 {
		return fmt.Errorf("max_open_conns must be at least 1")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("max_idle_conns cannot be greater than max_open_conns")
	}

	// Validate TLS configuration if SSL is enabled
	if c.SSL.Enabled && !c.SSL.SkipVerify {
		if err := c.validateTLSFiles(); err != nil {
			return fmt.Errorf("TLS configuration error: %w", err)
		}
	}

	return nil
}

// DriverName returns the configured driver, defaulting to mysql
func (c *Config) DriverName() string {
	if c.Driver == "" {
		return DriverMySQL
	}
	return strings.ToLower(c.Driver)
}

// validateTLSFiles validates that TLS certificate files exist and are readable
func (c *Config) validateTLSFiles() error {
	// Validate CA file if provided
	if c.SSL.CAFile != "" {
		if _, err := os.Stat(c.SSL.CAFile); err != nil {
			return fmt.Errorf("CA file not accessible: %w", err)
		}
	}

	// Validate client certificate files if provided
	if c.SSL.CertFile != "" || c.SSL.KeyFile != "" {
		// Both cert and key must be provided together
		if c.SSL.CertFile == "" || c.SSL.KeyFile == "" {
			return fmt.Errorf("both CertFile and KeyFile must be provided together")
		}

		if _, err := os.Stat(c.SSL.CertFile); err != nil {
			return fmt.Errorf("client certificate file not accessible: %w", err)
		}

		if _, err := os.Stat(c.SSL.KeyFile); err != nil {
			return fmt.Errorf("client key file not accessible: %w", err)
		}
	}

	return nil
}

// GetDSN returns the MySQL Data Source Name using the official MySQL driver config builder
func (c *Config) GetDSN() string {
	// Use the official MySQL driver config builder for safe DSN construction
	cfg := mysql.Config{
		User:                 c.Username,
		Passwd:               c.Password,
		Net:                  "tcp",
		Addr:                 fmt.Sprintf("%s:%d", c.Host, c.Port),
		DBName:               c.Database,
		Collation:            c.Collation,
		Loc:                  parseLocation(c.TimeZone),
		ParseTime:            true,
		AllowNativePasswords: true,
	}

	// Handle TLS configuration properly
	if c.SSL.Enabled {
		if c.SSL.SkipVerify {
			// Use skip-verify mode (not recommended for production)
			cfg.TLSConfig = "skip-verify"
		} else {
			// Build a TLS config and register it with the MySQL driver under a custom name
			tlsConfig := &tls.Config{
				InsecureSkipVerify: false,
			}

			// If a CA file is provided, load and validate it
			if c.SSL.CAFile != "" {
				caCert, err := os.ReadFile(c.SSL.CAFile)
				if err != nil {
					return fmt.Sprintf("mysql://%s@tcp(%s:%d)/%s?error=failed_to_read_ca_file",
						c.Username, c.Host, c.Port, c.Database)
				}
				pool := x509.NewCertPool()
				if !pool.AppendCertsFromPEM(caCert) {
					return fmt.Sprintf("mysql://%s@tcp(%s:%d)/%s?error=invalid_ca_certificate",
						c.Username, c.Host, c.Port, c.Database)
				}
				tlsConfig.RootCAs = pool
			}

			// If client cert/key provided, load them
			if c.SSL.CertFile != "" && c.SSL.KeyFile != "" {
				cert, err := tls.LoadX509KeyPair(c.SSL.CertFile, c.SSL.KeyFile)
				if err != nil {
					return fmt.Sprintf("mysql://%s@tcp(%s:%d)/%s?error=failed_to_load_client_cert",
						c.Username, c.Host, c.Port, c.Database)
				}
				tlsConfig.Certificates = []tls.Certificate{cert}
			}

			if c.SSL.ServerName != "" {
				tlsConfig.ServerName = c.SSL.ServerName
			}

			// Generate unique TLS config name based on config hash to prevent collisions
			// when multiple Config instances are used
			tlsName := c.generateTLSConfigName()
			// Re-registering an existing name keeps the driver's current config
			_ = mysql.RegisterTLSConfig(tlsName, tlsConfig)
			cfg.TLSConfig = tlsName
		}
	}

	return cfg.FormatDSN()
}

// generateTLSConfigName creates a unique name for TLS config registration
// based on the SSL configuration to prevent collisions between multiple Config instances
func (c *Config) generateTLSConfigName() string {
	// Create a hash of the SSL configuration to ensure uniqueness
	h := sha256.New()
	h.Write([]byte(c.SSL.CAFile))
	h.Write([]byte(c.SSL.CertFile))
	h.Write([]byte(c.SSL.KeyFile))
	h.Write([]byte(c.SSL.ServerName))
	hash := hex.EncodeToString(h.Sum(nil))[:16] // Use first 16 chars of hash
	return fmt.Sprintf("arcore_tls_%s", hash)
}

// parseLocation parses timezone string to *time.Location
func parseLocation(tz string) *time.Location {
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		// Fallback to UTC if timezone parsing fails
		loc, _ = time.LoadLocation("UTC")
	}
	return loc
}

// LoadConfig reads a YAML configuration file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return config, nil
}

// ConfigFromEnv builds a configuration from PREFIX_* environment variables.
// Any dotenv files given are loaded first; variables already set win.
func ConfigFromEnv(prefix string, files ...string) (*Config, error) {
	if len(files) > 0 {
		if err := godotenv.Load(files...); err != nil {
			return nil, fmt.Errorf("failed to load env files: %w", err)
		}
	}

	env := func(name string) string {
		return os.Getenv(prefix + "_" + name)
	}
	envInt := func(name string, fallback int) (int, error) {
		v := env(name)
		if v == "" {
			return fallback, nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s_%s: %w", prefix, name, err)
		}
		return n, nil
	}

	config := &Config{
		Driver:    env("DRIVER"),
		Path:      env("PATH"),
		Host:      env("HOST"),
		Database:  env("DATABASE"),
		Username:  env("USERNAME"),
		Password:  env("PASSWORD"),
		Charset:   env("CHARSET"),
		Collation: env("COLLATION"),
		TimeZone:  env("TIMEZONE"),
	}
	config.Logging.Level = env("LOG_LEVEL")

	var err error
	if config.Port, err = envInt("PORT", 3306); err != nil {
		return nil, err
	}
	if config.MaxOpenConns, err = envInt("MAX_OPEN_CONNS", 25); err != nil {
		return nil, err
	}
	if config.MaxIdleConns, err = envInt("MAX_IDLE_CONNS", 5); err != nil {
		return nil, err
	}
	if v := env("QUERY_TIMEOUT"); v != "" {
		if config.QueryTimeout, err = time.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("%s_QUERY_TIMEOUT: %w", prefix, err)
		}
	}
	return config, nil
}

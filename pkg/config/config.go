/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	DefaultConfigPath     = "./config.yaml"
	DefaultEnvFile        = ".env"
	DefaultListenAddress  = ":8080"
	DefaultSQLitePath     = "./companion.db"
	DefaultSenderAddress  = "noreply@ma12.app"
	DefaultSenderName     = "MA12 Support"
	DefaultMailPort       = 587
	DefaultMailWorkers    = 2
	DefaultMailQueueSize  = 1000
	DefaultMailAttempts   = 3
	DefaultDispatchDelay  = 2 * time.Second
	DefaultDeadline       = time.Hour
	DefaultAttemptTimeout = 30 * time.Second
)

// DefaultBackoff is the wait after attempts 1, 2 and 3; the last entry repeats.
var DefaultBackoff = []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second}

type Server struct {
	ListenAddress   string    `yaml:"listenAddress"`
	TrustedProxies  []string  `yaml:"trustedProxies"` // IPs/CIDRs trusted for X-Forwarded-For
	StatsToken      string    `yaml:"statsToken"`     // bearer token for /support-form/stats; empty disables the check
	ReadTimeout     string    `yaml:"readTimeout"`
	WriteTimeout    string    `yaml:"writeTimeout"`
	ShutdownTimeout string    `yaml:"shutdownTimeout"`
	RateLimit       RateLimit `yaml:"rateLimit"`
}

// RateLimit throttles support-form submissions per client IP.
type RateLimit struct {
	Disabled          bool    `yaml:"disabled"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	Burst             int     `yaml:"burst"`
}

type Database struct {
	Driver      string `yaml:"driver"` // memory, sqlite or postgres
	SQLitePath  string `yaml:"sqlitePath"`
	PostgresDSN string `yaml:"postgresDSN"`
}

type Mail struct {
	// Disabled logs notifications instead of delivering them over SMTP.
	Disabled           bool     `yaml:"disabled"`
	Host               string   `yaml:"host"`
	Port               int      `yaml:"port"`
	User               string   `yaml:"user"`
	Password           string   `yaml:"password"`
	InsecureSkipVerify bool     `yaml:"insecureSkipVerify"`
	SenderAddress      string   `yaml:"senderAddress"`
	SenderName         string   `yaml:"senderName"`
	Workers            int      `yaml:"workers"`
	QueueSize          int      `yaml:"queueSize"`
	MaxAttempts        int      `yaml:"maxAttempts"`
	Backoff            []string `yaml:"backoff"`
	Deadline           string   `yaml:"deadline"`
	AttemptTimeout     string   `yaml:"attemptTimeout"`
	DispatchDelay      string   `yaml:"dispatchDelay"`
}

type Support struct {
	MemberMailbox string `yaml:"memberMailbox"`
	AppMailbox    string `yaml:"appMailbox"`
}

// Archive stores a copy of every rendered notification.
type Archive struct {
	Driver       string `yaml:"driver"` // none, memory, fs or s3
	Dir          string `yaml:"dir"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"usePathStyle"`
}

type Kafka struct {
	Brokers      []string `yaml:"brokers"`
	Topic        string   `yaml:"topic"`
	BatchSize    int      `yaml:"batchSize"`
	BatchTimeout string   `yaml:"batchTimeout"`
	RequiredAcks *int     `yaml:"requiredAcks"` // -1 all, 0 none, 1 leader; unset means all
}

type Audit struct {
	Enabled   bool  `yaml:"enabled"`
	QueueSize int   `yaml:"queueSize"`
	Kafka     Kafka `yaml:"kafka"`
}

type Config struct {
	Server   Server   `yaml:"server"`
	Database Database `yaml:"database"`
	Mail     Mail     `yaml:"mail"`
	Support  Support  `yaml:"support"`
	Archive  Archive  `yaml:"archive"`
	Audit    Audit    `yaml:"audit"`
}

// Load reads the YAML file at path (a missing default file is not an error), loads .env
// into the process environment, applies environment overrides and finally defaults.
func Load(path string) (Config, error) {
	var cfg Config

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}
	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return cfg, fmt.Errorf("error unmarshaling YAML %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("trying to open config file %s: %w", path, err)
	}

	if err := LoadDotEnv(DefaultEnvFile); err != nil {
		return cfg, err
	}
	cfg.ApplyEnv()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadDotEnv loads file when it exists. Variables already set in the environment win.
func LoadDotEnv(file string) error {
	if _, err := os.Stat(file); err != nil {
		return nil
	}
	if err := godotenv.Load(file); err != nil {
		return fmt.Errorf("loading %s: %w", file, err)
	}
	return nil
}

// ApplyEnv overlays environment variables on top of file values.
func (c *Config) ApplyEnv() {
	setString(&c.Server.ListenAddress, "LISTEN_ADDRESS")
	setString(&c.Server.StatsToken, "STATS_TOKEN")

	setString(&c.Database.Driver, "DB_DRIVER")
	setString(&c.Database.SQLitePath, "SQLITE_PATH")
	setString(&c.Database.PostgresDSN, "DATABASE_URL")

	setString(&c.Mail.Host, "MAIL_HOST")
	setInt(&c.Mail.Port, "MAIL_PORT")
	setString(&c.Mail.User, "MAIL_USERNAME")
	setString(&c.Mail.Password, "MAIL_PASSWORD")
	setString(&c.Mail.SenderAddress, "MAIL_FROM_ADDRESS")
	setString(&c.Mail.SenderName, "MAIL_FROM_NAME")
	setBool(&c.Mail.Disabled, "MAIL_DISABLED")

	setString(&c.Support.MemberMailbox, "MEMBER_SUPPORT_EMAIL")
	setString(&c.Support.AppMailbox, "APP_SUPPORT_EMAIL")

	setString(&c.Archive.Driver, "ARCHIVE_DRIVER")
	setString(&c.Archive.Dir, "ARCHIVE_DIR")
	setString(&c.Archive.Bucket, "ARCHIVE_S3_BUCKET")
	setString(&c.Archive.Region, "AWS_REGION")
	setString(&c.Archive.Endpoint, "ARCHIVE_S3_ENDPOINT")

	if v := os.Getenv("AUDIT_KAFKA_BROKERS"); v != "" {
		c.Audit.Kafka.Brokers = splitList(v)
	}
	setString(&c.Audit.Kafka.Topic, "AUDIT_KAFKA_TOPIC")
	setBool(&c.Audit.Enabled, "AUDIT_ENABLED")
}

func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = DefaultListenAddress
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "15s"
	}
	if c.Server.RateLimit.RequestsPerSecond <= 0 {
		c.Server.RateLimit.RequestsPerSecond = 0.2
	}
	if c.Server.RateLimit.Burst <= 0 {
		c.Server.RateLimit.Burst = 5
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = DefaultSQLitePath
	}

	if c.Mail.Port == 0 {
		c.Mail.Port = DefaultMailPort
	}
	if c.Mail.SenderAddress == "" {
		c.Mail.SenderAddress = DefaultSenderAddress
	}
	if c.Mail.SenderName == "" {
		c.Mail.SenderName = DefaultSenderName
	}
	if c.Mail.Workers <= 0 {
		c.Mail.Workers = DefaultMailWorkers
	}
	if c.Mail.QueueSize <= 0 {
		c.Mail.QueueSize = DefaultMailQueueSize
	}
	if c.Mail.MaxAttempts <= 0 {
		c.Mail.MaxAttempts = DefaultMailAttempts
	}

	if c.Archive.Driver == "" {
		c.Archive.Driver = "none"
	}
	if c.Archive.Prefix == "" {
		c.Archive.Prefix = "notifications"
	}

	if c.Audit.QueueSize <= 0 {
		c.Audit.QueueSize = 1000
	}
	if c.Audit.Kafka.Topic == "" {
		c.Audit.Kafka.Topic = "companion-audit"
	}
}

// Validate rejects values that would only fail later at use time.
func (c Config) Validate() error {
	var errs []error
	for name, v := range map[string]string{
		"server.readTimeout":       c.Server.ReadTimeout,
		"server.writeTimeout":      c.Server.WriteTimeout,
		"server.shutdownTimeout":   c.Server.ShutdownTimeout,
		"mail.deadline":            c.Mail.Deadline,
		"mail.attemptTimeout":      c.Mail.AttemptTimeout,
		"mail.dispatchDelay":       c.Mail.DispatchDelay,
		"audit.kafka.batchTimeout": c.Audit.Kafka.BatchTimeout,
	} {
		if _, err := ParseDuration(v, 0); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if _, err := c.Mail.BackoffDurations(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Archive.Driver) {
	case "none", "memory":
	case "fs":
		if c.Archive.Dir == "" {
			errs = append(errs, errors.New("archive.dir is required for the fs archive"))
		}
	case "s3":
		if c.Archive.Bucket == "" {
			errs = append(errs, errors.New("archive.bucket is required for the s3 archive"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown archive driver %q", c.Archive.Driver))
	}
	if acks := c.Audit.Kafka.RequiredAcks; acks != nil && (*acks < -1 || *acks > 1) {
		errs = append(errs, fmt.Errorf("audit.kafka.requiredAcks must be -1, 0 or 1, got %d", *acks))
	}
	if c.Audit.Enabled && len(c.Audit.Kafka.Brokers) > 0 && c.Audit.Kafka.Topic == "" {
		errs = append(errs, errors.New("audit.kafka.topic is required when brokers are set"))
	}
	return errors.Join(errs...)
}

// BackoffDurations parses Mail.Backoff, falling back to DefaultBackoff when unset.
func (m Mail) BackoffDurations() ([]time.Duration, error) {
	if len(m.Backoff) == 0 {
		return append([]time.Duration(nil), DefaultBackoff...), nil
	}
	out := make([]time.Duration, 0, len(m.Backoff))
	for i, s := range m.Backoff {
		d, err := time.ParseDuration(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("mail.backoff[%d]: %w", i, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// ParseDuration parses s, returning def for an empty string.
func ParseDuration(s string, def time.Duration) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}

// MustDuration is ParseDuration for values that already passed Validate.
func MustDuration(s string, def time.Duration) time.Duration {
	d, err := ParseDuration(s, def)
	if err != nil {
		return def
	}
	return d
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

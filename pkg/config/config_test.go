package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

// chdir changes the working directory for the duration of the test
// (stand-in for testing.T.Chdir, which requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func TestLoad_FileValuesAndDefaults(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := writeFile(t, dir, "config.yaml", `
server:
  listenAddress: ":9090"
  statsToken: "s3cret"
database:
  driver: memory
mail:
  host: smtp.example.com
  backoff: ["1s", "2s"]
  deadline: "10m"
support:
  memberMailbox: members@example.com
  appMailbox: app@example.com
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.ListenAddress)
	assert.Equal(t, "s3cret", cfg.Server.StatsToken)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, "smtp.example.com", cfg.Mail.Host)
	assert.Equal(t, DefaultMailPort, cfg.Mail.Port)
	assert.Equal(t, DefaultMailWorkers, cfg.Mail.Workers)
	assert.Equal(t, DefaultMailAttempts, cfg.Mail.MaxAttempts)
	assert.Equal(t, DefaultSenderAddress, cfg.Mail.SenderAddress)
	assert.Equal(t, "members@example.com", cfg.Support.MemberMailbox)
	assert.Equal(t, "app@example.com", cfg.Support.AppMailbox)
	assert.Equal(t, "none", cfg.Archive.Driver)

	backoff, err := cfg.Mail.BackoffDurations()
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, backoff)
	assert.Equal(t, 10*time.Minute, MustDuration(cfg.Mail.Deadline, DefaultDeadline))
}

func TestLoad_MissingDefaultFileIsFine(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultListenAddress, cfg.Server.ListenAddress)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, DefaultSQLitePath, cfg.Database.SQLitePath)
}

func TestLoad_MissingExplicitFileFails(t *testing.T) {
	chdir(t, t.TempDir())

	_, err := Load("does-not-exist.yaml")
	require.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := writeFile(t, dir, "config.yaml", `
support:
  memberMailbox: file@example.com
`)
	t.Setenv("MEMBER_SUPPORT_EMAIL", "env-member@example.com")
	t.Setenv("APP_SUPPORT_EMAIL", "env-app@example.com")
	t.Setenv("MAIL_PORT", "2525")
	t.Setenv("AUDIT_KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-member@example.com", cfg.Support.MemberMailbox)
	assert.Equal(t, "env-app@example.com", cfg.Support.AppMailbox)
	assert.Equal(t, 2525, cfg.Mail.Port)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Audit.Kafka.Brokers)
}

func TestLoad_KafkaRequiredAcks(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	path := writeFile(t, dir, "config.yaml", `
audit:
  kafka:
    requiredAcks: 0
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.Audit.Kafka.RequiredAcks, "an explicit 0 must survive loading")
	assert.Equal(t, 0, *cfg.Audit.Kafka.RequiredAcks)

	path = writeFile(t, dir, "unset.yaml", "audit:\n  enabled: false\n")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Nil(t, cfg.Audit.Kafka.RequiredAcks)
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	writeFile(t, dir, ".env", "APP_SUPPORT_EMAIL=dotenv-app@example.com\nSTATS_TOKEN=from-dotenv\n")
	// godotenv writes into the process environment; restore it after the test
	t.Setenv("APP_SUPPORT_EMAIL", "")
	t.Setenv("STATS_TOKEN", "")
	require.NoError(t, os.Unsetenv("APP_SUPPORT_EMAIL"))
	require.NoError(t, os.Unsetenv("STATS_TOKEN"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "dotenv-app@example.com", cfg.Support.AppMailbox)
	assert.Equal(t, "from-dotenv", cfg.Server.StatsToken)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{
			name:    "bad duration",
			mutate:  func(c *Config) { c.Mail.AttemptTimeout = "thirty" },
			wantErr: "mail.attemptTimeout",
		},
		{
			name:    "bad backoff entry",
			mutate:  func(c *Config) { c.Mail.Backoff = []string{"1s", "x"} },
			wantErr: "mail.backoff[1]",
		},
		{
			name:    "fs archive needs dir",
			mutate:  func(c *Config) { c.Archive.Driver = "fs" },
			wantErr: "archive.dir",
		},
		{
			name:    "s3 archive needs bucket",
			mutate:  func(c *Config) { c.Archive.Driver = "s3" },
			wantErr: "archive.bucket",
		},
		{
			name:    "unknown archive driver",
			mutate:  func(c *Config) { c.Archive.Driver = "ftp" },
			wantErr: "unknown archive driver",
		},
		{
			name: "kafka acks none is valid",
			mutate: func(c *Config) {
				zero := 0
				c.Audit.Kafka.RequiredAcks = &zero
			},
		},
		{
			name: "kafka acks out of range",
			mutate: func(c *Config) {
				two := 2
				c.Audit.Kafka.RequiredAcks = &two
			},
			wantErr: "audit.kafka.requiredAcks",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			cfg.ApplyDefaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBackoffDurations_Default(t *testing.T) {
	got, err := Mail{}.BackoffDurations()
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second}, got)

	got[0] = time.Nanosecond
	assert.Equal(t, 30*time.Second, DefaultBackoff[0], "callers must not alias the default slice")
}

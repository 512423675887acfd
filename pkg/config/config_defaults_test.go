package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfigSecureDefaults(t *testing.T) {
	var cfg Config
	// Zero value config should be secure: insecure skip flags must be false
	assert.False(t, cfg.Mail.InsecureSkipVerify, "mail.InsecureSkipVerify should be false by default")

	cfg.ApplyDefaults()
	assert.False(t, cfg.Server.RateLimit.Disabled, "submission rate limiting should be on by default")
	assert.False(t, cfg.Audit.Enabled, "audit trail is opt-in")
	assert.Equal(t, "none", cfg.Archive.Driver)
	assert.Equal(t, DefaultMailPort, cfg.Mail.Port)
	assert.Equal(t, DefaultListenAddress, cfg.Server.ListenAddress)
	assert.NoError(t, cfg.Validate())
}

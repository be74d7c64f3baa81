package config

import (
	"testing"
	"time"

	"github.com/partyhub/mention-lifecycle/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_DSN", "file::memory:")
	t.Setenv("META_APP_SECRET", "secret")
	t.Setenv("META_VERIFY_TOKEN", "verify")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, []time.Duration{4 * time.Hour, 8 * time.Hour, 12 * time.Hour, 16 * time.Hour, 20 * time.Hour, 23 * time.Hour}, cfg.VerificationOffsets)
	assert.Equal(t, 30*time.Minute, cfg.VerificationWindow)
	assert.Equal(t, 6, cfg.MaxVerificationChecks)
	assert.Equal(t, 24*time.Hour, cfg.StoryLifetime)
	assert.Equal(t, 4*time.Hour, cfg.PartySelectionTimeout)
	assert.Equal(t, models.PriorityMedium, cfg.NotifyMinPriority)
	assert.Equal(t, "mentions", cfg.StorageContainer)
}

func TestLoad_CustomOffsets(t *testing.T) {
	setRequired(t)
	t.Setenv("VERIFICATION_OFFSETS_MINUTES", "60, 120")
	t.Setenv("MAX_VERIFICATION_CHECKS", "2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Hour, 2 * time.Hour}, cfg.VerificationOffsets)
	assert.Equal(t, 2, cfg.MaxVerificationChecks)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing app secret", map[string]string{"META_APP_SECRET": ""}},
		{"unknown driver", map[string]string{"DB_DRIVER": "postgres"}},
		{"offsets not increasing", map[string]string{"VERIFICATION_OFFSETS_MINUTES": "240,120"}},
		{"offsets not numbers", map[string]string{"VERIFICATION_OFFSETS_MINUTES": "four"}},
		{"budget above offsets", map[string]string{"MAX_VERIFICATION_CHECKS": "7"}},
		{"unknown priority", map[string]string{"NOTIFY_MIN_PRIORITY": "urgent"}},
		{"email without smtp", map[string]string{"NOTIFICATION_EMAIL": "ops@example.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.Equal(t, 5*time.Second, cfg.PresenceGrace)
	assert.Equal(t, DefaultMilestones(), cfg.ReminderMilestones)
	assert.Zero(t, cfg.ReminderInterval)
	assert.True(t, cfg.ProcessViaQueue)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("PRESENCE_GRACE", "250ms")
	t.Setenv("ALLOWED_ORIGINS", "https://app.example.com, https://admin.example.com,")
	t.Setenv("REMINDER_MILESTONES", "24h-before=24h,15m-before=15m")
	t.Setenv("WS_MAX_MESSAGE_SIZE", "not-a-number")
	t.Setenv("PROCESS_VIA_QUEUE", "false")

	cfg := Load()

	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, 250*time.Millisecond, cfg.PresenceGrace)
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, []Milestone{
		{Name: "24h-before", Before: 24 * time.Hour},
		{Name: "15m-before", Before: 15 * time.Minute},
	}, cfg.ReminderMilestones)
	assert.Equal(t, int64(16*1024), cfg.WSMaxMessageSize)
	assert.False(t, cfg.ProcessViaQueue)
}

func TestParseMilestonesSkipsInvalid(t *testing.T) {
	got := ParseMilestones("bad, x=-1h, a=1h, a=2h, =3h, b=oops", nil)
	assert.Equal(t, []Milestone{{Name: "a", Before: time.Hour}}, got)

	fallback := DefaultMilestones()
	assert.Equal(t, fallback, ParseMilestones("nothing-valid", fallback))
}

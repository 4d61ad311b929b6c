package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/cardwise/internal/progress"
	"github.com/conorfennell/cardwise/internal/scheduler"
)

const testSecret = "0123456789abcdef0123"

func load(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	Flags(fs)
	require.NoError(t, fs.Parse(args))
	return Load(fs)
}

func TestDefaults(t *testing.T) {
	t.Setenv("CARDWISE_AUTH__SECRET", testSecret)
	cfg, err := load(t)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "notes", cfg.Sync.NotesDir)
	assert.Equal(t, scheduler.DefaultParams(), cfg.SchedulerParams())
	assert.Equal(t, progress.DefaultLadder(), cfg.Ladder())
	assert.Equal(t, progress.DefaultPointTable(), cfg.PointTable())
}

func TestLayering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cardwise.yaml")
	yml := `
http:
  addr: ":9000"
auth:
  secret: from-file-secret-value
  token-ttl: 1h
scheduler:
  max-interval: 365
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
	t.Setenv("CARDWISE_HTTP__ADDR", ":9100")
	t.Setenv("CARDWISE_PROGRESS__POINTS_EASY", "20")
	t.Setenv("CARDWISE_SYNC__NOTES_DIR", "/srv/notes")

	cfg, err := load(t, "--config", path, "--log.level", "warn")
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.HTTP.Addr, "env overrides file")
	assert.Equal(t, "warn", cfg.Log.Level, "flag overrides file")
	assert.Equal(t, "from-file-secret-value", cfg.Auth.Secret)
	assert.Equal(t, time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 365, cfg.Scheduler.MaxInterval)
	assert.Equal(t, int64(20), cfg.PointTable()[scheduler.Easy])
	assert.Equal(t, "/srv/notes", cfg.Sync.NotesDir)
	assert.Equal(t, 2.5, cfg.Scheduler.InitialEase, "unset keys keep defaults")
}

func TestValidation(t *testing.T) {
	testCases := []struct {
		name string
		args []string
	}{
		{"missing secret", nil},
		{"short secret", []string{"--auth.secret", "short"}},
		{"bad log level", []string{"--auth.secret", testSecret, "--log.level", "loud"}},
		{"ease below floor", []string{"--auth.secret", testSecret, "--scheduler.initial-ease", "1.0"}},
		{"zero level base", []string{"--auth.secret", testSecret, "--progress.level-base", "0"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load(t, tc.args...)
			assert.Error(t, err)
		})
	}
}

func TestMissingConfigFile(t *testing.T) {
	_, err := load(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "--auth.secret", testSecret)
	assert.Error(t, err)
}

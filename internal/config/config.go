package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/conorfennell/cardwise/internal/progress"
	"github.com/conorfennell/cardwise/internal/scheduler"
)

// EnvPrefix prefixes environment overrides. A double underscore separates
// nesting levels and a single one stands for a dash:
// CARDWISE_AUTH__TOKEN_TTL sets auth.token-ttl.
const EnvPrefix = "CARDWISE_"

type Config struct {
	DB        string          `koanf:"db" validate:"required"`
	HTTP      HTTPConfig      `koanf:"http"`
	Auth      AuthConfig      `koanf:"auth"`
	Log       LogConfig       `koanf:"log"`
	Sync      SyncConfig      `koanf:"sync"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Progress  ProgressConfig  `koanf:"progress"`
}

type HTTPConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ShutdownTimeout time.Duration `koanf:"shutdown-timeout" validate:"gt=0"`
}

type AuthConfig struct {
	Secret   string        `koanf:"secret" validate:"required,min=16"`
	Issuer   string        `koanf:"issuer" validate:"required"`
	TokenTTL time.Duration `koanf:"token-ttl" validate:"gt=0"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

type SyncConfig struct {
	NotesDir string `koanf:"notes-dir" validate:"required"`
	ReposDir string `koanf:"repos-dir" validate:"required"`
	GitToken string `koanf:"git-token"`
}

type SchedulerConfig struct {
	InitialEase    float64 `koanf:"initial-ease" validate:"gtefield=EaseFloor"`
	EaseFloor      float64 `koanf:"ease-floor" validate:"gt=0"`
	FailInterval   int     `koanf:"fail-interval" validate:"gte=1"`
	FailPenalty    float64 `koanf:"fail-penalty" validate:"gte=0"`
	FirstInterval  int     `koanf:"first-interval" validate:"gte=1"`
	SecondInterval int     `koanf:"second-interval" validate:"gte=1"`
	MaxInterval    int     `koanf:"max-interval" validate:"gtefield=SecondInterval"`
	HardAdjust     float64 `koanf:"hard-adjust"`
	GoodAdjust     float64 `koanf:"good-adjust"`
	EasyAdjust     float64 `koanf:"easy-adjust"`
}

type ProgressConfig struct {
	LevelBase   int64 `koanf:"level-base" validate:"gt=0"`
	PointsAgain int64 `koanf:"points-again" validate:"gte=0"`
	PointsHard  int64 `koanf:"points-hard" validate:"gte=0"`
	PointsGood  int64 `koanf:"points-good" validate:"gte=0"`
	PointsEasy  int64 `koanf:"points-easy" validate:"gte=0"`
}

// Flags registers every setting on fs with its default value. The same
// flag set is the lowest-priority layer in Load.
func Flags(fs *pflag.FlagSet) {
	sp := scheduler.DefaultParams()
	pt := progress.DefaultPointTable()

	fs.String("config", "", "path to a YAML config file")
	fs.String("db", "cardwise.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", "SQLite DSN")

	fs.String("http.addr", ":8080", "HTTP listen address")
	fs.Duration("http.shutdown-timeout", 10*time.Second, "graceful shutdown timeout")

	fs.String("auth.secret", "", "HMAC secret for bearer tokens")
	fs.String("auth.issuer", "cardwise", "expected token issuer")
	fs.Duration("auth.token-ttl", 24*time.Hour, "lifetime of issued tokens")

	fs.String("log.level", "info", "log level (trace, debug, info, warn, error)")
	fs.String("log.format", "json", "log format (json, console)")

	fs.String("sync.notes-dir", "notes", "directory holding each user's local note sources, one subdirectory per user id")
	fs.String("sync.repos-dir", "repos", "directory git sources are checked out to")
	fs.String("sync.git-token", "", "token for private git sources")

	fs.Float64("scheduler.initial-ease", sp.InitialEase, "ease factor of a new card")
	fs.Float64("scheduler.ease-floor", sp.EaseFloor, "lowest allowed ease factor")
	fs.Int("scheduler.fail-interval", sp.FailInterval, "days until review after a failed recall")
	fs.Float64("scheduler.fail-penalty", sp.FailPenalty, "ease lost on a failed recall")
	fs.Int("scheduler.first-interval", sp.FirstInterval, "days after the first success")
	fs.Int("scheduler.second-interval", sp.SecondInterval, "days after the second success")
	fs.Int("scheduler.max-interval", sp.MaxInterval, "longest interval in days")
	fs.Float64("scheduler.hard-adjust", sp.HardAdjust, "ease change for hard")
	fs.Float64("scheduler.good-adjust", sp.GoodAdjust, "ease change for good")
	fs.Float64("scheduler.easy-adjust", sp.EasyAdjust, "ease change for easy")

	fs.Int64("progress.level-base", progress.DefaultLevelBase, "points needed for level 2")
	fs.Int64("progress.points-again", pt[scheduler.Again], "points for again")
	fs.Int64("progress.points-hard", pt[scheduler.Hard], "points for hard")
	fs.Int64("progress.points-good", pt[scheduler.Good], "points for good")
	fs.Int64("progress.points-easy", pt[scheduler.Easy], "points for easy")
}

// Load layers flag defaults, the YAML file named by --config, CARDWISE_*
// environment variables and explicitly set flags, in increasing priority,
// and validates the result. fs must have been parsed.
func Load(fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path, _ := fs.GetString("config"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(strings.ReplaceAll(key, "__", "."), "_", "-")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	// Unchanged flags only fill keys no other layer set.
	if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// SchedulerParams converts the scheduler section.
func (c *Config) SchedulerParams() scheduler.Params {
	s := c.Scheduler
	return scheduler.Params{
		InitialEase:    s.InitialEase,
		EaseFloor:      s.EaseFloor,
		FailInterval:   s.FailInterval,
		FailPenalty:    s.FailPenalty,
		FirstInterval:  s.FirstInterval,
		SecondInterval: s.SecondInterval,
		MaxInterval:    s.MaxInterval,
		HardAdjust:     s.HardAdjust,
		GoodAdjust:     s.GoodAdjust,
		EasyAdjust:     s.EasyAdjust,
	}
}

// Ladder returns the level ladder.
func (c *Config) Ladder() progress.Ladder {
	return progress.Ladder{Base: c.Progress.LevelBase}
}

// PointTable returns the points awarded per outcome.
func (c *Config) PointTable() progress.PointTable {
	p := c.Progress
	return progress.PointTable{
		scheduler.Again: p.PointsAgain,
		scheduler.Hard:  p.PointsHard,
		scheduler.Good:  p.PointsGood,
		scheduler.Easy:  p.PointsEasy,
	}
}

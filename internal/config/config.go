// Package config loads voxledger.json, layers .env and environment
// overrides on top and validates the result.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"

	"dario.cat/mergo"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/roelfdiedericks/voxledger/internal/audio"
	"github.com/roelfdiedericks/voxledger/internal/classify"
	"github.com/roelfdiedericks/voxledger/internal/cron"
	apihttp "github.com/roelfdiedericks/voxledger/internal/http"
	"github.com/roelfdiedericks/voxledger/internal/ledger"
	. "github.com/roelfdiedericks/voxledger/internal/logging"
	"github.com/roelfdiedericks/voxledger/internal/paths"
	"github.com/roelfdiedericks/voxledger/internal/session"
	"github.com/roelfdiedericks/voxledger/internal/stt"
	"github.com/roelfdiedericks/voxledger/internal/telegram"
	"github.com/roelfdiedericks/voxledger/internal/transcribe"
)

// Config represents the merged voxledger configuration
type Config struct {
	Logging    LoggingConfig             `json:"logging"`
	Telegram   telegram.Config           `json:"telegram"`
	Audio      audio.Config              `json:"audio"`
	Session    session.Config            `json:"session"`
	Transcribe transcribe.Config         `json:"transcribe"`
	STT        stt.Config                `json:"stt"`
	Pricing    map[string]ledger.Pricing `json:"pricing" validate:"dive"`
	Storage    StorageConfig             `json:"storage"`
	Classifier classify.Config           `json:"classifier"`
	Cron       cron.Config               `json:"cron"`
	HTTP       apihttp.Config            `json:"http"`
}

// LoggingConfig selects the log level.
type LoggingConfig struct {
	Level      string `json:"level" validate:"omitempty,oneof=trace debug info warn error"`
	ShowCaller bool   `json:"showCaller"`
}

// StorageConfig locates the SQLite databases. Relative paths live under
// ~/.voxledger.
type StorageConfig struct {
	LedgerPath   string `json:"ledgerPath" validate:"required"`
	EntitiesPath string `json:"entitiesPath" validate:"required"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Logging:    LoggingConfig{Level: "info"},
		Telegram:   telegram.DefaultConfig(),
		Audio:      audio.DefaultConfig(),
		Session:    session.DefaultConfig(),
		Transcribe: transcribe.DefaultConfig(),
		STT:        stt.DefaultConfig(),
		Pricing:    ledger.DefaultPricing(),
		Storage: StorageConfig{
			LedgerPath:   "ledger.db",
			EntitiesPath: "entities.db",
		},
		Classifier: classify.DefaultConfig(),
		Cron:       cron.DefaultConfig(),
		HTTP:       apihttp.DefaultConfig(),
	}
}

// Load reads the config file at path over the defaults. An empty path
// searches ./voxledger.json then ~/.voxledger/voxledger.json; when neither
// exists the defaults are used. It returns the file actually read ("" if none).
func Load(path string) (*Config, string, error) {
	loadDotEnv()

	if path == "" {
		found, err := paths.ConfigPath()
		if err != nil {
			return nil, "", err
		}
		path = found
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read config: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, "", fmt.Errorf("failed to parse %s: %w", path, err)
		}
		L_debug("config: loaded", "path", path)
	} else {
		L_debug("config: no config file found, using defaults")
	}

	if err := mergo.Merge(cfg, envOverrides(), mergo.WithOverride); err != nil {
		return nil, "", fmt.Errorf("failed to apply environment: %w", err)
	}
	if err := cfg.resolvePaths(); err != nil {
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// loadDotEnv loads ./.env and ~/.voxledger/.env. Existing variables win.
func loadDotEnv() {
	candidates := []string{".env"}
	if p, err := paths.DataPath(".env"); err == nil {
		candidates = append(candidates, p)
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			L_warn("config: failed to load .env", "path", p, "error", err)
			continue
		}
		L_debug("config: loaded .env", "path", p)
	}
}

// envOverrides builds a sparse Config from the environment. Only non-empty
// values are merged.
func envOverrides() *Config {
	o := &Config{}
	o.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	o.STT.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	o.STT.Groq.APIKey = os.Getenv("GROQ_API_KEY")
	o.STT.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	o.STT.Google.APIKey = os.Getenv("GOOGLE_STT_API_KEY")
	o.Classifier.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	o.Logging.Level = os.Getenv("VOXLEDGER_LOG_LEVEL")
	o.Audio.FFmpegPath = os.Getenv("FFMPEG_PATH")
	o.HTTP.Password = os.Getenv("VOXLEDGER_HTTP_PASSWORD")
	return o
}

func (c *Config) resolvePaths() error {
	for _, p := range []*string{&c.Storage.LedgerPath, &c.Storage.EntitiesPath, &c.Audio.WorkDir, &c.Cron.HistoryDir} {
		if *p == "" {
			continue
		}
		resolved, err := paths.Resolve(*p)
		if err != nil {
			return fmt.Errorf("failed to resolve path %q: %w", *p, err)
		}
		*p = resolved
	}
	if c.Audio.WorkDir == "" {
		dir, err := paths.DefaultWorkDir()
		if err != nil {
			return err
		}
		c.Audio.WorkDir = dir
	}
	if c.Cron.HistoryDir == "" {
		dir, err := paths.DataPath("cron")
		if err != nil {
			return err
		}
		c.Cron.HistoryDir = dir
	}
	return nil
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// Validate checks the struct tags and returns one readable error listing
// every bad field.
func (c *Config) Validate() error {
	err := getValidator().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: validation failed: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		field := strings.TrimPrefix(e.Namespace(), "Config.")
		msgs = append(msgs, field+": "+describe(e))
	}
	return fmt.Errorf("config: invalid: %s", strings.Join(msgs, "; "))
}

func describe(e validator.FieldError) string {
	switch e.Tag() {
	case "required", "required_if":
		return "is required"
	case "oneof":
		return "must be one of " + e.Param()
	case "gt":
		return "must be greater than " + e.Param()
	case "gte":
		return "must be at least " + e.Param()
	case "lte":
		return "must be at most " + e.Param()
	default:
		return "failed " + e.Tag()
	}
}

// LogConfigFor builds the logging settings from the config, with --debug
// taking precedence.
func (c *Config) LogConfigFor(debug bool) *LogConfig {
	lc := DefaultLogConfig()
	lc.Level = ParseLevel(c.Logging.Level)
	if debug {
		lc.Level = LevelDebug
	}
	lc.ShowCaller = c.Logging.ShowCaller
	return lc
}

// WriteDefault writes a starter config to path, backing up any existing file.
func WriteDefault(path string) error {
	return BackupAndWriteJSON(path, Default(), DefaultBackupCount)
}

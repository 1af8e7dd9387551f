// Package config loads layered application configuration: built-in defaults,
// an optional YAML file, then GRADEWATCH_* environment variables.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar names the environment variable holding the YAML file path.
const ConfigPathEnvVar = "GRADEWATCH_CONFIG"

// Config holds the application configuration.
type Config struct {
	DBPath          string        `koanf:"db_path" validate:"required"`
	ListenAddr      string        `koanf:"listen_addr" validate:"required"`
	SecretKey       string        `koanf:"secret_key" validate:"required,hexadecimal,len=64"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"min=1s"`

	Telegram     TelegramConfig     `koanf:"telegram"`
	Poll         PollConfig         `koanf:"poll"`
	Portal       PortalConfig       `koanf:"portal"`
	Registration RegistrationConfig `koanf:"registration"`
	Logging      LoggingConfig      `koanf:"logging"`
}

// TelegramConfig configures the bot connection.
type TelegramConfig struct {
	Token       string `koanf:"token" validate:"required"`
	APIEndpoint string `koanf:"api_endpoint" validate:"required"`
}

// PollConfig configures the grade polling scheduler.
type PollConfig struct {
	Interval         time.Duration `koanf:"interval" validate:"min=1s"`
	Warmup           time.Duration `koanf:"warmup" validate:"min=0s"`
	MaxConcurrency   int           `koanf:"max_concurrency" validate:"min=1,max=256"`
	NotifyOnBaseline bool          `koanf:"notify_on_baseline"`
}

// PortalConfig configures the university portal client.
type PortalConfig struct {
	Endpoint          string        `koanf:"endpoint" validate:"required,url"`
	LoginEndpoint     string        `koanf:"login_endpoint" validate:"required,url"`
	Terms             []string      `koanf:"terms" validate:"min=1,dive,required"`
	Timeout           time.Duration `koanf:"timeout" validate:"min=1s"`
	MaxRetries        int           `koanf:"max_retries" validate:"min=0,max=10"`
	RequestsPerSecond float64       `koanf:"requests_per_second" validate:"gte=0"`
	UserAgent         string        `koanf:"user_agent"`
}

// RegistrationConfig configures credential checks and attempt limiting.
type RegistrationConfig struct {
	UsernameMinLetters int           `koanf:"username_min_letters" validate:"min=1"`
	UsernameMinDigits  int           `koanf:"username_min_digits" validate:"min=1"`
	PasswordMinLength  int           `koanf:"password_min_length" validate:"min=1"`
	PasswordMaxLength  int           `koanf:"password_max_length" validate:"gtefield=PasswordMinLength"`
	UnsafeCharacters   string        `koanf:"unsafe_characters"`
	MaxAttempts        int           `koanf:"max_attempts" validate:"min=1"`
	AttemptWindow      time.Duration `koanf:"attempt_window" validate:"min=1s"`
	Cooldown           time.Duration `koanf:"cooldown" validate:"min=0s"`
	FailureWeight      int           `koanf:"failure_weight" validate:"min=1"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json text"`
}

// SecretKeyBytes decodes the hex secret key into the 32-byte AES key.
func (c *Config) SecretKeyBytes() ([]byte, error) {
	key, err := hex.DecodeString(c.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", envName("secret_key"), err)
	}
	return key, nil
}

func defaultConfig() *Config {
	return &Config{
		DBPath:          "gradewatch.db",
		ListenAddr:      "127.0.0.1:8080",
		ShutdownTimeout: 60 * time.Second,
		Telegram: TelegramConfig{
			APIEndpoint: "https://api.telegram.org/bot%s/%s",
		},
		Poll: PollConfig{
			Interval:         5 * time.Minute,
			Warmup:           30 * time.Second,
			MaxConcurrency:   10,
			NotifyOnBaseline: true,
		},
		Portal: PortalConfig{
			Endpoint:          "https://sis.shamuniversity.com/graphql",
			LoginEndpoint:     "https://sis.shamuniversity.com/portal",
			Terms:             []string{"10459"},
			Timeout:           30 * time.Second,
			MaxRetries:        3,
			RequestsPerSecond: 5,
			UserAgent:         "gradewatch/1.0",
		},
		Registration: RegistrationConfig{
			UsernameMinLetters: 3,
			UsernameMinDigits:  4,
			PasswordMinLength:  6,
			PasswordMaxLength:  128,
			UnsafeCharacters:   "<>;'\"`",
			MaxAttempts:        5,
			AttemptWindow:      5 * time.Minute,
			Cooldown:           15 * time.Minute,
			FailureWeight:      3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads and validates the full configuration.
func Load() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDatabase reads the configuration but only validates what the
// migrate command needs.
func LoadDatabase() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg, "DBPath", "Logging.Level", "Logging.Format"); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("GRADEWATCH_", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// envKeys maps environment variables to config paths.
var envKeys = map[string]string{
	"GRADEWATCH_DB_PATH":                           "db_path",
	"GRADEWATCH_LISTEN_ADDR":                       "listen_addr",
	"GRADEWATCH_SECRET_KEY":                        "secret_key",
	"GRADEWATCH_SHUTDOWN_TIMEOUT":                  "shutdown_timeout",
	"GRADEWATCH_TELEGRAM_TOKEN":                    "telegram.token",
	"GRADEWATCH_TELEGRAM_API_ENDPOINT":             "telegram.api_endpoint",
	"GRADEWATCH_POLL_INTERVAL":                     "poll.interval",
	"GRADEWATCH_POLL_WARMUP":                       "poll.warmup",
	"GRADEWATCH_POLL_MAX_CONCURRENCY":              "poll.max_concurrency",
	"GRADEWATCH_POLL_NOTIFY_ON_BASELINE":           "poll.notify_on_baseline",
	"GRADEWATCH_PORTAL_ENDPOINT":                   "portal.endpoint",
	"GRADEWATCH_PORTAL_LOGIN_ENDPOINT":             "portal.login_endpoint",
	"GRADEWATCH_PORTAL_TERMS":                      "portal.terms",
	"GRADEWATCH_PORTAL_TIMEOUT":                    "portal.timeout",
	"GRADEWATCH_PORTAL_MAX_RETRIES":                "portal.max_retries",
	"GRADEWATCH_PORTAL_REQUESTS_PER_SECOND":        "portal.requests_per_second",
	"GRADEWATCH_PORTAL_USER_AGENT":                 "portal.user_agent",
	"GRADEWATCH_REGISTRATION_USERNAME_MIN_LETTERS": "registration.username_min_letters",
	"GRADEWATCH_REGISTRATION_USERNAME_MIN_DIGITS":  "registration.username_min_digits",
	"GRADEWATCH_REGISTRATION_PASSWORD_MIN_LENGTH":  "registration.password_min_length",
	"GRADEWATCH_REGISTRATION_PASSWORD_MAX_LENGTH":  "registration.password_max_length",
	"GRADEWATCH_REGISTRATION_UNSAFE_CHARACTERS":    "registration.unsafe_characters",
	"GRADEWATCH_REGISTRATION_MAX_ATTEMPTS":         "registration.max_attempts",
	"GRADEWATCH_REGISTRATION_ATTEMPT_WINDOW":       "registration.attempt_window",
	"GRADEWATCH_REGISTRATION_COOLDOWN":             "registration.cooldown",
	"GRADEWATCH_REGISTRATION_FAILURE_WEIGHT":       "registration.failure_weight",
	"GRADEWATCH_LOG_LEVEL":                         "logging.level",
	"GRADEWATCH_LOG_FORMAT":                        "logging.format",
}

// envTransformFunc maps an environment variable to its config path. Unknown
// variables map to "" and are ignored.
func envTransformFunc(key string) string {
	return envKeys[key]
}

// envName returns the environment variable for a config path.
func envName(path string) string {
	for name, p := range envKeys {
		if p == path {
			return name
		}
	}
	return path
}

// sliceConfigPaths lists config paths given as comma-separated strings in
// the environment.
var sliceConfigPaths = []string{"portal.terms"}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := strings.Split(s, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("setting %s: %w", path, err)
		}
	}
	return nil
}

var validate = newValidateFunc()

func newValidateFunc() func(cfg *Config, fields ...string) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("koanf"), ",")
		return name
	})

	return func(cfg *Config, fields ...string) error {
		var err error
		if len(fields) > 0 {
			err = v.StructPartial(cfg, fields...)
		} else {
			err = v.Struct(cfg)
		}
		if err == nil {
			return nil
		}

		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validating config: %w", err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			path := fe.Namespace()
			if _, rest, ok := strings.Cut(path, "."); ok {
				path = rest
			}
			msgs = append(msgs, fmt.Sprintf("%s is invalid (%s)", envName(path), describe(fe)))
		}
		return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
	}
}

func describe(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

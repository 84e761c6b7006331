package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config contains all runtime settings for the tutor service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	LogLevel  string
	LogFormat string

	TutorBrain      string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIModel     string
	ChatMaxTokens   int
	ChatTemperature float64

	DefaultLanguage string
	DatabaseURL     string

	SpeechChunkLimit    int
	SpeechNoSpeechGrace time.Duration
	SpeechStartDelay    time.Duration
}

var defaults = map[string]any{
	"APP_BIND_ADDR":                  ":8080",
	"APP_SHUTDOWN_TIMEOUT":           "15s",
	"APP_SESSION_INACTIVITY_TIMEOUT": "10m",
	"APP_METRICS_NAMESPACE":          "frenchtutor",
	"APP_ALLOW_ANY_ORIGIN":           "false",
	"LOG_LEVEL":                      "info",
	"LOG_FORMAT":                     "json",
	"TUTOR_BRAIN":                    "auto",
	"OPENAI_API_KEY":                 "",
	"OPENAI_BASE_URL":                "https://api.openai.com/v1",
	"OPENAI_MODEL":                   "gpt-3.5-turbo",
	"CHAT_MAX_TOKENS":                "150",
	"CHAT_TEMPERATURE":               "0.7",
	"DEFAULT_LANGUAGE":               "fr-FR",
	"DATABASE_URL":                   "",
	"SPEECH_CHUNK_LIMIT":             "200",
	"SPEECH_NO_SPEECH_GRACE":         "1s",
	"SPEECH_START_DELAY":             "100ms",
}

// Load reads frenchtutor.yaml from the working directory (when present) and the
// environment, applying safe defaults.
func Load() (Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty path searches the
// default locations and tolerates a missing file.
func LoadFile(path string) (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("frenchtutor")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	r := reader{v: v}
	cfg := Config{
		BindAddr:         r.str("APP_BIND_ADDR"),
		MetricsNamespace: r.str("APP_METRICS_NAMESPACE"),
		LogLevel:         strings.ToLower(r.str("LOG_LEVEL")),
		LogFormat:        strings.ToLower(r.str("LOG_FORMAT")),
		TutorBrain:       strings.ToLower(r.str("TUTOR_BRAIN")),
		OpenAIAPIKey:     r.str("OPENAI_API_KEY"),
		OpenAIBaseURL:    strings.TrimRight(r.str("OPENAI_BASE_URL"), "/"),
		OpenAIModel:      r.str("OPENAI_MODEL"),
		DefaultLanguage:  r.str("DEFAULT_LANGUAGE"),
		DatabaseURL:      r.str("DATABASE_URL"),
	}
	cfg.ShutdownTimeout = r.duration("APP_SHUTDOWN_TIMEOUT")
	cfg.SessionInactivityTimeout = r.duration("APP_SESSION_INACTIVITY_TIMEOUT")
	cfg.AllowAnyOrigin = r.boolean("APP_ALLOW_ANY_ORIGIN")
	cfg.ChatMaxTokens = r.integer("CHAT_MAX_TOKENS")
	cfg.ChatTemperature = r.float("CHAT_TEMPERATURE")
	cfg.SpeechChunkLimit = r.integer("SPEECH_CHUNK_LIMIT")
	cfg.SpeechNoSpeechGrace = r.duration("SPEECH_NO_SPEECH_GRACE")
	cfg.SpeechStartDelay = r.duration("SPEECH_START_DELAY")
	if r.err != nil {
		return Config{}, r.err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	switch cfg.TutorBrain {
	case "auto", "openai", "mock":
	default:
		return Config{}, fmt.Errorf("TUTOR_BRAIN must be auto, openai or mock")
	}
	switch cfg.LogFormat {
	case "json", "console":
	default:
		return Config{}, fmt.Errorf("LOG_FORMAT must be json or console")
	}
	if cfg.ChatMaxTokens <= 0 {
		return Config{}, fmt.Errorf("CHAT_MAX_TOKENS must be positive")
	}
	if cfg.ChatTemperature < 0 || cfg.ChatTemperature > 2 {
		return Config{}, fmt.Errorf("CHAT_TEMPERATURE must be between 0 and 2")
	}
	if cfg.SpeechChunkLimit < 20 {
		return Config{}, fmt.Errorf("SPEECH_CHUNK_LIMIT must be at least 20")
	}
	if cfg.SpeechNoSpeechGrace <= 0 || cfg.SpeechStartDelay <= 0 {
		return Config{}, fmt.Errorf("SPEECH_NO_SPEECH_GRACE and SPEECH_START_DELAY must be positive")
	}
	if strings.TrimSpace(cfg.DefaultLanguage) == "" {
		return Config{}, fmt.Errorf("DEFAULT_LANGUAGE must not be empty")
	}
	return cfg, nil
}

// reader keeps the first parse error so Load reports one failure per call.
type reader struct {
	v   *viper.Viper
	err error
}

func (r *reader) str(key string) string {
	return strings.TrimSpace(r.v.GetString(key))
}

func (r *reader) fail(key string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("%s parse error: %w", key, err)
	}
}

func (r *reader) duration(key string) time.Duration {
	d, err := time.ParseDuration(r.str(key))
	if err != nil {
		r.fail(key, err)
	}
	return d
}

func (r *reader) integer(key string) int {
	n, err := strconv.Atoi(r.str(key))
	if err != nil {
		r.fail(key, err)
	}
	return n
}

func (r *reader) float(key string) float64 {
	f, err := strconv.ParseFloat(r.str(key), 64)
	if err != nil {
		r.fail(key, err)
	}
	return f
}

func (r *reader) boolean(key string) bool {
	switch strings.ToLower(r.str(key)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		r.fail(key, errors.New("expected bool"))
		return false
	}
}

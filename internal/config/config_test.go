package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want :8080", cfg.BindAddr)
	}
	if cfg.OpenAIModel != "gpt-3.5-turbo" || cfg.ChatMaxTokens != 150 || cfg.ChatTemperature != 0.7 {
		t.Fatalf("chat settings = %q %d %v", cfg.OpenAIModel, cfg.ChatMaxTokens, cfg.ChatTemperature)
	}
	if cfg.DefaultLanguage != "fr-FR" {
		t.Fatalf("DefaultLanguage = %q, want fr-FR", cfg.DefaultLanguage)
	}
	if cfg.SpeechChunkLimit != 200 || cfg.SpeechNoSpeechGrace != time.Second || cfg.SpeechStartDelay != 100*time.Millisecond {
		t.Fatalf("speech settings = %d %v %v", cfg.SpeechChunkLimit, cfg.SpeechNoSpeechGrace, cfg.SpeechStartDelay)
	}
	if cfg.TutorBrain != "auto" || cfg.OpenAIAPIKey != "" || cfg.DatabaseURL != "" {
		t.Fatalf("brain = %q key = %q db = %q", cfg.TutorBrain, cfg.OpenAIAPIKey, cfg.DatabaseURL)
	}
}

func TestLoadUsesEnvironment(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("OPENAI_API_KEY", "  sk-test  ")
	t.Setenv("OPENAI_BASE_URL", "http://localhost:7777/v1/")
	t.Setenv("TUTOR_BRAIN", "MOCK")
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "yes")
	t.Setenv("SPEECH_NO_SPEECH_GRACE", "1500ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9191" || cfg.OpenAIAPIKey != "sk-test" || cfg.TutorBrain != "mock" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.OpenAIBaseURL != "http://localhost:7777/v1" {
		t.Fatalf("OpenAIBaseURL = %q, want trailing slash trimmed", cfg.OpenAIBaseURL)
	}
	if !cfg.AllowAnyOrigin {
		t.Fatalf("AllowAnyOrigin = false, want true")
	}
	if cfg.SpeechNoSpeechGrace != 1500*time.Millisecond {
		t.Fatalf("SpeechNoSpeechGrace = %v", cfg.SpeechNoSpeechGrace)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		key   string
		value string
		want  string
	}{
		{key: "APP_SHUTDOWN_TIMEOUT", value: "soon", want: "APP_SHUTDOWN_TIMEOUT parse error"},
		{key: "APP_SESSION_INACTIVITY_TIMEOUT", value: "1s", want: "at least 5s"},
		{key: "TUTOR_BRAIN", value: "claude", want: "TUTOR_BRAIN"},
		{key: "CHAT_MAX_TOKENS", value: "0", want: "CHAT_MAX_TOKENS"},
		{key: "CHAT_TEMPERATURE", value: "hot", want: "CHAT_TEMPERATURE parse error"},
		{key: "APP_ALLOW_ANY_ORIGIN", value: "maybe", want: "expected bool"},
		{key: "SPEECH_CHUNK_LIMIT", value: "5", want: "SPEECH_CHUNK_LIMIT"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(tc.key, tc.value)
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Load() error = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestLoadFileOverridesDefaultsAndEnvWins(t *testing.T) {
	setCoreEnvEmpty(t)
	path := filepath.Join(t.TempDir(), "frenchtutor.yaml")
	body := "app_bind_addr: \":7000\"\nopenai_model: gpt-4o-mini\nchat_max_tokens: 300\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("OPENAI_MODEL", "gpt-4o")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.BindAddr != ":7000" || cfg.ChatMaxTokens != 300 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.OpenAIModel != "gpt-4o" {
		t.Fatalf("OpenAIModel = %q, want env override", cfg.OpenAIModel)
	}
}

func TestLoadFileMissing(t *testing.T) {
	setCoreEnvEmpty(t)
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("LoadFile(missing) error = nil, want error")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	for key := range defaults {
		t.Setenv(key, "")
	}
}

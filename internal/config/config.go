// Package config loads server settings from an optional YAML file, a .env
// file and the process environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Provider names accepted by the *_PROVIDER settings
const (
	ProviderGemini     = "gemini"
	ProviderGoogle     = "google"
	ProviderElevenLabs = "elevenlabs"
	ProviderMock       = "mock"
)

// Config is the complete server configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Gemini        GeminiConfig        `yaml:"gemini"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Speech        SpeechConfig        `yaml:"speech"`
	Storage       StorageConfig       `yaml:"storage"`
	Auth          AuthConfig          `yaml:"auth"`
	SentryDSN     string              `yaml:"sentry_dsn"`
	Environment   string              `yaml:"environment"`
	LogLevel      string              `yaml:"log_level"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type GeminiConfig struct {
	APIKey        string `yaml:"api_key"`
	TextModel     string `yaml:"text_model"`
	TTSModel      string `yaml:"tts_model"`
	LiveModel     string `yaml:"live_model"`
	Voice         string `yaml:"voice"`
	TutorProvider string `yaml:"tutor_provider"`
}

// TranscriptionConfig bounds the capture sessions. A MaxSessionDuration of 0
// keeps the 60s default; a negative one turns the limit off.
type TranscriptionConfig struct {
	Provider           string        `yaml:"provider"`
	SampleRate         int           `yaml:"sample_rate"`
	Language           string        `yaml:"language"`
	FinalizeTimeout    time.Duration `yaml:"finalize_timeout"`
	MaxSessionDuration time.Duration `yaml:"max_session_duration"`
	PermissionTimeout  time.Duration `yaml:"permission_timeout"`
}

type SpeechConfig struct {
	Provider          string `yaml:"provider"`
	ElevenLabsAPIKey  string `yaml:"elevenlabs_api_key"`
	ElevenLabsVoiceID string `yaml:"elevenlabs_voice_id"`
}

type StorageConfig struct {
	MongoURI         string        `yaml:"mongodb_uri"`
	MongoDatabase    string        `yaml:"mongodb_database"`
	AttemptRetention time.Duration `yaml:"attempt_retention"`
}

type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	JWTExpiry  time.Duration `yaml:"jwt_expiry"`
	AccessCode string        `yaml:"access_code"`
}

// Default returns the configuration used when nothing is set
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            "8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Gemini: GeminiConfig{
			TextModel:     "gemini-2.5-flash",
			TTSModel:      "gemini-2.5-flash-preview-tts",
			LiveModel:     "gemini-2.5-flash-native-audio-preview-09-2025",
			Voice:         "Kore",
			TutorProvider: ProviderGemini,
		},
		Transcription: TranscriptionConfig{
			Provider:           ProviderGemini,
			SampleRate:         16000,
			Language:           "vi-VN",
			FinalizeTimeout:    8 * time.Second,
			MaxSessionDuration: 60 * time.Second,
			PermissionTimeout:  30 * time.Second,
		},
		Speech: SpeechConfig{
			Provider: ProviderGemini,
		},
		Storage: StorageConfig{
			MongoDatabase:    "betapdoc",
			AttemptRetention: 30 * 24 * time.Hour,
		},
		Auth: AuthConfig{
			JWTExpiry: 24 * time.Hour,
		},
		Environment: "development",
		LogLevel:    "info",
	}
}

// Load reads the YAML file (if path is not empty), then .env, then the
// environment, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
		return fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Server.Port, "PORT")
	setString(&cfg.Gemini.APIKey, "GEMINI_API_KEY")
	setString(&cfg.Gemini.TextModel, "GEMINI_TEXT_MODEL")
	setString(&cfg.Gemini.TTSModel, "GEMINI_TTS_MODEL")
	setString(&cfg.Gemini.LiveModel, "GEMINI_LIVE_MODEL")
	setString(&cfg.Gemini.Voice, "GEMINI_VOICE")
	setString(&cfg.Gemini.TutorProvider, "TUTOR_PROVIDER")
	setString(&cfg.Transcription.Provider, "STT_PROVIDER")
	setString(&cfg.Transcription.Language, "STT_LANGUAGE")
	setString(&cfg.Speech.Provider, "TTS_PROVIDER")
	setString(&cfg.Speech.ElevenLabsAPIKey, "ELEVEN_LABS_API_KEY")
	setString(&cfg.Speech.ElevenLabsVoiceID, "ELEVEN_LABS_VOICE_ID")
	setString(&cfg.Storage.MongoURI, "MONGODB_URI")
	setString(&cfg.Storage.MongoDatabase, "MONGODB_DATABASE")
	setString(&cfg.Auth.JWTSecret, "JWT_SECRET")
	setString(&cfg.Auth.AccessCode, "ACCESS_CODE")
	setString(&cfg.SentryDSN, "SENTRY_DSN")
	setString(&cfg.Environment, "ENVIRONMENT")
	setString(&cfg.LogLevel, "LOG_LEVEL")

	if v := os.Getenv("STT_SAMPLE_RATE"); v != "" {
		rate, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid STT_SAMPLE_RATE %q: %w", v, err)
		}
		cfg.Transcription.SampleRate = rate
	}

	durations := []struct {
		key    string
		target *time.Duration
	}{
		{"SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout},
		{"STT_FINALIZE_TIMEOUT", &cfg.Transcription.FinalizeTimeout},
		{"STT_MAX_SESSION_DURATION", &cfg.Transcription.MaxSessionDuration},
		{"MICROPHONE_PERMISSION_TIMEOUT", &cfg.Transcription.PermissionTimeout},
		{"ATTEMPT_RETENTION", &cfg.Storage.AttemptRetention},
		{"JWT_EXPIRY", &cfg.Auth.JWTExpiry},
	}
	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.key, v, err)
		}
		*d.target = parsed
	}

	return nil
}

func setString(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

// Validate checks provider names and the credentials each provider needs
func (c Config) Validate() error {
	needsGemini := false

	switch c.Transcription.Provider {
	case ProviderGemini:
		needsGemini = true
	case ProviderGoogle, ProviderMock:
	default:
		return fmt.Errorf("unsupported STT_PROVIDER %q", c.Transcription.Provider)
	}

	switch c.Speech.Provider {
	case ProviderGemini:
		needsGemini = true
	case ProviderElevenLabs:
		if c.Speech.ElevenLabsAPIKey == "" {
			return errors.New("ELEVEN_LABS_API_KEY is required for the elevenlabs TTS provider")
		}
	case ProviderMock:
	default:
		return fmt.Errorf("unsupported TTS_PROVIDER %q", c.Speech.Provider)
	}

	switch c.Gemini.TutorProvider {
	case ProviderGemini:
		needsGemini = true
	case ProviderMock:
	default:
		return fmt.Errorf("unsupported TUTOR_PROVIDER %q", c.Gemini.TutorProvider)
	}

	if needsGemini && c.Gemini.APIKey == "" {
		return errors.New("GEMINI_API_KEY environment variable is required")
	}

	if c.Transcription.SampleRate < 8000 || c.Transcription.SampleRate > 48000 {
		return fmt.Errorf("sample rate must be between 8000 and 48000, got %d", c.Transcription.SampleRate)
	}

	if c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}

	return nil
}

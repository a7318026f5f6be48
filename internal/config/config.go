package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all Ghost Capture environment variables.
const EnvPrefix = "GHOST_CAPTURE_"

const (
	MinChunkDurationMS = 5000
	MaxChunkDurationMS = 600000
)

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	MaxChunkDurationMS    int      `yaml:"max_chunk_duration_ms"`
	ContinuousMode        bool     `yaml:"continuous_mode"`
	EnableMicrophone      bool     `yaml:"enable_microphone"`
	MicrophoneDeviceID    string   `yaml:"microphone_device_id"`
	SourceLanguage        string   `yaml:"source_language"`
	SampleRate            int      `yaml:"sample_rate"`
	SystemDevice          string   `yaml:"system_device"`
	EncoderPreference     []string `yaml:"encoder_preference"`
	FFmpegPath            string   `yaml:"ffmpeg_path"`
	TranscriptionProvider string   `yaml:"transcription_provider"`
	TranscriptionModel    string   `yaml:"transcription_model"`
	OpenAIBaseURL         string   `yaml:"openai_base_url"`
	RequestsPerMinute     int      `yaml:"requests_per_minute"`
	DBPath                string   `yaml:"db_path"`
	TranscriptDir         string   `yaml:"transcript_dir"`
	AudioDir              string   `yaml:"audio_dir"`
	ListenAddr            string   `yaml:"listen_addr"`
	GDriveFolderID        string   `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile string   `yaml:"google_credentials_file"`
	LogLevel              string   `yaml:"log_level"`

	// Secrets, env vars only.
	DeepgramAPIKey string `yaml:"-"`
	OpenAIAPIKey   string `yaml:"-"`
}

func defaults() Config {
	return Config{
		MaxChunkDurationMS:    30000,
		ContinuousMode:        true,
		MicrophoneDeviceID:    "default",
		SourceLanguage:        "pt",
		SampleRate:            16000,
		EncoderPreference:     []string{"webm-opus", "ogg-opus", "wav"},
		FFmpegPath:            "ffmpeg",
		TranscriptionProvider: "openai",
		TranscriptionModel:    "whisper-1",
		RequestsPerMinute:     50,
		DBPath:                "data/ghost-capture.db",
		TranscriptDir:         "data/transcripts",
		AudioDir:              "data/audio",
		ListenAddr:            "127.0.0.1:8080",
		GoogleCredentialsFile: "./service-account.json",
		LogLevel:              "info",
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// MaxChunkDuration returns the validated rotation interval.
func (c *Config) MaxChunkDuration() time.Duration {
	return time.Duration(c.MaxChunkDurationMS) * time.Millisecond
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := envInt("MAX_CHUNK_DURATION_MS"); ok {
		cfg.MaxChunkDurationMS = v
	}
	if v, ok := envBool("CONTINUOUS_MODE"); ok {
		cfg.ContinuousMode = v
	}
	if v, ok := envBool("ENABLE_MICROPHONE"); ok {
		cfg.EnableMicrophone = v
	}
	if v := os.Getenv(EnvPrefix + "MICROPHONE_DEVICE_ID"); v != "" {
		cfg.MicrophoneDeviceID = v
	}
	if v := os.Getenv(EnvPrefix + "SOURCE_LANGUAGE"); v != "" {
		cfg.SourceLanguage = v
	}
	if v, ok := envInt("SAMPLE_RATE"); ok && v > 0 {
		cfg.SampleRate = v
	}
	if v := os.Getenv(EnvPrefix + "SYSTEM_DEVICE"); v != "" {
		cfg.SystemDevice = v
	}
	if v := os.Getenv(EnvPrefix + "ENCODER_PREFERENCE"); v != "" {
		cfg.EncoderPreference = parseList(v)
	}
	if v := os.Getenv(EnvPrefix + "FFMPEG_PATH"); v != "" {
		cfg.FFmpegPath = v
	}
	if v := os.Getenv(EnvPrefix + "TRANSCRIPTION_PROVIDER"); v != "" {
		cfg.TranscriptionProvider = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv(EnvPrefix + "TRANSCRIPTION_MODEL"); v != "" {
		cfg.TranscriptionModel = v
	}
	if v := os.Getenv(EnvPrefix + "OPENAI_BASE_URL"); v != "" {
		cfg.OpenAIBaseURL = v
	}
	if v, ok := envInt("REQUESTS_PER_MINUTE"); ok && v > 0 {
		cfg.RequestsPerMinute = v
	}
	if v := os.Getenv(EnvPrefix + "DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvPrefix + "TRANSCRIPT_DIR"); v != "" {
		cfg.TranscriptDir = v
	}
	if v := os.Getenv(EnvPrefix + "AUDIO_DIR"); v != "" {
		cfg.AudioDir = v
	}
	if v := os.Getenv(EnvPrefix + "LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(EnvPrefix + "GDRIVE_FOLDER_ID"); v != "" {
		cfg.GDriveFolderID = v
	}
	if v := os.Getenv(EnvPrefix + "GOOGLE_CREDENTIALS_FILE"); v != "" {
		cfg.GoogleCredentialsFile = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func loadSecrets(cfg *Config) {
	cfg.DeepgramAPIKey = os.Getenv(EnvPrefix + "DEEPGRAM_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
}

func validate(cfg *Config) []string {
	var warnings []string

	switch {
	case cfg.MaxChunkDurationMS < MinChunkDurationMS:
		warnings = append(warnings, fmt.Sprintf("max_chunk_duration_ms %d below minimum, using %d.", cfg.MaxChunkDurationMS, MinChunkDurationMS))
		cfg.MaxChunkDurationMS = MinChunkDurationMS
	case cfg.MaxChunkDurationMS > MaxChunkDurationMS:
		warnings = append(warnings, fmt.Sprintf("max_chunk_duration_ms %d above maximum, using %d.", cfg.MaxChunkDurationMS, MaxChunkDurationMS))
		cfg.MaxChunkDurationMS = MaxChunkDurationMS
	}

	if cfg.SampleRate <= 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid sample_rate %d, using 16000.", cfg.SampleRate))
		cfg.SampleRate = 16000
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 50
	}
	if len(cfg.EncoderPreference) == 0 {
		cfg.EncoderPreference = defaults().EncoderPreference
	}

	switch cfg.TranscriptionProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			warnings = append(warnings, "OpenAI API key not configured, transcription will fail. Set "+EnvPrefix+"OPENAI_API_KEY.")
		}
	case "deepgram":
		if cfg.DeepgramAPIKey == "" {
			warnings = append(warnings, "Deepgram API key not configured, transcription will fail. Set "+EnvPrefix+"DEEPGRAM_API_KEY.")
		}
	default:
		warnings = append(warnings, fmt.Sprintf("Unknown transcription_provider %q, using openai.", cfg.TranscriptionProvider))
		cfg.TranscriptionProvider = "openai"
	}

	if cfg.GDriveFolderID == "" {
		warnings = append(warnings, "Google Drive folder not configured, audio archiving is disabled. Set "+EnvPrefix+"GDRIVE_FOLDER_ID.")
	}

	return warnings
}

func envInt(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(EnvPrefix + key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) (bool, bool) {
	v := strings.TrimSpace(os.Getenv(EnvPrefix + key))
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	seen := make(map[string]struct{}, len(parts))
	result := make([]string, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.ToLower(strings.TrimSpace(part))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}

	return result
}

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	ModeChat  = "chat"
	ModeAudio = "audio"
)

type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5m"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:","`
	MaxUploadMB int64    `env:"MAX_UPLOAD_MB" envDefault:"512"`

	WorkDir      string `env:"WORK_DIR"`
	FFmpegPath   string `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	FFprobePath  string `env:"FFPROBE_PATH" envDefault:"ffprobe"`
	AudioQuality int    `env:"AUDIO_QUALITY" envDefault:"4"`

	TranscribeMode       string        `env:"TRANSCRIBE_MODE" envDefault:"chat"`
	TranscribeBaseURL    string        `env:"TRANSCRIBE_BASE_URL" envDefault:"https://api.groq.com/openai/v1"`
	TranscribeChatModel  string        `env:"TRANSCRIBE_CHAT_MODEL" envDefault:"llama-3.3-70b-versatile"`
	TranscribeAudioModel string        `env:"TRANSCRIBE_AUDIO_MODEL" envDefault:"whisper-large-v3"`
	TranscribeTimeout    time.Duration `env:"TRANSCRIBE_TIMEOUT"` // 0 = http.Client default
	MaxPayloadChars      int           `env:"MAX_PAYLOAD_CHARS" envDefault:"100000"`

	SessionTTL  time.Duration `env:"SESSION_TTL" envDefault:"30m"`
	EventBuffer int           `env:"EVENT_BUFFER" envDefault:"256"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile        string
	HTTPAddr       string
	LogLevel       string
	TranscribeMode string
	WorkDir        string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.TranscribeMode != "" {
		cfg.TranscribeMode = overrides.TranscribeMode
	}
	if overrides.WorkDir != "" {
		cfg.WorkDir = overrides.WorkDir
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	c.TranscribeMode = strings.ToLower(strings.TrimSpace(c.TranscribeMode))
	switch c.TranscribeMode {
	case ModeChat, ModeAudio:
	default:
		return fmt.Errorf("invalid TRANSCRIBE_MODE %q: must be %q or %q", c.TranscribeMode, ModeChat, ModeAudio)
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid MAX_UPLOAD_MB %d: must be > 0", c.MaxUploadMB)
	}
	if c.MaxPayloadChars < 0 {
		return fmt.Errorf("invalid MAX_PAYLOAD_CHARS %d: must be >= 0", c.MaxPayloadChars)
	}
	if c.AudioQuality < 0 || c.AudioQuality > 9 {
		return fmt.Errorf("invalid AUDIO_QUALITY %d: must be 0-9", c.AudioQuality)
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 256
	}
	if c.WorkDir == "" {
		c.WorkDir = os.TempDir()
	}
	return nil
}

// MaxUploadBytes returns the upload size limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

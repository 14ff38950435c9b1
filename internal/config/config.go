package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config stores runtime configuration for the Lila client.
type Config struct {
	Server   ServerConfig
	Audio    AudioConfig
	Session  SessionConfig
	Playback PlaybackConfig
	Metrics  MetricsConfig
}

type ServerConfig struct {
	BaseURL string
	Token   string
}

type AudioConfig struct {
	RecorderCommand  string
	PlayerCommand    string
	InputFormat      string
	InputDevice      string
	CaptureRate      int
	Channels         int
	OutputSampleRate int
}

type SessionConfig struct {
	ChunkInterval time.Duration
	SettleDelay   time.Duration
	MaxRetries    int
	BackoffBase   time.Duration
	BackoffCap    time.Duration
}

type PlaybackConfig struct {
	MinClipBytes int
}

type MetricsConfig struct {
	ListenAddr string
}

// Load resolves configuration from environment variables and sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			BaseURL: envOrDefault("LILA_SERVER_URL", "http://localhost:8000"),
			Token:   strings.TrimSpace(os.Getenv("LILA_TOKEN")),
		},
		Audio: AudioConfig{
			RecorderCommand: envOrDefault("LILA_FFMPEG_COMMAND", "ffmpeg"),
			PlayerCommand:   envOrDefault("LILA_FFPLAY_COMMAND", "ffplay"),
			InputFormat:     envOrDefault("LILA_AUDIO_INPUT_FORMAT", "pulse"),
			InputDevice: firstNonEmpty(
				os.Getenv("LILA_AUDIO_INPUT_DEVICE"),
				os.Getenv("PULSE_SOURCE"),
				"default",
			),
			CaptureRate:      envOrDefaultInt("LILA_CAPTURE_SAMPLE_RATE", 16000),
			Channels:         envOrDefaultInt("LILA_CHANNELS", 1),
			OutputSampleRate: envOrDefaultInt("LILA_OUTPUT_SAMPLE_RATE", 24000),
		},
		Session: SessionConfig{
			ChunkInterval: time.Duration(envOrDefaultInt("LILA_CHUNK_INTERVAL_MS", 100)) * time.Millisecond,
			SettleDelay:   time.Duration(envOrDefaultInt("LILA_SETTLE_DELAY_MS", 100)) * time.Millisecond,
			MaxRetries:    envOrDefaultInt("LILA_MAX_RETRIES", 5),
			BackoffBase:   time.Duration(envOrDefaultInt("LILA_BACKOFF_BASE_MS", 1000)) * time.Millisecond,
			BackoffCap:    time.Duration(envOrDefaultInt("LILA_BACKOFF_CAP_MS", 5000)) * time.Millisecond,
		},
		Playback: PlaybackConfig{
			MinClipBytes: envOrDefaultInt("LILA_MIN_CLIP_BYTES", 1000),
		},
		Metrics: MetricsConfig{
			ListenAddr: strings.TrimSpace(os.Getenv("LILA_METRICS_ADDR")),
		},
	}

	if cfg.Audio.CaptureRate <= 0 {
		cfg.Audio.CaptureRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.OutputSampleRate <= 0 {
		cfg.Audio.OutputSampleRate = 24000
	}
	if cfg.Session.ChunkInterval <= 0 {
		cfg.Session.ChunkInterval = 100 * time.Millisecond
	}
	if cfg.Session.SettleDelay < 0 {
		cfg.Session.SettleDelay = 100 * time.Millisecond
	}
	if cfg.Session.MaxRetries < 0 {
		cfg.Session.MaxRetries = 5
	}
	if cfg.Session.BackoffBase <= 0 {
		cfg.Session.BackoffBase = time.Second
	}
	if cfg.Session.BackoffCap < cfg.Session.BackoffBase {
		cfg.Session.BackoffCap = 5 * time.Second
	}
	if cfg.Playback.MinClipBytes < 0 {
		cfg.Playback.MinClipBytes = 1000
	}

	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds runtime configuration for the API server and the trim CLI.
type Config struct {
	Env      string
	HTTPPort string
	WorkDir  string

	FFmpegBinary  string
	FFprobeBinary string

	MaxConcurrent      int
	RetryBudget        int
	SilenceNoiseDB     float64
	SilenceMinDuration time.Duration
	MergeGap           time.Duration
	MaxSilences        int

	VideoCodec   string
	VideoPreset  string
	VideoBitrate string
	AudioCodec   string
	AudioBitrate string

	PhaseTimeout  time.Duration
	KillOnCancel  bool
	SweepInterval time.Duration
	SweepMaxAge   time.Duration

	MaxUploadBytes  int64
	BusyLoadPercent float64
	ThumbnailWidth  int

	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	RateLimitCapacity int
	RateLimitRefill   float64

	PostgresDSN string

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3PathStyle bool
	S3Prefix    string

	LogLevel  string
	LogFormat string
	Locale    string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Env:                "dev",
		HTTPPort:           "8080",
		WorkDir:            "./data",
		FFmpegBinary:       "ffmpeg",
		FFprobeBinary:      "ffprobe",
		MaxConcurrent:      2,
		RetryBudget:        1,
		SilenceNoiseDB:     -30,
		SilenceMinDuration: 500 * time.Millisecond,
		MergeGap:           2 * time.Second,
		MaxSilences:        10,
		VideoCodec:         "libx264",
		VideoPreset:        "veryfast",
		VideoBitrate:       "2M",
		AudioCodec:         "aac",
		AudioBitrate:       "128k",
		PhaseTimeout:       30 * time.Minute,
		KillOnCancel:       true,
		SweepInterval:      5 * time.Minute,
		SweepMaxAge:        60 * time.Minute,
		MaxUploadBytes:     2 << 30,
		BusyLoadPercent:    90,
		ThumbnailWidth:     320,
		RateLimitCapacity:  10,
		RateLimitRefill:    0.2,
		S3Region:           "us-east-1",
		LogLevel:           "info",
		LogFormat:          "auto",
		Locale:             "en",
	}
}

// Load reads defaults, then the TOML file named by TRIM_CONFIG (if any), then
// environment variables.
func Load() (Config, error) {
	return LoadFrom(os.Getenv("TRIM_CONFIG"))
}

// LoadFrom is Load with an explicit config file path; an empty path skips the file.
func LoadFrom(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.overlayEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) overlayEnv() {
	c.Env = getEnv("APP_ENV", c.Env)
	c.HTTPPort = getEnv("HTTP_PORT", c.HTTPPort)
	c.WorkDir = getEnv("WORK_DIR", c.WorkDir)
	c.FFmpegBinary = getEnv("FFMPEG_BIN", c.FFmpegBinary)
	c.FFprobeBinary = getEnv("FFPROBE_BIN", c.FFprobeBinary)
	c.MaxConcurrent = getEnvInt("MAX_CONCURRENT", c.MaxConcurrent)
	c.RetryBudget = getEnvInt("RETRY_BUDGET", c.RetryBudget)
	c.SilenceNoiseDB = getEnvFloat("SILENCE_NOISE_DB", c.SilenceNoiseDB)
	c.SilenceMinDuration = getEnvDuration("SILENCE_MIN_DURATION", c.SilenceMinDuration)
	c.MergeGap = getEnvDuration("MERGE_GAP", c.MergeGap)
	c.MaxSilences = getEnvInt("MAX_SILENCES", c.MaxSilences)
	c.VideoCodec = getEnv("VIDEO_CODEC", c.VideoCodec)
	c.VideoPreset = getEnv("VIDEO_PRESET", c.VideoPreset)
	c.VideoBitrate = getEnv("VIDEO_BITRATE", c.VideoBitrate)
	c.AudioCodec = getEnv("AUDIO_CODEC", c.AudioCodec)
	c.AudioBitrate = getEnv("AUDIO_BITRATE", c.AudioBitrate)
	c.PhaseTimeout = getEnvDuration("PHASE_TIMEOUT", c.PhaseTimeout)
	c.KillOnCancel = getEnvBool("KILL_ON_CANCEL", c.KillOnCancel)
	c.SweepInterval = getEnvDuration("SWEEP_INTERVAL", c.SweepInterval)
	c.SweepMaxAge = getEnvDuration("SWEEP_MAX_AGE", c.SweepMaxAge)
	c.MaxUploadBytes = int64(getEnvInt("MAX_UPLOAD_BYTES", int(c.MaxUploadBytes)))
	c.BusyLoadPercent = getEnvFloat("BUSY_LOAD_PERCENT", c.BusyLoadPercent)
	c.ThumbnailWidth = getEnvInt("THUMBNAIL_WIDTH", c.ThumbnailWidth)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvInt("REDIS_DB", c.RedisDB)
	c.RateLimitCapacity = getEnvInt("RATE_LIMIT_CAPACITY", c.RateLimitCapacity)
	c.RateLimitRefill = getEnvFloat("RATE_LIMIT_REFILL_PER_SEC", c.RateLimitRefill)
	c.PostgresDSN = getEnv("POSTGRES_DSN", c.PostgresDSN)
	c.S3Bucket = getEnv("S3_BUCKET", c.S3Bucket)
	c.S3Region = getEnv("S3_REGION", c.S3Region)
	c.S3Endpoint = getEnv("S3_ENDPOINT", c.S3Endpoint)
	c.S3PathStyle = getEnvBool("S3_PATH_STYLE", c.S3PathStyle)
	c.S3Prefix = getEnv("S3_PREFIX", c.S3Prefix)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.Locale = getEnv("LOCALE", c.Locale)
}

// Validate rejects settings the scheduler cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("max_concurrent must be positive, got %d", c.MaxConcurrent))
	}
	if c.RetryBudget < 0 {
		errs = append(errs, fmt.Errorf("retry_budget must not be negative, got %d", c.RetryBudget))
	}
	if c.MergeGap <= 0 {
		errs = append(errs, fmt.Errorf("merge_gap must be positive, got %s", c.MergeGap))
	}
	if c.MaxSilences <= 0 {
		errs = append(errs, fmt.Errorf("max_silences must be positive, got %d", c.MaxSilences))
	}
	if c.SilenceMinDuration <= 0 {
		errs = append(errs, fmt.Errorf("silence_min_duration must be positive, got %s", c.SilenceMinDuration))
	}
	if c.PhaseTimeout < 0 {
		errs = append(errs, fmt.Errorf("phase_timeout must not be negative, got %s", c.PhaseTimeout))
	}
	if strings.TrimSpace(c.WorkDir) == "" {
		errs = append(errs, errors.New("work_dir is required"))
	}
	return errors.Join(errs...)
}

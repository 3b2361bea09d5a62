package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// fileConfig is the TOML shape. Pointers distinguish "absent" from zero values;
// durations are written as Go duration strings ("2s", "30m").
type fileConfig struct {
	Env      *string `toml:"env"`
	HTTPPort *string `toml:"http_port"`
	WorkDir  *string `toml:"work_dir"`

	FFmpegBinary  *string `toml:"ffmpeg_bin"`
	FFprobeBinary *string `toml:"ffprobe_bin"`

	Scheduler struct {
		MaxConcurrent *int    `toml:"max_concurrent"`
		RetryBudget   *int    `toml:"retry_budget"`
		PhaseTimeout  *string `toml:"phase_timeout"`
		KillOnCancel  *bool   `toml:"kill_on_cancel"`
		SweepInterval *string `toml:"sweep_interval"`
		SweepMaxAge   *string `toml:"sweep_max_age"`
	} `toml:"scheduler"`

	Silence struct {
		NoiseDB     *float64 `toml:"noise_db"`
		MinDuration *string  `toml:"min_duration"`
		MergeGap    *string  `toml:"merge_gap"`
		MaxSilences *int     `toml:"max_silences"`
	} `toml:"silence"`

	Encoding struct {
		VideoCodec   *string `toml:"video_codec"`
		VideoPreset  *string `toml:"video_preset"`
		VideoBitrate *string `toml:"video_bitrate"`
		AudioCodec   *string `toml:"audio_codec"`
		AudioBitrate *string `toml:"audio_bitrate"`
	} `toml:"encoding"`

	API struct {
		MaxUploadBytes  *int64   `toml:"max_upload_bytes"`
		BusyLoadPercent *float64 `toml:"busy_load_percent"`
		ThumbnailWidth  *int     `toml:"thumbnail_width"`
		Locale          *string  `toml:"locale"`
	} `toml:"api"`

	Redis struct {
		Addr              *string  `toml:"addr"`
		Password          *string  `toml:"password"`
		DB                *int     `toml:"db"`
		RateLimitCapacity *int     `toml:"rate_limit_capacity"`
		RateLimitRefill   *float64 `toml:"rate_limit_refill_per_sec"`
	} `toml:"redis"`

	Postgres struct {
		DSN *string `toml:"dsn"`
	} `toml:"postgres"`

	S3 struct {
		Bucket    *string `toml:"bucket"`
		Region    *string `toml:"region"`
		Endpoint  *string `toml:"endpoint"`
		PathStyle *bool   `toml:"path_style"`
		Prefix    *string `toml:"prefix"`
	} `toml:"s3"`

	Logging struct {
		Level  *string `toml:"level"`
		Format *string `toml:"format"`
	} `toml:"logging"`
}

func (c *Config) overlayFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var fc fileConfig
	if err := toml.NewDecoder(file).DisallowUnknownFields().Decode(&fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return fc.apply(c)
}

func (f *fileConfig) apply(c *Config) error {
	set(&c.Env, f.Env)
	set(&c.HTTPPort, f.HTTPPort)
	set(&c.WorkDir, f.WorkDir)
	set(&c.FFmpegBinary, f.FFmpegBinary)
	set(&c.FFprobeBinary, f.FFprobeBinary)

	set(&c.MaxConcurrent, f.Scheduler.MaxConcurrent)
	set(&c.RetryBudget, f.Scheduler.RetryBudget)
	set(&c.KillOnCancel, f.Scheduler.KillOnCancel)

	set(&c.SilenceNoiseDB, f.Silence.NoiseDB)
	set(&c.MaxSilences, f.Silence.MaxSilences)

	set(&c.VideoCodec, f.Encoding.VideoCodec)
	set(&c.VideoPreset, f.Encoding.VideoPreset)
	set(&c.VideoBitrate, f.Encoding.VideoBitrate)
	set(&c.AudioCodec, f.Encoding.AudioCodec)
	set(&c.AudioBitrate, f.Encoding.AudioBitrate)

	set(&c.MaxUploadBytes, f.API.MaxUploadBytes)
	set(&c.BusyLoadPercent, f.API.BusyLoadPercent)
	set(&c.ThumbnailWidth, f.API.ThumbnailWidth)
	set(&c.Locale, f.API.Locale)

	set(&c.RedisAddr, f.Redis.Addr)
	set(&c.RedisPassword, f.Redis.Password)
	set(&c.RedisDB, f.Redis.DB)
	set(&c.RateLimitCapacity, f.Redis.RateLimitCapacity)
	set(&c.RateLimitRefill, f.Redis.RateLimitRefill)

	set(&c.PostgresDSN, f.Postgres.DSN)

	set(&c.S3Bucket, f.S3.Bucket)
	set(&c.S3Region, f.S3.Region)
	set(&c.S3Endpoint, f.S3.Endpoint)
	set(&c.S3PathStyle, f.S3.PathStyle)
	set(&c.S3Prefix, f.S3.Prefix)

	set(&c.LogLevel, f.Logging.Level)
	set(&c.LogFormat, f.Logging.Format)

	durations := []struct {
		key string
		raw *string
		dst *time.Duration
	}{
		{"scheduler.phase_timeout", f.Scheduler.PhaseTimeout, &c.PhaseTimeout},
		{"scheduler.sweep_interval", f.Scheduler.SweepInterval, &c.SweepInterval},
		{"scheduler.sweep_max_age", f.Scheduler.SweepMaxAge, &c.SweepMaxAge},
		{"silence.min_duration", f.Silence.MinDuration, &c.SilenceMinDuration},
		{"silence.merge_gap", f.Silence.MergeGap, &c.MergeGap},
	}
	for _, d := range durations {
		if d.raw == nil {
			continue
		}
		parsed, err := time.ParseDuration(*d.raw)
		if err != nil {
			return fmt.Errorf("config %s: %w", d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

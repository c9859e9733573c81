// audioseg/config/config.go
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	FFBin      string        `mapstructure:"FF_BIN"`
	FFProbeBin string        `mapstructure:"FFPROBE_BIN"`
	FFTimeout  time.Duration `mapstructure:"FF_TIMEOUT"`

	// Transcode profile and segmentation
	MaxDuration            time.Duration `mapstructure:"MAX_DURATION"`
	SegmentSeconds         int           `mapstructure:"SEGMENT_SECONDS"`
	AudioBitrate           string        `mapstructure:"AUDIO_BITRATE"`
	SampleRate             int           `mapstructure:"SAMPLE_RATE"`
	Channels               int           `mapstructure:"CHANNELS"`
	SegmentConcurrency     int           `mapstructure:"SEGMENT_CONCURRENCY"`
	MaterializeConcurrency int           `mapstructure:"MATERIALIZE_CONCURRENCY"`
	HWAccel                bool          `mapstructure:"HWACCEL"`
	HWAccelArgs            string        `mapstructure:"HWACCEL_ARGS"`
	TagComment             string        `mapstructure:"TAG_COMMENT"`

	// Input bounds
	MaxInputSize     int64    `mapstructure:"MAX_INPUT_SIZE"`
	AllowedMimeTypes []string `mapstructure:"ALLOWED_MIME_TYPES"`

	// Background tasks and host guard
	MaxConcurrency   int           `mapstructure:"MAX_CONCURRENCY"`
	TaskRetention    time.Duration `mapstructure:"TASK_RETENTION"`
	ThrottleCPU      float64       `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem  int64         `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk int64         `mapstructure:"THROTTLE_FREEDISK"`
	WorkDir          string        `mapstructure:"WORK_DIR"`

	// HTTP
	AuthEnable bool   `mapstructure:"AUTH_ENABLE"`
	AuthKey    string `mapstructure:"AUTH_KEY"`
	Port       string `mapstructure:"PORT"`

	// Logging
	LogLevel      string `mapstructure:"LOG_LEVEL"`
	LogFile       string `mapstructure:"LOG_FILE"`
	LogMaxSize    int    `mapstructure:"LOG_MAX_SIZE"`
	LogMaxBackups int    `mapstructure:"LOG_MAX_BACKUPS"`
	LogMaxAge     int    `mapstructure:"LOG_MAX_AGE"`
	LogCompress   bool   `mapstructure:"LOG_COMPRESS"`

	// Polling store. Empty RedisAddr keeps tasks in memory.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	RedisPrefix   string `mapstructure:"REDIS_PREFIX"`

	// Object storage. Empty MinioEndpoint disables uploads.
	MinioEndpoint  string `mapstructure:"MINIO_ENDPOINT"`
	MinioAccessKey string `mapstructure:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `mapstructure:"MINIO_SECRET_KEY"`
	MinioBucket    string `mapstructure:"MINIO_BUCKET"`
	MinioUseSSL    bool   `mapstructure:"MINIO_USE_SSL"`
	MinioRegion    string `mapstructure:"MINIO_REGION"`
}

// SegmentDuration returns the segment length as a time.Duration.
func (c *Config) SegmentDuration() time.Duration {
	return time.Duration(c.SegmentSeconds) * time.Second
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.SegmentSeconds != 10 && c.SegmentSeconds != 15 {
		return fmt.Errorf("SEGMENT_SECONDS must be 10 or 15, got %d", c.SegmentSeconds)
	}
	if c.SegmentConcurrency < 1 || c.MaterializeConcurrency < 1 {
		return fmt.Errorf("segment concurrency limits must be at least 1")
	}
	if c.MaxDuration <= 0 {
		return fmt.Errorf("MAX_DURATION must be positive")
	}
	if c.MaxInputSize <= 0 {
		return fmt.Errorf("MAX_INPUT_SIZE must be positive")
	}
	if c.SampleRate <= 0 || c.Channels <= 0 || c.AudioBitrate == "" {
		return fmt.Errorf("invalid transcode profile: rate=%d channels=%d bitrate=%q", c.SampleRate, c.Channels, c.AudioBitrate)
	}
	return nil
}

// stringToDurationHookFunc is a custom Viper hook for parsing Go's duration strings.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc is a custom Viper hook for parsing human-readable size strings.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		if err := size.UnmarshalText([]byte(data.(string))); err != nil {
			// Not a valid size string, let other parsers handle it.
			return data, nil
		}
		return int64(size.Bytes()), nil
	}
}

func Load() (*Config, error) {
	// A missing .env is fine; real environment variables still apply.
	_ = godotenv.Load()

	vp := viper.New()

	vp.SetDefault("FF_BIN", "ffmpeg")
	vp.SetDefault("FFPROBE_BIN", "ffprobe")
	vp.SetDefault("FF_TIMEOUT", "12m3s")
	vp.SetDefault("MAX_DURATION", "12m")
	vp.SetDefault("SEGMENT_SECONDS", 10)
	vp.SetDefault("AUDIO_BITRATE", "192k")
	vp.SetDefault("SAMPLE_RATE", 44100)
	vp.SetDefault("CHANNELS", 2)
	vp.SetDefault("SEGMENT_CONCURRENCY", 3)
	vp.SetDefault("MATERIALIZE_CONCURRENCY", 4)
	vp.SetDefault("HWACCEL", true)
	vp.SetDefault("HWACCEL_ARGS", "-hwaccel auto")
	vp.SetDefault("TAG_COMMENT", "Processed by audioseg")
	vp.SetDefault("MAX_INPUT_SIZE", "200MB")
	vp.SetDefault("ALLOWED_MIME_TYPES", "audio/wav,audio/x-wav,audio/wave,audio/vnd.wave")
	vp.SetDefault("MAX_CONCURRENCY", 2)
	vp.SetDefault("TASK_RETENTION", "1h")
	vp.SetDefault("THROTTLE_CPU", 50.0)
	vp.SetDefault("THROTTLE_FREEMEM", "200MB")
	vp.SetDefault("THROTTLE_FREEDISK", "200MB")
	vp.SetDefault("WORK_DIR", "")
	vp.SetDefault("AUTH_ENABLE", false)
	vp.SetDefault("AUTH_KEY", "123456")
	vp.SetDefault("PORT", "8080")
	vp.SetDefault("LOG_LEVEL", "info")
	vp.SetDefault("LOG_FILE", "")
	vp.SetDefault("LOG_MAX_SIZE", 100)
	vp.SetDefault("LOG_MAX_BACKUPS", 5)
	vp.SetDefault("LOG_MAX_AGE", 30)
	vp.SetDefault("LOG_COMPRESS", true)
	vp.SetDefault("REDIS_ADDR", "")
	vp.SetDefault("REDIS_PASSWORD", "")
	vp.SetDefault("REDIS_DB", 0)
	vp.SetDefault("REDIS_PREFIX", "audioseg")
	vp.SetDefault("MINIO_ENDPOINT", "")
	vp.SetDefault("MINIO_ACCESS_KEY", "")
	vp.SetDefault("MINIO_SECRET_KEY", "")
	vp.SetDefault("MINIO_BUCKET", "audioseg")
	vp.SetDefault("MINIO_USE_SSL", false)
	vp.SetDefault("MINIO_REGION", "us-east-1")

	vp.SetConfigName("audioseg_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/audioseg/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	vp.SetEnvPrefix("AUDIOSEG")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	// The order matters: the first hook that succeeds is used.
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	))
	if err != nil {
		return nil, err
	}
	for i, mt := range cfg.AllowedMimeTypes {
		cfg.AllowedMimeTypes[i] = strings.ToLower(strings.TrimSpace(mt))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

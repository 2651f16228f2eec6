package config

import (
	types "VodForge/pkg"
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const envPrefix = "VODFORGE"

type ConfigLoader struct {
	logger *zap.Logger
	v      *viper.Viper
}

func NewConfigLoader(logger *zap.Logger) *ConfigLoader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &ConfigLoader{
		logger: logger,
		v:      v,
	}
}

func (cl *ConfigLoader) Load(filePath string) (*Config, error) {
	cl.v.SetConfigFile(filePath)
	if err := cl.v.ReadInConfig(); err != nil {
		cl.logger.Error("Failed to read config file", zap.String("file", filePath), zap.Error(err))
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := cl.v.Unmarshal(&cfg); err != nil {
		cl.logger.Error("Failed to unmarshal config", zap.Error(err))
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cl.validate(&cfg); err != nil {
		cl.logger.Error("Config validation failed", zap.Error(err))
		return nil, err
	}

	cl.logger.Info("Config loaded successfully",
		zap.String("file", filePath),
		zap.Int("worker_slots", cfg.Pipeline.WorkerSlots),
		zap.Int("encode_concurrency", cfg.Pipeline.EncodeConcurrency),
		zap.String("queue_driver", cfg.Queue.Driver),
		zap.String("storage", cfg.Storage.Type),
	)
	return &cfg, nil
}

func (cl *ConfigLoader) validate(cfg *Config) error {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}

	if err := validatePipeline(&cfg.Pipeline); err != nil {
		return err
	}

	if len(cfg.Ladder) == 0 {
		cfg.Ladder = DefaultLadder()
	}
	if err := validateLadder(cfg.Ladder); err != nil {
		return err
	}

	switch strings.ToLower(cfg.Queue.Driver) {
	case "", "memory":
		cfg.Queue.Driver = "memory"
	case "redis":
		cfg.Queue.Driver = "redis"
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("redis.addr required for redis queue")
		}
	default:
		return fmt.Errorf("invalid queue driver: %s", cfg.Queue.Driver)
	}
	if cfg.Queue.KeyPrefix == "" {
		cfg.Queue.KeyPrefix = "vodforge"
	}
	if cfg.Queue.RetentionSec <= 0 {
		cfg.Queue.RetentionSec = 86400
	}
	if cfg.Queue.PollInterval <= 0 {
		cfg.Queue.PollInterval = 1000
	}
	if cfg.Queue.LeaseSec <= 0 {
		cfg.Queue.LeaseSec = 30
	}

	switch strings.ToLower(cfg.Database.Driver) {
	case "", "memory":
		cfg.Database.Driver = "memory"
	case "postgres":
		cfg.Database.Driver = "postgres"
		if cfg.Database.DSN == "" {
			return fmt.Errorf("database.dsn required for postgres")
		}
	default:
		return fmt.Errorf("invalid database driver: %s", cfg.Database.Driver)
	}

	if cfg.Kafka.Enabled {
		if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topic == "" {
			return fmt.Errorf("kafka brokers and topic required when kafka is enabled")
		}
		if cfg.Kafka.GroupID == "" {
			cfg.Kafka.GroupID = "vodforge-intake"
		}
	}

	if cfg.Storage.KeyPrefix == "" {
		cfg.Storage.KeyPrefix = "videos"
	}
	storage := strings.ToLower(cfg.Storage.Type)
	switch storage {
	case "s3":
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("s3 bucket required")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("s3 region required")
		}
		if cfg.Storage.S3.AccessKeyID == "" || cfg.Storage.S3.SecretAccessKey == "" {
			return fmt.Errorf("s3 access_key and secret_key required")
		}
	case "minio":
		if cfg.Storage.Minio.Endpoint == "" || cfg.Storage.Minio.Bucket == "" {
			return fmt.Errorf("minio endpoint and bucket required")
		}
	case "local":
		if cfg.Storage.Local.BasePath == "" {
			return fmt.Errorf("local base_path required")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s", storage)
	}
	cfg.Storage.Type = storage

	if cfg.Spool.UploadDir == "" {
		cfg.Spool.UploadDir = "./data/uploads"
	}
	if cfg.Spool.WorkDir == "" {
		cfg.Spool.WorkDir = "./data/work"
	}
	if cfg.Spool.MaxUploadMB <= 0 {
		cfg.Spool.MaxUploadMB = 2048
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if !isValidLogLevel(cfg.Logging.Level) {
		return fmt.Errorf("invalid log level: %s", cfg.Logging.Level)
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "console"
	}
	if cfg.Logging.Output == "file" && cfg.Logging.FilePath == "" {
		return fmt.Errorf("file_path required for file logging")
	}

	return nil
}

func validatePipeline(p *types.PipelineConfig) error {
	if p.WorkerSlots < 0 {
		return fmt.Errorf("worker_slots must be non-negative")
	}
	if p.WorkerSlots == 0 {
		p.WorkerSlots = 3
	}
	if p.EncodeConcurrency < 0 {
		return fmt.Errorf("encode_concurrency must be non-negative")
	}
	if p.EncodeConcurrency == 0 {
		p.EncodeConcurrency = max(runtime.NumCPU()/2, 1)
	}
	if p.JobTimeoutSec <= 0 {
		p.JobTimeoutSec = 3600
	}
	if p.SegmentDurationSec < 0 {
		return fmt.Errorf("segment_duration_sec must be positive")
	}
	if p.SegmentDurationSec == 0 {
		p.SegmentDurationSec = 6
	}

	if len(p.PackageFormats) == 0 {
		p.PackageFormats = []string{"hls"}
	}
	for i, f := range p.PackageFormats {
		f = strings.ToLower(f)
		if f != "hls" && f != "dash" {
			return fmt.Errorf("invalid package format: %s", f)
		}
		p.PackageFormats[i] = f
	}

	if len(p.ThumbnailFractions) == 0 {
		p.ThumbnailFractions = []float64{0.25, 0.5, 0.75}
	}
	for _, f := range p.ThumbnailFractions {
		if f < 0 || f > 1 {
			return fmt.Errorf("thumbnail fraction out of range: %v", f)
		}
	}

	if p.CRF == nil {
		crf := types.DefaultCRF
		p.CRF = &crf
	}
	if *p.CRF < 0 || *p.CRF > 51 {
		return fmt.Errorf("crf must be between 0 and 51")
	}
	if p.Preset == "" {
		p.Preset = "veryfast"
	}
	if p.AudioBitrateKbps <= 0 {
		p.AudioBitrateKbps = 128
	}
	if p.FFMpegPath == "" {
		p.FFMpegPath = "ffmpeg"
	}
	if p.FFProbePath == "" {
		p.FFProbePath = "ffprobe"
	}

	if err := defaultRetry(&p.Retry, 3, 1.0); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if err := defaultRetry(&p.UploadRetry, 3, 0.5); err != nil {
		return fmt.Errorf("upload_retry: %w", err)
	}
	return nil
}

func defaultRetry(r *types.RetryConfig, attempts int32, interval float64) error {
	if r.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must be non-negative")
	}
	if r.MaxAttempts == 0 {
		r.MaxAttempts = attempts
	}
	if r.InitialIntervalSec <= 0 {
		r.InitialIntervalSec = interval
	}
	if r.BackoffCoefficient <= 1 {
		r.BackoffCoefficient = 2.0
	}
	return nil
}

func validateLadder(ladder []types.RungConfig) error {
	seen := make(map[string]bool, len(ladder))
	for i, r := range ladder {
		if r.Label == "" {
			return fmt.Errorf("ladder rung %d: label required", i)
		}
		// labels name rendition files and storage keys
		if seen[r.Label] {
			return fmt.Errorf("ladder rung %d: duplicate label %s", i, r.Label)
		}
		seen[r.Label] = true
		if r.Width <= 0 || r.Height <= 0 || r.BitrateKbps <= 0 {
			return fmt.Errorf("ladder rung %s: width, height and bitrate must be positive", r.Label)
		}
		if i == 0 {
			continue
		}
		prev := ladder[i-1]
		if r.Width <= prev.Width || r.Height <= prev.Height || r.BitrateKbps <= prev.BitrateKbps {
			return fmt.Errorf("ladder must be strictly increasing: %s does not exceed %s", r.Label, prev.Label)
		}
	}
	return nil
}

func isValidLogLevel(level string) bool {
	levels := []string{"debug", "info", "warn", "error"}
	for _, l := range levels {
		if strings.ToLower(level) == l {
			return true
		}
	}
	return false
}

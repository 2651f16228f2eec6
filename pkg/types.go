package types

// RungConfig is one entry of the rendition ladder.
type RungConfig struct {
	Label       string `mapstructure:"label" json:"label"`
	Width       int    `mapstructure:"width" json:"width"`
	Height      int    `mapstructure:"height" json:"height"`
	BitrateKbps int    `mapstructure:"bitrate_kbps" json:"bitrate_kbps"`
}

// DefaultCRF is used when the config leaves pipeline.crf unset. A pointer
// keeps an explicit crf: 0 (lossless) distinguishable from a missing key.
const DefaultCRF = 23

type PipelineConfig struct {
	WorkerSlots        int         `mapstructure:"worker_slots" json:"worker_slots"`
	EncodeConcurrency  int         `mapstructure:"encode_concurrency" json:"encode_concurrency"`
	JobTimeoutSec      int         `mapstructure:"job_timeout_sec" json:"job_timeout_sec"`
	SegmentDurationSec int         `mapstructure:"segment_duration_sec" json:"segment_duration_sec"`
	PackageFormats     []string    `mapstructure:"package_formats" json:"package_formats"`
	ThumbnailFractions []float64   `mapstructure:"thumbnail_fractions" json:"thumbnail_fractions"`
	CRF                *int        `mapstructure:"crf" json:"crf"`
	Preset             string      `mapstructure:"preset" json:"preset"`
	AudioBitrateKbps   int         `mapstructure:"audio_bitrate_kbps" json:"audio_bitrate_kbps"`
	FFMpegPath         string      `mapstructure:"ffmpeg_path" json:"ffmpeg_path"`
	FFProbePath        string      `mapstructure:"ffprobe_path" json:"ffprobe_path"`
	Retry              RetryConfig `mapstructure:"retry" json:"retry"`
	UploadRetry        RetryConfig `mapstructure:"upload_retry" json:"upload_retry"`
}

type RetryConfig struct {
	MaxAttempts        int32   `mapstructure:"max_attempts" json:"max_attempts"`
	InitialIntervalSec float64 `mapstructure:"initial_interval_sec" json:"initial_interval_sec"`
	BackoffCoefficient float64 `mapstructure:"backoff_coefficient" json:"backoff_coefficient"`
}

type QueueConfig struct {
	Driver       string `mapstructure:"driver" json:"driver"`
	KeyPrefix    string `mapstructure:"key_prefix" json:"key_prefix"`
	RetentionSec int    `mapstructure:"retention_sec" json:"retention_sec"`
	PollInterval int    `mapstructure:"poll_interval_ms" json:"poll_interval_ms"`
	LeaseSec     int    `mapstructure:"lease_sec" json:"lease_sec"`
}

type RedisConfig struct {
	Addr         string `mapstructure:"addr" json:"addr"`
	Password     string `mapstructure:"password" json:"password"`
	DB           int    `mapstructure:"db" json:"db"`
	PoolSize     int    `mapstructure:"pool_size" json:"pool_size"`
	DialTimeout  int    `mapstructure:"dial_timeout_ms" json:"dial_timeout_ms"`
	ReadTimeout  int    `mapstructure:"read_timeout_ms" json:"read_timeout_ms"`
	WriteTimeout int    `mapstructure:"write_timeout_ms" json:"write_timeout_ms"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled" json:"enabled"`
	Brokers []string `mapstructure:"brokers" json:"brokers"`
	Topic   string   `mapstructure:"topic" json:"topic"`
	GroupID string   `mapstructure:"group_id" json:"group_id"`
}

type StorageConfig struct {
	Type  string      `mapstructure:"type" json:"type"`
	Local LocalConfig `mapstructure:"local" json:"local"`
	S3    S3Config    `mapstructure:"s3" json:"s3"`
	Minio MinioConfig `mapstructure:"minio" json:"minio"`
	// KeyPrefix is prepended to every artifact key, e.g. "videos".
	KeyPrefix string `mapstructure:"key_prefix" json:"key_prefix"`
}

type LocalConfig struct {
	BasePath      string `mapstructure:"base_path" json:"base_path"`
	PublicBaseURL string `mapstructure:"public_base_url" json:"public_base_url"`
}

type S3Config struct {
	Bucket          string `mapstructure:"bucket" json:"bucket"`
	Region          string `mapstructure:"region" json:"region"`
	AccessKeyID     string `mapstructure:"access_key_id" json:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" json:"secret_access_key"`
	Endpoint        string `mapstructure:"endpoint" json:"endpoint"`
	PublicBaseURL   string `mapstructure:"public_base_url" json:"public_base_url"`
}

type MinioConfig struct {
	Endpoint        string `mapstructure:"endpoint" json:"endpoint"`
	Bucket          string `mapstructure:"bucket" json:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id" json:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" json:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl" json:"use_ssl"`
	PublicBaseURL   string `mapstructure:"public_base_url" json:"public_base_url"`
}

// SpoolConfig locates the local scratch space for uploads received over HTTP.
type SpoolConfig struct {
	UploadDir   string `mapstructure:"upload_dir" json:"upload_dir"`
	WorkDir     string `mapstructure:"work_dir" json:"work_dir"`
	MaxUploadMB int64  `mapstructure:"max_upload_mb" json:"max_upload_mb"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level" json:"level"`
	Output   string `mapstructure:"output" json:"output"`
	FilePath string `mapstructure:"file_path" json:"file_path"`
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	NATS        NATSConfig        `yaml:"nats"`
	MinIO       MinIOConfig       `yaml:"minio"`
	Vision      VisionConfig      `yaml:"vision"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// VisionConfig carries the Model Registry / Pipeline Service settings named
// in the environment table (MODELS_DIR, DETECTION_THRESHOLD, ...).
type VisionConfig struct {
	ModelsDir             string  `yaml:"models_dir"`
	DetectorModel         string  `yaml:"detector_model"`
	EmbedderModel         string  `yaml:"embedder_model"`
	DetectionThreshold    float64 `yaml:"detection_threshold"`
	MinFaceSize           int     `yaml:"min_face_size"`
	MaxFaces              int     `yaml:"max_faces"`
	MinQualityScore       float64 `yaml:"min_quality_score"`
	LivenessMoveThreshold float64 `yaml:"liveness_movement_threshold"`
	WorkerCount           int     `yaml:"worker_count"`
	IntraOpThreads        int     `yaml:"intra_op_threads"`
	InterOpThreads        int     `yaml:"inter_op_threads"`
	ServiceTimeout        time.Duration `yaml:"service_timeout"`
}

// CoordinatorConfig holds coordinator defaults loaded from YAML and the
// environment. Neither the Coordinator nor OrganizationHandler reads these
// values: OrganizationHandler fills in a built-in 0.75 threshold and "09:00"
// check-in end at creation, and the Coordinator falls back to a built-in 0.75
// for a non-positive organization threshold.
type CoordinatorConfig struct {
	DefaultRecognitionThreshold float64 `yaml:"default_recognition_threshold"`
	DefaultCheckInEnd           string  `yaml:"default_check_in_end"`
	DefaultLateThresholdMinutes int     `yaml:"default_late_threshold_minutes"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Vision.ModelsDir == "" {
		cfg.Vision.ModelsDir = "models"
	}
	if cfg.Vision.DetectorModel == "" {
		cfg.Vision.DetectorModel = "det_10g.onnx"
	}
	if cfg.Vision.EmbedderModel == "" {
		cfg.Vision.EmbedderModel = "w600k_r50.onnx"
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.MinFaceSize == 0 {
		cfg.Vision.MinFaceSize = 50
	}
	if cfg.Vision.MaxFaces == 0 {
		cfg.Vision.MaxFaces = 10
	}
	if cfg.Vision.MinQualityScore == 0 {
		cfg.Vision.MinQualityScore = 0.3
	}
	if cfg.Vision.LivenessMoveThreshold == 0 {
		cfg.Vision.LivenessMoveThreshold = 0.02
	}
	if cfg.Vision.WorkerCount == 0 {
		cfg.Vision.WorkerCount = 0 // 0 means "runtime.NumCPU()", resolved by the pipeline
	}
	if cfg.Vision.ServiceTimeout == 0 {
		cfg.Vision.ServiceTimeout = 10 * time.Second
	}
	if cfg.Coordinator.DefaultRecognitionThreshold == 0 {
		cfg.Coordinator.DefaultRecognitionThreshold = 0.75
	}
	if cfg.Coordinator.DefaultCheckInEnd == "" {
		cfg.Coordinator.DefaultCheckInEnd = "09:00"
	}
	if cfg.Coordinator.DefaultLateThresholdMinutes == 0 {
		cfg.Coordinator.DefaultLateThresholdMinutes = 15
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FACELOGIX_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FACELOGIX_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("FACELOGIX_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("FACELOGIX_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("FACELOGIX_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("FACELOGIX_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("FACELOGIX_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("FACELOGIX_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("FACELOGIX_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("FACELOGIX_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("FACELOGIX_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("FACELOGIX_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("DETECTOR_MODEL"); v != "" {
		cfg.Vision.DetectorModel = v
	}
	if v := os.Getenv("EMBEDDER_MODEL"); v != "" {
		cfg.Vision.EmbedderModel = v
	}
	if v := os.Getenv("DETECTION_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Vision.DetectionThreshold = f
		}
	}
	if v := os.Getenv("MIN_FACE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vision.MinFaceSize = n
		}
	}
	if v := os.Getenv("MAX_FACES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vision.MaxFaces = n
		}
	}
	if v := os.Getenv("MIN_QUALITY_SCORE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Vision.MinQualityScore = f
		}
	}
	if v := os.Getenv("LIVENESS_MOVEMENT_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Vision.LivenessMoveThreshold = f
		}
	}
	if v := os.Getenv("FACE_SERVICE_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vision.ServiceTimeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("FACELOGIX_VISION_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vision.WorkerCount = n
		}
	}
	if v := os.Getenv("DEFAULT_RECOGNITION_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Coordinator.DefaultRecognitionThreshold = f
		}
	}
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	NATS       NATSConfig       `yaml:"nats"`
	MinIO      MinIOConfig      `yaml:"minio"`
	Detection  DetectionConfig  `yaml:"detection"`
	Quality    QualityConfig    `yaml:"quality"`
	Liveness   LivenessConfig   `yaml:"liveness"`
	Matching   MatchingConfig   `yaml:"matching"`
	Emotion    EmotionConfig    `yaml:"emotion"`
	Attendance AttendanceConfig `yaml:"attendance"`
	Tracking   TrackingConfig   `yaml:"tracking"`
	Logging    LoggingConfig    `yaml:"logging"`
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

// DetectionConfig selects and tunes the face detection backend and the
// frame gating that keeps the compute stages under the frame-rate budget.
type DetectionConfig struct {
	Backend     string  `yaml:"backend"` // retinaface, yunet
	ModelsDir   string  `yaml:"models_dir"`
	Threshold   float64 `yaml:"threshold"`
	FrameSkipN  int     `yaml:"frame_skip_n"` // every Nth raw frame runs detection
	FrameSkipM  int     `yaml:"frame_skip_m"` // every Mth admitted frame runs the full path
	FrameWidth  int     `yaml:"frame_width"`
	DefaultFPS  int     `yaml:"default_fps"`
	WorkerCount int     `yaml:"worker_count"`
}

type QualityConfig struct {
	MinScore       float64 `yaml:"min_score"`
	BrightnessMin  float64 `yaml:"brightness_min"`
	BrightnessMax  float64 `yaml:"brightness_max"`
	SharpnessFloor float64 `yaml:"sharpness_floor"`
	MinFacePixels  int     `yaml:"min_face_pixels"`
}

// Duration decodes YAML strings like "3s" or "500ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

type LivenessConfig struct {
	Window           Duration `yaml:"window"`
	MinBlinks        int      `yaml:"min_blinks"`
	EARThreshold     float64  `yaml:"ear_threshold"`
	BlinkFrames      int      `yaml:"blink_frames"`
	MotionThreshold  float64  `yaml:"motion_threshold"`
	TextureThreshold float64  `yaml:"texture_threshold"`
}

type MatchingConfig struct {
	Strategy  string  `yaml:"strategy"` // brute, hnsw
	Tolerance float64 `yaml:"tolerance"`
}

type EmotionConfig struct {
	BufferSize      int     `yaml:"buffer_size"`
	ConfidenceFloor float64 `yaml:"confidence_floor"`
}

type AttendanceConfig struct {
	LateCutoff string `yaml:"late_cutoff"` // HH:MM local time
}

// CutoffMinutes parses LateCutoff into minutes since midnight.
func (a AttendanceConfig) CutoffMinutes() (int, error) {
	t, err := time.Parse("15:04", a.LateCutoff)
	if err != nil {
		return 0, fmt.Errorf("parse late_cutoff %q: %w", a.LateCutoff, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

type TrackingConfig struct {
	MaxAge  int `yaml:"max_age"`
	MinHits int `yaml:"min_hits"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from a YAML file and applies environment variable
// overrides. A .env file in the working directory is honoured if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

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

	if _, err := cfg.Attendance.CutoffMinutes(); err != nil {
		return nil, err
	}

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
	if cfg.Detection.Backend == "" {
		cfg.Detection.Backend = "retinaface"
	}
	if cfg.Detection.Threshold == 0 {
		cfg.Detection.Threshold = 0.5
	}
	if cfg.Detection.FrameSkipN == 0 {
		cfg.Detection.FrameSkipN = 3
	}
	if cfg.Detection.FrameSkipM == 0 {
		cfg.Detection.FrameSkipM = 2
	}
	if cfg.Detection.FrameWidth == 0 {
		cfg.Detection.FrameWidth = 640
	}
	if cfg.Detection.DefaultFPS == 0 {
		cfg.Detection.DefaultFPS = 30
	}
	if cfg.Detection.WorkerCount == 0 {
		cfg.Detection.WorkerCount = 4
	}
	if cfg.Quality.MinScore == 0 {
		cfg.Quality.MinScore = 0.5
	}
	if cfg.Quality.BrightnessMin == 0 {
		cfg.Quality.BrightnessMin = 80
	}
	if cfg.Quality.BrightnessMax == 0 {
		cfg.Quality.BrightnessMax = 180
	}
	if cfg.Quality.SharpnessFloor == 0 {
		cfg.Quality.SharpnessFloor = 100
	}
	if cfg.Quality.MinFacePixels == 0 {
		cfg.Quality.MinFacePixels = 6400
	}
	if cfg.Liveness.Window == 0 {
		cfg.Liveness.Window = Duration(3 * time.Second)
	}
	if cfg.Liveness.MinBlinks == 0 {
		cfg.Liveness.MinBlinks = 1
	}
	if cfg.Liveness.EARThreshold == 0 {
		cfg.Liveness.EARThreshold = 0.21
	}
	if cfg.Liveness.BlinkFrames == 0 {
		cfg.Liveness.BlinkFrames = 2
	}
	if cfg.Liveness.MotionThreshold == 0 {
		cfg.Liveness.MotionThreshold = 0.5
	}
	if cfg.Liveness.TextureThreshold == 0 {
		cfg.Liveness.TextureThreshold = 100
	}
	if cfg.Matching.Strategy == "" {
		cfg.Matching.Strategy = "brute"
	}
	if cfg.Matching.Tolerance == 0 {
		cfg.Matching.Tolerance = 0.6
	}
	if cfg.Emotion.BufferSize == 0 {
		cfg.Emotion.BufferSize = 10
	}
	if cfg.Emotion.ConfidenceFloor == 0 {
		cfg.Emotion.ConfidenceFloor = 0.5
	}
	if cfg.Attendance.LateCutoff == "" {
		cfg.Attendance.LateCutoff = "09:00"
	}
	if cfg.Tracking.MaxAge == 0 {
		cfg.Tracking.MaxAge = 30
	}
	if cfg.Tracking.MinHits == 0 {
		cfg.Tracking.MinHits = 3
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VERID_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("VERID_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("VERID_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("VERID_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("VERID_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("VERID_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("VERID_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("VERID_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("VERID_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("VERID_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("VERID_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("VERID_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("VERID_MODELS_DIR"); v != "" {
		cfg.Detection.ModelsDir = v
	}
	if v := os.Getenv("VERID_DETECTION_BACKEND"); v != "" {
		cfg.Detection.Backend = v
	}
	if v := os.Getenv("VERID_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Detection.WorkerCount = n
		}
	}
	if v := os.Getenv("VERID_LATE_CUTOFF"); v != "" {
		cfg.Attendance.LateCutoff = v
	}
}

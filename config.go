package idtrack

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/thaqib/go-idtrack/facemesh"
	"github.com/thaqib/go-idtrack/registry"
	"github.com/thaqib/go-idtrack/reid"
	"github.com/thaqib/go-idtrack/tracker"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the Pipeline and the example application
type Config struct {
	Detection  DetectionConfig  `yaml:"detection"`
	Tracking   TrackingConfig   `yaml:"tracking"`
	ReID       ReIDConfig       `yaml:"reid"`
	Registry   RegistryConfig   `yaml:"registry"`
	Risk       RiskConfig       `yaml:"risk"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Camera     CameraConfig     `yaml:"camera"`
	Models     ModelConfig      `yaml:"models"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// DetectionConfig controls the background detector
type DetectionConfig struct {
	Interval     time.Duration `yaml:"interval" validate:"gt=0"`
	StopTimeout  time.Duration `yaml:"stop_timeout" validate:"gt=0"`
	Confidence   float64       `yaml:"confidence" validate:"gte=0,lte=1"`
	NMSThreshold float64       `yaml:"nms_threshold" validate:"gt=0,lte=1"`
	InputSize    int           `yaml:"input_size" validate:"gt=0"`
	// SliceSize enables tiled detection with tiles of this side, zero runs
	// the detector on the whole frame only
	SliceSize    int     `yaml:"slice_size" validate:"gte=0"`
	SliceOverlap float64 `yaml:"slice_overlap" validate:"gte=0,lt=1"`
}

// TrackingConfig controls the tracking engine and stabilizer
type TrackingConfig struct {
	FrameRate      int     `yaml:"frame_rate" validate:"gt=0"`
	TrackBuffer    int     `yaml:"track_buffer" validate:"gt=0"`
	TrackThresh    float64 `yaml:"track_thresh" validate:"gte=0,lte=1"`
	HighThresh     float64 `yaml:"high_thresh" validate:"gte=0,lte=1"`
	MatchThresh    float64 `yaml:"match_thresh" validate:"gt=0,lte=1"`
	SmoothingAlpha float64 `yaml:"smoothing_alpha" validate:"gt=0,lt=1"`
	// StabilityWindow is the number of frames a missing identity keeps
	// being emitted as a predicted track
	StabilityWindow     int     `yaml:"stability_window" validate:"gte=1"`
	PredictedConfidence float64 `yaml:"predicted_confidence" validate:"gte=0,lte=1"`
	TrailLength         int     `yaml:"trail_length" validate:"gte=0"`
}

// ReIDConfig controls identity matching and locking
type ReIDConfig struct {
	Threshold       float64 `yaml:"threshold" validate:"gt=0,lte=1"`
	AppearanceAlpha float64 `yaml:"appearance_alpha" validate:"gt=0,lt=1"`
	FaceAlpha       float64 `yaml:"face_alpha" validate:"gt=0,lt=1"`
	LockThreshold   int     `yaml:"lock_threshold" validate:"gt=0"`
}

// RegistryConfig controls the identity ledger
type RegistryConfig struct {
	Expiry    time.Duration `yaml:"expiry" validate:"gt=0"`
	Neighbors int           `yaml:"neighbors" validate:"gte=0"`
}

// RiskConfig controls paper zones and risk ranges
type RiskConfig struct {
	MaxDistance      float64 `yaml:"max_distance" validate:"gte=0"`
	Tolerance        float64 `yaml:"tolerance" validate:"gt=0,lte=180"`
	PaperOffsetRatio float64 `yaml:"paper_offset_ratio" validate:"gte=0"`
	ZoneMargin       float64 `yaml:"zone_margin" validate:"gte=0"`
	// MinGazeDeflection is the head turn in degrees below which the person
	// is considered to face the camera
	MinGazeDeflection float64 `yaml:"min_gaze_deflection" validate:"gte=0,lt=90"`
}

// ExtractionConfig controls per person feature extraction
type ExtractionConfig struct {
	Workers      int           `yaml:"workers" validate:"gt=0"`
	FaceCacheTTL time.Duration `yaml:"face_cache_ttl" validate:"gte=0"`
	MinFaceSize  int           `yaml:"min_face_size" validate:"gte=0"`
}

// CameraConfig selects and sizes the capture source.  Source is a device
// index, file path or stream URL
type CameraConfig struct {
	Source string `yaml:"source" validate:"required"`
	Width  int    `yaml:"width" validate:"gte=0"`
	Height int    `yaml:"height" validate:"gte=0"`
	FPS    int    `yaml:"fps" validate:"gte=0"`
}

// ModelConfig holds model file paths.  An empty Embedder path selects face
// geometry re-identification
type ModelConfig struct {
	Detector string `yaml:"detector"`
	Embedder string `yaml:"embedder"`
	FaceMesh string `yaml:"face_mesh"`
}

// LoggingConfig controls log output
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	// PerfInterval is the number of frames between performance summaries,
	// zero disables them
	PerfInterval int `yaml:"perf_interval" validate:"gte=0"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {

	arb := reid.DefaultConfig()
	risk := registry.DefaultRiskModeler()

	return Config{
		Detection: DetectionConfig{
			Interval:     DefaultDetectionInterval,
			StopTimeout:  DefaultStopTimeout,
			Confidence:   0.5,
			NMSThreshold: 0.45,
			InputSize:    640,
			SliceOverlap: 0.2,
		},
		Tracking: TrackingConfig{
			FrameRate:           30,
			TrackBuffer:         30,
			TrackThresh:         0.5,
			HighThresh:          0.6,
			MatchThresh:         0.8,
			SmoothingAlpha:      tracker.DefaultSmoothingAlpha,
			StabilityWindow:     15,
			PredictedConfidence: 0.3,
			TrailLength:         30,
		},
		ReID: ReIDConfig{
			Threshold:       arb.Threshold,
			AppearanceAlpha: arb.AppearanceKeep,
			FaceAlpha:       arb.FaceKeep,
			LockThreshold:   arb.LockThreshold,
		},
		Registry: RegistryConfig{
			Expiry:    registry.DefaultExpiry,
			Neighbors: registry.DefaultNeighbors,
		},
		Risk: RiskConfig{
			MaxDistance:       risk.MaxDistance,
			Tolerance:         risk.Tolerance,
			PaperOffsetRatio:  risk.PaperOffsetRatio,
			ZoneMargin:        risk.ZoneMargin,
			MinGazeDeflection: 10,
		},
		Extraction: ExtractionConfig{
			Workers:      4,
			FaceCacheTTL: facemesh.DefaultCacheTTL,
			MinFaceSize:  facemesh.DefaultMinFaceSize,
		},
		Camera: CameraConfig{
			Source: "0",
			Width:  1280,
			Height: 720,
			FPS:    30,
		},
		Logging: LoggingConfig{
			Level:        "info",
			PerfInterval: 30,
		},
	}
}

// LoadConfig reads a yaml configuration file.  Settings missing from the
// file keep their default values
func LoadConfig(path string) (Config, error) {

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)

	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks every setting is within range
func (c Config) Validate() error {

	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	return nil
}

// ArbiterConfig returns the re-identification settings
func (c Config) ArbiterConfig() reid.Config {
	return reid.Config{
		Threshold:      c.ReID.Threshold,
		AppearanceKeep: c.ReID.AppearanceAlpha,
		FaceKeep:       c.ReID.FaceAlpha,
		LockThreshold:  c.ReID.LockThreshold,
	}
}

// RiskModeler returns the paper zone and risk range settings
func (c Config) RiskModeler() registry.RiskModeler {
	return registry.RiskModeler{
		MaxDistance:      c.Risk.MaxDistance,
		Tolerance:        c.Risk.Tolerance,
		PaperOffsetRatio: c.Risk.PaperOffsetRatio,
		ZoneMargin:       c.Risk.ZoneMargin,
	}
}

// LogLevel returns the slog level for the configured level name
func (c Config) LogLevel() slog.Level {

	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Package config loads and validates the pipeline's YAML configuration
// (spec §6): one block of publisher settings shared by every camera, and
// a per-camera block of stream/detector/ROI settings.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/technosupport/ts-vms/internal/geometry"
)

// Config is the root of the YAML document.
type Config struct {
	Publishers Publishers        `yaml:"publishers"`
	Cameras    map[string]Camera `yaml:"cameras"`
}

type Publishers struct {
	KDS KDSConfig `yaml:"kds"`
	S3  S3Config  `yaml:"s3"`
	DDB DDBConfig `yaml:"ddb"`
}

// KDSConfig configures the event-stream publisher (spec §4.6.1/§6).
type KDSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	StreamName        string `yaml:"stream_name"`
	Region            string `yaml:"region"`
	BatchSize         int    `yaml:"batch_size"`
	MaxRetries        int    `yaml:"max_retries"`
	BaseBackoffMs     int64  `yaml:"base_backoff_ms"`
	PartitionKeyField string `yaml:"partition_key_field"` // "camera_id" or "event_type"
}

// S3Config configures the snapshot publisher (spec §4.6.2/§6).
type S3Config struct {
	Enabled       bool   `yaml:"enabled"`
	Bucket        string `yaml:"bucket"`
	Prefix        string `yaml:"prefix"`
	Region        string `yaml:"region"`
	JPEGQuality   int    `yaml:"jpeg_quality"`
	SaveSnapshots bool   `yaml:"save_snapshots"`
}

// DDBConfig configures the metadata publisher (spec §4.6.3/§6).
type DDBConfig struct {
	Enabled   bool   `yaml:"enabled"`
	TableName string `yaml:"table_name"`
	Region    string `yaml:"region"`
	TTLDays   int64  `yaml:"ttl_days"` // 0 disables TTL
	ChunkSize int    `yaml:"chunk_size"`
}

// TTLSeconds is the DynamoDB TTL horizon expressed in seconds, as the
// metadata publisher's DDBConfig.TTLSeconds wants it.
func (c DDBConfig) TTLSeconds() int64 {
	return c.TTLDays * 86400
}

// Camera configures one stream and its detector chain.
type Camera struct {
	Enabled         bool         `yaml:"enabled"`
	KVSStreamName   string       `yaml:"kvs_stream_name"`
	KVS             KVS          `yaml:"kvs"`
	FPSTarget       float64      `yaml:"fps_target"`
	ROI             []ROIPolygon `yaml:"roi"`
	ROIMode         string       `yaml:"roi_mode"` // center|any|all|overlap
	MinOverlap      float64      `yaml:"min_overlap"`
	MinBoxArea      float64      `yaml:"min_box_area"`
	Detectors       []Detector   `yaml:"detectors"`
	EventIDBucketMs int64        `yaml:"event_id_bucket_ms"`
}

// KVS configures this camera's HLS frame source (spec §4.4/§6).
type KVS struct {
	Region                string  `yaml:"region"`
	HLSSessionSeconds     int     `yaml:"hls_session_seconds"`
	RefreshMargin         int     `yaml:"refresh_margin"`
	ReconnectDelaySec     float64 `yaml:"reconnect_delay_sec"`
	ReconnectDelayMaxSec  float64 `yaml:"reconnect_delay_max_sec"`
	BackoffMultiplier     float64 `yaml:"backoff_multiplier"`
	MaxConsecutiveErrors  int     `yaml:"max_consecutive_errors"`
	DecodeWidth           int     `yaml:"decode_width"`
	DecodeHeight          int     `yaml:"decode_height"`
}

// ROIPolygon is a flat list of [x, y] pairs defining one polygon.
type ROIPolygon [][2]float64

func (p ROIPolygon) ToPolygon() geometry.Polygon {
	poly := make(geometry.Polygon, len(p))
	for i, pt := range p {
		poly[i] = geometry.Point{X: pt[0], Y: pt[1]}
	}
	return poly
}

// Detector configures one entry in a camera's detector chain (spec §4.5).
type Detector struct {
	Type   string         `yaml:"type"` // weapon|fire_smoke|alpr
	Params map[string]any `yaml:"params"`
}

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate reports the first configuration violation found (spec §7:
// a config error aborts startup, it is never retried).
func (c *Config) Validate() error {
	if len(c.Cameras) == 0 {
		return fmt.Errorf("at least one camera must be configured")
	}
	if c.Publishers.KDS.BatchSize < 0 || c.Publishers.KDS.BatchSize > 500 {
		return fmt.Errorf("publishers.kds.batch_size must be in [0,500]")
	}
	if c.Publishers.KDS.MaxRetries < 0 {
		return fmt.Errorf("publishers.kds.max_retries must not be negative")
	}
	if c.Publishers.S3.JPEGQuality < 0 || c.Publishers.S3.JPEGQuality > 100 {
		return fmt.Errorf("publishers.s3.jpeg_quality must be in [0,100]")
	}
	if c.Publishers.DDB.ChunkSize < 0 || c.Publishers.DDB.ChunkSize > 25 {
		return fmt.Errorf("publishers.ddb.chunk_size must be in [0,25]")
	}
	if c.Publishers.DDB.TTLDays < 0 {
		return fmt.Errorf("publishers.ddb.ttl_days must not be negative")
	}

	for id, cam := range c.Cameras {
		if !cam.Enabled {
			continue
		}
		if cam.KVSStreamName == "" {
			return fmt.Errorf("camera %q: kvs_stream_name must not be empty", id)
		}
		if cam.KVS.HLSSessionSeconds < 60 || cam.KVS.HLSSessionSeconds > 43200 {
			return fmt.Errorf("camera %q: kvs.hls_session_seconds out of range [60,43200]", id)
		}
		if cam.KVS.RefreshMargin >= cam.KVS.HLSSessionSeconds {
			return fmt.Errorf("camera %q: kvs.refresh_margin must be less than hls_session_seconds", id)
		}
		if cam.FPSTarget <= 0 {
			return fmt.Errorf("camera %q: fps_target must be positive", id)
		}
		switch cam.ROIMode {
		case "", "center", "any", "all", "overlap":
		default:
			return fmt.Errorf("camera %q: roi_mode %q is not one of center|any|all|overlap", id, cam.ROIMode)
		}
		if len(cam.Detectors) == 0 {
			return fmt.Errorf("camera %q: at least one detector must be configured", id)
		}
		for _, det := range cam.Detectors {
			switch det.Type {
			case "weapon", "fire_smoke", "alpr":
			default:
				return fmt.Errorf("camera %q: unknown detector type %q", id, det.Type)
			}
		}
	}
	return nil
}

// FramePeriod is the inter-read delay implied by fps_target, used by the
// worker to throttle reads before pulling the next frame (spec §5).
func (c Camera) FramePeriod() time.Duration {
	if c.FPSTarget <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / c.FPSTarget)
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
publishers:
  kds:
    enabled: true
    stream_name: events
    region: us-east-1
    batch_size: 100
    max_retries: 3
    base_backoff_ms: 100
    partition_key_field: camera_id
  s3:
    enabled: true
    bucket: snapshots
    prefix: cam
    region: us-east-1
    jpeg_quality: 85
    save_snapshots: true
  ddb:
    enabled: true
    table_name: metadata
    region: us-east-1
    ttl_days: 7
    chunk_size: 25
cameras:
  front-door:
    enabled: true
    kvs_stream_name: front-door-stream
    kvs:
      region: us-east-1
      hls_session_seconds: 300
      refresh_margin: 60
      reconnect_delay_sec: 1
      reconnect_delay_max_sec: 30
      backoff_multiplier: 2
      max_consecutive_errors: 5
      decode_width: 1280
      decode_height: 720
    fps_target: 5
    roi_mode: center
    min_box_area: 100
    detectors:
      - type: weapon
        params:
          conf_threshold: 0.6
`

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeTemp(t, validYAML)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Contains(t, cfg.Cameras, "front-door")
	assert.Equal(t, "front-door-stream", cfg.Cameras["front-door"].KVSStreamName)
	assert.Equal(t, 300, cfg.Cameras["front-door"].KVS.HLSSessionSeconds)
	assert.Equal(t, int64(604800), cfg.Publishers.DDB.TTLSeconds())
	assert.True(t, cfg.Publishers.S3.SaveSnapshots)
	assert.Equal(t, 3, cfg.Publishers.KDS.MaxRetries)
}

func TestValidate_RejectsMissingCameras(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one camera")
}

func TestValidate_SkipsDisabledCameras(t *testing.T) {
	cfg := &Config{Cameras: map[string]Camera{
		"cam": {Enabled: false},
	}}
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RejectsRefreshMarginTooLarge(t *testing.T) {
	cfg := &Config{Cameras: map[string]Camera{
		"cam": {
			Enabled:       true,
			KVSStreamName: "s",
			KVS:           KVS{HLSSessionSeconds: 100, RefreshMargin: 100},
			FPSTarget:     5,
			Detectors:     []Detector{{Type: "weapon"}},
		},
	}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refresh_margin")
}

func TestValidate_RejectsUnknownDetectorType(t *testing.T) {
	cfg := &Config{Cameras: map[string]Camera{
		"cam": {
			Enabled:       true,
			KVSStreamName: "s",
			KVS:           KVS{HLSSessionSeconds: 100, RefreshMargin: 10},
			FPSTarget:     5,
			Detectors:     []Detector{{Type: "laser"}},
		},
	}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown detector type")
}

func TestCamera_FramePeriod(t *testing.T) {
	c := Camera{FPSTarget: 10}
	assert.Equal(t, int64(100_000_000), c.FramePeriod().Nanoseconds())
}

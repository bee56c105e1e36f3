// Package supervisor wires the configured cameras, shared publishers, and
// detector chains into running workers, and owns the process-level HTTP
// surface and graceful shutdown (spec §5/§6/§7). It is the root of the
// pipeline: everything else in this module is a leaf this package assembles.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/technosupport/ts-vms/internal/clock"
	"github.com/technosupport/ts-vms/internal/config"
	"github.com/technosupport/ts-vms/internal/detector"
	"github.com/technosupport/ts-vms/internal/kvs"
	"github.com/technosupport/ts-vms/internal/publish"
	"github.com/technosupport/ts-vms/internal/worker"
)

// ShutdownTimeout bounds how long Run waits for camera workers to stop
// after the context is cancelled before it gives up and flushes anyway
// (spec §7 S6: SIGTERM must result in a clean exit within 5s).
const ShutdownTimeout = 5 * time.Second

// Supervisor owns the shared publishers and the set of running camera
// workers built from one loaded configuration.
type Supervisor struct {
	cfg  *config.Config
	log  *slog.Logger
	http string // listen address, "" disables the HTTP surface

	events    publish.EventPublisher
	snapshots publish.SnapshotPublisher
	metadata  publish.MetadataPublisher

	mu      sync.Mutex
	workers map[string]*worker.Worker
}

// New builds the shared publishers and one worker per configured camera.
// It does not start anything; call Run to do that.
func New(cfg *config.Config, awsCfg aws.Config, httpAddr string, log *slog.Logger) (*Supervisor, error) {
	if log == nil {
		log = slog.Default()
	}

	events := publish.NewKDSPublisher(awsCfg, publish.KDSConfig{
		StreamName:  cfg.Publishers.KDS.StreamName,
		BatchSize:   cfg.Publishers.KDS.BatchSize,
		MaxRetries:  cfg.Publishers.KDS.MaxRetries,
		BaseBackoff: time.Duration(cfg.Publishers.KDS.BaseBackoffMs) * time.Millisecond,
	}, log)
	snapshots := publish.NewS3Publisher(awsCfg, publish.S3Config{
		Bucket: cfg.Publishers.S3.Bucket,
		Prefix: cfg.Publishers.S3.Prefix,
	}, log)
	metadata := publish.NewDDBPublisher(awsCfg, publish.DDBConfig{
		TableName:  cfg.Publishers.DDB.TableName,
		TTLSeconds: cfg.Publishers.DDB.TTLSeconds(),
		ChunkSize:  cfg.Publishers.DDB.ChunkSize,
	}, log)

	s := &Supervisor{
		cfg:       cfg,
		log:       log,
		http:      httpAddr,
		events:    events,
		snapshots: snapshots,
		metadata:  metadata,
		workers:   make(map[string]*worker.Worker),
	}

	for cameraID, cam := range cfg.Cameras {
		if !cam.Enabled {
			log.Info("camera disabled, skipping worker", "camera_id", cameraID)
			continue
		}
		w, err := s.buildWorker(cameraID, cam, awsCfg)
		if err != nil {
			return nil, fmt.Errorf("supervisor: camera %s: %w", cameraID, err)
		}
		s.workers[cameraID] = w
	}
	return s, nil
}

func (s *Supervisor) buildWorker(cameraID string, cam config.Camera, awsCfg aws.Config) (*worker.Worker, error) {
	detectors := make([]detector.Detector, 0, len(cam.Detectors))
	for _, dc := range cam.Detectors {
		d, err := detector.New(dc.Type, dc.Params)
		if err != nil {
			return nil, err
		}
		detectors = append(detectors, d)
	}

	sourceCfg := kvs.Config{
		CameraID:             cameraID,
		StreamName:           cam.KVSStreamName,
		Region:               cam.KVS.Region,
		SessionSeconds:       cam.KVS.HLSSessionSeconds,
		RefreshMargin:        cam.KVS.RefreshMargin,
		ReconnectDelayBase:   durationFromSeconds(cam.KVS.ReconnectDelaySec),
		ReconnectDelayMax:    durationFromSeconds(cam.KVS.ReconnectDelayMaxSec),
		BackoffMultiplier:    cam.KVS.BackoffMultiplier,
		MaxConsecutiveErrors: cam.KVS.MaxConsecutiveErrors,
	}

	regionalCfg := awsCfg.Copy()
	if cam.KVS.Region != "" {
		regionalCfg.Region = cam.KVS.Region
	}
	cp := kvs.NewAWSControlPlane(regionalCfg)
	newDecoder := kvs.NewFFmpegDecoder("ffmpeg")

	width, height := cam.KVS.DecodeWidth, cam.KVS.DecodeHeight
	if width == 0 {
		width = 1280
	}
	if height == 0 {
		height = 720
	}

	source := kvs.NewSource(sourceCfg, width, height, cp, newDecoder, clock.Real{}, s.log)

	wcfg := worker.Config{
		CameraID:          cameraID,
		FramePeriod:       cam.FramePeriod(),
		PartitionKeyField: s.cfg.Publishers.KDS.PartitionKeyField,
		EventIDBucketMs:   cam.EventIDBucketMs,
		SnapshotQuality:   s.cfg.Publishers.S3.JPEGQuality,
	}
	snapshots := s.snapshots
	if !s.cfg.Publishers.S3.SaveSnapshots {
		snapshots = publish.NoopSnapshotPublisher{}
	}
	return worker.New(wcfg, source, detectors, s.events, snapshots, s.metadata, s.log), nil
}

func durationFromSeconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Run starts every camera worker, the HTTP surface (if configured), and
// blocks until ctx is cancelled. On cancellation it stops every worker,
// waits up to ShutdownTimeout for them to finish, and flushes every
// publisher exactly once before returning (spec §7 S6).
func (s *Supervisor) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)

	var srv *http.Server
	if s.http != "" {
		srv = &http.Server{Addr: s.http, Handler: s.routes()}
		g.Go(func() error {
			s.log.Info("http surface listening", "addr", s.http)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("http surface: %w", err)
			}
			return nil
		})
	}

	s.mu.Lock()
	workers := make(map[string]*worker.Worker, len(s.workers))
	for id, w := range s.workers {
		workers[id] = w
	}
	s.mu.Unlock()

	for cameraID, w := range workers {
		cameraID, w := cameraID, w
		g.Go(func() error {
			if err := w.Run(gctx); err != nil {
				s.log.Error("camera worker exited", "camera_id", cameraID, "error", err)
				return nil
			}
			return nil
		})
	}

	<-runCtx.Done()
	s.log.Info("shutdown requested, stopping camera workers")

	for _, w := range workers {
		w.Stop()
	}
	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		_ = srv.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(ShutdownTimeout):
		s.log.Warn("camera workers did not stop within shutdown timeout, flushing anyway")
	}

	s.flushAll()
	return nil
}

// flushAll flushes every publisher exactly once, logging but not failing
// on individual flush errors (spec §7: shutdown must not block on a
// misbehaving sink).
func (s *Supervisor) flushAll() {
	flushCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := s.events.Flush(flushCtx); err != nil {
		s.log.Error("event publisher flush failed", "error", err)
	}
	if err := s.snapshots.Flush(flushCtx); err != nil {
		s.log.Error("snapshot publisher flush failed", "error", err)
	}
	if err := s.metadata.Flush(flushCtx); err != nil {
		s.log.Error("metadata publisher flush failed", "error", err)
	}
}

func (s *Supervisor) routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealthz)
	r.Get("/", s.handleStatus)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (s *Supervisor) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok","service":"kvs-infer"}`))
}

func (s *Supervisor) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for cameraID, wk := range s.workers {
		fmt.Fprintf(w, "%s\talive=%t\n", cameraID, wk.Alive())
	}
}

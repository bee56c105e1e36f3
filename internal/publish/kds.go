package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	kinesistypes "github.com/aws/aws-sdk-go-v2/service/kinesis/types"
)

// KDSConfig configures the event-stream publisher (spec §4.6.1).
type KDSConfig struct {
	StreamName    string
	BatchSize     int // capped at 500
	MaxRetries    int
	BaseBackoff   time.Duration
}

func (c KDSConfig) withDefaults() KDSConfig {
	if c.BatchSize <= 0 || c.BatchSize > 500 {
		c.BatchSize = 500
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 100 * time.Millisecond
	}
	return c
}

type kinesisAPI interface {
	PutRecords(ctx context.Context, params *kinesis.PutRecordsInput, optFns ...func(*kinesis.Options)) (*kinesis.PutRecordsOutput, error)
}

type pendingRecord struct {
	env          Envelope
	partitionKey string
}

// KDSPublisher batches envelopes and flushes them to a Kinesis data stream
// with retry and exponential-backoff-with-jitter on throttling, per spec
// §4.6.1. Grounded directly on original_source's publisher/kds.py.
type KDSPublisher struct {
	cfg    KDSConfig
	client kinesisAPI
	log    *slog.Logger
	rng    *rand.Rand
	sleep  func(time.Duration)

	mu      sync.Mutex
	buffer  []pendingRecord
	metrics EventMetrics
}

func NewKDSPublisher(cfg aws.Config, pubCfg KDSConfig, log *slog.Logger) *KDSPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &KDSPublisher{
		cfg:    pubCfg.withDefaults(),
		client: kinesis.NewFromConfig(cfg),
		log:    log.With("sink", "kds", "stream", pubCfg.StreamName),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:  time.Sleep,
	}
}

func (p *KDSPublisher) PutEvent(ctx context.Context, env Envelope, partitionKey string) error {
	p.mu.Lock()
	p.buffer = append(p.buffer, pendingRecord{env: env, partitionKey: partitionKey})
	full := len(p.buffer) >= p.cfg.BatchSize
	p.mu.Unlock()

	if full {
		return p.Flush(ctx)
	}
	return nil
}

func (p *KDSPublisher) PutEvents(ctx context.Context, envs []Envelope, partitionKey string) error {
	for _, e := range envs {
		if err := p.PutEvent(ctx, e, partitionKey); err != nil {
			return err
		}
	}
	return p.Flush(ctx)
}

func (p *KDSPublisher) Flush(ctx context.Context) error {
	p.mu.Lock()
	batch := p.buffer
	p.buffer = nil
	p.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return p.sendWithRetries(ctx, batch)
}

func (p *KDSPublisher) sendWithRetries(ctx context.Context, batch []pendingRecord) error {
	pending := batch

	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		entries := make([]kinesistypes.PutRecordsRequestEntry, len(pending))
		for i, r := range pending {
			data, err := json.Marshal(r.env)
			if err != nil {
				return fmt.Errorf("publish: kds: marshal envelope: %w", err)
			}
			entries[i] = kinesistypes.PutRecordsRequestEntry{Data: data, PartitionKey: aws.String(r.partitionKey)}
		}

		out, err := p.client.PutRecords(ctx, &kinesis.PutRecordsInput{
			Records:    entries,
			StreamName: aws.String(p.cfg.StreamName),
		})
		if err != nil {
			if !isRetryableKinesisError(err) || attempt == p.cfg.MaxRetries {
				p.addFailed(int64(len(pending)))
				p.log.Error("kds put_records failed", "error", err, "attempt", attempt)
				return fmt.Errorf("publish: kds: put_records: %w", err)
			}
			p.sleepBackoff(attempt)
			continue
		}

		failedCount := int(aws.ToInt32(out.FailedRecordCount))
		if failedCount == 0 {
			p.mu.Lock()
			p.metrics.Published += int64(len(pending))
			p.metrics.BatchesSent++
			p.mu.Unlock()
			return nil
		}

		var next []pendingRecord
		for i, res := range out.Records {
			if res.ErrorCode != nil {
				next = append(next, pending[i])
				p.log.Warn("kds record failed", "error_code", aws.ToString(res.ErrorCode), "attempt", attempt)
			}
		}
		p.mu.Lock()
		p.metrics.Published += int64(len(pending) - len(next))
		p.mu.Unlock()

		pending = next
		if len(pending) == 0 {
			return nil
		}
		if attempt == p.cfg.MaxRetries {
			p.addFailed(int64(len(pending)))
			return fmt.Errorf("publish: kds: %d records failed after %d retries", len(pending), p.cfg.MaxRetries)
		}
		p.sleepBackoff(attempt)
	}
	return nil
}

func (p *KDSPublisher) sleepBackoff(attempt int) {
	backoffMs := float64(p.cfg.BaseBackoff.Milliseconds()) * math.Pow(2, float64(attempt))
	jitter := 0.8 + p.rng.Float64()*0.4
	p.mu.Lock()
	p.metrics.Retried++
	p.mu.Unlock()
	p.sleep(time.Duration(backoffMs*jitter) * time.Millisecond)
}

func (p *KDSPublisher) addFailed(n int64) {
	p.mu.Lock()
	p.metrics.Failed += n
	p.mu.Unlock()
}

func isRetryableKinesisError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "ProvisionedThroughputExceededException") || strings.Contains(msg, "ServiceUnavailable")
}

func (p *KDSPublisher) Metrics() EventMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics
}

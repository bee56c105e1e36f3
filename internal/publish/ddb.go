package publish

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

const ddbBatchLimit = 25

// DDBConfig configures the metadata publisher (spec §4.6.3).
type DDBConfig struct {
	TableName  string
	TTLSeconds int64 // 0 disables TTL
	ChunkSize  int   // capped at 25
}

func (c DDBConfig) withDefaults() DDBConfig {
	if c.ChunkSize <= 0 || c.ChunkSize > ddbBatchLimit {
		c.ChunkSize = ddbBatchLimit
	}
	return c
}

type dynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// DDBPublisher persists event envelopes as flattened items keyed on
// (event_id, ts_ms), normalising every float through shopspring/decimal
// since DynamoDB's wire format has no native float type. Grounded on
// original_source's publisher/ddb.py.
type DDBPublisher struct {
	cfg    DDBConfig
	client dynamoAPI
	log    *slog.Logger

	mu      sync.Mutex
	metrics MetadataMetrics
}

func NewDDBPublisher(cfg aws.Config, pubCfg DDBConfig, log *slog.Logger) *DDBPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &DDBPublisher{
		cfg:    pubCfg.withDefaults(),
		client: dynamodb.NewFromConfig(cfg),
		log:    log.With("sink", "ddb", "table", pubCfg.TableName),
	}
}

func (p *DDBPublisher) item(env Envelope) (map[string]ddbtypes.AttributeValue, error) {
	extras := make(map[string]any, len(env.Payload.Extras))
	for k, v := range env.Payload.Extras {
		extras[k] = normalizeNumeric(v)
	}

	raw := map[string]any{
		"event_id":  env.EventID,
		"camera_id": env.CameraID,
		"producer":  env.Producer,
		"ts_ms":     env.Payload.TSMs,
		"type":      env.Payload.Type,
		"label":     env.Payload.Label,
		"conf":      normalizeNumeric(env.Payload.Conf),
		"bbox": []any{
			normalizeNumeric(env.Payload.BBox[0]),
			normalizeNumeric(env.Payload.BBox[1]),
			normalizeNumeric(env.Payload.BBox[2]),
			normalizeNumeric(env.Payload.BBox[3]),
		},
		"extras": extras,
	}
	if p.cfg.TTLSeconds > 0 {
		raw["ttl"] = time.Now().Unix() + p.cfg.TTLSeconds
	}

	av, err := attributevalue.MarshalMap(raw)
	if err != nil {
		return nil, fmt.Errorf("publish: ddb: marshal item: %w", err)
	}
	return av, nil
}

// normalizeNumeric recursively replaces any float64 with a
// shopspring/decimal value so DynamoDB's attributevalue marshaler emits
// an exact numeric (N) attribute rather than a lossy float string. Any
// other scalar passes through unchanged, and maps/slices recurse.
func normalizeNumeric(v any) any {
	switch x := v.(type) {
	case float64:
		return decimal.NewFromFloat(x)
	case float32:
		return decimal.NewFromFloat32(x)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, vv := range x {
			out[k] = normalizeNumeric(vv)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, vv := range x {
			out[i] = normalizeNumeric(vv)
		}
		return out
	default:
		return v
	}
}

func (p *DDBPublisher) PutEvent(ctx context.Context, env Envelope) error {
	item, err := p.item(env)
	if err != nil {
		p.addFailed(1)
		return err
	}
	_, err = p.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(p.cfg.TableName),
		Item:      item,
	})
	if err != nil {
		p.addFailed(1)
		p.log.Error("ddb put_item failed", "error", err, "event_id", env.EventID)
		return fmt.Errorf("publish: ddb: put_item: %w", err)
	}
	p.mu.Lock()
	p.metrics.Written++
	p.mu.Unlock()
	return nil
}

func (p *DDBPublisher) PutEvents(ctx context.Context, envs []Envelope) error {
	if len(envs) == 0 {
		return nil
	}
	var firstErr error
	for i := 0; i < len(envs); i += p.cfg.ChunkSize {
		end := min(i+p.cfg.ChunkSize, len(envs))
		if err := p.writeBatch(ctx, envs[i:end]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *DDBPublisher) writeBatch(ctx context.Context, batch []Envelope) error {
	requests := make([]ddbtypes.WriteRequest, 0, len(batch))
	for _, env := range batch {
		item, err := p.item(env)
		if err != nil {
			p.addFailed(1)
			continue
		}
		requests = append(requests, ddbtypes.WriteRequest{PutRequest: &ddbtypes.PutRequest{Item: item}})
	}
	if len(requests) == 0 {
		return fmt.Errorf("publish: ddb: batch had no marshalable items")
	}

	_, err := p.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
		RequestItems: map[string][]ddbtypes.WriteRequest{p.cfg.TableName: requests},
	})
	if err != nil {
		p.addFailed(int64(len(requests)))
		p.log.Error("ddb batch_write_item failed", "error", err, "batch_size", len(requests))
		return fmt.Errorf("publish: ddb: batch_write_item: %w", err)
	}

	p.mu.Lock()
	p.metrics.Written += int64(len(requests))
	p.metrics.BatchesSent++
	p.mu.Unlock()
	return nil
}

func (p *DDBPublisher) addFailed(n int64) {
	p.mu.Lock()
	p.metrics.Failed += n
	p.mu.Unlock()
}

func (p *DDBPublisher) Metrics() MetadataMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics
}

// Flush is a no-op: PutEvent/PutEvents already write through to DynamoDB
// per call (spec §4.6.3 batches within one call via BatchWriteItem, but
// never holds an unflushed buffer across calls). Present so the
// supervisor can invoke Flush uniformly across all three publishers at
// shutdown (spec §7 S6).
func (p *DDBPublisher) Flush(ctx context.Context) error { return nil }

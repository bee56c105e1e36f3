package publish

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDynamo struct {
	putCalls   int
	batchCalls int
	lastBatch  map[string][]ddbtypes.WriteRequest
}

func (f *fakeDynamo) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.putCalls++
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.batchCalls++
	f.lastBatch = params.RequestItems
	return &dynamodb.BatchWriteItemOutput{}, nil
}

func newTestDDBPublisher(client dynamoAPI, cfg DDBConfig) *DDBPublisher {
	return &DDBPublisher{cfg: cfg.withDefaults(), client: client}
}

func TestDDBPublisher_PutEventWritesSingleItem(t *testing.T) {
	fake := &fakeDynamo{}
	p := newTestDDBPublisher(fake, DDBConfig{TableName: "events"})

	require.NoError(t, p.PutEvent(context.Background(), sampleEnvelope("cam1", 1000)))
	assert.Equal(t, 1, fake.putCalls)
	assert.Equal(t, int64(1), p.Metrics().Written)
}

func TestDDBPublisher_PutEventsChunksAt25(t *testing.T) {
	fake := &fakeDynamo{}
	p := newTestDDBPublisher(fake, DDBConfig{TableName: "events", ChunkSize: 25})

	envs := make([]Envelope, 60)
	for i := range envs {
		envs[i] = sampleEnvelope("cam1", int64(1000+i))
	}
	require.NoError(t, p.PutEvents(context.Background(), envs))
	assert.Equal(t, 3, fake.batchCalls, "60 events chunked at 25 => 3 batches")
	assert.Equal(t, int64(60), p.Metrics().Written)
}

func TestDDBPublisher_ChunkSizeCappedAt25(t *testing.T) {
	cfg := DDBConfig{TableName: "t", ChunkSize: 100}.withDefaults()
	assert.Equal(t, 25, cfg.ChunkSize)
}

func TestDDBPublisher_TTLAddedWhenConfigured(t *testing.T) {
	fake := &fakeDynamo{}
	p := newTestDDBPublisher(fake, DDBConfig{TableName: "events", TTLSeconds: 86400})
	item, err := p.item(sampleEnvelope("cam1", 1000))
	require.NoError(t, err)
	_, hasTTL := item["ttl"]
	assert.True(t, hasTTL)
}

func TestNormalizeNumeric_ConvertsFloatsToDecimal(t *testing.T) {
	out := normalizeNumeric(map[string]any{"conf": 0.875, "nested": []any{1.5, "text"}})
	m := out.(map[string]any)
	assert.Equal(t, "0.875", m["conf"].(interface{ String() string }).String())
}

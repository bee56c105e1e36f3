package publish

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKinesis struct {
	calls  int
	putErr error
}

func (f *fakeKinesis) PutRecords(ctx context.Context, params *kinesis.PutRecordsInput, optFns ...func(*kinesis.Options)) (*kinesis.PutRecordsOutput, error) {
	f.calls++
	if f.putErr != nil {
		return nil, f.putErr
	}
	return &kinesis.PutRecordsOutput{FailedRecordCount: aws.Int32(0)}, nil
}

func newTestKDSPublisher(client kinesisAPI, cfg KDSConfig) *KDSPublisher {
	p := &KDSPublisher{cfg: cfg.withDefaults(), client: client, sleep: func(time.Duration) {}}
	return p
}

func sampleEnvelope(cameraID string, tsMs int64) Envelope {
	return Envelope{
		EventID:  "abc",
		CameraID: cameraID,
		Producer: "kvs-infer/1.0",
		Payload:  Payload{CameraID: cameraID, Type: "weapon", Label: "gun", Conf: 0.9, TSMs: tsMs},
	}
}

// S1: ordering under partition key, batch_size=2, 3 events at ts
// 1000/1500/2000 produce 2 batches.
func TestKDSPublisher_BatchesAtConfiguredSize(t *testing.T) {
	fake := &fakeKinesis{}
	p := newTestKDSPublisher(fake, KDSConfig{StreamName: "events", BatchSize: 2})

	require.NoError(t, p.PutEvent(context.Background(), sampleEnvelope("cam1", 1000), "cam1"))
	require.NoError(t, p.PutEvent(context.Background(), sampleEnvelope("cam1", 1500), "cam1"))
	require.NoError(t, p.PutEvent(context.Background(), sampleEnvelope("cam1", 2000), "cam1"))
	require.NoError(t, p.Flush(context.Background()))

	assert.Equal(t, 2, fake.calls, "2 records then 1 auto-flush, plus the trailing explicit flush")
	assert.Equal(t, int64(3), p.Metrics().Published)
}

func TestKDSPublisher_CapsBatchSizeAt500(t *testing.T) {
	cfg := KDSConfig{StreamName: "events", BatchSize: 10000}.withDefaults()
	assert.Equal(t, 500, cfg.BatchSize)
}

func TestKDSPublisher_FlushOnEmptyBufferIsNoop(t *testing.T) {
	fake := &fakeKinesis{}
	p := newTestKDSPublisher(fake, KDSConfig{StreamName: "events"})
	require.NoError(t, p.Flush(context.Background()))
	assert.Equal(t, 0, fake.calls)
}

func TestKDSPublisher_NonRetryableErrorFailsImmediately(t *testing.T) {
	fake := &fakeKinesis{putErr: assertAsError("AccessDeniedException: no")}
	p := newTestKDSPublisher(fake, KDSConfig{StreamName: "events", MaxRetries: 3})

	require.NoError(t, p.PutEvent(context.Background(), sampleEnvelope("cam1", 1000), "cam1"))
	err := p.Flush(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, fake.calls, "non-retryable error should not be retried")
	assert.Equal(t, int64(1), p.Metrics().Failed)
}

type simpleError string

func (e simpleError) Error() string { return string(e) }

func assertAsError(msg string) error { return simpleError(msg) }

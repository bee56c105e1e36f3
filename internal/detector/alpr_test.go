package detector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/technosupport/ts-vms/internal/frameio"
	"github.com/technosupport/ts-vms/internal/geometry"
)

func newConfiguredALPR(t *testing.T, plateText string, ocrConf float64) *ALPRDetector {
	t.Helper()
	d := &ALPRDetector{}
	d.SetInference(func(ctx context.Context, frame *frameio.Frame) ([]frameio.Detection, error) {
		return []frameio.Detection{{Label: "plate", Conf: 0.9, BBox: geometry.BBox{X1: 10, Y1: 10, X2: 40, Y2: 25}}}, nil
	})
	d.SetOCR(func(ctx context.Context, crop *frameio.Frame) (string, float64, error) {
		return plateText, ocrConf, nil
	})
	require.NoError(t, d.Configure(map[string]any{
		"conf_threshold":    0.5,
		"ocr_conf_threshold": 0.5,
		"min_confirmations": 1,
	}))
	return d
}

func blankFrame() *frameio.Frame {
	return &frameio.Frame{Width: 100, Height: 100, Pix: make([]byte, 100*100*3)}
}

func TestALPRDetector_EmitsEventWithPlateText(t *testing.T) {
	d := newConfiguredALPR(t, "ABC123", 0.8)
	events, err := d.Process(context.Background(), blankFrame(), 1000, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "alpr", events[0].Type)
	assert.Equal(t, frameio.ExtraStr("ABC123"), events[0].Extras["text"])
	assert.Equal(t, frameio.ExtraFloat64(0.8), events[0].Extras["ocr_conf"])
	assert.NotEmpty(t, events[0].Extras["ocr_engine"].S)
	assert.NotEmpty(t, events[0].Extras["det_hash"].S)
}

func TestALPRDetector_SamePlateInSameCellSuppressedInWindow(t *testing.T) {
	d := newConfiguredALPR(t, "ABC123", 0.8)
	first, err := d.Process(context.Background(), blankFrame(), 1000, 0)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := d.Process(context.Background(), blankFrame(), 1100, 1)
	require.NoError(t, err)
	assert.Empty(t, second, "same plate text in the same grid cell should be suppressed")
}

func TestALPRDetector_LowOCRConfidenceIsDropped(t *testing.T) {
	d := newConfiguredALPR(t, "ABC123", 0.1)
	events, err := d.Process(context.Background(), blankFrame(), 1000, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

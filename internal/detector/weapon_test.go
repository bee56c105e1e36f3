package detector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/technosupport/ts-vms/internal/frameio"
	"github.com/technosupport/ts-vms/internal/geometry"
)

func TestWeaponDetector_ConfigureRequiresInference(t *testing.T) {
	d := &WeaponDetector{}
	err := d.Configure(map[string]any{})
	assert.Error(t, err)
}

func TestWeaponDetector_ProcessEmitsEventAfterConfirmations(t *testing.T) {
	d := &WeaponDetector{}
	d.SetInference(func(ctx context.Context, frame *frameio.Frame) ([]frameio.Detection, error) {
		return []frameio.Detection{{Label: "gun", Conf: 0.9, BBox: geometry.BBox{X1: 0, Y1: 0, X2: 50, Y2: 50}}}, nil
	})
	require.NoError(t, d.Configure(map[string]any{
		"conf_threshold":    0.5,
		"min_confirmations": 2,
		"temporal_window":   5,
	}))

	frame := &frameio.Frame{Width: 100, Height: 100, Pix: make([]byte, 100*100*3)}

	events, err := d.Process(context.Background(), frame, 1000, 0)
	require.NoError(t, err)
	assert.Empty(t, events, "first sighting should not confirm yet")

	events, err = d.Process(context.Background(), frame, 1100, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "weapon", events[0].Type)
	assert.Equal(t, "gun", events[0].Label)
	assert.Equal(t, frameio.ExtraInt64(1), events[0].Extras["frame_index"])
	assert.NotEmpty(t, events[0].Extras["det_hash"].S)
}

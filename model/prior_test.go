package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pixels 每个像素 (r, g, b, row, col)
func pixels(px ...[Channels]float32) *Input {
	in := &Input{Width: len(px), Height: 1, Channels: Channels}
	for _, p := range px {
		in.Data = append(in.Data, p[:]...)
	}
	return in
}

func TestPriorModel_Predict(t *testing.T) {
	t.Parallel()

	m := NewPriorModel(DefaultCheckpoint())
	in := pixels(
		[Channels]float32{0.3, 0.5, 0.95, 0, 0.5}, // 顶部的蓝天
		[Channels]float32{0.3, 0.3, 0.2, 1, 0.5},  // 底部的草地
	)

	out, err := m.Predict(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, out.Alpha, 2)
	assert.Greater(t, out.Alpha[0], float32(0.9))
	assert.Less(t, out.Alpha[1], float32(0.1))
	for _, v := range out.Alpha {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.LessOrEqual(t, v, float32(1))
	}
}

func TestPriorModel_Hidden(t *testing.T) {
	t.Parallel()

	m := NewPriorModel(mlpCheckpoint())
	out, err := m.Predict(context.Background(), pixels([Channels]float32{0.1, 0.2, 0.3, 0.4, 0.5}))
	require.NoError(t, err)
	assert.Len(t, out.Alpha, 1)
	assert.Greater(t, out.Alpha[0], float32(0))
	assert.Less(t, out.Alpha[0], float32(1))
}

func TestPriorModel_Errors(t *testing.T) {
	t.Parallel()

	m := NewPriorModel(DefaultCheckpoint())

	_, err := m.Predict(context.Background(), &Input{Width: 2, Height: 2, Channels: 3, Data: make([]float32, 12)})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = m.Predict(context.Background(), &Input{Width: 2, Height: 2, Channels: Channels, Data: make([]float32, 3)})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = m.Predict(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Predict(ctx, pixels([Channels]float32{}))
	assert.ErrorIs(t, err, context.Canceled)
}

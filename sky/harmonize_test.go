package sky

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHarmonize(t *testing.T) {
	t.Parallel()

	sky := FromImage(solid(10, 10, color.NRGBA{R: 51, G: 51, B: 51, A: 255}))
	photo := FromImage(solid(10, 10, color.NRGBA{R: 153, G: 128, B: 102, A: 255}))

	tests := []struct {
		name     string
		matte    float32
		strength float64
		want     [3]float64
	}{
		{name: "strength 0 原样返回", matte: 1, strength: 0, want: [3]float64{0.2, 0.2, 0.2}},
		{name: "strength 1 完全匹配", matte: 1, strength: 1, want: [3]float64{0.6, 0.502, 0.4}},
		{name: "strength 0.5 一半", matte: 1, strength: 0.5, want: [3]float64{0.4, 0.351, 0.3}},
		{name: "没有天空时用整张图", matte: 0, strength: 1, want: [3]float64{0.6, 0.502, 0.4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Harmonize(sky, photo, filledMatte(10, 10, tt.matte), tt.strength)
			r, g, b := out.RGB(3, 3)
			assert.InDelta(t, tt.want[0], r, 1e-3)
			assert.InDelta(t, tt.want[1], g, 1e-3)
			assert.InDelta(t, tt.want[2], b, 1e-3)
		})
	}
}

func TestHarmonize_StrengthZeroIsCopy(t *testing.T) {
	t.Parallel()

	sky := FromImage(solid(4, 4, blue))
	out := Harmonize(sky, FromImage(solid(4, 4, gray)), filledMatte(4, 4, 1), 0)
	assert.Equal(t, sky.Pix, out.Pix)

	out.Pix[0] = 0.5
	assert.NotEqual(t, sky.Pix[0], out.Pix[0])
}

func TestHarmonize_StdRatioBounded(t *testing.T) {
	t.Parallel()

	// 模板有对比度，原图几乎没有
	sky := NewImage(2, 1)
	copy(sky.Pix, []float32{0.2, 0.2, 0.2, 0.8, 0.8, 0.8})
	photo := FromImage(solid(2, 1, gray))
	photo.Pix[0] = 0.5
	photo.Pix[3] = 0.51

	out := Harmonize(sky, photo, filledMatte(2, 1, 1), 1)
	// 方差最多缩小一半
	assert.InDelta(t, 0.3, out.Pix[3]-out.Pix[0], 1e-3)
}

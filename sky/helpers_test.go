package sky

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chaos-io/skyreplace/model"
)

// stubModel 按输入张量逐像素计算 alpha
type stubModel struct {
	alpha     func(r, g, b, row, col float32) float32
	reentrant bool
	output    func(in *model.Input) (*model.Output, error)
	calls     int
}

func (m *stubModel) Reentrant() bool { return m.reentrant }

func (m *stubModel) Predict(_ context.Context, in *model.Input) (*model.Output, error) {
	m.calls++
	if m.output != nil {
		return m.output(in)
	}
	out := &model.Output{Width: in.Width, Height: in.Height, Alpha: make([]float32, in.Width*in.Height)}
	for i := range out.Alpha {
		x := in.Data[i*model.Channels : (i+1)*model.Channels]
		out.Alpha[i] = m.alpha(x[0], x[1], x[2], x[3], x[4])
	}
	return out, nil
}

// topHalf 上半部分 0.9，下半部分 0.1
func topHalf(_, _, _, row, _ float32) float32 {
	if row < 0.5 {
		return 0.9
	}
	return 0.1
}

func loadedEngine(t *testing.T, m model.Matting, opts ...EngineOption) *Engine {
	t.Helper()
	e := NewEngine(model.LoaderFunc(func(context.Context) (model.Matting, error) { return m, nil }), opts...)
	require.NoError(t, e.Load(context.Background()))
	return e
}

func solid(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

var (
	gray = color.NRGBA{R: 128, G: 128, B: 128, A: 255}
	blue = color.NRGBA{B: 255, A: 255}
)

package sky

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/chaos-io/skyreplace/model"
)

// EngineState 模型句柄的状态，只会从 Unloaded 变为 Loaded
type EngineState int32

const (
	EngineUnloaded EngineState = iota
	EngineLoaded
)

func (s EngineState) String() string {
	if s == EngineLoaded {
		return "loaded"
	}
	return "unloaded"
}

type EngineOption func(*Engine)

// WithSerializedInference 强制串行推理；默认跟随后端的 Reentrant()
func WithSerializedInference(on bool) EngineOption {
	return func(e *Engine) {
		e.forceSerial = &on
	}
}

func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// Engine 持有加载后的模型，是流水线里唯一的长生命周期状态
//
// 后端不可重入时，每次前向都要先拿到单槽 guard，并发请求因此排队；
// 等待 guard 时可以被 ctx 取消，前向一旦开始就不会被中断。
type Engine struct {
	loader      model.Loader
	forceSerial *bool
	logger      *slog.Logger

	once    sync.Once
	loadErr error
	state   atomic.Int32
	m       model.Matting
	guard   chan struct{}
}

func NewEngine(loader model.Loader, opts ...EngineOption) *Engine {
	e := &Engine{
		loader: loader,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Load 进程启动时调用一次。失败是致命的，之后再调用返回同一个错误
func (e *Engine) Load(ctx context.Context) error {
	e.once.Do(func() {
		if e.loader == nil {
			e.loadErr = fmt.Errorf("%w: no model loader configured", ErrModelLoad)
			return
		}

		m, err := e.loader.Load(ctx)
		if err != nil {
			e.loadErr = fmt.Errorf("%w: %w", ErrModelLoad, err)
			return
		}
		if m == nil {
			e.loadErr = fmt.Errorf("%w: loader returned no model", ErrModelLoad)
			return
		}

		serial := !m.Reentrant()
		if e.forceSerial != nil {
			serial = *e.forceSerial
		}
		if serial {
			e.guard = make(chan struct{}, 1)
		}

		e.m = m
		e.state.Store(int32(EngineLoaded))
		e.logger.Info("matting model loaded", "serialized", serial)
	})
	return e.loadErr
}

func (e *Engine) State() EngineState {
	return EngineState(e.state.Load())
}

// Serialized 是否对前向做了串行化，调用方会观察到排队延迟
func (e *Engine) Serialized() bool {
	return e.State() == EngineLoaded && e.guard != nil
}

// Predict 在推理分辨率上得到原始 matte
//
// 负责把原图缩到推理分辨率并拼接坐标特征，不负责放大回原尺寸。
func (e *Engine) Predict(ctx context.Context, img *Image, res int) (*AlphaMatte, error) {
	if e.State() != EngineLoaded {
		return nil, fmt.Errorf("%w: engine is %s", ErrModelLoad, e.State())
	}
	if img.Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrInference)
	}

	w, h := WorkingSize(img.Width, img.Height, res)
	small := downscale(img, w, h)
	coords := NewCoordinateMap(w, h)
	in := buildInput(small, coords)

	if e.guard != nil {
		select {
		case e.guard <- struct{}{}:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: waiting for model: %w", ErrInference, ctx.Err())
		}
		defer func() { <-e.guard }()
	}

	out, err := e.m.Predict(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInference, err)
	}
	return toMatte(out, w, h)
}

func buildInput(img *Image, coords *CoordinateMap) *model.Input {
	n := img.Width * img.Height
	in := &model.Input{
		Width:    img.Width,
		Height:   img.Height,
		Channels: model.Channels,
		Data:     make([]float32, n*model.Channels),
	}
	for i := 0; i < n; i++ {
		o := i * model.Channels
		copy(in.Data[o:o+3], img.Pix[i*3:i*3+3])
		copy(in.Data[o+3:o+5], coords.Pix[i*2:i*2+2])
	}
	return in
}

func toMatte(out *model.Output, w, h int) (*AlphaMatte, error) {
	if out == nil {
		return nil, fmt.Errorf("%w: model returned no output", ErrInference)
	}
	if out.Width != w || out.Height != h || len(out.Alpha) != w*h {
		return nil, fmt.Errorf("%w: model output %dx%d (%d values), want %dx%d",
			ErrInference, out.Width, out.Height, len(out.Alpha), w, h)
	}

	m := NewAlphaMatte(w, h)
	for i, v := range out.Alpha {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("%w: non-finite alpha at %d", ErrInference, i)
		}
		m.Pix[i] = clamp01(v)
	}
	return m, nil
}

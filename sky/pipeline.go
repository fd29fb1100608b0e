package sky

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"
)

type PipelineOption func(*Pipeline)

func WithLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMaxPixels ReplaceSkyBytes 解码时的像素上限
func WithMaxPixels(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxPixels = n
		}
	}
}

// Pipeline 换天流水线，除了 Engine 引用外没有其它状态，可以并发调用
type Pipeline struct {
	engine     *Engine
	compositor *Compositor
	logger     *slog.Logger
	maxPixels  int
}

// Result 合成结果，Matte 只在 Options.Debug 时填充
type Result struct {
	Image         *Image
	Matte         *AlphaMatte
	WorkingWidth  int
	WorkingHeight int
	Elapsed       time.Duration
}

// NewPipeline engine 必须已经 Load 成功
func NewPipeline(engine *Engine, opts ...PipelineOption) (*Pipeline, error) {
	if engine == nil || engine.State() != EngineLoaded {
		return nil, fmt.Errorf("%w: pipeline requires a loaded engine", ErrModelLoad)
	}

	p := &Pipeline{
		engine:    engine,
		logger:    slog.Default(),
		maxPixels: DefaultMaxPixels,
	}
	for _, o := range opts {
		o(p)
	}
	p.compositor = NewCompositor(p.logger)
	return p, nil
}

// ReplaceSky 坐标特征 -> 推理 -> 细化 -> 合成，各阶段严格串行
func (p *Pipeline) ReplaceSky(ctx context.Context, img, tpl image.Image, o Options) (*Result, error) {
	start := time.Now()

	if err := o.Validate(); err != nil {
		return nil, stageErr(StageValidate, err)
	}
	if img == nil || img.Bounds().Empty() {
		return nil, stageErr(StageValidate, fmt.Errorf("%w: empty image", ErrInvalidInput))
	}
	// 空模板在推理之前就拒绝，不产生部分输出
	if err := ValidateTemplate(tpl); err != nil {
		return nil, stageErr(StageComposite, err)
	}

	photo := FromImage(img)

	raw, err := p.engine.Predict(ctx, photo, o.WorkingResolution)
	if err != nil {
		p.logger.Warn("sky matting failed", "stage", StageInference, "width", photo.Width, "height", photo.Height, "err", err)
		return nil, stageErr(StageInference, err)
	}

	matte, err := NewRefiner(o).Refine(raw, photo)
	if err != nil {
		p.logger.Error("matte refinement failed", "stage", StageRefine,
			"raw", fmt.Sprintf("%dx%d", raw.Width, raw.Height),
			"image", fmt.Sprintf("%dx%d", photo.Width, photo.Height), "err", err)
		return nil, stageErr(StageRefine, err)
	}

	out, err := p.compositor.Composite(photo, matte, tpl, o)
	if err != nil {
		p.logger.Error("sky composite failed", "stage", StageComposite,
			"image", fmt.Sprintf("%dx%d", photo.Width, photo.Height), "err", err)
		return nil, stageErr(StageComposite, err)
	}

	res := &Result{
		Image:         out,
		WorkingWidth:  raw.Width,
		WorkingHeight: raw.Height,
		Elapsed:       time.Since(start),
	}
	if o.Debug {
		res.Matte = matte
	}

	p.logger.Info("sky replaced", "width", out.Width, "height", out.Height,
		"working", fmt.Sprintf("%dx%d", raw.Width, raw.Height), "elapsed", res.Elapsed)
	return res, nil
}

// ReplaceSkyBytes 字节进、字节出，输出格式跟随输入图片
func (p *Pipeline) ReplaceSkyBytes(ctx context.Context, imgData, tplData []byte, o Options) ([]byte, string, error) {
	img, format, err := DecodeLimit(imgData, p.maxPixels)
	if err != nil {
		return nil, "", stageErr(StageDecode, err)
	}

	tpl, _, err := DecodeLimit(tplData, p.maxPixels)
	if err != nil {
		// 空的或解不开的模板都归到合成阶段
		return nil, "", stageErr(StageComposite, fmt.Errorf("%w: %w", ErrComposite, err))
	}

	res, err := p.ReplaceSky(ctx, img, tpl, o)
	if err != nil {
		return nil, "", err
	}

	data, format, err := Encode(res.Image.ToNRGBA(), format)
	if err != nil {
		return nil, "", stageErr(StageEncode, err)
	}
	return data, format, nil
}

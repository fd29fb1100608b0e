package sky

import (
	"fmt"
	"image"
	"log/slog"
)

// Compositor 按 matte 把新天空混合进原图
type Compositor struct {
	logger *slog.Logger
}

func NewCompositor(logger *slog.Logger) *Compositor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compositor{logger: logger}
}

// ValidateTemplate 在推理之前检查天空模板，空模板不产生任何部分结果
func ValidateTemplate(tpl image.Image) error {
	if tpl == nil {
		return fmt.Errorf("%w: %w: nil sky template", ErrComposite, ErrInvalidInput)
	}
	if b := tpl.Bounds(); b.Dx() <= 0 || b.Dy() <= 0 {
		return fmt.Errorf("%w: %w: sky template is %dx%d", ErrComposite, ErrInvalidInput, b.Dx(), b.Dy())
	}
	return nil
}

// Composite 模板裁剪 -> 色调协调 -> 前景重打光 -> 混合 -> 光晕
func (c *Compositor) Composite(img *Image, matte *AlphaMatte, tpl image.Image, o Options) (*Image, error) {
	if img.Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrComposite)
	}
	if err := ValidateTemplate(tpl); err != nil {
		return nil, err
	}
	if matte.Empty() || matte.Width != img.Width || matte.Height != img.Height {
		return nil, fmt.Errorf("%w: matte does not match image %dx%d", ErrComposite, img.Width, img.Height)
	}

	sky, err := FillSky(tpl, img.Width, img.Height, o.SkyCenterCrop)
	if err != nil {
		return nil, err
	}
	sky = Harmonize(sky, img, matte, o.HarmonizationStrength)
	fg := relight(img, sky, matte, o)

	out, err := Blend(fg, sky, matte)
	if err != nil {
		return nil, err
	}
	if o.HaloEffect {
		addHalo(out, sky, matte)
	}

	c.logger.Debug("sky composited", "width", img.Width, "height", img.Height,
		"harmonization", o.HarmonizationStrength, "halo", o.HaloEffect)
	return out, nil
}

// Blend out = m*sky + (1-m)*fg
//
// m≈0.5 的边界像素就是两者各占一半，这是软边界的来源，不要在这里做硬阈值。
func Blend(fg, sky *Image, matte *AlphaMatte) (*Image, error) {
	if fg.Width != sky.Width || fg.Height != sky.Height || fg.Width != matte.Width || fg.Height != matte.Height {
		return nil, fmt.Errorf("%w: blend of %dx%d image, %dx%d sky, %dx%d matte", ErrComposite,
			fg.Width, fg.Height, sky.Width, sky.Height, matte.Width, matte.Height)
	}

	out := NewImage(fg.Width, fg.Height)
	for i, m := range matte.Pix {
		o := i * 3
		for c := 0; c < 3; c++ {
			out.Pix[o+c] = clamp01(m*sky.Pix[o+c] + (1-m)*fg.Pix[o+c])
		}
	}
	return out, nil
}

// relight 前景向天空的色调偏移
//
// RecoloringFactor 控制偏移量；未开启 AutoLightMatching 且 RelightingFactor > 0 时，
// 保持前景整体亮度不变再乘以 RelightingFactor。两者都为 0 时原图不变。
func relight(img, sky *Image, matte *AlphaMatte, o Options) *Image {
	manual := !o.AutoLightMatching && o.RelightingFactor > 0
	if o.RecoloringFactor == 0 && !manual {
		return img
	}

	skyMean := weightedStats(sky, func(int) float64 { return 1 })
	fgMean := weightedStats(img, func(i int) float64 { return 1 - float64(matte.Pix[i]) })
	if fgMean == nil {
		// 整张图都是天空
		return img
	}

	out := NewImage(img.Width, img.Height)
	var before, after float64
	for i := 0; i < len(img.Pix); i += 3 {
		for c := 0; c < 3; c++ {
			v := float64(img.Pix[i+c]) + o.RecoloringFactor*(skyMean.mean[c]-fgMean.mean[c])
			before += float64(img.Pix[i+c])
			after += v
			out.Pix[i+c] = float32(v)
		}
	}

	if manual {
		shift := (before - after) / float64(len(img.Pix))
		for i, v := range out.Pix {
			out.Pix[i] = float32(o.RelightingFactor * (float64(v) + shift))
		}
	}
	for i, v := range out.Pix {
		out.Pix[i] = clamp01(v)
	}
	return out
}

// addHalo 天空在前景边缘的散射: 对 0.5*sky*m 做大窗口均值后与结果做 screen 混合
func addHalo(out, sky *Image, matte *AlphaMatte) {
	w, h := out.Width, out.Height
	r := max(1, w/10)
	plane := make([]float64, w*h)
	for c := 0; c < 3; c++ {
		for i := range plane {
			plane[i] = 0.5 * float64(sky.Pix[i*3+c]) * float64(matte.Pix[i])
		}
		halo := boxMean(plane, w, h, r)
		for i, v := range halo {
			o := i*3 + c
			out.Pix[o] = clamp01(float32(1 - (1-float64(out.Pix[o]))*(1-v)))
		}
	}
}

package sky

import (
	"fmt"
	"image"
	"math"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
)

// 每个方向只用一种插值，matte 路径和合成路径保持一致:
//
//	原图 -> 推理分辨率      CatmullRom (x/image/draw)
//	matte -> 原图分辨率     BiLinear   (x/image/draw)
//	天空模板 -> 输出尺寸    Bilinear   (nfnt/resize)
var (
	downscaleKernel = draw.CatmullRom
	upsampleKernel  = draw.BiLinear
	skyInterp       = resize.Bilinear
)

// downscale 缩放到推理分辨率，尺寸不变时返回副本
func downscale(img *Image, w, h int) *Image {
	if w == img.Width && h == img.Height {
		return img.Clone()
	}
	dst := image.NewNRGBA64(image.Rect(0, 0, w, h))
	downscaleKernel.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return FromImage(dst)
}

// upsampleMatte 把推理分辨率的 matte 插值回原图尺寸
func upsampleMatte(a *AlphaMatte, w, h int) *AlphaMatte {
	out := NewAlphaMatte(w, h)
	if w == a.Width && h == a.Height {
		copy(out.Pix, a.Pix)
		return out
	}

	dst := image.NewGray16(image.Rect(0, 0, w, h))
	upsampleKernel.Scale(dst, dst.Bounds(), a, a.Bounds(), draw.Src, nil)
	for i := range out.Pix {
		out.Pix[i] = float32(uint16(dst.Pix[2*i])<<8|uint16(dst.Pix[2*i+1])) / 0xffff
	}
	return out
}

// maxSkyOversize 缩放后的模板每个方向最多是输出的几倍，
// 极端长宽比的模板会被轻微拉伸而不是放大到上万像素
const maxSkyOversize = 4

// FillSky 把天空模板按 crop-to-fill 缩放到 w*h，不拉伸
//
// centerCrop 在 [MinSkyCenterCrop,1] 内，0 按输出尺寸自动选: 模板先放大到覆盖
// (w/centerCrop, h/centerCrop)，再取水平居中、贴顶的 w*h 窗口，天空的主体通常在模板上半部分。
func FillSky(tpl image.Image, w, h int, centerCrop float64) (*Image, error) {
	if tpl == nil {
		return nil, fmt.Errorf("%w: nil sky template", ErrComposite)
	}
	tb := tpl.Bounds()
	if tb.Dx() <= 0 || tb.Dy() <= 0 {
		return nil, fmt.Errorf("%w: sky template is %dx%d", ErrComposite, tb.Dx(), tb.Dy())
	}
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: output is %dx%d", ErrComposite, w, h)
	}
	switch {
	case centerCrop == 0:
		centerCrop = AutoSkyCenterCrop(w, h)
	case math.IsNaN(centerCrop) || centerCrop > 1:
		centerCrop = 1
	case centerCrop < MinSkyCenterCrop:
		centerCrop = MinSkyCenterCrop
	}

	cover := math.Max(
		float64(w)/centerCrop/float64(tb.Dx()),
		float64(h)/centerCrop/float64(tb.Dy()),
	)
	sw := min(maxSkyOversize*w, max(w, int(math.Ceil(float64(tb.Dx())*cover))))
	sh := min(maxSkyOversize*h, max(h, int(math.Ceil(float64(tb.Dy())*cover))))

	scaled := resize.Resize(uint(sw), uint(sh), tpl, skyInterp)

	sb := scaled.Bounds()
	x0 := sb.Min.X + (sb.Dx()-w)/2
	y0 := sb.Min.Y

	dst := image.NewNRGBA64(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), scaled, image.Pt(x0, y0), draw.Src)
	return FromImage(dst), nil
}

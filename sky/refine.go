package sky

import (
	"fmt"
	"math"
)

const (
	// DefaultGuidedEpsilon 导向滤波的正则项
	DefaultGuidedEpsilon = 0.01
	// autoRadiusRatio 自动半径: 短边的 2%
	autoRadiusRatio = 0.02
	// maxSteepness softness 为 0 时 S 曲线的陡峭度
	maxSteepness = 12.0
)

// Refiner 把低分辨率的原始 matte 细化成原图尺寸
type Refiner struct {
	// Radius 导向滤波半径，0 表示按图片短边自动选择
	Radius int
	// Epsilon 导向滤波正则项，越大越接近普通均值滤波
	Epsilon float64
	// Softness [0,1]，0 时边界最硬，1 时不做 S 曲线
	Softness float64
}

func NewRefiner(o Options) *Refiner {
	return &Refiner{
		Radius:   o.GuidedRadius,
		Epsilon:  o.GuidedEpsilon,
		Softness: o.BoundarySoftness,
	}
}

// Refine 放大 -> 导向滤波 -> S 曲线 -> clamp
//
// 输出尺寸严格等于 img 的尺寸。raw 与 img 宽高比不一致说明上游违反约定，
// 返回 ErrRefinement。
func (r *Refiner) Refine(raw *AlphaMatte, img *Image) (*AlphaMatte, error) {
	if raw.Empty() {
		return nil, fmt.Errorf("%w: empty matte", ErrRefinement)
	}
	if img.Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrRefinement)
	}
	if !compatibleAspect(raw.Width, raw.Height, img.Width, img.Height) {
		return nil, fmt.Errorf("%w: matte %dx%d cannot be upsampled to %dx%d",
			ErrRefinement, raw.Width, raw.Height, img.Width, img.Height)
	}

	up := upsampleMatte(raw, img.Width, img.Height)

	radius := r.Radius
	if radius <= 0 {
		radius = autoRadius(img.Width, img.Height)
	}
	eps := r.Epsilon
	if eps <= 0 {
		eps = DefaultGuidedEpsilon
	}
	filtered := guidedFilter(blueChannel(img), toFloat64(up.Pix), img.Width, img.Height, radius, eps)

	curve := newSCurve(r.Softness)
	out := NewAlphaMatte(img.Width, img.Height)
	for i, v := range filtered {
		out.Pix[i] = clamp01(float32(curve.apply(v)))
	}
	return out, nil
}

// compatibleAspect 两个方向的缩放比差异不超过一个像素的取整误差
func compatibleAspect(mw, mh, w, h int) bool {
	sx := float64(w) / float64(mw)
	sy := float64(h) / float64(mh)
	diff := math.Abs(sx-sy) / math.Max(sx, sy)
	return diff <= 1/float64(min(mw, mh))+1e-9
}

func autoRadius(w, h int) int {
	return max(1, int(math.Round(float64(min(w, h))*autoRadiusRatio)))
}

// blueChannel 天空在蓝通道上和前景的反差最大，用作导向图
func blueChannel(img *Image) []float64 {
	out := make([]float64, img.Width*img.Height)
	for i := range out {
		out[i] = float64(img.Pix[i*3+2])
	}
	return out
}

func toFloat64(s []float32) []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		out[i] = float64(v)
	}
	return out
}

// guidedFilter He et al. 的导向滤波，p 为待滤波信号，guide 为导向图
func guidedFilter(guide, p []float64, w, h, r int, eps float64) []float64 {
	n := w * h
	ip := make([]float64, n)
	ii := make([]float64, n)
	for i := 0; i < n; i++ {
		ip[i] = guide[i] * p[i]
		ii[i] = guide[i] * guide[i]
	}

	meanI := boxMean(guide, w, h, r)
	meanP := boxMean(p, w, h, r)
	corrIP := boxMean(ip, w, h, r)
	corrII := boxMean(ii, w, h, r)

	a := make([]float64, n)
	b := make([]float64, n)
	for i := 0; i < n; i++ {
		varI := corrII[i] - meanI[i]*meanI[i]
		covIP := corrIP[i] - meanI[i]*meanP[i]
		a[i] = covIP / (varI + eps)
		b[i] = meanP[i] - a[i]*meanI[i]
	}

	meanA := boxMean(a, w, h, r)
	meanB := boxMean(b, w, h, r)

	q := make([]float64, n)
	for i := 0; i < n; i++ {
		q[i] = meanA[i]*guide[i] + meanB[i]
	}
	return q
}

// boxMean 积分图实现的均值滤波，窗口在边界处截断并按实际像素数归一化
func boxMean(src []float64, w, h, r int) []float64 {
	stride := w + 1
	sum := make([]float64, stride*(h+1))
	for y := 0; y < h; y++ {
		var rowSum float64
		for x := 0; x < w; x++ {
			rowSum += src[y*w+x]
			sum[(y+1)*stride+x+1] = sum[y*stride+x+1] + rowSum
		}
	}

	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		y0, y1 := max(0, y-r), min(h-1, y+r)
		for x := 0; x < w; x++ {
			x0, x1 := max(0, x-r), min(w-1, x+r)
			s := sum[(y1+1)*stride+x1+1] - sum[y0*stride+x1+1] - sum[(y1+1)*stride+x0] + sum[y0*stride+x0]
			out[y*w+x] = s / float64((y1-y0+1)*(x1-x0+1))
		}
	}
	return out
}

// sCurve 归一化的 logistic 曲线，端点固定在 (0,0) 和 (1,1)
// 靠近 1 的值被推向 1，靠近 0 的推向 0，边界处保留一段窄的过渡带。
type sCurve struct {
	k      float64
	lo, hi float64
}

func newSCurve(softness float64) sCurve {
	softness = math.Min(1, math.Max(0, softness))
	k := maxSteepness * (1 - softness)
	return sCurve{k: k, lo: sigmoid(-k / 2), hi: sigmoid(k / 2)}
}

func (c sCurve) apply(v float64) float64 {
	if c.k < 1e-6 {
		return v
	}
	return (sigmoid(c.k*(v-0.5)) - c.lo) / (c.hi - c.lo)
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

package sky

import "math"

const (
	// DefaultWorkingResolution 普通图片的推理分辨率 (长边)
	DefaultWorkingResolution = 384
	// HighResWorkingResolution 2K 及以上图片使用的推理分辨率
	HighResWorkingResolution = 512

	// DefaultSkyCenterCrop / HighResSkyCenterCrop SkyCenterCrop 为 0 时按分辨率选用
	DefaultSkyCenterCrop = 0.6
	HighResSkyCenterCrop = 0.8
	// MinSkyCenterCrop 模板最多放大到输出的 2 倍
	MinSkyCenterCrop = 0.5
)

// NewCoordinateMap 生成 w*h*2 的坐标特征
// 通道 0 从顶行 0 线性变化到底行 1，通道 1 从左列 0 到右列 1。
// 只依赖尺寸，相同尺寸多次调用结果完全一致。
func NewCoordinateMap(w, h int) *CoordinateMap {
	c := &CoordinateMap{Width: w, Height: h, Pix: make([]float32, max(w, 0)*max(h, 0)*2)}
	for y := 0; y < h; y++ {
		row := axisPos(y, h)
		for x := 0; x < w; x++ {
			o := (y*w + x) * 2
			c.Pix[o] = row
			c.Pix[o+1] = axisPos(x, w)
		}
	}
	return c
}

func axisPos(i, n int) float32 {
	if n <= 1 {
		return 0
	}
	return float32(i) / float32(n-1)
}

// WorkingSize 推理分辨率下的尺寸: 长边缩到 res，保持宽高比，不放大
// res <= 0 时按图片大小自动选择 384 或 512。
func WorkingSize(w, h, res int) (int, int) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	if res <= 0 {
		res = AutoWorkingResolution(w, h)
	}

	longest := max(w, h)
	if longest <= res {
		return w, h
	}

	ratio := float64(res) / float64(longest)
	nw := max(1, int(math.Round(float64(w)*ratio)))
	nh := max(1, int(math.Round(float64(h)*ratio)))
	return nw, nh
}

// AutoWorkingResolution 2560x1440 及以上用更高的推理分辨率
func AutoWorkingResolution(w, h int) int {
	if isHighRes(w, h) {
		return HighResWorkingResolution
	}
	return DefaultWorkingResolution
}

// AutoSkyCenterCrop 和推理分辨率一起按输出尺寸选: 高分辨率图少裁一些
func AutoSkyCenterCrop(w, h int) float64 {
	if isHighRes(w, h) {
		return HighResSkyCenterCrop
	}
	return DefaultSkyCenterCrop
}

func isHighRes(w, h int) bool {
	return w >= 2560 || h >= 1440
}

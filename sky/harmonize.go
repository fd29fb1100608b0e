package sky

import "math"

const (
	// 天空区域权重之和低于像素数的这个比例时，改用整张图的统计量
	minSkyWeightRatio = 1e-3
	minStdRatio       = 0.5
	maxStdRatio       = 2.0
)

type channelStats struct {
	mean [3]float64
	std  [3]float64
}

// Harmonize 把天空模板的逐通道均值/方差向原图天空区域靠拢
//
// strength 为 0 时原样返回副本，为 1 时完全匹配。原图统计量按 matte 加权，
// 原图几乎没有天空时退回整张图。
func Harmonize(sky, photo *Image, matte *AlphaMatte, strength float64) *Image {
	strength = math.Min(1, math.Max(0, strength))
	if strength == 0 {
		return sky.Clone()
	}

	target := weightedStats(photo, func(i int) float64 { return float64(matte.Pix[i]) })
	if target == nil {
		target = weightedStats(photo, func(int) float64 { return 1 })
	}
	source := weightedStats(sky, func(int) float64 { return 1 })

	var gain, shift [3]float64
	for c := 0; c < 3; c++ {
		ratio := 1.0
		if source.std[c] > 1e-6 && target.std[c] > 1e-6 {
			ratio = math.Min(maxStdRatio, math.Max(minStdRatio, target.std[c]/source.std[c]))
		}
		gain[c] = 1 + strength*(ratio-1)
		shift[c] = strength * (target.mean[c] - source.mean[c])
	}

	out := NewImage(sky.Width, sky.Height)
	for i := 0; i < len(sky.Pix); i += 3 {
		for c := 0; c < 3; c++ {
			v := (float64(sky.Pix[i+c])-source.mean[c])*gain[c] + source.mean[c] + shift[c]
			out.Pix[i+c] = clamp01(float32(v))
		}
	}
	return out
}

// weightedStats 加权均值和标准差，总权重太小时返回 nil
func weightedStats(img *Image, weight func(i int) float64) *channelStats {
	n := img.Width * img.Height
	var total float64
	var sum, sq [3]float64
	for i := 0; i < n; i++ {
		wt := weight(i)
		if wt <= 0 {
			continue
		}
		total += wt
		for c := 0; c < 3; c++ {
			v := float64(img.Pix[i*3+c])
			sum[c] += wt * v
			sq[c] += wt * v * v
		}
	}
	if total < minSkyWeightRatio*float64(n) || total == 0 {
		return nil
	}

	s := &channelStats{}
	for c := 0; c < 3; c++ {
		s.mean[c] = sum[c] / total
		s.std[c] = math.Sqrt(math.Max(0, sq[c]/total-s.mean[c]*s.mean[c]))
	}
	return s
}

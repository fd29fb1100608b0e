package sky

import (
	"fmt"
	"math"
)

// Options 单次换天请求的参数，从 DefaultOptions 开始修改
type Options struct {
	// WorkingResolution 推理分辨率 (长边)，0 自动
	WorkingResolution int `yaml:"working_resolution" json:"working_resolution"`
	// HarmonizationStrength [0,1]，新天空向原图天空色调靠拢的程度
	HarmonizationStrength float64 `yaml:"harmonization_strength" json:"harmonization_strength"`
	// BoundarySoftness [0,1]，越大边界过渡带越宽
	BoundarySoftness float64 `yaml:"boundary_softness" json:"boundary_softness"`
	GuidedRadius     int     `yaml:"guided_radius" json:"guided_radius"`
	GuidedEpsilon    float64 `yaml:"guided_epsilon" json:"guided_epsilon"`
	// SkyCenterCrop [0.5,1]，越小天空模板放得越大；0 按输出分辨率自动选
	SkyCenterCrop     float64 `yaml:"sky_center_crop" json:"sky_center_crop"`
	HaloEffect        bool    `yaml:"halo_effect" json:"halo_effect"`
	RecoloringFactor  float64 `yaml:"recoloring_factor" json:"recoloring_factor"`
	RelightingFactor  float64 `yaml:"relighting_factor" json:"relighting_factor"`
	AutoLightMatching bool    `yaml:"auto_light_matching" json:"auto_light_matching"`
	// Debug 为 true 时结果里带上细化后的 matte
	Debug bool `yaml:"-" json:"debug"`
}

func DefaultOptions() Options {
	return Options{
		HarmonizationStrength: 0.5,
		BoundarySoftness:      0.5,
		GuidedEpsilon:         DefaultGuidedEpsilon,
	}
}

// Validate 参数越界返回 ErrInvalidInput
func (o Options) Validate() error {
	checks := []struct {
		name   string
		v      float64
		lo, hi float64
	}{
		{"harmonization_strength", o.HarmonizationStrength, 0, 1},
		{"boundary_softness", o.BoundarySoftness, 0, 1},
		{"recoloring_factor", o.RecoloringFactor, 0, 1},
		{"relighting_factor", o.RelightingFactor, 0, 2},
		{"guided_epsilon", o.GuidedEpsilon, 0, 1},
	}
	for _, c := range checks {
		if math.IsNaN(c.v) || c.v < c.lo || c.v > c.hi {
			return fmt.Errorf("%w: %s=%v outside [%v,%v]", ErrInvalidInput, c.name, c.v, c.lo, c.hi)
		}
	}
	if o.SkyCenterCrop != 0 && !(o.SkyCenterCrop >= MinSkyCenterCrop && o.SkyCenterCrop <= 1) {
		return fmt.Errorf("%w: sky_center_crop=%v outside [%v,1] (0 for auto)", ErrInvalidInput, o.SkyCenterCrop, MinSkyCenterCrop)
	}
	if o.WorkingResolution < 0 {
		return fmt.Errorf("%w: working_resolution=%d", ErrInvalidInput, o.WorkingResolution)
	}
	if o.GuidedRadius < 0 {
		return fmt.Errorf("%w: guided_radius=%d", ErrInvalidInput, o.GuidedRadius)
	}
	return nil
}

package cmd

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chaos-io/skyreplace/sky"
	"github.com/chaos-io/skyreplace/skybox"
	"github.com/chaos-io/skyreplace/util"
)

type replaceOptions struct {
	output   string
	template string
	skyPath  string
	matte    string
	format   string
	opts     sky.Options
}

func newReplaceCmd(root *rootOptions) *cobra.Command {
	o := &replaceOptions{opts: sky.DefaultOptions()}

	cmd := &cobra.Command{
		Use:   "replace <image>",
		Short: "Replace the sky of a single photo",
		Example: `  # Use a built-in template
  skyreplace replace photo.jpg -o out.jpg --template bluesky2

  # Use any image as the new sky and keep the matte
  skyreplace replace photo.jpg -o out.png --sky sunset.jpg --matte matte.png`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			// 未显式指定的参数使用配置文件里的默认值
			opts := cfg.Pipeline
			mergeFlags(cmd, &opts, o.opts)
			opts.Debug = o.matte != ""

			photo, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("%w: read image: %w", sky.ErrInvalidInput, err)
			}
			img, format, err := sky.DecodeLimit(photo, cfg.Server.MaxPixels)
			if err != nil {
				return err
			}

			tpl, err := o.loadTemplate(cfg.Templates.Dir)
			if err != nil {
				return err
			}

			engine, err := newEngine(cmd.Context(), cfg.Model, logger)
			if err != nil {
				return err
			}
			p, err := sky.NewPipeline(engine, sky.WithLogger(logger))
			if err != nil {
				return err
			}

			defer util.Trace("replace " + args[0])()
			res, err := p.ReplaceSky(cmd.Context(), img, tpl, opts)
			if err != nil {
				return err
			}

			if o.format != "" {
				format = o.format
			} else if ext := filepath.Ext(o.output); ext != "" {
				format = formatOf(ext)
			}
			out, _, err := sky.Encode(res.Image.ToNRGBA(), format)
			if err != nil {
				return err
			}
			if err := util.WriteFile(o.output, out); err != nil {
				return err
			}

			if res.Matte != nil {
				data, _, err := sky.Encode(res.Matte.ToGray(), "png")
				if err != nil {
					return err
				}
				if err := util.WriteFile(o.matte, data); err != nil {
					return err
				}
			}

			logger.Info("sky replaced", "input", args[0], "output", o.output,
				"working", fmt.Sprintf("%dx%d", res.WorkingWidth, res.WorkingHeight),
				"elapsed", res.Elapsed)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.output, "output", "o", "result.png", "Output file, the extension selects the format")
	f.StringVarP(&o.template, "template", "t", "bluesky1", "Built-in sky template id")
	f.StringVar(&o.skyPath, "sky", "", "Sky image file, overrides --template")
	f.StringVar(&o.matte, "matte", "", "Also write the refined matte to this PNG file")
	f.StringVar(&o.format, "format", "", "Output format (png, jpeg, bmp, tiff)")
	f.IntVar(&o.opts.WorkingResolution, "working-resolution", o.opts.WorkingResolution, "Inference resolution (long side), 0 for auto")
	f.Float64Var(&o.opts.HarmonizationStrength, "harmonization", o.opts.HarmonizationStrength, "Harmonization strength in [0,1]")
	f.Float64Var(&o.opts.BoundarySoftness, "softness", o.opts.BoundarySoftness, "Boundary softness in [0,1]")
	f.IntVar(&o.opts.GuidedRadius, "guided-radius", o.opts.GuidedRadius, "Guided filter radius, 0 for auto")
	f.Float64Var(&o.opts.GuidedEpsilon, "guided-epsilon", o.opts.GuidedEpsilon, "Guided filter regularization")
	f.Float64Var(&o.opts.SkyCenterCrop, "center-crop", o.opts.SkyCenterCrop, "Sky template crop factor in [0.5,1], 0 picks by output resolution")
	f.BoolVar(&o.opts.HaloEffect, "halo", o.opts.HaloEffect, "Add a soft halo from the new sky")
	f.Float64Var(&o.opts.RecoloringFactor, "recoloring", o.opts.RecoloringFactor, "Foreground recoloring factor in [0,1]")
	f.Float64Var(&o.opts.RelightingFactor, "relighting", o.opts.RelightingFactor, "Foreground relighting factor in [0,2], 0 disables")
	f.BoolVar(&o.opts.AutoLightMatching, "auto-light", o.opts.AutoLightMatching, "Match foreground brightness to the new sky")
	return cmd
}

func (o *replaceOptions) loadTemplate(dir string) (image.Image, error) {
	if o.skyPath != "" {
		data, err := os.ReadFile(o.skyPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %w: read sky: %w", sky.ErrComposite, sky.ErrInvalidInput, err)
		}
		img, _, err := sky.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", sky.ErrComposite, err)
		}
		return img, nil
	}

	reg, err := skybox.NewRegistry(dir)
	if err != nil {
		return nil, err
	}
	img, err := reg.Image(o.template)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", sky.ErrInvalidInput, err)
	}
	return img, nil
}

// mergeFlags 把命令行上出现过的参数覆盖到 dst
func mergeFlags(cmd *cobra.Command, dst *sky.Options, src sky.Options) {
	set := func(name string, apply func()) {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}
	set("working-resolution", func() { dst.WorkingResolution = src.WorkingResolution })
	set("harmonization", func() { dst.HarmonizationStrength = src.HarmonizationStrength })
	set("softness", func() { dst.BoundarySoftness = src.BoundarySoftness })
	set("guided-radius", func() { dst.GuidedRadius = src.GuidedRadius })
	set("guided-epsilon", func() { dst.GuidedEpsilon = src.GuidedEpsilon })
	set("center-crop", func() { dst.SkyCenterCrop = src.SkyCenterCrop })
	set("halo", func() { dst.HaloEffect = src.HaloEffect })
	set("recoloring", func() { dst.RecoloringFactor = src.RecoloringFactor })
	set("relighting", func() { dst.RelightingFactor = src.RelightingFactor })
	set("auto-light", func() { dst.AutoLightMatching = src.AutoLightMatching })
}

// formatOf 扩展名对应的编码格式名
func formatOf(ext string) string {
	switch ext = strings.ToLower(strings.TrimPrefix(ext, ".")); ext {
	case "jpg":
		return "jpeg"
	case "tif":
		return "tiff"
	default:
		return ext
	}
}

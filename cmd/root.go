package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/chaos-io/skyreplace/config"
	"github.com/chaos-io/skyreplace/model"
	"github.com/chaos-io/skyreplace/model/remote"
	"github.com/chaos-io/skyreplace/sky"
)

type rootOptions struct {
	configPath string
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "skyreplace",
		Short: "Replace the sky in photos with a learned sky matte",
		Long: `skyreplace detects the sky region of a photo with a matting model,
refines the matte with a guided filter and composites a new sky template
harmonized to the original lighting.

It can run one-off replacements from the command line or serve the demo HTTP API.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// .env 可选
			_ = godotenv.Load()
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "skyreplace.yaml", "Path to the YAML config file")

	cmd.AddCommand(
		newReplaceCmd(opts),
		newServeCmd(opts),
		newModelCmd(),
		newTemplatesCmd(opts),
	)
	return cmd
}

func (o *rootOptions) load() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, nil, fmt.Errorf("%w: %w", sky.ErrInvalidInput, err)
	}
	logger := config.NewLogger(cfg.Log)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// newEngine 按配置选择后端并加载，失败即启动失败
func newEngine(ctx context.Context, c config.Model, logger *slog.Logger) (*sky.Engine, error) {
	var loader model.Loader
	switch c.Backend {
	case config.BackendRemote:
		loader = remote.NewLoader(c.URL, remote.WithChecksum(c.Checksum), remote.WithTimeout(c.Timeout))
	default:
		loader = model.NewFileLoader(c.Path, c.Checksum)
	}

	opts := []sky.EngineOption{sky.WithEngineLogger(logger)}
	if c.Serialize != nil {
		opts = append(opts, sky.WithSerializedInference(*c.Serialize))
	}
	engine := sky.NewEngine(loader, opts...)

	start := time.Now()
	if err := engine.Load(ctx); err != nil {
		return nil, err
	}
	logger.Debug("engine ready", "backend", c.Backend, "elapsed", time.Since(start))
	return engine, nil
}

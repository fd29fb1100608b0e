package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chaos-io/skyreplace/server"
	"github.com/chaos-io/skyreplace/sky"
	"github.com/chaos-io/skyreplace/skybox"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the sky replacement HTTP API",
		Long: `Loads the matting model once and serves the demo API.

A model that fails to load stops the process before the listener is opened.`,
		Example: `  # Start server on the configured address (default :8000)
  skyreplace serve

  # Start server on a custom address
  skyreplace serve --addr :3000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			engine, err := newEngine(cmd.Context(), cfg.Model, logger)
			if err != nil {
				return err
			}
			p, err := sky.NewPipeline(engine, sky.WithLogger(logger))
			if err != nil {
				return err
			}

			// 模板清单写错属于配置问题，和模型加载失败区分开
			reg, err := skybox.NewRegistry(cfg.Templates.Dir, skybox.WithLogger(logger))
			if err != nil {
				return fmt.Errorf("%w: templates: %w", sky.ErrInvalidInput, err)
			}
			// server 出错时一并停掉 watcher，watcher 出错不影响服务
			g, ctx := errgroup.WithContext(cmd.Context())
			if cfg.Templates.Watch {
				g.Go(func() error {
					if err := reg.Watch(ctx); err != nil {
						logger.Warn("template watcher stopped", "err", err)
					}
					return nil
				})
			}
			g.Go(func() error {
				return server.New(cfg.Server, p, reg, cfg.Pipeline, logger).Run(ctx)
			})
			return g.Wait()
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address, overrides server.addr")
	return cmd
}

package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/chaos-io/skyreplace/skybox"
)

func newTemplatesCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Inspect and update sky templates",
	}
	cmd.AddCommand(newTemplatesListCmd(root), newTemplatesFetchCmd(root))
	return cmd
}

func newTemplatesListCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available sky templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := root.load()
			if err != nil {
				return err
			}
			reg, err := skybox.NewRegistry(cfg.Templates.Dir)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tNAME\tFILE\tDESCRIPTION")
			for _, t := range reg.List() {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ID, t.Name, t.File, t.Description)
			}
			return w.Flush()
		},
	}
}

func newTemplatesFetchCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <id> <url>",
		Short: "Download a sky template image from a URL",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			reg, err := skybox.NewRegistry(cfg.Templates.Dir, skybox.WithLogger(logger))
			if err != nil {
				return err
			}
			return reg.Fetch(cmd.Context(), args[0], args[1])
		},
	}
}

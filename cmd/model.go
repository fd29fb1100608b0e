package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chaos-io/skyreplace/model"
	"github.com/chaos-io/skyreplace/util"
)

func newModelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Manage matting model checkpoints",
	}
	cmd.AddCommand(newModelInitCmd())
	return cmd
}

func newModelInitCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default prior checkpoint and print its checksum",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := model.EncodeCheckpoint(model.DefaultCheckpoint())
			if err != nil {
				return err
			}
			if err := util.WriteFile(out, data); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", model.Checksum(data), out)
			return err
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "./checkpoints/sky_prior.skym", "Checkpoint output path")
	return cmd
}

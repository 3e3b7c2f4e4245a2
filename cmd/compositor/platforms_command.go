package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newPlatformsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "platforms",
		Short: "List output platform profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var rows [][]string
			for _, p := range ctx.registry.Profiles() {
				rows = append(rows, []string{
					p.ID,
					fmt.Sprintf("%dx%d", p.Width, p.Height),
					strconv.Itoa(p.FPS),
					p.Codec,
					p.Preset,
					p.VideoBitrate,
					p.AudioBitrate,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Platform", "Canvas", "FPS", "Codec", "Preset", "Video", "Audio"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight},
			))
			return nil
		},
	}
}

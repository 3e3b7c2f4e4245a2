package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/nextconvert/compositor/internal/modules/composition"
	"github.com/nextconvert/compositor/internal/modules/render"
	"github.com/spf13/cobra"
)

func newGraphCommand(ctx *commandContext) *cobra.Command {
	var platformID string
	var full bool

	cmd := &cobra.Command{
		Use:   "graph <composition>",
		Short: "Print the filter graph for a composition without rendering",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			comp, err := loadComposition(args[0], platformID)
			if err != nil {
				return err
			}

			// Planning never writes; point both roots at an existing directory.
			cfg := ctx.config.Render
			cfg.WorkRoot = os.TempDir()
			cfg.OutputRoot = os.TempDir()
			renderer, _, err := render.NewFromConfig(cfg, render.SetupOptions{
				Registry: ctx.registry,
				DryRun:   true,
				Logger:   ctx.logger,
			})
			if err != nil {
				return err
			}

			graph, profile, err := renderer.Plan(comp)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !full {
				fmt.Fprintln(out, strings.ReplaceAll(graph.String(), ";", ";\n"))
				return nil
			}

			enc := render.NewFFmpegEncoder(render.FFmpegConfig{
				FFmpegPath: ctx.config.Render.FFmpegPath,
				MaxThreads: ctx.config.Render.MaxThreads,
			}, ctx.logger)
			argv := enc.Args(render.EncodeRequest{
				Graph:      graph,
				Profile:    profile,
				OutputPath: "output." + comp.OutputFormat,
			})
			fmt.Fprintln(out, ctx.config.Render.FFmpegPath, strings.Join(quoteArgs(argv), " "))
			return nil
		},
	}

	cmd.Flags().StringVarP(&platformID, "platform", "p", "", "Override the composition's platform")
	cmd.Flags().BoolVar(&full, "ffmpeg", false, "Print the complete ffmpeg command line")
	return cmd
}

// loadComposition reads a document and applies a platform override.
func loadComposition(path, platformID string) (*composition.Composition, error) {
	comp, err := composition.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if platformID == "" {
		return comp, nil
	}
	override := *comp
	override.Platform = platformID
	return composition.New(override)
}

func quoteArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if strings.ContainsAny(a, " ;[]'\"=,:") {
			out[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
		} else {
			out[i] = a
		}
	}
	return out
}

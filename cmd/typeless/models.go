package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrWong99/typeless/internal/app"
	"github.com/MrWong99/typeless/internal/config"
	"github.com/MrWong99/typeless/internal/models"
)

func newModelsCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List and download speech recognition models",
	}
	cmd.AddCommand(newModelsListCmd(flags))
	cmd.AddCommand(newModelsDownloadCmd(flags))
	return cmd
}

func newModelsListCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the model catalog and what is installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadOrDefault(flags.configPath)
			if err != nil {
				return err
			}
			return printModels(cmd.OutOrStdout(), app.NewAcquirer(cfg).List(), cfg.Speech.Model)
		},
	}
}

func printModels(out io.Writer, entries []models.Entry, selected string) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tNAME\tENGINE\tSIZE\tSTATUS")
	for _, e := range entries {
		mark := ""
		if e.Model.ID == selected {
			mark = "*"
		}
		status := "not downloaded"
		if e.Available {
			status = "installed"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", mark, e.Model.ID, e.Model.Name, e.Model.Engine, e.Model.SizeLabel, status)
	}
	return tw.Flush()
}

func newModelsDownloadCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "download <model-id>",
		Short: "Download a model through the fastest reachable mirror",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(flags.configPath)
			if err != nil {
				return err
			}
			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			res, err := app.NewAcquirer(cfg).Download(ctx, args[0], func(p models.Progress) {
				fmt.Fprintf(out, "\r%-70s", p.Message)
			})
			fmt.Fprintln(out)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s installed in %s (mirror %s, %d attempt(s))\n", res.ModelID, res.Dir, res.Mirror, res.Attempts)
			return nil
		},
	}
}

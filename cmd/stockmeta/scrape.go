package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newScrapeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "scrape",
		Short: "Scrape today's trends with an admin rotation key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(runCtx context.Context, a *app) error {
				trends, err := a.trends.Scrape(runCtx, "cli")
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(trends))
				for _, t := range trends {
					rows = append(rows, []string{t.Title, string(t.Competition), t.SearchVolume, t.Category})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Niche", "Competition", "Volume", "Category"}, rows, nil))
				return nil
			})(cmd.Context())
		},
	}
}

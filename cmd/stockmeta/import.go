package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/ubuygold/stockmeta/internal/legacy"
)

func newImportLegacyCommand(ctx *commandContext) *cobra.Command {
	var userEmail string
	cmd := &cobra.Command{
		Use:   "import-legacy <export.json>",
		Short: "Import keys and settings exported from the browser dashboard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			state, err := legacy.Parse(f, time.Now())
			if err != nil {
				return err
			}

			return ctx.withApp(func(_ context.Context, a *app) error {
				var owner uint
				if userEmail != "" {
					user, err := a.userByEmail(userEmail)
					if err != nil {
						return err
					}
					owner = user.ID
				}
				report, err := legacy.Apply(a.db, state, owner)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d rotation keys and %d personal keys (%d already present)\n",
					report.AdminKeys, report.UserKeys, report.Duplicates)
				if report.SettingsApplied {
					fmt.Fprintln(cmd.OutOrStdout(), "Scraper settings applied")
				}
				return nil
			})(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&userEmail, "user", "", "Email of the user who owns the personal keys in the export")
	return cmd
}

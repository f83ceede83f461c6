package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/ubuygold/stockmeta/internal/logger"
	"github.com/ubuygold/stockmeta/internal/model"
)

// keyPool resolves --user: no user means the admin rotation pool.
func keyPool(a *app, email string) (model.Pool, uint, error) {
	if email == "" {
		return model.PoolAdmin, 0, nil
	}
	user, err := a.userByEmail(email)
	if err != nil {
		return "", 0, err
	}
	return model.PoolUser, user.ID, nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func keyRows(a *app, creds []model.Credential) [][]string {
	rows := make([][]string, 0, len(creds))
	for _, c := range creds {
		age := "-"
		if c.Pool == model.PoolAdmin {
			age = string(a.keys.Classify(c))
		}
		created := c.CreatedAt
		rows = append(rows, []string{
			strconv.FormatUint(uint64(c.ID), 10),
			c.Label,
			"…" + logger.KeySuffix(c.Key),
			string(c.Status),
			age,
			strconv.FormatInt(c.UsageCount, 10),
			formatTime(c.LastUsedAt),
			formatTime(&created),
		})
	}
	return rows
}

func newKeysCommand(ctx *commandContext) *cobra.Command {
	var userEmail string

	keysCmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys (admin rotation pool, or a user's keys with --user)",
	}
	keysCmd.PersistentFlags().StringVar(&userEmail, "user", "", "Email of the user whose personal keys to manage")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(_ context.Context, a *app) error {
				pool, owner, err := keyPool(a, userEmail)
				if err != nil {
					return err
				}
				creds := a.keys.List(pool, owner)
				if len(creds) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No keys.")
					return nil
				}
				headers := []string{"ID", "Label", "Key", "Status", "Age", "Uses", "Last used", "Added"}
				aligns := []columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, keyRows(a, creds), aligns))
				return nil
			})(cmd.Context())
		},
	}

	var label string
	addCmd := &cobra.Command{
		Use:   "add <key>",
		Short: "Add a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(_ context.Context, a *app) error {
				pool, owner, err := keyPool(a, userEmail)
				if err != nil {
					return err
				}
				c := &model.Credential{Key: args[0], Label: label, Pool: pool, OwnerID: owner}
				if err := a.keys.Add(c); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added key %d (…%s) to the %s pool\n", c.ID, logger.KeySuffix(c.Key), pool)
				return nil
			})(cmd.Context())
		},
	}
	addCmd.Flags().StringVar(&label, "label", "", "Label shown in listings")

	removeCmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid key id %q", args[0])
			}
			return ctx.withApp(func(_ context.Context, a *app) error {
				pool, owner, err := keyPool(a, userEmail)
				if err != nil {
					return err
				}
				if err := a.keys.Remove(pool, owner, uint(id)); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed key %d\n", id)
				return nil
			})(cmd.Context())
		},
	}

	purgeCmd := &cobra.Command{
		Use:   "purge-expired",
		Short: "Delete rotation keys past the rotation window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(_ context.Context, a *app) error {
				n, err := a.keys.PurgeExpired()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Purged %d expired keys\n", n)
				return nil
			})(cmd.Context())
		},
	}

	keysCmd.AddCommand(listCmd, addCmd, removeCmd, purgeCmd)
	return keysCmd
}

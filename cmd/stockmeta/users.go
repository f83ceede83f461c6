package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/ubuygold/stockmeta/internal/model"
)

func newUsersCommand(ctx *commandContext) *cobra.Command {
	usersCmd := &cobra.Command{
		Use:   "users",
		Short: "Manage dashboard users",
	}

	var search string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(_ context.Context, a *app) error {
				users, err := a.db.ListUsers(search)
				if err != nil {
					return err
				}
				if len(users) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No users.")
					return nil
				}
				rows := make([][]string, 0, len(users))
				for _, u := range users {
					rows = append(rows, []string{
						strconv.FormatUint(uint64(u.ID), 10),
						u.Name,
						u.Email,
						string(u.Role),
						string(u.Status),
						strconv.Itoa(a.keys.ActiveCount(u.ID)),
						u.CreatedAt.Format("2006-01-02"),
					})
				}
				headers := []string{"ID", "Name", "Email", "Role", "Status", "Active keys", "Joined"}
				aligns := []columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, rows, aligns))
				return nil
			})(cmd.Context())
		},
	}
	listCmd.Flags().StringVarP(&search, "search", "q", "", "Filter by name or email")

	var name, role string
	addCmd := &cobra.Command{
		Use:   "add <email>",
		Short: "Create a user and print their API token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(_ context.Context, a *app) error {
				u := &model.User{Name: name, Email: args[0], Role: model.Role(role), Token: uuid.NewString()}
				if u.Name == "" {
					u.Name = args[0]
				}
				if err := a.db.CreateUser(u); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created user %d (%s)\nToken: %s\n", u.ID, u.Email, u.Token)
				return nil
			})(cmd.Context())
		},
	}
	addCmd.Flags().StringVar(&name, "name", "", "Display name")
	addCmd.Flags().StringVar(&role, "role", string(model.RoleUser), "Role (user or admin)")

	usersCmd.AddCommand(listCmd, addCmd)
	return usersCmd
}

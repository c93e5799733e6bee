package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"skillhub/internal/core/domain"

	"github.com/spf13/cobra"
)

func usersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List the people you can chat with",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(""); err != nil {
				return err
			}
			defer a.close()

			stored, err := a.loadSession()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.API.RequestTimeout)
			defer cancel()

			users, err := a.apiClient(stored.Token).ListUsers(ctx, stored.User.ID)
			if err != nil {
				return err
			}
			if len(users) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No users found.")
				return nil
			}
			return printUsers(cmd.OutOrStdout(), users)
		},
	}
}

func printUsers(out io.Writer, users []domain.User) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTEACHES\tLEARNS\tLOCATION")
	for _, u := range users {
		location := strings.Trim(strings.Join([]string{u.City, u.Country}, ", "), ", ")
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", u.ID, u.DisplayName(), dash(u.SkillToTeach), dash(u.SkillToLearn), dash(location))
	}
	return w.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

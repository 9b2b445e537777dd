package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hnrobert/trydo/internal/config"
	"github.com/hnrobert/trydo/internal/strength"
)

func newStrengthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "strength <password>",
		Short: "Score a password the way the sign-up meter does",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := strength.Evaluate(args[0])
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%d/%d, %d%%)\n", r.Label(), r.Score, strength.MaxScore, r.Percent())
			for _, c := range []struct {
				ok   bool
				name string
			}{
				{r.Checks.Length, "at least 8 characters"},
				{r.Checks.Lower, "lowercase letter"},
				{r.Checks.Upper, "uppercase letter"},
				{r.Checks.Digit, "number"},
				{r.Checks.Special, "special character"},
			} {
				mark := " "
				if c.ok {
					mark = "x"
				}
				fmt.Fprintf(out, "  [%s] %s\n", mark, c.name)
			}
			return nil
		},
	}
}

func newUserAddCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "useradd --email <address>",
		Short: "Add a user to the local provider (password read from stdin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			password, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && password == "" {
				return errors.New("no password on stdin")
			}
			password = strings.TrimRight(password, "\r\n")

			dir, err := openDirectory(cfg)
			if err != nil {
				return err
			}
			rec, err := dir.AddUser(email, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s (%s) to %s\n", rec.Email, rec.ID, cfg.LocalUsersFile)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address of the new user")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

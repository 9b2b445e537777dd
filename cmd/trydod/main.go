package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var envFile = ".env"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "trydod",
		Short:         "TryDo web front-end with sign up, sign in and sign out",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", envFile, "dotenv file to load before reading the environment")
	root.AddCommand(newServeCmd(), newStrengthCmd(), newUserAddCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

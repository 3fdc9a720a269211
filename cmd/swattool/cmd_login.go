package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var loginFlags struct {
	user string
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log into the swatbot server",
	RunE:  runLogin,
}

func init() {
	loginCmd.Flags().StringVarP(&loginFlags.user, "user", "u", "", "Swatbot username")
}

func runLogin(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	user := loginFlags.user
	if user == "" {
		if user, err = promptLine("Username"); err != nil {
			return err
		}
	}
	password, err := promptPassword("Password")
	if err != nil {
		return err
	}

	a.secure.Info().Str("user", user).Msg("Logging into swatbot")
	if err := a.swat.Login(user, password); err != nil {
		return fmt.Errorf("swatbot login failed: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Login successful")
	return nil
}

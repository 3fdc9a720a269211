package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var bugzillaLoginFlags struct {
	user string
}

var bugzillaLoginCmd = &cobra.Command{
	Use:   "bugzilla-login",
	Short: "Log into the bug tracker",
	RunE:  runBugzillaLogin,
}

func init() {
	bugzillaLoginCmd.Flags().StringVarP(&bugzillaLoginFlags.user, "user", "u", "", "Bugzilla username")
}

func runBugzillaLogin(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	user := bugzillaLoginFlags.user
	if user == "" {
		if user, err = promptLine("Username"); err != nil {
			return err
		}
	}
	password, err := promptPassword("Password")
	if err != nil {
		return err
	}

	a.secure.Info().Str("user", user).Msg("Logging into bugzilla")
	if err := a.bugs.Login(user, password); err != nil {
		return fmt.Errorf("bugzilla login failed: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Login successful")
	return nil
}

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"famfin/internal/finance"
)

var (
	authEmail    string
	authPassword string
	authName     string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session credential",
	Long: `Sign in with email and password.

The password is read from --password, then FAMFIN_PASSWORD, then the first
line of standard input.`,
	RunE: runLogin,
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account and sign in",
	RunE:  runRegister,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and clear the stored credential",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := app.Auth.SignOut(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	RunE: func(cmd *cobra.Command, _ []string) error {
		user, err := app.Auth.Me(cmd.Context())
		if err != nil {
			return err
		}
		return printUser(cmd.OutOrStdout(), user)
	},
}

func init() {
	for _, c := range []*cobra.Command{loginCmd, registerCmd} {
		c.Flags().StringVar(&authEmail, "email", "", "Account email (required)")
		c.Flags().StringVar(&authPassword, "password", "", "Account password")
		if err := c.MarkFlagRequired("email"); err != nil {
			panic(err)
		}
	}
	registerCmd.Flags().StringVar(&authName, "name", "", "Display name (required)")
	if err := registerCmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	password, err := readPassword(cmd.InOrStdin())
	if err != nil {
		return err
	}
	user, err := app.Auth.SignIn(cmd.Context(), finance.Credentials{Email: authEmail, Password: password})
	if err != nil {
		return err
	}
	return printUser(cmd.OutOrStdout(), user)
}

func runRegister(cmd *cobra.Command, _ []string) error {
	password, err := readPassword(cmd.InOrStdin())
	if err != nil {
		return err
	}
	user, err := app.Auth.SignUp(cmd.Context(), finance.Registration{Name: authName, Email: authEmail, Password: password})
	if err != nil {
		return err
	}
	return printUser(cmd.OutOrStdout(), user)
}

func readPassword(in io.Reader) (string, error) {
	if authPassword != "" {
		return authPassword, nil
	}
	if env := os.Getenv("FAMFIN_PASSWORD"); env != "" {
		return env, nil
	}
	fmt.Fprint(os.Stderr, "Password: ")
	scanner := bufio.NewScanner(in)
	if scanner.Scan() {
		if p := strings.TrimRight(scanner.Text(), "\r"); p != "" {
			return p, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return "", fmt.Errorf("password cannot be empty")
}

func printUser(w io.Writer, user finance.User) error {
	if jsonOutput {
		return printJSON(w, user)
	}
	_, err := fmt.Fprintf(w, "Signed in as %s <%s>\n", user.Name, user.Email)
	return err
}

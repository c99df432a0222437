package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"famfin/internal/cli"
	"famfin/internal/log"
)

var (
	app        *cli.App
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "famfin",
	Short: "Family finance client",
	Long: `Command line client for the family finance backend.

The session credential is kept in a local slot shared by every famfin
process on this machine and renewed automatically when it expires.`,
	SilenceUsage:      true,
	PersistentPreRunE: setupApp,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(accountsCmd)
	rootCmd.AddCommand(transactionsCmd)
	rootCmd.AddCommand(dashboardCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(ratesCmd)
	rootCmd.AddCommand(exportCmd)
}

func setupApp(cmd *cobra.Command, _ []string) error {
	cli.LoadEnvFile()
	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		return err
	}
	logger, err := cli.SetupLogger(cfg)
	if err != nil {
		return err
	}
	app, err = cli.NewApp(cmd.Context(), cfg, logger.WithComponent(log.ComponentCLI))
	return err
}

// run executes the command line and releases the app whether or not the
// command failed.
func run(args []string) error {
	rootCmd.SetArgs(args)
	defer closeApp()
	return rootCmd.Execute()
}

func closeApp() {
	if app != nil {
		app.Close()
		app = nil
	}
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", describeError(err))
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"famfin/internal/core"
	"famfin/internal/finance"
)

var (
	accountType     string
	accountCurrency string
	accountBalance  string
	accountArchived bool
	accountRename   string
	accountsShowAll bool
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage accounts",
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		accounts, err := app.Accounts.List(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), accounts)
		}
		rows := make([][]string, 0, len(accounts))
		for _, a := range accounts {
			if a.Archived && !accountsShowAll {
				continue
			}
			rows = append(rows, []string{a.ID, a.Name, string(a.Type), a.Balance.Format(a.Currency)})
		}
		return printTable(cmd.OutOrStdout(), []string{"ID", "NAME", "TYPE", "BALANCE"}, rows)
	},
}

var accountsCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		balance, err := core.ParseSignedDecimalToCents(accountBalance)
		if err != nil {
			return fmt.Errorf("invalid balance: %w", err)
		}
		created, err := app.Accounts.Create(cmd.Context(), core.Account{
			Name:     args[0],
			Type:     core.AccountType(accountType),
			Currency: strings.ToUpper(accountCurrency),
			Balance:  core.Money{Cents: balance},
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), created)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created account %s (%s)\n", created.Name, created.ID)
		return nil
	},
}

var accountsUpdateCmd = &cobra.Command{
	Use:   "update ID",
	Short: "Rename or archive an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var u finance.AccountUpdate
		if cmd.Flags().Changed("name") {
			u.Name = &accountRename
		}
		if cmd.Flags().Changed("archived") {
			u.Archived = &accountArchived
		}
		if u.Name == nil && u.Archived == nil {
			return fmt.Errorf("nothing to update: pass --name or --archived")
		}
		updated, err := app.Accounts.Update(cmd.Context(), args[0], u)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), updated)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Updated account %s\n", updated.ID)
		return nil
	},
}

var accountsDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := app.Accounts.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted account %s\n", args[0])
		return nil
	},
}

func init() {
	accountsListCmd.Flags().BoolVar(&accountsShowAll, "all", false, "Include archived accounts")

	accountsCreateCmd.Flags().StringVar(&accountType, "type", string(core.Checking), "Account type")
	accountsCreateCmd.Flags().StringVar(&accountCurrency, "currency", "EUR", "ISO currency code")
	accountsCreateCmd.Flags().StringVar(&accountBalance, "balance", "0", "Opening balance, e.g. 1250.50")

	accountsUpdateCmd.Flags().StringVar(&accountRename, "name", "", "New name")
	accountsUpdateCmd.Flags().BoolVar(&accountArchived, "archived", false, "Archive (true) or restore (false)")

	accountsCmd.AddCommand(accountsListCmd)
	accountsCmd.AddCommand(accountsCreateCmd)
	accountsCmd.AddCommand(accountsUpdateCmd)
	accountsCmd.AddCommand(accountsDeleteCmd)
}

package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"famfin/internal/core"
	"famfin/internal/finance"
)

var (
	dashYear  int
	dashMonth int
	dashBase  string

	settingsName     string
	settingsCurrency string
	settingsLocale   string

	exportDryRun bool
	exportFilter filterFlags
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Show the monthly summary",
	RunE: func(cmd *cobra.Command, _ []string) error {
		now := time.Now()
		year, month := dashYear, dashMonth
		if year == 0 {
			year = now.Year()
		}
		if month == 0 {
			month = int(now.Month())
		}
		base := dashBase
		if base == "" {
			base = app.Config.RatesBaseCurrency
		}

		s, err := app.Dashboard.Summary(cmd.Context(), year, month, base)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), s)
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%04d-%02d (%s)\n", s.Year, s.Month, s.Currency)
		fmt.Fprintf(w, "Balance  %s across %d accounts\n", s.TotalBalance.Format(s.Currency), s.Accounts)
		fmt.Fprintf(w, "Income   %s\n", s.Income.Format(s.Currency))
		fmt.Fprintf(w, "Expense  %s\n", s.Expense.Format(s.Currency))
		fmt.Fprintf(w, "Net      %s\n\n", s.Net.Format(s.Currency))

		rows := make([][]string, 0, len(s.ByCategory))
		for _, c := range s.ByCategory {
			rows = append(rows, []string{c.Name, c.Amount.Format(s.Currency)})
		}
		return printTable(w, []string{"CATEGORY", "SPENT"}, rows)
	},
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change user settings",
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := app.Settings.Get(cmd.Context())
		if err != nil {
			return err
		}
		return printSettings(cmd, s)
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change user settings",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var u finance.SettingsUpdate
		if cmd.Flags().Changed("name") {
			u.DisplayName = &settingsName
		}
		if cmd.Flags().Changed("currency") {
			u.BaseCurrency = &settingsCurrency
		}
		if cmd.Flags().Changed("locale") {
			u.Locale = &settingsLocale
		}
		s, err := app.Settings.Update(cmd.Context(), u)
		if err != nil {
			return err
		}
		return printSettings(cmd, s)
	},
}

func printSettings(cmd *cobra.Command, s finance.Settings) error {
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), s)
	}
	return printTable(cmd.OutOrStdout(), []string{"NAME", "CURRENCY", "LOCALE"},
		[][]string{{s.DisplayName, s.BaseCurrency, s.Locale}})
}

var ratesCmd = &cobra.Command{
	Use:   "rates [BASE]",
	Short: "Show exchange rates",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		base := app.Config.RatesBaseCurrency
		if len(args) == 1 {
			base = args[0]
		}
		r, err := app.Rates.Rates(cmd.Context(), base)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), r)
		}
		return printTable(cmd.OutOrStdout(), []string{"CURRENCY", "PER 1 " + r.Base}, rateRows(r))
	},
}

var ratesConvertCmd = &cobra.Command{
	Use:   "convert AMOUNT FROM TO",
	Short: "Convert an amount between currencies",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		cents, err := core.ParseSignedDecimalToCents(args[0])
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", args[0], err)
		}
		to := strings.ToUpper(args[2])
		out, err := app.Rates.Convert(cmd.Context(), core.Money{Cents: cents}, args[1], to)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out.Format(to))
		return nil
	},
}

func rateRows(r core.ExchangeRates) [][]string {
	codes := make([]string, 0, len(r.Rates))
	for c := range r.Rates {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	rows := make([][]string, 0, len(codes))
	for _, c := range codes {
		rows = append(rows, []string{c, fmt.Sprintf("%.6g", r.Rates[c])})
	}
	return rows
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Append transactions to the configured Google Sheet",
	Long: `Append transactions to the configured Google Sheet.

Rows go to one sheet per year named "<year> <GOOGLE_SHEET_NAME>". Use
--dry-run to list what would be written.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		f, err := exportFilter.filter()
		if err != nil {
			return err
		}
		exporter, err := app.Exporter(cmd.Context(), exportDryRun)
		if err != nil {
			return err
		}
		svc := finance.NewExportService(app.Accounts, app.Transactions, exporter, app.Logger)
		res, err := svc.Export(cmd.Context(), f)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), res)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d rows\n", res.Rows)
		for _, r := range res.Ranges {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", r)
		}
		return nil
	},
}

func init() {
	dashboardCmd.Flags().IntVar(&dashYear, "year", 0, "Year (default current)")
	dashboardCmd.Flags().IntVar(&dashMonth, "month", 0, "Month 1-12 (default current)")
	dashboardCmd.Flags().StringVar(&dashBase, "currency", "", "Report currency (default RATES_BASE_CURRENCY)")

	settingsSetCmd.Flags().StringVar(&settingsName, "name", "", "Display name")
	settingsSetCmd.Flags().StringVar(&settingsCurrency, "currency", "", "Base currency")
	settingsSetCmd.Flags().StringVar(&settingsLocale, "locale", "", "Locale, e.g. it-IT")
	settingsCmd.AddCommand(settingsSetCmd)

	ratesCmd.AddCommand(ratesConvertCmd)

	exportFilter.register(exportCmd)
	exportCmd.Flags().BoolVar(&exportDryRun, "dry-run", false, "Do not write to Google Sheets")
}

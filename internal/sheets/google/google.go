package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"famfin/internal/log"
	"famfin/internal/sheets"
)

// Exporter appends transaction rows to a Google Sheet. Rows go to one sheet
// per year, named "<year> <base>".
type Exporter struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetBase     string
	logger        *log.Logger
}

var _ sheets.TransactionExporter = (*Exporter)(nil)

// New wraps an existing Sheets service.
func New(svc *gsheet.Service, spreadsheetID, sheetBase string, logger *log.Logger) *Exporter {
	if logger == nil {
		logger = log.Discard()
	}
	if strings.TrimSpace(sheetBase) == "" {
		sheetBase = "Transactions"
	}
	return &Exporter{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetBase:     strings.TrimSpace(sheetBase),
		logger:        logger.WithComponent(log.ComponentSheets),
	}
}

// NewFromConfig creates an Exporter authenticated with service account
// credentials from GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE
// or GOOGLE_APPLICATION_CREDENTIALS.
func NewFromConfig(ctx context.Context, spreadsheetID, sheetBase string, logger *log.Logger) (*Exporter, error) {
	if strings.TrimSpace(spreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return New(svc, spreadsheetID, sheetBase, logger), nil
}

func serviceAccountCredentials() ([]byte, error) {
	if inline := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON")); inline != "" {
		return []byte(inline), nil
	}
	path := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if path == "" {
		path = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if path == "" {
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read service account file: %w", err)
	}
	return data, nil
}

func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	credentialsJSON, err := serviceAccountCredentials()
	if err != nil {
		return nil, err
	}
	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// AppendRows appends rows after the last filled row of each year's sheet.
func (e *Exporter) AppendRows(ctx context.Context, rows []sheets.Row) (sheets.ExportResult, error) {
	var result sheets.ExportResult
	if len(rows) == 0 {
		return result, nil
	}
	if e.svc == nil {
		return result, errors.New("sheets service not initialized")
	}

	for _, group := range groupByYear(rows) {
		sheetName := yearPrefixedName(e.sheetBase, group.year)
		rng := fmt.Sprintf("%s!A:G", quoteSheetName(sheetName))
		vr := &gsheet.ValueRange{Values: rowValues(group.rows)}

		resp, err := e.svc.Spreadsheets.Values.Append(e.spreadsheetID, rng, vr).
			ValueInputOption("USER_ENTERED").
			InsertDataOption("INSERT_ROWS").
			Context(ctx).Do()
		if err != nil {
			return result, fmt.Errorf("append to sheet %s: %w", sheetName, err)
		}

		ref := rng
		if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
			ref = resp.Updates.UpdatedRange
		}
		result.Rows += len(group.rows)
		result.Ranges = append(result.Ranges, ref)

		e.logger.InfoContext(ctx, "Rows appended",
			log.FieldOperation, log.OpExport,
			log.FieldYear, group.year,
			log.FieldSheetsRef, ref,
			"count", len(group.rows))
	}
	return result, nil
}

type yearRows struct {
	year int
	rows []sheets.Row
}

// groupByYear splits rows by calendar year, ascending, keeping the input
// order within a year.
func groupByYear(rows []sheets.Row) []yearRows {
	index := map[int]int{}
	var groups []yearRows
	for _, r := range rows {
		y := r.Date.Year()
		i, ok := index[y]
		if !ok {
			i = len(groups)
			index[y] = i
			groups = append(groups, yearRows{year: y})
		}
		groups[i].rows = append(groups[i].rows, r)
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].year < groups[j].year })
	return groups
}

// rowValues lays out columns A:G as date, description, amount, currency,
// type, category, account. The amount is a plain decimal so USER_ENTERED
// stores it as a number.
func rowValues(rows []sheets.Row) [][]any {
	out := make([][]any, 0, len(rows))
	for _, r := range rows {
		out = append(out, []any{
			r.Date.String(),
			r.Description,
			r.Amount.String(),
			r.Currency,
			string(r.Type),
			r.Category,
			r.Account,
		})
	}
	return out
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}

// quoteSheetName quotes names for A1 notation; names with spaces require it.
func quoteSheetName(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

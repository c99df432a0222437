package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"famfin/internal/apiclient"
)

// describeError turns API failures into a line a user can act on.
func describeError(err error) string {
	var apiErr *apiclient.Error
	if !errors.As(err, &apiErr) {
		return err.Error()
	}
	switch apiErr.Kind {
	case apiclient.KindUnauthorized, apiclient.KindRefreshFailed:
		return "not signed in or session expired, run 'famfin login'"
	case apiclient.KindNetwork:
		return fmt.Sprintf("backend unreachable: %v", apiErr.Err)
	default:
		return err.Error()
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTable writes tab-separated rows aligned in columns.
func printTable(w io.Writer, header []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, r := range rows {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	return tw.Flush()
}

package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// statusf writes progress to stderr so stdout stays parseable.
func statusf(quiet bool, format string, args ...any) {
	if quiet {
		return
	}

	fmt.Fprintf(os.Stderr, format, args...)
}

// formatTime renders t in local time, dropping the year when it is the
// current one. The zero time prints as "-".
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	t = t.Local()

	if t.Year() == time.Now().Year() {
		return t.Format("Jan _2 15:04")
	}

	return t.Format("Jan _2  2006")
}

// printTable writes rows under headers in space-aligned columns. The last
// column is not padded.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))

	for _, row := range append([][]string{headers}, rows...) {
		for i, cell := range row {
			widths[i] = max(widths[i], len(cell))
		}
	}

	var b strings.Builder

	for _, row := range append([][]string{headers}, rows...) {
		b.Reset()

		for i, cell := range row {
			if i == len(row)-1 {
				b.WriteString(cell)
				break
			}

			fmt.Fprintf(&b, "%-*s  ", widths[i], cell)
		}

		fmt.Fprintln(w, b.String())
	}
}

package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatTime(t *testing.T) {
	now := time.Now()

	sameYear := time.Date(now.Year(), time.March, 15, 10, 30, 0, 0, time.Local)
	assert.Equal(t, "Mar 15 10:30", formatTime(sameYear))

	diffYear := time.Date(2020, time.December, 25, 8, 0, 0, 0, time.Local)
	assert.Equal(t, "Dec 25  2020", formatTime(diffYear))

	assert.Equal(t, "-", formatTime(time.Time{}))
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer

	printTable(&buf, []string{"STARTED", "STATUS", "PATH"}, [][]string{
		{"Jan 15 10:30", "success", "/Clients/Acme/Launch"},
		{"Feb  1 09:00", "error", "/Clients/Acme"},
	})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "STARTED       STATUS   PATH", lines[0])
	assert.Equal(t, "Jan 15 10:30  success  /Clients/Acme/Launch", lines[1])
	assert.Equal(t, "Feb  1 09:00  error    /Clients/Acme", lines[2])
}

func TestPrintTable_HeadersOnly(t *testing.T) {
	var buf bytes.Buffer

	printTable(&buf, []string{"A", "B"}, nil)
	assert.Equal(t, "A  B\n", buf.String())
}

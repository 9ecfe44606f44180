package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		name  string
		bytes int64
		want  string
	}{
		{"zero", 0, "0 B"},
		{"negative", -5, "0 B"},
		{"bytes", 512, "512 B"},
		{"kilobytes", 1500, "1.5 kB"},
		{"megabytes", 2_500_000, "2.5 MB"},
		{"gigabytes", 3_000_000_000, "3.0 GB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatSize(tt.bytes))
		})
	}
}

func TestFormatCount(t *testing.T) {
	assert.Equal(t, "7", formatCount(7))
	assert.Equal(t, "12,345", formatCount(12345))
}

func TestFormatTime(t *testing.T) {
	now := time.Now()
	sameYear := time.Date(now.Year(), time.March, 15, 10, 30, 0, 0, time.Local)
	diffYear := time.Date(2020, time.December, 25, 8, 0, 0, 0, time.Local)

	t.Run("same year", func(t *testing.T) {
		result := formatTime(sameYear)
		assert.Contains(t, result, "Mar")
		assert.Contains(t, result, "15")
		assert.Contains(t, result, "10:30")
	})

	t.Run("different year", func(t *testing.T) {
		result := formatTime(diffYear)
		assert.Contains(t, result, "Dec")
		assert.Contains(t, result, "25")
		assert.Contains(t, result, "2020")
	})

	t.Run("zero", func(t *testing.T) {
		assert.Equal(t, "never", formatTime(time.Time{}))
	})
}

func TestFormatAgo(t *testing.T) {
	assert.Equal(t, "never", formatAgo(time.Time{}))
	assert.Contains(t, formatAgo(time.Now().Add(-3*time.Hour)), "ago")
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer

	headers := []string{"ID", "SIZE", "CREATED"}
	rows := [][]string{
		{"photo-1", "1.2 MB", "Jan 15 10:30"},
		{"p2", "0 B", "Feb  1 09:00"},
	}

	printTable(&buf, headers, rows)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "ID       SIZE    CREATED", lines[0])
	assert.Equal(t, "photo-1  1.2 MB  Jan 15 10:30", lines[1])
	assert.Equal(t, "p2       0 B     Feb  1 09:00", lines[2])
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, printJSON(&buf, map[string]int{"photos": 2}))
	assert.Equal(t, "{\n  \"photos\": 2\n}\n", buf.String())
}

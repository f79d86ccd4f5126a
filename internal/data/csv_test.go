package data

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bars.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadCSV(t *testing.T) {
	path := writeCSV(t, `timestamp,open,high,low,close,volume
2024-01-02T16:00:00Z,100,101,99,100.5,12000
2024-01-03T16:00:00Z,100.5,102,100,101.5,9000
`)
	bars, err := LoadCSV(path, "AAPL")
	require.NoError(t, err)
	require.Len(t, bars, 2)

	assert.Equal(t, "AAPL", bars[0].Symbol)
	assert.Equal(t, time.Date(2024, 1, 2, 16, 0, 0, 0, time.UTC), bars[0].Timestamp)
	assert.InDelta(t, 100, bars[0].Open, 1e-9)
	assert.InDelta(t, 101, bars[0].High, 1e-9)
	assert.InDelta(t, 99, bars[0].Low, 1e-9)
	assert.InDelta(t, 100.5, bars[0].Close, 1e-9)
	assert.InDelta(t, 12000, bars[0].Volume, 1e-9)
}

func TestLoadCSVUnixTimestamps(t *testing.T) {
	path := writeCSV(t, `timestamp,open,high,low,close,volume
1704211200,100,101,99,100.5,12000
1704297600000,100.5,102,100,101.5,9000
`)
	bars, err := LoadCSV(path, "AAPL")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, time.Unix(1704211200, 0).UTC(), bars[0].Timestamp)
	assert.Equal(t, time.UnixMilli(1704297600000).UTC(), bars[1].Timestamp)
}

func TestLoadCSVSymbolColumnOverridesFallback(t *testing.T) {
	path := writeCSV(t, `timestamp,open,high,low,close,volume,symbol
2024-01-02T16:00:00Z,100,101,99,100.5,12000,msft
2024-01-03T16:00:00Z,100.5,102,100,101.5,9000,msft
`)
	bars, err := LoadCSV(path, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "MSFT", bars[0].Symbol)
}

func TestLoadCSVErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadCSV(filepath.Join(t.TempDir(), "nope.csv"), "AAPL")
		assert.Error(t, err)
	})

	t.Run("short header", func(t *testing.T) {
		path := writeCSV(t, "timestamp,open,high\n")
		_, err := LoadCSV(path, "AAPL")
		assert.Error(t, err)
	})

	t.Run("bad number", func(t *testing.T) {
		path := writeCSV(t, "timestamp,open,high,low,close,volume\n2024-01-02T16:00:00Z,abc,101,99,100.5,12000\n")
		_, err := LoadCSV(path, "AAPL")
		assert.Error(t, err)
	})

	t.Run("bad timestamp", func(t *testing.T) {
		path := writeCSV(t, "timestamp,open,high,low,close,volume\n02/01/2024,100,101,99,100.5,12000\n")
		_, err := LoadCSV(path, "AAPL")
		assert.Error(t, err)
	})

	t.Run("no symbol anywhere", func(t *testing.T) {
		path := writeCSV(t, "timestamp,open,high,low,close,volume\n2024-01-02T16:00:00Z,100,101,99,100.5,12000\n")
		_, err := LoadCSV(path, "")
		assert.Error(t, err)
	})

	t.Run("out of order timestamps", func(t *testing.T) {
		path := writeCSV(t, `timestamp,open,high,low,close,volume
2024-01-03T16:00:00Z,100,101,99,100.5,12000
2024-01-02T16:00:00Z,100.5,102,100,101.5,9000
`)
		_, err := LoadCSV(path, "AAPL")
		assert.Error(t, err)
	})

	t.Run("empty body", func(t *testing.T) {
		path := writeCSV(t, "timestamp,open,high,low,close,volume\n")
		_, err := LoadCSV(path, "AAPL")
		assert.Error(t, err)
	})
}

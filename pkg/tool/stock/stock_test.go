package stock

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smkhb/Stock-Agent/pkg/errors"
)

const fixture = `
symbols:
  AAPL:
    - {date: "2023-01-04", open: 126.9, high: 128.7, low: 125.1, close: 126.4, volume: 89113600}
    - {date: "2023-01-03", open: 130.3, high: 130.9, low: 124.2, close: 125.1, volume: 112117500}
    - {date: "2024-01-02", open: 187.2, high: 188.4, low: 183.9, close: 185.6, volume: 82488700}
`

func loadFixture(t *testing.T) *FixtureSource {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prices.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o600))
	src, err := LoadFixtureFile(path)
	require.NoError(t, err)
	return src
}

func TestCapabilityDefaultWindow(t *testing.T) {
	c, err := NewCapability(loadFixture(t))
	require.NoError(t, err)
	assert.Equal(t, ToolName, c.Name())

	out, err := c.Invoke(context.Background(), map[string]any{"symbol": "aapl"})
	require.NoError(t, err)
	bars, ok := out.([]Bar)
	require.True(t, ok)
	require.Len(t, bars, 2)
	assert.Equal(t, "2023-01-03", bars[0].Date)
	assert.Equal(t, "2023-01-04", bars[1].Date)
}

func TestCapabilityErrors(t *testing.T) {
	c, err := NewCapability(loadFixture(t))
	require.NoError(t, err)

	tests := []struct {
		name string
		args map[string]any
		code errors.ErrorCode
	}{
		{"missing symbol", map[string]any{}, errors.CodeInvalidInput},
		{"bad date", map[string]any{"symbol": "AAPL", "start": "01/01/2023"}, errors.CodeInvalidInput},
		{"inverted window", map[string]any{"symbol": "AAPL", "start": "2023-12-31", "end": "2023-01-01"}, errors.CodeInvalidInput},
		{"unknown symbol", map[string]any{"symbol": "ZZZZ"}, errors.CodeEmptyResult},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Invoke(context.Background(), tt.args)
			assert.Equal(t, tt.code, errors.CodeOf(err), "got %v", err)
		})
	}
}

func TestLoadFixtureFileMissing(t *testing.T) {
	_, err := LoadFixtureFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"info", slog.LevelInfo, false},
		{"DEBUG", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{" error ", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewJSONToWriter(t *testing.T) {
	var buf bytes.Buffer
	logger, closeFn, err := New(Options{Level: "debug", JSON: true}, &buf)
	require.NoError(t, err)
	defer closeFn() //nolint:errcheck

	Component(logger, "orchestrator").Debug("read failed", "ops", 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "read failed", rec["msg"])
	assert.Equal(t, "orchestrator", rec["component"])
	assert.Equal(t, float64(3), rec["ops"])
}

func TestNewFileAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "daemonstress.log")

	for i := 0; i < 2; i++ {
		logger, closeFn, err := New(Options{File: path}, nil)
		require.NoError(t, err)
		logger.Info("generation")
		require.NoError(t, closeFn())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "msg=generation"))
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, _, err := New(Options{Level: "loud"}, nil)
	assert.Error(t, err)
}

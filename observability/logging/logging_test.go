package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupWritesStructuredJSON(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger, closer := SetupWithOptions("lendingd", "test", Options{Level: "debug", Output: &buf})
	defer closer.Close()

	logger.Debug("deposit committed", slog.String("market", "USDC"), slog.String("hmacSecret", "hunter2"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "DEBUG", line["severity"])
	require.Equal(t, "deposit committed", line["message"])
	require.Equal(t, "lendingd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, "USDC", line["market"])
	require.Equal(t, RedactedValue, line["hmacSecret"])
	require.Contains(t, line, "timestamp")
}

func TestSetupRespectsLevel(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger, _ := SetupWithOptions("lendingd", "", Options{Level: "warn", Output: &buf})
	logger.Info("dropped")
	require.Zero(t, buf.Len())
	logger.Warn("kept")
	require.NotZero(t, buf.Len())
}

func TestSetupRotatedFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := filepath.Join(t.TempDir(), "lendingd.log")
	var buf bytes.Buffer
	logger, closer := SetupWithOptions("lendingd", "", Options{File: path, MaxSizeMB: 1, Output: &buf})
	logger.Info("listed market", slog.String("market", "WBTC"))
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "listed market")
	require.Equal(t, buf.String(), string(data))
}

func TestMaskField(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("account", "flend1xyz").Value.String())
	require.Equal(t, "USDC", MaskField("market", "USDC").Value.String())
	require.Equal(t, "", MaskField("account", "").Value.String())
	require.True(t, IsSensitive("Authorization"))
	require.True(t, IsSensitive("indexer_dsn"))
	require.False(t, IsSensitive("market"))
	require.Contains(t, RedactionAllowlist(), "pool")
}

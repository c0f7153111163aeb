package system

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestLoadConfig verifies YAML values override the defaults and absent
// fields keep them.
func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "edged.yaml")

	content := `
metrics_namespace: chatd
timeout: 250ms
max_retries: 3
logger_label: CHAT
tracing:
  enabled: true
preassigned_ids:
  - chat-server
  - chat-lobby
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, "chatd", cfg.MetricsNamespace)
	require.Equal(t, 250*time.Millisecond, cfg.Timeout)
	require.Equal(t, 3, cfg.MaxRetries)
	require.Equal(t, "CHAT", cfg.LoggerLabel)
	require.True(t, cfg.Tracing.Enabled)
	require.Equal(t,
		[]string{"chat-server", "chat-lobby"},
		cfg.PreassignedIDs,
	)

	// Defaults survive for absent fields.
	require.Equal(t, DefaultMinDrainGrace, cfg.MinDrainGrace)
}

// TestLoadConfigBadDuration verifies malformed durations are rejected.
func TestLoadConfigBadDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "edged.yaml")
	require.NoError(t, os.WriteFile(
		path, []byte("timeout: fast\n"), 0o600,
	))

	_, err := LoadConfig(path)
	require.Error(t, err)
}

// TestLoadConfigMissingFile verifies a missing path errors rather than
// silently defaulting.
func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("does/not/exist.yaml")
	require.Error(t, err)
}

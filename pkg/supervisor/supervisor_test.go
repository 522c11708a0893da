package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvusec/magpie/pkg/config"
	"github.com/corvusec/magpie/pkg/telegram"
)

func TestListenerDisposition(t *testing.T) {
	disconnect := errors.New("connection reset")
	auth := fmt.Errorf("invoke: %w", telegram.ErrAuthFailed)

	tests := []struct {
		name      string
		ctxErr    error
		runErr    error
		everReady bool
		want      disposition
	}{
		{"cancelled", context.Canceled, disconnect, true, dispStop},
		{"cancelled before ready", context.Canceled, disconnect, false, dispStop},
		{"clean exit", nil, nil, true, dispStop},
		{"auth failure", nil, auth, true, dispFatal},
		{"auth failure before ready", nil, auth, false, dispFatal},
		{"startup failure", nil, disconnect, false, dispFatal},
		{"mid-run disconnect", nil, disconnect, true, dispRestart},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, listenerDisposition(tt.ctxErr, tt.runErr, tt.everReady))
		})
	}
}

func bootConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		TelegramPhone:         "+15550000000",
		TelegramAPIID:         12345,
		TelegramAPIHash:       "hash",
		Channels:              []string{"leaks"},
		WorkerCount:           1,
		QueueCapacity:         1,
		StoragePath:           filepath.Join(dir, "store"),
		DatabaseURL:           filepath.Join(dir, "magpie.db"),
		MaxDecompressedBytes:  1 << 20,
		MaxDecompressionRatio: 100,
		DownloadMaxRetries:    1,
		DBMaxRetries:          1,
		ScanMaxLineBytes:      4096,
		MetricsAddr:           "127.0.0.1:0",
		ShutdownGrace:         time.Second,
	}
}

func TestRunFailsWithUnreachableDatabase(t *testing.T) {
	cfg := bootConfig(t)
	cfg.DatabaseURL = filepath.Join(t.TempDir(), "missing", "nested", "magpie.db")

	s := New(Options{Config: cfg})
	err := s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database")
}

func TestRunFailsWithBadRulesFile(t *testing.T) {
	cfg := bootConfig(t)
	rules := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(rules, []byte("domains: [unclosed"), 0o644))
	cfg.IOCRulesFile = rules

	s := New(Options{Config: cfg})
	err := s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scanner")
}

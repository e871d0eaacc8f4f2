package monitoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level, format string
		debug         bool
	}{
		{"debug", "json", true},
		{"info", "console", false},
		{"bogus", "json", false},
		{"error", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.level+"/"+tt.format, func(t *testing.T) {
			logger, err := NewLogger(tt.level, tt.format, "airvibe-test")
			require.NoError(t, err)
			assert.Equal(t, tt.debug, logger.Core().Enabled(zapcore.DebugLevel))
		})
	}
}

func TestUseZap(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	core, logs := observer.New(zapcore.InfoLevel)
	UseZap(zap.New(core))
	Logf("decoded %d records from %s", 3, "dev-1")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "decoded 3 records from dev-1", entries[0].Message)

	UseZap(nil)
	Logf("muted")
	assert.Equal(t, 1, logs.Len())
}

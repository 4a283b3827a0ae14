package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewSugaredLogger_Levels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		verbose bool
		debugOn bool
		infoOn  bool
	}{
		{name: "production", verbose: false, debugOn: false, infoOn: true},
		{name: "verbose", verbose: true, debugOn: true, infoOn: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			log, err := NewSugaredLogger(tt.verbose)
			require.NoError(t, err)
			require.NotNil(t, log)

			core := log.Desugar().Core()
			assert.Equal(t, tt.debugOn, core.Enabled(zapcore.DebugLevel))
			assert.Equal(t, tt.infoOn, core.Enabled(zapcore.InfoLevel))
		})
	}
}

func TestNewSugaredLogger_WithFields(t *testing.T) {
	t.Parallel()

	log, err := NewSugaredLogger(false, "network", "mainnet", "contract", "0x1")
	require.NoError(t, err)
	require.NotNil(t, log)
	log.Infow("logger ready")
}

func TestProductionConfig(t *testing.T) {
	t.Parallel()

	cfg := productionConfig()
	assert.Equal(t, "json", cfg.Encoding)
	assert.Equal(t, "time", cfg.EncoderConfig.TimeKey)
	assert.Equal(t, zapcore.InfoLevel, cfg.Level.Level())
}

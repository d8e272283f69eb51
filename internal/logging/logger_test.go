package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr string
	}{
		{name: "default", config: NewDefaultConfig()},
		{name: "json", config: &Config{Format: "json"}},
		{name: "bad format", config: &Config{Format: "xml"}, wantErr: "format must be"},
		{name: "empty field key", config: &Config{Format: "json", Fields: map[string]string{"": "x"}}, wantErr: "field key"},
		{name: "empty field value", config: &Config{Format: "json", Fields: map[string]string{"a": ""}}, wantErr: "empty value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestLevelFromString(t *testing.T) {
	lvl, err := LevelFromString("trace")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, lvl)

	lvl, err = LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	_, err = LevelFromString("loud")
	assert.Error(t, err)
}

func TestLogger_RunIDField(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithRunID(context.Background(), "run-1")

	tl.Info(ctx, "episode finished", zap.Int("episode", 3))
	tl.Trace(ctx, "controller step")

	tl.AssertLogged(t, zapcore.InfoLevel, "episode finished")
	tl.AssertLogged(t, TraceLevel, "controller step")
	tl.AssertField(t, "episode finished", "run.id", "run-1")
	tl.AssertField(t, "episode finished", "episode", int64(3))
	tl.AssertNotLogged(t, zapcore.ErrorLevel, "episode")
}

func TestRunIDFromContext_Empty(t *testing.T) {
	assert.Equal(t, "", RunIDFromContext(context.Background()))
	assert.Empty(t, ContextFields(context.Background()))
}

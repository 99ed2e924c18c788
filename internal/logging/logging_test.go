package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		format    string
		wantLevel zapcore.Level
		wantErr   bool
	}{
		{name: "console info", level: "info", format: FormatConsole, wantLevel: zapcore.InfoLevel},
		{name: "json debug", level: "debug", format: FormatJSON, wantLevel: zapcore.DebugLevel},
		{name: "default format", level: "WARN", format: "", wantLevel: zapcore.WarnLevel},
		{name: "bad level", level: "loud", format: FormatJSON, wantErr: true},
		{name: "bad format", level: "info", format: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.level, tt.format)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.wantLevel))
			assert.False(t, logger.Core().Enabled(tt.wantLevel-1))
		})
	}
}

func TestPrintable(t *testing.T) {
	assert.Equal(t, "hello", Printable([]byte("hello")))
	assert.Equal(t, "a�b", Printable([]byte{'a', 0xff, 'b'}))
}

package logger

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew_FallsBackToInfoOnBadLevel(t *testing.T) {
	log, err := New(LogConfig{Level: "loud", Format: "text"})
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(0))
	assert.False(t, log.Core().Enabled(-1), "debug must be disabled at info level")
}

func TestNew_JSONToFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "dashboard.log")
	log, err := New(LogConfig{Level: "debug", Format: "json", Output: out})
	require.NoError(t, err)

	log.Named("poller").With("service_url", "http://localhost:5000").Info("tick", "count", 1)
	log.Sync()

	assert.FileExists(t, out)
}

func TestConvertFields(t *testing.T) {
	fields := convertFields("a", 1, 42, "skipped", "err", errors.New("boom"), "dangling")
	require.Len(t, fields, 2)
	assert.Equal(t, "a", fields[0].Key)
	assert.Equal(t, "err", fields[1].Key)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"WARNING": zapcore.WarnLevel,
		" warn ":  zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"chatty":  zapcore.InfoLevel,
	}
	for name, want := range tests {
		assert.Equal(t, want, parseLevel(name), name)
	}
}

func TestOutputPaths(t *testing.T) {
	assert.Equal(t, []string{"stdout"}, outputPaths(""))
	assert.Equal(t, []string{"stderr"}, outputPaths("stderr"))
	assert.Equal(t, []string{"stdout", "/var/log/dashboard.log"}, outputPaths("stdout, /var/log/dashboard.log,"))
}

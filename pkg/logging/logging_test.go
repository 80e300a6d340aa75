package logging

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"debug":   zerolog.DebugLevel,
		"INFO":    zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"off":     zerolog.Disabled,
		"":        zerolog.InfoLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestNewLoggerFromConfigFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ownertag.log")

	logger := NewLoggerFromConfig(&Config{
		Level:  "info",
		Format: "auto",
		Output: path,
		Fields: map[string]string{"service": "ownertag"},
	})
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	logger.Info().Msg("hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"service":"ownertag"`)
	assert.Contains(t, string(data), `"message":"hello"`, "files get JSON, not console output")
}

func TestContextLogger(t *testing.T) {
	tl := NewTestLogger(t)

	ctx := WithLogger(context.Background(), tl.Logger)
	ctx = WithDocument(ctx, 55)
	ctx = WithTrigger(ctx, "webhook")

	FromContext(ctx).Info().Msg("reconciling")

	tl.AssertContains(t, `"document_id":55`)
	tl.AssertContains(t, `"trigger":"webhook"`)
	assert.Len(t, tl.Lines(), 1)
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	assert.Same(t, Default(), FromContext(context.Background()))
	//nolint:staticcheck // nil context is the case under test
	assert.Same(t, Default(), FromContext(nil))
}

func TestNewLoggerFromConfigDiscard(t *testing.T) {
	logger := NewLoggerFromConfig(&Config{Level: "warning", Output: "discard", Format: "console"})
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
}

package testutil

import (
	"log/slog"
	"testing"
)

// testWriter routes log output through t.Logf so it only surfaces for
// failing tests.
type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Logf("%s", p)
	return len(p), nil
}

// Logger returns a debug-level slog.Logger whose output is attached to
// the test, visible only on failure or with -v.
func Logger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(testWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

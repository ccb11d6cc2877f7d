package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLogDBQuerySlow(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{Logger: slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))}
	ctx := context.Background()

	l.LogDBQuery(ctx, "seat compare-and-swap", time.Millisecond, nil)
	if strings.Contains(buf.String(), "Slow Database Query") {
		t.Fatalf("fast query logged as slow: %s", buf.String())
	}

	buf.Reset()
	l.LogDBQuery(ctx, "seat compare-and-swap", SlowQueryThreshold, nil)
	if !strings.Contains(buf.String(), "Slow Database Query") || !strings.Contains(buf.String(), `"level":"WARN"`) {
		t.Fatalf("slow query log = %s", buf.String())
	}
}

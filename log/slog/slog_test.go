package slog

import (
	"bytes"
	stdslog "log/slog"
	"strings"
	"testing"

	"github.com/unkn0wn-root/hybridcache/log"
)

func TestSlogAdapterRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	a := Logger{L: stdslog.New(stdslog.NewTextHandler(&buf, &stdslog.HandlerOptions{Level: stdslog.LevelInfo}))}

	a.Debug("hidden", log.Fields{"k": 1})
	a.Warn("shown", log.Fields{"key": "user:1"})

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line emitted below level: %s", out)
	}
	if !strings.Contains(out, "msg=shown") || !strings.Contains(out, "key=user:1") {
		t.Fatalf("unexpected output: %s", out)
	}
}

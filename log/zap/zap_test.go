package zap

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/unkn0wn-root/hybridcache/log"
)

func TestZapAdapter(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	a := New(zap.New(core))

	a.Info("hello", nil)
	a.Error("remote write failed", log.Fields{"key": "user:1", "err": errors.New("timeout")})

	require.Equal(t, 2, logs.Len())
	e := logs.All()[1]
	assert.Equal(t, zapcore.ErrorLevel, e.Level)
	assert.Equal(t, "hybridcache", e.LoggerName)
	ctx := e.ContextMap()
	assert.Equal(t, "user:1", ctx["key"])
	assert.Equal(t, "timeout", ctx["err"])
}

func TestZapNilLogger(t *testing.T) {
	New(nil).Warn("dropped", log.Fields{"a": 1})
}

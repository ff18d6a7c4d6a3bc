package logger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHelpersSafeBeforeInit(t *testing.T) {
	old := Log
	Log = nil
	t.Cleanup(func() { Log = old })

	assert.NotPanics(t, func() {
		Debug("debug before init")
		Info("info before init")
		Warn("warn before init")
		Error("error before init")
		Sync()
	})
	assert.NotNil(t, GetLogger())
}

func TestInitSetsGlobal(t *testing.T) {
	old := Log
	t.Cleanup(func() { Log = old })

	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, Init("debug", "json", path))
	assert.NotNil(t, Log)
	assert.Same(t, Log, GetLogger())
}

func TestInitRejectsBadLevel(t *testing.T) {
	old := Log
	t.Cleanup(func() { Log = old })

	assert.Error(t, Init("chatty", "json", "stdout"))
}

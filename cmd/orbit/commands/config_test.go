package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckStrategy(t *testing.T) {
	t.Run("built-in", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, checkStrategy(&out, ""))
		assert.Contains(t, out.String(), "(built-in) OK")
		assert.Contains(t, out.String(), "orbit_default 1.0.0")
		assert.Contains(t, out.String(), "config_hash: ")
	})

	t.Run("repo file", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, checkStrategy(&out, "../../../config/strategy/orbit_default.yaml"))
		assert.Contains(t, out.String(), "MES (tick 0.25)")
		assert.Contains(t, out.String(), "09:30-16:00 America/New_York, range 15m")
	})

	t.Run("unknown field", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("meta:\n  strategy_idd: x\n"), 0o600))

		var out bytes.Buffer
		assert.Error(t, checkStrategy(&out, path))
		assert.Empty(t, out.String())
	})

	t.Run("missing file", func(t *testing.T) {
		var out bytes.Buffer
		assert.Error(t, checkStrategy(&out, filepath.Join(t.TempDir(), "none.yaml")))
	})
}

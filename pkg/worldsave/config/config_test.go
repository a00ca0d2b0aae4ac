package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/randalmurphal/worldsave/pkg/worldsave/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNew verifies Config creation from maps.
func TestNew(t *testing.T) {
	assert.NotNil(t, config.New(nil).Raw())
	assert.Equal(t, "v", config.New(map[string]any{"k": "v"}).Raw()["k"])
}

// TestAccessors verifies typed extraction with defaults.
func TestAccessors(t *testing.T) {
	cfg := config.New(map[string]any{
		"name":    "alice",
		"count":   3,
		"big":     int64(7),
		"whole":   4.0,
		"frac":    4.5,
		"on":      true,
		"timeout": "1h30m",
		"secs":    2,
		"fsecs":   0.5,
		"direct":  5 * time.Minute,
	})

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"string", cfg.String("name", "x"), "alice"},
		{"string wrong type", cfg.String("count", "x"), "x"},
		{"string missing", cfg.String("missing", "x"), "x"},
		{"int", cfg.Int("count", 0), 3},
		{"int64", cfg.Int("big", 0), 7},
		{"whole float", cfg.Int("whole", 0), 4},
		{"fractional float", cfg.Int("frac", 9), 9},
		{"bool", cfg.Bool("on", false), true},
		{"bool wrong type", cfg.Bool("name", false), false},
		{"duration string", cfg.Duration("timeout", 0), 90 * time.Minute},
		{"duration int seconds", cfg.Duration("secs", 0), 2 * time.Second},
		{"duration float seconds", cfg.Duration("fsecs", 0), 500 * time.Millisecond},
		{"duration direct", cfg.Duration("direct", 0), 5 * time.Minute},
		{"duration invalid", cfg.Duration("name", time.Second), time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

// TestDottedPaths verifies nested lookups.
func TestDottedPaths(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
backend:
  type: sqlite
  path: saves.db
class_redirects:
  /Game/Old: /Game/New
"flat.key": literal
`))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.String("backend.type", ""))
	assert.Equal(t, "saves.db", cfg.Sub("backend").String("path", ""))
	assert.True(t, cfg.Has("backend.path"))
	assert.False(t, cfg.Has("backend.port"))
	assert.False(t, cfg.Has("name.nested"))
	assert.Equal(t, "literal", cfg.String("flat.key", ""))
	assert.Equal(t, map[string]string{"/Game/Old": "/Game/New"}, cfg.StringMap("class_redirects", nil))
	assert.Empty(t, cfg.Sub("missing").Raw())
}

// TestStringMap_WrongValueType verifies a non-string value returns the default.
func TestStringMap_WrongValueType(t *testing.T) {
	cfg := config.New(map[string]any{"m": map[string]any{"a": 1}})
	def := map[string]string{"d": "d"}
	assert.Equal(t, def, cfg.StringMap("m", def))
}

// TestFromJSON verifies JSON parsing and errors.
func TestFromJSON(t *testing.T) {
	cfg, err := config.FromJSON([]byte(`{"strategy": "full", "workers": 8}`))
	require.NoError(t, err)
	assert.Equal(t, "full", cfg.String("strategy", ""))
	assert.Equal(t, 8, cfg.Int("workers", 0))

	_, err = config.FromJSON([]byte(`{`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse json")

	_, err = config.FromYAML([]byte("a: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse yaml")
}

// TestFromFile verifies loading by extension.
func TestFromFile(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "settings.YML")
	jsonPath := filepath.Join(dir, "settings.json")
	txtPath := filepath.Join(dir, "settings.txt")
	require.NoError(t, os.WriteFile(yamlPath, []byte("default_slot: fromyaml"), 0o644))
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"default_slot": "fromjson"}`), 0o644))
	require.NoError(t, os.WriteFile(txtPath, []byte("x"), 0o644))

	cfg, err := config.FromFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "fromyaml", cfg.String("default_slot", ""))

	cfg, err = config.FromFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "fromjson", cfg.String("default_slot", ""))

	_, err = config.FromFile(txtPath)
	assert.ErrorContains(t, err, "unsupported config file extension")

	_, err = config.FromFile(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "read config file")
}

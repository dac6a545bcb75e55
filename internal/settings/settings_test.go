package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsBool_TrueForms(t *testing.T) {
	for _, v := range []interface{}{"t", "T", "true", "True", "y", "Y", "yes", "YES", "on", "On", "1", true, " true ", 1} {
		assert.True(t, AsBool(v), "expected true for %v", v)
	}
}

func TestAsBool_FalseForms(t *testing.T) {
	for _, v := range []interface{}{"f", "false", "n", "no", "off", "0", "", nil, false, 0, 3.14} {
		assert.False(t, AsBool(v), "expected false for %v", v)
	}
}

func TestDefault_MatchesBaseline(t *testing.T) {
	d := Default()
	assert.Equal(t, "127.0.0.1", d.Host)
	assert.Equal(t, 8080, d.Port)
	assert.Equal(t, 4, d.Threads)
	assert.Equal(t, "http", d.URLScheme)
	assert.Equal(t, "waitress", d.Ident)
	assert.True(t, d.LogSocketErrors)
	assert.Empty(t, d.URLPrefix)
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	s, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), s)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	content := "host: 0.0.0.0\nport: 9090\nthreads: 8\nident: myserver\nurl_prefix: /app/\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", s.Host)
	assert.Equal(t, 9090, s.Port)
	assert.Equal(t, 8, s.Threads)
	assert.Equal(t, "myserver", s.Ident)
	assert.Equal(t, "/app", s.URLPrefix)
}

func TestLoad_MissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

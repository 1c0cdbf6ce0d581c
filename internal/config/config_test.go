package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	execctx "github.com/hanpama/dtopipe/internal/execctx"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Setenv(EnvLocale, "")
	t.Setenv(EnvTrace, "")
	path := writeFile(t, "dtopipe.yaml", `
locale: fr_CA
languageDefaults:
  fr: fr_FR
schemaDir: schemas
errorMode: collect-null
log:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	want := Default()
	want.Locale = "fr_CA"
	want.LanguageDefaults = map[string]string{"fr": "fr_FR"}
	want.SchemaDir = "schemas"
	want.ErrorMode = "collect-null"
	want.Log.Level = "debug"
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
	mode, err := cfg.Mode()
	require.NoError(t, err)
	require.Equal(t, execctx.CollectNull, mode)
}

func TestLoadTOML(t *testing.T) {
	t.Setenv(EnvLocale, "")
	t.Setenv(EnvTrace, "")
	path := writeFile(t, "dtopipe.toml", `
catalogDir = "catalogs"
trace = true

[otel]
endpoint = "localhost:4317"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "catalogs", cfg.CatalogDir)
	require.True(t, cfg.Trace)
	require.Equal(t, "localhost:4317", cfg.OTel.Endpoint)
	require.Equal(t, "dtopipe", cfg.OTel.Service)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvLocale, "de_DE")
	t.Setenv(EnvTrace, "true")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "de_DE", cfg.Locale)
	require.True(t, cfg.Trace)

	t.Setenv(EnvTrace, "sometimes")
	_, err = Load("")
	require.ErrorContains(t, err, EnvTrace)
}

func TestLoadErrors(t *testing.T) {
	t.Setenv(EnvLocale, "")
	t.Setenv(EnvTrace, "")

	_, err := Load(writeFile(t, "dtopipe.json", "{}"))
	require.ErrorContains(t, err, "unsupported config format")

	_, err = Load(writeFile(t, "dtopipe.yaml", "errorMode: lenient\n"))
	require.ErrorContains(t, err, "unknown error mode")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "looper.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 4, cfg.MaxChain)
	assert.Equal(t, ResolverKeyword, cfg.Resolver.Kind)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeFile(t, `
store: badger
badger_dir: /var/lib/looper
log_format: json
resolver:
  kind: openai
  model: gpt-4o-mini
  timeout: 5s
generator:
  kind: command
  command: /usr/local/bin/render
  args: ["--seed", "7"]
  timeout: 2m
`)
	t.Setenv("LOOPER_LISTEN", ":9000")
	t.Setenv("LOOPER_RESOLVER_MODEL", "gpt-4.1")
	t.Setenv("LOOPER_RESOLVER_API_KEY", "sk-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, StoreBadger, cfg.Store)
	assert.Equal(t, "/var/lib/looper", cfg.BadgerDir)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, ":9000", cfg.Listen, "env overrides default")
	assert.Equal(t, "gpt-4.1", cfg.Resolver.Model, "env overrides file")
	assert.Equal(t, "sk-env", cfg.Resolver.APIKey)
	assert.Equal(t, 5*time.Second, cfg.Resolver.Timeout)
	assert.Equal(t, []string{"--seed", "7"}, cfg.Generator.Args)
	assert.Equal(t, 2*time.Minute, cfg.Generator.Timeout)
	assert.Equal(t, "assets", cfg.Generator.AssetDir, "unset keys keep defaults")
}

func TestLoad_OpenAIKeyFallback(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("OPENAI_API_KEY", "sk-conventional")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-conventional", cfg.Resolver.APIKey)
	assert.Equal(t, "***", cfg.Redacted().Resolver.APIKey)
	assert.Equal(t, "sk-conventional", cfg.Resolver.APIKey, "Redacted must not modify the receiver")
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		msg  string
	}{
		{"unknown store", "store: postgres", "unknown store"},
		{"unknown resolver", "resolver:\n  kind: oracle", "unknown resolver"},
		{"unknown generator", "generator:\n  kind: magic", "unknown generator"},
		{"bad chain bound", "max_chain: 0", "max_chain"},
		{"bad level", "log_level: loud", "log level"},
		{"bad format", "log_format: xml", "log format"},
		{"unknown key", "stroe: sqlite", "stroe"},
		{"bad yaml", "store: [", "parsing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestLoad_ExplicitFileMustExist(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_BadEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LOOPER_MAX_CHAIN", "many")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env:")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Default()
	cfg.LogFormat = "json"
	cfg.LogLevel = "warn"
	logger := cfg.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"k":"v"`)
}

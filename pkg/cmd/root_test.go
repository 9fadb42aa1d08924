package cmd

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudhaul/cloudhaul/pkg/config"
)

func runCommand(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	root := NewRootCommand(Config{ConfigPath: configPath, OutputWriter: &buf})
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestRoot_MissingConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	_, err := runCommand(t, path, "auth", "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `cloudhaul config init`)
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	out, err := runCommand(t, path, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, path)
	assert.Contains(t, out, "client-id")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.VersionV1, cfg.Version)

	// A second init without --force refuses to clobber the file.
	_, err = runCommand(t, path, "config", "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")

	_, err = runCommand(t, path, "config", "init", "--force")
	require.NoError(t, err)
}

func TestConfigView_RedactsSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := config.DefaultConfig()
	cfg.Provider.ClientID = "client-id"
	cfg.Provider.ClientSecret = "super-secret"
	require.NoError(t, config.Save(path, &cfg))

	out, err := runCommand(t, path, "config", "view")
	require.NoError(t, err)
	assert.Contains(t, out, "client-id")
	assert.Contains(t, out, "(redacted)")
	assert.NotContains(t, out, "super-secret")
}

func TestVersionCommand(t *testing.T) {
	// Version works without any config file present.
	out, err := runCommand(t, filepath.Join(t.TempDir(), "config.yaml"), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "cloudhaul")
}

func TestVersionCommand_JSON(t *testing.T) {
	out, err := runCommand(t, filepath.Join(t.TempDir(), "config.yaml"), "version", "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"version"`)
}

func TestOutputFormatPrecedence(t *testing.T) {
	rt := &runtimeState{}
	assert.Equal(t, "text", rt.OutputFormat())

	cfg := config.DefaultConfig()
	cfg.Settings.OutputFormat = "yaml"
	rt.cfg = &cfg
	assert.Equal(t, "yaml", rt.OutputFormat())

	rt.outputFormat = "json"
	assert.Equal(t, "json", rt.OutputFormat())
}

package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/callsage/internal/logger"
	"github.com/joescharf/callsage/internal/output"
)

// testEnv sets up isolated config dir, viper, and output for testing.
func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	// Override configDirFunc for tests
	origFunc := configDirFunc
	configDirFunc = func() (string, error) { return dir, nil }
	t.Cleanup(func() { configDirFunc = origFunc })

	// Reset viper and shared deps
	viper.Reset()
	setDefaults(dir)
	dataStore = nil
	manager = nil
	dryRun = false
	t.Cleanup(func() {
		if dataStore != nil {
			_ = dataStore.Close()
		}
		dataStore = nil
		manager = nil
	})

	// Initialize output, capturing everything written
	ui = output.New()
	ui.Out = &bytes.Buffer{}
	ui.ErrOut = &bytes.Buffer{}
	appLog = logger.Discard()
	color.NoColor = true

	return dir
}

func TestConfigInit_CreatesFile(t *testing.T) {
	dir := testEnv(t)

	err := configInitRun()
	require.NoError(t, err)

	cfgPath := filepath.Join(dir, "config.yaml")
	_, err = os.Stat(cfgPath)
	assert.NoError(t, err, "config file should exist")

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "callsage configuration")
	assert.Contains(t, string(data), "default_profile: \"default\"")
	assert.Contains(t, string(data), "max_elapsed: \"1m30s\"")
}

func TestConfigInit_RefusesOverwrite(t *testing.T) {
	dir := testEnv(t)

	// Create existing file
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("existing"), 0644))

	configForce = false
	err := configInitRun()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestConfigInit_ForceOverwrite(t *testing.T) {
	dir := testEnv(t)

	// Create existing file
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("existing"), 0644))

	configForce = true
	err := configInitRun()
	require.NoError(t, err)

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "callsage configuration")
}

func TestConfigShow_NoFile(t *testing.T) {
	testEnv(t)

	err := configShowRun()
	assert.NoError(t, err)
}

func TestConfigShow_WithFile(t *testing.T) {
	testEnv(t)

	// Create config first
	require.NoError(t, configInitRun())

	err := configShowRun()
	assert.NoError(t, err)
	assert.Contains(t, ui.Out.(*bytes.Buffer).String(), "review.default_profile")
}

func TestConfigShow_MasksSecrets(t *testing.T) {
	testEnv(t)
	viper.Set("anthropic.api_key", "sk-ant-abcdef123456")

	require.NoError(t, configShowRun())
	out := ui.Out.(*bytes.Buffer).String()
	assert.Contains(t, out, "****3456")
	assert.Contains(t, out, "default")
	assert.NotContains(t, out, "sk-ant-abcdef")
}

func TestConfigEdit_NoEditor(t *testing.T) {
	testEnv(t)

	t.Setenv("EDITOR", "")
	t.Setenv("VISUAL", "")

	err := configEditRun()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "$EDITOR is not set")
}

func TestConfigEdit_NoConfigFile(t *testing.T) {
	testEnv(t)

	t.Setenv("EDITOR", "echo")

	err := configEditRun()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestKeySource(t *testing.T) {
	inFile := map[string]bool{"log.level": true}

	t.Setenv("CALLSAGE_RETRY_MAX_ATTEMPTS", "5")
	assert.Equal(t, "env CALLSAGE_RETRY_MAX_ATTEMPTS", keySource("retry.max_attempts", inFile))
	assert.Equal(t, "file", keySource("log.level", inFile))
	assert.Equal(t, "default", keySource("port", inFile))
}

func TestConfigFileKeys(t *testing.T) {
	dir := testEnv(t)

	_, err := configFileKeys(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9000\nllm:\n  provider: gateway\n"), 0o600))
	keys, err := configFileKeys(path)
	require.NoError(t, err)
	assert.True(t, keys["port"])
	assert.True(t, keys["llm.provider"])
	assert.False(t, keys["llm"])
}

func TestFlattenKeys(t *testing.T) {
	input := map[string]any{
		"top": "val",
		"nested": map[string]any{
			"a": "1",
			"b": "2",
		},
	}

	result := make(map[string]bool)
	flattenKeys("", input, result)

	assert.True(t, result["top"])
	assert.True(t, result["nested.a"])
	assert.True(t, result["nested.b"])
	assert.False(t, result["nested"])
}

func TestConfigInit_DryRun(t *testing.T) {
	dir := testEnv(t)
	dryRun = true
	ui.DryRun = true
	defer func() { dryRun = false }()

	err := configInitRun()
	require.NoError(t, err)

	// File should NOT have been created
	cfgPath := filepath.Join(dir, "config.yaml")
	_, err = os.Stat(cfgPath)
	assert.True(t, os.IsNotExist(err), "config file should not exist in dry-run mode")
}

func TestModelConfig_FallsBackToEnvKey(t *testing.T) {
	testEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "from-env")

	cfg := modelConfig()
	assert.Equal(t, "anthropic", cfg.Provider)
	assert.Equal(t, "from-env", cfg.AnthropicKey)

	viper.Set("anthropic.api_key", "from-config")
	assert.Equal(t, "from-config", modelConfig().AnthropicKey)
}

func TestNewModelProvider_MissingKey(t *testing.T) {
	testEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "")

	_, err := newModelProvider().Model()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no Anthropic API key")
}

func TestNewModelProvider_GatewayNeedsURL(t *testing.T) {
	testEnv(t)
	viper.Set("llm.provider", "gateway")

	_, err := newModelProvider().Model()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway.url")
}

func TestChatTemperature(t *testing.T) {
	testEnv(t)

	got := chatTemperature()
	require.NotNil(t, got)
	assert.Equal(t, 0.2, *got)

	viper.Set("chat.temperature", 0)
	got = chatTemperature()
	require.NotNil(t, got)
	assert.Zero(t, *got)

	viper.Reset()
	assert.Nil(t, chatTemperature())
}

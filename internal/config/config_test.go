package config

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	result := Validate(DefaultConfig())
	assert.True(t, result.IsValid(), "%v", result.Errors)
}

func TestLoadCreatesDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, DefaultConfigFile), cfg.Path())
	assert.FileExists(t, cfg.Path())
	assert.Equal(t, CryptoModeAuto, cfg.GetServerData().Crypto.Mode)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultConfigFile)
	require.NoError(t, os.WriteFile(path, []byte(`{"server":{"crypto":{"mode":"none"}}}`), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	server := cfg.GetServerData()
	assert.Equal(t, CryptoModeNone, server.Crypto.Mode)
	// Untouched sections keep their defaults.
	assert.Equal(t, 4096, server.Network.ReadBufferSize)
	assert.Equal(t, DefaultAPIPort, cfg.GetApplicationData().API.Port)

	// The file was re-saved with the full option set.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "read_buffer_size")
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte("{"), 0644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestValidateCatchesBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ServerData.Network.ListenAddresses = []string{"0.0.0.0:2593", "0.0.0.0:2593", "nonsense"}
	cfg.ServerData.Network.MaxWindowSize = 1024
	cfg.ServerData.Crypto.Mode = "sometimes"
	cfg.ServerData.Crypto.ClientVersions = []string{"7.0.x"}
	cfg.ServerData.Scheduler.Lanes = 0
	cfg.ApplicationData.Security.AuthDisabled = false

	result := Validate(cfg)
	require.False(t, result.IsValid())

	fields := make(map[string]bool)
	for _, e := range result.Errors {
		fields[e.Field] = true
	}
	for _, f := range []string{
		"server.network.listen_addresses",
		"server.network.max_window_size",
		"server.crypto.mode",
		"server.crypto.client_versions",
		"server.scheduler.lanes",
		"application_data.api.token",
	} {
		assert.True(t, fields[f], "missing error for %s", f)
	}
}

func TestValidateWarnsOnPrivilegedPort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ServerData.Network.ListenAddresses = []string{"0.0.0.0:593"}

	result := Validate(cfg)
	assert.True(t, result.IsValid())
	assert.NotEmpty(t, result.Warnings)
}

func TestSeconds(t *testing.T) {
	assert.Zero(t, Seconds(0))
	assert.Zero(t, Seconds(-5))
	assert.Equal(t, "30s", Seconds(30).String())
}

func TestSetupWizardSavesAnswers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.path = filepath.Join(t.TempDir(), DefaultConfigFile)

	input := strings.Join([]string{
		"Britain",
		"0.0.0.0:2593, 127.0.0.1:2594",
		"",
		"required",
		"",
		"",
		"y",
		"",
		"",
		"y",
		"tok",
		"",
	}, "\n") + "\n"
	out := &bytes.Buffer{}

	require.NoError(t, RunSetupWizard(cfg, strings.NewReader(input), out))
	assert.Contains(t, out.String(), "Configuration saved")

	loaded, err := Load(filepath.Dir(cfg.Path()))
	require.NoError(t, err)
	server := loaded.GetServerData()
	app := loaded.GetApplicationData()
	assert.Equal(t, "Britain", server.Name)
	assert.Equal(t, []string{"0.0.0.0:2593", "127.0.0.1:2594"}, server.Network.ListenAddresses)
	assert.Equal(t, CryptoModeRequired, server.Crypto.Mode)
	assert.True(t, app.Database.AutoCreateAccount)
	assert.False(t, app.Security.AuthDisabled)
	assert.Equal(t, "tok", app.API.Token)
	assert.False(t, app.MQTT.Enabled)
}

func TestSetupWizardFailsOnInvalidInputAtEOF(t *testing.T) {
	cfg := DefaultConfig()
	cfg.path = filepath.Join(t.TempDir(), DefaultConfigFile)

	err := RunSetupWizard(cfg, strings.NewReader("X\n\n\nsometimes\n"), io.Discard)
	require.Error(t, err)
	assert.NoFileExists(t, cfg.Path())
}
